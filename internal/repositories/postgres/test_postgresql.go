package postgres

import (
	"context"
	"fmt"

	"github.com/cefrlab/speaking-test-service/internal/models"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"gorm.io/gorm"
)

type TestPostgreSQL struct {
	db *gorm.DB
}

func NewTestPostgreSQL(db *gorm.DB) repositories.TestRepository {
	return &TestPostgreSQL{db: db}
}

// Create stores a new test definition. Titles are unique.
func (t *TestPostgreSQL) Create(ctx context.Context, test *models.Test) error {
	exists, err := t.ExistsByTitle(ctx, test.Title)
	if err != nil {
		return fmt.Errorf("failed to check title uniqueness: %w", err)
	}
	if exists {
		return fmt.Errorf("test with title '%s' already exists", test.Title)
	}

	if err := t.db.WithContext(ctx).Create(test).Error; err != nil {
		return fmt.Errorf("failed to create test: %w", err)
	}
	return nil
}

// GetByTitle retrieves one test definition by its unique title.
func (t *TestPostgreSQL) GetByTitle(ctx context.Context, title string) (*models.Test, error) {
	var test models.Test
	err := t.db.WithContext(ctx).
		Where("title = ?", title).
		First(&test).Error
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// GetRandom retrieves a uniformly random test definition.
func (t *TestPostgreSQL) GetRandom(ctx context.Context) (*models.Test, error) {
	var test models.Test
	err := t.db.WithContext(ctx).
		Order("RANDOM()").
		First(&test).Error
	if err != nil {
		return nil, err
	}
	return &test, nil
}

func (t *TestPostgreSQL) List(ctx context.Context, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	var tests []*models.Test
	var total int64

	query := t.db.WithContext(ctx).Model(&models.Test{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tests: %w", err)
	}

	sortBy := filters.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortOrder := filters.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&tests).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tests: %w", err)
	}

	return tests, total, nil
}

func (t *TestPostgreSQL) Update(ctx context.Context, test *models.Test) error {
	if err := t.db.WithContext(ctx).Save(test).Error; err != nil {
		return fmt.Errorf("failed to update test: %w", err)
	}
	return nil
}

func (t *TestPostgreSQL) Delete(ctx context.Context, title string) error {
	result := t.db.WithContext(ctx).
		Where("title = ?", title).
		Delete(&models.Test{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete test: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (t *TestPostgreSQL) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&models.Test{}).
		Where("title = ?", title).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *TestPostgreSQL) Count(ctx context.Context) (int64, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&models.Test{}).
		Count(&count).Error
	return count, err
}
