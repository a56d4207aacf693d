package repositories

import (
	"context"
	"errors"

	"github.com/cefrlab/speaking-test-service/internal/models"
	"gorm.io/gorm"
)

// ===== SHARED FILTER STRUCTS =====

type TestFilters struct {
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sort_by"`    // "created_at", "title"
	SortOrder string `json:"sort_order"` // "asc", "desc"
}

// ===== REPOSITORY INTERFACES =====

// TestRepository is the narrow contract the core needs from the test
// definition store: fetch one test by title or at random, plus the CRUD
// surface used by test administration.
type TestRepository interface {
	Create(ctx context.Context, test *models.Test) error
	GetByTitle(ctx context.Context, title string) (*models.Test, error)
	GetRandom(ctx context.Context) (*models.Test, error)
	List(ctx context.Context, filters TestFilters) ([]*models.Test, int64, error)
	Update(ctx context.Context, test *models.Test) error
	Delete(ctx context.Context, title string) error
	ExistsByTitle(ctx context.Context, title string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// IsNotFoundError checks if error represents a "record not found" condition
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
