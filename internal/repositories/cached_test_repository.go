package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cefrlab/speaking-test-service/internal/cache"
	"github.com/cefrlab/speaking-test-service/internal/models"
)

const testCacheTTL = 15 * time.Minute

// CachedTestRepository is a read-through cache in front of a TestRepository.
// Only GetByTitle is cached; that is the hot path (session start and final
// scoring both resolve the test by title). Cache failures degrade to the
// inner repository and are logged, never surfaced.
type CachedTestRepository struct {
	inner  TestRepository
	cache  cache.CacheService
	logger *slog.Logger
}

func NewCachedTestRepository(inner TestRepository, cacheService cache.CacheService, logger *slog.Logger) TestRepository {
	return &CachedTestRepository{
		inner:  inner,
		cache:  cacheService,
		logger: logger,
	}
}

func testCacheKey(title string) string {
	return fmt.Sprintf("test:title:%s", title)
}

func (r *CachedTestRepository) GetByTitle(ctx context.Context, title string) (*models.Test, error) {
	var cached models.Test
	err := r.cache.Get(ctx, testCacheKey(title), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("test cache read failed", "title", title, "error", err)
	}

	test, err := r.inner.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, testCacheKey(title), test, testCacheTTL); err != nil {
		r.logger.Warn("test cache write failed", "title", title, "error", err)
	}
	return test, nil
}

func (r *CachedTestRepository) Create(ctx context.Context, test *models.Test) error {
	return r.inner.Create(ctx, test)
}

func (r *CachedTestRepository) GetRandom(ctx context.Context) (*models.Test, error) {
	return r.inner.GetRandom(ctx)
}

func (r *CachedTestRepository) List(ctx context.Context, filters TestFilters) ([]*models.Test, int64, error) {
	return r.inner.List(ctx, filters)
}

func (r *CachedTestRepository) Update(ctx context.Context, test *models.Test) error {
	if err := r.inner.Update(ctx, test); err != nil {
		return err
	}
	// An update may have renamed the test, leaving the old title cached
	// under a key we no longer know. Sweep every cached title instead of
	// guessing which key went stale.
	if err := r.cache.DeletePattern(ctx, "test:title:*"); err != nil {
		r.logger.Warn("test cache invalidation failed", "title", test.Title, "error", err)
	}
	return nil
}

func (r *CachedTestRepository) Delete(ctx context.Context, title string) error {
	if err := r.inner.Delete(ctx, title); err != nil {
		return err
	}
	r.invalidate(ctx, title)
	return nil
}

func (r *CachedTestRepository) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	return r.inner.ExistsByTitle(ctx, title)
}

func (r *CachedTestRepository) Count(ctx context.Context) (int64, error) {
	return r.inner.Count(ctx)
}

func (r *CachedTestRepository) invalidate(ctx context.Context, title string) {
	if err := r.cache.Delete(ctx, testCacheKey(title)); err != nil {
		r.logger.Warn("test cache invalidation failed", "title", title, "error", err)
	}
}
