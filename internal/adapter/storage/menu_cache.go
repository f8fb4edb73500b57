package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

const DefaultMenuCacheTTL = time.Minute

// CachedMenuRepository serves menus from a cache and stock from the
// underlying repository. Cache failures fall through to the repository.
type CachedMenuRepository struct {
	port.MenuRepository
	cache  port.MenuCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedMenuRepository(repo port.MenuRepository, cache port.MenuCache, ttl time.Duration, logger *zap.Logger) *CachedMenuRepository {
	if ttl <= 0 {
		ttl = DefaultMenuCacheTTL
	}
	return &CachedMenuRepository{MenuRepository: repo, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedMenuRepository) GetMenu(ctx context.Context, businessID string) (domain.Menu, error) {
	menu, ok, err := c.cache.GetMenu(ctx, businessID)
	if err != nil {
		c.logger.Warn("menu cache read failed", zap.String("business_id", businessID), zap.Error(err))
	}
	if ok {
		return menu, nil
	}

	menu, err = c.MenuRepository.GetMenu(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetMenu(ctx, businessID, menu, c.ttl); err != nil {
		c.logger.Warn("menu cache write failed", zap.String("business_id", businessID), zap.Error(err))
	}
	return menu, nil
}

func (c *CachedMenuRepository) Invalidate(ctx context.Context, businessID string) error {
	return c.cache.InvalidateMenu(ctx, businessID)
}
