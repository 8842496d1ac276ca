package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/cache"
)

// CooldownGuard tracks the per category and member creation cooldown.
// It is advisory: cache failures are logged and treated as no cooldown.
type CooldownGuard struct {
	cache  cache.Cache
	logger *zap.Logger
}

// NewCooldownGuard constructs the guard.
func NewCooldownGuard(c cache.Cache, logger *zap.Logger) *CooldownGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CooldownGuard{cache: c, logger: logger}
}

// Remaining returns how long the member must still wait, or 0.
func (g *CooldownGuard) Remaining(ctx context.Context, categoryID, memberID string) time.Duration {
	ttl, err := g.cache.TTL(ctx, cooldownKey(categoryID, memberID))
	if err != nil {
		g.logger.Warn("cooldown lookup failed", zap.String("category_id", categoryID), zap.Error(err))
		return 0
	}
	return ttl
}

// Start opens a cooldown window of the given length.
func (g *CooldownGuard) Start(ctx context.Context, categoryID, memberID string, seconds int) {
	if seconds <= 0 {
		return
	}
	if err := g.cache.Set(ctx, cooldownKey(categoryID, memberID), "1", time.Duration(seconds)*time.Second); err != nil {
		g.logger.Warn("cooldown start failed", zap.String("category_id", categoryID), zap.Error(err))
	}
}

// remainingSeconds rounds up so a caller never retries early.
func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func cooldownKey(categoryID, memberID string) string {
	return "cooldown:" + categoryID + ":" + memberID
}
