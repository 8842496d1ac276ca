package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/cache"
	"github.com/spec-kit/guild-tickets/internal/repository"
)

// CounterService reserves ticket numbers and serves open-ticket counts.
// Cached counts are a fast path only; creation rechecks them under the category lock.
type CounterService struct {
	tickets repository.TicketRepository
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// CounterDependencies bundles collaborators for the counter service.
type CounterDependencies struct {
	TicketRepo repository.TicketRepository
	Cache      cache.Cache
	TTL        time.Duration
	Logger     *zap.Logger
}

// NewCounterService constructs the service.
func NewCounterService(deps CounterDependencies) *CounterService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterService{tickets: deps.TicketRepo, cache: deps.Cache, ttl: deps.TTL, logger: logger}
}

// ReserveNextNumber takes the next guild number inside tx. Rolling tx back returns the number.
func (s *CounterService) ReserveNextNumber(ctx context.Context, tx repository.TicketTx, guildID string) (int64, error) {
	return tx.NextNumber(ctx, guildID)
}

// OpenCountForCategory returns the number of open tickets in a category.
func (s *CounterService) OpenCountForCategory(ctx context.Context, categoryID string) (int, error) {
	return s.cached(ctx, categoryKey(categoryID), func() (int, error) {
		return s.tickets.CountOpen(ctx, categoryID)
	})
}

// OpenCountForMember returns the number of open tickets a member holds in a category.
func (s *CounterService) OpenCountForMember(ctx context.Context, categoryID, memberID string) (int, error) {
	return s.cached(ctx, memberKey(categoryID, memberID), func() (int, error) {
		return s.tickets.CountOpenByMember(ctx, categoryID, memberID)
	})
}

// RefreshCategoryCount reads the category's open count from the store and
// replaces the cached value.
func (s *CounterService) RefreshCategoryCount(ctx context.Context, categoryID string) (int, error) {
	return s.reload(ctx, categoryKey(categoryID), func() (int, error) {
		return s.tickets.CountOpen(ctx, categoryID)
	})
}

// RefreshMemberCount reads the member's open count from the store and replaces the cached value.
func (s *CounterService) RefreshMemberCount(ctx context.Context, categoryID, memberID string) (int, error) {
	return s.reload(ctx, memberKey(categoryID, memberID), func() (int, error) {
		return s.tickets.CountOpenByMember(ctx, categoryID, memberID)
	})
}

// Invalidate drops the cached category count and the given members' counts.
func (s *CounterService) Invalidate(ctx context.Context, categoryID string, memberIDs ...string) {
	keys := []string{categoryKey(categoryID)}
	for _, id := range memberIDs {
		keys = append(keys, memberKey(categoryID, id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("counter invalidation failed", zap.String("category_id", categoryID), zap.Error(err))
	}
}

func (s *CounterService) cached(ctx context.Context, key string, load func() (int, error)) (int, error) {
	if s.ttl > 0 {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("counter cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				return n, nil
			}
		}
	}

	return s.reload(ctx, key, load)
}

func (s *CounterService) reload(ctx context.Context, key string, load func() (int, error)) (int, error) {
	n, err := load()
	if err != nil {
		return 0, err
	}
	if s.ttl > 0 {
		if err := s.cache.Set(ctx, key, strconv.Itoa(n), s.ttl); err != nil {
			s.logger.Warn("counter cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return n, nil
}

func categoryKey(categoryID string) string {
	return "open:category:" + categoryID
}

func memberKey(categoryID, memberID string) string {
	return "open:member:" + categoryID + ":" + memberID
}
