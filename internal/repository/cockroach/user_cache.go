package cockroach

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/cache"
)

type SummaryReader interface {
	GetSummary(ctx context.Context, userID uuid.UUID) (*domain.UserSummary, error)
}

// CachedUsers memoizes profile summaries. Every relayed message and missed
// call looks up the sender's display name; profiles change rarely.
type CachedUsers struct {
	next  SummaryReader
	cache *cache.TTL[uuid.UUID, domain.UserSummary]
}

func NewCachedUsers(next SummaryReader, ttl time.Duration, maxSize int) *CachedUsers {
	return &CachedUsers{next: next, cache: cache.NewTTL[uuid.UUID, domain.UserSummary](ttl, maxSize)}
}

// GetSummary returns a copy; misses and errors are not cached.
func (c *CachedUsers) GetSummary(ctx context.Context, userID uuid.UUID) (*domain.UserSummary, error) {
	if summary, ok := c.cache.Get(userID); ok {
		return &summary, nil
	}
	summary, err := c.next.GetSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(userID, *summary)
	return summary, nil
}

// StartCleanup evicts expired summaries in the background.
func (c *CachedUsers) StartCleanup(interval time.Duration) func() {
	return c.cache.StartCleanup(interval)
}
