package tokeninfra

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/token"
)

const blocklistKey = "trust:token:blocklist"

// RedisBlocklist stores revoked JWT ids in a Redis set and serves
// membership checks from an in-memory snapshot refreshed on an interval.
// A revocation is visible to this instance immediately and to other
// instances after their next refresh.
type RedisBlocklist struct {
	client          *redis.Client
	refreshInterval time.Duration

	mu       sync.RWMutex
	snapshot map[string]struct{}
}

// NewRedisBlocklist creates the blocklist. Call Start to keep the
// snapshot fresh.
func NewRedisBlocklist(client *redis.Client, refreshInterval time.Duration) *RedisBlocklist {
	return &RedisBlocklist{
		client:          client,
		refreshInterval: refreshInterval,
		snapshot:        make(map[string]struct{}),
	}
}

var _ token.Blocklist = (*RedisBlocklist)(nil)

// Add durably records a revoked token id and updates the local snapshot.
func (b *RedisBlocklist) Add(ctx context.Context, tokenID string) error {
	if err := b.client.SAdd(ctx, blocklistKey, tokenID).Err(); err != nil {
		return errx.Wrap(err, "failed to add token to blocklist", errx.TypeExternal).
			WithDetail("token_id", tokenID)
	}
	b.mu.Lock()
	b.snapshot[tokenID] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Contains checks the local snapshot only; no remote call on the
// verification path.
func (b *RedisBlocklist) Contains(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.snapshot[tokenID]
	return ok
}

// Refresh replaces the snapshot with the current Redis set.
func (b *RedisBlocklist) Refresh(ctx context.Context) error {
	ids, err := b.client.SMembers(ctx, blocklistKey).Result()
	if err != nil {
		return errx.Wrap(err, "failed to refresh token blocklist", errx.TypeExternal)
	}
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	b.mu.Lock()
	b.snapshot = next
	b.mu.Unlock()
	return nil
}

// Start refreshes the snapshot on the configured interval until ctx ends.
func (b *RedisBlocklist) Start(ctx context.Context) {
	if err := b.Refresh(ctx); err != nil {
		logx.WithError(err).Warn("initial blocklist refresh failed")
	}

	ticker := time.NewTicker(b.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil {
				logx.WithError(err).Warn("blocklist refresh failed")
			}
		}
	}
}
