package token

import (
	"context"
	"time"
)

// Repository persists opaque tokens. GetByHash returns (nil, nil) when no
// row matches: callers must not be able to distinguish missing from
// expired.
type Repository interface {
	CreateHashed(ctx context.Context, rec StoredToken) error
	GetByHash(ctx context.Context, secretHash string) (*StoredToken, error)

	// DeleteByHash removes the row for a hash. Deleting an absent row is
	// not an error; the token is just as revoked either way.
	DeleteByHash(ctx context.Context, secretHash string) error

	// DeleteExpiredBatch deletes up to maxDelete expired rows in batches
	// of batchSize, pausing between batches, each batch in its own
	// transaction so the sweep never blocks foreground lookups.
	DeleteExpiredBatch(ctx context.Context, maxDelete, batchSize int, pause time.Duration) (int, error)
}

// Blocklist tracks revoked JWT ids. Adds are durable immediately;
// Contains serves a snapshot refreshed on an interval, so other verifying
// instances observe a revocation only after their next refresh. That
// bounded staleness is the accepted trade-off for keeping verification
// free of remote calls.
type Blocklist interface {
	Add(ctx context.Context, tokenID string) error
	Contains(tokenID string) bool
	Refresh(ctx context.Context) error
}
