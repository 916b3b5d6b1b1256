package kmskey

import (
	"context"
	"time"

	"github.com/strongroom-io/strongroom/pkg/kernel"
)

// Repository persists CMK records. Get returns (nil, nil) when no record
// exists for the pair.
type Repository interface {
	Get(ctx context.Context, roleID kernel.RoleID, region kernel.Region) (*CMKRecord, error)
	Create(ctx context.Context, rec CMKRecord) error
	Update(ctx context.Context, rec CMKRecord) error
	Delete(ctx context.Context, id string) error

	// ListInactiveOrOrphaned returns records not validated since cutoff
	// or whose principal role no longer exists.
	ListInactiveOrOrphaned(ctx context.Context, cutoff time.Time) ([]CMKRecord, error)
}

// KeyProvider is the cloud KMS. Implementations map the provider's
// "key does not exist" errors to errx.TypeNotFound so the manager can
// self-heal stale records.
type KeyProvider interface {
	CreateKey(ctx context.Context, region kernel.Region, policyJSON string) (keyArn string, err error)
	CreateAlias(ctx context.Context, region kernel.Region, aliasName, keyArn string) error
	GetKeyPolicy(ctx context.Context, region kernel.Region, keyID string) (string, error)
	PutKeyPolicy(ctx context.Context, region kernel.Region, keyID, policyJSON string) error
	Encrypt(ctx context.Context, region kernel.Region, keyID string, plaintext []byte) ([]byte, error)
	ScheduleKeyDeletion(ctx context.Context, region kernel.Region, keyID string, pendingDays int) error
	DescribeKey(ctx context.Context, region kernel.Region, keyID string) (state string, err error)
}
