package kmskeysrv

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/strongroom-io/strongroom/pkg/config"
	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/logx"
	"github.com/strongroom-io/strongroom/pkg/trust/arn"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey"
)

// minDeletionPendingDays is the shortest pending window AWS accepts for
// ScheduleKeyDeletion.
const minDeletionPendingDays = 7

// Manager provisions, validates and retires the per-principal CMKs used
// to deliver IAM authentication results confidentially.
type Manager struct {
	repo     kmskey.Repository
	provider kmskey.KeyProvider
	cfg      *config.KMSConfig
}

// NewManager creates the key manager.
func NewManager(repo kmskey.Repository, provider kmskey.KeyProvider, cfg *config.KMSConfig) *Manager {
	return &Manager{repo: repo, provider: provider, cfg: cfg}
}

// GetOrProvisionKey returns the key ARN for (roleID, region), creating
// key, alias and record on first use. Provider failures are fatal only
// during first-time provisioning; on the revalidation path they are
// logged and deferred to the next cycle.
func (m *Manager) GetOrProvisionKey(ctx context.Context, roleID kernel.RoleID, principalArn string, region kernel.Region) (string, error) {
	rec, err := m.repo.Get(ctx, roleID, region)
	if err != nil {
		return "", kmskey.ErrRecordAccessFailed(err)
	}
	if rec == nil {
		return m.provision(ctx, roleID, principalArn, region)
	}
	m.validateAndRefreshPolicy(ctx, rec, principalArn)
	return rec.KeyArn, nil
}

func (m *Manager) provision(ctx context.Context, roleID kernel.RoleID, principalArn string, region kernel.Region) (string, error) {
	policyJSON, err := kmskey.NewKeyPolicy(m.cfg.AccountID, principalArn).JSON()
	if err != nil {
		return "", err
	}

	keyArn, err := m.provider.CreateKey(ctx, region, policyJSON)
	if err != nil {
		return "", kmskey.ErrProvisioningFailed(err).WithDetail("role_id", roleID.String())
	}

	descriptor, err := arn.RoleDescriptor(principalArn)
	if err != nil {
		return "", err
	}
	uniqueID := uuid.NewString()
	if err := m.provider.CreateAlias(ctx, region, AliasFor(m.cfg.Environment, m.cfg.AccountID, descriptor, uniqueID), keyArn); err != nil {
		return "", kmskey.ErrProvisioningFailed(err).WithDetail("key_arn", keyArn)
	}

	now := time.Now().UTC()
	rec := kmskey.CMKRecord{
		ID:              uuid.NewString(),
		RoleID:          roleID,
		KeyArn:          keyArn,
		Region:          region,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastValidatedAt: now,
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		return "", kmskey.ErrRecordAccessFailed(err)
	}

	logx.WithFields(logx.Fields{
		"role_id": roleID.String(),
		"region":  region.String(),
		"key_arn": keyArn,
	}).Info("provisioned per-principal CMK")
	return keyArn, nil
}

// validateAndRefreshPolicy lazily verifies that the live key policy still
// grants decrypt to principalArn and repairs it when it does not.
//
// AWS rewrites a policy principal to an opaque internal id when the IAM
// identity behind the ARN is deleted and recreated; the ARN string looks
// unchanged but decrypt breaks for the new identity. There is no push
// notification for this, so the repair is an idempotent verify-then-put
// performed at most once per revalidation interval.
//
// This path must never fail a live authentication: every provider error
// except "key gone" is logged and deferred to the next cycle. A gone key
// deletes the stale record so the next call re-provisions.
func (m *Manager) validateAndRefreshPolicy(ctx context.Context, rec *kmskey.CMKRecord, principalArn string) {
	if time.Since(rec.LastValidatedAt) < m.cfg.RevalidationInterval {
		return
	}

	log := logx.WithFields(logx.Fields{
		"key_arn": rec.KeyArn,
		"region":  rec.Region.String(),
	})

	document, err := m.provider.GetKeyPolicy(ctx, rec.Region, rec.KeyArn)
	if err != nil {
		if errx.IsNotFound(err) {
			log.Warn("provider key is gone, deleting stale record")
			if delErr := m.repo.Delete(ctx, rec.ID); delErr != nil {
				log.WithError(delErr).Error("failed to delete stale key record")
			}
			return
		}
		log.WithError(err).Warn("key policy fetch failed, deferring validation")
		return
	}

	policy, err := kmskey.ParseKeyPolicy(document)
	if err != nil {
		log.WithError(err).Error("live key policy is unparseable")
		return
	}

	current, ok := policy.PrincipalFor(kmskey.DecryptStatementSid)
	if !ok || current != principalArn {
		log.WithField("policy_principal", current).Warn("key policy principal drifted, repairing")
		policyJSON, err := kmskey.NewKeyPolicy(m.cfg.AccountID, principalArn).JSON()
		if err != nil {
			log.WithError(err).Error("failed to render repair policy")
			return
		}
		if err := m.provider.PutKeyPolicy(ctx, rec.Region, rec.KeyArn, policyJSON); err != nil {
			log.WithError(err).Warn("key policy repair failed, deferring to next cycle")
			return
		}
	}

	rec.LastValidatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.LastValidatedAt
	if err := m.repo.Update(ctx, *rec); err != nil {
		log.WithError(err).Error("failed to record key validation time")
	}
}

// Encrypt encrypts plaintext under the principal's key.
func (m *Manager) Encrypt(ctx context.Context, region kernel.Region, keyArn string, plaintext []byte) ([]byte, error) {
	ciphertext, err := m.provider.Encrypt(ctx, region, keyArn, plaintext)
	if err != nil {
		return nil, kmskey.ErrProvisioningFailed(err).WithDetail("key_arn", keyArn)
	}
	return ciphertext, nil
}

// ScheduleDeletion requests provider-side deletion with at least the
// provider's minimum pending window.
func (m *Manager) ScheduleDeletion(ctx context.Context, region kernel.Region, keyArn string, pendingDays int) error {
	if pendingDays < minDeletionPendingDays {
		pendingDays = minDeletionPendingDays
	}
	if err := m.provider.ScheduleKeyDeletion(ctx, region, keyArn, pendingDays); err != nil {
		if errx.IsNotFound(err) {
			// Already gone; the caller decides whether that is fine.
			return err
		}
		return kmskey.ErrDeletionFailed(err).WithDetail("key_arn", keyArn)
	}
	return nil
}

// SweepInactiveOrOrphaned retires keys whose records have not validated
// within inactiveAfter or whose principal role is gone. One item's
// failure never aborts the rest; a cooldown separates provider calls to
// stay under the KMS rate limit. Returns the number of records retired.
func (m *Manager) SweepInactiveOrOrphaned(ctx context.Context, inactiveAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-inactiveAfter)
	records, err := m.repo.ListInactiveOrOrphaned(ctx, cutoff)
	if err != nil {
		return 0, kmskey.ErrRecordAccessFailed(err)
	}

	swept := 0
	for i, rec := range records {
		if i > 0 {
			select {
			case <-ctx.Done():
				return swept, ctx.Err()
			case <-time.After(m.cfg.SweepCooldown):
			}
		}

		log := logx.WithFields(logx.Fields{
			"key_arn": rec.KeyArn,
			"region":  rec.Region.String(),
		})

		err := m.ScheduleDeletion(ctx, rec.Region, rec.KeyArn, m.cfg.DeletionPendingDays)
		if err != nil && !errx.IsNotFound(err) {
			log.WithError(err).Warn("key deletion scheduling failed, skipping record")
			continue
		}
		if err := m.repo.Delete(ctx, rec.ID); err != nil {
			log.WithError(err).Warn("key record delete failed, skipping record")
			continue
		}
		swept++
		log.Info("retired inactive or orphaned CMK")
	}
	return swept, nil
}
