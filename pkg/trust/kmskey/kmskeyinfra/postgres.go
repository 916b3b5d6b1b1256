package kmskeyinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust/kmskey"
)

// PostgresCMKRepository persists per-principal CMK records in Postgres.
type PostgresCMKRepository struct {
	db *sqlx.DB
}

// NewPostgresCMKRepository creates the repository.
func NewPostgresCMKRepository(db *sqlx.DB) kmskey.Repository {
	return &PostgresCMKRepository{db: db}
}

// Get looks the record up by (role, region). Missing rows return (nil, nil).
func (r *PostgresCMKRepository) Get(ctx context.Context, roleID kernel.RoleID, region kernel.Region) (*kmskey.CMKRecord, error) {
	var rec kmskey.CMKRecord
	query := `SELECT * FROM principal_cmks WHERE principal_role_id = $1 AND region = $2`
	err := r.db.GetContext(ctx, &rec, query, roleID.String(), region.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find key record", errx.TypeInternal).
			WithDetail("role_id", roleID.String())
	}
	return &rec, nil
}

// Create inserts a new record. A unique index on (principal_role_id,
// region) makes concurrent first-time provisioning lose loudly instead
// of leaving two records for one pair.
func (r *PostgresCMKRepository) Create(ctx context.Context, rec kmskey.CMKRecord) error {
	query := `
		INSERT INTO principal_cmks (
			id, principal_role_id, kms_key_arn, region,
			created_at, last_updated_at, last_validated_at
		) VALUES (
			:id, :principal_role_id, :kms_key_arn, :region,
			:created_at, :last_updated_at, :last_validated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return errx.Wrap(err, "key record already exists for role and region", errx.TypeConflict).
				WithDetail("role_id", rec.RoleID.String())
		}
		return errx.Wrap(err, "failed to create key record", errx.TypeInternal).
			WithDetail("role_id", rec.RoleID.String())
	}
	return nil
}

// Update rewrites the mutable columns of a record.
func (r *PostgresCMKRepository) Update(ctx context.Context, rec kmskey.CMKRecord) error {
	query := `
		UPDATE principal_cmks SET
			kms_key_arn = :kms_key_arn,
			last_updated_at = :last_updated_at,
			last_validated_at = :last_validated_at
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return errx.Wrap(err, "failed to update key record", errx.TypeInternal).
			WithDetail("record_id", rec.ID)
	}
	return nil
}

// Delete hard-deletes a record. Absent rows are not an error.
func (r *PostgresCMKRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM principal_cmks WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return errx.Wrap(err, "failed to delete key record", errx.TypeInternal).
			WithDetail("record_id", id)
	}
	return nil
}

// ListInactiveOrOrphaned returns records not validated since cutoff plus
// records whose principal role row is gone. A key is only validated on
// use, so last_validated_at doubles as a last-use watermark.
func (r *PostgresCMKRepository) ListInactiveOrOrphaned(ctx context.Context, cutoff time.Time) ([]kmskey.CMKRecord, error) {
	var recs []kmskey.CMKRecord
	query := `
		SELECT k.* FROM principal_cmks k
		LEFT JOIN box_iam_roles r ON r.id = k.principal_role_id
		WHERE k.last_validated_at < $1 OR r.id IS NULL
		ORDER BY k.last_validated_at ASC`

	if err := r.db.SelectContext(ctx, &recs, query, cutoff); err != nil {
		return nil, errx.Wrap(err, "failed to list retirable key records", errx.TypeInternal)
	}
	return recs, nil
}
