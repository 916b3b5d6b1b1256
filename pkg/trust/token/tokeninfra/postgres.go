package tokeninfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/trust/token"
)

// PostgresTokenRepository persists opaque tokens in Postgres.
type PostgresTokenRepository struct {
	db *sqlx.DB
}

// NewPostgresTokenRepository creates the repository.
func NewPostgresTokenRepository(db *sqlx.DB) token.Repository {
	return &PostgresTokenRepository{db: db}
}

// CreateHashed inserts a new hashed token row.
func (r *PostgresTokenRepository) CreateHashed(ctx context.Context, rec token.StoredToken) error {
	query := `
		INSERT INTO access_tokens (
			id, secret_hash, principal, principal_type, is_admin,
			groups_csv, created_at, expires_at, refresh_count
		) VALUES (
			:id, :secret_hash, :principal, :principal_type, :is_admin,
			:groups_csv, :created_at, :expires_at, :refresh_count
		)`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return errx.Wrap(err, "token id or hash collision", errx.TypeConflict).
				WithDetail("token_id", rec.ID)
		}
		return errx.Wrap(err, "failed to create token", errx.TypeInternal).
			WithDetail("token_id", rec.ID)
	}
	return nil
}

// GetByHash looks a token up by its secret hash. Missing rows return
// (nil, nil).
func (r *PostgresTokenRepository) GetByHash(ctx context.Context, secretHash string) (*token.StoredToken, error) {
	var rec token.StoredToken
	query := `SELECT * FROM access_tokens WHERE secret_hash = $1`
	err := r.db.GetContext(ctx, &rec, query, secretHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find token by hash", errx.TypeInternal)
	}
	return &rec, nil
}

// DeleteByHash hard-deletes a token row. Absent rows are not an error.
func (r *PostgresTokenRepository) DeleteByHash(ctx context.Context, secretHash string) error {
	query := `DELETE FROM access_tokens WHERE secret_hash = $1`
	if _, err := r.db.ExecContext(ctx, query, secretHash); err != nil {
		return errx.Wrap(err, "failed to delete token by hash", errx.TypeInternal)
	}
	return nil
}

// DeleteExpiredBatch deletes expired rows in bounded batches. Each DELETE
// runs as its own implicit transaction and targets rows through a
// LIMIT-ed ctid subquery, so the sweep never holds one long transaction
// or lock that would block foreground authentication.
func (r *PostgresTokenRepository) DeleteExpiredBatch(ctx context.Context, maxDelete, batchSize int, pause time.Duration) (int, error) {
	query := `
		DELETE FROM access_tokens
		WHERE ctid IN (
			SELECT ctid FROM access_tokens WHERE expires_at <= NOW() LIMIT $1
		)`

	total := 0
	for total < maxDelete {
		batch := batchSize
		if remaining := maxDelete - total; remaining < batch {
			batch = remaining
		}

		res, err := r.db.ExecContext(ctx, query, batch)
		if err != nil {
			return total, errx.Wrap(err, "failed to delete expired token batch", errx.TypeInternal)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errx.Wrap(err, "failed to read deleted row count", errx.TypeInternal)
		}
		total += int(n)
		if int(n) < batch {
			break
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(pause):
		}
	}
	return total, nil
}
