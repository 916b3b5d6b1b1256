package authninfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/trust/authn"
)

// PostgresRoleDirectory resolves IAM ARNs to box-linked role records.
type PostgresRoleDirectory struct {
	db *sqlx.DB
}

// NewPostgresRoleDirectory creates the directory.
func NewPostgresRoleDirectory(db *sqlx.DB) authn.RoleDirectory {
	return &PostgresRoleDirectory{db: db}
}

// FindByArn looks the role up by its exact ARN. Missing rows return
// (nil, nil); ARN normalization is the caller's job.
func (d *PostgresRoleDirectory) FindByArn(ctx context.Context, roleArn string) (*authn.LinkedRole, error) {
	var role authn.LinkedRole
	query := `SELECT id, arn FROM box_iam_roles WHERE arn = $1`
	err := d.db.GetContext(ctx, &role, query, roleArn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find role by arn", errx.TypeInternal).
			WithDetail("arn", roleArn)
	}
	return &role, nil
}
