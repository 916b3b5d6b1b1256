package perminfra

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/strongroom-io/strongroom/pkg/errx"
	"github.com/strongroom-io/strongroom/pkg/kernel"
	"github.com/strongroom-io/strongroom/pkg/trust/permission"
)

// PostgresGrantRepository reads box grants from the shared Postgres
// database. Grants are written by the box administration module; the
// trust core is read-only here.
type PostgresGrantRepository struct {
	db *sqlx.DB
}

// NewPostgresGrantRepository creates the repository.
func NewPostgresGrantRepository(db *sqlx.DB) permission.GrantRepository {
	return &PostgresGrantRepository{db: db}
}

// FindByRefs returns every grant matching one of refs.
func (r *PostgresGrantRepository) FindByRefs(ctx context.Context, refs []string, foldCase bool) ([]permission.Grant, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	query := `SELECT box_id, role, principal_ref FROM box_grants WHERE principal_ref = ANY($1)`
	if foldCase {
		query = `SELECT box_id, role, principal_ref FROM box_grants WHERE LOWER(principal_ref) = ANY($1)`
		lowered := make([]string, len(refs))
		for i, ref := range refs {
			lowered[i] = strings.ToLower(ref)
		}
		refs = lowered
	}

	var grants []permission.Grant
	if err := r.db.SelectContext(ctx, &grants, query, pq.Array(refs)); err != nil {
		return nil, errx.Wrap(err, "failed to find grants by principal refs", errx.TypeInternal)
	}
	return grants, nil
}

// FindByBox returns every grant recorded on one box.
func (r *PostgresGrantRepository) FindByBox(ctx context.Context, boxID kernel.BoxID) ([]permission.Grant, error) {
	var grants []permission.Grant
	query := `SELECT box_id, role, principal_ref FROM box_grants WHERE box_id = $1`
	if err := r.db.SelectContext(ctx, &grants, query, boxID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to find grants by box", errx.TypeInternal).
			WithDetail("box_id", boxID.String())
	}
	return grants, nil
}
