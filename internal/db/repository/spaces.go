package repository

import (
	"context"
	"database/sql"

	"queryplane/internal/domain"
)

var _ domain.SpaceResolver = (*SpaceRepo)(nil)

// SpaceRepo answers space-membership lookups against the spaces table.
type SpaceRepo struct {
	db *sql.DB
}

// NewSpaceRepo creates a new SpaceRepo.
func NewSpaceRepo(pool *sql.DB) *SpaceRepo {
	return &SpaceRepo{db: pool}
}

// SpaceExists reports whether name is a registered space.
func (r *SpaceRepo) SpaceExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM spaces WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapDBError(err)
	}
	return true, nil
}

// AddSpace registers a space name, idempotently.
func (r *SpaceRepo) AddSpace(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrValidation("space name is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spaces (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	return mapDBError(err)
}
