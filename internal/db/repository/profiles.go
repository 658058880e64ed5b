package repository

import (
	"context"
	"database/sql"

	"queryplane/internal/domain"
)

var _ domain.ProfileStore = (*ProfileRepo)(nil)

// ProfileRepo stores execution profiles keyed per attempt. Repeated writes
// for the same attempt update the row in place.
type ProfileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(pool *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: pool}
}

// Put writes the profile for an attempt, replacing any previous one.
func (r *ProfileRepo) Put(ctx context.Context, id domain.AttemptID, profile *domain.QueryProfile) error {
	body, err := profile.ToJSON()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (attempt_id, profile, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (attempt_id) DO UPDATE SET
			profile = excluded.profile,
			updated_at = CURRENT_TIMESTAMP
	`, id.String(), string(body))
	return mapDBError(err)
}

// Get returns the stored profile for an attempt.
func (r *ProfileRepo) Get(ctx context.Context, id domain.AttemptID) (*domain.QueryProfile, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT profile FROM profiles WHERE attempt_id = ?`, id.String()).Scan(&body)
	if err != nil {
		return nil, mapDBError(err)
	}
	return domain.ProfileFromJSON([]byte(body))
}
