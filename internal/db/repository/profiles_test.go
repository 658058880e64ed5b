package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryplane/internal/db"
	"queryplane/internal/domain"
)

func TestProfileRepoPutGetRoundTrip(t *testing.T) {
	t.Parallel()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewProfileRepo(writeDB)
	ctx := context.Background()

	id := domain.AttemptID{Job: domain.JobID("job-p1"), Num: 0}
	profile := &domain.QueryProfile{
		Query: "SELECT 1",
		State: domain.QueryStateRunning,
		Start: 1700000000000,
	}
	require.NoError(t, repo.Put(ctx, id, profile))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, profile, got)
}

func TestProfileRepoPutIsIdempotent(t *testing.T) {
	t.Parallel()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewProfileRepo(writeDB)
	ctx := context.Background()

	id := domain.AttemptID{Job: domain.JobID("job-p2"), Num: 1}
	require.NoError(t, repo.Put(ctx, id, &domain.QueryProfile{State: domain.QueryStateRunning}))
	require.NoError(t, repo.Put(ctx, id, &domain.QueryProfile{State: domain.QueryStateCompleted, End: 99}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStateCompleted, got.State)
	assert.Equal(t, int64(99), got.End)
}

func TestProfileRepoAttemptsAreSeparateKeys(t *testing.T) {
	t.Parallel()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewProfileRepo(writeDB)
	ctx := context.Background()

	job := domain.JobID("job-p3")
	require.NoError(t, repo.Put(ctx, domain.AttemptID{Job: job, Num: 0}, &domain.QueryProfile{State: domain.QueryStateFailed}))
	require.NoError(t, repo.Put(ctx, domain.AttemptID{Job: job, Num: 1}, &domain.QueryProfile{State: domain.QueryStateCompleted}))

	first, err := repo.Get(ctx, domain.AttemptID{Job: job, Num: 0})
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStateFailed, first.State)

	second, err := repo.Get(ctx, domain.AttemptID{Job: job, Num: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.QueryStateCompleted, second.State)
}

func TestProfileRepoGetMissing(t *testing.T) {
	t.Parallel()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewProfileRepo(writeDB)

	_, err := repo.Get(context.Background(), domain.AttemptID{Job: domain.JobID("nope"), Num: 0})
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
