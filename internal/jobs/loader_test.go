package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryplane/internal/domain"
)

func TestInternalLoaderBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	store := newFakeJobStore()
	results := newFakeResultsStore()
	id := domain.JobID("job-load")

	require.NoError(t, store.Put(context.Background(), id, &domain.JobResult{
		Attempts: []*domain.JobAttempt{{
			Info:  &domain.JobInfo{JobID: id},
			State: domain.JobStateCompleted,
		}},
	}))
	results.pages[id] = &domain.ResultPage{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}}

	loader := &internalLoader{
		id:       id,
		latch:    newCompletionLatch(),
		deferred: newDeferredError(),
		store:    store,
		results:  results,
	}

	var wg sync.WaitGroup
	pages := make([]*domain.ResultPage, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i], errs[i] = loader.Load(context.Background(), 0, 10)
		}(i)
	}

	// Loads must not return before the query completes.
	time.Sleep(20 * time.Millisecond)
	loader.latch.Release()
	wg.Wait()

	for i := range pages {
		require.NoError(t, errs[i])
		require.NotNil(t, pages[i])
		assert.Equal(t, []string{"n"}, pages[i].Columns)
	}
}

func TestInternalLoaderSurfacesDeferredFailure(t *testing.T) {
	t.Parallel()

	loader := &internalLoader{
		id:       domain.JobID("job-bad"),
		latch:    newCompletionLatch(),
		deferred: newDeferredError(),
		store:    newFakeJobStore(),
		results:  newFakeResultsStore(),
	}

	cause := errors.New("metadata decode failed")
	loader.deferred.Add(cause)
	loader.latch.Release()

	// Every reader sees the same aggregated failure.
	for i := 0; i < 3; i++ {
		err := loader.WaitForCompletion(context.Background())
		require.ErrorIs(t, err, cause)

		_, err = loader.Load(context.Background(), 0, 10)
		require.ErrorIs(t, err, cause)
	}
}

func TestInternalLoaderWaitHonorsContext(t *testing.T) {
	t.Parallel()

	loader := &internalLoader{
		id:       domain.JobID("job-wait"),
		latch:    newCompletionLatch(),
		deferred: newDeferredError(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := loader.WaitForCompletion(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInternalLoaderResultsTableName(t *testing.T) {
	t.Parallel()

	results := newFakeResultsStore()
	loader := &internalLoader{id: domain.JobID("job-t"), results: results}

	name, err := loader.ResultsTableName()
	require.NoError(t, err)
	assert.Equal(t, results.TableName("job-t"), name)
}

func TestExternalLoaderRefusesRowAccess(t *testing.T) {
	t.Parallel()

	loader := &externalLoader{
		id:       domain.JobID("job-ext"),
		latch:    newCompletionLatch(),
		deferred: newDeferredError(),
	}

	var unsupported *domain.UnsupportedError

	_, err := loader.Load(context.Background(), 0, 10)
	require.ErrorAs(t, err, &unsupported)

	_, err = loader.ResultsTableName()
	require.ErrorAs(t, err, &unsupported)

	// Completion waits still work.
	loader.latch.Release()
	assert.NoError(t, loader.WaitForCompletion(context.Background()))
}
