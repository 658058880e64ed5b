package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryplane/internal/domain"
)

// submitObserved submits a query through the fake engine and returns the job
// plus its captured lifecycle observer.
func submitObserved(t *testing.T, env *testEnv, req SubmitRequest) (*domain.Job, domain.QueryObserver) {
	t.Helper()
	if req.SQL == "" {
		req.SQL = "SELECT * FROM analytics.sales"
	}
	job, err := env.svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, env.engine.observer)
	return job, env.engine.observer
}

func jobOutputBatch(metadata ...[]byte) *domain.OutputBatch {
	n := len(metadata)
	intCells := make([][]byte, n)
	for i := range intCells {
		intCells[i] = []byte("0")
	}
	return &domain.OutputBatch{
		RecordCount: n,
		Columns: []domain.OutputColumn{
			{Name: "fragment", Kind: domain.ColumnKindInt, Values: intCells},
			{Name: "batch", Kind: domain.ColumnKindInt, Values: intCells},
			{Name: "records", Kind: domain.ColumnKindInt, Values: intCells},
			{Name: "metadata", Kind: domain.ColumnKindVarBinary, Values: metadata},
		},
	}
}

func TestObserverHappyPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	status := &recordingStatus{}

	job, observer := submitObserved(t, env, SubmitRequest{
		User:        "alice",
		QueryType:   domain.QueryTypeUIRun,
		DatasetPath: []string{"analytics", "sales"},
		Listener:    status,
	})
	id := job.ID()

	attempt := observer.NewAttempt(domain.AttemptID{Job: id, Num: 0}, domain.AttemptReasonNone)
	attempt.QueryStarted(domain.QueryRequest{SQL: "SELECT * FROM analytics.sales"}, "alice")
	assert.Equal(t, []domain.JobID{id}, status.submitted)

	attempt.PlanValidated([]domain.Field{{Name: "amount", Type: "BIGINT"}}, "SELECT amount FROM analytics.sales", time.Millisecond)
	attempt.PlanRelTransform(domain.PhaseLogical, nil, &domain.PlanSnapshot{
		ScannedTables: [][]string{{"analytics", "sales"}},
		FieldOrigins: []domain.FieldOrigin{{
			Name:    "amount",
			Origins: []domain.Origin{{Table: []string{"analytics", "sales"}, ColumnName: "amount"}},
		}},
	}, 42.5, time.Millisecond)
	attempt.PlanCompleted(&domain.ExecutionPlan{Root: &domain.PlanNode{
		Name:   "Screen",
		Schema: []domain.Field{{Name: "amount", Type: "BIGINT"}},
	}})

	// Planning metadata landed on the attempt and reached the submitter.
	info := job.Attempt().Info
	require.Len(t, info.Parents, 1)
	assert.Equal(t, []string{"analytics", "sales"}, info.Parents[0].DatasetPath)
	assert.Equal(t, "analytics", info.Space)
	require.Len(t, status.metadata, 1)
	assert.Equal(t, 42.5, status.metadata[0].Cost)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attempt.ExecStarted(&domain.QueryProfile{
		State:       domain.QueryStateRunning,
		Start:       start.UnixMilli(),
		PlanningEnd: start.Add(2 * time.Second).UnixMilli(),
	})
	assert.Equal(t, start.UnixMilli(), job.Attempt().Info.StartTime.UnixMilli())

	attempt.ExecDataArrived(jobOutputBatch([]byte(`{"path":"job_results.t1","recordCount":10}`)))
	require.Len(t, info.ResultMetadata, 1)
	assert.Equal(t, "job_results.t1", info.ResultMetadata[0].Path)
	assert.Equal(t, int64(10), info.ResultMetadata[0].RecordCount)

	final := &domain.QueryProfile{
		State:         domain.QueryStateCompleted,
		Start:         start.UnixMilli(),
		End:           start.Add(5 * time.Second).UnixMilli(),
		PlanningEnd:   start.Add(2 * time.Second).UnixMilli(),
		OutputBytes:   2048,
		OutputRecords: 10,
		NodeProfiles: []domain.NodeProfile{
			{PeakMemory: 100, TotalFragments: 4, DoneFragments: 4},
			{PeakMemory: 300, TotalFragments: 2, DoneFragments: 2},
		},
	}
	attempt.AttemptCompletion(&domain.ExecResult{State: domain.QueryStateCompleted, Profile: final})
	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted, Profile: final})

	// Terminal facts.
	assert.Equal(t, domain.JobStateCompleted, job.State())
	require.NotNil(t, info.FinishTime)
	assert.Equal(t, final.End, info.FinishTime.UnixMilli())
	require.NotNil(t, job.Attempt().Details)
	assert.Equal(t, int64(300), job.Attempt().Details.PeakMemory)
	assert.Equal(t, 6, job.Attempt().Details.TotalFragments)
	assert.Equal(t, int64(2000), job.Attempt().Details.TimeSpentInPlanning)
	assert.Equal(t, int64(10), job.Attempt().Stats.OutputRecords)

	// The profile is durable, the submitter was told, the job retired.
	_, err := env.profiles.Get(context.Background(), domain.AttemptID{Job: id, Num: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, status.completed)
	_, live := env.svc.live.Load(id)
	assert.False(t, live)

	// Blocking readers are unblocked with no failure.
	require.NoError(t, job.Data().WaitForCompletion(context.Background()))
}

func TestObserverCallbacksAfterCompletionAreDiscarded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job, observer := submitObserved(t, env, SubmitRequest{})
	attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)

	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})
	stateBefore := job.State()

	// Everything after the latch releases must be a no-op.
	attempt.QueryStarted(domain.QueryRequest{SQL: "late"}, "late-user")
	attempt.PlanValidated(nil, "late", 0)
	attempt.PlanCompleted(nil)
	attempt.ExecStarted(&domain.QueryProfile{Start: 1})
	attempt.ExecDataArrived(jobOutputBatch([]byte(`{"path":"late"}`)))
	attempt.AttemptCompletion(&domain.ExecResult{State: domain.QueryStateFailed, Err: assert.AnError})

	assert.Equal(t, stateBefore, job.State())
	assert.Empty(t, job.Attempt().Info.ResultMetadata)
	assert.NoError(t, job.Data().WaitForCompletion(context.Background()))
}

func TestObserverFailureReachesWaiters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	status := &recordingStatus{}

	job, observer := submitObserved(t, env, SubmitRequest{Listener: status})
	attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)
	attempt.QueryStarted(domain.QueryRequest{}, "alice")

	attempt.AttemptCompletion(&domain.ExecResult{
		State: domain.QueryStateFailed,
		Err:   assert.AnError,
	})
	observer.ExecCompletion(&domain.ExecResult{
		State: domain.QueryStateFailed,
		Err:   assert.AnError,
	})

	assert.Equal(t, domain.JobStateFailed, job.State())
	assert.Equal(t, assert.AnError.Error(), job.Attempt().Info.FailureInfo)
	require.Len(t, status.failures, 1)
	require.ErrorIs(t, status.failures[0], assert.AnError)

	err := job.Data().WaitForCompletion(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestObserverCancellationNotifiesSubmitter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	status := &recordingStatus{}

	job, observer := submitObserved(t, env, SubmitRequest{Listener: status})
	attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)
	attempt.AttemptCompletion(&domain.ExecResult{State: domain.QueryStateCanceled})
	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCanceled})

	assert.Equal(t, domain.JobStateCanceled, job.State())
	assert.Equal(t, 1, status.cancelled)
	assert.Equal(t, 0, status.completed)
}

func TestObserverMalformedJobOutputIsHardFailure(t *testing.T) {
	t.Parallel()

	cases := map[string]*domain.OutputBatch{
		"too few columns": {
			RecordCount: 1,
			Columns: []domain.OutputColumn{
				{Name: "fragment", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
			},
		},
		"metadata column not binary": {
			RecordCount: 1,
			Columns: []domain.OutputColumn{
				{Name: "fragment", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
				{Name: "batch", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
				{Name: "records", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
				{Name: "metadata", Kind: domain.ColumnKindVarChar, Values: [][]byte{[]byte("x")}},
			},
		},
		"malformed metadata record": jobOutputBatch([]byte("not json")),
	}

	for name, batch := range cases {
		batch := batch
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			job, observer := submitObserved(t, env, SubmitRequest{})
			attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)

			attempt.ExecDataArrived(batch)
			observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})

			err := job.Data().WaitForCompletion(context.Background())
			require.Error(t, err)
			var invalid *domain.ValidationError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestObserverRetrySeedsFreshAttempt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job, observer := submitObserved(t, env, SubmitRequest{User: "alice"})
	id := job.ID()

	first := observer.NewAttempt(domain.AttemptID{Job: id, Num: 0}, domain.AttemptReasonNone)
	first.ExecDataArrived(jobOutputBatch([]byte(`{"path":"t0","recordCount":1}`)))
	first.AttemptCompletion(&domain.ExecResult{
		State: domain.QueryStateFailed,
		Err:   assert.AnError,
	})
	require.Len(t, job.Attempts(), 1)

	observer.NewAttempt(domain.AttemptID{Job: id, Num: 1}, domain.AttemptReasonOutOfMemory)
	require.Len(t, job.Attempts(), 2)

	// The new attempt carries the scalar facts but none of the per-attempt
	// accumulations or terminal fields.
	retry := job.Attempt()
	assert.Equal(t, domain.AttemptID{Job: id, Num: 1}.String(), retry.AttemptID)
	assert.Equal(t, domain.AttemptReasonOutOfMemory, retry.Reason)
	assert.Equal(t, domain.JobStateRunning, retry.State)
	assert.Equal(t, "alice", retry.Info.User)
	assert.Nil(t, retry.Info.FinishTime)
	assert.Empty(t, retry.Info.FailureInfo)
	assert.Empty(t, retry.Info.ResultMetadata)

	// The first attempt's record is untouched.
	assert.Equal(t, domain.JobStateFailed, job.Attempts()[0].State)
	assert.Len(t, job.Attempts()[0].Info.ResultMetadata, 1)
}

func TestObserverForwardsToSink(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sink := &recordingSink{}
	origin := domain.ExternalID{Part1: 77, Part2: 88}

	job, err := env.svc.SubmitExternal(context.Background(), "SELECT 1", "alice", "jdbc", origin, sink)
	require.NoError(t, err)
	observer := env.engine.observer
	require.NotNil(t, observer)

	attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)

	batch := &domain.OutputBatch{
		RecordCount: 1,
		Columns: []domain.OutputColumn{
			{Name: "n", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("1")}},
		},
	}
	attempt.ExecDataArrived(batch)
	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})

	// Batches pass through untouched; completion carries the client's id.
	require.Len(t, sink.batches, 1)
	assert.Same(t, batch, sink.batches[0])
	require.Len(t, sink.results, 1)
	assert.Equal(t, origin, sink.results[0].ExternalID)
}

func TestObserverPersistFailureIsDeferred(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job, observer := submitObserved(t, env, SubmitRequest{})
	attempt := observer.NewAttempt(domain.AttemptID{Job: job.ID(), Num: 0}, domain.AttemptReasonNone)

	env.store.failPut = assert.AnError
	attempt.AttemptCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})
	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})

	err := job.Data().WaitForCompletion(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestObserverCompletionNotifiesFanout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	job, observer := submitObserved(t, env, SubmitRequest{})

	early := &countingListener{}
	require.NoError(t, env.svc.RegisterListener(ctx, job.ID(), early))
	assert.Equal(t, 0, early.completions())

	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})
	assert.Equal(t, 1, early.completions())

	// Late registration resolves against the stored history.
	late := &countingListener{}
	require.NoError(t, env.svc.RegisterListener(ctx, job.ID(), late))
	assert.Equal(t, 1, late.completions())
}

func TestObserverCompletionEvictsLiveResultHandle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job, observer := submitObserved(t, env, SubmitRequest{})
	id := job.ID()
	require.NotNil(t, env.results.LiveData(id))

	attempt := observer.NewAttempt(domain.AttemptID{Job: id, Num: 0}, domain.AttemptReasonNone)
	attempt.AttemptCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})
	observer.ExecCompletion(&domain.ExecResult{State: domain.QueryStateCompleted})

	// The handle must not linger until the retention sweeper runs.
	assert.Nil(t, env.results.LiveData(id))
}
