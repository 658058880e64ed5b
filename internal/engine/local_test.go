package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryplane/internal/domain"
	"queryplane/internal/results"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureObserver records the lifecycle callbacks of one query and signals
// when the query finishes.
type captureObserver struct {
	mu      sync.Mutex
	started bool
	batches []*domain.OutputBatch
	attempt *domain.ExecResult
	final   *domain.ExecResult
	done    chan struct{}
}

func newCaptureObserver() *captureObserver {
	return &captureObserver{done: make(chan struct{})}
}

func (o *captureObserver) NewAttempt(domain.AttemptID, domain.AttemptReason) domain.AttemptObserver {
	return o
}

func (o *captureObserver) ExecCompletion(result *domain.ExecResult) {
	o.mu.Lock()
	o.final = result
	o.mu.Unlock()
	close(o.done)
}

func (o *captureObserver) QueryStarted(domain.QueryRequest, string) {
	o.mu.Lock()
	o.started = true
	o.mu.Unlock()
}

func (o *captureObserver) PlanValidated([]domain.Field, string, time.Duration) {}
func (o *captureObserver) PlanSerializable(*domain.PlanSnapshot)              {}
func (o *captureObserver) PlanParallelized(*domain.PlanSnapshot)              {}
func (o *captureObserver) PlanRelTransform(domain.PlannerPhase, *domain.PlanSnapshot, *domain.PlanSnapshot, float64, time.Duration) {
}
func (o *captureObserver) PlanAccelerated(*domain.SubstitutionInfo) {}
func (o *captureObserver) PlanCompleted(*domain.ExecutionPlan)      {}
func (o *captureObserver) ExecStarted(*domain.QueryProfile)         {}

func (o *captureObserver) ExecDataArrived(batch *domain.OutputBatch) {
	o.mu.Lock()
	o.batches = append(o.batches, batch)
	o.mu.Unlock()
}

func (o *captureObserver) AttemptCompletion(result *domain.ExecResult) {
	o.mu.Lock()
	o.attempt = result
	o.mu.Unlock()
}

func (o *captureObserver) wait(t *testing.T) *domain.ExecResult {
	t.Helper()
	select {
	case <-o.done:
	case <-time.After(10 * time.Second):
		t.Fatal("query did not complete")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.final
}

func newTestEngine(t *testing.T) (*Local, *results.Store) {
	t.Helper()
	store, err := results.Open("", "test_results", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := NewLocal(store.DB(), store, domain.NodeEndpoint{Address: "test", FabricPort: 9480}, testLogger())
	return engine, store
}

func TestLocalRunsQueryAndStoresResults(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)

	id := domain.NewExternalID()
	observer := newCaptureObserver()
	require.NoError(t, engine.SubmitLocalQuery(id, observer,
		domain.QueryRequest{SQL: "SELECT * FROM (VALUES (1, 'a'), (2, 'b')) t(n, s) ORDER BY n", User: "alice"},
		domain.ExecutionConfig{}))

	final := observer.wait(t)
	require.NotNil(t, final)
	assert.Equal(t, domain.QueryStateCompleted, final.State)
	assert.NoError(t, final.Err)
	require.NotNil(t, final.Profile)
	assert.Equal(t, int64(2), final.Profile.OutputRecords)
	assert.True(t, observer.started)

	// The bookkeeping batch names the durable table.
	require.Len(t, observer.batches, 1)
	batch := observer.batches[0]
	require.Len(t, batch.Columns, 4)
	assert.Equal(t, domain.ColumnKindVarBinary, batch.Columns[3].Kind)

	// The rows are durable under the job's table.
	jobID := id.JobID()
	page, err := store.LoadPage(context.Background(), jobID, &domain.JobResult{
		Attempts: []*domain.JobAttempt{{Info: &domain.JobInfo{JobID: jobID}, State: domain.JobStateCompleted}},
	}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "s"}, page.Columns)
	assert.Len(t, page.Rows, 2)

	// Retired after completion.
	_, running := engine.RunningProfile(id)
	assert.False(t, running)
}

func TestLocalRejectsEmptySQL(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	err := engine.SubmitLocalQuery(domain.NewExternalID(), newCaptureObserver(), domain.QueryRequest{}, domain.ExecutionConfig{})
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestLocalReportsQueryFailure(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	observer := newCaptureObserver()
	require.NoError(t, engine.SubmitLocalQuery(domain.NewExternalID(), observer,
		domain.QueryRequest{SQL: "SELECT * FROM no_such_table"}, domain.ExecutionConfig{}))

	final := observer.wait(t)
	assert.Equal(t, domain.QueryStateFailed, final.State)
	require.Error(t, final.Err)
	assert.NotEmpty(t, final.Profile.Error)
	assert.Empty(t, observer.batches)
}

func TestLocalPrepareValidatesWithoutExecuting(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	observer := newCaptureObserver()
	require.NoError(t, engine.SubmitLocalQuery(domain.NewExternalID(), observer,
		domain.QueryRequest{SQL: "SELECT 1", Prepare: true}, domain.ExecutionConfig{}))

	final := observer.wait(t)
	assert.Equal(t, domain.QueryStateCompleted, final.State)
	assert.Empty(t, observer.batches)
	assert.Zero(t, final.Profile.OutputRecords)
}

func TestLocalAppliesLeafLimit(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	observer := newCaptureObserver()
	require.NoError(t, engine.SubmitLocalQuery(domain.NewExternalID(), observer,
		domain.QueryRequest{SQL: "SELECT * FROM range(100)"},
		domain.ExecutionConfig{EnableLeafLimits: true, LeafLimit: 7}))

	final := observer.wait(t)
	assert.Equal(t, domain.QueryStateCompleted, final.State)
	assert.Equal(t, int64(7), final.Profile.OutputRecords)
}

func TestLocalCancelUnknownQuery(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	assert.False(t, engine.CancelLocal(domain.NewExternalID()))
}

func TestLocalLiveProfileWhileRunning(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)

	// A query slow enough to observe mid-flight.
	id := domain.NewExternalID()
	observer := newCaptureObserver()
	require.NoError(t, engine.SubmitLocalQuery(id, observer,
		domain.QueryRequest{SQL: "SELECT count(*) FROM range(50000000)", User: "alice"},
		domain.ExecutionConfig{}))

	profile, ok := engine.RunningProfile(id)
	if ok {
		assert.Equal(t, "alice", profile.User)
		assert.NotZero(t, profile.Start)
	}

	final := observer.wait(t)
	assert.Equal(t, domain.QueryStateCompleted, final.State)
}
