package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"queryplane/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeJobStore is an in-memory JobStore.
type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[domain.JobID]*domain.JobResult
	failPut   error
	failCheck error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[domain.JobID]*domain.JobResult)}
}

func (s *fakeJobStore) CheckAndPut(_ context.Context, id domain.JobID, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCheck != nil {
		return s.failCheck
	}
	if _, exists := s.jobs[id]; exists {
		return domain.ErrConflict("job %s already exists", id)
	}
	s.jobs[id] = result
	return nil
}

func (s *fakeJobStore) Put(_ context.Context, id domain.JobID, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.jobs[id] = result
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, id domain.JobID) (*domain.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound("job %s not found", id)
	}
	return result, nil
}

func (s *fakeJobStore) CountForDataset(context.Context, []string, string) (int, error) {
	return 0, nil
}

func (s *fakeJobStore) CountsForDatasets(_ context.Context, paths [][]string) ([]int, error) {
	return make([]int, len(paths)), nil
}

func (s *fakeJobStore) FindForDataset(context.Context, []string, string, int) ([]domain.JobEntry, error) {
	return nil, nil
}

func (s *fakeJobStore) FindForParent(context.Context, []string, int) ([]domain.JobEntry, error) {
	return nil, nil
}

func (s *fakeJobStore) FindAll(context.Context, domain.FindJobsRequest) ([]domain.JobEntry, error) {
	return nil, nil
}

func (s *fakeJobStore) All(context.Context) ([]domain.JobEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]domain.JobEntry, 0, len(s.jobs))
	for id, result := range s.jobs {
		entries = append(entries, domain.JobEntry{ID: id, Result: result})
	}
	return entries, nil
}

// fakeProfileStore is an in-memory ProfileStore.
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.QueryProfile
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*domain.QueryProfile)}
}

func (s *fakeProfileStore) Put(_ context.Context, id domain.AttemptID, profile *domain.QueryProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id.String()] = profile
	return nil
}

func (s *fakeProfileStore) Get(_ context.Context, id domain.AttemptID) (*domain.QueryProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id.String()]
	if !ok {
		return nil, domain.ErrNotFound("profile %s not found", id)
	}
	return p, nil
}

// fakeResultsStore is an in-memory ResultsStore.
type fakeResultsStore struct {
	mu         sync.Mutex
	live       map[domain.JobID]*domain.JobData
	pages      map[domain.JobID]*domain.ResultPage
	batches    map[domain.JobID][]*domain.OutputBatch
	cleaned    []domain.JobID
	cleanupErr map[domain.JobID]error
}

func newFakeResultsStore() *fakeResultsStore {
	return &fakeResultsStore{
		live:       make(map[domain.JobID]*domain.JobData),
		pages:      make(map[domain.JobID]*domain.ResultPage),
		batches:    make(map[domain.JobID][]*domain.OutputBatch),
		cleanupErr: make(map[domain.JobID]error),
	}
}

func (s *fakeResultsStore) CacheLiveData(id domain.JobID, data *domain.JobData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[id] = data
}

func (s *fakeResultsStore) LiveData(id domain.JobID) *domain.JobData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

func (s *fakeResultsStore) ForgetLiveData(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

func (s *fakeResultsStore) StoreBatch(_ context.Context, id domain.JobID, batch *domain.OutputBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = append(s.batches[id], batch)
	return nil
}

func (s *fakeResultsStore) LoadPage(_ context.Context, id domain.JobID, _ *domain.JobResult, _, _ int) (*domain.ResultPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return nil, domain.ErrNotFound("results for job %q not found", id)
	}
	return page, nil
}

func (s *fakeResultsStore) TableName(id domain.JobID) string {
	return `"test"."` + string(id) + `"`
}

func (s *fakeResultsStore) Cleanup(_ context.Context, id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cleanupErr[id]; err != nil {
		return err
	}
	delete(s.live, id)
	s.cleaned = append(s.cleaned, id)
	return nil
}

func (s *fakeResultsStore) Close() error { return nil }

func (s *fakeResultsStore) cleanedIDs() []domain.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobID(nil), s.cleaned...)
}

// fakeSpaces answers space lookups from a fixed set.
type fakeSpaces struct {
	names map[string]bool
	err   error
}

func (s *fakeSpaces) SpaceExists(_ context.Context, name string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.names[name], nil
}

// fakeEngine records submissions and exposes the observer for tests to drive.
type fakeEngine struct {
	mu        sync.Mutex
	submitted []domain.ExternalID
	observer  domain.QueryObserver
	req       domain.QueryRequest
	cfg       domain.ExecutionConfig
	err       error
}

func (e *fakeEngine) SubmitLocalQuery(id domain.ExternalID, observer domain.QueryObserver, req domain.QueryRequest, cfg domain.ExecutionConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.submitted = append(e.submitted, id)
	e.observer = observer
	e.req = req
	e.cfg = cfg
	return nil
}

func (e *fakeEngine) submissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submitted)
}

// fakeForeman answers local cancel and live-profile queries.
type fakeForeman struct {
	cancelOK bool
	profile  *domain.QueryProfile
}

func (f *fakeForeman) CancelLocal(domain.ExternalID) bool { return f.cancelOK }

func (f *fakeForeman) RunningProfile(domain.ExternalID) (*domain.QueryProfile, bool) {
	return f.profile, f.profile != nil
}

// fakeTunnel scripts remote responses.
type fakeTunnel struct {
	profile    *domain.QueryProfile
	profileErr error
	ack        *domain.Ack
	ackErr     error
}

func (t *fakeTunnel) RequestQueryProfile(context.Context, domain.ExternalID, int) (*domain.QueryProfile, error) {
	if t.profileErr != nil {
		return nil, t.profileErr
	}
	return t.profile, nil
}

func (t *fakeTunnel) RequestCancelQuery(context.Context, domain.ExternalID) (*domain.Ack, error) {
	if t.ackErr != nil {
		return nil, t.ackErr
	}
	return t.ack, nil
}

type fakeTunnelCreator struct {
	tunnel *fakeTunnel
	err    error
}

func (c *fakeTunnelCreator) Tunnel(domain.NodeEndpoint) (domain.Tunnel, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.tunnel, nil
}

// recordingStatus captures the submitter-side notifications.
type recordingStatus struct {
	mu        sync.Mutex
	submitted []domain.JobID
	metadata  []*domain.QueryMetadata
	completed int
	cancelled int
	failures  []error
}

func (r *recordingStatus) JobSubmitted(id domain.JobID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, id)
}

func (r *recordingStatus) MetadataCollected(md *domain.QueryMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = append(r.metadata, md)
}

func (r *recordingStatus) JobCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *recordingStatus) JobCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

func (r *recordingStatus) JobFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

// recordingSink captures the external connection's view.
type recordingSink struct {
	mu      sync.Mutex
	batches []*domain.OutputBatch
	results []*domain.ExecResult
}

func (s *recordingSink) SendData(batch *domain.OutputBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *recordingSink) Completed(result *domain.ExecResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

// countingListener counts fan-out completions.
type countingListener struct {
	mu    sync.Mutex
	count int
	last  *domain.Job
}

func (l *countingListener) QueryCompleted(job *domain.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.last = job
}

func (l *countingListener) completions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// testEnv is one fully-faked service instance.
type testEnv struct {
	svc      *Service
	store    *fakeJobStore
	profiles *fakeProfileStore
	results  *fakeResultsStore
	engine   *fakeEngine
	foreman  *fakeForeman
	tunnels  *fakeTunnelCreator
	identity domain.NodeEndpoint
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    newFakeJobStore(),
		profiles: newFakeProfileStore(),
		results:  newFakeResultsStore(),
		engine:   &fakeEngine{},
		foreman:  &fakeForeman{},
		tunnels:  &fakeTunnelCreator{tunnel: &fakeTunnel{}},
		identity: domain.NodeEndpoint{Address: "local-node", FabricPort: 9480},
	}
	env.svc = NewService(context.Background(), Deps{
		Store:    env.store,
		Profiles: env.profiles,
		Results:  env.results,
		Spaces:   &fakeSpaces{names: map[string]bool{"analytics": true}},
		Engine:   env.engine,
		Foreman:  env.foreman,
		Tunnels:  env.tunnels,
		Identity: env.identity,
		Logger:   testLogger(),
	})
	t.Cleanup(env.svc.Close)
	return env
}
