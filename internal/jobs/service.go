package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"queryplane/internal/domain"
)

// previewLeafLimit caps how many rows a preview reads per leaf scan.
const previewLeafLimit = 10_000

// SubmitRequest describes one in-process submission.
type SubmitRequest struct {
	SQL             string
	User            string
	Context         []string
	QueryType       domain.QueryType
	DatasetPath     []string
	DatasetVersion  string
	Exclusions      []string
	Listener        domain.StatusListener
	Materialization *domain.MaterializationSummary
	Download        *domain.DownloadInfo
}

// Service is the job registry: it owns the live-job map, drives submissions
// into the execution engine, routes lifecycle callbacks, and answers every
// job lookup, search, cancel, and profile request.
type Service struct {
	store    domain.JobStore
	profiles domain.ProfileStore
	results  domain.ResultsStore
	spaces   domain.SpaceResolver
	engine   domain.ExecutionEngine
	foreman  domain.ForemanTool
	tunnels  domain.TunnelCreator
	identity domain.NodeEndpoint
	alloc    *batchAllocator
	logger   *slog.Logger

	baseCtx context.Context
	live    sync.Map // domain.JobID -> *liveJob
}

type liveJob struct {
	job      *domain.Job
	listener *queryListener
}

// Deps carries the service's collaborators.
type Deps struct {
	Store    domain.JobStore
	Profiles domain.ProfileStore
	Results  domain.ResultsStore
	Spaces   domain.SpaceResolver
	Engine   domain.ExecutionEngine
	Foreman  domain.ForemanTool
	Tunnels  domain.TunnelCreator
	Identity domain.NodeEndpoint
	Logger   *slog.Logger
}

// NewService creates the job registry.
func NewService(ctx context.Context, deps Deps) *Service {
	return &Service{
		store:    deps.Store,
		profiles: deps.Profiles,
		results:  deps.Results,
		spaces:   deps.Spaces,
		engine:   deps.Engine,
		foreman:  deps.Foreman,
		tunnels:  deps.Tunnels,
		identity: deps.Identity,
		alloc:    newBatchAllocator(),
		logger:   deps.Logger.With("component", "jobs"),
		baseCtx:  ctx,
	}
}

// Close retires the registry's batch allocator. Call only after the engine
// and results store have shut down.
func (s *Service) Close() {
	s.alloc.Close()
}

func (s *Service) ctx() context.Context {
	return s.baseCtx
}

// Submit starts a new in-process job and hands it to the execution engine.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if req.SQL == "" {
		return nil, domain.ErrValidation("sql text is required")
	}
	if req.Listener == nil {
		req.Listener = domain.NoopStatusListener{}
	}

	externalID := domain.NewExternalID()
	id := externalID.JobID()

	job, listener := s.newLiveJob(id, req)
	loader := &internalLoader{
		id:       id,
		latch:    listener.latch,
		deferred: listener.deferred,
		store:    s.store,
		results:  s.results,
	}
	data := domain.NewJobData(id, loader)
	job.SetData(data)

	// A duplicate id is an identifier-generation bug. Fail before the engine
	// ever sees the query.
	if err := s.store.CheckAndPut(ctx, id, job.Result()); err != nil {
		if errors.As(err, new(*domain.ConflictError)) {
			s.logger.Error("job id collision on submit", "job_id", string(id))
			return nil, fmt.Errorf("job id %s already exists: %w", id, err)
		}
		return nil, fmt.Errorf("persist new job: %w", err)
	}

	s.live.Store(id, &liveJob{job: job, listener: listener})
	s.results.CacheLiveData(id, data)

	queryReq := domain.QueryRequest{
		SQL:      req.SQL,
		User:     req.User,
		Context:  req.Context,
		Prepare:  req.QueryType == domain.QueryTypePrepareInternal,
		Priority: workloadClass(req.QueryType),
	}
	if err := s.engine.SubmitLocalQuery(externalID, listener, queryReq, s.executionConfig(id, req)); err != nil {
		s.failSubmission(ctx, job, listener, err)
		return nil, fmt.Errorf("submit query: %w", err)
	}

	s.logger.Info("job submitted",
		"job_id", string(id), "query_type", string(req.QueryType), "user", req.User)
	return job, nil
}

// SubmitExternal starts a job that arrived over a client connection. Its
// output is forwarded to the originating sink under the client's execution
// id; it has no retrievable result pages.
func (s *Service) SubmitExternal(ctx context.Context, sql, user, clientName string, clientID domain.ExternalID, sink domain.ResponseSink) (*domain.Job, error) {
	if sink == nil {
		return nil, domain.ErrValidation("external submission requires a response sink")
	}

	req := SubmitRequest{
		SQL:       sql,
		User:      user,
		QueryType: clientQueryType(clientName),
	}

	externalID := domain.NewExternalID()
	id := externalID.JobID()

	job, listener := s.newLiveJob(id, req)
	listener.status = nil
	listener.sink = sink
	listener.origin = clientID
	job.SetData(domain.NewJobData(id, &externalLoader{
		id:       id,
		latch:    listener.latch,
		deferred: listener.deferred,
	}))

	if err := s.store.CheckAndPut(ctx, id, job.Result()); err != nil {
		if errors.As(err, new(*domain.ConflictError)) {
			s.logger.Error("job id collision on submit", "job_id", string(id))
			return nil, fmt.Errorf("job id %s already exists: %w", id, err)
		}
		return nil, fmt.Errorf("persist new job: %w", err)
	}
	s.live.Store(id, &liveJob{job: job, listener: listener})

	queryReq := domain.QueryRequest{
		SQL:      sql,
		User:     user,
		Priority: workloadClass(req.QueryType),
	}
	if err := s.engine.SubmitLocalQuery(externalID, listener, queryReq, s.executionConfig(id, req)); err != nil {
		s.failSubmission(ctx, job, listener, err)
		return nil, fmt.Errorf("submit query: %w", err)
	}
	return job, nil
}

// SubmitDownload starts an export job producing a named download.
func (s *Service) SubmitDownload(ctx context.Context, sql, user, downloadID, fileName string, listener domain.StatusListener) (*domain.Job, error) {
	return s.Submit(ctx, SubmitRequest{
		SQL:       sql,
		User:      user,
		QueryType: domain.QueryTypeUIExport,
		Listener:  listener,
		Download:  &domain.DownloadInfo{DownloadID: downloadID, FileName: fileName},
	})
}

func (s *Service) newLiveJob(id domain.JobID, req SubmitRequest) (*domain.Job, *queryListener) {
	datasetPath := req.DatasetPath
	if len(datasetPath) == 0 {
		datasetPath = domain.UnknownPath
	}
	datasetVersion := req.DatasetVersion
	if datasetVersion == "" {
		datasetVersion = domain.UnknownVersion
	}

	now := time.Now()
	info := &domain.JobInfo{
		JobID:          id,
		SQL:            req.SQL,
		User:           req.User,
		QueryType:      req.QueryType,
		DatasetPath:    datasetPath,
		DatasetVersion: datasetVersion,
		StartTime:      &now,
		Download:       req.Download,
		Materialized:   req.Materialization,
	}
	attempt := &domain.JobAttempt{
		Info:      info,
		AttemptID: domain.AttemptID{Job: id, Num: 0}.String(),
		Endpoint:  s.identity,
		State:     domain.JobStateRunning,
		Reason:    domain.AttemptReasonNone,
	}
	job := domain.NewJob(id, attempt)

	listener := &queryListener{
		svc:      s,
		job:      job,
		latch:    newCompletionLatch(),
		deferred: newDeferredError(),
		fanout:   newFanout(),
		logger:   s.logger,
		status:   req.Listener,
	}
	return job, listener
}

func (s *Service) failSubmission(ctx context.Context, job *domain.Job, listener *queryListener, cause error) {
	attempt := job.Attempt()
	attempt.State = domain.JobStateFailed
	attempt.Info.FailureInfo = cause.Error()
	now := time.Now()
	attempt.Info.FinishTime = &now

	if err := s.store.Put(ctx, job.ID(), job.Result()); err != nil {
		s.logger.Error("persist failed submission", "job_id", string(job.ID()), "error", err)
	}
	if listener.status != nil {
		listener.status.JobFailed(cause)
	}
	listener.deferred.Add(cause)
	listener.latch.Release()
	s.remove(job.ID())
	s.results.ForgetLiveData(job.ID())
}

func (s *Service) remove(id domain.JobID) {
	s.live.Delete(id)
}

// persist flushes a live job's current history to the job store.
func (s *Service) persist(job *domain.Job) error {
	return s.store.Put(s.ctx(), job.ID(), job.Result())
}

// resolveSpace writes the indexed space field when the first dataset path
// segment names an existing space; otherwise the field stays absent.
func (s *Service) resolveSpace(info *domain.JobInfo) {
	if len(info.DatasetPath) == 0 || info.DatasetPath[0] == domain.UnknownPath[0] {
		return
	}
	exists, err := s.spaces.SpaceExists(s.ctx(), info.DatasetPath[0])
	if err != nil {
		s.logger.Warn("space lookup failed", "name", info.DatasetPath[0], "error", err)
		return
	}
	if exists {
		info.Space = info.DatasetPath[0]
	}
}

// GetJob resolves a job: the live map is authoritative, the store serves
// completed jobs.
func (s *Service) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if v, ok := s.live.Load(id); ok {
		return v.(*liveJob).job, nil
	}
	result, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil, domain.ErrNotFound("job %s not found", id)
		}
		return nil, err
	}
	return domain.RestoredJob(id, result), nil
}

// GetJobData returns one page of the job's result rows, blocking on the live
// handle while the job runs.
func (s *Service) GetJobData(ctx context.Context, id domain.JobID, offset, limit int) (*domain.ResultPage, error) {
	if data := s.results.LiveData(id); data != nil {
		return data.Load(ctx, offset, limit)
	}
	result, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil, domain.ErrNotFound("job %s not found", id)
		}
		return nil, err
	}
	return s.results.LoadPage(ctx, id, result, offset, limit)
}

// RegisterListener subscribes to a job's completion. A live job notifies at
// completion time; a stored job is notified synchronously right here; an
// unknown id is a caller error.
func (s *Service) RegisterListener(ctx context.Context, id domain.JobID, l domain.ExternalStatusListener) error {
	if v, ok := s.live.Load(id); ok {
		v.(*liveJob).listener.fanout.Register(l)
		return nil
	}
	result, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return domain.ErrValidation("job %s does not exist", id)
		}
		return err
	}
	l.QueryCompleted(domain.RestoredJob(id, result))
	return nil
}

// Cancel stops a running job: locally through the engine when the query runs
// here, otherwise forwarded to the job's recorded coordinator.
func (s *Service) Cancel(ctx context.Context, user string, id domain.JobID) error {
	externalID, err := id.ExternalID()
	if err != nil {
		return err
	}

	if s.foreman.CancelLocal(externalID) {
		s.logger.Info("job cancelled locally", "job_id", string(id), "user", user)
		return nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	endpoint := job.Attempt().Endpoint

	if domain.RouteTo(endpoint, s.identity) == domain.RouteLocal {
		// Not running here and recorded against this node: it already
		// finished or never started.
		return domain.ErrJobWarning(id, "job %s is not running and cannot be cancelled", id)
	}

	tunnel, err := s.tunnels.Tunnel(endpoint)
	if err != nil {
		return fmt.Errorf("cancel job %s: reach node %s: %w", id, endpoint, err)
	}
	ack, err := tunnel.RequestCancelQuery(ctx, externalID)
	if err != nil {
		return fmt.Errorf("cancel job %s on node %s did not complete: %w", id, endpoint, err)
	}
	if !ack.OK {
		return domain.ErrJobWarning(id, "node %s could not cancel job %s: %s", endpoint, id, ack.Message)
	}
	s.logger.Info("job cancelled remotely", "job_id", string(id), "node", endpoint.String(), "user", user)
	return nil
}

// GetProfile resolves an attempt's execution profile: the profile store
// first, then the local foreman, then the job's recorded coordinator over
// the tunnel. Every remote failure normalizes to not-found.
func (s *Service) GetProfile(ctx context.Context, id domain.JobID, attempt int) (*domain.QueryProfile, error) {
	attemptID := domain.AttemptID{Job: id, Num: attempt}
	profile, err := s.profiles.Get(ctx, attemptID)
	if err == nil {
		return profile, nil
	}
	if !errors.As(err, new(*domain.NotFoundError)) {
		return nil, err
	}

	externalID, err := id.ExternalID()
	if err != nil {
		return nil, err
	}
	if p, ok := s.foreman.RunningProfile(externalID); ok {
		return p, nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	endpoint := job.Attempt().Endpoint
	if domain.RouteTo(endpoint, s.identity) == domain.RouteLocal {
		return nil, domain.ErrNotFound("profile for job %s attempt %d not found", id, attempt)
	}

	tunnel, err := s.tunnels.Tunnel(endpoint)
	if err != nil {
		s.logger.Warn("profile fetch could not reach node",
			"job_id", string(id), "node", endpoint.String(), "error", err)
		return nil, domain.ErrNotFound("profile for job %s attempt %d not found", id, attempt)
	}
	p, err := tunnel.RequestQueryProfile(ctx, externalID, attempt)
	if err != nil {
		s.logger.Warn("remote profile fetch failed",
			"job_id", string(id), "node", endpoint.String(), "error", err)
		return nil, domain.ErrNotFound("profile for job %s attempt %d not found", id, attempt)
	}
	return p, nil
}

// CountForDataset counts jobs touching a dataset.
func (s *Service) CountForDataset(ctx context.Context, path []string, version string) (int, error) {
	return s.store.CountForDataset(ctx, path, version)
}

// CountsForDatasets counts jobs per dataset, one count per input path.
func (s *Service) CountsForDatasets(ctx context.Context, paths [][]string) ([]int, error) {
	return s.store.CountsForDatasets(ctx, paths)
}

// JobsForDataset lists jobs touching a dataset, most recent first.
func (s *Service) JobsForDataset(ctx context.Context, path []string, version string, limit int) ([]domain.JobEntry, error) {
	return s.store.FindForDataset(ctx, path, version, limit)
}

// JobsForParent lists jobs reading directly from a dataset.
func (s *Service) JobsForParent(ctx context.Context, path []string, limit int) ([]domain.JobEntry, error) {
	return s.store.FindForParent(ctx, path, limit)
}

// FindJobs runs a filtered, sorted, paged listing.
func (s *Service) FindJobs(ctx context.Context, req domain.FindJobsRequest) ([]domain.JobEntry, error) {
	return s.store.FindAll(ctx, req)
}

// workloadClass tags a submission for the engine's scheduler: accelerator
// maintenance runs in the background, previews and prepares are interactive,
// everything else is general purpose.
func workloadClass(qt domain.QueryType) domain.WorkloadClass {
	switch qt {
	case domain.QueryTypeAccelCreate, domain.QueryTypeAccelDrop, domain.QueryTypeAccelExplain:
		return domain.WorkloadBackground
	case domain.QueryTypeUIPreview, domain.QueryTypeUIInternalPreview,
		domain.QueryTypeUIInitialPreview, domain.QueryTypePrepareInternal:
		return domain.WorkloadNearRealTime
	default:
		return domain.WorkloadGeneral
	}
}

// clientQueryType classifies an external client by its reported name.
func clientQueryType(clientName string) domain.QueryType {
	name := strings.ToLower(clientName)
	switch {
	case strings.Contains(name, "jdbc"), strings.Contains(name, "java"):
		return domain.QueryTypeJDBC
	case strings.Contains(name, "odbc"), strings.Contains(name, "c++"):
		return domain.QueryTypeODBC
	default:
		return domain.QueryTypeUnknown
	}
}

// executionConfig tunes the engine per query type.
func (s *Service) executionConfig(id domain.JobID, req SubmitRequest) domain.ExecutionConfig {
	cfg := domain.ExecutionConfig{
		User:                   req.User,
		Context:                req.Context,
		ResultsStorePath:       s.results.TableName(id),
		Exclusions:             req.Exclusions,
		EnablePartitionPruning: true,
	}
	switch req.QueryType {
	case domain.QueryTypeUIPreview, domain.QueryTypeUIInternalPreview, domain.QueryTypeUIInitialPreview:
		cfg.EnableLeafLimits = true
		cfg.LeafLimit = previewLeafLimit
		if req.QueryType == domain.QueryTypeUIInitialPreview {
			cfg.SingleThreaded = true
		}
	case domain.QueryTypeJDBC, domain.QueryTypeODBC, domain.QueryTypeREST, domain.QueryTypeUnknown:
		cfg.FailIfNonEmptySent = true
	}
	return cfg
}
