package domain

import "context"

// JobStore is the persistent, indexed mapping from job id to job history.
// Implemented by repository.JobRepo.
type JobStore interface {
	// CheckAndPut inserts a new job history. A duplicate id yields a
	// ConflictError; duplicates are a fatal identifier-generation bug, not
	// a user error.
	CheckAndPut(ctx context.Context, id JobID, result *JobResult) error
	// Put upserts the job history and rewrites its index projection.
	Put(ctx context.Context, id JobID, result *JobResult) error
	Get(ctx context.Context, id JobID) (*JobResult, error)

	CountForDataset(ctx context.Context, path []string, version string) (int, error)
	CountsForDatasets(ctx context.Context, paths [][]string) ([]int, error)
	FindForDataset(ctx context.Context, path []string, version string, limit int) ([]JobEntry, error)
	FindForParent(ctx context.Context, path []string, limit int) ([]JobEntry, error)
	FindAll(ctx context.Context, req FindJobsRequest) ([]JobEntry, error)
	// All scans the full store; the retention sweeper's walk.
	All(ctx context.Context) ([]JobEntry, error)
}

// ProfileStore is the persistent mapping from attempt id to execution
// profile. Writes for the same attempt are idempotent updates.
type ProfileStore interface {
	Put(ctx context.Context, id AttemptID, profile *QueryProfile) error
	Get(ctx context.Context, id AttemptID) (*QueryProfile, error)
}

// ResultsStore manages durable result batches per job.
// Implemented by results.Store.
type ResultsStore interface {
	// CacheLiveData registers an in-flight job's result handle so data
	// requests reach the live loader instead of the durable store.
	CacheLiveData(id JobID, data *JobData)
	// LiveData returns the cached handle for a job, nil when none.
	LiveData(id JobID) *JobData
	// ForgetLiveData drops the cached handle once the job is terminal.
	ForgetLiveData(id JobID)
	// StoreBatch appends one engine output batch to the job's durable
	// results table, creating the table on first write.
	StoreBatch(ctx context.Context, id JobID, batch *OutputBatch) error
	// LoadPage loads one page of durable rows for a completed job.
	LoadPage(ctx context.Context, id JobID, result *JobResult, offset, limit int) (*ResultPage, error)
	// TableName resolves the job's backing results table name.
	TableName(id JobID) string
	// Cleanup removes a job's durable results.
	Cleanup(ctx context.Context, id JobID) error
	Close() error
}

// Ack is the acknowledgement of a remote cancel request.
type Ack struct {
	OK      bool
	Message string
}

// Tunnel issues requests to one remote coordinator node with bounded waits.
type Tunnel interface {
	RequestQueryProfile(ctx context.Context, id ExternalID, attempt int) (*QueryProfile, error)
	RequestCancelQuery(ctx context.Context, id ExternalID) (*Ack, error)
}

// TunnelCreator obtains tunnels to remote nodes.
type TunnelCreator interface {
	Tunnel(endpoint NodeEndpoint) (Tunnel, error)
}

// StatusListener is the internal submitter's view of a job's progress.
type StatusListener interface {
	JobSubmitted(id JobID)
	MetadataCollected(md *QueryMetadata)
	JobCompleted()
	JobCancelled()
	JobFailed(err error)
}

// NoopStatusListener ignores all notifications.
type NoopStatusListener struct{}

func (NoopStatusListener) JobSubmitted(JobID)               {}
func (NoopStatusListener) MetadataCollected(*QueryMetadata) {}
func (NoopStatusListener) JobCompleted()                    {}
func (NoopStatusListener) JobCancelled()                    {}
func (NoopStatusListener) JobFailed(error)                  {}

// ExternalStatusListener observes a job's completion from outside the
// submission path; registered via the Job Registry's fan-out.
type ExternalStatusListener interface {
	QueryCompleted(job *Job)
}

// ResponseSink is the originating connection of an externally-submitted job.
// Data batches and completion are forwarded to it with the original external
// execution identifier substituted back in.
type ResponseSink interface {
	SendData(batch *OutputBatch)
	Completed(result *ExecResult)
}

// QueryMetadata is the planning metadata collected across an attempt's
// planner callbacks, finalized once physical planning completes.
type QueryMetadata struct {
	RowType      []Field
	ParsedSQL    string
	BatchSchema  []Field
	Cost         float64
	Parents      []ParentDatasetInfo
	GrandParents []ParentDataset
	FieldOrigins []FieldOrigin
	Joins        []JoinInfo
}

// SpaceResolver answers whether a top-level namespace entry is a space.
// The indexed "space" field is only written when the first path segment
// names an existing space.
type SpaceResolver interface {
	SpaceExists(ctx context.Context, name string) (bool, error)
}
