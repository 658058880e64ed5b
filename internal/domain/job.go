package domain

import "time"

// JobState is the lifecycle state of one execution attempt.
type JobState string

// Attempt lifecycle states. NotSubmitted covers any engine state the control
// plane does not recognize.
const (
	JobStateNotSubmitted JobState = "NOT_SUBMITTED"
	JobStateRunning      JobState = "RUNNING"
	JobStateCompleted    JobState = "COMPLETED"
	JobStateCanceled     JobState = "CANCELED"
	JobStateFailed       JobState = "FAILED"
)

// Terminal reports whether the state is a terminal one.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCanceled, JobStateFailed:
		return true
	default:
		return false
	}
}

// QueryType classifies how a submission entered the system.
type QueryType string

// Query types, mirroring the submission surfaces.
const (
	QueryTypeUnknown           QueryType = "UNKNOWN"
	QueryTypeUIRun             QueryType = "UI_RUN"
	QueryTypeUIPreview         QueryType = "UI_PREVIEW"
	QueryTypeUIInternalRun     QueryType = "UI_INTERNAL_RUN"
	QueryTypeUIInternalPreview QueryType = "UI_INTERNAL_PREVIEW"
	QueryTypeUIInitialPreview  QueryType = "UI_INITIAL_PREVIEW"
	QueryTypeUIExport          QueryType = "UI_EXPORT"
	QueryTypeJDBC              QueryType = "JDBC"
	QueryTypeODBC              QueryType = "ODBC"
	QueryTypeREST              QueryType = "REST"
	QueryTypeAccelCreate       QueryType = "ACCELERATOR_CREATE"
	QueryTypeAccelDrop         QueryType = "ACCELERATOR_DROP"
	QueryTypeAccelExplain      QueryType = "ACCELERATOR_EXPLAIN"
	QueryTypePrepareInternal   QueryType = "PREPARE_INTERNAL"
)

// WorkloadClass is the coarse scheduling priority tag attached at submission.
type WorkloadClass string

// Workload classes.
const (
	WorkloadBackground   WorkloadClass = "BACKGROUND"
	WorkloadNearRealTime WorkloadClass = "NRT"
	WorkloadGeneral      WorkloadClass = "GENERAL"
)

// AttemptReason records why a new attempt was created for a job.
type AttemptReason string

// Attempt reasons. None marks the first attempt.
const (
	AttemptReasonNone             AttemptReason = "NONE"
	AttemptReasonSchemaChange     AttemptReason = "SCHEMA_CHANGE"
	AttemptReasonOutOfMemory      AttemptReason = "OUT_OF_MEMORY"
	AttemptReasonPlanningFallback AttemptReason = "PLANNING_FALLBACK"
)

// UnknownPath is the sentinel dataset path for submissions with no target
// dataset.
var UnknownPath = []string{"UNKNOWN"}

// UnknownVersion is the sentinel dataset version.
const UnknownVersion = "UNKNOWN"

// DownloadInfo describes the named export a download job produces.
type DownloadInfo struct {
	DownloadID string `json:"downloadId"`
	FileName   string `json:"fileName"`
}

// MaterializationSummary links a job to the materialization it maintains.
type MaterializationSummary struct {
	MaterializationID string `json:"materializationId"`
	LayoutID          string `json:"layoutId"`
	LayoutVersion     int    `json:"layoutVersion,omitempty"`
}

// ParentDatasetInfo is one direct parent dataset of a job's query.
type ParentDatasetInfo struct {
	DatasetPath []string  `json:"datasetPath"`
	Type        string    `json:"type,omitempty"`
	QueryType   QueryType `json:"queryType,omitempty"`
}

// ParentDataset is an ancestor dataset beyond the direct parents.
type ParentDataset struct {
	DatasetPath []string `json:"datasetPath"`
	Level       int      `json:"level,omitempty"`
}

// Origin names one table/column pair a field value came from.
type Origin struct {
	Table      []string `json:"table"`
	ColumnName string   `json:"columnName"`
	Derived    bool     `json:"derived,omitempty"`
}

// FieldOrigin maps one output field to its source columns.
type FieldOrigin struct {
	Name    string   `json:"name"`
	Origins []Origin `json:"origins,omitempty"`
}

// JoinCondition is one equality condition of a join observed during planning.
type JoinCondition struct {
	TableA  []string `json:"tableA"`
	ColumnA string   `json:"columnA"`
	TableB  []string `json:"tableB"`
	ColumnB string   `json:"columnB"`
}

// JoinInfo is one join observed during planning.
type JoinInfo struct {
	JoinType   string          `json:"joinType"`
	LeftTable  []string        `json:"leftTable,omitempty"`
	RightTable []string        `json:"rightTable,omitempty"`
	Conditions []JoinCondition `json:"conditions,omitempty"`
	Degree     int             `json:"degree,omitempty"`
}

// SubstitutionIdentifier identifies the materialization layout substituted
// into a plan.
type SubstitutionIdentifier struct {
	AccelerationID string `json:"accelerationId"`
	LayoutID       string `json:"layoutId"`
}

// Substitution is one materialization substitution applied by the planner.
type Substitution struct {
	ID           SubstitutionIdentifier `json:"id"`
	TablePath    []string               `json:"tablePath,omitempty"`
	OriginalCost float64                `json:"originalCost"`
	Speedup      float64                `json:"speedup"`
}

// Acceleration summarizes plan acceleration for a job.
type Acceleration struct {
	AcceleratedCost float64        `json:"acceleratedCost"`
	Substitutions   []Substitution `json:"substitutions,omitempty"`
}

// ResultFileMetadata describes one durable result file written by the
// execution engine for a job.
type ResultFileMetadata struct {
	Path        string `json:"path"`
	RecordCount int64  `json:"recordCount"`
	ByteCount   int64  `json:"byteCount,omitempty"`
}

// JobInfo holds the immutable-after-creation facts of one attempt plus the
// fields the observer fills in exactly once at specific lifecycle points.
type JobInfo struct {
	JobID          JobID                   `json:"jobId"`
	SQL            string                  `json:"sql"`
	RequestType    string                  `json:"requestType,omitempty"`
	Description    string                  `json:"description,omitempty"`
	User           string                  `json:"user"`
	QueryType      QueryType               `json:"queryType"`
	Space          string                  `json:"space,omitempty"`
	DatasetPath    []string                `json:"datasetPath"`
	DatasetVersion string                  `json:"datasetVersion"`
	StartTime      *time.Time              `json:"startTime,omitempty"`
	FinishTime     *time.Time              `json:"finishTime,omitempty"`
	FailureInfo    string                  `json:"failureInfo,omitempty"`
	Download       *DownloadInfo           `json:"download,omitempty"`
	Materialized   *MaterializationSummary `json:"materializationFor,omitempty"`
	Parents        []ParentDatasetInfo     `json:"parents,omitempty"`
	GrandParents   []ParentDataset         `json:"grandParents,omitempty"`
	FieldOrigins   []FieldOrigin           `json:"fieldOrigins,omitempty"`
	Joins          []JoinInfo              `json:"joins,omitempty"`
	Acceleration   *Acceleration           `json:"acceleration,omitempty"`
	ResultMetadata []ResultFileMetadata    `json:"resultMetadata,omitempty"`
}

// Clone returns a deep-enough copy for seeding a fresh attempt: scalar facts
// carry over while per-attempt accumulations start empty.
func (i *JobInfo) Clone() *JobInfo {
	cp := *i
	cp.Parents = append([]ParentDatasetInfo(nil), i.Parents...)
	cp.GrandParents = append([]ParentDataset(nil), i.GrandParents...)
	cp.FieldOrigins = append([]FieldOrigin(nil), i.FieldOrigins...)
	cp.Joins = append([]JoinInfo(nil), i.Joins...)
	cp.ResultMetadata = append([]ResultFileMetadata(nil), i.ResultMetadata...)
	return &cp
}

// JobStats are the summary counters extracted from an execution profile.
type JobStats struct {
	InputBytes    int64 `json:"inputBytes,omitempty"`
	OutputBytes   int64 `json:"outputBytes,omitempty"`
	InputRecords  int64 `json:"inputRecords,omitempty"`
	OutputRecords int64 `json:"outputRecords,omitempty"`
}

// JobDetails are the per-phase execution details extracted from a profile.
type JobDetails struct {
	TimeSpentInPlanning  int64 `json:"timeSpentInPlanning,omitempty"`
	WaitInClient         int64 `json:"waitInClient,omitempty"`
	DataVolume           int64 `json:"dataVolume,omitempty"`
	PeakMemory           int64 `json:"peakMemory,omitempty"`
	TotalFragments       int   `json:"totalFragments,omitempty"`
	CompletedFragments   int   `json:"completedFragments,omitempty"`
}

// JobAttempt is one execution try for a job.
type JobAttempt struct {
	Info      *JobInfo      `json:"info"`
	AttemptID string        `json:"attemptId,omitempty"`
	Endpoint  NodeEndpoint  `json:"endpoint"`
	State     JobState      `json:"state"`
	Reason    AttemptReason `json:"reason,omitempty"`
	Stats     *JobStats     `json:"stats,omitempty"`
	Details   *JobDetails   `json:"details,omitempty"`
}

// JobResult is the durable history of a job: its ordered attempt sequence.
// It is the Job Store value.
type JobResult struct {
	Attempts []*JobAttempt `json:"attempts"`
}

// LastAttempt returns the authoritative attempt, nil for an empty history.
func (r *JobResult) LastAttempt() *JobAttempt {
	if r == nil || len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}

// Job is the aggregate: identifier, ordered attempts, and (for jobs created
// through the in-process submission path) a lazily-resolved result handle.
type Job struct {
	id       JobID
	attempts []*JobAttempt
	data     *JobData
}

// NewJob creates a live Job with its first attempt.
func NewJob(id JobID, first *JobAttempt) *Job {
	return &Job{id: id, attempts: []*JobAttempt{first}}
}

// RestoredJob reconstructs a read-only Job projection from stored history.
func RestoredJob(id JobID, result *JobResult) *Job {
	return &Job{id: id, attempts: result.Attempts}
}

// ID returns the job identifier.
func (j *Job) ID() JobID { return j.id }

// Attempt returns the current (last) attempt.
func (j *Job) Attempt() *JobAttempt {
	return j.attempts[len(j.attempts)-1]
}

// Attempts returns the append-only attempt sequence.
func (j *Job) Attempts() []*JobAttempt { return j.attempts }

// AddAttempt appends a fresh attempt. Attempts are never replaced or
// reordered.
func (j *Job) AddAttempt(a *JobAttempt) {
	j.attempts = append(j.attempts, a)
}

// State is the job's effective state: its latest attempt's state.
func (j *Job) State() JobState { return j.Attempt().State }

// SetData attaches the result-data handle. Only the in-process submission
// path does this; externally-submitted jobs have no retrievable handle.
func (j *Job) SetData(d *JobData) { j.data = d }

// Data returns the result handle, nil when the job has none.
func (j *Job) Data() *JobData { return j.data }

// Result snapshots the attempt history for persistence.
func (j *Job) Result() *JobResult {
	return &JobResult{Attempts: j.attempts}
}
