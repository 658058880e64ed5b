package domain

import "time"

// PlannerPhase names a planner transformation phase reported on
// PlanRelTransform callbacks.
type PlannerPhase string

// Planner phases the control plane cares about. Other phases are ignored.
const (
	PhaseLogical      PlannerPhase = "LOGICAL"
	PhaseJoinPlanning PlannerPhase = "JOIN_PLANNING"
	PhasePhysical     PlannerPhase = "PHYSICAL"
)

// Field is one column of a row type or batch schema.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PlanSnapshot is one plan representation handed over by a planner callback.
// ScannedTables, FieldOrigins and Joins carry the structured facts the
// planner derived; Text is the rendered plan.
type PlanSnapshot struct {
	Text          string
	ScannedTables [][]string
	FieldOrigins  []FieldOrigin
	Joins         []JoinInfo
	Ancestors     []ParentDataset
}

// SubstitutionInfo is the planner's acceleration report.
type SubstitutionInfo struct {
	AcceleratedCost float64
	Substitutions   []Substitution
}

// PlanNode is one operator of a finalized execution plan.
type PlanNode struct {
	Name     string
	Schema   []Field
	Children []*PlanNode
}

// ExecutionPlan is the finalized parallel physical plan.
type ExecutionPlan struct {
	Root *PlanNode
}

// ColumnKind tags the physical type of an output batch column.
type ColumnKind int

// Output batch column kinds.
const (
	ColumnKindInt ColumnKind = iota
	ColumnKindFloat
	ColumnKindVarChar
	ColumnKindVarBinary
)

// OutputColumn is one column of an engine output batch.
type OutputColumn struct {
	Name   string
	Kind   ColumnKind
	Values [][]byte
}

// OutputBatch is one batch of query output pushed by the engine. Job output
// batches carry the batch bookkeeping columns plus a binary metadata column
// describing the durable result files.
type OutputBatch struct {
	Columns     []OutputColumn
	RecordCount int
}

// ExecResult is the engine's terminal report for an attempt or a query.
type ExecResult struct {
	State      QueryState
	Profile    *QueryProfile
	Err        error
	ExternalID ExternalID
}

// WithExternalID returns a copy of the result carrying the given execution
// identifier, used when forwarding to the originating connection.
func (r *ExecResult) WithExternalID(id ExternalID) *ExecResult {
	cp := *r
	cp.ExternalID = id
	return &cp
}

// AttemptObserver receives the per-attempt lifecycle callbacks from the
// execution engine. The engine guarantees callbacks for one attempt are not
// concurrent with each other.
type AttemptObserver interface {
	QueryStarted(req QueryRequest, user string)
	PlanValidated(rowType []Field, parsedSQL string, took time.Duration)
	PlanSerializable(plan *PlanSnapshot)
	PlanParallelized(plan *PlanSnapshot)
	PlanRelTransform(phase PlannerPhase, before, after *PlanSnapshot, cumulativeCost float64, took time.Duration)
	PlanAccelerated(info *SubstitutionInfo)
	PlanCompleted(plan *ExecutionPlan)
	ExecStarted(profile *QueryProfile)
	ExecDataArrived(batch *OutputBatch)
	AttemptCompletion(result *ExecResult)
}

// QueryObserver receives the per-query lifecycle callbacks: attempt creation
// and final completion.
type QueryObserver interface {
	NewAttempt(id AttemptID, reason AttemptReason) AttemptObserver
	ExecCompletion(result *ExecResult)
}

// QueryRequest is the engine-specific submission payload: either a prepare
// request or a run request carrying workload priority.
type QueryRequest struct {
	SQL      string
	User     string
	Context  []string
	Prepare  bool
	Priority WorkloadClass
}

// ExecutionConfig tunes one local submission.
type ExecutionConfig struct {
	EnableLeafLimits       bool
	LeafLimit              int64
	FailIfNonEmptySent     bool
	User                   string
	Context                []string
	SingleThreaded         bool
	ResultsStorePath       string
	Exclusions             []string
	EnablePartitionPruning bool
}

// ExecutionEngine is the submission entry point the control plane drives.
// The engine calls back on the supplied observer from its own threads.
type ExecutionEngine interface {
	SubmitLocalQuery(id ExternalID, observer QueryObserver, req QueryRequest, cfg ExecutionConfig) error
}

// ForemanTool is the engine's local cancellation and live-profile capability.
type ForemanTool interface {
	// CancelLocal requests cancellation of a query running on this node.
	// Returns false when the query is not local.
	CancelLocal(id ExternalID) bool
	// RunningProfile returns the live profile of a query running on this
	// node, if any.
	RunningProfile(id ExternalID) (*QueryProfile, bool)
}
