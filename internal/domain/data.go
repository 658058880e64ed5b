package domain

import "context"

// ResultPage is one page of query result rows.
type ResultPage struct {
	Columns    []string        `json:"columns"`
	Rows       [][]interface{} `json:"rows"`
	Offset     int             `json:"offset"`
	ReturnedAt int64           `json:"returnedAt,omitempty"`
}

// Truncate limits the page to at most limit rows.
func (p *ResultPage) Truncate(limit int) *ResultPage {
	if limit < 0 || len(p.Rows) <= limit {
		return p
	}
	cp := *p
	cp.Rows = p.Rows[:limit]
	return &cp
}

// JobLoader resolves a job's result pages. The internal variant blocks on the
// attempt's completion latch; the external variant always refuses.
type JobLoader interface {
	Load(ctx context.Context, offset, limit int) (*ResultPage, error)
	WaitForCompletion(ctx context.Context) error
	ResultsTableName() (string, error)
}

// JobData is the lazily-resolved result handle attached to a job created
// through the in-process submission path.
type JobData struct {
	id     JobID
	loader JobLoader
}

// NewJobData wraps a loader for the given job.
func NewJobData(id JobID, loader JobLoader) *JobData {
	return &JobData{id: id, loader: loader}
}

// JobID returns the owning job's identifier.
func (d *JobData) JobID() JobID { return d.id }

// Load blocks until the job completes, then returns the requested page.
func (d *JobData) Load(ctx context.Context, offset, limit int) (*ResultPage, error) {
	return d.loader.Load(ctx, offset, limit)
}

// WaitForCompletion blocks until the job completes, surfacing any failure
// collected during execution.
func (d *JobData) WaitForCompletion(ctx context.Context) error {
	return d.loader.WaitForCompletion(ctx)
}

// TableName resolves the job's backing results table.
func (d *JobData) TableName() (string, error) {
	return d.loader.ResultsTableName()
}
