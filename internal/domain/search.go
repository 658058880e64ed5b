package domain

// SortOrder is the direction of an indexed-search sort.
type SortOrder string

// Sort orders.
const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

// Sortable index columns, by their short filter/sort keys.
const (
	IndexJobID          = "jobid"
	IndexUser           = "usr"
	IndexSpace          = "space"
	IndexSQL            = "sql"
	IndexQueryType      = "qt"
	IndexJobState       = "jst"
	IndexDataset        = "ds"
	IndexDatasetVersion = "dsv"
	IndexStartTime      = "st"
	IndexEndTime        = "et"
	IndexDuration       = "duration"
	IndexParentDataset  = "pds"
	IndexAllDatasets    = "ads"
)

// FindJobsRequest is the list-all query: a filter expression of AND-joined
// "key==value" terms (bare terms match SQL text), an optional sort column,
// paging, and an optional user restriction.
type FindJobsRequest struct {
	Filter     string
	SortColumn string
	SortOrder  SortOrder
	Offset     int
	Limit      int
	User       string
}

// JobEntry is one indexed-search hit.
type JobEntry struct {
	ID     JobID
	Result *JobResult
}
