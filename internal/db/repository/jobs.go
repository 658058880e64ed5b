package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"queryplane/internal/domain"
)

var _ domain.JobStore = (*JobRepo)(nil)

// uiExternalTypes restricts dataset-scoped listings to jobs a user submitted
// through a UI or external client, hiding internal and accelerator work.
var uiExternalTypes = []domain.QueryType{
	domain.QueryTypeUIRun,
	domain.QueryTypeUIPreview,
	domain.QueryTypeUIExport,
	domain.QueryTypeJDBC,
	domain.QueryTypeODBC,
	domain.QueryTypeREST,
	domain.QueryTypeUnknown,
}

// sortColumns maps the short sort keys exposed at the API to the indexed
// projection columns. Only these are sortable.
var sortColumns = map[string]string{
	domain.IndexJobID:          "id",
	domain.IndexUser:           "usr",
	domain.IndexSpace:          "space",
	domain.IndexQueryType:      "query_type",
	domain.IndexJobState:       "job_state",
	domain.IndexDataset:        "dataset",
	domain.IndexDatasetVersion: "dataset_version",
	domain.IndexStartTime:      "start_time",
	domain.IndexEndTime:        "end_time",
	domain.IndexDuration:       "duration",
}

// filterColumns maps filter keys to projection columns matched by equality.
var filterColumns = map[string]string{
	domain.IndexJobID:          "id",
	domain.IndexUser:           "usr",
	domain.IndexSpace:          "space",
	domain.IndexQueryType:      "query_type",
	domain.IndexJobState:       "job_state",
	domain.IndexDataset:        "dataset",
	domain.IndexDatasetVersion: "dataset_version",
}

// defaultOrder sorts most recent first, ties broken deterministically.
const defaultOrder = "start_time DESC, end_time DESC, id DESC"

// JobRepo stores job histories in SQLite together with an indexed projection
// of each history's last attempt.
type JobRepo struct {
	db *sql.DB
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(pool *sql.DB) *JobRepo {
	return &JobRepo{db: pool}
}

// CheckAndPut inserts a new job history, failing with a ConflictError when
// the id already exists.
func (r *JobRepo) CheckAndPut(ctx context.Context, id domain.JobID, result *domain.JobResult) error {
	return r.write(ctx, id, result, true)
}

// Put upserts the job history and rewrites its index projection.
func (r *JobRepo) Put(ctx context.Context, id domain.JobID, result *domain.JobResult) error {
	return r.write(ctx, id, result, false)
}

func (r *JobRepo) write(ctx context.Context, id domain.JobID, result *domain.JobResult, insertOnly bool) error {
	attempt := result.LastAttempt()
	if attempt == nil || attempt.Info == nil {
		return domain.ErrValidation("job %q has no attempts", id)
	}

	history, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job history: %w", err)
	}

	doc := projectAttempt(id, attempt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := `
		INSERT INTO jobs (id, history, usr, space, sql_text, query_type, job_state,
		                  dataset, dataset_version, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if !insertOnly {
		stmt += `
		ON CONFLICT (id) DO UPDATE SET
			history = excluded.history,
			usr = excluded.usr,
			space = excluded.space,
			sql_text = excluded.sql_text,
			query_type = excluded.query_type,
			job_state = excluded.job_state,
			dataset = excluded.dataset,
			dataset_version = excluded.dataset_version,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration = excluded.duration
		`
	}

	_, err = tx.ExecContext(ctx, stmt,
		string(id), string(history), doc.user, doc.space, doc.sqlText, doc.queryType,
		doc.state, doc.dataset, doc.datasetVersion,
		nullableMillis(doc.startTime), nullableMillis(doc.endTime), nullableMillis(doc.duration),
	)
	if err != nil {
		return mapDBError(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_datasets WHERE job_id = ?`, string(id)); err != nil {
		return mapDBError(err)
	}
	for _, row := range doc.datasetRows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_datasets (job_id, field, path) VALUES (?, ?, ?)`,
			string(id), row.field, row.path)
		if err != nil {
			return mapDBError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job write: %w", err)
	}
	return nil
}

// Get returns the stored history for a job id.
func (r *JobRepo) Get(ctx context.Context, id domain.JobID) (*domain.JobResult, error) {
	var history string
	err := r.db.QueryRowContext(ctx, `SELECT history FROM jobs WHERE id = ?`, string(id)).Scan(&history)
	if err != nil {
		return nil, mapDBError(err)
	}
	return unmarshalHistory(history)
}

// CountForDataset counts jobs touching the dataset, optionally pinned to a
// version. Matches either the quoted or unquoted path form.
func (r *JobRepo) CountForDataset(ctx context.Context, path []string, version string) (int, error) {
	where, args := datasetFilter(path, version)
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT j.id) FROM jobs j JOIN job_datasets d ON d.job_id = j.id WHERE `+where,
		args...).Scan(&n)
	if err != nil {
		return 0, mapDBError(err)
	}
	return n, nil
}

// CountsForDatasets counts jobs per dataset path, one result per input path.
func (r *JobRepo) CountsForDatasets(ctx context.Context, paths [][]string) ([]int, error) {
	counts := make([]int, 0, len(paths))
	for _, path := range paths {
		n, err := r.CountForDataset(ctx, path, "")
		if err != nil {
			return nil, err
		}
		counts = append(counts, n)
	}
	return counts, nil
}

// FindForDataset lists jobs touching the dataset, most recent first.
func (r *JobRepo) FindForDataset(ctx context.Context, path []string, version string, limit int) ([]domain.JobEntry, error) {
	where, args := datasetFilter(path, version)
	query := fmt.Sprintf(`
		SELECT DISTINCT j.id, j.history FROM jobs j
		JOIN job_datasets d ON d.job_id = j.id
		WHERE %s
		ORDER BY %s
		LIMIT ?`, where, defaultOrder)
	return r.query(ctx, query, append(args, limit)...)
}

// FindForParent lists jobs whose query reads directly from the dataset.
func (r *JobRepo) FindForParent(ctx context.Context, path []string, limit int) ([]domain.JobEntry, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT j.id, j.history FROM jobs j
		JOIN job_datasets d ON d.job_id = j.id
		WHERE d.field = 'parent' AND d.path IN (?, ?) AND %s
		ORDER BY %s
		LIMIT ?`, uiExternalFilter(), defaultOrder)
	return r.query(ctx, query, joinPath(path), quotePath(path), limit)
}

// FindAll lists jobs matching a filter expression with explicit sort and
// paging. An unrecognized sort column is a user-facing error.
func (r *JobRepo) FindAll(ctx context.Context, req domain.FindJobsRequest) ([]domain.JobEntry, error) {
	where, args, err := translateFilter(req.Filter, req.User)
	if err != nil {
		return nil, err
	}

	order := defaultOrder
	if req.SortColumn != "" {
		column, ok := sortColumns[req.SortColumn]
		if !ok {
			return nil, domain.ErrValidation("unable to sort by field %s", req.SortColumn)
		}
		direction := "ASC"
		if req.SortOrder == domain.SortDescending {
			direction = "DESC"
		}
		order = fmt.Sprintf("%s %s, id DESC", column, direction)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}

	query := fmt.Sprintf(`SELECT id, history FROM jobs WHERE %s ORDER BY %s LIMIT ? OFFSET ?`, where, order)
	return r.query(ctx, query, append(args, limit, req.Offset)...)
}

// All scans the full store in no particular order.
func (r *JobRepo) All(ctx context.Context) ([]domain.JobEntry, error) {
	return r.query(ctx, `SELECT id, history FROM jobs`)
}

func (r *JobRepo) query(ctx context.Context, stmt string, args ...interface{}) ([]domain.JobEntry, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.JobEntry
	for rows.Next() {
		var (
			id      string
			history string
		)
		if err := rows.Scan(&id, &history); err != nil {
			return nil, mapDBError(err)
		}
		result, err := unmarshalHistory(history)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.JobEntry{ID: domain.JobID(id), Result: result})
	}
	return entries, rows.Err()
}

func unmarshalHistory(history string) (*domain.JobResult, error) {
	var result domain.JobResult
	if err := json.Unmarshal([]byte(history), &result); err != nil {
		return nil, fmt.Errorf("unmarshal job history: %w", err)
	}
	return &result, nil
}

func uiExternalFilter() string {
	quoted := make([]string, len(uiExternalTypes))
	for i, qt := range uiExternalTypes {
		quoted[i] = "'" + string(qt) + "'"
	}
	return "j.query_type IN (" + strings.Join(quoted, ", ") + ")"
}

func datasetFilter(path []string, version string) (string, []interface{}) {
	where := "d.field = 'all' AND d.path IN (?, ?) AND " + uiExternalFilter()
	args := []interface{}{joinPath(path), quotePath(path)}
	if version != "" {
		where += " AND j.dataset_version = ?"
		args = append(args, version)
	}
	return where, args
}

// translateFilter turns the API's filter expression into a WHERE clause.
// Terms are separated by ';' and AND-joined: "key==value" matches an indexed
// column exactly, a bare term matches the SQL text. Unknown keys are
// user-facing errors.
func translateFilter(filter, user string) (string, []interface{}, error) {
	clauses := []string{"1=1"}
	var args []interface{}

	for _, term := range strings.Split(filter, ";") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key, value, ok := strings.Cut(term, "==")
		if !ok {
			clauses = append(clauses, "sql_text LIKE ?")
			args = append(args, "%"+term+"%")
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case domain.IndexSQL:
			clauses = append(clauses, "sql_text LIKE ?")
			args = append(args, "%"+value+"%")
		case domain.IndexParentDataset, domain.IndexAllDatasets:
			field := "parent"
			if key == domain.IndexAllDatasets {
				field = "all"
			}
			clauses = append(clauses,
				"id IN (SELECT job_id FROM job_datasets WHERE field = ? AND path = ?)")
			args = append(args, field, value)
		default:
			column, known := filterColumns[key]
			if !known {
				return "", nil, domain.ErrValidation("unknown filter field %s", key)
			}
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}

	if user != "" {
		clauses = append(clauses, "usr = ?")
		args = append(args, user)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// indexedDoc is the projection of a job's last attempt into the indexed
// columns plus the multi-valued dataset rows.
type indexedDoc struct {
	user           string
	space          interface{}
	sqlText        string
	queryType      string
	state          string
	dataset        string
	datasetVersion string
	startTime      *int64
	endTime        *int64
	duration       *int64
	datasetRows    []datasetRow
}

type datasetRow struct {
	field string
	path  string
}

// projectAttempt builds the indexed document from the job's last attempt
// only; earlier attempts never influence search.
func projectAttempt(id domain.JobID, attempt *domain.JobAttempt) indexedDoc {
	info := attempt.Info

	doc := indexedDoc{
		user:           info.User,
		sqlText:        info.SQL,
		queryType:      string(info.QueryType),
		state:          string(attempt.State),
		dataset:        joinPath(info.DatasetPath),
		datasetVersion: info.DatasetVersion,
	}
	if info.Space != "" {
		doc.space = info.Space
	}
	if info.StartTime != nil {
		millis := info.StartTime.UnixMilli()
		doc.startTime = &millis
	}
	if info.FinishTime != nil {
		millis := info.FinishTime.UnixMilli()
		doc.endTime = &millis
	}
	if doc.startTime != nil && doc.endTime != nil {
		duration := *doc.endTime - *doc.startTime
		doc.duration = &duration
	}

	// Parent datasets: direct parents plus every field-origin table.
	parents := newPathSet()
	all := newPathSet()
	all.add(info.DatasetPath)
	for _, parent := range info.Parents {
		parents.add(parent.DatasetPath)
		all.add(parent.DatasetPath)
	}
	for _, origin := range info.FieldOrigins {
		for _, o := range origin.Origins {
			if len(o.Table) > 0 {
				parents.add(o.Table)
				all.add(o.Table)
			}
		}
	}
	for _, grand := range info.GrandParents {
		all.add(grand.DatasetPath)
	}

	// Each path is indexed in both its quoted and unquoted form so filters
	// match either representation.
	for _, path := range parents.paths {
		doc.datasetRows = append(doc.datasetRows,
			datasetRow{field: "parent", path: joinPath(path)},
			datasetRow{field: "parent", path: quotePath(path)},
		)
	}
	for _, path := range all.paths {
		doc.datasetRows = append(doc.datasetRows,
			datasetRow{field: "all", path: joinPath(path)},
			datasetRow{field: "all", path: quotePath(path)},
		)
	}

	return doc
}

// pathSet is an insertion-ordered set of dataset paths.
type pathSet struct {
	seen  map[string]struct{}
	paths [][]string
}

func newPathSet() *pathSet {
	return &pathSet{seen: make(map[string]struct{})}
}

func (s *pathSet) add(path []string) {
	if len(path) == 0 {
		return
	}
	key := joinPath(path)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.paths = append(s.paths, path)
}
