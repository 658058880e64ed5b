// Package results stores durable query result batches in DuckDB, one table
// per job, and caches live result handles for in-flight jobs.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"queryplane/internal/domain"
)

var _ domain.ResultsStore = (*Store)(nil)

// Store is the DuckDB-backed results store. Each job's output lands in its
// own table under the configured storage schema; table names embed the job
// id, which is a UUID and therefore safe inside quoted identifiers.
type Store struct {
	db      *sql.DB
	storage string
	logger  *slog.Logger

	live sync.Map // domain.JobID -> *domain.JobData
}

// Open opens (or creates) the DuckDB results database at path and ensures
// the storage schema exists. An empty path opens an in-memory database.
func Open(path, storageName string, logger *slog.Logger) (*Store, error) {
	if storageName == "" {
		return nil, domain.ErrValidation("results storage name is required")
	}

	pool, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}

	if _, err := pool.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, storageName)); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("create results schema: %w", err)
	}

	return &Store{
		db:      pool,
		storage: storageName,
		logger:  logger.With("component", "results-store"),
	}, nil
}

// DB exposes the underlying DuckDB pool so the local engine can execute on
// the same database the results land in.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CacheLiveData registers an in-flight job's result handle.
func (s *Store) CacheLiveData(id domain.JobID, data *domain.JobData) {
	s.live.Store(id, data)
}

// LiveData returns the cached handle for a job, nil when none.
func (s *Store) LiveData(id domain.JobID) *domain.JobData {
	v, ok := s.live.Load(id)
	if !ok {
		return nil
	}
	return v.(*domain.JobData)
}

// ForgetLiveData drops the cached handle once a job reaches a terminal state.
func (s *Store) ForgetLiveData(id domain.JobID) {
	s.live.Delete(id)
}

// TableName resolves the job's backing results table name.
func (s *Store) TableName(id domain.JobID) string {
	return fmt.Sprintf("%q.%q", s.storage, string(id))
}

// StoreBatch appends one engine output batch to the job's results table,
// creating the table on first write.
func (s *Store) StoreBatch(ctx context.Context, id domain.JobID, batch *domain.OutputBatch) error {
	if batch == nil || len(batch.Columns) == 0 {
		return nil
	}

	table := s.TableName(id)

	if err := s.ensureTable(ctx, table, batch.Columns); err != nil {
		return err
	}

	placeholders := make([]string, len(batch.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(placeholders, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for row := 0; row < batch.RecordCount; row++ {
		args := make([]interface{}, len(batch.Columns))
		for c, col := range batch.Columns {
			if row >= len(col.Values) {
				return domain.ErrValidation("output batch column %q is short: row %d of %d", col.Name, row, batch.RecordCount)
			}
			v, err := decodeCell(col.Kind, col.Values[row])
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", col.Name, row, err)
			}
			args[c] = v
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return fmt.Errorf("append results row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results write: %w", err)
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context, table string, columns []domain.OutputColumn) error {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%q %s", col.Name, columnType(col.Kind))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// LoadPage loads one page of durable rows for a completed job.
func (s *Store) LoadPage(ctx context.Context, id domain.JobID, result *domain.JobResult, offset, limit int) (*domain.ResultPage, error) {
	attempt := result.LastAttempt()
	if attempt != nil && attempt.State != domain.JobStateCompleted {
		return nil, domain.ErrValidation("job %q did not complete successfully", id)
	}
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT ? OFFSET ?", s.TableName(id))
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, domain.ErrNotFound("results for job %q not found", id)
		}
		return nil, fmt.Errorf("load results page: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("load results page: %w", err)
	}

	page := &domain.ResultPage{
		Columns:    columns,
		Offset:     offset,
		ReturnedAt: time.Now().UnixMilli(),
	}
	for rows.Next() {
		cells := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan results row: %w", err)
		}
		for i, v := range cells {
			if b, ok := v.([]byte); ok {
				cells[i] = append([]byte(nil), b...)
			}
		}
		page.Rows = append(page.Rows, cells)
	}
	return page, rows.Err()
}

// Cleanup removes a job's durable results.
func (s *Store) Cleanup(ctx context.Context, id domain.JobID) error {
	s.live.Delete(id)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.TableName(id)))
	if err != nil {
		return fmt.Errorf("drop results table: %w", err)
	}
	s.logger.Debug("cleaned up job results", "job_id", string(id))
	return nil
}

// Close closes the underlying DuckDB pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func columnType(kind domain.ColumnKind) string {
	switch kind {
	case domain.ColumnKindInt:
		return "BIGINT"
	case domain.ColumnKindFloat:
		return "DOUBLE"
	case domain.ColumnKindVarBinary:
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

// decodeCell interprets one raw cell. Numeric kinds travel as decimal text.
func decodeCell(kind domain.ColumnKind, raw []byte) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case domain.ColumnKindInt:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, domain.ErrValidation("malformed integer cell %q", string(raw))
		}
		return n, nil
	case domain.ColumnKindFloat:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, domain.ErrValidation("malformed float cell %q", string(raw))
		}
		return f, nil
	case domain.ColumnKindVarBinary:
		return raw, nil
	default:
		return string(raw), nil
	}
}
