// Package engine provides the local execution adapter: it runs submitted SQL
// against DuckDB, stores result rows durably, and drives the per-attempt
// lifecycle callbacks the control plane observes.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"queryplane/internal/domain"
)

var (
	_ domain.ExecutionEngine = (*Local)(nil)
	_ domain.ForemanTool     = (*Local)(nil)
)

// Local executes queries on this node's DuckDB pool, one goroutine per
// query. It doubles as the foreman: the live-query map answers local cancel
// and live-profile requests.
//
// Of the ExecutionConfig knobs, Local honors EnableLeafLimits and LeafLimit.
// FailIfNonEmptySent and SingleThreaded only apply to a distributed executor
// (retry admission and fragment parallelism), and ResultsStorePath is ignored
// because rows land in the results store's own table for the job id.
type Local struct {
	db       *sql.DB
	results  domain.ResultsStore
	identity domain.NodeEndpoint
	logger   *slog.Logger

	mu      sync.Mutex
	running map[domain.ExternalID]*runningQuery
}

type runningQuery struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	profile domain.QueryProfile
}

func (q *runningQuery) update(f func(p *domain.QueryProfile)) {
	q.mu.Lock()
	f(&q.profile)
	q.mu.Unlock()
}

func (q *runningQuery) snapshot() *domain.QueryProfile {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := q.profile
	return &cp
}

// NewLocal creates the local execution adapter.
func NewLocal(pool *sql.DB, results domain.ResultsStore, identity domain.NodeEndpoint, logger *slog.Logger) *Local {
	return &Local{
		db:       pool,
		results:  results,
		identity: identity,
		logger:   logger.With("component", "local-engine"),
		running:  make(map[domain.ExternalID]*runningQuery),
	}
}

// SubmitLocalQuery accepts a query and returns once it is scheduled. The
// observer receives all lifecycle callbacks from the query's own goroutine.
func (e *Local) SubmitLocalQuery(id domain.ExternalID, observer domain.QueryObserver, req domain.QueryRequest, cfg domain.ExecutionConfig) error {
	if req.SQL == "" {
		return domain.ErrValidation("query text is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &runningQuery{
		cancel: cancel,
		profile: domain.QueryProfile{
			Query: req.SQL,
			State: domain.QueryStateStarting,
			Start: time.Now().UnixMilli(),
			User:  req.User,
		},
	}

	e.mu.Lock()
	if _, dup := e.running[id]; dup {
		e.mu.Unlock()
		cancel()
		return domain.ErrConflict("query %s is already running", id)
	}
	e.running[id] = rq
	e.mu.Unlock()

	go e.run(ctx, id, observer, req, cfg, rq)
	return nil
}

// CancelLocal cancels a query running on this node. Returns false when the
// query is not here.
func (e *Local) CancelLocal(id domain.ExternalID) bool {
	e.mu.Lock()
	rq, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	rq.cancel()
	return true
}

// RunningProfile returns the live profile of a query running on this node.
func (e *Local) RunningProfile(id domain.ExternalID) (*domain.QueryProfile, bool) {
	e.mu.Lock()
	rq, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rq.snapshot(), true
}

func (e *Local) retire(id domain.ExternalID) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func (e *Local) run(ctx context.Context, id domain.ExternalID, observer domain.QueryObserver, req domain.QueryRequest, cfg domain.ExecutionConfig, rq *runningQuery) {
	defer e.retire(id)

	jobID := id.JobID()
	attempt := observer.NewAttempt(domain.AttemptID{Job: jobID, Num: 0}, domain.AttemptReasonNone)

	attempt.QueryStarted(req, req.User)
	attempt.PlanValidated(nil, req.SQL, 0)
	rq.update(func(p *domain.QueryProfile) {
		p.PlanningEnd = time.Now().UnixMilli()
	})
	attempt.PlanCompleted(nil)

	rq.update(func(p *domain.QueryProfile) { p.State = domain.QueryStateRunning })
	attempt.ExecStarted(rq.snapshot())

	if req.Prepare {
		// Prepared statements validate only; nothing executes.
		e.finish(attempt, observer, rq, domain.QueryStateCompleted, nil)
		return
	}

	sqlText := req.SQL
	if cfg.EnableLeafLimits && cfg.LeafLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) LIMIT %d", req.SQL, cfg.LeafLimit)
	}

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		e.finish(attempt, observer, rq, failureState(ctx), err)
		return
	}
	defer rows.Close() //nolint:errcheck

	recordCount, err := e.drain(ctx, jobID, rows)
	if err != nil {
		e.finish(attempt, observer, rq, failureState(ctx), err)
		return
	}

	rq.update(func(p *domain.QueryProfile) {
		p.OutputRecords = recordCount
	})

	if batch, err := jobOutputBatch(e.results.TableName(jobID), recordCount); err != nil {
		e.finish(attempt, observer, rq, domain.QueryStateFailed, err)
		return
	} else {
		attempt.ExecDataArrived(batch)
	}

	e.finish(attempt, observer, rq, domain.QueryStateCompleted, nil)
}

// drain stores every result row durably and returns the record count.
func (e *Local) drain(ctx context.Context, jobID domain.JobID, rows *sql.Rows) (int64, error) {
	names, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("result columns: %w", err)
	}

	columns := make([]domain.OutputColumn, len(names))
	for i, name := range names {
		columns[i] = domain.OutputColumn{Name: name, Kind: domain.ColumnKindVarChar}
	}

	var count int64
	for rows.Next() {
		cells := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range cells {
			columns[i].Values = append(columns[i].Values, renderCell(v))
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	batch := &domain.OutputBatch{Columns: columns, RecordCount: int(count)}
	if err := e.results.StoreBatch(ctx, jobID, batch); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Local) finish(attempt domain.AttemptObserver, observer domain.QueryObserver, rq *runningQuery, state domain.QueryState, cause error) {
	rq.update(func(p *domain.QueryProfile) {
		p.State = state
		p.End = time.Now().UnixMilli()
		if cause != nil {
			p.Error = cause.Error()
		}
	})

	result := &domain.ExecResult{State: state, Profile: rq.snapshot(), Err: cause}
	attempt.AttemptCompletion(result)
	observer.ExecCompletion(result)
}

func failureState(ctx context.Context) domain.QueryState {
	if ctx.Err() != nil {
		return domain.QueryStateCanceled
	}
	return domain.QueryStateFailed
}

// jobOutputBatch builds the bookkeeping batch the observer parses: fragment,
// batch index, record count, and the binary result-file metadata column.
func jobOutputBatch(tableName string, recordCount int64) (*domain.OutputBatch, error) {
	md, err := json.Marshal(domain.ResultFileMetadata{Path: tableName, RecordCount: recordCount})
	if err != nil {
		return nil, fmt.Errorf("encode result metadata: %w", err)
	}
	return &domain.OutputBatch{
		Columns: []domain.OutputColumn{
			{Name: "fragment", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
			{Name: "batch", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte("0")}},
			{Name: "records", Kind: domain.ColumnKindInt, Values: [][]byte{[]byte(strconv.FormatInt(recordCount, 10))}},
			{Name: "metadata", Kind: domain.ColumnKindVarBinary, Values: [][]byte{md}},
		},
		RecordCount: 1,
	}, nil
}

func renderCell(v interface{}) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return append([]byte(nil), t...)
	case string:
		return []byte(t)
	case time.Time:
		return []byte(t.Format(time.RFC3339Nano))
	default:
		return []byte(fmt.Sprint(t))
	}
}
