package jobs

import (
	"sync"

	"queryplane/internal/domain"
)

// metadataBuilder accumulates the planner callbacks of one attempt and
// finalizes them into query metadata once physical planning completes.
// Callbacks for one attempt are not concurrent, but the builder still locks
// so an API thread reading mid-plan cannot observe a torn write.
type metadataBuilder struct {
	mu sync.Mutex

	rowType      []domain.Field
	parsedSQL    string
	serializable *domain.PlanSnapshot
	logical      *domain.PlanSnapshot
	preJoin      *domain.PlanSnapshot
	parallelized *domain.PlanSnapshot
	cost         float64
	batchSchema  []domain.Field
}

func newMetadataBuilder() *metadataBuilder {
	return &metadataBuilder{}
}

func (b *metadataBuilder) PlanValidated(rowType []domain.Field, parsedSQL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rowType = rowType
	b.parsedSQL = parsedSQL
}

func (b *metadataBuilder) PlanSerializable(plan *domain.PlanSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serializable = plan
}

func (b *metadataBuilder) PlanParallelized(plan *domain.PlanSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parallelized = plan
}

// PlanRelTransform records phase output. The logical phase carries the
// pre-acceleration cumulative cost and the lineage facts; the join-planning
// phase's input is the pre-join plan the join analysis reads from.
func (b *metadataBuilder) PlanRelTransform(phase domain.PlannerPhase, before, after *domain.PlanSnapshot, cumulativeCost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch phase {
	case domain.PhaseLogical:
		b.logical = after
		b.cost = cumulativeCost
	case domain.PhaseJoinPlanning:
		b.preJoin = before
	}
}

func (b *metadataBuilder) PlanCompleted(plan *domain.ExecutionPlan) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if plan != nil && plan.Root != nil {
		b.batchSchema = plan.Root.Schema
	}
}

// Build finalizes the accumulated facts into query metadata.
func (b *metadataBuilder) Build() *domain.QueryMetadata {
	b.mu.Lock()
	defer b.mu.Unlock()

	md := &domain.QueryMetadata{
		RowType:     b.rowType,
		ParsedSQL:   b.parsedSQL,
		BatchSchema: b.batchSchema,
		Cost:        b.cost,
	}

	lineage := b.logical
	if lineage == nil {
		lineage = b.serializable
	}
	if lineage != nil {
		md.Parents = parentsFromTables(lineage.ScannedTables)
		md.FieldOrigins = lineage.FieldOrigins
	}
	if b.serializable != nil {
		md.GrandParents = b.serializable.Ancestors
	}

	// Join analysis reads the plan as it stood before join planning rewrote
	// it; fall back to the logical plan's joins when that phase never ran.
	switch {
	case b.preJoin != nil:
		md.Joins = b.preJoin.Joins
	case b.logical != nil:
		md.Joins = b.logical.Joins
	}

	return md
}

func parentsFromTables(tables [][]string) []domain.ParentDatasetInfo {
	seen := make(map[string]struct{}, len(tables))
	var parents []domain.ParentDatasetInfo
	for _, table := range tables {
		if len(table) == 0 {
			continue
		}
		key := joinKey(table)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		parents = append(parents, domain.ParentDatasetInfo{DatasetPath: table})
	}
	return parents
}

func joinKey(path []string) string {
	key := ""
	for i, seg := range path {
		if i > 0 {
			key += "\x00"
		}
		key += seg
	}
	return key
}
