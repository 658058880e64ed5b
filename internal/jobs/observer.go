package jobs

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"queryplane/internal/domain"
)

var (
	_ domain.QueryObserver   = (*queryListener)(nil)
	_ domain.AttemptObserver = (*attemptObserver)(nil)
)

// queryListener observes one query for its whole lifetime: it creates the
// per-attempt observers, owns the completion latch and the deferred failure
// aggregator, and broadcasts the final completion. The tagged variant fields
// distinguish in-process submissions (status listener) from externally
// submitted queries (response sink plus the original execution id).
type queryListener struct {
	svc      *Service
	job      *domain.Job
	latch    *completionLatch
	deferred *deferredError
	fanout   *fanout
	logger   *slog.Logger

	status domain.StatusListener
	sink   domain.ResponseSink
	origin domain.ExternalID

	completeOnce sync.Once
}

// NewAttempt binds an observer to the attempt named by id. The first attempt
// already exists from submission; retries append a fresh attempt seeded from
// the previous one with the per-attempt fields cleared.
func (q *queryListener) NewAttempt(id domain.AttemptID, reason domain.AttemptReason) domain.AttemptObserver {
	attempt := q.job.Attempt()
	if id.Num > 0 {
		info := attempt.Info.Clone()
		now := time.Now()
		info.StartTime = &now
		info.FinishTime = nil
		info.FailureInfo = ""
		info.ResultMetadata = nil
		info.Acceleration = nil

		attempt = &domain.JobAttempt{
			Info:      info,
			AttemptID: id.String(),
			Endpoint:  q.svc.identity,
			State:     domain.JobStateRunning,
			Reason:    reason,
		}
		q.job.AddAttempt(attempt)
		q.logger.Info("new attempt started",
			"job_id", string(q.job.ID()), "attempt", id.Num, "reason", string(reason))
	}

	return &attemptObserver{q: q, id: id, attempt: attempt, md: newMetadataBuilder()}
}

// ExecCompletion finishes the query: collect the failure, release the latch,
// notify the submitter, broadcast to fan-out listeners, and retire the job
// from the live registry.
func (q *queryListener) ExecCompletion(result *domain.ExecResult) {
	q.completeOnce.Do(func() {
		if result.Err != nil {
			q.deferred.Add(result.Err)
		}

		q.latch.Release()

		switch {
		case q.sink != nil:
			q.sink.Completed(result.WithExternalID(q.origin))
		case q.status != nil:
			switch result.State.JobState() {
			case domain.JobStateCanceled:
				q.status.JobCancelled()
			case domain.JobStateFailed:
				q.status.JobFailed(q.deferred.CheckAndRaise())
			default:
				q.status.JobCompleted()
			}
		}

		q.fanout.NotifyCompletion(q.job)
		q.svc.remove(q.job.ID())
		q.svc.results.ForgetLiveData(q.job.ID())
		q.logger.Info("job finished",
			"job_id", string(q.job.ID()), "state", string(q.job.State()))
	})
}

// attemptObserver is the lifecycle state machine of one execution attempt.
// The engine guarantees callbacks for one attempt are not concurrent with
// each other; anything arriving after the query's completion latch has been
// released is discarded.
type attemptObserver struct {
	q       *queryListener
	id      domain.AttemptID
	attempt *domain.JobAttempt
	md      *metadataBuilder
}

func (o *attemptObserver) stale() bool {
	return o.q.latch.Released()
}

func (o *attemptObserver) QueryStarted(req domain.QueryRequest, user string) {
	if o.stale() {
		return
	}
	o.attempt.State = domain.JobStateRunning
	if o.attempt.Info.SQL == "" {
		o.attempt.Info.SQL = req.SQL
	}
	if o.attempt.Info.User == "" {
		o.attempt.Info.User = user
	}
	if o.q.status != nil {
		o.q.status.JobSubmitted(o.q.job.ID())
	}
}

func (o *attemptObserver) PlanValidated(rowType []domain.Field, parsedSQL string, _ time.Duration) {
	if o.stale() {
		return
	}
	o.md.PlanValidated(rowType, parsedSQL)
}

func (o *attemptObserver) PlanSerializable(plan *domain.PlanSnapshot) {
	if o.stale() {
		return
	}
	o.md.PlanSerializable(plan)
}

func (o *attemptObserver) PlanParallelized(plan *domain.PlanSnapshot) {
	if o.stale() {
		return
	}
	o.md.PlanParallelized(plan)
}

func (o *attemptObserver) PlanRelTransform(phase domain.PlannerPhase, before, after *domain.PlanSnapshot, cumulativeCost float64, _ time.Duration) {
	if o.stale() {
		return
	}
	o.md.PlanRelTransform(phase, before, after, cumulativeCost)
}

func (o *attemptObserver) PlanAccelerated(info *domain.SubstitutionInfo) {
	if o.stale() || info == nil {
		return
	}
	o.attempt.Info.Acceleration = &domain.Acceleration{
		AcceleratedCost: info.AcceleratedCost,
		Substitutions:   info.Substitutions,
	}
}

// PlanCompleted finalizes the attempt's lineage metadata and flushes it to
// the job store. A failure here must not kill the query.
func (o *attemptObserver) PlanCompleted(plan *domain.ExecutionPlan) {
	if o.stale() {
		return
	}
	o.md.PlanCompleted(plan)

	md := o.md.Build()
	info := o.attempt.Info
	info.Parents = md.Parents
	info.GrandParents = md.GrandParents
	info.FieldOrigins = md.FieldOrigins
	info.Joins = md.Joins
	o.q.svc.resolveSpace(info)

	if err := o.q.svc.persist(o.q.job); err != nil {
		o.q.deferred.Add(err)
		o.q.logger.Warn("persist after planning failed",
			"job_id", string(o.q.job.ID()), "error", err)
	}

	if o.q.status != nil {
		o.q.status.MetadataCollected(md)
	}
}

// ExecStarted records the authoritative start time and the first statistics
// snapshot once the engine begins executing.
func (o *attemptObserver) ExecStarted(profile *domain.QueryProfile) {
	if o.stale() || profile == nil {
		return
	}
	if profile.Start > 0 {
		start := time.UnixMilli(profile.Start)
		o.attempt.Info.StartTime = &start
	}
	o.attempt.State = domain.JobStateRunning
	applyProfile(o.attempt, profile)

	if err := o.q.svc.persist(o.q.job); err != nil {
		o.q.deferred.Add(err)
	}
}

// ExecDataArrived parses one job output batch: at least four columns, the
// fourth a binary column whose cells each hold one result-file metadata
// record. A malformed batch is a hard failure for the attempt.
func (o *attemptObserver) ExecDataArrived(batch *domain.OutputBatch) {
	if o.stale() || batch == nil {
		return
	}

	if o.q.sink != nil {
		o.q.sink.SendData(batch)
		return
	}

	if len(batch.Columns) < 4 {
		o.q.deferred.Add(domain.ErrValidation(
			"job output batch for %s has %d columns, need at least 4", o.q.job.ID(), len(batch.Columns)))
		return
	}
	metaCol := batch.Columns[3]
	if metaCol.Kind != domain.ColumnKindVarBinary {
		o.q.deferred.Add(domain.ErrValidation(
			"job output batch for %s: metadata column %q is not binary", o.q.job.ID(), metaCol.Name))
		return
	}

	for row := 0; row < batch.RecordCount && row < len(metaCol.Values); row++ {
		if err := o.appendResultMetadata(metaCol.Values[row]); err != nil {
			o.q.deferred.Add(err)
			return
		}
	}
}

func (o *attemptObserver) appendResultMetadata(blob []byte) error {
	buf, err := o.q.svc.alloc.Acquire(blob)
	if err != nil {
		return err
	}
	defer o.q.svc.alloc.Release(buf)

	var md domain.ResultFileMetadata
	if err := json.Unmarshal(*buf, &md); err != nil {
		return domain.ErrValidation("job %s: malformed result metadata record: %v", o.q.job.ID(), err)
	}
	o.attempt.Info.ResultMetadata = append(o.attempt.Info.ResultMetadata, md)
	return nil
}

// AttemptCompletion persists the attempt's terminal facts: state, finish
// time, failure info, statistics, and the execution profile.
func (o *attemptObserver) AttemptCompletion(result *domain.ExecResult) {
	if o.stale() || result == nil {
		return
	}

	state := result.State.JobState()
	o.attempt.State = state

	finish := time.Now()
	if result.Profile != nil && result.Profile.End > 0 {
		finish = time.UnixMilli(result.Profile.End)
	}
	o.attempt.Info.FinishTime = &finish

	if state == domain.JobStateFailed {
		switch {
		case result.Err != nil:
			o.attempt.Info.FailureInfo = result.Err.Error()
		case result.Profile != nil:
			o.attempt.Info.FailureInfo = result.Profile.Error
		}
	}
	applyProfile(o.attempt, result.Profile)

	if err := o.q.svc.persist(o.q.job); err != nil {
		o.q.deferred.Add(err)
	}
	if result.Profile != nil {
		if err := o.q.svc.profiles.Put(o.q.svc.ctx(), o.id, result.Profile); err != nil {
			o.q.deferred.Add(err)
		}
	}
}

// applyProfile extracts summary statistics and per-node details from a
// profile snapshot into the attempt.
func applyProfile(attempt *domain.JobAttempt, profile *domain.QueryProfile) {
	if profile == nil {
		return
	}
	attempt.Stats = &domain.JobStats{
		InputBytes:    profile.InputBytes,
		OutputBytes:   profile.OutputBytes,
		InputRecords:  profile.InputRecords,
		OutputRecords: profile.OutputRecords,
	}

	details := &domain.JobDetails{DataVolume: profile.OutputBytes}
	if profile.PlanningEnd > 0 && profile.Start > 0 {
		details.TimeSpentInPlanning = profile.PlanningEnd - profile.Start
	}
	for _, np := range profile.NodeProfiles {
		if np.PeakMemory > details.PeakMemory {
			details.PeakMemory = np.PeakMemory
		}
		details.TotalFragments += np.TotalFragments
		details.CompletedFragments += np.DoneFragments
	}
	attempt.Details = details
}
