package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"queryplane/internal/domain"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// RetentionPolicy yields the current retention knobs. It is consulted on
// every sweep, so a configuration change takes effect without a restart.
// The two knobs are additive: cutoff age = days*day + extra milliseconds.
type RetentionPolicy func() (maxAgeDays int, extraMillis int64)

// Sweeper periodically evicts result data of jobs whose last attempt
// finished before the retention cutoff. Jobs without a recorded finish time
// are never touched.
type Sweeper struct {
	cron    *cron.Cron
	store   domain.JobStore
	results domain.ResultsStore
	policy  RetentionPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a retention sweeper.
func NewSweeper(store domain.JobStore, results domain.ResultsStore, policy RetentionPolicy, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		store:   store,
		results: results,
		policy:  policy,
		logger:  logger.With("component", "retention-sweeper"),
		now:     time.Now,
	}
}

// Start schedules the sweep: daily, or at the retention age when that is
// shorter than a day.
func (s *Sweeper) Start() {
	interval := 24 * time.Hour
	if age := s.maxAge(); age > 0 && age < interval {
		interval = age
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(s.Sweep))
	s.cron.Start()
	s.logger.Info("retention sweeper started", "interval", interval.String())
}

// Stop halts the schedule. A sweep already running finishes on its own.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) maxAge() time.Duration {
	days, extra := s.policy()
	return time.Duration(int64(days)*millisPerDay+extra) * time.Millisecond
}

// Sweep runs one pass. Per-job failures are logged and skipped so one bad
// entry cannot abort the rest of the scan. Never panics or raises.
func (s *Sweeper) Sweep() {
	ctx := context.Background()

	age := s.maxAge()
	if age <= 0 {
		return
	}
	cutoff := s.now().Add(-age)

	entries, err := s.store.All(ctx)
	if err != nil {
		s.logger.Error("retention scan failed", "error", err)
		return
	}

	cleaned := 0
	for _, entry := range entries {
		attempt := entry.Result.LastAttempt()
		if attempt == nil || attempt.Info == nil || attempt.Info.FinishTime == nil {
			// Unterminated or unknown; never purge.
			continue
		}
		if !attempt.Info.FinishTime.Before(cutoff) {
			continue
		}
		if err := s.results.Cleanup(ctx, entry.ID); err != nil {
			s.logger.Warn("result cleanup failed", "job_id", string(entry.ID), "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		s.logger.Info("retention sweep finished", "cleaned", cleaned, "scanned", len(entries))
	}
}
