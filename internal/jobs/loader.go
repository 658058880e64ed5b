package jobs

import (
	"context"

	"queryplane/internal/domain"
)

var (
	_ domain.JobLoader = (*internalLoader)(nil)
	_ domain.JobLoader = (*externalLoader)(nil)
)

// internalLoader backs a job submitted through the in-process path. Loads
// block on the attempt's completion latch, surface any failure collected
// during execution, then page from the results store.
type internalLoader struct {
	id       domain.JobID
	latch    *completionLatch
	deferred *deferredError
	store    domain.JobStore
	results  domain.ResultsStore
}

func (l *internalLoader) WaitForCompletion(ctx context.Context) error {
	if err := l.latch.Wait(ctx); err != nil {
		return err
	}
	return l.deferred.CheckAndRaise()
}

func (l *internalLoader) Load(ctx context.Context, offset, limit int) (*domain.ResultPage, error) {
	if err := l.WaitForCompletion(ctx); err != nil {
		return nil, err
	}
	result, err := l.store.Get(ctx, l.id)
	if err != nil {
		return nil, err
	}
	return l.results.LoadPage(ctx, l.id, result, offset, limit)
}

func (l *internalLoader) ResultsTableName() (string, error) {
	return l.results.TableName(l.id), nil
}

// externalLoader backs a job whose results belong to another connection.
// Row loads are a caller contract violation; completion waits still work.
type externalLoader struct {
	id       domain.JobID
	latch    *completionLatch
	deferred *deferredError
}

func (l *externalLoader) WaitForCompletion(ctx context.Context) error {
	if err := l.latch.Wait(ctx); err != nil {
		return err
	}
	return l.deferred.CheckAndRaise()
}

func (l *externalLoader) Load(context.Context, int, int) (*domain.ResultPage, error) {
	return nil, domain.ErrUnsupported("result rows for externally submitted job %s are owned by the originating connection", l.id)
}

func (l *externalLoader) ResultsTableName() (string, error) {
	return "", domain.ErrUnsupported("externally submitted job %s has no durable results table", l.id)
}
