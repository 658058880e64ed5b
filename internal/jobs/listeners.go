package jobs

import (
	"sync"

	"queryplane/internal/domain"
)

// fanout broadcasts a job's completion to its registered listeners.
// Registration may race with completion: a listener registering at the moment
// of completion receives exactly one notification. Registering the same
// listener twice yields two notifications, one per registration.
type fanout struct {
	mu        sync.Mutex
	listeners []domain.ExternalStatusListener
	completed *domain.Job
}

func newFanout() *fanout {
	return &fanout{}
}

// Register adds a listener. If completion was already broadcast the listener
// is notified synchronously before Register returns.
func (f *fanout) Register(l domain.ExternalStatusListener) {
	f.mu.Lock()
	completed := f.completed
	if completed == nil {
		f.listeners = append(f.listeners, l)
	}
	f.mu.Unlock()

	if completed != nil {
		l.QueryCompleted(completed)
	}
}

// NotifyCompletion broadcasts completion once. Repeat calls no-op.
func (f *fanout) NotifyCompletion(job *domain.Job) {
	f.mu.Lock()
	if f.completed != nil {
		f.mu.Unlock()
		return
	}
	f.completed = job
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()

	for _, l := range listeners {
		l.QueryCompleted(job)
	}
}
