package usecase

import (
	"context"
	"sync"

	"PostForge/internal/domain"
)

type inflightRun struct {
	cancel    context.CancelFunc
	enqueuing bool
}

// inflight is a keyed mutual-exclusion map: one active run per requester.
type inflight struct {
	mu   sync.Mutex
	runs map[string]*inflightRun
}

func newInflight() *inflight {
	return &inflight{runs: map[string]*inflightRun{}}
}

// acquire registers a run for key or returns ErrBusy. The returned release must be called.
func (f *inflight) acquire(key string, cancel context.CancelFunc) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.runs[key]; busy {
		return nil, domain.ErrBusy
	}
	run := &inflightRun{cancel: cancel}
	f.runs[key] = run

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.runs[key] == run {
			delete(f.runs, key)
		}
	}, nil
}

// beginEnqueue marks the run as past the cancellation point.
func (f *inflight) beginEnqueue(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[key]; ok {
		run.enqueuing = true
	}
}

func (f *inflight) cancel(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	run, ok := f.runs[key]
	if !ok {
		return domain.ErrNoActiveRun
	}
	if run.enqueuing {
		return domain.ErrNotCancelable
	}
	run.cancel()
	return nil
}

func (f *inflight) active(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.runs[key]
	return ok
}
