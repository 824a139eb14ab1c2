package usecase

import (
	"time"

	"PostForge/internal/domain"
)

// RunTrace records the phases of one pipeline run.
type RunTrace interface {
	PhaseStart(stage domain.Stage)
	PhaseDone(stage domain.Stage, elapsed time.Duration, attrs ...any)
	PhaseError(stage domain.Stage, elapsed time.Duration, err error)
	Done(record domain.PostRecord)
	Close() error
}

// TraceFactory opens a trace for a run ID.
type TraceFactory func(runID string) (RunTrace, error)

// ProgressFunc is notified when a phase starts.
type ProgressFunc func(stage domain.Stage, status domain.Status)

type noopTrace struct{}

func (noopTrace) PhaseStart(domain.Stage) {}
func (noopTrace) PhaseDone(domain.Stage, time.Duration, ...any) {}
func (noopTrace) PhaseError(domain.Stage, time.Duration, error) {}
func (noopTrace) Done(domain.PostRecord) {}
func (noopTrace) Close() error { return nil }
