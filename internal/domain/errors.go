package domain

import (
	"errors"
	"fmt"
	"time"
)

// Stage kinds. A StageError always unwraps to exactly one of these.
var (
	ErrResearchUnavailable = errors.New("research unavailable")
	ErrSynthesis           = errors.New("research synthesis failed")
	ErrDraftTooShort       = errors.New("draft too short")
	ErrGeneration          = errors.New("generation failed")
	ErrCritiqueIncomplete  = errors.New("critique incomplete")
	ErrRewrite             = errors.New("rewrite failed")
)

var (
	// ErrBusy rejects a second run for a requester that already has one in flight.
	ErrBusy = errors.New("requester busy")

	// ErrNoActiveRun is returned by Cancel when nothing is running for the requester.
	ErrNoActiveRun = errors.New("no active run")

	// ErrNotCancelable is returned by Cancel once the run has started enqueueing.
	ErrNotCancelable = errors.New("run is past the point of cancellation")

	// ErrNotFound indicates a record or plan does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a record with the same ID is already stored.
	ErrAlreadyExists = errors.New("already exists")
)

// Stage names a pipeline phase.
type Stage string

const (
	StageResearch Stage = "research"
	StageDraft    Stage = "draft"
	StageCritique Stage = "critique"
	StageRewrite  Stage = "rewrite"
	StageEnqueue  Stage = "enqueue"
)

// StageError is the failure of a single pipeline phase.
type StageError struct {
	Stage  Stage
	Kind   error
	Critic CriticName
	Err    error
}

// NewStageError builds a StageError for stage with the given kind and cause.
func NewStageError(stage Stage, kind, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: cause}
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s stage: %v", e.Stage, e.Kind)
	if e.Critic != "" {
		msg += fmt.Sprintf(" (critic %s)", e.Critic)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *StageError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Failure is what a pipeline run returns when it stops before enqueueing a post.
type Failure struct {
	RequestID string
	Status    Status
	Stage     Stage
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("request %s failed while %s: %v", f.RequestID, f.Status, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// DeliveryError is returned by channel collaborators.
type DeliveryError struct {
	Permanent  bool
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery error: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanentDelivery reports whether err must not be retried.
func IsPermanentDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}

// StorageError wraps any RecordStore or PlanStore failure.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
