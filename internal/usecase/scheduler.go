package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

// PublishState is the scheduler's position in a publish cycle.
type PublishState string

const (
	StateIdle       PublishState = "idle"
	StateTriggered  PublishState = "triggered"
	StatePublishing PublishState = "publishing"
)

// QueueLock serializes publish cycles and queue edits across processes.
const QueueLock = "queue"

// MaxDeliveryAttempts caps delivery attempts for one record in one cycle.
const MaxDeliveryAttempts = 3

// RetryPolicy bounds delivery attempts within a single cycle.
type RetryPolicy struct {
	Attempts int
	Backoff  []time.Duration
}

// DefaultRetryPolicy makes three attempts, waiting 2s and then 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: []time.Duration{2 * time.Second, 5 * time.Second}}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 || p.Attempts > MaxDeliveryAttempts {
		return MaxDeliveryAttempts
	}
	return p.Attempts
}

// delay returns the wait before attempt n+1, never shorter than a server hint.
func (p RetryPolicy) delay(n int, hint time.Duration) time.Duration {
	var d time.Duration
	if len(p.Backoff) > 0 {
		idx := n - 1
		if idx >= len(p.Backoff) {
			idx = len(p.Backoff) - 1
		}
		if idx >= 0 {
			d = p.Backoff[idx]
		}
	}
	if hint > d {
		d = hint
	}
	return d
}

// PublishResult describes one completed cycle.
type PublishResult struct {
	Record    domain.PostRecord
	Empty     bool
	Attempts  int
	Recovered []string
}

// PublishError reports a record that stayed queued because delivery failed.
type PublishError struct {
	RecordID string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed after %d attempt(s): %v", e.RecordID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PublisherDeps wires the publish cycle.
type PublisherDeps struct {
	Store       ports.RecordStore
	Channel     ports.Channel
	Operator    ports.OperatorNotifier
	Driver      ports.Scheduler
	Locker      ports.Locker
	Retry       RetryPolicy
	OnPublished func(ctx context.Context, record domain.PostRecord) error
	Logger      *slog.Logger
	Clock       func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// PublishScheduler dequeues and delivers at most one record per trigger.
type PublishScheduler struct {
	store       ports.RecordStore
	channel     ports.Channel
	operator    ports.OperatorNotifier
	driver      ports.Scheduler
	locker      ports.Locker
	retry       RetryPolicy
	onPublished func(ctx context.Context, record domain.PostRecord) error
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	cycle   sync.Mutex
	stateMu sync.RWMutex
	state   PublishState
}

// NewPublishScheduler returns a scheduler in the Idle state.
func NewPublishScheduler(deps PublisherDeps) (*PublishScheduler, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	s := &PublishScheduler{
		store:       deps.Store,
		channel:     deps.Channel,
		operator:    deps.Operator,
		driver:      deps.Driver,
		locker:      deps.Locker,
		retry:       deps.Retry,
		onPublished: deps.OnPublished,
		logger:      discardLogger(deps.Logger).With("component", "publisher"),
		now:         deps.Clock,
		sleep:       deps.Sleep,
		state:       StateIdle,
	}
	if s.retry.Attempts == 0 && len(s.retry.Backoff) == 0 {
		s.retry = DefaultRetryPolicy()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	return s, nil
}

// Start arms the daily trigger.
func (s *PublishScheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return fmt.Errorf("no schedule driver configured")
	}

	job := func(trigger time.Time) {
		s.logger.Info("publish trigger fired", "at", trigger)
		if _, err := s.PublishNext(ctx); err != nil {
			s.logger.Debug("scheduled cycle ended with error", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop disarms the trigger.
func (s *PublishScheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// State returns the current cycle state.
func (s *PublishScheduler) State() PublishState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *PublishScheduler) setState(state PublishState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// PublishNext runs one cycle: select the oldest queued record, deliver it and move it
// to the published collection. An empty queue is a no-op.
func (s *PublishScheduler) PublishNext(ctx context.Context) (PublishResult, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, QueueLock)
		if err != nil {
			return PublishResult{}, fmt.Errorf("wait for queue lock: %w", err)
		}
		defer func() {
			if err := unlock(); err != nil {
				s.logger.Warn("release queue lock", "error", err)
			}
		}()
	}

	s.setState(StateTriggered)
	defer s.setState(StateIdle)

	queued, err := s.store.List(ctx, domain.CollectionQueued)
	if err != nil {
		return PublishResult{}, s.report(ctx, fmt.Errorf("list queued: %w", storageErr("list", "", err)))
	}

	var result PublishResult
	var next *domain.PostRecord
	for i := range queued {
		rec := queued[i]
		if rec.Status == domain.StatusPublished {
			if err := s.finishMove(ctx, rec); err != nil {
				return result, s.report(ctx, err)
			}
			result.Recovered = append(result.Recovered, rec.ID)
			continue
		}
		next = &rec
		break
	}

	if next == nil {
		s.logger.Info("queue is empty, nothing to publish")
		result.Empty = true
		return result, nil
	}

	s.setState(StatePublishing)
	return s.publish(ctx, *next, result)
}

func (s *PublishScheduler) publish(ctx context.Context, rec domain.PostRecord, result PublishResult) (PublishResult, error) {
	log := s.logger.With("record_id", rec.ID)

	if rec.FinalText == "" {
		pubErr := &PublishError{RecordID: rec.ID, Err: &domain.DeliveryError{Permanent: true, Err: errors.New("record has no final text")}}
		return result, s.report(ctx, pubErr)
	}

	attempts, err := s.deliver(ctx, rec)
	result.Attempts = attempts
	if err != nil {
		log.Warn("delivery failed, record stays queued", "attempts", attempts, "error", err)
		return result, s.report(ctx, &PublishError{RecordID: rec.ID, Attempts: attempts, Err: err})
	}

	publishedAt := s.now()
	moved, err := s.store.Move(context.WithoutCancel(ctx), rec.ID, domain.CollectionQueued, domain.CollectionPublished, func(r *domain.PostRecord) {
		r.Status = domain.StatusPublished
		r.PublishedAt = &publishedAt
	})
	if err != nil {
		return result, s.report(ctx, fmt.Errorf("record %s was delivered but not moved: %w", rec.ID, storageErr("move", rec.ID, err)))
	}
	result.Record = moved
	log.Info("post published", "attempts", attempts)

	if s.onPublished != nil {
		if err := s.onPublished(ctx, moved); err != nil {
			log.Warn("post-publish hook failed", "error", err)
		}
	}
	return result, nil
}

func (s *PublishScheduler) deliver(ctx context.Context, rec domain.PostRecord) (int, error) {
	var lastErr error
	total := s.retry.attempts()
	for attempt := 1; attempt <= total; attempt++ {
		err := s.channel.Deliver(ctx, rec.FinalText)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if domain.IsPermanentDelivery(err) {
			return attempt, err
		}
		if attempt == total {
			break
		}

		var hint time.Duration
		var de *domain.DeliveryError
		if errors.As(err, &de) {
			hint = de.RetryAfter
		}
		wait := s.retry.delay(attempt, hint)
		s.logger.Debug("delivery attempt failed, retrying", "record_id", rec.ID, "attempt", attempt, "wait", wait, "error", err)
		if err := s.sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("wait for retry: %w", err)
		}
	}
	return total, lastErr
}

// finishMove completes a move that a crash interrupted after the record was rewritten.
func (s *PublishScheduler) finishMove(ctx context.Context, rec domain.PostRecord) error {
	s.logger.Warn("completing interrupted move", "record_id", rec.ID)
	_, err := s.store.Move(ctx, rec.ID, domain.CollectionQueued, domain.CollectionPublished, func(r *domain.PostRecord) {
		if r.PublishedAt == nil {
			at := s.now()
			r.PublishedAt = &at
		}
	})
	if err != nil {
		return fmt.Errorf("recover record %s: %w", rec.ID, storageErr("move", rec.ID, err))
	}
	return nil
}

// report forwards err to the operator channel and returns it.
func (s *PublishScheduler) report(ctx context.Context, err error) error {
	s.logger.Error("publish cycle failed", "error", err)
	if s.operator != nil {
		if rErr := s.operator.Report(context.WithoutCancel(ctx), "Publish failed: "+err.Error()); rErr != nil {
			s.logger.Warn("operator report failed", "error", rErr)
		}
	}
	return err
}

func storageErr(op, id string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Op: op, ID: id, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
