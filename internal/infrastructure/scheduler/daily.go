package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PostForge/internal/ports"
)

// Schedule is a wall-clock time of day in a fixed location.
type Schedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

func (s Schedule) String() string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%02d:%02d %s", s.Hour, s.Minute, loc)
}

// NextRun returns the first instant strictly after now that matches the schedule.
// Days that skip the wall-clock time because of a DST jump fire at the normalized instant.
func NextRun(now time.Time, s Schedule) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	}
	return next
}

// DailyTrigger fires a job once a day at the configured time.
type DailyTrigger struct {
	schedule Schedule
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*DailyTrigger)(nil)

// NewDailyTrigger builds a trigger for the given schedule.
func NewDailyTrigger(schedule Schedule) *DailyTrigger {
	return &DailyTrigger{
		schedule: schedule,
		now:      time.Now,
		after:    time.After,
	}
}

// Next reports when the trigger will fire next.
func (d *DailyTrigger) Next() time.Time {
	return NextRun(d.now(), d.schedule)
}

// Start launches the timer goroutine. Calling Start twice is a no-op.
func (d *DailyTrigger) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop, d.done = stop, done

	go func() {
		defer close(done)
		for {
			wait := NextRun(d.now(), d.schedule).Sub(d.now())
			if wait < 0 {
				wait = 0
			}
			select {
			case t := <-d.after(wait):
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the timer goroutine and waits for a running job to return.
func (d *DailyTrigger) Stop(ctx context.Context) error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
