package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PostForge/internal/domain"
)

type stubChannel struct {
	mu        sync.Mutex
	delivered []string
	results   []error
	onDeliver func()
}

func (c *stubChannel) Deliver(_ context.Context, text string) error {
	if c.onDeliver != nil {
		c.onDeliver()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, text)
	if len(c.results) == 0 {
		return nil
	}
	err := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return err
}

func (c *stubChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

type stubOperator struct {
	mu      sync.Mutex
	reports []string
}

func (o *stubOperator) Report(_ context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, text)
	return nil
}

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

type fakeDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *fakeDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memStore, id string, queuedAt time.Time) domain.PostRecord {
	t.Helper()
	rec := domain.PostRecord{
		ID:          id,
		RequesterID: "alice",
		Status:      domain.StatusQueued,
		FinalText:   "text of " + id,
		CreatedAt:   queuedAt.Add(-time.Minute),
		QueuedAt:    queuedAt,
	}
	require.NoError(t, store.Create(context.Background(), domain.CollectionQueued, rec))
	return rec
}

type publisherFixture struct {
	store    *memStore
	channel  *stubChannel
	operator *stubOperator
	sleeps   *recordingSleep
	driver   *fakeDriver
	sched    *PublishScheduler
}

func newPublisherFixture(t *testing.T, mutate ...func(*PublisherDeps)) *publisherFixture {
	t.Helper()
	f := &publisherFixture{
		store:    newMemStore(),
		channel:  &stubChannel{},
		operator: &stubOperator{},
		sleeps:   &recordingSleep{},
		driver:   &fakeDriver{},
	}
	deps := PublisherDeps{
		Store:    f.store,
		Channel:  f.channel,
		Operator: f.operator,
		Driver:   f.driver,
		Retry:    DefaultRetryPolicy(),
		Clock:    func() time.Time { return base.Add(24 * time.Hour) },
		Sleep:    f.sleeps.sleep,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	var err error
	f.sched, err = NewPublishScheduler(deps)
	require.NoError(t, err)
	return f
}

func transient(msg string) error {
	return &domain.DeliveryError{Err: errors.New(msg)}
}

func TestPublishNextIsFIFOAndOnePerCycle(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	seed(t, f.store, "c", base.Add(3*time.Hour))
	seed(t, f.store, "a", base.Add(1*time.Hour))
	seed(t, f.store, "b", base.Add(2*time.Hour))

	for i, want := range []string{"a", "b", "c"} {
		res, err := f.sched.PublishNext(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Empty)
		assert.Equal(t, want, res.Record.ID)
		assert.Equal(t, domain.StatusPublished, res.Record.Status)
		require.NotNil(t, res.Record.PublishedAt)
		assert.Equal(t, 1, res.Attempts)

		assert.Equal(t, 2-i, f.store.count(domain.CollectionQueued))
		assert.Equal(t, i+1, f.store.count(domain.CollectionPublished))
		assert.Equal(t, i+1, f.channel.calls())
	}

	res, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Equal(t, 3, f.channel.calls())
	assert.Equal(t, []string{"text of a", "text of b", "text of c"}, f.channel.delivered)
	assert.Equal(t, StateIdle, f.sched.State())
}

func TestPublishNextOnEmptyQueueTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	res, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Zero(t, f.channel.calls())
	assert.Zero(t, f.store.mutationCount())
	assert.Empty(t, f.operator.reports)
	assert.Empty(t, f.sleeps.waits)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	f.channel.results = []error{transient("timeout"), transient("bad gateway"), nil}
	seed(t, f.store, "a", base)

	res, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, f.channel.calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, f.sleeps.waits)
	assert.Equal(t, 1, f.store.count(domain.CollectionPublished))
	assert.Zero(t, f.store.count(domain.CollectionQueued))
	assert.Empty(t, f.operator.reports)
}

func TestPublishGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	f.channel.results = []error{transient("down")}
	original := seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "a", pubErr.RecordID)
	assert.Equal(t, 3, pubErr.Attempts)
	assert.Equal(t, 3, f.channel.calls())

	queued, err := f.store.List(context.Background(), domain.CollectionQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, original, queued[0])
	assert.Zero(t, f.store.count(domain.CollectionPublished))
	require.Len(t, f.operator.reports, 1)
	assert.Contains(t, f.operator.reports[0], "a")
}

func TestPublishNeverExceedsThreeAttempts(t *testing.T) {
	t.Parallel()

	for _, configured := range []int{10, 0, -1} {
		f := newPublisherFixture(t, func(d *PublisherDeps) {
			d.Retry = RetryPolicy{Attempts: configured, Backoff: []time.Duration{time.Second}}
		})
		f.channel.results = []error{transient("down")}
		seed(t, f.store, "a", base)

		_, err := f.sched.PublishNext(context.Background())
		var pubErr *PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, MaxDeliveryAttempts, pubErr.Attempts, "configured %d", configured)
		assert.Equal(t, MaxDeliveryAttempts, f.channel.calls(), "configured %d", configured)
	}
}

func TestPublishStopsOnPermanentFailure(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	f.channel.results = []error{&domain.DeliveryError{Permanent: true, Err: errors.New("chat not found")}}
	seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsPermanentDelivery(err))
	assert.Equal(t, 1, f.channel.calls())
	assert.Empty(t, f.sleeps.waits)
	assert.Equal(t, 1, f.store.count(domain.CollectionQueued))
	assert.Len(t, f.operator.reports, 1)
}

func TestPublishHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	f.channel.results = []error{&domain.DeliveryError{RetryAfter: 10 * time.Second, Err: errors.New("too many requests")}, nil}
	seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second}, f.sleeps.waits)
}

func TestPublishedRecordIsNeverReselected(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)

	for range 3 {
		res, err := f.sched.PublishNext(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Empty)
	}
	assert.Equal(t, 1, f.channel.calls())
}

func TestPublishFinishesInterruptedMove(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	stuck := seed(t, f.store, "a", base)
	_, err := f.store.Update(context.Background(), stuck.ID, domain.CollectionQueued, func(r *domain.PostRecord) {
		r.Status = domain.StatusPublished
	})
	require.NoError(t, err)
	seed(t, f.store, "b", base.Add(time.Hour))

	res, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Recovered)
	assert.Equal(t, "b", res.Record.ID)
	assert.Equal(t, []string{"text of b"}, f.channel.delivered)
	assert.Equal(t, 2, f.store.count(domain.CollectionPublished))

	recovered, coll, err := f.store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.CollectionPublished, coll)
	assert.NotNil(t, recovered.PublishedAt)
}

func TestPublishReportsMoveFailure(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	seed(t, f.store, "a", base)
	f.store.moveErr = errors.New("rename: permission denied")

	_, err := f.sched.PublishNext(context.Background())
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "a", storageErr.ID)
	assert.Len(t, f.operator.reports, 1)
}

func TestPublishRejectsEmptyFinalText(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	rec := domain.PostRecord{ID: "a", Status: domain.StatusQueued, QueuedAt: base}
	require.NoError(t, f.store.Create(context.Background(), domain.CollectionQueued, rec))

	_, err := f.sched.PublishNext(context.Background())
	assert.True(t, domain.IsPermanentDelivery(err))
	assert.Zero(t, f.channel.calls())
	assert.Equal(t, 1, f.store.count(domain.CollectionQueued))
}

func TestOnPublishedHookRuns(t *testing.T) {
	t.Parallel()

	var got []string
	f := newPublisherFixture(t, func(d *PublisherDeps) {
		d.OnPublished = func(_ context.Context, rec domain.PostRecord) error {
			got = append(got, rec.ID)
			return errors.New("plan store offline")
		}
	})
	seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestStateIsPublishingDuringDelivery(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	var during PublishState
	f.channel.onDeliver = func() { during = f.sched.State() }
	seed(t, f.store, "a", base)

	_, err := f.sched.PublishNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePublishing, during)
	assert.Equal(t, StateIdle, f.sched.State())
}

func TestStartArmsDriver(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t)
	seed(t, f.store, "a", base)

	require.NoError(t, f.sched.Start(context.Background()))
	require.NotNil(t, f.driver.job)

	f.driver.job(base)
	assert.Equal(t, 1, f.store.count(domain.CollectionPublished))

	require.NoError(t, f.sched.Stop(context.Background()))
	assert.True(t, f.driver.stopped)
}

func TestStartWithoutDriverFails(t *testing.T) {
	t.Parallel()

	f := newPublisherFixture(t, func(d *PublisherDeps) { d.Driver = nil })
	assert.Error(t, f.sched.Start(context.Background()))
}
