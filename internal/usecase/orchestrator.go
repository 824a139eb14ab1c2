package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"PostForge/internal/critic"
	"PostForge/internal/domain"
	"PostForge/internal/ports"
	"PostForge/internal/prompts"
)

// PipelineDeps wires the driven adapters into the orchestrator.
type PipelineDeps struct {
	Generator  ports.Generator
	Researcher ports.Researcher
	Store      ports.RecordStore
	Locker     ports.Locker
	Critics    *critic.Registry
	Prompts    *prompts.Set
	Topic      domain.Topic
	Settings   Settings
	Traces     TraceFactory
	Progress   ProgressFunc
	Logger     *slog.Logger
	Clock      func() time.Time
	NewID      func() (string, error)
}

// Orchestrator runs research, draft, critique, rewrite and enqueue for one request.
type Orchestrator struct {
	research *ResearchStage
	draft    *DraftStage
	critique *CriticStage
	rewrite  *RewriteStage
	store    ports.RecordStore
	locker   ports.Locker
	traces   TraceFactory
	progress ProgressFunc
	logger   *slog.Logger
	now      func() time.Time
	newID    func() (string, error)
	inflight *inflight
}

// NewOrchestrator validates deps and builds the stages.
func NewOrchestrator(deps PipelineDeps) (*Orchestrator, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Researcher == nil {
		return nil, fmt.Errorf("researcher is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Critics == nil || deps.Critics.Len() != len(domain.AllCritics()) {
		return nil, fmt.Errorf("critic registry must hold all %d critics", len(domain.AllCritics()))
	}

	set := deps.Prompts
	if set == nil {
		loaded, err := prompts.Load("")
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		set = loaded
	}

	logger := discardLogger(deps.Logger).With("component", "orchestrator")
	o := &Orchestrator{
		research: NewResearchStage(deps.Researcher, deps.Generator, deps.Topic, set.Get(prompts.Researcher), deps.Settings, logger),
		draft:    NewDraftStage(deps.Generator, deps.Topic, set.Get(prompts.Writer), set.Get(prompts.WritingGuide), deps.Settings),
		critique: NewCriticStage(deps.Critics, deps.Settings),
		rewrite:  NewRewriteStage(deps.Generator, set.Get(prompts.Rewriter), deps.Settings),
		store:    deps.Store,
		locker:   deps.Locker,
		traces:   deps.Traces,
		progress: deps.Progress,
		logger:   logger,
		now:      deps.Clock,
		newID:    deps.NewID,
		inflight: newInflight(),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = newUUIDv7
	}
	return o, nil
}

// Run executes the pipeline for req. A second Run for the same requester while one
// is active, in this process or another one sharing the locker, returns
// domain.ErrBusy. Any phase failure returns a *domain.Failure and
// leaves the store untouched.
func (o *Orchestrator) Run(ctx context.Context, req domain.ContentRequest) (domain.PostRecord, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" {
		return domain.PostRecord{}, fmt.Errorf("requester id is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	release, err := o.inflight.acquire(req.RequesterID, cancel)
	if err != nil {
		return domain.PostRecord{}, err
	}
	defer release()

	if o.locker != nil {
		unlock, err := o.locker.TryLock("run-" + req.RequesterID)
		if err != nil {
			return domain.PostRecord{}, fmt.Errorf("requester %s: %w", req.RequesterID, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				o.logger.Warn("release requester lock", "requester", req.RequesterID, "error", err)
			}
		}()
	}

	if req.ID == "" {
		if req.ID, err = o.newID(); err != nil {
			return domain.PostRecord{}, fmt.Errorf("generate request id: %w", err)
		}
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = o.now()
	}

	r := &run{
		orch:   o,
		req:    req,
		status: domain.StatusResearching,
		trace:  o.openTrace(req.ID),
		logger: o.logger.With("request_id", req.ID, "requester", req.RequesterID),
	}
	defer func() {
		if err := r.trace.Close(); err != nil {
			r.logger.Warn("close run trace", "error", err)
		}
	}()

	return r.execute(runCtx)
}

// Cancel stops the active run of a requester. It fails with ErrNotCancelable once
// the run has started enqueueing and with ErrNoActiveRun when nothing is running.
func (o *Orchestrator) Cancel(requesterID string) error {
	return o.inflight.cancel(strings.TrimSpace(requesterID))
}

// Active reports whether a run is in flight for the requester.
func (o *Orchestrator) Active(requesterID string) bool {
	return o.inflight.active(strings.TrimSpace(requesterID))
}

func (o *Orchestrator) openTrace(runID string) RunTrace {
	if o.traces == nil {
		return noopTrace{}
	}
	trace, err := o.traces(runID)
	if err != nil {
		o.logger.Warn("open run trace", "run_id", runID, "error", err)
		return noopTrace{}
	}
	return trace
}

// run holds the in-memory intermediates of a single pipeline execution.
type run struct {
	orch   *Orchestrator
	req    domain.ContentRequest
	status domain.Status
	trace  RunTrace
	logger *slog.Logger
}

func (r *run) execute(ctx context.Context) (domain.PostRecord, error) {
	o := r.orch

	var bundle domain.ResearchBundle
	err := r.phase(ctx, domain.StageResearch, func(ctx context.Context) (err error) {
		bundle, err = o.research.Run(ctx, r.req)
		return err
	}, "sources", func() int { return len(bundle.Sources) })
	if err != nil {
		return domain.PostRecord{}, err
	}

	if err := r.advance(domain.StageDraft, domain.StatusDrafting); err != nil {
		return domain.PostRecord{}, err
	}
	var draft domain.Draft
	err = r.phase(ctx, domain.StageDraft, func(ctx context.Context) (err error) {
		draft, err = o.draft.Run(ctx, r.req, bundle)
		return err
	}, "chars", func() int { return draft.Chars })
	if err != nil {
		return domain.PostRecord{}, err
	}

	if err := r.advance(domain.StageCritique, domain.StatusCritiquing); err != nil {
		return domain.PostRecord{}, err
	}
	var findings map[domain.CriticName]domain.CritiqueFinding
	err = r.phase(ctx, domain.StageCritique, func(ctx context.Context) (err error) {
		findings, err = o.critique.Run(ctx, draft, bundle)
		return err
	}, "findings", func() int { return len(findings) })
	if err != nil {
		return domain.PostRecord{}, err
	}
	critiques := orderedFindings(findings)

	if err := r.advance(domain.StageRewrite, domain.StatusRewriting); err != nil {
		return domain.PostRecord{}, err
	}
	var final string
	err = r.phase(ctx, domain.StageRewrite, func(ctx context.Context) (err error) {
		final, err = o.rewrite.Run(ctx, draft, critiques)
		return err
	}, "chars", func() int { return len([]rune(final)) })
	if err != nil {
		return domain.PostRecord{}, err
	}

	return r.enqueue(ctx, bundle, draft, critiques, final)
}

// phase runs fn under trace and progress reporting and converts its error into a Failure.
func (r *run) phase(ctx context.Context, stage domain.Stage, fn func(context.Context) error, metric string, value func() int) error {
	if err := ctx.Err(); err != nil {
		return r.fail(stage, err)
	}

	r.notify(stage)
	started := r.orch.now()
	r.trace.PhaseStart(stage)

	err := fn(ctx)
	elapsed := r.orch.now().Sub(started)
	if err != nil {
		r.trace.PhaseError(stage, elapsed, err)
		r.logger.Warn("phase failed", "stage", stage, "error", err)
		return r.fail(stage, err)
	}

	r.trace.PhaseDone(stage, elapsed, metric, value())
	r.logger.Debug("phase done", "stage", stage, "elapsed", elapsed)
	return nil
}

func (r *run) enqueue(ctx context.Context, bundle domain.ResearchBundle, draft domain.Draft, critiques []domain.CritiqueFinding, final string) (domain.PostRecord, error) {
	o := r.orch

	o.inflight.beginEnqueue(r.req.RequesterID)
	if err := ctx.Err(); err != nil {
		return domain.PostRecord{}, r.fail(domain.StageEnqueue, err)
	}
	if err := r.advance(domain.StageEnqueue, domain.StatusQueued); err != nil {
		return domain.PostRecord{}, err
	}

	r.notify(domain.StageEnqueue)
	r.trace.PhaseStart(domain.StageEnqueue)
	started := o.now()

	id, err := o.newID()
	if err != nil {
		return domain.PostRecord{}, r.fail(domain.StageEnqueue, fmt.Errorf("generate record id: %w", err))
	}

	record := domain.PostRecord{
		ID:          id,
		RequesterID: r.req.RequesterID,
		Status:      domain.StatusQueued,
		Brief:       r.req.Brief,
		Research:    bundle,
		Draft:       draft.Text,
		Critiques:   critiques,
		FinalText:   final,
		CreatedAt:   r.req.CreatedAt,
		QueuedAt:    o.now(),
		Origin:      r.req.Origin,
	}

	if err := o.store.Create(context.WithoutCancel(ctx), domain.CollectionQueued, record); err != nil {
		var storageErr *domain.StorageError
		if !errors.As(err, &storageErr) {
			err = &domain.StorageError{Op: "create", ID: record.ID, Err: err}
		}
		r.trace.PhaseError(domain.StageEnqueue, o.now().Sub(started), err)
		r.logger.Error("enqueue failed", "record_id", record.ID, "error", err)
		return domain.PostRecord{}, r.fail(domain.StageEnqueue, err)
	}

	r.trace.PhaseDone(domain.StageEnqueue, o.now().Sub(started), "record_id", record.ID)
	r.trace.Done(record)
	r.logger.Info("post queued", "record_id", record.ID, "chars", len([]rune(final)))
	return record, nil
}

func (r *run) advance(stage domain.Stage, next domain.Status) error {
	if err := domain.ValidateTransition(r.status, next); err != nil {
		return r.fail(stage, err)
	}
	r.status = next
	return nil
}

func (r *run) notify(stage domain.Stage) {
	if r.orch.progress != nil {
		r.orch.progress(stage, r.status)
	}
}

func (r *run) fail(stage domain.Stage, err error) error {
	return &domain.Failure{
		RequestID: r.req.ID,
		Status:    r.status,
		Stage:     stage,
		Err:       err,
	}
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
