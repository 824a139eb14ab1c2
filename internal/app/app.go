package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"PostForge/internal/config"
	"PostForge/internal/critic"
	"PostForge/internal/domain"
	"PostForge/internal/infrastructure/llm"
	"PostForge/internal/infrastructure/lock"
	"PostForge/internal/infrastructure/research"
	"PostForge/internal/infrastructure/scheduler"
	"PostForge/internal/infrastructure/storage"
	"PostForge/internal/infrastructure/telegram"
	"PostForge/internal/logging"
	"PostForge/internal/ports"
	"PostForge/internal/prompts"
	"PostForge/internal/usecase"
)

const stopTimeout = 30 * time.Second

// ErrNoPendingTopic is returned by Autopost when the latest plan has nothing left.
var ErrNoPendingTopic = errors.New("no pending topic in the content plan")

// ErrNotQueued is returned by Edit for records that were already published.
var ErrNotQueued = errors.New("record is not queued")

// Components are the driven adapters the application runs on. Nil Generator or
// Researcher disables the pipeline and the planner; a nil Channel disables publishing.
type Components struct {
	Store      ports.RecordStore
	Plans      ports.PlanStore
	Locker     ports.Locker
	Generator  ports.Generator
	Researcher ports.Researcher
	Channel    ports.Channel
	Operator   ports.OperatorNotifier
	Driver     ports.Scheduler
	Traces     usecase.TraceFactory
}

// Options tune behaviour that depends on the caller.
type Options struct {
	Progress usecase.ProgressFunc
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  ports.RecordStore
	plans  ports.PlanStore
	locker ports.Locker

	orchestrator *usecase.Orchestrator
	planner      *usecase.Planner
	publisher    *usecase.PublishScheduler

	pipelineErr error
	publishErr  error
	closers     []func() error
}

// New opens storage and builds every collaborator the configuration allows.
func New(cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	var comps Components
	var closers []func() error

	lockDir := cfg.Storage.Dir
	if cfg.Storage.Driver == config.DriverSQLite {
		lockDir = filepath.Dir(cfg.Storage.SQLitePath)
	}
	locker, err := lock.NewFileLocker(lockDir)
	if err != nil {
		return nil, fmt.Errorf("open lock dir: %w", err)
	}
	comps.Locker = locker

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		comps.Store, comps.Plans = db, db.Plans()
		closers = append(closers, db.Close)
	default:
		files, err := storage.NewFileStore(cfg.Storage.Dir, baseLogger)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		plans, err := storage.NewFilePlanStore(cfg.Storage.PlansDir)
		if err != nil {
			return nil, fmt.Errorf("open plan store: %w", err)
		}
		comps.Store, comps.Plans = files, plans
	}

	pipelineErr := cfg.ValidatePipeline()
	if pipelineErr == nil {
		gen, err := newGenerator(cfg.Generation)
		if err != nil {
			pipelineErr = err
		} else {
			comps.Generator = gen
			comps.Researcher = research.NewTavilyClient(cfg.Research)
		}
	}

	publishErr := cfg.ValidatePublishing()
	if publishErr == nil {
		comps.Channel = telegram.NewChannel(cfg.Telegram)
		comps.Operator = telegram.NewOperator(cfg.Telegram)
		comps.Driver = scheduler.NewDailyTrigger(scheduler.Schedule{
			Hour:     cfg.Scheduler.PublishHour,
			Minute:   cfg.Scheduler.PublishMinute,
			Location: cfg.Scheduler.Location(),
		})
	}

	if dir := cfg.Logging.TraceDir; dir != "" {
		comps.Traces = func(runID string) (usecase.RunTrace, error) {
			trace, err := logging.OpenRunTrace(dir, runID)
			if err != nil {
				return nil, err
			}
			return trace, nil
		}
	}

	a, err := Assemble(cfg, baseLogger, comps, opts)
	if err != nil {
		_ = closeAll(closers)
		return nil, err
	}
	a.closers = closers
	if pipelineErr != nil {
		a.pipelineErr = pipelineErr
	}
	if publishErr != nil {
		a.publishErr = publishErr
	}
	return a, nil
}

// Assemble builds the use cases on top of already constructed adapters.
func Assemble(cfg config.Config, logger *slog.Logger, comps Components, opts Options) (*Application, error) {
	if comps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	set, err := prompts.Load(cfg.Pipeline.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	settings := usecase.Settings{
		MaxSources:        cfg.Pipeline.MaxSources,
		MinDraftChars:     cfg.Pipeline.MinDraftChars,
		ResearchTimeout:   cfg.Pipeline.Timeouts.Research,
		GenerationTimeout: cfg.Pipeline.Timeouts.Generation,
	}

	a := &Application{cfg: cfg, logger: logger, store: comps.Store, plans: comps.Plans, locker: comps.Locker}

	if comps.Generator != nil && comps.Researcher != nil {
		registry, err := critic.NewDefaultRegistry(comps.Generator, set)
		if err != nil {
			return nil, fmt.Errorf("build critics: %w", err)
		}
		a.orchestrator, err = usecase.NewOrchestrator(usecase.PipelineDeps{
			Generator:  comps.Generator,
			Researcher: comps.Researcher,
			Store:      comps.Store,
			Locker:     comps.Locker,
			Critics:    registry,
			Prompts:    set,
			Topic:      cfg.Topic,
			Settings:   settings,
			Traces:     comps.Traces,
			Progress:   opts.Progress,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build orchestrator: %w", err)
		}
		if comps.Plans != nil {
			a.planner, err = usecase.NewPlanner(usecase.PlannerDeps{
				Generator:  comps.Generator,
				Researcher: comps.Researcher,
				Plans:      comps.Plans,
				Topic:      cfg.Topic,
				System:     set.Get(prompts.ContentPlanner),
				Settings:   settings,
				Logger:     logger,
			})
			if err != nil {
				return nil, fmt.Errorf("build planner: %w", err)
			}
		}
	} else {
		a.pipelineErr = fmt.Errorf("content pipeline is not configured")
	}

	if comps.Channel != nil {
		a.publisher, err = usecase.NewPublishScheduler(usecase.PublisherDeps{
			Store:       comps.Store,
			Channel:     comps.Channel,
			Operator:    comps.Operator,
			Driver:      comps.Driver,
			Locker:      comps.Locker,
			Retry:       usecase.RetryPolicy{Attempts: cfg.Publish.Attempts, Backoff: cfg.Publish.Backoff},
			OnPublished: a.onPublished,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build publisher: %w", err)
		}
	} else {
		a.publishErr = fmt.Errorf("publishing is not configured")
	}

	return a, nil
}

func newGenerator(cfg config.GenerationConfig) (ports.Generator, error) {
	var gen ports.Generator
	switch cfg.Provider {
	case config.ProviderAnthropic:
		client, err := llm.NewAnthropicClient(cfg.Anthropic)
		if err != nil {
			return nil, err
		}
		gen = client
	case config.ProviderChatGPT:
		gen = llm.NewChatGPTClient(cfg.ChatGPT)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	return llm.NewRateLimited(gen, cfg.RequestsPerMinute, 1), nil
}

// Close releases storage handles.
func (a *Application) Close() error {
	return closeAll(a.closers)
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Post runs the pipeline for a human-supplied brief.
func (a *Application) Post(ctx context.Context, requesterID string, brief domain.Brief) (domain.PostRecord, error) {
	if a.orchestrator == nil {
		return domain.PostRecord{}, a.pipelineErr
	}
	return a.orchestrator.Run(ctx, domain.ContentRequest{RequesterID: requesterID, Brief: brief})
}

// Cancel stops the active run of a requester.
func (a *Application) Cancel(requesterID string) error {
	if a.orchestrator == nil {
		return a.pipelineErr
	}
	return a.orchestrator.Cancel(requesterID)
}

// Autopost takes the next pending plan topic and runs the pipeline for it. The topic
// returns to pending when the run does not produce a queued record.
func (a *Application) Autopost(ctx context.Context, requesterID string) (domain.PostRecord, error) {
	if a.orchestrator == nil || a.planner == nil {
		return domain.PostRecord{}, a.pipelineErr
	}

	ref, topic, ok, err := a.planner.NextTopic(ctx)
	if err != nil {
		return domain.PostRecord{}, err
	}
	if !ok {
		return domain.PostRecord{}, ErrNoPendingTopic
	}
	if err := a.planner.MarkQueued(ctx, ref); err != nil {
		return domain.PostRecord{}, fmt.Errorf("mark topic queued: %w", err)
	}

	log := a.logger.With("component", "autopost", "plan_id", ref.PlanID, "topic_id", ref.TopicID)
	log.Info("autopost started", "theme", topic.Theme)

	rec, err := a.orchestrator.Run(ctx, domain.ContentRequest{
		RequesterID: requesterID,
		Brief:       topic.Brief(),
		Origin:      &ref,
	})
	if err != nil {
		if markErr := a.planner.MarkPending(context.WithoutCancel(ctx), ref); markErr != nil {
			log.Warn("return topic to pending", "error", markErr)
		}
		return domain.PostRecord{}, err
	}
	return rec, nil
}

// Edit replaces the final text of a queued record. It holds the queue lock so a
// publish cycle cannot deliver the record while it is being rewritten.
func (a *Application) Edit(ctx context.Context, id, text string) (domain.PostRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.PostRecord{}, fmt.Errorf("final text must not be empty")
	}

	if a.locker != nil {
		unlock, err := a.locker.Lock(ctx, usecase.QueueLock)
		if err != nil {
			return domain.PostRecord{}, fmt.Errorf("wait for queue lock: %w", err)
		}
		defer func() { _ = unlock() }()
	}

	rec, err := a.store.Update(ctx, id, domain.CollectionQueued, func(r *domain.PostRecord) {
		r.FinalText = text
	})
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return rec, err
	}
	if _, collection, getErr := a.store.Get(ctx, id); getErr == nil && collection != domain.CollectionQueued {
		return domain.PostRecord{}, fmt.Errorf("edit %s: %w", id, ErrNotQueued)
	}
	return domain.PostRecord{}, err
}

// Get returns one record and its collection.
func (a *Application) Get(ctx context.Context, id string) (domain.PostRecord, domain.Collection, error) {
	return a.store.Get(ctx, id)
}

// ListQueue returns queued records in publish order.
func (a *Application) ListQueue(ctx context.Context) ([]domain.PostRecord, error) {
	return a.store.List(ctx, domain.CollectionQueued)
}

// ListPublished returns published records.
func (a *Application) ListPublished(ctx context.Context) ([]domain.PostRecord, error) {
	return a.store.List(ctx, domain.CollectionPublished)
}

// PublishNow runs one publish cycle outside the daily trigger.
func (a *Application) PublishNow(ctx context.Context) (usecase.PublishResult, error) {
	if a.publisher == nil {
		return usecase.PublishResult{}, a.publishErr
	}
	return a.publisher.PublishNext(ctx)
}

// GeneratePlan researches trends and stores a new content plan.
func (a *Application) GeneratePlan(ctx context.Context) (domain.Plan, error) {
	if a.planner == nil {
		return domain.Plan{}, a.pipelineErr
	}
	return a.planner.Generate(ctx)
}

// RefinePlan regenerates the latest plan with operator feedback.
func (a *Application) RefinePlan(ctx context.Context, feedback string) (domain.Plan, error) {
	if a.planner == nil {
		return domain.Plan{}, a.pipelineErr
	}
	return a.planner.Refine(ctx, feedback)
}

// LatestPlan returns the current content plan.
func (a *Application) LatestPlan(ctx context.Context) (domain.Plan, error) {
	if a.plans == nil {
		return domain.Plan{}, fmt.Errorf("plan store is not configured")
	}
	return a.plans.Latest(ctx)
}

// Serve arms the daily publish trigger and blocks until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	if a.publisher == nil {
		return a.publishErr
	}
	if err := a.publisher.Start(ctx); err != nil {
		return fmt.Errorf("start publisher: %w", err)
	}
	a.logger.Info("publisher armed",
		"hour", a.cfg.Scheduler.PublishHour,
		"minute", a.cfg.Scheduler.PublishMinute,
		"timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := a.publisher.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop publisher: %w", err)
	}
	return nil
}

func (a *Application) onPublished(ctx context.Context, rec domain.PostRecord) error {
	if rec.Origin == nil || a.planner == nil {
		return nil
	}
	return a.planner.MarkUsed(ctx, *rec.Origin)
}
