package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"PostForge/internal/domain"
	"PostForge/internal/extract"
	"PostForge/internal/ports"
)

const (
	planResultsPerQuery = 3
	planMaxSources      = 15
	planSnippetRunes    = 300
	planMaxTokens       = 4096
	planTemperature     = 0.7
)

// PlannerDeps wires the content planner.
type PlannerDeps struct {
	Generator  ports.Generator
	Researcher ports.Researcher
	Plans      ports.PlanStore
	Topic      domain.Topic
	System     string
	Settings   Settings
	Logger     *slog.Logger
	Clock      func() time.Time
	NewID      func() (string, error)
}

// Planner builds weekly content plans and tracks which topics were used.
type Planner struct {
	generator  ports.Generator
	researcher ports.Researcher
	plans      ports.PlanStore
	topic      domain.Topic
	system     string
	settings   Settings
	logger     *slog.Logger
	now        func() time.Time
	newID      func() (string, error)

	mu sync.Mutex
}

// NewPlanner validates deps.
func NewPlanner(deps PlannerDeps) (*Planner, error) {
	if deps.Generator == nil || deps.Researcher == nil || deps.Plans == nil {
		return nil, fmt.Errorf("planner needs a generator, a researcher and a plan store")
	}
	p := &Planner{
		generator:  deps.Generator,
		researcher: deps.Researcher,
		plans:      deps.Plans,
		topic:      deps.Topic,
		system:     deps.System,
		settings:   deps.Settings,
		logger:     discardLogger(deps.Logger).With("component", "planner"),
		now:        deps.Clock,
		newID:      deps.NewID,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = newUUIDv7
	}
	return p, nil
}

// Generate researches the topic's trend queries and saves a new seven-day plan.
func (p *Planner) Generate(ctx context.Context) (domain.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sources := p.trends(ctx)
	days, err := p.ask(ctx, p.generateMessage(sources))
	if err != nil {
		return domain.Plan{}, err
	}

	id, err := p.newID()
	if err != nil {
		return domain.Plan{}, fmt.Errorf("generate plan id: %w", err)
	}
	for i := range days {
		days[i].ID = i
		days[i].Status = domain.TopicPending
	}

	plan := domain.Plan{ID: id, CreatedAt: p.now(), Days: days}
	if err := p.plans.Save(ctx, plan); err != nil {
		return domain.Plan{}, fmt.Errorf("save plan: %w", err)
	}
	p.logger.Info("content plan generated", "plan_id", plan.ID, "days", len(days))
	return plan, nil
}

// Refine regenerates the latest plan with editor feedback. Topics already queued or
// used keep their status and timestamps, and the plan keeps its ID.
func (p *Planner) Refine(ctx context.Context, feedback string) (domain.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.plans.Latest(ctx)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("load latest plan: %w", err)
	}

	sources := p.trends(ctx)
	days, err := p.ask(ctx, p.refineMessage(current, feedback, sources))
	if err != nil {
		return domain.Plan{}, err
	}

	preserved := make(map[int]domain.PlanTopic, len(current.Days))
	for _, day := range current.Days {
		if day.Status == domain.TopicQueued || day.Status == domain.TopicUsed {
			preserved[day.ID] = day
		}
	}
	for i := range days {
		days[i].ID = i
		days[i].Status = domain.TopicPending
		if old, ok := preserved[i]; ok {
			days[i].Status = old.Status
			days[i].QueuedAt = old.QueuedAt
			days[i].UsedAt = old.UsedAt
		}
	}

	refinedAt := p.now()
	current.Days = days
	current.RefinedAt = &refinedAt
	if err := p.plans.Save(ctx, current); err != nil {
		return domain.Plan{}, fmt.Errorf("save plan: %w", err)
	}
	p.logger.Info("content plan refined", "plan_id", current.ID)
	return current, nil
}

// Latest returns the most recent plan.
func (p *Planner) Latest(ctx context.Context) (domain.Plan, error) {
	return p.plans.Latest(ctx)
}

// NextTopic returns the first pending topic of the latest plan. ok is false when every
// topic is queued or used, or when no plan exists yet.
func (p *Planner) NextTopic(ctx context.Context) (domain.PlanRef, domain.PlanTopic, bool, error) {
	plan, err := p.plans.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PlanRef{}, domain.PlanTopic{}, false, nil
	}
	if err != nil {
		return domain.PlanRef{}, domain.PlanTopic{}, false, fmt.Errorf("load latest plan: %w", err)
	}
	for _, day := range plan.Days {
		if day.Status == domain.TopicPending {
			return domain.PlanRef{PlanID: plan.ID, TopicID: day.ID}, day, true, nil
		}
	}
	return domain.PlanRef{}, domain.PlanTopic{}, false, nil
}

// MarkQueued flags a topic as taken by a pipeline run.
func (p *Planner) MarkQueued(ctx context.Context, ref domain.PlanRef) error {
	return p.mark(ctx, ref, func(t *domain.PlanTopic, now time.Time) {
		t.Status = domain.TopicQueued
		t.QueuedAt = &now
	})
}

// MarkPending puts a topic back, for example after a failed run.
func (p *Planner) MarkPending(ctx context.Context, ref domain.PlanRef) error {
	return p.mark(ctx, ref, func(t *domain.PlanTopic, _ time.Time) {
		t.Status = domain.TopicPending
		t.QueuedAt = nil
	})
}

// MarkUsed flags a topic whose post was published.
func (p *Planner) MarkUsed(ctx context.Context, ref domain.PlanRef) error {
	return p.mark(ctx, ref, func(t *domain.PlanTopic, now time.Time) {
		t.Status = domain.TopicUsed
		t.UsedAt = &now
	})
}

func (p *Planner) mark(ctx context.Context, ref domain.PlanRef, apply func(*domain.PlanTopic, time.Time)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	plan, err := p.plans.Get(ctx, ref.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", ref.PlanID, err)
	}
	for i := range plan.Days {
		if plan.Days[i].ID != ref.TopicID {
			continue
		}
		apply(&plan.Days[i], p.now())
		if err := p.plans.Save(ctx, plan); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
		return nil
	}
	return fmt.Errorf("topic %d in plan %s: %w", ref.TopicID, ref.PlanID, domain.ErrNotFound)
}

// trends runs every research query; failed queries are skipped.
func (p *Planner) trends(ctx context.Context) []domain.Source {
	var sources []domain.Source
	for _, query := range p.topic.ResearchQueries {
		callCtx, cancel := withTimeout(ctx, p.settings.ResearchTimeout)
		results, err := p.researcher.Search(callCtx, ports.SearchQuery{
			Query:      query,
			Depth:      ports.DepthAdvanced,
			MaxResults: planResultsPerQuery,
			Topic:      "news",
			TimeRange:  "week",
		})
		cancel()
		if err != nil {
			p.logger.Warn("trend search failed", "query", query, "error", err)
			continue
		}
		sources = mergeByURL(sources, usable(results))
	}
	if len(sources) > planMaxSources {
		sources = sources[:planMaxSources]
	}
	return sources
}

type planResponse struct {
	Days []domain.PlanTopic `json:"days"`
}

func (p *Planner) ask(ctx context.Context, message string) ([]domain.PlanTopic, error) {
	callCtx, cancel := withTimeout(ctx, p.settings.GenerationTimeout)
	defer cancel()

	response, err := p.generator.Generate(callCtx, ports.Prompt{
		System:      p.system,
		User:        message,
		MaxTokens:   planMaxTokens,
		Temperature: planTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	var parsed planResponse
	if err := extract.JSON(response, &parsed); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(parsed.Days) == 0 {
		return nil, fmt.Errorf("plan has no days")
	}
	for i := range parsed.Days {
		day := &parsed.Days[i]
		if day.TypeLabel == "" {
			day.TypeLabel = p.topic.ContentTypeLabel(day.Type)
		}
		day.QueuedAt = nil
		day.UsedAt = nil
	}
	return parsed.Days, nil
}

func (p *Planner) generateMessage(sources []domain.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Current news and trends: %s\n\n", p.topic.ChannelName)
	writePlanSources(&b, sources)
	b.WriteString("# Task\n\n")
	b.WriteString("Using these sources, write a content plan for 7 days (Monday to Sunday).\n")
	p.writeChannel(&b)
	b.WriteString("One post per day. Alternate content types. Use concrete data from the sources.\n")
	return b.String()
}

func (p *Planner) refineMessage(current domain.Plan, feedback string, sources []domain.Source) string {
	var b strings.Builder
	b.WriteString("# Current content plan\n\n")
	for _, day := range current.Days {
		fmt.Fprintf(&b, "**%s** %s: %s\n", day.Day, day.TypeLabel, day.Theme)
	}
	fmt.Fprintf(&b, "\n# Editor feedback\n\n%s\n\n", strings.TrimSpace(feedback))
	b.WriteString("# Fresh sources to replace weak topics\n\n")
	writePlanSources(&b, sources)
	b.WriteString("# Task\n\n")
	b.WriteString("Revise the plan using the feedback and the fresh sources. Keep the strong topics and replace the weak ones.\n")
	p.writeChannel(&b)
	b.WriteString("Return the updated JSON in the same format.\n")
	return b.String()
}

func (p *Planner) writeChannel(b *strings.Builder) {
	if p.topic.ChannelDescription != "" {
		fmt.Fprintf(b, "Channel: %s\n", p.topic.ChannelDescription)
	}
	if len(p.topic.ContentTypes) > 0 {
		b.WriteString("Content types:\n")
		for _, opt := range p.topic.ContentTypes {
			fmt.Fprintf(b, "- %s: %s\n", opt.Key, opt.Label)
		}
	}
	if len(p.topic.Audiences) > 0 {
		b.WriteString("Audiences:\n")
		for _, opt := range p.topic.Audiences {
			fmt.Fprintf(b, "- %s: %s\n", opt.Key, opt.Label)
		}
	}
}

func writePlanSources(b *strings.Builder, sources []domain.Source) {
	for i, src := range sources {
		content := src.Summary
		if r := []rune(content); len(r) > planSnippetRunes {
			content = string(r[:planSnippetRunes])
		}
		fmt.Fprintf(b, "### Source %d\n**URL:** %s\n**Title:** %s\n**Content:** %s\n\n", i+1, src.URL, src.Title, content)
	}
}
