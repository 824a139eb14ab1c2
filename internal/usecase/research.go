package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"PostForge/internal/domain"
	"PostForge/internal/extract"
	"PostForge/internal/markup"
	"PostForge/internal/ports"
)

const researchMaxTokens = 8192

// ResearchStage turns a brief into a ResearchBundle.
type ResearchStage struct {
	researcher ports.Researcher
	generator  ports.Generator
	topic      domain.Topic
	system     string
	settings   Settings
	logger     *slog.Logger
}

// NewResearchStage wires the research and generation collaborators.
func NewResearchStage(researcher ports.Researcher, gen ports.Generator, topic domain.Topic, system string, settings Settings, log *slog.Logger) *ResearchStage {
	return &ResearchStage{
		researcher: researcher,
		generator:  gen,
		topic:      topic,
		system:     system,
		settings:   settings,
		logger:     discardLogger(log),
	}
}

// Run searches the web for the brief and synthesizes the results. It makes a single
// attempt; retries belong to the caller.
func (s *ResearchStage) Run(ctx context.Context, req domain.ContentRequest) (domain.ResearchBundle, error) {
	sources, err := s.collect(ctx, req.Brief)
	if err != nil {
		return domain.ResearchBundle{}, domain.NewStageError(domain.StageResearch, domain.ErrResearchUnavailable, err)
	}
	if len(sources) == 0 {
		return domain.ResearchBundle{}, domain.NewStageError(domain.StageResearch, domain.ErrResearchUnavailable,
			fmt.Errorf("no usable sources for %q", req.Brief.KeyTakeaway))
	}

	bundle, err := s.synthesize(ctx, req, sources)
	if err != nil {
		return domain.ResearchBundle{}, domain.NewStageError(domain.StageResearch, domain.ErrSynthesis, err)
	}
	return bundle, nil
}

func (s *ResearchStage) collect(ctx context.Context, brief domain.Brief) ([]domain.Source, error) {
	limit := s.settings.sourceLimit()
	query := s.topic.SearchQueryFor(brief.TopicAngle, brief.KeyTakeaway, brief.ExtraPoints)

	results, err := s.search(ctx, ports.SearchQuery{
		Query:      query,
		Depth:      ports.DepthAdvanced,
		MaxResults: limit,
		Topic:      "news",
		TimeRange:  "month",
	})
	if err != nil {
		return nil, fmt.Errorf("news search: %w", err)
	}

	sources := usable(results)
	if len(sources) < minSources {
		s.logger.Debug("news search returned few sources, widening", "count", len(sources))
		general, gErr := s.search(ctx, ports.SearchQuery{
			Query:      query,
			Depth:      ports.DepthAdvanced,
			MaxResults: limit,
			Topic:      "general",
			TimeRange:  "year",
		})
		if gErr != nil {
			s.logger.Warn("general search failed", "error", gErr)
		}
		sources = mergeByURL(sources, usable(general))
	}

	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

func (s *ResearchStage) search(ctx context.Context, q ports.SearchQuery) ([]domain.Source, error) {
	if s.researcher == nil {
		return nil, fmt.Errorf("research collaborator is not configured")
	}
	callCtx, cancel := withTimeout(ctx, s.settings.ResearchTimeout)
	defer cancel()
	return s.researcher.Search(callCtx, q)
}

type synthesis struct {
	Sources  []domain.SourceNote `json:"sources"`
	KeyStats []domain.KeyStat    `json:"key_stats"`
	Examples []domain.Example    `json:"examples"`
	Summary  string              `json:"summary"`
}

func (s *ResearchStage) synthesize(ctx context.Context, req domain.ContentRequest, sources []domain.Source) (domain.ResearchBundle, error) {
	if s.generator == nil {
		return domain.ResearchBundle{}, fmt.Errorf("generation collaborator is not configured")
	}

	callCtx, cancel := withTimeout(ctx, s.settings.GenerationTimeout)
	defer cancel()

	response, err := s.generator.Generate(callCtx, ports.Prompt{
		System:    s.system,
		User:      s.buildMessage(req.Brief, sources),
		MaxTokens: researchMaxTokens,
	})
	if err != nil {
		return domain.ResearchBundle{}, fmt.Errorf("generate synthesis: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return domain.ResearchBundle{}, fmt.Errorf("generator returned empty synthesis")
	}

	var parsed synthesis
	if err := extract.JSON(response, &parsed); err != nil {
		return domain.ResearchBundle{}, fmt.Errorf("parse synthesis: %w", err)
	}
	parsed.Summary = strings.TrimSpace(parsed.Summary)
	if parsed.Summary == "" && len(parsed.Sources) == 0 {
		return domain.ResearchBundle{}, fmt.Errorf("synthesis has no content")
	}

	return domain.ResearchBundle{
		RequestID: req.ID,
		Sources:   sources,
		Summary:   parsed.Summary,
		Notes:     parsed.Sources,
		KeyStats:  parsed.KeyStats,
		Examples:  parsed.Examples,
	}, nil
}

func (s *ResearchStage) buildMessage(brief domain.Brief, sources []domain.Source) string {
	var b strings.Builder
	b.WriteString("# Post context\n\n")
	fmt.Fprintf(&b, "**Content type:** %s\n", s.topic.ContentTypeLabel(brief.TopicAngle))
	fmt.Fprintf(&b, "**Audience:** %s\n", s.topic.AudienceLabel(brief.Audience))
	fmt.Fprintf(&b, "**Key takeaway:** %s\n", brief.KeyTakeaway)
	if brief.ExtraPoints != "" {
		fmt.Fprintf(&b, "**Extra points:** %s\n", brief.ExtraPoints)
	}

	b.WriteString("\n# Sources found\n\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "### Source %d\n**URL:** %s\n**Title:** %s\n**Content:** %s\n**Relevance score:** %.2f\n\n",
			i+1, src.URL, src.Title, src.Summary, src.Score)
	}

	b.WriteString("# Task\n\nAnalyse the sources and return the structured JSON report.")
	return b.String()
}

// usable keeps sources that have both a URL and readable content.
func usable(results []domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(results))
	for _, src := range results {
		src.URL = strings.TrimSpace(src.URL)
		src.Summary = markup.PlainText(src.Summary)
		src.Title = strings.TrimSpace(src.Title)
		if src.URL == "" || src.Summary == "" {
			continue
		}
		out = append(out, src)
	}
	return out
}

func mergeByURL(base, extra []domain.Source) []domain.Source {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]domain.Source, 0, len(base)+len(extra))
	for _, group := range [][]domain.Source{base, extra} {
		for _, src := range group {
			if _, dup := seen[src.URL]; dup {
				continue
			}
			seen[src.URL] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}
