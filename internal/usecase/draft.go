package usecase

import (
	"context"
	"fmt"
	"strings"

	"PostForge/internal/domain"
	"PostForge/internal/markup"
	"PostForge/internal/ports"
)

const (
	draftMaxTokens   = 2048
	draftTemperature = 0.7
)

// DraftStage writes the first version of a post.
type DraftStage struct {
	generator ports.Generator
	topic     domain.Topic
	system    string
	settings  Settings
}

// NewDraftStage composes the writer prompt with the writing guide.
func NewDraftStage(gen ports.Generator, topic domain.Topic, writer, guide string, settings Settings) *DraftStage {
	system := writer
	if guide != "" {
		system += "\n\n# WRITING GUIDE\n\n" + guide
	}
	return &DraftStage{generator: gen, topic: topic, system: system, settings: settings}
}

// Run makes one generation call and checks the visible length locally.
func (s *DraftStage) Run(ctx context.Context, req domain.ContentRequest, research domain.ResearchBundle) (domain.Draft, error) {
	if s.generator == nil {
		return domain.Draft{}, domain.NewStageError(domain.StageDraft, domain.ErrGeneration,
			fmt.Errorf("generation collaborator is not configured"))
	}

	callCtx, cancel := withTimeout(ctx, s.settings.GenerationTimeout)
	defer cancel()

	response, err := s.generator.Generate(callCtx, ports.Prompt{
		System:      s.system,
		User:        s.buildMessage(req.Brief, research),
		MaxTokens:   draftMaxTokens,
		Temperature: draftTemperature,
	})
	if err != nil {
		return domain.Draft{}, domain.NewStageError(domain.StageDraft, domain.ErrGeneration, err)
	}

	text := strings.TrimSpace(response)
	chars := markup.VisibleLength(text)
	if chars < s.settings.MinDraftChars || text == "" {
		return domain.Draft{}, domain.NewStageError(domain.StageDraft, domain.ErrDraftTooShort,
			fmt.Errorf("draft has %d visible characters, need %d", chars, s.settings.MinDraftChars))
	}

	return domain.Draft{
		Text:     text,
		Words:    markup.WordCount(text),
		Chars:    chars,
		BundleID: research.RequestID,
	}, nil
}

func (s *DraftStage) buildMessage(brief domain.Brief, research domain.ResearchBundle) string {
	var b strings.Builder
	b.WriteString("# Task\n\nWrite a post for the channel")
	if s.topic.ChannelName != "" {
		fmt.Fprintf(&b, " %q", s.topic.ChannelName)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "**Content type:** %s\n", s.topic.ContentTypeLabel(brief.TopicAngle))
	fmt.Fprintf(&b, "**Audience:** %s\n", s.topic.AudienceLabel(brief.Audience))
	fmt.Fprintf(&b, "**Key takeaway:** %s\n", brief.KeyTakeaway)
	if brief.ExtraPoints != "" {
		fmt.Fprintf(&b, "**Extra points:** %s\n", brief.ExtraPoints)
	}

	b.WriteString("\n# Research\n\n")
	if research.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", research.Summary)
	}
	if len(research.Notes) > 0 {
		b.WriteString("## Sources\n\n")
		for _, note := range research.Notes {
			fmt.Fprintf(&b, "- %s (%s)\n", note.Title, note.URL)
			for _, point := range note.KeyPoints {
				fmt.Fprintf(&b, "  - %s\n", point)
			}
		}
		b.WriteString("\n")
	} else {
		b.WriteString("## Sources\n\n")
		for _, src := range research.Sources {
			fmt.Fprintf(&b, "- %s (%s): %s\n", src.Title, src.URL, src.Summary)
		}
		b.WriteString("\n")
	}
	if len(research.KeyStats) > 0 {
		b.WriteString("## Key stats\n\n")
		for _, stat := range research.KeyStats {
			fmt.Fprintf(&b, "- %s (%s)\n", stat.Stat, stat.SourceURL)
		}
		b.WriteString("\n")
	}
	if len(research.Examples) > 0 {
		b.WriteString("## Examples\n\n")
		for _, ex := range research.Examples {
			fmt.Fprintf(&b, "- %s: %s. %s\n", ex.Company, ex.Situation, ex.Outcome)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Requirements\n\n")
	b.WriteString("- Write in the first person, with a personal tone.\n")
	b.WriteString("- Cite facts inline with links to the source URLs above.\n")
	if s.settings.MinDraftChars > 0 {
		fmt.Fprintf(&b, "- At least %d characters of visible text.\n", s.settings.MinDraftChars)
	}
	b.WriteString("- Use only Telegram HTML tags: <b>, <i>, <a href>, <code>, <blockquote>.\n")
	return b.String()
}
