package usecase

import (
	"context"
	"fmt"
	"strings"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

const (
	rewriteMaxTokens   = 2048
	rewriteTemperature = 0.5
)

// RewriteStage resolves every critique issue in one generation call.
type RewriteStage struct {
	generator ports.Generator
	system    string
	settings  Settings
}

// NewRewriteStage builds the rewrite step.
func NewRewriteStage(gen ports.Generator, system string, settings Settings) *RewriteStage {
	return &RewriteStage{generator: gen, system: system, settings: settings}
}

// Run returns the final text. The critique is not repeated on the result.
func (s *RewriteStage) Run(ctx context.Context, draft domain.Draft, findings []domain.CritiqueFinding) (string, error) {
	if s.generator == nil {
		return "", domain.NewStageError(domain.StageRewrite, domain.ErrRewrite,
			fmt.Errorf("generation collaborator is not configured"))
	}

	callCtx, cancel := withTimeout(ctx, s.settings.GenerationTimeout)
	defer cancel()

	response, err := s.generator.Generate(callCtx, ports.Prompt{
		System:      s.system,
		User:        buildRewriteMessage(draft, findings),
		MaxTokens:   rewriteMaxTokens,
		Temperature: rewriteTemperature,
	})
	if err != nil {
		return "", domain.NewStageError(domain.StageRewrite, domain.ErrRewrite, err)
	}

	text := strings.TrimSpace(response)
	if text == "" {
		return "", domain.NewStageError(domain.StageRewrite, domain.ErrRewrite,
			fmt.Errorf("generator returned empty text"))
	}
	return text, nil
}

func buildRewriteMessage(draft domain.Draft, findings []domain.CritiqueFinding) string {
	var b strings.Builder
	b.WriteString("# Draft\n\n")
	b.WriteString(draft.Text)
	b.WriteString("\n\n# Critique\n\n")

	for _, f := range findings {
		fmt.Fprintf(&b, "## %s (%s)\n\n", f.Critic, f.Verdict)
		if len(f.Issues) == 0 {
			b.WriteString("No issues.\n\n")
			continue
		}
		for i, issue := range f.Issues {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, issue.Severity, issue.Problem)
			if issue.Location != "" {
				fmt.Fprintf(&b, "   Location: %s\n", issue.Location)
			}
			if issue.Suggestion != "" {
				fmt.Fprintf(&b, "   Suggestion: %s\n", issue.Suggestion)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("# Task\n\nRewrite the draft so that every issue above is resolved. Return only the final post text.")
	return b.String()
}
