package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"PostForge/internal/domain"
	"PostForge/internal/extract"
	"PostForge/internal/ports"
	"PostForge/internal/prompts"
)

const critiqueMaxTokens = 2048

// PromptCritic evaluates a draft with a single generation call.
type PromptCritic struct {
	name         domain.CriticName
	system       string
	generator    ports.Generator
	withResearch bool
}

var _ Critic = (*PromptCritic)(nil)

// NewPromptCritic builds a generation-backed critic. withResearch attaches the research
// bundle to the request, which the fact checker needs.
func NewPromptCritic(name domain.CriticName, system string, gen ports.Generator, withResearch bool) *PromptCritic {
	return &PromptCritic{
		name:         name,
		system:       system,
		generator:    gen,
		withResearch: withResearch,
	}
}

// NewDefaultRegistry registers the four standard critics backed by gen.
func NewDefaultRegistry(gen ports.Generator, set *prompts.Set) (*Registry, error) {
	format := set.Get(prompts.CriticFormat)
	reg := NewRegistry()
	for _, name := range domain.AllCritics() {
		system := set.Get(prompts.Critic(string(name)))
		if system == "" {
			return nil, fmt.Errorf("missing prompt for critic %s", name)
		}
		if format != "" {
			system += "\n\n" + format
		}
		if err := reg.Register(NewPromptCritic(name, system, gen, name == domain.CriticFactChecker)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Name identifies the critic inside the registry.
func (c *PromptCritic) Name() domain.CriticName {
	return c.name
}

// Evaluate asks the generator for a JSON report and normalizes it.
func (c *PromptCritic) Evaluate(ctx context.Context, draft domain.Draft, research domain.ResearchBundle) (domain.CritiqueFinding, error) {
	if c.generator == nil {
		return domain.CritiqueFinding{}, fmt.Errorf("critic %s has no generator", c.name)
	}

	user, err := c.buildMessage(draft, research)
	if err != nil {
		return domain.CritiqueFinding{}, err
	}

	response, err := c.generator.Generate(ctx, ports.Prompt{
		System:    c.system,
		User:      user,
		MaxTokens: critiqueMaxTokens,
	})
	if err != nil {
		return domain.CritiqueFinding{}, fmt.Errorf("generate critique: %w", err)
	}

	return parseFinding(c.name, response)
}

func (c *PromptCritic) buildMessage(draft domain.Draft, research domain.ResearchBundle) (string, error) {
	var b strings.Builder
	b.WriteString("# Draft\n\n")
	b.WriteString(draft.Text)
	b.WriteString("\n\n")

	if c.withResearch {
		raw, err := json.MarshalIndent(research, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal research: %w", err)
		}
		b.WriteString("# Research data\n\n```json\n")
		b.Write(raw)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("Analyse the draft and return the JSON report.")
	return b.String(), nil
}

type rawFinding struct {
	Verdict string `json:"verdict"`
	Issues  []struct {
		Location   string `json:"location"`
		Severity   string `json:"severity"`
		Problem    string `json:"problem"`
		Suggestion string `json:"suggestion"`
	} `json:"issues"`
}

func parseFinding(name domain.CriticName, response string) (domain.CritiqueFinding, error) {
	var raw rawFinding
	if err := extract.JSON(response, &raw); err != nil {
		return domain.CritiqueFinding{}, fmt.Errorf("parse %s report: %w", name, err)
	}

	finding := domain.CritiqueFinding{
		Critic: name,
		Issues: make([]domain.Issue, 0, len(raw.Issues)),
	}
	for _, issue := range raw.Issues {
		location := strings.TrimSpace(issue.Location)
		suggestion := strings.TrimSpace(issue.Suggestion)
		problem := strings.TrimSpace(issue.Problem)
		// A blank problem falls back to the suggestion, then the location.
		if problem == "" {
			problem = suggestion
		}
		if problem == "" {
			problem = location
		}
		if problem == "" {
			continue
		}
		finding.Issues = append(finding.Issues, domain.Issue{
			Location:   location,
			Severity:   normalizeSeverity(issue.Severity),
			Problem:    problem,
			Suggestion: suggestion,
		})
	}

	switch strings.ToLower(strings.TrimSpace(raw.Verdict)) {
	case "pass":
		finding.Verdict = domain.VerdictPass
	case "fail":
		finding.Verdict = domain.VerdictFail
	default:
		finding.Verdict = domain.VerdictPass
		if len(finding.Issues) > 0 {
			finding.Verdict = domain.VerdictFail
		}
	}

	return finding, nil
}

func normalizeSeverity(value string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high", "critical", "major":
		return domain.SeverityHigh
	case "low", "minor":
		return domain.SeverityLow
	default:
		return domain.SeverityMedium
	}
}
