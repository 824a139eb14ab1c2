package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"PostForge/internal/critic"
	"PostForge/internal/domain"
)

// CriticStage fans a draft out to every registered critic and waits for all of them.
type CriticStage struct {
	registry *critic.Registry
	settings Settings
}

// NewCriticStage wraps a critic registry.
func NewCriticStage(registry *critic.Registry, settings Settings) *CriticStage {
	return &CriticStage{registry: registry, settings: settings}
}

// Expected returns the configured critic count.
func (s *CriticStage) Expected() int {
	if s.registry == nil {
		return 0
	}
	return s.registry.Len()
}

// Run evaluates the draft concurrently. The first failing critic cancels its siblings;
// Run still waits for every evaluator to return before reporting it.
func (s *CriticStage) Run(ctx context.Context, draft domain.Draft, research domain.ResearchBundle) (map[domain.CriticName]domain.CritiqueFinding, error) {
	critics := s.registry.All()
	if len(critics) == 0 {
		return nil, domain.NewStageError(domain.StageCritique, domain.ErrCritiqueIncomplete,
			fmt.Errorf("no critics registered"))
	}

	var (
		mu       sync.Mutex
		findings = make(map[domain.CriticName]domain.CritiqueFinding, len(critics))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, c := range critics {
		group.Go(func() error {
			callCtx, cancel := withTimeout(groupCtx, s.settings.GenerationTimeout)
			defer cancel()

			finding, err := c.Evaluate(callCtx, draft, research)
			if err != nil {
				return &domain.StageError{
					Stage:  domain.StageCritique,
					Kind:   domain.ErrCritiqueIncomplete,
					Critic: c.Name(),
					Err:    err,
				}
			}
			finding.Critic = c.Name()

			mu.Lock()
			findings[c.Name()] = finding
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		var stageErr *domain.StageError
		if errors.As(err, &stageErr) {
			return nil, stageErr
		}
		return nil, domain.NewStageError(domain.StageCritique, domain.ErrCritiqueIncomplete, err)
	}

	if len(findings) != len(critics) {
		return nil, domain.NewStageError(domain.StageCritique, domain.ErrCritiqueIncomplete,
			fmt.Errorf("collected %d of %d findings", len(findings), len(critics)))
	}
	return findings, nil
}

// orderedFindings returns findings in the canonical critic order.
func orderedFindings(findings map[domain.CriticName]domain.CritiqueFinding) []domain.CritiqueFinding {
	out := make([]domain.CritiqueFinding, 0, len(findings))
	for _, name := range domain.AllCritics() {
		if f, ok := findings[name]; ok {
			out = append(out, f)
		}
	}
	return out
}
