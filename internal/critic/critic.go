package critic

import (
	"context"
	"fmt"

	"PostForge/internal/domain"
)

// Critic captures a single draft evaluator (generic phrasing, rhythm, etc.).
type Critic interface {
	Name() domain.CriticName
	Evaluate(ctx context.Context, draft domain.Draft, research domain.ResearchBundle) (domain.CritiqueFinding, error)
}

// Registry keeps a mapping from critic names to their implementations.
type Registry struct {
	critics map[domain.CriticName]Critic
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{critics: map[domain.CriticName]Critic{}}
}

// Register adds a critic. Unknown and duplicate names are rejected.
func (r *Registry) Register(c Critic) error {
	if c == nil {
		return fmt.Errorf("critic is nil")
	}
	if r.critics == nil {
		r.critics = map[domain.CriticName]Critic{}
	}
	name := c.Name()
	if !name.Valid() {
		return fmt.Errorf("critic %q is not part of the critic set", name)
	}
	if _, exists := r.critics[name]; exists {
		return fmt.Errorf("critic %s is already registered", name)
	}
	r.critics[name] = c
	return nil
}

// Resolve returns a critic by name or an error if it is absent.
func (r *Registry) Resolve(name domain.CriticName) (Critic, error) {
	if c, ok := r.critics[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("critic %s is not registered", name)
}

// All returns the registered critics in the canonical order.
func (r *Registry) All() []Critic {
	out := make([]Critic, 0, len(r.critics))
	for _, name := range domain.AllCritics() {
		if c, ok := r.critics[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered critics.
func (r *Registry) Len() int {
	return len(r.critics)
}
