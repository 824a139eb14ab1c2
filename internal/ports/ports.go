package ports

import (
	"context"
	"time"

	"PostForge/internal/domain"
)

// Prompt is a single generation request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Generator produces text from a prompt (Anthropic, OpenAI-compatible APIs).
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// SearchDepth selects how thorough a web search should be.
type SearchDepth string

const (
	DepthBasic    SearchDepth = "basic"
	DepthAdvanced SearchDepth = "advanced"
)

// SearchQuery carries the research collaborator parameters.
type SearchQuery struct {
	Query      string
	Depth      SearchDepth
	MaxResults int
	Topic      string
	TimeRange  string
}

// Researcher runs web searches and returns ordered results.
type Researcher interface {
	Search(ctx context.Context, query SearchQuery) ([]domain.Source, error)
}

// Channel delivers a final post. Errors must be *domain.DeliveryError.
type Channel interface {
	Deliver(ctx context.Context, text string) error
}

// OperatorNotifier surfaces failures that need a human.
type OperatorNotifier interface {
	Report(ctx context.Context, text string) error
}

// RecordStore persists post records in named collections.
// Every method operates atomically on a single record.
type RecordStore interface {
	Create(ctx context.Context, collection domain.Collection, record domain.PostRecord) error
	List(ctx context.Context, collection domain.Collection) ([]domain.PostRecord, error)
	Get(ctx context.Context, id string) (domain.PostRecord, domain.Collection, error)
	Move(ctx context.Context, id string, from, to domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error)
	// Update rewrites a record only while it is in collection; otherwise ErrNotFound.
	Update(ctx context.Context, id string, collection domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error)
}

// PlanStore keeps content plans.
type PlanStore interface {
	Save(ctx context.Context, plan domain.Plan) error
	Get(ctx context.Context, id string) (domain.Plan, error)
	Latest(ctx context.Context) (domain.Plan, error)
}

// Locker hands out named locks shared by every process working on the same storage.
type Locker interface {
	// Lock waits for the named lock until ctx is done.
	Lock(ctx context.Context, name string) (unlock func() error, err error)
	// TryLock takes the named lock without waiting. It returns domain.ErrBusy when
	// another holder has it.
	TryLock(name string) (unlock func() error, err error)
}

// Scheduler controls when publish cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
