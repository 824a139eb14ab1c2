package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PostForge/internal/critic"
	"PostForge/internal/domain"
	"PostForge/internal/ports"
	"PostForge/internal/prompts"
)

const rolePrefix = "ROLE:"

// testPrompts replaces every prompt with a role marker so the stub generator can route calls.
func testPrompts(t *testing.T) *prompts.Set {
	t.Helper()

	dir := t.TempDir()
	names := []string{prompts.Researcher, prompts.Writer, prompts.WritingGuide, prompts.Rewriter, prompts.ContentPlanner, prompts.CriticFormat}
	for _, c := range domain.AllCritics() {
		names = append(names, prompts.Critic(string(c)))
	}
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name)+".md")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(rolePrefix+name), 0o644))
	}

	set, err := prompts.Load(dir)
	require.NoError(t, err)
	return set
}

func roleOf(system string) string {
	role := strings.TrimPrefix(system, rolePrefix)
	if i := strings.IndexAny(role, " \n"); i >= 0 {
		role = role[:i]
	}
	return role
}

type handler func(ctx context.Context, p ports.Prompt) (string, error)

// stubLLM answers each prompt by role. Handlers must be set before the first call.
type stubLLM struct {
	mu       sync.Mutex
	calls    []ports.Prompt
	handlers map[string]handler
}

func newStubLLM() *stubLLM {
	return &stubLLM{handlers: map[string]handler{}}
}

func (s *stubLLM) on(role string, h handler) *stubLLM {
	s.handlers[role] = h
	return s
}

func (s *stubLLM) Generate(ctx context.Context, p ports.Prompt) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p)
	s.mu.Unlock()

	role := roleOf(p.System)
	if h, ok := s.handlers[role]; ok {
		return h(ctx, p)
	}
	return defaultResponse(role)
}

func (s *stubLLM) callsFor(role string) []ports.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Prompt
	for _, p := range s.calls {
		if roleOf(p.System) == role {
			out = append(out, p)
		}
	}
	return out
}

func defaultResponse(role string) (string, error) {
	switch {
	case role == prompts.Researcher:
		return "```json\n" + `{"sources":[{"url":"https://a.example/1","title":"A","key_points":["growth"]}],` +
			`"key_stats":[{"stat":"40% faster","source_url":"https://a.example/1"}],"examples":[],"summary":"Teams ship faster."}` + "\n```", nil
	case role == prompts.Writer:
		return strings.Repeat("I tried this at work and it helped. ", 10), nil
	case strings.HasPrefix(role, "critics/"):
		name := strings.TrimPrefix(role, "critics/")
		return fmt.Sprintf(`{"verdict":"fail","issues":[{"location":"intro","severity":"high","problem":"%s problem","suggestion":"%s fix"}]}`, name, name), nil
	case role == prompts.Rewriter:
		return "<b>Final</b> post text.", nil
	case role == prompts.ContentPlanner:
		return planJSON("Mon", "Tue", "Wed"), nil
	}
	return "", fmt.Errorf("unexpected role %q", role)
}

func planJSON(days ...string) string {
	items := make([]string, 0, len(days))
	for _, d := range days {
		items = append(items, fmt.Sprintf(`{"day":%q,"type":"case","theme":"theme %s","audience":"devs","key_takeaway":"takeaway %s"}`, d, d, d))
	}
	return `{"days":[` + strings.Join(items, ",") + `]}`
}

// stubResearcher returns results per search topic ("news" or "general").
type stubResearcher struct {
	mu      sync.Mutex
	queries []ports.SearchQuery
	results map[string][]domain.Source
	errs    map[string]error
}

func newStubResearcher() *stubResearcher {
	return &stubResearcher{
		results: map[string][]domain.Source{"news": sources("https://a.example/1", "https://a.example/2", "https://a.example/3")},
		errs:    map[string]error{},
	}
}

func (s *stubResearcher) Search(_ context.Context, q ports.SearchQuery) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if err := s.errs[q.Topic]; err != nil {
		return nil, err
	}
	if err := s.errs[q.Query]; err != nil {
		return nil, err
	}
	return s.results[q.Topic], nil
}

func sources(urls ...string) []domain.Source {
	out := make([]domain.Source, 0, len(urls))
	for _, u := range urls {
		out = append(out, domain.Source{URL: u, Title: "title " + u, Summary: "<p>summary of " + u + "</p>", Score: 0.5})
	}
	return out
}

type memEntry struct {
	record     domain.PostRecord
	collection domain.Collection
}

// memStore is an in-memory RecordStore that counts mutations.
type memStore struct {
	mu        sync.Mutex
	entries   map[string]memEntry
	mutations int

	createHook func(ctx context.Context) error
	moveErr    error
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]memEntry{}}
}

var _ ports.RecordStore = (*memStore)(nil)

func (m *memStore) Create(ctx context.Context, collection domain.Collection, record domain.PostRecord) error {
	if m.createHook != nil {
		if err := m.createHook(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[record.ID]; ok {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: domain.ErrAlreadyExists}
	}
	m.entries[record.ID] = memEntry{record: record, collection: collection}
	m.mutations++
	return nil
}

func (m *memStore) List(_ context.Context, collection domain.Collection) ([]domain.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PostRecord
	for _, e := range m.entries {
		if e.collection == collection {
			out = append(out, e.record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (domain.PostRecord, domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.PostRecord{}, "", &domain.StorageError{Op: "get", ID: id, Err: domain.ErrNotFound}
	}
	return e.record, e.collection, nil
}

func (m *memStore) Move(_ context.Context, id string, from, to domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moveErr != nil {
		return domain.PostRecord{}, m.moveErr
	}
	e, ok := m.entries[id]
	if !ok || e.collection != from {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: domain.ErrNotFound}
	}
	if mutate != nil {
		mutate(&e.record)
	}
	e.collection = to
	m.entries[id] = e
	m.mutations++
	return e.record, nil
}

func (m *memStore) Update(_ context.Context, id string, collection domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.collection != collection {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: domain.ErrNotFound}
	}
	mutate(&e.record)
	m.entries[id] = e
	m.mutations++
	return e.record, nil
}

func (m *memStore) count(collection domain.Collection) int {
	records, _ := m.List(context.Background(), collection)
	return len(records)
}

func (m *memStore) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// memPlans is an in-memory PlanStore.
type memPlans struct {
	mu    sync.Mutex
	plans map[string]domain.Plan
	order []string
}

func newMemPlans() *memPlans {
	return &memPlans{plans: map[string]domain.Plan{}}
}

var _ ports.PlanStore = (*memPlans)(nil)

func (m *memPlans) Save(_ context.Context, plan domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		m.order = append(m.order, plan.ID)
	}
	plan.Days = append([]domain.PlanTopic(nil), plan.Days...)
	m.plans[plan.ID] = plan
	return nil
}

func (m *memPlans) Get(_ context.Context, id string) (domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok {
		return domain.Plan{}, &domain.StorageError{Op: "get plan", ID: id, Err: domain.ErrNotFound}
	}
	plan.Days = append([]domain.PlanTopic(nil), plan.Days...)
	return plan, nil
}

func (m *memPlans) Latest(ctx context.Context) (domain.Plan, error) {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: domain.ErrNotFound}
	}
	id := m.order[len(m.order)-1]
	m.mu.Unlock()
	return m.Get(ctx, id)
}

// sequentialIDs returns ids that sort in creation order.
func sequentialIDs(prefix string) func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d", prefix, n), nil
	}
}

type harness struct {
	llm        *stubLLM
	researcher *stubResearcher
	store      *memStore
	orch       *Orchestrator
	progress   []domain.Stage
	progressMu sync.Mutex
}

type harnessOption func(*PipelineDeps)

func withCritics(critics ...critic.Critic) harnessOption {
	return func(d *PipelineDeps) {
		reg := critic.NewRegistry()
		for _, c := range critics {
			if err := reg.Register(c); err != nil {
				panic(err)
			}
		}
		d.Critics = reg
	}
}

func newHarness(t *testing.T, llm *stubLLM, opts ...harnessOption) *harness {
	t.Helper()

	set := testPrompts(t)
	reg, err := critic.NewDefaultRegistry(llm, set)
	require.NoError(t, err)

	h := &harness{llm: llm, researcher: newStubResearcher(), store: newMemStore()}
	deps := PipelineDeps{
		Generator:  llm,
		Researcher: h.researcher,
		Store:      h.store,
		Critics:    reg,
		Prompts:    set,
		Topic: domain.Topic{
			ChannelName:   "Field Notes",
			SearchQueries: map[string]string{"case": "engineering case study"},
		},
		Settings: Settings{MaxSources: 5, MinDraftChars: 100, GenerationTimeout: 5 * time.Second},
		Progress: func(stage domain.Stage, _ domain.Status) {
			h.progressMu.Lock()
			h.progress = append(h.progress, stage)
			h.progressMu.Unlock()
		},
		NewID: sequentialIDs("rec"),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.orch, err = NewOrchestrator(deps)
	require.NoError(t, err)
	return h
}

func request(requester string) domain.ContentRequest {
	return domain.ContentRequest{
		RequesterID: requester,
		Brief: domain.Brief{
			TopicAngle:  "case",
			Audience:    "devs",
			KeyTakeaway: "small batches ship faster",
		},
	}
}

// funcCritic lets tests control a single evaluator.
type funcCritic struct {
	name domain.CriticName
	fn   func(ctx context.Context) (domain.CritiqueFinding, error)
}

func (f funcCritic) Name() domain.CriticName { return f.name }

func (f funcCritic) Evaluate(ctx context.Context, _ domain.Draft, _ domain.ResearchBundle) (domain.CritiqueFinding, error) {
	return f.fn(ctx)
}

func passingCritic(name domain.CriticName, problems ...string) funcCritic {
	return funcCritic{name: name, fn: func(context.Context) (domain.CritiqueFinding, error) {
		finding := domain.CritiqueFinding{Critic: name, Verdict: domain.VerdictPass}
		for i, p := range problems {
			finding.Verdict = domain.VerdictFail
			finding.Issues = append(finding.Issues, domain.Issue{
				Location:   fmt.Sprintf("paragraph %d", i+1),
				Severity:   domain.SeverityMedium,
				Problem:    p,
				Suggestion: "suggestion for " + p,
			})
		}
		return finding, nil
	}}
}
