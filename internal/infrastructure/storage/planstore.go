package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

// FilePlanStore keeps each content plan as a JSON file.
type FilePlanStore struct {
	dir string
	mu  sync.Mutex
}

var _ ports.PlanStore = (*FilePlanStore)(nil)

// NewFilePlanStore creates dir if needed.
func NewFilePlanStore(dir string) (*FilePlanStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("plans dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plans dir: %w", err)
	}
	return &FilePlanStore{dir: dir}, nil
}

// Save writes or replaces the plan.
func (s *FilePlanStore) Save(ctx context.Context, plan domain.Plan) error {
	if err := ctx.Err(); err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: err}
	}
	if err := validID(plan.ID); err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.dir, plan.ID+".json"), plan); err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: err}
	}
	return nil
}

// Get loads one plan by ID.
func (s *FilePlanStore) Get(ctx context.Context, id string) (domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "get plan", ID: id, Err: err}
	}
	if err := validID(id); err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "get plan", ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var plan domain.Plan
	if err := readJSON(filepath.Join(s.dir, id+".json"), &plan); err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "get plan", ID: id, Err: notFound(err)}
	}
	return plan, nil
}

// Latest returns the most recently created plan.
func (s *FilePlanStore) Latest(ctx context.Context) (domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: domain.ErrNotFound}
		}
		return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: err}
	}

	var latest domain.Plan
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var plan domain.Plan
		if err := readJSON(filepath.Join(s.dir, entry.Name()), &plan); err != nil {
			continue
		}
		if !found || plan.CreatedAt.After(latest.CreatedAt) ||
			(plan.CreatedAt.Equal(latest.CreatedAt) && plan.ID > latest.ID) {
			latest, found = plan, true
		}
	}
	if !found {
		return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: domain.ErrNotFound}
	}
	return latest, nil
}
