package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

// FileStore keeps one JSON document per record under a directory per collection.
// Writes go through a temp file and rename, so a reader never sees a partial record.
type FileStore struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ ports.RecordStore = (*FileStore)(nil)

var collections = []domain.Collection{domain.CollectionQueued, domain.CollectionPublished}

// NewFileStore creates the collection directories under root.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	for _, c := range collections {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", c, err)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{root: root, logger: logger.With("component", "filestore")}, nil
}

func (s *FileStore) path(c domain.Collection, id string) string {
	return filepath.Join(s.root, string(c), id+".json")
}

// Create writes a new record. The ID must not exist in any collection.
func (s *FileStore) Create(ctx context.Context, collection domain.Collection, record domain.PostRecord) error {
	if err := checkRecord(ctx, record.ID, collection); err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.locate(record.ID); err == nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: domain.ErrAlreadyExists}
	}
	if err := writeJSON(s.path(collection, record.ID), record); err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: err}
	}
	return nil
}

// List returns the collection ordered by QueuedAt, then ID. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context, collection domain.Collection) ([]domain.PostRecord, error) {
	if err := checkCollection(ctx, collection); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, string(collection)))
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}

	records := make([]domain.PostRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var rec domain.PostRecord
		if err := readJSON(filepath.Join(s.root, string(collection), name), &rec); err != nil {
			s.logger.Warn("skipping unreadable record", "file", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

// Get finds a record in any collection.
func (s *FileStore) Get(ctx context.Context, id string) (domain.PostRecord, domain.Collection, error) {
	if err := checkRecord(ctx, id, domain.CollectionQueued); err != nil {
		return domain.PostRecord{}, "", &domain.StorageError{Op: "get", ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, c, err := s.locate(id)
	if err != nil {
		return domain.PostRecord{}, "", &domain.StorageError{Op: "get", ID: id, Err: err}
	}
	return rec, c, nil
}

// Move applies mutate, rewrites the record in place and renames it into the target
// collection. A crash between the two steps leaves the mutated record in from.
func (s *FileStore) Move(ctx context.Context, id string, from, to domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	if err := checkRecord(ctx, id, from); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}
	if err := checkCollection(ctx, to); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.path(from, id)
	var rec domain.PostRecord
	if err := readJSON(src, &rec); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: notFound(err)}
	}
	if mutate != nil {
		mutate(&rec)
		rec.ID = id
		if err := writeJSON(src, rec); err != nil {
			return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
		}
	}
	if err := os.Rename(src, s.path(to, id)); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}
	return rec, nil
}

// Update rewrites a record held in collection.
func (s *FileStore) Update(ctx context.Context, id string, collection domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	if err := checkRecord(ctx, id, collection); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(collection, id)
	var rec domain.PostRecord
	if err := readJSON(path, &rec); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: notFound(err)}
	}
	mutate(&rec)
	rec.ID = id
	if err := writeJSON(path, rec); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: err}
	}
	return rec, nil
}

// locate must be called with mu held.
func (s *FileStore) locate(id string) (domain.PostRecord, domain.Collection, error) {
	for _, c := range collections {
		var rec domain.PostRecord
		err := readJSON(s.path(c, id), &rec)
		if err == nil {
			return rec, c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.PostRecord{}, "", err
		}
	}
	return domain.PostRecord{}, "", domain.ErrNotFound
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	return err
}
