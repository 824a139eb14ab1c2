package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PostForge/internal/domain"
	"PostForge/internal/ports"
)

var base = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id string, offset time.Duration) domain.PostRecord {
	return domain.PostRecord{
		ID:          id,
		RequesterID: "op",
		Status:      domain.StatusQueued,
		Brief:       domain.Brief{TopicAngle: "case", KeyTakeaway: "ship smaller"},
		FinalText:   "final " + id,
		CreatedAt:   base,
		QueuedAt:    base.Add(offset),
	}
}

func stores(t *testing.T) map[string]func(t *testing.T) ports.RecordStore {
	return map[string]func(t *testing.T) ports.RecordStore{
		"file": func(t *testing.T) ports.RecordStore {
			s, err := NewFileStore(t.TempDir(), nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) ports.RecordStore {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "postforge.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	var serr *domain.StorageError
	require.True(t, errors.As(err, &serr), "expected StorageError, got %v", err)
	assert.ErrorIs(t, err, kind)
}

func TestRecordStoreContract(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create list get", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("b", time.Minute)))
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("c", 0)))
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("a", time.Minute)))

				list, err := s.List(ctx, domain.CollectionQueued)
				require.NoError(t, err)
				ids := make([]string, 0, len(list))
				for _, r := range list {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, []string{"c", "a", "b"}, ids)

				got, coll, err := s.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, domain.CollectionQueued, coll)
				assert.Equal(t, "final a", got.FinalText)
				assert.True(t, got.QueuedAt.Equal(base.Add(time.Minute)))

				published, err := s.List(ctx, domain.CollectionPublished)
				require.NoError(t, err)
				assert.Empty(t, published)
			})

			t.Run("duplicate id", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("dup", 0)))
				requireKind(t, s.Create(ctx, domain.CollectionPublished, record("dup", 0)), domain.ErrAlreadyExists)
			})

			t.Run("missing records", func(t *testing.T) {
				s := open(t)
				_, _, err := s.Get(ctx, "nope")
				requireKind(t, err, domain.ErrNotFound)

				_, err = s.Move(ctx, "nope", domain.CollectionQueued, domain.CollectionPublished, nil)
				requireKind(t, err, domain.ErrNotFound)

				_, err = s.Update(ctx, "nope", domain.CollectionQueued, func(*domain.PostRecord) {})
				requireKind(t, err, domain.ErrNotFound)
			})

			t.Run("move", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("m", 0)))

				at := base.Add(time.Hour)
				moved, err := s.Move(ctx, "m", domain.CollectionQueued, domain.CollectionPublished, func(r *domain.PostRecord) {
					r.Status = domain.StatusPublished
					r.PublishedAt = &at
					r.ID = "tampered"
				})
				require.NoError(t, err)
				assert.Equal(t, "m", moved.ID)
				assert.Equal(t, domain.StatusPublished, moved.Status)

				got, coll, err := s.Get(ctx, "m")
				require.NoError(t, err)
				assert.Equal(t, domain.CollectionPublished, coll)
				require.NotNil(t, got.PublishedAt)
				assert.True(t, got.PublishedAt.Equal(at))

				_, err = s.Move(ctx, "m", domain.CollectionQueued, domain.CollectionPublished, nil)
				requireKind(t, err, domain.ErrNotFound)
			})

			t.Run("update keeps collection", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("u", 0)))

				updated, err := s.Update(ctx, "u", domain.CollectionQueued, func(r *domain.PostRecord) { r.FinalText = "edited" })
				require.NoError(t, err)
				assert.Equal(t, "edited", updated.FinalText)

				got, coll, err := s.Get(ctx, "u")
				require.NoError(t, err)
				assert.Equal(t, domain.CollectionQueued, coll)
				assert.Equal(t, "edited", got.FinalText)
				assert.Equal(t, "ship smaller", got.Brief.KeyTakeaway)
			})

			t.Run("update only in the named collection", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("gone", 0)))
				_, err := s.Move(ctx, "gone", domain.CollectionQueued, domain.CollectionPublished, nil)
				require.NoError(t, err)

				_, err = s.Update(ctx, "gone", domain.CollectionQueued, func(r *domain.PostRecord) { r.FinalText = "late edit" })
				requireKind(t, err, domain.ErrNotFound)

				got, coll, err := s.Get(ctx, "gone")
				require.NoError(t, err)
				assert.Equal(t, domain.CollectionPublished, coll)
				assert.Equal(t, "final gone", got.FinalText)
			})

			t.Run("rejects bad input", func(t *testing.T) {
				s := open(t)
				assert.Error(t, s.Create(ctx, "drafts", record("x", 0)))
				assert.Error(t, s.Create(ctx, domain.CollectionQueued, record("", 0)))
				assert.Error(t, s.Create(ctx, domain.CollectionQueued, record("../escape", 0)))
			})

			t.Run("concurrent moves deliver once", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("race", 0)))

				var wg sync.WaitGroup
				var mu sync.Mutex
				wins := 0
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := s.Move(ctx, "race", domain.CollectionQueued, domain.CollectionPublished, nil)
						if err == nil {
							mu.Lock()
							wins++
							mu.Unlock()
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, 1, wins)
			})
		})
	}
}

// sharedStores opens two independent handles on one storage location, as two
// postforge processes would.
func sharedStores(t *testing.T) map[string]func(t *testing.T) (ports.RecordStore, ports.RecordStore) {
	return map[string]func(t *testing.T) (ports.RecordStore, ports.RecordStore){
		"file": func(t *testing.T) (ports.RecordStore, ports.RecordStore) {
			dir := t.TempDir()
			a, err := NewFileStore(dir, nil)
			require.NoError(t, err)
			b, err := NewFileStore(dir, nil)
			require.NoError(t, err)
			return a, b
		},
		"sqlite": func(t *testing.T) (ports.RecordStore, ports.RecordStore) {
			path := filepath.Join(t.TempDir(), "postforge.db")
			a, err := OpenSQLite(path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })
			b, err := OpenSQLite(path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return a, b
		},
	}
}

func TestRecordStoreSharedLocation(t *testing.T) {
	for name, open := range sharedStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := open(t)

			require.NoError(t, a.Create(ctx, domain.CollectionQueued, record("shared", 0)))
			listed, err := b.List(ctx, domain.CollectionQueued)
			require.NoError(t, err)
			require.Len(t, listed, 1)

			_, err = a.Move(ctx, "shared", domain.CollectionQueued, domain.CollectionPublished, nil)
			require.NoError(t, err)

			_, err = b.Move(ctx, "shared", domain.CollectionQueued, domain.CollectionPublished, nil)
			requireKind(t, err, domain.ErrNotFound)
			_, err = b.Update(ctx, "shared", domain.CollectionQueued, func(r *domain.PostRecord) { r.FinalText = "x" })
			requireKind(t, err, domain.ErrNotFound)

			_, coll, err := b.Get(ctx, "shared")
			require.NoError(t, err)
			assert.Equal(t, domain.CollectionPublished, coll)
		})
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Create(context.Background(), domain.CollectionQueued, record("ok", 0)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queued", "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queued", "notes.txt"), []byte("x"), 0o644))

	list, err := s.List(context.Background(), domain.CollectionQueued)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].ID)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.CollectionQueued, record("t", 0)))
	_, err = s.Move(ctx, "t", domain.CollectionQueued, domain.CollectionPublished, func(r *domain.PostRecord) {
		r.Status = domain.StatusPublished
	})
	require.NoError(t, err)

	for _, c := range []string{"queued", "published"} {
		entries, err := os.ReadDir(filepath.Join(dir, c))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	}
}

func TestPlanStores(t *testing.T) {
	opens := map[string]func(t *testing.T) ports.PlanStore{
		"file": func(t *testing.T) ports.PlanStore {
			s, err := NewFilePlanStore(filepath.Join(t.TempDir(), "plans"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) ports.PlanStore {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "postforge.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s.Plans()
		},
	}

	for name, open := range opens {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Latest(ctx)
			requireKind(t, err, domain.ErrNotFound)

			older := domain.Plan{ID: "p1", CreatedAt: base, Days: []domain.PlanTopic{{ID: 1, Theme: "old", Status: domain.TopicPending}}}
			newer := domain.Plan{ID: "p2", CreatedAt: base.Add(24 * time.Hour), Days: []domain.PlanTopic{{ID: 1, Theme: "new", Status: domain.TopicPending}}}
			require.NoError(t, s.Save(ctx, newer))
			require.NoError(t, s.Save(ctx, older))

			latest, err := s.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, "p2", latest.ID)

			older.Days[0].Status = domain.TopicUsed
			require.NoError(t, s.Save(ctx, older))
			got, err := s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, domain.TopicUsed, got.Days[0].Status)

			_, err = s.Get(ctx, "missing")
			requireKind(t, err, domain.ErrNotFound)
		})
	}
}
