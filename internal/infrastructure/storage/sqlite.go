package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"PostForge/internal/domain"
	"PostForge/internal/infrastructure/storage/migrations"
	"PostForge/internal/ports"
)

// SQLiteStore persists post records and plans in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ ports.RecordStore = (*SQLiteStore)(nil)

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps read-modify-write transactions serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Plans returns a PlanStore backed by the same database.
func (s *SQLiteStore) Plans() ports.PlanStore {
	return &sqlitePlans{store: s}
}

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, collection domain.Collection, record domain.PostRecord) error {
	if err := checkRecord(ctx, record.ID, collection); err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: err}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: fmt.Errorf("marshal: %w", err)}
	}

	query, args, err := sq.Insert("post_records").
		Columns("id", "collection", "queued_at", "data").
		Values(record.ID, string(collection), record.QueuedAt.UnixNano(), string(data)).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: fmt.Errorf("build insert: %w", err)}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: fmt.Errorf("insert record: %w", err)}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.StorageError{Op: "create", ID: record.ID, Err: domain.ErrAlreadyExists}
	}
	return nil
}

// List returns the collection ordered by QueuedAt, then ID.
func (s *SQLiteStore) List(ctx context.Context, collection domain.Collection) ([]domain.PostRecord, error) {
	if err := checkCollection(ctx, collection); err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}

	query, args, err := sq.Select("data").
		From("post_records").
		Where(sq.Eq{"collection": string(collection)}).
		OrderBy("queued_at", "id").
		ToSql()
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("build select: %w", err)}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("query records: %w", err)}
	}

	var records []domain.PostRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			_ = rows.Close()
			return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("scan record: %w", err)}
		}
		var rec domain.PostRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			_ = rows.Close()
			return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("decode record: %w", err)}
		}
		records = append(records, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("rows iteration: %w", rowsErr)}
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, &domain.StorageError{Op: "list", Err: fmt.Errorf("close rows: %w", closeErr)}
	}
	return records, nil
}

// Get finds a record in any collection.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.PostRecord, domain.Collection, error) {
	if err := checkRecord(ctx, id, domain.CollectionQueued); err != nil {
		return domain.PostRecord{}, "", &domain.StorageError{Op: "get", ID: id, Err: err}
	}
	rec, c, err := s.load(ctx, s.db, sq.Eq{"id": id})
	if err != nil {
		return domain.PostRecord{}, "", &domain.StorageError{Op: "get", ID: id, Err: err}
	}
	return rec, c, nil
}

// Move mutates the record and changes its collection in one transaction.
func (s *SQLiteStore) Move(ctx context.Context, id string, from, to domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	if err := checkRecord(ctx, id, from); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}
	if err := checkCollection(ctx, to); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}

	rec, err := s.rewrite(ctx, sq.Eq{"id": id, "collection": string(from)}, to, mutate)
	if err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "move", ID: id, Err: err}
	}
	return rec, nil
}

// Update rewrites a record held in collection without moving it.
func (s *SQLiteStore) Update(ctx context.Context, id string, collection domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	if err := checkRecord(ctx, id, collection); err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: err}
	}

	rec, err := s.rewrite(ctx, sq.Eq{"id": id, "collection": string(collection)}, collection, mutate)
	if err != nil {
		return domain.PostRecord{}, &domain.StorageError{Op: "update", ID: id, Err: err}
	}
	return rec, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, where sq.Eq) (domain.PostRecord, domain.Collection, error) {
	query, args, err := sq.Select("collection", "data").From("post_records").Where(where).ToSql()
	if err != nil {
		return domain.PostRecord{}, "", fmt.Errorf("build select: %w", err)
	}

	var collection, data string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&collection, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PostRecord{}, "", domain.ErrNotFound
		}
		return domain.PostRecord{}, "", fmt.Errorf("select record: %w", err)
	}

	var rec domain.PostRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return domain.PostRecord{}, "", fmt.Errorf("decode record: %w", err)
	}
	return rec, domain.Collection(collection), nil
}

// rewrite loads the row matching where, applies mutate and writes it into target.
func (s *SQLiteStore) rewrite(ctx context.Context, where sq.Eq, target domain.Collection, mutate func(*domain.PostRecord)) (domain.PostRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, _, err := s.load(ctx, tx, where)
	if err != nil {
		return domain.PostRecord{}, err
	}
	id := rec.ID
	if mutate != nil {
		mutate(&rec)
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("marshal: %w", err)
	}

	query, args, err := sq.Update("post_records").
		Set("collection", string(target)).
		Set("queued_at", rec.QueuedAt.UnixNano()).
		Set("data", string(data)).
		Where(where).
		ToSql()
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("build update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("update record: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.PostRecord{}, fmt.Errorf("rows affected: %w", err)
	} else if n != 1 {
		return domain.PostRecord{}, domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return domain.PostRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

type sqlitePlans struct {
	store *SQLiteStore
}

var _ ports.PlanStore = (*sqlitePlans)(nil)

func (p *sqlitePlans) Save(ctx context.Context, plan domain.Plan) error {
	if plan.ID == "" {
		return &domain.StorageError{Op: "save plan", Err: fmt.Errorf("plan id is required")}
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: fmt.Errorf("marshal: %w", err)}
	}

	query, args, err := sq.Insert("content_plans").
		Columns("id", "created_at", "data").
		Values(plan.ID, plan.CreatedAt.UnixNano(), string(data)).
		Suffix("ON CONFLICT (id) DO UPDATE SET created_at = excluded.created_at, data = excluded.data").
		ToSql()
	if err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: fmt.Errorf("build upsert: %w", err)}
	}
	if _, err := p.store.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.StorageError{Op: "save plan", ID: plan.ID, Err: fmt.Errorf("upsert plan: %w", err)}
	}
	return nil
}

func (p *sqlitePlans) Get(ctx context.Context, id string) (domain.Plan, error) {
	plan, err := p.one(ctx, sq.Select("data").From("content_plans").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "get plan", ID: id, Err: err}
	}
	return plan, nil
}

func (p *sqlitePlans) Latest(ctx context.Context) (domain.Plan, error) {
	plan, err := p.one(ctx, sq.Select("data").From("content_plans").OrderBy("created_at DESC", "id DESC").Limit(1))
	if err != nil {
		return domain.Plan{}, &domain.StorageError{Op: "latest plan", Err: err}
	}
	return plan, nil
}

func (p *sqlitePlans) one(ctx context.Context, b sq.SelectBuilder) (domain.Plan, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return domain.Plan{}, fmt.Errorf("build select: %w", err)
	}
	var data string
	if err := p.store.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Plan{}, domain.ErrNotFound
		}
		return domain.Plan{}, fmt.Errorf("select plan: %w", err)
	}
	var plan domain.Plan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}
