// Package sqlite implements persistence.Store on SQLite through mattn/go-sqlite3.
//
// Every collection is a table of (id, data) rows where data is the JSON
// encoding of the value. Row order is insertion order; an upsert keeps the
// original rowid.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/united-manufacturing-hub/scopesync/pkg/persistence"
	"github.com/united-manufacturing-hub/scopesync/pkg/safejson"
)

type sqliteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

var _ persistence.Store = (*sqliteStore)(nil)

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (persistence.Store, error) {
	connStr := buildConnectionString(dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	baseParams := "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

	if runtime.GOOS == "darwin" {
		baseParams += "&_fullfsync=1"
	}

	return dbPath + baseParams
}

func (s *sqliteStore) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createTable(ctx context.Context, db execer, name string) error {
	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`, name)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func (s *sqliteStore) CreateCollection(ctx context.Context, name string) error {
	if err := s.open(); err != nil {
		return err
	}

	return createTable(ctx, s.db, name)
}

func (s *sqliteStore) DropCollection(ctx context.Context, name string) error {
	if err := s.open(); err != nil {
		return err
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	return nil
}

func upsert(ctx context.Context, db execer, name string, doc persistence.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document in %s has no id", name)
	}

	data, err := safejson.Marshal(doc.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, name)

	if _, err := db.ExecContext(ctx, query, doc.ID, data); err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}

	return nil
}

func (s *sqliteStore) Put(ctx context.Context, name string, doc persistence.Document) error {
	if err := s.open(); err != nil {
		return err
	}

	if err := createTable(ctx, s.db, name); err != nil {
		return err
	}

	return upsert(ctx, s.db, name, doc)
}

func (s *sqliteStore) PutMany(ctx context.Context, name string, docs []persistence.Document) error {
	if err := s.open(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if err := createTable(ctx, tx, name); err != nil {
		return err
	}

	for _, doc := range docs {
		if err := upsert(ctx, tx, name, doc); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *sqliteStore) Get(ctx context.Context, name, id string) (persistence.Document, error) {
	if err := s.open(); err != nil {
		return persistence.Document{}, err
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return persistence.Document{}, err
	}

	var data []byte

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, name), id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Document{}, fmt.Errorf("%w: %s/%s", persistence.ErrNotFound, name, id)
		}

		if !s.hasTable(ctx, name) {
			return persistence.Document{}, fmt.Errorf("%w: collection %s", persistence.ErrNotFound, name)
		}

		return persistence.Document{}, fmt.Errorf("failed to get document: %w", err)
	}

	value, err := safejson.DecodeTree(data)
	if err != nil {
		return persistence.Document{}, fmt.Errorf("failed to unmarshal document %s: %w", id, err)
	}

	return persistence.Document{ID: id, Value: value}, nil
}

func (s *sqliteStore) hasTable(ctx context.Context, name string) bool {
	var found string

	err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)

	return err == nil
}

func (s *sqliteStore) Delete(ctx context.Context, name, id string) error {
	if err := s.open(); err != nil {
		return err
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return err
	}

	if !s.hasTable(ctx, name) {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, name), id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

func (s *sqliteStore) List(ctx context.Context, name string) ([]persistence.Document, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	if err := persistence.ValidateCollectionName(name); err != nil {
		return nil, err
	}

	if !s.hasTable(ctx, name) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, data FROM %s ORDER BY rowid`, name))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []persistence.Document

	for rows.Next() {
		var (
			id   string
			data []byte
		)

		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		value, err := safejson.DecodeTree(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s: %w", id, err)
		}

		out = append(out, persistence.Document{ID: id, Value: value})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return out, nil
}

func (s *sqliteStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store already closed")
	}

	s.closed = true

	return s.db.Close()
}
