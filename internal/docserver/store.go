package docserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Makepad-fr/tada/internal/model"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	identity TEXT NOT NULL PRIMARY KEY,
	body     TEXT NOT NULL,
	rev      INTEGER NOT NULL
)`

// Store keeps one JSON document per identity in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the database at path. ":memory:" is accepted
// for tests; the pool is limited to one connection so it stays a single
// database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the document for identity; a missing document is an empty one at rev 0.
func (s *Store) Get(ctx context.Context, identity string) (model.Document, error) {
	var body string
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT body, rev FROM documents WHERE identity = ?`, identity).Scan(&body, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{"rev": json.Number("0")}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return decodeBody(body, rev)
}

// Merge replaces the top-level fields present in patch, keeps every other
// field, bumps the revision and returns the stored document.
func (s *Store) Merge(ctx context.Context, identity string, patch map[string]any) (model.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	var rev int64
	err = tx.QueryRowContext(ctx, `SELECT body, rev FROM documents WHERE identity = ?`, identity).Scan(&body, &rev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		body, rev = "{}", 0
	case err != nil:
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	doc, err := decodeBody(body, rev)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "rev" {
			continue
		}
		doc[k] = v
	}
	rev++
	delete(doc, "rev")
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (identity, body, rev) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET body = excluded.body, rev = excluded.rev`,
		identity, string(raw), rev,
	); err != nil {
		return nil, fmt.Errorf("failed to write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	doc["rev"] = json.Number(fmt.Sprint(rev))
	return doc, nil
}

func decodeBody(body string, rev int64) (model.Document, error) {
	doc, err := model.DecodeDocument(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc["rev"] = json.Number(fmt.Sprint(rev))
	return doc, nil
}
