// Package store persists generated subscription documents so the response
// can offer a hosted URL instead of only inline content.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("document not found")

// Document is one hosted, immutable conversion result.
type Document struct {
	ID        string
	Format    string
	Content   string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection keeps
	// SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			format     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save stores one generated document and returns its id.
func (s *Store) Save(ctx context.Context, format, content string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, format, content, created_at) VALUES (?, ?, ?, ?)`,
		id, format, content, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	return id, nil
}

// Get fetches a hosted document by id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, format, content, created_at FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Format, &doc.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	return doc, nil
}

// Prune deletes documents older than maxAge and reports how many went away.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE created_at < ?`, time.Now().Add(-maxAge).Unix())
	if err != nil {
		return 0, fmt.Errorf("prune documents: %w", err)
	}
	return res.RowsAffected()
}
