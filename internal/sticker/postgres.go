package sticker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by Postgres. ON CONFLICT DO NOTHING gives
// the first-writer-wins semantics the cache contract requires.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore over an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the cache table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sticker_cache (
			file_id    TEXT PRIMARY KEY,
			bytes      BYTEA,
			path       TEXT NOT NULL DEFAULT '',
			emoji      TEXT NOT NULL DEFAULT '',
			set_name   TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure sticker_cache schema: %w", err)
	}
	return nil
}

// FindByFileID returns the cached entry for the file id, if present.
func (s *PostgresStore) FindByFileID(ctx context.Context, fileID string) (Entry, bool, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return Entry{}, false, fmt.Errorf("sticker file id is required")
	}
	var entry Entry
	err := s.pool.QueryRow(ctx,
		`SELECT file_id, bytes, path, emoji, set_name, created_at
		 FROM sticker_cache WHERE file_id = $1`, fileID,
	).Scan(&entry.FileID, &entry.Bytes, &entry.Path, &entry.Emoji, &entry.SetName, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("find sticker: %w", err)
	}
	return entry, true, nil
}

// Insert stores the entry unless the file id is already cached.
func (s *PostgresStore) Insert(ctx context.Context, entry Entry) error {
	fileID := strings.TrimSpace(entry.FileID)
	if fileID == "" {
		return fmt.Errorf("sticker file id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sticker_cache (file_id, bytes, path, emoji, set_name)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (file_id) DO NOTHING`,
		fileID, entry.Bytes, entry.Path, entry.Emoji, entry.SetName)
	if err != nil {
		return fmt.Errorf("insert sticker: %w", err)
	}
	return nil
}
