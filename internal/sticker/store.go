// Package sticker provides the sticker cache collaborator: a keyed store
// mapping platform file ids to previously downloaded sticker bytes and
// metadata. Entries are inserted on first download and read through on every
// later reference; this package never evicts.
package sticker

import (
	"context"
	"time"
)

// Entry is one cached sticker, keyed by platform file id.
type Entry struct {
	FileID    string    `json:"file_id"`
	Bytes     []byte    `json:"-"`
	Path      string    `json:"path,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	SetName   string    `json:"set_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the cache contract. Insert must be idempotent per file id: the
// first writer wins and concurrent duplicate inserts are no-ops for the
// loser.
type Store interface {
	FindByFileID(ctx context.Context, fileID string) (Entry, bool, error)
	Insert(ctx context.Context, entry Entry) error
}
