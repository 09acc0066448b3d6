// Package archive persists canonical messages to Postgres. Rows converge on
// (chat_id, platform_id): re-recording a platform message updates the existing
// row and keeps its original uuid, so eager stream emissions, the final batch,
// and whole re-fetches of a chat never duplicate history.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatmirror/chatmirror/internal/message"
)

// Archive stores canonical messages.
type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates an Archive over an open pool.
func New(log *slog.Logger, pool *pgxpool.Pool) *Archive {
	if log == nil {
		log = slog.Default()
	}
	return &Archive{pool: pool, logger: log.With(slog.String("component", "archive"))}
}

// EnsureSchema creates the messages table when it does not exist yet.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			uuid        TEXT PRIMARY KEY,
			platform_id BIGINT NOT NULL,
			chat_id     BIGINT NOT NULL,
			user_id     BIGINT NOT NULL DEFAULT 0,
			ts          TIMESTAMPTZ NOT NULL,
			text        TEXT NOT NULL DEFAULT '',
			media       JSONB NOT NULL DEFAULT '[]',
			embedding   JSONB,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS messages_chat_ts_idx ON messages (chat_id, ts);
		CREATE UNIQUE INDEX IF NOT EXISTS messages_chat_platform_idx ON messages (chat_id, platform_id)`)
	if err != nil {
		return fmt.Errorf("ensure messages schema: %w", err)
	}
	return nil
}

// Record upserts the batch by (chat_id, platform_id). Later records win but
// the row keeps the uuid it was first recorded under, so re-fetching a chat
// converges instead of accumulating rows with fresh uuids.
func (a *Archive) Record(ctx context.Context, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, msg := range msgs {
		if strings.TrimSpace(msg.UUID) == "" {
			return fmt.Errorf("message without uuid cannot be recorded")
		}
		mediaJSON, err := json.Marshal(msg.Media)
		if err != nil {
			return fmt.Errorf("marshal media for %s: %w", msg.UUID, err)
		}
		var embeddingJSON []byte
		if msg.Embedding != nil {
			embeddingJSON, err = json.Marshal(msg.Embedding)
			if err != nil {
				return fmt.Errorf("marshal embedding for %s: %w", msg.UUID, err)
			}
		}
		batch.Queue(`
			INSERT INTO messages (uuid, platform_id, chat_id, user_id, ts, text, media, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chat_id, platform_id) DO UPDATE SET
				user_id     = EXCLUDED.user_id,
				ts          = EXCLUDED.ts,
				text        = EXCLUDED.text,
				media       = EXCLUDED.media,
				embedding   = COALESCE(EXCLUDED.embedding, messages.embedding),
				recorded_at = now()`,
			msg.UUID, msg.PlatformID, msg.ChatID, msg.UserID,
			msg.Timestamp.UTC(), msg.Text, mediaJSON, embeddingJSON)
	}

	results := a.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range msgs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record message batch: %w", err)
		}
	}
	return nil
}

// ListByChat returns up to limit archived messages for the chat in timestamp
// order, starting at offset.
func (a *Archive) ListByChat(ctx context.Context, chatID int64, limit, offset int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, `
		SELECT uuid, platform_id, chat_id, user_id, ts, text, media, embedding
		FROM messages
		WHERE chat_id = $1
		ORDER BY ts, platform_id
		LIMIT $2 OFFSET $3`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var (
			msg           message.Message
			ts            time.Time
			mediaJSON     []byte
			embeddingJSON []byte
		)
		if err := rows.Scan(&msg.UUID, &msg.PlatformID, &msg.ChatID, &msg.UserID,
			&ts, &msg.Text, &mediaJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Timestamp = ts
		if len(mediaJSON) > 0 {
			if err := json.Unmarshal(mediaJSON, &msg.Media); err != nil {
				return nil, fmt.Errorf("decode media for %s: %w", msg.UUID, err)
			}
		}
		if len(embeddingJSON) > 0 {
			if err := json.Unmarshal(embeddingJSON, &msg.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for %s: %w", msg.UUID, err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
