// Package media implements the attachment enrichment stage: it downloads
// media bytes from the source platform, persists them to durable storage, and
// serves stickers through a read/write-through cache keyed by file id.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"sync"

	"github.com/chatmirror/chatmirror/internal/message"
	"github.com/chatmirror/chatmirror/internal/pipeline"
	"github.com/chatmirror/chatmirror/internal/platform"
	"github.com/chatmirror/chatmirror/internal/sticker"
	"github.com/chatmirror/chatmirror/internal/storage"
)

// Resolver resolves attachment bytes for a batch. It runs in stream mode so
// each message reaches the sink as soon as its own attachments settle instead
// of waiting for the slowest message in the batch.
type Resolver struct {
	client   platform.Client
	store    storage.Provider
	stickers sticker.Store
	logger   *slog.Logger

	// sem bounds concurrent attachment downloads across the whole resolver.
	sem    chan struct{}
	writes sync.WaitGroup
}

// New creates a Resolver. jobs bounds concurrent attachment downloads; values
// below one fall back to a single worker.
func New(log *slog.Logger, client platform.Client, store storage.Provider, stickers sticker.Store, jobs int) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if jobs < 1 {
		jobs = 1
	}
	return &Resolver{
		client:   client,
		store:    store,
		stickers: stickers,
		logger:   log.With(slog.String("component", "media")),
		sem:      make(chan struct{}, jobs),
	}
}

// Mode reports the stream execution shape.
func (r *Resolver) Mode() pipeline.Mode { return pipeline.ModeStream }

// Stream resolves each message's attachments and yields the message once all
// of them have settled. Messages without media pass through untouched. An
// attachment that fails to download stays unresolved on an otherwise complete
// message; the message itself is still yielded.
func (r *Resolver) Stream(ctx context.Context, batch []message.Message) (<-chan message.Message, error) {
	out := make(chan message.Message)
	go func() {
		defer close(out)
		for _, msg := range batch {
			if ctx.Err() != nil {
				return
			}
			resolved := r.resolveMessage(ctx, msg)
			select {
			case out <- resolved:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Wait blocks until all persistence writes started so far have finished.
// Writes are fire-and-forget for the pipeline; callers that need the bytes on
// disk (shutdown, tests) wait here.
func (r *Resolver) Wait() {
	r.writes.Wait()
}

// resolveMessage fans the message's attachments out over the bounded worker
// pool and waits for all of them before returning the patched copy.
func (r *Resolver) resolveMessage(ctx context.Context, msg message.Message) message.Message {
	if !msg.HasMedia() {
		return msg
	}
	resolved := msg.Clone()

	var wg sync.WaitGroup
	for i := range resolved.Media {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-r.sem }()
			resolved.Media[idx] = r.resolveAttachment(ctx, resolved, idx)
		}(i)
	}
	wg.Wait()
	return resolved
}

// resolveAttachment produces the settled form of one attachment. Failures are
// logged and leave the attachment unresolved; they never propagate.
func (r *Resolver) resolveAttachment(ctx context.Context, msg message.Message, idx int) message.Attachment {
	att := msg.Media[idx]
	att.Encoded = ""

	if att.Kind == message.KindSticker && att.Ref.FileID != "" {
		if entry, ok, err := r.stickers.FindByFileID(ctx, att.Ref.FileID); err != nil {
			r.logger.Warn("sticker cache lookup failed",
				slog.String("file_id", att.Ref.FileID), slog.Any("error", err))
		} else if ok {
			att.Bytes = entry.Bytes
			att.Path = entry.Path
			return att
		}
	}

	data, err := r.client.DownloadMedia(ctx, att.Ref)
	if err != nil {
		r.logger.Warn("attachment download failed",
			slog.String("uuid", msg.UUID),
			slog.Int("index", idx),
			slog.Any("error", err))
		return att
	}
	att.Bytes = data

	key := objectKey(msg, idx, att)
	att.Path = r.store.AccessPath(key)
	r.persist(key, data)

	if att.Kind == message.KindSticker && att.Ref.FileID != "" {
		entry := sticker.Entry{
			FileID:  att.Ref.FileID,
			Bytes:   data,
			Path:    att.Path,
			Emoji:   att.Ref.Emoji,
			SetName: att.Ref.SetName,
		}
		if err := r.stickers.Insert(ctx, entry); err != nil {
			r.logger.Warn("sticker cache insert failed",
				slog.String("file_id", att.Ref.FileID), slog.Any("error", err))
		}
	}
	return att
}

// persist writes the bytes to durable storage in the background. The write
// outlives the batch context on purpose: a finished fetch must not strand
// half-written files.
func (r *Resolver) persist(key string, data []byte) {
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		if err := r.store.Put(context.Background(), key, bytes.NewReader(data)); err != nil {
			r.logger.Error("attachment persist failed",
				slog.String("key", key), slog.Any("error", err))
		}
	}()
}

// objectKey derives the per-user, per-chat storage key for an attachment. The
// message uuid keeps keys unique across retries of the same platform message.
func objectKey(msg message.Message, idx int, att message.Attachment) string {
	return fmt.Sprintf("users/%d/chats/%d/%s/%d%s", msg.UserID, msg.ChatID, msg.UUID, idx, extensionFor(att))
}

func extensionFor(att message.Attachment) string {
	if att.Ref.Mime != "" {
		if exts, err := mime.ExtensionsByType(att.Ref.Mime); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext := filepath.Ext(att.Ref.Name); ext != "" {
		return ext
	}
	switch att.Kind {
	case message.KindPhoto:
		return ".jpg"
	case message.KindSticker:
		return ".webp"
	default:
		return ".bin"
	}
}
