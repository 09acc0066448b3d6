package platform

import (
	"context"
	"errors"
)

// ErrNoMedia indicates the platform returned no bytes for a media reference.
var ErrNoMedia = errors.New("platform returned no media")

// Client is the platform surface the pipeline depends on. Implementations
// live under platform/<name>; tests use in-memory fakes.
type Client interface {
	// IsAuthorized reports whether the platform session is valid.
	IsAuthorized(ctx context.Context) bool
	// GetMessages returns one page of a chat's history. An empty page is not
	// an error; the fetch driver decides how to interpret it.
	GetMessages(ctx context.Context, chatID int64, opts HistoryOptions) ([]Message, error)
	// DownloadMedia fetches the raw bytes behind a media reference.
	DownloadMedia(ctx context.Context, ref MediaRef) ([]byte, error)
	// SendMessage posts a text message into a chat.
	SendMessage(ctx context.Context, chatID int64, text string) error
}
