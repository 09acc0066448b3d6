// Package platform defines the platform-native message record and the client
// interface the pipeline requires from the external chat platform.
package platform

import (
	"strings"
	"time"
)

// MediaKind classifies a platform media reference.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaSticker  MediaKind = "sticker"
	MediaDocument MediaKind = "document"
	MediaUnknown  MediaKind = "unknown"
)

// MediaRef is an opaque reference to a media object on the platform.
type MediaRef struct {
	Kind   MediaKind
	FileID string
	// Name and Mime are advisory; the platform may omit them.
	Name string
	Mime string
	Size int64
	// Emoji and SetName carry sticker metadata when Kind is MediaSticker.
	Emoji   string
	SetName string
}

// Message is a raw message as delivered by the platform, before conversion
// into the canonical form.
type Message struct {
	ID     int64
	ChatID int64
	UserID int64
	Date   time.Time
	Text   string
	Media  []MediaRef
	// Tombstone marks service messages and deleted placeholders; these carry
	// no user content and are filtered before conversion.
	Tombstone bool
}

// HistoryOptions selects a pagination window over a chat's history.
// MinID/MaxID bound an incremental export; Since/Until bound by time.
type HistoryOptions struct {
	Limit  int
	Offset int
	MinID  int64
	MaxID  int64
	Since  time.Time
	Until  time.Time
}

// InWindow reports whether the message falls inside the id and time bounds.
func (o HistoryOptions) InWindow(m Message) bool {
	if o.MinID > 0 && m.ID < o.MinID {
		return false
	}
	if o.MaxID > 0 && m.ID > o.MaxID {
		return false
	}
	if !o.Since.IsZero() && m.Date.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && m.Date.After(o.Until) {
		return false
	}
	return true
}

// IsEmpty reports whether the message carries no usable content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Media) == 0
}
