// Package message defines the canonical message record and the pure converter
// from the platform-native form. A canonical message is immutable once
// converted; resolvers return patched copies and the pipeline merges them by
// uuid.
package message

import (
	"time"

	"github.com/chatmirror/chatmirror/internal/platform"
)

// AttachmentKind classifies a canonical media attachment.
type AttachmentKind string

const (
	KindPhoto    AttachmentKind = "photo"
	KindSticker  AttachmentKind = "sticker"
	KindDocument AttachmentKind = "document"
	KindUnknown  AttachmentKind = "unknown"
)

// Attachment is one media entry on a canonical message. It is created
// empty-of-bytes at conversion; the media resolver populates Bytes and Path.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	// Ref is the opaque platform media reference used to download the bytes.
	Ref platform.MediaRef `json:"ref"`
	// Bytes holds the raw payload while it is in flight; cleared once a
	// durable Path exists so batches do not pin large payloads in memory.
	Bytes []byte `json:"-"`
	// Path is the durable on-disk location once persisted.
	Path string `json:"path,omitempty"`
	// Encoded is a transport representation (e.g. base64). The media
	// resolver never produces it and clears stale values.
	Encoded string `json:"encoded,omitempty"`
}

// Resolved reports whether the attachment carries usable content.
func (a Attachment) Resolved() bool {
	return len(a.Bytes) > 0 || a.Path != ""
}

// Message is the canonical, platform-agnostic message record.
//
// UUID is assigned exactly once, at conversion time, and is the sole join key
// across resolver stages. It is never regenerated during resolution.
type Message struct {
	UUID       string       `json:"uuid"`
	PlatformID int64        `json:"platform_id"`
	ChatID     int64        `json:"chat_id"`
	UserID     int64        `json:"user_id,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	Text       string       `json:"text,omitempty"`
	Media      []Attachment `json:"media,omitempty"`
	Embedding  []float32    `json:"embedding,omitempty"`
}

// HasMedia reports whether the message carries any attachments.
func (m Message) HasMedia() bool {
	return len(m.Media) > 0
}

// Clone returns a deep copy suitable for patching by a resolver.
func (m Message) Clone() Message {
	out := m
	if m.Media != nil {
		out.Media = make([]Attachment, len(m.Media))
		for i, att := range m.Media {
			out.Media[i] = att
			if att.Bytes != nil {
				out.Media[i].Bytes = append([]byte(nil), att.Bytes...)
			}
		}
	}
	if m.Embedding != nil {
		out.Embedding = append([]float32(nil), m.Embedding...)
	}
	return out
}
