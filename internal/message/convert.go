package message

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatmirror/chatmirror/internal/platform"
)

// ErrConversion indicates a native message cannot be converted. Callers skip
// the message; conversion failures are never fatal to a batch.
var ErrConversion = errors.New("message conversion failed")

// Convert maps a platform-native message into the canonical form. It is pure:
// no I/O, no retries. The uuid is assigned here and only here; converting the
// same native message twice yields two distinct canonical records.
func Convert(native platform.Message) (Message, error) {
	if native.Tombstone {
		return Message{}, fmt.Errorf("%w: tombstone message %d", ErrConversion, native.ID)
	}
	if native.ID == 0 {
		return Message{}, fmt.Errorf("%w: missing message id", ErrConversion)
	}
	if native.ChatID == 0 {
		return Message{}, fmt.Errorf("%w: missing chat id for message %d", ErrConversion, native.ID)
	}
	if native.Date.IsZero() {
		return Message{}, fmt.Errorf("%w: missing timestamp for message %d", ErrConversion, native.ID)
	}

	msg := Message{
		UUID:       uuid.NewString(),
		PlatformID: native.ID,
		ChatID:     native.ChatID,
		UserID:     native.UserID,
		Timestamp:  native.Date,
		Text:       native.Text,
	}
	if len(native.Media) > 0 {
		msg.Media = make([]Attachment, len(native.Media))
		for i, ref := range native.Media {
			msg.Media[i] = Attachment{Kind: kindOf(ref.Kind), Ref: ref}
		}
	}
	return msg, nil
}

func kindOf(kind platform.MediaKind) AttachmentKind {
	switch kind {
	case platform.MediaPhoto:
		return KindPhoto
	case platform.MediaSticker:
		return KindSticker
	case platform.MediaDocument:
		return KindDocument
	default:
		return KindUnknown
	}
}
