package pipeline

import "github.com/chatmirror/chatmirror/internal/message"

// mergeBatch overlays a resolver's result onto the input batch, keyed on
// uuid. The output always has the same length and order as base; result
// entries with uuids not present in base are discarded. Result order and
// length are irrelevant, which is the property a positional merge breaks.
func mergeBatch(base, result []message.Message) []message.Message {
	byUUID := make(map[string]message.Message, len(result))
	for _, patch := range result {
		byUUID[patch.UUID] = patch
	}
	out := make([]message.Message, len(base))
	for i, msg := range base {
		if patch, ok := byUUID[msg.UUID]; ok {
			out[i] = overlay(msg, patch)
		} else {
			out[i] = msg
		}
	}
	return out
}

// overlay applies patch's defined fields onto base. Identity fields (uuid,
// platform id, chat id, timestamp) always come from base. Slice-valued
// fields are replaced wholesale when the patch defines them, never merged
// element by element.
func overlay(base, patch message.Message) message.Message {
	out := base
	if patch.Text != "" {
		out.Text = patch.Text
	}
	if patch.UserID != 0 {
		out.UserID = patch.UserID
	}
	if patch.Media != nil {
		out.Media = patch.Media
	}
	if patch.Embedding != nil {
		out.Embedding = patch.Embedding
	}
	return out
}
