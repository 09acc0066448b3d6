package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmirror/chatmirror/internal/message"
)

func batchOf(uuids ...string) []message.Message {
	out := make([]message.Message, len(uuids))
	for i, id := range uuids {
		out[i] = message.Message{UUID: id, PlatformID: int64(i + 1), Text: "orig-" + id}
	}
	return out
}

func TestMergeBatch_SubsetAndReorder(t *testing.T) {
	base := batchOf("a", "b", "c", "d")
	// Resolver dropped "b" and "d" and returned the rest in reverse order.
	result := []message.Message{
		{UUID: "c", Text: "patched-c"},
		{UUID: "a", Text: "patched-a"},
	}

	merged := mergeBatch(base, result)
	require.Len(t, merged, len(base), "merge must never change batch length")
	assert.Equal(t, "patched-a", merged[0].Text)
	assert.Equal(t, "orig-b", merged[1].Text)
	assert.Equal(t, "patched-c", merged[2].Text)
	assert.Equal(t, "orig-d", merged[3].Text)
	for i, msg := range merged {
		assert.Equal(t, base[i].UUID, msg.UUID, "merge must preserve input order")
	}
}

func TestMergeBatch_EmptyResultIsNoOp(t *testing.T) {
	base := batchOf("a", "b")
	merged := mergeBatch(base, nil)
	assert.Equal(t, base, merged)
}

func TestMergeBatch_UnknownUUIDDiscarded(t *testing.T) {
	base := batchOf("a")
	merged := mergeBatch(base, []message.Message{
		{UUID: "intruder", Text: "nope"},
		{UUID: "a", Text: "patched"},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, "a", merged[0].UUID)
	assert.Equal(t, "patched", merged[0].Text)
}

func TestOverlay_PatchFieldsWin(t *testing.T) {
	base := message.Message{
		UUID:       "a",
		PlatformID: 10,
		ChatID:     100,
		Text:       "orig",
		Media: []message.Attachment{
			{Kind: message.KindPhoto},
			{Kind: message.KindDocument},
		},
	}
	patch := message.Message{
		UUID:  "a",
		Media: []message.Attachment{{Kind: message.KindPhoto, Path: "/data/p.jpg"}},
	}

	out := overlay(base, patch)
	assert.Equal(t, "orig", out.Text, "absent patch fields keep base values")
	assert.Equal(t, int64(10), out.PlatformID)
	assert.Equal(t, int64(100), out.ChatID)
	require.Len(t, out.Media, 1, "media is replaced wholesale, never merged by index")
	assert.Equal(t, "/data/p.jpg", out.Media[0].Path)
}

func TestOverlay_EmbeddingReplaced(t *testing.T) {
	base := message.Message{UUID: "a", Embedding: []float32{1}}
	patch := message.Message{UUID: "a", Embedding: []float32{2, 3}}
	out := overlay(base, patch)
	assert.Equal(t, []float32{2, 3}, out.Embedding)

	unchanged := overlay(base, message.Message{UUID: "a"})
	assert.Equal(t, []float32{1}, unchanged.Embedding)
}
