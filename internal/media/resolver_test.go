package media_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmirror/chatmirror/internal/media"
	"github.com/chatmirror/chatmirror/internal/message"
	"github.com/chatmirror/chatmirror/internal/platform"
	"github.com/chatmirror/chatmirror/internal/sticker"
)

type fakeClient struct {
	mu        sync.Mutex
	files     map[string][]byte
	failures  map[string]error
	downloads int
}

func (c *fakeClient) IsAuthorized(context.Context) bool { return true }

func (c *fakeClient) GetMessages(context.Context, int64, platform.HistoryOptions) ([]platform.Message, error) {
	return nil, nil
}

func (c *fakeClient) SendMessage(context.Context, int64, string) error { return nil }

func (c *fakeClient) DownloadMedia(_ context.Context, ref platform.MediaRef) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads++
	if err, ok := c.failures[ref.FileID]; ok {
		return nil, err
	}
	data, ok := c.files[ref.FileID]
	if !ok {
		return nil, platform.ErrNoMedia
	}
	return data, nil
}

func (c *fakeClient) downloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloads
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (s *fakeStore) EnsureDir(string) error { return nil }

func (s *fakeStore) Put(_ context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) Delete(_ context.Context, key string) error { return nil }

func (s *fakeStore) AccessPath(key string) string { return "/data/" + key }

func (s *fakeStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func collect(t *testing.T, ch <-chan message.Message) []message.Message {
	t.Helper()
	var out []message.Message
	for msg := range ch {
		out = append(out, msg)
	}
	return out
}

func mediaMessage(uuid string, refs ...platform.MediaRef) message.Message {
	msg := message.Message{UUID: uuid, PlatformID: 1, ChatID: 42, UserID: 7}
	for _, ref := range refs {
		kind := message.KindPhoto
		if ref.Kind == platform.MediaSticker {
			kind = message.KindSticker
		}
		msg.Media = append(msg.Media, message.Attachment{Kind: kind, Ref: ref})
	}
	return msg
}

func TestResolver_PartialFailureLeavesOtherAttachmentsResolved(t *testing.T) {
	client := &fakeClient{
		files: map[string][]byte{
			"f-1": []byte("one"),
			"f-3": []byte("three"),
		},
		failures: map[string]error{"f-2": errors.New("network down")},
	}
	store := newFakeStore()
	r := media.New(nil, client, store, sticker.NewMemoryStore(), 4)

	batch := []message.Message{mediaMessage("m-1",
		platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-1"},
		platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-2"},
		platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-3"},
	)}

	ch, err := r.Stream(context.Background(), batch)
	require.NoError(t, err)
	out := collect(t, ch)
	require.Len(t, out, 1)

	atts := out[0].Media
	require.Len(t, atts, 3)
	assert.True(t, atts[0].Resolved())
	assert.False(t, atts[1].Resolved(), "failed attachment stays unresolved")
	assert.True(t, atts[2].Resolved())
	assert.Equal(t, []byte("one"), atts[0].Bytes)
	assert.Equal(t, []byte("three"), atts[2].Bytes)
}

func TestResolver_StickerCacheHitSkipsDownload(t *testing.T) {
	client := &fakeClient{files: map[string][]byte{}}
	cache := sticker.NewMemoryStore()
	require.NoError(t, cache.Insert(context.Background(), sticker.Entry{
		FileID: "stk-1",
		Bytes:  []byte("cached"),
		Path:   "/data/stickers/stk-1.webp",
	}))
	r := media.New(nil, client, newFakeStore(), cache, 2)

	batch := []message.Message{mediaMessage("m-1",
		platform.MediaRef{Kind: platform.MediaSticker, FileID: "stk-1"},
	)}

	ch, err := r.Stream(context.Background(), batch)
	require.NoError(t, err)
	out := collect(t, ch)
	require.Len(t, out, 1)

	assert.Zero(t, client.downloadCount(), "cache hit must not hit the platform")
	require.Len(t, out[0].Media, 1)
	assert.Equal(t, []byte("cached"), out[0].Media[0].Bytes)
	assert.Equal(t, "/data/stickers/stk-1.webp", out[0].Media[0].Path)
}

func TestResolver_StickerMissWritesThrough(t *testing.T) {
	client := &fakeClient{files: map[string][]byte{"stk-2": []byte("fresh")}}
	cache := sticker.NewMemoryStore()
	r := media.New(nil, client, newFakeStore(), cache, 2)

	batch := []message.Message{mediaMessage("m-1",
		platform.MediaRef{Kind: platform.MediaSticker, FileID: "stk-2", Emoji: "🎉"},
	)}

	ch, err := r.Stream(context.Background(), batch)
	require.NoError(t, err)
	out := collect(t, ch)
	require.Len(t, out, 1)
	assert.Equal(t, 1, client.downloadCount())

	entry, ok, err := cache.FindByFileID(context.Background(), "stk-2")
	require.NoError(t, err)
	require.True(t, ok, "downloaded sticker must be cached")
	assert.Equal(t, []byte("fresh"), entry.Bytes)
	assert.Equal(t, "🎉", entry.Emoji)
}

func TestResolver_WaitFlushesPersistence(t *testing.T) {
	client := &fakeClient{files: map[string][]byte{"f-1": []byte("payload")}}
	store := newFakeStore()
	r := media.New(nil, client, store, sticker.NewMemoryStore(), 2)

	batch := []message.Message{mediaMessage("m-1",
		platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-1"},
	)}

	ch, err := r.Stream(context.Background(), batch)
	require.NoError(t, err)
	out := collect(t, ch)
	r.Wait()

	require.Len(t, out, 1)
	require.Len(t, out[0].Media, 1)
	assert.Equal(t, 1, store.len())
	data, ok := store.get("users/7/chats/42/m-1/0.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "/data/users/7/chats/42/m-1/0.jpg", out[0].Media[0].Path)
}

func TestResolver_ClearsStaleEncodedPayload(t *testing.T) {
	client := &fakeClient{files: map[string][]byte{"f-1": []byte("payload")}}
	r := media.New(nil, client, newFakeStore(), sticker.NewMemoryStore(), 2)

	msg := mediaMessage("m-1", platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-1"})
	msg.Media[0].Encoded = "c3RhbGU="

	ch, err := r.Stream(context.Background(), []message.Message{msg})
	require.NoError(t, err)
	out := collect(t, ch)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Media[0].Encoded)
}

func TestResolver_MessagesWithoutMediaPassThrough(t *testing.T) {
	client := &fakeClient{}
	r := media.New(nil, client, newFakeStore(), sticker.NewMemoryStore(), 2)

	batch := []message.Message{
		{UUID: "m-1", PlatformID: 1, ChatID: 42, Text: "plain"},
		mediaMessage("m-2", platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-9"}),
	}

	ch, err := r.Stream(context.Background(), batch)
	require.NoError(t, err)
	out := collect(t, ch)

	require.Len(t, out, 2)
	assert.Equal(t, "m-1", out[0].UUID)
	assert.Equal(t, "plain", out[0].Text)
	assert.Equal(t, "m-2", out[1].UUID)
}

func TestResolver_CancelledContextStopsStream(t *testing.T) {
	client := &fakeClient{files: map[string][]byte{"f-1": []byte("x")}}
	r := media.New(nil, client, newFakeStore(), sticker.NewMemoryStore(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := r.Stream(ctx, []message.Message{
		mediaMessage("m-1", platform.MediaRef{Kind: platform.MediaPhoto, FileID: "f-1"}),
	})
	require.NoError(t, err)
	out := collect(t, ch)
	assert.Empty(t, out)
}
