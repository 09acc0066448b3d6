package events_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmirror/chatmirror/internal/events"
)

type recordedCommand struct {
	kind string
	cmd  any
}

type fakeHandler struct {
	mu       sync.Mutex
	commands []recordedCommand
	taskID   string
}

func (h *fakeHandler) HandleFetch(_ context.Context, cmd events.FetchCommand) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, recordedCommand{kind: "fetch", cmd: cmd})
	return h.taskID, nil
}

func (h *fakeHandler) HandleAbort(_ context.Context, cmd events.AbortCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, recordedCommand{kind: "abort", cmd: cmd})
	return nil
}

func (h *fakeHandler) HandleSend(_ context.Context, cmd events.SendCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, recordedCommand{kind: "send", cmd: cmd})
	return nil
}

func (h *fakeHandler) recorded() []recordedCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedCommand(nil), h.commands...)
}

func dialHub(t *testing.T, hub *events.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func sendCommand(t *testing.T, conn *websocket.Conn, topic string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(events.Envelope{Topic: topic, Payload: raw}))
}

func TestHub_FetchCommandIsAcknowledgedWithTaskID(t *testing.T) {
	handler := &fakeHandler{taskID: uuid.NewString()}
	hub := events.NewHub(nil, handler)
	conn := dialHub(t, hub)

	sendCommand(t, conn, events.CommandFetch, events.FetchCommand{
		ChatID:     42,
		Pagination: events.Pagination{Limit: 10},
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, events.TopicFetchTask, env.Topic)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	assert.Equal(t, handler.taskID, ack["task_id"])

	cmds := handler.recorded()
	require.Len(t, cmds, 1)
	fetch, ok := cmds[0].cmd.(events.FetchCommand)
	require.True(t, ok)
	assert.Equal(t, int64(42), fetch.ChatID)
	assert.Equal(t, 10, fetch.Pagination.Limit)
}

func TestHub_InvalidPayloadIsRejected(t *testing.T) {
	handler := &fakeHandler{}
	hub := events.NewHub(nil, handler)
	conn := dialHub(t, hub)

	// chat_id missing fails validation before the handler sees it.
	sendCommand(t, conn, events.CommandSend, map[string]any{"content": "hi"})

	env := readEnvelope(t, conn)
	assert.Equal(t, events.TopicError, env.Topic)
	assert.Empty(t, handler.recorded())
}

func TestHub_AbortRequiresWellFormedTaskID(t *testing.T) {
	handler := &fakeHandler{}
	hub := events.NewHub(nil, handler)
	conn := dialHub(t, hub)

	sendCommand(t, conn, events.CommandFetchAbort, map[string]any{"task_id": "not-a-uuid"})
	env := readEnvelope(t, conn)
	assert.Equal(t, events.TopicError, env.Topic)

	taskID := uuid.NewString()
	sendCommand(t, conn, events.CommandFetchAbort, events.AbortCommand{TaskID: taskID})

	require.Eventually(t, func() bool {
		return len(handler.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	abort, ok := handler.recorded()[0].cmd.(events.AbortCommand)
	require.True(t, ok)
	assert.Equal(t, taskID, abort.TaskID)
}

func TestHub_EmitBroadcastsToClients(t *testing.T) {
	hub := events.NewHub(nil, &fakeHandler{})
	conn := dialHub(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Emit(events.TopicFetchProgress, map[string]any{"task_id": "t-1", "fetched": 20})

	env := readEnvelope(t, conn)
	assert.Equal(t, events.TopicFetchProgress, env.Topic)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "t-1", payload["task_id"])
	assert.Equal(t, float64(20), payload["fetched"])
}

// A client that stops reading must not stall Emit: once its send queue
// fills, the hub drops it and broadcasting continues at full speed.
func TestHub_EmitDropsStalledClient(t *testing.T) {
	hub := events.NewHub(nil, &fakeHandler{})
	dialHub(t, hub) // connected but never reads

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	payload := map[string]string{"blob": strings.Repeat("x", 64<<10)}
	start := time.Now()
	for i := 0; i < 200; i++ {
		hub.Emit(events.TopicMessageData, payload)
	}
	assert.Less(t, time.Since(start), 3*time.Second,
		"broadcasting must not block on a stalled client")

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond, "stalled client is disconnected")
}

func TestHub_UnknownTopicReturnsError(t *testing.T) {
	hub := events.NewHub(nil, &fakeHandler{})
	conn := dialHub(t, hub)

	sendCommand(t, conn, "message:unknown", map[string]any{})
	env := readEnvelope(t, conn)
	assert.Equal(t, events.TopicError, env.Topic)
}
