package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// Additional topics used on the WebSocket surface itself.
const (
	// TopicFetchTask acknowledges a fetch command with the assigned task id.
	TopicFetchTask = "message:fetch:task"
	// TopicError reports a rejected or failed command back to the sender.
	TopicError = "error"
)

// Command topics accepted from clients.
const (
	CommandFetch      = "message:fetch"
	CommandFetchAbort = "message:fetch:abort"
	CommandSend       = "message:send"
)

// Envelope is the wire shape in both directions.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Pagination narrows a fetch to a window of the chat history.
type Pagination struct {
	Limit  int   `json:"limit" validate:"gte=0"`
	Offset int   `json:"offset" validate:"gte=0"`
	MinID  int64 `json:"min_id" validate:"gte=0"`
	MaxID  int64 `json:"max_id" validate:"gte=0"`
}

// FetchCommand starts a history fetch for a chat.
type FetchCommand struct {
	ChatID     int64      `json:"chat_id" validate:"required"`
	Pagination Pagination `json:"pagination"`
}

// AbortCommand cancels a running fetch by task id.
type AbortCommand struct {
	TaskID string `json:"task_id" validate:"required,uuid4"`
}

// SendCommand posts a text message to a chat.
type SendCommand struct {
	ChatID  int64  `json:"chat_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// CommandHandler receives validated commands from connected clients.
type CommandHandler interface {
	HandleFetch(ctx context.Context, cmd FetchCommand) (taskID string, err error)
	HandleAbort(ctx context.Context, cmd AbortCommand) error
	HandleSend(ctx context.Context, cmd SendCommand) error
}

var (
	errUnknownTopic = errors.New("unknown command topic")
	errNoHandler    = errors.New("no command handler installed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub is the WebSocket surface. It implements Sink by broadcasting every
// emission to all connected clients and feeds incoming commands to the
// handler.
type Hub struct {
	validate *validator.Validate
	logger   *slog.Logger

	handlerMu sync.RWMutex
	handler   CommandHandler

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

const (
	// writeWait bounds a single frame write so a dead connection cannot hold
	// the writer goroutine forever.
	writeWait = 10 * time.Second
	// sendQueueSize is the per-client backlog. A client that falls this far
	// behind is disconnected rather than allowed to stall the pipeline.
	sendQueueSize = 64
)

// hubClient owns one connection. All frames go through the send queue and a
// single writer goroutine; Emit never touches the socket directly.
type hubClient struct {
	conn *websocket.Conn
	send chan Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func newHubClient(conn *websocket.Conn) *hubClient {
	return &hubClient{
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue offers a frame to the send queue without blocking. It reports false
// when the queue is full, which marks the client as too slow to keep.
func (c *hubClient) enqueue(env Envelope) bool {
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// close shuts the connection down and releases the writer goroutine. Safe to
// call from any goroutine, any number of times.
func (c *hubClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writeLoop is the single writer for the connection.
func (c *hubClient) writeLoop() {
	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// NewHub creates a Hub dispatching commands to handler.
func NewHub(log *slog.Logger, handler CommandHandler) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		handler:  handler,
		validate: validator.New(),
		logger:   log.With(slog.String("component", "hub")),
		clients:  make(map[*hubClient]struct{}),
	}
}

// SetHandler installs the command handler. The hub and its handler reference
// each other (the handler emits through the hub), so one side binds late.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handlerMu.Lock()
	h.handler = handler
	h.handlerMu.Unlock()
}

func (h *Hub) commandHandler() CommandHandler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.handler
}

// Emit broadcasts the payload to every connected client. Marshal failures and
// slow clients are logged and dropped; emission never blocks the pipeline.
func (h *Hub) Emit(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("emit payload marshal failed",
			slog.String("topic", topic), slog.Any("error", err))
		return
	}
	env := Envelope{Topic: topic, Payload: raw}

	h.mu.RLock()
	var stalled []*hubClient
	for client := range h.clients {
		if !client.enqueue(env) {
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range stalled {
		client.close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
	h.logger.Warn("dropped slow clients",
		slog.String("topic", topic), slog.Int("count", len(stalled)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle upgrades the request and serves the connection until the client
// disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := newHubClient(conn)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	go client.writeLoop()
	h.logger.Info("client connected", slog.String("remote", conn.RemoteAddr().String()))

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		client.close()
		h.logger.Info("client disconnected", slog.String("remote", conn.RemoteAddr().String()))
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read failed", slog.Any("error", err))
			}
			return
		}
		h.dispatch(r.Context(), client, env)
	}
}

// dispatch validates and routes one inbound command. Fetches run detached
// from the connection context: a closed tab must not abort a running fetch,
// cancellation goes through the abort command instead.
func (h *Hub) dispatch(ctx context.Context, client *hubClient, env Envelope) {
	handler := h.commandHandler()
	if handler == nil {
		h.sendError(client, env.Topic, errNoHandler)
		return
	}
	switch env.Topic {
	case CommandFetch:
		var cmd FetchCommand
		if !h.decode(client, env, &cmd) {
			return
		}
		go func() {
			taskID, err := handler.HandleFetch(context.Background(), cmd)
			if err != nil {
				h.sendError(client, env.Topic, err)
				return
			}
			h.sendTo(client, TopicFetchTask, map[string]string{"task_id": taskID})
		}()

	case CommandFetchAbort:
		var cmd AbortCommand
		if !h.decode(client, env, &cmd) {
			return
		}
		if err := handler.HandleAbort(ctx, cmd); err != nil {
			h.sendError(client, env.Topic, err)
		}

	case CommandSend:
		var cmd SendCommand
		if !h.decode(client, env, &cmd) {
			return
		}
		go func() {
			if err := handler.HandleSend(context.Background(), cmd); err != nil {
				h.sendError(client, env.Topic, err)
			}
		}()

	default:
		h.logger.Warn("unknown command topic", slog.String("topic", env.Topic))
		h.sendError(client, env.Topic, errUnknownTopic)
	}
}

func (h *Hub) decode(client *hubClient, env Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		h.logger.Warn("invalid command payload",
			slog.String("topic", env.Topic), slog.Any("error", err))
		h.sendError(client, env.Topic, err)
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		h.logger.Warn("command payload failed validation",
			slog.String("topic", env.Topic), slog.Any("error", err))
		h.sendError(client, env.Topic, err)
		return false
	}
	return true
}

func (h *Hub) sendTo(client *hubClient, topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if !client.enqueue(Envelope{Topic: topic, Payload: raw}) {
		h.logger.Debug("client send queue full", slog.String("topic", topic))
	}
}

func (h *Hub) sendError(client *hubClient, topic string, err error) {
	h.sendTo(client, TopicError, map[string]string{
		"command": topic,
		"error":   err.Error(),
	})
}
