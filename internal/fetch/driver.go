// Package fetch pulls raw pages of platform messages and yields them lazily
// to the pipeline, filtering tombstones and tracking the pagination window.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatmirror/chatmirror/internal/platform"
)

var (
	// ErrNotAuthorized indicates the platform session is invalid. Terminal
	// for the session; not retried internally.
	ErrNotAuthorized = errors.New("platform session not authorized")
	// ErrEmptyResult indicates the platform returned zero messages for a
	// non-empty request. Callers treat it as end-of-data.
	ErrEmptyResult = errors.New("platform returned no messages")
)

// State describes where a session is in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateYielding  State = "yielding"
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
)

// Driver creates fetch sessions over a platform client.
type Driver struct {
	client platform.Client
	logger *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(log *slog.Logger, client platform.Client) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		client: client,
		logger: log.With(slog.String("component", "fetch")),
	}
}

// Fetch opens a lazy session over one chat's history. The session is finite
// and not restartable; start over by calling Fetch with a new window.
func (d *Driver) Fetch(chatID int64, opts platform.HistoryOptions) *Session {
	return &Session{
		driver: d,
		chatID: chatID,
		opts:   opts,
		state:  StateIdle,
	}
}

// Session walks a chat's history one page at a time.
type Session struct {
	driver  *Driver
	chatID  int64
	opts    platform.HistoryOptions
	state   State
	err     error
	yielded int
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Yielded returns the number of messages handed to the caller so far,
// after tombstone filtering.
func (s *Session) Yielded() int {
	return s.yielded
}

// Next returns the next page of native messages with tombstones and
// contentless messages filtered out. It returns ErrEmptyResult once the
// history window is drained and
// ErrNotAuthorized if the platform session is invalid; both are terminal
// for the session.
func (s *Session) Next(ctx context.Context) ([]platform.Message, error) {
	switch s.state {
	case StateExhausted:
		return nil, ErrEmptyResult
	case StateFailed:
		return nil, s.err
	}
	select {
	case <-ctx.Done():
		return nil, s.fail(ctx.Err())
	default:
	}

	s.state = StateFetching
	if !s.driver.client.IsAuthorized(ctx) {
		return nil, s.fail(ErrNotAuthorized)
	}
	page, err := s.driver.client.GetMessages(ctx, s.chatID, s.opts)
	if err != nil {
		return nil, s.fail(fmt.Errorf("get messages: %w", err))
	}
	if len(page) == 0 {
		s.state = StateExhausted
		return nil, ErrEmptyResult
	}

	// Advance the window by the raw page length so tombstones are not
	// refetched forever.
	s.opts.Offset += len(page)

	filtered := page[:0:0]
	for _, msg := range page {
		if msg.Tombstone || msg.IsEmpty() {
			continue
		}
		filtered = append(filtered, msg)
	}
	s.yielded += len(filtered)
	s.state = StateYielding
	s.driver.logger.Debug("page fetched",
		slog.Int64("chat_id", s.chatID),
		slog.Int("raw", len(page)),
		slog.Int("yielded", len(filtered)),
	)
	return filtered, nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.err = err
	return err
}
