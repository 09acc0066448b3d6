// Package mirror is the application core: it owns fetch tasks, runs pages
// through conversion and the resolver pipeline, archives the results, and
// answers the commands arriving over the event hub.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chatmirror/chatmirror/internal/events"
	"github.com/chatmirror/chatmirror/internal/fetch"
	"github.com/chatmirror/chatmirror/internal/message"
	"github.com/chatmirror/chatmirror/internal/pipeline"
	"github.com/chatmirror/chatmirror/internal/platform"
)

// ErrUnknownTask indicates an abort for a task id that is not running.
var ErrUnknownTask = errors.New("unknown task id")

// Recorder persists finished batches. The archive satisfies it.
type Recorder interface {
	Record(ctx context.Context, msgs []message.Message) error
}

// ProgressPayload is emitted on the fetch progress topic after every page.
type ProgressPayload struct {
	TaskID        string  `json:"task_id"`
	ChatID        int64   `json:"chat_id"`
	Fetched       int     `json:"fetched"`
	TotalEstimate int     `json:"total_estimate"`
	Percent       float64 `json:"percent"`
	Done          bool    `json:"done"`
}

// SendResultPayload acknowledges a send command.
type SendResultPayload struct {
	ChatID int64  `json:"chat_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Service coordinates fetch tasks and message sending.
type Service struct {
	client     platform.Client
	driver     *fetch.Driver
	pipe       *pipeline.Orchestrator
	recorder   Recorder
	sink       events.Sink
	logger     *slog.Logger
	fetchLimit int

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// New creates a Service. fetchLimit is the page size used when a fetch
// command omits one.
func New(log *slog.Logger, client platform.Client, driver *fetch.Driver, pipe *pipeline.Orchestrator, recorder Recorder, sink events.Sink, fetchLimit int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if fetchLimit < 1 {
		fetchLimit = 50
	}
	return &Service{
		client:     client,
		driver:     driver,
		pipe:       pipe,
		recorder:   recorder,
		sink:       sink,
		logger:     log.With(slog.String("component", "mirror")),
		fetchLimit: fetchLimit,
		tasks:      make(map[string]context.CancelFunc),
	}
}

// HandleFetch starts a background fetch task and returns its id immediately.
func (s *Service) HandleFetch(ctx context.Context, cmd events.FetchCommand) (string, error) {
	if cmd.ChatID == 0 {
		return "", fmt.Errorf("chat id is required")
	}
	opts := platform.HistoryOptions{
		Limit:  cmd.Pagination.Limit,
		Offset: cmd.Pagination.Offset,
		MinID:  cmd.Pagination.MinID,
		MaxID:  cmd.Pagination.MaxID,
	}
	if opts.Limit <= 0 {
		opts.Limit = s.fetchLimit
	}

	taskID := uuid.NewString()
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.tasks[taskID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(taskID)
		s.runFetch(taskCtx, taskID, cmd.ChatID, opts)
	}()

	s.logger.Info("fetch task started",
		slog.String("task_id", taskID),
		slog.Int64("chat_id", cmd.ChatID),
	)
	return taskID, nil
}

// HandleAbort cancels the task with the given id.
func (s *Service) HandleAbort(_ context.Context, cmd events.AbortCommand) error {
	s.mu.Lock()
	cancel, ok := s.tasks[cmd.TaskID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, cmd.TaskID)
	}
	cancel()
	s.logger.Info("fetch task aborted", slog.String("task_id", cmd.TaskID))
	return nil
}

// HandleSend posts a text message to the chat and emits the acknowledgment.
func (s *Service) HandleSend(ctx context.Context, cmd events.SendCommand) error {
	text := strings.TrimSpace(cmd.Content)
	if text == "" {
		return fmt.Errorf("message content is required")
	}
	err := s.client.SendMessage(ctx, cmd.ChatID, text)
	result := SendResultPayload{ChatID: cmd.ChatID, OK: err == nil}
	if err != nil {
		result.Error = err.Error()
	}
	s.sink.Emit(events.TopicSendResult, result)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// ActiveTasks returns the number of running fetch tasks.
func (s *Service) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every running task and waits for them to drain.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.tasks {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// runFetch walks the chat history page by page until the window is drained,
// the task is aborted, or the session fails.
func (s *Service) runFetch(ctx context.Context, taskID string, chatID int64, opts platform.HistoryOptions) {
	session := s.driver.Fetch(chatID, opts)
	estimate := opts.Limit
	fetched := 0

	for {
		page, err := session.Next(ctx)
		if err != nil {
			if errors.Is(err, fetch.ErrEmptyResult) {
				break
			}
			s.logger.Error("fetch task stopped",
				slog.String("task_id", taskID),
				slog.Int64("chat_id", chatID),
				slog.Any("error", err),
			)
			break
		}

		batch := s.convertPage(page)
		if len(batch) == 0 {
			continue
		}

		resolved, err := s.pipe.Process(ctx, batch)
		if err != nil {
			// Cancellation mid-chain; the partial batch is still archived so
			// an aborted task leaves consistent state behind.
			s.logger.Info("fetch task cancelled mid-batch", slog.String("task_id", taskID))
		}
		if recErr := s.recorder.Record(context.WithoutCancel(ctx), resolved); recErr != nil {
			s.logger.Error("archive record failed",
				slog.String("task_id", taskID),
				slog.Any("error", recErr),
			)
		}
		dropArchivedBytes(resolved)

		fetched += len(resolved)
		s.emitProgress(taskID, chatID, fetched, estimate, false)

		if err != nil {
			return
		}
	}
	s.emitProgress(taskID, chatID, fetched, estimate, true)
}

// convertPage converts native messages, skipping the unconvertible ones.
func (s *Service) convertPage(page []platform.Message) []message.Message {
	batch := make([]message.Message, 0, len(page))
	for _, native := range page {
		canon, err := message.Convert(native)
		if err != nil {
			s.logger.Warn("skipping unconvertible message",
				slog.Int64("platform_id", native.ID),
				slog.Any("error", err),
			)
			continue
		}
		batch = append(batch, canon)
	}
	return batch
}

func (s *Service) emitProgress(taskID string, chatID int64, fetched, estimate int, done bool) {
	payload := ProgressPayload{
		TaskID:        taskID,
		ChatID:        chatID,
		Fetched:       fetched,
		TotalEstimate: estimate,
		Done:          done,
	}
	if estimate > 0 {
		payload.Percent = float64(fetched) / float64(estimate) * 100
		if payload.Percent > 100 {
			payload.Percent = 100
		}
	}
	s.sink.Emit(events.TopicFetchProgress, payload)
}

func (s *Service) finish(taskID string) {
	s.mu.Lock()
	cancel, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// dropArchivedBytes clears in-memory payloads once a durable path exists so
// long fetches do not pin every attachment in memory.
func dropArchivedBytes(batch []message.Message) {
	for i := range batch {
		for j := range batch[i].Media {
			if batch[i].Media[j].Path != "" {
				batch[i].Media[j].Bytes = nil
			}
		}
	}
}
