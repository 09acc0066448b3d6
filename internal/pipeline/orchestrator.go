package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatmirror/chatmirror/internal/events"
	"github.com/chatmirror/chatmirror/internal/message"
)

// ResolverError wraps a failure of one resolver over one batch. It is caught
// inside the orchestrator: the stage's contribution is treated as empty and
// the pipeline proceeds with the pre-stage batch.
type ResolverError struct {
	Name string
	Err  error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver %s: %v", e.Name, e.Err)
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}

// Orchestrator drives one batch through the resolver chain. Resolvers run
// strictly in sequence: stage i+1 never starts until stage i's merge is
// complete. The orchestrator owns the batch for the duration of a pass.
type Orchestrator struct {
	registry *Registry
	sink     events.Sink
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given registry and sink.
func NewOrchestrator(log *slog.Logger, registry *Registry, sink events.Sink) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Orchestrator{
		registry: registry,
		sink:     sink,
		logger:   log.With(slog.String("component", "pipeline")),
	}
}

// Process applies every registered resolver to the batch in order and emits
// the final batch to the sink in one shot. Resolver failures degrade the
// batch (that stage becomes a no-op) but never abort it; the only returned
// error is context cancellation, in which case the batch as resolved so far
// is returned alongside it.
func (o *Orchestrator) Process(ctx context.Context, batch []message.Message) ([]message.Message, error) {
	if len(batch) == 0 {
		return batch, nil
	}
	for _, entry := range o.registry.Entries() {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		default:
		}
		result, err := o.applyResolver(ctx, entry, batch)
		if err != nil {
			o.logger.Error("resolver failed, keeping pre-stage batch",
				slog.String("resolver", entry.Name),
				slog.Any("error", err),
			)
			continue
		}
		batch = mergeBatch(batch, result)
	}
	o.sink.Emit(events.TopicMessageData, batch)
	o.sink.Emit(events.TopicRecordMessages, batch)
	return batch, nil
}

// applyResolver runs one stage over the batch and returns its raw result.
// Panics are converted to ResolverError so a misbehaving stage cannot take
// down the pipeline.
func (o *Orchestrator) applyResolver(ctx context.Context, entry Entry, batch []message.Message) (result []message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ResolverError{Name: entry.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch entry.Resolver.Mode() {
	case ModeBatch:
		out, err := entry.Resolver.(BatchResolver).Resolve(ctx, batch)
		if err != nil {
			return nil, &ResolverError{Name: entry.Name, Err: err}
		}
		return out, nil
	case ModeStream:
		ch, err := entry.Resolver.(StreamResolver).Stream(ctx, batch)
		if err != nil {
			return nil, &ResolverError{Name: entry.Name, Err: err}
		}
		out := make([]message.Message, 0, len(batch))
		for msg := range ch {
			// Eager emission for low-latency consumers; the message shows
			// up again in the final batch, idempotent by uuid downstream.
			o.sink.Emit(events.TopicMessageData, []message.Message{msg})
			out = append(out, msg)
		}
		return out, nil
	default:
		return nil, &ResolverError{Name: entry.Name, Err: fmt.Errorf("unknown mode %q", entry.Resolver.Mode())}
	}
}
