// Package pipeline drives canonical message batches through an ordered chain
// of enrichment resolvers and owns the uuid-keyed merge that keeps batches
// intact when a resolver drops or reorders messages.
package pipeline

import (
	"context"

	"github.com/chatmirror/chatmirror/internal/message"
)

// Mode discriminates the two resolver execution shapes.
type Mode string

const (
	// ModeBatch resolvers transform a whole batch in one call.
	ModeBatch Mode = "batch"
	// ModeStream resolvers yield messages incrementally; each yielded message
	// is forwarded to the sink immediately and still participates in the
	// merge for the next stage.
	ModeStream Mode = "stream"
)

// Resolver is a named enrichment stage. Exactly one execution interface,
// matching Mode, must be implemented; the orchestrator branches on Mode
// without reflection.
//
// A resolver's output must be a subset of its input by uuid: it may skip
// messages but never introduce uuids the input did not carry. The merge
// enforces this by discarding unknown uuids.
type Resolver interface {
	Mode() Mode
}

// BatchResolver is the whole-batch execution shape.
type BatchResolver interface {
	Resolver
	Resolve(ctx context.Context, batch []message.Message) ([]message.Message, error)
}

// StreamResolver is the incremental execution shape. The returned channel is
// finite, not restartable, and closed by the resolver when the batch is
// exhausted. A failure on one message must not stop the remaining ones; the
// resolver skips it instead.
type StreamResolver interface {
	Resolver
	Stream(ctx context.Context, batch []message.Message) (<-chan message.Message, error)
}
