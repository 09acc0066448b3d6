// Package events defines the topics and sink contract the pipeline emits on,
// plus the WebSocket hub that carries them to UI clients and feeds incoming
// commands back into the service.
package events

// Topics emitted by the core. Delivery is fire-and-forget, at-least-once:
// stream resolvers cause a message to appear once eagerly and again in the
// final batch, so consumers must treat payloads as idempotent by uuid.
const (
	// TopicMessageData carries a batch of canonical messages for display.
	TopicMessageData = "message:data"
	// TopicFetchProgress carries per-page progress for a fetch session.
	TopicFetchProgress = "message:fetch:progress"
	// TopicRecordMessages carries the final batch for persistence.
	TopicRecordMessages = "storage:record:messages"
	// TopicSendResult acknowledges a message:send command.
	TopicSendResult = "message:send:result"
)

// Sink receives topic/payload emissions from the core. Implementations must
// be safe for concurrent use and must not block the caller for long.
type Sink interface {
	Emit(topic string, payload any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(topic string, payload any)

// Emit calls the wrapped function.
func (f SinkFunc) Emit(topic string, payload any) {
	f(topic, payload)
}

// NopSink discards all emissions.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(string, any) {}
