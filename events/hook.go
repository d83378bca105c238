package events

import (
	"context"
	"log/slog"

	"github.com/casualjim/aviary/pkg/slogx"
)

// Hook observes the runtime's delivery lifecycle. Every method must be
// implemented; implementations that only care about a subset can embed
// NoopHook. Hook methods are called from scheduler workers and from
// publishers, so implementations must be safe for concurrent use and must
// not block for long.
type Hook interface {
	// OnPublished fires after a message was resolved and enqueued.
	OnPublished(context.Context, Published)

	// OnAgentCreated fires after an agent instance was lazily constructed.
	OnAgentCreated(context.Context, AgentCreated)

	// OnDelivered fires after a handler invocation completed without error.
	OnDelivered(context.Context, Delivered)

	// OnError fires for every failed delivery: unhandled message types,
	// handler errors, and factory failures.
	OnError(context.Context, error)
}

// NoopHook ignores every event. Embed it to implement only part of Hook.
type NoopHook struct{}

func (NoopHook) OnPublished(context.Context, Published)       {}
func (NoopHook) OnAgentCreated(context.Context, AgentCreated) {}
func (NoopHook) OnDelivered(context.Context, Delivered)       {}
func (NoopHook) OnError(context.Context, error)               {}

// LoggingHook emits every event through slog at debug level, errors at error
// level.
func LoggingHook() Hook {
	return &loggingHook{}
}

type loggingHook struct{}

func (loggingHook) OnPublished(ctx context.Context, event Published) {
	slog.DebugContext(ctx, "message published",
		slogx.Stringer("topic", event.Topic),
		slog.Int("matches", event.Matches),
		slog.String("message_id", event.MessageID.String()),
	)
}

func (loggingHook) OnAgentCreated(ctx context.Context, event AgentCreated) {
	slog.DebugContext(ctx, "agent created", slogx.Stringer("agent", event.Agent))
}

func (loggingHook) OnDelivered(ctx context.Context, event Delivered) {
	slog.DebugContext(ctx, "message delivered",
		slogx.Stringer("agent", event.Agent),
		slog.String("message_id", event.MessageID.String()),
	)
}

func (loggingHook) OnError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "delivery failed", slogx.Error(err))
}

// Composite fans every event out to each of the given hooks, in order.
func Composite(hooks ...Hook) Hook {
	return composite(hooks)
}

type composite []Hook

func (c composite) OnPublished(ctx context.Context, event Published) {
	for _, h := range c {
		h.OnPublished(ctx, event)
	}
}

func (c composite) OnAgentCreated(ctx context.Context, event AgentCreated) {
	for _, h := range c {
		h.OnAgentCreated(ctx, event)
	}
}

func (c composite) OnDelivered(ctx context.Context, event Delivered) {
	for _, h := range c {
		h.OnDelivered(ctx, event)
	}
}

func (c composite) OnError(ctx context.Context, err error) {
	for _, h := range c {
		h.OnError(ctx, err)
	}
}
