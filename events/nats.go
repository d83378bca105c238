package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/nats-io/nats.go"

	"github.com/casualjim/aviary/api"
	"github.com/casualjim/aviary/pkg/slogx"
)

// NATSHook forwards runtime lifecycle events to a NATS subject as JSON. It is
// an observability export: message delivery itself never leaves the process.
// Publish failures are logged and dropped, they never affect delivery.
func NATSHook(client *nats.Conn, subject string) Hook {
	return &natsHook{client: client, subject: subject}
}

type natsHook struct {
	client  *nats.Conn
	subject string
}

func (h *natsHook) publish(event Event) {
	eb, err := ToJSON(event)
	if err != nil {
		slog.Error("failed to marshal runtime event", slogx.Error(err))
		return
	}
	if err := h.client.Publish(h.subject, eb); err != nil {
		slog.Error("failed to publish runtime event", slogx.Error(err), slog.String("subject", h.subject))
	}
}

func (h *natsHook) OnPublished(_ context.Context, event Published) {
	h.publish(event)
}

func (h *natsHook) OnAgentCreated(_ context.Context, event AgentCreated) {
	h.publish(event)
}

func (h *natsHook) OnDelivered(_ context.Context, event Delivered) {
	h.publish(event)
}

func (h *natsHook) OnError(_ context.Context, err error) {
	event, ok := err.(Error) //nolint: errorlint
	if !ok {
		var agent api.AgentID
		event = Error{Agent: agent, Err: err, Timestamp: strfmt.DateTime(time.Now())}
	}
	h.publish(event)
}
