package api

import (
	"context"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// MessageContext carries the delivery metadata for one envelope. It travels
// alongside the payload into the handler. Cancellation is not part of the
// context struct: it is the context.Context passed to the handler, derived
// from the publisher's context and cut when the runtime halts.
type MessageContext struct {
	// MessageID identifies this envelope.
	MessageID uuid.UUID
	// Topic is the topic the message was published to, nil for direct sends.
	Topic *TopicID
	// Sender is the key the publisher tagged the message with, if any.
	Sender string
	// Timestamp records when the envelope was accepted by the runtime.
	Timestamp strfmt.DateTime
	// Meta holds ambient metadata the publisher attached to the envelope.
	Meta gjson.Result
}

type senderKey struct{}

// WithSender tags the context with a sender key. Messages published with the
// returned context carry the key in their MessageContext, so handlers
// downstream can attribute them.
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFrom extracts the sender key from the context, if one was set.
func SenderFrom(ctx context.Context) string {
	sender, _ := ctx.Value(senderKey{}).(string)
	return sender
}

type metaKey struct{}

// WithMeta attaches ambient metadata to the context. Messages published with
// the returned context carry it in their MessageContext.Meta.
func WithMeta(ctx context.Context, meta gjson.Result) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFrom extracts the ambient metadata from the context, if any was set.
func MetaFrom(ctx context.Context) gjson.Result {
	meta, _ := ctx.Value(metaKey{}).(gjson.Result)
	return meta
}
