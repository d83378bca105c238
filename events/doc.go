// Package events defines the runtime's lifecycle notifications and the Hook
// interface through which embedding processes observe them.
//
// The runtime emits an event for every step a message takes: acceptance and
// subscription resolution (Published), lazy agent construction
// (AgentCreated), successful handler completion (Delivered), and failed
// deliveries (Error). Hooks receive these synchronously on the delivering
// goroutine; anything expensive belongs behind a channel or a fire-and-forget
// sink.
//
// Events serialize to JSON with a "type" discriminator so they can be
// exported off-process. NATSHook does exactly that, forwarding every event to
// a NATS subject for external observers.
package events
