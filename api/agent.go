package api

import "context"

// Handler processes a single message delivered to an agent instance. The
// payload is the value that was published; handlers registered through the
// agent package receive it already asserted to their declared type.
//
// Returning an error fails the envelope: it is dropped and surfaced through
// the runtime's hook, without affecting the rest of the mailbox. Returning
// context.Canceled is treated as a normal completion path.
type Handler func(ctx context.Context, payload any, mctx MessageContext) error

// Agent is one unit of sequential message processing. The runtime guarantees
// at most one in-flight handler per agent instance at any time, so an
// implementation may keep private mutable state without synchronization.
type Agent interface {
	// ID returns the identity this instance was created under.
	ID() AgentID

	// HandlerFor selects the handler matching the payload's dynamic type.
	// The second result is false when no registered handler matches.
	HandlerFor(payload any) (Handler, bool)
}

// Factory creates the agent instance for an identity on first delivery. It is
// invoked at most once per AgentID; a returned error drops the delivery that
// triggered creation and leaves no instance behind.
type Factory func(id AgentID) (Agent, error)
