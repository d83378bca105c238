package aviary

import (
	"errors"
	"fmt"

	"github.com/casualjim/aviary/api"
)

var (
	// ErrNotStarted is returned by operations that need a started runtime.
	ErrNotStarted = errors.New("runtime not started")

	// ErrStarted is returned when Start is called more than once.
	ErrStarted = errors.New("runtime already started")

	// ErrStopped is returned once the runtime has been halted; no further
	// publishing or processing happens after that point.
	ErrStopped = errors.New("runtime stopped")
)

// DuplicateRegistrationError reports a second registration for an agent type
// that already has a factory bound. Registration failures are fatal at
// registration time, never silently merged.
type DuplicateRegistrationError struct {
	AgentType string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("agent type %q is already registered", e.AgentType)
}

// UnhandledMessageError reports an envelope whose payload type matched no
// handler on the target agent. The envelope is dropped and processing
// continues.
type UnhandledMessageError struct {
	Agent   api.AgentID
	Payload any
}

func (e *UnhandledMessageError) Error() string {
	return fmt.Sprintf("agent %s has no handler for message type %T", e.Agent, e.Payload)
}

// HandlerError reports a failed handler invocation, including failures of
// the lazy factory during construction. The envelope it belongs to is
// dropped without retry; other agents and other envelopes are unaffected.
type HandlerError struct {
	Agent api.AgentID
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agent %s handler failed: %v", e.Agent, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
