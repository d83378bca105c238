// Package agent provides the default agent implementation: a set of typed
// message handlers bound to an identity. Handlers are registered per payload
// type with Handle, and the runtime dispatches each envelope to the handler
// whose declared type matches the payload's dynamic type.
//
// Agents built here are plain values; anything with per-instance state
// should construct its handlers inside the factory so each instance captures
// its own state:
//
//	runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
//		var drafts []string // private to this instance
//		return agent.New(id,
//			agent.Handle(func(ctx context.Context, msg Draft, mctx api.MessageContext) error {
//				drafts = append(drafts, msg.Content)
//				return nil
//			}),
//		), nil
//	}, "drafts")
package agent

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fogfish/opts"

	"github.com/casualjim/aviary/api"
)

var _ api.Agent = (*defaultAgent)(nil)

type defaultAgent struct {
	id       api.AgentID
	handlers map[reflect.Type]api.Handler
}

// ID returns the identity this instance was created under.
func (a *defaultAgent) ID() api.AgentID {
	return a.id
}

// HandlerFor selects the handler registered for the payload's dynamic type.
func (a *defaultAgent) HandlerFor(payload any) (api.Handler, bool) {
	h, ok := a.handlers[reflect.TypeOf(payload)]
	return h, ok
}

// Handle registers a handler for payloads of type T. Registering a second
// handler for the same type replaces the first.
func Handle[T any](fn func(ctx context.Context, msg T, mctx api.MessageContext) error) opts.Option[defaultAgent] {
	return opts.Type[defaultAgent](func(o *defaultAgent) error {
		o.handlers[reflect.TypeFor[T]()] = func(ctx context.Context, payload any, mctx api.MessageContext) error {
			msg, ok := payload.(T)
			if !ok {
				return fmt.Errorf("handler for %s received %T", reflect.TypeFor[T](), payload)
			}
			return fn(ctx, msg, mctx)
		}
		return nil
	})
}

// New builds an agent instance with the given identity and handlers.
func New(id api.AgentID, options ...opts.Option[defaultAgent]) api.Agent {
	agent := &defaultAgent{
		id:       id,
		handlers: make(map[reflect.Type]api.Handler),
	}
	if err := opts.Apply(agent, options); err != nil {
		panic(err)
	}
	return agent
}

// FactoryOf adapts a fixed set of handler options into an api.Factory. The
// options are applied afresh for every instance, so stateless handler sets
// can be shared across keys. Handlers that close over per-instance state
// belong in a hand-written factory instead.
func FactoryOf(options ...opts.Option[defaultAgent]) api.Factory {
	return func(id api.AgentID) (api.Agent, error) {
		return New(id, options...), nil
	}
}
