package aviary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/casualjim/aviary/api"
	"github.com/casualjim/aviary/events"
	"github.com/casualjim/aviary/internal/directory"
	"github.com/casualjim/aviary/internal/registry"
	"github.com/casualjim/aviary/internal/scheduler"
	"github.com/casualjim/aviary/pkg/slogx"
	"github.com/casualjim/aviary/pkg/uuidx"
)

const (
	stateCreated int32 = iota
	stateStarted
	stateStopped
)

// Runtime hosts agents and routes published messages to them through the
// subscription registry. It owns the full lifecycle: registration, lazy
// instance creation, mailbox scheduling, and idle detection.
//
// Lifecycle: created -> started -> stopped. Registration is expected to
// complete before Start. Publishing before Start is allowed: envelopes are
// resolved and buffered, and begin processing when Start is called. After
// Stop nothing is processed, even if mailboxes still hold envelopes.
type Runtime struct {
	name      string
	hook      events.Hook
	subs      *registry.Subscriptions
	directory *directory.Directory
	factories *haxmap.Map[string, api.Factory]
	sched     *scheduler.Scheduler
	state     atomic.Int32
}

// KeyRule derives the receiving agent instance key from a topic source.
type KeyRule = registry.KeyRule

// DuplicateSubscriptionError reports a (topic type, agent type) pair bound
// twice.
type DuplicateSubscriptionError = registry.DuplicateSubscriptionError

var (
	// ExactSource maps the topic source to the agent key verbatim. This is
	// the default rule.
	ExactSource = registry.ExactSource
	// StaticKey routes every source to one fixed agent instance.
	StaticKey = registry.StaticKey
)

// Name configures the runtime's name, used in log records.
var Name = opts.ForName[Runtime, string]("name")

// WithHook configures the hook receiving runtime lifecycle events. Compose
// multiple observers with events.Composite.
func WithHook(hook events.Hook) opts.Option[Runtime] {
	return opts.Type[Runtime](func(o *Runtime) error {
		if hook == nil {
			return errors.New("hook is required")
		}
		o.hook = hook
		return nil
	})
}

// New creates a runtime in the created state.
func New(options ...opts.Option[Runtime]) *Runtime {
	r := &Runtime{
		name:      "aviary",
		hook:      events.NoopHook{},
		subs:      registry.New(),
		directory: directory.New(),
		factories: haxmap.New[string, api.Factory](),
	}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	r.sched = scheduler.New(r.invoke)
	return r
}

// Register binds a factory to an agent type and subscribes that type to the
// given topic types with the default exact-source key rule. It fails with
// DuplicateRegistrationError when the agent type already has a factory, and
// with DuplicateSubscriptionError when a (topicType, agentType) pair is
// bound twice.
func (r *Runtime) Register(agentType string, factory api.Factory, topicTypes ...string) error {
	if agentType == "" {
		return errors.New("agent type is required")
	}
	if factory == nil {
		return errors.New("factory is required")
	}
	if _, exists := r.factories.Get(agentType); exists {
		return &DuplicateRegistrationError{AgentType: agentType}
	}
	r.factories.Set(agentType, factory)

	for _, topicType := range topicTypes {
		if err := r.Subscribe(topicType, agentType, nil); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds a single subscription with a custom key rule. A nil rule
// defaults to ExactSource. The agent type must already be registered.
func (r *Runtime) Subscribe(topicType, agentType string, rule KeyRule) error {
	if topicType == "" {
		return errors.New("topic type is required")
	}
	if _, exists := r.factories.Get(agentType); !exists {
		return fmt.Errorf("agent type %q is not registered", agentType)
	}
	return r.subs.Add(registry.Subscription{
		TopicType: topicType,
		AgentType: agentType,
		Rule:      rule,
	})
}

// Publish routes a message to every agent subscribed to the topic's type.
// It resolves subscriptions, creates missing agent instances, and enqueues
// one envelope per match, then returns without waiting for any handler to
// run. Publishing to a topic nobody subscribes to is a no-op, not an error.
//
// The envelope carries ctx as its cancellation handle: cancelling it after
// Publish returns cancels the handler invocations it produced, whether they
// are still queued or already running. Handlers that publish follow-ups
// should pass their own ctx through so the sender tag (api.WithSender),
// metadata (api.WithMeta), and cancellation propagate down the chain.
func (r *Runtime) Publish(ctx context.Context, payload any, topic api.TopicID) error {
	if r.state.Load() == stateStopped {
		return ErrStopped
	}
	if payload == nil {
		return errors.New("payload is required")
	}
	if topic.Type == "" {
		return errors.New("topic type is required")
	}

	var (
		matches = r.subs.Resolve(topic)
		msgID   = uuidx.New()
		now     = strfmt.DateTime(time.Now())
		sender  = api.SenderFrom(ctx)
		meta    = api.MetaFrom(ctx)
	)

	for _, match := range matches {
		id := match.AgentID()
		factory, ok := r.factories.Get(match.AgentType)
		if !ok {
			// subscriptions require a registered agent type, so this only
			// trips when internal state is corrupted
			r.surfaceError(ctx, id, fmt.Errorf("no factory for agent type %q", match.AgentType))
			continue
		}

		ag, created, err := r.directory.GetOrCreate(id, factory)
		if err != nil {
			r.surfaceError(ctx, id, &HandlerError{Agent: id, Err: err})
			continue
		}
		if created {
			r.hook.OnAgentCreated(ctx, events.AgentCreated{Agent: id, Timestamp: now})
		}

		topicCopy := topic
		r.sched.Enqueue(ag, scheduler.Envelope{
			Payload: payload,
			Ctx:     ctx,
			Context: api.MessageContext{
				MessageID: msgID,
				Topic:     &topicCopy,
				Sender:    sender,
				Timestamp: now,
				Meta:      meta,
			},
		})
	}

	r.hook.OnPublished(ctx, events.Published{
		MessageID: msgID,
		Topic:     topic,
		Sender:    sender,
		Matches:   len(matches),
		Timestamp: now,
	})
	return nil
}

// Start transitions the runtime to started and begins draining mailboxes,
// including envelopes buffered before the call. Every handler invocation is
// bounded by both this context and the publishing call's context; cancelling
// either cancels the handler.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateCreated, stateStarted) {
		if r.state.Load() == stateStopped {
			return ErrStopped
		}
		return ErrStarted
	}
	slog.InfoContext(ctx, "runtime started", slogx.LoggerName(r.name))
	r.sched.Start(ctx)
	return nil
}

// StopWhenIdle blocks until every mailbox is empty and no handler is in
// flight, then halts the runtime. Messages published by running handlers
// extend the wait: idle is only declared once all in-flight handlers have
// completed and produced no further work. The context bounds the wait only.
func (r *Runtime) StopWhenIdle(ctx context.Context) error {
	switch r.state.Load() {
	case stateCreated:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}

	if err := r.sched.WaitIdle(ctx); err != nil {
		return err
	}
	r.Stop()
	return nil
}

// Stop halts the runtime immediately. Envelopes still queued are abandoned
// without being processed; in-flight handlers observe a cancelled context.
// Stop is idempotent.
func (r *Runtime) Stop() {
	if r.state.Swap(stateStopped) == stateStopped {
		return
	}
	r.sched.Stop()
	slog.Info("runtime stopped", slogx.LoggerName(r.name))
}

// invoke executes one envelope on its target agent. Failures are isolated
// per envelope: the error is surfaced through the hook and the log, the
// envelope is dropped, and the mailbox moves on.
func (r *Runtime) invoke(ctx context.Context, ag api.Agent, env scheduler.Envelope) {
	id := ag.ID()
	defer func() {
		if rec := recover(); rec != nil {
			r.surfaceError(ctx, id, &HandlerError{Agent: id, Err: fmt.Errorf("handler panicked: %v", rec)})
		}
	}()

	handler, ok := ag.HandlerFor(env.Payload)
	if !ok {
		r.surfaceError(ctx, id, &UnhandledMessageError{Agent: id, Payload: env.Payload})
		return
	}

	if err := handler(ctx, env.Payload, env.Context); err != nil {
		if errors.Is(err, context.Canceled) {
			// cooperative cancellation is a normal completion path
			slog.DebugContext(ctx, "handler cancelled", slogx.Stringer("agent", id))
			return
		}
		r.surfaceError(ctx, id, &HandlerError{Agent: id, Err: err})
		return
	}

	r.hook.OnDelivered(ctx, events.Delivered{
		MessageID: env.Context.MessageID,
		Agent:     id,
		Timestamp: strfmt.DateTime(time.Now()),
	})
}

func (r *Runtime) surfaceError(ctx context.Context, id api.AgentID, err error) {
	slog.ErrorContext(ctx, "delivery failed",
		slogx.LoggerName(r.name),
		slogx.Stringer("agent", id),
		slogx.Error(err),
	)
	r.hook.OnError(ctx, events.Error{Agent: id, Err: err, Timestamp: strfmt.DateTime(time.Now())})
}
