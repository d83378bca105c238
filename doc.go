/*
Package aviary is a topic-based publish-subscribe agent runtime: a
coordination layer that lets independently defined agents communicate
exclusively through addressed messages, with deterministic per-agent ordering
and lazy, identity-keyed agent lifetime management.

Agents never call each other. A publisher addresses a TopicID (a topic type
plus a source string); the runtime resolves every agent type subscribed to
that topic type, derives the receiving instance's key from the topic source,
creates instances on first delivery, and enqueues the message onto each
instance's mailbox. Mailboxes are strict FIFO and at most one handler runs
per agent instance at any time, so an agent can keep private mutable state
without synchronization. Across different instances, handlers interleave
freely.

Basic usage:

	runtime := aviary.New(aviary.WithHook(events.LoggingHook()))

	err := runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(ctx context.Context, msg Draft, mctx api.MessageContext) error {
				// process msg, optionally publish follow-ups
				return runtime.Publish(ctx, Review{Of: msg.Content}, api.NewTopicID("reviews", id.Key))
			}),
		), nil
	}, "drafts")
	if err != nil {
		return err
	}

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	if err := runtime.Publish(ctx, Draft{Content: "hello"}, api.NewTopicID("drafts", "default")); err != nil {
		return err
	}
	return runtime.StopWhenIdle(ctx)

Publish is fire-and-forget: it returns once the message has been resolved
and enqueued, without waiting for handlers. StopWhenIdle blocks until every
mailbox is drained and no handler is in flight, correctly accounting for
messages published by handlers while they run.

The runtime is deliberately not durable and not distributed: there is no
persisted message log, no cross-process delivery, and no automatic retry of
failed handlers. Failed envelopes are dropped and surfaced through the
events.Hook configured on the runtime.
*/
package aviary
