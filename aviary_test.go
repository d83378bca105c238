package aviary

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/casualjim/aviary/agent"
	"github.com/casualjim/aviary/api"
	"github.com/casualjim/aviary/events"
)

type note struct {
	Content string
}

type ping struct{}

// errorHook records every error surfaced through the hook.
type errorHook struct {
	events.NoopHook

	mu   sync.Mutex
	errs []error
}

func (h *errorHook) OnError(_ context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *errorHook) all() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func TestRegister_DuplicateAgentType(t *testing.T) {
	runtime := New()
	factory := agent.FactoryOf()

	require.NoError(t, runtime.Register("writer", factory, "drafts"))
	err := runtime.Register("writer", factory, "reviews")

	var dupErr *DuplicateRegistrationError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "writer", dupErr.AgentType)
}

func TestRegister_DuplicateSubscription(t *testing.T) {
	runtime := New()

	require.NoError(t, runtime.Register("writer", agent.FactoryOf(), "drafts"))
	err := runtime.Subscribe("drafts", "writer", nil)

	var dupErr *DuplicateSubscriptionError
	require.ErrorAs(t, err, &dupErr)
}

func TestSubscribe_UnknownAgentType(t *testing.T) {
	runtime := New()
	require.Error(t, runtime.Subscribe("drafts", "ghost", nil))
}

func TestOrdering_PerAgentFIFO(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	var got []string
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(_ context.Context, msg note, _ api.MessageContext) error {
				mu.Lock()
				got = append(got, msg.Content)
				mu.Unlock()
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	for _, content := range []string{"m1", "m2", "m3"} {
		require.NoError(t, runtime.Publish(ctx, note{Content: content}, api.NewTopicID("drafts", "default")))
	}
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestLazyInstantiation_AtMostOneFactoryCall(t *testing.T) {
	runtime := New()

	var calls atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		calls.Add(1)
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error { return nil }),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, runtime.Publish(ctx, note{Content: "hi"}, api.NewTopicID("drafts", "default")))
		}()
	}
	wg.Wait()
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.EqualValues(t, 1, calls.Load())
}

func TestPublish_NoSubscribersIsNoOp(t *testing.T) {
	runtime := New()

	var handled atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error {
				handled.Add(1)
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "hi"}, api.NewTopicID("unsubscribed", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.EqualValues(t, 0, handled.Load())
}

func TestPublish_BufferedBeforeStart(t *testing.T) {
	runtime := New()

	var handled atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error {
				handled.Add(1)
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Publish(ctx, note{Content: "early"}, api.NewTopicID("drafts", "default")))
	assert.EqualValues(t, 0, handled.Load())

	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.StopWhenIdle(ctx))
	assert.EqualValues(t, 1, handled.Load())
}

func TestIdle_WaitsForFollowUps(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	var got []string
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(ctx context.Context, msg note, _ api.MessageContext) error {
				mu.Lock()
				got = append(got, msg.Content)
				mu.Unlock()
				if msg.Content == "first" {
					// slow follow-up publish from inside the handler must
					// still be seen by StopWhenIdle
					time.Sleep(10 * time.Millisecond)
					return runtime.Publish(ctx, note{Content: "second"}, api.NewTopicID("drafts", "default"))
				}
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "first"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestPublish_CancellingPublisherContextCancelsHandler(t *testing.T) {
	runtime := New()

	observed := make(chan string, 1)
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(ctx context.Context, _ note, _ api.MessageContext) error {
				select {
				case <-ctx.Done():
					observed <- "cancelled"
					return ctx.Err()
				case <-time.After(300 * time.Millisecond):
					observed <- "timeout"
					return nil
				}
			}),
		), nil
	}, "drafts"))

	require.NoError(t, runtime.Start(context.Background()))

	pubCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, runtime.Publish(pubCtx, note{Content: "doomed"}, api.NewTopicID("drafts", "default")))
	cancel()

	require.Equal(t, "cancelled", <-observed)
	require.NoError(t, runtime.StopWhenIdle(context.Background()))
}

func TestPublish_CancellationDoesNotOutliveTheHandler(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	var got []string
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(ctx context.Context, msg note, _ api.MessageContext) error {
				mu.Lock()
				got = append(got, msg.Content)
				mu.Unlock()
				if msg.Content == "first" {
					return runtime.Publish(ctx, note{Content: "second"}, api.NewTopicID("drafts", "default"))
				}
				// the follow-up's context must still be live even though the
				// handler that published it has already returned
				if err := ctx.Err(); err != nil {
					return err
				}
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "first"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestIsolation_FailureDoesNotStallOthers(t *testing.T) {
	hook := &errorHook{}
	runtime := New(WithHook(hook))

	boom := errors.New("boom")
	require.NoError(t, runtime.Register("flaky", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error { return boom }),
		), nil
	}, "drafts"))

	var handled atomic.Int32
	require.NoError(t, runtime.Register("steady", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error {
				handled.Add(1)
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "hi"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.EqualValues(t, 1, handled.Load())

	errs := hook.all()
	require.Len(t, errs, 1)
	var handlerErr *HandlerError
	require.ErrorAs(t, errs[0], &handlerErr)
	assert.Equal(t, api.NewAgentID("flaky", "default"), handlerErr.Agent)
	assert.ErrorIs(t, handlerErr, boom)
}

func TestUnhandledMessageType_DroppedAndSurfaced(t *testing.T) {
	hook := &errorHook{}
	runtime := New(WithHook(hook))

	var handled atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error {
				handled.Add(1)
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, ping{}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "still works"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.EqualValues(t, 1, handled.Load())

	errs := hook.all()
	require.Len(t, errs, 1)
	var unhandled *UnhandledMessageError
	require.ErrorAs(t, errs[0], &unhandled)
}

func TestFactoryFailure_DropsDeliveryWithoutCaching(t *testing.T) {
	hook := &errorHook{}
	runtime := New(WithHook(hook))

	broken := errors.New("no database")
	var attempts atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		if attempts.Add(1) == 1 {
			return nil, broken
		}
		return agent.New(id,
			agent.Handle(func(context.Context, note, api.MessageContext) error { return nil }),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))

	require.NoError(t, runtime.Publish(ctx, note{Content: "dropped"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "delivered"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.EqualValues(t, 2, attempts.Load())

	errs := hook.all()
	require.Len(t, errs, 1)
	var handlerErr *HandlerError
	require.ErrorAs(t, errs[0], &handlerErr)
	assert.ErrorIs(t, handlerErr, broken)
}

func TestKeyDerivation_SourceBecomesKey(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	seen := map[string]int{}
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(_ context.Context, _ note, _ api.MessageContext) error {
				mu.Lock()
				seen[id.Key]++
				mu.Unlock()
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "a"}, api.NewTopicID("drafts", "tenant-a")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "b"}, api.NewTopicID("drafts", "tenant-b")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "a2"}, api.NewTopicID("drafts", "tenant-a")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.Equal(t, map[string]int{"tenant-a": 2, "tenant-b": 1}, seen)
}

func TestKeyDerivation_StaticKey(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	seen := map[string]int{}
	require.NoError(t, runtime.Register("collector", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(_ context.Context, _ note, _ api.MessageContext) error {
				mu.Lock()
				seen[id.Key]++
				mu.Unlock()
				return nil
			}),
		), nil
	}))
	require.NoError(t, runtime.Subscribe("metrics", "collector", StaticKey("singleton")))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "a"}, api.NewTopicID("metrics", "node-1")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "b"}, api.NewTopicID("metrics", "node-2")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	assert.Equal(t, map[string]int{"singleton": 2}, seen)
}

func TestLifecycle(t *testing.T) {
	runtime := New()
	ctx := context.Background()

	require.ErrorIs(t, runtime.StopWhenIdle(ctx), ErrNotStarted)
	require.NoError(t, runtime.Start(ctx))
	require.ErrorIs(t, runtime.Start(ctx), ErrStarted)

	runtime.Stop()
	require.ErrorIs(t, runtime.Publish(ctx, note{}, api.NewTopicID("drafts", "default")), ErrStopped)
	require.ErrorIs(t, runtime.Start(ctx), ErrStopped)
	require.ErrorIs(t, runtime.StopWhenIdle(ctx), ErrStopped)

	// idempotent
	runtime.Stop()
}

func TestStop_AbandonsPendingWork(t *testing.T) {
	runtime := New()

	started := make(chan struct{})
	var handled atomic.Int32
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(ctx context.Context, msg note, _ api.MessageContext) error {
				if handled.Add(1) == 1 {
					close(started)
					<-ctx.Done()
					return ctx.Err()
				}
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "m1"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.Publish(ctx, note{Content: "m2"}, api.NewTopicID("drafts", "default")))

	<-started
	runtime.Stop()

	assert.EqualValues(t, 1, handled.Load())
}

// The four-stage pipeline scenario: each stage consumes the prior stage's
// output and publishes to the next stage's topic under the same source key.
func TestPipeline_EndToEnd(t *testing.T) {
	runtime := New()

	var mu sync.Mutex
	var invocations []string

	stage := func(name, nextTopic string) api.Factory {
		return func(id api.AgentID) (api.Agent, error) {
			return agent.New(id,
				agent.Handle(func(ctx context.Context, msg note, _ api.MessageContext) error {
					mu.Lock()
					invocations = append(invocations, name+":"+msg.Content)
					mu.Unlock()
					if nextTopic == "" {
						return nil
					}
					out := note{Content: msg.Content + "+" + name}
					return runtime.Publish(api.WithSender(ctx, id.String()), out, api.NewTopicID(nextTopic, id.Key))
				}),
			), nil
		}
	}

	require.NoError(t, runtime.Register("stage1", stage("stage1", "Stage2"), "Stage1"))
	require.NoError(t, runtime.Register("stage2", stage("stage2", "Stage3"), "Stage2"))
	require.NoError(t, runtime.Register("stage3", stage("stage3", "User"), "Stage3"))
	require.NoError(t, runtime.Register("user", stage("user", ""), "User"))

	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "desc"}, api.NewTopicID("Stage1", "default")))
	require.NoError(t, runtime.StopWhenIdle(ctx))

	require.Len(t, invocations, 4)
	assert.Equal(t, []string{
		"stage1:desc",
		"stage2:desc+stage1",
		"stage3:desc+stage1+stage2",
		"user:desc+stage1+stage2+stage3",
	}, invocations)
}

func TestMessageContext_CarriesTopicAndSender(t *testing.T) {
	runtime := New()

	var got api.MessageContext
	require.NoError(t, runtime.Register("writer", func(id api.AgentID) (api.Agent, error) {
		return agent.New(id,
			agent.Handle(func(_ context.Context, _ note, mctx api.MessageContext) error {
				got = mctx
				return nil
			}),
		), nil
	}, "drafts"))

	ctx := api.WithSender(context.Background(), "cli")
	ctx = api.WithMeta(ctx, gjson.Parse(`{"trace_id":"abc123"}`))
	require.NoError(t, runtime.Start(ctx))
	require.NoError(t, runtime.Publish(ctx, note{Content: "hi"}, api.NewTopicID("drafts", "default")))
	require.NoError(t, runtime.StopWhenIdle(context.Background()))

	require.NotNil(t, got.Topic)
	assert.Equal(t, api.NewTopicID("drafts", "default"), *got.Topic)
	assert.Equal(t, "cli", got.Sender)
	assert.Equal(t, "abc123", got.Meta.Get("trace_id").String())
	assert.NotEmpty(t, got.MessageID)
}
