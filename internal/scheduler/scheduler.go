// Package scheduler owns the per-agent mailboxes and drives handler
// execution. Each agent instance has one FIFO mailbox; at most one worker
// drains a mailbox at any time, which gives every agent strictly sequential
// handler invocations while different agents make interleaved progress.
//
// Idle tracking: the scheduler counts every accepted envelope from the moment
// it is enqueued until its handler has returned. A handler that publishes
// follow-up messages raises the count before its own completion lowers it,
// so the runtime is never declared idle between "mailbox drained" and
// "in-flight handler about to enqueue".
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"

	"github.com/casualjim/aviary/api"
)

// Envelope is one pending delivery: the published payload plus the delivery
// metadata handed to the handler. Ctx is the publisher's context; cancelling
// it cancels this delivery's handler invocation.
type Envelope struct {
	Payload any
	Context api.MessageContext
	Ctx     context.Context
}

// Invoker executes one envelope against the agent owning the mailbox. It must
// not panic; error surfacing is the invoker's responsibility.
type Invoker func(ctx context.Context, agent api.Agent, env Envelope)

type mailbox struct {
	agent api.Agent

	mu      sync.Mutex
	queue   []Envelope
	running bool
}

// Scheduler coordinates mailboxes, workers, and idle detection.
type Scheduler struct {
	invoke    Invoker
	mailboxes *haxmap.Map[string, *mailbox]

	// pending counts envelopes that are enqueued or whose handler has not
	// returned yet. Zero means idle.
	pending atomic.Int64

	mu     sync.Mutex
	idle   chan struct{} // closed and replaced whenever pending reaches zero
	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a scheduler that executes envelopes through invoke.
func New(invoke Invoker) *Scheduler {
	return &Scheduler{
		invoke:    invoke,
		mailboxes: haxmap.New[string, *mailbox](),
		idle:      make(chan struct{}),
	}
}

// Enqueue appends an envelope to the agent's mailbox. Before Start the
// envelope is buffered; after Start a worker is dispatched if the mailbox was
// not already being drained. Enqueue never blocks on handler execution.
func (s *Scheduler) Enqueue(agent api.Agent, env Envelope) {
	if env.Ctx == nil {
		env.Ctx = context.Background()
	}
	s.pending.Add(1)

	mb, _ := s.mailboxes.GetOrCompute(agent.ID().String(), func() *mailbox {
		return &mailbox{agent: agent}
	})

	mb.mu.Lock()
	mb.queue = append(mb.queue, env)
	dispatch := s.started.Load() && !mb.running
	if dispatch {
		mb.running = true
	}
	mb.mu.Unlock()

	if dispatch {
		s.wg.Add(1)
		go s.drain(mb)
	}
}

// Start begins draining mailboxes, including any envelopes buffered before
// the call. It may be called once.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started.Store(true)

	s.mailboxes.ForEach(func(_ string, mb *mailbox) bool {
		mb.mu.Lock()
		dispatch := len(mb.queue) > 0 && !mb.running
		if dispatch {
			mb.running = true
		}
		mb.mu.Unlock()
		if dispatch {
			s.wg.Add(1)
			go s.drain(mb)
		}
		return true
	})
}

// drain pops envelopes off one mailbox until it is empty or the scheduler is
// halted, invoking the handler for each. The running flag hands the mailbox
// off cleanly: either this worker sees a late enqueue, or the enqueuer sees
// running unset and dispatches a fresh worker.
func (s *Scheduler) drain(mb *mailbox) {
	defer s.wg.Done()

	for {
		mb.mu.Lock()
		if len(mb.queue) == 0 || s.ctx.Err() != nil {
			mb.running = false
			mb.mu.Unlock()
			return
		}
		env := mb.queue[0]
		mb.queue = mb.queue[1:]
		mb.mu.Unlock()

		// The handler context descends from the publisher's context, so
		// cancelling a publish cancels the work it produced, and is also cut
		// when the scheduler halts. It must stay valid after the handler
		// returns: follow-up envelopes published by the handler may carry it
		// as their own publisher context.
		hctx, cancel := context.WithCancel(env.Ctx)
		stop := context.AfterFunc(s.ctx, cancel)
		s.invoke(hctx, mb.agent, env)
		stop()
		s.complete()
	}
}

// complete lowers the pending count after a handler has fully returned and
// wakes idle waiters when it hits zero.
func (s *Scheduler) complete() {
	if s.pending.Add(-1) != 0 {
		return
	}
	s.mu.Lock()
	close(s.idle)
	s.idle = make(chan struct{})
	s.mu.Unlock()
}

// WaitIdle blocks until every mailbox is empty and no handler is in flight,
// or until either context is done. Envelopes published by running handlers
// extend the wait.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := s.idle
		s.mu.Unlock()

		if s.pending.Load() == 0 {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// Stop halts the scheduler immediately. In-flight handlers observe a
// cancelled context; envelopes still queued are abandoned without being
// processed. Stop blocks until all workers have returned.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Pending reports the number of envelopes accepted but not yet completed.
func (s *Scheduler) Pending() int64 {
	return s.pending.Load()
}
