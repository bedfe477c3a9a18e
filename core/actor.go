package core

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/najoast/sngo/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// cell is the runtime side of one actor: its mailboxes, its inbox and its
// lifecycle.
type cell struct {
	node      *Node
	kind      actorKind
	mailboxes Mailboxes
	logger    *zap.Logger

	// nil for processors, which never receive
	inbox chan *Envelope

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	state             atomic.Int32
	cluster           atomic.String
	messagesProcessed atomic.Uint64
	lastErr           atomic.Error
	createdAt         time.Time
}

func newCell(n *Node, kind actorKind, mbs Mailboxes) *cell {
	ctx, cancel := context.WithCancel(context.Background())
	c := &cell{
		node:      n,
		kind:      kind,
		mailboxes: mbs,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		createdAt: time.Now(),
		logger: n.logger.With(
			zap.Stringer("address", mbs.Main().Address()),
			zap.Stringer("kind", kind)),
	}
	if kind != kindProcessor {
		c.inbox = make(chan *Envelope, n.mailboxCapacity)
	}
	return c
}

func (c *cell) address() Address {
	return c.mailboxes.Main().Address()
}

func (c *cell) setState(s ActorState) {
	c.state.Store(int32(s))
}

func (c *cell) getState() ActorState {
	return ActorState(c.state.Load())
}

func (c *cell) newContext() *Context {
	return &Context{node: c.node, cell: c, primary: c.address()}
}

// enqueue blocks until the envelope is queued, the destination stops or the
// sender gives up.
func (c *cell) enqueue(ctx context.Context, env *Envelope) error {
	if c.inbox == nil {
		return nil
	}
	select {
	case c.inbox <- env:
		messagesDelivered.Inc()
		return nil
	case <-c.ctx.Done():
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(env.Destination)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop cancels the actor. Detached contexts have no task to wait for, so
// they are finished right away.
func (c *cell) stop() {
	c.cancel()
	if c.kind == kindDetached {
		c.finish()
	}
}

// finish releases the addresses of the actor. It is safe to call twice.
func (c *cell) finish() {
	c.once.Do(func() {
		c.node.table.remove(c)
		c.setState(ActorStateStopped)
		actorRunning.WithLabelValues(c.kind.String()).Dec()
		close(c.done)
	})
}

func (c *cell) runWorker(w Worker) {
	defer c.node.wg.Done()
	defer c.finish()

	ctx := c.newContext()
	if err := w.Initialize(ctx); err != nil {
		c.lastErr.Store(err)
		c.logger.Warn("worker initialization failed", zap.Error(err))
		c.shutdownWorker(ctx, w)
		return
	}
	c.setState(ActorStateInitialized)
	c.setState(ActorStateRunning)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdownWorker(ctx, w)
			return
		case env := <-c.inbox:
			// An actor stopped while the message was queued must not see it.
			if c.ctx.Err() != nil {
				c.shutdownWorker(ctx, w)
				return
			}
			c.messagesProcessed.Inc()
			if err := w.HandleMessage(ctx, env); err != nil {
				c.lastErr.Store(err)
				c.logger.Warn("worker failed to handle message",
					zap.Stringer("source", env.Source),
					zap.Stringer("destination", env.Destination),
					zap.Error(err))
			}
		}
	}
}

func (c *cell) shutdownWorker(ctx *Context, w Worker) {
	c.setState(ActorStateStopping)
	c.cancel()
	if err := w.Shutdown(ctx); err != nil {
		c.logger.Warn("worker shutdown failed", zap.Error(err))
	}
}

func (c *cell) runProcessor(p Processor) {
	defer c.node.wg.Done()
	defer c.finish()

	ctx := c.newContext()
	if err := p.Initialize(ctx); err != nil {
		c.lastErr.Store(err)
		c.logger.Warn("processor initialization failed", zap.Error(err))
		c.shutdownProcessor(ctx, p)
		return
	}
	c.setState(ActorStateInitialized)
	c.setState(ActorStateRunning)

	for c.ctx.Err() == nil {
		running, err := p.Process(ctx)
		c.messagesProcessed.Inc()
		if err != nil {
			c.lastErr.Store(err)
			if c.ctx.Err() == nil {
				c.logger.Warn("processor stopped by error", zap.Error(err))
			}
			break
		}
		if !running {
			break
		}
	}
	c.shutdownProcessor(ctx, p)
}

func (c *cell) shutdownProcessor(ctx *Context, p Processor) {
	c.setState(ActorStateStopping)
	c.cancel()
	if err := p.Shutdown(ctx); err != nil {
		c.logger.Warn("processor shutdown failed", zap.Error(err))
	}
}

// stats returns current runtime statistics for this actor.
func (c *cell) stats() ActorStats {
	s := ActorStats{
		Address:           c.address(),
		Addresses:         c.mailboxes.Addresses(),
		Kind:              c.kind.String(),
		State:             c.getState(),
		Cluster:           c.cluster.Load(),
		MessagesProcessed: c.messagesProcessed.Load(),
		CreatedAt:         c.createdAt,
	}
	if c.inbox != nil {
		s.MailboxSize = len(c.inbox)
	}
	if err := c.lastErr.Load(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// ActorStats contains runtime statistics for an actor.
type ActorStats struct {
	// Address is the main mailbox address
	Address Address

	// Addresses lists every mailbox address, main first
	Addresses []Address

	// Kind is "worker", "processor" or "detached"
	Kind string

	// Current state
	State ActorState

	// Cluster the actor joined, if any
	Cluster string

	// Messages handled by a worker or iterations run by a processor
	MessagesProcessed uint64

	// Messages currently queued
	MailboxSize int

	// Last error returned by the actor hooks
	LastError string

	// Time when the actor was created
	CreatedAt time.Time
}
