package core

import (
	"context"

	cerrors "github.com/najoast/sngo/errors"
	"go.uber.org/zap"
)

// Context is the handle an actor uses to talk to the node. Every message it
// sends leaves from one of the actor's own mailboxes.
type Context struct {
	node    *Node
	cell    *cell
	primary Address
}

// Address returns the main mailbox address of the actor.
func (c *Context) Address() Address {
	return c.primary
}

// Addresses returns all mailbox addresses of the actor, main first.
func (c *Context) Addresses() []Address {
	return c.cell.mailboxes.Addresses()
}

// Node returns the runtime the actor belongs to.
func (c *Context) Node() *Node {
	return c.node
}

// Logger returns a logger tagged with the actor address.
func (c *Context) Logger() *zap.Logger {
	return c.cell.logger
}

// Done is closed when the actor is asked to stop.
func (c *Context) Done() <-chan struct{} {
	return c.cell.ctx.Done()
}

// Std returns a context.Context cancelled together with the actor.
func (c *Context) Std() context.Context {
	return c.cell.ctx
}

// Send sends payload along route from the main mailbox. The return route of
// the message is the main address.
func (c *Context) Send(route Route, payload []byte) error {
	return c.SendFrom(c.primary, route, payload)
}

// SendFrom is Send from one of the actor's additional mailboxes.
func (c *Context) SendFrom(src Address, route Route, payload []byte) error {
	msg := Message{
		Onward:  NewRoute(route...),
		Return:  NewRoute(src),
		Payload: payload,
	}
	return c.ForwardFrom(src, msg)
}

// Forward sends msg to its next onward hop from the main mailbox, keeping
// its routes untouched.
func (c *Context) Forward(msg Message) error {
	return c.ForwardFrom(c.primary, msg)
}

// ForwardFrom is Forward from a specific mailbox of the actor.
func (c *Context) ForwardFrom(src Address, msg Message) error {
	mb, ok := c.cell.mailboxes.Find(src)
	if !ok {
		return cerrors.ErrNotOwner.GenWithStackByArgs(src)
	}
	if c.cell.ctx.Err() != nil {
		return cerrors.ErrContextStopped.GenWithStackByArgs(c.primary)
	}
	return c.node.deliver(c.cell.ctx, mb, msg)
}

// ForwardContext is Forward giving up once ctx is done, so a full inbox at
// the destination delays the caller for a bounded time only. The wait also
// ends when the actor stops.
func (c *Context) ForwardContext(ctx context.Context, msg Message) error {
	mb, ok := c.cell.mailboxes.Find(c.primary)
	if !ok {
		return cerrors.ErrNotOwner.GenWithStackByArgs(c.primary)
	}
	if c.cell.ctx.Err() != nil {
		return cerrors.ErrContextStopped.GenWithStackByArgs(c.primary)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.cell.ctx, cancel)
	defer stop()
	return c.node.deliver(ctx, mb, msg)
}

// Receive waits for the next message of a detached context.
func (c *Context) Receive(ctx context.Context) (*Envelope, error) {
	if c.cell.kind != kindDetached {
		return nil, cerrors.ErrNotOwner.GenWithStackByArgs(c.primary)
	}
	select {
	case env := <-c.cell.inbox:
		c.cell.messagesProcessed.Inc()
		return env, nil
	case <-c.cell.ctx.Done():
		return nil, cerrors.ErrContextStopped.GenWithStackByArgs(c.primary)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewDetached creates a new detached context on the same node.
func (c *Context) NewDetached(addr Address) (*Context, error) {
	return c.node.NewContext(addr)
}

// StartWorker schedules w as an independent actor.
func (c *Context) StartWorker(mbs Mailboxes, w Worker) error {
	return c.node.StartWorker(mbs, w)
}

// StartProcessor schedules p as an independent actor.
func (c *Context) StartProcessor(mbs Mailboxes, p Processor) error {
	return c.node.StartProcessor(mbs, p)
}

// StopWorker stops the worker owning addr. A worker may stop itself; it then
// returns without waiting.
func (c *Context) StopWorker(addr Address) error {
	return c.node.stopActor(c.cell.ctx, addr, kindWorker, c.cell)
}

// StopProcessor stops the processor owning addr.
func (c *Context) StopProcessor(addr Address) error {
	return c.node.stopActor(c.cell.ctx, addr, kindProcessor, c.cell)
}

// SetCluster puts the actor in a named lifecycle group. It may be called
// once per actor, normally from Initialize.
func (c *Context) SetCluster(name string) error {
	return c.node.joinCluster(c.cell, name)
}

// Stop stops the actor owning this context. For detached contexts this
// releases the addresses immediately.
func (c *Context) Stop() {
	c.cell.stop()
}
