package core

import (
	"context"
	"sync"

	cerrors "github.com/najoast/sngo/errors"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMailboxCapacity = 1000

// Node is the actor runtime. It schedules workers and processors as
// goroutines and delivers messages between their mailboxes after consulting
// the mailbox access control policies.
type Node struct {
	table  *dispatchTable
	logger *zap.Logger

	mailboxCapacity int

	routersMu sync.RWMutex
	routers   map[TransportType]Address

	clustersMu   sync.Mutex
	clusterOrder []string

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithLogger sets the logger used by the node and its actors.
func WithLogger(logger *zap.Logger) NodeOption {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMailboxCapacity sets the inbox size of every worker.
func WithMailboxCapacity(capacity int) NodeOption {
	return func(n *Node) {
		if capacity > 0 {
			n.mailboxCapacity = capacity
		}
	}
}

// NewNode creates an empty actor runtime.
func NewNode(opts ...NodeOption) *Node {
	n := &Node{
		table:           newDispatchTable(),
		logger:          zap.NewNop(),
		mailboxCapacity: defaultMailboxCapacity,
		routers:         make(map[TransportType]Address),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Logger returns the node logger.
func (n *Node) Logger() *zap.Logger {
	return n.logger
}

func (n *Node) spawn(kind actorKind, mbs Mailboxes) (*cell, error) {
	c := newCell(n, kind, mbs)
	if err := n.table.insert(c); err != nil {
		c.cancel()
		return nil, err
	}
	actorRunning.WithLabelValues(kind.String()).Inc()
	return c, nil
}

// StartWorker schedules w as an independent actor owning mbs.
func (n *Node) StartWorker(mbs Mailboxes, w Worker) error {
	c, err := n.spawn(kindWorker, mbs)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go c.runWorker(w)
	return nil
}

// StartProcessor schedules p as an independent actor owning mbs.
func (n *Node) StartProcessor(mbs Mailboxes, p Processor) error {
	c, err := n.spawn(kindProcessor, mbs)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go c.runProcessor(p)
	return nil
}

// NewContext creates a detached context at addr. It has no task logic;
// messages sent to it are read with Receive. Its mailbox allows all traffic.
func (n *Node) NewContext(addr Address) (*Context, error) {
	return n.NewContextWithMailboxes(NewMailboxes(AllowAllMailbox(addr)))
}

// NewContextWithMailboxes creates a detached context owning mbs.
func (n *Node) NewContextWithMailboxes(mbs Mailboxes) (*Context, error) {
	c, err := n.spawn(kindDetached, mbs)
	if err != nil {
		return nil, err
	}
	c.setState(ActorStateRunning)
	return c.newContext(), nil
}

// RegisterRouter makes mainAddr the destination for every address of the
// given transport type.
func (n *Node) RegisterRouter(transport TransportType, mainAddr Address) error {
	if transport == TransportLocal {
		return cerrors.ErrInvalidRoute.GenWithStackByArgs("local addresses cannot be routed")
	}
	n.routersMu.Lock()
	defer n.routersMu.Unlock()
	if existing, ok := n.routers[transport]; ok && existing != mainAddr {
		return cerrors.ErrAddressInUse.GenWithStackByArgs(existing)
	}
	n.routers[transport] = mainAddr
	return nil
}

func (n *Node) router(transport TransportType) (Address, bool) {
	n.routersMu.RLock()
	defer n.routersMu.RUnlock()
	addr, ok := n.routers[transport]
	return addr, ok
}

// deliver evaluates the sender's outgoing policy and the receiver's incoming
// policy, then queues the message. A denied message is dropped without error.
func (n *Node) deliver(ctx context.Context, src Mailbox, msg Message) error {
	next, err := msg.Onward.Next()
	if err != nil {
		return err
	}
	dst := next
	if !next.IsLocal() {
		routerAddr, ok := n.router(next.Transport)
		if !ok {
			return cerrors.ErrNoRouter.GenWithStackByArgs(uint8(next.Transport))
		}
		dst = routerAddr
	}

	env := &Envelope{Source: src.Address(), Destination: dst, Message: msg.Clone()}
	if !src.Outgoing().Authorized(env) {
		messagesDenied.WithLabelValues("outgoing").Inc()
		return nil
	}

	target, mb, ok := n.table.lookup(dst)
	if !ok {
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(dst)
	}
	if !mb.Incoming().Authorized(env) {
		messagesDenied.WithLabelValues("incoming").Inc()
		return nil
	}
	return target.enqueue(ctx, env)
}

// StopWorker stops the worker owning addr and waits until it released its
// addresses. No other actor is affected.
func (n *Node) StopWorker(ctx context.Context, addr Address) error {
	return n.stopActor(ctx, addr, kindWorker, nil)
}

// StopProcessor stops the processor owning addr and waits for it.
func (n *Node) StopProcessor(ctx context.Context, addr Address) error {
	return n.stopActor(ctx, addr, kindProcessor, nil)
}

func (n *Node) stopActor(ctx context.Context, addr Address, kind actorKind, self *cell) error {
	c, _, ok := n.table.lookup(addr)
	if !ok || c.kind != kind {
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(addr)
	}
	c.stop()
	// An actor stopping itself cannot wait for its own task to return.
	if c == self {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

func (n *Node) joinCluster(c *cell, name string) error {
	if name == "" {
		return cerrors.ErrInvalidRoute.GenWithStackByArgs("cluster name is empty")
	}
	if !c.cluster.CompareAndSwap("", name) {
		return cerrors.ErrClusterAlreadySet.GenWithStackByArgs(c.address(), c.cluster.Load())
	}

	n.clustersMu.Lock()
	defer n.clustersMu.Unlock()
	for _, existing := range n.clusterOrder {
		if existing == name {
			return nil
		}
	}
	n.clusterOrder = append(n.clusterOrder, name)
	return nil
}

// Shutdown stops every actor. Actors outside any cluster are stopped first,
// then clusters in reverse order of creation. Actors of one group are
// stopped concurrently. Shutdown is not reversible.
func (n *Node) Shutdown(ctx context.Context) error {
	if !n.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	cells := n.table.close()

	var unclustered []*cell
	byCluster := make(map[string][]*cell)
	for _, c := range cells {
		if name := c.cluster.Load(); name != "" {
			byCluster[name] = append(byCluster[name], c)
		} else {
			unclustered = append(unclustered, c)
		}
	}

	n.clustersMu.Lock()
	order := append([]string(nil), n.clusterOrder...)
	n.clustersMu.Unlock()

	var errs error
	errs = multierr.Append(errs, n.stopGroup(ctx, unclustered))
	for i := len(order) - 1; i >= 0; i-- {
		n.logger.Debug("stopping cluster", zap.String("cluster", order[i]))
		errs = multierr.Append(errs, n.stopGroup(ctx, byCluster[order[i]]))
	}
	if errs != nil {
		return errs
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

func (n *Node) stopGroup(ctx context.Context, group []*cell) error {
	var g errgroup.Group
	for _, c := range group {
		c := c
		g.Go(func() error {
			c.stop()
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return errors.Annotatef(ctx.Err(), "stop actor %s", c.address())
			}
		})
	}
	return g.Wait()
}

// Stats returns statistics for all actors.
func (n *Node) Stats() []ActorStats {
	cells := n.table.list()
	stats := make([]ActorStats, 0, len(cells))
	for _, c := range cells {
		stats = append(stats, c.stats())
	}
	return stats
}

// IsRunning reports whether an actor currently owns addr.
func (n *Node) IsRunning(addr Address) bool {
	_, _, ok := n.table.lookup(addr)
	return ok
}
