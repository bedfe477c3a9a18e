package tcp

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/najoast/sngo/network"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// ClusterName is the lifecycle group of every actor of the TCP transport.
const ClusterName = "_internals.transport.tcp"

// RouterAddress is the main address of the TCP router. Connection workers
// only accept messages sent from it.
var RouterAddress = core.NewAddress("tcp.router.main")

// Pair identifies one registered connection.
type Pair struct {
	// Peer is the remote endpoint of the stream
	Peer netip.AddrPort

	// TxAddress is the address messages for Peer are sent to
	TxAddress core.Address
}

// routingTable maps peers to the tx address of their connection worker. It
// also knows the receive half of every registered worker.
type routingTable struct {
	mu        sync.RWMutex
	byPeer    map[netip.AddrPort]core.Address
	byTx      map[core.Address]netip.AddrPort
	rxOf      map[core.Address]core.Address
	receivers map[core.Address]struct{}

	// admit, when set, is consulted before a pair is registered
	admit func(Pair) error

	// beforeClone, when set, is consulted before a handle is cloned
	beforeClone func() error
}

func newRoutingTable() *routingTable {
	return &routingTable{
		byPeer:    make(map[netip.AddrPort]core.Address),
		byTx:      make(map[core.Address]netip.AddrPort),
		rxOf:      make(map[core.Address]core.Address),
		receivers: make(map[core.Address]struct{}),
	}
}

func (t *routingTable) register(pair Pair) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.admit != nil {
		if err := t.admit(pair); err != nil {
			return cerrors.ErrRegistration.Wrap(err).GenWithStackByArgs(pair.Peer, err.Error())
		}
	}
	if _, ok := t.byPeer[pair.Peer]; ok {
		return cerrors.ErrRegistration.GenWithStackByArgs(pair.Peer, "peer is already registered")
	}
	if _, ok := t.byTx[pair.TxAddress]; ok {
		return cerrors.ErrRegistration.GenWithStackByArgs(pair.Peer, "tx address is already registered")
	}
	t.byPeer[pair.Peer] = pair.TxAddress
	t.byTx[pair.TxAddress] = pair.Peer
	activePairs.Inc()
	return nil
}

func (t *routingTable) unregister(tx core.Address) (netip.AddrPort, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peer, ok := t.byTx[tx]
	if !ok {
		return netip.AddrPort{}, false
	}
	delete(t.byTx, tx)
	delete(t.byPeer, peer)
	if rx, ok := t.rxOf[tx]; ok {
		delete(t.rxOf, tx)
		delete(t.receivers, rx)
	}
	activePairs.Dec()
	return peer, true
}

// addReceiver records rx as the receive half of the registered worker tx.
func (t *routingTable) addReceiver(tx, rx core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byTx[tx]; !ok {
		return
	}
	t.rxOf[tx] = rx
	t.receivers[rx] = struct{}{}
}

func (t *routingTable) isReceiver(addr core.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.receivers[addr]
	return ok
}

func (t *routingTable) lookup(peer netip.AddrPort) (core.Address, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.byPeer[peer]
	return tx, ok
}

func (t *routingTable) pairs() []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Pair, 0, len(t.byPeer))
	for peer, tx := range t.byPeer {
		out = append(out, Pair{Peer: peer, TxAddress: tx})
	}
	return out
}

// RouterHandle gives listeners and connection workers access to the router
// table. Every handle owns a detached context of its own, so a handle may be
// closed without affecting its clones.
type RouterHandle struct {
	ctx   *core.Context
	table *routingTable
	main  core.Address
}

func newRouterHandle(node *core.Node, table *routingTable, main core.Address) (*RouterHandle, error) {
	ctx, err := node.NewContextWithMailboxes(
		core.NewMailboxes(core.DenyAllMailbox(core.RandomTaggedAddress("TcpRouterHandle"))))
	if err != nil {
		return nil, err
	}
	return &RouterHandle{ctx: ctx, table: table, main: main}, nil
}

// Clone returns a new handle to the same router.
func (h *RouterHandle) Clone() (*RouterHandle, error) {
	if h.table.beforeClone != nil {
		if err := h.table.beforeClone(); err != nil {
			return nil, cerrors.ErrHandleClone.Wrap(err).GenWithStackByArgs()
		}
	}
	clone, err := newRouterHandle(h.ctx.Node(), h.table, h.main)
	if err != nil {
		return nil, cerrors.ErrHandleClone.Wrap(err).GenWithStackByArgs()
	}
	return clone, nil
}

// Register binds pair.Peer to pair.TxAddress. A peer or tx address may be
// registered only once.
func (h *RouterHandle) Register(pair Pair) error {
	return h.table.register(pair)
}

// Unregister removes the pair owning tx and reports whether it was present.
func (h *RouterHandle) Unregister(tx core.Address) bool {
	_, ok := h.table.unregister(tx)
	return ok
}

// Lookup returns the tx address registered for peer.
func (h *RouterHandle) Lookup(peer netip.AddrPort) (core.Address, bool) {
	return h.table.lookup(peer)
}

// MainAddress returns the router main address.
func (h *RouterHandle) MainAddress() core.Address {
	return h.main
}

// Address returns the address of the handle's own context.
func (h *RouterHandle) Address() core.Address {
	return h.ctx.Address()
}

// Context returns the detached context of the handle.
func (h *RouterHandle) Context() *core.Context {
	return h.ctx
}

// Close releases the handle's context.
func (h *RouterHandle) Close() {
	h.ctx.Stop()
}

// connectFunc opens an outbound connection to peer and returns the tx address
// of its worker pair.
type connectFunc func(ctx context.Context, peer netip.AddrPort) (core.Address, error)

// router is the worker at RouterAddress. It receives every message whose
// next hop is a TCP address and hands it to the connection worker of that
// peer.
//
// The router never blocks on a single peer. A full worker inbox is waited on
// for RouteTimeout, then the message is dropped. Messages for a peer without
// a connection are queued while a connection is opened in the background.
// Messages relayed by a receive half never open a connection.
type router struct {
	table        *routingTable
	connect      connectFunc
	logger       *zap.Logger
	routeTimeout time.Duration
	maxPending   int

	mu      sync.Mutex
	pending map[netip.AddrPort][]core.Message
	wg      sync.WaitGroup
}

func newRouter(table *routingTable, connect connectFunc, opts Options, logger *zap.Logger) *router {
	r := &router{
		table:        table,
		connect:      connect,
		logger:       logger,
		routeTimeout: opts.RouteTimeout,
		maxPending:   opts.MaxPendingMessages,
		pending:      make(map[netip.AddrPort][]core.Message),
	}
	if r.routeTimeout <= 0 {
		r.routeTimeout = DefaultRouteTimeout
	}
	if r.maxPending <= 0 {
		r.maxPending = DefaultMaxPendingMessages
	}
	return r
}

func (r *router) Initialize(ctx *core.Context) error {
	return ctx.SetCluster(ClusterName)
}

func (r *router) HandleMessage(ctx *core.Context, env *core.Envelope) error {
	msg := env.Message
	next, rest, err := msg.Onward.Step()
	if err != nil {
		return err
	}
	if next.Transport != core.TransportTCP {
		return cerrors.ErrInvalidRoute.GenWithStackByArgs("next hop " + next.String() + " is not a tcp address")
	}
	peer, err := resolvePeer(ctx.Std(), next.Value)
	if err != nil {
		return err
	}
	msg.Onward = rest

	r.mu.Lock()
	// keep the order of messages sent while a connection is opened
	if queue, ok := r.pending[peer]; ok {
		if len(queue) >= r.maxPending {
			r.mu.Unlock()
			messagesDropped.WithLabelValues(dropQueueFull).Inc()
			r.logger.Debug("connect queue full, dropping message", zap.Stringer("peer", peer))
			return nil
		}
		r.pending[peer] = append(queue, msg)
		r.mu.Unlock()
		return nil
	}
	tx, ok := r.table.lookup(peer)
	if ok {
		r.mu.Unlock()
		return r.forward(ctx, peer, tx, msg)
	}
	if r.connect == nil || r.table.isReceiver(env.Source) {
		r.mu.Unlock()
		messagesDropped.WithLabelValues(dropNoConnection).Inc()
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(next)
	}
	r.pending[peer] = []core.Message{msg}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("no connection to peer, connecting", zap.Stringer("peer", peer))
	go r.dial(ctx, peer)
	return nil
}

// forward hands msg to the worker tx, waiting at most routeTimeout for room
// in its inbox.
func (r *router) forward(ctx *core.Context, peer netip.AddrPort, tx core.Address, msg core.Message) error {
	msg.Onward = msg.Onward.Prepend(tx)
	fctx, cancel := context.WithTimeout(ctx.Std(), r.routeTimeout)
	defer cancel()
	err := ctx.ForwardContext(fctx, msg)
	if errors.Cause(err) == context.DeadlineExceeded {
		messagesDropped.WithLabelValues(dropBackpressure).Inc()
		r.logger.Warn("tcp connection worker is not keeping up, dropping message",
			zap.Stringer("peer", peer), zap.Duration("waited", r.routeTimeout))
		return nil
	}
	return err
}

// dial connects to peer and then flushes the messages queued for it.
func (r *router) dial(ctx *core.Context, peer netip.AddrPort) {
	defer r.wg.Done()

	tx, err := r.connect(ctx.Std(), peer)
	for {
		r.mu.Lock()
		queue := r.pending[peer]
		if err != nil || len(queue) == 0 {
			delete(r.pending, peer)
		} else {
			r.pending[peer] = nil
		}
		r.mu.Unlock()

		if err != nil {
			messagesDropped.WithLabelValues(dropConnectFailed).Add(float64(len(queue)))
			r.logger.Warn("tcp connect failed, dropping queued messages",
				zap.Stringer("peer", peer), zap.Int("dropped", len(queue)), zap.Error(err))
			return
		}
		if len(queue) == 0 {
			return
		}
		for _, msg := range queue {
			if err := r.forward(ctx, peer, tx, msg); err != nil {
				r.logger.Debug("forward to tcp connection failed", zap.Stringer("peer", peer), zap.Error(err))
			}
		}
	}
}

func (r *router) Shutdown(ctx *core.Context) error {
	r.wg.Wait()
	return nil
}

// resolvePeer turns the value of a TCP address into a socket address.
// Host names are resolved.
func resolvePeer(ctx context.Context, hostport string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, cerrors.ErrInvalidRoute.Wrap(err).GenWithStackByArgs(hostport)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err == nil && len(addrs) == 0 {
		err = errors.Errorf("no address found for host %s", host)
	}
	if err != nil {
		return netip.AddrPort{}, cerrors.ErrDialFailure.Wrap(err).GenWithStackByArgs(hostport)
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(addrs[0].Unmap().String(), port))
	if err != nil {
		return netip.AddrPort{}, cerrors.ErrInvalidRoute.Wrap(err).GenWithStackByArgs(hostport)
	}
	return network.AddrPortOf(tcpAddr)
}
