package tcp

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/najoast/sngo/network"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// Options configures a Transport.
type Options struct {
	// Listen is used by every listener of the transport
	Listen ListenOptions

	// Socket is applied to outbound streams
	Socket network.SocketOptions

	// DialTimeout bounds outbound connection attempts
	DialTimeout time.Duration

	// MaxFrameSize limits the frames of outbound connections
	MaxFrameSize int

	// WriteTimeout bounds writing one frame to an outbound stream. A stream
	// that stays blocked longer is closed. Zero disables the limit.
	WriteTimeout time.Duration

	// RouteTimeout is how long the router waits for room in the inbox of a
	// connection worker before dropping the message
	RouteTimeout time.Duration

	// MaxPendingMessages limits the messages queued for a peer while the
	// router connects to it
	MaxPendingMessages int
}

// Defaults of the routing and write limits
const (
	DefaultWriteTimeout       = 30 * time.Second
	DefaultRouteTimeout       = time.Second
	DefaultMaxPendingMessages = 256
)

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Listen:             DefaultListenOptions(),
		Socket:             network.DefaultSocketOptions(),
		DialTimeout:        network.DefaultDialTimeout,
		MaxFrameSize:       network.DefaultMaxFrameSize,
		WriteTimeout:       DefaultWriteTimeout,
		RouteTimeout:       DefaultRouteTimeout,
		MaxPendingMessages: DefaultMaxPendingMessages,
	}
}

// Transport is the TCP transport of a node. It runs the router, accepts
// inbound connections on any number of listeners and opens outbound ones.
type Transport struct {
	node   *core.Node
	handle *RouterHandle
	table  *routingTable
	codec  *network.FrameCodec
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[netip.AddrPort]core.Address
}

// NewTransport starts the TCP router on node and registers it for TCP
// addresses.
func NewTransport(node *core.Node, opts Options) (*Transport, error) {
	t := &Transport{
		node:      node,
		table:     newRoutingTable(),
		codec:     network.NewFrameCodec(opts.MaxFrameSize),
		opts:      opts,
		logger:    node.Logger().With(zap.String("component", "tcp-transport")),
		listeners: make(map[netip.AddrPort]core.Address),
	}

	r := newRouter(t.table, t.connect, opts, t.logger)
	if err := node.StartWorker(core.NewMailboxes(core.AllowAllMailbox(RouterAddress)), r); err != nil {
		return nil, err
	}
	if err := node.RegisterRouter(core.TransportTCP, RouterAddress); err != nil {
		return nil, err
	}
	handle, err := newRouterHandle(node, t.table, RouterAddress)
	if err != nil {
		return nil, err
	}
	t.handle = handle
	return t, nil
}

// Handle returns the router handle owned by the transport.
func (t *Transport) Handle() *RouterHandle {
	return t.handle
}

// Listen starts accepting connections on bind and returns the bound
// address. Port 0 picks an ephemeral port.
func (t *Transport) Listen(bind string) (netip.AddrPort, error) {
	local, addr, err := startListener(t.handle.Context(), t.handle, bind, t.opts.Listen)
	if err != nil {
		return netip.AddrPort{}, err
	}
	t.mu.Lock()
	t.listeners[local] = addr
	t.mu.Unlock()
	t.logger.Info("tcp listener started", zap.Stringer("addr", local))
	return local, nil
}

// Listeners returns the bound addresses of the running listeners.
func (t *Transport) Listeners() []netip.AddrPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]netip.AddrPort, 0, len(t.listeners))
	for local, addr := range t.listeners {
		if t.node.IsRunning(addr) {
			out = append(out, local)
		}
	}
	return out
}

// StopListener stops the listener bound to local. Connections it accepted
// keep running.
func (t *Transport) StopListener(ctx context.Context, local netip.AddrPort) error {
	t.mu.Lock()
	addr, ok := t.listeners[local]
	delete(t.listeners, local)
	t.mu.Unlock()
	if !ok {
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(local)
	}
	if err := t.node.StopProcessor(ctx, addr); err != nil && !cerrors.Is(err, cerrors.ErrAddressNotFound) {
		return err
	}
	return nil
}

// Connect opens a connection to peer, unless one is registered already, and
// returns the TCP address to put in routes towards it.
func (t *Transport) Connect(ctx context.Context, peer netip.AddrPort) (core.Address, error) {
	if _, err := t.connect(ctx, peer); err != nil {
		return core.Address{}, err
	}
	return core.NewTCPAddress(peer.String()), nil
}

func (t *Transport) connect(ctx context.Context, peer netip.AddrPort) (core.Address, error) {
	if tx, ok := t.table.lookup(peer); ok {
		return tx, nil
	}
	conn, err := network.Dial(ctx, peer, t.opts.DialTimeout, t.opts.Socket)
	if err != nil {
		return core.Address{}, err
	}

	handle, err := t.handle.Clone()
	if err != nil {
		_ = conn.Close()
		return core.Address{}, err
	}
	sender, pair := newPair(handle, conn, peer, pairOptions{codec: t.codec, writeTimeout: t.opts.WriteTimeout})
	if err := t.handle.Register(pair); err != nil {
		_ = conn.Close()
		handle.Close()
		// lost a race against another connect to the same peer
		if tx, ok := t.table.lookup(peer); ok {
			return tx, nil
		}
		return core.Address{}, err
	}
	if err := t.node.StartWorker(pairMailboxes(t.handle.MainAddress(), sender), sender); err != nil {
		t.handle.Unregister(pair.TxAddress)
		_ = conn.Close()
		handle.Close()
		return core.Address{}, errors.Annotatef(err, "start connection worker for %s", peer)
	}
	t.logger.Debug("tcp connection established", zap.Stringer("peer", peer), zap.Stringer("tx", pair.TxAddress))
	return pair.TxAddress, nil
}

// Disconnect stops the connection worker pair of peer.
func (t *Transport) Disconnect(ctx context.Context, peer netip.AddrPort) error {
	tx, ok := t.table.lookup(peer)
	if !ok {
		return cerrors.ErrAddressNotFound.GenWithStackByArgs(peer)
	}
	return t.node.StopWorker(ctx, tx)
}

// Pairs returns the registered connections.
func (t *Transport) Pairs() []Pair {
	return t.table.pairs()
}
