package tcp

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/najoast/sngo/network"
	"go.uber.org/zap"
)

// ListenOptions configures a listener processor.
type ListenOptions struct {
	// Socket is applied to every accepted stream
	Socket network.SocketOptions

	// AcceptBackoffInitial and AcceptBackoffMax bound the delay between
	// retries of a transient accept error
	AcceptBackoffInitial time.Duration
	AcceptBackoffMax     time.Duration

	// StopOnConnectionError stops the listener when setting up one
	// connection fails, instead of dropping only that connection
	StopOnConnectionError bool

	// MaxFrameSize limits the frames of accepted connections
	MaxFrameSize int

	// WriteTimeout bounds writing one frame to an accepted stream. Zero
	// disables the limit.
	WriteTimeout time.Duration
}

// DefaultListenOptions returns the options used when none are configured.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		Socket:               network.DefaultSocketOptions(),
		AcceptBackoffInitial: 5 * time.Millisecond,
		AcceptBackoffMax:     time.Second,
		MaxFrameSize:         network.DefaultMaxFrameSize,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

func (o ListenOptions) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.AcceptBackoffInitial > 0 {
		b.InitialInterval = o.AcceptBackoffInitial
	}
	if o.AcceptBackoffMax > 0 {
		b.MaxInterval = o.AcceptBackoffMax
	}
	// retry transient errors for as long as the listener runs
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// listenProcessor accepts inbound connections and starts one connection
// worker pair per accepted stream.
type listenProcessor struct {
	ln      *network.Listener
	handle  *RouterHandle
	opts    ListenOptions
	codec   *network.FrameCodec
	backoff backoff.BackOff

	stopClose func() bool
}

// startListener binds bindAddr and starts a listener processor on it. It
// returns the bound address and the address of the processor. A bind error
// is returned before anything is started.
func startListener(
	ctx *core.Context, handle *RouterHandle, bindAddr string, opts ListenOptions,
) (netip.AddrPort, core.Address, error) {
	ctx.Logger().Debug("binding tcp listener", zap.String("addr", bindAddr))
	ln, err := network.Listen(bindAddr, opts.Socket)
	if err != nil {
		return netip.AddrPort{}, core.Address{}, err
	}
	p := &listenProcessor{
		ln:      ln,
		handle:  handle,
		opts:    opts,
		codec:   network.NewFrameCodec(opts.MaxFrameSize),
		backoff: opts.newBackoff(),
	}

	addr := core.RandomTaggedAddress("TcpListenProcessor")
	if err := ctx.StartProcessor(core.NewMailboxes(core.DenyAllMailbox(addr)), p); err != nil {
		_ = ln.Close()
		return netip.AddrPort{}, core.Address{}, err
	}
	return ln.LocalAddr(), addr, nil
}

func (p *listenProcessor) Initialize(ctx *core.Context) error {
	if err := ctx.SetCluster(ClusterName); err != nil {
		return err
	}
	p.stopClose = context.AfterFunc(ctx.Std(), func() {
		_ = p.ln.Close()
	})
	return nil
}

// Process handles one accepted connection. It returns an error, which stops
// the listener, for accept errors that are neither transient nor specific to
// one stream and, with
// StopOnConnectionError set, for a failed connection setup.
func (p *listenProcessor) Process(ctx *core.Context) (bool, error) {
	ctx.Logger().Debug("waiting for incoming tcp connection")
	conn, peer, err := p.ln.Accept()
	if err != nil {
		return p.handleAcceptError(ctx, err)
	}
	p.backoff.Reset()
	connectionsAccepted.Inc()
	ctx.Logger().Debug("tcp connection accepted", zap.Stringer("peer", peer))

	if err := p.setupConnection(ctx, conn, peer); err != nil {
		_ = conn.Close()
		ctx.Logger().Warn("tcp connection setup failed",
			zap.Stringer("peer", peer), zap.Error(err))
		if p.opts.StopOnConnectionError {
			return false, err
		}
	}
	return true, nil
}

func (p *listenProcessor) setupConnection(ctx *core.Context, conn net.Conn, peer netip.AddrPort) error {
	handle, err := p.handle.Clone()
	if err != nil {
		setupFailures.WithLabelValues(stageClone).Inc()
		return err
	}

	sender, pair := newPair(handle, conn, peer, pairOptions{codec: p.codec, writeTimeout: p.opts.WriteTimeout})
	if err := p.handle.Register(pair); err != nil {
		setupFailures.WithLabelValues(stageRegister).Inc()
		handle.Close()
		return err
	}
	ctx.Logger().Debug("tcp connection registered", zap.Stringer("peer", peer))
	ctx.Logger().Debug("starting tcp connection worker",
		zap.Stringer("peer", peer),
		zap.Stringer("tx", pair.TxAddress),
		zap.Stringer("internal", sender.InternalAddress()))

	if err := ctx.StartWorker(pairMailboxes(p.handle.MainAddress(), sender), sender); err != nil {
		setupFailures.WithLabelValues(stageStart).Inc()
		p.handle.Unregister(pair.TxAddress)
		handle.Close()
		return err
	}
	return nil
}

func (p *listenProcessor) handleAcceptError(ctx *core.Context, err error) (bool, error) {
	kind := network.ErrorKind(err)
	if kind == "closed" || ctx.Std().Err() != nil {
		return false, nil
	}
	acceptErrors.WithLabelValues(kind).Inc()
	if kind == "connection" {
		ctx.Logger().Warn("dropping accepted tcp connection", zap.Error(err))
		return true, nil
	}
	if kind != "temporary" {
		return false, cerrors.ErrAcceptFailure.Wrap(err).GenWithStackByArgs(p.ln.LocalAddr())
	}

	delay := p.backoff.NextBackOff()
	ctx.Logger().Warn("transient tcp accept error, retrying",
		zap.Duration("delay", delay), zap.Error(err))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, nil
	}
}

func (p *listenProcessor) Shutdown(ctx *core.Context) error {
	if p.stopClose != nil {
		p.stopClose()
	}
	err := p.ln.Close()
	ctx.Logger().Debug("tcp listener stopped", zap.Stringer("addr", p.ln.LocalAddr()))
	if network.IsClosed(err) {
		return nil
	}
	return err
}
