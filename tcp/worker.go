package tcp

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/najoast/sngo/core"
	"github.com/najoast/sngo/network"
	"go.uber.org/zap"
)

// disconnectSignal is sent by the receive half to the internal address when
// the stream ends.
var disconnectSignal = []byte("disconnect")

type pairOptions struct {
	codec        *network.FrameCodec
	writeTimeout time.Duration
}

// SendWorker is the send half of a connection worker pair. It owns the
// stream: it writes frames for messages arriving at the tx address, and
// starts the RecvProcessor that reads the other direction.
type SendWorker struct {
	handle *RouterHandle
	conn   net.Conn
	peer   netip.AddrPort
	writer *network.FrameWriter
	opts   pairOptions

	txAddr       core.Address
	internalAddr core.Address
	rxAddr       core.Address

	closeOnce sync.Once
	stopClose func() bool
}

// newPair creates the worker for one stream and the pair to register. The
// worker is not started.
func newPair(handle *RouterHandle, conn net.Conn, peer netip.AddrPort, opts pairOptions) (*SendWorker, Pair) {
	if opts.codec == nil {
		opts.codec = network.NewFrameCodec(0)
	}
	w := &SendWorker{
		handle:       handle,
		conn:         conn,
		peer:         peer,
		writer:       network.NewFrameWriter(conn, opts.codec),
		opts:         opts,
		txAddr:       core.RandomTaggedAddress("TcpSendWorker_tx"),
		internalAddr: core.RandomTaggedAddress("TcpSendWorker_internal"),
		rxAddr:       core.RandomTaggedAddress("TcpRecvProcessor"),
	}
	return w, Pair{Peer: peer, TxAddress: w.txAddr}
}

// TxAddress returns the address the router sends messages for the peer to.
func (w *SendWorker) TxAddress() core.Address {
	return w.txAddr
}

// InternalAddress returns the control address used by the receive half.
func (w *SendWorker) InternalAddress() core.Address {
	return w.internalAddr
}

// RxAddress returns the address of the receive half.
func (w *SendWorker) RxAddress() core.Address {
	return w.rxAddr
}

// Peer returns the remote endpoint of the stream.
func (w *SendWorker) Peer() netip.AddrPort {
	return w.peer
}

// pairMailboxes builds the mailboxes of a send worker. Only the router may
// reach the tx address and only the worker's receive half may reach the
// internal address. Neither mailbox may send.
func pairMailboxes(mainAddr core.Address, w *SendWorker) core.Mailboxes {
	tx := core.NewMailbox(w.TxAddress(), core.AllowSourceAddress(mainAddr), core.DenyAll{})
	internal := core.NewMailbox(w.InternalAddress(), core.AllowSourceAddress(w.RxAddress()), core.DenyAll{})
	return core.NewMailboxes(tx, internal)
}

// Initialize joins the transport cluster and starts the receive half.
// Stopping the worker closes the stream, which unblocks a pending write.
func (w *SendWorker) Initialize(ctx *core.Context) error {
	if err := ctx.SetCluster(ClusterName); err != nil {
		return err
	}
	w.stopClose = context.AfterFunc(ctx.Std(), func() {
		_ = w.conn.Close()
	})
	w.handle.table.addReceiver(w.txAddr, w.rxAddr)
	rx := &RecvProcessor{
		conn:     w.conn,
		peer:     w.peer,
		reader:   network.NewFrameReader(w.conn, w.opts.codec),
		internal: w.internalAddr,
	}
	mbs := core.NewMailboxes(core.NewMailbox(w.rxAddr, core.DenyAll{}, core.AllowAll{}))
	if err := ctx.StartProcessor(mbs, rx); err != nil {
		return err
	}
	ctx.Logger().Debug("tcp connection worker started",
		zap.Stringer("peer", w.peer),
		zap.Stringer("tx", w.txAddr),
		zap.Stringer("rx", w.rxAddr))
	return nil
}

// HandleMessage writes messages arriving at tx to the stream, and stops the
// worker when the receive half reports a disconnect. A message that cannot
// be encoded is dropped; only a failed write stops the worker.
func (w *SendWorker) HandleMessage(ctx *core.Context, env *core.Envelope) error {
	switch env.Destination {
	case w.txAddr:
		_, onward, err := env.Message.Onward.Step()
		if err != nil {
			return err
		}
		frame, err := w.opts.codec.Encode(network.NewTransportMessage(onward, env.Message.Return, env.Message.Payload))
		if err != nil {
			messagesDropped.WithLabelValues(dropEncodeFailed).Inc()
			ctx.Logger().Warn("dropping message that cannot be framed",
				zap.Stringer("peer", w.peer), zap.Int("payload", len(env.Message.Payload)), zap.Error(err))
			return nil
		}
		if w.opts.writeTimeout > 0 {
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.writeTimeout))
		}
		if err := w.writer.WriteFrame(frame); err != nil {
			ctx.Logger().Info("tcp write failed, stopping connection worker",
				zap.Stringer("peer", w.peer), zap.Error(err))
			_ = ctx.StopWorker(w.txAddr)
			return err
		}
		framesTotal.WithLabelValues("out").Inc()
		return nil
	case w.internalAddr:
		if string(env.Message.Payload) == string(disconnectSignal) {
			ctx.Logger().Debug("tcp peer disconnected", zap.Stringer("peer", w.peer))
			return ctx.StopWorker(w.txAddr)
		}
		return nil
	default:
		return nil
	}
}

// Shutdown closes the stream, which also ends the receive half, and removes
// the pair from the router.
func (w *SendWorker) Shutdown(ctx *core.Context) error {
	var err error
	w.closeOnce.Do(func() {
		if w.stopClose != nil {
			w.stopClose()
		}
		err = w.conn.Close()
		if w.handle.Unregister(w.txAddr) {
			ctx.Logger().Debug("tcp connection unregistered", zap.Stringer("peer", w.peer))
		}
		w.handle.Close()
	})
	if network.IsClosed(err) {
		return nil
	}
	return err
}
