package tcp

import (
	"context"
	"io"
	"net"
	"net/netip"

	"github.com/najoast/sngo/core"
	"github.com/najoast/sngo/network"
	"go.uber.org/zap"
)

// RecvProcessor is the receive half of a connection worker pair. It reads
// frames from the stream and forwards them into the node, with the peer
// prepended to the return route so replies find their way back.
type RecvProcessor struct {
	conn     net.Conn
	peer     netip.AddrPort
	reader   *network.FrameReader
	internal core.Address

	stopClose func() bool
}

// Initialize joins the transport cluster. A blocked read is released by
// closing the stream once the processor is stopped.
func (p *RecvProcessor) Initialize(ctx *core.Context) error {
	if err := ctx.SetCluster(ClusterName); err != nil {
		return err
	}
	p.stopClose = context.AfterFunc(ctx.Std(), func() {
		_ = p.conn.Close()
	})
	return nil
}

// Process reads and forwards one frame.
func (p *RecvProcessor) Process(ctx *core.Context) (bool, error) {
	msg, err := p.reader.ReadMessage()
	if err != nil {
		if ctx.Std().Err() == nil {
			if err == io.EOF || network.IsClosed(err) {
				ctx.Logger().Debug("tcp stream closed", zap.Stringer("peer", p.peer))
			} else {
				ctx.Logger().Info("tcp read failed", zap.Stringer("peer", p.peer), zap.Error(err))
			}
		}
		p.notifyDisconnect(ctx)
		return false, nil
	}
	framesTotal.WithLabelValues("in").Inc()

	if len(msg.Onward) == 0 {
		ctx.Logger().Debug("dropping tcp frame without onward route", zap.Stringer("peer", p.peer))
		return true, nil
	}
	local := core.Message{
		Onward:  msg.Onward,
		Return:  msg.Return.Prepend(core.NewTCPAddress(p.peer.String())),
		Payload: msg.Payload,
	}
	if err := ctx.Forward(local); err != nil {
		ctx.Logger().Debug("dropping tcp frame",
			zap.Stringer("peer", p.peer),
			zap.Stringer("onward", local.Onward),
			zap.Error(err))
	}
	return true, nil
}

func (p *RecvProcessor) notifyDisconnect(ctx *core.Context) {
	if err := ctx.Send(core.NewRoute(p.internal), disconnectSignal); err != nil {
		ctx.Logger().Debug("connection worker already gone", zap.Error(err))
	}
}

// Shutdown closes the stream.
func (p *RecvProcessor) Shutdown(ctx *core.Context) error {
	if p.stopClose != nil {
		p.stopClose()
	}
	err := p.conn.Close()
	if network.IsClosed(err) {
		return nil
	}
	return err
}
