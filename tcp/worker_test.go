package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/najoast/sngo/core"
	"github.com/najoast/sngo/network"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// floodPeer sends n megabyte messages towards a peer that does not read.
func floodPeer(t *testing.T, app *core.Context, route core.Route, n int) {
	payload := make([]byte, 1<<20)
	for i := 0; i < n; i++ {
		require.NoError(t, app.Send(route, payload))
	}
}

func TestSlowPeerDoesNotStallRouting(t *testing.T) {
	opts := DefaultOptions()
	opts.RouteTimeout = 20 * time.Millisecond
	opts.Listen.WriteTimeout = time.Minute
	node, tr := newTestTransport(t, opts, core.WithMailboxCapacity(2))

	local, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	slow := dial(t, local)
	fast := dial(t, local)
	slowPeer, fastPeer := peerOf(t, slow), peerOf(t, fast)
	slowTx := waitRegistered(t, tr, slowPeer)
	waitRegistered(t, tr, fastPeer)
	require.Eventually(t, func() bool { return node.IsRunning(slowTx) }, 5*time.Second, 5*time.Millisecond)

	app, err := node.NewContext(core.NewAddress("app"))
	require.NoError(t, err)
	before := testutil.ToFloat64(messagesDropped.WithLabelValues(dropBackpressure))
	floodPeer(t, app, core.NewRoute(core.NewTCPAddress(slowPeer.String()), core.NewAddress("sink")), 64)

	require.NoError(t, app.Send(core.NewRoute(core.NewTCPAddress(fastPeer.String()), core.NewAddress("echo")), []byte("hi")))
	require.NoError(t, fast.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := network.NewFrameReader(fast, network.NewFrameCodec(0)).ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hi", string(msg.Payload))
	require.Greater(t, testutil.ToFloat64(messagesDropped.WithLabelValues(dropBackpressure)), before)

	// the worker is stuck in a write; stopping it closes the stream
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Disconnect(ctx, slowPeer))
	require.False(t, node.IsRunning(slowTx))
	_, ok := tr.Handle().Lookup(slowPeer)
	require.False(t, ok)
	_, ok = tr.Handle().Lookup(fastPeer)
	require.True(t, ok)
}

func TestWriteTimeoutStopsConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.RouteTimeout = 20 * time.Millisecond
	opts.Listen.WriteTimeout = 100 * time.Millisecond
	node, tr := newTestTransport(t, opts, core.WithMailboxCapacity(2))

	local, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	slow := dial(t, local)
	slowPeer := peerOf(t, slow)
	slowTx := waitRegistered(t, tr, slowPeer)

	app, err := node.NewContext(core.NewAddress("app"))
	require.NoError(t, err)
	floodPeer(t, app, core.NewRoute(core.NewTCPAddress(slowPeer.String()), core.NewAddress("sink")), 64)

	require.Eventually(t, func() bool {
		_, ok := tr.Handle().Lookup(slowPeer)
		return !ok && !node.IsRunning(slowTx)
	}, 10*time.Second, 10*time.Millisecond)
}

func TestUnframeableMessageKeepsStream(t *testing.T) {
	opts := DefaultOptions()
	opts.Listen.MaxFrameSize = 1024
	node, tr := newTestTransport(t, opts)

	local, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	conn := dial(t, local)
	peer := peerOf(t, conn)
	tx := waitRegistered(t, tr, peer)
	require.Eventually(t, func() bool { return node.IsRunning(tx) }, 5*time.Second, 5*time.Millisecond)

	app, err := node.NewContext(core.NewAddress("app"))
	require.NoError(t, err)
	route := core.NewRoute(core.NewTCPAddress(peer.String()), core.NewAddress("echo"))
	before := testutil.ToFloat64(messagesDropped.WithLabelValues(dropEncodeFailed))

	require.NoError(t, app.Send(route, make([]byte, 4096)))
	require.NoError(t, app.Send(route, []byte("small")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := network.NewFrameReader(conn, network.NewFrameCodec(0)).ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "small", string(msg.Payload))
	require.Equal(t, before+1, testutil.ToFloat64(messagesDropped.WithLabelValues(dropEncodeFailed)))
	require.True(t, node.IsRunning(tx))
}
