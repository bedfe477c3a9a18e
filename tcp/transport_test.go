package tcp

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/najoast/sngo/core"
	cerrors "github.com/najoast/sngo/errors"
	"github.com/stretchr/testify/require"
)

// echoWorker replies to every message along its return route.
type echoWorker struct{}

func (echoWorker) Initialize(ctx *core.Context) error { return nil }

func (echoWorker) HandleMessage(ctx *core.Context, env *core.Envelope) error {
	return ctx.Send(env.Message.Return, env.Message.Payload)
}

func (echoWorker) Shutdown(ctx *core.Context) error { return nil }

func TestRoundTripBetweenNodes(t *testing.T) {
	serverNode, server := newTestTransport(t, DefaultOptions())
	clientNode, client := newTestTransport(t, DefaultOptions())

	echo := core.NewAddress("echo")
	require.NoError(t, serverNode.StartWorker(core.NewMailboxes(core.AllowAllMailbox(echo)), echoWorker{}))

	local, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	app, err := clientNode.NewContext(core.NewAddress("app"))
	require.NoError(t, err)

	// The client router connects on demand.
	serverAddr := core.NewTCPAddress(local.String())
	require.NoError(t, app.Send(core.NewRoute(serverAddr, echo), []byte("ping")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env, err := app.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(env.Message.Payload))
	require.Equal(t, core.Route{serverAddr, echo}, env.Message.Return)

	require.Len(t, client.Pairs(), 1)
	require.Len(t, server.Pairs(), 1)
	require.Equal(t, local, client.Pairs()[0].Peer)

	// Replies reuse the same connection.
	require.NoError(t, app.Send(env.Message.Return, []byte("again")))
	env, err = app.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "again", string(env.Message.Payload))
	require.Len(t, client.Pairs(), 1)
}

func TestConnectAndDisconnect(t *testing.T) {
	_, server := newTestTransport(t, DefaultOptions())
	clientNode, client := newTestTransport(t, DefaultOptions())

	local, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, err := client.Connect(ctx, local)
	require.NoError(t, err)
	require.Equal(t, core.NewTCPAddress(local.String()), addr)

	tx, ok := client.Handle().Lookup(local)
	require.True(t, ok)

	// Connecting again reuses the registered pair.
	_, err = client.Connect(ctx, local)
	require.NoError(t, err)
	require.Len(t, client.Pairs(), 1)

	require.Eventually(t, func() bool { return len(server.Pairs()) == 1 }, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return clientNode.IsRunning(tx) }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, client.Disconnect(ctx, local))
	require.Empty(t, client.Pairs())
	require.False(t, clientNode.IsRunning(tx))

	// The server side notices the closed stream.
	require.Eventually(t, func() bool { return len(server.Pairs()) == 0 }, 5*time.Second, 5*time.Millisecond)

	err = client.Disconnect(ctx, local)
	require.True(t, cerrors.Is(err, cerrors.ErrAddressNotFound))
}

func TestConnectFailure(t *testing.T) {
	_, client := newTestTransport(t, DefaultOptions())

	_, tr := newTestTransport(t, DefaultOptions())
	local, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, tr.StopListener(context.Background(), local))

	_, err = client.Connect(context.Background(), local)
	require.True(t, cerrors.Is(err, cerrors.ErrDialFailure))
	require.Empty(t, client.Pairs())
}

func TestRoutingTable(t *testing.T) {
	t.Parallel()

	table := newRoutingTable()
	peer := netip.MustParseAddrPort("127.0.0.1:4000")
	tx := core.RandomTaggedAddress("TcpSendWorker_tx")

	require.NoError(t, table.register(Pair{Peer: peer, TxAddress: tx}))
	err := table.register(Pair{Peer: peer, TxAddress: core.RandomTaggedAddress("TcpSendWorker_tx")})
	require.True(t, cerrors.Is(err, cerrors.ErrRegistration))
	err = table.register(Pair{Peer: netip.MustParseAddrPort("127.0.0.1:4001"), TxAddress: tx})
	require.True(t, cerrors.Is(err, cerrors.ErrRegistration))

	got, ok := table.lookup(peer)
	require.True(t, ok)
	require.Equal(t, tx, got)

	rx := core.RandomTaggedAddress("TcpRecvProcessor")
	table.addReceiver(core.RandomTaggedAddress("TcpSendWorker_tx"), rx)
	require.False(t, table.isReceiver(rx), "receivers of unregistered workers are ignored")
	table.addReceiver(tx, rx)
	require.True(t, table.isReceiver(rx))

	removed, ok := table.unregister(tx)
	require.True(t, ok)
	require.Equal(t, peer, removed)
	require.False(t, table.isReceiver(rx))
	_, ok = table.unregister(tx)
	require.False(t, ok)
	_, ok = table.lookup(peer)
	require.False(t, ok)
}

func TestPairMailboxes(t *testing.T) {
	t.Parallel()

	w, pair := newPair(nil, nil, netip.MustParseAddrPort("127.0.0.1:4000"), pairOptions{})
	require.Equal(t, w.TxAddress(), pair.TxAddress)
	require.NotEqual(t, w.TxAddress(), w.InternalAddress())
	require.NotEqual(t, w.InternalAddress(), w.RxAddress())

	mbs := pairMailboxes(RouterAddress, w)
	require.Equal(t, []core.Address{w.TxAddress(), w.InternalAddress()}, mbs.Addresses())

	tx := mbs.Main()
	require.Equal(t, core.AllowSourceAddress(RouterAddress), tx.Incoming())
	require.Equal(t, core.DenyAll{}, tx.Outgoing())

	internal, ok := mbs.Find(w.InternalAddress())
	require.True(t, ok)
	require.Equal(t, core.AllowSourceAddress(w.RxAddress()), internal.Incoming())
	require.Equal(t, core.DenyAll{}, internal.Outgoing())

	fromRouter := &core.Envelope{Source: RouterAddress, Destination: w.TxAddress()}
	forged := &core.Envelope{Source: core.NewAddress("mallory"), Destination: w.TxAddress()}
	require.True(t, tx.Incoming().Authorized(fromRouter))
	require.False(t, tx.Incoming().Authorized(forged))
}

func TestResolvePeer(t *testing.T) {
	t.Parallel()

	peer, err := resolvePeer(context.Background(), "127.0.0.1:4000")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:4000"), peer)

	peer, err = resolvePeer(context.Background(), "[::ffff:127.0.0.1]:4000")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:4000"), peer)

	_, err = resolvePeer(context.Background(), "no-port")
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidRoute))
}
