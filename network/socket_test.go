package network

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	cerrors "github.com/najoast/sngo/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestListenAcceptDial(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", DefaultSocketOptions())
	require.NoError(t, err)
	defer ln.Close()

	local := ln.LocalAddr()
	require.True(t, local.Addr().IsLoopback())
	require.NotZero(t, local.Port())

	type accepted struct {
		conn net.Conn
		peer netip.AddrPort
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, peer, err := ln.Accept()
		ch <- accepted{conn, peer, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, local, time.Second, DefaultSocketOptions())
	require.NoError(t, err)
	defer client.Close()

	res := <-ch
	require.NoError(t, res.err)
	defer res.conn.Close()

	clientLocal, err := AddrPortOf(client.LocalAddr())
	require.NoError(t, err)
	require.Equal(t, clientLocal, res.peer)
}

func TestListenBindFailure(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", SocketOptions{})
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.LocalAddr().String(), SocketOptions{})
	require.True(t, cerrors.Is(err, cerrors.ErrBindFailure))
}

func TestAcceptAfterClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", SocketOptions{})
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, _, err = ln.Accept()
	require.True(t, IsClosed(err))
	require.False(t, IsTemporary(err))
	require.Equal(t, "closed", ErrorKind(err))
}

func TestAcceptUnusablePeerAddress(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", SocketOptions{})
	require.NoError(t, err)
	defer ln.Close()
	ln.peerOf = func(net.Addr) (netip.AddrPort, error) {
		return netip.AddrPort{}, fmt.Errorf("no address")
	}

	client, err := net.Dial("tcp", ln.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, _, err := ln.Accept()
	require.Nil(t, conn)
	require.True(t, cerrors.Is(err, cerrors.ErrPeerAddress))
	require.Equal(t, "connection", ErrorKind(err))
	require.False(t, IsTemporary(err))

	// the stream was closed by the listener
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
	require.False(t, os.IsTimeout(err))
}

func TestDialFailure(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", SocketOptions{})
	require.NoError(t, err)
	addr := ln.LocalAddr()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, time.Second, SocketOptions{})
	require.True(t, cerrors.Is(err, cerrors.ErrDialFailure))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTemporary(t *testing.T) {
	t.Parallel()

	wrap := func(errno syscall.Errno) error {
		return &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", errno)}
	}
	for _, errno := range []syscall.Errno{
		syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS,
		syscall.ENOMEM, syscall.ECONNABORTED, syscall.ECONNRESET,
	} {
		require.True(t, IsTemporary(wrap(errno)), errno.Error())
	}
	require.True(t, IsTemporary(timeoutError{}))
	require.True(t, IsTemporary(fmt.Errorf("accept: %w", timeoutError{})))

	require.False(t, IsTemporary(nil))
	require.False(t, IsTemporary(wrap(syscall.EINVAL)))
	require.False(t, IsTemporary(net.ErrClosed))
	require.Equal(t, "fatal", ErrorKind(wrap(syscall.EINVAL)))
	require.Equal(t, "temporary", ErrorKind(wrap(syscall.EMFILE)))
	require.Equal(t, "none", ErrorKind(nil))
}
