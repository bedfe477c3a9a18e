package network

import (
	"net"
	"net/netip"
	"time"

	cerrors "github.com/najoast/sngo/errors"
	"github.com/pingcap/errors"
)

// DefaultKeepAliveInterval is the keep-alive period applied to accepted and
// dialed streams when none is configured.
const DefaultKeepAliveInterval = 30 * time.Second

// SocketOptions configures the streams produced by Listener and Dial.
type SocketOptions struct {
	// KeepAlive enables TCP keep-alive probes
	KeepAlive bool

	// KeepAliveInterval is the probe period, DefaultKeepAliveInterval if zero
	KeepAliveInterval time.Duration

	// NoDelay disables Nagle's algorithm
	NoDelay bool
}

// DefaultSocketOptions returns keep-alive enabled options.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		KeepAlive:         true,
		KeepAliveInterval: DefaultKeepAliveInterval,
		NoDelay:           true,
	}
}

func (o SocketOptions) apply(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if o.KeepAlive {
		interval := o.KeepAliveInterval
		if interval <= 0 {
			interval = DefaultKeepAliveInterval
		}
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(interval)
	}
	_ = tcpConn.SetNoDelay(o.NoDelay)
}

// Listener is a bound TCP socket.
type Listener struct {
	ln    *net.TCPListener
	local netip.AddrPort
	opts  SocketOptions

	peerOf func(net.Addr) (netip.AddrPort, error)
}

// Listen binds a TCP listener to addr ("host:port", port 0 picks an
// ephemeral port).
func Listen(addr string, opts SocketOptions) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cerrors.ErrBindFailure.Wrap(err).GenWithStackByArgs(addr)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, cerrors.ErrBindFailure.GenWithStackByArgs(addr)
	}
	local, err := AddrPortOf(tcpLn.Addr())
	if err != nil {
		_ = ln.Close()
		return nil, cerrors.ErrBindFailure.Wrap(err).GenWithStackByArgs(addr)
	}
	return &Listener{ln: tcpLn, local: local, opts: opts, peerOf: AddrPortOf}, nil
}

// Accept waits for the next inbound stream and returns it with the peer
// address. Accept errors are returned untouched so callers can classify them
// with ErrorKind. A stream whose peer address cannot be read is closed and
// reported as ErrPeerAddress.
func (l *Listener) Accept() (net.Conn, netip.AddrPort, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	peer, err := l.peerOf(conn.RemoteAddr())
	if err != nil {
		_ = conn.Close()
		return nil, netip.AddrPort{}, cerrors.ErrPeerAddress.Wrap(err).GenWithStackByArgs()
	}
	l.opts.apply(conn)
	return conn, peer, nil
}

// LocalAddr returns the address actually bound.
func (l *Listener) LocalAddr() netip.AddrPort {
	return l.local
}

// Close unblocks a pending Accept and releases the socket.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// AddrPortOf converts a net.Addr of a TCP socket to netip.AddrPort. IPv4
// mapped IPv6 addresses are unmapped.
func AddrPortOf(addr net.Addr) (netip.AddrPort, error) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ap := tcpAddr.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, errors.Annotatef(err, "parse socket address %s", addr)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
