package network

import (
	"context"
	"net"
	"net/netip"
	"time"

	cerrors "github.com/najoast/sngo/errors"
)

// DefaultDialTimeout bounds outbound connection attempts.
const DefaultDialTimeout = 10 * time.Second

// Dial opens an outbound stream to peer and applies opts to it.
func Dial(ctx context.Context, peer netip.AddrPort, timeout time.Duration, opts SocketOptions) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer.String())
	if err != nil {
		return nil, cerrors.ErrDialFailure.Wrap(err).GenWithStackByArgs(peer)
	}
	opts.apply(conn)
	return conn, nil
}
