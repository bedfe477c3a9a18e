// Package tcp is the TCP transport of an sngo node.
//
// A listener processor accepts streams and, per stream, starts a connection
// worker pair: a SendWorker owning the tx and internal addresses and a
// RecvProcessor reading frames from the peer. The pair is registered with
// the router, which maps peer endpoints to tx addresses. Only the router's
// main address may send to a tx address, and only the receive half of a
// pair may send to its internal address. The node enforces both rules when
// delivering.
//
// The router does not wait on a single peer. Connecting runs in the
// background and a connection worker that falls behind has messages dropped
// after Options.RouteTimeout.
package tcp
