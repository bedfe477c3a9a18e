// Package network is the socket layer of the sngo TCP transport. It binds
// listeners, accepts and dials TCP streams with keep-alive applied, and
// frames transport messages on those streams.
package network
