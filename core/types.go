package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	cerrors "github.com/najoast/sngo/errors"
)

// TransportType tells the node which router, if any, owns an Address.
type TransportType uint8

const (
	// TransportLocal addresses are served by actors of this node.
	TransportLocal TransportType = iota

	// TransportTCP addresses name a remote peer ("host:port") reachable
	// through the TCP router.
	TransportTCP
)

// String returns the string representation of TransportType.
func (t TransportType) String() string {
	switch t {
	case TransportLocal:
		return "local"
	case TransportTCP:
		return "tcp"
	default:
		return fmt.Sprintf("transport(%d)", uint8(t))
	}
}

// Address is an opaque, comparable identifier for one mailbox.
type Address struct {
	Transport TransportType
	Value     string
}

// NewAddress returns a well-known local address.
func NewAddress(value string) Address {
	return Address{Transport: TransportLocal, Value: value}
}

// NewTCPAddress returns the address of a remote TCP peer.
func NewTCPAddress(hostport string) Address {
	return Address{Transport: TransportTCP, Value: hostport}
}

// RandomAddress returns a local address drawn from a uniform random source.
func RandomAddress() Address {
	return NewAddress(randomHex())
}

// RandomTaggedAddress is RandomAddress with a readable tag in front of the
// random part. Uniqueness is probabilistic; collisions are not checked for.
func RandomTaggedAddress(tag string) Address {
	return NewAddress(tag + "_" + randomHex())
}

func randomHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsLocal reports whether the address is served by this node.
func (a Address) IsLocal() bool {
	return a.Transport == TransportLocal
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns "value" for local addresses and "type#value" otherwise.
func (a Address) String() string {
	if a.Transport == TransportLocal {
		return a.Value
	}
	return fmt.Sprintf("%d#%s", uint8(a.Transport), a.Value)
}

// Route is an ordered list of hops. The first hop is the next destination.
type Route []Address

// NewRoute builds a route from hops.
func NewRoute(hops ...Address) Route {
	return Route(append([]Address(nil), hops...))
}

// Next returns the first hop without consuming it.
func (r Route) Next() (Address, error) {
	if len(r) == 0 {
		return Address{}, cerrors.ErrInvalidRoute.GenWithStackByArgs("route is empty")
	}
	return r[0], nil
}

// Step consumes the first hop and returns it with the remaining route.
func (r Route) Step() (Address, Route, error) {
	next, err := r.Next()
	if err != nil {
		return Address{}, nil, err
	}
	return next, NewRoute(r[1:]...), nil
}

// Prepend returns a new route with addr in front.
func (r Route) Prepend(addr Address) Route {
	out := make(Route, 0, len(r)+1)
	out = append(out, addr)
	return append(out, r...)
}

// String returns the hops joined by " => ".
func (r Route) String() string {
	parts := make([]string, 0, len(r))
	for _, a := range r {
		parts = append(parts, a.String())
	}
	return "[" + strings.Join(parts, " => ") + "]"
}

// Message is a payload travelling along an onward route. The return route
// accumulates the hops a reply should take.
type Message struct {
	Onward  Route
	Return  Route
	Payload []byte
}

// Clone creates a deep copy of the message.
func (m Message) Clone() Message {
	clone := Message{
		Onward: NewRoute(m.Onward...),
		Return: NewRoute(m.Return...),
	}
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}
	return clone
}

// Envelope is a message in flight between two mailboxes. Access control
// decisions are taken on envelopes.
type Envelope struct {
	// Source is the mailbox the message is sent from.
	Source Address

	// Destination is the mailbox the message is delivered to.
	Destination Address

	Message Message
}

// ActorState is the lifecycle state of an actor.
type ActorState int32

const (
	// ActorStateCreated means the actor is known to the node but not scheduled yet
	ActorStateCreated ActorState = iota

	// ActorStateInitialized means Initialize has returned successfully
	ActorStateInitialized

	// ActorStateRunning means the actor is processing messages or iterations
	ActorStateRunning

	// ActorStateStopping means the actor is running its Shutdown hook
	ActorStateStopping

	// ActorStateStopped means the actor has released its addresses
	ActorStateStopped
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case ActorStateCreated:
		return "created"
	case ActorStateInitialized:
		return "initialized"
	case ActorStateRunning:
		return "running"
	case ActorStateStopping:
		return "stopping"
	case ActorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// actorKind distinguishes workers, processors and detached contexts.
type actorKind uint8

const (
	kindWorker actorKind = iota
	kindProcessor
	kindDetached
)

func (k actorKind) String() string {
	switch k {
	case kindWorker:
		return "worker"
	case kindProcessor:
		return "processor"
	case kindDetached:
		return "detached"
	default:
		return "unknown"
	}
}
