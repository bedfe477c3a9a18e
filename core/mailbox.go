package core

// AccessControl decides whether an envelope may pass a mailbox boundary.
// The set of policies is closed: DenyAll, AllowAll and AllowSourceAddress.
type AccessControl interface {
	// Authorized reports whether env may be delivered (incoming) or sent
	// (outgoing).
	Authorized(env *Envelope) bool

	accessControl()
}

// DenyAll rejects every message.
type DenyAll struct{}

// Authorized always returns false.
func (DenyAll) Authorized(*Envelope) bool { return false }

func (DenyAll) accessControl() {}

// String returns "DenyAll".
func (DenyAll) String() string { return "DenyAll" }

// AllowAll accepts every message. Use it only where no trust boundary is
// crossed.
type AllowAll struct{}

// Authorized always returns true.
func (AllowAll) Authorized(*Envelope) bool { return true }

func (AllowAll) accessControl() {}

// String returns "AllowAll".
func (AllowAll) String() string { return "AllowAll" }

// AllowSourceAddress accepts a message only if it was sent from exactly
// this address.
type AllowSourceAddress Address

// Authorized reports whether the envelope source equals the allowed address.
func (a AllowSourceAddress) Authorized(env *Envelope) bool {
	return env != nil && env.Source == Address(a)
}

func (AllowSourceAddress) accessControl() {}

// String returns "AllowSourceAddress(addr)".
func (a AllowSourceAddress) String() string {
	return "AllowSourceAddress(" + Address(a).String() + ")"
}

// Mailbox binds one address to an incoming and an outgoing policy. The
// policies are fixed at construction time.
type Mailbox struct {
	address  Address
	incoming AccessControl
	outgoing AccessControl
}

// NewMailbox creates a mailbox. A nil policy is treated as DenyAll.
func NewMailbox(addr Address, incoming, outgoing AccessControl) Mailbox {
	if incoming == nil {
		incoming = DenyAll{}
	}
	if outgoing == nil {
		outgoing = DenyAll{}
	}
	return Mailbox{address: addr, incoming: incoming, outgoing: outgoing}
}

// DenyAllMailbox creates a mailbox that neither receives nor sends.
func DenyAllMailbox(addr Address) Mailbox {
	return NewMailbox(addr, DenyAll{}, DenyAll{})
}

// AllowAllMailbox creates a mailbox without restrictions.
func AllowAllMailbox(addr Address) Mailbox {
	return NewMailbox(addr, AllowAll{}, AllowAll{})
}

// Address returns the mailbox address.
func (m Mailbox) Address() Address { return m.address }

// Incoming returns the policy applied to messages delivered to the mailbox.
func (m Mailbox) Incoming() AccessControl { return m.incoming }

// Outgoing returns the policy applied to messages sent from the mailbox.
func (m Mailbox) Outgoing() AccessControl { return m.outgoing }

// Mailboxes is the set of mailboxes owned by one actor. The main mailbox is
// the default sending address.
type Mailboxes struct {
	main       Mailbox
	additional []Mailbox
}

// NewMailboxes groups a main mailbox with optional additional ones.
func NewMailboxes(main Mailbox, additional ...Mailbox) Mailboxes {
	return Mailboxes{main: main, additional: append([]Mailbox(nil), additional...)}
}

// Main returns the main mailbox.
func (m Mailboxes) Main() Mailbox { return m.main }

// Additional returns the additional mailboxes.
func (m Mailboxes) Additional() []Mailbox {
	return append([]Mailbox(nil), m.additional...)
}

// Addresses returns every address, main first.
func (m Mailboxes) Addresses() []Address {
	out := make([]Address, 0, len(m.additional)+1)
	out = append(out, m.main.address)
	for _, mb := range m.additional {
		out = append(out, mb.address)
	}
	return out
}

// Find returns the mailbox bound to addr.
func (m Mailboxes) Find(addr Address) (Mailbox, bool) {
	if m.main.address == addr {
		return m.main, true
	}
	for _, mb := range m.additional {
		if mb.address == addr {
			return mb, true
		}
	}
	return Mailbox{}, false
}

func (m Mailboxes) all() []Mailbox {
	out := make([]Mailbox, 0, len(m.additional)+1)
	out = append(out, m.main)
	return append(out, m.additional...)
}
