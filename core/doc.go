// Package core implements the actor runtime of SNGO.
//
// A Node schedules two kinds of actors. A Worker reacts to messages
// delivered to its mailboxes; a Processor runs a Process step in a loop until
// it signals stop. Each actor owns one or more Mailboxes, and each Mailbox
// binds an Address to an incoming and an outgoing AccessControl policy.
//
// Every message is evaluated by the node before any actor code sees it:
// first against the outgoing policy of the sending mailbox, then against the
// incoming policy of the destination mailbox. A denied message is dropped.
// It is neither queued nor reported to the sender.
//
// Addresses whose transport is not local are handed to the router that was
// registered for that transport with RegisterRouter. Actors may join a named
// cluster once; Shutdown stops unclustered actors first and clusters in
// reverse order of creation.
package core
