package core

import (
	"sync"

	cerrors "github.com/najoast/sngo/errors"
)

// dispatchTable maps every mailbox address of the node to its actor.
type dispatchTable struct {
	mu     sync.RWMutex
	cells  map[Address]*cell
	closed bool
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{cells: make(map[Address]*cell)}
}

// insert registers all addresses of c, or none of them.
func (t *dispatchTable) insert(c *cell) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}

	addrs := c.mailboxes.Addresses()
	seen := make(map[Address]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			return cerrors.ErrAddressInUse.GenWithStackByArgs(addr)
		}
		seen[addr] = struct{}{}
		if _, exists := t.cells[addr]; exists {
			return cerrors.ErrAddressInUse.GenWithStackByArgs(addr)
		}
	}
	for _, addr := range addrs {
		t.cells[addr] = c
	}
	return nil
}

// remove releases the addresses still bound to c.
func (t *dispatchTable) remove(c *cell) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, addr := range c.mailboxes.Addresses() {
		if t.cells[addr] == c {
			delete(t.cells, addr)
		}
	}
}

// lookup finds the actor and the mailbox bound to addr.
func (t *dispatchTable) lookup(addr Address) (*cell, Mailbox, bool) {
	t.mu.RLock()
	c, ok := t.cells[addr]
	t.mu.RUnlock()
	if !ok {
		return nil, Mailbox{}, false
	}
	mb, ok := c.mailboxes.Find(addr)
	return c, mb, ok
}

// list returns every registered actor once.
func (t *dispatchTable) list() []*cell {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[*cell]struct{}, len(t.cells))
	out := make([]*cell, 0, len(t.cells))
	for _, c := range t.cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// close refuses further inserts and returns the actors registered so far.
func (t *dispatchTable) close() []*cell {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.list()
}
