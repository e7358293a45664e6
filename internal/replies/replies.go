// Package replies implements the Reply Correlator: a map from outgoing
// command id to a single pending waiter, so that an asynchronous reply
// read off a Framed Connection can be routed back to the goroutine that
// issued the matching command (spec.md §4.B).
package replies

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cove/internal/protocol"
)

// ErrCancelled is an error a caller may pass to FailAll when tearing
// the correlator down. Wait returns whatever error FailAll was given.
var ErrCancelled = errors.New("replies: cancelled")

type waiter chan result

type result struct {
	pkt protocol.Packet
	err error
}

// Correlator hands out ids for outgoing commands and lets callers block
// until the matching reply arrives.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]waiter
}

// New returns an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[uint64]waiter)}
}

// Register allocates a fresh id and a slot to receive its reply. Callers
// must eventually call Wait or Forget for every id Register returns, or
// the pending map leaks.
func (c *Correlator) Register() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.pending[id] = make(waiter, 1)
	return id
}

// Forget drops a registered id without waiting on it, e.g. when the
// caller bailed out before a reply could matter.
func (c *Correlator) Forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Wait blocks until the reply for id arrives, ctx is cancelled, or the
// correlator is failed via FailAll.
func (c *Correlator) Wait(ctx context.Context, id uint64) (protocol.Packet, error) {
	c.mu.Lock()
	w, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return protocol.Packet{}, fmt.Errorf("replies: no pending request %d", id)
	}

	defer c.Forget(id)

	select {
	case r := <-w:
		return r.pkt, r.err
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	}
}

// Complete delivers pkt to the waiter registered for pkt.ID, if any. It
// reports whether a waiter was found; an unmatched reply (stale, or a
// reply for an id nobody is waiting on any more) is not an error at this
// layer — the caller logs and drops it.
func (c *Correlator) Complete(pkt protocol.Packet) bool {
	c.mu.Lock()
	w, ok := c.pending[pkt.ID]
	if ok {
		delete(c.pending, pkt.ID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	w <- result{pkt: pkt}
	return true
}

// FailAll delivers err to every pending waiter and clears the map. Used
// when the underlying connection dies and no further replies can ever
// arrive (spec.md §4.B: a dropped connection fails every outstanding
// command).
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w <- result{err: err}
	}
}

// Pending reports how many requests are currently awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
