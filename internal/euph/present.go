package euph

import (
	"sort"
	"sync"

	"cove/internal/protocol"
)

// present is the in-memory map of who is in the room right now: the
// client's own session plus every other session observed via
// join/nick/part notifications. It exists only between Joined and
// disconnect (spec.md §3 "Session").
//
// Grounded on the teacher's presence map (a mutex-guarded map with a
// sorted snapshot accessor), generalized from per-server connection
// membership to per-room chat presence.
type present struct {
	mu     sync.RWMutex
	self   protocol.Session
	others map[string]protocol.Session
}

func newPresent() *present {
	return &present{others: make(map[string]protocol.Session)}
}

func (p *present) reset(self protocol.Session, others []protocol.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = self
	p.others = make(map[string]protocol.Session, len(others))
	for _, s := range others {
		p.others[s.ID] = s
	}
}

func (p *present) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = protocol.Session{}
	p.others = make(map[string]protocol.Session)
}

func (p *present) setSelfNick(nick string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self.Name = nick
}

func (p *present) join(who protocol.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.others[who.ID] = who
}

func (p *present) part(who protocol.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.others, who.ID)
}

func (p *present) nick(who protocol.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.others[who.ID]; ok {
		p.others[who.ID] = who
	}
}

// snapshot returns the client's own session plus a stable, Id-sorted list
// of everyone else.
func (p *present) snapshot() (protocol.Session, []protocol.Session) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]protocol.Session, 0, len(p.others))
	for _, s := range p.others {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return p.self, out
}
