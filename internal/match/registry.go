package match

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry is the in-memory table of live matches. It is the single
// source of truth for play; the database catches up synchronously but
// is never read on the hot path.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*Match
	invites map[string]*Match

	emergency       atomic.Bool
	emergencyReason string
}

func NewRegistry() *Registry {
	return &Registry{
		matches: make(map[string]*Match),
		invites: make(map[string]*Match),
	}
}

// Register adds a live match, indexing its invite code when present.
func (r *Registry) Register(m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.matches[m.ID]; dup {
		return fmt.Errorf("match %s already registered", m.ID)
	}
	r.matches[m.ID] = m
	if m.InviteCode != "" {
		r.invites[m.InviteCode] = m
	}
	return nil
}

// Lookup returns the live match for id.
func (r *Registry) Lookup(id string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	return m, ok
}

// ClaimInvite resolves and removes an invite code in one step, so an
// invite is accepted at most once.
func (r *Registry) ClaimInvite(code string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.invites[code]
	if !ok {
		return nil, false
	}
	delete(r.invites, code)
	return m, true
}

// HasInvite reports whether code is currently claimable.
func (r *Registry) HasInvite(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.invites[code]
	return ok
}

// PeekInvite resolves an invite code without consuming it.
func (r *Registry) PeekInvite(code string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.invites[code]
	return m, ok
}

// Evict removes a match and any invite index it still holds.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.matches[id]; ok {
		if m.InviteCode != "" {
			delete(r.invites, m.InviteCode)
		}
		delete(r.matches, id)
	}
}

// Active returns a snapshot of all live matches.
func (r *Registry) Active() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// SetEmergency flips emergency mode. While set, match creation and
// queue joins are refused; existing matches drain.
func (r *Registry) SetEmergency(on bool, reason string) {
	r.mu.Lock()
	r.emergencyReason = reason
	r.mu.Unlock()
	r.emergency.Store(on)
}

func (r *Registry) Emergency() bool {
	return r.emergency.Load()
}

func (r *Registry) EmergencyReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.emergencyReason
}
