package match

import (
	"sync"
	"time"
)

// Match is a live registry entry. Identity fields are immutable after
// registration; status, players and the orchestrator pointer change
// under mu (private matches gain their second player and their
// orchestrator at accept time).
type Match struct {
	ID          string
	GameID      string
	StakeWei    string
	Private     bool
	InviteCode  string
	Seed        int64
	MoveTimeout time.Duration
	CreatedAt   time.Time

	mu         sync.Mutex
	status     string
	players    []string
	orch       *Orchestrator
	lastMoveAt time.Time
}

// Staked reports whether real stakes ride on this match.
func (m *Match) Staked() bool {
	return m.StakeWei != "" && m.StakeWei != "0"
}

func (m *Match) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Players returns the seat-ordered participant list.
func (m *Match) Players() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.players...)
}

// HasPlayer reports whether id holds a seat.
func (m *Match) HasPlayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		if p == id {
			return true
		}
	}
	return false
}

// Orch returns the orchestrator, nil while a private match awaits its
// opponent.
func (m *Match) Orch() *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orch
}

// LastMoveAt is the idle clock: creation, activation and every applied
// move reset it.
func (m *Match) LastMoveAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMoveAt
}

func (m *Match) touch() {
	m.mu.Lock()
	m.lastMoveAt = time.Now()
	m.mu.Unlock()
}

// attachOpponent seats the accepting guest, installs the freshly built
// orchestrator and moves a private match out of WAITING_OPPONENT.
func (m *Match) attachOpponent(guest string, orch *Orchestrator, status string) {
	m.mu.Lock()
	m.players = append(m.players, guest)
	m.orch = orch
	m.status = status
	m.lastMoveAt = time.Now()
	m.mu.Unlock()
}

// transition flips status from one expected value to another. It
// returns false when the match is not in the expected state, which is
// what makes completion and activation idempotent.
func (m *Match) transition(from, to string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != from {
		return false
	}
	m.status = to
	return true
}

// transitionAny flips from any of the listed states.
func (m *Match) transitionAny(from []string, to string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.status == f {
			prev := m.status
			m.status = to
			return prev, true
		}
	}
	return m.status, false
}
