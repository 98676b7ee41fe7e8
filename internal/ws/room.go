package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Room tracks the live connections for one match: at most one client
// per player plus any number of spectators. The room also owns the
// match's move timer and the deposit poller handle, so it outlives
// individual connections and is only torn down when the match ends.
type Room struct {
	matchID string

	mu         sync.Mutex
	players    map[string]*Client
	spectators map[*Client]struct{}
	closed     bool

	moveTimer  *time.Timer
	pollerOnce sync.Once
	pollCancel context.CancelFunc
}

func newRoom(matchID string) *Room {
	return &Room{
		matchID:    matchID,
		players:    make(map[string]*Client),
		spectators: make(map[*Client]struct{}),
	}
}

// addPlayer registers a player connection, displacing any previous
// connection for the same player. Returns false once the room is closed.
func (r *Room) addPlayer(playerID string, c *Client) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	old := r.players[playerID]
	r.players[playerID] = c
	r.mu.Unlock()

	if old != nil && old != c {
		old.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "superseded by a new connection"),
			time.Now().Add(time.Second))
		old.closeSend()
	}
	return true
}

func (r *Room) addSpectator(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.spectators[c] = struct{}{}
	return true
}

// remove detaches a client if it is still the registered connection.
func (r *Room) remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	playerID, spectator := c.identity()
	if spectator {
		delete(r.spectators, c)
		return
	}
	if playerID != "" && r.players[playerID] == c {
		delete(r.players, playerID)
	}
}

// broadcast queues a frame on every connection in the room.
func (r *Room) broadcast(data []byte) {
	if data == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.players {
		c.enqueue(data)
	}
	for c := range r.spectators {
		c.enqueue(data)
	}
}

// broadcastExcept queues a frame on every connection but the given one.
func (r *Room) broadcastExcept(skip *Client, data []byte) {
	if data == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.players {
		if c != skip {
			c.enqueue(data)
		}
	}
	for c := range r.spectators {
		if c != skip {
			c.enqueue(data)
		}
	}
}

// eachPlayer calls fn for every connected player. Used for frames whose
// payload is personalized per recipient.
func (r *Room) eachPlayer(fn func(playerID string, c *Client)) {
	r.mu.Lock()
	snapshot := make(map[string]*Client, len(r.players))
	for id, c := range r.players {
		snapshot[id] = c
	}
	r.mu.Unlock()
	for id, c := range snapshot {
		fn(id, c)
	}
}

// eachSpectator calls fn for every spectator connection.
func (r *Room) eachSpectator(fn func(c *Client)) {
	r.mu.Lock()
	snapshot := make([]*Client, 0, len(r.spectators))
	for c := range r.spectators {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// armMoveTimer (re)starts the room's move timer. Any previous timer is
// stopped first, so each applied move resets the clock.
func (r *Room) armMoveTimer(d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.moveTimer != nil {
		r.moveTimer.Stop()
	}
	r.moveTimer = time.AfterFunc(d, fire)
}

// ensureMoveTimer arms the timer only when none is running. Used when a
// session attaches to an already-active match so a reconnect does not
// grant the current player a fresh clock.
func (r *Room) ensureMoveTimer(d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.moveTimer != nil {
		return
	}
	r.moveTimer = time.AfterFunc(d, fire)
}

func (r *Room) disarmMoveTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.moveTimer != nil {
		r.moveTimer.Stop()
		r.moveTimer = nil
	}
}

func (r *Room) setPollCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		cancel()
		return
	}
	r.pollCancel = cancel
}

// close tears the room down: timer disarmed, poller cancelled, every
// connection's send channel closed so queued frames flush before the
// close handshake.
func (r *Room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.moveTimer != nil {
		r.moveTimer.Stop()
		r.moveTimer = nil
	}
	if r.pollCancel != nil {
		r.pollCancel()
		r.pollCancel = nil
	}
	clients := make([]*Client, 0, len(r.players)+len(r.spectators))
	for _, c := range r.players {
		clients = append(clients, c)
	}
	for c := range r.spectators {
		clients = append(clients, c)
	}
	r.players = make(map[string]*Client)
	r.spectators = make(map[*Client]struct{})
	r.mu.Unlock()

	for _, c := range clients {
		c.setState(sessionEnded)
		c.closeSend()
	}
}
