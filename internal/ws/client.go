package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dorkfun/backend/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Ping interval. The pong must arrive within pingPeriod plus a
	// grace period or the read deadline trips.
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + 10*time.Second

	// Maximum inbound frame size in bytes.
	maxFrameSize = 64 * 1024

	// Outbound queue depth per client. A client that cannot drain its
	// queue is disconnected instead of stalling the match broadcast.
	sendBufferSize = 256
)

// Session states. A connection starts unauthenticated and must present
// a valid HELLO before any other frame is accepted.
const (
	sessionUnauth = iota
	sessionDepositWait
	sessionPlaying
	sessionEnded
)

// Client is one WebSocket connection bound to a match room.
type Client struct {
	gw      *Gateway
	conn    *websocket.Conn
	send    chan []byte
	matchID string

	mu        sync.Mutex
	playerID  string // normalized address, "" for spectators and before HELLO
	spectator bool
	state     int

	closeOnce sync.Once
}

func (c *Client) setIdentity(playerID string, spectator bool) {
	c.mu.Lock()
	c.playerID = playerID
	c.spectator = spectator
	c.mu.Unlock()
}

func (c *Client) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.spectator
}

func (c *Client) setState(s int) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) sessionState() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// enqueue queues an outbound frame without blocking. When the client's
// buffer is full the client is dropped; slow consumers must not hold up
// the rest of the room.
func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.FramesDropped.Inc()
		log.Printf("[WS] Send buffer full for match %s, dropping client", c.matchID)
		c.closeSend()
	}
}

func (c *Client) sendError(code, message string) {
	c.enqueue(marshalFrame(FrameError, c.matchID, errorPayload{Code: code, Message: message}))
}

// closeSend closes the outbound channel exactly once. Frames already
// queued are still flushed by writePump before the connection closes.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump reads frames from the connection and dispatches them. It owns
// the connection teardown: when it returns the client is removed from
// its room and the underlying connection is closed.
func (c *Client) readPump() {
	defer func() {
		c.gw.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error on match %s: %v", c.matchID, err)
			}
			return
		}
		if !c.handleFrame(raw) {
			return
		}
	}
}

// writePump flushes the outbound queue and keeps the connection alive
// with pings. A closed send channel drains remaining frames, then sends
// a close control message.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
