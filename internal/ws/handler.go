package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dorkfun/backend/internal/metrics"
)

// Origin policy is enforced by middleware on the session route before
// the request reaches the upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleSession upgrades GET /session/game/:matchId into a match
// session. The connection starts unauthenticated; the first frame must
// be a HELLO carrying a token or a wallet signature.
func (g *Gateway) HandleSession(c *gin.Context) {
	matchID := c.Param("matchId")
	if _, ok := g.svc.Registry().Lookup(matchID); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": "MATCH_NOT_FOUND", "message": "no live match with this id"},
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for match %s: %v", matchID, err)
		return
	}

	client := &Client{
		gw:      g,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		matchID: matchID,
	}
	metrics.WSSessions.Inc()

	go client.writePump()
	go client.readPump()
}
