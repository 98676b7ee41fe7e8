package match

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache owns the Redis keyspace for tokens, grants and matchmaking
// notifications. All methods tolerate a nil client so pure-logic tests
// can run without Redis; in that mode writes are dropped and reads
// miss.
type Cache struct {
	rdb        *redis.Client
	ticketTTL  time.Duration
	wsTokenTTL time.Duration
	sessionTTL time.Duration
}

func NewCache(rdb *redis.Client, ticketTTL, wsTokenTTL, sessionTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, ticketTTL: ticketTTL, wsTokenTTL: wsTokenTTL, sessionTTL: sessionTTL}
}

// WSGrant is the value behind a single-use websocket token.
type WSGrant struct {
	MatchID  string `json:"matchId"`
	PlayerID string `json:"playerId"`
}

// PendingMatch notifies the queued side of a pairing. It carries
// everything the waiting client needs, because the poll answering it
// may land on a process that does not hold the match in its registry.
type PendingMatch struct {
	MatchID  string `json:"matchId"`
	Opponent string `json:"opponent"`
	StakeWei string `json:"stakeWei"`
	WSToken  string `json:"wsToken"`
}

// ActiveMatch marks a player as occupied and points reconnects home.
type ActiveMatch struct {
	MatchID  string `json:"matchId"`
	GameID   string `json:"gameId"`
	StakeWei string `json:"stakeWei"`
}

type ticketRef struct {
	GameID   string `json:"gameId"`
	Bucket   string `json:"bucket"`
	PlayerID string `json:"playerId"`
}

func ticketKey(gameID, bucket, playerID string) string {
	return fmt.Sprintf("ticket:%s:%s:%s", gameID, bucket, playerID)
}

func ticketRefKey(ticket string) string {
	return fmt.Sprintf("ticketref:%s", ticket)
}

func queueKey(gameID, bucket string) string {
	return fmt.Sprintf("queue:%s:%s", gameID, bucket)
}

func pendingKey(gameID, bucket, playerID string) string {
	return fmt.Sprintf("pending:%s:%s:%s", gameID, bucket, playerID)
}

func wsTokenKey(token string) string {
	return fmt.Sprintf("wsToken:%s", token)
}

func sessionKey(matchID, playerID string) string {
	return fmt.Sprintf("session:%s:%s", matchID, playerID)
}

func activeMatchKey(playerID string) string {
	return fmt.Sprintf("activeMatch:%s", playerID)
}

// randomToken returns a 64-char hex token from crypto/rand.
func randomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}

// IssueWSToken mints a single-use websocket token for (match, player).
func (c *Cache) IssueWSToken(ctx context.Context, matchID, playerID string) (string, error) {
	token := randomToken()
	if c.rdb == nil {
		return token, nil
	}
	raw, _ := json.Marshal(&WSGrant{MatchID: matchID, PlayerID: playerID})
	if err := c.rdb.Set(ctx, wsTokenKey(token), raw, c.wsTokenTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeWSToken redeems a token exactly once. The GETDEL makes a
// second redemption miss even when two sessions race.
func (c *Cache) ConsumeWSToken(ctx context.Context, token string) (*WSGrant, error) {
	if c.rdb == nil || token == "" {
		return nil, nil
	}
	raw, err := c.rdb.GetDel(ctx, wsTokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g WSGrant
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GrantSession records that player authenticated into match, enabling
// signature-based reconnects for the rest of the match lifetime.
func (c *Cache) GrantSession(ctx context.Context, matchID, playerID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, sessionKey(matchID, playerID), "1", c.sessionTTL).Err(); err != nil {
		log.Printf("[CACHE] Failed to grant session for %s/%s: %v", matchID, playerID, err)
	}
}

// HasSession reports whether player holds a reconnect grant for match.
func (c *Cache) HasSession(ctx context.Context, matchID, playerID string) (bool, error) {
	if c.rdb == nil {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, sessionKey(matchID, playerID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DropSessions clears the reconnect grants for a finished match.
func (c *Cache) DropSessions(ctx context.Context, matchID string, players []string) {
	if c.rdb == nil {
		return
	}
	keys := make([]string, 0, len(players))
	for _, p := range players {
		keys = append(keys, sessionKey(matchID, p))
	}
	if len(keys) > 0 {
		c.rdb.Del(ctx, keys...)
	}
}

// SetActiveMatch marks player as occupied by match.
func (c *Cache) SetActiveMatch(ctx context.Context, playerID string, am *ActiveMatch) error {
	if c.rdb == nil {
		return nil
	}
	raw, _ := json.Marshal(am)
	return c.rdb.Set(ctx, activeMatchKey(playerID), raw, c.sessionTTL).Err()
}

// GetActiveMatch returns the player's occupation marker, nil on miss.
func (c *Cache) GetActiveMatch(ctx context.Context, playerID string) (*ActiveMatch, error) {
	if c.rdb == nil {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, activeMatchKey(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var am ActiveMatch
	if err := json.Unmarshal([]byte(raw), &am); err != nil {
		return nil, err
	}
	return &am, nil
}

// ClearActiveMatch frees the players when their match ends.
func (c *Cache) ClearActiveMatch(ctx context.Context, players ...string) {
	if c.rdb == nil {
		return
	}
	keys := make([]string, 0, len(players))
	for _, p := range players {
		keys = append(keys, activeMatchKey(p))
	}
	if len(keys) > 0 {
		c.rdb.Del(ctx, keys...)
	}
}

// SetPending leaves a pairing notification for the queued side.
func (c *Cache) SetPending(ctx context.Context, gameID, bucket, playerID string, pm *PendingMatch) error {
	if c.rdb == nil {
		return nil
	}
	raw, _ := json.Marshal(pm)
	return c.rdb.Set(ctx, pendingKey(gameID, bucket, playerID), raw, c.wsTokenTTL).Err()
}

// ConsumePending pops the pairing notification, if any.
func (c *Cache) ConsumePending(ctx context.Context, gameID, bucket, playerID string) (*PendingMatch, error) {
	if c.rdb == nil {
		return nil, nil
	}
	raw, err := c.rdb.GetDel(ctx, pendingKey(gameID, bucket, playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pm PendingMatch
	if err := json.Unmarshal([]byte(raw), &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}
