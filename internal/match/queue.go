package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimOpponent pops waiting player ids until it finds one whose
// ticket is still alive, deleting the claimed ticket in the same
// atomic step so no other caller can pair with the same opponent.
// Entries whose ticket expired, and the caller's own stale entries,
// are discarded as they are encountered; the caller re-enqueues itself
// afterwards if no opponent surfaced.
//
// KEYS[1] = queue list, ARGV[1] = caller id,
// ARGV[2] = ticket key prefix, ARGV[3] = ticketref key prefix.
const claimOpponent = `
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return nil
  end
  if id ~= ARGV[1] then
    local t = redis.call('GET', ARGV[2] .. id)
    if t then
      redis.call('DEL', ARGV[2] .. id)
      redis.call('DEL', ARGV[3] .. t)
      return id
    end
  end
end
`

// Queue is the Redis-backed matchmaking queue, partitioned by
// (gameId, stakeBucket). Players only ever pair inside one partition.
type Queue struct {
	rdb       *redis.Client
	ticketTTL time.Duration
}

func NewQueue(rdb *redis.Client, ticketTTL time.Duration) *Queue {
	return &Queue{rdb: rdb, ticketTTL: ticketTTL}
}

// StakeBucket canonicalizes a wei amount into a partition name: "free"
// for zero, otherwise the canonical decimal string. Matching happens
// only on exact stake equality.
func StakeBucket(stakeWei string) (string, error) {
	if stakeWei == "" || stakeWei == "0" {
		return "free", nil
	}
	n, ok := new(big.Int).SetString(stakeWei, 10)
	if !ok || n.Sign() < 0 {
		return "", ErrInvalidStake
	}
	if n.Sign() == 0 {
		return "free", nil
	}
	return n.String(), nil
}

// Claim atomically pops a live opponent from the partition, or returns
// "" when nobody suitable is waiting.
func (q *Queue) Claim(ctx context.Context, gameID, bucket, playerID string) (string, error) {
	if q.rdb == nil {
		return "", nil
	}
	res, err := q.rdb.Eval(ctx, claimOpponent,
		[]string{queueKey(gameID, bucket)},
		playerID,
		fmt.Sprintf("ticket:%s:%s:", gameID, bucket),
		"ticketref:",
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, _ := res.(string)
	return id, nil
}

// Enqueue (re)inserts the caller. A still-live ticket is refreshed
// rather than replaced, so a player holds at most one ticket per
// partition.
func (q *Queue) Enqueue(ctx context.Context, gameID, bucket, playerID string) (string, error) {
	if q.rdb == nil {
		return uuid.NewString(), nil
	}
	tKey := ticketKey(gameID, bucket, playerID)

	ticket, err := q.rdb.Get(ctx, tKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	fresh := errors.Is(err, redis.Nil)
	if fresh {
		ticket = uuid.NewString()
		ref, _ := json.Marshal(&ticketRef{GameID: gameID, Bucket: bucket, PlayerID: playerID})
		if err := q.rdb.Set(ctx, tKey, ticket, q.ticketTTL).Err(); err != nil {
			return "", err
		}
		if err := q.rdb.Set(ctx, ticketRefKey(ticket), ref, q.ticketTTL).Err(); err != nil {
			return "", err
		}
	} else {
		q.rdb.Expire(ctx, tKey, q.ticketTTL)
		q.rdb.Expire(ctx, ticketRefKey(ticket), q.ticketTTL)
	}

	// Claim consumed any prior list entry for this player, so one push
	// keeps the invariant of a single queue entry per ticket.
	if err := q.rdb.LPush(ctx, queueKey(gameID, bucket), playerID).Err(); err != nil {
		return "", err
	}
	return ticket, nil
}

// Remove resolves a ticket and takes its owner out of the queue. An
// unknown or expired ticket is a no-op.
func (q *Queue) Remove(ctx context.Context, ticket string) error {
	if q.rdb == nil || ticket == "" {
		return nil
	}
	raw, err := q.rdb.GetDel(ctx, ticketRefKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var ref ticketRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		log.Printf("[QUEUE] Corrupt ticketref for %s: %v", ticket, err)
		return nil
	}
	q.rdb.Del(ctx, ticketKey(ref.GameID, ref.Bucket, ref.PlayerID))
	q.rdb.LRem(ctx, queueKey(ref.GameID, ref.Bucket), 0, ref.PlayerID)
	return nil
}

// DropTicket clears the caller's own ticket after a successful pairing.
func (q *Queue) DropTicket(ctx context.Context, gameID, bucket, playerID string) {
	if q.rdb == nil {
		return
	}
	ticket, err := q.rdb.GetDel(ctx, ticketKey(gameID, bucket, playerID)).Result()
	if err == nil && ticket != "" {
		q.rdb.Del(ctx, ticketRefKey(ticket))
	}
}

// Depth reports the current partition length for metrics.
func (q *Queue) Depth(ctx context.Context, gameID, bucket string) int64 {
	if q.rdb == nil {
		return 0
	}
	n, err := q.rdb.LLen(ctx, queueKey(gameID, bucket)).Result()
	if err != nil {
		return 0
	}
	return n
}
