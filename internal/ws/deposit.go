package ws

import (
	"context"
	"encoding/hex"
	"log"
	"time"

	"github.com/dorkfun/backend/internal/match"
	"github.com/dorkfun/backend/internal/settlement"
)

// onchainMatchID is the escrow contract's 32-byte form of a match id,
// handed to clients so they can call deposit() without re-deriving it.
func onchainMatchID(matchID string) string {
	b, err := settlement.MatchIDBytes32(matchID)
	if err != nil {
		return ""
	}
	return "0x" + hex.EncodeToString(b[:])
}

// ensureDepositPoller starts the escrow watcher for a staked match.
// One poller per match, started by whichever event arrives first (the
// deposit-phase notification or a player session attaching).
func (g *Gateway) ensureDepositPoller(matchID string) {
	r := g.room(matchID)
	r.pollerOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.setPollCancel(cancel)
		go g.pollDeposits(ctx, matchID)
	})
}

// pollDeposits asks the escrow contract whether both stakes have landed
// and activates the match when they have. Past the deadline the match
// is cancelled so deposited funds can be refunded.
func (g *Gateway) pollDeposits(ctx context.Context, matchID string) {
	interval := g.svc.DepositPollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("[WS] Deposit poller started for match %s (every %s)", matchID, interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, ok := g.svc.Registry().Lookup(matchID)
			if !ok || m.Status() != match.StatusWaitingDeposits {
				return
			}

			callCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if time.Now().After(g.svc.DepositDeadlineFor(m)) {
				log.Printf("[WS] Deposit deadline passed for match %s, cancelling", matchID)
				if err := g.svc.CancelMatch(callCtx, matchID, match.ReasonDepositTimeout); err != nil {
					log.Printf("[WS] Deposit-timeout cancel of %s failed: %v", matchID, err)
				}
				cancel()
				return
			}

			funded, err := g.svc.Settlement().IsFullyFunded(callCtx, matchID)
			if err != nil {
				log.Printf("[WS] Funding check for match %s failed: %v", matchID, err)
				cancel()
				continue
			}
			if funded {
				if err := g.svc.ActivateStakedMatch(callCtx, matchID); err != nil {
					log.Printf("[WS] Activation of funded match %s failed: %v", matchID, err)
				}
				cancel()
				return
			}
			cancel()
		}
	}
}
