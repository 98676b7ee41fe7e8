package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/metrics"
)

// restoreParallelism bounds concurrent replays on boot. Replay is pure
// CPU plus one read query; a small bound keeps startup snappy without
// starving the connection pool.
const restoreParallelism = 8

// FromReplay rebuilds an orchestrator by re-executing every persisted
// entry through the module. The recomputed hash chain must match the
// stored one entry by entry; any divergence returns
// ErrReplayHashMismatch and the caller must not reactivate the match.
func FromReplay(mod game.Module, matchID string, players []string, seed int64, entries []TranscriptEntry) (*Orchestrator, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("match %s has no persisted entries", matchID)
	}
	if entries[0].Sequence != 0 || entries[0].Action.Type != ActionInit {
		return nil, fmt.Errorf("match %s entry 0 is not the init entry", matchID)
	}
	if err := VerifyChain(entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayHashMismatch, err)
	}

	o, err := NewOrchestrator(mod, matchID, players, seed)
	if err != nil {
		return nil, err
	}
	if o.Head().StateHash != entries[0].StateHash {
		return nil, fmt.Errorf("%w at sequence 0 (init)", ErrReplayHashMismatch)
	}
	for _, e := range entries[1:] {
		if err := o.replayEntry(e); err != nil {
			return nil, err
		}
	}
	return o, nil
}

type restoreRow struct {
	ID         string         `db:"id"`
	GameID     string         `db:"game_id"`
	Status     string         `db:"status"`
	StakeWei   string         `db:"stake_wei"`
	Players    pq.StringArray `db:"players"`
	Seed       int64          `db:"seed"`
	InviteCode *string        `db:"invite_code"`
	CreatedAt  time.Time      `db:"created_at"`
}

type moveRow struct {
	Sequence  int       `db:"sequence"`
	PlayerID  string    `db:"player_id"`
	Action    []byte    `db:"action"`
	StateHash string    `db:"state_hash"`
	PrevHash  string    `db:"prev_hash"`
	CreatedAt time.Time `db:"created_at"`
}

// RestoreActiveMatches rehydrates the registry after a restart. ACTIVE
// matches are replayed move by move; WAITING_OPPONENT invites are
// re-indexed as they were; WAITING_DEPOSITS matches are cancelled
// because the deposit deadline cannot be trusted across downtime.
func (s *Service) RestoreActiveMatches(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	var rows []restoreRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, game_id, status, stake_wei, players, seed, invite_code, created_at
		 FROM matches
		 WHERE status IN ($1, $2, $3)
		 ORDER BY created_at`,
		StatusActive, StatusWaitingOpponent, StatusWaitingDeposits,
	); err != nil {
		return fmt.Errorf("restore query: %w", err)
	}
	if len(rows) == 0 {
		log.Printf("[RECOVERY] No matches to restore")
		return nil
	}
	log.Printf("[RECOVERY] Restoring %d persisted matches", len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreParallelism)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			s.restoreOne(gctx, &row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.ActiveMatches.Set(float64(s.registry.Len()))
	log.Printf("[RECOVERY] Restore complete, %d matches live", s.registry.Len())
	return nil
}

// restoreOne handles a single persisted match. Failures are logged and
// confined to that match; a corrupt row never blocks the rest of boot.
func (s *Service) restoreOne(ctx context.Context, row *restoreRow) {
	switch row.Status {
	case StatusWaitingDeposits:
		s.cancelOnBoot(ctx, row)
		return
	case StatusWaitingOpponent:
		s.restoreWaiting(ctx, row)
		return
	}

	mod, ok := game.Lookup(row.GameID)
	if !ok {
		log.Printf("[RECOVERY] Match %s references unregistered game %q, flagging for review", row.ID, row.GameID)
		s.flagForReview(ctx, row.ID, "unknown game module")
		return
	}

	entries, newest, err := s.loadEntries(ctx, row.ID)
	if err != nil {
		log.Printf("[RECOVERY] Loading moves for %s failed: %v", row.ID, err)
		return
	}
	orch, err := FromReplay(mod, row.ID, []string(row.Players), row.Seed, entries)
	if err != nil {
		log.Printf("[RECOVERY] Replay of %s failed: %v", row.ID, err)
		s.flagForReview(ctx, row.ID, err.Error())
		return
	}

	m := &Match{
		ID:          row.ID,
		GameID:      row.GameID,
		StakeWei:    row.StakeWei,
		Seed:        row.Seed,
		MoveTimeout: s.moveTimeoutFor(mod),
		CreatedAt:   row.CreatedAt,
		status:      StatusActive,
		players:     append([]string(nil), row.Players...),
		orch:        orch,
		lastMoveAt:  newest,
	}
	if err := s.registry.Register(m); err != nil {
		log.Printf("[RECOVERY] Register %s failed: %v", row.ID, err)
		return
	}

	// Crash after the final move but before completion persisted.
	if orch.IsTerminal() {
		log.Printf("[RECOVERY] Match %s replayed to a terminal state, completing now", row.ID)
		if err := s.completeMatch(ctx, m, orch.Outcome()); err != nil {
			log.Printf("[RECOVERY] Late completion of %s failed: %v", row.ID, err)
		}
		return
	}

	for _, p := range m.Players() {
		s.setOccupied(ctx, m, p)
	}
	log.Printf("[RECOVERY] Match %s restored at sequence %d", row.ID, orch.Sequence())
}

// restoreWaiting re-registers an unaccepted private match and its
// invite code.
func (s *Service) restoreWaiting(ctx context.Context, row *restoreRow) {
	mod, ok := game.Lookup(row.GameID)
	if !ok {
		s.flagForReview(ctx, row.ID, "unknown game module")
		return
	}
	code := ""
	if row.InviteCode != nil {
		code = *row.InviteCode
	}
	m := &Match{
		ID:          row.ID,
		GameID:      row.GameID,
		StakeWei:    row.StakeWei,
		Private:     true,
		InviteCode:  code,
		Seed:        row.Seed,
		MoveTimeout: s.moveTimeoutFor(mod),
		CreatedAt:   row.CreatedAt,
		status:      StatusWaitingOpponent,
		players:     append([]string(nil), row.Players...),
		lastMoveAt:  row.CreatedAt,
	}
	if err := s.registry.Register(m); err != nil {
		log.Printf("[RECOVERY] Register waiting match %s failed: %v", row.ID, err)
		return
	}
	for _, p := range m.Players() {
		s.setOccupied(ctx, m, p)
	}
	log.Printf("[RECOVERY] Private match %s restored, invite %s still open", row.ID, code)
}

// cancelOnBoot refunds a staked match that was still collecting
// deposits when the process died.
func (s *Service) cancelOnBoot(ctx context.Context, row *restoreRow) {
	if _, err := s.settle.CancelMatch(ctx, row.ID); err != nil {
		log.Printf("[RECOVERY] Escrow cancel for %s failed: %v", row.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = $1, reason = $2, completed_at = now(), updated_at = now() WHERE id = $3`,
		StatusCancelled, ReasonDepositTimeout, row.ID,
	); err != nil {
		log.Printf("[RECOVERY] Persist cancel of %s failed: %v", row.ID, err)
		return
	}
	s.cache.ClearActiveMatch(ctx, row.Players...)
	log.Printf("[RECOVERY] Cancelled unfunded match %s (restart invalidates the deposit window)", row.ID)
}

// flagForReview parks a match that cannot be trusted. REVIEW rows are
// never reactivated; an operator inspects them by hand.
func (s *Service) flagForReview(ctx context.Context, matchID, detail string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = $1, reason = $2, updated_at = now() WHERE id = $3`,
		StatusReview, ReasonReplayMismatch+": "+detail, matchID,
	); err != nil {
		log.Printf("[RECOVERY] Flagging %s for review failed: %v", matchID, err)
	}
}

// loadEntries reads the persisted transcript in sequence order and
// reports the newest move timestamp for the idle clock.
func (s *Service) loadEntries(ctx context.Context, matchID string) ([]TranscriptEntry, time.Time, error) {
	var rows []moveRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT sequence, player_id, action, state_hash, prev_hash, created_at
		 FROM match_moves WHERE match_id = $1 ORDER BY sequence`,
		matchID,
	); err != nil {
		return nil, time.Time{}, err
	}
	entries := make([]TranscriptEntry, 0, len(rows))
	newest := time.Time{}
	for _, r := range rows {
		var a game.Action
		if err := json.Unmarshal(r.Action, &a); err != nil {
			return nil, time.Time{}, fmt.Errorf("corrupt action at sequence %d: %w", r.Sequence, err)
		}
		entries = append(entries, TranscriptEntry{
			Sequence:  r.Sequence,
			Player:    r.PlayerID,
			Action:    a,
			StateHash: r.StateHash,
			PrevHash:  r.PrevHash,
		})
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}
	return entries, newest, nil
}
