package match

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/dorkfun/backend/internal/config"
	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/metrics"
	"github.com/dorkfun/backend/internal/settlement"
)

// Notifier receives lifecycle events for fanout to connected clients.
// Calls happen synchronously after the corresponding state is durable,
// so a MoveApplied for sequence n is always delivered before the
// MatchEnded that n caused.
type Notifier interface {
	DepositPhase(m *Match)
	MatchActivated(m *Match)
	MoveApplied(m *Match, res *StepResult)
	MatchEnded(m *Match, out *game.Outcome, transcriptHash string)
	MatchCancelled(m *Match, reason string)
}

// Service is the match lifecycle coordinator: the only writer of match
// rows and the only component that moves matches between states.
type Service struct {
	db       *sqlx.DB
	rdb      *redis.Client
	cfg      *config.Config
	registry *Registry
	queue    *Queue
	cache    *Cache
	settle   settlement.Coordinator
	fin      *settlement.Finalizer
	notifier Notifier
}

// Manager is the process-wide lifecycle service, set by
// InitializeManager during boot.
var Manager *Service

// InitializeManager wires the global Service.
func InitializeManager(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, settle settlement.Coordinator, fin *settlement.Finalizer) {
	Manager = NewService(db, rdb, cfg, settle, fin)
	log.Printf("[MATCH] Lifecycle service initialized")
}

func NewService(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, settle settlement.Coordinator, fin *settlement.Finalizer) *Service {
	if settle == nil {
		settle = settlement.NewNoop()
	}
	return &Service{
		db:       db,
		rdb:      rdb,
		cfg:      cfg,
		registry: NewRegistry(),
		queue:    NewQueue(rdb, time.Duration(cfg.QueueTicketTTLSecs)*time.Second),
		cache: NewCache(rdb,
			time.Duration(cfg.QueueTicketTTLSecs)*time.Second,
			time.Duration(cfg.WSTokenTTLSecs)*time.Second,
			time.Duration(cfg.SessionTTLHours)*time.Hour),
		settle: settle,
		fin:    fin,
	}
}

// SetNotifier attaches the fanout layer. Must be called before traffic.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Cache() *Cache { return s.cache }

func (s *Service) Settlement() settlement.Coordinator { return s.settle }

// DepositDeadlineFor is when an unfunded staked match gets cancelled.
func (s *Service) DepositDeadlineFor(m *Match) time.Time {
	return m.LastMoveAt().Add(time.Duration(s.cfg.DepositTimeoutMinutes) * time.Minute)
}

// DepositPollInterval is how often the deposit poller checks funding.
func (s *Service) DepositPollInterval() time.Duration {
	return time.Duration(s.cfg.DepositPollSecs) * time.Second
}

// EscrowAddress is surfaced to clients in DEPOSIT_REQUIRED frames.
func (s *Service) EscrowAddress() string { return s.cfg.EscrowAddress }

// JoinResult is the outcome of a queue join: either a waiting ticket
// or an immediate match.
type JoinResult struct {
	Ticket  string `json:"ticket,omitempty"`
	MatchID string `json:"matchId,omitempty"`
	WSToken string `json:"wsToken,omitempty"`
}

// JoinQueue pairs the caller with a waiting opponent in the same
// (game, stake) partition, or enqueues them. Solo games skip the queue
// and start immediately.
func (s *Service) JoinQueue(ctx context.Context, gameID, stakeWei, playerID string) (*JoinResult, error) {
	if s.registry.Emergency() {
		return nil, ErrEmergencyMode
	}
	mod, ok := game.Lookup(gameID)
	if !ok {
		return nil, ErrUnknownGame
	}
	bucket, err := StakeBucket(stakeWei)
	if err != nil {
		return nil, err
	}

	// A waiting player learns they were claimed off the queue through
	// the pending notification left by whoever paired with them.
	if pm, err := s.cache.ConsumePending(ctx, gameID, bucket, playerID); err == nil && pm != nil {
		return &JoinResult{MatchID: pm.MatchID, WSToken: pm.WSToken}, nil
	}

	if err := s.checkMinimumStake(ctx, gameID, stakeWei); err != nil {
		return nil, err
	}
	if err := s.guardUnoccupied(ctx, playerID); err != nil {
		return nil, err
	}
	s.upsertPlayer(ctx, playerID)

	// Solo games bypass matchmaking entirely.
	if mod.Metadata().MinPlayers == 1 {
		m, err := s.createMatch(ctx, gameID, []string{playerID}, stakeWei, false, "")
		if err != nil {
			return nil, err
		}
		token, err := s.cache.IssueWSToken(ctx, m.ID, playerID)
		if err != nil {
			return nil, err
		}
		return &JoinResult{MatchID: m.ID, WSToken: token}, nil
	}

	opponent, err := s.queue.Claim(ctx, gameID, bucket, playerID)
	if err != nil {
		return nil, err
	}
	if opponent == "" {
		ticket, err := s.queue.Enqueue(ctx, gameID, bucket, playerID)
		if err != nil {
			return nil, err
		}
		metrics.QueueDepth.WithLabelValues(gameID, bucket).Set(float64(s.queue.Depth(ctx, gameID, bucket)))
		return &JoinResult{Ticket: ticket}, nil
	}

	// The opponent queued first, so they take seat 0 and open.
	s.queue.DropTicket(ctx, gameID, bucket, playerID)
	m, err := s.createMatch(ctx, gameID, []string{opponent, playerID}, stakeWei, false, "")
	if err != nil {
		return nil, err
	}
	oppToken, err := s.cache.IssueWSToken(ctx, m.ID, opponent)
	if err == nil {
		pm := &PendingMatch{MatchID: m.ID, Opponent: playerID, StakeWei: m.StakeWei, WSToken: oppToken}
		if perr := s.cache.SetPending(ctx, gameID, bucket, opponent, pm); perr != nil {
			log.Printf("[QUEUE] Pending notification for %s failed: %v", opponent, perr)
		}
	}
	myToken, err := s.cache.IssueWSToken(ctx, m.ID, playerID)
	if err != nil {
		return nil, err
	}
	metrics.QueueDepth.WithLabelValues(gameID, bucket).Set(float64(s.queue.Depth(ctx, gameID, bucket)))
	return &JoinResult{MatchID: m.ID, WSToken: myToken}, nil
}

// LeaveQueue removes a ticket. Unknown tickets are a no-op.
func (s *Service) LeaveQueue(ctx context.Context, ticket string) error {
	return s.queue.Remove(ctx, ticket)
}

// CheckPending consumes a pairing notification for the queued side.
func (s *Service) CheckPending(ctx context.Context, gameID, stakeWei, playerID string) (*PendingMatch, error) {
	bucket, err := StakeBucket(stakeWei)
	if err != nil {
		return nil, err
	}
	return s.cache.ConsumePending(ctx, gameID, bucket, playerID)
}

// CreatePrivateMatch opens an invite-only match. The match exists
// immediately (WAITING_OPPONENT) so the host can connect and wait.
func (s *Service) CreatePrivateMatch(ctx context.Context, gameID, stakeWei, host string) (*Match, string, error) {
	if s.registry.Emergency() {
		return nil, "", ErrEmergencyMode
	}
	mod, ok := game.Lookup(gameID)
	if !ok {
		return nil, "", ErrUnknownGame
	}
	if mod.Metadata().MaxPlayers < 2 {
		return nil, "", ErrUnknownGame
	}
	if _, err := StakeBucket(stakeWei); err != nil {
		return nil, "", err
	}
	if err := s.checkMinimumStake(ctx, gameID, stakeWei); err != nil {
		return nil, "", err
	}
	if err := s.guardUnoccupied(ctx, host); err != nil {
		return nil, "", err
	}
	s.upsertPlayer(ctx, host)

	code := s.newInviteCode()
	m := &Match{
		ID:          uuid.NewString(),
		GameID:      gameID,
		StakeWei:    s.effectiveStake(stakeWei, mod.Metadata().MaxPlayers),
		Private:     true,
		InviteCode:  code,
		Seed:        randomSeed(),
		MoveTimeout: s.moveTimeoutFor(mod),
		CreatedAt:   time.Now(),
		status:      StatusWaitingOpponent,
		players:     []string{host},
		lastMoveAt:  time.Now(),
	}
	if err := s.insertMatch(ctx, m, nil); err != nil {
		return nil, "", err
	}
	if err := s.registry.Register(m); err != nil {
		return nil, "", err
	}
	s.setOccupied(ctx, m, host)

	token, err := s.cache.IssueWSToken(ctx, m.ID, host)
	if err != nil {
		return nil, "", err
	}
	log.Printf("[MATCH] Private match %s created game=%s code=%s host=%s", m.ID, gameID, code, host)
	return m, token, nil
}

// AcceptPrivateMatch claims an invite code. Claims are single-shot:
// the first accepted guest wins, everyone else gets ErrInviteNotFound.
func (s *Service) AcceptPrivateMatch(ctx context.Context, code, guest string) (*Match, string, error) {
	if s.registry.Emergency() {
		return nil, "", ErrEmergencyMode
	}
	if host, ok := s.registry.PeekInvite(code); ok && host.HasPlayer(guest) {
		return nil, "", ErrOwnInvite
	}
	if err := s.guardUnoccupied(ctx, guest); err != nil {
		return nil, "", err
	}

	m, ok := s.registry.ClaimInvite(code)
	if !ok {
		return nil, "", ErrInviteNotFound
	}
	if m.HasPlayer(guest) {
		return nil, "", ErrOwnInvite
	}
	mod, ok := game.Lookup(m.GameID)
	if !ok {
		return nil, "", ErrUnknownGame
	}
	s.upsertPlayer(ctx, guest)

	players := append(m.Players(), guest)
	orch, err := NewOrchestrator(mod, m.ID, players, m.Seed)
	if err != nil {
		return nil, "", err
	}
	status := StatusActive
	if m.Staked() {
		status = StatusWaitingDeposits
	}
	m.attachOpponent(guest, orch, status)

	genesis := m.Orch().Transcript()[0]
	if err := s.updateMatchOnAccept(ctx, m, &genesis); err != nil {
		return nil, "", err
	}
	s.setOccupied(ctx, m, guest)

	if m.Staked() {
		if _, err := s.settle.CreateMatch(ctx, m.ID, m.GameID, players, m.StakeWei); err != nil {
			log.Printf("[SETTLE] createMatch for %s failed: %v", m.ID, err)
		}
		s.notifyDepositPhase(m)
	} else {
		s.markActivated(ctx, m.ID)
		s.notifyMatchActivated(m)
	}

	token, err := s.cache.IssueWSToken(ctx, m.ID, guest)
	if err != nil {
		return nil, "", err
	}
	log.Printf("[MATCH] Private match %s accepted by %s", m.ID, guest)
	return m, token, nil
}

// SubmitMove validates, applies and persists one move. The move row is
// written inside the orchestrator's critical section; a failed write
// leaves the match exactly as it was.
func (s *Service) SubmitMove(ctx context.Context, matchID, playerID string, action game.Action) (*StepResult, error) {
	if s.registry.Emergency() {
		return nil, ErrEmergencyMode
	}
	m, ok := s.registry.Lookup(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}
	if m.Status() != StatusActive {
		return nil, ErrMatchNotActive
	}
	orch := m.Orch()
	if orch == nil {
		return nil, ErrMatchNotActive
	}

	res, err := orch.Submit(playerID, action, func(r *StepResult) error {
		return s.persistMove(ctx, matchID, r)
	})
	if err != nil {
		return nil, err
	}
	m.touch()
	metrics.MovesApplied.Inc()
	s.notifyMoveApplied(m, res)

	if res.Terminal {
		if cerr := s.completeMatch(ctx, m, res.Outcome); cerr != nil {
			log.Printf("[MATCH] Completion of %s after final move failed: %v", matchID, cerr)
		}
	}
	return res, nil
}

// ForfeitMatch seals a match against playerID: explicit concession or
// a fired move timer.
func (s *Service) ForfeitMatch(ctx context.Context, matchID, playerID, reason string) error {
	m, ok := s.registry.Lookup(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	if !m.HasPlayer(playerID) {
		return ErrNotParticipant
	}
	orch := m.Orch()
	if orch == nil {
		// Host abandoning a private match that nobody accepted.
		return s.CancelMatch(ctx, matchID, ReasonForfeit)
	}

	out := forfeitOutcome(m.Players(), playerID, reason)
	actionType := ActionForfeit
	if reason == ReasonTimeout {
		actionType = ActionTimeout
	}
	if _, err := orch.ForceOutcome(actionType, playerID, out, func(r *StepResult) error {
		return s.persistMove(ctx, matchID, r)
	}); err != nil {
		return err
	}
	log.Printf("[MATCH] %s forfeited by %s (%s)", matchID, playerID, reason)
	return s.completeMatch(ctx, m, out)
}

// ActivateStakedMatch flips WAITING_DEPOSITS to ACTIVE once the escrow
// reports full funding. Safe to call repeatedly.
func (s *Service) ActivateStakedMatch(ctx context.Context, matchID string) error {
	m, ok := s.registry.Lookup(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	if !m.transition(StatusWaitingDeposits, StatusActive) {
		return nil
	}
	m.touch()
	s.markActivated(ctx, matchID)
	log.Printf("[MATCH] %s deposits confirmed, now active", matchID)
	s.notifyMatchActivated(m)
	return nil
}

// CancelMatch tears down a match that never reached play. Funds
// deposited so far are refunded through the escrow.
func (s *Service) CancelMatch(ctx context.Context, matchID, reason string) error {
	m, ok := s.registry.Lookup(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	if _, ok := m.transitionAny([]string{StatusWaitingOpponent, StatusWaitingDeposits}, StatusCancelled); !ok {
		return ErrAlreadyCompleted
	}
	if m.Staked() {
		if _, err := s.settle.CancelMatch(ctx, matchID); err != nil {
			log.Printf("[SETTLE] cancelMatch for %s failed: %v", matchID, err)
		}
	}
	if s.db != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE matches SET status = $1, reason = $2, completed_at = now(), updated_at = now() WHERE id = $3`,
			StatusCancelled, reason, matchID,
		); err != nil {
			log.Printf("[MATCH] Persist cancel of %s failed: %v", matchID, err)
		}
	}
	players := m.Players()
	s.cache.ClearActiveMatch(ctx, players...)
	s.cache.DropSessions(ctx, matchID, players)
	s.notifyMatchCancelled(m, reason)
	s.registry.Evict(matchID)
	log.Printf("[MATCH] %s cancelled (%s)", matchID, reason)
	return nil
}

// EmergencyDrawAll flips emergency mode and drains every live match:
// active matches end in a neutral draw, waiting ones are cancelled.
// Drained matches are evicted immediately, so the registry is empty
// once the drain finishes. Returns how many matches were drained.
func (s *Service) EmergencyDrawAll(ctx context.Context, reason string) int {
	s.registry.SetEmergency(true, reason)
	log.Printf("[MATCH] EMERGENCY MODE ENABLED: %s", reason)

	drained := 0
	for _, m := range s.registry.Active() {
		switch m.Status() {
		case StatusActive:
			out := &game.Outcome{Draw: true, Reason: ReasonEmergencyDraw}
			orch := m.Orch()
			if orch == nil {
				continue
			}
			if _, err := orch.ForceOutcome(ActionEmergencyDraw, "", out, func(r *StepResult) error {
				return s.persistMove(ctx, m.ID, r)
			}); err != nil {
				log.Printf("[MATCH] Emergency seal of %s failed: %v", m.ID, err)
				continue
			}
			if err := s.completeMatch(ctx, m, out); err != nil {
				log.Printf("[MATCH] Emergency completion of %s failed: %v", m.ID, err)
				continue
			}
			s.registry.Evict(m.ID)
			drained++
		case StatusWaitingOpponent, StatusWaitingDeposits:
			if err := s.CancelMatch(ctx, m.ID, ReasonEmergencyDraw); err == nil {
				drained++
			}
		}
	}
	log.Printf("[MATCH] Emergency drain complete: %d matches", drained)
	return drained
}

// ClearEmergency re-opens match creation.
func (s *Service) ClearEmergency() {
	s.registry.SetEmergency(false, "")
	log.Printf("[MATCH] Emergency mode cleared")
}

// ActiveMatchFor returns the caller's live match and a fresh websocket
// token for it.
func (s *Service) ActiveMatchFor(ctx context.Context, playerID string) (*ActiveMatch, string, error) {
	am, err := s.cache.GetActiveMatch(ctx, playerID)
	if err != nil {
		return nil, "", err
	}
	if am == nil {
		return nil, "", ErrMatchNotFound
	}
	if _, live := s.registry.Lookup(am.MatchID); !live {
		s.cache.ClearActiveMatch(ctx, playerID)
		return nil, "", ErrMatchNotFound
	}
	token, err := s.cache.IssueWSToken(ctx, am.MatchID, playerID)
	if err != nil {
		return nil, "", err
	}
	return am, token, nil
}

// completeMatch runs the single completion path: final row update,
// ratings, cache cleanup, settlement proposal, fanout. The status
// transition makes it idempotent; a second caller gets
// ErrAlreadyCompleted and nothing happens twice.
func (s *Service) completeMatch(ctx context.Context, m *Match, out *game.Outcome) error {
	prev, ok := m.transitionAny([]string{StatusActive, StatusWaitingDeposits}, StatusCompleted)
	if !ok {
		return ErrAlreadyCompleted
	}
	orch := m.Orch()
	transcriptHash := ""
	if orch != nil {
		transcriptHash = orch.TranscriptHash()
	}

	if s.db != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE matches
			 SET status = $1, winner = NULLIF($2, ''), draw = $3, reason = $4,
			     transcript_hash = $5, completed_at = now(), updated_at = now()
			 WHERE id = $6`,
			StatusCompleted, out.Winner, out.Draw, out.Reason, transcriptHash, m.ID,
		); err != nil {
			log.Printf("[MATCH] Persist completion of %s failed: %v", m.ID, err)
		}
	}

	players := m.Players()
	s.applyStats(ctx, m.GameID, players, out)
	s.cache.ClearActiveMatch(ctx, players...)
	s.cache.DropSessions(ctx, m.ID, players)

	if m.Staked() {
		if prev == StatusActive {
			s.proposeSettlement(ctx, m, out, transcriptHash)
		} else {
			// Sealed before funding completed: refund instead of settling.
			if _, err := s.settle.CancelMatch(ctx, m.ID); err != nil {
				log.Printf("[SETTLE] cancelMatch for %s failed: %v", m.ID, err)
			}
		}
	}

	metrics.MatchesCompleted.Inc()
	s.notifyMatchEnded(m, out, transcriptHash)
	log.Printf("[MATCH] %s completed winner=%q draw=%v reason=%q", m.ID, out.Winner, out.Draw, out.Reason)
	return nil
}

func (s *Service) proposeSettlement(ctx context.Context, m *Match, out *game.Outcome, transcriptHash string) {
	winnerBps := uint16(10000)
	winner := out.Winner
	if out.Draw {
		winner = ""
		winnerBps = 5000
	}
	txHash, err := s.settle.ProposeSettlement(ctx, m.ID, winner, winnerBps, transcriptHash)
	if err != nil {
		metrics.SettlementFailures.Inc()
		log.Printf("[SETTLE] proposeSettlement for %s failed: %v", m.ID, err)
		return
	}
	due := time.Now().Add(time.Duration(s.cfg.DisputeWindowMin) * time.Minute)
	if s.db != nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE matches SET settlement_tx_hash = $1, settlement_due_at = $2, updated_at = now() WHERE id = $3`,
			txHash, due, m.ID,
		); err != nil {
			log.Printf("[SETTLE] Record settlement tx for %s failed: %v", m.ID, err)
		}
	}
	if s.fin != nil {
		s.fin.Schedule(m.ID, due)
	}
	log.Printf("[SETTLE] Proposed settlement for %s tx=%s due=%s", m.ID, txHash, due.Format(time.RFC3339))
}

// createMatch builds, persists and registers a match whose full player
// set is known.
func (s *Service) createMatch(ctx context.Context, gameID string, players []string, stakeWei string, private bool, inviteCode string) (*Match, error) {
	mod, ok := game.Lookup(gameID)
	if !ok {
		return nil, ErrUnknownGame
	}
	m := &Match{
		ID:          uuid.NewString(),
		GameID:      gameID,
		StakeWei:    s.effectiveStake(stakeWei, len(players)),
		Private:     private,
		InviteCode:  inviteCode,
		Seed:        randomSeed(),
		MoveTimeout: s.moveTimeoutFor(mod),
		CreatedAt:   time.Now(),
		lastMoveAt:  time.Now(),
	}
	if m.Staked() {
		m.status = StatusWaitingDeposits
	} else {
		m.status = StatusActive
	}
	orch, err := NewOrchestrator(mod, m.ID, players, m.Seed)
	if err != nil {
		return nil, err
	}
	m.players = append([]string(nil), players...)
	m.orch = orch

	genesis := orch.Transcript()[0]
	if err := s.insertMatch(ctx, m, &genesis); err != nil {
		return nil, err
	}
	if err := s.registry.Register(m); err != nil {
		return nil, err
	}
	for _, p := range players {
		s.setOccupied(ctx, m, p)
	}
	if m.Staked() {
		if _, err := s.settle.CreateMatch(ctx, m.ID, gameID, players, m.StakeWei); err != nil {
			log.Printf("[SETTLE] createMatch for %s failed: %v", m.ID, err)
		}
	}

	metrics.MatchesCreated.Inc()
	metrics.ActiveMatches.Set(float64(s.registry.Len()))
	log.Printf("[MATCH] Created %s game=%s stake=%s players=%v status=%s",
		m.ID, gameID, m.StakeWei, players, m.Status())
	return m, nil
}

// persistMove writes one transcript entry. Runs inside the
// orchestrator lock, so entries land in sequence order.
func (s *Service) persistMove(ctx context.Context, matchID string, res *StepResult) error {
	if s.db == nil {
		return nil
	}
	actionJSON, err := json.Marshal(res.Action)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_moves (match_id, sequence, player_id, action, state_hash, prev_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (match_id, sequence) DO NOTHING`,
		matchID, res.Sequence, res.Player, actionJSON, res.StateHash, res.PrevHash,
	)
	return err
}

// insertMatch writes the match row and, when the orchestrator already
// exists, its genesis entry in one transaction.
func (s *Service) insertMatch(ctx context.Context, m *Match, genesis *TranscriptEntry) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var activatedAt interface{}
	if m.Status() == StatusActive {
		activatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO matches (id, game_id, status, stake_wei, players, seed, invite_code, activated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		m.ID, m.GameID, m.Status(), m.StakeWei, pqArray(m.Players()), m.Seed, m.InviteCode, activatedAt,
	); err != nil {
		return err
	}
	if genesis != nil {
		if err := insertMoveTx(ctx, tx, m.ID, genesis); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// updateMatchOnAccept persists the guest, new status and genesis entry
// of a private match.
func (s *Service) updateMatchOnAccept(ctx context.Context, m *Match, genesis *TranscriptEntry) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET players = $1, status = $2, updated_at = now() WHERE id = $3`,
		pqArray(m.Players()), m.Status(), m.ID,
	); err != nil {
		return err
	}
	if err := insertMoveTx(ctx, tx, m.ID, genesis); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMoveTx(ctx context.Context, tx *sqlx.Tx, matchID string, e *TranscriptEntry) error {
	actionJSON, err := json.Marshal(e.Action)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO match_moves (match_id, sequence, player_id, action, state_hash, prev_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (match_id, sequence) DO NOTHING`,
		matchID, e.Sequence, e.Player, actionJSON, e.StateHash, e.PrevHash,
	)
	return err
}

func (s *Service) markActivated(ctx context.Context, matchID string) {
	if s.db == nil {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = $1, activated_at = now(), updated_at = now() WHERE id = $2`,
		StatusActive, matchID,
	); err != nil {
		log.Printf("[MATCH] Persist activation of %s failed: %v", matchID, err)
	}
}

// guardUnoccupied refuses players who already have a live match,
// healing the marker when the match is actually gone.
func (s *Service) guardUnoccupied(ctx context.Context, playerID string) error {
	am, err := s.cache.GetActiveMatch(ctx, playerID)
	if err != nil {
		return err
	}
	if am == nil {
		return nil
	}
	if _, live := s.registry.Lookup(am.MatchID); !live {
		s.cache.ClearActiveMatch(ctx, playerID)
		return nil
	}
	return ErrActiveMatchExists
}

func (s *Service) setOccupied(ctx context.Context, m *Match, playerID string) {
	if err := s.cache.SetActiveMatch(ctx, playerID, &ActiveMatch{
		MatchID:  m.ID,
		GameID:   m.GameID,
		StakeWei: m.StakeWei,
	}); err != nil {
		log.Printf("[MATCH] Mark %s occupied failed: %v", playerID, err)
	}
}

func (s *Service) checkMinimumStake(ctx context.Context, gameID, stakeWei string) error {
	if stakeWei == "" || stakeWei == "0" {
		return nil
	}
	minStr, err := s.settle.MinimumStake(ctx, gameID)
	if err != nil {
		return fmt.Errorf("minimum stake lookup: %w", err)
	}
	stake, ok1 := new(big.Int).SetString(stakeWei, 10)
	min, ok2 := new(big.Int).SetString(minStr, 10)
	if !ok1 {
		return ErrInvalidStake
	}
	if ok2 && stake.Cmp(min) < 0 {
		return ErrStakeBelowMinimum
	}
	return nil
}

func (s *Service) upsertPlayer(ctx context.Context, playerID string) {
	if s.db == nil {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO players (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET last_seen_at = now()`,
		playerID,
	); err != nil {
		log.Printf("[MATCH] Player upsert for %s failed: %v", playerID, err)
	}
}

// applyStats updates win/loss/draw counters and ratings. Two-seat
// matches are rated per game and overall; emergency draws only bump
// the draw counters. Solo matches count wins and losses unrated.
func (s *Service) applyStats(ctx context.Context, gameID string, players []string, out *game.Outcome) {
	if s.db == nil {
		return
	}
	rated := len(players) == 2 && out.Reason != ReasonEmergencyDraw

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[MATCH] Stats tx begin failed: %v", err)
		return
	}
	defer tx.Rollback()

	for _, gid := range []string{gameID, "*"} {
		stats := make([]*PlayerStatRow, len(players))
		for i, p := range players {
			st, err := loadStatForUpdate(ctx, tx, p, gid)
			if err != nil {
				log.Printf("[MATCH] Stats load for %s/%s failed: %v", p, gid, err)
				return
			}
			stats[i] = st
		}
		deltas := make([]int, len(players))
		if rated {
			for i := range players {
				opp := stats[1-i]
				me := stats[i]
				deltas[i] = eloDelta(me.Rating, me.Wins+me.Losses+me.Draws, opp.Rating, scoreFor(players[i], out))
			}
		}
		for i, p := range players {
			st := stats[i]
			switch {
			case out.Draw:
				st.Draws++
			case out.Winner == p:
				st.Wins++
			default:
				st.Losses++
			}
			st.Rating += deltas[i]
			if err := upsertStat(ctx, tx, p, gid, st); err != nil {
				log.Printf("[MATCH] Stats upsert for %s/%s failed: %v", p, gid, err)
				return
			}
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[MATCH] Stats commit failed: %v", err)
	}
}

// PlayerStatRow mirrors the player_stats columns used by rating math.
type PlayerStatRow struct {
	Rating int `db:"rating"`
	Wins   int `db:"wins"`
	Losses int `db:"losses"`
	Draws  int `db:"draws"`
}

func loadStatForUpdate(ctx context.Context, tx *sqlx.Tx, playerID, gameID string) (*PlayerStatRow, error) {
	var st PlayerStatRow
	err := tx.GetContext(ctx, &st,
		`SELECT rating, wins, losses, draws FROM player_stats
		 WHERE player_id = $1 AND game_id = $2 FOR UPDATE`,
		playerID, gameID,
	)
	if err == sql.ErrNoRows {
		return &PlayerStatRow{Rating: BaseRating}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func upsertStat(ctx context.Context, tx *sqlx.Tx, playerID, gameID string, st *PlayerStatRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO player_stats (player_id, game_id, rating, wins, losses, draws, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (player_id, game_id)
		 DO UPDATE SET rating = $3, wins = $4, losses = $5, draws = $6, updated_at = now()`,
		playerID, gameID, st.Rating, st.Wins, st.Losses, st.Draws,
	)
	return err
}

func scoreFor(player string, out *game.Outcome) float64 {
	if out.Draw {
		return 0.5
	}
	if out.Winner == player {
		return 1
	}
	return 0
}

// forfeitOutcome builds the server-side outcome for a concession or
// timeout: in two-seat matches the opponent wins, solo players just
// lose.
func forfeitOutcome(players []string, loser, reason string) *game.Outcome {
	out := &game.Outcome{Reason: reason}
	for _, p := range players {
		if p != loser {
			out.Winner = p
			break
		}
	}
	return out
}

func (s *Service) moveTimeoutFor(mod game.Module) time.Duration {
	secs := mod.Metadata().MoveTimeoutSeconds
	if secs <= 0 {
		secs = s.cfg.DefaultMoveTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

func (s *Service) notifyDepositPhase(m *Match) {
	if s.notifier != nil {
		s.notifier.DepositPhase(m)
	}
}

func (s *Service) notifyMatchActivated(m *Match) {
	if s.notifier != nil {
		s.notifier.MatchActivated(m)
	}
}

func (s *Service) notifyMoveApplied(m *Match, res *StepResult) {
	if s.notifier != nil {
		s.notifier.MoveApplied(m, res)
	}
}

func (s *Service) notifyMatchEnded(m *Match, out *game.Outcome, transcriptHash string) {
	if s.notifier != nil {
		s.notifier.MatchEnded(m, out, transcriptHash)
	}
}

func (s *Service) notifyMatchCancelled(m *Match, reason string) {
	if s.notifier != nil {
		s.notifier.MatchCancelled(m, reason)
	}
}

const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newInviteCode mints a 6-char code unique among live invites.
func (s *Service) newInviteCode() string {
	for {
		b := make([]byte, 6)
		if _, err := rand.Read(b); err != nil {
			panic(err)
		}
		for i := range b {
			b[i] = inviteAlphabet[int(b[i])%len(inviteAlphabet)]
		}
		code := string(b)
		if !s.registry.HasInvite(code) {
			return code
		}
	}
}

// randomSeed draws a non-negative 63-bit module seed.
func randomSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63))
}

func normalizeStake(stakeWei string) string {
	if stakeWei == "" {
		return "0"
	}
	if n, ok := new(big.Int).SetString(stakeWei, 10); ok {
		return n.String()
	}
	return stakeWei
}

// effectiveStake zeroes stakes nothing can hold: solo matches have no
// pot and a disabled escrow cannot take deposits.
func (s *Service) effectiveStake(stakeWei string, seats int) string {
	if seats < 2 || !s.settle.Enabled() {
		return "0"
	}
	return normalizeStake(stakeWei)
}

// pqArray adapts a player list for the TEXT[] matches column.
func pqArray(players []string) interface{} {
	return pq.StringArray(players)
}
