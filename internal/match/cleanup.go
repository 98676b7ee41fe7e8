package match

import (
	"context"
	"log"
	"time"

	"github.com/dorkfun/backend/internal/game"
	"github.com/dorkfun/backend/internal/metrics"
)

// StartCleanupWorker sweeps the registry on an interval. Finished
// matches past retention are evicted, idle matches drained, and
// matches stuck waiting cancelled.
func (s *Service) StartCleanupWorker(ctx context.Context) {
	interval := time.Duration(s.cfg.CleanupIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("[CLEANUP] Worker started (interval %s)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[CLEANUP] Worker stopping")
			return
		case <-ticker.C:
			s.CleanupCompletedMatches()
			s.CleanupStaleMatches(ctx)
			metrics.ActiveMatches.Set(float64(s.registry.Len()))
		}
	}
}

// CleanupCompletedMatches evicts finished matches once clients have had
// time to fetch the final state. Returns how many were evicted.
func (s *Service) CleanupCompletedMatches() int {
	retention := time.Duration(s.cfg.CompletedRetentionMins) * time.Minute
	evicted := 0
	for _, m := range s.registry.Active() {
		switch m.Status() {
		case StatusCompleted, StatusCancelled:
			if time.Since(m.LastMoveAt()) >= retention {
				s.registry.Evict(m.ID)
				evicted++
			}
		}
	}
	if evicted > 0 {
		log.Printf("[CLEANUP] Evicted %d finished matches", evicted)
	}
	return evicted
}

// CleanupStaleMatches drains matches nobody is playing: idle ACTIVE
// matches end in a draw, private matches nobody accepted and staked
// matches nobody funded are cancelled.
func (s *Service) CleanupStaleMatches(ctx context.Context) {
	idleAfter := time.Duration(s.cfg.IdleMatchTimeoutMinutes) * time.Minute
	waitingAfter := time.Duration(s.cfg.WaitingTimeoutMinutes) * time.Minute
	depositAfter := time.Duration(s.cfg.DepositTimeoutMinutes) * time.Minute

	for _, m := range s.registry.Active() {
		switch m.Status() {
		case StatusActive:
			if time.Since(m.LastMoveAt()) >= idleAfter {
				s.drawIdleMatch(ctx, m)
			}
		case StatusWaitingOpponent:
			if time.Since(m.CreatedAt) >= waitingAfter {
				log.Printf("[CLEANUP] Cancelling %s, no opponent after %s", m.ID, waitingAfter)
				if err := s.CancelMatch(ctx, m.ID, ReasonNoOpponent); err != nil {
					log.Printf("[CLEANUP] Cancel %s failed: %v", m.ID, err)
				}
			}
		case StatusWaitingDeposits:
			if time.Since(m.LastMoveAt()) >= depositAfter {
				log.Printf("[CLEANUP] Cancelling %s, deposits incomplete after %s", m.ID, depositAfter)
				if err := s.CancelMatch(ctx, m.ID, ReasonDepositTimeout); err != nil {
					log.Printf("[CLEANUP] Cancel %s failed: %v", m.ID, err)
				}
			}
		}
	}
}

// drawIdleMatch seals an abandoned match as a draw. Staked pots settle
// 50/50, same as any other draw.
func (s *Service) drawIdleMatch(ctx context.Context, m *Match) {
	orch := m.Orch()
	if orch == nil {
		return
	}
	out := &game.Outcome{Draw: true, Reason: ReasonIdleDraw}
	if _, err := orch.ForceOutcome(ActionTimeout, "", out, func(r *StepResult) error {
		return s.persistMove(ctx, m.ID, r)
	}); err != nil {
		log.Printf("[CLEANUP] Idle seal of %s failed: %v", m.ID, err)
		return
	}
	if err := s.completeMatch(ctx, m, out); err != nil {
		log.Printf("[CLEANUP] Idle completion of %s failed: %v", m.ID, err)
		return
	}
	log.Printf("[CLEANUP] Match %s drawn after inactivity", m.ID)
}
