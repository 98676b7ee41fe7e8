package settlement

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Finalizer releases settled pots after the dispute window. In-process
// timers cover the common case; the due sweep catches timers lost to
// crashes or chain hiccups, and ReconcileOnStartup re-arms everything
// pending after a restart.
type Finalizer struct {
	db     *sqlx.DB
	co     Coordinator
	window time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewFinalizer(db *sqlx.DB, co Coordinator, window time.Duration) *Finalizer {
	return &Finalizer{
		db:     db,
		co:     co,
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

// Window is the configured dispute window.
func (f *Finalizer) Window() time.Duration {
	return f.window
}

// Schedule arms a finalization timer for matchID at due. Re-scheduling
// an already armed match resets its timer.
func (f *Finalizer) Schedule(matchID string, due time.Time) {
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.timers[matchID]; ok {
		old.Stop()
	}
	f.timers[matchID] = time.AfterFunc(d, func() {
		f.finalize(matchID)
	})
}

func (f *Finalizer) finalize(matchID string) {
	f.mu.Lock()
	delete(f.timers, matchID)
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	txHash, err := f.co.FinalizeSettlement(ctx, matchID)
	if err != nil {
		// Leave the row unfinalized; the due sweep retries.
		log.Printf("[SETTLE] Finalize %s failed: %v", matchID, err)
		return
	}
	if f.db != nil {
		if _, err := f.db.Exec(
			`UPDATE matches SET finalize_tx_hash = $1, updated_at = now() WHERE id = $2 AND finalize_tx_hash IS NULL`,
			txHash, matchID,
		); err != nil {
			log.Printf("[SETTLE] Record finalize tx for %s failed: %v", matchID, err)
			return
		}
	}
	log.Printf("[SETTLE] Finalized %s tx=%s", matchID, txHash)
}

// pendingFinalization selects matches settled but not yet finalized.
const pendingFinalization = `
SELECT id, COALESCE(settlement_due_at, now()) AS due
FROM matches
WHERE status = 'COMPLETED'
  AND settlement_tx_hash IS NOT NULL
  AND finalize_tx_hash IS NULL`

type pendingRow struct {
	ID  string    `db:"id"`
	Due time.Time `db:"due"`
}

// ReconcileOnStartup re-arms timers for every settled-but-unfinalized
// match found in the database.
func (f *Finalizer) ReconcileOnStartup(ctx context.Context) {
	if f.db == nil {
		return
	}
	var rows []pendingRow
	if err := f.db.SelectContext(ctx, &rows, pendingFinalization); err != nil {
		log.Printf("[SETTLE] Reconcile query failed: %v", err)
		return
	}
	for _, r := range rows {
		f.Schedule(r.ID, r.Due)
	}
	if len(rows) > 0 {
		log.Printf("[SETTLE] Reconciled %d pending finalizations", len(rows))
	}
}

// StartDueSweep retries overdue finalizations on an interval until ctx
// is cancelled.
func (f *Finalizer) StartDueSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("[SETTLE] Due sweep started (interval %s)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SETTLE] Due sweep stopped")
			return
		case <-ticker.C:
			f.sweepOnce(ctx)
		}
	}
}

func (f *Finalizer) sweepOnce(ctx context.Context) {
	if f.db == nil {
		return
	}
	var rows []pendingRow
	if err := f.db.SelectContext(ctx, &rows, pendingFinalization+` AND settlement_due_at <= now()`); err != nil {
		log.Printf("[SETTLE] Due sweep query failed: %v", err)
		return
	}
	for _, r := range rows {
		f.finalize(r.ID)
	}
}
