package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Player represents a wallet account. IDs are lowercase 0x addresses.
type Player struct {
	ID         string    `db:"id" json:"id"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	LastSeenAt time.Time `db:"last_seen_at" json:"lastSeenAt"`
}

// PlayerStat is one rating row. GameID "*" is the overall aggregate.
type PlayerStat struct {
	PlayerID  string    `db:"player_id" json:"playerId"`
	GameID    string    `db:"game_id" json:"gameId"`
	Rating    int       `db:"rating" json:"rating"`
	Wins      int       `db:"wins" json:"wins"`
	Losses    int       `db:"losses" json:"losses"`
	Draws     int       `db:"draws" json:"draws"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// MatchRecord is the persisted form of a match. Status values are the
// match package constants.
type MatchRecord struct {
	ID               string         `db:"id" json:"id"`
	GameID           string         `db:"game_id" json:"gameId"`
	Status           string         `db:"status" json:"status"`
	StakeWei         string         `db:"stake_wei" json:"stakeWei"`
	Players          pq.StringArray `db:"players" json:"players"`
	Seed             int64          `db:"seed" json:"-"`
	InviteCode       sql.NullString `db:"invite_code" json:"-"`
	Winner           sql.NullString `db:"winner" json:"winner,omitempty"`
	Draw             bool           `db:"draw" json:"draw"`
	Reason           sql.NullString `db:"reason" json:"reason,omitempty"`
	TranscriptHash   sql.NullString `db:"transcript_hash" json:"transcriptHash,omitempty"`
	SettlementTxHash sql.NullString `db:"settlement_tx_hash" json:"settlementTxHash,omitempty"`
	FinalizeTxHash   sql.NullString `db:"finalize_tx_hash" json:"finalizeTxHash,omitempty"`
	SettlementDueAt  sql.NullTime   `db:"settlement_due_at" json:"settlementDueAt,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	ActivatedAt      sql.NullTime   `db:"activated_at" json:"activatedAt,omitempty"`
	CompletedAt      sql.NullTime   `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}

// MoveRecord is one persisted transcript entry. Sequence 0 is the init
// entry; the hash chain starts there with an empty prev_hash.
type MoveRecord struct {
	MatchID   string    `db:"match_id" json:"matchId"`
	Sequence  int       `db:"sequence" json:"sequence"`
	PlayerID  string    `db:"player_id" json:"playerId"`
	Action    []byte    `db:"action" json:"action"`
	StateHash string    `db:"state_hash" json:"stateHash"`
	PrevHash  string    `db:"prev_hash" json:"prevHash"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ChatMessage is a persisted in-match chat line.
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	MatchID   string    `db:"match_id" json:"matchId"`
	PlayerID  string    `db:"player_id" json:"playerId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// AdminAccount is an operator login.
type AdminAccount struct {
	ID           int       `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// AdminAuditLog records every operator action.
type AdminAuditLog struct {
	ID        int64          `db:"id" json:"id"`
	AdminID   sql.NullInt64  `db:"admin_id" json:"adminId,omitempty"`
	Action    string         `db:"action" json:"action"`
	Detail    sql.NullString `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}
