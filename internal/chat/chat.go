// Package chat persists in-match chat. Chat is social surface only: it
// is stored per match for moderation and reload, but it is not part of
// the transcript and never affects settlement.
package chat

import (
	"context"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/dorkfun/backend/internal/models"
)

// MaxMessageRunes caps a single chat message.
const MaxMessageRunes = 500

// Sanitize trims, strips control characters and enforces the length
// cap. An empty result means the message should be dropped.
func Sanitize(body string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, body)
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if len(runes) > MaxMessageRunes {
		cleaned = string(runes[:MaxMessageRunes])
	}
	return cleaned
}

// Save stores one sanitized message. Returns the stored body, "" when
// the message sanitized away to nothing.
func Save(ctx context.Context, db *sqlx.DB, matchID, playerID, body string) (string, error) {
	cleaned := Sanitize(body)
	if cleaned == "" {
		return "", nil
	}
	if db == nil {
		return cleaned, nil
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO chat_messages (match_id, player_id, body) VALUES ($1, $2, $3)`,
		matchID, playerID, cleaned,
	)
	if err != nil {
		return "", err
	}
	return cleaned, nil
}

// History returns the most recent messages for a match in
// chronological order.
func History(ctx context.Context, db *sqlx.DB, matchID string, limit int) ([]models.ChatMessage, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var msgs []models.ChatMessage
	err := db.SelectContext(ctx, &msgs,
		`SELECT id, match_id, player_id, body, created_at
		 FROM (
		   SELECT id, match_id, player_id, body, created_at
		   FROM chat_messages WHERE match_id = $1
		   ORDER BY id DESC LIMIT $2
		 ) recent
		 ORDER BY id`,
		matchID, limit,
	)
	return msgs, err
}
