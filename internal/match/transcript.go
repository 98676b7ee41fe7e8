package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dorkfun/backend/internal/game"
)

// Transcript entry action types produced by the server rather than a
// player. Sequence 0 is always INIT; the seal types end a match without
// a module move.
const (
	ActionInit          = "INIT"
	ActionForfeit       = "FORFEIT"
	ActionTimeout       = "TIMEOUT"
	ActionEmergencyDraw = "EMERGENCY_DRAW"
)

// TranscriptEntry is one link of the hash chain. The hashed fields are
// all deterministic, so a third party can replay the move list and
// recompute the identical chain.
type TranscriptEntry struct {
	Sequence  int         `json:"sequence"`
	Player    string      `json:"player"`
	Action    game.Action `json:"action"`
	StateHash string      `json:"stateHash"`
	PrevHash  string      `json:"prevHash"`
}

type stateEnvelope struct {
	MatchID string      `json:"matchId"`
	State   *game.State `json:"state"`
}

type transcriptEnvelope struct {
	MatchID string            `json:"matchId"`
	Entries []TranscriptEntry `json:"entries"`
}

// StateHash binds a state snapshot to its match. Two matches with
// identical board positions still hash differently.
func StateHash(s *game.State, matchID string) string {
	raw, err := json.Marshal(&stateEnvelope{MatchID: matchID, State: s})
	if err != nil {
		// States are built from marshalable structs; this cannot fail
		// for any state a module returned.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// TranscriptHash digests the full entry chain. This is the value
// submitted with settlement proposals.
func TranscriptHash(entries []TranscriptEntry, matchID string) string {
	raw, err := json.Marshal(&transcriptEnvelope{MatchID: matchID, Entries: entries})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks sequence numbering and prev-hash linkage. It does
// not recompute state hashes; replay verification does that with the
// actual states in hand.
func VerifyChain(entries []TranscriptEntry) error {
	for i, e := range entries {
		if e.Sequence != i {
			return fmt.Errorf("transcript entry %d has sequence %d", i, e.Sequence)
		}
		if i == 0 {
			if e.PrevHash != "" {
				return fmt.Errorf("genesis entry has non-empty prevHash %q", e.PrevHash)
			}
			continue
		}
		if e.PrevHash != entries[i-1].StateHash {
			return fmt.Errorf("transcript entry %d prevHash does not chain to entry %d", i, i-1)
		}
	}
	return nil
}
