// Package settlement fronts the on-chain escrow contract. The core
// match flow only sees the Coordinator interface; every chain failure
// is reported back as an error and never blocks or aborts play.
package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Coordinator is the escrow surface the lifecycle service drives.
// Transaction-sending calls return the submitted tx hash ("" from the
// noop coordinator).
type Coordinator interface {
	// Enabled reports whether a real escrow backs staked play. Matches
	// created while this is false have their stake forced to zero.
	Enabled() bool

	// CreateMatch registers the match and its required stake on-chain.
	CreateMatch(ctx context.Context, matchID, gameID string, players []string, stakeWei string) (string, error)

	// ProposeSettlement records the server-attested result. winnerBps
	// is the winner's share of the pot in basis points; a draw uses the
	// zero winner address and 5000.
	ProposeSettlement(ctx context.Context, matchID, winner string, winnerBps uint16, transcriptHash string) (string, error)

	// FinalizeSettlement releases funds after the dispute window.
	FinalizeSettlement(ctx context.Context, matchID string) (string, error)

	// CancelMatch refunds whatever was deposited.
	CancelMatch(ctx context.Context, matchID string) (string, error)

	// IsFullyFunded reports whether every seat deposited its stake.
	IsFullyFunded(ctx context.Context, matchID string) (bool, error)

	// MinimumStake returns the contract's minimum stake for a game in
	// wei.
	MinimumStake(ctx context.Context, gameID string) (string, error)

	// GameIDBytes32 maps a game id to its on-chain identifier.
	GameIDBytes32(gameID string) ([32]byte, error)
}

// MatchIDBytes32 converts a UUID match id into the contract's bytes32
// form: dashes stripped, hex decoded, left-padded to 32 bytes.
func MatchIDBytes32(matchID string) ([32]byte, error) {
	var out [32]byte
	hexStr := strings.ReplaceAll(matchID, "-", "")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, fmt.Errorf("match id %q is not hex: %w", matchID, err)
	}
	if len(raw) > 32 {
		return out, fmt.Errorf("match id %q longer than 32 bytes", matchID)
	}
	copy(out[32-len(raw):], raw)
	return out, nil
}

// ParseGameIDTable reads the GAME_CONTRACT_IDS config format:
// "tictactoe=0x<64 hex>,sudoku=0x<64 hex>". Games absent from the
// table fall back to keccak256 of their id.
func ParseGameIDTable(table string) (map[string][32]byte, error) {
	out := make(map[string][32]byte)
	if strings.TrimSpace(table) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(table, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad game id mapping %q", pair)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(parts[1], "0x"))
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("game id for %q must be 32 hex bytes", parts[0])
		}
		var id [32]byte
		copy(id[:], raw)
		out[parts[0]] = id
	}
	return out, nil
}

// derivedGameID is the fallback on-chain id for unmapped games.
func derivedGameID(gameID string) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte(gameID)))
	return out
}

// Noop satisfies Coordinator for free-play deployments and tests. It
// treats every match as funded so staked flows activate immediately in
// development.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Enabled() bool { return false }

func (n *Noop) CreateMatch(ctx context.Context, matchID, gameID string, players []string, stakeWei string) (string, error) {
	log.Printf("[SETTLE] Noop createMatch %s game=%s stake=%s", matchID, gameID, stakeWei)
	return "", nil
}

func (n *Noop) ProposeSettlement(ctx context.Context, matchID, winner string, winnerBps uint16, transcriptHash string) (string, error) {
	log.Printf("[SETTLE] Noop proposeSettlement %s winner=%s bps=%d", matchID, winner, winnerBps)
	return "", nil
}

func (n *Noop) FinalizeSettlement(ctx context.Context, matchID string) (string, error) {
	return "", nil
}

func (n *Noop) CancelMatch(ctx context.Context, matchID string) (string, error) {
	return "", nil
}

func (n *Noop) IsFullyFunded(ctx context.Context, matchID string) (bool, error) {
	return true, nil
}

func (n *Noop) MinimumStake(ctx context.Context, gameID string) (string, error) {
	return "0", nil
}

func (n *Noop) GameIDBytes32(gameID string) ([32]byte, error) {
	return derivedGameID(gameID), nil
}
