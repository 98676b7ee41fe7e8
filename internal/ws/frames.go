package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/dorkfun/backend/internal/game"
)

// Inbound frame types.
const (
	FrameHello        = "HELLO"
	FrameActionCommit = "ACTION_COMMIT"
	FrameForfeit      = "FORFEIT"
	FrameSyncRequest  = "SYNC_REQUEST"
	FrameChat         = "CHAT"
)

// Outbound frame types.
const (
	FrameGameState          = "GAME_STATE"
	FrameStepResult         = "STEP_RESULT"
	FrameGameOver           = "GAME_OVER"
	FrameDepositRequired    = "DEPOSIT_REQUIRED"
	FrameDepositsConfirmed  = "DEPOSITS_CONFIRMED"
	FrameSyncResponse       = "SYNC_RESPONSE"
	FrameError              = "ERROR"
	FramePlayerConnected    = "PLAYER_CONNECTED"
	FramePlayerDisconnected = "PLAYER_DISCONNECTED"
)

// Frame is the wire envelope for every message in both directions.
// Sequence and PrevHash are advisory on inbound frames; on outbound
// state-bearing frames they carry the transcript head so clients can
// verify the chain as it grows.
type Frame struct {
	Type      string          `json:"type"`
	MatchID   string          `json:"matchId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int             `json:"sequence,omitempty"`
	PrevHash  string          `json:"prevHash,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type helloPayload struct {
	Token     string `json:"token,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Spectator bool   `json:"spectator,omitempty"`
}

type actionCommitPayload struct {
	Action game.Action `json:"action"`
}

type chatInPayload struct {
	Text string `json:"text"`
}

type gameStatePayload struct {
	Observation  *game.Observation `json:"observation,omitempty"`
	YourTurn     bool              `json:"yourTurn"`
	LegalActions []game.Action     `json:"legalActions,omitempty"`
	Status       string            `json:"status"`
}

type stepResultPayload struct {
	LastAction  game.Action       `json:"lastAction"`
	LastPlayer  string            `json:"lastPlayer"`
	Observation *game.Observation `json:"observation,omitempty"`
	NextPlayer  string            `json:"nextPlayer,omitempty"`
	YourTurn    bool              `json:"yourTurn"`
}

type gameOverPayload struct {
	Winner           string            `json:"winner,omitempty"`
	Draw             bool              `json:"draw"`
	Reason           string            `json:"reason,omitempty"`
	TranscriptHash   string            `json:"transcriptHash,omitempty"`
	FinalObservation *game.Observation `json:"finalObservation,omitempty"`
}

type depositRequiredPayload struct {
	StakeWei       string `json:"stakeWei"`
	MatchIDBytes32 string `json:"matchIdBytes32,omitempty"`
	DeadlineTs     int64  `json:"deadlineTs"`
	EscrowAddress  string `json:"escrowAddress,omitempty"`
}

type depositsConfirmedPayload struct {
	StakeWei string `json:"stakeWei"`
}

type syncResponsePayload struct {
	Observation   *game.Observation `json:"observation,omitempty"`
	CurrentPlayer string            `json:"currentPlayer,omitempty"`
	YourTurn      bool              `json:"yourTurn"`
	LegalActions  []game.Action     `json:"legalActions,omitempty"`
	Status        string            `json:"status"`
}

type chatOutPayload struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type presencePayload struct {
	PlayerID string `json:"playerId"`
}

// marshalFrame encodes a complete outbound frame. Payloads are fixed
// structs, so marshal failures indicate a programming error and are
// logged rather than propagated.
func marshalFrame(frameType, matchID string, payload interface{}) []byte {
	return marshalChainFrame(frameType, matchID, payload, 0, "")
}

// marshalChainFrame is marshalFrame with the transcript head attached.
func marshalChainFrame(frameType, matchID string, payload interface{}, sequence int, prevHash string) []byte {
	f := Frame{
		Type:      frameType,
		MatchID:   matchID,
		Sequence:  sequence,
		PrevHash:  prevHash,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[WS] Marshal %s payload failed: %v", frameType, err)
			return nil
		}
		f.Payload = raw
	}
	data, err := json.Marshal(&f)
	if err != nil {
		log.Printf("[WS] Marshal %s frame failed: %v", frameType, err)
		return nil
	}
	return data
}
