// Package tictactoe implements the classic 3x3 game as a rules module.
// There is no hidden information, so observations expose the full board.
package tictactoe

import (
	"encoding/json"
	"fmt"

	"github.com/dorkfun/backend/internal/game"
)

const (
	markX = "X"
	markO = "O"
)

// winLines are the eight three-in-a-row cell index triples.
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

type boardState struct {
	Board   [9]string `json:"board"`
	PlayerX string    `json:"playerX"`
	PlayerO string    `json:"playerO"`
}

type placeAction struct {
	Cell int `json:"cell"`
}

// Module implements game.Module for tic-tac-toe.
type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Metadata() game.Metadata {
	return game.Metadata{
		ID:                 "tictactoe",
		Name:               "Tic-Tac-Toe",
		MinPlayers:         2,
		MaxPlayers:         2,
		MoveTimeoutSeconds: 30,
		Description:        "3x3 grid, three in a row wins. First player is X.",
	}
}

func (m *Module) Init(players []string, seed int64) (*game.State, error) {
	if len(players) != 2 || players[0] == players[1] {
		return nil, game.ErrBadPlayerSet
	}
	data, err := json.Marshal(&boardState{PlayerX: players[0], PlayerO: players[1]})
	if err != nil {
		return nil, err
	}
	return &game.State{
		GameID:        "tictactoe",
		Players:       append([]string(nil), players...),
		CurrentPlayer: players[0],
		MoveCount:     0,
		Data:          data,
	}, nil
}

func (m *Module) ValidateAction(s *game.State, player string, a game.Action) error {
	bs, err := decode(s)
	if err != nil {
		return err
	}
	if player != bs.PlayerX && player != bs.PlayerO {
		return game.ErrNotInGame
	}
	if m.IsTerminal(s) {
		return game.ErrTerminalState
	}
	if s.CurrentPlayer != player {
		return game.ErrNotYourTurn
	}
	if a.Type != "place" {
		return game.NewRuleError("UNKNOWN_ACTION", fmt.Sprintf("unknown action type %q", a.Type))
	}
	var pa placeAction
	if err := json.Unmarshal(a.Data, &pa); err != nil {
		return game.NewRuleError("MALFORMED_ACTION", "place action requires a cell field")
	}
	if pa.Cell < 0 || pa.Cell > 8 {
		return game.NewRuleError("CELL_OUT_OF_RANGE", "cell must be between 0 and 8")
	}
	if bs.Board[pa.Cell] != "" {
		return game.NewRuleError("CELL_OCCUPIED", fmt.Sprintf("cell %d is already taken", pa.Cell))
	}
	return nil
}

func (m *Module) ApplyAction(s *game.State, player string, a game.Action) (*game.State, error) {
	if err := m.ValidateAction(s, player, a); err != nil {
		return nil, err
	}
	bs, err := decode(s)
	if err != nil {
		return nil, err
	}
	var pa placeAction
	if err := json.Unmarshal(a.Data, &pa); err != nil {
		return nil, game.NewRuleError("MALFORMED_ACTION", "place action requires a cell field")
	}

	next := s.Clone()
	bs.Board[pa.Cell] = markFor(bs, player)
	data, err := json.Marshal(bs)
	if err != nil {
		return nil, err
	}
	next.Data = data
	next.MoveCount = s.MoveCount + 1
	if winnerMark(bs) != "" || boardFull(bs) {
		next.CurrentPlayer = ""
	} else if player == bs.PlayerX {
		next.CurrentPlayer = bs.PlayerO
	} else {
		next.CurrentPlayer = bs.PlayerX
	}
	return next, nil
}

func (m *Module) IsTerminal(s *game.State) bool {
	bs, err := decode(s)
	if err != nil {
		return false
	}
	return winnerMark(bs) != "" || boardFull(bs)
}

func (m *Module) Outcome(s *game.State) (*game.Outcome, error) {
	bs, err := decode(s)
	if err != nil {
		return nil, err
	}
	switch winnerMark(bs) {
	case markX:
		return &game.Outcome{Winner: bs.PlayerX, Reason: "three in a row"}, nil
	case markO:
		return &game.Outcome{Winner: bs.PlayerO, Reason: "three in a row"}, nil
	}
	if boardFull(bs) {
		return &game.Outcome{Draw: true, Reason: "board full"}, nil
	}
	return nil, fmt.Errorf("tictactoe: outcome requested on non-terminal state")
}

func (m *Module) Observation(s *game.State, player string) (*game.Observation, error) {
	// Nothing is hidden; players and spectators see the same board.
	return &game.Observation{
		State:         append(json.RawMessage(nil), s.Data...),
		CurrentPlayer: s.CurrentPlayer,
		MoveCount:     s.MoveCount,
		You:           player,
	}, nil
}

func (m *Module) LegalActions(s *game.State, player string) ([]game.Action, error) {
	bs, err := decode(s)
	if err != nil {
		return nil, err
	}
	if m.IsTerminal(s) || s.CurrentPlayer != player {
		return nil, nil
	}
	var out []game.Action
	for i, cell := range bs.Board {
		if cell != "" {
			continue
		}
		data, _ := json.Marshal(placeAction{Cell: i})
		out = append(out, game.Action{Type: "place", Data: data})
	}
	return out, nil
}

func decode(s *game.State) (*boardState, error) {
	var bs boardState
	if err := json.Unmarshal(s.Data, &bs); err != nil {
		return nil, fmt.Errorf("tictactoe: corrupt state: %w", err)
	}
	return &bs, nil
}

func markFor(bs *boardState, player string) string {
	if player == bs.PlayerX {
		return markX
	}
	return markO
}

func winnerMark(bs *boardState) string {
	for _, line := range winLines {
		a, b, c := bs.Board[line[0]], bs.Board[line[1]], bs.Board[line[2]]
		if a != "" && a == b && b == c {
			return a
		}
	}
	return ""
}

func boardFull(bs *boardState) bool {
	for _, cell := range bs.Board {
		if cell == "" {
			return false
		}
	}
	return true
}
