// Package sudoku implements a single-player puzzle module. Puzzles are
// generated deterministically from the match seed; the stored solution
// is redacted from every observation.
package sudoku

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/dorkfun/backend/internal/game"
)

// removals controls difficulty: cells cleared from the solved grid.
const removals = 37

type gridState struct {
	Board    [81]int  `json:"board"`
	Given    [81]bool `json:"given"`
	Solution [81]int  `json:"solution"`
	Player   string   `json:"player"`
}

// view is the redacted observation payload.
type view struct {
	Board  [81]int  `json:"board"`
	Given  [81]bool `json:"given"`
	Player string   `json:"player"`
}

type cellAction struct {
	Cell  int `json:"cell"`
	Value int `json:"value,omitempty"`
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Metadata() game.Metadata {
	return game.Metadata{
		ID:                 "sudoku",
		Name:               "Sudoku",
		MinPlayers:         1,
		MaxPlayers:         1,
		MoveTimeoutSeconds: 120,
		Description:        "Classic 9x9 sudoku. Fill every cell without conflicts.",
	}
}

func (m *Module) Init(players []string, seed int64) (*game.State, error) {
	if len(players) != 1 {
		return nil, game.ErrBadPlayerSet
	}
	gs := generate(seed)
	gs.Player = players[0]
	data, err := json.Marshal(gs)
	if err != nil {
		return nil, err
	}
	return &game.State{
		GameID:        "sudoku",
		Players:       append([]string(nil), players...),
		CurrentPlayer: players[0],
		MoveCount:     0,
		Data:          data,
	}, nil
}

func (m *Module) ValidateAction(s *game.State, player string, a game.Action) error {
	gs, err := decode(s)
	if err != nil {
		return err
	}
	if player != gs.Player {
		return game.ErrNotInGame
	}
	if m.IsTerminal(s) {
		return game.ErrTerminalState
	}
	var ca cellAction
	if err := json.Unmarshal(a.Data, &ca); err != nil {
		return game.NewRuleError("MALFORMED_ACTION", "action requires a cell field")
	}
	if ca.Cell < 0 || ca.Cell > 80 {
		return game.NewRuleError("CELL_OUT_OF_RANGE", "cell must be between 0 and 80")
	}
	if gs.Given[ca.Cell] {
		return game.NewRuleError("CELL_GIVEN", "cannot change a given cell")
	}
	switch a.Type {
	case "fill":
		if ca.Value < 1 || ca.Value > 9 {
			return game.NewRuleError("VALUE_OUT_OF_RANGE", "value must be between 1 and 9")
		}
		if conflict := findConflict(gs, ca.Cell, ca.Value); conflict >= 0 {
			return game.NewRuleError("VALUE_CONFLICT", fmt.Sprintf("value %d conflicts with cell %d", ca.Value, conflict))
		}
		return nil
	case "erase":
		if gs.Board[ca.Cell] == 0 {
			return game.NewRuleError("CELL_EMPTY", "cell is already empty")
		}
		return nil
	default:
		return game.NewRuleError("UNKNOWN_ACTION", fmt.Sprintf("unknown action type %q", a.Type))
	}
}

func (m *Module) ApplyAction(s *game.State, player string, a game.Action) (*game.State, error) {
	if err := m.ValidateAction(s, player, a); err != nil {
		return nil, err
	}
	gs, err := decode(s)
	if err != nil {
		return nil, err
	}
	var ca cellAction
	if err := json.Unmarshal(a.Data, &ca); err != nil {
		return nil, game.NewRuleError("MALFORMED_ACTION", "action requires a cell field")
	}

	switch a.Type {
	case "fill":
		gs.Board[ca.Cell] = ca.Value
	case "erase":
		gs.Board[ca.Cell] = 0
	}

	next := s.Clone()
	data, err := json.Marshal(gs)
	if err != nil {
		return nil, err
	}
	next.Data = data
	next.MoveCount = s.MoveCount + 1
	if full(gs) {
		next.CurrentPlayer = ""
	}
	return next, nil
}

func (m *Module) IsTerminal(s *game.State) bool {
	gs, err := decode(s)
	if err != nil {
		return false
	}
	// Fills are conflict-checked, so a full board is always a valid grid.
	return full(gs)
}

func (m *Module) Outcome(s *game.State) (*game.Outcome, error) {
	gs, err := decode(s)
	if err != nil {
		return nil, err
	}
	if !full(gs) {
		return nil, fmt.Errorf("sudoku: outcome requested on non-terminal state")
	}
	return &game.Outcome{Winner: gs.Player, Reason: "solved"}, nil
}

func (m *Module) Observation(s *game.State, player string) (*game.Observation, error) {
	gs, err := decode(s)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(&view{Board: gs.Board, Given: gs.Given, Player: gs.Player})
	if err != nil {
		return nil, err
	}
	return &game.Observation{
		State:         data,
		CurrentPlayer: s.CurrentPlayer,
		MoveCount:     s.MoveCount,
		You:           player,
	}, nil
}

func (m *Module) LegalActions(s *game.State, player string) ([]game.Action, error) {
	gs, err := decode(s)
	if err != nil {
		return nil, err
	}
	if m.IsTerminal(s) || player != gs.Player {
		return nil, nil
	}
	// Sample: the legal values for the first empty cell.
	for cell := 0; cell < 81; cell++ {
		if gs.Board[cell] != 0 {
			continue
		}
		var out []game.Action
		for v := 1; v <= 9; v++ {
			if findConflict(gs, cell, v) >= 0 {
				continue
			}
			data, _ := json.Marshal(cellAction{Cell: cell, Value: v})
			out = append(out, game.Action{Type: "fill", Data: data})
		}
		return out, nil
	}
	return nil, nil
}

func decode(s *game.State) (*gridState, error) {
	var gs gridState
	if err := json.Unmarshal(s.Data, &gs); err != nil {
		return nil, fmt.Errorf("sudoku: corrupt state: %w", err)
	}
	return &gs, nil
}

func full(gs *gridState) bool {
	for _, v := range gs.Board {
		if v == 0 {
			return false
		}
	}
	return true
}

// findConflict returns the index of a cell that already holds value in
// the same row, column or box as cell, or -1.
func findConflict(gs *gridState, cell, value int) int {
	row, col := cell/9, cell%9
	for c := 0; c < 9; c++ {
		idx := row*9 + c
		if idx != cell && gs.Board[idx] == value {
			return idx
		}
	}
	for r := 0; r < 9; r++ {
		idx := r*9 + col
		if idx != cell && gs.Board[idx] == value {
			return idx
		}
	}
	boxRow, boxCol := (row/3)*3, (col/3)*3
	for r := boxRow; r < boxRow+3; r++ {
		for c := boxCol; c < boxCol+3; c++ {
			idx := r*9 + c
			if idx != cell && gs.Board[idx] == value {
				return idx
			}
		}
	}
	return -1
}

// generate builds a solved grid from the base pattern, scrambles it
// with validity-preserving permutations and clears cells. The same
// seed always yields the same puzzle.
func generate(seed int64) *gridState {
	rng := rand.New(rand.NewSource(seed))

	var solved [81]int
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			solved[r*9+c] = (r*3+r/3+c)%9 + 1
		}
	}

	// Relabel digits.
	digits := rng.Perm(9)
	for i, v := range solved {
		solved[i] = digits[v-1] + 1
	}

	// Shuffle rows within each band, then the bands themselves.
	rowOrder := identity(9)
	for band := 0; band < 3; band++ {
		shuffleSegment(rng, rowOrder, band*3)
	}
	bandOrder := rng.Perm(3)
	rowOrder = regroup(rowOrder, bandOrder)

	// Same for columns and stacks.
	colOrder := identity(9)
	for stack := 0; stack < 3; stack++ {
		shuffleSegment(rng, colOrder, stack*3)
	}
	stackOrder := rng.Perm(3)
	colOrder = regroup(colOrder, stackOrder)

	var grid [81]int
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			grid[r*9+c] = solved[rowOrder[r]*9+colOrder[c]]
		}
	}

	gs := &gridState{Solution: grid, Board: grid}
	for _, cell := range rng.Perm(81)[:removals] {
		gs.Board[cell] = 0
	}
	for i, v := range gs.Board {
		gs.Given[i] = v != 0
	}
	return gs
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// shuffleSegment permutes order[start:start+3] in place.
func shuffleSegment(rng *rand.Rand, order []int, start int) {
	seg := order[start : start+3]
	rng.Shuffle(3, func(i, j int) { seg[i], seg[j] = seg[j], seg[i] })
}

// regroup reorders 3-element groups of order by groupOrder.
func regroup(order []int, groupOrder []int) []int {
	out := make([]int, 0, len(order))
	for _, g := range groupOrder {
		out = append(out, order[g*3:g*3+3]...)
	}
	return out
}
