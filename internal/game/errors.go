package game

import "errors"

// Sentinel rule errors shared by all modules.
var (
	ErrNotYourTurn   = errors.New("not your turn")
	ErrNotInGame     = errors.New("player is not part of this game")
	ErrTerminalState = errors.New("game is already over")
	ErrBadPlayerSet  = errors.New("player count not supported by this game")
)

// RuleError is a module-specific rejection with a machine code the wire
// layer forwards verbatim.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string { return e.Message }

// NewRuleError builds a RuleError.
func NewRuleError(code, message string) *RuleError {
	return &RuleError{Code: code, Message: message}
}

// RuleCode extracts the machine code from err, defaulting to
// INVALID_ACTION for plain errors.
func RuleCode(err error) string {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code
	}
	switch {
	case errors.Is(err, ErrNotYourTurn):
		return "NOT_YOUR_TURN"
	case errors.Is(err, ErrNotInGame):
		return "NOT_IN_GAME"
	case errors.Is(err, ErrTerminalState):
		return "MATCH_OVER"
	default:
		return "INVALID_ACTION"
	}
}
