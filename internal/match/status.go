package match

// Match status values, persisted verbatim in the matches table.
const (
	StatusWaitingOpponent = "WAITING_OPPONENT"
	StatusWaitingDeposits = "WAITING_DEPOSITS"
	StatusActive          = "ACTIVE"
	StatusCompleted       = "COMPLETED"
	StatusCancelled       = "CANCELLED"
	StatusReview          = "REVIEW"
)

// Outcome reasons written by the lifecycle service.
const (
	ReasonForfeit        = "forfeit"
	ReasonTimeout        = "move timeout"
	ReasonEmergencyDraw  = "emergency draw"
	ReasonIdleDraw       = "abandoned due to inactivity"
	ReasonNoOpponent     = "no opponent"
	ReasonDepositTimeout = "deposit timeout"
	ReasonReplayMismatch = "replay hash mismatch"
)
