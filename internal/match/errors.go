package match

import "errors"

var (
	ErrUnknownGame        = errors.New("unknown game id")
	ErrMatchNotFound      = errors.New("match not found")
	ErrMatchNotActive     = errors.New("match is not active")
	ErrNotParticipant     = errors.New("player is not in this match")
	ErrEmergencyMode      = errors.New("service is in emergency mode")
	ErrActiveMatchExists  = errors.New("player already has an active match")
	ErrInviteNotFound     = errors.New("invite code not found")
	ErrOwnInvite          = errors.New("cannot accept your own invite")
	ErrAlreadyCompleted   = errors.New("match already completed")
	ErrMovePersistFailed  = errors.New("move could not be persisted")
	ErrReplayHashMismatch = errors.New("replay hash mismatch")
	ErrStakeBelowMinimum  = errors.New("stake below game minimum")
	ErrInvalidStake       = errors.New("stake must be a non-negative integer wei amount")
)
