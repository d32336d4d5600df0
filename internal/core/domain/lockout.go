package domain

import "time"

// LockoutState is the per-identity lockout state machine position.
type LockoutState int

const (
	StateClear LockoutState = iota
	StateWarning
	StateLocked
)

func (s LockoutState) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateWarning:
		return "warning"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// LockoutStatus is a snapshot of one identity's lockout counters.
type LockoutStatus struct {
	Identity             Identity
	State                LockoutState
	FailedCount          int64
	AttemptsRemaining    int
	LockSecondsRemaining int
}

// LockedIdentity is one entry of the administrative lock listing.
type LockedIdentity struct {
	Identity         Identity
	SecondsRemaining int
}

// LockoutPolicy holds the lockout thresholds.
type LockoutPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	AttemptWindow   time.Duration
}

// DefaultLockoutPolicy is five failures, thirty minute lock and counter window.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:     5,
		LockoutDuration: 30 * time.Minute,
		AttemptWindow:   30 * time.Minute,
	}
}
