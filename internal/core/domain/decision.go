package domain

import "net/http"

// Reason is the closed set of causes for a SecurityDecision.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRateLimited
	ReasonBotDetected
	ReasonAttackDetected
	ReasonAccountLocked
)

// Reasons lists every Reason, in pipeline order after ReasonNone.
var Reasons = []Reason{
	ReasonNone,
	ReasonAccountLocked,
	ReasonRateLimited,
	ReasonBotDetected,
	ReasonAttackDetected,
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonBotDetected:
		return "bot_detected"
	case ReasonAttackDetected:
		return "attack_detected"
	case ReasonAccountLocked:
		return "account_locked"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the reason to the status code surfaced to clients.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// Detail keys.
const (
	DetailRouteClass           = "route_class"
	DetailRetryAfterSeconds    = "retry_after_seconds"
	DetailLockSecondsRemaining = "lock_seconds_remaining"
	DetailAttemptsRemaining    = "attempts_remaining"
	DetailLockedIdentity       = "locked_identity"
	DetailSource               = "source"
)

// SecurityDecision is the only value the engine returns to callers.
// It is built fresh for every evaluation and never persisted.
type SecurityDecision struct {
	Allowed bool
	Reason  Reason
	Detail  map[string]any
}

func Allow() SecurityDecision {
	return SecurityDecision{Allowed: true, Reason: ReasonNone, Detail: map[string]any{}}
}

func Deny(reason Reason, detail map[string]any) SecurityDecision {
	if detail == nil {
		detail = map[string]any{}
	}
	return SecurityDecision{Allowed: false, Reason: reason, Detail: detail}
}

// Request is the input of a general-traffic evaluation.
type Request struct {
	ClientIP  string
	Account   string
	Signature RequestSignature
}

// LoginAttempt is the input of an authentication-endpoint evaluation.
type LoginAttempt struct {
	Account   string
	ClientIP  string
	Signature RequestSignature
}

// AuthOutcome is fed back into the lockout manager once per login attempt.
type AuthOutcome int

const (
	AuthFailed AuthOutcome = iota
	AuthSucceeded
)
