package ports

import (
	"context"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

// ScoringBackend is an optional managed bot/attack detection service.
type ScoringBackend interface {
	ScoreRequest(ctx context.Context, sig domain.RequestSignature) (domain.SecurityDecision, error)
}

// HumanVerifier checks a challenge/response token before login or signup.
type HumanVerifier interface {
	IsHuman(ctx context.Context, token, action, clientIP string) (bool, error)
}

// Authenticator performs the credential check. It belongs to the application.
type Authenticator interface {
	Authenticate(ctx context.Context, account, password string) (bool, error)
}

// MetricsRecorder receives decision and store-failure events.
type MetricsRecorder interface {
	ObserveDecision(d domain.SecurityDecision)
	StoreError(op string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDecision(domain.SecurityDecision) {}
func (NoopMetrics) StoreError(string)                       {}
