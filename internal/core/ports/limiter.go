// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, identity, path string) domain.RateLimitResult
}

type Detector interface {
	Classify(sig domain.RequestSignature) domain.Classification
	ClassifyBot(sig domain.RequestSignature) bool
	ClassifyAttack(sig domain.RequestSignature) bool
}

type Lockout interface {
	AnyLocked(ctx context.Context, ids ...domain.Identity) (domain.Identity, int, bool)
	Record(ctx context.Context, id domain.Identity, outcome domain.AuthOutcome) (domain.LockoutStatus, error)
}

// CredentialCheck runs the application's credential verification for one attempt.
type CredentialCheck func(ctx context.Context) (bool, error)

// Guard is the single entry point request-handling code talks to.
type Guard interface {
	EvaluateRequest(ctx context.Context, req domain.Request) domain.SecurityDecision
	EvaluateLogin(ctx context.Context, attempt domain.LoginAttempt, succeeded bool) domain.SecurityDecision
	Login(ctx context.Context, attempt domain.LoginAttempt, check CredentialCheck) (domain.SecurityDecision, bool)
}
