package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// ScoringMode selects how a managed detection backend is combined with the
// built-in heuristics.
type ScoringMode int

const (
	// ScoringReplace trusts the backend verdict and only runs the heuristics
	// when the backend fails.
	ScoringReplace ScoringMode = iota
	// ScoringAugment runs the heuristics after the backend allows.
	ScoringAugment
)

// ParseScoringMode accepts "replace" and "augment".
func ParseScoringMode(s string) (ScoringMode, error) {
	switch s {
	case "", "replace":
		return ScoringReplace, nil
	case "augment":
		return ScoringAugment, nil
	default:
		return ScoringReplace, fmt.Errorf("unknown scoring mode %q", s)
	}
}

// DecisionConfig agrega os colaboradores opcionais do compositor de decisões.
type DecisionConfig struct {
	Scoring     ports.ScoringBackend
	ScoringMode ScoringMode
	Logger      *zerolog.Logger
	Metrics     ports.MetricsRecorder
}

// DecisionService compõe lockout, rate limiting e heurísticas em um único veredito.
//
// As verificações rodam em ordem fixa e a primeira que falha decide: lockout,
// rate limit, heurística de bot e heurística de ataque. Classes de rota isentas
// pulam tudo depois do lockout. O serviço não guarda estado próprio.
type DecisionService struct {
	limiter  ports.RateLimiter
	detector ports.Detector
	lockout  ports.Lockout
	scoring  ports.ScoringBackend
	mode     ScoringMode
	logger   zerolog.Logger
	metrics  ports.MetricsRecorder
}

var _ ports.Guard = (*DecisionService)(nil)

func NewDecisionService(limiter ports.RateLimiter, detector ports.Detector, lockout ports.Lockout, cfg DecisionConfig) (*DecisionService, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if lockout == nil {
		return nil, fmt.Errorf("lockout manager is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NoopMetrics{}
	}

	return &DecisionService{
		limiter:  limiter,
		detector: detector,
		lockout:  lockout,
		scoring:  cfg.Scoring,
		mode:     cfg.ScoringMode,
		logger:   loggerOrNop(cfg.Logger),
		metrics:  cfg.Metrics,
	}, nil
}

// EvaluateRequest decides on general traffic. The client IP is the rate-limit
// identity; the account, when known, is checked for a lock alongside the IP.
func (s *DecisionService) EvaluateRequest(ctx context.Context, req domain.Request) domain.SecurityDecision {
	ids := s.identities(req.Account, req.ClientIP)
	return s.finish(s.verdict(ctx, ids, req.ClientIP, req.Signature), req.ClientIP, req.Signature.Path)
}

// EvaluateLogin decides on a login whose credential check has already run and
// feeds succeeded back into the lockout manager for the account and the IP.
// A locked identity is refused even when succeeded is true; the success still
// clears the failed-attempt counter but leaves the lock in place.
func (s *DecisionService) EvaluateLogin(ctx context.Context, attempt domain.LoginAttempt, succeeded bool) domain.SecurityDecision {
	ids := s.identities(attempt.Account, attempt.ClientIP)
	decision := s.verdict(ctx, ids, attempt.ClientIP, attempt.Signature)

	outcome := domain.AuthFailed
	if succeeded {
		outcome = domain.AuthSucceeded
	}
	s.feedback(ctx, ids, outcome, decision)

	return s.finish(decision, attempt.ClientIP, attempt.Signature.Path)
}

// Login computes the verdict first and only runs check when the verdict
// allows. A refused attempt is recorded as failed. The outcome is fed back
// exactly once. The boolean reports whether the caller may start a session.
func (s *DecisionService) Login(ctx context.Context, attempt domain.LoginAttempt, check ports.CredentialCheck) (domain.SecurityDecision, bool) {
	ids := s.identities(attempt.Account, attempt.ClientIP)
	decision := s.verdict(ctx, ids, attempt.ClientIP, attempt.Signature)

	authenticated := false
	if decision.Allowed && check != nil {
		ok, err := check(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("credential check failed, counting attempt as failed")
		}
		authenticated = ok && err == nil
	}

	outcome := domain.AuthFailed
	if authenticated {
		outcome = domain.AuthSucceeded
	}
	s.feedback(ctx, ids, outcome, decision)

	return s.finish(decision, attempt.ClientIP, attempt.Signature.Path), authenticated
}

func (s *DecisionService) verdict(ctx context.Context, ids []domain.Identity, clientIP string, sig domain.RequestSignature) domain.SecurityDecision {
	if id, seconds, locked := s.lockout.AnyLocked(ctx, ids...); locked {
		return domain.Deny(domain.ReasonAccountLocked, map[string]any{
			domain.DetailLockSecondsRemaining: seconds,
			domain.DetailLockedIdentity:       string(id.Kind),
		})
	}

	rl := s.limiter.CheckAndIncrement(ctx, clientIP, sig.Path)
	if !rl.Allowed {
		return domain.Deny(domain.ReasonRateLimited, map[string]any{
			domain.DetailRouteClass:        rl.Rule.RouteClass,
			domain.DetailRetryAfterSeconds: max(1, ceilSeconds(rl.RetryAfter)),
		})
	}
	if rl.Rule.Exempt {
		return domain.Allow()
	}

	return s.classify(ctx, sig)
}

func (s *DecisionService) classify(ctx context.Context, sig domain.RequestSignature) domain.SecurityDecision {
	if s.scoring != nil {
		scored, err := s.scoring.ScoreRequest(ctx, sig)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("scoring backend failed, using built-in heuristics")
		case !scored.Allowed:
			return normaliseScored(scored)
		case s.mode == ScoringReplace:
			return domain.Allow()
		}
	}

	if s.detector.ClassifyBot(sig) {
		return domain.Deny(domain.ReasonBotDetected, nil)
	}
	if s.detector.ClassifyAttack(sig) {
		return domain.Deny(domain.ReasonAttackDetected, nil)
	}
	return domain.Allow()
}

// normaliseScored keeps a backend denial inside the bot/attack reasons and
// drops whatever detail the backend returned.
func normaliseScored(d domain.SecurityDecision) domain.SecurityDecision {
	switch d.Reason {
	case domain.ReasonAttackDetected:
		return domain.Deny(domain.ReasonAttackDetected, map[string]any{domain.DetailSource: "scoring"})
	default:
		return domain.Deny(domain.ReasonBotDetected, map[string]any{domain.DetailSource: "scoring"})
	}
}

func (s *DecisionService) feedback(ctx context.Context, ids []domain.Identity, outcome domain.AuthOutcome, decision domain.SecurityDecision) {
	reported := reportedIdentity(ids)
	for _, id := range ids {
		status, err := s.lockout.Record(ctx, id, outcome)
		if err != nil {
			s.logger.Warn().Err(err).Str("identity", id.String()).Msg("login outcome not recorded")
			continue
		}
		if id == reported && outcome == domain.AuthFailed {
			decision.Detail[domain.DetailAttemptsRemaining] = status.AttemptsRemaining
			if status.State == domain.StateLocked && decision.Allowed {
				decision.Detail[domain.DetailLockSecondsRemaining] = status.LockSecondsRemaining
			}
		}
	}
}

// reportedIdentity picks the identity whose counters are echoed back to the
// caller: the account when there is one, otherwise the IP.
func reportedIdentity(ids []domain.Identity) domain.Identity {
	for _, id := range ids {
		if id.Kind == domain.KindAccount {
			return id
		}
	}
	for _, id := range ids {
		if id.Kind == domain.KindIP {
			return id
		}
	}
	return domain.Identity{}
}

func (s *DecisionService) identities(account, clientIP string) []domain.Identity {
	ids := make([]domain.Identity, 0, 2)
	if account != "" {
		id := domain.NewAccountIdentity(account)
		if err := id.Validate(); err != nil {
			s.logger.Debug().Err(err).Msg("account skipped")
		} else {
			ids = append(ids, id)
		}
	}
	ip := domain.NewIPIdentity(clientIP)
	if err := ip.Validate(); err != nil {
		s.logger.Debug().Err(err).Msg("client ip skipped")
	} else {
		ids = append(ids, ip)
	}
	return ids
}

func (s *DecisionService) finish(d domain.SecurityDecision, clientIP, path string) domain.SecurityDecision {
	s.metrics.ObserveDecision(d)
	if !d.Allowed {
		s.logger.Info().
			Str("reason", d.Reason.String()).
			Str("client_ip", clientIP).
			Str("path", path).
			Msg("request denied")
	}
	return d
}
