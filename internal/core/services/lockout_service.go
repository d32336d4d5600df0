package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// LockoutConfig agrega a política de bloqueio por tentativas falhas.
type LockoutConfig struct {
	Policy  domain.LockoutPolicy
	Logger  *zerolog.Logger
	Metrics ports.MetricsRecorder
	Now     func() time.Time
}

// LockoutService mantém contadores de falhas e bloqueios temporários por identidade.
//
// O contador e o bloqueio vivem no store com TTL próprio e a expiração fica a
// cargo do store. Consultas falham abertas: um erro do store é lido como "sem
// bloqueio" com todas as tentativas disponíveis.
type LockoutService struct {
	storage ports.Storage
	policy  domain.LockoutPolicy
	logger  zerolog.Logger
	metrics ports.MetricsRecorder
	now     func() time.Time
}

var _ ports.Lockout = (*LockoutService)(nil)

func NewLockoutService(storage ports.Storage, cfg LockoutConfig) (*LockoutService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	defaults := domain.DefaultLockoutPolicy()
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Policy.LockoutDuration <= 0 {
		cfg.Policy.LockoutDuration = defaults.LockoutDuration
	}
	if cfg.Policy.AttemptWindow <= 0 {
		cfg.Policy.AttemptWindow = defaults.AttemptWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NoopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &LockoutService{
		storage: storage,
		policy:  cfg.Policy,
		logger:  loggerOrNop(cfg.Logger),
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

func (s *LockoutService) Policy() domain.LockoutPolicy {
	return s.policy
}

// Record feeds one authentication outcome into the state machine.
func (s *LockoutService) Record(ctx context.Context, id domain.Identity, outcome domain.AuthOutcome) (domain.LockoutStatus, error) {
	if outcome == domain.AuthSucceeded {
		if err := s.RecordSuccess(ctx, id); err != nil {
			return s.clearStatus(id), err
		}
		return s.Status(ctx, id), nil
	}
	return s.RecordFailure(ctx, id)
}

// RecordFailure increments the failed-attempt counter, restarting its TTL, and
// writes a lock once the counter reaches MaxAttempts. While a lock is live the
// counter is left alone, so neither the lock nor the counter is extended. The
// counter is re-armed with the lock's TTL so both expire together.
func (s *LockoutService) RecordFailure(ctx context.Context, id domain.Identity) (domain.LockoutStatus, error) {
	if err := id.Validate(); err != nil {
		s.logger.Debug().Err(err).Msg("failure not recorded")
		return s.clearStatus(id), err
	}

	if lockTTL, locked := s.lockTTL(ctx, id); locked {
		s.logger.Debug().Str("identity", id.String()).Msg("failure while locked ignored")
		return s.statusFrom(id, s.FailedCount(ctx, id), lockTTL, true), nil
	}

	count, err := s.storage.Increment(ctx, failureKey(id), s.policy.AttemptWindow)
	if err != nil {
		s.storeFailed(err, "failed attempt not recorded")
		return s.clearStatus(id), err
	}
	if count < int64(s.policy.MaxAttempts) {
		return s.statusFrom(id, count, 0, false), nil
	}

	lockedUntil := s.now().Add(s.policy.LockoutDuration)
	if err := s.storage.Set(ctx, lockKey(id), lockedUntil.Unix(), s.policy.LockoutDuration); err != nil {
		s.storeFailed(err, "lock not written")
		return s.statusFrom(id, count, 0, false), err
	}
	if err := s.storage.Set(ctx, failureKey(id), count, s.policy.LockoutDuration); err != nil {
		s.storeFailed(err, "failed counter not aligned with lock")
	}
	s.logger.Info().
		Str("identity", id.String()).
		Int64("failed_count", count).
		Time("locked_until", lockedUntil).
		Msg("identity locked")

	return s.statusFrom(id, count, s.policy.LockoutDuration, true), nil
}

// RecordSuccess clears the failed-attempt counter. A live lock is left untouched.
func (s *LockoutService) RecordSuccess(ctx context.Context, id domain.Identity) error {
	if err := id.Validate(); err != nil {
		s.logger.Debug().Err(err).Msg("success not recorded")
		return err
	}
	if err := s.storage.Delete(ctx, failureKey(id)); err != nil {
		s.storeFailed(err, "failed attempts not cleared")
		return err
	}
	return nil
}

// Unlock removes both the counter and the lock immediately.
func (s *LockoutService) Unlock(ctx context.Context, id domain.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, failureKey(id), lockKey(id)); err != nil {
		s.storeFailed(err, "unlock failed")
		return err
	}
	s.logger.Info().Str("identity", id.String()).Msg("identity unlocked")
	return nil
}

func (s *LockoutService) IsLocked(ctx context.Context, id domain.Identity) bool {
	_, locked := s.lockTTL(ctx, id)
	return locked
}

func (s *LockoutService) FailedCount(ctx context.Context, id domain.Identity) int64 {
	if id.Validate() != nil {
		return 0
	}
	count, ok, err := s.storage.Get(ctx, failureKey(id))
	if err != nil {
		s.storeFailed(err, "failed count unavailable")
		return 0
	}
	if !ok {
		return 0
	}
	return count
}

func (s *LockoutService) AttemptsRemaining(ctx context.Context, id domain.Identity) int {
	return s.remaining(s.FailedCount(ctx, id))
}

func (s *LockoutService) LockSecondsRemaining(ctx context.Context, id domain.Identity) int {
	ttl, locked := s.lockTTL(ctx, id)
	if !locked {
		return 0
	}
	return ceilSeconds(ttl)
}

func (s *LockoutService) Status(ctx context.Context, id domain.Identity) domain.LockoutStatus {
	ttl, locked := s.lockTTL(ctx, id)
	return s.statusFrom(id, s.FailedCount(ctx, id), ttl, locked)
}

// AnyLocked returns the first locked identity among ids and its remaining
// lock seconds. Invalid identities are skipped.
func (s *LockoutService) AnyLocked(ctx context.Context, ids ...domain.Identity) (domain.Identity, int, bool) {
	for _, id := range ids {
		if ttl, locked := s.lockTTL(ctx, id); locked {
			return id, ceilSeconds(ttl), true
		}
	}
	return domain.Identity{}, 0, false
}

// lockTTL reports whether id holds a live lock and how long it has left.
func (s *LockoutService) lockTTL(ctx context.Context, id domain.Identity) (time.Duration, bool) {
	if id.Validate() != nil {
		return 0, false
	}
	key := lockKey(id)
	lockedUntil, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		s.storeFailed(err, "lock check failing open")
		return 0, false
	}
	if !ok {
		return 0, false
	}

	ttl, err := s.storage.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		// Fall back to the timestamp stored in the lock itself.
		ttl = time.Unix(lockedUntil, 0).Sub(s.now())
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl, true
}

func (s *LockoutService) statusFrom(id domain.Identity, count int64, lockTTL time.Duration, locked bool) domain.LockoutStatus {
	status := domain.LockoutStatus{
		Identity:          id,
		State:             domain.StateClear,
		FailedCount:       count,
		AttemptsRemaining: s.remaining(count),
	}
	switch {
	case locked:
		status.State = domain.StateLocked
		status.LockSecondsRemaining = ceilSeconds(lockTTL)
	case count > 0:
		status.State = domain.StateWarning
	}
	return status
}

func (s *LockoutService) clearStatus(id domain.Identity) domain.LockoutStatus {
	return s.statusFrom(id, 0, 0, false)
}

func (s *LockoutService) remaining(count int64) int {
	return int(max(0, int64(s.policy.MaxAttempts)-count))
}

func (s *LockoutService) storeFailed(err error, msg string) {
	s.metrics.StoreError(domain.StoreOp(err))
	s.logger.Warn().Err(err).Msg(msg)
}
