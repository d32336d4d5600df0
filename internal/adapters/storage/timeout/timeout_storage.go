// Package timeout limita o tempo de cada chamada ao storage, abre um circuit
// breaker quando o store falha seguidamente e padroniza os erros.
package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	fstimeout "github.com/failsafe-go/failsafe-go/timeout"
	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

const (
	// DefaultTimeout bounds a single store call.
	DefaultTimeout = 50 * time.Millisecond
	// DefaultBreakerDelay is how long an open breaker refuses calls before probing the store again.
	DefaultBreakerDelay = 5 * time.Second
)

// Config tunes the store boundary. BreakerFailures of zero disables the breaker.
type Config struct {
	Timeout         time.Duration
	BreakerFailures uint
	BreakerDelay    time.Duration
	Logger          *zerolog.Logger
}

// Storage runs every call to the wrapped store through a failsafe executor:
// a circuit breaker around a per-call timeout. Every failure, including a
// call that outlives the timeout or one refused by an open breaker, comes
// back as a *domain.StoreError matching domain.ErrStoreUnavailable.
type Storage struct {
	next     ports.Storage
	executor failsafe.Executor[any]
	breaker  circuitbreaker.CircuitBreaker[any]
}

var _ ports.Storage = (*Storage)(nil)

func New(next ports.Storage, cfg Config) (*Storage, error) {
	if next == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = DefaultBreakerDelay
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Storage{next: next}
	policies := make([]failsafe.Policy[any], 0, 2)
	if cfg.BreakerFailures > 0 {
		s.breaker = circuitbreaker.Builder[any]().
			WithFailureThreshold(cfg.BreakerFailures).
			WithSuccessThreshold(1).
			WithDelay(cfg.BreakerDelay).
			OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				logger.Warn().
					Str("old_state", event.OldState.String()).
					Str("new_state", event.NewState.String()).
					Msg("store circuit breaker state changed")
			}).
			Build()
		policies = append(policies, s.breaker)
	}
	policies = append(policies, fstimeout.With[any](cfg.Timeout))
	s.executor = failsafe.NewExecutor[any](policies...)

	return s, nil
}

// BreakerOpen reports whether calls are currently short-circuited.
func (s *Storage) BreakerOpen() bool {
	return s.breaker != nil && s.breaker.IsOpen()
}

type getResult struct {
	value int64
	ok    bool
}

func (s *Storage) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return call(ctx, s, "increment", key, func(ctx context.Context) (int64, error) {
		return s.next.Increment(ctx, key, ttl)
	})
}

func (s *Storage) Get(ctx context.Context, key string) (int64, bool, error) {
	res, err := call(ctx, s, "get", key, func(ctx context.Context) (getResult, error) {
		v, ok, err := s.next.Get(ctx, key)
		return getResult{value: v, ok: ok}, err
	})
	return res.value, res.ok, err
}

func (s *Storage) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	_, err := call(ctx, s, "set", key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) == 1 {
		key = keys[0]
	}
	_, err := call(ctx, s, "delete", key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Delete(ctx, keys...)
	})
	return err
}

func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, error) {
	return call(ctx, s, "ttl", key, func(ctx context.Context) (time.Duration, error) {
		return s.next.TTL(ctx, key)
	})
}

// Scan is an administrative call and bypasses the executor.
func (s *Storage) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.next.Scan(ctx, prefix)
	if err != nil {
		return nil, &domain.StoreError{Op: "scan", Key: prefix, Err: err}
	}
	return keys, nil
}

// call runs fn through the executor with the execution's context, which is
// cancelled when the timeout fires.
func call[T any](ctx context.Context, s *Storage, op, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	res, err := s.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		v, err := fn(exec.Context())
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return zero, &domain.StoreError{Op: op, Key: key, Err: err}
	}
	v, _ := res.(T)
	return v, nil
}
