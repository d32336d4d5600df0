// Package app monta o motor de proteção a partir da configuração carregada.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/adapters/metrics"
	"github.com/nazaninghn/carbon-guard/internal/adapters/recaptcha"
	"github.com/nazaninghn/carbon-guard/internal/adapters/scoring"
	"github.com/nazaninghn/carbon-guard/internal/adapters/storage/memory"
	redisstorage "github.com/nazaninghn/carbon-guard/internal/adapters/storage/redis"
	"github.com/nazaninghn/carbon-guard/internal/adapters/storage/timeout"
	"github.com/nazaninghn/carbon-guard/internal/config"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
	"github.com/nazaninghn/carbon-guard/internal/core/services"
	"github.com/nazaninghn/carbon-guard/internal/logging"
)

// Pinger reports counter store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine holds every wired component.
type Engine struct {
	Storage  ports.Storage
	Pinger   Pinger
	Limiter  *services.RateLimiterService
	Detector *services.DetectorService
	Lockout  *services.LockoutService
	Decision *services.DecisionService
	Admin    *services.AdminService
	Verifier ports.HumanVerifier
}

// Build wires the engine. reg may be nil to disable metrics. The returned
// function releases the store.
func Build(cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Engine, func(), error) {
	raw, pinger, closeFn, err := InitStorage(cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := timeout.New(raw, timeout.Config{
		Timeout:         cfg.Storage.Timeout,
		BreakerFailures: cfg.Storage.BreakerFailures,
		BreakerDelay:    cfg.Storage.BreakerDelay,
		Logger:          &logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	var recorder ports.MetricsRecorder = ports.NoopMetrics{}
	if reg != nil {
		r, err := metrics.NewRecorder(reg, "carbon")
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		recorder = r
	}

	limiterLog := logging.Component(logger, "rate_limiter")
	limiter, err := services.NewRateLimiterService(store, services.RateLimiterConfig{
		Rules:   cfg.RateLimiter.Rules,
		Logger:  &limiterLog,
		Metrics: recorder,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create limiter: %w", err)
	}

	detector := services.NewDetectorService(services.DetectorConfig{
		ExtraBotMarkers: cfg.Detector.ExtraBotMarkers,
	})

	lockoutLog := logging.Component(logger, "lockout")
	lockout, err := services.NewLockoutService(store, services.LockoutConfig{
		Policy:  cfg.Lockout,
		Logger:  &lockoutLog,
		Metrics: recorder,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create lockout manager: %w", err)
	}

	decisionCfg := services.DecisionConfig{Metrics: recorder}
	if cfg.Scoring.URL != "" {
		backend, err := scoring.New(scoring.Config{
			URL:     cfg.Scoring.URL,
			APIKey:  cfg.Scoring.APIKey,
			Timeout: cfg.Scoring.Timeout,
		})
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create scoring backend: %w", err)
		}
		mode, err := services.ParseScoringMode(cfg.Scoring.Mode)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		decisionCfg.Scoring = backend
		decisionCfg.ScoringMode = mode
	}
	decisionLog := logging.Component(logger, "decision")
	decisionCfg.Logger = &decisionLog

	decision, err := services.NewDecisionService(limiter, detector, lockout, decisionCfg)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create decision service: %w", err)
	}

	adminLog := logging.Component(logger, "admin")
	admin, err := services.NewAdminService(store, lockout, &adminLog)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create admin service: %w", err)
	}

	engine := &Engine{
		Storage:  store,
		Pinger:   pinger,
		Limiter:  limiter,
		Detector: detector,
		Lockout:  lockout,
		Decision: decision,
		Admin:    admin,
	}

	if cfg.Recaptcha.Secret != "" {
		verifier, err := recaptcha.New(recaptcha.Config{
			Secret:   cfg.Recaptcha.Secret,
			MinScore: cfg.Recaptcha.MinScore,
		})
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("create human verifier: %w", err)
		}
		engine.Verifier = verifier
	}

	return engine, closeFn, nil
}

const memorySweepInterval = time.Minute

// InitStorage opens the configured counter store.
func InitStorage(cfg config.StorageConfig, logger zerolog.Logger) (ports.Storage, Pinger, func(), error) {
	switch cfg.Type {
	case "redis":
		storage, err := redisstorage.New(redisstorage.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return storage, storage, func() {
			if err := storage.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close redis storage")
			}
		}, nil
	case "memory":
		storage := memory.New(memory.WithSweepInterval(memorySweepInterval))
		return storage, storage, func() { _ = storage.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
