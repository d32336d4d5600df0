package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// RateLimiterConfig agrega as regras utilizadas pelo serviço de rate limiting.
type RateLimiterConfig struct {
	Rules   *domain.RuleSet
	Logger  *zerolog.Logger
	Metrics ports.MetricsRecorder
}

// builtinRule is used when no RuleSet was configured at all.
var builtinRule = domain.RateLimitRule{
	RouteClass:  domain.DefaultRouteClass,
	MaxRequests: 100,
	Window:      time.Minute,
}

// RateLimiterService implementa contadores de janela fixa por (identidade, classe de rota).
//
// O TTL da janela é renovado a cada incremento, então um cliente que envia
// requisições mais devagar que a janela nunca vê o contador zerar. Rajadas de
// até 2x MaxRequests são possíveis na virada de uma janela.
type RateLimiterService struct {
	storage ports.Storage
	rules   *domain.RuleSet
	logger  zerolog.Logger
	metrics ports.MetricsRecorder
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(storage ports.Storage, cfg RateLimiterConfig) (*RateLimiterService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NoopMetrics{}
	}

	return &RateLimiterService{
		storage: storage,
		rules:   cfg.Rules,
		logger:  loggerOrNop(cfg.Logger),
		metrics: cfg.Metrics,
	}, nil
}

// Rule resolves the rule that applies to path. It never fails.
func (s *RateLimiterService) Rule(path string) domain.RateLimitRule {
	if s.rules == nil {
		s.logger.Error().Err(domain.ErrConfiguration).Str("path", path).Msg("no rule set configured, using built-in default")
		return builtinRule
	}
	rule, matched := s.rules.Resolve(path)
	if !matched {
		s.logger.Debug().Str("path", path).Str("route_class", rule.RouteClass).Msg("no prefix matched, using fallback rule")
	}
	return rule
}

// Allow reports whether the request is under its limit.
func (s *RateLimiterService) Allow(ctx context.Context, identity, path string) bool {
	return s.CheckAndIncrement(ctx, identity, path).Allowed
}

// CheckAndIncrement counts the request and compares the post-increment value
// with the rule's limit. The request that crosses the limit is counted too.
func (s *RateLimiterService) CheckAndIncrement(ctx context.Context, identity, path string) domain.RateLimitResult {
	rule := s.Rule(path)
	if rule.Exempt {
		return domain.RateLimitResult{Allowed: true, Rule: rule}
	}

	identity = strings.TrimSpace(identity)
	if identity == "" {
		s.logger.Debug().Err(domain.ErrInvalidIdentity).Str("path", path).Msg("rate limit skipped for empty identity")
		return domain.RateLimitResult{Allowed: true, Rule: rule, Remaining: int64(rule.MaxRequests)}
	}

	key := rateLimitKey(rule.RouteClass, identity)
	count, err := s.storage.Increment(ctx, key, rule.Window)
	if err != nil {
		s.metrics.StoreError(domain.StoreOp(err))
		s.logger.Warn().Err(err).Str("route_class", rule.RouteClass).Msg("rate limiter failing open")
		return domain.RateLimitResult{Allowed: true, Rule: rule, FailedOpen: true}
	}

	result := domain.RateLimitResult{
		Allowed:   count <= int64(rule.MaxRequests),
		Rule:      rule,
		Count:     count,
		Remaining: max(0, int64(rule.MaxRequests)-count),
	}
	if !result.Allowed {
		result.RetryAfter = s.retryAfter(ctx, key, rule)
	}
	return result
}

func (s *RateLimiterService) retryAfter(ctx context.Context, key string, rule domain.RateLimitRule) time.Duration {
	ttl, err := s.storage.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}

// ceilSeconds rounds a duration up to whole seconds.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
