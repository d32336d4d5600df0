// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Lockout     domain.LockoutPolicy
	Detector    DetectorConfig
	Scoring     ScoringConfig
	Recaptcha   RecaptchaConfig
	Metrics     MetricsConfig
	Log         LogConfig
	DemoUsers   map[string]string
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Type            string
	Timeout         time.Duration
	BreakerFailures uint
	BreakerDelay    time.Duration
	Redis           RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type RateLimiterConfig struct {
	Rules *domain.RuleSet
}

type DetectorConfig struct {
	ExtraBotMarkers []string
}

type ScoringConfig struct {
	URL     string
	APIKey  string
	Mode    string
	Timeout time.Duration
}

type RecaptchaConfig struct {
	Secret   string
	MinScore float64
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LogConfig struct {
	Level string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	server := ServerConfig{Port: getEnv("SERVER_PORT", "8080")}

	storage, err := buildStorageConfig()
	if err != nil {
		return Config{}, err
	}

	rules, err := buildRuleSet()
	if err != nil {
		return Config{}, err
	}

	lockout, err := buildLockoutPolicy()
	if err != nil {
		return Config{}, err
	}

	scoring, err := buildScoringConfig()
	if err != nil {
		return Config{}, err
	}

	recaptcha, err := buildRecaptchaConfig()
	if err != nil {
		return Config{}, err
	}

	metricsEnabled, err := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid METRICS_ENABLED: %w", err)
	}

	demoUsers, err := parseDemoUsers(os.Getenv("DEMO_USERS"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server:      server,
		Storage:     storage,
		RateLimiter: RateLimiterConfig{Rules: rules},
		Lockout:     lockout,
		Detector:    DetectorConfig{ExtraBotMarkers: splitList(os.Getenv("BOT_EXTRA_MARKERS"))},
		Scoring:     scoring,
		Recaptcha:   recaptcha,
		Metrics: MetricsConfig{
			Enabled: metricsEnabled,
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Log:       LogConfig{Level: getEnv("LOG_LEVEL", "info")},
		DemoUsers: demoUsers,
	}, nil
}

func buildStorageConfig() (StorageConfig, error) {
	timeoutMS, err := strconv.Atoi(getEnv("STORE_TIMEOUT_MS", "50"))
	if err != nil {
		return StorageConfig{}, fmt.Errorf("invalid STORE_TIMEOUT_MS: %w", err)
	}

	breakerFailures, err := strconv.ParseUint(getEnv("STORE_BREAKER_FAILURES", "5"), 10, 32)
	if err != nil {
		return StorageConfig{}, fmt.Errorf("invalid STORE_BREAKER_FAILURES: %w", err)
	}

	breakerDelayMS, err := strconv.Atoi(getEnv("STORE_BREAKER_DELAY_MS", "5000"))
	if err != nil {
		return StorageConfig{}, fmt.Errorf("invalid STORE_BREAKER_DELAY_MS: %w", err)
	}

	redisConfig, err := buildRedisConfig()
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		Type:            getEnv("STORAGE_TYPE", "redis"),
		Timeout:         time.Duration(timeoutMS) * time.Millisecond,
		BreakerFailures: uint(breakerFailures),
		BreakerDelay:    time.Duration(breakerDelayMS) * time.Millisecond,
		Redis:           redisConfig,
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return RedisConfig{
		Host:     host,
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

// buildRuleSet reads the rules file when RATE_LIMIT_RULES_FILE is set and the
// environment lists otherwise.
func buildRuleSet() (*domain.RuleSet, error) {
	if path := strings.TrimSpace(os.Getenv("RATE_LIMIT_RULES_FILE")); path != "" {
		return LoadRulesFile(path)
	}

	requests, err := strconv.Atoi(getEnv("RATE_LIMIT_DEFAULT_REQUESTS", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_DEFAULT_REQUESTS: %w", err)
	}
	windowSeconds, err := strconv.Atoi(getEnv("RATE_LIMIT_DEFAULT_WINDOW_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_DEFAULT_WINDOW_SECONDS: %w", err)
	}

	rules, err := ParseRules(getEnv("RATE_LIMIT_RULES", "login:/login/:5:60,signup:/signup/:5:60,api:/api/:300:60"))
	if err != nil {
		return nil, err
	}
	exempt, err := ParseExempt(getEnv("RATE_LIMIT_EXEMPT", "static:/static/,media:/media/,admin:/admin/"))
	if err != nil {
		return nil, err
	}

	return domain.NewRuleSet(domain.RateLimitRule{
		RouteClass:  domain.DefaultRouteClass,
		MaxRequests: requests,
		Window:      time.Duration(windowSeconds) * time.Second,
	}, append(rules, exempt...)...)
}

// ParseRules reads CLASS:PREFIX:MAX_REQUESTS:WINDOW_SECONDS items separated by commas.
func ParseRules(raw string) ([]domain.RateLimitRule, error) {
	var rules []domain.RateLimitRule
	for _, item := range splitList(raw) {
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("rate limit rule must follow CLASS:PREFIX:MAX_REQUESTS:WINDOW_SECONDS: %s", item)
		}

		class := strings.TrimSpace(parts[0])
		requests, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid max requests for rule %s: %w", class, err)
		}
		windowSeconds, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid window seconds for rule %s: %w", class, err)
		}

		rules = append(rules, domain.RateLimitRule{
			RouteClass:  class,
			Prefix:      strings.TrimSpace(parts[1]),
			MaxRequests: requests,
			Window:      time.Duration(windowSeconds) * time.Second,
		})
	}
	return rules, nil
}

// ParseExempt reads CLASS:PREFIX items separated by commas.
func ParseExempt(raw string) ([]domain.RateLimitRule, error) {
	var rules []domain.RateLimitRule
	for _, item := range splitList(raw) {
		class, prefix, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("exempt rule must follow CLASS:PREFIX: %s", item)
		}
		rules = append(rules, domain.RateLimitRule{
			RouteClass: strings.TrimSpace(class),
			Prefix:     strings.TrimSpace(prefix),
			Exempt:     true,
		})
	}
	return rules, nil
}

func buildLockoutPolicy() (domain.LockoutPolicy, error) {
	maxAttempts, err := strconv.Atoi(getEnv("LOCKOUT_MAX_ATTEMPTS", "5"))
	if err != nil {
		return domain.LockoutPolicy{}, fmt.Errorf("invalid LOCKOUT_MAX_ATTEMPTS: %w", err)
	}
	durationMinutes, err := strconv.Atoi(getEnv("LOCKOUT_DURATION_MINUTES", "30"))
	if err != nil {
		return domain.LockoutPolicy{}, fmt.Errorf("invalid LOCKOUT_DURATION_MINUTES: %w", err)
	}
	windowMinutes, err := strconv.Atoi(getEnv("LOCKOUT_WINDOW_MINUTES", "30"))
	if err != nil {
		return domain.LockoutPolicy{}, fmt.Errorf("invalid LOCKOUT_WINDOW_MINUTES: %w", err)
	}

	return domain.LockoutPolicy{
		MaxAttempts:     maxAttempts,
		LockoutDuration: time.Duration(durationMinutes) * time.Minute,
		AttemptWindow:   time.Duration(windowMinutes) * time.Minute,
	}, nil
}

func buildScoringConfig() (ScoringConfig, error) {
	timeoutMS, err := strconv.Atoi(getEnv("SCORING_TIMEOUT_MS", "200"))
	if err != nil {
		return ScoringConfig{}, fmt.Errorf("invalid SCORING_TIMEOUT_MS: %w", err)
	}
	return ScoringConfig{
		URL:     strings.TrimSpace(os.Getenv("SCORING_URL")),
		APIKey:  os.Getenv("SCORING_API_KEY"),
		Mode:    getEnv("SCORING_MODE", "replace"),
		Timeout: time.Duration(timeoutMS) * time.Millisecond,
	}, nil
}

func buildRecaptchaConfig() (RecaptchaConfig, error) {
	minScore, err := strconv.ParseFloat(getEnv("RECAPTCHA_MIN_SCORE", "0.5"), 64)
	if err != nil {
		return RecaptchaConfig{}, fmt.Errorf("invalid RECAPTCHA_MIN_SCORE: %w", err)
	}
	return RecaptchaConfig{
		Secret:   os.Getenv("RECAPTCHA_SECRET"),
		MinScore: minScore,
	}, nil
}

// parseDemoUsers reads EMAIL:PASSWORD items separated by commas.
func parseDemoUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, item := range splitList(raw) {
		email, password, ok := strings.Cut(item, ":")
		if !ok || strings.TrimSpace(email) == "" {
			return nil, fmt.Errorf("demo user must follow EMAIL:PASSWORD: %s", item)
		}
		users[strings.TrimSpace(email)] = password
	}
	return users, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
