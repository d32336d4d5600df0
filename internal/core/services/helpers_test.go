package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/adapters/storage/memory"
	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedStorage(clock *fakeClock) *memory.Storage {
	return memory.New(memory.WithClock(clock.Now))
}

// failingStorage simulates an unreachable counter store.
type failingStorage struct {
	mu    sync.Mutex
	calls int
}

var errConnRefused = errors.New("dial tcp: connection refused")

func (f *failingStorage) fail(op, key string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &domain.StoreError{Op: op, Key: key, Err: errConnRefused}
}

func (f *failingStorage) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	return 0, f.fail("increment", key)
}

func (f *failingStorage) Get(_ context.Context, key string) (int64, bool, error) {
	return 0, false, f.fail("get", key)
}

func (f *failingStorage) Set(_ context.Context, key string, _ int64, _ time.Duration) error {
	return f.fail("set", key)
}

func (f *failingStorage) Delete(_ context.Context, _ ...string) error {
	return f.fail("delete", "")
}

func (f *failingStorage) TTL(_ context.Context, key string) (time.Duration, error) {
	return 0, f.fail("ttl", key)
}

func (f *failingStorage) Scan(_ context.Context, prefix string) ([]string, error) {
	return nil, f.fail("scan", prefix)
}

// countingStorage records how often the limiter reached the store.
type countingStorage struct {
	*memory.Storage
	mu         sync.Mutex
	increments int
}

func (c *countingStorage) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	c.increments++
	c.mu.Unlock()
	return c.Storage.Increment(ctx, key, ttl)
}

// spyDetector wraps the real detector and counts calls.
type spyDetector struct {
	*DetectorService
	mu          sync.Mutex
	botCalls    int
	attackCalls int
}

func newSpyDetector() *spyDetector {
	return &spyDetector{DetectorService: NewDetectorService(DetectorConfig{})}
}

func (s *spyDetector) ClassifyBot(sig domain.RequestSignature) bool {
	s.mu.Lock()
	s.botCalls++
	s.mu.Unlock()
	return s.DetectorService.ClassifyBot(sig)
}

func (s *spyDetector) ClassifyAttack(sig domain.RequestSignature) bool {
	s.mu.Lock()
	s.attackCalls++
	s.mu.Unlock()
	return s.DetectorService.ClassifyAttack(sig)
}

func (s *spyDetector) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.botCalls, s.attackCalls
}

// browserSignature looks like an ordinary page load.
func browserSignature(path string) domain.RequestSignature {
	return domain.RequestSignature{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36",
		Accept:    "text/html,application/xhtml+xml",
		Path:      path,
	}
}

func mustRuleSet(t testing.TB, fallback domain.RateLimitRule, rules ...domain.RateLimitRule) *domain.RuleSet {
	t.Helper()
	set, err := domain.NewRuleSet(fallback, rules...)
	if err != nil {
		t.Fatalf("failed to build rule set: %v", err)
	}
	return set
}

// newTestLimiter is a helper that fails the test immediately if creation fails.
func newTestLimiter(t testing.TB, storage ports.Storage, cfg RateLimiterConfig) *RateLimiterService {
	t.Helper()
	service, err := NewRateLimiterService(storage, cfg)
	if err != nil {
		t.Fatalf("failed to create rate limiter service: %v", err)
	}
	return service
}

func newTestLockout(t testing.TB, storage ports.Storage, clock *fakeClock) *LockoutService {
	t.Helper()
	cfg := LockoutConfig{Policy: domain.DefaultLockoutPolicy()}
	if clock != nil {
		cfg.Now = clock.Now
	}
	service, err := NewLockoutService(storage, cfg)
	if err != nil {
		t.Fatalf("failed to create lockout service: %v", err)
	}
	return service
}

type recordingMetrics struct {
	mu          sync.Mutex
	decisions   map[domain.Reason]int
	storeErrors map[string]int
}

func (m *recordingMetrics) ObserveDecision(d domain.SecurityDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = make(map[domain.Reason]int)
	}
	m.decisions[d.Reason]++
}

func (m *recordingMetrics) StoreError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErrors == nil {
		m.storeErrors = make(map[string]int)
	}
	m.storeErrors[op]++
}
