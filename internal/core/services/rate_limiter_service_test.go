package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/adapters/storage/memory"
	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

func loginRules(t *testing.T) *domain.RuleSet {
	return mustRuleSet(t,
		domain.RateLimitRule{RouteClass: domain.DefaultRouteClass, MaxRequests: 100, Window: time.Minute},
		domain.RateLimitRule{RouteClass: "login", Prefix: "/login/", MaxRequests: 5, Window: time.Minute},
		domain.RateLimitRule{RouteClass: "api", Prefix: "/api/", MaxRequests: 3, Window: time.Second},
		domain.RateLimitRule{RouteClass: "static", Prefix: "/static/", Exempt: true},
	)
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	service := newTestLimiter(t, memory.New(), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		result := service.CheckAndIncrement(ctx, "1.2.3.4", "/login/")
		if !result.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if result.Count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, result.Count)
		}
		if result.Remaining != int64(5-i) {
			t.Fatalf("expected remaining %d, got %d", 5-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksAfterExceedingLimit(t *testing.T) {
	clock := newFakeClock()
	service := newTestLimiter(t, newClockedStorage(clock), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		service.CheckAndIncrement(ctx, "1.2.3.4", "/login/")
	}

	result := service.CheckAndIncrement(ctx, "1.2.3.4", "/login/")
	if result.Allowed {
		t.Fatalf("expected sixth request to be rejected")
	}
	if result.Rule.RouteClass != "login" {
		t.Fatalf("expected login rule, got %q", result.Rule.RouteClass)
	}
	if result.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", result.Remaining)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Minute {
		t.Fatalf("expected retry after within the window, got %s", result.RetryAfter)
	}

	// Rejections are counted too.
	again := service.CheckAndIncrement(ctx, "1.2.3.4", "/login/")
	if again.Allowed || again.Count != 7 {
		t.Fatalf("expected rejected request counted as 7, got %+v", again)
	}
}

func TestRateLimiter_IdentitiesAndClassesAreIndependent(t *testing.T) {
	service := newTestLimiter(t, memory.New(), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		service.CheckAndIncrement(ctx, "1.2.3.4", "/login/")
	}
	if service.Allow(ctx, "1.2.3.4", "/login/") {
		t.Fatalf("expected login budget exhausted")
	}
	if !service.Allow(ctx, "5.6.7.8", "/login/") {
		t.Fatalf("expected another IP to keep its own budget")
	}
	if !service.Allow(ctx, "1.2.3.4", "/dashboard") {
		t.Fatalf("expected the default class to keep its own budget")
	}
}

func TestRateLimiter_IdentityIsCaseInsensitive(t *testing.T) {
	service := newTestLimiter(t, memory.New(), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	first := service.CheckAndIncrement(ctx, "User@Example.com", "/login/")
	second := service.CheckAndIncrement(ctx, " user@example.com ", "/login/")
	if first.Count != 1 || second.Count != 2 {
		t.Fatalf("expected both spellings to share one counter, got %d and %d", first.Count, second.Count)
	}
}

func TestRateLimiter_WindowExpiryResetsCounter(t *testing.T) {
	clock := newFakeClock()
	service := newTestLimiter(t, newClockedStorage(clock), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		service.CheckAndIncrement(ctx, "10.0.0.1", "/api/v1/data")
	}
	if service.Allow(ctx, "10.0.0.1", "/api/v1/data") {
		t.Fatalf("expected api budget exhausted")
	}

	clock.Advance(1100 * time.Millisecond)

	result := service.CheckAndIncrement(ctx, "10.0.0.1", "/api/v1/data")
	if !result.Allowed || result.Count != 1 {
		t.Fatalf("expected fresh window after expiry, got %+v", result)
	}
}

func TestRateLimiter_IncrementRefreshesWindow(t *testing.T) {
	clock := newFakeClock()
	service := newTestLimiter(t, newClockedStorage(clock), RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	// Three requests spaced under the one second window keep the key alive,
	// so the fourth is rejected even though 1.8s have passed since the first.
	for i := 0; i < 3; i++ {
		if !service.Allow(ctx, "10.0.0.2", "/api/") {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
		clock.Advance(600 * time.Millisecond)
	}
	if service.Allow(ctx, "10.0.0.2", "/api/") {
		t.Fatalf("expected the refreshed window to still hold the counter")
	}
}

func TestRateLimiter_ExemptNeverTouchesStore(t *testing.T) {
	storage := &countingStorage{Storage: memory.New()}
	service := newTestLimiter(t, storage, RateLimiterConfig{Rules: loginRules(t)})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		result := service.CheckAndIncrement(ctx, "1.2.3.4", "/static/app.css")
		if !result.Allowed || !result.Rule.Exempt {
			t.Fatalf("expected exempt allow, got %+v", result)
		}
	}
	if storage.increments != 0 {
		t.Fatalf("expected no store increments, got %d", storage.increments)
	}
}

func TestRateLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	storage := &failingStorage{}
	metrics := &recordingMetrics{}
	service := newTestLimiter(t, storage, RateLimiterConfig{Rules: loginRules(t), Metrics: metrics})

	for i := 0; i < 20; i++ {
		result := service.CheckAndIncrement(context.Background(), "1.2.3.4", "/login/")
		if !result.Allowed || !result.FailedOpen {
			t.Fatalf("expected fail-open allow at attempt %d, got %+v", i+1, result)
		}
	}
	if got := metrics.storeErrors["increment"]; got != 20 {
		t.Fatalf("expected 20 increment errors recorded, got %d", got)
	}
}

func TestRateLimiter_EmptyIdentityIsAllowed(t *testing.T) {
	storage := &countingStorage{Storage: memory.New()}
	service := newTestLimiter(t, storage, RateLimiterConfig{Rules: loginRules(t)})

	if !service.Allow(context.Background(), "   ", "/login/") {
		t.Fatalf("expected empty identity to be allowed")
	}
	if storage.increments != 0 {
		t.Fatalf("expected no store access for empty identity")
	}
}

func TestRateLimiter_UsesBuiltinRuleWithoutRuleSet(t *testing.T) {
	service := newTestLimiter(t, memory.New(), RateLimiterConfig{})

	rule := service.Rule("/anything")
	if rule.MaxRequests != 100 || rule.Window != time.Minute {
		t.Fatalf("expected built-in 100/min rule, got %+v", rule)
	}
}

func TestRateLimiter_ConcurrentIncrementsAreCounted(t *testing.T) {
	const workers = 64
	service := newTestLimiter(t, memory.New(), RateLimiterConfig{Rules: mustRuleSet(t,
		domain.RateLimitRule{RouteClass: domain.DefaultRouteClass, MaxRequests: 10, Window: time.Minute},
	)})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if service.Allow(ctx, "203.0.113.9", "/") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("expected exactly 10 allowed under concurrency, got %d", allowed)
	}
	last := service.CheckAndIncrement(ctx, "203.0.113.9", "/")
	if last.Count != workers+1 {
		t.Fatalf("expected count %d, got %d", workers+1, last.Count)
	}
}

func TestRateLimiter_NewRequiresStorage(t *testing.T) {
	if _, err := NewRateLimiterService(nil, RateLimiterConfig{}); err == nil {
		t.Fatalf("expected error for nil storage")
	}
}

func TestRateLimiter_KeysAreNamespaced(t *testing.T) {
	storage := memory.New()
	service := newTestLimiter(t, storage, RateLimiterConfig{Rules: loginRules(t)})
	service.CheckAndIncrement(context.Background(), "1.2.3.4", "/login/")

	keys, err := storage.Scan(context.Background(), KeyPrefix)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	want := fmt.Sprintf("%slogin:1.2.3.4", rateLimitPrefix)
	if len(keys) != 1 || keys[0] != want {
		t.Fatalf("expected key %q, got %v", want, keys)
	}
}
