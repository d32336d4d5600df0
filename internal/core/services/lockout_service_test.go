package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/nazaninghn/carbon-guard/internal/adapters/storage/memory"
	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

func failTimes(t *testing.T, service *LockoutService, id domain.Identity, n int) domain.LockoutStatus {
	t.Helper()
	var status domain.LockoutStatus
	for i := 0; i < n; i++ {
		var err error
		status, err = service.RecordFailure(context.Background(), id)
		if err != nil {
			t.Fatalf("unexpected error on failure %d: %v", i+1, err)
		}
	}
	return status
}

func TestLockout_LocksAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	status := failTimes(t, service, id, 4)
	if status.State != domain.StateWarning || status.AttemptsRemaining != 1 {
		t.Fatalf("expected warning with 1 attempt left, got %+v", status)
	}
	if service.IsLocked(ctx, id) {
		t.Fatalf("expected identity not locked after 4 failures")
	}

	status = failTimes(t, service, id, 1)
	if status.State != domain.StateLocked {
		t.Fatalf("expected locked state, got %s", status.State)
	}
	if status.AttemptsRemaining != 0 {
		t.Fatalf("expected 0 attempts remaining, got %d", status.AttemptsRemaining)
	}
	if !service.IsLocked(ctx, id) {
		t.Fatalf("expected identity locked")
	}
	if got := service.LockSecondsRemaining(ctx, id); got < 1795 || got > 1800 {
		t.Fatalf("expected about 1800 seconds remaining, got %d", got)
	}
}

func TestLockout_LockExpires(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	failTimes(t, service, id, 5)

	clock.Advance(29 * time.Minute)
	if !service.IsLocked(ctx, id) {
		t.Fatalf("expected lock to hold before the duration elapses")
	}
	if got := service.LockSecondsRemaining(ctx, id); got != 60 {
		t.Fatalf("expected 60 seconds remaining, got %d", got)
	}

	clock.Advance(time.Minute + time.Second)
	if service.IsLocked(ctx, id) {
		t.Fatalf("expected lock to expire")
	}
	if got := service.AttemptsRemaining(ctx, id); got != 5 {
		t.Fatalf("expected attempts to reset with the window, got %d", got)
	}
}

func TestLockout_FailuresWhileLockedDoNotExtendLock(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()
	id := domain.NewIPIdentity("1.2.3.4")

	failTimes(t, service, id, 5)
	clock.Advance(10 * time.Minute)

	status := failTimes(t, service, id, 3)
	if status.State != domain.StateLocked || status.FailedCount != 5 {
		t.Fatalf("expected refused failures not to be counted, got %+v", status)
	}
	if got := service.LockSecondsRemaining(ctx, id); got != 20*60 {
		t.Fatalf("expected the original lock to remain at 1200s, got %d", got)
	}

	clock.Advance(19 * time.Minute)
	failTimes(t, service, id, 1)

	clock.Advance(time.Minute + time.Second)
	status = service.Status(ctx, id)
	if status.State != domain.StateClear || status.AttemptsRemaining != 5 || status.FailedCount != 0 {
		t.Fatalf("expected a clean slate once the lock expires, got %+v", status)
	}

	status = failTimes(t, service, id, 1)
	if status.State != domain.StateWarning || status.AttemptsRemaining != 4 {
		t.Fatalf("expected one typo after expiry to leave 4 attempts, got %+v", status)
	}
}

func TestLockout_CounterExpiresWithShorterLock(t *testing.T) {
	clock := newFakeClock()
	service, err := NewLockoutService(newClockedStorage(clock), LockoutConfig{
		Policy: domain.LockoutPolicy{MaxAttempts: 3, LockoutDuration: 5 * time.Minute, AttemptWindow: time.Hour},
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	failTimes(t, service, id, 3)
	clock.Advance(5*time.Minute + time.Second)

	if got := service.Status(ctx, id); got.State != domain.StateClear || got.AttemptsRemaining != 3 {
		t.Fatalf("expected the counter to expire with the lock, got %+v", got)
	}
}

func TestLockout_SuccessClearsCounterButNotLock(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	failTimes(t, service, id, 3)
	status, err := service.Record(ctx, id, domain.AuthSucceeded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != domain.StateClear || status.AttemptsRemaining != 5 {
		t.Fatalf("expected clear state after success, got %+v", status)
	}

	failTimes(t, service, id, 5)
	if _, err := service.Record(ctx, id, domain.AuthSucceeded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !service.IsLocked(ctx, id) {
		t.Fatalf("expected success to leave the lock in place")
	}
	if got := service.FailedCount(ctx, id); got != 0 {
		t.Fatalf("expected failed count cleared, got %d", got)
	}
}

func TestLockout_UnlockClearsEverything(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	failTimes(t, service, id, 5)
	if err := service.Unlock(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := service.Status(ctx, id)
	if status.State != domain.StateClear || status.FailedCount != 0 || status.LockSecondsRemaining != 0 {
		t.Fatalf("expected fully cleared status, got %+v", status)
	}
}

func TestLockout_AccountAndIPAreSeparate(t *testing.T) {
	clock := newFakeClock()
	service := newTestLockout(t, newClockedStorage(clock), clock)
	ctx := context.Background()

	account := domain.NewAccountIdentity("1.2.3.4")
	ip := domain.NewIPIdentity("1.2.3.4")

	failTimes(t, service, account, 5)
	if service.IsLocked(ctx, ip) {
		t.Fatalf("expected IP namespace to be untouched by account lock")
	}

	id, seconds, locked := service.AnyLocked(ctx, ip, account)
	if !locked || id != account || seconds <= 0 {
		t.Fatalf("expected AnyLocked to report the account, got %v %d %v", id, seconds, locked)
	}
}

func TestLockout_InvalidIdentity(t *testing.T) {
	service := newTestLockout(t, memory.New(), nil)

	_, err := service.RecordFailure(context.Background(), domain.NewAccountIdentity("  "))
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if service.IsLocked(context.Background(), domain.Identity{Kind: "user", Value: "x"}) {
		t.Fatalf("expected unknown kind never to be locked")
	}
}

func TestLockout_FailsOpenWhenStoreUnavailable(t *testing.T) {
	storage := &failingStorage{}
	service := newTestLockout(t, storage, nil)
	ctx := context.Background()
	id := domain.NewAccountIdentity("a@x.com")

	status, err := service.RecordFailure(ctx, id)
	if !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable error, got %v", err)
	}
	if status.State != domain.StateClear {
		t.Fatalf("expected clear status on failure, got %+v", status)
	}
	if service.IsLocked(ctx, id) {
		t.Fatalf("expected queries to fail open")
	}
	if got := service.AttemptsRemaining(ctx, id); got != 5 {
		t.Fatalf("expected full attempts when store is down, got %d", got)
	}
	if _, _, locked := service.AnyLocked(ctx, id); locked {
		t.Fatalf("expected AnyLocked to fail open")
	}
}

func TestLockout_AttemptsRemainingTracksFailures(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxAttempts := rapid.IntRange(1, 10).Draw(rt, "max")
		failures := rapid.IntRange(0, 15).Draw(rt, "failures")

		clock := newFakeClock()
		service, err := NewLockoutService(newClockedStorage(clock), LockoutConfig{
			Policy: domain.LockoutPolicy{MaxAttempts: maxAttempts, LockoutDuration: time.Hour, AttemptWindow: time.Hour},
			Now:    clock.Now,
		})
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		ctx := context.Background()
		id := domain.NewIPIdentity("198.51.100.7")

		for i := 0; i < failures; i++ {
			if _, err := service.RecordFailure(ctx, id); err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
		}

		want := maxAttempts - failures
		if want < 0 {
			want = 0
		}
		if got := service.AttemptsRemaining(ctx, id); got != want {
			rt.Fatalf("attempts remaining = %d, want %d", got, want)
		}
		if locked := service.IsLocked(ctx, id); locked != (failures >= maxAttempts) {
			rt.Fatalf("locked = %v after %d failures with max %d", locked, failures, maxAttempts)
		}
	})
}

func TestLockout_DefaultsPolicy(t *testing.T) {
	service := newTestLockout(t, memory.New(), nil)
	if service.Policy() != domain.DefaultLockoutPolicy() {
		t.Fatalf("expected default policy, got %+v", service.Policy())
	}
}
