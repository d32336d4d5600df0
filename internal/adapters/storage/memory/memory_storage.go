// Package memory disponibiliza um storage em memória com TTL por chave.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

type item struct {
	value     int64
	expiresAt time.Time
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// Storage is an in-process counter store.
//
// It is safe for concurrent use, but its state is local to the process and is
// not shared across replicas. Use the redis storage when several instances
// must share one budget per identity.
type Storage struct {
	mu    sync.Mutex
	items map[string]*item
	now   func() time.Time

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

var _ ports.Storage = (*Storage)(nil)

type Option func(*Storage)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval starts a background goroutine that evicts expired keys.
// Without it keys are only evicted lazily when touched.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Storage) {
		s.sweepEvery = d
	}
}

func New(opts ...Option) *Storage {
	s := &Storage{
		items: make(map[string]*item),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepEvery > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}

	return s
}

// Close stops the sweeper. Safe to call more than once.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *Storage) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	it := s.live(key, now)
	if it == nil {
		it = &item{}
		s.items[key] = it
	}
	it.value++
	it.expiresAt = expiry(now, ttl)
	return it.value, nil
}

func (s *Storage) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.live(key, s.now())
	if it == nil {
		return 0, false, nil
	}
	return it.value, true, nil
}

func (s *Storage) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &item{value: value, expiresAt: expiry(s.now(), ttl)}
	return nil
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *Storage) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	it := s.live(key, now)
	if it == nil || it.expiresAt.IsZero() {
		return 0, nil
	}
	return it.expiresAt.Sub(now), nil
}

func (s *Storage) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len reports the number of keys currently held, expired ones included.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// live returns the item for key, evicting it first if it has expired.
// Callers must hold s.mu.
func (s *Storage) live(key string, now time.Time) *item {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if it.expired(now) {
		delete(s.items, key)
		return nil
	}
	return it
}

func (s *Storage) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Storage) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
		}
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Ping always succeeds; the store lives in process.
func (s *Storage) Ping(context.Context) error {
	return nil
}
