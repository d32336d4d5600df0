package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// AdminService expõe operações de gestão para operadores. Não há endpoint HTTP.
type AdminService struct {
	storage ports.Storage
	lockout *LockoutService
	logger  zerolog.Logger
}

func NewAdminService(storage ports.Storage, lockout *LockoutService, logger *zerolog.Logger) (*AdminService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if lockout == nil {
		return nil, fmt.Errorf("lockout manager is required")
	}
	return &AdminService{storage: storage, lockout: lockout, logger: loggerOrNop(logger)}, nil
}

// ListLocked enumerates identities holding a live lock, longest lock first.
func (a *AdminService) ListLocked(ctx context.Context) ([]domain.LockedIdentity, error) {
	keys, err := a.storage.Scan(ctx, lockPrefix)
	if err != nil {
		return nil, fmt.Errorf("list locked identities: %w", err)
	}

	locked := make([]domain.LockedIdentity, 0, len(keys))
	for _, key := range keys {
		id, err := identityFromLockKey(key)
		if err != nil {
			a.logger.Debug().Err(err).Str("key", key).Msg("skipping unparseable lock key")
			continue
		}
		seconds := a.lockout.LockSecondsRemaining(ctx, id)
		if seconds == 0 {
			continue
		}
		locked = append(locked, domain.LockedIdentity{Identity: id, SecondsRemaining: seconds})
	}

	sort.Slice(locked, func(i, j int) bool {
		if locked[i].SecondsRemaining != locked[j].SecondsRemaining {
			return locked[i].SecondsRemaining > locked[j].SecondsRemaining
		}
		return locked[i].Identity.String() < locked[j].Identity.String()
	})
	return locked, nil
}

// Unlock force-unlocks value. A value of the form "kind:value" unlocks that
// identity only; a bare value is unlocked as both an account and an IP.
func (a *AdminService) Unlock(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if id, err := domain.ParseIdentity(value); err == nil {
		return a.lockout.Unlock(ctx, id)
	}

	var unlocked int
	for _, id := range []domain.Identity{domain.NewAccountIdentity(value), domain.NewIPIdentity(value)} {
		if id.Validate() != nil {
			continue
		}
		if err := a.lockout.Unlock(ctx, id); err != nil {
			return fmt.Errorf("unlock %s: %w", id, err)
		}
		unlocked++
	}
	if unlocked == 0 {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIdentity, value)
	}
	return nil
}

// Status reports the lockout counters for a bare value as an account and as an IP.
func (a *AdminService) Status(ctx context.Context, value string) []domain.LockoutStatus {
	if id, err := domain.ParseIdentity(strings.TrimSpace(value)); err == nil {
		return []domain.LockoutStatus{a.lockout.Status(ctx, id)}
	}
	var out []domain.LockoutStatus
	for _, id := range []domain.Identity{domain.NewAccountIdentity(value), domain.NewIPIdentity(value)} {
		if id.Validate() == nil {
			out = append(out, a.lockout.Status(ctx, id))
		}
	}
	return out
}

// ClearAll deletes every counter and lock the engine has written and returns
// how many keys were removed.
func (a *AdminService) ClearAll(ctx context.Context) (int, error) {
	keys, err := a.storage.Scan(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan counters: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		if err := a.storage.Delete(ctx, keys[start:end]...); err != nil {
			return start, fmt.Errorf("delete counters: %w", err)
		}
	}
	a.logger.Info().Int("keys", len(keys)).Msg("all counters cleared")
	return len(keys), nil
}
