package services

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

// KeyPrefix namespaces every key the engine writes to the shared store.
const KeyPrefix = "guard:"

const (
	rateLimitPrefix = KeyPrefix + "rl:"
	failurePrefix   = KeyPrefix + "lockout:fail:"
	lockPrefix      = KeyPrefix + "lockout:lock:"
)

func rateLimitKey(routeClass, identity string) string {
	return rateLimitPrefix + routeClass + ":" + strings.ToLower(strings.TrimSpace(identity))
}

func failureKey(id domain.Identity) string {
	return failurePrefix + id.String()
}

func lockKey(id domain.Identity) string {
	return lockPrefix + id.String()
}

// identityFromLockKey reverses lockKey.
func identityFromLockKey(key string) (domain.Identity, error) {
	return domain.ParseIdentity(strings.TrimPrefix(key, lockPrefix))
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
