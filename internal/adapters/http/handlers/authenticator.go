package handlers

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// StaticAuthenticator checks credentials against a fixed account map. It
// stands in for the application's user table.
type StaticAuthenticator struct {
	users map[string]string
}

var _ ports.Authenticator = (*StaticAuthenticator)(nil)

func NewStaticAuthenticator(users map[string]string) *StaticAuthenticator {
	normalised := make(map[string]string, len(users))
	for account, password := range users {
		normalised[strings.ToLower(strings.TrimSpace(account))] = password
	}
	return &StaticAuthenticator{users: normalised}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, account, password string) (bool, error) {
	want, ok := a.users[strings.ToLower(strings.TrimSpace(account))]
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1, nil
}
