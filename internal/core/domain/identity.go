package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// IdentityKind separates the two lockout namespaces.
type IdentityKind string

const (
	KindAccount IdentityKind = "account"
	KindIP      IdentityKind = "ip"
)

const maxIdentityLength = 320

// Identity is an opaque client key. It is never checked against a user table.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// NewAccountIdentity normalises a submitted account identifier (email).
func NewAccountIdentity(account string) Identity {
	return Identity{Kind: KindAccount, Value: strings.ToLower(strings.TrimSpace(account))}
}

// NewIPIdentity wraps a resolved client IP.
func NewIPIdentity(ip string) Identity {
	return Identity{Kind: KindIP, Value: strings.TrimSpace(ip)}
}

// Validate returns ErrInvalidIdentity for empty, oversized or non-printable values.
func (id Identity) Validate() error {
	if id.Kind != KindAccount && id.Kind != KindIP {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIdentity, id.Kind)
	}
	if id.Value == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidIdentity, id.Kind)
	}
	if len(id.Value) > maxIdentityLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidIdentity, id.Kind, maxIdentityLength)
	}
	for _, r := range id.Value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains whitespace or control characters", ErrInvalidIdentity, id.Kind)
		}
	}
	return nil
}

// String renders the identity as "kind:value", the form used inside store keys.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.Value
}

// ParseIdentity reverses String. The value part may itself contain colons (IPv6).
func ParseIdentity(s string) (Identity, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q has no kind prefix", ErrInvalidIdentity, s)
	}
	id := Identity{Kind: IdentityKind(kind), Value: value}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}
