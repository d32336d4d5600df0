package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable reports that a counter store call failed or timed out.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrInvalidIdentity reports an empty or malformed client identity.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrConfiguration reports that no rate-limit rule could be resolved.
	ErrConfiguration = errors.New("rate limit configuration error")
	// ErrInvalidRule reports a rule that cannot be used to build a RuleSet.
	ErrInvalidRule = errors.New("invalid rate limit rule")
)

// StoreError carries the failed store operation and key.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsInvalidIdentity(err error) bool {
	return errors.Is(err, ErrInvalidIdentity)
}

// StoreOp extracts the operation name from a StoreError, or "unknown".
func StoreOp(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Op
	}
	return "unknown"
}
