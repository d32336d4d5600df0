// Package domain concentra entidades e estruturas centrais do motor de proteção.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultRouteClass names the fallback rule.
const DefaultRouteClass = "default"

// RateLimitRule is the immutable configuration of one route class.
// An Exempt rule is the no-op rule carried by static assets and admin panels.
type RateLimitRule struct {
	RouteClass  string
	Prefix      string
	MaxRequests int
	Window      time.Duration
	Exempt      bool
}

func (r RateLimitRule) validate() error {
	if strings.TrimSpace(r.RouteClass) == "" {
		return fmt.Errorf("%w: route class is required", ErrInvalidRule)
	}
	if r.Exempt {
		return nil
	}
	if r.MaxRequests <= 0 || r.Window <= 0 {
		return fmt.Errorf("%w: %s must have positive max requests and window", ErrInvalidRule, r.RouteClass)
	}
	return nil
}

// RuleSet resolves request paths to rules by longest static-prefix match.
type RuleSet struct {
	rules    []RateLimitRule
	fallback RateLimitRule
}

// NewRuleSet validates the rules and orders them for longest-prefix lookup.
func NewRuleSet(fallback RateLimitRule, rules ...RateLimitRule) (*RuleSet, error) {
	if fallback.RouteClass == "" {
		fallback.RouteClass = DefaultRouteClass
	}
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("fallback rule: %w", err)
	}

	seen := make(map[string]struct{}, len(rules))
	sorted := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		if rule.Prefix == "" || !strings.HasPrefix(rule.Prefix, "/") {
			return nil, fmt.Errorf("%w: %s prefix %q must start with /", ErrInvalidRule, rule.RouteClass, rule.Prefix)
		}
		if _, dup := seen[rule.Prefix]; dup {
			return nil, fmt.Errorf("%w: duplicate prefix %q", ErrInvalidRule, rule.Prefix)
		}
		seen[rule.Prefix] = struct{}{}
		sorted = append(sorted, rule)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &RuleSet{rules: sorted, fallback: fallback}, nil
}

// Resolve returns the rule for path. The boolean is false when the fallback
// rule was used because no prefix matched.
func (s *RuleSet) Resolve(path string) (RateLimitRule, bool) {
	if s == nil {
		return RateLimitRule{}, false
	}
	for _, rule := range s.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return s.fallback, false
}

// Fallback returns the default rule.
func (s *RuleSet) Fallback() RateLimitRule {
	return s.fallback
}

// Rules returns a copy of the prefix rules, longest prefix first.
func (s *RuleSet) Rules() []RateLimitRule {
	out := make([]RateLimitRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// RateLimitResult is the outcome of a single CheckAndIncrement call.
type RateLimitResult struct {
	Allowed    bool
	Rule       RateLimitRule
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
	FailedOpen bool
}
