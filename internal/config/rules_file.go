package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
)

// rulesFile is the YAML layout of RATE_LIMIT_RULES_FILE:
//
//	default:
//	  max_requests: 100
//	  window_seconds: 60
//	rules:
//	  - class: login
//	    prefix: /login/
//	    max_requests: 5
//	    window_seconds: 60
//	  - class: static
//	    prefix: /static/
//	    exempt: true
type rulesFile struct {
	Default ruleEntry   `yaml:"default"`
	Rules   []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Class         string `yaml:"class"`
	Prefix        string `yaml:"prefix"`
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	Exempt        bool   `yaml:"exempt"`
}

func (e ruleEntry) rule() domain.RateLimitRule {
	return domain.RateLimitRule{
		RouteClass:  e.Class,
		Prefix:      e.Prefix,
		MaxRequests: e.MaxRequests,
		Window:      time.Duration(e.WindowSeconds) * time.Second,
		Exempt:      e.Exempt,
	}
}

func LoadRulesFile(path string) (*domain.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRulesYAML(raw)
}

func ParseRulesYAML(raw []byte) (*domain.RuleSet, error) {
	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules := make([]domain.RateLimitRule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		rules = append(rules, entry.rule())
	}
	return domain.NewRuleSet(file.Default.rule(), rules...)
}
