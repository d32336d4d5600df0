// Package recaptcha verifica tokens de desafio humano via siteverify.
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

const (
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	defaultMinScore  = 0.5
	defaultTimeout   = 2 * time.Second
)

type Config struct {
	Secret    string
	VerifyURL string
	MinScore  float64
	Timeout   time.Duration
	Client    *http.Client
}

// Verifier accepts a token when siteverify reports success, the action matches
// and the score reaches MinScore.
type Verifier struct {
	secret   string
	url      string
	minScore float64
	timeout  time.Duration
	client   *http.Client
}

var _ ports.HumanVerifier = (*Verifier)(nil)

func New(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("recaptcha secret is required")
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Verifier{
		secret:   cfg.Secret,
		url:      cfg.VerifyURL,
		minScore: cfg.MinScore,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
	}, nil
}

type verifyResponse struct {
	Success bool     `json:"success"`
	Score   float64  `json:"score"`
	Action  string   `json:"action"`
	Errors  []string `json:"error-codes"`
}

func (v *Verifier) IsHuman(ctx context.Context, token, action, clientIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if clientIP != "" {
		form.Set("remoteip", clientIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("verify request: unexpected status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode verify response: %w", err)
	}

	if !out.Success {
		return false, nil
	}
	if action != "" && out.Action != "" && out.Action != action {
		return false, nil
	}
	return out.Score >= v.minScore, nil
}
