// Package scoring integra um serviço externo de detecção de bots e ataques.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

const defaultTimeout = 200 * time.Millisecond

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// Backend posts the request signature as JSON and reads back a verdict.
//
//	POST {URL}  {"user_agent":..., "accept":..., "path":..., "query":..., "body":...}
//	200         {"verdict": "allow" | "bot" | "attack"}
type Backend struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

var _ ports.ScoringBackend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("scoring url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Backend{url: cfg.URL, apiKey: cfg.APIKey, timeout: cfg.Timeout, client: cfg.Client}, nil
}

type scoreRequest struct {
	UserAgent string `json:"user_agent"`
	Accept    string `json:"accept"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	Body      string `json:"body"`
}

type scoreResponse struct {
	Verdict string `json:"verdict"`
}

func (b *Backend) ScoreRequest(ctx context.Context, sig domain.RequestSignature) (domain.SecurityDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	payload, err := json.Marshal(scoreRequest{
		UserAgent: sig.UserAgent,
		Accept:    sig.Accept,
		Path:      sig.Path,
		Query:     sig.Query,
		Body:      sig.Body,
	})
	if err != nil {
		return domain.SecurityDecision{}, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return domain.SecurityDecision{}, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.SecurityDecision{}, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.SecurityDecision{}, fmt.Errorf("score request: unexpected status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return domain.SecurityDecision{}, fmt.Errorf("decode score response: %w", err)
	}

	switch out.Verdict {
	case "allow":
		return domain.Allow(), nil
	case "bot":
		return domain.Deny(domain.ReasonBotDetected, nil), nil
	case "attack":
		return domain.Deny(domain.ReasonAttackDetected, nil), nil
	default:
		return domain.SecurityDecision{}, fmt.Errorf("unknown verdict %q", out.Verdict)
	}
}
