// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

// MaxBodyExcerpt is how much of a request body the attack heuristics see.
const MaxBodyExcerpt = 4096

// NewGuardMiddleware evaluates every request before it reaches the router's
// handlers and answers denied requests itself.
func NewGuardMiddleware(guard ports.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if guard == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision := guard.EvaluateRequest(r.Context(), domain.Request{
				ClientIP:  ClientIP(r),
				Signature: Signature(r),
			})
			if !decision.Allowed {
				WriteDecision(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then the
// transport peer address.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		first, _, _ := strings.Cut(xForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if xRealIP != "" {
		return xRealIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}

	return host
}

// Signature extracts the heuristic inputs from r. The body excerpt is read
// and put back so handlers still see the full body.
func Signature(r *http.Request) domain.RequestSignature {
	return domain.RequestSignature{
		UserAgent: r.Header.Get("User-Agent"),
		Accept:    r.Header.Get("Accept"),
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		Body:      bodyExcerpt(r),
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}

func bodyExcerpt(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	// A read error leaves a partial excerpt.
	excerpt, _ := io.ReadAll(io.LimitReader(r.Body, MaxBodyExcerpt))
	r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(excerpt), r.Body), Closer: r.Body}
	return string(excerpt)
}

type denial struct {
	Error                string `json:"error"`
	RetryAfterSeconds    int    `json:"retry_after_seconds,omitempty"`
	LockSecondsRemaining int    `json:"lock_seconds_remaining,omitempty"`
}

// WriteDecision renders a denied decision. Bot and attack verdicts share one
// generic body so probing clients cannot tell which heuristic fired.
func WriteDecision(w http.ResponseWriter, d domain.SecurityDecision) {
	body := denial{Error: "forbidden"}

	switch d.Reason {
	case domain.ReasonRateLimited:
		body.Error = d.Reason.String()
		body.RetryAfterSeconds = intDetail(d, domain.DetailRetryAfterSeconds, 1)
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	case domain.ReasonAccountLocked:
		body.Error = d.Reason.String()
		body.LockSecondsRemaining = intDetail(d, domain.DetailLockSecondsRemaining, 0)
		if body.LockSecondsRemaining > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(body.LockSecondsRemaining))
		}
	}

	WriteJSON(w, d.Reason.HTTPStatus(), body)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intDetail(d domain.SecurityDecision, key string, fallback int) int {
	if v, ok := d.Detail[key].(int); ok {
		return v
	}
	return fallback
}
