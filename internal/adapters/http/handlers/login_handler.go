// Package handlers agrupa os handlers HTTP da aplicação protegida.
package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nazaninghn/carbon-guard/internal/adapters/http/middleware"
	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

const (
	loginAction  = "login"
	maxLoginBody = 1 << 16
)

// credentialFields are stripped from the signature before the heuristics and
// the scoring backend see it.
var credentialFields = []string{"password", "captcha_token"}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

// LoginHandler runs the human-verification gate, then the guard's login flow.
// It must be mounted outside the general guard middleware so each attempt is
// evaluated once.
type LoginHandler struct {
	guard    ports.Guard
	authn    ports.Authenticator
	verifier ports.HumanVerifier
	logger   zerolog.Logger
}

// NewLoginHandler builds the handler. verifier may be nil.
func NewLoginHandler(guard ports.Guard, authn ports.Authenticator, verifier ports.HumanVerifier, logger zerolog.Logger) *LoginHandler {
	return &LoginHandler{guard: guard, authn: authn, verifier: verifier, logger: logger}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := middleware.ClientIP(r)
	sig := middleware.Signature(r)

	contentType := r.Header.Get("Content-Type")

	req, err := decodeLogin(w, r)
	if err != nil {
		// Malformed attempts still count against the limiter and are classified.
		sig.Body = withoutCredentials(sig.Body, contentType, "")
		if decision := h.guard.EvaluateRequest(r.Context(), domain.Request{ClientIP: ip, Signature: sig}); !decision.Allowed {
			middleware.WriteDecision(w, decision)
			return
		}
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	sig.Body = withoutCredentials(sig.Body, contentType, req.Email)

	if h.verifier != nil {
		human, err := h.verifier.IsHuman(r.Context(), req.CaptchaToken, loginAction, ip)
		if err != nil {
			h.logger.Warn().Err(err).Msg("human verification unavailable, continuing")
		} else if !human {
			middleware.WriteDecision(w, domain.Deny(domain.ReasonBotDetected, nil))
			return
		}
	}

	decision, authenticated := h.guard.Login(r.Context(), domain.LoginAttempt{
		Account:   req.Email,
		ClientIP:  ip,
		Signature: sig,
	}, func(ctx context.Context) (bool, error) {
		return h.authn.Authenticate(ctx, req.Email, req.Password)
	})

	if !decision.Allowed {
		middleware.WriteDecision(w, decision)
		return
	}

	if !authenticated {
		body := map[string]any{"error": "invalid_credentials"}
		for _, key := range []string{domain.DetailAttemptsRemaining, domain.DetailLockSecondsRemaining} {
			if v, ok := decision.Detail[key]; ok {
				body[key] = v
			}
		}
		middleware.WriteJSON(w, http.StatusUnauthorized, body)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return loginRequest{}, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return loginRequest{}, err
	}
	return loginRequest{
		Email:        strings.TrimSpace(r.PostForm.Get("email")),
		Password:     r.PostForm.Get("password"),
		CaptchaToken: r.PostForm.Get("captcha_token"),
	}, nil
}

// withoutCredentials re-encodes a login body excerpt with the credential
// fields removed. An excerpt that cannot be parsed is replaced by the email
// alone.
func withoutCredentials(excerpt, contentType, email string) string {
	if excerpt == "" {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(excerpt), &fields); err == nil {
			for _, key := range credentialFields {
				delete(fields, key)
			}
			if out, err := json.Marshal(fields); err == nil {
				return string(out)
			}
		}
	} else if values, err := url.ParseQuery(excerpt); err == nil {
		for _, key := range credentialFields {
			values.Del(key)
		}
		return values.Encode()
	}

	if email == "" {
		return ""
	}
	return url.Values{"email": {email}}.Encode()
}
