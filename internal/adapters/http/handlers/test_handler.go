package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// TestHandler responde com uma mensagem simples, atrás do middleware de proteção.
func TestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Request successful"})
}

// Pinger is satisfied by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the counter store answers. The guard keeps
// working when it does not, so the status stays 200 and only the body changes.
func HealthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "store": "ok"}
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				status["store"] = "unavailable"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}
