// Package metrics publica as decisões do motor como métricas Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazaninghn/carbon-guard/internal/core/domain"
	"github.com/nazaninghn/carbon-guard/internal/core/ports"
)

type Recorder struct {
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

var _ ports.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the guard metrics on reg.
func NewRecorder(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_decisions_total",
				Help:      "Security decisions by reason",
			},
			[]string{"reason"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_store_errors_total",
				Help:      "Counter store failures that were failed open, by operation",
			},
			[]string{"op"},
		),
	}

	for _, c := range []prometheus.Collector{r.decisions, r.storeErrors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register guard metrics: %w", err)
		}
	}

	// Pre-create every reason so dashboards see zeros instead of gaps.
	for _, reason := range domain.Reasons {
		r.decisions.WithLabelValues(reason.String())
	}

	return r, nil
}

func (r *Recorder) ObserveDecision(d domain.SecurityDecision) {
	r.decisions.WithLabelValues(d.Reason.String()).Inc()
}

func (r *Recorder) StoreError(op string) {
	r.storeErrors.WithLabelValues(op).Inc()
}
