package infra

import (
	"context"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões dos guards como contador.
//
// Identificadores não viram label (cardinalidade); apenas guard, endpoint,
// resultado e motivo.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "abuse_guard",
		Name:      "decisions_total",
		Help:      "Rate limit guard decisions by guard, endpoint, outcome and reason.",
	}, []string{"guard", "endpoint", "outcome", "reason"})

	if reg != nil {
		if err := reg.Register(decisions); err != nil {
			return nil, err
		}
	}
	return &PrometheusStats{decisions: decisions}, nil
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	p.decisions.WithLabelValues(string(ev.Guard), ev.Endpoint, statsField(ev), string(ev.Reason)).Inc()
	return nil
}

// MultiStats repassa o evento para vários stores; o primeiro erro é devolvido,
// mas todos são chamados.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
