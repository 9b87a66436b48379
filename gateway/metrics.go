package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry     *prometheus.Registry
	sessions     *prometheus.GaugeVec
	authResults  *prometheus.CounterVec
	panics       prometheus.Counter
	sessionCount func(ctx context.Context) (map[sessions.Kind]int, error)
}

func newMetrics(counts func(ctx context.Context) (map[sessions.Kind]int, error)) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcp_gateway_sessions",
			Help: "Live sessions by transport kind",
		}, []string{"kind"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_auth_results_total",
			Help: "Credential checks by outcome",
		}, []string{"outcome"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_gateway_http_panics_total",
			Help: "Request handlers that panicked",
		}),
		sessionCount: counts,
	}
	m.registry.MustRegister(m.sessions, m.authResults, m.panics)
	return m
}

func (m *metrics) observeAuth(r auth.Result) {
	m.authResults.WithLabelValues(r.Outcome()).Inc()
}

// handler refreshes the session gauges from the registry, then serves the
// registry in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		counts, err := m.sessionCount(ctx)
		if err != nil {
			http.Error(w, "Failed to count sessions", http.StatusInternalServerError)
			return
		}
		for _, k := range sessions.Kinds() {
			m.sessions.WithLabelValues(string(k)).Set(float64(counts[k]))
		}
		inner.ServeHTTP(w, r)
	})
}
