package app

import (
	"net/http"

	"gatekeeper/cmd/internal/auth/csrf"
	"gatekeeper/cmd/internal/auth/revocation"
	"gatekeeper/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gatekeeper"

// Metrics owns a private Prometheus registry. It implements authapi.Observer.
type Metrics struct {
	reg *prometheus.Registry

	rateLimited  *prometheus.CounterVec
	csrfRejected prometheus.Counter
	logins       *prometheus.CounterVec
	terminated   *prometheus.CounterVec
	swept        *prometheus.CounterVec
}

// NewMetrics registers counters plus gauges that read the stores on scrape.
func NewMetrics(sessions *session.Store, revoked *revocation.Registry, tokens *csrf.Manager) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by the fixed-window limiter.",
		}, []string{"action"}),
		csrfRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "csrf_rejected_total",
			Help:      "Privileged requests rejected for a missing or mismatched CSRF token.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_terminated_total",
			Help:      "Sessions that left the Active state, by reason.",
		}, []string{"reason"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_evicted_total",
			Help:      "Entries evicted by the background sweeper.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rateLimited, m.csrfRejected, m.logins, m.terminated, m.swept,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Sessions Active and within the inactivity timeout.",
		}, func() float64 { return float64(sessions.CountActive()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_revoked",
			Help:      "Revoked token ids not yet past their natural expiry.",
		}, func() float64 { return float64(revoked.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "csrf_failure_rate",
			Help:      "Share of failed CSRF validations.",
		}, func() float64 { return tokens.HealthStatus().FailureRate }),
	)
	return m
}

// RateLimited implements authapi.Observer.
func (m *Metrics) RateLimited(action string) { m.rateLimited.WithLabelValues(action).Inc() }

// CSRFRejected implements authapi.Observer.
func (m *Metrics) CSRFRejected() { m.csrfRejected.Inc() }

// Login implements authapi.Observer.
func (m *Metrics) Login(outcome string) { m.logins.WithLabelValues(outcome).Inc() }

// SessionEnded is registered with session.Store.OnTerminate.
func (m *Metrics) SessionEnded(s session.Session) { m.terminated.WithLabelValues(s.Reason).Inc() }

// Swept records one sweep pass.
func (m *Metrics) Swept(r SweepResult) {
	m.swept.WithLabelValues("session").Add(float64(r.Sessions))
	m.swept.WithLabelValues("token").Add(float64(r.Tokens))
	m.swept.WithLabelValues("bucket").Add(float64(r.Buckets))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
