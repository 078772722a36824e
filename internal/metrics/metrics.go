// Package metrics exposes gate outcomes as prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/lowc1012/crm-gate/internal/auth"
	limiter "github.com/lowc1012/crm-gate/rate_limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crm_gate"

var (
	_ limiter.Observer     = &Metrics{}
	_ auth.ResolveObserver = &Metrics{}
)

// Metrics implements the limiter and resolver observers on one registry.
type Metrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	resolved  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	responses *prometheus.CounterVec
}

// New registers the gate collectors and the Go runtime collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry(), true)
}

// NewWithRegistry registers the gate collectors on reg.
func NewWithRegistry(reg *prometheus.Registry, runtime bool) *Metrics {
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by the backend that answered.",
		}, []string{"backend", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "backend_errors_total",
			Help:      "Remote backend failures that caused a fallback.",
		}, []string{"backend"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "resolved_total",
			Help:      "Requests authenticated, by credential kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rejected_total",
			Help:      "Requests rejected as unauthorized, by internal reason.",
		}, []string{"reason"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(m.decisions, m.fallbacks, m.resolved, m.rejected, m.responses)
	if runtime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Decision(backend string, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.decisions.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) Fallback(backend string, _ error) {
	m.fallbacks.WithLabelValues(backend).Inc()
}

func (m *Metrics) Resolved(kind auth.CredentialKind) {
	m.resolved.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// Response counts one HTTP response for route.
func (m *Metrics) Response(route string, status int) {
	m.responses.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
