// Package observability carries the controller's structured-logging and
// metrics idioms (§4.11). Logging follows the teacher's log/slog usage
// throughout; metrics have no teacher equivalent and are grounded on the
// prometheus/client_golang usage in the rest of the example pack.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge/histogram named in spec §4.11,
// registered against a private registry so multiple controllers in tests
// never collide on the global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	AgentsTotal              *prometheus.GaugeVec
	AgentDeploymentsTotal    *prometheus.CounterVec
	AgentStartsTotal         *prometheus.CounterVec
	AgentStopsTotal          *prometheus.CounterVec
	AgentRestartsTotal       *prometheus.CounterVec
	APIRequestsTotal         *prometheus.CounterVec
	APIRequestDuration       *prometheus.HistogramVec
	AuthAttemptsTotal        *prometheus.CounterVec
	AllocatedPortsTotal      prometheus.Gauge
	ChecksumCacheHitsTotal   prometheus.Counter
	ChecksumCacheMissesTotal prometheus.Counter
	DeploymentDuration       *prometheus.HistogramVec
}

// New constructs and registers every metric family. Whether /metrics is
// mounted at all is decided by the caller (api.NewServer's metricsEnabled,
// §4.11 feature flag).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		AgentsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agents_total", Help: "Agents by lifecycle status.",
		}, []string{"status"}),
		AgentDeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_deployments_total", Help: "Deployment attempts by result.",
		}, []string{"result"}),
		AgentStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_starts_total", Help: "Start attempts by result.",
		}, []string{"result"}),
		AgentStopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_stops_total", Help: "Stop attempts by result.",
		}, []string{"result"}),
		AgentRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_restarts_total", Help: "Restart attempts by result.",
		}, []string{"result"}),
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total", Help: "Management API requests.",
		}, []string{"method", "endpoint", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "api_request_duration_seconds", Help: "Management API request latency.",
		}, []string{"method", "endpoint"}),
		AuthAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total", Help: "Credential checks by result.",
		}, []string{"result"}),
		AllocatedPortsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "allocated_ports_total", Help: "Ports currently leased to instances.",
		}),
		ChecksumCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checksum_cache_hits_total", Help: "Deploys resolved from the checksum index.",
		}),
		ChecksumCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checksum_cache_misses_total", Help: "Deploys requiring a fresh hash insert.",
		}),
		DeploymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "deployment_duration_seconds", Help: "Deployment pipeline stage latency.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.AgentsTotal, m.AgentDeploymentsTotal, m.AgentStartsTotal, m.AgentStopsTotal,
		m.AgentRestartsTotal, m.APIRequestsTotal, m.APIRequestDuration, m.AuthAttemptsTotal,
		m.AllocatedPortsTotal, m.ChecksumCacheHitsTotal, m.ChecksumCacheMissesTotal,
		m.DeploymentDuration,
	)
	return m
}
