// Package monitor exposes the gateway's Prometheus metrics: credential
// pool health, selection outcomes, token-refresh outcomes, and stream-
// parser errors. Grounded on nulpointcorp-llm-gateway's internal/metrics
// package (a private prometheus.Registry wrapped by typed record methods,
// rather than package-level promauto metrics), adapted from that gateway's
// HTTP/cache/circuit-breaker metric surface down to ProxyCast's four
// components (credpool, tokencache, router, streaming).
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the gateway exports, scoped to a private
// prometheus.Registry so embedding this module never collides with a
// host process's own default registry.
type Registry struct {
	reg *prometheus.Registry

	// proxycast_credential_health{provider} — 1 healthy, 0 unhealthy, summed
	// per credential so the gauge reports a live healthy-credential count
	// when queried with sum(proxycast_credential_health) by (provider).
	credentialHealth *prometheus.GaugeVec

	// proxycast_credentials_in_cooldown{provider}
	credentialsInCooldown *prometheus.GaugeVec

	// proxycast_selection_total{provider,outcome} outcome=selected|exhausted
	selectionTotal *prometheus.CounterVec

	// proxycast_token_refresh_total{provider,outcome}
	// outcome=success|invalid_grant|network_error|server_error|unknown
	tokenRefreshTotal *prometheus.CounterVec

	// proxycast_upstream_requests_total{provider,outcome}
	upstreamRequestsTotal *prometheus.CounterVec

	// proxycast_upstream_request_duration_seconds{provider}
	upstreamDuration *prometheus.HistogramVec

	// proxycast_stream_parse_errors_total{provider}
	streamParseErrors *prometheus.CounterVec

	// proxycast_config_reloads_total{outcome} outcome=applied|rolled_back
	configReloads *prometheus.CounterVec
}

// New builds and registers every metric against a fresh private registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		credentialHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxycast_credential_health",
			Help: "1 if the credential is currently healthy and selectable, 0 otherwise.",
		}, []string{"provider", "uuid"}),
		credentialsInCooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxycast_credentials_in_cooldown",
			Help: "Number of credentials currently in a quota-exceeded cooldown, by provider.",
		}, []string{"provider"}),
		selectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxycast_selection_total",
			Help: "Credential selection attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		tokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxycast_token_refresh_total",
			Help: "Token refresh attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxycast_upstream_requests_total",
			Help: "Upstream provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxycast_upstream_request_duration_seconds",
			Help:    "Upstream provider request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		streamParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxycast_stream_parse_errors_total",
			Help: "Stream event-parser errors by provider.",
		}, []string{"provider"}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxycast_config_reloads_total",
			Help: "Config hot-reload attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.credentialHealth, r.credentialsInCooldown, r.selectionTotal,
		r.tokenRefreshTotal, r.upstreamRequestsTotal, r.upstreamDuration,
		r.streamParseErrors, r.configReloads,
	)
	return r
}

// Handler returns the HTTP handler for the gateway's /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetCredentialHealth records whether uuid (of provider) is currently
// selectable; called after every credpool health-state transition.
func (r *Registry) SetCredentialHealth(provider, uuid string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.credentialHealth.WithLabelValues(provider, uuid).Set(v)
}

// SetCredentialsInCooldown reports the current count of cooling-down
// credentials for provider, refreshed on each pool overview/selection.
func (r *Registry) SetCredentialsInCooldown(provider string, count int) {
	r.credentialsInCooldown.WithLabelValues(provider).Set(float64(count))
}

// RecordSelection counts one credpool.SelectHealthy outcome.
func (r *Registry) RecordSelection(provider, outcome string) {
	r.selectionTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordTokenRefresh counts one tokencache refresh attempt outcome.
func (r *Registry) RecordTokenRefresh(provider, outcome string) {
	r.tokenRefreshTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordUpstreamRequest counts and times one adaptor dispatch.
func (r *Registry) RecordUpstreamRequest(provider, outcome string, seconds float64) {
	r.upstreamRequestsTotal.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordStreamParseError counts one malformed/unparseable upstream event
// (spec.md §4.F "StreamPipeline" error path).
func (r *Registry) RecordStreamParseError(provider string) {
	r.streamParseErrors.WithLabelValues(provider).Inc()
}

// RecordConfigReload counts one gwconfig.Store.Reload outcome.
func (r *Registry) RecordConfigReload(outcome string) {
	r.configReloads.WithLabelValues(outcome).Inc()
}
