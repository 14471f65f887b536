// Package metrics holds the Prometheus instruments of the service.
//
// Instruments are registered on an explicit prometheus.Registerer instead
// of the global default registry, so every test can build its own.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sellerhub"

// Refresh outcomes.
const (
	OutcomeUpdated      = "updated"
	OutcomeTokenExpired = "token_expired"
	OutcomeFailed       = "failed"
)

// Link results.
const (
	LinkCreated       = "created"
	LinkRelinked      = "relinked"
	LinkAlreadyLinked = "already_linked"
	LinkFailed        = "failed"
)

type Metrics struct {
	AccountRefreshes       *prometheus.CounterVec
	AccountRefreshDuration prometheus.Histogram
	AccountLinks           *prometheus.CounterVec
	MarketplaceRequests    *prometheus.CounterVec
	HTTPRequests           *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg. When reg is also
// a prometheus.Gatherer, Handler serves it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AccountRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_refresh_total",
			Help:      "Account metric refreshes by outcome.",
		}, []string{"outcome"}),
		AccountRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "account_refresh_duration_seconds",
			Help:      "Duration of a single account metric refresh.",
			Buckets:   prometheus.DefBuckets,
		}),
		AccountLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_links_total",
			Help:      "Marketplace account link attempts by result.",
		}, []string{"result"}),
		MarketplaceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketplace_requests_total",
			Help:      "Outbound marketplace API calls by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.AccountRefreshes,
		m.AccountRefreshDuration,
		m.AccountLinks,
		m.MarketplaceRequests,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRefresh records one account refresh.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	m.AccountRefreshes.WithLabelValues(outcome).Inc()
	m.AccountRefreshDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveLink(result string) {
	m.AccountLinks.WithLabelValues(result).Inc()
}

// MarketplaceRequest implements marketplace.Recorder. status 0 is a
// transport failure and is labelled "error".
func (m *Metrics) MarketplaceRequest(endpoint string, status int) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.MarketplaceRequests.WithLabelValues(endpoint, code).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
