// Package metrics объявляет метрики Prometheus сервиса лицензирования.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — набор метрик. Методы безопасно вызывать у nil.
type Metrics struct {
	operations    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwid_licensing",
			Name:      "operations_total",
			Help:      "License and admin operations by outcome.",
		}, []string{"operation", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwid_licensing",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hwid_licensing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwid_licensing",
			Name:      "allowlist_cache_lookups_total",
			Help:      "Allow-list cache lookups by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hwid_licensing",
			Name:      "verifications_total",
			Help:      "Fingerprint verifications by matched source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.operations, m.httpRequests, m.httpDuration, m.cacheLookups, m.verifications)
	return m
}

// ObserveOperation учитывает исход операции: "ok" или вид ошибки.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveCacheLookup учитывает обращение к кэшу: hit, miss или error.
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveVerification учитывает проверку отпечатка по источнику совпадения.
func (m *Metrics) ObserveVerification(source string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(source).Inc()
}
