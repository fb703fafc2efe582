// Package metrics exposes Prometheus counters for the SMART connection lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ehr_connect"

var (
	Registry = prometheus.NewRegistry()

	Launches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "launches_total",
		Help:      "Authorization launches by endpoint strategy and result.",
	}, []string{"strategy", "result"})

	Exchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_exchanges_total",
		Help:      "Authorization code exchanges by result.",
	}, []string{"result"})

	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Token refresh attempts by trigger and result.",
	}, []string{"reason", "result"})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_submissions_total",
		Help:      "DocumentReference submissions by result.",
	}, []string{"result"})

	ScheduledSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "refresh_scheduled_sessions",
		Help:      "Sessions with an armed refresh timer.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Launches,
		Exchanges,
		Refreshes,
		Submissions,
		ScheduledSessions,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
