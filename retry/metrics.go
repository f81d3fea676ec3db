package retry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusRetryFailures  *prometheus.CounterVec
	prometheusRetryAbsorbed  *prometheus.CounterVec
	prometheusRetryExhausted *prometheus.CounterVec

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spvbridge",
			Name:      "retry_failures_total",
			Help:      "Number of failed attempts of remote calls",
		},
		[]string{"op"},
	)
	prometheusRetryAbsorbed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spvbridge",
			Name:      "retry_absorbed_total",
			Help:      "Number of mutating calls whose failure meant the work was already done",
		},
		[]string{"op"},
	)
	prometheusRetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spvbridge",
			Name:      "retry_exhausted_total",
			Help:      "Number of remote calls that ran out of attempts",
		},
		[]string{"op"},
	)
}
