package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	queryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowport_query_attempts_total",
			Help: "Total number of query execution attempts by dialect and outcome.",
		},
		[]string{"dialect", "outcome"},
	)
	queryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowport_query_retries_total",
			Help: "Total number of retried attempts after transient driver failures.",
		},
		[]string{"dialect"},
	)
)

func init() {
	prometheus.MustRegister(queryAttemptsTotal, queryRetriesTotal)
}
