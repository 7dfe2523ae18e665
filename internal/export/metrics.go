package export

import "github.com/prometheus/client_golang/prometheus"

var (
	exportDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowport_export_duration_seconds",
			Help:    "Export phase latency by output format.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format"},
	)
	exportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowport_export_rows_total",
			Help: "Total number of data rows written by output format.",
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(exportDurationSeconds, exportRowsTotal)
}
