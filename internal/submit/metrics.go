package submit

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for submission results.
const (
	resultSubmitted = "submitted"
	resultFailed    = "failed"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_submissions_total",
			Help: "Total number of realization submissions by result.",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_submit_queue_depth",
			Help: "Number of submission tasks waiting for a worker.",
		},
	)

	submitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_submit_duration_seconds",
			Help:    "Time spent handing one realization to the job queue, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(submitDuration)

	submissionsTotal.WithLabelValues(resultSubmitted)
	submissionsTotal.WithLabelValues(resultFailed)
}
