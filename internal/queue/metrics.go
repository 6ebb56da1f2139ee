package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ensemble_queue_jobs",
			Help: "Number of queue jobs currently in each status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ensemble_queue_job_duration_seconds",
			Help:    "Wall-clock duration of finished queue jobs, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"driver", "status"},
	)
)

func init() {
	prometheus.MustRegister(jobsByStatus)
	prometheus.MustRegister(jobDuration)

	// Pre-initialize label combinations so they appear in /metrics from startup.
	for s := StatusWaiting; s < numStatuses; s++ {
		jobsByStatus.WithLabelValues(s.String())
	}
}
