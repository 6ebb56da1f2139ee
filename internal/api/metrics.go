package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/ensemble/internal/tracker"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_http_requests_total",
			Help: "Total number of HTTP requests to the monitoring API.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ensemble_http_request_duration_seconds",
			Help:    "Monitoring API request duration in seconds, streams excluded.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"method", "path"},
	)

	httpStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_http_streams_active",
			Help: "Number of open status stream connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpStreamsActive)
}

// metricsMiddleware counts requests by chi route pattern. Status streams stay
// open for the whole run, so they are tracked as active connections instead
// of feeding the duration histogram.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		stream := strings.HasSuffix(r.URL.Path, "/stream")
		if stream {
			httpStreamsActive.Inc()
			defer httpStreamsActive.Dec()
		}

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !stream {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// ensembleCollector exports the tracker buckets and the ensemble's size and
// registered count at scrape time, labelled with the run ID.
type ensembleCollector struct {
	ensemble Ensemble
	tracker  *tracker.Tracker

	states       *prometheus.Desc
	size         *prometheus.Desc
	realizations *prometheus.Desc
}

func newEnsembleCollector(ens Ensemble, tr *tracker.Tracker) *ensembleCollector {
	labels := prometheus.Labels{"run_id": ens.RunID()}
	return &ensembleCollector{
		ensemble: ens,
		tracker:  tr,
		states: prometheus.NewDesc("ensemble_realizations_by_state",
			"Realizations in each progress bucket.", []string{"state"}, labels),
		size: prometheus.NewDesc("ensemble_size",
			"Number of realizations the ensemble was created for.", nil, labels),
		realizations: prometheus.NewDesc("ensemble_realizations_queued",
			"Number of realizations added to the ensemble.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *ensembleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.states
	ch <- c.size
	ch <- c.realizations
}

// Collect implements prometheus.Collector.
func (c *ensembleCollector) Collect(ch chan<- prometheus.Metric) {
	for _, sc := range c.tracker.States() {
		ch <- prometheus.MustNewConstMetric(c.states, prometheus.GaugeValue, float64(sc.Count), sc.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(c.ensemble.Size()))
	ch <- prometheus.MustNewConstMetric(c.realizations, prometheus.GaugeValue, float64(len(c.ensemble.Realizations())))
}

// metricsHandler serves the process-wide metrics together with this server's
// ensemble collector.
func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newEnsembleCollector(s.ensemble, s.tracker))
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		promhttp.HandlerOpts{},
	)
}
