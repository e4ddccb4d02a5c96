package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "receiptfly",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptfly",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receiptfly",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receiptfly",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingestion jobs by result and failure kind.",
		},
		[]string{"result", "kind"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receiptfly",
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Ingestion job duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"result"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receiptfly",
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each ingestion stage in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(appInfo, httpRequestsTotal, httpRequestDuration, jobsTotal, jobDuration, stageDuration)
}

// SetAppInfo publishes the running service and version
func SetAppInfo(service, version string) {
	if service = strings.TrimSpace(service); service == "" {
		service = defaultService
	}
	if version = strings.TrimSpace(version); version == "" {
		version = "dev"
	}
	appInfo.WithLabelValues(service, version).Set(1)
}

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware records request count and latency
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := RouteLabel(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// RecordJob counts a finished ingestion job. kind is empty on success.
func RecordJob(result, kind string, elapsed time.Duration) {
	jobsTotal.WithLabelValues(result, kind).Inc()
	jobDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveStage records how long one ingestion stage took
func ObserveStage(stage string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RouteLabel collapses receipt ids so the route label stays low-cardinality
func RouteLabel(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(p, "/api/receipts/"); ok && rest != "" {
		switch rest {
		case "uploads", "export.xlsx":
			return p
		}
		return "/api/receipts/:id"
	}
	return p
}
