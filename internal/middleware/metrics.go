package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	settlementProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_processed_total",
			Help: "Total number of processed provider notifications",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(settlementProcessedTotal)
}

// Metrics собирает счётчик и гистограмму длительности HTTP-запросов.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// MetricsHandler отдаёт метрики в формате Prometheus.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSettlement учитывает итог обработки уведомления провайдера.
func RecordSettlement(provider, outcome string) {
	settlementProcessedTotal.WithLabelValues(provider, outcome).Inc()
}
