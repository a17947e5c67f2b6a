// metrics.go — Prometheus HTTP метрики telestore.
// Регистрирует метрики: ts_http_requests_total, ts_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики telestore
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ts_http_requests_total",
			Help: "Общее количество HTTP-запросов к telestore",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ts_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к telestore в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (числовые id и токены заменяются на плейсхолдеры)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет динамические сегменты пути на плейсхолдеры:
// /api/v1/files/42/download → /api/v1/files/{id}/download
// /api/v1/upload-status/<token> → /api/v1/upload-status/{token}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/files", "/api/v1/files/stats",
		"/api/v1/uploads", "/api/v1/uploads/async",
		"/api/v1/request-upload", "/api/v1/save-upload":
		return path
	}

	const statusPrefix = "/api/v1/upload-status/"
	if strings.HasPrefix(path, statusPrefix) {
		return statusPrefix + "{token}"
	}

	const pendingPrefix = "/api/v1/uploads/pending/"
	if strings.HasPrefix(path, pendingPrefix) {
		return pendingPrefix + "{id}"
	}

	const filesPrefix = "/api/v1/files/"
	if strings.HasPrefix(path, filesPrefix) {
		rest := path[len(filesPrefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return filesPrefix + "{id}" + rest[idx:]
		}
		return filesPrefix + "{id}"
	}

	return path
}
