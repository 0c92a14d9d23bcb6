package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/tutoring-api/internal/models"
)

// MetricsService owns the Prometheus registry for HTTP, cache and lesson lifecycle metrics.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheLookups     *prometheus.CounterVec
	lessonTransition *prometheus.CounterVec
	bookingConflicts *prometheus.CounterVec
	notifications    *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "availability_cache_latency_seconds",
		Help:    "Latency of availability cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "availability_cache_hit_ratio",
		Help: "Ratio of availability cache hits to lookups",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "availability_cache_lookups_total",
		Help: "Availability cache lookups by result",
	}, []string{"result"})

	lessonTransition := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_transitions_total",
		Help: "Lesson lifecycle changes by operation and resulting status",
	}, []string{"operation", "status"})

	bookingConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_booking_conflicts_total",
		Help: "Rejected bookings by conflicting dimension",
	}, []string{"dimension"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lesson_notifications_total",
		Help: "Lesson notifications by kind and outcome",
	}, []string{"kind", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheLookups, lessonTransition, bookingConflicts, notifications, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheHitRatio:    cacheHitRatio,
		cacheLookups:     cacheLookups,
		lessonTransition: lessonTransition,
		bookingConflicts: bookingConflicts,
		notifications:    notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordLessonTransition counts a committed lifecycle operation.
func (m *MetricsService) RecordLessonTransition(operation string, status models.LessonStatus) {
	if m == nil {
		return
	}
	m.lessonTransition.WithLabelValues(operation, string(status)).Inc()
}

// RecordBookingConflict counts a booking rejected by the calendar.
func (m *MetricsService) RecordBookingConflict(dimension string) {
	if m == nil {
		return
	}
	m.bookingConflicts.WithLabelValues(dimension).Inc()
}

// RecordNotification counts a notification outcome such as "enqueued", "dropped", "stored", "failed" or "abandoned".
func (m *MetricsService) RecordNotification(kind models.NotificationKind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), result).Inc()
}
