package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface, fan-out dispatch, live-push delivery, and the unread cache.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	fanoutTotal     *prometheus.CounterVec
	fanoutSize      prometheus.Histogram
	pushTotal       *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	sseClients      prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
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

	fanoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_dispatch_total",
		Help: "Fan-out dispatches by mode and outcome",
	}, []string{"mode", "outcome"})

	fanoutSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_recipients",
		Help:    "Recipient count per completed fan-out",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	pushTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_events_total",
		Help: "Live-push events published by channel class",
	}, []string{"channel"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unread_cache_hits_total",
		Help: "Unread badge cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unread_cache_misses_total",
		Help: "Unread badge cache misses",
	})

	sseClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_clients",
		Help: "Currently connected event stream clients",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, fanoutTotal, fanoutSize, pushTotal, cacheHits, cacheMisses, sseClients, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		fanoutTotal:     fanoutTotal,
		fanoutSize:      fanoutSize,
		pushTotal:       pushTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		sseClients:      sseClients,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordFanout counts one dispatch outcome and, on completion, its size.
func (m *MetricsService) RecordFanout(mode string, outcome string, recipients int) {
	if m == nil {
		return
	}
	m.fanoutTotal.WithLabelValues(mode, outcome).Inc()
	if outcome == string(FanoutComplete) {
		m.fanoutSize.Observe(float64(recipients))
	}
}

// RegisterQueueDepth exposes the fan-out queue's buffered job count as a
// gauge. Called once during wiring.
func (m *MetricsService) RegisterQueueDepth(depth func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fanout_queue_depth",
		Help: "Fan-out jobs buffered and not yet picked up by a worker",
	}, func() float64 {
		return float64(depth())
	}))
}

// RecordPush counts a published live-push event.
func (m *MetricsService) RecordPush(channel string) {
	if m == nil {
		return
	}
	m.pushTotal.WithLabelValues(channel).Inc()
}

// RecordCacheLookup counts an unread badge cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// SSEClientConnected and SSEClientDisconnected track the live stream gauge.
func (m *MetricsService) SSEClientConnected() {
	if m != nil {
		m.sseClients.Inc()
	}
}

func (m *MetricsService) SSEClientDisconnected() {
	if m != nil {
		m.sseClients.Dec()
	}
}
