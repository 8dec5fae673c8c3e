// Package metrics holds the gateway's two independent metrics sinks: the
// Prometheus collectors in this file, used for operational dashboards, and
// the trend/CDF Aggregator in aggregator.go, used for the built-in monitor
// UI. Stage latencies feed both; request counts and batch sizes feed the
// Prometheus collectors only.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom holds the Prometheus metric collectors exposed on /metrics.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	BatchSize        *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	GPUOOMTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewProm creates and registers the gateway's Prometheus collectors on a
// private registry.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grps_requests_total",
				Help: "Total inference requests by model and status code.",
			},
			[]string{"model", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grps_stage_duration_seconds",
				Help:    "Per-stage (preprocess/infer/postprocess) latency distribution.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"model", "stage"},
		),
		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grps_batch_size",
				Help:    "Dispatched batch size distribution per batcher.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"batcher"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grps_active_requests",
				Help: "Number of requests currently in flight through the engine.",
			},
		),
		GPUOOMTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grps_gpu_oom_count",
				Help: "Total ResourceExhausted errors surfaced by an inferer.",
			},
			[]string{"model"},
		),
		registry: reg,
	}

	reg.MustRegister(
		p.RequestsTotal,
		p.StageDuration,
		p.BatchSize,
		p.ActiveRequests,
		p.GPUOOMTotal,
	)

	return p
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's outcome.
func (p *Prom) RecordRequest(model string, statusCode int) {
	p.RequestsTotal.WithLabelValues(model, strconv.Itoa(statusCode)).Inc()
}

// RecordStage records one stage's latency for a model.
func (p *Prom) RecordStage(model, stage string, d time.Duration) {
	p.StageDuration.WithLabelValues(model, stage).Observe(d.Seconds())
}

// RecordBatch records a dispatched batch's size for a batcher.
func (p *Prom) RecordBatch(batcher string, size int) {
	p.BatchSize.WithLabelValues(batcher).Observe(float64(size))
}

// RecordGPUOOM increments the GPU out-of-memory counter for a model.
func (p *Prom) RecordGPUOOM(model string) {
	p.GPUOOMTotal.WithLabelValues(model).Inc()
}

// Middleware wraps an HTTP handler to track in-flight request count and
// record the final status code under RequestsTotal.
func (p *Prom) Middleware(model string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.ActiveRequests.Inc()
		defer p.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		p.RecordRequest(model, rw.statusCode)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
