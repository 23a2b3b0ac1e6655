package darray

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Prometheus Metrics for the buffering engine
// ============================================================================

// Label constants for metrics.
const (
	LabelVerdict = "verdict"
	LabelPass    = "pass"
	LabelIOType  = "iotype"
)

// Pass label values.
const (
	PassData = "data"
	PassFill = "fill"
)

// Metrics provides Prometheus metrics for write buffering and flushing.
// Every method is safe on a nil receiver.
type Metrics struct {
	// Flush counters
	flushTotal     *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	regionsWritten *prometheus.CounterVec

	// Traffic counters
	bytesWritten *prometheus.CounterVec
	bytesRead    *prometheus.CounterVec

	// Non-blocking request counters
	requestsWaited prometheus.Counter
	requestBlocks  prometheus.Counter
	waitErrors     prometheus.Counter

	// State gauges
	cachedArrays  prometheus.Gauge
	poolAllocated prometheus.Gauge

	registered bool
}

// NewMetrics creates and registers engine metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "flush_total",
				Help:      "Total number of write-multi-buffer flushes by verdict",
			},
			[]string{LabelVerdict},
		),

		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "flush_duration_seconds",
				Help:      "Time spent rearranging and dispatching one flush",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10},
			},
		),

		regionsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "regions_total",
				Help:      "Total number of regions dispatched to the backend",
			},
			[]string{LabelPass},
		),

		bytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "bytes_written_total",
				Help:      "Total bytes handed to the backend for writing",
			},
			[]string{LabelIOType},
		),

		bytesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "bytes_read_total",
				Help:      "Total bytes read from the backend",
			},
			[]string{LabelIOType},
		),

		requestsWaited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "requests_waited_total",
				Help:      "Total number of non-blocking requests completed",
			},
		),

		requestBlocks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "request_blocks_total",
				Help:      "Total number of request blocks waited on",
			},
		),

		waitErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "wait_errors_total",
				Help:      "Number of request block waits that failed",
			},
		),

		cachedArrays: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "cached_arrays",
				Help:      "Arrays held in write-multi-buffers of the last writing rank",
			},
		),

		poolAllocated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "darrayio",
				Subsystem: "darray",
				Name:      "pool_allocated_bytes",
				Help:      "Bytes allocated from the buffer pool of the last writing rank",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.flushTotal,
			m.flushDuration,
			m.regionsWritten,
			m.bytesWritten,
			m.bytesRead,
			m.requestsWaited,
			m.requestBlocks,
			m.waitErrors,
			m.cachedArrays,
			m.poolAllocated,
		)
		m.registered = true
	}

	return m
}

// ObserveFlush records one flush and its duration.
func (m *Metrics) ObserveFlush(verdict Verdict, d time.Duration) {
	if m == nil {
		return
	}
	m.flushTotal.WithLabelValues(verdict.String()).Inc()
	m.flushDuration.Observe(d.Seconds())
}

// ObserveRegions records regions dispatched in a data or fill pass.
func (m *Metrics) ObserveRegions(pass string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.regionsWritten.WithLabelValues(pass).Add(float64(n))
}

// ObserveWrite records bytes handed to the backend.
func (m *Metrics) ObserveWrite(iotype string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.WithLabelValues(iotype).Add(float64(n))
}

// ObserveRead records bytes read from the backend.
func (m *Metrics) ObserveRead(iotype string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.WithLabelValues(iotype).Add(float64(n))
}

// ObserveWait records one waited block of requests.
func (m *Metrics) ObserveWait(requests int, err error) {
	if m == nil {
		return
	}
	m.requestBlocks.Inc()
	if err != nil {
		m.waitErrors.Inc()
		return
	}
	m.requestsWaited.Add(float64(requests))
}

// SetCachedArrays sets the number of cached arrays.
func (m *Metrics) SetCachedArrays(n int) {
	if m == nil {
		return
	}
	m.cachedArrays.Set(float64(n))
}

// SetPoolAllocated sets the allocated pool bytes.
func (m *Metrics) SetPoolAllocated(n int64) {
	if m == nil {
		return
	}
	m.poolAllocated.Set(float64(n))
}
