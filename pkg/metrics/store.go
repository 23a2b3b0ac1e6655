package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/darrayio/pkg/ncio/store"
)

// storeMetrics is the Prometheus implementation of block store metrics.
type storeMetrics struct {
	ops      *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	misses   prometheus.Counter
	duration *prometheus.HistogramVec
}

// newStoreMetrics returns nil if metrics are not enabled.
func newStoreMetrics(backend string) *storeMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"backend": backend}

	return &storeMetrics{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "darrayio_store_operations_total",
				Help:        "Total number of block store operations by operation and status",
				ConstLabels: labels,
			},
			[]string{"operation", "status"}, // "write", "read", "sync" / "ok", "error"
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "darrayio_store_bytes_total",
				Help:        "Total bytes moved through the block store by direction",
				ConstLabels: labels,
			},
			[]string{"direction"}, // "write", "read"
		),
		misses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "darrayio_store_block_misses_total",
				Help:        "Total number of reads of blocks that were never written",
				ConstLabels: labels,
			},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "darrayio_store_operation_duration_seconds",
				Help:        "Duration of block store operations",
				Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
	}
}

func (m *storeMetrics) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// instrumentedStore counts the traffic of a wrapped BlockStore.
type instrumentedStore struct {
	store.BlockStore
	m *storeMetrics
}

// InstrumentStore wraps bs so its traffic is recorded under the given
// backend label. With metrics disabled bs is returned unchanged.
func InstrumentStore(bs store.BlockStore, backend string) store.BlockStore {
	m := newStoreMetrics(backend)
	if m == nil {
		return bs
	}
	return &instrumentedStore{BlockStore: bs, m: m}
}

func (s *instrumentedStore) WriteBlock(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.BlockStore.WriteBlock(ctx, key, data)
	s.m.observe("write", start, err)
	if err == nil {
		s.m.bytes.WithLabelValues("write").Add(float64(len(data)))
	}
	return err
}

func (s *instrumentedStore) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.BlockStore.ReadBlock(ctx, key)
	if errors.Is(err, store.ErrBlockNotFound) {
		// A miss is a normal outcome for unwritten blocks.
		s.m.misses.Inc()
		s.m.observe("read", start, nil)
		return data, err
	}
	s.m.observe("read", start, err)
	if err == nil {
		s.m.bytes.WithLabelValues("read").Add(float64(len(data)))
	}
	return data, err
}

func (s *instrumentedStore) Sync(ctx context.Context) error {
	start := time.Now()
	err := s.BlockStore.Sync(ctx)
	s.m.observe("sync", start, err)
	return err
}
