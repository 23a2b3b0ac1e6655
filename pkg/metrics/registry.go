// Package metrics owns the process-wide Prometheus registry and the HTTP
// server that exposes it.
//
// Metrics are opt-in. Until InitRegistry is called, IsEnabled reports false
// and constructors in this package return nil, which every consumer treats
// as "collect nothing".
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors. Calling it again returns the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return registry
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
//
// The nil case must be handled explicitly: a nil *prometheus.Registry
// stored in a prometheus.Registerer interface is not a nil interface.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Registerer returns the global registry as a prometheus.Registerer, or a
// nil interface when metrics are disabled.
func Registerer() prometheus.Registerer {
	if r := GetRegistry(); r != nil {
		return r
	}
	return nil
}

// reset drops the global registry. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
