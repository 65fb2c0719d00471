// Package promreg adapts a [github.com/prometheus/client_golang/prometheus]
// registry into an [rpcrouter.Registry], the concrete metrics backend used
// throughout the retrieval pack (mirrors the CounterVec-per-name pattern in
// r3e-network-neo-miniapps-platform's internal/app/metrics package).
package promreg

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holepunchto/protomux-rpc-router"
)

// Registry adapts a *prometheus.Registry into an [rpcrouter.Registry],
// lazily creating one CounterVec per distinct counter name, namespaced
// under a configurable subsystem.
type Registry struct {
	reg       *prometheus.Registry
	namespace string
	subsystem string

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// New wraps reg, an existing Prometheus registry (the host application
// typically shares one across subsystems, as in r3e-network's
// internal/app/metrics.Registry), under namespace/subsystem.
func New(reg *prometheus.Registry, namespace, subsystem string) *Registry {
	return &Registry{
		reg:       reg,
		namespace: namespace,
		subsystem: subsystem,
		counters:  make(map[string]*prometheus.CounterVec),
	}
}

// Counter implements [rpcrouter.Registry], creating and registering a
// zero-label CounterVec for name on first use.
func (r *Registry) Counter(name string) rpcrouter.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return counterHandle{c}
	}

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      name,
		Help:      "rpcrouter counter " + name,
	}, nil)
	r.reg.MustRegister(c)
	r.counters[name] = c
	return counterHandle{c}
}

// counterHandle adapts a label-less *prometheus.CounterVec to
// [rpcrouter.Counter]. Prometheus counters only move forward; a negative
// delta is dropped rather than panicking, since [rpcrouter.Counter] is also
// used for gauge-like values by other registries.
type counterHandle struct {
	vec *prometheus.CounterVec
}

func (h counterHandle) Add(delta int64) {
	if delta < 0 {
		return
	}
	h.vec.WithLabelValues().Add(float64(delta))
}
