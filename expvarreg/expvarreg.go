// Package expvarreg adapts an [expvar.Map] into an [rpcrouter.Registry],
// staying close to the teacher's own metrics idiom (creachadair/chirp's
// metrics.go builds a peerMetrics struct of expvar.Int fields published
// through a single *expvar.Map).
package expvarreg

import (
	"expvar"
	"sync"

	"github.com/holepunchto/protomux-rpc-router"
)

// Registry adapts an *expvar.Map into an [rpcrouter.Registry], lazily
// creating one expvar.Int per distinct counter name.
type Registry struct {
	m *expvar.Map

	mu       sync.Mutex
	counters map[string]*expvar.Int
}

// New wraps m. Passing a fresh *expvar.Map published under a unique name
// (via expvar.Publish) is the usual way to expose it on /debug/vars,
// exactly as chirp's newPeerMetrics does for its own counters.
func New(m *expvar.Map) *Registry {
	return &Registry{m: m, counters: make(map[string]*expvar.Int)}
}

// Counter implements [rpcrouter.Registry].
func (r *Registry) Counter(name string) rpcrouter.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := new(expvar.Int)
	r.m.Set(name, c)
	r.counters[name] = c
	return c
}
