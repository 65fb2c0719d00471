package rpcrouter

import "sync/atomic"

// Counter is a single named counter or gauge exposed by a [Registry]. Add
// accepts negative deltas so the same type can back both monotonic counters
// (requests, errors) and gauges (active calls, resident limiter keys).
type Counter interface {
	Add(delta int64)
}

// Registry is the external, generic metrics registry the router and its
// built-in middleware report into (spec.md §1: "a generic Prometheus-style
// metrics registry" is an external collaborator, not reimplemented here).
// Naming of the exposed counters is a concern of the host application; the
// promreg and expvarreg subpackages provide concrete adapters.
type Registry interface {
	// Counter returns the named counter, creating it on first use.
	Counter(name string) Counter
}

// routerCounters holds the router's own instance-owned activity counters
// (spec.md §3 Router: "aggregate counters {requests, errors,
// handler-errors}"). The atomics are the source of truth read by Stats;
// the optional registry-backed counters are published through an
// atomic.Value rather than a plain Counter field, since RegisterMetrics may
// be called concurrently with in-flight dispatch (spec.md does not require
// RegisterMetrics to happen before Attach) and bump* must never race with it.
type routerCounters struct {
	requests      atomic.Int64
	errors        atomic.Int64
	handlerErrors atomic.Int64

	regRequests      atomic.Value // Counter
	regErrors        atomic.Value // Counter
	regHandlerErrors atomic.Value // Counter
}

// registerInto wires c's counters into reg, under the names described in
// spec.md §4.G ("Metrics: four gauges/counters" -- total requests, total
// errors, total handler errors; the fourth slot is whatever participating
// middleware registers for itself via RegisterMetrics).
func (c *routerCounters) registerInto(reg Registry) {
	c.regRequests.Store(reg.Counter("requests"))
	c.regErrors.Store(reg.Counter("errors"))
	c.regHandlerErrors.Store(reg.Counter("handler_errors"))
}

func (c *routerCounters) bumpRequests() {
	c.requests.Add(1)
	if r, ok := c.regRequests.Load().(Counter); ok {
		r.Add(1)
	}
}

func (c *routerCounters) bumpErrors() {
	c.errors.Add(1)
	if r, ok := c.regErrors.Load().(Counter); ok {
		r.Add(1)
	}
}

func (c *routerCounters) bumpHandlerErrors() {
	c.handlerErrors.Add(1)
	if r, ok := c.regHandlerErrors.Load().(Counter); ok {
		r.Add(1)
	}
}

// Stats is a point-in-time snapshot of a Router's aggregate counters.
type Stats struct {
	Requests      int64
	Errors        int64
	HandlerErrors int64
}
