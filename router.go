package rpcrouter

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/google/uuid"
	"github.com/holepunchto/protomux-rpc-router/capability"
)

// routerState is the router's lifecycle position (spec.md §3, §4.G).
type routerState int32

const (
	stateNew routerState = iota
	stateOpening
	stateOpen
	stateClosing
	stateClosed
)

// Handler is the user-supplied business logic for one method. req is the
// value produced by the method's request codec (or the raw bytes, for the
// default [RawCodec]); the returned value is passed to the response codec.
type Handler func(ctx context.Context, rc *RequestContext, req any) (any, error)

// MethodOptions configures a single method registration (spec.md §4.G
// `method(name, options?, handler)`).
type MethodOptions struct {
	// RequestCodec decodes the inbound payload before the handler runs. It
	// defaults to [RawCodec].
	RequestCodec Codec
	// ResponseCodec encodes the handler's return value. It defaults to
	// [RawCodec].
	ResponseCodec Codec
}

// MethodRegistration is a single named method owned by a [Router]. Obtain
// one by calling [Router.Method]; add method-level middleware with Use.
type MethodRegistration struct {
	name          string
	requestCodec  Codec
	responseCodec Codec
	handler       Handler

	mu         *sync.Mutex // the owning Router's mu; guards middleware
	middleware []Middleware
}

// Name returns the method's registered name.
func (m *MethodRegistration) Name() string { return m.name }

// Use appends mw to this registration's own middleware chain, nested inside
// the router's global chain (spec.md §4.G). It returns m for chaining.
//
// Use is safe to call for the lifetime of the owning [Router], including
// after [Router.Open]: the composed chain is rebuilt from the current
// middleware on every [Router.Attach], so a Use call observed by a later
// Attach takes effect for the connection attached then (spec.md §4.G
// "Composition caching" — not observed by already-attached connections,
// but observed by ones attached afterward). The append is guarded by the
// owning Router's own mutex, since Open and Close also read this slice.
func (m *MethodRegistration) Use(mw Middleware) *MethodRegistration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middleware = append(m.middleware, mw)
	return m
}

// Options configures a new [Router] (spec.md §3 Router, §4.F Capability
// gate).
type Options struct {
	// Namespace and Capability configure the one-shot capability handshake
	// (spec.md §4.F). If Capability is empty, no handshake is installed and
	// every peer is accepted.
	Namespace  string
	Capability string

	// OnCapabilityError, if set, is invoked whenever a peer's handshake
	// proof fails verification (spec.md §4.F, §7).
	OnCapabilityError func(CapabilityErrorEvent)
}

// Router is a process-local, singleton-per-endpoint registry of named RPC
// methods plus the cross-cutting middleware layered around every
// invocation (spec.md §3 Router). Build one with [New], register methods
// with [Router.Method], then [Router.Open] it and [Router.Attach] it to
// each incoming connection.
//
// A Router is safe for concurrent use by multiple goroutines once opened;
// [Router.Method] must be called only while the router is in its initial
// "new" state.
type Router struct {
	mu    sync.Mutex
	state routerState

	global  []Middleware
	methods map[string]*MethodRegistration
	order   []string // registration order, preserved across the map

	counters routerCounters

	gate       *capability.Gate
	onCapError func(CapabilityErrorEvent)
}

// New constructs a Router in state "new" with the given options.
func New(opts Options) *Router {
	return &Router{
		state:      stateNew,
		methods:    make(map[string]*MethodRegistration),
		gate:       capability.New(opts.Namespace, opts.Capability),
		onCapError: opts.OnCapabilityError,
	}
}

// Use appends mw to the router's global middleware chain (spec.md §4.G
// `use(middleware)`). It returns r for chaining.
//
// Use does not check the router's state. Middleware appended after
// [Router.Open] is composed into the chains built by later [Router.Attach]
// calls, but its OnOpen hook is not run; [Router.Close] still runs its
// OnClose.
func (r *Router) Use(mw Middleware) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = append(r.global, mw)
	return r
}

// Method registers a new named method, returning its [MethodRegistration]
// for further per-method configuration (spec.md §4.G `method(name,
// options?, handler)`). name must be unique within the router. Method must
// be called only while the router is in state "new"; calling it afterward
// fails with [CodeRouterNotReady] rather than installing a method that
// [Router.Attach] would dispatch through an unreviewed, ad hoc chain
// (spec.md §3).
func (r *Router) Method(name string, opts MethodOptions, handler Handler) (*MethodRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateNew {
		return nil, NewError(CodeRouterNotReady, "router is not in state \"new\"")
	}

	reqCodec := opts.RequestCodec
	if reqCodec == nil {
		reqCodec = RawCodec
	}
	resCodec := opts.ResponseCodec
	if resCodec == nil {
		resCodec = RawCodec
	}

	reg := &MethodRegistration{
		name:          name,
		requestCodec:  reqCodec,
		responseCodec: resCodec,
		handler:       handler,
		mu:            &r.mu,
	}
	if _, exists := r.methods[name]; !exists {
		r.order = append(r.order, name)
	}
	r.methods[name] = reg
	return reg, nil
}

// State reports the router's current lifecycle state, for diagnostics and
// tests (spec.md §4 SUPPLEMENTED: introspection, mirroring chirp's
// Peer.Metrics() posture of exposing internal state for observability).
func (r *Router) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.String()
}

// Registrations returns the names of every registered method, in
// registration order.
func (r *Router) Registrations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (s routerState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Open transitions the router from "new" to "open" (spec.md §4.G state
// machine): it runs the global chain's OnOpen, then each registration's
// own middleware OnOpen in registration order, and reaches "open". The
// composed per-method chain is not built here; [Router.Attach] builds it
// fresh from the then-current global and method middleware on every call,
// per spec.md §4.G step 3. A failure reverts the prefix already opened
// (closing it, errors swallowed) and the router enters "closed" with the
// original failure returned.
func (r *Router) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateNew {
		return NewError(CodeRouterNotReady, "router is not in state \"new\"")
	}
	r.state = stateOpening

	opened := make([]Middleware, 0, len(r.global))
	for _, m := range r.global {
		if err := m.OnOpen(); err != nil {
			closeParticipants(opened)
			r.state = stateClosed
			return err
		}
		opened = append(opened, m)
	}

	for _, name := range r.order {
		reg := r.methods[name]
		for _, m := range reg.middleware {
			if err := m.OnOpen(); err != nil {
				closeParticipants(opened)
				r.state = stateClosed
				return err
			}
			opened = append(opened, m)
		}
	}

	r.state = stateOpen
	return nil
}

// composedChain returns the flattened global ⊕ method-local participant
// list used by [runChain] (spec.md §4.G step 3: "the composed chain once
// at attach time"). [Router.Attach] calls this under r.mu so it always
// sees the current global and method middleware, including any Use call
// made between Open and this Attach.
func composedChain(global, local []Middleware) []Middleware {
	out := make([]Middleware, 0, len(global)+len(local))
	out = append(out, global...)
	out = append(out, local...)
	return out
}

// Close transitions the router from "open" to "closed" (spec.md §4.G):
// every registration's middleware OnClose runs in registration order
// (the inner layer first), then the global chain's OnClose, aggregating
// every error encountered. After Close returns, the registration map is
// emptied.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateOpen {
		return NewError(CodeRouterClosed, "router is not in state \"open\"")
	}
	r.state = stateClosing

	var errs []error
	for _, name := range r.order {
		reg := r.methods[name]
		if err := closeParticipants(reg.middleware); err != nil {
			errs = append(errs, err)
		}
	}
	if err := closeParticipants(r.global); err != nil {
		errs = append(errs, err)
	}

	r.methods = make(map[string]*MethodRegistration)
	r.order = nil
	r.state = stateClosed
	return aggregate(errs...)
}

// RegisterMetrics registers the router's own counters with reg (named
// "requests", "errors", "handler_errors") and fans RegisterMetrics out to
// every global and per-method middleware, in registration order (spec.md
// §4.G `registerMetrics(registry)`).
func (r *Router) RegisterMetrics(reg Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters.registerInto(reg)
	registerParticipantMetrics(r.global, reg)
	for _, name := range r.order {
		registerParticipantMetrics(r.methods[name].middleware, reg)
	}
}

// Stats returns a point-in-time snapshot of the router's aggregate
// counters.
func (r *Router) Stats() Stats {
	return Stats{
		Requests:      r.counters.requests.Load(),
		Errors:        r.counters.errors.Load(),
		HandlerErrors: r.counters.handlerErrors.Load(),
	}
}

// Attach binds every registered method to conn via transport, installing
// the one-shot capability handshake if configured (spec.md §4.G `attach`,
// §4.F). responderID defaults to conn's remote public key when empty.
// Attach fails with [CodeRouterNotReady] unless the router is open, and
// [CodeRouterClosed] if it is closing or closed.
//
// Each method's composed chain is built fresh here, under r.mu, from the
// router's current global middleware and that method's current
// MethodRegistration.middleware (spec.md §4.G step 3: "the composed chain
// once at attach time"). A [MethodRegistration.Use] call made after Open
// but before this Attach is therefore observed by the connection attached
// here, even though it is not observed by connections already attached
// (spec.md §4.G "Composition caching").
func (r *Router) Attach(transport Transport, conn Connection, responderID string) (Responder, error) {
	r.mu.Lock()
	switch r.state {
	case stateClosing, stateClosed:
		r.mu.Unlock()
		return nil, NewError(CodeRouterClosed, "router is closing or closed")
	case stateNew, stateOpening:
		r.mu.Unlock()
		return nil, NewError(CodeRouterNotReady, "router is not open")
	}

	if responderID == "" {
		pk := conn.RemotePublicKey()
		responderID = base64.RawURLEncoding.EncodeToString(pk[:])
	}

	names := make([]string, len(r.order))
	copy(names, r.order)
	methods := r.methods
	chains := make(map[string][]Middleware, len(names))
	for _, name := range names {
		chains[name] = composedChain(r.global, methods[name].middleware)
	}
	r.mu.Unlock()

	var hs *HandshakeOptions
	if r.gate.Configured() {
		hs = &HandshakeOptions{
			Encode: func() []byte { return r.gate.EncodeHandshake(conn) },
			OnPeer: func(payload []byte) {
				if err := r.gate.Verify(conn, payload); err != nil {
					conn.Destroy(NewError(CodeCapabilityInvalid, err.Error()))
					if r.onCapError != nil {
						r.onCapError(CapabilityErrorEvent{Connection: conn})
					}
				}
			},
		}
	}

	responder := transport.AttachResponder(conn, responderID, hs)
	for _, name := range names {
		reg := methods[name]
		chain := chains[name]
		responder.Respond(name, r.dispatchFunc(reg, chain, conn))
	}
	return responder, nil
}

// dispatchFunc builds the transport-facing HandlerFunc for one method,
// implementing the per-request pipeline of spec.md §4.G: allocate a
// RequestContext, run the composed chain, decode → handler → encode, and
// account requests/errors/handlerErrors at the documented points.
func (r *Router) dispatchFunc(reg *MethodRegistration, chain []Middleware, conn Connection) HandlerFunc {
	return func(ctx context.Context, raw []byte) ([]byte, error) {
		r.counters.bumpRequests()

		rc := &RequestContext{
			Method:     reg.name,
			Value:      raw,
			Connection: conn,
			RequestID:  uuid.NewString(),
		}

		handlerFailed := false
		final := func() ([]byte, error) {
			req, err := decodeWith(reg.requestCodec, rc.Value)
			if err != nil {
				return nil, err
			}

			res, err := reg.handler(ctx, rc, req)
			if err != nil {
				handlerFailed = true
				return nil, err
			}

			return encodeWith(reg.responseCodec, res)
		}

		out, err := runChain(chain, rc, final)
		if err != nil {
			if handlerFailed {
				r.counters.bumpHandlerErrors()
			}
			r.counters.bumpErrors()
			return nil, stampContext(err, rc.RequestID)
		}
		return out, nil
	}
}
