package rpcrouter

// Next invokes the remainder of a middleware chain (the next middleware, or
// ultimately the method handler) and returns its result.
type Next func() ([]byte, error)

// Middleware is a value that can wrap every request passing through a
// [Router] or a single method's registration. Implementations normally embed
// [Base] and override only the hooks they need; OnRequest is the only hook
// every middleware must implement itself, since Base has no useful default
// for it.
//
// See spec.md §4.B for the composition contract: OnOpen runs left to right
// over a chain and rolls back on failure, OnClose runs right to left and is
// error-tolerant, and OnRequest nests so that earlier middleware sees both
// the pre- and post-handler sides of later middleware.
type Middleware interface {
	// OnOpen is called once, in chain order, when the owning Router opens. A
	// non-nil error aborts the open and rolls back the already-opened prefix.
	OnOpen() error

	// OnClose is called once, in reverse chain order, when the owning Router
	// closes. All OnClose hooks run regardless of earlier failures.
	OnClose() error

	// OnRequest is invoked for every request passing through the chain. It
	// must call next() exactly once to continue the chain (unless it intends
	// to short-circuit the request, e.g. a rejecting limiter).
	OnRequest(ctx *RequestContext, next Next) ([]byte, error)

	// RegisterMetrics registers any counters this middleware exposes with
	// reg. It is called once per middleware, in chain order, fanning out
	// from Router.RegisterMetrics.
	RegisterMetrics(reg Registry)
}

// Base provides no-op implementations of every Middleware hook except
// OnRequest. Middleware implementations should embed Base and override only
// the hooks they need, mirroring the "identity" default described in
// spec.md §3 (Middleware).
type Base struct{}

// OnOpen implements Middleware and does nothing.
func (Base) OnOpen() error { return nil }

// OnClose implements Middleware and does nothing.
func (Base) OnClose() error { return nil }

// RegisterMetrics implements Middleware and does nothing.
func (Base) RegisterMetrics(Registry) {}

// identity is the zero middleware: its OnRequest simply delegates to next.
type identity struct{ Base }

func (identity) OnRequest(_ *RequestContext, next Next) ([]byte, error) { return next() }

// Identity is the middleware whose OnRequest is `(ctx, next) -> next()` and
// whose other hooks are no-ops. It is the two-sided unit of composition.
var Identity Middleware = identity{}

// openParticipants opens each of participants in order. If the k-th
// participant fails to open, openParticipants stops immediately, runs
// OnClose (errors swallowed) on exactly the participants that succeeded (in
// reverse order), and returns the original failure. This implements
// spec.md §4.B's open/rollback contract and §8 invariant 3.
func openParticipants(participants []Middleware) error {
	for i, m := range participants {
		if err := m.OnOpen(); err != nil {
			for j := i - 1; j >= 0; j-- {
				participants[j].OnClose() // errors swallowed during rollback
			}
			return err
		}
	}
	return nil
}

// closeParticipants closes each of participants in reverse order. Every
// OnClose hook runs regardless of earlier failures; all errors encountered
// are folded into a single aggregate (spec.md §4.B, §8 invariant 4).
func closeParticipants(participants []Middleware) error {
	var errs []error
	for i := len(participants) - 1; i >= 0; i-- {
		if err := participants[i].OnClose(); err != nil {
			errs = append(errs, err)
		}
	}
	return aggregate(errs...)
}

// registerParticipantMetrics fans RegisterMetrics out to every participant
// in order. A participant's failure cannot occur (RegisterMetrics has no
// error return) so later participants are always reached; the signature
// matches spec.md §4.B's fan-out requirement directly.
func registerParticipantMetrics(participants []Middleware, reg Registry) {
	for _, m := range participants {
		m.RegisterMetrics(reg)
	}
}

// dispatch runs a composed chain of participants for a single request,
// terminating in final. It implements the onion-ordering contract of
// spec.md §4.B / §8 invariant 1 as a flat, index-driven interpreter rather
// than a nest of closures built ahead of time (see spec.md §9 Design Notes).
type dispatch struct {
	participants []Middleware
	ctx          *RequestContext
	final        Next
	pos          int
}

// run executes the chain from the beginning and returns the handler's
// (possibly middleware-transformed) result.
func (d *dispatch) run() ([]byte, error) { return d.step() }

func (d *dispatch) step() ([]byte, error) {
	if d.pos == len(d.participants) {
		return d.final()
	}
	m := d.participants[d.pos]
	d.pos++
	return m.OnRequest(d.ctx, d.step)
}

// runChain executes participants against ctx, terminating in final. It is
// the single entry point the router's per-request pipeline uses to invoke
// the composed chain built at attach time (spec.md §4.G step 3-4).
func runChain(participants []Middleware, ctx *RequestContext, final Next) ([]byte, error) {
	d := &dispatch{participants: participants, ctx: ctx, final: final}
	return d.run()
}
