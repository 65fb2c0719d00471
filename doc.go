// Package rpcrouter implements the core of an RPC responder framework that
// sits on top of a multiplexed, length-delimited, peer-to-peer transport.
//
// # Routers
//
// The core type is the [Router]. A Router lets a server author register named
// methods, layer cross-cutting [Middleware] around every invocation, and
// attach the resulting responder set to any newly established peer
// connection:
//
//	r := rpcrouter.New(rpcrouter.Options{})
//	r.Method("echo", rpcrouter.MethodOptions{}, func(ctx context.Context, rc *rpcrouter.RequestContext, req any) (any, error) {
//	    return req, nil
//	})
//	if err := r.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	r.Attach(transport, conn, "")
//
// # Middleware
//
// Middleware wraps every call in a method-independent ("global") or
// method-specific onion. Implementations embed [Base] and override only the
// hooks they need:
//
//	type logRequests struct{ rpcrouter.Base }
//
//	func (logRequests) OnRequest(ctx *rpcrouter.RequestContext, next rpcrouter.Next) ([]byte, error) {
//	    return next()
//	}
//
//	r.Use(logRequests{})
//
// # Built-in middleware
//
// The ratelimit, concurrency, encoding, and capability subpackages provide
// the catalog of built-in middleware: per-key token-bucket rate limiting,
// per-key concurrent-request limiting, a payload-encoding adapter, and a
// one-shot connection handshake verifier.
//
// # Metrics
//
// Routers report activity through the [Registry] interface passed to
// [Router.RegisterMetrics], which also fans out to every middleware's
// RegisterMetrics hook (the built-in middleware register no counters of
// their own), rather than through a logging package — this module reports failures through its error taxonomy
// and activity through counters, leaving presentation to the embedding
// application. The promreg and expvarreg subpackages provide concrete
// adapters.
package rpcrouter
