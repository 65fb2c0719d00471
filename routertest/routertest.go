// Package routertest provides an in-memory [rpcrouter.Transport] and
// [rpcrouter.Connection] pair for exercising a [rpcrouter.Router] without a
// real peer-to-peer transport, the direct analog of creachadair/chirp's
// channel.Direct plus peers.NewLocal test helpers.
package routertest

import (
	"context"
	"sync"

	"github.com/holepunchto/protomux-rpc-router"
)

// Conn is an in-memory [rpcrouter.Connection] suitable for tests. The zero
// value is not ready; construct one with [NewConn].
type Conn struct {
	addr string
	pk   [32]byte

	mu        sync.Mutex
	destroyed bool
	destroyErr error
}

// NewConn returns a Conn reporting addr and pk as its remote identity.
func NewConn(addr string, pk [32]byte) *Conn {
	return &Conn{addr: addr, pk: pk}
}

// RemoteAddress implements [rpcrouter.Connection].
func (c *Conn) RemoteAddress() string { return c.addr }

// RemotePublicKey implements [rpcrouter.Connection].
func (c *Conn) RemotePublicKey() [32]byte { return c.pk }

// Destroy implements [rpcrouter.Connection], recording err for inspection by
// [Conn.Destroyed].
func (c *Conn) Destroy(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.destroyErr = err
	return nil
}

// Destroyed reports whether Destroy has been called on c, and with what
// error.
func (c *Conn) Destroyed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed, c.destroyErr
}

// Transport is an in-memory [rpcrouter.Transport] that hands back a
// [*Responder] recording every method binding, for direct invocation from a
// test.
type Transport struct{}

// AttachResponder implements [rpcrouter.Transport].
func (Transport) AttachResponder(conn rpcrouter.Connection, responderID string, hs *rpcrouter.HandshakeOptions) rpcrouter.Responder {
	r := &Responder{
		conn:    conn,
		id:      responderID,
		methods: make(map[string]rpcrouter.HandlerFunc),
	}
	if hs != nil {
		r.handshake = hs
		r.localHandshake = hs.Encode()
	}
	return r
}

// Responder is an in-memory [rpcrouter.Responder] that records every
// method-to-handler binding so a test can invoke it directly with [Call].
type Responder struct {
	conn rpcrouter.Connection
	id   string

	mu      sync.Mutex
	methods map[string]rpcrouter.HandlerFunc

	handshake      *rpcrouter.HandshakeOptions
	localHandshake []byte
}

// Respond implements [rpcrouter.Responder].
func (r *Responder) Respond(method string, fn rpcrouter.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = fn
}

// Call simulates the transport delivering an inbound call for method with
// payload, as if from the connection's peer. It fails the test-visible way
// ([rpcrouter.NewError] with [rpcrouter.CodeRouterNotReady]) if method was
// never registered.
func (r *Responder) Call(ctx context.Context, method string, payload []byte) ([]byte, error) {
	r.mu.Lock()
	fn, ok := r.methods[method]
	r.mu.Unlock()
	if !ok {
		return nil, rpcrouter.NewError(rpcrouter.CodeRouterNotReady, "no handler registered for method "+method)
	}
	return fn(ctx, payload)
}

// LocalHandshake returns the bytes this responder's local side would send
// to its peer on open, or nil if no capability gate is configured.
func (r *Responder) LocalHandshake() []byte { return r.localHandshake }

// DeliverHandshake simulates the peer's handshake payload arriving, for
// tests exercising the capability gate.
func (r *Responder) DeliverHandshake(payload []byte) {
	if r.handshake != nil {
		r.handshake.OnPeer(payload)
	}
}

// Echo is a handler that returns its request value unchanged,
// useful as the "parrot" handler in round-trip tests (spec.md §8 Round-trip
// laws).
func Echo(_ context.Context, _ *rpcrouter.RequestContext, req any) (any, error) {
	return req, nil
}
