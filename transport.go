package rpcrouter

import "context"

// Connection is the external, transport-level peer connection the router
// attaches to. Framing, stream multiplexing, and connection establishment
// belong entirely to the transport (spec.md §1); the router only needs
// enough of a Connection to key built-in middleware and to reject a peer
// that fails the capability handshake.
type Connection interface {
	// RemoteAddress returns the remote peer's address string, as used by
	// the byRemoteAddress limiter key functions.
	RemoteAddress() string

	// RemotePublicKey returns the remote peer's 32-byte identity key, as
	// used by the byRemotePublicKey limiter key functions and as the
	// default responder id for Router.Attach.
	RemotePublicKey() [32]byte

	// Destroy tears down the connection and reports err to the transport.
	// The capability gate calls this when the peer's handshake proof fails
	// verification.
	Destroy(err error) error
}

// HandlerFunc is what a Responder invokes for each inbound call: the raw
// request payload in, the raw response payload (or an error) out.
type HandlerFunc func(ctx context.Context, data []byte) ([]byte, error)

// Responder is the transport-level object that accepts method-name-to-
// handler bindings for one connection (spec.md GLOSSARY).
type Responder interface {
	// Respond registers fn to be invoked whenever the peer calls method.
	Respond(method string, fn HandlerFunc)
}

// HandshakeOptions configures the one-shot capability handshake installed
// by Router.Attach when a capability gate is configured (spec.md §4.F,
// §6). The transport is responsible only for plumbing these bytes; all
// handshake semantics (proof computation, verification, what happens on
// failure) live in the capability subpackage and are invoked by the router.
type HandshakeOptions struct {
	// Encode returns the local handshake payload to send to the peer when
	// the connection opens.
	Encode func() []byte

	// OnPeer is invoked exactly once by the transport when the peer's
	// handshake payload arrives.
	OnPeer func(peerPayload []byte)
}

// Transport is the external collaborator that multiplexes RPC calls over
// physical connections (spec.md §1, §6). The router core calls only
// AttachResponder; everything else (accept loops, DHT lookup, stream
// multiplexing) is the transport's concern, not this module's.
type Transport interface {
	// AttachResponder binds a new Responder to conn under responderID. If
	// hs is non-nil, the transport must send hs.Encode() to the peer on
	// open and invoke hs.OnPeer exactly once when the peer's handshake
	// payload arrives.
	AttachResponder(conn Connection, responderID string, hs *HandshakeOptions) Responder
}

// CapabilityErrorEvent is delivered to a Router's capability-error observer
// when a peer's handshake proof fails verification (spec.md §4.F, §7).
type CapabilityErrorEvent struct {
	Connection Connection
}
