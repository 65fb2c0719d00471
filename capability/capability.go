// Package capability implements the one-shot capability handshake a Router
// runs once per connection (spec.md §4.F). A Gate is configured with a
// namespace and a shared capability token; it computes a per-connection
// HMAC proof and verifies the peer's proof when its handshake arrives.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// Peer is the minimal connection identity the gate needs to compute and
// verify a per-connection proof. Any connection type exposing a 32-byte
// remote identity key satisfies this interface structurally.
type Peer interface {
	RemotePublicKey() [32]byte
}

// proofSize is the fixed size, in bytes, of an HMAC-SHA256 proof.
const proofSize = sha256.Size // 32

// Gate holds the namespace/capability pair configured on a Router and
// computes and verifies the one-shot handshake proof exchanged when a
// connection opens.
type Gate struct {
	namespace  string
	capability string
}

// New constructs a Gate for the given namespace and capability token.
func New(namespace, capability string) *Gate {
	return &Gate{namespace: namespace, capability: capability}
}

// Configured reports whether g has a non-empty capability token. A Router
// with no capability configured installs no handshake at all, and all
// peers are accepted (spec.md §4.F: "backwards compatible").
func (g *Gate) Configured() bool { return g != nil && g.capability != "" }

// proof computes the per-connection HMAC-SHA256 proof for peer: the
// capability token keys the MAC, and the namespace plus the peer's remote
// public key form the message, so a proof for one peer cannot be replayed
// against another peer or another namespace sharing the same token.
func (g *Gate) proof(peer Peer) [proofSize]byte {
	h := hmac.New(sha256.New, []byte(g.capability))
	h.Write([]byte(g.namespace))
	pk := peer.RemotePublicKey()
	h.Write(pk[:])
	var out [proofSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncodeHandshake renders the one-shot handshake wire payload sent to peer
// when its connection opens: a one-byte flags field (bit 0 set) followed
// by the fixed 32-byte proof (spec.md §6 "Capability handshake wire
// format").
func (g *Gate) EncodeHandshake(peer Peer) []byte {
	proof := g.proof(peer)
	buf := make([]byte, 1+proofSize)
	buf[0] = 1
	copy(buf[1:], proof[:])
	return buf
}

// Errors returned by Verify. Both are reported to the caller as
// CAPABILITY_INVALID by the router; they are distinguished here only for
// diagnostics.
var (
	// ErrMissingProof indicates the peer's handshake payload carried no
	// proof at all (spec.md §6: "Absence of the proof is a verification
	// failure").
	ErrMissingProof = errors.New("capability: peer presented no proof")
	// ErrInvalidProof indicates the peer's proof did not match the
	// expected value.
	ErrInvalidProof = errors.New("capability: peer proof does not verify")
)

// Verify checks peer's handshake payload against the expected proof for
// peer, decoding the wire format from spec.md §6: a one-byte flags field
// followed by an optional fixed 32-byte proof when flags&1 is set.
func (g *Gate) Verify(peer Peer, payload []byte) error {
	if len(payload) < 1 || payload[0]&1 == 0 || len(payload) < 1+proofSize {
		return ErrMissingProof
	}
	want := g.proof(peer)
	got := payload[1 : 1+proofSize]
	if !hmac.Equal(want[:], got) {
		return ErrInvalidProof
	}
	return nil
}
