// Package concurrency implements the per-key in-flight request gate
// middleware (spec.md §4.D): acquire before the handler runs, release in a
// guaranteed-on-both-paths block around it, exactly mirroring the
// acquire/defer-release shape in other_examples/FlowerRealm-realms's
// TokenInflightLimiter.
package concurrency

import (
	"encoding/base64"
	"sync"

	"github.com/holepunchto/protomux-rpc-router"
)

type keyFunc func(rc *rpcrouter.RequestContext) string

func byRemoteAddressKey(rc *rpcrouter.RequestContext) string {
	return rc.Connection.RemoteAddress()
}

func byRemotePublicKeyKey(rc *rpcrouter.RequestContext) string {
	pk := rc.Connection.RemotePublicKey()
	return base64.RawURLEncoding.EncodeToString(pk[:])
}

// defaultMaxResidentKeys bounds the gate's map against a key-flooding
// attacker, the same ceiling rationale as the rate limiter (spec.md §9
// Design Notes). Because every resident key here corresponds to a live
// in-flight request, the ceiling only matters under extreme fan-out and is
// enforced by refusing new keys past the ceiling rather than evicting an
// in-flight one.
const defaultMaxResidentKeys = 1 << 16

// engine is the per-key active-count accounting core (spec.md §4.D).
type engine struct {
	mu        sync.Mutex
	active    map[string]int
	capacity  int
	destroyed bool
	maxKeys   int
}

func newEngine(capacity int) *engine {
	return &engine{active: make(map[string]int), capacity: capacity, maxKeys: defaultMaxResidentKeys}
}

// tryAcquire implements spec.md §4.D's admission algorithm.
func (e *engine) tryAcquire(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return false, rpcrouter.NewError(rpcrouter.CodeConcurrentDestroyed, "concurrency limiter is destroyed")
	}

	active := e.active[key]
	if active >= e.capacity {
		return false, nil
	}
	if active == 0 && len(e.active) >= e.maxKeys {
		return false, nil
	}
	e.active[key] = active + 1
	return true, nil
}

// release implements spec.md §4.D's release algorithm: decrementing to
// zero removes the key entirely, and releasing an absent key is silently
// ignored (defensive — should never occur).
func (e *engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.active[key]
	if !ok {
		return
	}
	if active <= 1 {
		delete(e.active, key)
		return
	}
	e.active[key] = active - 1
}

// destroy marks the engine destroyed and clears the map. A second call
// fails with CodeConcurrentDestroyed.
func (e *engine) destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return rpcrouter.NewError(rpcrouter.CodeConcurrentDestroyed, "concurrency limiter already destroyed")
	}
	e.destroyed = true
	e.active = make(map[string]int)
	return nil
}

type middleware struct {
	rpcrouter.Base
	engine *engine
	key    keyFunc
}

// ByRemoteAddress returns a concurrency-limiting middleware keyed by the
// connection's remote address, admitting at most capacity concurrent
// in-flight requests per key (spec.md §4.D, §6).
func ByRemoteAddress(capacity int) rpcrouter.Middleware {
	return &middleware{engine: newEngine(capacity), key: byRemoteAddressKey}
}

// ByRemotePublicKey returns a concurrency-limiting middleware keyed by a
// base64 encoding of the connection's 32-byte remote identity key (spec.md
// §4.D, §6).
func ByRemotePublicKey(capacity int) rpcrouter.Middleware {
	return &middleware{engine: newEngine(capacity), key: byRemotePublicKeyKey}
}

// OnClose destroys the engine (spec.md §4.B: participates in the router's
// normal close order).
func (m *middleware) OnClose() error { return m.engine.destroy() }

// OnRequest acquires the gate before next and releases it in a
// guaranteed-on-both-paths block, so the active count is restored whether
// next succeeds or fails (spec.md §4.D, §5 "guaranteed-release mechanism").
func (m *middleware) OnRequest(ctx *rpcrouter.RequestContext, next rpcrouter.Next) ([]byte, error) {
	key := m.key(ctx)

	ok, err := m.engine.tryAcquire(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rpcrouter.NewError(rpcrouter.CodeConcurrentExceeded, "concurrent limit exceeded for key")
	}
	defer m.engine.release(key)

	return next()
}
