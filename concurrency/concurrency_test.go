package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/holepunchto/protomux-rpc-router"
	"github.com/holepunchto/protomux-rpc-router/concurrency"
	"github.com/holepunchto/protomux-rpc-router/routertest"
)

func TestConcurrencyCap(t *testing.T) {
	defer leaktest.Check(t)()

	const capacity = 2
	mw := concurrency.ByRemotePublicKey(capacity)
	defer mw.OnClose()

	conn := routertest.NewConn("a", [32]byte{1})
	rc := &rpcrouter.RequestContext{Connection: conn}

	var inFlight atomic.Int32
	var maxObserved atomic.Int32
	slow := func() ([]byte, error) {
		n := inFlight.Add(1)
		for {
			cur := maxObserved.Load()
			if n <= cur || maxObserved.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		return []byte("foo"), nil
	}

	var wg sync.WaitGroup
	var successes, rejections atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mw.OnRequest(rc, slow); err != nil {
				rejections.Add(1)
			} else {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 2 {
		t.Errorf("successes = %d, want 2", successes.Load())
	}
	if rejections.Load() != 2 {
		t.Errorf("rejections = %d, want 2", rejections.Load())
	}
	if maxObserved.Load() > int32(capacity) {
		t.Errorf("max concurrent in-flight = %d, want <= %d", maxObserved.Load(), capacity)
	}
}

func TestReleaseOnHandlerFailure(t *testing.T) {
	defer leaktest.Check(t)()

	mw := concurrency.ByRemotePublicKey(1)
	defer mw.OnClose()

	conn := routertest.NewConn("a", [32]byte{1})
	rc := &rpcrouter.RequestContext{Connection: conn}

	failing := func() ([]byte, error) { return nil, rpcrouter.NewError(rpcrouter.CodeDecodeError, "boom") }
	if _, err := mw.OnRequest(rc, failing); err == nil {
		t.Fatal("want the handler's own failure to propagate")
	}

	ok := func() ([]byte, error) { return []byte("ok"), nil }
	if _, err := mw.OnRequest(rc, ok); err != nil {
		t.Fatalf("slot was not released after a failing call: %v", err)
	}
}

func TestKeyIndependence(t *testing.T) {
	defer leaktest.Check(t)()

	mw := concurrency.ByRemotePublicKey(1)
	defer mw.OnClose()

	connA := routertest.NewConn("a", [32]byte{1})
	connB := routertest.NewConn("b", [32]byte{2})
	rcA := &rpcrouter.RequestContext{Connection: connA}
	rcB := &rpcrouter.RequestContext{Connection: connB}

	block := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mw.OnRequest(rcA, func() ([]byte, error) {
			close(block)
			<-release
			return nil, nil
		})
	}()
	<-block

	if _, err := mw.OnRequest(rcB, func() ([]byte, error) { return []byte("ok"), nil }); err != nil {
		t.Errorf("rcB was blocked by rcA's in-flight request: %v", err)
	}
	close(release)
	wg.Wait()
}
