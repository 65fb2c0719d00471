package rpcrouter_test

import (
	"context"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	"github.com/holepunchto/protomux-rpc-router"
	"github.com/holepunchto/protomux-rpc-router/routertest"
)

// traceMiddleware records "<name>:before" and "<name>:after" into a shared
// trace slice around next, matching the onion-trace scenario in spec.md §8
// S1.
type traceMiddleware struct {
	rpcrouter.Base
	name  string
	trace *[]string
}

func (m *traceMiddleware) OnRequest(ctx *rpcrouter.RequestContext, next rpcrouter.Next) ([]byte, error) {
	*m.trace = append(*m.trace, m.name+":before")
	out, err := next()
	*m.trace = append(*m.trace, m.name+":after")
	return out, err
}

func TestOnionOrdering(t *testing.T) {
	defer leaktest.Check(t)()

	var trace []string
	g1 := &traceMiddleware{name: "g1", trace: &trace}
	g2 := &traceMiddleware{name: "g2", trace: &trace}
	m1 := &traceMiddleware{name: "m1", trace: &trace}
	m2 := &traceMiddleware{name: "m2", trace: &trace}

	r := rpcrouter.New(rpcrouter.Options{})
	r.Use(g1)
	r.Use(g2)
	reg, err := r.Method("echo", rpcrouter.MethodOptions{}, func(_ context.Context, _ *rpcrouter.RequestContext, req any) (any, error) {
		trace = append(trace, "handler")
		return req, nil
	})
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	reg.Use(m1)
	reg.Use(m2)
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var transport routertest.Transport
	conn := routertest.NewConn("peer-1", [32]byte{1})
	responder, err := r.Attach(transport, conn, "")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	out, err := responder.(*routertest.Responder).Call(context.Background(), "echo", []byte("foo"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(out) != "foo" {
		t.Errorf("result = %q, want %q", out, "foo")
	}

	want := []string{
		"g1:before", "g2:before", "m1:before", "m2:before",
		"handler",
		"m2:after", "m1:after", "g2:after", "g1:after",
	}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenRollback(t *testing.T) {
	defer leaktest.Check(t)()

	var opened []string
	var closed []string
	mk := func(name string, failOpen bool) rpcrouter.Middleware {
		return &lifecycleMiddleware{name: name, failOpen: failOpen, opened: &opened, closed: &closed}
	}

	r := rpcrouter.New(rpcrouter.Options{})
	r.Use(mk("a", false))
	r.Use(mk("b", true))
	r.Use(mk("c", false))

	err := r.Open()
	if err == nil {
		t.Fatal("Open: want error, got nil")
	}
	if diff := cmp.Diff([]string{"a", "b"}, opened); diff != "" {
		t.Errorf("opened mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, closed); diff != "" {
		t.Errorf("closed mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseAggregation(t *testing.T) {
	defer leaktest.Check(t)()

	var closed []string
	r := rpcrouter.New(rpcrouter.Options{})
	r.Use(&lifecycleMiddleware{name: "m1", opened: &[]string{}, closed: &closed})
	r.Use(&lifecycleMiddleware{name: "m2", opened: &[]string{}, closed: &closed, failClose: true})
	r.Use(&lifecycleMiddleware{name: "m3", opened: &[]string{}, closed: &closed})
	r.Use(&lifecycleMiddleware{name: "m4", opened: &[]string{}, closed: &closed, failClose: true})

	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	err := r.Close()
	if err == nil {
		t.Fatal("Close: want error, got nil")
	}
	agg, ok := err.(*rpcrouter.AggregateError)
	if !ok {
		t.Fatalf("Close error type = %T, want *rpcrouter.AggregateError", err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("len(agg.Errors) = %d, want 2", len(agg.Errors))
	}
	if diff := cmp.Diff([]string{"m4", "m3", "m2", "m1"}, closed); diff != "" {
		t.Errorf("close order mismatch (-want +got):\n%s", diff)
	}
}

// TestUseConcurrentWithClose calls MethodRegistration.Use concurrently
// with Router.Close, the scenario the race detector must see as safe:
// nothing in spec.md forbids a caller from holding a MethodRegistration
// past Open and calling Use while another goroutine closes the router.
func TestUseConcurrentWithClose(t *testing.T) {
	defer leaktest.Check(t)()

	r := rpcrouter.New(rpcrouter.Options{})
	reg, err := r.Method("echo", rpcrouter.MethodOptions{}, echoHandler)
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	if err := r.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.Use(&traceMiddleware{name: "late", trace: &[]string{}})
	}()
	go func() {
		defer wg.Done()
		r.Close()
	}()
	wg.Wait()
}

type lifecycleMiddleware struct {
	rpcrouter.Base
	name      string
	failOpen  bool
	failClose bool
	opened    *[]string
	closed    *[]string
}

func (m *lifecycleMiddleware) OnOpen() error {
	*m.opened = append(*m.opened, m.name)
	if m.failOpen {
		return rpcrouter.NewError(rpcrouter.CodeRouterNotReady, m.name+" refused to open")
	}
	return nil
}

func (m *lifecycleMiddleware) OnClose() error {
	*m.closed = append(*m.closed, m.name)
	if m.failClose {
		return rpcrouter.NewError(rpcrouter.CodeRouterNotReady, m.name+" failed to close")
	}
	return nil
}

func (m *lifecycleMiddleware) OnRequest(_ *rpcrouter.RequestContext, next rpcrouter.Next) ([]byte, error) {
	return next()
}
