package encoding_test

import (
	"bytes"
	"errors"
	"strconv"
	"testing"

	"github.com/holepunchto/protomux-rpc-router"
	"github.com/holepunchto/protomux-rpc-router/encoding"
)

// intCodec decodes a decimal integer, used to exercise the adapter's
// request-side stash of a non-[]byte decoded value.
type intCodec struct{}

func (intCodec) Preencode(any) int                { return 0 }
func (intCodec) Encode(v any) ([]byte, error)      { return nil, errors.New("not used") }
func (intCodec) Decode(data []byte) (any, error)   { return strconv.Atoi(string(data)) }

// upperCodec is a byte-level transform codec: its Encode/Decode operate on
// the already-serialized wire bytes flowing through [rpcrouter.Next], the
// shape every response-side codec in this adapter sees since the chain is
// byte-oriented end to end (spec.md §9 Design Notes).
type upperCodec struct{}

func (upperCodec) Preencode(any) int { return 0 }

func (upperCodec) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, errors.New("upperCodec: not []byte")
	}
	return bytes.ToUpper(b), nil
}

func (upperCodec) Decode(data []byte) (any, error) { return bytes.ToLower(data), nil }

func TestRequestDecodeStashesNonByteValue(t *testing.T) {
	mw := encoding.New(encoding.Options{Request: intCodec{}})

	ctx := &rpcrouter.RequestContext{Value: []byte("41")}
	_, err := mw.OnRequest(ctx, func() ([]byte, error) {
		n, ok := encoding.RequestValue(ctx)
		if !ok {
			t.Fatal("decoded request value was not stashed")
		}
		if n.(int) != 41 {
			t.Errorf("stashed value = %v, want 41", n)
		}
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("OnRequest: %v", err)
	}
}

func TestResponseEncodeTransformsBytes(t *testing.T) {
	mw := encoding.New(encoding.Options{Response: upperCodec{}})

	ctx := &rpcrouter.RequestContext{Value: []byte("hello")}
	out, err := mw.OnRequest(ctx, func() ([]byte, error) { return []byte("world"), nil })
	if err != nil {
		t.Fatalf("OnRequest: %v", err)
	}
	if string(out) != "WORLD" {
		t.Errorf("result = %q, want %q", out, "WORLD")
	}
}

func TestRawValueBypassesSideTable(t *testing.T) {
	mw := encoding.New(encoding.Options{Request: rpcrouter.RawCodec})

	ctx := &rpcrouter.RequestContext{Value: []byte("hello")}
	_, err := mw.OnRequest(ctx, func() ([]byte, error) {
		if string(ctx.Value) != "hello" {
			t.Errorf("ctx.Value = %q, want %q", ctx.Value, "hello")
		}
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("OnRequest: %v", err)
	}
}

func TestDecodeFailureRaisesDecodeError(t *testing.T) {
	mw := encoding.New(encoding.Options{Request: intCodec{}})

	ctx := &rpcrouter.RequestContext{Value: []byte("not a number")}
	_, err := mw.OnRequest(ctx, func() ([]byte, error) {
		t.Fatal("next must not be called on a decode failure")
		return nil, nil
	})
	rerr, ok := err.(*rpcrouter.Error)
	if !ok || rerr.Code != rpcrouter.CodeDecodeError {
		t.Fatalf("error = %v, want CodeDecodeError", err)
	}
}

func TestHandlerErrorPassesThroughUnwrapped(t *testing.T) {
	mw := encoding.New(encoding.Options{})
	cause := errors.New("handler boom")

	ctx := &rpcrouter.RequestContext{Value: []byte("x")}
	_, err := mw.OnRequest(ctx, func() ([]byte, error) { return nil, cause })
	if err != cause {
		t.Errorf("error = %v, want the handler's error unchanged", err)
	}
}
