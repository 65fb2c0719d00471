// Package handleradapt provides adapters from typed Go functions to
// [rpcrouter.Handler], sparing method authors from hand-rolling the `any`
// juggling in the common case. It mirrors creachadair/chirp's handler
// subpackage, adapted to this module's Handler signature and its generic
// [rpcrouter.Codec] (chirp's adapters unmarshal/marshal via
// encoding.BinaryUnmarshaler/TextMarshaler directly; here the request
// value has already passed through the method's own codec by the time a
// handleradapt wrapper sees it, so these adapters only narrow the `any`
// to P and widen R back to `any`).
package handleradapt

import (
	"context"
	"fmt"

	"github.com/holepunchto/protomux-rpc-router"
)

// ParamResultError adapts a function f that accepts parameters of type P
// and returns a result of type R and an error, to an [rpcrouter.Handler].
func ParamResultError[P, R any](f func(context.Context, *rpcrouter.RequestContext, P) (R, error)) rpcrouter.Handler {
	return func(ctx context.Context, rc *rpcrouter.RequestContext, req any) (any, error) {
		p, err := cast[P](req)
		if err != nil {
			return nil, err
		}
		return f(ctx, rc, p)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to an [rpcrouter.Handler].
func ParamResult[P, R any](f func(context.Context, *rpcrouter.RequestContext, P) R) rpcrouter.Handler {
	return func(ctx context.Context, rc *rpcrouter.RequestContext, req any) (any, error) {
		p, err := cast[P](req)
		if err != nil {
			return nil, err
		}
		return f(ctx, rc, p), nil
	}
}

// ParamError adapts a function f that accepts parameters of type P and
// returns only an error, to an [rpcrouter.Handler].
func ParamError[P any](f func(context.Context, *rpcrouter.RequestContext, P) error) rpcrouter.Handler {
	return func(ctx context.Context, rc *rpcrouter.RequestContext, req any) (any, error) {
		p, err := cast[P](req)
		if err != nil {
			return nil, err
		}
		return nil, f(ctx, rc, p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to an [rpcrouter.Handler].
func ResultError[R any](f func(context.Context, *rpcrouter.RequestContext) (R, error)) rpcrouter.Handler {
	return func(ctx context.Context, rc *rpcrouter.RequestContext, req any) (any, error) {
		return f(ctx, rc)
	}
}

// cast narrows req to P, reporting a DECODE_ERROR if the method's codec
// produced a value of the wrong concrete type.
func cast[P any](req any) (P, error) {
	p, ok := req.(P)
	if !ok {
		var zero P
		return zero, rpcrouter.NewError(rpcrouter.CodeDecodeError, fmt.Sprintf("handler expected %T, codec produced %T", zero, req))
	}
	return p, nil
}
