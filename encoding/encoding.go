// Package encoding implements the payload-encoding adapter middleware
// (spec.md §4.E): decode the inbound value before the rest of the chain
// sees it, and encode the handler's result before it leaves the chain.
package encoding

import "github.com/holepunchto/protomux-rpc-router"

// Options configures the adapter. A nil Request or Response codec leaves
// that side untouched, matching spec.md §4.E's "if request codec
// supplied" / "if response codec supplied" conditionals.
type Options struct {
	Request  rpcrouter.Codec
	Response rpcrouter.Codec
}

type middleware struct {
	rpcrouter.Base
	opts Options
}

// New returns an encoding-adapter middleware per spec.md §4.E.
func New(opts Options) rpcrouter.Middleware {
	return &middleware{opts: opts}
}

// OnRequest implements spec.md §4.E's four-step algorithm. It does not
// catch arbitrary handler errors — only failures in its own decode/encode
// calls are wrapped.
func (m *middleware) OnRequest(ctx *rpcrouter.RequestContext, next rpcrouter.Next) ([]byte, error) {
	if m.opts.Request != nil {
		decoded, err := m.opts.Request.Decode(ctx.Value)
		if err != nil {
			return nil, rpcrouter.WrapError(rpcrouter.CodeDecodeError, err)
		}
		if b, ok := decoded.([]byte); ok {
			ctx.Value = b
		} else {
			ctx.Set(requestValueKey, decoded)
		}
	}

	res, err := next()
	if err != nil {
		return nil, err
	}

	if m.opts.Response != nil {
		encoded, err := m.opts.Response.Encode(res)
		if err != nil {
			return nil, rpcrouter.WrapError(rpcrouter.CodeEncodeError, err)
		}
		return encoded, nil
	}
	return res, nil
}

// requestValueKey is the RequestContext.Get/Set key under which a decoded
// non-[]byte request value is stashed, since ctx.Value is typed []byte
// (spec.md §9 Design Notes: "model [the dynamic context bag] as a typed
// struct for the fixed fields plus a key→value side-table").
var requestValueKey = struct{ name string }{"encoding.requestValue"}

// RequestValue retrieves the decoded request value stashed by the encoding
// adapter, for handlers whose request codec decodes to something other
// than raw bytes.
func RequestValue(ctx *rpcrouter.RequestContext) (any, bool) {
	return ctx.Get(requestValueKey)
}
