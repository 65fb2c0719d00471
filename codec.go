package rpcrouter

// A Codec converts between wire bytes and an application value. It mirrors
// the codec interface the underlying transport's wire library already
// exposes (spec.md §6): Preencode sizes the encoding, Encode writes it, and
// Decode parses a value back out of raw bytes. The core treats codecs
// opaquely; it never inspects Value beyond passing it through.
type Codec interface {
	// Preencode reports the number of bytes Encode will need for value.
	Preencode(value any) int

	// Encode returns the wire encoding of value.
	Encode(value any) ([]byte, error)

	// Decode parses data into an application value.
	Decode(data []byte) (any, error)
}

// rawCodec is the identity codec on bytes: decoding returns the input
// unchanged (as []byte), and encoding requires a []byte (or nil) input and
// returns it unchanged. It is the default request/response codec for a
// MethodRegistration that declares none (spec.md §3 MethodRegistration
// invariant: "decoders default to a raw pass-through").
type rawCodec struct{}

// RawCodec is the pass-through codec used when a MethodRegistration does
// not declare a request or response codec.
var RawCodec Codec = rawCodec{}

func (rawCodec) Preencode(value any) int {
	switch v := value.(type) {
	case []byte:
		return len(v)
	case nil:
		return 0
	default:
		return 0
	}
}

func (rawCodec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, NewError(CodeEncodeError, "raw codec requires a []byte value")
	}
}

func (rawCodec) Decode(data []byte) (any, error) { return data, nil }

// encodeWith runs codec.Encode, wrapping any failure in a CodeEncodeError per
// spec.md §4.E/§4.G.
func encodeWith(codec Codec, value any) ([]byte, error) {
	out, err := codec.Encode(value)
	if err != nil {
		return nil, WrapError(CodeEncodeError, err)
	}
	return out, nil
}

// decodeWith runs codec.Decode, wrapping any failure in a CodeDecodeError per
// spec.md §4.E/§4.G.
func decodeWith(codec Codec, data []byte) (any, error) {
	v, err := codec.Decode(data)
	if err != nil {
		return nil, WrapError(CodeDecodeError, err)
	}
	return v, nil
}
