package rpcrouter_test

import (
	"bytes"
	"testing"

	"github.com/holepunchto/protomux-rpc-router"
)

func TestRawCodecIdentity(t *testing.T) {
	in := []byte("hello")
	decoded, err := rpcrouter.RawCodec.Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.([]byte)
	if !ok || !bytes.Equal(got, in) {
		t.Errorf("Decode(%q) = %v, want identity", in, decoded)
	}

	encoded, err := rpcrouter.RawCodec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(encoded, in) {
		t.Errorf("Encode(%q) = %q, want identity", in, encoded)
	}
}

func TestRawCodecRejectsNonBytes(t *testing.T) {
	if _, err := rpcrouter.RawCodec.Encode(42); err == nil {
		t.Error("Encode(42): want error, raw codec only accepts []byte or nil")
	}
}
