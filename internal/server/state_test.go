package server

import (
	"strings"
	"testing"
)

func TestStateCodecRoundTrip(t *testing.T) {
	codec, err := newStateCodec([]byte("state-secret"))
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := codec.newState()
	if err != nil {
		t.Fatalf("unexpected state error: %v", err)
	}
	if !codec.validate(state) {
		t.Fatalf("freshly minted state must validate")
	}
}

func TestStateCodecMintsUniqueValues(t *testing.T) {
	codec, err := newStateCodec([]byte("state-secret"))
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	first, err := codec.newState()
	if err != nil {
		t.Fatalf("unexpected state error: %v", err)
	}
	second, err := codec.newState()
	if err != nil {
		t.Fatalf("unexpected state error: %v", err)
	}
	if first == second {
		t.Fatalf("correlators must be unique per initiation")
	}
}

func TestStateCodecRejectsTamperedValue(t *testing.T) {
	codec, err := newStateCodec([]byte("state-secret"))
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := codec.newState()
	if err != nil {
		t.Fatalf("unexpected state error: %v", err)
	}

	value, signature, _ := strings.Cut(state, ".")
	flipped := []byte(value)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}

	if codec.validate(string(flipped) + "." + signature) {
		t.Fatalf("tampered value must not validate")
	}
	if codec.validate(value) {
		t.Fatalf("unsigned value must not validate")
	}
	if codec.validate("") {
		t.Fatalf("empty state must not validate")
	}
}

func TestStateCodecRejectsForeignSignature(t *testing.T) {
	codec, err := newStateCodec([]byte("state-secret"))
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	foreign, err := newStateCodec([]byte("another-secret"))
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	state, err := foreign.newState()
	if err != nil {
		t.Fatalf("unexpected state error: %v", err)
	}
	if codec.validate(state) {
		t.Fatalf("state signed by another process must not validate")
	}
}

func TestNewStateCodecRequiresSecret(t *testing.T) {
	if _, err := newStateCodec(nil); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}
