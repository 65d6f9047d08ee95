package transport_test

import (
	"encoding/json"
	"testing"

	"github.com/randalmurphal/eventkit/pkg/eventkit/transport"
)

func TestEncodePayloadJSON(t *testing.T) {
	// Strings pass through unchanged.
	data, err := transport.EncodePayload("hello", transport.EncodingJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected string passthrough, got %q", data)
	}

	// Non-strings are JSON-encoded.
	data, err = transport.EncodePayload(map[string]int{"n": 1}, transport.EncodingJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", data, err)
	}
	if decoded["n"] != 1 {
		t.Errorf("expected n=1, got %v", decoded)
	}

	// Empty encoding defaults to JSON.
	data, err = transport.EncodePayload("x", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "x" {
		t.Errorf("expected default json encoding, got %q", data)
	}
}

func TestEncodePayloadString(t *testing.T) {
	data, err := transport.EncodePayload(42, transport.EncodingString)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "42" {
		t.Errorf("expected stringified payload, got %q", data)
	}
}

func TestEncodePayloadBuffer(t *testing.T) {
	raw := []byte{0x01, 0x02}
	data, err := transport.EncodePayload(raw, transport.EncodingBuffer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 2 || data[0] != 0x01 {
		t.Errorf("expected raw bytes, got %v", data)
	}

	if _, err := transport.EncodePayload("not bytes", transport.EncodingBuffer); err == nil {
		t.Error("expected error for non-[]byte buffer payload")
	}
}

func TestEncodePayloadUnknownEncoding(t *testing.T) {
	if _, err := transport.EncodePayload("x", "protobuf"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
