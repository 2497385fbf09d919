package storage

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCheckpointCodecRoundTrip(t *testing.T) {
	input := testCheckpoint("c1", "2026-05-06T07:08:09Z")
	input.ParentID = "c0"
	data, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"schema_version":1`) {
		t.Fatalf("encoded checkpoint lacks version header: %s", data)
	}
	output, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(input, output); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCheckpointRejectsVersionMismatch(t *testing.T) {
	input := testCheckpoint("c1", "2026-05-06T07:08:09Z")
	input.CodecVersion = 2
	data, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
	if _, err := DecodeCheckpoint([]byte("{")); err == nil {
		t.Fatal("expected malformed payload error")
	}
}
