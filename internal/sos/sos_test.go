package sos

import (
	"bytes"
	"testing"
)

func mustEncode(t *testing.T, values []Value) []byte {
	t.Helper()
	buf := make([]byte, EncodedLen(values))
	n, err := Encode(buf, values)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Encode wrote %d bytes, EncodedLen said %d", n, len(buf))
	}
	return buf
}

func TestRoundTripAllTypes(t *testing.T) {
	in := []Value{
		Int64(3),
		Float64(2.8),
		Error("Hello"),
		Opaque([]byte{1, 2, 3}),
		String("world"),
		Int32(-7),
		UInt32(7),
		UInt64(9999999999),
		Float32(1.5),
		FunctionRef("call", "passthrough"),
		Embedded([]Value{Int32(1), String("nested")}),
	}
	buf := mustEncode(t, in)

	out, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i].Tag() != out[i].Tag() {
			t.Fatalf("value %d: tag %s != %s", i, out[i].Tag(), in[i].Tag())
		}
	}

	i64, err := out[0].AsInt64()
	if err != nil || i64 != 3 {
		t.Fatalf("Int64: got %d, %v", i64, err)
	}
	f64, _ := out[1].AsFloat64()
	if f64 != 2.8 {
		t.Fatalf("Float64: got %v", f64)
	}
	es, _ := out[2].AsString()
	if es != "Hello" {
		t.Fatalf("Error: got %q", es)
	}
	op, _ := out[3].AsOpaque()
	if !bytes.Equal(op, []byte{1, 2, 3}) {
		t.Fatalf("Opaque: got %v", op)
	}
	ss, _ := out[4].AsString()
	if ss != "world" {
		t.Fatalf("String: got %q", ss)
	}
	fn, _ := out[9].AsFunction()
	if fn.Module != "call" || fn.Name != "passthrough" {
		t.Fatalf("Function: got %+v", fn)
	}
	nested, err := out[10].AsEmbedded()
	if err != nil || len(nested) != 2 {
		t.Fatalf("Embedded: got %v, %v", nested, err)
	}
}

// S1 from spec.md §8.
func TestScenarioS1(t *testing.T) {
	values := []Value{
		Int64(3),
		Float64(2.8),
		Error("Hello"),
		Opaque([]byte{1, 2, 3}),
		String("world"),
	}
	buf := mustEncode(t, values)

	count := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if count != 5 {
		t.Fatalf("count: got %d, want 5", count)
	}
	totalLen := uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24
	if int(totalLen) != EncodedLen(values) {
		t.Fatalf("total_len: got %d, want %d", totalLen, EncodedLen(values))
	}

	out, err := DecodeAll(buf)
	if err != nil || len(out) != 5 {
		t.Fatalf("DecodeAll: %v, %v", out, err)
	}
}

func TestEmptyListBoundary(t *testing.T) {
	buf := mustEncode(t, nil)
	if len(buf) != 8 {
		t.Fatalf("empty list encoded to %d bytes, want 8", len(buf))
	}
	out, err := DecodeAll(buf)
	if err != nil || len(out) != 0 {
		t.Fatalf("DecodeAll(empty): %v, %v", out, err)
	}
}

func TestDecodeNeverPanicsOnGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0, 0, 0},
		{1, 0, 0, 0, 100, 0, 0, 0, 99},         // count=1, total_len bogus, bad tag
		{1, 0, 0, 0, 0, 0, 0, 0, 1, 1, 0, 0}, // Int32 tag but truncated body
		{1, 0, 0, 0, 0, 0, 0, 0, 8, 255, 255, 255, 255}, // String with huge length
		bytes.Repeat([]byte{0xff}, 64),
	}
	for i, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("input %d panicked: %v", i, r)
				}
			}()
			_, _ = DecodeAll(in)
		}()
	}
}

func TestKindMismatch(t *testing.T) {
	buf := mustEncode(t, []Value{Int32(1)})
	out, err := DecodeAll(buf)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if _, err := out[0].AsString(); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
}

func TestEncodeBufferTooSmall(t *testing.T) {
	values := []Value{Int32(1)}
	buf := make([]byte, EncodedLen(values)-1)
	if _, err := Encode(buf, values); err == nil {
		t.Fatalf("expected error on undersized buffer")
	}
}
