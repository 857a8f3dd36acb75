package ring

import (
	"bytes"
	"testing"
)

func newRing(t *testing.T, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	if _, err := InitHeader(buf); err != nil {
		t.Fatalf("InitHeader: %v", err)
	}
	return buf
}

func TestWriteReadRoundTrip(t *testing.T) {
	buf := newRing(t, 4096)
	p := NewProducer(buf)
	c := NewConsumer(buf)

	msg := []byte("hello, ring buffer")
	wh := p.Write(len(msg))
	copy(wh.Bytes(), msg)
	wh.Commit()

	rh := c.Read(len(msg))
	got := append([]byte(nil), rh.Bytes()...)
	rh.Commit()

	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
	if headVal(buf) != tailVal(buf) {
		t.Fatalf("head != tail after full drain")
	}
}

func headVal(buf []byte) uint64 { return *headPtr(buf) }
func tailVal(buf []byte) uint64 { return *tailPtr(buf) }

func TestTryWriteCapacityBoundary(t *testing.T) {
	buf := newRing(t, 4096)
	p := NewProducer(buf)
	cap := p.Capacity()

	if h := p.TryWrite(cap); h == nil {
		t.Fatalf("TryWrite(capacity) on empty ring should succeed")
	} else {
		h.Commit()
	}

	if h := p.TryWrite(1); h != nil {
		t.Fatalf("TryWrite(1) on a full ring should fail")
	}
}

func TestTryReadBoundaryIsGreaterOrEqual(t *testing.T) {
	// Open Question resolution #3: try_read(n) must succeed when exactly n
	// bytes are available, not only when strictly more than n are available.
	buf := newRing(t, 4096)
	p := NewProducer(buf)
	c := NewConsumer(buf)

	wh := p.Write(11)
	copy(wh.Bytes(), []byte("exactly11!!"))
	wh.Commit()

	rh := c.TryRead(11, 1000)
	if rh == nil {
		t.Fatalf("TryRead(11) with exactly 11 bytes available should succeed")
	}
	rh.Commit()

	if rh2 := c.TryRead(1, 1); rh2 != nil {
		t.Fatalf("TryRead(1) on an empty ring should fail")
	}
}

// S2 from spec.md §8: Error frame header(13)+payload(11) round trip.
func TestScenarioS2(t *testing.T) {
	buf := newRing(t, 4096)
	p := NewProducer(buf)
	c := NewConsumer(buf)

	frame := make([]byte, 24)
	for i := range frame {
		frame[i] = byte(i + 1)
	}

	wh := p.Write(len(frame))
	copy(wh.Bytes(), frame)
	wh.Commit()

	hh := c.TryRead(13, 1000)
	if hh == nil {
		t.Fatalf("TryRead(13) failed")
	}
	header := append([]byte(nil), hh.Bytes()...)
	hh.Commit()

	ph := c.Read(11)
	payload := append([]byte(nil), ph.Bytes()...)
	ph.Commit()

	got := append(header, payload...)
	if !bytes.Equal(got, frame) {
		t.Fatalf("got %v, want %v", got, frame)
	}
	if headVal(buf) != tailVal(buf) {
		t.Fatalf("head != tail after full read")
	}
}

func TestSkipN(t *testing.T) {
	buf := newRing(t, 4096)
	p := NewProducer(buf)
	c := NewConsumer(buf)

	wh := p.Write(10)
	wh.Commit()

	skipped := c.SkipN(4)
	if skipped != 4 {
		t.Fatalf("SkipN: got %d, want 4", skipped)
	}
	rh := c.Read(6)
	rh.Commit()
	if headVal(buf) != tailVal(buf) {
		t.Fatalf("head != tail after skip+read")
	}
}
