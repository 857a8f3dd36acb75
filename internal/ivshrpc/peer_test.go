package ivshrpc

import (
	"fmt"
	"testing"
	"time"

	"github.com/bahusvel/faastr-go/internal/ring"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// echoHandler answers Fuse with its own arguments and records every Cast it
// receives, standing in for the "kernel:print" target of spec.md §8 S5/S6.
type echoHandler struct {
	casts chan []sos.Value
	fail  string // when set, Fuse always returns this as an error
}

func newEchoHandler() *echoHandler {
	return &echoHandler{casts: make(chan []sos.Value, 8)}
}

func (h *echoHandler) Cast(args []sos.Value) error {
	h.casts <- args
	return nil
}

func (h *echoHandler) Fuse(args []sos.Value) ([]sos.Value, error) {
	if h.fail != "" {
		return nil, fmt.Errorf("%s", h.fail)
	}
	return args, nil
}

func newLoopbackPeers(t *testing.T, hA, hB Handler) (*Peer, *Peer) {
	t.Helper()
	bar := make([]byte, BufferSize)
	aHalf, bHalf, err := SplitBAR(bar)
	if err != nil {
		t.Fatalf("SplitBAR: %v", err)
	}
	if _, err := ring.InitHeader(aHalf); err != nil {
		t.Fatalf("InitHeader(aHalf): %v", err)
	}
	if _, err := ring.InitHeader(bHalf); err != nil {
		t.Fatalf("InitHeader(bHalf): %v", err)
	}

	bellA, bellB := NewLoopbackDoorbells()
	a := NewPeer("A", aHalf, bHalf, bellA, hA, nil)
	b := NewPeer("B", bHalf, aHalf, bellB, hB, nil)

	go a.Run()
	go b.Run()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// TestScenarioS5RemoteFuse mirrors spec.md §8 S5: a Fuse sent to a peer is
// dispatched to its Handler and the Return frame carries the exact result
// back with the same CallId's queue entry.
func TestScenarioS5RemoteFuse(t *testing.T) {
	hostHandler := newEchoHandler()
	a, _ := newLoopbackPeers(t, newEchoHandler(), hostHandler)

	result, err := a.Fuse([]sos.Value{sos.String("kernel:print"), sos.String("hi")})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("got %d values, want 2", len(result))
	}
	s, _ := result[1].AsString()
	if s != "hi" {
		t.Fatalf("got %q, want hi", s)
	}
}

// TestScenarioS6ErrorPropagation mirrors spec.md §8 S6: a Fuse whose target
// handler fails returns an Error frame, surfaced to the caller as an error.
func TestScenarioS6ErrorPropagation(t *testing.T) {
	failing := newEchoHandler()
	failing.fail = "No such function"
	a, _ := newLoopbackPeers(t, newEchoHandler(), failing)

	_, err := a.Fuse([]sos.Value{sos.String("kernel:does_not_exist")})
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
}

// TestCastNeverBlocksCaller mirrors spec.md §8 property 6: a Cast never
// parks the sender and the callee's eventual handling is observed
// out-of-band, here via the handler's recorded casts channel.
func TestCastNeverBlocksCaller(t *testing.T) {
	hostHandler := newEchoHandler()
	a, _ := newLoopbackPeers(t, newEchoHandler(), hostHandler)

	done := make(chan struct{})
	go func() {
		if err := a.Cast([]sos.Value{sos.String("kernel:print"), sos.String("fire and forget")}); err != nil {
			t.Errorf("Cast: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Cast blocked")
	}

	select {
	case args := <-hostHandler.casts:
		s, _ := args[1].AsString()
		if s != "fire and forget" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("cast never reached handler")
	}
}

// TestUnknownCallIDDiscarded mirrors spec.md §8 property 7: a Return/Error
// for an unknown CallId is discarded and does not disturb other in-flight
// calls. Exercised by sending a Return frame directly (bypassing Fuse,
// which would have parked a matching entry) and then confirming a genuine
// Fuse on the same peer still completes normally.
func TestUnknownCallIDDiscarded(t *testing.T) {
	hostHandler := newEchoHandler()
	a, b := newLoopbackPeers(t, newEchoHandler(), hostHandler)

	// b sends a stray Return into a's consumer ring for a CallId a never
	// parked (a's queue is what Fuse below checks against).
	if err := b.sendValues(MsgReturn, 9999, []sos.Value{sos.UInt64(1)}); err != nil {
		t.Fatalf("sendValues: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let the dispatch loop observe and discard it

	result, err := a.Fuse([]sos.Value{sos.String("kernel:print"), sos.String("still works")})
	if err != nil {
		t.Fatalf("Fuse after stray Return: %v", err)
	}
	s, _ := result[1].AsString()
	if s != "still works" {
		t.Fatalf("got %q", s)
	}
}
