package call

import (
	"testing"
	"time"

	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sched"
	"github.com/bahusvel/faastr-go/internal/sos"
)

func echoModule() *modload.Module {
	impl := func(ctx *kcontext.Context, args []byte) ([]byte, error) {
		values, err := sos.DecodeAll(args)
		if err != nil {
			return nil, err
		}
		n, err := values[0].AsInt32()
		if err != nil {
			return nil, err
		}
		out := []sos.Value{sos.Int32(n * 2)}
		buf := make([]byte, sos.EncodedLen(out))
		sos.Encode(buf, out)
		return buf, nil
	}
	return modload.NewForTest("doubler", map[string]uint64{"double": 0}, map[uint64]modload.ModuleFunc{0: impl})
}

// TestFuseNameOriginCall exercises spec.md §8 scenario S3: an
// externally-originated fuse call (no parent context) resolves the target
// function, blocks until it completes, and yields its decoded result.
func TestFuseNameOriginCall(t *testing.T) {
	list := kcontext.NewList()
	s := sched.New(list, nil)
	caller := Caller{Sched: s}

	result, err := caller.FuseName(echoModule(), "double", []sos.Value{sos.Int32(21)})
	if err != nil {
		t.Fatalf("FuseName: %v", err)
	}
	values, err := sos.DecodeAll(result)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	got, err := values[0].AsInt32()
	if err != nil {
		t.Fatalf("AsInt32: %v", err)
	}
	if got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
}

// TestFuseNameNestedCall exercises a fuse issued from within a context that
// is itself already Running, confirming the caller is Blocked for the
// duration and Running again once fuse_return completes.
func TestFuseNameNestedCall(t *testing.T) {
	list := kcontext.NewList()
	s := sched.New(list, nil)

	origin := kcontext.New()
	origin.CPUID = 0
	origin.SetStatus(kcontext.Running)
	if _, err := list.Insert(origin); err != nil {
		t.Fatal(err)
	}

	caller := Caller{Sched: s, Ctx: origin}
	result, err := caller.FuseName(echoModule(), "double", []sos.Value{sos.Int32(5)})
	if err != nil {
		t.Fatalf("FuseName: %v", err)
	}
	if origin.Status() != kcontext.Running {
		t.Fatalf("origin status after fuse return = %v, want Running", origin.Status())
	}
	values, err := sos.DecodeAll(result)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := values[0].AsInt32()
	if got != 10 {
		t.Fatalf("result = %d, want 10", got)
	}
}

// TestCastNameDoesNotBlockCaller exercises spec.md §8 scenario S4: cast
// fires off the target without the caller waiting for it, and the target
// eventually runs to completion on its own.
func TestCastNameDoesNotBlockCaller(t *testing.T) {
	done := make(chan int32, 1)
	impl := func(ctx *kcontext.Context, args []byte) ([]byte, error) {
		values, _ := sos.DecodeAll(args)
		n, _ := values[0].AsInt32()
		done <- n
		return nil, nil
	}
	mod := modload.NewForTest("notifier", map[string]uint64{"notify": 0}, map[uint64]modload.ModuleFunc{0: impl})

	list := kcontext.NewList()
	s := sched.New(list, nil)
	caller := Caller{Sched: s}

	if err := caller.CastName(mod, "notify", []sos.Value{sos.Int32(99)}); err != nil {
		t.Fatalf("CastName: %v", err)
	}

	select {
	case n := <-done:
		if n != 99 {
			t.Fatalf("notified with %d, want 99", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cast target never ran")
	}
}
