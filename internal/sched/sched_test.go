package sched

import (
	"testing"
	"time"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/memory"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sos"
)

type stubModule struct {
	name string
	fn   modload.ModuleFunc
}

func (s *stubModule) Name() string { return s.name }

func newArgs(t *testing.T) *ctxmem.ContextMemory {
	t.Helper()
	mem, err := ctxmem.NewKernel(1, memory.EntryFlags{Present: true, Writable: true, UserAccessible: true})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return mem
}

func newRunnable(t *testing.T, cpuID int, mod *stubModule, args *ctxmem.ContextMemory) *kcontext.Context {
	t.Helper()
	c := kcontext.New()
	c.Module = mod
	c.Args = args
	c.CPUID = cpuID
	c.SetStatus(kcontext.Runnable)
	return c
}

func TestRunOnceInvokesModuleFunc(t *testing.T) {
	called := false
	mod := &stubModule{name: "m", fn: func(ctx *kcontext.Context, args []byte) ([]byte, error) {
		called = true
		v := []sos.Value{sos.Int32(7)}
		buf := make([]byte, sos.EncodedLen(v))
		sos.Encode(buf, v)
		return buf, nil
	}}

	list := kcontext.NewList()
	s := New(list, nil)

	c := newRunnable(t, 1, mod, newArgs(t))
	c.Module = wireModule(mod.name, mod.fn)

	if _, err := list.Insert(c); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	id, ok := s.RunOnce(1, 0)
	if !ok {
		t.Fatal("expected a runnable context to be picked")
	}
	if id != c.ID() {
		t.Fatalf("ran wrong context: got %d want %d", id, c.ID())
	}
	if !called {
		t.Fatal("module func was never invoked")
	}
	if c.Status() != kcontext.Exited {
		t.Fatalf("status = %v, want Exited", c.Status())
	}
	values, err := sos.DecodeAll(c.Result)
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if got, _ := values[0].AsInt32(); got != 7 {
		t.Fatalf("result = %d, want 7", got)
	}
}

func TestRunOnceNoneRunnableReturnsFalse(t *testing.T) {
	list := kcontext.NewList()
	s := New(list, nil)
	if _, ok := s.RunOnce(1, 0); ok {
		t.Fatal("expected no runnable context on an empty list")
	}
}

func TestUpdatePassWakesBlockedContext(t *testing.T) {
	mod := wireModule("sleeper", func(ctx *kcontext.Context, args []byte) ([]byte, error) {
		return nil, nil
	})
	list := kcontext.NewList()
	s := New(list, nil)

	c := kcontext.New()
	c.Module = mod
	c.Args = newArgs(t)
	c.CPUID = 1
	c.SetStatus(kcontext.Blocked)
	c.Wake = time.Now().Add(-time.Millisecond) // already elapsed
	if _, err := list.Insert(c); err != nil {
		t.Fatal(err)
	}

	id, ok := s.RunOnce(1, 0)
	if !ok || id != c.ID() {
		t.Fatalf("expected the woken context to be picked, got id=%d ok=%v", id, ok)
	}
}

func TestFuseSwitchBlocksCallerAndReturns(t *testing.T) {
	calleeMod := wireModule("callee", func(ctx *kcontext.Context, args []byte) ([]byte, error) {
		v := []sos.Value{sos.UInt32(42)}
		buf := make([]byte, sos.EncodedLen(v))
		sos.Encode(buf, v)
		return buf, nil
	})

	list := kcontext.NewList()
	s := New(list, nil)

	caller := kcontext.New()
	caller.CPUID = 0
	caller.SetStatus(kcontext.Running)
	if _, err := list.Insert(caller); err != nil {
		t.Fatal(err)
	}

	callee := kcontext.New()
	callee.Module = calleeMod
	callee.Args = newArgs(t)
	callee.RetLink = caller
	if _, err := list.Insert(callee); err != nil {
		t.Fatal(err)
	}

	s.FuseSwitch(caller, callee)

	if callee.Status() != kcontext.Exited {
		t.Fatalf("callee status = %v, want Exited", callee.Status())
	}
	if caller.Status() != kcontext.Running {
		t.Fatalf("caller status after fuse_return = %v, want Running", caller.Status())
	}
	values, err := sos.DecodeAll(callee.Result)
	if err != nil {
		t.Fatalf("decoding callee result: %v", err)
	}
	if got, _ := values[0].AsUInt32(); got != 42 {
		t.Fatalf("callee result = %d, want 42", got)
	}
}

// wireModule builds a minimal modload.Module exposing a single function
// "run" at offset 0, backed by fn — enough for sched tests to drive invoke
// without going through the ELF loader.
func wireModule(name string, fn modload.ModuleFunc) *modload.Module {
	return modload.NewForTest(name, map[string]uint64{"run": 0}, map[uint64]modload.ModuleFunc{0: fn})
}
