package syscall

import (
	"testing"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/memory"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sched"
	"github.com/bahusvel/faastr-go/internal/sos"
)

func newGateway(t *testing.T) (*Gateway, *kcontext.List) {
	t.Helper()
	modules := modload.NewCache()
	list := kcontext.NewList()
	s := sched.New(list, nil)
	return New(modules, s, nil), list
}

func encode(t *testing.T, values []sos.Value) []byte {
	t.Helper()
	buf := make([]byte, sos.EncodedLen(values))
	if _, err := sos.Encode(buf, values); err != nil {
		t.Fatalf("encoding: %v", err)
	}
	return buf
}

// TestSysWriteViaKernelPrint exercises scenario S5: a fuse targeting
// "kernel:print" dispatches to the registered print function and returns
// {UInt64(len)}.
func TestSysWriteViaKernelPrint(t *testing.T) {
	g, _ := newGateway(t)
	args := []sos.Value{sos.FunctionRef(modload.KernelModuleName, "print"), sos.String("hi")}

	payload, err := g.sysFuse(nil, args)
	if err != nil {
		t.Fatalf("sysFuse: %v", err)
	}
	values, err := sos.DecodeAll(payload)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	n, err := values[0].AsUInt64()
	if err != nil {
		t.Fatalf("AsUInt64: %v", err)
	}
	if n != 2 {
		t.Fatalf("returned length = %d, want 2", n)
	}
}

// TestSysFuseUnknownFunctionReturnsError exercises scenario S6: fusing a
// nonexistent function produces an Error value, SOS-encoded.
func TestSysFuseUnknownFunctionReturnsError(t *testing.T) {
	g, _ := newGateway(t)
	args := []sos.Value{sos.FunctionRef(modload.KernelModuleName, "does_not_exist")}

	ctx := kcontext.New()
	ctx.Args = newArgsRegion(t)

	_, err := g.Entry(ctx, SysFuse, encode(t, args))
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	result, err := ctx.Args.AsSlice()
	if err != nil {
		t.Fatal(err)
	}
	values, err := sos.DecodeAll(result[:ctx.ArgsCursor()])
	if err != nil {
		t.Fatalf("decoding appended result: %v", err)
	}
	msg, err := values[0].AsString()
	if err != nil {
		t.Fatalf("expected an Error/String value, got %v: %v", values[0].Tag(), err)
	}
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}

// TestSysCastReturnsEmptyStream confirms SYS_CAST's success payload is the
// 8-byte empty SOS stream, per spec.md §4.J step 3.
func TestSysCastReturnsEmptyStream(t *testing.T) {
	g, _ := newGateway(t)
	args := []sos.Value{sos.FunctionRef(modload.KernelModuleName, "print"), sos.String("async")}

	payload, err := g.sysCast(nil, args)
	if err != nil {
		t.Fatalf("sysCast: %v", err)
	}
	if len(payload) != 8 {
		t.Fatalf("empty cast payload length = %d, want 8", len(payload))
	}
}

func newArgsRegion(t *testing.T) *ctxmem.ContextMemory {
	t.Helper()
	mem, err := ctxmem.NewKernel(1, memory.EntryFlags{Present: true, Writable: true, UserAccessible: true})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return mem
}
