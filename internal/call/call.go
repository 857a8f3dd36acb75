// Package call implements spawn and the fuse/cast public entry points named
// by spec.md §4.I, grounded on
// _examples/original_source/kernel/src/syscall/process.rs (the spawn/exec
// path) and context/context.rs.
//
// Per SPEC_FULL.md §0 there is no kfx save area, kernel stack, or PML4 slot
// copy to perform — a Context here owns no arch state at all, since
// "switching into" it is a direct Go call (see internal/sched). spawn's
// remaining steps (image cloning, args/stack/heap allocation) still apply
// unchanged: the whole point of the simulation is that the memory and
// reference-counting model is real even though the CPU state is not.
package call

import (
	"fmt"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/memory"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sched"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// userStackPages is the page count reserved for a spawned context's user
// stack. The source kernel sizes this off a USER_STACK_SIZE constant that
// spec.md does not pin to a number; 64 pages (256 KiB) is chosen as a
// conservative default sized for the synthetic modules this implementation
// runs.
const userStackPages = 64

// argsPages and heapPages are the initial sizes of the args and heap
// regions. The args region grows on demand via AppendArgs's auto-resize;
// nothing grows the heap, which keeps its initial size.
const argsPages = 1
const heapPages = 1

var rwFlags = memory.EntryFlags{Present: true, Writable: true, UserAccessible: true}

// Spawn builds a new, not-yet-scheduled Context from module: its image
// segments cloned (readonly shared via RefClone, writable deep-copied via
// CopyClone), plus fresh args/stack/heap regions, all mapped into a new
// address space. The context is left in the New status; the caller sets
// Function/RetLink/CPUID and inserts it into the list.
func Spawn(module *modload.Module) (*kcontext.Context, error) {
	space := memory.NewAddressSpace()

	ctx := kcontext.New()
	ctx.Module = module

	nextAddr := memory.VirtualAddress(0x0000_0000_0040_0000)
	for _, seg := range module.Image() {
		var clone *ctxmem.ContextMemory
		var err error
		if seg.Writable {
			clone, err = seg.Mem.CopyClone(&nextAddr)
			if err == nil {
				clone.DropKernelMapping()
			}
		} else {
			clone = seg.Mem.RefClone(&nextAddr)
		}
		if err != nil {
			return nil, fmt.Errorf("call: cloning image segment: %w", err)
		}
		if err := clone.MapContext(space, nextAddr); err != nil {
			return nil, fmt.Errorf("call: mapping image segment: %w", err)
		}
		ctx.Image = append(ctx.Image, clone)
		nextAddr += memory.VirtualAddress(clone.PageCount() * memory.PageSize)
	}

	// The args region keeps its kernel mapping installed (unlike image
	// segments, which drop theirs once materialized): AppendArgs writes into
	// it from kernel-side code throughout the context's life.
	args, err := ctxmem.NewKernel(argsPages, rwFlags)
	if err != nil {
		return nil, fmt.Errorf("call: allocating args: %w", err)
	}
	if err := args.MapContext(space, nextAddr); err != nil {
		return nil, fmt.Errorf("call: mapping args: %w", err)
	}
	ctx.Args = args
	nextAddr += memory.VirtualAddress(argsPages * memory.PageSize)

	stack, err := newMappedRegion(space, userStackPages, rwFlags, &nextAddr)
	if err != nil {
		return nil, fmt.Errorf("call: allocating stack: %w", err)
	}
	ctx.Stack = stack
	nextAddr += memory.VirtualAddress(userStackPages * memory.PageSize)

	heap, err := newMappedRegion(space, heapPages, rwFlags, &nextAddr)
	if err != nil {
		return nil, fmt.Errorf("call: allocating heap: %w", err)
	}
	ctx.Heap = heap

	return ctx, nil
}

func newMappedRegion(space *memory.AddressSpace, pages int, flags memory.EntryFlags, addr *memory.VirtualAddress) (*ctxmem.ContextMemory, error) {
	mem, err := ctxmem.New(pages, flags)
	if err != nil {
		return nil, err
	}
	if err := mem.MapContext(space, *addr); err != nil {
		return nil, err
	}
	return mem, nil
}

// Caller bundles the state the fuse/cast entry points need from whichever
// context is issuing the call: the scheduler and list it's a part of, and
// its own Context (nil for the very first, origin invocation issued
// directly by a test or CLI command rather than by a running module).
type Caller struct {
	Sched *sched.Scheduler
	Ctx   *kcontext.Context // nil for an externally-originated call
}

// FuseName resolves name in module, spawns a context to run it, appends the
// SOS-encoded args, blocks the caller until the callee fuse_returns, then
// returns the callee's raw SOS result bytes. Mirrors spec.md §4.I
// fuse_name/fuse_ptr.
func (c Caller) FuseName(module *modload.Module, name string, args []sos.Value) ([]byte, error) {
	offset, err := module.Offset(name)
	if err != nil {
		return nil, err
	}
	return c.FusePtr(module, offset, args)
}

// FusePtr is FuseName resolved directly to an entry offset.
func (c Caller) FusePtr(module *modload.Module, offset uint64, args []sos.Value) ([]byte, error) {
	callee, err := Spawn(module)
	if err != nil {
		return nil, err
	}
	callee.Function = offset
	callee.RetLink = c.Ctx
	if c.Ctx != nil {
		callee.CPUID = c.Ctx.CPUID
	}
	callee.SetStatus(kcontext.Runnable)

	if err := appendArgs(callee, args); err != nil {
		return nil, err
	}

	list := c.Sched.List()
	if _, err := list.Insert(callee); err != nil {
		return nil, err
	}
	defer list.Remove(callee.ID())

	if c.Ctx != nil {
		c.Sched.FuseSwitch(c.Ctx, callee)
	} else {
		// An externally-originated fuse call (the very first call in a
		// chain, issued directly by a test or CLI command) has no parent
		// context to block; run the callee to completion via the
		// scheduler's pick-and-run path (RunOnce), since callee is already
		// Runnable and owns no predecessor on this CPU.
		c.Sched.RunOnce(callee.CPUID, callee.ID()-1)
	}

	return callee.Result, nil
}

// CastName is FuseName's fire-and-forget counterpart: it spawns the target
// in the New status (not Runnable, and with no RetLink), inserts it, and
// returns immediately without waiting for it to run. The scheduler's own
// pick loop — or, in this simulation, a spawned goroutine — carries it to
// completion. Mirrors spec.md §4.I cast_name/cast_ptr.
func (c Caller) CastName(module *modload.Module, name string, args []sos.Value) error {
	offset, err := module.Offset(name)
	if err != nil {
		return err
	}
	return c.CastPtr(module, offset, args)
}

// CastPtr is CastName resolved directly to an entry offset.
func (c Caller) CastPtr(module *modload.Module, offset uint64, args []sos.Value) error {
	target, err := Spawn(module)
	if err != nil {
		return err
	}
	target.Function = offset
	if c.Ctx != nil {
		target.CPUID = c.Ctx.CPUID
	}
	// Left in kcontext.New status per spec.md §4.I: no RetLink, the
	// scheduler (or here, a dedicated goroutine) enters it independently of
	// whoever issued the cast.
	if err := appendArgs(target, args); err != nil {
		return err
	}

	list := c.Sched.List()
	if _, err := list.Insert(target); err != nil {
		return err
	}

	go func() {
		defer list.Remove(target.ID())
		c.Sched.RunOnce(target.CPUID, target.ID()-1)
	}()

	return nil
}

func appendArgs(ctx *kcontext.Context, args []sos.Value) error {
	if len(args) == 0 {
		return nil
	}
	buf := make([]byte, sos.EncodedLen(args))
	if _, err := sos.Encode(buf, args); err != nil {
		return err
	}
	if _, err := ctx.AppendArgs(buf); err != nil {
		return err
	}
	return nil
}
