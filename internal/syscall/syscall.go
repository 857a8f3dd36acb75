// Package syscall implements the single syscall entry point named by
// spec.md §4.J, grounded on
// _examples/original_source/kernel/src/syscall/{mod.rs,call.rs}.
//
// A Gateway decodes an SOS argument stream and dispatches to one of the four
// numbered operations. Checking a claimed pointer range against a context's
// address space is the separate ValidateRange function (per SPEC_FULL.md §0,
// a map[VirtualAddress]PhysicalAddress lookup stands in for the real
// per-page table walk); Entry does not call it.
// Results, success or error, are always SOS-encoded and appended into the
// caller's own args region — callers read their result from there, never
// from a separate return channel.
package syscall

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bahusvel/faastr-go/internal/call"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/memory"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sched"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// Number identifies which syscall is being dispatched.
type Number int

const (
	SysFuse Number = iota
	SysCast
	SysReturn
	SysWrite
)

// Gateway is the single syscall entry, holding the module cache and
// scheduler every dispatched call needs to resolve and run a target.
type Gateway struct {
	Modules *modload.Cache
	Sched   *sched.Scheduler
	Log     *logrus.Logger
}

// New creates a Gateway and registers the kernel module's "print" entry,
// backing SYS_WRITE (spec.md §4.J step 3), onto modules.
func New(modules *modload.Cache, scheduler *sched.Scheduler, log *logrus.Logger) *Gateway {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	g := &Gateway{Modules: modules, Sched: scheduler, Log: log}
	modules.RegisterKernelFunc("print", 0, g.sysWrite)
	return g
}

// Entry is the syscall gateway's entry point: (number, sos_ptr, sos_len,
// stack) in spec.md's terms becomes (number, raw argument bytes, calling
// context) here — the caller has already sliced [sos_ptr, sos_ptr+sos_len)
// out of ctx's address space via ValidateRange.
func (g *Gateway) Entry(ctx *kcontext.Context, number Number, argBuf []byte) (resultAddr int, err error) {
	args, decodeErr := sos.DecodeAll(argBuf)
	if decodeErr != nil {
		return g.writeError(ctx, fmt.Errorf("syscall: decoding argument stream: %w", decodeErr))
	}

	var payload []byte
	var dispatchErr error
	switch number {
	case SysFuse:
		payload, dispatchErr = g.sysFuse(ctx, args)
	case SysCast:
		payload, dispatchErr = g.sysCast(ctx, args)
	case SysReturn:
		payload, dispatchErr = g.sysReturn(ctx, args)
	case SysWrite:
		payload, dispatchErr = g.sysWriteSyscall(ctx, args)
	default:
		dispatchErr = fmt.Errorf("syscall: unknown syscall number %d", number)
	}

	if dispatchErr != nil {
		return g.writeError(ctx, dispatchErr)
	}
	return g.appendResult(ctx, payload)
}

// ValidateRange checks that [addr, addr+length) lies entirely within
// present, user-accessible pages of ctx's address space, per spec.md §4.J
// step 1. Exposed so callers (e.g. the ivshrpc dispatch loop) can validate
// before slicing out the argument bytes to pass to Entry.
func ValidateRange(space *memory.AddressSpace, addr memory.VirtualAddress, length int) error {
	if length == 0 {
		return nil
	}
	start := addr - memory.VirtualAddress(uint64(addr)%memory.PageSize)
	end := addr + memory.VirtualAddress(length) - 1
	for page := start; page <= end; page += memory.PageSize {
		flags, ok := space.Flags(page)
		if !ok || !flags.Present || !flags.UserAccessible {
			return fmt.Errorf("syscall: address %#x is not a present, user-accessible page", page)
		}
	}
	return nil
}

// sysFuse resolves args[0] (a Function value "module:name") and calls it
// synchronously via internal/call, per spec.md §4.J step 3 SYS_FUSE.
func (g *Gateway) sysFuse(ctx *kcontext.Context, args []sos.Value) ([]byte, error) {
	module, name, rest, err := g.resolveTarget(args)
	if err != nil {
		return nil, err
	}
	caller := call.Caller{Sched: g.Sched, Ctx: ctx}
	return caller.FuseName(module, name, rest)
}

// sysCast is sysFuse's fire-and-forget counterpart: it returns an empty SOS
// stream on success, per spec.md §4.J step 3 SYS_CAST.
func (g *Gateway) sysCast(ctx *kcontext.Context, args []sos.Value) ([]byte, error) {
	module, name, rest, err := g.resolveTarget(args)
	if err != nil {
		return nil, err
	}
	caller := call.Caller{Sched: g.Sched, Ctx: ctx}
	if err := caller.CastName(module, name, rest); err != nil {
		return nil, err
	}
	empty := make([]byte, sos.EncodedLen(nil))
	sos.Encode(empty, nil)
	return empty, nil
}

// sysReturn stores payload (the SOS-re-encoding of args) into ctx's Result
// and exits it, per spec.md §4.J step 3 SYS_RETURN.
func (g *Gateway) sysReturn(ctx *kcontext.Context, args []sos.Value) ([]byte, error) {
	buf := make([]byte, sos.EncodedLen(args))
	if _, err := sos.Encode(buf, args); err != nil {
		return nil, err
	}
	ctx.Result = buf
	ctx.SetExitCode(0)
	ctx.SetStatus(kcontext.Exited)
	return buf, nil
}

// sysWriteSyscall is SYS_WRITE dispatched through the gateway directly
// (rather than through a module function call), printing args[0] with a
// module/function prefix naming ctx's own module, per spec.md §4.J step 3
// SYS_WRITE.
func (g *Gateway) sysWriteSyscall(ctx *kcontext.Context, args []sos.Value) ([]byte, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("syscall: SYS_WRITE requires one string argument")
	}
	msg, err := args[0].AsString()
	if err != nil {
		return nil, err
	}
	prefix := "?"
	if ctx.Module != nil {
		prefix = ctx.Module.Name()
	}
	g.Log.Infof("[%s] %s", prefix, msg)

	out := []sos.Value{sos.UInt64(uint64(len(msg)))}
	buf := make([]byte, sos.EncodedLen(out))
	sos.Encode(buf, out)
	return buf, nil
}

// sysWrite is the ModuleFunc registered as the kernel module's "print"
// entry offset 0, reachable both via a direct fuse/cast to "kernel:print"
// and via the SYS_WRITE syscall number. It decodes its own args rather than
// relying on the gateway's pre-decoded slice, since ModuleFunc's contract is
// (ctx, raw SOS bytes).
func (g *Gateway) sysWrite(ctx *kcontext.Context, rawArgs []byte) ([]byte, error) {
	args, err := sos.DecodeAll(rawArgs)
	if err != nil {
		return nil, err
	}
	return g.sysWriteSyscall(ctx, args)
}

// resolveTarget pulls a "module:name" Function reference out of args[0] and
// resolves the module via the cache, loading it from disk first if it is
// not yet cached and args[0] happens to name a path instead (spec.md's
// "look up (or load+cache) its module").
func (g *Gateway) resolveTarget(args []sos.Value) (*modload.Module, string, []sos.Value, error) {
	if len(args) < 1 {
		return nil, "", nil, fmt.Errorf("syscall: missing function reference argument")
	}
	fn, err := args[0].AsFunction()
	if err != nil {
		return nil, "", nil, fmt.Errorf("syscall: first argument must be a Function reference: %w", err)
	}
	module, err := g.Modules.Get(fn.Module)
	if err != nil {
		loaded, loadErr := g.Modules.LoadFile(fn.Module, nil)
		if loadErr != nil {
			return nil, "", nil, err
		}
		module = loaded
	}
	return module, fn.Name, args[1:], nil
}

// writeError SOS-encodes err as a one-element {Error(msg)} stream, appends
// it into ctx's args region, and returns its offset — spec.md §4.J step 4.
func (g *Gateway) writeError(ctx *kcontext.Context, err error) (int, error) {
	values := []sos.Value{sos.Error(err.Error())}
	buf := make([]byte, sos.EncodedLen(values))
	sos.Encode(buf, values)
	return g.appendResult(ctx, buf)
}

// appendResult appends payload into ctx's args region and returns the
// in-context address (the offset) it was written at.
func (g *Gateway) appendResult(ctx *kcontext.Context, payload []byte) (int, error) {
	offset, err := ctx.AppendArgs(payload)
	if err != nil {
		return 0, err
	}
	return offset, nil
}
