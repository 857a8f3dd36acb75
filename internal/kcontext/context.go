// Package kcontext implements Context and the global context list named by
// spec.md §3/§4.G, grounded on
// _examples/original_source/kernel/src/context/{context,mod,list}.rs.
package kcontext

import (
	"sync"
	"time"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
)

// ID identifies a Context in the global list.
type ID uint64

// Status is the context lifecycle state named in spec.md §3.
type Status int

const (
	New Status = iota
	Runnable
	Running
	Blocked
	Stopped
	Exited
)

func (s Status) String() string {
	switch s {
	case New:
		return "New"
	case Runnable:
		return "Runnable"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Stopped:
		return "Stopped"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ModuleRef is the subset of a loaded module a Context needs: its name (for
// logging/back-reference) is all that's required here, the loader owns the
// rest.
type ModuleRef interface {
	Name() string
}

// Context is the per-invocation execution state named in spec.md §3. Unlike
// the source kernel, there is no "arch save area" — see SPEC_FULL.md §0 for
// why a hosted simulation replaces inline-assembly context switching with a
// direct Go call into the module's registered entry function.
type Context struct {
	mu sync.RWMutex

	id     ID
	status Status
	exitCode int

	// Image holds the context's cloned memory regions (readonly shared via
	// RefClone, writable deep-copied via CopyClone).
	Image []*ctxmem.ContextMemory

	// Args is the ContextMemory the kernel appends SOS-encoded
	// argument/return bytes into, auto-growing via Resize.
	Args *ctxmem.ContextMemory
	argsCursor int

	Heap  *ctxmem.ContextMemory
	Stack *ctxmem.ContextMemory

	// Function is the entry offset the context runs; Module names which
	// loaded module it came from.
	Function uint64
	Module   ModuleRef

	// RetLink is a strong reference to the parent context of a fuse
	// invocation; nil for a cast. Keeping it strong (rather than the parent
	// holding a pointer to the child) avoids the cyclic context graph named
	// in spec.md §9 — the child is instead found via the context list.
	RetLink *Context

	// Result holds the callee's SOS-encoded return payload once a fused
	// call has returned, ready for the scheduler to hand to the caller.
	Result []byte

	CPUID int

	// Wake is the scheduler's sleep/wakeup bookkeeping (spec.md §3): if
	// non-zero and Status==Blocked, the scheduler's update pass clears it and
	// marks the context Runnable once time.Now() has passed it.
	Wake time.Time
}

// New creates a context in the New state, owning no image/args/heap/stack
// yet; the call layer populates those before inserting it into the list.
func New() *Context {
	return &Context{status: New}
}

func (c *Context) ID() ID { return c.id }

func (c *Context) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Context) SetStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Context) ExitCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitCode
}

func (c *Context) SetExitCode(n int) {
	c.mu.Lock()
	c.exitCode = n
	c.mu.Unlock()
}

// AppendArgs SOS-appends raw bytes at the args region's cursor, growing the
// region via Resize if it doesn't fit, and returns the offset the bytes were
// written at.
func (c *Context) AppendArgs(data []byte) (offset int, err error) {
	needed := c.argsCursor + len(data)
	if needed > c.Args.PageCount()*4096 {
		pages := (needed + 4095) / 4096
		if err := c.Args.Resize(pages); err != nil {
			return 0, err
		}
	}
	buf, err := c.Args.AsSliceMut()
	if err != nil {
		return 0, err
	}
	offset = c.argsCursor
	copy(buf[offset:], data)
	c.argsCursor += len(data)
	return offset, nil
}

// ArgsCursor returns the current write offset into the args region.
func (c *Context) ArgsCursor() int { return c.argsCursor }
