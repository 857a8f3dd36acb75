// Package sched implements the cooperative round-robin scheduler and
// context-switch handshake named by spec.md §4.H, grounded on
// _examples/original_source/kernel/src/context/switch.rs.
//
// Per SPEC_FULL.md §0, there is no inline-assembly register save/restore:
// "switching into" a context means calling its module's registered
// ModuleFunc directly, synchronously, in the scheduling goroutine. This
// still enforces every invariant spec.md §5 names: all Status/current-id
// transitions happen under a single lock, a fuse caller is Blocked until
// fuse_return wakes it, and a cast never blocks its originator.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sos"
)

// Scheduler owns the global context-switch lock and the context list. One
// Scheduler is shared by every simulated CPU.
type Scheduler struct {
	list *kcontext.List
	lock sync.Mutex // CONTEXT_SWITCH_LOCK
	log  *logrus.Logger
}

// New creates a Scheduler over list. log may be nil, in which case a
// logger at WarnLevel is created (matching the teacher's
// `logger.SetLevel(log.WarnLevel)` convention for embedded subsystems).
func New(list *kcontext.List, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Scheduler{list: list, log: log}
}

func (s *Scheduler) List() *kcontext.List { return s.list }

// pick performs the update pass then the pick pass of spec.md §4.H steps
// 4-6, returning the next context to run on cpuID after from, or false if
// none is runnable.
func (s *Scheduler) pick(cpuID int, from kcontext.ID) (*kcontext.Context, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now()
	s.list.Each(func(c *kcontext.Context) {
		if c.CPUID == 0 && c.Status() == kcontext.New {
			// unowned contexts adopt the CPU that first observes them
			c.CPUID = cpuID
		}
		if c.Status() == kcontext.Blocked && !c.Wake.IsZero() && !now.Before(c.Wake) {
			c.Wake = time.Time{}
			c.SetStatus(kcontext.Runnable)
		}
	})

	return s.list.NextAfter(from, cpuID, kcontext.Runnable, kcontext.New)
}

// RunOnce picks and runs at most one context on cpuID, returning whether one
// was found. Used by the call layer (origin fuse calls and casts) and by
// tests driving the scheduler directly without a background goroutine.
func (s *Scheduler) RunOnce(cpuID int, from kcontext.ID) (ran kcontext.ID, ok bool) {
	target, found := s.pick(cpuID, from)
	if !found {
		return from, false
	}
	s.runTarget(cpuID, target)
	return target.ID(), true
}

// runTarget performs spec.md §4.H steps 7-9: demote the previous Running
// context (if it was this CPU's current one and is not the target itself),
// mark target Running, record it as this CPU's current context, release the
// lock, then invoke its entry function (switch_user for New, switch_to
// otherwise — the distinction collapses in a hosted simulation, see
// SPEC_FULL.md §0).
func (s *Scheduler) runTarget(cpuID int, target *kcontext.Context) {
	s.lock.Lock()
	if prev, ok := s.list.Current(cpuID); ok && prev.Status() == kcontext.Running {
		prev.SetStatus(kcontext.Runnable)
	}
	target.CPUID = cpuID
	target.SetStatus(kcontext.Running)
	s.list.SetCurrent(cpuID, target.ID())
	s.lock.Unlock()

	s.invoke(target)
}

// invoke runs target's entry function to completion and records its SOS
// return payload, mirroring the source kernel's SYS_RETURN handler: the
// function call itself stands in for the user code eventually trapping into
// SYS_RETURN.
func (s *Scheduler) invoke(target *kcontext.Context) {
	fn, err := target.Module.(*modload.Module).Func(target.Function)
	if err != nil {
		target.Result = encodeError(err)
		target.SetStatus(kcontext.Exited)
		return
	}
	argBuf, err := target.Args.AsSlice()
	if err != nil {
		target.Result = encodeError(err)
		target.SetStatus(kcontext.Exited)
		return
	}
	raw := argBuf[:target.ArgsCursor()]
	// Validate the argument stream is well-formed SOS before handing raw
	// bytes to fn; fn itself re-decodes whichever values it needs. An args
	// region nothing was appended to (a call with no arguments) is passed
	// to fn empty.
	if len(raw) > 0 {
		if _, err := sos.DecodeAll(raw); err != nil {
			target.Result = encodeError(fmt.Errorf("sched: decoding args: %w", err))
			target.SetStatus(kcontext.Exited)
			return
		}
	}

	result, err := fn(target, raw)
	if err != nil {
		target.Result = encodeError(err)
	} else {
		target.Result = result
	}
	target.SetStatus(kcontext.Exited)
}

func encodeError(err error) []byte {
	values := []sos.Value{sos.Error(err.Error())}
	buf := make([]byte, sos.EncodedLen(values))
	sos.Encode(buf, values)
	return buf
}

// FuseSwitch performs spec.md §4.H "fuse switch": target's RetLink is the
// parent (caller), which is marked Blocked while target runs to completion
// Running on the caller's CPU. Unlike RunOnce, this is an immediate handoff
// — the caller's goroutine itself becomes the one executing target, exactly
// as a real fuse call transfers control without going back through the
// scheduler's pick loop.
func (s *Scheduler) FuseSwitch(caller, target *kcontext.Context) {
	s.lock.Lock()
	caller.SetStatus(kcontext.Blocked)
	target.CPUID = caller.CPUID
	target.SetStatus(kcontext.Running)
	s.list.SetCurrent(caller.CPUID, target.ID())
	s.lock.Unlock()

	s.invoke(target)

	s.FuseReturn(target, caller)
}

// FuseReturn performs spec.md §4.H "fuse return": unblocks the parent
// (to), marks it Running, restores it as the CPU's current context. The
// callee (from) is about to be reaped; its Result has already been set by
// invoke.
func (s *Scheduler) FuseReturn(from, to *kcontext.Context) {
	s.lock.Lock()
	to.SetStatus(kcontext.Running)
	s.list.SetCurrent(from.CPUID, to.ID())
	s.lock.Unlock()
}
