package cmd

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bahusvel/faastr-go/internal/call"
	"github.com/bahusvel/faastr-go/internal/ivshrpc"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/modload"
	"github.com/bahusvel/faastr-go/internal/sched"
	"github.com/bahusvel/faastr-go/internal/sos"
	"github.com/bahusvel/faastr-go/internal/syscall"
)

// Kernel bundles the module cache, context list, scheduler and syscall
// gateway every CLI subcommand needs — the in-process equivalent of what
// spec.md's host daemon would bring up once per guest. Grounded on the
// teacher's root.go, which similarly assembles one shared set of
// long-lived state (config, versions) ahead of dispatching to subcommands.
type Kernel struct {
	Modules *modload.Cache
	List    *kcontext.List
	Sched   *sched.Scheduler
	Gateway *syscall.Gateway
	Log     *logrus.Logger
}

// NewKernel assembles a fresh Kernel: an empty module cache seeded with the
// "kernel" sentinel module, a context list, a scheduler wired to it, and the
// syscall gateway (whose constructor registers the kernel module's "print"
// entry as a side effect).
func NewKernel(log *logrus.Logger) *Kernel {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}
	list := kcontext.NewList()
	modules := modload.NewCache()
	scheduler := sched.New(list, log)
	gateway := syscall.New(modules, scheduler, log)
	return &Kernel{Modules: modules, List: list, Sched: scheduler, Gateway: gateway, Log: log}
}

// LoadModule loads path's ELF module and caches it. impls supplies any Go
// implementations standing in for its manifest's machine code (nil if the
// module carries none the caller needs to run, e.g. a pure-data module).
func (k *Kernel) LoadModule(path string, impls map[string]modload.ModuleFunc) (*modload.Module, error) {
	return k.Modules.LoadFile(path, impls)
}

// Fuse resolves "module:name" and blocks until it returns, mirroring an
// externally-originated spec.md §4.I fuse call with no parent context.
func (k *Kernel) Fuse(target string, args []sos.Value) ([]sos.Value, error) {
	module, name, err := splitTarget(target)
	if err != nil {
		return nil, err
	}
	mod, err := k.Modules.Get(module)
	if err != nil {
		return nil, err
	}
	caller := call.Caller{Sched: k.Sched}
	raw, err := caller.FuseName(mod, name, args)
	if err != nil {
		return nil, err
	}
	return sos.DecodeAll(raw)
}

// Cast resolves "module:name" and returns immediately, letting the spawned
// context run to completion on its own goroutine (spec.md §4.I cast).
func (k *Kernel) Cast(target string, args []sos.Value) error {
	module, name, err := splitTarget(target)
	if err != nil {
		return err
	}
	mod, err := k.Modules.Get(module)
	if err != nil {
		return err
	}
	caller := call.Caller{Sched: k.Sched}
	return caller.CastName(mod, name, args)
}

func splitTarget(target string) (module, name string, err error) {
	module, name, ok := strings.Cut(target, ":")
	if !ok {
		return "", "", fmt.Errorf("cmd: target %q must be \"module:name\"", target)
	}
	return module, name, nil
}

// hostHandler adapts a Kernel to ivshrpc.Handler (internal/ivshrpc), for a
// `faastr serve` host daemon dispatching frames arriving over the
// shared-memory transport to this process's own modules. It implements
// spec.md §4.C's Fuse/Cast payload convention of a leading "module:name"
// string value followed by the call's actual arguments.
type hostHandler struct {
	kernel *Kernel
}

var _ ivshrpc.Handler = (*hostHandler)(nil)

func (h *hostHandler) Cast(args []sos.Value) error {
	target, rest, err := splitValues(args)
	if err != nil {
		return err
	}
	return h.kernel.Cast(target, rest)
}

func (h *hostHandler) Fuse(args []sos.Value) ([]sos.Value, error) {
	target, rest, err := splitValues(args)
	if err != nil {
		return nil, err
	}
	return h.kernel.Fuse(target, rest)
}

func splitValues(args []sos.Value) (target string, rest []sos.Value, err error) {
	if len(args) < 1 {
		return "", nil, fmt.Errorf("cmd: frame carried no target argument")
	}
	target, err = args[0].AsString()
	if err != nil {
		return "", nil, fmt.Errorf("cmd: target argument must be a string: %w", err)
	}
	return target, args[1:], nil
}
