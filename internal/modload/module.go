// Package modload implements the module loader and cache named by
// spec.md §4.F, grounded on
// _examples/original_source/kernel/src/{elf.rs,context/load.rs,context/module.rs}.
//
// A Module is parsed from a real ELF binary (debug/elf) plus a JSON
// `.manifest` section mapping exported function names to entry offsets. Per
// SPEC_FULL.md §0, the bytes the loader maps in for each PT_LOAD segment are
// never executed as machine code — running a Context means invoking the
// ModuleFunc the module registers at the entry offset the manifest names.
package modload

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
	"github.com/bahusvel/faastr-go/internal/kcontext"
	"github.com/bahusvel/faastr-go/internal/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ModuleFunc is the Go stand-in for a function's machine code: given the
// running Context (so it may itself issue further syscalls) and the
// SOS-encoded argument bytes copied out of the Context's args region, it
// returns the SOS-encoded return payload or an error.
type ModuleFunc func(ctx *kcontext.Context, args []byte) ([]byte, error)

// ManifestEntry is one row of the `.manifest` section's SymbolTable, per
// spec.md §6.
type ManifestEntry struct {
	Name       string `json:"Name"`
	Offset     uint64 `json:"Offset"`
	Visibility uint   `json:"Visibility"`
	ABI        uint   `json:"ABI"`
}

// Manifest is the `.manifest` ELF section's JSON body.
type Manifest struct {
	ModuleName  string          `json:"ModuleName"`
	SymbolTable []ManifestEntry `json:"SymbolTable"`
}

// Segment is one PT_LOAD segment materialized as a ContextMemory, with its
// final page-table flags resolved per the W^X rule in spec.md §4.F step 3.
type Segment struct {
	Mem      *ctxmem.ContextMemory
	Flags    memory.EntryFlags
	Writable bool // informational: whether this segment is copy-cloned (writable) or ref-cloned (readonly) per context
	VAddr    memory.VirtualAddress
}

// Module is an immutable, shared-by-reference loaded artifact: an ELF image
// plus its exported function table. Never mutated after Load returns.
type Module struct {
	name      string
	funcTable map[string]uint64
	funcImpls map[uint64]ModuleFunc
	image     []Segment
}

func (m *Module) Name() string { return m.name }

// Offset resolves an exported function name to its entry offset.
func (m *Module) Offset(name string) (uint64, error) {
	off, ok := m.funcTable[name]
	if !ok {
		return 0, fmt.Errorf("modload: no such function %q in module %q", name, m.name)
	}
	return off, nil
}

// Func resolves an entry offset to the registered implementation.
func (m *Module) Func(offset uint64) (ModuleFunc, error) {
	fn, ok := m.funcImpls[offset]
	if !ok {
		return nil, fmt.Errorf("modload: no function registered at offset %#x in module %q", offset, m.name)
	}
	return fn, nil
}

// Image returns the module's canonical, shared image segments.
func (m *Module) Image() []Segment { return m.image }

// NewForTest builds a Module directly from a function table and
// implementation map, bypassing the ELF loader. Exported for use by other
// packages' tests (sched, call, syscall) that need a runnable module
// without materializing a real ELF file.
func NewForTest(name string, funcTable map[string]uint64, funcImpls map[uint64]ModuleFunc) *Module {
	return &Module{name: name, funcTable: funcTable, funcImpls: funcImpls}
}
