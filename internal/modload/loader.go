package modload

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/bahusvel/faastr-go/internal/ctxmem"
	"github.com/bahusvel/faastr-go/internal/memory"
)

// manifestSection is the name of the ELF section carrying the JSON
// manifest, per spec.md §6.
const manifestSection = ".manifest"

// userArgOffset is the boundary spec.md §4.F step 1 requires: any PT_LOAD
// segment whose virtual address is at or above this is rejected, since the
// kernel reserves that range (the user-arg region, per the virtual memory
// map in §6) for itself.
const userArgOffset = uint64(0x0000_8000_0000_0000)

// Load parses path as an ELF binary, reads its .manifest section, and
// materializes each PT_LOAD segment as a ContextMemory, per spec.md §4.F.
// impls supplies the Go implementation standing in for each manifest entry's
// machine code (see SPEC_FULL.md §0); an entry with no matching impl is
// still recorded in the function table (resolvable, but Func will fail if
// ever invoked without a registered implementation).
func Load(path string, impls map[string]ModuleFunc) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("modload: opening %s: %w", path, err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("modload: parsing ELF header: %w", err)
	}

	sec := ef.Section(manifestSection)
	if sec == nil {
		return nil, fmt.Errorf("modload: missing %s section", manifestSection)
	}
	raw, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("modload: reading %s: %w", manifestSection, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("modload: decoding manifest JSON: %w", err)
	}

	m := &Module{
		name:      manifest.ModuleName,
		funcTable: make(map[string]uint64, len(manifest.SymbolTable)),
		funcImpls: make(map[uint64]ModuleFunc, len(manifest.SymbolTable)),
	}
	for _, sym := range manifest.SymbolTable {
		m.funcTable[sym.Name] = sym.Offset
		if impl, ok := impls[sym.Name]; ok {
			m.funcImpls[sym.Offset] = impl
		}
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr >= userArgOffset {
			return nil, fmt.Errorf("modload: PT_LOAD at %#x overlaps the reserved user-arg region", prog.Vaddr)
		}

		seg, err := materializeSegment(f, prog)
		if err != nil {
			return nil, err
		}
		m.image = append(m.image, seg)
	}

	return m, nil
}

// materializeSegment allocates pageCount = ceil((memsz+voff)/4096) pages
// with USER_ACCESSIBLE, resolves W^X flags, maps the region temporarily in
// the kernel, zero-fills pre/post padding, copies filesz bytes from the
// file, and drops the kernel mapping — spec.md §4.F step 3.
func materializeSegment(f *os.File, prog *elf.Prog) (Segment, error) {
	voff := prog.Vaddr % memory.PageSize
	pageCount := int((prog.Memsz + voff + memory.PageSize - 1) / memory.PageSize)
	if pageCount < 1 {
		pageCount = 1
	}

	flags := memory.EntryFlags{
		UserAccessible: true,
		Present:        prog.Flags&elf.PF_R != 0,
	}
	if prog.Flags&elf.PF_X != 0 {
		// W^X: executable segments are never writable, regardless of PF_W.
		flags.NoExecute = false
		flags.Writable = false
	} else {
		flags.NoExecute = true
		flags.Writable = prog.Flags&elf.PF_W != 0
	}

	mem, err := ctxmem.NewKernel(pageCount, flags)
	if err != nil {
		return Segment{}, fmt.Errorf("modload: allocating segment: %w", err)
	}
	buf, err := mem.AsSliceMut()
	if err != nil {
		return Segment{}, err
	}
	// buf is already zero-filled by the frame allocator; copy filesz bytes
	// from the segment's file offset into the voff-aligned window.
	data := make([]byte, prog.Filesz)
	if _, err := f.ReadAt(data, int64(prog.Off)); err != nil {
		return Segment{}, fmt.Errorf("modload: reading segment data: %w", err)
	}
	copy(buf[voff:], data)
	mem.DropKernelMapping()

	return Segment{
		Mem:      mem,
		Flags:    flags,
		Writable: flags.Writable,
		VAddr:    memory.VirtualAddress(prog.Vaddr - voff),
	}, nil
}
