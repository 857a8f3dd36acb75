// Package memory provides the frame/page/valloc allocator contract named by
// spec.md §4.D. The real kernel's bump/recycle physical frame allocator,
// page-table mapper, and valloc virtual-page allocator are external
// collaborators specified only "by contract" — here they are backed by a
// single process-wide byte arena and an address-space table, giving every
// layer above (ContextMemory, the module loader, the scheduler) the same
// allocate/map/translate operations the spec names without requiring a real
// MMU.
package memory

import (
	"fmt"
	"sync"
)

// PageSize matches the x86-64 page granularity named throughout spec.md.
const PageSize = 4096

// VirtualAddress is an address inside some address space (kernel valloc
// region or a context's own image).
type VirtualAddress uint64

// FrameRange is a contiguous run of physical frames, identified by the
// starting frame number and a count.
type FrameRange struct {
	Start uint64
	Count int
}

// frameArena is the single process-wide physical memory backing. Real
// frames don't move once allocated: Bytes returns a stable slice into the
// arena for a frame range.
type frameArena struct {
	mu    sync.Mutex
	bytes []byte
	free  []bool // true = free, indexed by frame number
	next  uint64 // bump cursor; reused frames come from the free list first
}

var arena = newFrameArena(1 << 20) // 1M frames = 4GiB of simulated physical memory

func newFrameArena(frames int) *frameArena {
	return &frameArena{
		bytes: make([]byte, frames*PageSize),
		free:  make([]bool, frames),
	}
}

// AllocateFrames reserves n contiguous physical frames and zero-fills them.
func AllocateFrames(n int) (FrameRange, error) {
	if n <= 0 {
		return FrameRange{}, fmt.Errorf("memory: frame count must be >= 1")
	}
	arena.mu.Lock()
	defer arena.mu.Unlock()

	// Recycle-first: scan for a run of n contiguous freed frames.
	run := 0
	for i, f := range arena.free {
		if f {
			run++
			if run == n {
				start := uint64(i - n + 1)
				for j := start; j <= uint64(i); j++ {
					arena.free[j] = false
				}
				zero(start, n)
				return FrameRange{Start: start, Count: n}, nil
			}
		} else {
			run = 0
		}
	}

	// Bump allocate.
	start := arena.next
	if int(start)+n > len(arena.free) {
		return FrameRange{}, fmt.Errorf("memory: out of physical frames")
	}
	arena.next += uint64(n)
	zero(start, n)
	return FrameRange{Start: start, Count: n}, nil
}

func zero(start uint64, n int) {
	off := start * PageSize
	for i := range arena.bytes[off : off+uint64(n)*PageSize] {
		arena.bytes[off+uint64(i)] = 0
	}
}

// DeallocateFrames returns frames to the free list.
func DeallocateFrames(r FrameRange) {
	arena.mu.Lock()
	defer arena.mu.Unlock()
	for i := r.Start; i < r.Start+uint64(r.Count); i++ {
		arena.free[i] = true
	}
}

// Bytes returns the (stable) backing slice for a frame range. Writes through
// this slice are visible to every mapping of the same frames.
func Bytes(r FrameRange) []byte {
	off := r.Start * PageSize
	return arena.bytes[off : off+uint64(r.Count)*PageSize]
}

// EntryFlags mirrors the page-table entry flags named in spec.md §4.F:
// PRESENT, WRITABLE, USER_ACCESSIBLE and NO_EXECUTE (W^X enforced by the
// loader, not by this package).
type EntryFlags struct {
	Present       bool
	Writable      bool
	UserAccessible bool
	NoExecute     bool
}

// AddressSpace is a page-table facade: a translation table from virtual
// address to physical frame, supporting the map_to/unmap/remap/
// translate_page contract of spec.md §4.D. "Active" vs "inactive" table
// distinctions in the source kernel reflect whether the CR3 in question is
// currently loaded; here every AddressSpace is addressed directly by
// reference regardless of whether its owning context is scheduled, so the
// "inactive" variant is simply the same API called on a table that isn't
// the current CPU's.
type AddressSpace struct {
	mu      sync.Mutex
	entries map[VirtualAddress]mapping
}

type mapping struct {
	frame FrameRange
	flags EntryFlags
}

// NewAddressSpace creates an address space with no mappings installed.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{entries: make(map[VirtualAddress]mapping)}
}

// MapTo installs a mapping from a run of pages starting at addr to frames,
// idempotently: mapping the same address twice with the same frames is a
// no-op, mapping it to different frames is an error (callers must Unmap
// first, matching the source's single "flush promise" per call).
func (as *AddressSpace) MapTo(addr VirtualAddress, frames FrameRange, flags EntryFlags) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := 0; i < frames.Count; i++ {
		page := addr + VirtualAddress(i*PageSize)
		m, exists := as.entries[page]
		if exists && (m.frame.Start != frames.Start+uint64(i) || m.flags != flags) {
			return fmt.Errorf("memory: page %#x already mapped to a different frame", page)
		}
		as.entries[page] = mapping{frame: FrameRange{Start: frames.Start + uint64(i), Count: 1}, flags: flags}
	}
	return nil
}

// Unmap removes the mapping for a run of pages starting at addr.
func (as *AddressSpace) Unmap(addr VirtualAddress, pageCount int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i := 0; i < pageCount; i++ {
		delete(as.entries, addr+VirtualAddress(i*PageSize))
	}
}

// Remap moves a mapping from one address to another, preserving the
// underlying frames and flags.
func (as *AddressSpace) Remap(from, to VirtualAddress, pageCount int) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	saved := make([]mapping, pageCount)
	for i := 0; i < pageCount; i++ {
		m, ok := as.entries[from+VirtualAddress(i*PageSize)]
		if !ok {
			return fmt.Errorf("memory: remap source page %#x not mapped", from+VirtualAddress(i*PageSize))
		}
		saved[i] = m
	}
	for i := 0; i < pageCount; i++ {
		delete(as.entries, from+VirtualAddress(i*PageSize))
		as.entries[to+VirtualAddress(i*PageSize)] = saved[i]
	}
	return nil
}

// TranslatePage returns the frame backing addr, or ok=false if unmapped.
func (as *AddressSpace) TranslatePage(addr VirtualAddress) (FrameRange, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	page := addr - VirtualAddress(uint64(addr)%PageSize)
	m, ok := as.entries[page]
	return m.frame, ok
}

// Flags returns the entry flags installed at addr, or ok=false if unmapped.
func (as *AddressSpace) Flags(addr VirtualAddress) (EntryFlags, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	page := addr - VirtualAddress(uint64(addr)%PageSize)
	m, ok := as.entries[page]
	return m.flags, ok
}

// vallocSpace is the kernel's own valloc PML4 region (spec.md §6): a
// dedicated address space used for temporary kernel-side mappings of
// ContextMemory during initialization and inspection.
var vallocSpace = NewAddressSpace()
var vallocCursor VirtualAddress = 0xffff_9000_0000_0000 // arbitrary, in the "kernel valloc" slot

var vallocMu sync.Mutex

// AllocateUnmappedPages reserves n pages of virtual address space in the
// kernel's valloc region without backing them with frames.
func AllocateUnmappedPages(n int) (VirtualAddress, error) {
	vallocMu.Lock()
	defer vallocMu.Unlock()
	addr := vallocCursor
	vallocCursor += VirtualAddress(n * PageSize)
	return addr, nil
}

// Valloc returns the kernel's shared valloc address space, used by
// ContextMemory.MapToKernel.
func Valloc() *AddressSpace { return vallocSpace }
