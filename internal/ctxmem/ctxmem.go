// Package ctxmem implements ContextMemory, spec.md §3/§4.E: a page-backed
// region with a reference-counted set of physical frames, an optional
// kernel-side temporary mapping, and a mapping into a target context's
// address space. Grounded on _examples/original_source/kernel/src/context/
// memory.rs (the Grant/VallocMapping pair), adapted into a single type per
// the spec's consolidated ContextMemory model.
package ctxmem

import (
	"fmt"
	"sync"

	"github.com/bahusvel/faastr-go/internal/memory"
)

// frames is the reference-counted physical backing shared by ref-cloned
// ContextMemory instances. The last Release deallocates the frames.
type frames struct {
	mu    sync.Mutex
	count int32
	fr    memory.FrameRange
}

func newFrames(n int) (*frames, error) {
	fr, err := memory.AllocateFrames(n)
	if err != nil {
		return nil, err
	}
	return &frames{count: 1, fr: fr}, nil
}

func (f *frames) addRef() *frames {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	return f
}

func (f *frames) release() {
	f.mu.Lock()
	f.count--
	dead := f.count == 0
	f.mu.Unlock()
	if dead {
		memory.DeallocateFrames(f.fr)
	}
}

func (f *frames) refCount() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// ContextMemory is a frames-plus-mapping abstraction: physical frames are
// shared (ref-counted) across ref-clones, while the mapping address in a
// target context's address space and an optional kernel valloc shadow
// mapping are each instance's own.
type ContextMemory struct {
	frames *frames
	pages  int

	flags memory.EntryFlags

	ctxSpace *memory.AddressSpace
	ctxAddr  memory.VirtualAddress
	ctxMapped bool

	kernelAddr   memory.VirtualAddress
	kernelMapped bool
}

// New allocates frames only; nothing is mapped anywhere yet. pageCount must
// be >= 1.
func New(pageCount int, flags memory.EntryFlags) (*ContextMemory, error) {
	if pageCount < 1 {
		return nil, fmt.Errorf("ctxmem: page count must be >= 1")
	}
	fr, err := newFrames(pageCount)
	if err != nil {
		return nil, err
	}
	return &ContextMemory{frames: fr, pages: pageCount, flags: flags}, nil
}

// NewKernel allocates frames and immediately installs them in the kernel's
// valloc address space, returning the region; MapToKernel returns the
// kernel-visible address.
func NewKernel(pageCount int, flags memory.EntryFlags) (*ContextMemory, error) {
	cm, err := New(pageCount, flags)
	if err != nil {
		return nil, err
	}
	if _, err := cm.MapToKernel(flags); err != nil {
		return nil, err
	}
	return cm, nil
}

// PageCount returns the number of pages (and frames) backing this region.
func (cm *ContextMemory) PageCount() int { return cm.pages }

// MapToKernel installs (idempotently) a mapping of this region's frames in
// the kernel's valloc address space and returns that address.
func (cm *ContextMemory) MapToKernel(flags memory.EntryFlags) (memory.VirtualAddress, error) {
	if cm.kernelMapped {
		return cm.kernelAddr, nil
	}
	addr, err := memory.AllocateUnmappedPages(cm.pages)
	if err != nil {
		return 0, err
	}
	if err := memory.Valloc().MapTo(addr, cm.frames.fr, flags); err != nil {
		return 0, err
	}
	cm.kernelAddr = addr
	cm.kernelMapped = true
	return addr, nil
}

// DropKernelMapping removes the kernel-side shadow mapping once
// initialization is complete, matching the source's "drop the kernel
// mapping after copying segment bytes in" pattern.
func (cm *ContextMemory) DropKernelMapping() {
	if !cm.kernelMapped {
		return
	}
	memory.Valloc().Unmap(cm.kernelAddr, cm.pages)
	cm.kernelMapped = false
}

// AsSlice returns a read-only view of the region's bytes. Requires the
// kernel mapping to be installed.
func (cm *ContextMemory) AsSlice() ([]byte, error) {
	if !cm.kernelMapped {
		return nil, fmt.Errorf("ctxmem: kernel mapping required for byte access")
	}
	return memory.Bytes(cm.frames.fr), nil
}

// AsSliceMut returns a mutable view. In addition to requiring the kernel
// mapping, it requires no reference-clone of these frames exists (refCount
// == 1), matching the source's aliasing rule: writable access is only valid
// when the frames are exclusively owned.
func (cm *ContextMemory) AsSliceMut() ([]byte, error) {
	if !cm.kernelMapped {
		return nil, fmt.Errorf("ctxmem: kernel mapping required for byte access")
	}
	if cm.frames.refCount() != 1 {
		return nil, fmt.Errorf("ctxmem: writable access requires exclusive ownership (refcount=%d)", cm.frames.refCount())
	}
	return memory.Bytes(cm.frames.fr), nil
}

// MapContext installs this region into the target address space at addr.
// Idempotent: mapping the same address space/address pair twice is a no-op.
func (cm *ContextMemory) MapContext(space *memory.AddressSpace, addr memory.VirtualAddress) error {
	if cm.ctxMapped && cm.ctxSpace == space && cm.ctxAddr == addr {
		return nil
	}
	if err := space.MapTo(addr, cm.frames.fr, cm.flags); err != nil {
		return err
	}
	cm.ctxSpace = space
	cm.ctxAddr = addr
	cm.ctxMapped = true
	return nil
}

// UnmapContext removes this region's mapping from the target address space.
func (cm *ContextMemory) UnmapContext() {
	if !cm.ctxMapped {
		return
	}
	cm.ctxSpace.Unmap(cm.ctxAddr, cm.pages)
	cm.ctxMapped = false
}

// RemapContext moves this region's mapping to a new address within the same
// address space, keeping the same backing frames. (Resize does not use it:
// it unmaps and re-maps the region itself.)
func (cm *ContextMemory) RemapContext(newAddr memory.VirtualAddress) error {
	if !cm.ctxMapped {
		return fmt.Errorf("ctxmem: cannot remap an unmapped region")
	}
	if err := cm.ctxSpace.Remap(cm.ctxAddr, newAddr, cm.pages); err != nil {
		return err
	}
	cm.ctxAddr = newAddr
	return nil
}

// ContextAddress returns the address this region is mapped at in its target
// context's address space, if mapped.
func (cm *ContextMemory) ContextAddress() (memory.VirtualAddress, bool) {
	return cm.ctxAddr, cm.ctxMapped
}

// RefClone shares this region's frames with a new ContextMemory, optionally
// installed at a different context address. Used for read-only image
// segments shared between a module and every context that runs it.
func (cm *ContextMemory) RefClone(newAddr *memory.VirtualAddress) *ContextMemory {
	clone := &ContextMemory{
		frames: cm.frames.addRef(),
		pages:  cm.pages,
		flags:  cm.flags,
	}
	if newAddr != nil {
		clone.ctxAddr = *newAddr
	} else {
		clone.ctxAddr = cm.ctxAddr
	}
	return clone
}

// CopyClone deep-copies this region's contents into freshly allocated
// frames, detaching the clone from any sharing. Used for writable image
// segments, which must not alias the module's canonical copy.
func (cm *ContextMemory) CopyClone(newAddr *memory.VirtualAddress) (*ContextMemory, error) {
	clone, err := New(cm.pages, cm.flags)
	if err != nil {
		return nil, err
	}
	if _, err := clone.MapToKernel(cm.flags); err != nil {
		return nil, err
	}
	srcAddr, err := cm.MapToKernel(cm.flags)
	_ = srcAddr
	if err != nil {
		return nil, err
	}
	src, err := cm.AsSlice()
	if err != nil {
		return nil, err
	}
	dst, err := clone.AsSliceMut()
	if err != nil {
		return nil, err
	}
	copy(dst, src)
	if newAddr != nil {
		clone.ctxAddr = *newAddr
	}
	return clone, nil
}

// Resize grows or shrinks the region to newPageCount, reallocating frames,
// copying the overlapping prefix, and zero-filling any newly grown tail.
// Resizing from N to N pages is a no-op; shrinking to 0 is disallowed.
func (cm *ContextMemory) Resize(newPageCount int) error {
	if newPageCount == cm.pages {
		return nil
	}
	if newPageCount < 1 {
		return fmt.Errorf("ctxmem: cannot resize to zero pages")
	}

	replacement, err := New(newPageCount, cm.flags)
	if err != nil {
		return err
	}
	if _, err := replacement.MapToKernel(cm.flags); err != nil {
		return err
	}
	wasKernelMapped := cm.kernelMapped
	if _, err := cm.MapToKernel(cm.flags); err != nil {
		return err
	}

	src, err := cm.AsSlice()
	if err != nil {
		return err
	}
	dst, err := replacement.AsSliceMut()
	if err != nil {
		return err
	}
	n := copy(dst, src) // copy intersection; Go's zero-valued frames already zero the tail
	_ = n

	wasMapped := cm.ctxMapped
	space, addr := cm.ctxSpace, cm.ctxAddr
	if wasMapped {
		cm.UnmapContext()
	}
	// Drop cm's own kernel mapping of the old frames (installed either
	// permanently before this call or just above for the copy); the new
	// frames' kernel mapping, installed on replacement, is adopted below
	// instead of left dangling in the kernel's valloc space.
	cm.DropKernelMapping()

	cm.frames.release()
	cm.frames = replacement.frames
	cm.pages = newPageCount
	cm.kernelAddr = replacement.kernelAddr
	cm.kernelMapped = replacement.kernelMapped

	if wasMapped {
		if err := cm.MapContext(space, addr); err != nil {
			return err
		}
	}
	if !wasKernelMapped {
		// cm wasn't kernel-mapped before this resize; restore that
		// invariant instead of leaving the adopted mapping installed.
		cm.DropKernelMapping()
	}
	return nil
}

// Close releases this region's reference to its frames, deallocating them
// if this was the last reference. It first removes any kernel and context
// mappings still installed, so the frames are never dropped while mapped.
func (cm *ContextMemory) Close() {
	cm.DropKernelMapping()
	if cm.ctxMapped {
		cm.UnmapContext()
	}
	cm.frames.release()
}
