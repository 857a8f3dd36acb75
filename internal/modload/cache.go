package modload

import (
	"fmt"
	"sync"
)

// KernelModuleName is the sentinel module name reserved for kernel-side
// entry points (spec.md §3), e.g. the SYS_WRITE target exercised by
// scenario S5/S6 in spec.md §8.
const KernelModuleName = "kernel"

// Cache is the process-wide module cache keyed by name, guarded by a fair
// read-write lock per spec.md §5 ("the module cache... guarded by a fair
// read-write lock").
type Cache struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewCache creates a cache seeded with the "kernel" sentinel module, whose
// only exported function is "print" (backing SYS_WRITE, see internal/syscall).
func NewCache() *Cache {
	c := &Cache{modules: make(map[string]*Module)}
	c.modules[KernelModuleName] = newKernelModule()
	return c
}

func newKernelModule() *Module {
	return &Module{
		name:      KernelModuleName,
		funcTable: map[string]uint64{"print": 0},
		funcImpls: map[uint64]ModuleFunc{},
	}
}

// RegisterKernelFunc installs a Go implementation for a kernel-module entry,
// e.g. "print". Kept separate from NewCache so the syscall gateway (which
// owns the actual print behavior) can wire itself in without a layering
// cycle between modload and syscall.
func (c *Cache) RegisterKernelFunc(name string, offset uint64, impl ModuleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.modules[KernelModuleName]
	k.funcTable[name] = offset
	k.funcImpls[offset] = impl
}

// Insert stores a loaded module, keyed by its manifest name. Re-inserting a
// name replaces the previous entry, unlike LoadFile, which keeps the entry
// already cached.
func (c *Cache) Insert(m *Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[m.name] = m
}

// LoadFile loads path and inserts it into the cache under its manifest name,
// returning the module. The file is always read and parsed first; if a
// module of that name is already cached, the cached copy is returned and the
// newly parsed one is discarded.
func (c *Cache) LoadFile(path string, impls map[string]ModuleFunc) (*Module, error) {
	m, err := Load(path, impls)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if existing, ok := c.modules[m.name]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.modules[m.name] = m
	c.mu.Unlock()
	return m, nil
}

// Get looks up a cached module by name.
func (c *Cache) Get(name string) (*Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	if !ok {
		return nil, fmt.Errorf("modload: no such module %q", name)
	}
	return m, nil
}
