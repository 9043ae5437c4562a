// Package memory implements the basic memory model of spec.md §4.2: an
// allocation registry with nondeterministic address assignment, access
// checks, and leak detection. It is modeled directly on the
// splicedMemory/pageTable/Mapping trio in golang.org/x/debug's
// internal/core/process.go and core/mapping.go, generalized from "a
// fixed set of mappings read out of a core file" to "a live, growing and
// shrinking set of allocations an interpreter creates and destroys".
//
// Per spec.md §9's polymorphism design note, the aliasing discipline
// (none, or Tree Borrows) is injected as an Aliasing capability rather
// than hard-coded, so Store/Load/Deallocate stay generic over the model.
package memory

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/allocid"
	"github.com/minirust/minirust-sub000/internal/pick"
	"github.com/minirust/minirust-sub000/internal/value"
)

// AllocationKind is the provenance of an allocation (spec.md §3).
type AllocationKind uint8

const (
	Stack AllocationKind = iota
	Heap
	Global
	Function
	VTable
)

func (k AllocationKind) String() string {
	return [...]string{"Stack", "Heap", "Global", "Function", "VTable"}[k]
}

// Atomicity tags a memory access as atomic or not (spec.md §4.4).
type Atomicity uint8

const (
	NonAtomic Atomicity = iota
	Atomic
)

// AccessKind is Read or Write (spec.md §4.3).
type AccessKind uint8

const (
	Read AccessKind = iota
	Write
)

// Allocation is one live-or-dead region of address space (spec.md §4.2).
type Allocation struct {
	ID    allocid.ID
	Base  uint64
	Size  int64
	Align int64
	Kind  AllocationKind
	Live  bool
	Bytes []value.Byte

	// Extra is the aliasing model's per-allocation state (e.g. the Tree
	// Borrows tree root). Opaque to this package.
	Extra any
}

func (a *Allocation) contains(addr uint64, n int64) bool {
	if n == 0 {
		return true
	}
	end := addr + uint64(n)
	return addr >= a.Base && end <= a.Base+uint64(a.Size) && end >= addr
}

// Aliasing is the capability a memory model plugs in to police every
// access (spec.md §9 design note). NullAliasing below is the trivial,
// always-permissive implementation used when Tree Borrows is disabled.
type Aliasing interface {
	// NewAllocation initializes alloc.Extra for a freshly created allocation.
	NewAllocation(alloc *Allocation)
	// Access runs the aliasing hook for an access at [offset, offset+n)
	// within alloc, performed through the pointer's provenance.
	Access(alloc *Allocation, prov *value.Provenance, offset, n int64, kind AccessKind) error
	// Deallocate runs the aliasing hook's deallocation-time checks.
	Deallocate(alloc *Allocation, prov *value.Provenance) error
}

// NullAliasing never rejects an access: used for the "minimal basic
// model" variant named in spec.md §9.
type NullAliasing struct{}

func (NullAliasing) NewAllocation(*Allocation) {}
func (NullAliasing) Access(*Allocation, *value.Provenance, int64, int64, AccessKind) error {
	return nil
}
func (NullAliasing) Deallocate(*Allocation, *value.Provenance) error { return nil }

// Memory is the allocation registry (spec.md §4.2: "Memory is a list of
// allocations").
type Memory struct {
	allocs   map[allocid.ID]*Allocation
	order    []allocid.ID // insertion order, for deterministic iteration
	nextID   allocid.ID
	ptrBits  uint
	aliasing Aliasing
}

func New(ptrBits uint, aliasing Aliasing) *Memory {
	if aliasing == nil {
		aliasing = NullAliasing{}
	}
	return &Memory{allocs: map[allocid.ID]*Allocation{}, ptrBits: ptrBits, aliasing: aliasing, nextID: 1}
}

// Live returns the allocations currently live, in creation order.
func (m *Memory) Live() []*Allocation {
	var out []*Allocation
	for _, id := range m.order {
		a := m.allocs[id]
		if a.Live {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memory) Get(id allocid.ID) *Allocation { return m.allocs[id] }

// overlaps reports whether [base, base+size) intersects any live allocation.
func (m *Memory) overlaps(base uint64, size int64) bool {
	end := base + uint64(size)
	for _, a := range m.Live() {
		if base < a.Base+uint64(a.Size) && end > a.Base {
			return true
		}
	}
	return false
}

// Allocate picks a base address by daemonic nondeterminism and creates a
// new live allocation (spec.md §4.2).
func (m *Memory) Allocate(p *pick.Picker, size, align int64, kind AllocationKind) (*Allocation, error) {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("memory: invalid allocation request size=%d align=%d", size, align)
	}
	addrMax := uint64(1)<<m.ptrBits - 1 // highest address (the shift wraps to 0 at 64 bits)
	// Candidate bases: every aligned address such that [base,base+size)
	// stays in [1, 2^bits) and doesn't collide with a live allocation.
	// We can't enumerate the whole address space, so pick searches a
	// bounded scan starting from a uniformly chosen aligned offset and
	// takes the first disjoint slot - daemonic nondeterminism narrowed
	// to "some slot", which is what the spec requires without mandating
	// a search strategy.
	if uint64(size) > addrMax {
		return nil, fmt.Errorf("memory: allocation of size %d does not fit the address space", size)
	}
	hiBase := addrMax - uint64(size) + 1 // last base with base+size <= 2^bits
	if size == 0 {
		hiBase = addrMax
	}
	start := p.Uint64InRange(1, hiBase)
	start -= start % uint64(align)
	if start == 0 {
		start = uint64(align)
	}
	for base := start; base >= start && base <= hiBase; base += uint64(align) {
		if base == 0 {
			continue
		}
		if !m.overlaps(base, size) {
			return m.finishAllocate(base, size, align, kind), nil
		}
	}
	for base := start % uint64(align); base < start; base += uint64(align) {
		if base == 0 {
			continue
		}
		if !m.overlaps(base, size) {
			return m.finishAllocate(base, size, align, kind), nil
		}
	}
	return nil, fmt.Errorf("memory: address space exhausted")
}

func (m *Memory) finishAllocate(base uint64, size, align int64, kind AllocationKind) *Allocation {
	a := &Allocation{
		ID:    m.nextID,
		Base:  base,
		Size:  size,
		Align: align,
		Kind:  kind,
		Live:  true,
		Bytes: make([]value.Byte, size),
	}
	for i := range a.Bytes {
		a.Bytes[i] = value.Uninit
	}
	m.aliasing.NewAllocation(a)
	m.allocs[a.ID] = a
	m.order = append(m.order, a.ID)
	m.nextID++
	return a
}

// Deallocate requires an exact match on liveness, base, size, align, and
// kind (spec.md §4.2), then runs the aliasing model's deallocation hook.
func (m *Memory) Deallocate(ptr value.Pointer, size, align int64, kind AllocationKind) error {
	prov := ptr.Thin.Prov
	if prov == nil {
		return fmt.Errorf("memory: deallocating a pointer with no provenance")
	}
	a := m.allocs[prov.Alloc]
	if a == nil || !a.Live {
		return fmt.Errorf("memory: deallocating a dead or unknown allocation")
	}
	if a.Base != ptr.Thin.Addr.Uint64() || a.Size != size || a.Align != align || a.Kind != kind {
		return fmt.Errorf("memory: deallocation does not exactly match its allocation")
	}
	if err := m.aliasing.Deallocate(a, prov); err != nil {
		return err
	}
	a.Live = false
	return nil
}

// resolve finds the live allocation a pointer's provenance names, and
// bounds-checks [addr, addr+n) against it. Zero-size accesses bypass
// provenance and bounds checks entirely (spec.md §4.2).
func (m *Memory) resolve(ptr value.Pointer, n int64) (*Allocation, error) {
	if n == 0 {
		return nil, nil
	}
	prov := ptr.Thin.Prov
	if prov == nil {
		return nil, fmt.Errorf("memory: accessing a pointer with no provenance")
	}
	a := m.allocs[prov.Alloc]
	if a == nil || !a.Live {
		return nil, fmt.Errorf("memory: dereferencing pointer to dead allocation")
	}
	if !a.contains(ptr.Thin.Addr.Uint64(), n) {
		return nil, fmt.Errorf("memory: access out of bounds of its allocation")
	}
	return a, nil
}

func checkAlign(ptr value.Pointer, align int64) error {
	if align <= 0 {
		return nil
	}
	if ptr.Thin.Addr.Uint64()%uint64(align) != 0 {
		return fmt.Errorf("memory: misaligned access (required align %d)", align)
	}
	return nil
}

// Store writes bytes at ptr, after alignment and aliasing checks
// (spec.md §4.2).
func (m *Memory) Store(ptr value.Pointer, bytes []value.Byte, align int64, _ Atomicity) error {
	if err := checkAlign(ptr, align); err != nil {
		return err
	}
	n := int64(len(bytes))
	a, err := m.resolve(ptr, n)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	off := int64(ptr.Thin.Addr.Uint64() - a.Base)
	if err := m.aliasing.Access(a, ptr.Thin.Prov, off, n, Write); err != nil {
		return err
	}
	copy(a.Bytes[off:off+n], bytes)
	return nil
}

// Load reads n bytes at ptr, after alignment and aliasing checks
// (spec.md §4.2).
func (m *Memory) Load(ptr value.Pointer, n int64, align int64, _ Atomicity) ([]value.Byte, error) {
	if err := checkAlign(ptr, align); err != nil {
		return nil, err
	}
	a, err := m.resolve(ptr, n)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	off := int64(ptr.Thin.Addr.Uint64() - a.Base)
	if err := m.aliasing.Access(a, ptr.Thin.Prov, off, n, Read); err != nil {
		return nil, err
	}
	out := make([]value.Byte, n)
	copy(out, a.Bytes[off:off+n])
	return out, nil
}

// Dereferenceable reports whether n bytes at ptr lie within a single live
// allocation, without performing the aliasing-model access itself — used
// by check_value (spec.md §4.1) to validate safe pointers without
// consuming an access.
func (m *Memory) Dereferenceable(ptr value.Pointer, n int64) bool {
	_, err := m.resolve(ptr, n)
	return err == nil
}

// LeakCheck reports an error if any Heap allocation is still live;
// Stack/Global/Function/VTable allocations are allowed to persist
// (spec.md §4.2, §8).
func (m *Memory) LeakCheck() error {
	for _, a := range m.Live() {
		if a.Kind == Heap {
			return fmt.Errorf("memory: leaked heap allocation %s (%d bytes at 0x%x)", a.ID, a.Size, a.Base)
		}
	}
	return nil
}
