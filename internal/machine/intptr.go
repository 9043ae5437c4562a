// intptr.go implements the integer-pointer cast subsystem of spec.md §4.5:
// an exposed-provenance set consulted by int-to-pointer casts. There is
// no teacher analog (golang.org/x/debug never fabricates an address into
// a pointer; every address it handles was read from a real process), so
// this is new code, grounded directly in the spec text rather than in any
// example file.
package machine

import (
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/pick"
	"github.com/minirust/minirust-sub000/internal/value"
)

// expose adds ptr's provenance to the exposed set (spec.md §4.5). A
// pointer with no provenance has nothing to expose.
func (m *Machine) expose(ptr value.Pointer) {
	if ptr.Thin.Prov == nil {
		return
	}
	for _, p := range m.Exposed {
		if p.Equal(*ptr.Thin.Prov) {
			return
		}
	}
	m.Exposed = append(m.Exposed, *ptr.Thin.Prov)
}

// intToPtr produces a thin pointer for addr: a pointer-to-integer cast
// strips provenance (ints never carry it); the reverse direction chooses
// nondeterministically among exposed provenances whose allocation is live
// and contains addr, or None if none qualify (spec.md §4.5).
func (m *Machine) intToPtr(addr bigint.Int) value.ThinPointer {
	a64 := addr.Uint64()
	var compatible []value.Provenance
	for _, p := range m.Exposed {
		alloc := m.Mem.Get(p.Alloc)
		if alloc == nil || !alloc.Live {
			continue
		}
		if a64 >= alloc.Base && a64 < alloc.Base+uint64(alloc.Size) {
			compatible = append(compatible, p)
		}
	}
	if len(compatible) == 0 {
		return value.ThinPointer{Addr: addr}
	}
	idx, err := pick.PickIndex(m.Picker, compatible, nil)
	if err != nil {
		return value.ThinPointer{Addr: addr}
	}
	chosen := compatible[idx]
	return value.ThinPointer{Addr: addr, Prov: &chosen}
}
