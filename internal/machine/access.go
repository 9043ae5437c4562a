package machine

import (
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/raceset"
	"github.com/minirust/minirust-sub000/internal/value"
)

// doLoad/doStore centralize the raw memory accesses of typed loads/stores
// and atomic intrinsics so the data-race tracker (spec.md §4.4) sees each
// of them exactly once. A retag's initializing read acts only on the Tree
// Borrows tree and is not recorded by the tracker.
func (m *Machine) doLoad(ptr value.Pointer, size, align int64, atomic memory.Atomicity) ([]value.Byte, error) {
	bytes, err := m.Mem.Load(ptr, size, align, atomic)
	if err != nil {
		return nil, err
	}
	if size > 0 && ptr.Thin.Prov != nil {
		m.Race.Record(raceset.Access{
			Addr: ptr.Thin.Addr.Uint64(), Size: size,
			Kind: memory.Read, Atomic: atomic, Thread: raceset.ThreadID(m.Active),
		})
	}
	return bytes, nil
}

func (m *Machine) doStore(ptr value.Pointer, bytes []value.Byte, align int64, atomic memory.Atomicity) error {
	if err := m.Mem.Store(ptr, bytes, align, atomic); err != nil {
		return err
	}
	if len(bytes) > 0 && ptr.Thin.Prov != nil {
		m.Race.Record(raceset.Access{
			Addr: ptr.Thin.Addr.Uint64(), Size: int64(len(bytes)),
			Kind: memory.Write, Atomic: atomic, Thread: raceset.ThreadID(m.Active),
		})
	}
	return nil
}
