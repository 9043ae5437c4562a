// Package treeborrows implements the Tree Borrows aliasing discipline of
// spec.md §4.3: a per-allocation tree of reborrow nodes, each carrying a
// per-byte permission state machine, checked on every memory access.
//
// There is no direct teacher analog for a reborrow tree, but the shape —
// children owned inline, addressed by a path of child indices from the
// root rather than by pointer, exactly as spec.md §9 asks for — mirrors
// golang.org/x/debug's cmd/viewcore/objref.go ObjNode/ObjRef walk: that
// code also builds a tree over a flat object graph and visits it via
// parent->children edges rather than back-pointers, to avoid cycles.
// Model implements memory.Aliasing, plugging this discipline into the
// basic memory model named in spec.md §4.2.
package treeborrows

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/allocid"
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
)

// Permission is one node's per-byte state (spec.md §4.3).
type Permission uint8

const (
	Cell Permission = iota
	Reserved
	ReservedIm
	Unique
	Frozen
	Disabled
)

func (p Permission) String() string {
	return [...]string{"Cell", "Reserved", "ReservedIm", "Unique", "Frozen", "Disabled"}[p]
}

// ProtectorKind is a node's protector strength (spec.md §4.3).
type ProtectorKind uint8

const (
	ProtNo ProtectorKind = iota
	ProtWeak
	ProtStrong
)

// byteState is one byte's permission plus the protected-state-machine
// history bits (spec.md §4.3: Reserved{had_local_read, had_foreign_read},
// Frozen{had_local_read}). The bits are only consulted when the owning
// node has a protector; they are harmless bookkeeping otherwise.
type byteState struct {
	Perm           Permission
	HadLocalRead   bool
	HadForeignRead bool
}

// Node is one reborrow node: children are owned inline (spec.md §9).
type Node struct {
	Children  []Node
	Perm      []byteState
	Protector ProtectorKind
}

// Tree is one allocation's full reborrow tree.
type Tree struct {
	Root Node
}

func newByteVec(n int64, p Permission) []byteState {
	v := make([]byteState, n)
	for i := range v {
		v[i].Perm = p
	}
	return v
}

// nodeAt resolves a root-relative path to the node it names, per spec.md
// §9's "parents addressed by path indices from the root".
func (t *Tree) nodeAt(path []int) *Node {
	n := &t.Root
	for _, i := range path {
		n = &n.Children[i]
	}
	return n
}

// Model implements memory.Aliasing for the full Tree Borrows discipline.
type Model struct{}

var _ memory.Aliasing = Model{}

func (Model) NewAllocation(a *memory.Allocation) {
	a.Extra = &Tree{Root: Node{Perm: newByteVec(a.Size, Unique)}}
}

// isAncestorOrSelf reports whether `path` names a node that is `of` or an
// ancestor of `of` — i.e. `path` is a prefix of `of` (spec.md §4.3: an
// access is Local w.r.t. a node iff the accessed node descends from it).
func isAncestorOrSelf(path, of []int) bool {
	if len(path) > len(of) {
		return false
	}
	for i, v := range path {
		if of[i] != v {
			return false
		}
	}
	return true
}

// transition applies one access's effect to a single byte's state,
// mutating it in place and returning an error (UB) where the spec's
// transition tables say so (spec.md §4.3).
func transition(b *byteState, protected bool, local bool, kind memory.AccessKind) error {
	switch {
	case local && kind == memory.Read:
		if b.Perm == Disabled {
			return fmt.Errorf("treeborrows: read through a Disabled tag")
		}
		b.HadLocalRead = true
	case local && kind == memory.Write:
		if b.Perm == Frozen {
			return fmt.Errorf("treeborrows: write through a Frozen tag")
		}
		if b.Perm == Disabled {
			return fmt.Errorf("treeborrows: write through a Disabled tag")
		}
		if protected && b.Perm == Reserved && b.HadForeignRead {
			return fmt.Errorf("treeborrows: protected Reserved tag written after a foreign read")
		}
		if b.Perm != Cell {
			b.Perm = Unique
		}
	case !local && kind == memory.Read:
		if protected && b.Perm == Unique {
			return fmt.Errorf("treeborrows: protected Unique tag read by a foreign access")
		}
		if b.Perm == Unique {
			b.Perm = Frozen
		}
		b.HadForeignRead = true
	case !local && kind == memory.Write:
		if protected {
			if b.Perm == Unique {
				return fmt.Errorf("treeborrows: protected Unique tag written by a foreign access")
			}
			if (b.Perm == Reserved || b.Perm == Frozen) && b.HadLocalRead {
				return fmt.Errorf("treeborrows: protected tag written foreign after a local read")
			}
		}
		switch b.Perm {
		case Cell, ReservedIm:
			// unchanged
		default:
			b.Perm = Disabled
		}
	}
	return nil
}

// walk applies fn to every node in the tree, passing along whether that
// node is to be treated as local to the access (an ancestor-or-self of
// targetPath), unless forceForeign says to always classify as foreign
// (used by Deallocate, which visits every node regardless of locality).
func walk(n *Node, path, targetPath []int, forceForeign bool, fn func(n *Node, local bool) error) error {
	local := !forceForeign && isAncestorOrSelf(path, targetPath)
	if err := fn(n, local); err != nil {
		return err
	}
	for i := range n.Children {
		if err := walk(&n.Children[i], append(append([]int{}, path...), i), targetPath, forceForeign, fn); err != nil {
			return err
		}
	}
	return nil
}

// Access runs the aliasing hook for a real memory access (spec.md §4.3).
func (Model) Access(a *memory.Allocation, prov *value.Provenance, offset, n int64, kind memory.AccessKind) error {
	tree := a.Extra.(*Tree)
	return walk(&tree.Root, nil, prov.Path, false, func(node *Node, local bool) error {
		protected := node.Protector != ProtNo
		for i := offset; i < offset+n; i++ {
			if err := transition(&node.Perm[i], protected, local, kind); err != nil {
				return err
			}
		}
		return nil
	})
}

// Deallocate enforces the Strong-protector rule: a Strong-protected node
// covering an already-accessed (non-Cell), non-deallocated byte forbids
// deallocation (spec.md §4.3). Whether a Weak protector covering zero
// bytes is also forbidden is an open question (spec.md §9); we fail
// closed only for Strong, matching "that case is impossible by
// construction" for Strong and leaving Weak permissive, consistent with
// the protector-end skip-on-dead-allocation rule below.
func (Model) Deallocate(a *memory.Allocation, _ *value.Provenance) error {
	tree := a.Extra.(*Tree)
	var bad error
	_ = walk(&tree.Root, nil, nil, true, func(node *Node, _ bool) error {
		if node.Protector != ProtStrong {
			return nil
		}
		for _, b := range node.Perm {
			if b.Perm != Cell {
				bad = fmt.Errorf("treeborrows: deallocating an allocation with a live Strong protector")
				return nil
			}
		}
		return nil
	})
	return bad
}

// ProtectorRef is what a stack frame remembers about a protector it
// created, so it can be released on return (spec.md §3 StackFrame,
// §9: "Per-frame protector lists hold (AllocId, Path) pairs").
type ProtectorRef struct {
	Alloc allocid.ID
	Path  []int
}

// derivePermission chooses (permission, protector) for a reborrow from
// pt, per spec.md §4.3. The !Unpin no-retag carve-out for mutable
// references is not modeled: MiniRust's IR has no Pin/Unpin distinction,
// so every Ref/Box is treated as retag-eligible (documented in
// DESIGN.md). The Freeze carve-out (no retag for a shared reference to
// an interior-mutable pointee) is modeled via PtrType.Interior.
func derivePermission(pt types.PtrType, fnEntry bool) (perm Permission, protector ProtectorKind, retag bool) {
	switch pt.Kind {
	case types.PtrRef:
		if !pt.Mutbl && pt.Interior {
			return 0, ProtNo, false
		}
		if pt.Mutbl {
			if pt.Interior {
				perm = ReservedIm
			} else {
				perm = Reserved
			}
		} else {
			perm = Frozen
		}
		if fnEntry {
			protector = ProtStrong
		}
		return perm, protector, true
	case types.PtrBox:
		if pt.Interior {
			perm = ReservedIm
		} else {
			perm = Reserved
		}
		if fnEntry {
			protector = ProtWeak
		}
		return perm, protector, true
	default:
		// Raw pointers (and any other pointer kind) get a fully
		// permissive tag: no protector, Cell everywhere.
		return Cell, ProtNo, true
	}
}

// Retag performs a reborrow: derive (permission, protector) from pt,
// create a child node under the node named by parentPath, initialize its
// byte vector (Cell outside [pointeeOffset, pointeeOffset+pointeeSize),
// the derived permission inside), then run the initializing access for
// every in-range byte that isn't Cell (spec.md §4.3). Returns the new
// node's path and, if a protector was created, a ProtectorRef for the
// calling frame to remember.
func (Model) Retag(a *memory.Allocation, parentPath []int, pointeeOffset, pointeeSize int64, pt types.PtrType, fnEntry bool) ([]int, *ProtectorRef, error) {
	perm, protector, ok := derivePermission(pt, fnEntry)
	if !ok {
		return parentPath, nil, nil // no-retag case: keep the existing provenance
	}
	tree := a.Extra.(*Tree)
	parent := tree.nodeAt(parentPath)
	child := Node{Perm: newByteVec(int64(len(parent.Perm)), Cell), Protector: protector}
	for i := pointeeOffset; i < pointeeOffset+pointeeSize; i++ {
		child.Perm[i].Perm = perm
	}
	parent.Children = append(parent.Children, child)
	childPath := append(append([]int{}, parentPath...), len(parent.Children)-1)

	for i := pointeeOffset; i < pointeeOffset+pointeeSize; i++ {
		if perm == Cell {
			continue
		}
		if err := (Model{}).Access(a, &value.Provenance{Alloc: a.ID, Path: childPath}, i, 1, memory.Read); err != nil {
			return nil, nil, err
		}
	}
	var ref *ProtectorRef
	if protector != ProtNo {
		ref = &ProtectorRef{Alloc: a.ID, Path: childPath}
	}
	return childPath, ref, nil
}

// EndFrame releases every protector a returning frame created, running
// the protector-end implicit access described in spec.md §4.3: a Write
// for bytes that are currently Unique (saw a local write), else a Read,
// applied as a foreign access to every node that is foreign to the
// protected node (neither its ancestor, itself, nor its descendant). Refs
// covering an allocation that has since been deallocated are skipped for
// Weak protectors (Strong protectors forbid that deallocation, so the
// case cannot arise for them).
func EndFrame(mem *memory.Memory, refs []ProtectorRef) error {
	for _, ref := range refs {
		a := mem.Get(ref.Alloc)
		if a == nil || !a.Live {
			continue // Weak protector over a now-dead allocation: skip silently
		}
		tree := a.Extra.(*Tree)
		node := tree.nodeAt(ref.Path)
		for i := range node.Perm {
			if node.Perm[i].Perm == Cell {
				continue
			}
			kind := memory.Read
			if node.Perm[i].Perm == Unique {
				kind = memory.Write
			}
			if err := protectorEndAccess(&tree.Root, ref.Path, int64(i), kind); err != nil {
				return err
			}
		}
		node.Protector = ProtNo
	}
	return nil
}

func protectorEndAccess(root *Node, path []int, byteIdx int64, kind memory.AccessKind) error {
	var visit func(n *Node, p []int) error
	visit = func(n *Node, p []int) error {
		if isAncestorOrSelf(path, p) {
			return nil // the protected node's own subtree is not foreign to it
		}
		if !isAncestorOrSelf(p, path) {
			if err := transition(&n.Perm[byteIdx], n.Protector != ProtNo, false, kind); err != nil {
				return err
			}
		}
		for i := range n.Children {
			if err := visit(&n.Children[i], append(append([]int{}, p...), i)); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root, nil)
}
