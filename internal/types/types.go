// Package types implements the MiniRust type system and layout algebra:
// the closed sum of types from spec.md §3 plus the size/align resolution
// rules of §4.1. It is modeled on the Kind-tagged Type/Field pair in
// golang.org/x/debug's internal/gocore/type.go, generalized from "the
// types DWARF can describe" to "the types MiniRust's IR can describe".
package types

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/target"
)

// Kind tags the closed sum of MiniRust types (spec.md §3).
type Kind uint8

const (
	KindInt Kind = iota
	KindBool
	KindPtr
	KindTuple
	KindArray
	KindSlice
	KindUnion
	KindEnum
	KindTraitObject
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "Int"
	case KindBool:
		return "Bool"
	case KindPtr:
		return "Ptr"
	case KindTuple:
		return "Tuple"
	case KindArray:
		return "Array"
	case KindSlice:
		return "Slice"
	case KindUnion:
		return "Union"
	case KindEnum:
		return "Enum"
	case KindTraitObject:
		return "TraitObject"
	default:
		return "?"
	}
}

// IntTy describes an Int{signed, size} type. Size is in bytes and must be
// one of 1, 2, 4, 8, 16 (enforced by the well-formedness checker, not here).
type IntTy struct {
	Signed bool
	Size   int64
}

func (i IntTy) Bounds() (lo, hi bigint.Int) { return bigint.Bounds(int(i.Size), i.Signed) }

// PtrKind distinguishes the pointer-type variants of spec.md §3.
type PtrKind uint8

const (
	PtrRaw PtrKind = iota
	PtrRef
	PtrBox
	PtrFn
	PtrVTable
)

// MetaKind says whether a pointer built from this PtrType is thin, carries
// an element count, or carries a vtable pointer.
type MetaKind uint8

const (
	MetaNone MetaKind = iota
	MetaElementCount
	MetaVTablePointer
)

// TraitName names a trait for TraitObject and VTablePtr types/vtables.
type TraitName string

// PtrType is the payload of a Ptr(PtrType) type.
type PtrType struct {
	Kind    PtrKind
	Pointee *Type     // for Ref, Box
	Mutbl   bool      // for Ref: true = &mut
	Trait   TraitName // for VTablePtr
	Meta    MetaKind  // for Raw: what kind of metadata this raw pointer carries

	// Interior marks that the pointee has interior mutability (contains
	// an UnsafeCell equivalent), i.e. it is not "Freeze" in upstream
	// Rust terms. MiniRust's IR tracks this as a flag on the pointer
	// type rather than walking the pointee's structure, so the aliasing
	// model (internal/treeborrows) can pick Cell/ReservedIm states
	// without re-deriving it from the pointee's field types.
	Interior bool
}

// MetaOf reports the MetaKind a pointer of this PtrType carries: derived
// from the pointee's layout strategy for Ref/Box, or explicit for Raw/Fn/VTable.
func (pt PtrType) MetaOf() MetaKind {
	switch pt.Kind {
	case PtrRaw:
		return pt.Meta
	case PtrFn:
		return MetaNone
	case PtrVTable:
		return MetaNone
	case PtrRef, PtrBox:
		if pt.Pointee == nil {
			return MetaNone
		}
		switch pt.Pointee.Strategy() {
		case LayoutSlice:
			return MetaElementCount
		case LayoutTraitObject:
			return MetaVTablePointer
		default:
			return MetaNone
		}
	}
	return MetaNone
}

// Field is one field of a Tuple or Union type, at a fixed byte offset.
type Field struct {
	Offset int64
	Type   *Type
}

// Chunk is one raw byte range of a Union type (spec.md §3).
type Chunk struct {
	Offset int64
	Size   int64
}

// DiscriminatorKind tags a node of an enum's discriminant decision tree.
type DiscriminatorKind uint8

const (
	DiscKnown DiscriminatorKind = iota
	DiscBranching
)

// DiscBranch is one inclusive-exclusive range of a branch in the
// discriminator decision tree, paired with the subtree to descend into.
type DiscBranch struct {
	Lo, Hi bigint.Int // [Lo, Hi)
	Next   *Discriminator
}

// Discriminator is one node of the decision tree that computes which
// enum variant is active from the in-memory bytes (spec.md §4.1 decode).
// A leaf is DiscKnown(variant index); an interior node reads an integer
// at Offset/IntTy and descends via Branches, falling through to Fallback
// (nil Fallback means "Invalid": decode fails).
type Discriminator struct {
	Kind     DiscriminatorKind
	Known    int
	Offset   int64
	IntTy    IntTy
	Branches []DiscBranch
	Fallback *Discriminator
}

// Tagger is one (offset, (int-type, value)) entry written into an enum's
// bytes after its active variant is encoded (spec.md §4.1 encode).
type Tagger struct {
	Offset int64
	IntTy  IntTy
	Value  bigint.Int
}

// LayoutKind is the layout strategy of a type (spec.md §4.1).
type LayoutKind uint8

const (
	LayoutSized LayoutKind = iota
	LayoutSliceStrategy
	LayoutTraitObject
	LayoutTupleStrategy // composed sized head + possibly-unsized tail
)

const LayoutSlice = LayoutSliceStrategy

// Type is the closed sum of MiniRust types. Only the fields relevant to
// Kind are meaningful; this mirrors gocore.Type's "tagged struct" shape
// rather than an interface hierarchy, per spec.md §9 ("sum types everywhere").
type Type struct {
	Kind Kind

	Int IntTy   // KindInt
	Ptr PtrType // KindPtr

	// KindTuple: sized fields plus an optional unsized tail field. The
	// tail, if present, is never itself a Tuple (Slice or TraitObject).
	Fields       []Field
	UnsizedField *Type

	// KindArray / KindSlice
	Elem  *Type
	Count int64 // KindArray only

	// KindUnion
	UnionFields []Field
	Chunks      []Chunk
	UnionSize   int64
	UnionAlign  int64

	// KindEnum
	Variants      []*Type // each variant is itself a sized Type (usually Tuple)
	Discriminator *Discriminator
	Taggers       [][]Tagger // per-variant tagger entries, written on encode
	EnumSize      int64
	EnumAlign     int64

	// KindTraitObject
	Trait TraitName
}

// Strategy returns the layout strategy used to resolve this type's size
// and alignment (spec.md §4.1).
func (t *Type) Strategy() LayoutKind {
	switch t.Kind {
	case KindSlice:
		return LayoutSliceStrategy
	case KindTraitObject:
		return LayoutTraitObject
	case KindTuple:
		if t.UnsizedField != nil {
			return LayoutTupleStrategy
		}
		return LayoutSized
	default:
		return LayoutSized
	}
}

// Metadata is the runtime metadata a wide pointer carries, resolved to
// concrete numbers by the caller (the vtable table lives in the machine,
// not in this package, to keep types free of a dependency on it).
type Metadata struct {
	Kind         MetaKind
	ElementCount bigint.Int
	VTableSize   int64
	VTableAlign  int64
}

// SizeAlign resolves this type's concrete size and alignment given target
// parameters and, for unsized types, the metadata describing the specific
// value. It panics (a spec bug, not a program error) if meta does not
// match the strategy — mirroring gocore/type.go's hard layout assertions.
func (t *Type) SizeAlign(tgt target.Target, meta Metadata) (size, align int64) {
	switch t.Strategy() {
	case LayoutSized:
		return t.sizedSizeAlign(tgt)
	case LayoutSliceStrategy:
		if meta.Kind != MetaElementCount {
			panic("types: Slice requires ElementCount metadata")
		}
		elemSize, elemAlign := t.Elem.SizeAlign(tgt, Metadata{})
		n := meta.ElementCount
		size = elemSize * n.Int64()
		return size, elemAlign
	case LayoutTraitObject:
		if meta.Kind != MetaVTablePointer {
			panic("types: TraitObject requires VTablePointer metadata")
		}
		return meta.VTableSize, meta.VTableAlign
	case LayoutTupleStrategy:
		headSize, headAlign := t.headSizeAlign(tgt)
		tailSize, tailAlign := t.UnsizedField.SizeAlign(tgt, meta)
		align = maxI64(headAlign, tailAlign)
		size = alignUp(headSize, tailAlign) + tailSize
		size = alignUp(size, align)
		return size, align
	}
	panic("unreachable layout strategy")
}

// sizedSizeAlign computes size/align for a type with no unsized parts.
func (t *Type) sizedSizeAlign(tgt target.Target) (int64, int64) {
	switch t.Kind {
	case KindInt:
		return t.Int.Size, tgt.IntAlign(t.Int.Size)
	case KindBool:
		return 1, 1
	case KindPtr:
		switch t.Ptr.MetaOf() {
		case MetaNone:
			return tgt.PtrSize(), tgt.PtrAlign
		default:
			return 2 * tgt.PtrSize(), tgt.PtrAlign
		}
	case KindTuple:
		return t.headSizeAlign(tgt)
	case KindArray:
		elemSize, elemAlign := t.Elem.SizeAlign(tgt, Metadata{})
		return elemSize * t.Count, elemAlign
	case KindUnion:
		return t.UnionSize, t.UnionAlign
	case KindEnum:
		return t.EnumSize, t.EnumAlign
	}
	panic(fmt.Sprintf("types: %s has no fixed size", t.Kind))
}

// headSizeAlign computes the size/align of a Tuple's sized-field prefix
// (ignoring any unsized tail field), used both directly for fully-sized
// tuples and as the "head" half of the Tuple layout strategy.
func (t *Type) headSizeAlign(tgt target.Target) (int64, int64) {
	var size, align int64 = 0, 1
	for _, f := range t.Fields {
		fs, fa := f.Type.SizeAlign(tgt, Metadata{})
		align = maxI64(align, fa)
		end := f.Offset + fs
		if end > size {
			size = end
		}
	}
	size = alignUp(size, align)
	return size, align
}

func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Inhabited reports whether any value of this type can exist — used by
// check_value to reject references to uninhabited pointees (spec.md §4.1).
func (t *Type) Inhabited() bool {
	switch t.Kind {
	case KindEnum:
		return len(t.Variants) > 0
	case KindUnion:
		return true
	case KindArray:
		return t.Count == 0 || t.Elem.Inhabited()
	case KindTuple:
		for _, f := range t.Fields {
			if !f.Type.Inhabited() {
				return false
			}
		}
		if t.UnsizedField != nil {
			return t.UnsizedField.Inhabited()
		}
		return true
	default:
		return true
	}
}
