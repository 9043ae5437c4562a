// Package value implements the abstract bytes, values, pointers, and
// places of spec.md §3: the data that flows through the machine between
// memory and the step function. It is the MiniRust analog of the
// Address/Object pair in golang.org/x/debug's internal/gocore —
// Address there is a bare integer into a concrete address space; here a
// pointer additionally carries a Provenance, and a byte can be Uninit.
package value

import (
	"github.com/minirust/minirust-sub000/internal/allocid"
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/types"
)

// Provenance is the opaque tag on bytes and pointers that names the
// allocation (and, under Tree Borrows, the reborrow node) a pointer is
// entitled to access. Path is empty under the basic memory model and
// holds root-relative child indices under Tree Borrows (spec.md §9:
// "parents are addressed by path indices from the root").
type Provenance struct {
	Alloc allocid.ID
	Path  []int
}

func (p Provenance) Equal(o Provenance) bool {
	if p.Alloc != o.Alloc || len(p.Path) != len(o.Path) {
		return false
	}
	for i := range p.Path {
		if p.Path[i] != o.Path[i] {
			return false
		}
	}
	return true
}

// Byte is an AbstractByte: either Uninit, or a concrete byte value with
// an optional provenance tag (spec.md §3).
type Byte struct {
	Init bool
	Val  byte
	Prov *Provenance
}

// Uninit is the Uninit abstract byte.
var Uninit = Byte{}

// InitByte constructs an Init(b, prov) abstract byte. Pass a nil prov for
// Init(b, None).
func InitByte(b byte, prov *Provenance) Byte {
	return Byte{Init: true, Val: b, Prov: prov}
}

// LE implements the "less-or-equally-defined" partial order of spec.md §3:
// Uninit <= anything; Init(b, None) <= Init(b, any); with provenance, both
// sides must agree.
func (b Byte) LE(o Byte) bool {
	if !b.Init {
		return true
	}
	if !o.Init {
		return false
	}
	if b.Val != o.Val {
		return false
	}
	if b.Prov == nil {
		return true
	}
	return o.Prov != nil && b.Prov.Equal(*o.Prov)
}

// BytesLE lifts Byte.LE pointwise to equal-length byte lists.
func BytesLE(a, b []Byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].LE(b[i]) {
			return false
		}
	}
	return true
}

// ThinPointer is a bare address plus optional provenance (spec.md §3).
type ThinPointer struct {
	Addr bigint.Int
	Prov *Provenance
}

func (p ThinPointer) LE(o ThinPointer) bool {
	if p.Addr.Cmp(o.Addr) != 0 {
		return false
	}
	if p.Prov == nil {
		return true
	}
	return o.Prov != nil && p.Prov.Equal(*o.Prov)
}

// Metadata is the wide-pointer payload: either an element count (Slice)
// or a vtable pointer (TraitObject), per spec.md §3.
type Metadata struct {
	Kind   types.MetaKind
	Count  bigint.Int
	VTable ThinPointer
}

// Pointer is a thin pointer plus optional metadata (spec.md §3).
type Pointer struct {
	Thin ThinPointer
	Meta *Metadata
}

func (p Pointer) LE(o Pointer) bool {
	if !p.Thin.LE(o.Thin) {
		return false
	}
	if p.Meta == nil {
		return o.Meta == nil
	}
	if o.Meta == nil || p.Meta.Kind != o.Meta.Kind {
		return false
	}
	switch p.Meta.Kind {
	case types.MetaElementCount:
		return p.Meta.Count.Cmp(o.Meta.Count) == 0
	case types.MetaVTablePointer:
		return p.Meta.VTable.LE(o.Meta.VTable)
	default:
		return true
	}
}

// Kind tags the closed sum of runtime Values (spec.md §3).
type Kind uint8

const (
	KInt Kind = iota
	KBool
	KPtr
	KTuple
	KVariant
	KUnion
)

// Value is a typed semantic datum. Every Value flowing through the
// machine (as opposed to a raw Decode result) is well-formed for its
// type — see repr.CheckValue.
type Value struct {
	Kind Kind

	Int  bigint.Int
	Bool bool
	Ptr  Pointer

	Tuple []Value // KTuple

	VariantIdx  int    // KVariant
	VariantData *Value // KVariant

	// KUnion: raw bytes of each chunk, in declaration order, exactly as
	// written/read by encode/decode (spec.md §4.1).
	UnionChunks [][]Byte
}

func Int(i bigint.Int) Value  { return Value{Kind: KInt, Int: i} }
func Bool(b bool) Value       { return Value{Kind: KBool, Bool: b} }
func Ptr(p Pointer) Value     { return Value{Kind: KPtr, Ptr: p} }
func Tuple(vs []Value) Value  { return Value{Kind: KTuple, Tuple: vs} }
func Variant(idx int, v Value) Value {
	return Value{Kind: KVariant, VariantIdx: idx, VariantData: &v}
}
func Union(chunks [][]Byte) Value { return Value{Kind: KUnion, UnionChunks: chunks} }

// LE lifts the defined-ness order to values of matching shape. Values of
// mismatched shape are defined to be incomparable (false), which can only
// arise from a spec bug since well-formed values of the same type always
// share shape.
func (v Value) LE(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KInt:
		return v.Int.Cmp(o.Int) == 0
	case KBool:
		return v.Bool == o.Bool
	case KPtr:
		return v.Ptr.LE(o.Ptr)
	case KTuple:
		if len(v.Tuple) != len(o.Tuple) {
			return false
		}
		for i := range v.Tuple {
			if !v.Tuple[i].LE(o.Tuple[i]) {
				return false
			}
		}
		return true
	case KVariant:
		return v.VariantIdx == o.VariantIdx && v.VariantData.LE(*o.VariantData)
	case KUnion:
		if len(v.UnionChunks) != len(o.UnionChunks) {
			return false
		}
		for i := range v.UnionChunks {
			if !BytesLE(v.UnionChunks[i], o.UnionChunks[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Place is a pointer plus the static "is this access guaranteed aligned"
// flag of spec.md §3/§4.6.
type Place struct {
	Ptr     Pointer
	Aligned bool
}
