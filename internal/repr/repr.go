// Package repr implements the representation relation of spec.md §4.1:
// the type-directed encode/decode between Values and byte ranges, and
// check_value's validity invariants. It plays the role that the typed
// Read* helpers on core.Process and gocore.Process play in the teacher
// repository (e.g. internal/gocore/process.go's field-by-field struct
// reads, internal/gocore/type.go's DynamicType), generalized from
// "decode one concrete Go runtime layout" to "encode/decode any
// MiniRust type".
package repr

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/target"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
)

// Env carries the pieces of the representation relation that depend on
// machine state rather than on the type alone: the target parameters, a
// vtable lookup (for TraitObject size/align and bare-vtable-pointer
// validity), and a dereferenceability oracle backed by memory.
type Env struct {
	Target          target.Target
	VTableSizeAlign func(trait types.TraitName, addr bigint.Int) (size, align int64, ok bool)
	VTableAt        func(addr bigint.Int, trait types.TraitName) bool
	Dereferenceable func(ptr value.Pointer, size int64) bool
}

func usize(e Env) types.IntTy { return types.IntTy{Signed: false, Size: e.Target.PtrSize()} }

// Encode is total for well-formed values (spec.md §4.1, testable
// property 1: the result always has length ty.Size and every
// non-padding offset is Init).
func Encode(v value.Value, ty *types.Type, e Env) []value.Byte {
	switch ty.Kind {
	case types.KindInt:
		raw := v.Int.Bytes(int(ty.Int.Size), e.Target.LittleEndian)
		out := make([]value.Byte, len(raw))
		for i, b := range raw {
			out[i] = value.InitByte(b, nil)
		}
		return out
	case types.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []value.Byte{value.InitByte(b, nil)}
	case types.KindPtr:
		return encodePtr(v.Ptr, ty.Ptr, e)
	case types.KindTuple:
		return encodeTuple(v, ty, e)
	case types.KindArray:
		out := make([]value.Byte, 0, ty.Count*elemSize(ty, e))
		for _, elem := range v.Tuple {
			out = append(out, Encode(elem, ty.Elem, e)...)
		}
		return out
	case types.KindUnion:
		buf := uninitBuf(ty.UnionSize)
		for i, chunk := range ty.Chunks {
			copy(buf[chunk.Offset:chunk.Offset+chunk.Size], v.UnionChunks[i])
		}
		return buf
	case types.KindEnum:
		return encodeEnum(v, ty, e)
	default:
		panic(fmt.Sprintf("repr: cannot encode a value of type %s", ty.Kind))
	}
}

func elemSize(ty *types.Type, e Env) int64 {
	s, _ := ty.Elem.SizeAlign(e.Target, types.Metadata{})
	return s
}

func uninitBuf(n int64) []value.Byte {
	buf := make([]value.Byte, n)
	for i := range buf {
		buf[i] = value.Uninit
	}
	return buf
}

func encodeThin(p value.ThinPointer, size int64, e Env) []value.Byte {
	raw := p.Addr.Bytes(int(size), e.Target.LittleEndian)
	out := make([]value.Byte, len(raw))
	for i, b := range raw {
		out[i] = value.InitByte(b, p.Prov)
	}
	return out
}

func encodePtr(p value.Pointer, pt types.PtrType, e Env) []value.Byte {
	ptrSize := e.Target.PtrSize()
	thin := encodeThin(p.Thin, ptrSize, e)
	if pt.MetaOf() == types.MetaNone {
		return thin
	}
	var meta []value.Byte
	switch p.Meta.Kind {
	case types.MetaElementCount:
		meta = Encode(value.Int(p.Meta.Count), &types.Type{Kind: types.KindInt, Int: usize(e)}, e)
	case types.MetaVTablePointer:
		meta = encodeThin(p.Meta.VTable, ptrSize, e)
	}
	return append(thin, meta...)
}

func encodeTuple(v value.Value, ty *types.Type, e Env) []value.Byte {
	size, _ := ty.SizeAlign(e.Target, types.Metadata{})
	buf := uninitBuf(size)
	for i, f := range ty.Fields {
		fb := Encode(v.Tuple[i], f.Type, e)
		copy(buf[f.Offset:f.Offset+int64(len(fb))], fb)
	}
	return buf
}

func encodeEnum(v value.Value, ty *types.Type, e Env) []value.Byte {
	buf := uninitBuf(ty.EnumSize)
	variantTy := ty.Variants[v.VariantIdx]
	vb := Encode(*v.VariantData, variantTy, e)
	copy(buf[0:int64(len(vb))], vb)
	for _, tg := range ty.Taggers[v.VariantIdx] {
		raw := tg.Value.Bytes(int(tg.IntTy.Size), e.Target.LittleEndian)
		for i, b := range raw {
			buf[tg.Offset+int64(i)] = value.InitByte(b, nil)
		}
	}
	return buf
}

// Decode is the partial inverse of Encode. Its result need not be
// well-formed; callers must run CheckValue on it (spec.md §4.1).
func Decode(b []value.Byte, ty *types.Type, e Env) (value.Value, bool) {
	switch ty.Kind {
	case types.KindInt:
		return decodeInt(b, ty.Int, e)
	case types.KindBool:
		if !b[0].Init || (b[0].Val != 0 && b[0].Val != 1) {
			return value.Value{}, false
		}
		return value.Bool(b[0].Val == 1), true
	case types.KindPtr:
		return decodePtr(b, ty.Ptr, e)
	case types.KindTuple:
		return decodeTuple(b, ty, e)
	case types.KindArray:
		return decodeArray(b, ty, e)
	case types.KindUnion:
		out := make([][]value.Byte, len(ty.Chunks))
		for i, c := range ty.Chunks {
			chunk := make([]value.Byte, c.Size)
			copy(chunk, b[c.Offset:c.Offset+c.Size])
			out[i] = chunk
		}
		return value.Union(out), true
	case types.KindEnum:
		return decodeEnum(b, ty, e)
	default:
		return value.Value{}, false
	}
}

func decodeInt(b []value.Byte, it types.IntTy, e Env) (value.Value, bool) {
	if int64(len(b)) != it.Size {
		return value.Value{}, false
	}
	raw := make([]byte, len(b))
	for i, by := range b {
		if !by.Init {
			return value.Value{}, false
		}
		raw[i] = by.Val
	}
	return value.Int(bigint.FromBytes(raw, it.Signed, e.Target.LittleEndian)), true
}

func decodeThin(b []value.Byte, e Env) (value.ThinPointer, bool) {
	ptrSize := int(e.Target.PtrSize())
	if len(b) < ptrSize {
		return value.ThinPointer{}, false
	}
	raw := make([]byte, ptrSize)
	var prov *value.Provenance
	agree := true
	for i := 0; i < ptrSize; i++ {
		if !b[i].Init {
			return value.ThinPointer{}, false
		}
		raw[i] = b[i].Val
		if i == 0 {
			prov = b[i].Prov
		} else if !provEqual(prov, b[i].Prov) {
			agree = false
		}
	}
	if !agree {
		prov = nil
	}
	addr := bigint.FromBytes(raw, false, e.Target.LittleEndian)
	return value.ThinPointer{Addr: addr, Prov: prov}, true
}

func provEqual(a, b *value.Provenance) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func decodePtr(b []value.Byte, pt types.PtrType, e Env) (value.Value, bool) {
	ptrSize := int(e.Target.PtrSize())
	thin, ok := decodeThin(b[:ptrSize], e)
	if !ok {
		return value.Value{}, false
	}
	if pt.MetaOf() == types.MetaNone {
		return value.Ptr(value.Pointer{Thin: thin}), true
	}
	rest := b[ptrSize:]
	switch pt.MetaOf() {
	case types.MetaElementCount:
		mv, ok := decodeInt(rest, usize(e), e)
		if !ok {
			return value.Value{}, false
		}
		return value.Ptr(value.Pointer{Thin: thin, Meta: &value.Metadata{Kind: types.MetaElementCount, Count: mv.Int}}), true
	case types.MetaVTablePointer:
		vt, ok := decodeThin(rest, e)
		if !ok {
			return value.Value{}, false
		}
		return value.Ptr(value.Pointer{Thin: thin, Meta: &value.Metadata{Kind: types.MetaVTablePointer, VTable: vt}}), true
	}
	return value.Value{}, false
}

func decodeTuple(b []value.Byte, ty *types.Type, e Env) (value.Value, bool) {
	vals := make([]value.Value, len(ty.Fields))
	for i, f := range ty.Fields {
		fs, _ := f.Type.SizeAlign(e.Target, types.Metadata{})
		v, ok := Decode(b[f.Offset:f.Offset+fs], f.Type, e)
		if !ok {
			return value.Value{}, false
		}
		vals[i] = v
	}
	return value.Tuple(vals), true
}

func decodeArray(b []value.Byte, ty *types.Type, e Env) (value.Value, bool) {
	es := elemSize(ty, e)
	vals := make([]value.Value, ty.Count)
	for i := int64(0); i < ty.Count; i++ {
		v, ok := Decode(b[i*es:(i+1)*es], ty.Elem, e)
		if !ok {
			return value.Value{}, false
		}
		vals[i] = v
	}
	return value.Tuple(vals), true
}

func decodeEnum(b []value.Byte, ty *types.Type, e Env) (value.Value, bool) {
	idx, ok := runDiscriminator(ty.Discriminator, b, e)
	if !ok {
		return value.Value{}, false
	}
	variantTy := ty.Variants[idx]
	vs, _ := variantTy.SizeAlign(e.Target, types.Metadata{})
	v, ok := Decode(b[0:vs], variantTy, e)
	if !ok {
		return value.Value{}, false
	}
	return value.Variant(idx, v), true
}

func runDiscriminator(d *types.Discriminator, b []value.Byte, e Env) (int, bool) {
	if d == nil {
		return 0, false
	}
	if d.Kind == types.DiscKnown {
		return d.Known, true
	}
	slice := b[d.Offset : d.Offset+d.IntTy.Size]
	v, ok := decodeInt(slice, d.IntTy, e)
	if !ok {
		return 0, false
	}
	for _, br := range d.Branches {
		if v.Int.Cmp(br.Lo) >= 0 && v.Int.Cmp(br.Hi) < 0 {
			return runDiscriminator(br.Next, b, e)
		}
	}
	return runDiscriminator(d.Fallback, b, e)
}

// CheckValue validates the structural and pointer-validity invariants of
// spec.md §4.1. A nil return means v is well-formed for ty.
func CheckValue(v value.Value, ty *types.Type, e Env) error {
	switch ty.Kind {
	case types.KindInt:
		if v.Kind != value.KInt || !bigint.FitsIn(v.Int, int(ty.Int.Size), ty.Int.Signed) {
			return fmt.Errorf("repr: %v is not a valid %+v", v.Int, ty.Int)
		}
	case types.KindBool:
		if v.Kind != value.KBool {
			return fmt.Errorf("repr: value is not a bool")
		}
	case types.KindPtr:
		return checkPtr(v, ty.Ptr, e)
	case types.KindTuple:
		if v.Kind != value.KTuple || len(v.Tuple) != len(ty.Fields) {
			return fmt.Errorf("repr: tuple shape mismatch")
		}
		for i, f := range ty.Fields {
			if err := CheckValue(v.Tuple[i], f.Type, e); err != nil {
				return err
			}
		}
	case types.KindArray:
		if v.Kind != value.KTuple || int64(len(v.Tuple)) != ty.Count {
			return fmt.Errorf("repr: array shape mismatch")
		}
		for _, elem := range v.Tuple {
			if err := CheckValue(elem, ty.Elem, e); err != nil {
				return err
			}
		}
	case types.KindUnion:
		if v.Kind != value.KUnion || len(v.UnionChunks) != len(ty.Chunks) {
			return fmt.Errorf("repr: union shape mismatch")
		}
	case types.KindEnum:
		if v.Kind != value.KVariant || v.VariantIdx < 0 || v.VariantIdx >= len(ty.Variants) {
			return fmt.Errorf("repr: invalid enum variant")
		}
		return CheckValue(*v.VariantData, ty.Variants[v.VariantIdx], e)
	default:
		return fmt.Errorf("repr: no values of type %s exist", ty.Kind)
	}
	return nil
}

func checkPtr(v value.Value, pt types.PtrType, e Env) error {
	if v.Kind != value.KPtr {
		return fmt.Errorf("repr: value is not a pointer")
	}
	p := v.Ptr
	if p.Thin.Addr.Sign() < 0 {
		return fmt.Errorf("repr: pointer address is negative")
	}
	if pt.Kind == types.PtrVTable {
		if e.VTableAt == nil || !e.VTableAt(p.Thin.Addr, pt.Trait) {
			return fmt.Errorf("repr: bare vtable pointer does not resolve to a %s vtable", pt.Trait)
		}
		return nil
	}
	if meta := pt.MetaOf(); meta != types.MetaNone {
		if p.Meta == nil || p.Meta.Kind != meta {
			return fmt.Errorf("repr: wide pointer missing expected metadata")
		}
	}
	if pt.Kind != types.PtrRef && pt.Kind != types.PtrBox {
		return nil // raw pointers and fn pointers carry no further validity requirement
	}
	if p.Thin.Addr.IsZero() {
		return fmt.Errorf("repr: safe pointer is null")
	}
	if !pt.Pointee.Inhabited() {
		return fmt.Errorf("repr: safe pointer's pointee type is uninhabited")
	}
	meta := types.Metadata{}
	if p.Meta != nil {
		meta.Kind = p.Meta.Kind
		meta.ElementCount = p.Meta.Count
		if e.VTableSizeAlign != nil && p.Meta.Kind == types.MetaVTablePointer {
			sz, al, ok := e.VTableSizeAlign(pt.Pointee.Trait, p.Meta.VTable.Addr)
			if !ok {
				return fmt.Errorf("repr: vtable pointer does not resolve to a %s vtable", pt.Pointee.Trait)
			}
			meta.VTableSize, meta.VTableAlign = sz, al
		}
	}
	size, align := pt.Pointee.SizeAlign(e.Target, meta)
	if addrU := p.Thin.Addr.Uint64(); int64(addrU)%align != 0 {
		return fmt.Errorf("repr: safe pointer is not aligned to %d", align)
	}
	if e.Dereferenceable != nil && !e.Dereferenceable(p, size) {
		return fmt.Errorf("repr: safe pointer is not dereferenceable for %d bytes", size)
	}
	return nil
}
