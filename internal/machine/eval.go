// eval.go implements the value- and place-expression evaluation rules of
// spec.md §4.6. It is the generalized counterpart of the typed field/
// pointer decoding golang.org/x/debug/internal/gocore/process.go performs
// while walking a Go value's runtime representation, extended here to
// cover every MiniRust expression form rather than one fixed Go ABI.
package machine

import (
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/repr"
	"github.com/minirust/minirust-sub000/internal/treeborrows"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
)

// typeMetaOf resolves the types.Metadata a wide pointer's value.Metadata
// corresponds to, looking up vtable size/align when needed (spec.md §4.1).
func (m *Machine) typeMetaOf(p value.Pointer) types.Metadata {
	if p.Meta == nil {
		return types.Metadata{}
	}
	switch p.Meta.Kind {
	case types.MetaElementCount:
		return types.Metadata{Kind: types.MetaElementCount, ElementCount: p.Meta.Count}
	case types.MetaVTablePointer:
		name, ok := m.vtableByPtr[p.Meta.VTable.Addr.Uint64()]
		if !ok {
			return types.Metadata{Kind: types.MetaVTablePointer}
		}
		vt := m.Prog.VTables[name]
		return types.Metadata{Kind: types.MetaVTablePointer, VTableSize: vt.Size, VTableAlign: vt.Align}
	}
	return types.Metadata{}
}

// loadPlace performs a typed load (spec.md §4.1): misalignment is UB,
// a decode failure is UB ("language-invariant violated"), and the decoded
// value is checked before being handed back to the caller.
func (m *Machine) loadPlace(pl value.Place, ty *types.Type) (value.Value, error) {
	if !pl.Aligned {
		return value.Value{}, ub("loading through a misaligned place")
	}
	meta := m.typeMetaOf(pl.Ptr)
	size, align := ty.SizeAlign(m.Target, meta)
	bytes, err := m.doLoad(pl.Ptr, size, align, memory.NonAtomic)
	if err != nil {
		return value.Value{}, ub("%s", err.Error())
	}
	v, ok := repr.Decode(bytes, ty, m.reprEnv())
	if !ok {
		return value.Value{}, ub("language-invariant violated: decode failed for %s", ty.Kind)
	}
	if err := repr.CheckValue(v, ty, m.reprEnv()); err != nil {
		return value.Value{}, ub("%s", err.Error())
	}
	return v, nil
}

// storePlace performs a typed store (spec.md §4.1). Storing an ill-formed
// value is a spec bug (the frontend/evaluator produced a value not WF for
// its type), not a program error, so it panics rather than returning UB.
func (m *Machine) storePlace(pl value.Place, v value.Value, ty *types.Type) error {
	if !pl.Aligned {
		return ub("storing through a misaligned place")
	}
	if err := repr.CheckValue(v, ty, m.reprEnv()); err != nil {
		panic("machine: storing an ill-formed value: " + err.Error())
	}
	bytes := repr.Encode(v, ty, m.reprEnv())
	meta := m.typeMetaOf(pl.Ptr)
	_, align := ty.SizeAlign(m.Target, meta)
	if err := m.doStore(pl.Ptr, bytes, align, memory.NonAtomic); err != nil {
		return ub("%s", err.Error())
	}
	return nil
}

// evalPlace evaluates a place expression to a (pointer, aligned) pair
// (spec.md §4.6).
func (m *Machine) evalPlace(frame *StackFrame, p *ir.PlaceExpr) (value.Place, error) {
	switch p.Kind {
	case ir.PELocal:
		ptr, ok := frame.Locals[p.Local]
		if !ok {
			panic("machine: place evaluation of a local with no live storage")
		}
		return value.Place{Ptr: ptr, Aligned: true}, nil

	case ir.PEDeref:
		v, err := m.evalValue(frame, p.Of)
		if err != nil {
			return value.Place{}, err
		}
		if v.Kind != value.KPtr {
			panic("machine: Deref of a non-pointer value")
		}
		ptr := v.Ptr
		meta := m.typeMetaOf(ptr)
		size, align := p.Ty.SizeAlign(m.Target, meta)
		if safePointerKind(p.Of.Ty) {
			if !m.Mem.Dereferenceable(ptr, size) {
				return value.Place{}, ub("dereferencing a safe pointer that is not dereferenceable for %d bytes", size)
			}
		}
		aligned := align <= 1 || ptr.Thin.Addr.Uint64()%uint64(align) == 0
		return value.Place{Ptr: ptr, Aligned: aligned}, nil

	case ir.PEField:
		base, err := m.evalPlace(frame, p.Base)
		if err != nil {
			return value.Place{}, err
		}
		addr := base.Ptr.Thin.Addr.Add(bigint.FromInt64(p.FieldOffset))
		ptr := value.Pointer{Thin: value.ThinPointer{Addr: addr, Prov: base.Ptr.Thin.Prov}}
		_, align := p.Ty.SizeAlign(m.Target, types.Metadata{})
		aligned := base.Aligned && (align <= 1 || addr.Uint64()%uint64(align) == 0)
		return value.Place{Ptr: ptr, Aligned: aligned}, nil

	case ir.PEIndex:
		base, err := m.evalPlace(frame, p.Base)
		if err != nil {
			return value.Place{}, err
		}
		idx, err := m.evalValue(frame, p.IndexBy)
		if err != nil {
			return value.Place{}, err
		}
		elemSize, elemAlign := p.Ty.SizeAlign(m.Target, types.Metadata{})
		addr := base.Ptr.Thin.Addr.Add(bigint.FromInt64(elemSize).Mul(idx.Int))
		ptr := value.Pointer{Thin: value.ThinPointer{Addr: addr, Prov: base.Ptr.Thin.Prov}}
		aligned := base.Aligned && (elemAlign <= 1 || addr.Uint64()%uint64(elemAlign) == 0)
		return value.Place{Ptr: ptr, Aligned: aligned}, nil

	case ir.PEDowncast:
		base, err := m.evalPlace(frame, p.Base)
		if err != nil {
			return value.Place{}, err
		}
		_, align := p.Ty.SizeAlign(m.Target, types.Metadata{})
		aligned := base.Aligned && (align <= 1 || base.Ptr.Thin.Addr.Uint64()%uint64(align) == 0)
		return value.Place{Ptr: base.Ptr, Aligned: aligned}, nil
	}
	panic("machine: unknown place expression kind")
}

func safePointerKind(ty *types.Type) bool {
	return ty != nil && ty.Kind == types.KindPtr && (ty.Ptr.Kind == types.PtrRef || ty.Ptr.Kind == types.PtrBox)
}

// retag performs the reborrow of spec.md §4.3 when Tree Borrows is
// enabled, returning a pointer carrying the freshly derived provenance
// (or the original pointer unchanged when Tree Borrows is off, the
// pointer has no provenance, or its allocation is already dead — the
// dangling case surfaces as UB on the next real access instead).
func (m *Machine) retag(ptr value.Pointer, pointeeTy *types.Type, pt types.PtrType, fnEntry bool) (value.Pointer, *treeborrows.ProtectorRef, error) {
	if !m.UseTB || ptr.Thin.Prov == nil {
		return ptr, nil, nil
	}
	alloc := m.Mem.Get(ptr.Thin.Prov.Alloc)
	if alloc == nil || !alloc.Live {
		return ptr, nil, nil
	}
	offset := int64(ptr.Thin.Addr.Uint64() - alloc.Base)
	var size int64
	if pointeeTy != nil {
		size, _ = pointeeTy.SizeAlign(m.Target, m.typeMetaOf(ptr))
	}
	newPath, protRef, err := (treeborrows.Model{}).Retag(alloc, ptr.Thin.Prov.Path, offset, size, pt, fnEntry)
	if err != nil {
		return value.Pointer{}, nil, ub("%s", err.Error())
	}
	out := ptr
	out.Thin.Prov = &value.Provenance{Alloc: alloc.ID, Path: newPath}
	return out, protRef, nil
}

// evalValue evaluates a value expression to (Value, Type) (spec.md §4.6).
func (m *Machine) evalValue(frame *StackFrame, v *ir.ValueExpr) (value.Value, error) {
	switch v.Kind {
	case ir.VEConstant:
		return m.evalConstant(v)

	case ir.VETuple:
		vals := make([]value.Value, len(v.Elems))
		for i := range v.Elems {
			val, err := m.evalValue(frame, &v.Elems[i])
			if err != nil {
				return value.Value{}, err
			}
			vals[i] = val
		}
		return value.Tuple(vals), nil

	case ir.VEUnion:
		chunks := make([][]value.Byte, len(v.Elems))
		for i := range v.Elems {
			val, err := m.evalValue(frame, &v.Elems[i])
			if err != nil {
				return value.Value{}, err
			}
			chunks[i] = repr.Encode(val, v.UnionChunkTy[i], m.reprEnv())
		}
		return value.Union(chunks), nil

	case ir.VEVariant:
		val, err := m.evalValue(frame, v.VariantVal)
		if err != nil {
			return value.Value{}, err
		}
		return value.Variant(v.VariantIdx, val), nil

	case ir.VEGetDiscriminant:
		pl, err := m.evalPlace(frame, v.Place)
		if err != nil {
			return value.Value{}, err
		}
		dv, err := m.loadPlace(pl, v.Place.Ty)
		if err != nil {
			return value.Value{}, err
		}
		if dv.Kind != value.KVariant {
			panic("machine: GetDiscriminant on a non-enum place")
		}
		return value.Int(bigint.FromInt64(int64(dv.VariantIdx))), nil

	case ir.VELoad:
		pl, err := m.evalPlace(frame, v.Place)
		if err != nil {
			return value.Value{}, err
		}
		return m.loadPlace(pl, v.Place.Ty)

	case ir.VEAddrOf:
		pl, err := m.evalPlace(frame, v.Place)
		if err != nil {
			return value.Value{}, err
		}
		ptr := pl.Ptr
		if v.Ty != nil && v.Ty.Kind == types.KindPtr {
			newPtr, protRef, err := m.retag(ptr, v.Place.Ty, v.Ty.Ptr, false)
			if err != nil {
				return value.Value{}, err
			}
			ptr = newPtr
			if protRef != nil {
				frame.Protectors = append(frame.Protectors, *protRef)
			}
		}
		return value.Ptr(value.Pointer{Thin: ptr.Thin}), nil

	case ir.VEUnOp:
		return m.evalUnOp(frame, v)

	case ir.VEBinOp:
		return m.evalBinOp(frame, v)
	}
	panic("machine: unknown value expression kind")
}

func (m *Machine) evalConstant(v *ir.ValueExpr) (value.Value, error) {
	switch v.Const {
	case ir.ConstInt:
		return value.Int(v.ConstInt), nil
	case ir.ConstBool:
		return value.Bool(v.ConstBool), nil
	case ir.ConstGlobalPointer:
		return value.Ptr(value.Pointer{Thin: m.GlobalAddrs[v.ConstGlobal]}), nil
	case ir.ConstFnPointer:
		return value.Ptr(value.Pointer{Thin: m.FnAddrs[v.ConstFn]}), nil
	case ir.ConstVTablePointer:
		return value.Ptr(value.Pointer{Thin: m.VTableAddrs[v.ConstVTable]}), nil
	case ir.ConstPointerWithoutProvenance:
		return value.Ptr(value.Pointer{Thin: value.ThinPointer{Addr: v.ConstAddr}}), nil
	}
	panic("machine: unknown constant kind")
}

func indexOf(ss []string, s string) int {
	for i, x := range ss {
		if x == s {
			return i
		}
	}
	return -1
}

func (m *Machine) evalUnOp(frame *StackFrame, v *ir.ValueExpr) (value.Value, error) {
	operand, err := m.evalValue(frame, v.Operand)
	if err != nil {
		return value.Value{}, err
	}
	switch v.UnOp {
	case ir.UNeg:
		r := bigint.Truncate(operand.Int.Neg(), int(v.IntTy.Size), v.IntTy.Signed)
		return value.Int(r), nil

	case ir.UPopCount:
		return value.Int(bigint.FromUint64(uint64(operand.Int.PopCount(int(v.Operand.Ty.Int.Size))))), nil

	case ir.UCastIntToInt:
		return value.Int(bigint.Truncate(operand.Int, int(v.IntTy.Size), v.IntTy.Signed)), nil

	case ir.UCastTransmute:
		return m.castTransmute(operand, v.Operand.Ty, v.Ty)

	case ir.UCastGetThinPointer:
		if operand.Kind != value.KPtr {
			panic("machine: GetThinPointer on a non-pointer value")
		}
		return value.Ptr(value.Pointer{Thin: operand.Ptr.Thin}), nil

	case ir.UCastGetMetadata:
		if operand.Kind != value.KPtr || operand.Ptr.Meta == nil {
			panic("machine: GetMetadata on a thin pointer")
		}
		meta := operand.Ptr.Meta
		switch meta.Kind {
		case types.MetaElementCount:
			return value.Int(meta.Count), nil
		case types.MetaVTablePointer:
			return value.Ptr(value.Pointer{Thin: meta.VTable}), nil
		}
		panic("machine: pointer metadata of unknown kind")

	case ir.UCastComputeSize, ir.UCastComputeAlign:
		if operand.Kind != value.KPtr || v.Operand.Ty == nil || v.Operand.Ty.Kind != types.KindPtr {
			panic("machine: ComputeSize/ComputeAlign on a non-pointer")
		}
		pointee := v.Operand.Ty.Ptr.Pointee
		size, align := pointee.SizeAlign(m.Target, m.typeMetaOf(operand.Ptr))
		if v.UnOp == ir.UCastComputeSize {
			return value.Int(bigint.FromInt64(size)), nil
		}
		return value.Int(bigint.FromInt64(align)), nil

	case ir.UCastVTableMethodLookup:
		if operand.Kind != value.KPtr {
			panic("machine: VTableMethodLookup on a non-pointer")
		}
		name, ok := m.vtableByPtr[operand.Ptr.Thin.Addr.Uint64()]
		if !ok {
			return value.Value{}, ub("vtable method lookup on a pointer that does not resolve to a vtable")
		}
		methods := m.Prog.Traits[v.TraitOf]
		idx := indexOf(methods, v.Method)
		if idx < 0 {
			panic("machine: vtable method lookup for an undeclared trait method")
		}
		fn := m.Prog.VTables[name].Methods[idx]
		return value.Ptr(value.Pointer{Thin: m.FnAddrs[fn]}), nil
	}
	panic("machine: unknown unary operator")
}

// castTransmute implements spec.md §4.1 Transmute plus §4.5's
// integer-pointer cast subsystem: a thin-pointer-sized int-to-pointer
// transmute goes through the exposed-provenance choice instead of the
// generic encode/decode path (which would always yield None provenance).
func (m *Machine) castTransmute(v value.Value, srcTy, dstTy *types.Type) (value.Value, error) {
	if srcTy.Kind == types.KindInt && dstTy.Kind == types.KindPtr && dstTy.Ptr.MetaOf() == types.MetaNone {
		return value.Ptr(value.Pointer{Thin: m.intToPtr(v.Int)}), nil
	}
	srcSize, _ := srcTy.SizeAlign(m.Target, m.metaForTransmute(v, srcTy))
	dstSize, _ := dstTy.SizeAlign(m.Target, m.metaForTransmute(v, srcTy))
	if srcSize != dstSize {
		return value.Value{}, ub("transmute between types of different size (%d vs %d)", srcSize, dstSize)
	}
	bytes := repr.Encode(v, srcTy, m.reprEnv())
	dv, ok := repr.Decode(bytes, dstTy, m.reprEnv())
	if !ok {
		return value.Value{}, ub("transmute result is not a valid value of the target type")
	}
	if err := repr.CheckValue(dv, dstTy, m.reprEnv()); err != nil {
		return value.Value{}, ub("%s", err.Error())
	}
	return dv, nil
}

func (m *Machine) metaForTransmute(v value.Value, ty *types.Type) types.Metadata {
	if ty.Kind == types.KindPtr && v.Kind == value.KPtr {
		return m.typeMetaOf(v.Ptr)
	}
	return types.Metadata{}
}

func (m *Machine) evalBinOp(frame *StackFrame, v *ir.ValueExpr) (value.Value, error) {
	l, err := m.evalValue(frame, v.Left)
	if err != nil {
		return value.Value{}, err
	}
	r, err := m.evalValue(frame, v.Right)
	if err != nil {
		return value.Value{}, err
	}
	switch v.BinOp {
	case ir.BAdd, ir.BSub, ir.BMul:
		return m.evalArith(v, l, r)
	case ir.BDiv:
		return m.evalDivRem(v, l, r, true)
	case ir.BRem:
		return m.evalDivRem(v, l, r, false)
	case ir.BShl:
		n := uint(r.Int.Int64())
		return value.Int(bigint.Truncate(l.Int.Lsh(n), int(v.Ty.Int.Size), v.Ty.Int.Signed)), nil
	case ir.BShr:
		n := uint(r.Int.Int64())
		return value.Int(bigint.Truncate(l.Int.Rsh(n), int(v.Ty.Int.Size), v.Ty.Int.Signed)), nil
	case ir.BEq:
		return value.Bool(l.Int.Cmp(r.Int) == 0), nil
	case ir.BLt:
		return value.Bool(l.Int.Cmp(r.Int) < 0), nil
	case ir.BLe:
		return value.Bool(l.Int.Cmp(r.Int) <= 0), nil
	case ir.BGt:
		return value.Bool(l.Int.Cmp(r.Int) > 0), nil
	case ir.BGe:
		return value.Bool(l.Int.Cmp(r.Int) >= 0), nil
	case ir.BCmp:
		c := l.Int.Cmp(r.Int)
		return value.Int(bigint.FromInt64(int64(c))), nil
	case ir.BPtrOffset:
		return m.evalPtrOffset(v, l, r)
	case ir.BPtrOffsetFrom:
		diff := l.Ptr.Thin.Addr.Sub(r.Ptr.Thin.Addr)
		return value.Int(diff), nil
	case ir.BConstructWidePointer:
		return m.constructWidePointer(v, l, r)
	}
	panic("machine: unknown binary operator")
}

func (m *Machine) evalArith(v *ir.ValueExpr, l, r value.Value) (value.Value, error) {
	var raw bigint.Int
	switch v.BinOp {
	case ir.BAdd:
		raw = l.Int.Add(r.Int)
	case ir.BSub:
		raw = l.Int.Sub(r.Int)
	case ir.BMul:
		raw = l.Int.Mul(r.Int)
	}
	intTy := v.Ty.Int
	if v.WithOverflow {
		intTy = v.Ty.Fields[0].Type.Int
	}
	overflowed := !bigint.FitsIn(raw, int(intTy.Size), intTy.Signed)
	truncated := bigint.Truncate(raw, int(intTy.Size), intTy.Signed)
	if !v.WithOverflow {
		return value.Int(truncated), nil
	}
	return value.Tuple([]value.Value{value.Int(truncated), value.Bool(overflowed)}), nil
}

func (m *Machine) evalDivRem(v *ir.ValueExpr, l, r value.Value, div bool) (value.Value, error) {
	if r.Int.IsZero() {
		return value.Value{}, ub("division or remainder by zero")
	}
	size, signed := int(v.Ty.Int.Size), v.Ty.Int.Signed
	if div && signed {
		minV, _ := bigint.Bounds(size, signed)
		if l.Int.Cmp(minV) == 0 && r.Int.Cmp(bigint.FromInt64(-1)) == 0 {
			return value.Value{}, ub("signed division overflow")
		}
	}
	var raw bigint.Int
	if div {
		raw = l.Int.Quot(r.Int)
	} else {
		raw = l.Int.Rem(r.Int)
	}
	return value.Int(raw), nil
}

func (m *Machine) evalPtrOffset(v *ir.ValueExpr, l, r value.Value) (value.Value, error) {
	pointee := v.Left.Ty.Ptr.Pointee
	elemSize, _ := pointee.SizeAlign(m.Target, types.Metadata{})
	newAddr := l.Ptr.Thin.Addr.Add(bigint.FromInt64(elemSize).Mul(r.Int))
	out := value.Pointer{Thin: value.ThinPointer{Addr: newAddr, Prov: l.Ptr.Thin.Prov}}
	if v.Inbounds {
		if l.Ptr.Thin.Prov == nil {
			return value.Value{}, ub("inbounds pointer offset with no provenance")
		}
		alloc := m.Mem.Get(l.Ptr.Thin.Prov.Alloc)
		if alloc == nil || !alloc.Live {
			return value.Value{}, ub("inbounds pointer offset of a dead allocation")
		}
		addr := newAddr.Uint64()
		if addr < alloc.Base || addr > alloc.Base+uint64(alloc.Size) {
			return value.Value{}, ub("inbounds pointer offset leaves its allocation")
		}
	}
	return value.Ptr(out), nil
}

func (m *Machine) constructWidePointer(v *ir.ValueExpr, l, r value.Value) (value.Value, error) {
	pt := v.Ty.Ptr
	var meta *value.Metadata
	switch pt.MetaOf() {
	case types.MetaElementCount:
		meta = &value.Metadata{Kind: types.MetaElementCount, Count: r.Int}
	case types.MetaVTablePointer:
		meta = &value.Metadata{Kind: types.MetaVTablePointer, VTable: r.Ptr.Thin}
	}
	return value.Ptr(value.Pointer{Thin: l.Ptr.Thin, Meta: meta}), nil
}
