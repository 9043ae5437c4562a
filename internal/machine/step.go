// step.go implements the per-statement and per-terminator evaluation
// rules of spec.md §4.6, including the function call/return ABI and the
// pushCall helper every call site (the start function, TCall, and
// Spawn) shares. Grounded on the single dispatch loop of
// golang.org/x/debug/program/server's Server.Run, generalized from
// "service one debug-event at a time" to "execute one IR statement or
// terminator at a time".
package machine

import (
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/raceset"
	"github.com/minirust/minirust-sub000/internal/treeborrows"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
)

// deinitPlace overwrites a place's bytes with Uninit (spec.md §4.6 Deinit),
// shared by the Deinit statement and the in-place argument/return-place
// handling of Call.
func (m *Machine) deinitPlace(pl value.Place, ty *types.Type) error {
	meta := m.typeMetaOf(pl.Ptr)
	size, align := ty.SizeAlign(m.Target, meta)
	bytes := make([]value.Byte, size)
	if err := m.doStore(pl.Ptr, bytes, align, memory.NonAtomic); err != nil {
		return ub("%s", err.Error())
	}
	return nil
}

// execStatement executes one statement of spec.md §4.6.
func (m *Machine) execStatement(th *Thread, frame *StackFrame, s ir.Statement) error {
	switch s.Kind {
	case ir.SAssign:
		pl, err := m.evalPlace(frame, s.Dst)
		if err != nil {
			return err
		}
		v, err := m.evalValue(frame, s.Src)
		if err != nil {
			return err
		}
		return m.storePlace(pl, v, s.Dst.Ty)

	case ir.SSetDiscriminant:
		pl, err := m.evalPlace(frame, s.Dst)
		if err != nil {
			return err
		}
		v, err := m.evalValue(frame, s.Src)
		if err != nil {
			return err
		}
		if v.Kind != value.KVariant {
			panic("machine: SetDiscriminant value is not a Variant")
		}
		if v.VariantIdx < 0 || v.VariantIdx >= len(s.Dst.Ty.Taggers) {
			panic("machine: SetDiscriminant variant index out of range")
		}
		for _, tg := range s.Dst.Ty.Taggers[v.VariantIdx] {
			addr := pl.Ptr.Thin.Addr.Add(bigint.FromInt64(tg.Offset))
			ptr := value.Pointer{Thin: value.ThinPointer{Addr: addr, Prov: pl.Ptr.Thin.Prov}}
			raw := tg.Value.Bytes(int(tg.IntTy.Size), m.Target.LittleEndian)
			bytes := make([]value.Byte, len(raw))
			for i, b := range raw {
				bytes[i] = value.InitByte(b, nil)
			}
			if err := m.doStore(ptr, bytes, 1, memory.NonAtomic); err != nil {
				return ub("%s", err.Error())
			}
		}
		return nil

	case ir.SExpose:
		v, err := m.evalValue(frame, s.Src)
		if err != nil {
			return err
		}
		if v.Kind != value.KPtr {
			panic("machine: Expose of a non-pointer value")
		}
		m.expose(v.Ptr)
		return nil

	case ir.SValidate:
		pl, err := m.evalPlace(frame, s.Dst)
		if err != nil {
			return err
		}
		v, err := m.loadPlace(pl, s.Dst.Ty)
		if err != nil {
			return err
		}
		if s.Dst.Ty.Kind == types.KindPtr {
			newPtr, protRef, err := m.retag(v.Ptr, s.Dst.Ty.Ptr.Pointee, s.Dst.Ty.Ptr, s.FnEntry)
			if err != nil {
				return err
			}
			v.Ptr = newPtr
			if protRef != nil {
				frame.Protectors = append(frame.Protectors, *protRef)
			}
		}
		return m.storePlace(pl, v, s.Dst.Ty)

	case ir.SPlaceMention:
		_, err := m.evalPlace(frame, s.Dst)
		return err

	case ir.SDeinit:
		pl, err := m.evalPlace(frame, s.Dst)
		if err != nil {
			return err
		}
		return m.deinitPlace(pl, s.Dst.Ty)

	case ir.SStorageLive:
		ty, ok := frame.Fn.Locals[s.Local]
		if !ok {
			panic("machine: StorageLive of an undeclared local")
		}
		if err := m.allocLocal(frame, s.Local, ty); err != nil {
			return ub("%s", err.Error())
		}
		return nil

	case ir.SStorageDead:
		ty, ok := frame.Fn.Locals[s.Local]
		if !ok {
			panic("machine: StorageDead of an undeclared local")
		}
		if err := m.deallocLocal(frame, s.Local, ty); err != nil {
			return ub("%s", err.Error())
		}
		return nil
	}
	panic("machine: unknown statement kind")
}

// evalArgs evaluates a Call/Intrinsic terminator's ArgumentExprs in order
// (spec.md §4.6): ByValue is a plain value-expression evaluation; InPlace
// loads the source place at its declared type and deinitializes it.
func (m *Machine) evalArgs(frame *StackFrame, args []ir.ArgumentExpr) ([]value.Value, []*types.Type, error) {
	vals := make([]value.Value, len(args))
	tys := make([]*types.Type, len(args))
	for i, a := range args {
		switch a.Kind {
		case ir.ArgByValue:
			v, err := m.evalValue(frame, a.Value)
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
			tys[i] = a.Value.Ty
		case ir.ArgInPlace:
			pl, err := m.evalPlace(frame, a.Place)
			if err != nil {
				return nil, nil, err
			}
			v, err := m.loadPlace(pl, a.Place.Ty)
			if err != nil {
				return nil, nil, err
			}
			if err := m.deinitPlace(pl, a.Place.Ty); err != nil {
				return nil, nil, err
			}
			vals[i] = v
			tys[i] = a.Place.Ty
		default:
			panic("machine: unknown argument expression kind")
		}
	}
	return vals, tys, nil
}

// abiCompatible implements the ABI-compatibility predicate of spec.md
// §4.6 Call: structurally equal modulo integer signedness and pointer
// kind/pointee details. Some edge cases (SIMD-like vectors, niche
// optimizations) are knowingly over-rejected, per spec.md's non-goals.
func abiCompatible(a, b *types.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case types.KindInt:
		return a.Int.Size == b.Int.Size
	case types.KindBool:
		return true
	case types.KindPtr:
		return a.Ptr.MetaOf() == b.Ptr.MetaOf()
	case types.KindTuple:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Offset != b.Fields[i].Offset || !abiCompatible(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}
		if (a.UnsizedField == nil) != (b.UnsizedField == nil) {
			return false
		}
		if a.UnsizedField != nil {
			return abiCompatible(a.UnsizedField, b.UnsizedField)
		}
		return true
	case types.KindArray:
		return a.Count == b.Count && abiCompatible(a.Elem, b.Elem)
	case types.KindSlice:
		return abiCompatible(a.Elem, b.Elem)
	case types.KindUnion:
		return a.UnionSize == b.UnionSize && a.UnionAlign == b.UnionAlign
	case types.KindEnum:
		return a.EnumSize == b.EnumSize && a.EnumAlign == b.EnumAlign && len(a.Variants) == len(b.Variants)
	case types.KindTraitObject:
		return a.Trait == b.Trait
	}
	return false
}

// findFnByAddr reverse-resolves a function pointer's address to the
// FnName the loader gave it (spec.md §3 "function pointers address
// Function allocations").
func (m *Machine) findFnByAddr(addr uint64) (ir.FnName, bool) {
	for name, p := range m.FnAddrs {
		if p.Addr.Uint64() == addr {
			return name, true
		}
	}
	return "", false
}

// pushCall allocates and zero-inits storage for
// fn's argument locals and return local, stores args into the argument
// locals at the callee's types, and pushes a new frame onto th (spec.md
// §4.6 Call; also used for the start function and for Spawn).
func (m *Machine) pushCall(th *Thread, fn ir.FnName, args []value.Value, pop StackPopAction) error {
	f, ok := m.Prog.Functions[fn]
	if !ok {
		return ub("calling undefined function %s", fn)
	}
	if len(args) != len(f.Args) {
		return ub("call argument count mismatch for %s", fn)
	}
	frame := &StackFrame{Fn: f, Locals: map[ir.LocalName]value.Pointer{}, PC: pc{Block: f.StartBlock}, Pop: pop}
	for _, name := range f.Args {
		if err := m.allocLocal(frame, name, f.Locals[name]); err != nil {
			return ub("%s", err.Error())
		}
	}
	if err := m.allocLocal(frame, f.Ret, f.Locals[f.Ret]); err != nil {
		return ub("%s", err.Error())
	}
	for _, name := range append(append([]ir.LocalName{}, f.Args...), f.Ret) {
		a := m.Mem.Get(frame.Locals[name].Thin.Prov.Alloc)
		for i := range a.Bytes {
			a.Bytes[i] = value.InitByte(0, nil)
		}
	}
	for i, name := range f.Args {
		ty := f.Locals[name]
		pl := value.Place{Ptr: frame.Locals[name], Aligned: true}
		if err := m.storePlace(pl, args[i], ty); err != nil {
			return err
		}
	}
	th.Frames = append(th.Frames, frame)
	return nil
}

// wakeJoiners transitions every thread blocked joining tid to Enabled,
// synchronizing each with tid's termination (spec.md §4.7/§4.4).
func (m *Machine) wakeJoiners(tid int) {
	for i, t := range m.Threads {
		if t.State == BlockedOnJoin && t.join == tid {
			t.State = Enabled
			m.Race.Synchronize(raceset.ThreadID(i))
		}
	}
}

// execReturn implements the Return terminator (spec.md §4.6).
func (m *Machine) execReturn(th *Thread, frame *StackFrame) *Outcome {
	retTy := frame.Fn.Locals[frame.Fn.Ret]
	retPl := value.Place{Ptr: frame.Locals[frame.Fn.Ret], Aligned: true}
	retVal, err := m.loadPlace(retPl, retTy)
	if err != nil {
		return asOutcome(err)
	}

	if err := treeborrows.EndFrame(m.Mem, frame.Protectors); err != nil {
		return ub("%s", err.Error())
	}

	names := make([]ir.LocalName, 0, len(frame.Locals))
	for name := range frame.Locals {
		names = append(names, name)
	}
	for _, name := range names {
		if err := m.deallocLocal(frame, name, frame.Fn.Locals[name]); err != nil {
			return asOutcome(err)
		}
	}

	th.Frames = th.Frames[:len(th.Frames)-1]

	switch frame.Pop.Kind {
	case PopBottom:
		th.State = Terminated
		m.wakeJoiners(m.Active)
		return nil
	case PopReturn:
		caller := th.top()
		if caller == nil {
			panic("machine: PopReturn with no caller frame")
		}
		callerPl := value.Place{Ptr: frame.Pop.CallerRetPtr, Aligned: true}
		if err := m.storePlace(callerPl, retVal, frame.Pop.CallerRetTy); err != nil {
			return asOutcome(err)
		}
		caller.PC = pc{Block: frame.Pop.CallerBlock, Stmt: 0}
		return nil
	}
	panic("machine: unknown StackPopAction kind")
}

// execTerminator executes one terminator of spec.md §4.6.
func (m *Machine) execTerminator(th *Thread, frame *StackFrame, t ir.Terminator) *Outcome {
	switch t.Kind {
	case ir.TGoto:
		frame.PC = pc{Block: t.Target, Stmt: 0}
		return nil

	case ir.TSwitch:
		v, err := m.evalValue(frame, t.SwitchOn)
		if err != nil {
			return asOutcome(err)
		}
		if v.Kind != value.KInt {
			panic("machine: Switch on a non-Int value")
		}
		for _, c := range t.Cases {
			if c.Value.Cmp(v.Int) == 0 {
				frame.PC = pc{Block: c.Block, Stmt: 0}
				return nil
			}
		}
		if t.HasFallback {
			frame.PC = pc{Block: t.Fallback, Stmt: 0}
			return nil
		}
		return ub("switch on %s matched no case and has no fallback", v.Int.String())

	case ir.TUnreachable:
		return ub("reached Unreachable")

	case ir.TCall:
		retPl, err := m.evalPlace(frame, t.Ret)
		if err != nil {
			return asOutcome(err)
		}
		if err := m.deinitPlace(retPl, t.Ret.Ty); err != nil {
			return asOutcome(err)
		}
		calleeVal, err := m.evalValue(frame, t.Callee)
		if err != nil {
			return asOutcome(err)
		}
		if calleeVal.Kind != value.KPtr || calleeVal.Ptr.Thin.Prov == nil {
			return ub("calling a pointer that does not name a function")
		}
		fnName, ok := m.findFnByAddr(calleeVal.Ptr.Thin.Addr.Uint64())
		if !ok {
			return ub("call target is not a function pointer")
		}
		f, ok := m.Prog.Functions[fnName]
		if !ok {
			return ub("call target %s has no definition", fnName)
		}
		argVals, argTys, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		if len(argVals) != len(f.Args) {
			return ub("call argument count mismatch calling %s", fnName)
		}
		for i, argTy := range argTys {
			if !abiCompatible(argTy, f.Locals[f.Args[i]]) {
				return ub("ABI mismatch in argument %d calling %s", i, fnName)
			}
		}
		if !abiCompatible(t.Ret.Ty, f.Locals[f.Ret]) {
			return ub("ABI mismatch in return type calling %s", fnName)
		}
		pop := StackPopAction{Kind: PopReturn, CallerRetPtr: retPl.Ptr, CallerRetTy: t.Ret.Ty, CallerBlock: t.NextBlock}
		if err := m.pushCall(th, fnName, argVals, pop); err != nil {
			return asOutcome(err)
		}
		return nil

	case ir.TReturn:
		return m.execReturn(th, frame)

	case ir.TIntrinsic:
		return m.execIntrinsic(th, frame, t)
	}
	panic("machine: unknown terminator kind")
}
