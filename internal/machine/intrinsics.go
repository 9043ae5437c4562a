// intrinsics.go dispatches the built-in operations of spec.md §4.6/§4.7:
// process control, heap allocation, threading, atomics, and locks. Every
// case mirrors the fixed-purpose RPCs golang.org/x/debug/program/server
// exposes over its wire protocol (Continue, Breakpoint, ReadMemory, ...)
// — a closed menu of named operations rather than a general call — here
// reached through the IR's Intrinsic terminator instead of a wire frame.
package machine

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/raceset"
	"github.com/minirust/minirust-sub000/internal/repr"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
)

// encodeForStore mirrors storePlace's encode step without a place: used
// by the atomic intrinsics, which already hold the destination bytes
// through doStore. Storing an ill-formed value is a spec bug, as in
// storePlace.
func (m *Machine) encodeForStore(v value.Value, ty *types.Type) []value.Byte {
	if err := repr.CheckValue(v, ty, m.reprEnv()); err != nil {
		panic("machine: storing an ill-formed value: " + err.Error())
	}
	return repr.Encode(v, ty, m.reprEnv())
}

// decodeLoaded mirrors loadPlace's decode step given bytes already read
// by doLoad.
func (m *Machine) decodeLoaded(bytes []value.Byte, ty *types.Type) (value.Value, error) {
	v, ok := repr.Decode(bytes, ty, m.reprEnv())
	if !ok {
		return value.Value{}, ub("language-invariant violated: decode failed for %s", ty.Kind)
	}
	if err := repr.CheckValue(v, ty, m.reprEnv()); err != nil {
		return value.Value{}, ub("%s", err.Error())
	}
	return v, nil
}

func isUnit1ZST(t *types.Type) bool {
	return t != nil && t.Kind == types.KindTuple && len(t.Fields) == 0 && t.UnsizedField == nil
}

func isPowerOfTwo(n int64) bool { return n > 0 && n&(n-1) == 0 }

// finishIntrinsic stores result at the terminator's return place and
// advances to its next block, the common tail shared by every intrinsic
// that returns control (every one except Exit, and a blocked Join/Lock
// that must retry).
func (m *Machine) finishIntrinsic(frame *StackFrame, t ir.Terminator, result value.Value) *Outcome {
	pl, err := m.evalPlace(frame, t.Ret)
	if err != nil {
		return asOutcome(err)
	}
	if err := m.storePlace(pl, result, t.Ret.Ty); err != nil {
		return asOutcome(err)
	}
	if t.HasNext {
		frame.PC = pc{Block: t.NextBlock, Stmt: 0}
	}
	return nil
}

func unit() value.Value { return value.Tuple(nil) }

func (m *Machine) execIntrinsic(th *Thread, frame *StackFrame, t ir.Terminator) *Outcome {
	switch t.Op {
	case ir.IExit:
		return &Outcome{Tag: TagMachineStop}

	case ir.IPrintStdout, ir.IPrintStderr:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		w := m.Stdout
		if t.Op == ir.IPrintStderr {
			w = m.Stderr
		}
		for _, v := range vals {
			switch v.Kind {
			case value.KInt:
				fmt.Fprintln(w, v.Int.String())
			case value.KBool:
				fmt.Fprintln(w, v.Bool)
			default:
				return ub("Print of a value that is neither Int nor Bool")
			}
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.IAllocate:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		size, align := vals[0].Int, vals[1].Int
		if size.Sign() < 0 || !isPowerOfTwo(align.Int64()) {
			return ub("Allocate with a negative size or non-power-of-two align")
		}
		a, aerr := m.Mem.Allocate(m.Picker, size.Int64(), align.Int64(), memory.Heap)
		if aerr != nil {
			return &Outcome{Tag: TagOutOfMemory, Msg: aerr.Error()}
		}
		ptr := value.Ptr(value.Pointer{Thin: value.ThinPointer{Addr: bigint.FromUint64(a.Base), Prov: &value.Provenance{Alloc: a.ID}}})
		return m.finishIntrinsic(frame, t, ptr)

	case ir.IDeallocate:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		ptr, size, align := vals[0].Ptr, vals[1].Int, vals[2].Int
		if derr := m.Mem.Deallocate(ptr, size.Int64(), align.Int64(), memory.Heap); derr != nil {
			return ub("%s", derr.Error())
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.ISpawn:
		vals, tys, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		fnVal, dataVal := vals[0], vals[1]
		if fnVal.Kind != value.KPtr || fnVal.Ptr.Thin.Prov == nil {
			return ub("Spawn of a pointer that does not name a function")
		}
		fnName, ok := m.findFnByAddr(fnVal.Ptr.Thin.Addr.Uint64())
		if !ok {
			return ub("Spawn target is not a function pointer")
		}
		f, ok := m.Prog.Functions[fnName]
		if !ok || len(f.Args) != 1 {
			return ub("Spawn target %s does not take exactly one pointer argument", fnName)
		}
		if !abiCompatible(tys[1], f.Locals[f.Args[0]]) {
			return ub("Spawn data pointer is not ABI-compatible with %s's argument", fnName)
		}
		if !isUnit1ZST(f.Locals[f.Ret]) {
			return ub("Spawn target %s does not return a 1-ZST", fnName)
		}
		newTh := &Thread{State: Enabled}
		if err := m.pushCall(newTh, fnName, []value.Value{dataVal}, StackPopAction{Kind: PopBottom}); err != nil {
			return asOutcome(err)
		}
		m.Threads = append(m.Threads, newTh)
		newTid := len(m.Threads) - 1
		m.Race.Synchronize(raceset.ThreadID(newTid))
		return m.finishIntrinsic(frame, t, value.Int(bigint.FromInt64(int64(newTid))))

	case ir.IJoin:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		tid := int(vals[0].Int.Int64())
		if tid < 0 || tid >= len(m.Threads) {
			return ub("Join of an undefined thread %d", tid)
		}
		if m.Threads[tid].State != Terminated {
			th.State = BlockedOnJoin
			th.join = tid
			return nil
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.IAtomicStore, ir.IAtomicLoad, ir.IAtomicCompareExchange, ir.IAtomicFetchAdd, ir.IAtomicFetchSub:
		return m.execAtomic(frame, t)

	case ir.IAssume:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		if vals[0].Kind != value.KBool || !vals[0].Bool {
			return ub("Assume of a false condition")
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.IPointerExposeProvenance:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		if vals[0].Kind != value.KPtr {
			panic("machine: PointerExposeProvenance of a non-pointer value")
		}
		m.expose(vals[0].Ptr)
		return m.finishIntrinsic(frame, t, unit())

	case ir.IPointerWithExposedProvenance:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		if vals[0].Kind != value.KInt {
			panic("machine: PointerWithExposedProvenance of a non-Int value")
		}
		thin := m.intToPtr(vals[0].Int)
		return m.finishIntrinsic(frame, t, value.Ptr(value.Pointer{Thin: thin}))

	case ir.ILockCreate:
		id := bigint.FromInt64(int64(m.lockCreate()))
		if rt := t.Ret.Ty; rt == nil || rt.Kind != types.KindInt || !bigint.FitsIn(id, int(rt.Int.Size), rt.Int.Signed) {
			return ub("lock id %d does not fit the return type", id.Int64())
		}
		return m.finishIntrinsic(frame, t, value.Int(id))

	case ir.ILockAcquire:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		id := int(vals[0].Int.Int64())
		if lerr := m.lockAcquire(m.Active, id); lerr != nil {
			return asOutcome(lerr)
		}
		if th.State == BlockedOnLock {
			return nil
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.ILockRelease:
		vals, _, err := m.evalArgs(frame, t.Args)
		if err != nil {
			return asOutcome(err)
		}
		id := int(vals[0].Int.Int64())
		if lerr := m.lockRelease(m.Active, id); lerr != nil {
			return asOutcome(lerr)
		}
		return m.finishIntrinsic(frame, t, unit())
	}
	panic("machine: unknown intrinsic op")
}

// execAtomic dispatches the atomic intrinsics of spec.md §4.4/§4.6: all
// require a power-of-two size within the target's MAX_ATOMIC_SIZE and go
// through doLoad/doStore with Atomicity::Atomic so raceset sees them.
func (m *Machine) execAtomic(frame *StackFrame, t ir.Terminator) *Outcome {
	vals, tys, err := m.evalArgs(frame, t.Args)
	if err != nil {
		return asOutcome(err)
	}
	ptr := vals[0].Ptr
	var ty *types.Type
	if t.Op == ir.IAtomicLoad {
		ty = t.Ret.Ty
	} else {
		ty = tys[1]
	}
	var size int64
	if ty != nil {
		size, _ = ty.SizeAlign(m.Target, m.typeMetaOf(ptr))
	}
	if size == 0 || !isPowerOfTwo(size) || size > m.Target.MaxAtomic {
		return ub("atomic access of size %d exceeds MAX_ATOMIC_SIZE or is not a power of two", size)
	}
	align := size

	switch t.Op {
	case ir.IAtomicStore:
		bytes := m.encodeForStore(vals[1], ty)
		if serr := m.doStore(ptr, bytes, align, memory.Atomic); serr != nil {
			return ub("%s", serr.Error())
		}
		return m.finishIntrinsic(frame, t, unit())

	case ir.IAtomicLoad:
		bytes, lerr := m.doLoad(ptr, size, align, memory.Atomic)
		if lerr != nil {
			return ub("%s", lerr.Error())
		}
		v, derr := m.decodeLoaded(bytes, ty)
		if derr != nil {
			return asOutcome(derr)
		}
		return m.finishIntrinsic(frame, t, v)

	case ir.IAtomicCompareExchange:
		expected, newVal := vals[1], vals[2]
		bytes, lerr := m.doLoad(ptr, size, align, memory.Atomic)
		if lerr != nil {
			return ub("%s", lerr.Error())
		}
		cur, derr := m.decodeLoaded(bytes, ty)
		if derr != nil {
			return asOutcome(derr)
		}
		if cur.LE(expected) && expected.LE(cur) {
			nb := m.encodeForStore(newVal, ty)
			if serr := m.doStore(ptr, nb, align, memory.Atomic); serr != nil {
				return ub("%s", serr.Error())
			}
			return m.finishIntrinsic(frame, t, value.Bool(true))
		}
		return m.finishIntrinsic(frame, t, value.Bool(false))

	case ir.IAtomicFetchAdd, ir.IAtomicFetchSub:
		operand := vals[1]
		bytes, lerr := m.doLoad(ptr, size, align, memory.Atomic)
		if lerr != nil {
			return ub("%s", lerr.Error())
		}
		cur, derr := m.decodeLoaded(bytes, ty)
		if derr != nil {
			return asOutcome(derr)
		}
		if cur.Kind != value.KInt || operand.Kind != value.KInt {
			return ub("atomic fetch-and-op on a non-Int value")
		}
		var next bigint.Int
		if t.Op == ir.IAtomicFetchAdd {
			next = cur.Int.Add(operand.Int)
		} else {
			next = cur.Int.Sub(operand.Int)
		}
		intTy := ty.Int
		next = bigint.Truncate(next, int(intTy.Size), intTy.Signed)
		nb := m.encodeForStore(value.Int(next), ty)
		if serr := m.doStore(ptr, nb, align, memory.Atomic); serr != nil {
			return ub("%s", serr.Error())
		}
		return m.finishIntrinsic(frame, t, cur)
	}
	panic("machine: unknown atomic op")
}
