package fixtures

import "github.com/minirust/minirust-sub000/internal/ir"

// Names lists every scenario Name in a stable order, for "list"-style CLI
// output and table-driven tests.
var Names = []string{
	"exit-clean",
	"print-int",
	"alloc-store-load-dealloc",
	"use-after-free",
	"data-race",
	"tree-borrows-violation",
	"deadlock",
	"leak",
}

// Program returns the named scenario's Program, or nil if name is unknown.
func Program(name string) *ir.Program {
	switch name {
	case "exit-clean":
		return ExitClean()
	case "print-int":
		return PrintInt()
	case "alloc-store-load-dealloc":
		return AllocStoreLoadDealloc()
	case "use-after-free":
		return UseAfterFree()
	case "data-race":
		return DataRace()
	case "tree-borrows-violation":
		return TreeBorrowsViolation()
	case "deadlock":
		return Deadlock()
	case "leak":
		return Leak()
	}
	return nil
}

// ExitClean is spec.md §8's "Exit-clean": a single block that exits
// immediately. Expected: clean exit, stdout empty.
func ExitClean() *ir.Program {
	retPl := localPlace("ret", unitTy)
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}

// PrintInt is spec.md §8's "Print-int". Expected: stdout "42\n", clean exit.
func PrintInt() *ir.Program {
	retPl := localPlace("ret", unitTy)
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block(nil, intrinsic(ir.IPrintStdout, []ir.ArgumentExpr{byVal(constInt(i32Ty, 42))}, retPl, "bb1")),
		"bb1": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}

// AllocStoreLoadDealloc is spec.md §8's "Allocate-store-load-dealloc".
// Expected: clean exit, no UB.
func AllocStoreLoadDealloc() *ir.Program {
	retPl := localPlace("ret", unitTy)
	ptrPl := localPlace("ptr", rawTy)
	valPl := localPlace("val", i64Ty)
	eqExpr := &ir.ValueExpr{
		Kind: ir.VEBinOp, Ty: &boolTy, BinOp: ir.BEq,
		Left: load(valPl), Right: constInt(i64Ty, 7),
	}
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{storageLive("ptr")}, intrinsic(ir.IAllocate,
			[]ir.ArgumentExpr{byVal(constInt(i64Ty, 8)), byVal(constInt(i64Ty, 8))}, ptrPl, "bb1")),
		"bb1": block(nil, intrinsic(ir.IAtomicStore,
			[]ir.ArgumentExpr{byVal(load(ptrPl)), byVal(constInt(i64Ty, 7))}, retPl, "bb2")),
		"bb2": block([]ir.Statement{storageLive("val")}, intrinsic(ir.IAtomicLoad,
			[]ir.ArgumentExpr{byVal(load(ptrPl))}, valPl, "bb3")),
		"bb3": block(nil, intrinsic(ir.IAssume,
			[]ir.ArgumentExpr{byVal(eqExpr)}, retPl, "bb4")),
		"bb4": block(nil, intrinsic(ir.IDeallocate,
			[]ir.ArgumentExpr{byVal(load(ptrPl)), byVal(constInt(i64Ty, 8)), byVal(constInt(i64Ty, 8))}, retPl, "bb5")),
		"bb5": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	fn.Locals["ptr"] = rawTy
	fn.Locals["val"] = i64Ty
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}

// UseAfterFree is spec.md §8's "Use-after-free UB": like
// AllocStoreLoadDealloc, but the second load happens after Deallocate.
// Expected: UB "dereferencing pointer to dead allocation".
func UseAfterFree() *ir.Program {
	retPl := localPlace("ret", unitTy)
	ptrPl := localPlace("ptr", rawTy)
	valPl := localPlace("val", i64Ty)
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{storageLive("ptr")}, intrinsic(ir.IAllocate,
			[]ir.ArgumentExpr{byVal(constInt(i64Ty, 8)), byVal(constInt(i64Ty, 8))}, ptrPl, "bb1")),
		"bb1": block(nil, intrinsic(ir.IAtomicStore,
			[]ir.ArgumentExpr{byVal(load(ptrPl)), byVal(constInt(i64Ty, 7))}, retPl, "bb2")),
		"bb2": block(nil, intrinsic(ir.IDeallocate,
			[]ir.ArgumentExpr{byVal(load(ptrPl)), byVal(constInt(i64Ty, 8)), byVal(constInt(i64Ty, 8))}, retPl, "bb3")),
		"bb3": block([]ir.Statement{storageLive("val")}, intrinsic(ir.IAtomicLoad,
			[]ir.ArgumentExpr{byVal(load(ptrPl))}, valPl, "bb4")),
		"bb4": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	fn.Locals["ptr"] = rawTy
	fn.Locals["val"] = i64Ty
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}

// DataRace is spec.md §8's "Data race": two threads, each given the same
// raw pointer, perform an unsynchronized non-atomic store to overlapping
// bytes. Expected: UB "data race" on some interleaving.
func DataRace() *ir.Program {
	retPl := localPlace("ret", unitTy)
	racerPtrPl := localPlace("ptr", rawTy)
	racerDeref := deref(load(racerPtrPl), i32Ty)
	racer := unitFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{assign(racerDeref, constInt(i32Ty, 1))}, ir.Terminator{Kind: ir.TReturn}),
	}, nil, []ir.LocalName{"ptr"})
	racer.Locals["ptr"] = rawTy

	ptrPl := localPlace("ptr", rawTy)
	tid1Pl := localPlace("tid1", i64Ty)
	tid2Pl := localPlace("tid2", i64Ty)
	main := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{storageLive("ptr")}, intrinsic(ir.IAllocate,
			[]ir.ArgumentExpr{byVal(constInt(i64Ty, 4)), byVal(constInt(i64Ty, 4))}, ptrPl, "bb1")),
		"bb1": block([]ir.Statement{storageLive("tid1")}, intrinsic(ir.ISpawn,
			[]ir.ArgumentExpr{byVal(constFn("racer")), byVal(load(ptrPl))}, tid1Pl, "bb2")),
		"bb2": block([]ir.Statement{storageLive("tid2")}, intrinsic(ir.ISpawn,
			[]ir.ArgumentExpr{byVal(constFn("racer")), byVal(load(ptrPl))}, tid2Pl, "bb3")),
		"bb3": block(nil, intrinsic(ir.IJoin, []ir.ArgumentExpr{byVal(load(tid1Pl))}, retPl, "bb4")),
		"bb4": block(nil, intrinsic(ir.IJoin, []ir.ArgumentExpr{byVal(load(tid2Pl))}, retPl, "bb5")),
		"bb5": block(nil, intrinsic(ir.IDeallocate,
			[]ir.ArgumentExpr{byVal(load(ptrPl)), byVal(constInt(i64Ty, 4)), byVal(constInt(i64Ty, 4))}, retPl, "bb6")),
		"bb6": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	main.Locals["ptr"] = rawTy
	main.Locals["tid1"] = i64Ty
	main.Locals["tid2"] = i64Ty
	return program("start", map[ir.FnName]*ir.Function{"start": main, "racer": racer})
}

// TreeBorrowsViolation is spec.md §8's "Tree Borrows violation": a mutable
// reference m is created, a raw pointer p is derived directly from the
// same place (a sibling of m, not a reborrow through it), a write through
// p disables m, and a subsequent read through m is UB.
func TreeBorrowsViolation() *ir.Program {
	retPl := localPlace("ret", unitTy)
	xPl := localPlace("x", i32Ty)
	mTy := refMutTy(i32Ty)
	mPl := localPlace("m", mTy)
	pPl := localPlace("p", rawTy)
	tmpPl := localPlace("tmp", i32Ty)
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{
			storageLive("x"),
			assign(xPl, constInt(i32Ty, 0)),
			storageLive("m"),
			assign(mPl, addrOf(xPl, mTy)),
			storageLive("p"),
			assign(pPl, addrOf(xPl, rawTy)),
			assign(deref(load(pPl), i32Ty), constInt(i32Ty, 99)),
			storageLive("tmp"),
			assign(tmpPl, load(deref(load(mPl), i32Ty))),
		}, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	fn.Locals["x"] = i32Ty
	fn.Locals["m"] = mTy
	fn.Locals["p"] = rawTy
	fn.Locals["tmp"] = i32Ty
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}

// Deadlock is spec.md §8's "Deadlock": two threads acquire two locks in
// opposite order. Whether they deadlock depends on the schedule: when both
// first acquisitions happen before either second one, each thread blocks
// on the lock the other holds and a deadlock is reported. Under other
// interleavings both threads finish and the never-freed allocation is
// reported as a leak.
func Deadlock() *ir.Program {
	retPl := localPlace("ret", unitTy)

	lockerA := unitFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block(nil, intrinsic(ir.ILockAcquire, []ir.ArgumentExpr{byVal(constInt(i64Ty, 0))}, localPlace("ret", unitTy), "bb1")),
		"bb1": block(nil, intrinsic(ir.ILockAcquire, []ir.ArgumentExpr{byVal(constInt(i64Ty, 1))}, localPlace("ret", unitTy), "bb2")),
		"bb2": block(nil, intrinsic(ir.ILockRelease, []ir.ArgumentExpr{byVal(constInt(i64Ty, 1))}, localPlace("ret", unitTy), "bb3")),
		"bb3": block(nil, intrinsic(ir.ILockRelease, []ir.ArgumentExpr{byVal(constInt(i64Ty, 0))}, localPlace("ret", unitTy), "bb4")),
		"bb4": block(nil, ir.Terminator{Kind: ir.TReturn}),
	}, nil, []ir.LocalName{"data"})
	lockerA.Locals["data"] = rawTy

	lockerB := unitFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block(nil, intrinsic(ir.ILockAcquire, []ir.ArgumentExpr{byVal(constInt(i64Ty, 1))}, localPlace("ret", unitTy), "bb1")),
		"bb1": block(nil, intrinsic(ir.ILockAcquire, []ir.ArgumentExpr{byVal(constInt(i64Ty, 0))}, localPlace("ret", unitTy), "bb2")),
		"bb2": block(nil, intrinsic(ir.ILockRelease, []ir.ArgumentExpr{byVal(constInt(i64Ty, 0))}, localPlace("ret", unitTy), "bb3")),
		"bb3": block(nil, intrinsic(ir.ILockRelease, []ir.ArgumentExpr{byVal(constInt(i64Ty, 1))}, localPlace("ret", unitTy), "bb4")),
		"bb4": block(nil, ir.Terminator{Kind: ir.TReturn}),
	}, nil, []ir.LocalName{"data"})
	lockerB.Locals["data"] = rawTy

	ptrPl := localPlace("ptr", rawTy)
	lockidPl := localPlace("lockid", i64Ty)
	tid1Pl := localPlace("tid1", i64Ty)
	tid2Pl := localPlace("tid2", i64Ty)
	main := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{storageLive("ptr")}, intrinsic(ir.IAllocate,
			[]ir.ArgumentExpr{byVal(constInt(i64Ty, 1)), byVal(constInt(i64Ty, 1))}, ptrPl, "bb1")),
		"bb1": block([]ir.Statement{storageLive("lockid")}, intrinsic(ir.ILockCreate, nil, lockidPl, "bb2")),
		"bb2": block(nil, intrinsic(ir.ILockCreate, nil, lockidPl, "bb3")),
		"bb3": block([]ir.Statement{storageLive("tid1")}, intrinsic(ir.ISpawn,
			[]ir.ArgumentExpr{byVal(constFn("lockerA")), byVal(load(ptrPl))}, tid1Pl, "bb4")),
		"bb4": block([]ir.Statement{storageLive("tid2")}, intrinsic(ir.ISpawn,
			[]ir.ArgumentExpr{byVal(constFn("lockerB")), byVal(load(ptrPl))}, tid2Pl, "bb5")),
		"bb5": block(nil, intrinsic(ir.IJoin, []ir.ArgumentExpr{byVal(load(tid1Pl))}, retPl, "bb6")),
		"bb6": block(nil, intrinsic(ir.IJoin, []ir.ArgumentExpr{byVal(load(tid2Pl))}, retPl, "bb7")),
		"bb7": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	main.Locals["ptr"] = rawTy
	main.Locals["lockid"] = i64Ty
	main.Locals["tid1"] = i64Ty
	main.Locals["tid2"] = i64Ty
	return program("start", map[ir.FnName]*ir.Function{"start": main, "lockerA": lockerA, "lockerB": lockerB})
}

// Leak is spec.md §8's "Leak": an allocation survives to a clean Exit
// without being deallocated. Expected: a memory-leak error.
func Leak() *ir.Program {
	retPl := localPlace("ret", unitTy)
	ptrPl := localPlace("ptr", rawTy)
	fn := startFn(map[ir.BbName]*ir.BasicBlock{
		"bb0": block([]ir.Statement{storageLive("ptr")}, intrinsic(ir.IAllocate,
			[]ir.ArgumentExpr{byVal(constInt(i64Ty, 8)), byVal(constInt(i64Ty, 8))}, ptrPl, "bb1")),
		"bb1": block(nil, intrinsic(ir.IExit, nil, retPl, "")),
	}, nil)
	fn.Locals["ptr"] = rawTy
	return program("start", map[ir.FnName]*ir.Function{"start": fn})
}
