// Package fixtures builds small, hand-written ir.Programs exercising the
// concrete end-to-end scenarios of spec.md §8. Real programs are produced
// by a Rust-to-IR frontend (out of scope, spec.md §1); these stand in for
// it the way golang.org/x/debug/internal/gocore/gocore_test.go builds its
// fixture processes directly in Go rather than loading a real binary.
package fixtures

import (
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/types"
)

var (
	unitTy = &types.Type{Kind: types.KindTuple}
	i32Ty  = &types.Type{Kind: types.KindInt, Int: types.IntTy{Signed: true, Size: 4}}
	i64Ty  = &types.Type{Kind: types.KindInt, Int: types.IntTy{Signed: true, Size: 8}}
	rawTy  = &types.Type{Kind: types.KindPtr, Ptr: types.PtrType{Kind: types.PtrRaw, Meta: types.MetaNone}}
	boolTy = types.Type{Kind: types.KindBool}
)

func refMutTy(pointee *types.Type) *types.Type {
	return &types.Type{Kind: types.KindPtr, Ptr: types.PtrType{Kind: types.PtrRef, Mutbl: true, Pointee: pointee}}
}

func fnPtrTy() *types.Type {
	return &types.Type{Kind: types.KindPtr, Ptr: types.PtrType{Kind: types.PtrFn}}
}

func constInt(ty *types.Type, n int64) *ir.ValueExpr {
	return &ir.ValueExpr{Kind: ir.VEConstant, Ty: ty, Const: ir.ConstInt, ConstInt: bigint.FromInt64(n)}
}

func constFn(name ir.FnName) *ir.ValueExpr {
	return &ir.ValueExpr{Kind: ir.VEConstant, Ty: fnPtrTy(), Const: ir.ConstFnPointer, ConstFn: name}
}

func localPlace(name ir.LocalName, ty *types.Type) *ir.PlaceExpr {
	return &ir.PlaceExpr{Kind: ir.PELocal, Ty: ty, Local: name}
}

func load(p *ir.PlaceExpr) *ir.ValueExpr {
	return &ir.ValueExpr{Kind: ir.VELoad, Ty: p.Ty, Place: p}
}

func deref(of *ir.ValueExpr, ty *types.Type) *ir.PlaceExpr {
	return &ir.PlaceExpr{Kind: ir.PEDeref, Ty: ty, Of: of}
}

func addrOf(p *ir.PlaceExpr, resultTy *types.Type) *ir.ValueExpr {
	return &ir.ValueExpr{Kind: ir.VEAddrOf, Ty: resultTy, Place: p}
}

func byVal(v *ir.ValueExpr) ir.ArgumentExpr { return ir.ArgumentExpr{Kind: ir.ArgByValue, Value: v} }

func assign(dst *ir.PlaceExpr, src *ir.ValueExpr) ir.Statement {
	return ir.Statement{Kind: ir.SAssign, Dst: dst, Src: src}
}

func storageLive(name ir.LocalName) ir.Statement {
	return ir.Statement{Kind: ir.SStorageLive, Local: name}
}

func intrinsic(op ir.IntrinsicOp, args []ir.ArgumentExpr, ret *ir.PlaceExpr, next ir.BbName) ir.Terminator {
	t := ir.Terminator{Kind: ir.TIntrinsic, Op: op, Args: args, Ret: ret}
	if next != "" {
		t.HasNext = true
		t.NextBlock = next
	}
	return t
}

func block(stmts []ir.Statement, term ir.Terminator) *ir.BasicBlock {
	return &ir.BasicBlock{Statements: stmts, Terminator: term}
}

func unitFn(blocks map[ir.BbName]*ir.BasicBlock, extraLocals map[ir.LocalName]*types.Type, args []ir.LocalName) *ir.Function {
	return unitFnConv(blocks, extraLocals, args, ir.ConvRust)
}

func startFn(blocks map[ir.BbName]*ir.BasicBlock, extraLocals map[ir.LocalName]*types.Type) *ir.Function {
	return unitFnConv(blocks, extraLocals, nil, ir.ConvC)
}

func unitFnConv(blocks map[ir.BbName]*ir.BasicBlock, extraLocals map[ir.LocalName]*types.Type, args []ir.LocalName, conv ir.CallingConv) *ir.Function {
	locals := map[ir.LocalName]*types.Type{"ret": unitTy}
	for n, ty := range extraLocals {
		locals[n] = ty
	}
	return &ir.Function{
		Locals:     locals,
		Args:       args,
		Ret:        "ret",
		Conv:       conv,
		Blocks:     blocks,
		StartBlock: "bb0",
	}
}

func program(start ir.FnName, fns map[ir.FnName]*ir.Function) *ir.Program {
	return &ir.Program{
		Functions: fns,
		Globals:   map[ir.GlobalName]*ir.Global{},
		VTables:   map[ir.VTableName]*ir.VTable{},
		Traits:    map[types.TraitName][]string{},
		Start:     start,
	}
}
