// Package ir is the Program data model of spec.md §3: the immutable,
// frontend-supplied representation the machine evaluates. Its shape
// mirrors the module/function metadata golang.org/x/debug's
// internal/gocore/module.go extracts from DWARF (a name->type map for
// globals, function tables, and per-function local/block structure) —
// generalized from "read out of debug info" to "supplied directly by a
// frontend", per spec.md §1's external-collaborator boundary.
package ir

import (
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/types"
)

type (
	FnName     string
	GlobalName string
	VTableName string
	LocalName  string
	BbName     string
)

// CallingConv is a function's ABI convention; only the C convention is
// meaningful to the start function (spec.md §4.8).
type CallingConv uint8

const (
	ConvRust CallingConv = iota
	ConvC
)

// Relocation names a pointer target: Offset bytes into GlobalName's data
// (spec.md §3). GlobalPatch says where in a global the pointer is written.
type Relocation struct {
	Global GlobalName
	Offset int64
}

// GlobalPatch is one (offset, Relocation) entry in a Global's patch list.
type GlobalPatch struct {
	Offset int64
	Reloc  Relocation
}

// Global is a statically allocated byte buffer with relocation patches
// (spec.md §3). A nil entry in Bytes is an uninitialized byte.
type Global struct {
	Bytes   []*byte
	Patches []GlobalPatch
	Align   int64
}

// VTable backs a TraitObject/VTablePtr: a concrete type's size/align and
// its method table for one trait (spec.md §3, §4.6 VTableMethodLookup).
type VTable struct {
	Trait   types.TraitName
	Size    int64
	Align   int64
	Methods []FnName // ordered to match Program.Traits[Trait]
}

// Program is the whole, immutable-after-load input to the machine
// (spec.md §3).
type Program struct {
	Functions map[FnName]*Function
	Globals   map[GlobalName]*Global
	VTables   map[VTableName]*VTable
	Traits    map[types.TraitName][]string
	Start     FnName
}

// Function is one IR function (spec.md §3).
type Function struct {
	Locals     map[LocalName]*types.Type
	Args       []LocalName
	Ret        LocalName
	Conv       CallingConv
	Blocks     map[BbName]*BasicBlock
	StartBlock BbName
}

// BasicBlock is an ordered statement list plus one terminator (spec.md §3).
type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

// ---- Value expressions (spec.md §4.6) ----

type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstBool
	ConstGlobalPointer
	ConstFnPointer
	ConstVTablePointer
	ConstPointerWithoutProvenance
)

type VEKind uint8

const (
	VEConstant VEKind = iota
	VETuple
	VEUnion
	VEVariant
	VEGetDiscriminant
	VELoad
	VEAddrOf
	VEUnOp
	VEBinOp
)

type UnOpKind uint8

const (
	UNeg UnOpKind = iota
	UPopCount
	UCastIntToInt
	UCastTransmute
	UCastGetThinPointer
	UCastGetMetadata
	UCastComputeSize
	UCastComputeAlign
	UCastVTableMethodLookup
)

type BinOpKind uint8

const (
	BAdd BinOpKind = iota
	BSub
	BMul
	BDiv
	BRem
	BShl
	BShr
	BEq
	BLt
	BLe
	BGt
	BGe
	BCmp
	BPtrOffset
	BPtrOffsetFrom
	BConstructWidePointer
)

// ValueExpr is a tagged sum; only the fields relevant to Kind/Op are
// meaningful (spec.md §9: "sum types everywhere").
type ValueExpr struct {
	Kind VEKind
	Ty   *types.Type // result type

	// VEConstant
	Const       ConstKind
	ConstInt    bigint.Int
	ConstBool   bool
	ConstGlobal GlobalName
	ConstFn     FnName
	ConstVTable VTableName
	ConstAddr   bigint.Int

	// VETuple / VEUnion (UnionChunkTy gives each element's chunk type)
	Elems        []ValueExpr
	UnionChunkTy []*types.Type

	// VEVariant
	VariantIdx int
	VariantVal *ValueExpr
	EnumTy     *types.Type

	// VEGetDiscriminant, VELoad, VEAddrOf
	Place *PlaceExpr

	// VEUnOp
	UnOp    UnOpKind
	Operand *ValueExpr
	IntTy   types.IntTy     // int type of the Neg operand / IntToInt result
	TraitOf types.TraitName // VTableMethodLookup
	Method  string          // VTableMethodLookup: method name

	// VEBinOp
	BinOp      BinOpKind
	Left       *ValueExpr
	Right      *ValueExpr
	WithOverflow bool // Add/Sub/Mul: return (int, bool) instead of int
	Inbounds   bool   // PtrOffset
}

// ---- Place expressions (spec.md §4.6) ----

type PEKind uint8

const (
	PELocal PEKind = iota
	PEDeref
	PEField
	PEIndex
	PEDowncast
)

type PlaceExpr struct {
	Kind PEKind
	Ty   *types.Type // type of the place's contents

	Local LocalName // PELocal

	Of *ValueExpr // PEDeref: pointer-valued expression

	Base        *PlaceExpr // PEField / PEIndex / PEDowncast
	FieldOffset int64      // PEField
	IndexBy     *ValueExpr // PEIndex
	VariantIdx  int        // PEDowncast
}

// ---- Statements (spec.md §4.6) ----

type StmtKind uint8

const (
	SAssign StmtKind = iota
	SSetDiscriminant
	SExpose
	SValidate
	SPlaceMention
	SDeinit
	SStorageLive
	SStorageDead
)

type Statement struct {
	Kind StmtKind

	Dst *PlaceExpr // SAssign, SSetDiscriminant, SValidate, SPlaceMention, SDeinit
	Src *ValueExpr // SAssign, SExpose (pointer value), SSetDiscriminant (Variant value)

	FnEntry bool // SValidate

	Local LocalName // SStorageLive, SStorageDead
}

// ---- Terminators (spec.md §4.6) ----

type TermKind uint8

const (
	TGoto TermKind = iota
	TSwitch
	TUnreachable
	TCall
	TReturn
	TIntrinsic
)

type SwitchCase struct {
	Value bigint.Int
	Block BbName
}

type ArgKind uint8

const (
	ArgByValue ArgKind = iota
	ArgInPlace
)

// ArgumentExpr is one call argument: either a value, or an in-place move
// from a caller place (which is loaded then deinitialized) (spec.md §4.6).
type ArgumentExpr struct {
	Kind  ArgKind
	Value *ValueExpr
	Place *PlaceExpr
}

type IntrinsicOp uint8

const (
	IExit IntrinsicOp = iota
	IPrintStdout
	IPrintStderr
	IAllocate
	IDeallocate
	ISpawn
	IJoin
	IAtomicStore
	IAtomicLoad
	IAtomicCompareExchange
	IAtomicFetchAdd
	IAtomicFetchSub
	IAssume
	IPointerExposeProvenance
	IPointerWithExposedProvenance
	ILockCreate
	ILockAcquire
	ILockRelease
)

// Terminator is the last "instruction" of a BasicBlock (spec.md §4.6).
type Terminator struct {
	Kind TermKind

	Target BbName // TGoto

	SwitchOn    *ValueExpr // TSwitch
	Cases       []SwitchCase
	HasFallback bool
	Fallback    BbName

	// TCall
	Callee    *ValueExpr
	Args      []ArgumentExpr
	Ret       *PlaceExpr
	HasNext   bool
	NextBlock BbName

	// TIntrinsic (reuses Ret/Args/HasNext/NextBlock above)
	Op IntrinsicOp
}
