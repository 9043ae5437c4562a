// Package wf implements the well-formedness checker of spec.md §4.8: a
// pre-execution static pass over a Program that guarantees step never
// panics on a program-level condition (every remaining failure mode is
// UB, not a checker escape). It plays the same role golang-debug's
// internal/gocore/type.go panics play defensively throughout decode and
// layout — but run proactively, once, at load time, rather than
// discovered lazily mid-walk.
package wf

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/target"
	"github.com/minirust/minirust-sub000/internal/types"
)

// Error is one well-formedness violation, accumulated rather than
// returned eagerly so a single Check call reports everything wrong with
// a Program at once.
type Error struct {
	Where string
	Msg   string
}

func (e *Error) Error() string { return fmt.Sprintf("ill-formed: %s: %s", e.Where, e.Msg) }

// Errors is the accumulated result of a Check call.
type Errors []*Error

func (es Errors) Error() string {
	if len(es) == 0 {
		return "ill-formed: (no errors, bug in wf)"
	}
	s := es[0].Error()
	if len(es) > 1 {
		s += fmt.Sprintf(" (and %d more)", len(es)-1)
	}
	return s
}

type checker struct {
	prog *ir.Program
	tgt  target.Target
	errs Errors
}

func (c *checker) fail(where, format string, args ...any) {
	c.errs = append(c.errs, &Error{Where: where, Msg: fmt.Sprintf(format, args...)})
}

// Check runs every static check of spec.md §4.8 over prog, returning nil
// if prog is well-formed, or a non-nil Errors otherwise. tgt is the
// target the program will run under, needed to resolve type layouts
// (int alignment, pointer width) while checking them.
func Check(prog *ir.Program, tgt target.Target) error {
	c := &checker{prog: prog, tgt: tgt}
	c.checkProgram()
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func (c *checker) checkProgram() {
	if _, ok := c.prog.Functions[c.prog.Start]; !ok {
		c.fail("program", "start function %q is not defined", c.prog.Start)
	} else {
		c.checkStart()
	}
	for name, fn := range c.prog.Functions {
		c.checkFunction(string(name), fn)
	}
	for name, g := range c.prog.Globals {
		for _, p := range g.Patches {
			if _, ok := c.prog.Globals[p.Reloc.Global]; !ok {
				c.fail(fmt.Sprintf("global %s", name), "relocation references undefined global %q", p.Reloc.Global)
			}
		}
	}
	for name, vt := range c.prog.VTables {
		if _, ok := c.prog.Traits[vt.Trait]; !ok {
			c.fail(fmt.Sprintf("vtable %s", name), "references undefined trait %q", vt.Trait)
		}
		for _, m := range vt.Methods {
			if _, ok := c.prog.Functions[m]; !ok {
				c.fail(fmt.Sprintf("vtable %s", name), "method points to undefined function %q", m)
			}
		}
	}
}

func (c *checker) checkStart() {
	fn := c.prog.Functions[c.prog.Start]
	if fn.Conv != ir.ConvC {
		c.fail("start function", "must use the C calling convention")
	}
	if len(fn.Args) != 0 {
		c.fail("start function", "must take zero arguments")
	}
	retTy, ok := fn.Locals[fn.Ret]
	if !ok {
		c.fail("start function", "return local %q is undefined", fn.Ret)
		return
	}
	if !isUnitZST(retTy) {
		c.fail("start function", "return type must be a 1-ZST")
	}
}

func isUnitZST(t *types.Type) bool {
	return t.Kind == types.KindTuple && len(t.Fields) == 0 && t.UnsizedField == nil
}

func (c *checker) checkFunction(name string, fn *ir.Function) {
	where := "function " + name
	seen := map[ir.LocalName]bool{}
	for _, a := range fn.Args {
		if seen[a] {
			c.fail(where, "argument local %q listed twice", a)
		}
		seen[a] = true
		if _, ok := fn.Locals[a]; !ok {
			c.fail(where, "argument local %q is undefined", a)
		}
	}
	if _, ok := fn.Locals[fn.Ret]; !ok {
		c.fail(where, "return local %q is undefined", fn.Ret)
	}
	if _, ok := fn.Blocks[fn.StartBlock]; !ok {
		c.fail(where, "start block %q is undefined", fn.StartBlock)
	}
	for ty := range uniqueTypes(fn.Locals) {
		c.checkType(where, ty)
	}
	for bn, bb := range fn.Blocks {
		c.checkBlock(where, fn, string(bn), bb)
	}
}

func uniqueTypes(m map[ir.LocalName]*types.Type) map[*types.Type]struct{} {
	out := map[*types.Type]struct{}{}
	for _, t := range m {
		out[t] = struct{}{}
	}
	return out
}

func (c *checker) checkBlock(where string, fn *ir.Function, bn string, bb *ir.BasicBlock) {
	where = where + " block " + bn
	for i, s := range bb.Statements {
		c.checkStatement(fmt.Sprintf("%s stmt %d", where, i), fn, s)
	}
	c.checkTerminator(where, fn, bb.Terminator)
}

func (c *checker) checkStatement(where string, fn *ir.Function, s ir.Statement) {
	switch s.Kind {
	case ir.SStorageLive, ir.SStorageDead:
		if _, ok := fn.Locals[s.Local]; !ok {
			c.fail(where, "references undefined local %q", s.Local)
		}
	case ir.SAssign, ir.SValidate, ir.SPlaceMention, ir.SDeinit, ir.SSetDiscriminant:
		if s.Dst != nil {
			c.checkPlace(where, fn, s.Dst)
		}
		if s.Src != nil {
			c.checkValueExpr(where, fn, s.Src)
		}
	case ir.SExpose:
		if s.Src != nil {
			c.checkValueExpr(where, fn, s.Src)
		}
	}
}

func (c *checker) checkTerminator(where string, fn *ir.Function, t ir.Terminator) {
	blockExists := func(b ir.BbName) {
		if _, ok := fn.Blocks[b]; !ok {
			c.fail(where, "references undefined block %q", b)
		}
	}
	switch t.Kind {
	case ir.TGoto:
		blockExists(t.Target)
	case ir.TSwitch:
		if t.SwitchOn != nil {
			c.checkValueExpr(where, fn, t.SwitchOn)
		}
		seen := map[string]bool{}
		for _, cs := range t.Cases {
			blockExists(cs.Block)
			key := cs.Value.String()
			if seen[key] {
				c.fail(where, "duplicate switch case %s", key)
			}
			seen[key] = true
		}
		if t.HasFallback {
			blockExists(t.Fallback)
		}
	case ir.TUnreachable:
	case ir.TCall:
		if t.Ret != nil {
			c.checkPlace(where, fn, t.Ret)
		}
		if t.Callee != nil {
			c.checkValueExpr(where, fn, t.Callee)
		}
		for _, a := range t.Args {
			if a.Kind == ir.ArgByValue && a.Value != nil {
				c.checkValueExpr(where, fn, a.Value)
			}
			if a.Kind == ir.ArgInPlace && a.Place != nil {
				c.checkPlace(where, fn, a.Place)
			}
		}
		if t.HasNext {
			blockExists(t.NextBlock)
		}
	case ir.TReturn:
	case ir.TIntrinsic:
		if t.Ret != nil {
			c.checkPlace(where, fn, t.Ret)
		}
		for _, a := range t.Args {
			if a.Value != nil {
				c.checkValueExpr(where, fn, a.Value)
			}
		}
		if t.HasNext {
			blockExists(t.NextBlock)
		}
	}
}

func (c *checker) checkValueExpr(where string, fn *ir.Function, v *ir.ValueExpr) {
	if v.Ty != nil {
		c.checkType(where, v.Ty)
	}
	switch v.Kind {
	case ir.VEConstant:
		c.checkConstant(where, v)
	case ir.VETuple:
		for i := range v.Elems {
			c.checkValueExpr(where, fn, &v.Elems[i])
		}
	case ir.VEUnion:
		for i := range v.Elems {
			c.checkValueExpr(where, fn, &v.Elems[i])
		}
	case ir.VEVariant:
		if v.EnumTy != nil && (v.VariantIdx < 0 || v.VariantIdx >= len(v.EnumTy.Variants)) {
			c.fail(where, "variant index %d out of range", v.VariantIdx)
		}
		if v.VariantVal != nil {
			c.checkValueExpr(where, fn, v.VariantVal)
		}
	case ir.VEGetDiscriminant, ir.VEAddrOf:
		if v.Place != nil {
			c.checkPlace(where, fn, v.Place)
		}
	case ir.VELoad:
		if v.Place != nil {
			c.checkPlace(where, fn, v.Place)
		}
	case ir.VEUnOp:
		if v.Operand != nil {
			c.checkValueExpr(where, fn, v.Operand)
		}
	case ir.VEBinOp:
		if v.Left != nil {
			c.checkValueExpr(where, fn, v.Left)
		}
		if v.Right != nil {
			c.checkValueExpr(where, fn, v.Right)
		}
		c.checkBinOpShape(where, v)
	}
}

func (c *checker) checkConstant(where string, v *ir.ValueExpr) {
	switch v.Const {
	case ir.ConstInt:
		if v.Ty == nil || v.Ty.Kind != types.KindInt {
			c.fail(where, "int constant claims a non-int type")
		}
	case ir.ConstBool:
		if v.Ty == nil || v.Ty.Kind != types.KindBool {
			c.fail(where, "bool constant claims a non-bool type")
		}
	case ir.ConstGlobalPointer:
		if _, ok := c.prog.Globals[v.ConstGlobal]; !ok {
			c.fail(where, "references undefined global %q", v.ConstGlobal)
		}
	case ir.ConstFnPointer:
		if _, ok := c.prog.Functions[v.ConstFn]; !ok {
			c.fail(where, "references undefined function %q", v.ConstFn)
		}
	case ir.ConstVTablePointer:
		if _, ok := c.prog.VTables[v.ConstVTable]; !ok {
			c.fail(where, "references undefined vtable %q", v.ConstVTable)
		}
	}
}

// checkBinOpShape enforces the operand-type tables of spec.md §4.6: Int
// ops need KindInt operands (except shifts, which allow unequal operand
// types on each side); Rel/Cmp need matching operand types; PtrOffset
// needs a pointer left operand and integer right operand.
func (c *checker) checkBinOpShape(where string, v *ir.ValueExpr) {
	if v.Left == nil || v.Right == nil || v.Left.Ty == nil || v.Right.Ty == nil {
		return
	}
	l, r := v.Left.Ty, v.Right.Ty
	switch v.BinOp {
	case ir.BAdd, ir.BSub, ir.BMul, ir.BDiv, ir.BRem:
		if l.Kind != types.KindInt || r.Kind != types.KindInt || l.Int != r.Int {
			c.fail(where, "arithmetic op requires two operands of the same int type")
		}
	case ir.BShl, ir.BShr:
		if l.Kind != types.KindInt || r.Kind != types.KindInt {
			c.fail(where, "shift op requires int operands")
		}
	case ir.BEq, ir.BLt, ir.BLe, ir.BGt, ir.BGe, ir.BCmp:
		if l.Kind != r.Kind || (l.Kind == types.KindInt && l.Int != r.Int) {
			c.fail(where, "comparison requires two operands of the same type")
		}
	case ir.BPtrOffset:
		if l.Kind != types.KindPtr || r.Kind != types.KindInt {
			c.fail(where, "PtrOffset requires a pointer and an int operand")
		}
	case ir.BPtrOffsetFrom:
		if l.Kind != types.KindPtr || r.Kind != types.KindPtr {
			c.fail(where, "PtrOffsetFrom requires two pointer operands")
		}
	}
}

func (c *checker) checkPlace(where string, fn *ir.Function, p *ir.PlaceExpr) {
	switch p.Kind {
	case ir.PELocal:
		if _, ok := fn.Locals[p.Local]; !ok {
			c.fail(where, "references undefined local %q", p.Local)
		}
	case ir.PEDeref:
		if p.Of != nil {
			c.checkValueExpr(where, fn, p.Of)
		}
	case ir.PEField, ir.PEIndex, ir.PEDowncast:
		if p.Base != nil {
			c.checkPlace(where, fn, p.Base)
		}
		if p.Kind == ir.PEIndex && p.IndexBy != nil {
			c.checkValueExpr(where, fn, p.IndexBy)
		}
	}
}

var validIntSizes = map[int64]bool{1: true, 2: true, 4: true, 8: true, 16: true}

// checkType validates the structural invariants of spec.md §4.8. It is
// idempotent per *Type pointer within one Check call only incidentally
// (types are not deduplicated here); that's a performance concern, not a
// correctness one.
func (c *checker) checkType(where string, t *types.Type) {
	if t == nil {
		c.fail(where, "nil type")
		return
	}
	switch t.Kind {
	case types.KindInt:
		if !validIntSizes[t.Int.Size] {
			c.fail(where, "int size %d is not a power of two in {1,2,4,8,16}", t.Int.Size)
		}
	case types.KindTuple:
		c.checkTupleFields(where, t.Fields)
		if t.UnsizedField != nil {
			c.checkType(where, t.UnsizedField)
		}
		for _, f := range t.Fields {
			c.checkType(where, f.Type)
		}
	case types.KindArray:
		if t.Elem.Strategy() != types.LayoutSized {
			c.fail(where, "array element type must be sized")
		}
		c.checkType(where, t.Elem)
	case types.KindSlice:
		c.checkType(where, t.Elem)
	case types.KindUnion:
		c.checkChunks(where, t.Chunks)
	case types.KindEnum:
		for i, v := range t.Variants {
			vs, va := v.SizeAlign(c.tgt, types.Metadata{})
			if vs != t.EnumSize {
				c.fail(where, "variant %d size %d does not match enum size %d", i, vs, t.EnumSize)
			}
			if va > t.EnumAlign {
				c.fail(where, "variant %d align %d exceeds enum align %d", i, va, t.EnumAlign)
			}
		}
		c.checkDiscriminator(where, t.Discriminator, len(t.Variants))
	case types.KindPtr:
		if t.Ptr.Pointee != nil {
			c.checkType(where, t.Ptr.Pointee)
		}
	}
}

func (c *checker) checkTupleFields(where string, fields []types.Field) {
	type span struct{ lo, hi int64 }
	var spans []span
	for _, f := range fields {
		sz, _ := f.Type.SizeAlign(c.tgt, types.Metadata{})
		spans = append(spans, span{f.Offset, f.Offset + sz})
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				c.fail(where, "tuple fields %d and %d overlap", i, j)
			}
		}
	}
}

func (c *checker) checkChunks(where string, chunks []types.Chunk) {
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Offset < chunks[i-1].Offset+chunks[i-1].Size {
			c.fail(where, "union chunks are not sorted and disjoint")
		}
	}
}

func (c *checker) checkDiscriminator(where string, d *types.Discriminator, nVariants int) {
	if d == nil {
		return
	}
	if d.Kind == types.DiscKnown {
		if d.Known < 0 || d.Known >= nVariants {
			c.fail(where, "discriminator references undefined variant %d", d.Known)
		}
		return
	}
	for i, b := range d.Branches {
		if b.Lo.Cmp(b.Hi) >= 0 {
			c.fail(where, "discriminator branch %d has an empty or inverted range", i)
		}
		for j := i + 1; j < len(d.Branches); j++ {
			o := d.Branches[j]
			if b.Lo.Cmp(o.Hi) < 0 && o.Lo.Cmp(b.Hi) < 0 {
				c.fail(where, "discriminator branches %d and %d overlap", i, j)
			}
		}
		c.checkDiscriminator(where, b.Next, nVariants)
	}
	c.checkDiscriminator(where, d.Fallback, nVariants)
}
