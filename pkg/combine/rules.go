package combine

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/legalizer"
)

// Rule is a local rewrite. Apply reports whether it matched and changed mi;
// a non-match leaves the function untouched.
type Rule struct {
	Name  string
	Full  bool // only part of the optimizing tier
	Apply func(c *Combiner, mi *ir.Instr) bool
}

// Rules lists every combine in application order.
var Rules = []*Rule{
	{"copy_prop", false, copyProp},
	{"unmerge_merge", false, unmergeMerge},
	{"merge_unmerge", false, mergeUnmerge},
	{"dead_code", false, deadCode},
	{"add_zero", true, addZero},
	{"ptr_add_zero", true, ptrAddZero},
	{"sub_self", true, selfToZero(ir.OpSub)},
	{"xor_self", true, selfToZero(ir.OpXor)},
	{"const_fold", true, constFold},
	{"ptr_add_chain", true, ptrAddChain},
	{"known_bits_offset", true, knownBitsOffset},
	{"cse", true, cse},
}

func RuleByName(name string) *Rule {
	for _, r := range Rules {
		if r.Name == name { return r }
	}
	return nil
}

// replaceDef forwards the uses of mi's only result to r and erases mi.
func (c *Combiner) replaceDef(mi *ir.Instr, r ir.Reg) bool {
	dst := mi.Reg(0)
	if c.F.Regs.Type(dst) != c.F.Regs.Type(r) { return false }
	c.F.ReplaceAllUses(dst, r)
	c.erase(mi)
	return true
}

// replaceWithConstant rewrites mi in place into a G_CONSTANT of its type.
func (c *Combiner) replaceWithConstant(mi *ir.Instr, v int64) bool {
	ty := c.F.Regs.Type(mi.Reg(0))
	if !c.constantLegal(ty) { return false }
	if n := ty.SizeInBits(); n < 64 { v &= 1<<n - 1 }
	b := ir.At(mi)
	b.Build(ir.OpConstant, ir.DefOp(mi.Reg(0)), ir.ImmOp(v))
	c.erase(mi)
	return true
}

func (c *Combiner) constantLegal(ty ir.LLT) bool {
	if c.Legal == nil { return ty.IsScalar() && ty.SizeInBits() <= 64 }
	return c.Legal.Action(legalizer.Query{Op: ir.OpConstant, Types: []ir.LLT{ty}}).Action == legalizer.Legal
}

func copyProp(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpCopy || len(mi.Ops) != 2 { return false }
	dst, src := mi.Reg(0), mi.Reg(1)
	if !dst.IsVirtual() || !src.IsVirtual() || mi.Ops[1].SubReg != ir.NoSubReg { return false }
	ri := c.F.Regs
	if !ri.Type(dst).IsValid() || ri.Class(dst) != nil || ri.Bank(dst) != ri.Bank(src) { return false }
	return c.replaceDef(mi, src)
}

func unmergeMerge(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpUnmerge { return false }
	n := len(mi.Ops) - 1
	def := c.F.DefOf(mi.Reg(n))
	if def == nil || def.Op != ir.OpMerge || len(def.Ops)-1 != n { return false }
	ri := c.F.Regs
	for i := 0; i < n; i++ {
		if ri.Type(mi.Reg(i)) != ri.Type(def.Reg(i+1)) { return false }
	}
	for i := 0; i < n; i++ {
		c.F.ReplaceAllUses(mi.Reg(i), def.Reg(i+1))
	}
	c.erase(mi)
	return true
}

func mergeUnmerge(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpMerge { return false }
	un := c.F.DefOf(mi.Reg(1))
	if un == nil || un.Op != ir.OpUnmerge || len(un.Ops) != len(mi.Ops) { return false }
	for i := 1; i < len(mi.Ops); i++ {
		if mi.Reg(i) != un.Reg(i-1) { return false }
	}
	return c.replaceDef(mi, un.Reg(len(un.Ops)-1))
}

func deadCode(c *Combiner, mi *ir.Instr) bool {
	switch {
	case mi.Op.IsGeneric() && mi.Op.IsPure():
	case mi.Op == ir.OpCopy || mi.Op == ir.OpImplicitDef:
		if !mi.Reg(0).IsVirtual() { return false }
	default:
		return false
	}
	for _, d := range mi.Defs() {
		if !d.IsVirtual() || c.F.HasUses(d) { return false }
	}
	c.erase(mi)
	return true
}

func addZero(c *Combiner, mi *ir.Instr) bool {
	switch mi.Op {
	case ir.OpAdd, ir.OpOr, ir.OpXor:
		if v, ok := c.F.ConstantOf(mi.Reg(1)); ok && v == 0 { return c.replaceDef(mi, mi.Reg(2)) }
		fallthrough
	case ir.OpSub, ir.OpShl, ir.OpLShr, ir.OpAShr:
		if v, ok := c.F.ConstantOf(mi.Reg(2)); ok && v == 0 { return c.replaceDef(mi, mi.Reg(1)) }
	}
	return false
}

func ptrAddZero(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpPtrAdd { return false }
	if v, ok := c.F.ConstantOf(mi.Reg(2)); ok && v == 0 { return c.replaceDef(mi, mi.Reg(1)) }
	return false
}

func selfToZero(op ir.Op) func(*Combiner, *ir.Instr) bool {
	return func(c *Combiner, mi *ir.Instr) bool {
		if mi.Op != op || mi.Reg(1) != mi.Reg(2) { return false }
		return c.replaceWithConstant(mi, 0)
	}
}

func constFold(c *Combiner, mi *ir.Instr) bool {
	ri := c.F.Regs
	switch mi.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpLShr, ir.OpAShr:
		x, ok1 := c.F.ConstantOf(mi.Reg(1))
		y, ok2 := c.F.ConstantOf(mi.Reg(2))
		if !ok1 || !ok2 { return false }
		n := ri.Type(mi.Reg(0)).SizeInBits()
		v, ok := fold(mi.Op, uint64(x), uint64(y), n)
		if !ok { return false }
		return c.replaceWithConstant(mi, int64(v))
	case ir.OpICmp:
		x, ok1 := c.F.ConstantOf(mi.Reg(2))
		y, ok2 := c.F.ConstantOf(mi.Reg(3))
		if !ok1 || !ok2 { return false }
		var v int64
		if mi.Ops[1].Pred.Eval(uint64(x), uint64(y), ri.Type(mi.Reg(2)).SizeInBits()) { v = 1 }
		return c.replaceWithConstant(mi, v)
	case ir.OpTrunc, ir.OpZExt, ir.OpAnyExt, ir.OpSExt:
		x, ok := c.F.ConstantOf(mi.Reg(1))
		if !ok { return false }
		sw := ri.Type(mi.Reg(1)).SizeInBits()
		if sw >= 64 { return false }
		v := uint64(x) & (1<<sw - 1)
		if mi.Op == ir.OpSExt && v&(1<<(sw-1)) != 0 { v |= ^uint64(0) << sw }
		return c.replaceWithConstant(mi, int64(v))
	}
	return false
}

func fold(op ir.Op, x, y uint64, n int) (uint64, bool) {
	if n <= 0 || n > 64 { return 0, false }
	m := ^uint64(0)
	if n < 64 { m = 1<<n - 1 }
	x, y = x&m, y&m
	switch op {
	case ir.OpAdd: return x + y, true
	case ir.OpSub: return x - y, true
	case ir.OpAnd: return x & y, true
	case ir.OpOr: return x | y, true
	case ir.OpXor: return x ^ y, true
	}
	if y >= uint64(n) { return 0, false }
	switch op {
	case ir.OpShl: return x << y, true
	case ir.OpLShr: return x >> y, true
	case ir.OpAShr:
		sx := int64(x<<(64-n)) >> (64 - n)
		return uint64(sx >> y), true
	}
	return 0, false
}

// ptrAddChain folds (p + c1) + c2 into p + (c1 + c2). Offsets narrower than
// the pointer are unsigned, so a sum that leaves their range is rebuilt as a
// pointer wide constant.
func ptrAddChain(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpPtrAdd { return false }
	inner := c.F.DefOf(mi.Reg(1))
	if inner == nil || inner.Op != ir.OpPtrAdd { return false }
	c1, ok1 := c.F.ConstantOf(inner.Reg(2))
	c2, ok2 := c.F.ConstantOf(mi.Reg(2))
	if !ok1 || !ok2 { return false }
	ri := c.F.Regs
	ty1, ty := ri.Type(inner.Reg(2)), ri.Type(mi.Reg(2))
	sum := lowBits(c1, ty1) + lowBits(c2, ty)
	n := ri.Type(mi.Reg(0)).SizeInBits()
	if ty1 != ty || ty.SizeInBits() < n && sum>>uint(ty.SizeInBits()) != 0 {
		ty = ir.Scalar(n)
		if !c.constantLegal(ty) { return false }
	}
	b := ir.At(mi)
	mi.Ops[1].Reg = inner.Reg(1)
	mi.Ops[2].Reg = b.Constant(ty, int64(sum))
	c.changed(mi)
	return true
}

func lowBits(v int64, ty ir.LLT) uint64 {
	if n := ty.SizeInBits(); n < 64 { return uint64(v) & (1<<n - 1) }
	return uint64(v)
}

// knownBitsOffset replaces a pointer offset whose every bit is known by a
// constant, which the selector can turn into increments.
func knownBitsOffset(c *Combiner, mi *ir.Instr) bool {
	if mi.Op != ir.OpPtrAdd || !c.KnownBits { return false }
	off := mi.Reg(2)
	if _, ok := c.F.ConstantOf(off); ok { return false }
	kb := ir.ComputeKnownBits(c.F, off)
	if !kb.IsConstant() { return false }
	ty := c.F.Regs.Type(off)
	if !c.constantLegal(ty) { return false }
	mi.Ops[2].Reg = ir.At(mi).Constant(ty, kb.SignedConstant())
	c.changed(mi)
	return true
}
