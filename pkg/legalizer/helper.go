package legalizer

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
)

type helper struct {
	f  *ir.Func
	ri *ir.RegInfo
}

func (h *helper) ty(r ir.Reg) ir.LLT { return h.ri.Type(r) }

func (h *helper) fail(mi *ir.Instr, format string, args ...any) error {
	return ir.Errorf(pass, h.f, mi, format, args...)
}

// parts splits r into pieces of type nt, lowest first.
func (h *helper) parts(b *ir.Builder, r ir.Reg, nt ir.LLT) []ir.Reg {
	n := h.ty(r).SizeInBits() / nt.SizeInBits()
	if n == 1 && h.ty(r) == nt { return []ir.Reg{r} }
	return b.Unmerge(nt, r, n)
}

func (h *helper) numParts(mi *ir.Instr, t, nt ir.LLT) (int, error) {
	if nt.SizeInBits() == 0 || t.SizeInBits()%nt.SizeInBits() != 0 {
		return 0, h.fail(mi, "cannot narrow %s to %s", t, nt)
	}
	return t.SizeInBits() / nt.SizeInBits(), nil
}

func isTerm(mi *ir.Instr) bool { return mi.Op.IsTerminator() }

// afterPhis positions a builder at the first non-phi instruction of blk.
func afterPhis(f *ir.Func, blk *ir.Block) *ir.Builder {
	b := ir.NewBuilder(f)
	i := 0
	for i < len(blk.Instrs) && (blk.Instrs[i].Op == ir.OpGPhi || blk.Instrs[i].Op == ir.OpPhi) {
		i++
	}
	b.SetBlockIndex(blk, i)
	return b
}

func beforeTerminators(f *ir.Func, blk *ir.Block) *ir.Builder {
	b := ir.NewBuilder(f)
	b.SetBlockIndex(blk, blk.FirstTerminator(isTerm))
	return b
}

// carryChain builds a ripple of carry operations over the parts of x and y.
// cin is the incoming carry (NoReg for none); the last carry out is written
// to cout unless it is NoReg.
func (h *helper) carryChain(b *ir.Builder, opO, opE ir.Op, xs, ys []ir.Reg, cin, cout ir.Reg) []ir.Reg {
	res := make([]ir.Reg, len(xs))
	carry := cin
	for i := range xs {
		res[i] = h.ri.NewVReg(h.ty(xs[i]))
		co := cout
		if i < len(xs)-1 || co == ir.NoReg { co = h.ri.NewVReg(ir.S1) }
		ops := []ir.Operand{ir.DefOp(res[i]), ir.DefOp(co), ir.RegOp(xs[i]), ir.RegOp(ys[i])}
		op := opO
		if carry != ir.NoReg {
			op = opE
			ops = append(ops, ir.RegOp(carry))
		}
		b.Build(op, ops...)
		carry = co
	}
	return res
}

func carryOps(op ir.Op) (ir.Op, ir.Op) {
	switch op {
	case ir.OpAdd, ir.OpUAddO, ir.OpUAddE: return ir.OpUAddO, ir.OpUAddE
	}
	return ir.OpUSubO, ir.OpUSubE
}

func (h *helper) narrowScalar(mi *ir.Instr, idx int, nt ir.LLT) error {
	b := ir.At(mi)
	switch mi.Op {
	case ir.OpAdd, ir.OpSub:
		dst := mi.Reg(0)
		if _, err := h.numParts(mi, h.ty(dst), nt); err != nil { return err }
		opO, opE := carryOps(mi.Op)
		res := h.carryChain(b, opO, opE, h.parts(b, mi.Reg(1), nt), h.parts(b, mi.Reg(2), nt), ir.NoReg, ir.NoReg)
		b.MergeInto(dst, res...)

	case ir.OpUAddO, ir.OpUAddE, ir.OpUSubO, ir.OpUSubE:
		dst, cout := mi.Reg(0), mi.Reg(1)
		if _, err := h.numParts(mi, h.ty(dst), nt); err != nil { return err }
		cin := ir.NoReg
		if len(mi.Ops) > 4 { cin = mi.Reg(4) }
		opO, opE := carryOps(mi.Op)
		res := h.carryChain(b, opO, opE, h.parts(b, mi.Reg(2), nt), h.parts(b, mi.Reg(3), nt), cin, cout)
		b.MergeInto(dst, res...)

	case ir.OpAnd, ir.OpOr, ir.OpXor:
		dst := mi.Reg(0)
		n, err := h.numParts(mi, h.ty(dst), nt)
		if err != nil { return err }
		xs, ys := h.parts(b, mi.Reg(1), nt), h.parts(b, mi.Reg(2), nt)
		res := make([]ir.Reg, n)
		for i := range res {
			res[i] = b.Binary(mi.Op, nt, xs[i], ys[i])
		}
		b.MergeInto(dst, res...)

	case ir.OpConstant:
		dst := mi.Reg(0)
		n, err := h.numParts(mi, h.ty(dst), nt)
		if err != nil { return err }
		w := nt.SizeInBits()
		res := make([]ir.Reg, n)
		for i := range res {
			res[i] = b.Constant(nt, mi.Ops[1].Imm>>(i*w))
		}
		b.MergeInto(dst, res...)

	case ir.OpUndef:
		dst := mi.Reg(0)
		n, err := h.numParts(mi, h.ty(dst), nt)
		if err != nil { return err }
		res := make([]ir.Reg, n)
		for i := range res {
			res[i] = b.Undef(nt)
		}
		b.MergeInto(dst, res...)

	case ir.OpLoad:
		dst, ptr := mi.Reg(0), mi.Reg(1)
		n, err := h.numParts(mi, h.ty(dst), nt)
		if err != nil { return err }
		res := make([]ir.Reg, n)
		for i := range res {
			res[i] = b.Load(nt, h.offsetPtr(b, ptr, i*nt.SizeInBytes()))
		}
		b.MergeInto(dst, res...)

	case ir.OpStore:
		val, ptr := mi.Reg(0), mi.Reg(1)
		if _, err := h.numParts(mi, h.ty(val), nt); err != nil { return err }
		for i, p := range h.parts(b, val, nt) {
			b.Store(p, h.offsetPtr(b, ptr, i*nt.SizeInBytes()))
		}

	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		if idx == 1 { return h.retypeShiftAmount(mi, b) }
		return h.narrowShift(mi, b, nt)

	case ir.OpAnyExt:
		dst, src := mi.Reg(0), mi.Reg(1)
		n, err := h.numParts(mi, h.ty(dst), nt)
		if err != nil { return err }
		if h.ty(src).SizeInBits() > nt.SizeInBits() { return h.fail(mi, "cannot narrow %s to %s", h.ty(dst), nt) }
		low := src
		if h.ty(src) != nt { low = b.AnyExt(nt, src) }
		res := []ir.Reg{low}
		for len(res) < n {
			res = append(res, b.Undef(nt))
		}
		b.MergeInto(dst, res...)

	case ir.OpGPhi:
		return h.narrowPhi(mi, nt)

	default:
		return h.fail(mi, "NarrowScalar not implemented for %s", mi.Op)
	}
	mi.EraseFromParent()
	return nil
}

// offsetPtr returns ptr + off, or ptr itself for a zero offset.
func (h *helper) offsetPtr(b *ir.Builder, ptr ir.Reg, off int) ir.Reg {
	if off == 0 { return ptr }
	pt := h.ty(ptr)
	ot := ir.S16
	if pt.SizeInBits() <= 8 { ot = ir.S8 }
	return b.PtrAdd(pt, ptr, b.Constant(ot, int64(off)))
}

// retypeShiftAmount rebuilds the amount operand as an s8, folding constants.
func (h *helper) retypeShiftAmount(mi *ir.Instr, b *ir.Builder) error {
	amt := mi.Reg(2)
	if c, ok := h.f.ConstantOf(amt); ok {
		mi.Ops[2].Reg = b.Constant(ir.S8, c)
		return nil
	}
	if h.ty(amt).SizeInBits() < 8 {
		mi.Ops[2].Reg = b.ZExt(ir.S8, amt)
	} else {
		mi.Ops[2].Reg = b.Trunc(ir.S8, amt)
	}
	return nil
}

// narrowShift splits a shift by a constant amount into shifts and ors of
// the parts. A variable amount cannot be narrowed.
func (h *helper) narrowShift(mi *ir.Instr, b *ir.Builder, nt ir.LLT) error {
	dst, src := mi.Reg(0), mi.Reg(1)
	c, ok := h.f.ConstantOf(mi.Reg(2))
	if !ok { return h.fail(mi, "shift of %s by a variable amount: %v", h.ty(dst), ir.ErrUnsupported) }
	n, err := h.numParts(mi, h.ty(dst), nt)
	if err != nil { return err }
	w := nt.SizeInBits()
	xs := h.parts(b, src, nt)
	k := int(c)
	if k < 0 || k > n*w { k = n * w }
	q, r := k/w, k%w

	shift := func(op ir.Op, x ir.Reg, amt int) ir.Reg {
		if x == ir.NoReg || amt == 0 { return x }
		return b.Binary(op, nt, x, b.Constant(ir.S8, int64(amt)))
	}
	or := func(x, y ir.Reg) ir.Reg {
		switch {
		case x == ir.NoReg: return y
		case y == ir.NoReg: return x
		}
		return b.Binary(ir.OpOr, nt, x, y)
	}

	// NoReg stands for an all-zero part.
	var sign ir.Reg
	if mi.Op == ir.OpAShr { sign = shift(ir.OpAShr, xs[n-1], w-1) }
	part := func(j int) ir.Reg {
		switch {
		case j >= 0 && j < n: return xs[j]
		case j >= n: return sign
		}
		return ir.NoReg
	}

	res := make([]ir.Reg, n)
	for i := range res {
		switch mi.Op {
		case ir.OpShl:
			res[i] = part(i - q)
			if r != 0 { res[i] = or(shift(ir.OpShl, part(i-q), r), shift(ir.OpLShr, part(i-q-1), w-r)) }
		default:
			j := i + q
			res[i] = part(j)
			if r != 0 && j < n {
				if mi.Op == ir.OpAShr && j == n-1 {
					res[i] = shift(ir.OpAShr, part(j), r)
				} else {
					res[i] = or(shift(ir.OpLShr, part(j), r), shift(ir.OpShl, part(j+1), w-r))
				}
			}
		}
		if res[i] == ir.NoReg { res[i] = b.Constant(nt, 0) }
	}
	b.MergeInto(dst, res...)
	mi.EraseFromParent()
	return nil
}

// narrowPhi splits a phi into one phi per part; incoming values are split at
// the end of their predecessor and the parts merged after the phis.
func (h *helper) narrowPhi(mi *ir.Instr, nt ir.LLT) error {
	dst := mi.Reg(0)
	n, err := h.numParts(mi, h.ty(dst), nt)
	if err != nil { return err }
	phis := make([][]ir.Operand, n)
	defs := make([]ir.Reg, n)
	for i := range phis {
		defs[i] = h.ri.NewVReg(nt)
		phis[i] = []ir.Operand{ir.DefOp(defs[i])}
	}
	for k := 1; k+1 < len(mi.Ops); k += 2 {
		pred := mi.Ops[k+1].Block
		parts := h.parts(beforeTerminators(h.f, pred), mi.Reg(k), nt)
		for i, p := range parts {
			phis[i] = append(phis[i], ir.RegOp(p), ir.BlockOp(pred))
		}
	}
	b := ir.At(mi)
	for _, ops := range phis {
		b.Build(ir.OpGPhi, ops...)
	}
	blk := mi.Block
	mi.EraseFromParent()
	afterPhis(h.f, blk).MergeInto(dst, defs...)
	return nil
}

func (h *helper) widenScalar(mi *ir.Instr, idx int, wt ir.LLT) error {
	b := ir.At(mi)
	switch mi.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
		x, y := b.AnyExt(wt, mi.Reg(1)), b.AnyExt(wt, mi.Reg(2))
		b.Build(ir.OpTrunc, ir.DefOp(mi.Reg(0)), ir.RegOp(b.Binary(mi.Op, wt, x, y)))

	case ir.OpAnyExt:
		wide := b.AnyExt(wt, mi.Reg(1))
		b.Build(ir.OpTrunc, ir.DefOp(mi.Reg(0)), ir.RegOp(wide))

	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		if idx != 1 { return h.fail(mi, "WidenScalar not implemented for %s value", mi.Op) }
		return h.retypeShiftAmount(mi, b)

	case ir.OpGPhi:
		ops := []ir.Operand{ir.DefOp(h.ri.NewVReg(wt))}
		for k := 1; k+1 < len(mi.Ops); k += 2 {
			pred := mi.Ops[k+1].Block
			v := beforeTerminators(h.f, pred).AnyExt(wt, mi.Reg(k))
			ops = append(ops, ir.RegOp(v), ir.BlockOp(pred))
		}
		b.Build(ir.OpGPhi, ops...)
		blk := mi.Block
		mi.EraseFromParent()
		afterPhis(h.f, blk).Build(ir.OpTrunc, ir.DefOp(mi.Reg(0)), ir.RegOp(ops[0].Reg))
		return nil

	default:
		return h.fail(mi, "WidenScalar not implemented for %s", mi.Op)
	}
	mi.EraseFromParent()
	return nil
}

func (h *helper) lower(mi *ir.Instr) error {
	b := ir.At(mi)
	switch mi.Op {
	case ir.OpAbs:
		dst, x := mi.Reg(0), mi.Reg(1)
		t := h.ty(dst)
		sh := b.Binary(ir.OpAShr, t, x, b.Constant(ir.S8, int64(t.SizeInBits()-1)))
		b.Build(ir.OpSub, ir.DefOp(dst), ir.RegOp(b.Binary(ir.OpXor, t, x, sh)), ir.RegOp(sh))

	case ir.OpZExt:
		dst, src := mi.Reg(0), mi.Reg(1)
		if err := h.checkBytes(mi, dst); err != nil { return err }
		var bytes []ir.Reg
		if h.ty(src).SizeInBits() < 8 {
			mask := b.Constant(ir.S8, int64(1)<<h.ty(src).SizeInBits()-1)
			bytes = []ir.Reg{b.Binary(ir.OpAnd, ir.S8, b.AnyExt(ir.S8, src), mask)}
		} else {
			if err := h.checkBytes(mi, src); err != nil { return err }
			bytes = h.parts(b, src, ir.S8)
		}
		for len(bytes) < h.ty(dst).SizeInBytes() {
			bytes = append(bytes, b.Constant(ir.S8, 0))
		}
		h.assemble(b, dst, bytes)

	case ir.OpSExt:
		dst, src := mi.Reg(0), mi.Reg(1)
		if err := h.checkBytes(mi, dst); err != nil { return err }
		var bytes []ir.Reg
		var fill ir.Reg
		if h.ty(src) == ir.S1 {
			fill = b.SExt(ir.S8, src)
			bytes = []ir.Reg{fill}
		} else {
			if err := h.checkBytes(mi, src); err != nil { return err }
			bytes = h.parts(b, src, ir.S8)
			fill = b.Binary(ir.OpAShr, ir.S8, bytes[len(bytes)-1], b.Constant(ir.S8, 7))
		}
		for len(bytes) < h.ty(dst).SizeInBytes() {
			bytes = append(bytes, fill)
		}
		h.assemble(b, dst, bytes)

	case ir.OpTrunc:
		dst, src := mi.Reg(0), mi.Reg(1)
		if err := h.checkBytes(mi, src); err != nil { return err }
		bytes := h.parts(b, src, ir.S8)
		switch n := h.ty(dst).SizeInBits(); {
		case n < 8: b.Build(ir.OpTrunc, ir.DefOp(dst), ir.RegOp(bytes[0]))
		case n%8 == 0: h.assemble(b, dst, bytes[:n/8])
		default: return h.fail(mi, "unable to lower %s to %s", h.ty(src), h.ty(dst))
		}

	case ir.OpICmp:
		return h.lowerICmp(mi, b)

	default:
		return h.fail(mi, "unable to lower %s", mi.Op)
	}
	mi.EraseFromParent()
	return nil
}

func (h *helper) checkBytes(mi *ir.Instr, r ir.Reg) error {
	if h.ty(r).SizeInBits()%8 != 0 { return h.fail(mi, "unable to lower %s with a %s operand", mi.Op, h.ty(r)) }
	return nil
}

// assemble defines dst from bytes: a copy for one byte, a merge otherwise.
func (h *helper) assemble(b *ir.Builder, dst ir.Reg, bytes []ir.Reg) {
	if len(bytes) == 1 {
		b.Copy(dst, bytes[0])
		return
	}
	b.MergeInto(dst, bytes...)
}

// lowerICmp expands a comparison of values wider than a register pair into
// byte operations: equality folds the xor of every byte pair, orderings ripple
// a borrow through the bytes.
func (h *helper) lowerICmp(mi *ir.Instr, b *ir.Builder) error {
	dst, p := mi.Reg(0), mi.Ops[1].Pred
	x, y := mi.Reg(2), mi.Reg(3)
	if err := h.checkBytes(mi, x); err != nil { return err }
	xs, ys := h.parts(b, x, ir.S8), h.parts(b, y, ir.S8)

	if p == ir.PredEQ || p == ir.PredNE {
		acc := b.Binary(ir.OpXor, ir.S8, xs[0], ys[0])
		for i := 1; i < len(xs); i++ {
			acc = b.Binary(ir.OpOr, ir.S8, acc, b.Binary(ir.OpXor, ir.S8, xs[i], ys[i]))
		}
		b.Build(ir.OpICmp, ir.DefOp(dst), ir.PredOp(p), ir.RegOp(acc), ir.RegOp(b.Constant(ir.S8, 0)))
		mi.EraseFromParent()
		return nil
	}

	if p.IsSigned() {
		top := len(xs) - 1
		bias := b.Constant(ir.S8, 0x80)
		xs[top] = b.Binary(ir.OpXor, ir.S8, xs[top], bias)
		ys[top] = b.Binary(ir.OpXor, ir.S8, ys[top], bias)
		p = p.Unsigned()
	}
	if p == ir.PredUGT || p == ir.PredULE {
		xs, ys = ys, xs
		p = p.Swapped()
	}
	borrow := dst
	if p == ir.PredUGE { borrow = h.ri.NewVReg(ir.S1) }
	h.carryChain(b, ir.OpUSubO, ir.OpUSubE, xs, ys, ir.NoReg, borrow)
	if p == ir.PredUGE { b.Build(ir.OpXor, ir.DefOp(dst), ir.RegOp(borrow), ir.RegOp(b.Constant(ir.S1, 1))) }
	mi.EraseFromParent()
	return nil
}

func (h *helper) apply(mi *ir.Instr, st Step) error {
	switch st.Action {
	case NarrowScalar: return h.narrowScalar(mi, st.TypeIdx, st.NewType)
	case WidenScalar: return h.widenScalar(mi, st.TypeIdx, st.NewType)
	case Lower: return h.lower(mi)
	}
	return h.fail(mi, "unable to legalize instruction (%s)", fmt.Sprint(QueryOf(mi, h.ri)))
}
