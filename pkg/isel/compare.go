package isel

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

// signBias maps signed byte order onto unsigned order.
const signBias = 0x80

type value struct {
	reg   ir.Reg
	imm   int64
	isImm bool
}

func (v value) operand() ir.Operand {
	if v.isImm { return ir.ImmOp(v.imm & 0xff) }
	return ir.RegOp(v.reg)
}

type code []*ir.Instr

func (q *code) add(mi *ir.Instr) *ir.Instr { *q = append(*q, mi); return mi }

func (s *selector) byteValue(r ir.Reg) value {
	if v, ok := s.constantOf(r); ok { return value{imm: v, isImm: true} }
	return value{reg: r}
}

func (s *selector) inReg(v value, q *code) ir.Reg {
	if !v.isImm { return v.reg }
	r := s.newReg(sm83.GR8)
	q.add(sm83.NewMI(sm83.LDri, ir.DefOp(r), ir.ImmOp(v.imm&0xff)))
	return r
}

func (s *selector) bias(v value, q *code) value {
	if v.isImm { return value{imm: v.imm ^ signBias, isImm: true} }
	r := s.newReg(sm83.GR8)
	q.add(sm83.NewMI(sm83.XORri, ir.DefOp(r), ir.RegOp(v.reg), ir.ImmOp(signBias)))
	return value{reg: r}
}

func (s *selector) halves(r ir.Reg, q *code) (lo, hi ir.Reg) {
	lo, hi = s.newReg(sm83.GR8), s.newReg(sm83.GR8)
	q.add(extractSubreg(ir.DefOp(lo), r, sm83.SubLow))
	q.add(extractSubreg(ir.DefOp(hi), r, sm83.SubHigh))
	return lo, hi
}

func (s *selector) binop(opc, opci ir.Op, x ir.Reg, y value, q *code) ir.Reg {
	d := s.newReg(sm83.GR8)
	if y.isImm { opc = opci }
	q.add(sm83.NewMI(opc, ir.DefOp(d), ir.RegOp(x), y.operand()))
	return d
}

// flags emits a compare of x and y under p and returns the condition that
// holds exactly when the predicate does. Without zeroOK the answer is always
// in the carry flag.
func (s *selector) flags(p ir.Pred, x, y ir.Reg, zeroOK bool) (code, sm83.Cond, error) {
	var q code
	n := widthClass(s.bits(x))
	if n != widthClass(s.bits(y)) || n != 8 && n != 16 {
		return nil, 0, fmt.Errorf("compare of %d and %d bits", s.bits(x), s.bits(y))
	}

	if p == ir.PredEQ || p == ir.PredNE {
		if n == 8 && zeroOK {
			xv, yv := s.byteValue(x), s.byteValue(y)
			if xv.isImm && !yv.isImm { xv, yv = yv, xv }
			opc := sm83.CPr
			if yv.isImm { opc = sm83.CPri }
			q.add(sm83.NewMI(opc, ir.RegOp(s.inReg(xv, &q)), yv.operand()))
			return q, eqCond(p, sm83.CondZ, sm83.CondNZ), nil
		}
		var diff ir.Reg
		if n == 8 {
			diff = s.binop(sm83.XORr, sm83.XORri, x, s.byteValue(y), &q)
		} else {
			xl, xh := s.halves(x, &q)
			yl, yh := s.halves(y, &q)
			lo := s.binop(sm83.XORr, sm83.XORri, xl, value{reg: yl}, &q)
			hi := s.binop(sm83.XORr, sm83.XORri, xh, value{reg: yh}, &q)
			diff = s.binop(sm83.ORr, sm83.ORri, lo, value{reg: hi}, &q)
		}
		if zeroOK {
			q.add(sm83.NewMI(sm83.CPri, ir.RegOp(diff), ir.ImmOp(0)))
			return q, eqCond(p, sm83.CondZ, sm83.CondNZ), nil
		}
		// diff < 1 borrows only when diff is zero.
		q.add(sm83.NewMI(sm83.CPri, ir.RegOp(diff), ir.ImmOp(1)))
		return q, eqCond(p, sm83.CondC, sm83.CondNC), nil
	}

	signed := p.IsSigned()
	p = p.Unsigned()
	if n == 8 {
		xv, yv := s.byteValue(x), s.byteValue(y)
		if signed { xv, yv = s.bias(xv, &q), s.bias(yv, &q) }
		if p == ir.PredUGT || p == ir.PredULE { xv, yv, p = yv, xv, p.Swapped() }
		opc := sm83.CPr
		if yv.isImm { opc = sm83.CPri }
		q.add(sm83.NewMI(opc, ir.RegOp(s.inReg(xv, &q)), yv.operand()))
		return q, borrowCond(p), nil
	}

	xl, xh := s.halves(x, &q)
	yl, yh := s.halves(y, &q)
	if signed {
		xh = s.bias(value{reg: xh}, &q).reg
		yh = s.bias(value{reg: yh}, &q).reg
	}
	if p == ir.PredUGT || p == ir.PredULE { xl, xh, yl, yh, p = yl, yh, xl, xh, p.Swapped() }
	q.add(sm83.NewMI(sm83.SUBr, ir.DefOp(s.newReg(sm83.GR8)), ir.RegOp(xl), ir.RegOp(yl)))
	q.add(sm83.NewMI(sm83.SBCr, ir.DefOp(s.newReg(sm83.GR8)), ir.RegOp(xh), ir.RegOp(yh), ir.RegOpF(sm83.CF, ir.RegImplicit)))
	return q, borrowCond(p), nil
}

func eqCond(p ir.Pred, eq, ne sm83.Cond) sm83.Cond {
	if p == ir.PredEQ { return eq }
	return ne
}

// borrowCond answers ult or uge from the borrow of x - y.
func borrowCond(p ir.Pred) sm83.Cond {
	if p == ir.PredULT { return sm83.CondC }
	return sm83.CondNC
}

func jumpIf(c sm83.Cond, target ir.Operand) *ir.Instr {
	return ir.BuildInstr(sm83.JPcc, ir.ImmOp(int64(c)), target, ir.RegOpF(c.Flag(), ir.RegImplicit))
}

// selectICmp turns the carry flag into 0 or 1: SBC A, A yields 0xFF on
// borrow and 0x00 otherwise.
func (s *selector) selectICmp(mi *ir.Instr) error {
	q, cond, err := s.flags(mi.Ops[1].Pred, mi.Reg(2), mi.Reg(3), false)
	if err != nil { return s.fail(mi, "%v", err) }
	mask := s.newReg(sm83.GR8)
	q.add(sm83.NewMI(sm83.SBCr, ir.DefOp(mask), ir.RegOpF(sm83.A, ir.RegUndef), ir.RegOpF(sm83.A, ir.RegUndef), ir.RegOpF(sm83.CF, ir.RegImplicit)))
	if cond == sm83.CondC {
		q.add(sm83.NewMI(sm83.ANDri, mi.Ops[0], ir.RegOp(mask), ir.ImmOp(1)))
	} else {
		q.add(sm83.NewMI(sm83.INCr, mi.Ops[0], ir.RegOp(mask)))
	}
	return s.replace(mi, q...)
}

// selectBrCond branches on the flags of a single use compare in the same
// block when fusion is enabled, and on the materialized bit otherwise.
func (s *selector) selectBrCond(mi *ir.Instr) error {
	c, target := mi.Reg(0), mi.Ops[1]
	if cmp := s.f.DefOf(c); s.opts.FuseCompareBranch && cmp != nil && cmp.Op == ir.OpICmp && cmp.Block == mi.Block && len(s.f.Users(c)) == 1 {
		q, cond, err := s.flags(cmp.Ops[1].Pred, cmp.Reg(2), cmp.Reg(3), true)
		if err != nil { return s.fail(mi, "%v", err) }
		q.add(jumpIf(cond, target))
		if err := s.replace(mi, q...); err != nil { return err }
		cmp.EraseFromParent()
		return nil
	}
	return s.replace(mi, sm83.NewMI(sm83.CPri, ir.RegOp(c), ir.ImmOp(0)), jumpIf(sm83.CondNZ, target))
}
