package isel

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

// pattern maps a generic opcode at one result width to a machine opcode.
// When imm is set and the second source is a constant that fits a byte, the
// immediate form is used instead.
type pattern struct {
	op   ir.Op
	bits int
	reg  ir.Op
	imm  ir.Op
}

var patterns = []pattern{
	{ir.OpAdd, 8, sm83.ADDr, 0},
	{ir.OpSub, 8, sm83.SUBr, 0},
	{ir.OpAnd, 8, sm83.ANDr, sm83.ANDri},
	{ir.OpOr, 8, sm83.ORr, sm83.ORri},
	{ir.OpXor, 8, sm83.XORr, sm83.XORri},
	{ir.OpAdd, 16, sm83.ADDrr, 0},
	{ir.OpBr, 0, sm83.JP, 0},
	{ir.OpBrIndirect, 16, sm83.JPHL, 0},
}

func lookupPattern(op ir.Op, bits int) *pattern {
	for i := range patterns {
		if p := &patterns[i]; p.op == op && p.bits == bits { return p }
	}
	return nil
}

// selectImpl tries the pattern table. It reports false when no pattern
// covers mi.
func (s *selector) selectImpl(mi *ir.Instr) (bool, error) {
	bits := 0
	if len(mi.Ops) > 0 && mi.Ops[0].IsReg() { bits = s.bits(mi.Reg(0)) }
	p := lookupPattern(mi.Op, bits)
	if p == nil { return false, nil }
	ops := append([]ir.Operand(nil), mi.Ops...)
	opc := p.reg
	if p.imm != 0 && len(ops) == 3 {
		if v, ok := s.constantOf(ops[2].Reg); ok && v >= -128 && v <= 255 {
			opc = p.imm
			ops[2] = ir.ImmOp(v & 0xff)
		}
	}
	return true, s.replace(mi, sm83.NewMI(opc, ops...))
}
