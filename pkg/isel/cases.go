package isel

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

// Offsets up to this magnitude are cheaper as a run of INC/DEC.
const maxIncDec = 4

// constantOf also sees constants that were already selected.
func (s *selector) constantOf(r ir.Reg) (int64, bool) {
	if v, ok := s.f.ConstantOf(r); ok { return v, true }
	if mi := s.f.DefOf(r); mi != nil && (mi.Op == sm83.LDri || mi.Op == sm83.LDrrii) && mi.Ops[1].IsImm() {
		return mi.Ops[1].Imm, true
	}
	return 0, false
}

func subReg(r ir.Reg, idx ir.SubRegIdx) ir.Operand {
	return ir.Operand{Kind: ir.KindReg, Reg: r, SubReg: idx}
}

func regSequence(dst ir.Operand, lo, hi ir.Reg) *ir.Instr {
	return ir.BuildInstr(ir.OpRegSequence, dst, ir.RegOp(lo), ir.SubRegOp(sm83.SubLow), ir.RegOp(hi), ir.SubRegOp(sm83.SubHigh))
}

func extractSubreg(dst ir.Operand, src ir.Reg, idx ir.SubRegIdx) *ir.Instr {
	return ir.BuildInstr(ir.OpExtractSubreg, dst, ir.RegOp(src), ir.SubRegOp(idx))
}

// chain applies opc n times, starting from src and ending in dst.
func (s *selector) chain(opc ir.Op, rc *ir.RegClass, dst ir.Operand, src ir.Reg, n int64) []*ir.Instr {
	var seq []*ir.Instr
	cur := src
	for i := int64(1); i <= n; i++ {
		d := dst
		if i < n { d = ir.DefOp(s.newReg(rc)) }
		seq = append(seq, sm83.NewMI(opc, d, ir.RegOp(cur)))
		cur = d.Reg
	}
	return seq
}

func (s *selector) selectConstant(mi *ir.Instr) error {
	var opc ir.Op
	switch n := s.bits(mi.Reg(0)); {
	case n > 0 && n <= 8: opc = sm83.LDri
	case n == 16: opc = sm83.LDrrii
	default: return s.fail(mi, "unsupported type in constant selection (%d bits)", n)
	}
	return s.replace(mi, sm83.NewMI(opc, mi.Ops[0], mi.Ops[1]))
}

func (s *selector) selectMerge(mi *ir.Instr) error {
	if len(mi.Ops) != 3 || s.bits(mi.Reg(0)) != 16 || s.bits(mi.Reg(1)) != 8 || s.bits(mi.Reg(2)) != 8 {
		return s.fail(mi, "merge must build 16 bits from two bytes")
	}
	return s.replace(mi, regSequence(mi.Ops[0], mi.Reg(1), mi.Reg(2)))
}

func (s *selector) selectUnmerge(mi *ir.Instr) error {
	if len(mi.Ops) != 3 || s.bits(mi.Reg(2)) != 16 || s.bits(mi.Reg(0)) != 8 || s.bits(mi.Reg(1)) != 8 {
		return s.fail(mi, "unmerge must split 16 bits into two bytes")
	}
	src := mi.Reg(2)
	return s.replace(mi, extractSubreg(mi.Ops[0], src, sm83.SubLow), extractSubreg(mi.Ops[1], src, sm83.SubHigh))
}

// selectSExt rotates the flag bit into carry, then subtracts A from itself
// with borrow: 0x00 without carry, 0xFF with it.
func (s *selector) selectSExt(mi *ir.Instr) error {
	src := mi.Reg(1)
	if s.bits(mi.Reg(0)) != 8 || s.bits(src) != 1 { return s.fail(mi, "only s1 to s8 sign extension is selectable") }
	rot := sm83.NewMI(sm83.RRCA, ir.DefOp(sm83.A), ir.RegOpF(sm83.CF, ir.RegDef|ir.RegImplicit), ir.RegOp(src))
	sbc := sm83.NewMI(sm83.SBCr, mi.Ops[0], ir.RegOpF(sm83.A, ir.RegUndef), ir.RegOpF(sm83.A, ir.RegUndef), ir.RegOpF(sm83.CF, ir.RegImplicit))
	return s.replace(mi, rot, sbc)
}

func (s *selector) selectPhi(mi *ir.Instr) error {
	dst := mi.Reg(0)
	rc := sm83.ClassForSize(s.bits(dst))
	if rc == nil { return s.fail(mi, "phi of %d bits", s.bits(dst)) }
	mi.Op = ir.OpPhi
	if err := s.constrain(dst, rc); err != nil { return s.fail(mi, "%v", err) }
	return nil
}

func (s *selector) selectPtrAdd(mi *ir.Instr) error {
	dst, off := mi.Reg(0), mi.Reg(2)
	wide, narrowOff := s.bits(dst) == 16, s.bits(off) == 8
	if s.opts.IncDecPtrAdd {
		v, ok := s.constantOf(off)
		if !ok {
			if kb := ir.ComputeKnownBits(s.f, off); kb.IsConstant() { v, ok = int64(kb.Constant()), true }
		}
		if ok {
			// Byte offsets into the 16-bit space are unsigned.
			if !(wide && narrowOff) { v = signExtend(v, s.bits(off)) }
			if v >= -maxIncDec && v <= maxIncDec { return s.selectIncDec(mi, v) }
		}
	}
	if wide && narrowOff {
		z, o16 := s.newReg(sm83.GR8), s.newReg(sm83.GR16)
		b := ir.At(mi)
		b.Insert(sm83.NewMI(sm83.LDri, ir.DefOp(z), ir.ImmOp(0)))
		b.Insert(regSequence(ir.DefOp(o16), off, z))
		mi.Ops[2].Reg = o16
	}
	mi.Op = ir.OpAdd
	if ok, err := s.selectImpl(mi); ok || err != nil { return err }
	return s.fail(mi, "cannot select")
}

func signExtend(v int64, bits int) int64 {
	if bits <= 0 || bits >= 64 { return v }
	shift := 64 - bits
	return v << shift >> shift
}

func (s *selector) selectIncDec(mi *ir.Instr, v int64) error {
	dst, base := mi.Ops[0], mi.Reg(1)
	if v == 0 { return s.replace(mi, ir.BuildInstr(ir.OpCopy, dst, ir.RegOp(base))) }
	inc, dec, rc := sm83.INCrr, sm83.DECrr, sm83.GR16
	if s.bits(dst.Reg) == 8 { inc, dec, rc = sm83.INCr, sm83.DECr, sm83.GR8 }
	opc := inc
	if v < 0 { opc, v = dec, -v }
	return s.replace(mi, s.chain(opc, rc, dst, base, v)...)
}

func (s *selector) selectCarry(mi *ir.Instr) error {
	dst, x, y := mi.Ops[0], mi.Ops[2], mi.Ops[3]
	for _, r := range []ir.Reg{dst.Reg, x.Reg, y.Reg} {
		if s.bits(r) != 8 { return s.fail(mi, "carry arithmetic needs byte operands") }
	}
	var opc ir.Op
	switch mi.Op {
	case ir.OpUAddO: opc = sm83.ADDr
	case ir.OpUAddE: opc = sm83.ADCr
	case ir.OpUSubO: opc = sm83.SUBr
	case ir.OpUSubE: opc = sm83.SBCr
	}
	ops := []ir.Operand{dst, ir.RegOpF(mi.Reg(1), ir.RegDef|ir.RegImplicit), x, y}
	if len(mi.Ops) == 5 { ops = append(ops, ir.RegOpF(mi.Reg(4), ir.RegKill)) }
	return s.replace(mi, sm83.NewMI(opc, ops...))
}

// selectPtrCast copies between equally wide registers. A high page pointer
// widens to its full address.
func (s *selector) selectPtrCast(mi *ir.Instr) error {
	if mi.Op == ir.OpPtrToInt && s.bits(mi.Reg(0)) == 16 && s.bits(mi.Reg(1)) == 8 {
		page := s.newReg(sm83.GR8)
		return s.replace(mi, sm83.NewMI(sm83.LDri, ir.DefOp(page), ir.ImmOp(0xff)), regSequence(mi.Ops[0], mi.Reg(1), page))
	}
	mi.Op = ir.OpCopy
	return s.selectCopy(mi)
}

func (s *selector) selectTrunc(mi *ir.Instr) error {
	dst, src := mi.Ops[0], mi.Reg(1)
	switch {
	case widthClass(s.bits(dst.Reg)) != 8:
	case s.bits(src) == 16: return s.replace(mi, ir.BuildInstr(ir.OpCopy, dst, subReg(src, sm83.SubLow)))
	case widthClass(s.bits(src)) == 8: return s.replace(mi, ir.BuildInstr(ir.OpCopy, dst, ir.RegOp(src)))
	}
	return s.fail(mi, "cannot select truncation")
}

func (s *selector) selectAnyExt(mi *ir.Instr) error {
	dst, src := mi.Ops[0], mi.Reg(1)
	if widthClass(s.bits(src)) != 8 { return s.fail(mi, "cannot select extension") }
	switch s.bits(dst.Reg) {
	case 8: return s.replace(mi, ir.BuildInstr(ir.OpCopy, dst, ir.RegOp(src)))
	case 16:
		hi := s.newReg(sm83.GR8)
		return s.replace(mi, ir.BuildInstr(ir.OpImplicitDef, ir.DefOp(hi)), regSequence(dst, src, hi))
	}
	return s.fail(mi, "cannot select extension")
}

// selectShift expands a byte shift by a known amount into single bit shifts.
func (s *selector) selectShift(mi *ir.Instr) error {
	dst, x := mi.Ops[0], mi.Reg(1)
	if s.bits(dst.Reg) != 8 { return s.fail(mi, "shift of %d bits", s.bits(dst.Reg)) }
	k, ok := s.constantOf(mi.Reg(2))
	if !ok { return s.fail(mi, "shift by a variable amount") }
	var opc ir.Op
	switch mi.Op {
	case ir.OpShl: opc = sm83.SLAr
	case ir.OpLShr: opc = sm83.SRLr
	case ir.OpAShr: opc = sm83.SRAr
	}
	if k >= 8 {
		if opc != sm83.SRAr { return s.replace(mi, sm83.NewMI(sm83.LDri, dst, ir.ImmOp(0))) }
		k = 7
	}
	if k <= 0 { return s.replace(mi, ir.BuildInstr(ir.OpCopy, dst, ir.RegOp(x))) }
	return s.replace(mi, s.chain(opc, sm83.GR8, dst, x, k)...)
}

// address folds a frame index, optionally displaced by a constant, into the
// base and offset pair of a memory operand.
func (s *selector) address(ptr ir.Reg) (ir.Operand, int64) {
	def := s.f.DefOf(ptr)
	if def == nil || s.bits(ptr) != 16 { return ir.RegOp(ptr), 0 }
	switch def.Op {
	case ir.OpFrameIndex: return def.Ops[1], 0
	case ir.OpPtrAdd:
		base := s.f.DefOf(def.Reg(1))
		v, ok := s.constantOf(def.Reg(2))
		if base == nil || base.Op != ir.OpFrameIndex || !ok { break }
		if s.bits(def.Reg(2)) == 16 { v = signExtend(v, 16) }
		return base.Ops[1], v
	}
	return ir.RegOp(ptr), 0
}

func (s *selector) selectLoad(mi *ir.Instr) error {
	dst, ptr := mi.Ops[0], mi.Reg(1)
	if s.bits(dst.Reg) != 8 { return s.fail(mi, "load of %d bits", s.bits(dst.Reg)) }
	opc := sm83.LDrm
	if s.bits(ptr) == 8 { opc = sm83.LDHrm }
	base, off := s.address(ptr)
	return s.replace(mi, sm83.NewMI(opc, dst, base, ir.ImmOp(off)))
}

func (s *selector) selectStore(mi *ir.Instr) error {
	val, ptr := mi.Reg(0), mi.Reg(1)
	if s.bits(val) != 8 { return s.fail(mi, "store of %d bits", s.bits(val)) }
	opc := sm83.LDmr
	if s.bits(ptr) == 8 { opc = sm83.LDHmr }
	base, off := s.address(ptr)
	return s.replace(mi, sm83.NewMI(opc, base, ir.ImmOp(off), ir.RegOp(val)))
}
