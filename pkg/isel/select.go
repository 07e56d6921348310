// Package isel rewrites generic instructions into SM83 machine instructions.
// Simple one-to-one shapes come from a pattern table; everything else is
// selected by hand.
package isel

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
	"github.com/xplshn/sm83/pkg/util"
)

const (
	pass      = "instruction-select"
	debugType = "sm83-isel"
)

// Options toggles the target features the selector honours.
type Options struct {
	IncDecPtrAdd      bool
	FuseCompareBranch bool
}

type selector struct {
	f    *ir.Func
	ri   *ir.RegInfo
	opts Options
}

// Select selects every block bottom-up, then constrains every virtual
// register left without a class. No generic instruction survives.
func Select(f *ir.Func, opts Options) error {
	s := &selector{f: f, ri: f.Regs, opts: opts}
	for i := len(f.Blocks) - 1; i >= 0; i-- {
		instrs := append([]*ir.Instr(nil), f.Blocks[i].Instrs...)
		for j := len(instrs) - 1; j >= 0; j-- {
			mi := instrs[j]
			if mi.Block == nil { continue }
			if s.triviallyDead(mi) {
				util.Debugf(debugType, "dead: %s", ir.PrintInstr(mi, f, nil))
				mi.EraseFromParent()
				continue
			}
			text := ""
			if util.DebugEnabled(debugType) { text = ir.PrintInstr(mi, f, nil) }
			if err := s.select1(mi); err != nil { return err }
			util.Debugf(debugType, "selected: %s", text)
		}
	}
	for _, mi := range f.Instrs() {
		if mi.Op.IsGeneric() { return ir.Errorf(pass, f, mi, "generic instruction left after selection") }
		if err := s.constrainAll(mi); err != nil { return err }
	}
	f.Props |= ir.PropSelected
	return nil
}

func (s *selector) triviallyDead(mi *ir.Instr) bool {
	if !mi.Op.IsGeneric() || !mi.Op.IsPure() { return false }
	for _, d := range mi.Defs() {
		if s.f.HasUses(d) { return false }
	}
	return true
}

func (s *selector) fail(mi *ir.Instr, format string, args ...any) error {
	return ir.Errorf(pass, s.f, mi, format, args...)
}

func (s *selector) select1(mi *ir.Instr) error {
	if !mi.Op.IsGeneric() {
		if mi.IsCopy() { return s.selectCopy(mi) }
		return nil
	}
	if ok, err := s.selectImpl(mi); ok || err != nil { return err }

	switch mi.Op {
	case ir.OpConstant, ir.OpGlobalValue, ir.OpBlockAddr: return s.selectConstant(mi)
	case ir.OpUndef: return s.replace(mi, sm83.NewMI(ir.OpImplicitDef, mi.Ops[0]))
	case ir.OpMerge: return s.selectMerge(mi)
	case ir.OpUnmerge: return s.selectUnmerge(mi)
	case ir.OpSExt: return s.selectSExt(mi)
	case ir.OpGPhi: return s.selectPhi(mi)
	case ir.OpPtrAdd: return s.selectPtrAdd(mi)
	case ir.OpUAddO, ir.OpUAddE, ir.OpUSubO, ir.OpUSubE: return s.selectCarry(mi)
	case ir.OpIntToPtr, ir.OpPtrToInt: return s.selectPtrCast(mi)
	case ir.OpTrunc: return s.selectTrunc(mi)
	case ir.OpAnyExt: return s.selectAnyExt(mi)
	case ir.OpShl, ir.OpLShr, ir.OpAShr: return s.selectShift(mi)
	case ir.OpLoad: return s.selectLoad(mi)
	case ir.OpStore: return s.selectStore(mi)
	case ir.OpFrameIndex:
		return s.replace(mi, sm83.NewMI(sm83.LDHLSP, mi.Ops[0], mi.Ops[1], ir.ImmOp(0)))
	case ir.OpICmp: return s.selectICmp(mi)
	case ir.OpBrCond: return s.selectBrCond(mi)
	}
	return s.fail(mi, "cannot select")
}

// replace puts the given instructions in place of mi and constrains their
// explicit operands.
func (s *selector) replace(mi *ir.Instr, with ...*ir.Instr) error {
	b := ir.At(mi)
	for _, n := range with {
		b.Insert(n)
		if err := s.constrainOperands(n); err != nil { return err }
	}
	mi.EraseFromParent()
	return nil
}

func (s *selector) bits(r ir.Reg) int {
	if r.IsPhysical() { return sm83.RegBits(r) }
	return s.ri.SizeInBits(r)
}

// constrain narrows the class of a virtual register to rc. Physical registers
// must already belong to it.
func (s *selector) constrain(r ir.Reg, rc *ir.RegClass) error {
	if rc == nil || r == ir.NoReg { return nil }
	if r.IsPhysical() {
		if !rc.Contains(r) { return fmt.Errorf("$%s is not in %s", sm83.RegName(r), rc.Name) }
		return nil
	}
	if cur := s.ri.Class(r); cur != nil {
		if cur.Bits != rc.Bits { return fmt.Errorf("%%%d is %s, not %s", r.VirtIndex(), cur.Name, rc.Name) }
		return nil
	}
	if n := s.ri.SizeInBits(r); n > rc.Bits { return fmt.Errorf("%%%d has %d bits, %s holds %d", r.VirtIndex(), n, rc.Name, rc.Bits) }
	s.ri.SetClass(r, rc)
	return nil
}

// constrainOperands applies the classes of a machine description to the
// explicit operands of mi. Sub-register uses are left to constrainAll.
func (s *selector) constrainOperands(mi *ir.Instr) error {
	d := sm83.Desc(mi.Op)
	if d == nil { return nil }
	n := 0
	for i := range mi.Ops {
		op := &mi.Ops[i]
		if op.IsImplicit() { continue }
		idx := n
		n++
		if !op.IsReg() || op.SubReg != ir.NoSubReg || idx >= len(d.Classes) { continue }
		if err := s.constrain(op.Reg, d.Classes[idx]); err != nil { return s.fail(mi, "operand %d: %v", idx, err) }
	}
	return nil
}

// constrainAll gives every unconstrained virtual register of mi the class
// matching its width. Operand widths outside {8,16} cannot be placed, with
// the exception of 1-bit flags which live in GR8.
func (s *selector) constrainAll(mi *ir.Instr) error {
	for i := range mi.Ops {
		op := &mi.Ops[i]
		if !op.IsReg() || !op.Reg.IsVirtual() || s.ri.Class(op.Reg) != nil { continue }
		n := s.ri.SizeInBits(op.Reg)
		rc := sm83.ClassForSize(n)
		if rc == nil { return s.fail(mi, "no register class for %%%d (%d bits)", op.Reg.VirtIndex(), n) }
		s.ri.SetClass(op.Reg, rc)
	}
	return nil
}

func (s *selector) newReg(rc *ir.RegClass) ir.Reg { return s.ri.NewClassVReg(rc) }

// selectCopy constrains the virtual side of a copy to the class of the
// other side. Both sides must be equally wide.
func (s *selector) selectCopy(mi *ir.Instr) error {
	dst, src := mi.Ops[0], mi.Ops[1]
	srcBits := s.bits(src.Reg)
	if src.SubReg != ir.NoSubReg { srcBits = 8 }
	dstBits := s.bits(dst.Reg)
	if widthClass(dstBits) != widthClass(srcBits) {
		return s.fail(mi, "copy between registers of %d and %d bits", srcBits, dstBits)
	}
	rc := sm83.ClassForSize(dstBits)
	if rc == nil { return s.fail(mi, "no register class for %d bits", dstBits) }
	for _, r := range []ir.Reg{dst.Reg, src.Reg} {
		if !r.IsVirtual() || r == src.Reg && src.SubReg != ir.NoSubReg { continue }
		if err := s.constrain(r, rc); err != nil { return s.fail(mi, "%v", err) }
	}
	return nil
}

// widthClass folds the 1-bit flag into the byte registers.
func widthClass(bits int) int {
	if bits > 0 && bits <= 8 { return 8 }
	return bits
}
