// Package frame lays out stack objects and resolves frame indices into
// stack pointer offsets once the frame size is known.
//
// The target has no frame pointer. A function's frame, from the incoming
// stack pointer down, is the return address pushed by CALL, the callee saved
// pairs in push order, then the local objects.
package frame

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
	"github.com/xplshn/sm83/pkg/util"
)

const (
	pass      = "prologue-epilogue"
	debugType = "sm83-frame"

	// retAddrSize is the width of the return address CALL leaves on the stack.
	retAddrSize = 2
)

// Lowering lays out frames with the callee saved registers its selector
// returns for each calling convention.
type Lowering struct {
	CalleeSavedRegs func(cc ir.CallConv) []ir.Reg
}

var SM83 = &Lowering{CalleeSavedRegs: sm83.CalleeSavedRegs}

func HasFP(f *ir.Func) bool { return false }

// EmitPrologue and EmitEpilogue emit nothing: callee saved registers are
// pushed and popped explicitly.
func EmitPrologue(f *ir.Func, entry *ir.Block) {}
func EmitEpilogue(f *ir.Func, ret *ir.Block) {}

// DetermineCalleeSaves returns the callee saved registers f writes, in save
// order. Writing either half of a pair counts as writing the pair.
func (l *Lowering) DetermineCalleeSaves(f *ir.Func) []ir.Reg {
	written := map[ir.Reg]bool{}
	for _, mi := range f.Instrs() {
		for _, op := range mi.Ops {
			if !op.IsReg() || !op.IsDef() || !op.Reg.IsPhysical() { continue }
			written[op.Reg] = true
			for _, a := range sm83.Aliases(op.Reg) {
				written[a] = true
			}
		}
	}
	var saved []ir.Reg
	for _, r := range l.CalleeSavedRegs(f.CallConv) {
		if written[r] { saved = append(saved, r) }
	}
	return saved
}

// SpillCalleeSavedRegisters pushes every saved register at the builder's
// position, last register first.
func SpillCalleeSavedRegisters(b *ir.Builder, csi []ir.CalleeSavedInfo) {
	for i := len(csi) - 1; i >= 0; i-- {
		sm83.BuildMI(b, sm83.PUSH, ir.RegOpF(csi[i].Reg, ir.RegKill))
	}
}

// RestoreCalleeSavedRegisters pops the saved registers back in declaration
// order, undoing SpillCalleeSavedRegisters.
func RestoreCalleeSavedRegisters(b *ir.Builder, csi []ir.CalleeSavedInfo) {
	for _, cs := range csi {
		sm83.BuildMI(b, sm83.POP, ir.DefOp(cs.Reg))
	}
}

// layout assigns frame offsets relative to the incoming stack pointer and
// returns the frame size.
func layout(fi *ir.FrameInfo) int {
	off := -retAddrSize
	saved := map[int]bool{}
	for i := len(fi.CSI) - 1; i >= 0; i-- {
		idx := fi.CSI[i].FrameIdx
		off -= fi.Object(idx).Size
		fi.SetObjectOffset(idx, off)
		saved[idx] = true
	}
	for idx := 0; idx < fi.NumObjects(); idx++ {
		if saved[idx] { continue }
		off -= fi.Object(idx).Size
		fi.SetObjectOffset(idx, off)
	}
	return -off - retAddrSize
}

// Finalize saves callee saved registers, lays out the frame and rewrites
// every frame index of a selected function.
func (l *Lowering) Finalize(f *ir.Func) error {
	if !f.Has(ir.PropSelected) { return ir.Errorf(pass, f, nil, "function is not selected") }
	if f.Has(ir.PropFrameFinalized) { return nil }

	fi := f.Frame
	fi.CSI = fi.CSI[:0]
	for _, r := range l.DetermineCalleeSaves(f) {
		fi.CSI = append(fi.CSI, ir.CalleeSavedInfo{Reg: r, FrameIdx: fi.CreateSpillSlot(sm83.RegBits(r) / 8)})
	}
	fi.StackSize = layout(fi)
	util.Debugf(debugType, "%s: %d saved, frame size %d", f.Name, len(fi.CSI), fi.StackSize)

	entry := f.Entry()
	EmitPrologue(f, entry)
	b := ir.NewBuilder(f)
	b.SetBlockIndex(entry, 0)
	SpillCalleeSavedRegisters(b, fi.CSI)
	for _, blk := range f.Blocks {
		for _, mi := range append([]*ir.Instr(nil), blk.Instrs...) {
			if !sm83.IsReturn(mi) { continue }
			RestoreCalleeSavedRegisters(ir.At(mi), fi.CSI)
			EmitEpilogue(f, blk)
		}
	}

	for _, mi := range f.Instrs() {
		for i := range mi.Ops {
			if !mi.Ops[i].IsFrameIndex() { continue }
			if err := EliminateFrameIndex(f, mi, 0, i); err != nil { return err }
		}
	}
	f.Props |= ir.PropFrameFinalized
	return nil
}

// EliminateFrameIndex replaces the frame index at operand fiOp and the
// immediate after it with the stack pointer and the resolved offset.
// Adjustments of the stack pointer in flight are not supported.
func EliminateFrameIndex(f *ir.Func, mi *ir.Instr, spAdj, fiOp int) error {
	if spAdj != 0 { return ir.Errorf(pass, f, mi, "unexpected stack adjustment %d", spAdj) }
	if fiOp+1 >= len(mi.Ops) || !mi.Ops[fiOp+1].IsImm() {
		return ir.Errorf(pass, f, mi, "frame index operand %d has no offset operand", fiOp)
	}
	idx := mi.Ops[fiOp].Index()
	obj := f.Frame.Object(idx)
	if obj == nil { return ir.Errorf(pass, f, mi, "no stack object %d", idx) }

	off := obj.Offset + retAddrSize + f.Frame.StackSize + int(mi.Ops[fiOp+1].Imm)
	util.Debugf(debugType, "%%stack.%d -> %d($sp)", idx, off)
	mi.Ops[fiOp].ChangeToRegister(sm83.StackRegister, false)
	mi.Ops[fiOp+1].ChangeToImmediate(int64(off))
	return nil
}
