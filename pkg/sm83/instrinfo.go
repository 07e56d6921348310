package sm83

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
)

// BuildMI inserts a machine instruction and appends the implicit operands its
// description carries.
func BuildMI(b *ir.Builder, op ir.Op, ops ...ir.Operand) *ir.Instr {
	return b.Insert(NewMI(op, ops...))
}

// NewMI creates an unlinked machine instruction with its implicit operands.
func NewMI(op ir.Op, ops ...ir.Operand) *ir.Instr {
	mi := ir.BuildInstr(op, ops...)
	if d := Desc(op); d != nil {
		for _, r := range d.ImplicitDefs {
			mi.Ops = append(mi.Ops, ir.RegOpF(r, ir.RegDef|ir.RegImplicit))
		}
		for _, r := range d.ImplicitUses {
			mi.Ops = append(mi.Ops, ir.RegOpF(r, ir.RegImplicit))
		}
	}
	return mi
}

// CopyPhysReg copies between physical registers before the builder's
// insertion point. Pairs are copied one half at a time; the last copy marks the
// whole destination pair defined.
func CopyPhysReg(b *ir.Builder, dst, src ir.Reg, kill bool) error {
	if dst == src { return nil }
	_, err := copyPhysReg(b, dst, src, kill)
	return err
}

func copyPhysReg(b *ir.Builder, dst, src ir.Reg, kill bool) (*ir.Instr, error) {
	switch {
	case GR8.Contains(dst) && GR8.Contains(src):
		use := ir.RegOp(src)
		if kill { use.Flags |= ir.RegKill }
		return BuildMI(b, LDrr, ir.DefOp(dst), use), nil
	case GR16.Contains(dst) && GR16.Contains(src):
		if _, err := copyPhysReg(b, SubReg(dst, SubLow), SubReg(src, SubLow), kill); err != nil { return nil, err }
		last, err := copyPhysReg(b, SubReg(dst, SubHigh), SubReg(src, SubHigh), kill)
		if err != nil { return nil, err }
		last.Ops = append(last.Ops, ir.RegOpF(dst, ir.RegDef|ir.RegImplicit))
		if kill { last.Ops = append(last.Ops, ir.RegOpF(src, ir.RegImplicit|ir.RegKill)) }
		return last, nil
	}
	return nil, fmt.Errorf("copy from $%s to $%s: reg not in r8 or r16", RegName(src), RegName(dst))
}

func IsTriviallyRematerializable(mi *ir.Instr) bool {
	d := Desc(mi.Op)
	return d != nil && d.Flags&Remat != 0
}

// Spilling to and reloading from stack slots has no instruction sequence on
// this target yet.
func StoreRegToStackSlot(b *ir.Builder, src ir.Reg, kill bool, fi int) error {
	return fmt.Errorf("store of $%s to %%stack.%d: %w", RegName(src), fi, errStackSlot)
}

func LoadRegFromStackSlot(b *ir.Builder, dst ir.Reg, fi int) error {
	return fmt.Errorf("load of $%s from %%stack.%d: %w", RegName(dst), fi, errStackSlot)
}

var errStackSlot = fmt.Errorf("stack slot access unimplemented: %w", ir.ErrUnsupported)
