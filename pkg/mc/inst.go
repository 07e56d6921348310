package mc

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
)

// Inst is a machine instruction reduced to the operands that appear in the
// assembly text.
type Inst struct {
	Op  ir.Op
	Ops []ir.Operand
}

// Lower drops implicit register operands and register masks from mi.
func Lower(mi *ir.Instr) (Inst, error) {
	inst := Inst{Op: mi.Op}
	for _, op := range mi.Ops {
		switch op.Kind {
		case ir.KindReg:
			if op.IsImplicit() { continue }
		case ir.KindRegMask:
			continue
		case ir.KindImm, ir.KindGlobal, ir.KindBlock, ir.KindFrameIndex, ir.KindSubRegIdx:
		default:
			return Inst{}, fmt.Errorf("operand kind %d has no assembly form", op.Kind)
		}
		inst.Ops = append(inst.Ops, op)
	}
	return inst, nil
}
