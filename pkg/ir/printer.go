package ir

import (
	"fmt"
	"strings"
)

// Print renders a function in a MIR-like text form.
func Print(f *Func, n Naming) string {
	if n == nil { n = DefaultNaming }
	var sb strings.Builder
	fmt.Fprintf(&sb, "name: %s\n", f.Name)
	if f.Frame != nil && (f.Frame.NumObjects() > 0 || f.Frame.NumFixedObjects() > 0) {
		fmt.Fprintf(&sb, "frame: stack-size %d\n", f.Frame.StackSize)
		for i := 1; i <= f.Frame.NumFixedObjects(); i++ {
			o := f.Frame.Object(-i)
			fmt.Fprintf(&sb, "  %%fixed-stack.%d: size %d, offset %d\n", i-1, o.Size, o.Offset)
		}
		for i := 0; i < f.Frame.NumObjects(); i++ {
			o := f.Frame.Object(i)
			fmt.Fprintf(&sb, "  %%stack.%d: size %d, offset %d\n", i, o.Size, o.Offset)
		}
	}
	sb.WriteString("body:\n")
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b)
		if len(b.Succs) > 0 {
			succs := make([]string, len(b.Succs))
			for i, s := range b.Succs {
				succs[i] = fmt.Sprintf("%%bb.%d", s.Num)
			}
			fmt.Fprintf(&sb, "  successors: %s\n", strings.Join(succs, ", "))
		}
		if len(b.LiveIns) > 0 {
			ins := make([]string, len(b.LiveIns))
			for i, r := range b.LiveIns {
				ins[i] = "$" + n.RegName(r)
			}
			fmt.Fprintf(&sb, "  liveins: %s\n", strings.Join(ins, ", "))
		}
		for _, mi := range b.Instrs {
			fmt.Fprintf(&sb, "  %s\n", PrintInstr(mi, f, n))
		}
	}
	return sb.String()
}

func PrintInstr(mi *Instr, f *Func, n Naming) string {
	if n == nil { n = DefaultNaming }
	var ri *RegInfo
	if f != nil { ri = f.Regs }

	var sb strings.Builder
	nd := mi.NumExplicitDefs()
	for i := 0; i < nd; i++ {
		if i > 0 { sb.WriteString(", ") }
		sb.WriteString(printOperand(&mi.Ops[i], ri, n, true))
	}
	if nd > 0 { sb.WriteString(" = ") }
	sb.WriteString(n.OpName(mi.Op))
	for i := nd; i < len(mi.Ops); i++ {
		if i > nd { sb.WriteString(",") }
		sb.WriteString(" ")
		sb.WriteString(printOperand(&mi.Ops[i], ri, n, false))
	}
	return sb.String()
}

func printOperand(op *Operand, ri *RegInfo, n Naming, explicitDef bool) string {
	switch op.Kind {
	case KindImm: return fmt.Sprint(op.Imm)
	case KindGlobal:
		if op.Imm != 0 { return fmt.Sprintf("@%s + %d", op.Sym, op.Imm) }
		return "@" + op.Sym
	case KindBlock: return fmt.Sprintf("%%bb.%d", op.Block.Num)
	case KindFrameIndex:
		if op.Imm < 0 { return fmt.Sprintf("%%fixed-stack.%d", -op.Imm-1) }
		return fmt.Sprintf("%%stack.%d", op.Imm)
	case KindPred: return fmt.Sprintf("intpred(%s)", op.Pred)
	case KindRegMask:
		if op.Mask == nil { return "<regmask>" }
		return "csr_" + op.Mask.Name
	case KindSubRegIdx: return n.SubRegName(op.SubReg)
	}

	var sb strings.Builder
	switch {
	case op.IsImplicit() && op.IsDef(): sb.WriteString("implicit-def ")
	case op.IsImplicit(): sb.WriteString("implicit ")
	}
	if op.Flags&RegDead != 0 { sb.WriteString("dead ") }
	if op.IsKill() { sb.WriteString("killed ") }
	if op.IsUndef() { sb.WriteString("undef ") }

	switch {
	case op.Reg == NoReg: sb.WriteString("$noreg")
	case op.Reg.IsPhysical(): sb.WriteString("$" + n.RegName(op.Reg))
	default:
		fmt.Fprintf(&sb, "%%%d", op.Reg.VirtIndex())
		if explicitDef && ri != nil { sb.WriteString(vregSuffix(op.Reg, ri)) }
	}
	if op.SubReg != NoSubReg { sb.WriteString("." + n.SubRegName(op.SubReg)) }
	return sb.String()
}

func vregSuffix(r Reg, ri *RegInfo) string {
	ty := ri.Type(r)
	switch {
	case ri.Class(r) != nil: return ":" + strings.ToLower(ri.Class(r).Name)
	case ri.Bank(r) != nil && ty.IsValid(): return fmt.Sprintf(":%s(%s)", strings.ToLower(ri.Bank(r).Name), ty)
	case ty.IsValid(): return "(" + ty.String() + ")"
	}
	return ""
}
