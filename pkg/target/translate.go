package target

import (
	"slices"

	"github.com/xplshn/sm83/pkg/calllower"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

const translatePass = "irtranslator"

// Translate lowers the formal arguments of f and replaces every call and
// ret translation instruction through call lowering.
//
// A call is laid out as its result registers, the callee and then the
// argument registers. A ret lists the returned registers. Writing a reserved
// register is an error.
func (t *Target) Translate(f *ir.Func) error {
	entry := f.Entry()
	if entry == nil { return ir.Errorf(translatePass, f, nil, "function has no blocks") }
	for _, mi := range f.Instrs() {
		for _, op := range mi.Ops {
			if op.IsReg() && op.IsDef() && slices.Contains(t.ReservedRegs, op.Reg) {
				return ir.Errorf(translatePass, f, mi, "writes reserved register $%s", sm83.RegName(op.Reg))
			}
		}
	}

	cl := t.CallLowering()
	b := ir.NewBuilder(f)
	b.SetBlockIndex(entry, 0)
	if err := cl.LowerFormalArguments(b, f); err != nil { return err }

	for _, mi := range f.Instrs() {
		switch mi.Op {
		case ir.OpRet:
			if err := cl.LowerReturn(ir.At(mi), f, mi.Uses()); err != nil { return err }
			mi.EraseFromParent()
		case ir.OpCall:
			info, err := callInfo(f, mi)
			if err != nil { return err }
			if err := cl.LowerCall(ir.At(mi), info); err != nil { return err }
			mi.EraseFromParent()
		}
	}
	f.Props |= ir.PropTranslated
	return nil
}

func callInfo(f *ir.Func, mi *ir.Instr) (*calllower.CallInfo, error) {
	n := mi.NumExplicitDefs()
	if n >= len(mi.Ops) { return nil, ir.Errorf(translatePass, f, mi, "call without callee") }
	defs := regsOf(mi.Ops[:n])
	info := &calllower.CallInfo{Callee: mi.Ops[n]}
	args := regsOf(mi.Ops[n+1:])

	var callee *ir.Func
	if f.Module != nil && info.Callee.Kind == ir.KindGlobal { callee = f.Module.FindFunc(info.Callee.Sym) }
	if callee == nil {
		// Undeclared callees take and return exactly the registers given.
		for _, r := range args {
			info.OrigArgs = append(info.OrigArgs, calllower.ArgInfo{Regs: []ir.Reg{r}, Ty: typeOf(f, r)})
		}
		info.OrigRet = calllower.ArgInfo{Regs: defs, Ty: tupleOf(f, defs)}
		return info, nil
	}

	sig := callee.Sig
	info.CallConv, info.IsVarArg = callee.CallConv, sig.Variadic
	for _, p := range sig.Params {
		k := len(ir.ComputeValueTypes(p.Ty))
		if k > len(args) { return nil, ir.Errorf(translatePass, f, mi, "too few arguments for @%s", callee.Name) }
		info.OrigArgs = append(info.OrigArgs, calllower.ArgInfo{Regs: args[:k], Ty: p.Ty, Flags: calllower.FlagsFromAttrs(p.Attrs)})
		args = args[k:]
	}
	for _, r := range args {
		if !sig.Variadic { return nil, ir.Errorf(translatePass, f, mi, "too many arguments for @%s", callee.Name) }
		info.OrigArgs = append(info.OrigArgs, calllower.ArgInfo{Regs: []ir.Reg{r}, Ty: typeOf(f, r)})
	}
	if len(defs) != len(ir.ComputeValueTypes(sig.Ret)) {
		return nil, ir.Errorf(translatePass, f, mi, "@%s returns %s, call binds %d registers", callee.Name, sig.Ret, len(defs))
	}
	info.OrigRet = calllower.ArgInfo{Regs: defs, Ty: sig.Ret, Flags: calllower.FlagsFromAttrs(sig.RetAttrs)}
	return info, nil
}

func regsOf(ops []ir.Operand) []ir.Reg {
	var rs []ir.Reg
	for _, op := range ops {
		if op.IsReg() { rs = append(rs, op.Reg) }
	}
	return rs
}

func typeOf(f *ir.Func, r ir.Reg) *ir.Type {
	t := f.Regs.Type(r)
	if t.IsPointer() { return ir.PtrTy(t.AddrSpace()) }
	return ir.IntTy(t.SizeInBits())
}

func tupleOf(f *ir.Func, rs []ir.Reg) *ir.Type {
	switch len(rs) {
	case 0: return ir.Void
	case 1: return typeOf(f, rs[0])
	}
	fields := make([]*ir.Type, len(rs))
	for i, r := range rs {
		fields[i] = typeOf(f, r)
	}
	return ir.StructTy(fields...)
}
