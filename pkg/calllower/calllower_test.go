package calllower

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

func newFunc(sig *ir.Signature) (*ir.Func, *ir.Builder) {
	f := ir.NewFunc("test", sig, nil)
	b := ir.NewBuilder(f)
	b.SetBlockEnd(f.NewBlock("entry"))
	return f, b
}

func param(f *ir.Func, name string, ty *ir.Type) *ir.Param {
	p := &ir.Param{Name: name, Ty: ty}
	for _, vt := range ir.ComputeValueTypes(ty) {
		p.Regs = append(p.Regs, f.Regs.NewVReg(f.DataLayout().LLTOf(vt)))
	}
	return p
}

func assignAll(cc *Convention, tys ...ir.LLT) ([]ValAssign, bool) {
	st := NewState(ir.CallConvC)
	for i, ty := range tys {
		if !cc.Assign(i, ty, 0, st) { return st.Locs, false }
	}
	return st.Locs, true
}

func TestArgumentConvention(t *testing.T) {
	tests := []struct {
		name string
		tys  []ir.LLT
		regs []ir.Reg
		offs []int
	}{
		{"bytes", []ir.LLT{ir.S8, ir.S8, ir.S8}, []ir.Reg{sm83.A, sm83.E, sm83.D}, []int{0, 0, 0}},
		{"bytes spill", []ir.LLT{ir.S8, ir.S8, ir.S8, ir.S8, ir.S8}, []ir.Reg{sm83.A, sm83.E, sm83.D, 0, 0}, []int{0, 0, 0, 0, 1}},
		{"word", []ir.LLT{ir.S16}, []ir.Reg{sm83.DE}, []int{0}},
		{"byte then word", []ir.LLT{ir.S8, ir.P0}, []ir.Reg{sm83.A, sm83.DE}, []int{0, 0}},
		// DE shadows both of its halves.
		{"word then byte", []ir.LLT{ir.S16, ir.S8, ir.P1}, []ir.Reg{sm83.DE, sm83.A, 0}, []int{0, 0, 0}},
		{"two words", []ir.LLT{ir.S16, ir.S16, ir.S16}, []ir.Reg{sm83.DE, 0, 0}, []int{0, 0, 2}},
		{"bool", []ir.LLT{ir.S1}, []ir.Reg{sm83.A}, []int{0}},
	}
	for _, tt := range tests {
		locs, ok := assignAll(CCSM83, tt.tys...)
		if !ok { t.Errorf("%s: assignment failed", tt.name); continue }
		var regs []ir.Reg
		var offs []int
		for _, va := range locs {
			regs = append(regs, va.Reg)
			offs = append(offs, va.Offset)
		}
		if diff := cmp.Diff(tt.regs, regs); diff != "" { t.Errorf("%s: registers (-want +got):\n%s", tt.name, diff) }
		if diff := cmp.Diff(tt.offs, offs); diff != "" { t.Errorf("%s: offsets (-want +got):\n%s", tt.name, diff) }
	}
	if locs, _ := assignAll(CCSM83, ir.S1); locs[0].LocTy != ir.S8 || locs[0].Info != ZExt { t.Errorf("i1 not promoted to a zero extended byte: %+v", locs[0]) }
}

func TestReturnConvention(t *testing.T) {
	if _, ok := assignAll(RetCCSM83, ir.S8, ir.S8); !ok { t.Errorf("two bytes do not fit A, E") }
	if _, ok := assignAll(RetCCSM83, ir.S8, ir.S8, ir.S8); ok { t.Errorf("third byte returned on the stack") }
	if _, ok := assignAll(RetCCSM83, ir.S16, ir.S16); ok { t.Errorf("second word returned on the stack") }
	if RetCCSM83.Capacity(ir.S16) != 1 || CCSM83.Capacity(ir.S16) != -1 { t.Errorf("capacities = %d, %d", RetCCSM83.Capacity(ir.S16), CCSM83.Capacity(ir.S16)) }
}

func TestSplitStruct(t *testing.T) {
	f, _ := newFunc(nil)
	ty := ir.StructTy(ir.IntTy(8), ir.IntTy(16), ir.PtrTy(1))
	p := param(f, "s", ty)
	calls := 0
	split, err := SplitToValueTypes(ArgInfo{Regs: p.Regs, Ty: ty}, f, CCSM83, func([]ir.Reg, ir.Reg) { calls++ })
	if err != nil { t.Fatal(err) }
	if len(split) != 3 || calls != 0 { t.Fatalf("split into %d parts with %d callbacks, want 3 and 0", len(split), calls) }
	for i, a := range split {
		if a.Regs[0] != p.Regs[i] { t.Errorf("part %d lost its register", i) }
		if last := a.Flags&FlagInConsecutiveRegsLast != 0; last != (i == 2) { t.Errorf("part %d last flag = %v", i, last) }
		if !a.OrigTy.Equal(ty) { t.Errorf("part %d original type = %s", i, a.OrigTy) }
	}
}

func TestSplitWideValue(t *testing.T) {
	f, _ := newFunc(nil)
	ty := ir.StructTy(ir.IntTy(8), ir.IntTy(32))
	p := param(f, "s", ty)
	var got [][]ir.Reg
	var origs []ir.Reg
	split, err := SplitToValueTypes(ArgInfo{Regs: p.Regs, Ty: ty}, f, CCSM83, func(parts []ir.Reg, orig ir.Reg) {
		got = append(got, parts)
		origs = append(origs, orig)
	})
	if err != nil { t.Fatal(err) }
	if len(split) != 3 { t.Fatalf("split into %d parts, want 3", len(split)) }
	if len(got) != 1 || len(got[0]) != 2 || origs[0] != p.Regs[1] { t.Fatalf("callback calls = %v for %v", got, origs) }
	for i, r := range got[0] {
		if split[i+1].Regs[0] != r || f.Regs.Type(r) != ir.S16 { t.Errorf("part %d = %v", i, split[i+1]) }
		if split[i+1].Flags&FlagInConsecutiveRegs == 0 { t.Errorf("part %d not in a consecutive group", i) }
	}
	if split[2].Flags&FlagInConsecutiveRegsLast == 0 || split[1].Flags&FlagInConsecutiveRegsLast != 0 { t.Errorf("last flag misplaced") }

	// The return convention has a single word register.
	_, err = SplitToValueTypes(ArgInfo{Regs: []ir.Reg{f.Regs.NewVReg(ir.S32)}, Ty: ir.IntTy(32)}, f, RetCCSM83, nil)
	if !errors.Is(err, ir.ErrUnsupported) { t.Errorf("i32 return split error = %v, want unsupported", err) }
}

func opcodes(b *ir.Block) []string {
	var names []string
	for _, mi := range b.Instrs {
		names = append(names, sm83.OpName(mi.Op))
	}
	return names
}

func TestLowerFormalArguments(t *testing.T) {
	f, b := newFunc(nil)
	a, c, x := param(f, "a", ir.IntTy(8)), param(f, "c", ir.IntTy(1)), param(f, "x", ir.IntTy(8))
	// E is taken, so DE is shadowed and w goes to the stack.
	w := param(f, "w", ir.IntTy(16))
	f.Sig = &ir.Signature{Params: []*ir.Param{a, c, x, w}, Ret: ir.Void}
	if err := SM83.LowerFormalArguments(b, f); err != nil { t.Fatal(err) }

	entry := f.Entry()
	want := []string{"COPY", "COPY", "G_TRUNC", "COPY", "G_FRAME_INDEX", "G_LOAD"}
	if diff := cmp.Diff(want, opcodes(entry)); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	if diff := cmp.Diff([]ir.Reg{sm83.A, sm83.E, sm83.D}, entry.LiveIns); diff != "" { t.Errorf("live-ins (-want +got):\n%s", diff) }
	if f.Frame.NumFixedObjects() != 1 || f.Frame.Object(-1).Size != 2 { t.Errorf("stack argument not given a fixed object") }
	if tr := entry.Instrs[2]; tr.Reg(0) != c.Regs[0] { t.Errorf("promoted argument truncated into %v", tr.Reg(0)) }
	if ld := entry.Instrs[5]; ld.Reg(0) != w.Regs[0] { t.Errorf("stack argument loaded into %v", ld.Reg(0)) }
}

func TestLowerWideFormal(t *testing.T) {
	f, b := newFunc(nil)
	p := param(f, "l", ir.IntTy(32))
	f.Sig = &ir.Signature{Params: []*ir.Param{p}, Ret: ir.Void}
	if err := SM83.LowerFormalArguments(b, f); err != nil { t.Fatal(err) }

	want := []string{"COPY", "G_FRAME_INDEX", "G_LOAD", "G_MERGE_VALUES"}
	if diff := cmp.Diff(want, opcodes(f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	if merge := f.Entry().Instrs[3]; merge.Reg(0) != p.Regs[0] { t.Errorf("merge does not rebuild the parameter") }
}

func TestLowerReturn(t *testing.T) {
	f, b := newFunc(&ir.Signature{Ret: ir.StructTy(ir.IntTy(8), ir.IntTy(8))})
	x, y := f.Regs.NewVReg(ir.S8), f.Regs.NewVReg(ir.S8)
	if err := SM83.LowerReturn(b, f, []ir.Reg{x, y}); err != nil { t.Fatal(err) }

	instrs := f.Entry().Instrs
	if diff := cmp.Diff([]string{"COPY", "COPY", "RET"}, opcodes(f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	if instrs[0].Reg(0) != sm83.A || instrs[1].Reg(0) != sm83.E { t.Errorf("return registers = $%s, $%s", sm83.RegName(instrs[0].Reg(0)), sm83.RegName(instrs[1].Reg(0))) }
	ret := instrs[2]
	var uses []ir.Reg
	for _, op := range ret.Ops {
		if op.IsUse() && op.IsImplicit() { uses = append(uses, op.Reg) }
	}
	if diff := cmp.Diff([]ir.Reg{sm83.SP, sm83.A, sm83.E}, uses); diff != "" { t.Errorf("RET implicit uses (-want +got):\n%s", diff) }

	f, b = newFunc(&ir.Signature{Ret: ir.IntTy(1)})
	if err := SM83.LowerReturn(b, f, []ir.Reg{f.Regs.NewVReg(ir.S1)}); err != nil { t.Fatal(err) }
	if diff := cmp.Diff([]string{"G_ZEXT", "COPY", "RET"}, opcodes(f.Entry())); diff != "" { t.Errorf("i1 return (-want +got):\n%s", diff) }
}

func TestLowerReturnTooWide(t *testing.T) {
	f, b := newFunc(&ir.Signature{Ret: ir.StructTy(ir.IntTy(16), ir.IntTy(16))})
	err := SM83.LowerReturn(b, f, []ir.Reg{f.Regs.NewVReg(ir.S16), f.Regs.NewVReg(ir.S16)})
	var pe *ir.PassError
	if !errors.As(err, &pe) || !errors.Is(err, ir.ErrUnsupported) { t.Fatalf("error = %v, want an unsupported PassError", err) }
	if len(f.Entry().Instrs) != 0 { t.Errorf("partial output left behind: %v", opcodes(f.Entry())) }
}

func TestLowerCall(t *testing.T) {
	f, b := newFunc(nil)
	x, y := f.Regs.NewVReg(ir.S8), f.Regs.NewVReg(ir.P0)
	r := f.Regs.NewVReg(ir.S8)
	err := SM83.LowerCall(b, &CallInfo{
		Callee:   ir.GlobalOp("g", 0),
		OrigArgs: []ArgInfo{{Regs: []ir.Reg{x}, Ty: ir.IntTy(8)}, {Regs: []ir.Reg{y}, Ty: ir.PtrTy(0)}},
		OrigRet:  ArgInfo{Regs: []ir.Reg{r}, Ty: ir.IntTy(8)},
	})
	if err != nil { t.Fatal(err) }

	if diff := cmp.Diff([]string{"COPY", "COPY", "CALL", "COPY"}, opcodes(f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	call := f.Entry().Instrs[2]
	var mask *ir.RegMask
	var uses, defs []ir.Reg
	for _, op := range call.Ops {
		switch {
		case op.Kind == ir.KindRegMask: mask = op.Mask
		case op.IsReg() && op.IsImplicit() && op.IsDef(): defs = append(defs, op.Reg)
		case op.IsReg() && op.IsImplicit(): uses = append(uses, op.Reg)
		}
	}
	if call.Ops[0].Sym != "g" || mask != sm83.CallPreserved { t.Errorf("call = %s", ir.PrintInstr(call, f, nil)) }
	if diff := cmp.Diff([]ir.Reg{sm83.SP, sm83.A, sm83.DE}, uses); diff != "" { t.Errorf("call uses (-want +got):\n%s", diff) }
	if diff := cmp.Diff([]ir.Reg{sm83.SP, sm83.A}, defs); diff != "" { t.Errorf("call defs (-want +got):\n%s", diff) }
	if !f.Frame.HasCalls || !f.Frame.AdjustsStack { t.Errorf("frame does not record the call") }
	if cp := f.Entry().Instrs[3]; cp.Reg(0) != r || cp.Reg(1) != sm83.A { t.Errorf("result copy = %s", ir.PrintInstr(cp, f, nil)) }
}

func TestRejectedCalls(t *testing.T) {
	tests := []struct {
		name string
		info CallInfo
	}{
		{"indirect", CallInfo{Callee: ir.RegOp(ir.VirtReg(1))}},
		{"variadic", CallInfo{Callee: ir.GlobalOp("printf", 0), IsVarArg: true}},
		{"cold", CallInfo{Callee: ir.GlobalOp("g", 0), CallConv: ir.CallConvCold}},
		{"stack argument", CallInfo{Callee: ir.GlobalOp("g", 0), OrigArgs: []ArgInfo{
			{Regs: []ir.Reg{ir.VirtReg(1)}, Ty: ir.IntTy(16)},
			{Regs: []ir.Reg{ir.VirtReg(2)}, Ty: ir.IntTy(16)},
		}}},
	}
	for _, tt := range tests {
		f, b := newFunc(nil)
		f.Regs.NewVReg(ir.S16)
		f.Regs.NewVReg(ir.S16)
		tt.info.OrigRet.Ty = ir.Void
		if err := SM83.LowerCall(b, &tt.info); !errors.Is(err, ir.ErrUnsupported) { t.Errorf("%s: error = %v, want unsupported", tt.name, err) }
	}
}

func TestConventionSelectors(t *testing.T) {
	// Arguments under the return convention have no stack fallback.
	cl := &CallLowering{
		CallConv:    func(ir.CallConv, bool) *Convention { return RetCCSM83 },
		RetCallConv: func(ir.CallConv) *Convention { return nil },
	}
	f, b := newFunc(nil)
	a, c, x := param(f, "a", ir.IntTy(8)), param(f, "c", ir.IntTy(8)), param(f, "x", ir.IntTy(8))
	f.Sig = &ir.Signature{Params: []*ir.Param{a, c, x}, Ret: ir.Void}
	if err := cl.LowerFormalArguments(b, f); err == nil { t.Errorf("third byte argument accepted without a register") }

	f, b = newFunc(&ir.Signature{Ret: ir.IntTy(8)})
	if err := cl.LowerReturn(b, f, []ir.Reg{f.Regs.NewVReg(ir.S8)}); !errors.Is(err, ir.ErrUnsupported) { t.Errorf("return error = %v, want unsupported", err) }

	f, b = newFunc(nil)
	err := cl.LowerCall(b, &CallInfo{
		Callee:  ir.GlobalOp("g", 0),
		OrigRet: ArgInfo{Regs: []ir.Reg{f.Regs.NewVReg(ir.S8)}, Ty: ir.IntTy(8)},
	})
	if !errors.Is(err, ir.ErrUnsupported) { t.Errorf("call result error = %v, want unsupported", err) }
}
