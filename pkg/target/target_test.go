package target

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/calllower"
	"github.com/xplshn/sm83/pkg/config"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

func newFunc(m *ir.Module, name string, ret *ir.Type, params ...*ir.Type) (*ir.Func, [][]ir.Reg, *ir.Builder) {
	f := ir.NewFunc(name, &ir.Signature{Ret: ret}, m)
	var regs [][]ir.Reg
	for _, ty := range params {
		p := &ir.Param{Ty: ty}
		for _, vt := range ir.ComputeValueTypes(ty) {
			p.Regs = append(p.Regs, f.Regs.NewVReg(f.DataLayout().LLTOf(vt)))
		}
		f.Sig.Params = append(f.Sig.Params, p)
		regs = append(regs, p.Regs)
	}
	if m != nil { m.Funcs = append(m.Funcs, f) }
	b := ir.NewBuilder(f)
	b.SetBlockEnd(f.NewBlock("entry"))
	return f, regs, b
}

func opcodes(b *ir.Block) []string {
	var names []string
	for _, mi := range b.Instrs {
		names = append(names, sm83.OpName(mi.Op))
	}
	return names
}

func compile(t *testing.T, f *ir.Func) {
	t.Helper()
	if _, err := SM83.Compile(f, OptionsFromConfig(config.NewConfig())); err != nil { t.Fatalf("Compile: %v\n%s", err, ir.Print(f, nil)) }
	for _, mi := range f.Instrs() {
		if mi.Op.IsGeneric() || mi.Op == ir.OpCall || mi.Op == ir.OpRet { t.Fatalf("left over: %s", ir.PrintInstr(mi, f, nil)) }
	}
	if !f.Has(ir.PropTranslated | ir.PropLegalized | ir.PropRegBankSelected | ir.PropSelected | ir.PropFrameFinalized) {
		t.Fatalf("props = %b", f.Props)
	}
}

func TestLookup(t *testing.T) {
	tgt, err := Lookup("sm83")
	if err != nil || tgt != SM83 { t.Fatalf("Lookup(sm83) = %v, %v", tgt, err) }
	if _, err := Lookup("z80"); err == nil { t.Errorf("z80 found") }
	if diff := cmp.Diff([]string{"sm83"}, Names()); diff != "" { t.Errorf("names (-want +got):\n%s", diff) }
	if tgt.CallConv(ir.CallConvC, true) != nil || tgt.RetCallConv(ir.CallConvCold) != nil { t.Errorf("unsupported conventions accepted") }
	if diff := cmp.Diff([]ir.Reg{sm83.BC, sm83.HL}, tgt.CalleeSavedRegs(ir.CallConvC)); diff != "" { t.Errorf("callee saved (-want +got):\n%s", diff) }
	if _, err := ir.ParseDataLayout(tgt.DataLayout); err != nil { t.Errorf("data layout: %v", err) }
}

func TestCompileAdd(t *testing.T) {
	f, args, b := newFunc(nil, "add", ir.IntTy(8), ir.IntTy(8), ir.IntTy(8))
	sum := b.Binary(ir.OpAdd, ir.S8, args[0][0], args[1][0])
	b.Build(ir.OpRet, ir.RegOp(sum))
	compile(t, f)

	want := []string{"COPY", "COPY", sm83.OpName(sm83.ADDr), "COPY", sm83.OpName(sm83.RET)}
	if diff := cmp.Diff(want, opcodes(f.Entry())); diff != "" { t.Errorf("opcodes (-want +got):\n%s", diff) }
	if diff := cmp.Diff([]ir.Reg{sm83.A, sm83.E}, f.Entry().LiveIns); diff != "" { t.Errorf("live-ins (-want +got):\n%s", diff) }
	if f.Frame.StackSize != 0 || len(f.Frame.CSI) != 0 { t.Errorf("frame = %d bytes, %d saved", f.Frame.StackSize, len(f.Frame.CSI)) }
}

func TestCompileLocal(t *testing.T) {
	f, _, b := newFunc(nil, "local", ir.IntTy(16))
	slot := f.Frame.CreateStackObject(2)
	v := b.Load(ir.S16, b.FrameIndex(ir.P0, slot))
	b.Build(ir.OpRet, ir.RegOp(v))
	compile(t, f)

	ldrm := sm83.OpName(sm83.LDrm)
	want := []string{ldrm, ldrm, "REG_SEQUENCE", "COPY", sm83.OpName(sm83.RET)}
	if diff := cmp.Diff(want, opcodes(f.Entry())); diff != "" { t.Fatalf("opcodes (-want +got):\n%s", diff) }
	for i, mi := range f.Entry().Instrs[:2] {
		if mi.Ops[1].Reg != sm83.SP || mi.Ops[2].Imm != int64(i) { t.Errorf("byte %d addressed as %s", i, ir.PrintInstr(mi, f, nil)) }
	}
	if f.Frame.StackSize != 2 || f.Frame.ObjectOffset(slot) != -4 { t.Errorf("frame = %d bytes, slot at %d", f.Frame.StackSize, f.Frame.ObjectOffset(slot)) }
}

func TestCompileStackArgument(t *testing.T) {
	i8 := ir.IntTy(8)
	f, args, b := newFunc(nil, "fourth", i8, i8, i8, i8, i8)
	b.Build(ir.OpRet, ir.RegOp(args[3][0]))
	compile(t, f)

	want := []string{sm83.OpName(sm83.LDrm), "COPY", sm83.OpName(sm83.RET)}
	if diff := cmp.Diff(want, opcodes(f.Entry())); diff != "" { t.Fatalf("opcodes (-want +got):\n%s", diff) }
	ld := f.Entry().Instrs[0]
	if ld.Ops[1].Reg != sm83.SP || ld.Ops[2].Imm != 2 { t.Errorf("stack argument addressed as %s", ir.PrintInstr(ld, f, nil)) }
	if f.Frame.NumFixedObjects() != 1 { t.Errorf("%d fixed objects", f.Frame.NumFixedObjects()) }
}

func TestCompileCall(t *testing.T) {
	m := &ir.Module{}
	i8 := ir.IntTy(8)
	_, gargs, gb := newFunc(m, "g", i8, i8)
	gb.Build(ir.OpRet, ir.RegOp(gargs[0][0]))

	f, args, b := newFunc(m, "f", i8, i8)
	r := f.Regs.NewVReg(ir.S8)
	b.Build(ir.OpCall, ir.DefOp(r), ir.GlobalOp("g", 0), ir.RegOp(args[0][0]))
	b.Build(ir.OpRet, ir.RegOp(r))
	compile(t, f)

	want := []string{"COPY", "COPY", sm83.OpName(sm83.CALL), "COPY", "COPY", sm83.OpName(sm83.RET)}
	if diff := cmp.Diff(want, opcodes(f.Entry())); diff != "" { t.Errorf("opcodes (-want +got):\n%s", diff) }
	if !f.Frame.HasCalls { t.Errorf("call not recorded in frame") }
}

func TestCompileBranch(t *testing.T) {
	i8 := ir.IntTy(8)
	f, args, b := newFunc(nil, "sel", i8, i8)
	then, els := f.NewBlock("then"), f.NewBlock("else")
	f.Entry().AddSuccessor(then)
	f.Entry().AddSuccessor(els)
	b.Build(ir.OpBrCond, ir.RegOp(b.ICmp(ir.PredEQ, args[0][0], b.Constant(ir.S8, 0))), ir.BlockOp(then))
	b.Build(ir.OpBr, ir.BlockOp(els))
	b.SetBlockEnd(then)
	b.Build(ir.OpRet, ir.RegOp(b.Constant(ir.S8, 1)))
	b.SetBlockEnd(els)
	b.Build(ir.OpRet, ir.RegOp(b.Constant(ir.S8, 2)))
	compile(t, f)

	for _, blk := range []*ir.Block{then, els} {
		last := blk.Instrs[len(blk.Instrs)-1]
		if last.Op != sm83.RET { t.Errorf("%s ends in %s", blk, sm83.OpName(last.Op)) }
	}
	entry := opcodes(f.Entry())
	if got := entry[len(entry)-1]; got != sm83.OpName(sm83.JP) { t.Errorf("entry ends in %s", got) }
}

func TestTranslateErrors(t *testing.T) {
	i8 := ir.IntTy(8)
	tests := []struct {
		name  string
		build func(m *ir.Module) *ir.Func
		msg   string
		unsup bool
	}{
		{"indirect", func(m *ir.Module) *ir.Func {
			f, _, b := newFunc(m, "f", ir.Void, ir.PtrTy(0))
			b.Build(ir.OpCall, ir.RegOp(f.Sig.Params[0].Regs[0]))
			b.Build(ir.OpRet)
			return f
		}, "indirect call", true},
		{"too few", func(m *ir.Module) *ir.Func {
			newFunc(m, "g", ir.Void, i8, i8)
			f, args, b := newFunc(m, "f", ir.Void, i8)
			b.Build(ir.OpCall, ir.GlobalOp("g", 0), ir.RegOp(args[0][0]))
			b.Build(ir.OpRet)
			return f
		}, "too few arguments", false},
		{"result count", func(m *ir.Module) *ir.Func {
			newFunc(m, "g", ir.Void)
			f, _, b := newFunc(m, "f", ir.Void)
			b.Build(ir.OpCall, ir.DefOp(f.Regs.NewVReg(ir.S8)), ir.GlobalOp("g", 0))
			b.Build(ir.OpRet)
			return f
		}, "call binds 1 registers", false},
		{"reserved register", func(m *ir.Module) *ir.Func {
			f, args, b := newFunc(m, "f", ir.Void, ir.PtrTy(0))
			b.Copy(sm83.SP, args[0][0])
			b.Build(ir.OpRet)
			return f
		}, "writes reserved register $sp", false},
		{"cold callee", func(m *ir.Module) *ir.Func {
			g, _, _ := newFunc(m, "g", ir.Void)
			g.CallConv = ir.CallConvCold
			f, _, b := newFunc(m, "f", ir.Void)
			b.Build(ir.OpCall, ir.GlobalOp("g", 0))
			b.Build(ir.OpRet)
			return f
		}, "cold", true},
	}
	for _, tt := range tests {
		f := tt.build(&ir.Module{})
		err := SM83.Translate(f)
		if err == nil || !strings.Contains(err.Error(), tt.msg) { t.Errorf("%s: error = %v, want %q", tt.name, err, tt.msg); continue }
		if got := errors.Is(err, ir.ErrUnsupported); got != tt.unsup { t.Errorf("%s: unsupported = %v", tt.name, got) }
		var pe *ir.PassError
		if !errors.As(err, &pe) || pe.Func != "f" { t.Errorf("%s: error does not name the function: %v", tt.name, err) }
	}
}

func TestDescriptorHooks(t *testing.T) {
	tgt := *SM83
	tgt.RetCallConv = func(ir.CallConv) *calllower.Convention { return nil }
	tgt.CalleeSavedRegs = func(ir.CallConv) []ir.Reg { return []ir.Reg{sm83.HL} }

	f, args, b := newFunc(nil, "f", ir.IntTy(8), ir.IntTy(8))
	b.Build(ir.OpRet, ir.RegOp(args[0][0]))
	if err := tgt.Translate(f); !errors.Is(err, ir.ErrUnsupported) { t.Errorf("return under a missing convention: %v", err) }

	g, _, b := newFunc(nil, "g", ir.Void)
	g.Props |= ir.PropTranslated | ir.PropLegalized | ir.PropRegBankSelected | ir.PropSelected
	sm83.BuildMI(b, sm83.LDri, ir.DefOp(sm83.C), ir.ImmOp(1))
	sm83.BuildMI(b, sm83.LDri, ir.DefOp(sm83.L), ir.ImmOp(2))
	sm83.BuildMI(b, sm83.RET)
	if err := tgt.FinalizeFrame(g); err != nil { t.Fatal(err) }
	if len(g.Frame.CSI) != 1 || g.Frame.CSI[0].Reg != sm83.HL { t.Errorf("saved = %v", g.Frame.CSI) }
}

func TestBadRules(t *testing.T) {
	f, _, b := newFunc(nil, "f", ir.Void)
	b.Build(ir.OpRet)
	opts := OptionsFromConfig(config.NewConfig())
	opts.PostLegalRules = "-nonsense"
	_, err := SM83.Compile(f, opts)
	var pe *ir.PassError
	if !errors.As(err, &pe) || pe.Pass != "combiner" { t.Errorf("error = %v", err) }
}
