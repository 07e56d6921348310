package legalizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

func q(op ir.Op, types ...ir.LLT) Query { return Query{Op: op, Types: types} }

func TestSM83Actions(t *testing.T) {
	s32 := ir.S32
	tests := []struct {
		query Query
		want  Step
	}{
		{q(ir.OpAdd, s8), Step{Action: Legal}},
		{q(ir.OpAdd, s1), Step{WidenScalar, 0, s8}},
		{q(ir.OpAdd, s16), Step{NarrowScalar, 0, s8}},
		{q(ir.OpXor, s32), Step{NarrowScalar, 0, s8}},
		{q(ir.OpAdd, p0), Step{Action: Unsupported}},
		{q(ir.OpUAddO, s8, s1), Step{Action: Legal}},
		{q(ir.OpUAddE, s16, s1), Step{NarrowScalar, 0, s8}},
		{q(ir.OpConstant, s16), Step{Action: Legal}},
		{q(ir.OpConstant, s32), Step{NarrowScalar, 0, s16}},
		{q(ir.OpConstant, p1), Step{Action: Legal}},
		{q(ir.OpGlobalValue, p0), Step{Action: Legal}},
		{q(ir.OpGlobalValue, s8), Step{Action: Unsupported}},
		{q(ir.OpGPhi, s1), Step{WidenScalar, 0, s8}},
		{q(ir.OpGPhi, p1), Step{Action: Legal}},
		{q(ir.OpAbs, s8), Step{Action: Lower}},
		{q(ir.OpShl, s8, s8), Step{Action: Legal}},
		{q(ir.OpShl, s16, s8), Step{NarrowScalar, 0, s8}},
		{q(ir.OpLShr, s8, s16), Step{NarrowScalar, 1, s8}},
		{q(ir.OpSExt, s8, s1), Step{Action: Legal}},
		{q(ir.OpSExt, s16, s8), Step{Action: Lower}},
		{q(ir.OpZExt, s8, s1), Step{Action: Lower}},
		{q(ir.OpAnyExt, s16, s1), Step{Action: Legal}},
		{q(ir.OpAnyExt, ir.Scalar(12), s8), Step{WidenScalar, 0, s16}},
		{q(ir.OpAnyExt, s32, s8), Step{NarrowScalar, 0, s16}},
		{q(ir.OpTrunc, s1, s16), Step{Action: Legal}},
		{q(ir.OpTrunc, s8, s32), Step{Action: Lower}},
		{q(ir.OpICmp, s1, p1), Step{Action: Legal}},
		{q(ir.OpICmp, s1, s32), Step{Action: Lower}},
		{q(ir.OpUnmerge, s8, s16), Step{Action: Legal}},
		{q(ir.OpUnmerge, s8, s32), Step{Action: Unsupported}},
		{q(ir.OpMerge, s16, s8), Step{Action: Legal}},
		{q(ir.OpIntToPtr, p1, s8), Step{Action: Legal}},
		{q(ir.OpIntToPtr, p0, s8), Step{Action: Unsupported}},
		{q(ir.OpPtrToInt, s16, p1), Step{Action: Legal}},
		{q(ir.OpPtrToInt, s8, p1), Step{Action: Legal}},
		{q(ir.OpLoad, s8, p1), Step{Action: Legal}},
		{q(ir.OpStore, s16, p0), Step{NarrowScalar, 0, s8}},
		{q(ir.OpPtrAdd, p0, s8), Step{Action: Legal}},
		{q(ir.OpPtrAdd, p1, s16), Step{Action: Unsupported}},
		{q(ir.OpFrameIndex, p0), Step{Action: Legal}},
		{q(ir.OpBlockAddr, p0), Step{Action: Legal}},
		{q(ir.OpBrCond, s1), Step{Action: Legal}},
		{q(ir.OpBrIndirect, p0), Step{Action: Legal}},
		{q(ir.OpBr), Step{Action: Legal}},
		{q(ir.OpCopy, s8), Step{Action: Unsupported}},
	}
	for _, tt := range tests {
		got := SM83.Action(tt.query)
		if got != tt.want {
			t.Errorf("Action(%s) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

type testFunc struct {
	f *ir.Func
	b *ir.Builder
}

func newTestFunc() *testFunc {
	f := ir.NewFunc("test", nil, nil)
	b := ir.NewBuilder(f)
	b.SetBlockEnd(f.NewBlock("entry"))
	return &testFunc{f, b}
}

func (tf *testFunc) arg(ty ir.LLT, phys ir.Reg) ir.Reg {
	r := tf.f.Regs.NewVReg(ty)
	tf.b.Copy(r, phys)
	return r
}

func opcodes(f *ir.Func) []string {
	var names []string
	for _, mi := range f.Instrs() {
		names = append(names, mi.Op.String())
	}
	return names
}

func legalize(t *testing.T, f *ir.Func) {
	t.Helper()
	if err := Legalize(f, SM83); err != nil { t.Fatalf("Legalize: %v", err) }
}

func TestNarrowAddIntoCarryChain(t *testing.T) {
	tf := newTestFunc()
	x, y := tf.arg(s16, sm83.DE), tf.arg(s16, sm83.HL)
	tf.b.Copy(sm83.DE, tf.b.Binary(ir.OpAdd, s16, x, y))
	legalize(t, tf.f)

	want := []string{"COPY", "COPY", "G_UNMERGE_VALUES", "G_UNMERGE_VALUES", "G_UADDO", "G_UADDE", "G_MERGE_VALUES", "COPY"}
	if diff := cmp.Diff(want, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	instrs := tf.f.Instrs()
	lo, hi := instrs[4], instrs[5]
	if hi.Reg(4) != lo.Reg(1) { t.Errorf("high half does not consume the low carry: %s", ir.PrintInstr(hi, tf.f, nil)) }
	if lo.Reg(2) != instrs[2].Reg(0) || hi.Reg(2) != instrs[2].Reg(1) { t.Errorf("halves of x are not added in order") }
	if m := instrs[6]; m.Reg(1) != lo.Reg(0) || m.Reg(2) != hi.Reg(0) { t.Errorf("merge does not pack low then high") }
}

func TestNarrowLoadBytewise(t *testing.T) {
	tf := newTestFunc()
	p := tf.arg(p0, sm83.HL)
	tf.b.Copy(sm83.DE, tf.b.Load(s16, p))
	legalize(t, tf.f)

	want := []string{"COPY", "G_LOAD", "G_CONSTANT", "G_PTR_ADD", "G_LOAD", "G_MERGE_VALUES", "COPY"}
	if diff := cmp.Diff(want, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	instrs := tf.f.Instrs()
	if instrs[1].Reg(1) != p { t.Errorf("low byte not loaded from the base pointer") }
	if c := instrs[2]; c.Ops[1].Imm != 1 || tf.f.Regs.Type(c.Reg(0)) != s16 {
		t.Errorf("high byte offset = %s, want a 1 of type s16", ir.PrintInstr(c, tf.f, nil))
	}
}

func TestWidenBoolAdd(t *testing.T) {
	tf := newTestFunc()
	x, y := tf.arg(s8, sm83.A), tf.arg(s8, sm83.E)
	sum := tf.b.Binary(ir.OpAdd, s1, tf.b.Trunc(s1, x), tf.b.Trunc(s1, y))
	tf.b.Copy(sm83.A, tf.b.AnyExt(s8, sum))
	legalize(t, tf.f)

	if diff := cmp.Diff([]string{"COPY", "COPY", "G_ADD", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	add := tf.f.Instrs()[2]
	if add.Reg(1) != x || add.Reg(2) != y { t.Errorf("add does not read the original bytes: %s", ir.PrintInstr(add, tf.f, nil)) }
}

func TestLowerSExtByte(t *testing.T) {
	tf := newTestFunc()
	x := tf.arg(s8, sm83.A)
	tf.b.Copy(sm83.DE, tf.b.SExt(s16, x))
	legalize(t, tf.f)

	want := []string{"COPY", "G_CONSTANT", "G_ASHR", "G_MERGE_VALUES", "COPY"}
	if diff := cmp.Diff(want, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	instrs := tf.f.Instrs()
	if instrs[1].Ops[1].Imm != 7 { t.Errorf("sign shift amount = %d, want 7", instrs[1].Ops[1].Imm) }
	if m := instrs[3]; m.Reg(1) != x || m.Reg(2) != instrs[2].Reg(0) { t.Errorf("merge is not (x, x >> 7)") }
}

func TestNarrowConstantShifts(t *testing.T) {
	tests := []struct {
		op   ir.Op
		x    int64
		amt  int64
		want uint64
	}{
		{ir.OpShl, 0x1234, 8, 0x3400},
		{ir.OpShl, 0x1234, 4, 0x2340},
		{ir.OpLShr, 0x1234, 4, 0x0123},
		{ir.OpLShr, 0x8234, 12, 0x0008},
		{ir.OpAShr, 0x8234, 12, 0xfff8},
		{ir.OpAShr, 0x4234, 1, 0x211a},
		{ir.OpShl, 0x00ff, 0, 0x00ff},
	}
	for _, tt := range tests {
		tf := newTestFunc()
		x := tf.b.Constant(s16, tt.x)
		r := tf.b.Binary(tt.op, s16, x, tf.b.Constant(s16, tt.amt))
		tf.b.Copy(sm83.DE, r)
		legalize(t, tf.f)
		kb := ir.ComputeKnownBits(tf.f, r)
		if !kb.IsConstant() || kb.Constant() != tt.want {
			t.Errorf("%s 0x%x, %d: known bits %+v, want 0x%x\n%s", tt.op, tt.x, tt.amt, kb, tt.want, ir.Print(tf.f, nil))
		}
	}
}

func TestVariableWideShiftFails(t *testing.T) {
	tf := newTestFunc()
	x, n := tf.arg(s16, sm83.DE), tf.arg(s8, sm83.A)
	tf.b.Copy(sm83.DE, tf.b.Binary(ir.OpShl, s16, x, n))
	err := Legalize(tf.f, SM83)
	if !errors.Is(err, ir.ErrUnsupported) { t.Fatalf("Legalize error = %v, want ErrUnsupported", err) }
}

func TestUnsupportedIsFatal(t *testing.T) {
	tf := newTestFunc()
	p := tf.arg(p0, sm83.HL)
	tf.b.Copy(sm83.HL, tf.b.Binary(ir.OpAdd, p0, p, p))
	err := Legalize(tf.f, SM83)
	var pe *ir.PassError
	if !errors.As(err, &pe) { t.Fatalf("Legalize error = %v, want *ir.PassError", err) }
	if pe.Pass != "legalizer" || !strings.Contains(pe.Msg, "G_ADD") {
		t.Errorf("diagnostic %q does not name the pass and opcode", pe.Error())
	}
}

func TestMergeUnmergeRoundTrip(t *testing.T) {
	tf := newTestFunc()
	lo, hi := tf.arg(s8, sm83.A), tf.arg(s8, sm83.E)
	wide := tf.b.Merge(s16, lo, hi)
	parts := tf.b.Unmerge(s8, wide, 2)
	tf.b.Copy(sm83.A, parts[1])
	tf.b.Copy(sm83.E, parts[0])
	legalize(t, tf.f)

	if diff := cmp.Diff([]string{"COPY", "COPY", "COPY", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	instrs := tf.f.Instrs()
	if instrs[2].Reg(1) != hi || instrs[3].Reg(1) != lo { t.Errorf("unmerge(merge(lo, hi)) did not forward the parts") }
}

func TestWideCompareLowering(t *testing.T) {
	tf := newTestFunc()
	x := tf.b.Constant(ir.S32, 0x00010000)
	y := tf.b.Constant(ir.S32, 0x0000ffff)
	c := tf.b.ICmp(ir.PredUGT, x, y)
	tf.b.Copy(sm83.A, tf.b.AnyExt(s8, c))
	legalize(t, tf.f)
	for _, mi := range tf.f.Instrs() {
		if mi.Op.IsGeneric() && !SM83.IsLegal(mi, tf.f.Regs) { t.Errorf("illegal after legalization: %s", ir.PrintInstr(mi, tf.f, nil)) }
		if mi.Op == ir.OpICmp { t.Errorf("wide compare left in place: %s", ir.PrintInstr(mi, tf.f, nil)) }
	}
}
