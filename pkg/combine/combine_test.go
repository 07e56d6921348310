package combine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/legalizer"
	"github.com/xplshn/sm83/pkg/sm83"
)

func ruleNames(rules []*Rule) []string {
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	return names
}

func TestParseRuleConfig(t *testing.T) {
	tests := []struct {
		cfg  string
		tier Tier
		want []string
	}{
		{"", TierO0, []string{"copy_prop", "unmerge_merge", "merge_unmerge", "dead_code"}},
		{"-dead_code, +add_zero", TierO0, []string{"copy_prop", "unmerge_merge", "merge_unmerge", "add_zero"}},
		{"cse", TierO0, []string{"copy_prop", "unmerge_merge", "merge_unmerge", "dead_code", "cse"}},
		{"-cse,-known_bits_offset", TierFull, []string{
			"copy_prop", "unmerge_merge", "merge_unmerge", "dead_code", "add_zero", "ptr_add_zero",
			"sub_self", "xor_self", "const_fold", "ptr_add_chain",
		}},
	}
	for _, tt := range tests {
		rules, err := ParseRuleConfig(tt.cfg, tt.tier)
		if err != nil {
			t.Errorf("ParseRuleConfig(%q): %v", tt.cfg, err)
			continue
		}
		if diff := cmp.Diff(tt.want, ruleNames(rules)); diff != "" {
			t.Errorf("ParseRuleConfig(%q) mismatch (-want +got):\n%s", tt.cfg, diff)
		}
	}
	if _, err := ParseRuleConfig("copy_prop,-no_such_rule", TierFull); err == nil {
		t.Errorf("unknown rule accepted")
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

func (tf *testFunc) run(t *testing.T, tier Tier, setup func(*Combiner)) {
	t.Helper()
	rules, err := ParseRuleConfig("", tier)
	if err != nil { t.Fatal(err) }
	c := New(tf.f, rules)
	if setup != nil { setup(c) }
	if err := c.Run(); err != nil { t.Fatalf("Run: %v", err) }
}

func opcodes(f *ir.Func) []string {
	var names []string
	for _, mi := range f.Instrs() {
		names = append(names, mi.Op.String())
	}
	return names
}

func TestCopyPropagation(t *testing.T) {
	tf := newTestFunc()
	x := tf.arg(ir.S8, sm83.A)
	y := tf.b.CopyTo(ir.S8, x)
	tf.b.Copy(sm83.A, tf.b.Binary(ir.OpAdd, ir.S8, y, y))
	tf.run(t, TierO0, nil)

	if diff := cmp.Diff([]string{"COPY", "G_ADD", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if add := tf.f.Instrs()[1]; add.Reg(1) != x || add.Reg(2) != x { t.Errorf("add still reads the copy") }
}

func TestConstantFolding(t *testing.T) {
	tf := newTestFunc()
	s := tf.b.Binary(ir.OpAdd, ir.S8, tf.b.Constant(ir.S8, 250), tf.b.Constant(ir.S8, 9))
	tf.b.Copy(sm83.A, s)
	tf.run(t, TierFull, nil)

	if diff := cmp.Diff([]string{"G_CONSTANT", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if v, ok := tf.f.ConstantOf(s); !ok || v != 3 { t.Errorf("folded value = %d, %v; want 3", v, ok) }
}

func TestFoldingKeepsLegalTypes(t *testing.T) {
	tf := newTestFunc()
	s := tf.b.Binary(ir.OpAdd, ir.S32, tf.b.Constant(ir.S32, 1), tf.b.Constant(ir.S32, 2))
	tf.b.Store(s, tf.arg(ir.P0, sm83.HL))
	tf.run(t, TierFull, func(c *Combiner) { c.Legal = legalizer.SM83 })

	if mi := tf.f.DefOf(s); mi == nil || mi.Op != ir.OpAdd { t.Errorf("s32 add was folded into an illegal constant") }
}

func TestSelfCancelling(t *testing.T) {
	for _, op := range []ir.Op{ir.OpSub, ir.OpXor} {
		tf := newTestFunc()
		x := tf.arg(ir.S8, sm83.A)
		r := tf.b.Binary(op, ir.S8, x, x)
		tf.b.Copy(sm83.A, r)
		tf.run(t, TierFull, nil)
		if v, ok := tf.f.ConstantOf(r); !ok || v != 0 { t.Errorf("%s x, x not folded to 0", op) }
	}
}

func TestPointerOffsetChain(t *testing.T) {
	tf := newTestFunc()
	p := tf.arg(ir.P0, sm83.HL)
	q1 := tf.b.PtrAdd(ir.P0, p, tf.b.Constant(ir.S16, 2))
	q2 := tf.b.PtrAdd(ir.P0, q1, tf.b.Constant(ir.S16, -2))
	tf.b.Copy(sm83.HL, q2)
	tf.run(t, TierFull, nil)

	if diff := cmp.Diff([]string{"COPY", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if ret := tf.f.Instrs()[1]; ret.Reg(1) != p { t.Errorf("(p + 2) - 2 is not p") }
}

func TestPointerByteOffsetChain(t *testing.T) {
	tests := []struct {
		c1, c2 int64
		ty     ir.LLT
		want   int64
	}{
		{20, 30, ir.S8, 50},
		{200, 100, ir.S16, 300},
		{255, 1, ir.S16, 256},
	}
	for _, tt := range tests {
		tf := newTestFunc()
		p := tf.arg(ir.P0, sm83.HL)
		q1 := tf.b.PtrAdd(ir.P0, p, tf.b.Constant(ir.S8, tt.c1))
		q2 := tf.b.PtrAdd(ir.P0, q1, tf.b.Constant(ir.S8, tt.c2))
		tf.b.Copy(sm83.HL, q2)
		tf.run(t, TierFull, nil)

		add := tf.f.DefOf(q2)
		if add == nil || add.Op != ir.OpPtrAdd || add.Reg(1) != p { t.Fatalf("(p + %d) + %d not folded", tt.c1, tt.c2) }
		off := add.Reg(2)
		v, ok := tf.f.ConstantOf(off)
		if !ok || v != tt.want || tf.f.Regs.Type(off) != tt.ty {
			t.Errorf("(p + %d) + %d = p + %d (%s), want p + %d (%s)", tt.c1, tt.c2, v, tf.f.Regs.Type(off), tt.want, tt.ty)
		}
	}
}

func TestKnownBitsOffset(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		tf := newTestFunc()
		p, x := tf.arg(ir.P0, sm83.HL), tf.arg(ir.S16, sm83.DE)
		masked := tf.b.Binary(ir.OpAnd, ir.S16, x, tf.b.Constant(ir.S16, 0))
		off := tf.b.Binary(ir.OpOr, ir.S16, masked, tf.b.Constant(ir.S16, 3))
		q := tf.b.PtrAdd(ir.P0, p, off)
		tf.b.Copy(sm83.HL, q)
		tf.run(t, TierFull, func(c *Combiner) { c.KnownBits = enabled })

		v, ok := tf.f.ConstantOf(tf.f.DefOf(q).Reg(2))
		if got := ok && v == 3; got != enabled {
			t.Errorf("known-bits=%v: offset constant = %v (%d)", enabled, ok, v)
		}
	}
}

func TestCommonSubexpressions(t *testing.T) {
	tf := newTestFunc()
	x := tf.arg(ir.S8, sm83.A)
	a1 := tf.b.Binary(ir.OpAdd, ir.S8, x, x)
	a2 := tf.b.Binary(ir.OpAdd, ir.S8, x, x)
	tf.b.Copy(sm83.A, a1)
	tf.b.Copy(sm83.E, a2)
	tf.run(t, TierFull, nil)

	if diff := cmp.Diff([]string{"COPY", "G_ADD", "COPY", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Fatalf("opcodes mismatch (-want +got):\n%s", diff)
	}
	instrs := tf.f.Instrs()
	if instrs[2].Reg(1) != a1 || instrs[3].Reg(1) != a1 { t.Errorf("second add not replaced by the first") }
}

func TestO0KeepsArithmetic(t *testing.T) {
	tf := newTestFunc()
	x := tf.arg(ir.S8, sm83.A)
	tf.b.Copy(sm83.A, tf.b.Binary(ir.OpAdd, ir.S8, x, tf.b.Constant(ir.S8, 0)))
	tf.run(t, TierO0, nil)

	if diff := cmp.Diff([]string{"COPY", "G_CONSTANT", "G_ADD", "COPY"}, opcodes(tf.f)); diff != "" {
		t.Errorf("O0 rewrote arithmetic (-want +got):\n%s", diff)
	}
}
