package isel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

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

func (tf *testFunc) selectAll(t *testing.T, opts Options) {
	t.Helper()
	if err := Select(tf.f, opts); err != nil { t.Fatalf("Select: %v\n%s", err, ir.Print(tf.f, nil)) }
}

func opcodes(b *ir.Block) []string {
	var names []string
	for _, mi := range b.Instrs {
		names = append(names, sm83.OpName(mi.Op))
	}
	return names
}

func count(b *ir.Block, op ir.Op) int {
	n := 0
	for _, mi := range b.Instrs {
		if mi.Op == op { n++ }
	}
	return n
}

// machine executes the straight-line code of one selected block.
type machine struct {
	regs   map[ir.Reg]uint64
	cf, zf bool
	taken  *ir.Block
}

func (m *machine) get(op ir.Operand) uint64 {
	if op.IsImm() { return uint64(op.Imm) & 0xffff }
	v := m.regs[op.Reg]
	switch op.SubReg {
	case sm83.SubLow: return v & 0xff
	case sm83.SubHigh: return v >> 8 & 0xff
	}
	return v
}

func explicit(mi *ir.Instr) []ir.Operand {
	var ops []ir.Operand
	for _, op := range mi.Ops {
		if !op.IsImplicit() { ops = append(ops, op) }
	}
	return ops
}

func b2u(b bool) uint64 {
	if b { return 1 }
	return 0
}

func (m *machine) holds(c sm83.Cond) bool {
	switch c {
	case sm83.CondNZ: return !m.zf
	case sm83.CondZ: return m.zf
	case sm83.CondNC: return !m.cf
	}
	return m.cf
}

func (m *machine) sub(x, y, cin uint64) uint64 {
	x, y = x&0xff, y&0xff
	m.cf = x < y+cin
	v := (x - y - cin) & 0xff
	m.zf = v == 0
	return v
}

func (m *machine) logic(v uint64) uint64 {
	v &= 0xff
	m.cf, m.zf = false, v == 0
	return v
}

func (m *machine) exec(mi *ir.Instr) (bool, error) {
	e := explicit(mi)
	u := func(i int) uint64 { return m.get(e[i]) }
	cin := func(i int) uint64 {
		if len(e) > i { return u(i) & 1 }
		return b2u(m.cf)
	}
	var out uint64
	switch mi.Op {
	case ir.OpCopy: out = u(1)
	case ir.OpImplicitDef: out = 0
	case ir.OpRegSequence: out = u(1)&0xff | (u(3)&0xff)<<8
	case ir.OpExtractSubreg:
		out = u(1) & 0xff
		if e[2].SubReg == sm83.SubHigh { out = u(1) >> 8 & 0xff }
	case sm83.LDri, sm83.LDrrii: out = u(1)
	case sm83.RRCA:
		x := u(1) & 0xff
		out, m.cf = (x>>1|x<<7)&0xff, x&1 == 1
	case sm83.ADDr, sm83.ADCr:
		c := uint64(0)
		if mi.Op == sm83.ADCr { c = cin(3) }
		r := u(1)&0xff + u(2)&0xff + c
		out, m.cf = r&0xff, r > 0xff
		m.zf = out == 0
	case sm83.SUBr: out = m.sub(u(1), u(2), 0)
	case sm83.SBCr: out = m.sub(u(1), u(2), cin(3))
	case sm83.CPr, sm83.CPri:
		m.sub(u(0), u(1), 0)
		return false, nil
	case sm83.ANDr, sm83.ANDri: out = m.logic(u(1) & u(2))
	case sm83.ORr, sm83.ORri: out = m.logic(u(1) | u(2))
	case sm83.XORr, sm83.XORri: out = m.logic(u(1) ^ u(2))
	case sm83.INCr: out = (u(1) + 1) & 0xff; m.zf = out == 0
	case sm83.DECr: out = (u(1) - 1) & 0xff; m.zf = out == 0
	case sm83.INCrr: out = (u(1) + 1) & 0xffff
	case sm83.DECrr: out = (u(1) - 1) & 0xffff
	case sm83.ADDrr:
		r := u(1) + u(2)
		out, m.cf = r&0xffff, r > 0xffff
	case sm83.SLAr: x := u(1) & 0xff; out, m.cf = x<<1&0xff, x&0x80 != 0
	case sm83.SRLr: x := u(1) & 0xff; out, m.cf = x>>1, x&1 != 0
	case sm83.SRAr: x := u(1) & 0xff; out, m.cf = x>>1|x&0x80, x&1 != 0
	case sm83.JP:
		m.taken = e[0].Block
		return true, nil
	case sm83.JPcc:
		if m.holds(sm83.Cond(e[0].Imm)) {
			m.taken = e[1].Block
			return true, nil
		}
		return false, nil
	default:
		return false, fmt.Errorf("cannot execute %s", ir.PrintInstr(mi, nil, nil))
	}
	m.regs[e[0].Reg] = out
	for _, op := range mi.Ops {
		if op.IsDef() && op.IsImplicit() && op.Reg.IsVirtual() { m.regs[op.Reg] = b2u(m.cf) }
	}
	return false, nil
}

func run(t *testing.T, b *ir.Block, in map[ir.Reg]uint64) *machine {
	t.Helper()
	m := &machine{regs: map[ir.Reg]uint64{}}
	for r, v := range in {
		m.regs[r] = v
	}
	for _, mi := range b.Instrs {
		stop, err := m.exec(mi)
		if err != nil { t.Fatal(err) }
		if stop { break }
	}
	return m
}

func TestMergeUnmergeRoundTrip(t *testing.T) {
	tf := newTestFunc()
	x, y := tf.arg(ir.S8, sm83.A), tf.arg(ir.S8, sm83.E)
	wide := tf.b.Merge(ir.S16, x, y)
	parts := tf.b.Unmerge(ir.S8, wide, 2)
	tf.b.Copy(sm83.A, parts[0])
	tf.b.Copy(sm83.E, parts[1])
	tf.selectAll(t, Options{})

	want := []string{"COPY", "COPY", "REG_SEQUENCE", "EXTRACT_SUBREG", "EXTRACT_SUBREG", "COPY", "COPY"}
	if diff := cmp.Diff(want, opcodes(tf.f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	if tf.f.Regs.Class(wide) != sm83.GR16 || tf.f.Regs.Class(parts[0]) != sm83.GR8 { t.Errorf("merge operands not constrained") }

	// Following each extract back through the sequence must land on the
	// original bytes.
	resolve := func(r ir.Reg) ir.Reg {
		ex := tf.f.DefOf(r)
		seq := tf.f.DefOf(ex.Reg(1))
		for i := 1; i+1 < len(seq.Ops); i += 2 {
			if seq.Ops[i+1].SubReg == ex.Ops[2].SubReg { return seq.Reg(i) }
		}
		return ir.NoReg
	}
	if resolve(parts[0]) != x || resolve(parts[1]) != y { t.Errorf("round trip does not reproduce the parts") }

	m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: 0x34, sm83.E: 0x12})
	if m.regs[wide] != 0x1234 || m.regs[sm83.A] != 0x34 || m.regs[sm83.E] != 0x12 { t.Errorf("executed round trip = %#x", m.regs[wide]) }
}

func TestSExtBool(t *testing.T) {
	for _, bit := range []uint64{0, 1} {
		tf := newTestFunc()
		x := tf.arg(ir.S8, sm83.A)
		tf.b.Copy(sm83.A, tf.b.SExt(ir.S8, tf.b.Trunc(ir.S1, x)))
		tf.selectAll(t, Options{})

		if count(tf.f.Entry(), sm83.RRCA) != 1 || count(tf.f.Entry(), sm83.SBCr) != 1 { t.Fatalf("sext not selected as rrca, sbc: %v", opcodes(tf.f.Entry())) }
		m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: bit})
		if want := 0xff * bit; m.regs[sm83.A] != want { t.Errorf("sext(%d) = %#x, want %#x", bit, m.regs[sm83.A], want) }
	}
}

var allPreds = []ir.Pred{
	ir.PredEQ, ir.PredNE, ir.PredUGT, ir.PredUGE, ir.PredULT, ir.PredULE,
	ir.PredSGT, ir.PredSGE, ir.PredSLT, ir.PredSLE,
}

func TestCompareMaterialized(t *testing.T) {
	tests := []struct {
		ty   ir.LLT
		vals []uint64
	}{
		{ir.S8, []uint64{0, 1, 5, 0x7f, 0x80, 0xff}},
		{ir.S16, []uint64{0, 1, 0xff, 0x100, 0x7fff, 0x8000, 0xffff}},
	}
	for _, tt := range tests {
		for _, p := range allPreds {
			tf := newTestFunc()
			phys := [2]ir.Reg{sm83.A, sm83.E}
			if tt.ty == ir.S16 { phys = [2]ir.Reg{sm83.DE, sm83.BC} }
			x, y := tf.arg(tt.ty, phys[0]), tf.arg(tt.ty, phys[1])
			c := tf.b.ICmp(p, x, y)
			tf.b.Copy(sm83.A, tf.b.AnyExt(ir.S8, c))
			tf.selectAll(t, Options{})

			for _, a := range tt.vals {
				for _, b := range tt.vals {
					m := run(t, tf.f.Entry(), map[ir.Reg]uint64{phys[0]: a, phys[1]: b})
					want := b2u(p.Eval(a, b, tt.ty.SizeInBits()))
					if m.regs[sm83.A] != want { t.Errorf("%s %s %#x, %#x = %d, want %d", tt.ty, p, a, b, m.regs[sm83.A], want) }
				}
			}
		}
	}
}

func TestCompareWithConstant(t *testing.T) {
	for _, p := range allPreds {
		tf := newTestFunc()
		x := tf.arg(ir.S8, sm83.A)
		c := tf.b.ICmp(p, x, tf.b.Constant(ir.S8, 0x40))
		tf.b.Copy(sm83.A, tf.b.AnyExt(ir.S8, c))
		tf.selectAll(t, Options{})

		for _, a := range []uint64{0, 0x3f, 0x40, 0x41, 0x80, 0xff} {
			m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: a})
			if want := b2u(p.Eval(a, 0x40, 8)); m.regs[sm83.A] != want { t.Errorf("%s %#x, 0x40 = %d, want %d", p, a, m.regs[sm83.A], want) }
		}
	}
}

func TestFusedCompareBranch(t *testing.T) {
	for _, fuse := range []bool{true, false} {
		for _, p := range []ir.Pred{ir.PredEQ, ir.PredNE, ir.PredULT, ir.PredUGE, ir.PredUGT, ir.PredSLE} {
			f := ir.NewFunc("test", nil, nil)
			entry, then, els := f.NewBlock("entry"), f.NewBlock("then"), f.NewBlock("else")
			b := ir.NewBuilder(f)
			b.SetBlockEnd(entry)
			x, y := f.Regs.NewVReg(ir.S8), f.Regs.NewVReg(ir.S8)
			b.Copy(x, sm83.A)
			b.Copy(y, sm83.E)
			b.Build(ir.OpBrCond, ir.RegOp(b.ICmp(p, x, y)), ir.BlockOp(then))
			b.Build(ir.OpBr, ir.BlockOp(els))
			if err := Select(f, Options{FuseCompareBranch: fuse}); err != nil { t.Fatal(err) }

			if got := count(entry, sm83.SBCr) == 0; got != fuse { t.Errorf("fuse=%v %s: compare materialized = %v", fuse, p, !got) }
			for _, v := range [][2]uint64{{3, 3}, {2, 3}, {3, 2}, {0x80, 0x7f}} {
				m := run(t, entry, map[ir.Reg]uint64{sm83.A: v[0], sm83.E: v[1]})
				want := els
				if p.Eval(v[0], v[1], 8) { want = then }
				if m.taken != want { t.Errorf("fuse=%v %s %v: branch to %v, want %v", fuse, p, v, m.taken, want) }
			}
		}
	}
}

func TestPtrAddIncDec(t *testing.T) {
	tests := []struct {
		off    int64
		incdec bool
		inc    int
		dec    int
	}{
		{0, true, 0, 0},
		{1, true, 1, 0},
		{4, true, 4, 0},
		{5, true, 0, 0},
		{-3, true, 0, 3},
		{-4, true, 0, 4},
		{-5, true, 0, 0},
		{2, false, 0, 0},
	}
	for _, tt := range tests {
		tf := newTestFunc()
		p := tf.arg(ir.P0, sm83.HL)
		q := tf.b.PtrAdd(ir.P0, p, tf.b.Constant(ir.S16, tt.off))
		tf.b.Copy(sm83.HL, q)
		tf.selectAll(t, Options{IncDecPtrAdd: tt.incdec})

		entry := tf.f.Entry()
		if count(entry, sm83.INCrr) != tt.inc || count(entry, sm83.DECrr) != tt.dec {
			t.Errorf("offset %d: %v", tt.off, opcodes(entry))
		}
		short := tt.inc+tt.dec > 0 || tt.off == 0 && tt.incdec
		if got := count(entry, sm83.ADDrr) == 1; got == short { t.Errorf("offset %d: ADDrr used = %v", tt.off, got) }
		m := run(t, entry, map[ir.Reg]uint64{sm83.HL: 0x1000})
		if want := uint64(0x1000+tt.off) & 0xffff; m.regs[sm83.HL] != want { t.Errorf("offset %d: %#x, want %#x", tt.off, m.regs[sm83.HL], want) }
	}
}

func TestPtrAddByteOffsetIsUnsigned(t *testing.T) {
	tf := newTestFunc()
	p := tf.arg(ir.P0, sm83.HL)
	tf.b.Copy(sm83.HL, tf.b.PtrAdd(ir.P0, p, tf.b.Constant(ir.S8, -1)))
	tf.selectAll(t, Options{IncDecPtrAdd: true})

	if count(tf.f.Entry(), sm83.DECrr) != 0 { t.Errorf("byte offset 0xff treated as -1") }
	if m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.HL: 0x1000}); m.regs[sm83.HL] != 0x10ff { t.Errorf("p + 0xff = %#x", m.regs[sm83.HL]) }
}

func TestCarryChain(t *testing.T) {
	tf := newTestFunc()
	xl, yl := tf.arg(ir.S8, sm83.A), tf.arg(ir.S8, sm83.E)
	xh, yh := tf.arg(ir.S8, sm83.B), tf.arg(ir.S8, sm83.D)
	lo, c := tf.b.Carry(ir.OpUAddO, ir.S8, xl, yl, ir.NoReg)
	hi, c2 := tf.b.Carry(ir.OpUAddE, ir.S8, xh, yh, c)
	tf.b.Copy(sm83.A, lo)
	tf.b.Copy(sm83.E, hi)
	tf.b.Copy(sm83.B, tf.b.AnyExt(ir.S8, c2))
	tf.selectAll(t, Options{})

	add, adc := tf.f.DefOf(lo), tf.f.DefOf(hi)
	if add.Op != sm83.ADDr || adc.Op != sm83.ADCr { t.Fatalf("carry ops selected as %s, %s", sm83.OpName(add.Op), sm83.OpName(adc.Op)) }
	if op := add.Ops[1]; op.Reg != c || !op.IsDef() || !op.IsImplicit() { t.Errorf("ADDr does not implicitly define the carry") }
	if op := adc.Ops[4]; op.Reg != c || !op.IsKill() { t.Errorf("ADCr does not kill the incoming carry") }
	var clobbers []ir.Reg
	for _, op := range adc.Ops {
		if op.IsDef() && op.IsImplicit() && op.Reg.IsPhysical() { clobbers = append(clobbers, op.Reg) }
	}
	if diff := cmp.Diff([]ir.Reg{sm83.F, sm83.CF}, clobbers); diff != "" { t.Errorf("ADCr flag defs (-want +got):\n%s", diff) }
	if tf.f.Regs.Class(c) != sm83.GR8 { t.Errorf("carry flag not placed in GR8") }

	m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: 0xff, sm83.E: 0x01, sm83.B: 0xff, sm83.D: 0x00})
	if m.regs[sm83.A] != 0x00 || m.regs[sm83.E] != 0x00 || m.regs[sm83.B] != 1 { t.Errorf("0xffff + 1 = %#x%02x carry %d", m.regs[sm83.E], m.regs[sm83.A], m.regs[sm83.B]) }
}

func TestShifts(t *testing.T) {
	tests := []struct {
		op   ir.Op
		amt  int64
		in   uint64
		want uint64
	}{
		{ir.OpShl, 3, 0x11, 0x88},
		{ir.OpLShr, 2, 0x84, 0x21},
		{ir.OpAShr, 2, 0x84, 0xe1},
		{ir.OpAShr, 9, 0x84, 0xff},
		{ir.OpLShr, 8, 0xff, 0x00},
		{ir.OpShl, 0, 0x5a, 0x5a},
	}
	for _, tt := range tests {
		tf := newTestFunc()
		x := tf.arg(ir.S8, sm83.A)
		tf.b.Copy(sm83.A, tf.b.Binary(tt.op, ir.S8, x, tf.b.Constant(ir.S8, tt.amt)))
		tf.selectAll(t, Options{})
		if m := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: tt.in}); m.regs[sm83.A] != tt.want {
			t.Errorf("%s %#x, %d = %#x, want %#x", tt.op, tt.in, tt.amt, m.regs[sm83.A], tt.want)
		}
	}
}

func TestVariableShiftFails(t *testing.T) {
	tf := newTestFunc()
	x, n := tf.arg(ir.S8, sm83.A), tf.arg(ir.S8, sm83.E)
	tf.b.Copy(sm83.A, tf.b.Binary(ir.OpShl, ir.S8, x, n))
	if err := Select(tf.f, Options{}); err == nil { t.Fatal("variable shift selected") }
}

func TestFrameIndexFolding(t *testing.T) {
	tf := newTestFunc()
	fi := tf.f.Frame.CreateStackObject(4)
	slot := tf.b.FrameIndex(ir.P0, fi)
	v := tf.b.Load(ir.S8, slot)
	tf.b.Store(v, tf.b.PtrAdd(ir.P0, slot, tf.b.Constant(ir.S16, 3)))
	tf.selectAll(t, Options{})

	want := []string{"LDrm", "LDmr"}
	if diff := cmp.Diff(want, opcodes(tf.f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	ld, st := tf.f.Entry().Instrs[0], tf.f.Entry().Instrs[1]
	if !ld.Ops[1].IsFrameIndex() || ld.Ops[1].Index() != fi || ld.Ops[2].Imm != 0 { t.Errorf("load address = %s", ir.PrintInstr(ld, tf.f, nil)) }
	if !st.Ops[0].IsFrameIndex() || st.Ops[1].Imm != 3 { t.Errorf("store address = %s", ir.PrintInstr(st, tf.f, nil)) }
}

func TestHighPageAccess(t *testing.T) {
	tf := newTestFunc()
	p := tf.arg(ir.P1, sm83.C)
	tf.b.Store(tf.b.Load(ir.S8, p), p)
	tf.selectAll(t, Options{})
	if diff := cmp.Diff([]string{"COPY", "LDHrm", "LDHmr"}, opcodes(tf.f.Entry())); diff != "" { t.Errorf("opcodes mismatch (-want +got):\n%s", diff) }
}

func TestPatternTable(t *testing.T) {
	tf := newTestFunc()
	x, y := tf.arg(ir.S8, sm83.A), tf.arg(ir.S8, sm83.E)
	s := tf.b.Binary(ir.OpAdd, ir.S8, x, y)
	m := tf.b.Binary(ir.OpAnd, ir.S8, s, tf.b.Constant(ir.S8, 0x0f))
	tf.b.Copy(sm83.A, tf.b.Binary(ir.OpXor, ir.S8, m, y))
	tf.selectAll(t, Options{})

	want := []string{"COPY", "COPY", "ADDr", "ANDri", "XORr", "COPY"}
	if diff := cmp.Diff(want, opcodes(tf.f.Entry())); diff != "" { t.Fatalf("opcodes mismatch (-want +got):\n%s", diff) }
	if r := run(t, tf.f.Entry(), map[ir.Reg]uint64{sm83.A: 0x1e, sm83.E: 0x03}); r.regs[sm83.A] != (0x21&0x0f)^0x03 { t.Errorf("result = %#x", r.regs[sm83.A]) }
	for _, reg := range []ir.Reg{x, y, s, m} {
		if tf.f.Regs.Class(reg) != sm83.GR8 { t.Errorf("%%%d not constrained to GR8", reg.VirtIndex()) }
	}
}

func TestUnselectableWidth(t *testing.T) {
	tf := newTestFunc()
	tf.b.Store(tf.b.Trunc(ir.S8, tf.b.Constant(ir.S32, 7)), tf.arg(ir.P0, sm83.HL))
	err := Select(tf.f, Options{})
	var pe *ir.PassError
	if !errors.As(err, &pe) || pe.Pass != pass { t.Fatalf("Select error = %v, want an instruction-select failure", err) }
}
