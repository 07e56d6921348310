package legalizer

import "github.com/xplshn/sm83/pkg/ir"

// Artifacts are the packing and extension instructions legalization leaves
// between split values. They are combined away before being legalized
// themselves.
func isArtifact(op ir.Op) bool {
	switch op {
	case ir.OpMerge, ir.OpUnmerge, ir.OpTrunc, ir.OpAnyExt, ir.OpZExt, ir.OpSExt: return true
	}
	return false
}

func (h *helper) combineArtifact(mi *ir.Instr) bool {
	switch mi.Op {
	case ir.OpUnmerge: return h.combineUnmerge(mi)
	case ir.OpMerge: return h.combineMerge(mi)
	case ir.OpTrunc: return h.combineTrunc(mi)
	case ir.OpAnyExt, ir.OpZExt, ir.OpSExt: return h.combineExt(mi)
	}
	return false
}

// replace forwards every use of from to to when both have the same type.
func (h *helper) replace(from, to ir.Reg) bool {
	if h.ty(from) != h.ty(to) { return false }
	h.f.ReplaceAllUses(from, to)
	return true
}

func regs(ops []ir.Operand) []ir.Reg {
	rs := make([]ir.Reg, len(ops))
	for i, op := range ops {
		rs[i] = op.Reg
	}
	return rs
}

func (h *helper) combineUnmerge(mi *ir.Instr) bool {
	defs := regs(mi.Ops[:len(mi.Ops)-1])
	def := h.f.DefOf(mi.Reg(len(mi.Ops) - 1))
	if def == nil { return false }
	b := ir.At(mi)
	w := h.ty(defs[0]).SizeInBits()

	switch def.Op {
	case ir.OpMerge:
		parts := regs(def.Ops[1:])
		pw := h.ty(parts[0]).SizeInBits()
		switch {
		case pw == w && len(parts) == len(defs):
			for i := range defs {
				if h.ty(defs[i]) != h.ty(parts[i]) { return false }
			}
			for i := range defs {
				h.replace(defs[i], parts[i])
			}
		case pw > w && pw%w == 0:
			k := pw / w
			for j, p := range parts {
				b.UnmergeInto(defs[j*k:(j+1)*k], p)
			}
		case pw < w && w%pw == 0:
			k := w / pw
			for i, d := range defs {
				b.MergeInto(d, parts[i*k:(i+1)*k]...)
			}
		default:
			return false
		}

	case ir.OpAnyExt, ir.OpZExt:
		x := def.Reg(1)
		if h.ty(x) != h.ty(defs[0]) { return false }
		h.replace(defs[0], x)
		for _, d := range defs[1:] {
			if def.Op == ir.OpZExt {
				b.Build(ir.OpConstant, ir.DefOp(d), ir.ImmOp(0))
			} else {
				b.Build(ir.OpUndef, ir.DefOp(d))
			}
		}

	case ir.OpConstant:
		if w >= 64 { return false }
		v := def.Ops[1].Imm
		for i, d := range defs {
			b.Build(ir.OpConstant, ir.DefOp(d), ir.ImmOp(v>>(i*w)&(1<<w-1)))
		}

	case ir.OpUndef:
		for _, d := range defs {
			b.Build(ir.OpUndef, ir.DefOp(d))
		}

	default:
		return false
	}
	mi.EraseFromParent()
	return true
}

func (h *helper) combineMerge(mi *ir.Instr) bool {
	dst := mi.Reg(0)
	parts := regs(mi.Ops[1:])

	// merge(unmerge(x)) with every part in order is x.
	if un := h.f.DefOf(parts[0]); un != nil && un.Op == ir.OpUnmerge && len(un.Ops)-1 == len(parts) {
		same := true
		for i, p := range parts {
			same = same && un.Reg(i) == p
		}
		if same && h.replace(dst, un.Reg(len(un.Ops)-1)) {
			mi.EraseFromParent()
			return true
		}
	}

	// Wider constants would only be narrowed back into this merge.
	n := h.ty(dst).SizeInBits()
	if n > 16 { return false }
	var v int64
	undef := true
	shift := 0
	for _, p := range parts {
		def := h.f.DefOf(p)
		if def == nil { return false }
		switch def.Op {
		case ir.OpConstant:
			v |= def.Ops[1].Imm << shift
			undef = false
		case ir.OpUndef:
		default:
			return false
		}
		shift += h.ty(p).SizeInBits()
	}
	b := ir.At(mi)
	if undef {
		b.Build(ir.OpUndef, ir.DefOp(dst))
	} else {
		b.Build(ir.OpConstant, ir.DefOp(dst), ir.ImmOp(v&(1<<n-1)))
	}
	mi.EraseFromParent()
	return true
}

func (h *helper) combineTrunc(mi *ir.Instr) bool {
	dst, src := mi.Reg(0), mi.Reg(1)
	def := h.f.DefOf(src)
	if def == nil { return false }
	n := h.ty(dst).SizeInBits()
	b := ir.At(mi)

	switch def.Op {
	case ir.OpMerge:
		parts := regs(def.Ops[1:])
		pw := h.ty(parts[0]).SizeInBits()
		switch {
		case n == pw:
			if !h.replace(dst, parts[0]) { return false }
		case n < pw:
			b.Build(ir.OpTrunc, ir.DefOp(dst), ir.RegOp(parts[0]))
		case n%pw == 0:
			b.MergeInto(dst, parts[:n/pw]...)
		default:
			return false
		}
	case ir.OpAnyExt, ir.OpZExt, ir.OpSExt, ir.OpTrunc:
		x := def.Reg(1)
		switch xw := h.ty(x).SizeInBits(); {
		case xw == n:
			if !h.replace(dst, x) { return false }
		case xw > n:
			b.Build(ir.OpTrunc, ir.DefOp(dst), ir.RegOp(x))
		default:
			if def.Op == ir.OpTrunc { return false }
			b.Build(def.Op, ir.DefOp(dst), ir.RegOp(x))
		}
	case ir.OpConstant:
		if n >= 64 { return false }
		b.Build(ir.OpConstant, ir.DefOp(dst), ir.ImmOp(def.Ops[1].Imm&(1<<n-1)))
	case ir.OpUndef:
		b.Build(ir.OpUndef, ir.DefOp(dst))
	default:
		return false
	}
	mi.EraseFromParent()
	return true
}

func (h *helper) combineExt(mi *ir.Instr) bool {
	dst, src := mi.Reg(0), mi.Reg(1)
	def := h.f.DefOf(src)
	if def == nil { return false }
	n := h.ty(dst).SizeInBits()
	b := ir.At(mi)

	switch {
	case def.Op == ir.OpConstant && n <= 16:
		v := uint64(def.Ops[1].Imm)
		sw := h.ty(src).SizeInBits()
		v &= 1<<sw - 1
		if mi.Op == ir.OpSExt && v&(1<<(sw-1)) != 0 { v |= ^uint64(0) << sw }
		b.Build(ir.OpConstant, ir.DefOp(dst), ir.ImmOp(int64(v&(1<<n-1))))
	case def.Op == ir.OpUndef && mi.Op == ir.OpAnyExt:
		b.Build(ir.OpUndef, ir.DefOp(dst))
	case mi.Op == ir.OpAnyExt && def.Op == ir.OpTrunc:
		if !h.replace(dst, def.Reg(1)) { return false }
	case mi.Op == def.Op || mi.Op == ir.OpAnyExt && (def.Op == ir.OpZExt || def.Op == ir.OpSExt):
		b.Build(def.Op, ir.DefOp(dst), ir.RegOp(def.Reg(1)))
	default:
		return false
	}
	mi.EraseFromParent()
	return true
}

// removeDead erases pure generic instructions none of whose results are read.
func (h *helper) removeDead() bool {
	removed := false
	for again := true; again; {
		again = false
		instrs := h.f.Instrs()
		for i := len(instrs) - 1; i >= 0; i-- {
			mi := instrs[i]
			if mi.Block == nil || !mi.Op.IsGeneric() || !mi.Op.IsPure() { continue }
			dead := true
			for _, d := range mi.Defs() {
				dead = dead && !h.f.HasUses(d)
			}
			if dead {
				mi.EraseFromParent()
				again, removed = true, true
			}
		}
	}
	return removed
}
