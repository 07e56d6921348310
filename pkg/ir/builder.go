package ir

// Builder creates instructions at an insertion point: before an existing
// instruction, or at the end of a block.
type Builder struct {
	F      *Func
	B      *Block
	before *Instr
}

func NewBuilder(f *Func) *Builder { return &Builder{F: f} }

// At positions a builder right before mi.
func At(mi *Instr) *Builder { return &Builder{F: mi.Block.Func, B: mi.Block, before: mi} }

func (b *Builder) SetInsertPt(mi *Instr) { b.B, b.before = mi.Block, mi }
func (b *Builder) SetBlockEnd(blk *Block) { b.B, b.before = blk, nil }

// SetBlockIndex positions the builder before the i-th instruction of blk.
func (b *Builder) SetBlockIndex(blk *Block, i int) {
	b.B, b.before = blk, nil
	if i < len(blk.Instrs) { b.before = blk.Instrs[i] }
}

func (b *Builder) Insert(mi *Instr) *Instr {
	at := len(b.B.Instrs)
	if b.before != nil {
		if i := b.B.index(b.before); i >= 0 { at = i }
	}
	b.B.insert(at, mi)
	return mi
}

func (b *Builder) Build(op Op, ops ...Operand) *Instr {
	return b.Insert(&Instr{Op: op, Ops: ops})
}

// BuildInstr creates an instruction without inserting it.
func BuildInstr(op Op, ops ...Operand) *Instr { return &Instr{Op: op, Ops: ops} }

func (b *Builder) Regs() *RegInfo { return b.F.Regs }

func (b *Builder) def(op Op, ty LLT, uses ...Operand) Reg {
	r := b.F.Regs.NewVReg(ty)
	b.Build(op, append([]Operand{DefOp(r)}, uses...)...)
	return r
}

func (b *Builder) Copy(dst, src Reg) *Instr { return b.Build(OpCopy, DefOp(dst), RegOp(src)) }

func (b *Builder) CopyTo(ty LLT, src Reg) Reg { return b.def(OpCopy, ty, RegOp(src)) }

func (b *Builder) Constant(ty LLT, v int64) Reg {
	mask := int64(-1)
	if n := ty.SizeInBits(); n < 64 { mask = 1<<n - 1 }
	return b.def(OpConstant, ty, ImmOp(v&mask))
}

func (b *Builder) Undef(ty LLT) Reg                  { return b.def(OpUndef, ty) }
func (b *Builder) Trunc(ty LLT, src Reg) Reg         { return b.def(OpTrunc, ty, RegOp(src)) }
func (b *Builder) AnyExt(ty LLT, src Reg) Reg        { return b.def(OpAnyExt, ty, RegOp(src)) }
func (b *Builder) ZExt(ty LLT, src Reg) Reg          { return b.def(OpZExt, ty, RegOp(src)) }
func (b *Builder) SExt(ty LLT, src Reg) Reg          { return b.def(OpSExt, ty, RegOp(src)) }
func (b *Builder) FrameIndex(ty LLT, fi int) Reg     { return b.def(OpFrameIndex, ty, FrameIndexOp(fi)) }
func (b *Builder) Load(ty LLT, ptr Reg) Reg          { return b.def(OpLoad, ty, RegOp(ptr)) }
func (b *Builder) Store(val, ptr Reg) *Instr         { return b.Build(OpStore, RegOp(val), RegOp(ptr)) }
func (b *Builder) PtrAdd(ty LLT, base, off Reg) Reg  { return b.def(OpPtrAdd, ty, RegOp(base), RegOp(off)) }
func (b *Builder) Binary(op Op, ty LLT, x, y Reg) Reg { return b.def(op, ty, RegOp(x), RegOp(y)) }

func (b *Builder) ICmp(p Pred, x, y Reg) Reg {
	return b.def(OpICmp, S1, PredOp(p), RegOp(x), RegOp(y))
}

// Merge packs parts, lowest first, into one value of type ty.
func (b *Builder) Merge(ty LLT, parts ...Reg) Reg {
	ops := make([]Operand, len(parts))
	for i, p := range parts {
		ops[i] = RegOp(p)
	}
	return b.def(OpMerge, ty, ops...)
}

func (b *Builder) MergeInto(dst Reg, parts ...Reg) *Instr {
	ops := []Operand{DefOp(dst)}
	for _, p := range parts {
		ops = append(ops, RegOp(p))
	}
	return b.Build(OpMerge, ops...)
}

// Unmerge splits src into n parts of type ty, lowest first.
func (b *Builder) Unmerge(ty LLT, src Reg, n int) []Reg {
	parts := make([]Reg, n)
	for i := range parts {
		parts[i] = b.F.Regs.NewVReg(ty)
	}
	b.UnmergeInto(parts, src)
	return parts
}

func (b *Builder) UnmergeInto(parts []Reg, src Reg) *Instr {
	ops := make([]Operand, 0, len(parts)+1)
	for _, p := range parts {
		ops = append(ops, DefOp(p))
	}
	return b.Build(OpUnmerge, append(ops, RegOp(src))...)
}

// Carry builds a G_UADDO/G_USUBO (carryIn == NoReg) or G_UADDE/G_USUBE.
func (b *Builder) Carry(op Op, ty LLT, x, y, carryIn Reg) (Reg, Reg) {
	res, co := b.F.Regs.NewVReg(ty), b.F.Regs.NewVReg(S1)
	ops := []Operand{DefOp(res), DefOp(co), RegOp(x), RegOp(y)}
	if carryIn != NoReg { ops = append(ops, RegOp(carryIn)) }
	b.Build(op, ops...)
	return res, co
}
