package ir

const maxKnownBitsDepth = 6

// KnownBits tracks bits proven zero or one in a value of width Bits.
type KnownBits struct {
	Zero, One uint64
	Bits      int
}

func mask(n int) uint64 {
	if n >= 64 { return ^uint64(0) }
	return uint64(1)<<n - 1
}

func Unknown(n int) KnownBits { return KnownBits{Bits: n} }

func ConstantBits(v uint64, n int) KnownBits {
	return KnownBits{Zero: ^v & mask(n), One: v & mask(n), Bits: n}
}

func (k KnownBits) IsConstant() bool { return k.Bits > 0 && (k.Zero|k.One)&mask(k.Bits) == mask(k.Bits) }
func (k KnownBits) Constant() uint64 { return k.One }

// SignedConstant interprets a constant as a two's complement value.
func (k KnownBits) SignedConstant() int64 { return signExtend(k.One, k.Bits) }

func (k KnownBits) trunc(n int) KnownBits {
	return KnownBits{Zero: k.Zero & mask(n), One: k.One & mask(n), Bits: n}
}

func (k KnownBits) zext(n int) KnownBits {
	return KnownBits{Zero: k.Zero | (mask(n) &^ mask(k.Bits)), One: k.One, Bits: n}
}

func (k KnownBits) anyext(n int) KnownBits { return KnownBits{Zero: k.Zero, One: k.One, Bits: n} }

func (k KnownBits) sext(n int) KnownBits {
	high := mask(n) &^ mask(k.Bits)
	sign := uint64(1) << (k.Bits - 1)
	out := k.anyext(n)
	switch {
	case k.Zero&sign != 0: out.Zero |= high
	case k.One&sign != 0: out.One |= high
	}
	return out
}

func addSub(l, r KnownBits, carryZero, carryOne bool) KnownBits {
	m := mask(l.Bits)
	var cz, co uint64
	if !carryZero { cz = 1 }
	if carryOne { co = 1 }
	sumZero := (^l.Zero + ^r.Zero + cz) & m
	sumOne := (l.One + r.One + co) & m
	carryKnownZero := ^(sumZero ^ l.Zero ^ r.Zero) & m
	carryKnownOne := (sumOne ^ l.One ^ r.One) & m
	known := (l.Zero | l.One) & (r.Zero | r.One) & (carryKnownZero | carryKnownOne)
	return KnownBits{Zero: ^sumZero & known & m, One: sumOne & known, Bits: l.Bits}
}

// ComputeKnownBits analyses the generic definition chain of r.
func ComputeKnownBits(f *Func, r Reg) KnownBits { return knownBits(f, r, 0) }

func knownBits(f *Func, r Reg, depth int) KnownBits {
	n := f.Regs.SizeInBits(r)
	if n == 0 || n > 64 { return KnownBits{} }
	if depth >= maxKnownBitsDepth { return Unknown(n) }
	mi := f.DefOf(r)
	if mi == nil { return Unknown(n) }
	src := func(i int) KnownBits { return knownBits(f, mi.Ops[i].Reg, depth+1) }

	switch mi.Op {
	case OpConstant: return ConstantBits(uint64(mi.Ops[1].Imm), n)
	case OpCopy, OpIntToPtr, OpPtrToInt:
		if !mi.Ops[1].Reg.IsVirtual() { return Unknown(n) }
		s := src(1)
		if s.Bits != n { return Unknown(n) }
		return s
	case OpAnd:
		a, b := src(1), src(2)
		return KnownBits{Zero: a.Zero | b.Zero, One: a.One & b.One, Bits: n}
	case OpOr:
		a, b := src(1), src(2)
		return KnownBits{Zero: a.Zero & b.Zero, One: a.One | b.One, Bits: n}
	case OpXor:
		a, b := src(1), src(2)
		return KnownBits{Zero: (a.Zero & b.Zero) | (a.One & b.One), One: (a.Zero & b.One) | (a.One & b.Zero), Bits: n}
	case OpAdd, OpPtrAdd:
		a, b := src(1), src(2)
		if b.Bits < n { b = b.zext(n) }
		if a.Bits != n || b.Bits != n { return Unknown(n) }
		return addSub(a, b, true, false)
	case OpSub:
		a, b := src(1), src(2)
		if a.Bits != n || b.Bits != n { return Unknown(n) }
		return addSub(a, KnownBits{Zero: b.One, One: b.Zero, Bits: n}, false, true)
	case OpShl, OpLShr, OpAShr:
		amt := src(2)
		if !amt.IsConstant() || amt.Constant() >= uint64(n) { return Unknown(n) }
		s, sh := src(1), amt.Constant()
		switch mi.Op {
		case OpShl: return KnownBits{Zero: (s.Zero<<sh | mask(int(sh))) & mask(n), One: s.One << sh & mask(n), Bits: n}
		case OpLShr: return KnownBits{Zero: s.Zero>>sh | (mask(n) &^ mask(n-int(sh))), One: s.One >> sh, Bits: n}
		}
		return KnownBits{Zero: s.Zero >> sh, One: s.One >> sh, Bits: n - int(sh)}.sext(n)
	case OpZExt: return src(1).zext(n)
	case OpSExt: return src(1).sext(n)
	case OpAnyExt: return src(1).anyext(n)
	case OpTrunc: return src(1).trunc(n)
	case OpMerge:
		out := KnownBits{Bits: n}
		shift := 0
		for i := 1; i < len(mi.Ops); i++ {
			p := src(i)
			out.Zero |= p.Zero << shift
			out.One |= p.One << shift
			shift += p.Bits
		}
		return out
	case OpUnmerge:
		idx := 0
		for idx < len(mi.Ops)-1 && mi.Ops[idx].Reg != r {
			idx++
		}
		s := src(len(mi.Ops) - 1)
		shift := uint(idx * n)
		return KnownBits{Zero: s.Zero >> shift & mask(n), One: s.One >> shift & mask(n), Bits: n}
	case OpICmp:
		if n > 1 { return KnownBits{Zero: mask(n) &^ 1, Bits: n} }
	}
	return Unknown(n)
}
