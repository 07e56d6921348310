package ir

// DefOf returns the instruction defining the virtual register r.
func (f *Func) DefOf(r Reg) *Instr {
	if !r.IsVirtual() { return nil }
	for _, b := range f.Blocks {
		for _, mi := range b.Instrs {
			for i := range mi.Ops {
				if op := &mi.Ops[i]; op.IsReg() && op.IsDef() && op.Reg == r { return mi }
			}
		}
	}
	return nil
}

// Users returns every instruction reading r, once per instruction.
func (f *Func) Users(r Reg) []*Instr {
	var users []*Instr
	for _, b := range f.Blocks {
		for _, mi := range b.Instrs {
			for i := range mi.Ops {
				if op := &mi.Ops[i]; op.IsUse() && op.Reg == r {
					users = append(users, mi)
					break
				}
			}
		}
	}
	return users
}

func (f *Func) HasUses(r Reg) bool { return len(f.Users(r)) > 0 }

// ReplaceAllUses rewrites every read of from into a read of to.
func (f *Func) ReplaceAllUses(from, to Reg) {
	for _, b := range f.Blocks {
		for _, mi := range b.Instrs {
			mi.ReplaceUses(from, to)
		}
	}
}

// ConstantOf looks through copies for a G_CONSTANT defining r.
func (f *Func) ConstantOf(r Reg) (int64, bool) {
	for depth := 0; depth < 8; depth++ {
		mi := f.DefOf(r)
		if mi == nil { return 0, false }
		switch mi.Op {
		case OpConstant: return mi.Ops[1].Imm, true
		case OpCopy:
			if !mi.Ops[1].Reg.IsVirtual() { return 0, false }
			r = mi.Ops[1].Reg
		default:
			return 0, false
		}
	}
	return 0, false
}
