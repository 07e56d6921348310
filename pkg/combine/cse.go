package combine

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/sm83/pkg/ir"
)

func cseCandidate(mi *ir.Instr) bool {
	return mi.Op.IsGeneric() && mi.Op.IsPure() && mi.Op != ir.OpUndef && mi.NumExplicitDefs() >= 1
}

// cseKey hashes everything but the defined registers themselves.
func cseKey(mi *ir.Instr, ri *ir.RegInfo) uint64 {
	buf := binary.AppendUvarint(nil, uint64(mi.Op))
	for _, op := range mi.Ops {
		buf = append(buf, byte(op.Kind))
		switch {
		case op.IsReg() && op.IsDef():
			buf = append(buf, ri.Type(op.Reg).String()...)
		case op.IsReg():
			buf = binary.AppendUvarint(buf, uint64(op.Reg))
			buf = append(buf, byte(op.SubReg))
		default:
			buf = binary.AppendVarint(buf, op.Imm)
			buf = append(buf, op.Sym...)
			buf = binary.AppendUvarint(buf, uint64(op.Pred))
			if op.Block != nil { buf = binary.AppendUvarint(buf, uint64(op.Block.Num)) }
		}
	}
	return xxhash.Sum64(buf)
}

func sameComputation(a, b *ir.Instr, ri *ir.RegInfo) bool {
	if a.Op != b.Op || len(a.Ops) != len(b.Ops) { return false }
	for i := range a.Ops {
		x, y := a.Ops[i], b.Ops[i]
		if x.Kind != y.Kind || x.Flags != y.Flags { return false }
		if x.IsReg() && x.IsDef() {
			if ri.Type(x.Reg) != ri.Type(y.Reg) { return false }
			continue
		}
		if x.Reg != y.Reg || x.SubReg != y.SubReg || x.Imm != y.Imm || x.Sym != y.Sym || x.Pred != y.Pred || x.Block != y.Block { return false }
	}
	return true
}

// cse reuses an identical earlier computation of the same block.
func cse(c *Combiner, mi *ir.Instr) bool {
	if !cseCandidate(mi) { return false }
	ri := c.F.Regs
	table := c.cse[mi.Block]
	if table == nil {
		table = map[uint64][]*ir.Instr{}
		c.cse[mi.Block] = table
	}
	key := cseKey(mi, ri)
	for _, prev := range table[key] {
		if prev.Block != mi.Block || !sameComputation(prev, mi, ri) { continue }
		defs, prevDefs := mi.Defs(), prev.Defs()
		for i := range defs {
			c.F.ReplaceAllUses(defs[i], prevDefs[i])
		}
		c.erase(mi)
		return true
	}
	table[key] = append(table[key], mi)
	return false
}
