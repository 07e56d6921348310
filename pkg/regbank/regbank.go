// Package regbank assigns every virtual register of a legalized function to
// a register bank. The target has a single general purpose bank.
package regbank

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
	"github.com/xplshn/sm83/pkg/util"
)

const (
	pass      = "regbankselect"
	debugType = "sm83-regbank"
)

var GPR = &ir.RegBank{ID: 0, Name: "GPR"}

// PartialMapping places bits [Start, Start+Length) of a value in Bank.
type PartialMapping struct {
	Start, Length int
	Bank          *ir.RegBank
	Class         *ir.RegClass
}

type ValueMapping struct {
	Parts []PartialMapping
}

func (vm *ValueMapping) IsValid() bool { return vm != nil && len(vm.Parts) > 0 }

func (vm *ValueMapping) Class() *ir.RegClass {
	if !vm.IsValid() { return nil }
	return vm.Parts[0].Class
}

var (
	gr8Mapping  = &ValueMapping{[]PartialMapping{{0, 8, GPR, sm83.GR8}}}
	gr16Mapping = &ValueMapping{[]PartialMapping{{0, 16, GPR, sm83.GR16}}}
)

// ValueMappingFor returns the mapping of a value of the given width, nil
// when no class holds it.
func ValueMappingFor(bits int) *ValueMapping {
	switch {
	case bits > 0 && bits <= 8: return gr8Mapping
	case bits == 16: return gr16Mapping
	}
	return nil
}

// BankFromClass maps a register class to its bank.
func BankFromClass(*ir.RegClass) *ir.RegBank { return GPR }

const defaultMappingID = 1

// InstrMapping gives a value mapping per operand; non-register operands map
// to nil.
type InstrMapping struct {
	ID       int
	Cost     int
	Operands []*ValueMapping
}

func (im *InstrMapping) IsValid() bool { return im != nil && im.ID != 0 }

func operandBits(op *ir.Operand, ri *ir.RegInfo) int {
	if op.Reg.IsPhysical() { return sm83.RegBits(op.Reg) }
	return ri.SizeInBits(op.Reg)
}

// InstrMappingOf computes the only mapping of mi. G_ADD maps every operand
// like its result; everything else maps each register by its own width.
func InstrMappingOf(mi *ir.Instr, ri *ir.RegInfo) (*InstrMapping, error) {
	im := &InstrMapping{ID: defaultMappingID, Cost: 1, Operands: make([]*ValueMapping, len(mi.Ops))}
	var shared *ValueMapping
	if mi.Op == ir.OpAdd { shared = ValueMappingFor(operandBits(&mi.Ops[0], ri)) }
	for i := range mi.Ops {
		op := &mi.Ops[i]
		if !op.IsReg() || op.Reg == ir.NoReg || op.IsImplicit() { continue }
		vm := shared
		if vm == nil { vm = ValueMappingFor(operandBits(op, ri)) }
		if !vm.IsValid() {
			var f *ir.Func
			if mi.Block != nil { f = mi.Block.Func }
			return nil, ir.Errorf(pass, f, mi, "invalid mapping for operand %d (%d bits)", i, operandBits(op, ri))
		}
		im.Operands[i] = vm
	}
	return im, nil
}

// Select assigns the bank of every virtual register and returns the value
// mapping chosen for each.
func Select(f *ir.Func) (map[ir.Reg]*ValueMapping, error) {
	ri := f.Regs
	assigned := map[ir.Reg]*ValueMapping{}
	for _, mi := range f.Instrs() {
		if !mi.Op.IsGeneric() && mi.Op != ir.OpCopy && mi.Op != ir.OpPhi { continue }
		im, err := InstrMappingOf(mi, ri)
		if err != nil { return nil, err }
		for i, vm := range im.Operands {
			r := mi.Ops[i].Reg
			if vm == nil || !r.IsVirtual() || ri.Class(r) != nil { continue }
			if _, done := assigned[r]; done { continue }
			assigned[r] = vm
			ri.SetBank(r, vm.Parts[0].Bank)
			util.Debugf(debugType, "%%%d: %s (%d bits)", r.VirtIndex(), vm.Parts[0].Bank.Name, vm.Parts[0].Length)
		}
	}
	f.Props |= ir.PropRegBankSelected
	return assigned, nil
}
