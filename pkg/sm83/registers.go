package sm83

import (
	"strings"

	"github.com/xplshn/sm83/pkg/ir"
)

const (
	NoRegister ir.Reg = iota
	A
	B
	C
	D
	E
	F
	H
	L
	CF
	AF
	BC
	DE
	HL
	SP
	PC
	numRegs
)

const (
	SubLow  ir.SubRegIdx = 1
	SubHigh ir.SubRegIdx = 2
)

type regDesc struct {
	name      string
	bits      int
	low, high ir.Reg
}

var regDescs = [numRegs]regDesc{
	NoRegister: {"noreg", 0, 0, 0},
	A:          {"a", 8, 0, 0},
	B:          {"b", 8, 0, 0},
	C:          {"c", 8, 0, 0},
	D:          {"d", 8, 0, 0},
	E:          {"e", 8, 0, 0},
	F:          {"f", 8, 0, 0},
	H:          {"h", 8, 0, 0},
	L:          {"l", 8, 0, 0},
	CF:         {"cf", 1, 0, 0},
	AF:         {"af", 16, F, A},
	BC:         {"bc", 16, C, B},
	DE:         {"de", 16, E, D},
	HL:         {"hl", 16, L, H},
	SP:         {"sp", 16, 0, 0},
	PC:         {"pc", 16, 0, 0},
}

var (
	GR8  = &ir.RegClass{Name: "GR8", Bits: 8, Regs: []ir.Reg{A, B, C, D, E, H, L}}
	GR16 = &ir.RegClass{Name: "GR16", Bits: 16, Regs: []ir.Reg{BC, DE, HL}}
)

// Reserved registers are never handed to general values.
var Reserved = []ir.Reg{SP, PC}

func IsReserved(r ir.Reg) bool { return r == SP || r == PC }

func RegName(r ir.Reg) string {
	if r < numRegs { return regDescs[r].name }
	return "?"
}

func RegBits(r ir.Reg) int {
	if r < numRegs { return regDescs[r].bits }
	return 0
}

func LookupReg(name string) (ir.Reg, bool) {
	name = strings.ToLower(name)
	for r := A; r < numRegs; r++ {
		if regDescs[r].name == name { return r, true }
	}
	return NoRegister, false
}

// SubReg returns the half of a pair selected by idx.
func SubReg(r ir.Reg, idx ir.SubRegIdx) ir.Reg {
	if r >= numRegs { return NoRegister }
	switch idx {
	case SubLow: return regDescs[r].low
	case SubHigh: return regDescs[r].high
	}
	return r
}

// SuperReg returns the pair containing an 8-bit register.
func SuperReg(r ir.Reg) ir.Reg {
	for p := AF; p <= HL; p++ {
		if regDescs[p].low == r || regDescs[p].high == r { return p }
	}
	return NoRegister
}

// Overlaps reports whether two registers share any bits.
func Overlaps(a, b ir.Reg) bool {
	if a == b { return true }
	for _, x := range Aliases(a) {
		if x == b { return true }
	}
	return false
}

// Aliases lists the registers sharing storage with r, r excluded.
func Aliases(r ir.Reg) []ir.Reg {
	if r >= numRegs { return nil }
	if d := regDescs[r]; d.low != NoRegister { return []ir.Reg{d.low, d.high} }
	if p := SuperReg(r); p != NoRegister { return []ir.Reg{p} }
	return nil
}

// ClassForSize picks the smallest class holding a value of the given width.
func ClassForSize(bits int) *ir.RegClass {
	switch {
	case bits > 0 && bits <= 8: return GR8
	case bits == 16: return GR16
	}
	return nil
}

// ClassOf returns the class of a physical register.
func ClassOf(r ir.Reg) *ir.RegClass {
	switch {
	case GR8.Contains(r): return GR8
	case GR16.Contains(r): return GR16
	}
	return nil
}

func SubRegName(idx ir.SubRegIdx) string {
	switch idx {
	case SubLow: return "sub_low"
	case SubHigh: return "sub_high"
	}
	return "sub?"
}

func LookupSubReg(name string) (ir.SubRegIdx, bool) {
	switch name {
	case "sub_low": return SubLow, true
	case "sub_high": return SubHigh, true
	}
	return ir.NoSubReg, false
}

// CSR lists the callee saved registers in save order.
var CSR = []ir.Reg{BC, HL}

var (
	CallPreserved = &ir.RegMask{Name: "sm83", Preserved: []ir.Reg{BC, B, C, HL, H, L, SP}}
	NoPreserved   = &ir.RegMask{Name: "noregs"}
)

func CalleeSavedRegs(cc ir.CallConv) []ir.Reg {
	switch cc {
	case ir.CallConvC, ir.CallConvFast: return CSR
	}
	return nil
}

func CallPreservedMask(cc ir.CallConv) *ir.RegMask {
	switch cc {
	case ir.CallConvC, ir.CallConvFast: return CallPreserved
	}
	return NoPreserved
}

// StackRegister is the only base register frame indices resolve to.
const StackRegister = SP
