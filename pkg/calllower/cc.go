package calllower

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

// LocInfo says how a value was widened to fit its location.
type LocInfo int

const (
	Full LocInfo = iota
	ZExt
	SExt
	AExt
)

// ValAssign places one value in a register or at a stack offset.
type ValAssign struct {
	ValNo  int
	ValTy  ir.LLT
	LocTy  ir.LLT
	Info   LocInfo
	Reg    ir.Reg
	Offset int
}

func (va ValAssign) IsReg() bool { return va.Reg != ir.NoReg }

// State tracks the registers and stack bytes handed out so far.
type State struct {
	CC        ir.CallConv
	StackSize int
	Locs      []ValAssign
	used      map[ir.Reg]bool
}

func NewState(cc ir.CallConv) *State { return &State{CC: cc, used: map[ir.Reg]bool{}} }

// AllocateReg hands out the first free register of regs. Taking a pair
// shadows its halves and taking a half shadows the pair.
func (s *State) AllocateReg(regs []ir.Reg) ir.Reg {
	for _, r := range regs {
		if s.used[r] { continue }
		s.used[r] = true
		for _, a := range sm83.Aliases(r) {
			s.used[a] = true
		}
		return r
	}
	return ir.NoReg
}

func (s *State) IsAllocated(r ir.Reg) bool { return s.used[r] }

func (s *State) AllocateStack(size int) int {
	off := s.StackSize
	s.StackSize += size
	return off
}

type ccAction int

const (
	ccPromote ccAction = iota
	ccAssignReg
	ccAssignStack
)

// ccRule is one line of a calling convention: values of the listed types
// are promoted, get a register from regs, or get size bytes of stack.
type ccRule struct {
	types  []ir.LLT
	action ccAction
	to     ir.LLT
	regs   []ir.Reg
	size   int
}

// Convention is an ordered rule list, read top to bottom per value.
type Convention struct {
	Name  string
	rules []ccRule
}

var CCSM83 = &Convention{"CC_SM83", []ccRule{
	{types: []ir.LLT{ir.S1}, action: ccPromote, to: ir.S8},
	{types: []ir.LLT{ir.S8, ir.P1}, action: ccAssignReg, regs: []ir.Reg{sm83.A, sm83.E, sm83.D}},
	{types: []ir.LLT{ir.S16, ir.P0}, action: ccAssignReg, regs: []ir.Reg{sm83.DE}},
	{types: []ir.LLT{ir.S8, ir.P1}, action: ccAssignStack, size: 1},
	{types: []ir.LLT{ir.S16, ir.P0}, action: ccAssignStack, size: 2},
}}

var RetCCSM83 = &Convention{"RetCC_SM83", []ccRule{
	{types: []ir.LLT{ir.S1}, action: ccPromote, to: ir.S8},
	{types: []ir.LLT{ir.S8, ir.P1}, action: ccAssignReg, regs: []ir.Reg{sm83.A, sm83.E}},
	{types: []ir.LLT{ir.S16, ir.P0}, action: ccAssignReg, regs: []ir.Reg{sm83.DE}},
}}

func (r *ccRule) matches(ty ir.LLT) bool {
	for _, t := range r.types {
		if t == ty { return true }
	}
	return false
}

// Assign places value valNo of type ty and records it in s. It reports false
// when no rule accepts the value.
func (c *Convention) Assign(valNo int, ty ir.LLT, flags ArgFlags, s *State) bool {
	va := ValAssign{ValNo: valNo, ValTy: ty, LocTy: ty}
	for i := range c.rules {
		r := &c.rules[i]
		if !r.matches(va.LocTy) { continue }
		switch r.action {
		case ccPromote:
			va.LocTy, va.Info = r.to, ZExt
			if flags&FlagSExt != 0 { va.Info = SExt }
			continue
		case ccAssignReg:
			reg := s.AllocateReg(r.regs)
			if reg == ir.NoReg { continue }
			va.Reg = reg
		case ccAssignStack:
			va.Offset = s.AllocateStack(r.size)
		}
		s.Locs = append(s.Locs, va)
		return true
	}
	return false
}

// Capacity counts the values of type ty the convention can place, -1 when
// the stack makes it unbounded.
func (c *Convention) Capacity(ty ir.LLT) int {
	n := 0
	for _, r := range c.rules {
		if !r.matches(ty) { continue }
		switch r.action {
		case ccAssignReg: n += len(r.regs)
		case ccAssignStack: return -1
		}
	}
	return n
}

// ForCall returns the argument convention of cc, nil when cc is not
// supported by this target.
func ForCall(cc ir.CallConv, variadic bool) *Convention {
	if variadic { return nil }
	switch cc {
	case ir.CallConvC, ir.CallConvFast: return CCSM83
	}
	return nil
}

func ForReturn(cc ir.CallConv) *Convention {
	switch cc {
	case ir.CallConvC, ir.CallConvFast: return RetCCSM83
	}
	return nil
}
