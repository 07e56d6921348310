package legalizer

import (
	"fmt"
	"strings"

	"github.com/xplshn/sm83/pkg/ir"
)

type Action int

const (
	Legal Action = iota
	WidenScalar
	NarrowScalar
	Lower
	Unsupported
)

var actionNames = [...]string{"Legal", "WidenScalar", "NarrowScalar", "Lower", "Unsupported"}

func (a Action) String() string { return actionNames[a] }

// Query asks how an opcode with the given type per type index is handled.
type Query struct {
	Op    ir.Op
	Types []ir.LLT
}

func (q Query) String() string {
	parts := make([]string, len(q.Types))
	for i, t := range q.Types {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s {%s}", q.Op, strings.Join(parts, ", "))
}

// QueryOf builds the legality query of an instruction.
func QueryOf(mi *ir.Instr, ri *ir.RegInfo) Query {
	q := Query{Op: mi.Op, Types: make([]ir.LLT, mi.NumTypeIndices())}
	for i := range q.Types {
		if n := mi.TypeOperand(i); n >= 0 && n < len(mi.Ops) { q.Types[i] = ri.Type(mi.Ops[n].Reg) }
	}
	return q
}

// Step is the outcome of a query: an action and, for widening and
// narrowing, the type index it applies to and the type to convert it to.
type Step struct {
	Action  Action
	TypeIdx int
	NewType ir.LLT
}

func (s Step) String() string {
	switch s.Action {
	case WidenScalar, NarrowScalar: return fmt.Sprintf("%s idx%d -> %s", s.Action, s.TypeIdx, s.NewType)
	}
	return s.Action.String()
}

type rule struct {
	pred func(Query) bool
	step func(Query) Step
}

// RuleSet is an ordered list of rules for one or more opcodes; the first
// rule whose predicate holds decides the action.
type RuleSet struct {
	rules []rule
}

func (rs *RuleSet) add(pred func(Query) bool, step func(Query) Step) *RuleSet {
	rs.rules = append(rs.rules, rule{pred, step})
	return rs
}

func fixed(a Action) func(Query) Step { return func(Query) Step { return Step{Action: a} } }

func typeAt(q Query, idx int) ir.LLT {
	if idx < len(q.Types) { return q.Types[idx] }
	return ir.LLT{}
}

// LegalFor marks the opcode legal when type index 0 is one of types.
func (rs *RuleSet) LegalFor(types ...ir.LLT) *RuleSet {
	return rs.add(func(q Query) bool {
		for _, t := range types {
			if typeAt(q, 0) == t { return true }
		}
		return false
	}, fixed(Legal))
}

// LegalForPairs marks the opcode legal for the listed (idx0, idx1) pairs.
func (rs *RuleSet) LegalForPairs(pairs ...[2]ir.LLT) *RuleSet {
	return rs.add(func(q Query) bool {
		for _, p := range pairs {
			if typeAt(q, 0) == p[0] && typeAt(q, 1) == p[1] { return true }
		}
		return false
	}, fixed(Legal))
}

// LegalForCartesianProduct marks every combination of t0 x t1 legal.
func (rs *RuleSet) LegalForCartesianProduct(t0, t1 []ir.LLT) *RuleSet {
	var pairs [][2]ir.LLT
	for _, a := range t0 {
		for _, b := range t1 {
			pairs = append(pairs, [2]ir.LLT{a, b})
		}
	}
	return rs.LegalForPairs(pairs...)
}

// AlwaysLegal is used by opcodes without type indices.
func (rs *RuleSet) AlwaysLegal() *RuleSet {
	return rs.add(func(Query) bool { return true }, fixed(Legal))
}

// MaxScalar narrows type index idx to ty when it is a wider scalar.
func (rs *RuleSet) MaxScalar(idx int, ty ir.LLT) *RuleSet {
	return rs.add(func(q Query) bool {
		t := typeAt(q, idx)
		return t.IsScalar() && t.SizeInBits() > ty.SizeInBits()
	}, func(Query) Step { return Step{NarrowScalar, idx, ty} })
}

// MinScalar widens type index idx to ty when it is a narrower scalar.
func (rs *RuleSet) MinScalar(idx int, ty ir.LLT) *RuleSet {
	return rs.add(func(q Query) bool {
		t := typeAt(q, idx)
		return t.IsScalar() && t.SizeInBits() < ty.SizeInBits()
	}, func(Query) Step { return Step{WidenScalar, idx, ty} })
}

func (rs *RuleSet) ClampScalar(idx int, min, max ir.LLT) *RuleSet {
	return rs.MinScalar(idx, min).MaxScalar(idx, max)
}

// WidenScalarToNextPow2 widens a scalar whose width is not a power of two,
// to at least min bits.
func (rs *RuleSet) WidenScalarToNextPow2(idx, min int) *RuleSet {
	return rs.add(func(q Query) bool {
		t := typeAt(q, idx)
		if !t.IsScalar() { return false }
		n := t.SizeInBits()
		return n&(n-1) != 0
	}, func(q Query) Step {
		n := max(nextPow2(typeAt(q, idx).SizeInBits()), min)
		return Step{WidenScalar, idx, ir.Scalar(n)}
	})
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Lower requests a target independent expansion for whatever reaches it.
func (rs *RuleSet) Lower() *RuleSet {
	return rs.add(func(Query) bool { return true }, fixed(Lower))
}

func (rs *RuleSet) LowerIf(pred func(Query) bool) *RuleSet { return rs.add(pred, fixed(Lower)) }

func (rs *RuleSet) Unsupported() *RuleSet {
	return rs.add(func(Query) bool { return true }, fixed(Unsupported))
}

func (rs *RuleSet) step(q Query) Step {
	for _, r := range rs.rules {
		if r.pred(q) { return r.step(q) }
	}
	return Step{Action: Unsupported}
}

// Info is a legality table. It is filled once and only read afterwards.
type Info struct {
	sets map[ir.Op]*RuleSet
}

func NewInfo() *Info { return &Info{sets: map[ir.Op]*RuleSet{}} }

// Rules returns a rule set shared by all of ops.
func (li *Info) Rules(ops ...ir.Op) *RuleSet {
	rs := &RuleSet{}
	for _, op := range ops {
		li.sets[op] = rs
	}
	return rs
}

// Action classifies q. Opcodes without a rule set are unsupported.
func (li *Info) Action(q Query) Step {
	rs, ok := li.sets[q.Op]
	if !ok { return Step{Action: Unsupported} }
	for _, t := range q.Types {
		if !t.IsValid() { return Step{Action: Unsupported} }
	}
	return rs.step(q)
}

func (li *Info) IsLegal(mi *ir.Instr, ri *ir.RegInfo) bool {
	return li.Action(QueryOf(mi, ri)).Action == Legal
}
