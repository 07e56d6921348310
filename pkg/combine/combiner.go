// Package combine runs local rewrite rules over generic instructions before
// and after legalization.
package combine

import (
	"fmt"
	"strings"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/legalizer"
	"github.com/xplshn/sm83/pkg/util"
)

const debugType = "sm83-combiner"

type Tier int

const (
	TierO0 Tier = iota
	TierFull
)

// ParseRuleConfig starts from the rules of tier and applies a comma
// separated list: "name" and "+name" enable a rule, "-name" disables it.
func ParseRuleConfig(cfg string, tier Tier) ([]*Rule, error) {
	enabled := map[string]bool{}
	for _, r := range Rules {
		enabled[r.Name] = !r.Full || tier == TierFull
	}
	for _, item := range strings.Split(cfg, ",") {
		item = strings.TrimSpace(item)
		if item == "" { continue }
		on := true
		switch item[0] {
		case '-': on, item = false, item[1:]
		case '+': item = item[1:]
		}
		if RuleByName(item) == nil { return nil, fmt.Errorf("unknown combiner rule '%s'", item) }
		enabled[item] = on
	}
	var rules []*Rule
	for _, r := range Rules {
		if enabled[r.Name] { rules = append(rules, r) }
	}
	return rules, nil
}

const maxSweeps = 32

// Combiner applies a rule list to one function until nothing changes.
type Combiner struct {
	F     *ir.Func
	Rules []*Rule
	// Legal restricts produced constants after legalization; nil before.
	Legal     *legalizer.Info
	KnownBits bool

	cse   map[*ir.Block]map[uint64][]*ir.Instr
	dirty bool
}

func New(f *ir.Func, rules []*Rule) *Combiner { return &Combiner{F: f, Rules: rules} }

func (c *Combiner) erase(mi *ir.Instr) {
	mi.EraseFromParent()
	c.dirty = true
}

func (c *Combiner) changed(*ir.Instr) { c.dirty = true }

// Run sweeps the function in block order, trying every rule on every
// instruction, until a sweep makes no change.
func (c *Combiner) Run() error {
	for sweep := 0; ; sweep++ {
		if sweep == maxSweeps { return ir.Errorf("combiner", c.F, nil, "no fixpoint after %d sweeps", sweep) }
		c.dirty = false
		c.cse = map[*ir.Block]map[uint64][]*ir.Instr{}
		for _, mi := range c.F.Instrs() {
			for _, r := range c.Rules {
				if mi.Block == nil { break }
				text := ""
				if util.DebugEnabled(debugType) { text = ir.PrintInstr(mi, c.F, nil) }
				if r.Apply(c, mi) { util.Debugf(debugType, "%s: %s", r.Name, text) }
			}
		}
		if !c.dirty { return nil }
	}
}
