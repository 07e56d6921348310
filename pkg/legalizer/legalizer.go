// Package legalizer rewrites generic instructions until every one of them is
// legal for the target, following a declarative rule table.
package legalizer

import (
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/util"
)

const (
	pass      = "legalizer"
	debugType = "sm83-legalizer"

	maxRounds = 64
)

// Legalize applies li to f until no instruction changes, then checks that
// every remaining generic instruction is legal.
func Legalize(f *ir.Func, li *Info) error {
	h := &helper{f: f, ri: f.Regs}
	for round := 0; ; round++ {
		if round == maxRounds { return ir.Errorf(pass, f, nil, "no fixpoint after %d rounds", round) }
		changed := false
		for _, mi := range f.Instrs() {
			if mi.Block == nil || !mi.Op.IsGeneric() { continue }
			if isArtifact(mi.Op) && h.combineArtifact(mi) {
				util.Debugf(debugType, "combined artifact %s", ir.PrintInstr(mi, f, nil))
				changed = true
				continue
			}
			st := li.Action(QueryOf(mi, f.Regs))
			// An artifact may become combinable once its neighbours are
			// legalized; a leftover one fails the final check.
			if st.Action == Legal || st.Action == Unsupported && isArtifact(mi.Op) { continue }
			util.Debugf(debugType, "%s: %s", ir.PrintInstr(mi, f, nil), st)
			if err := h.apply(mi, st); err != nil { return err }
			changed = true
		}
		if h.removeDead() { changed = true }
		if !changed { break }
	}

	for _, mi := range f.Instrs() {
		if mi.Op.IsGeneric() && !li.IsLegal(mi, f.Regs) {
			return ir.Errorf(pass, f, mi, "unable to legalize instruction (%s)", QueryOf(mi, f.Regs))
		}
	}
	f.Props |= ir.PropLegalized
	return nil
}
