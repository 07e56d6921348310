package legalizer

import "github.com/xplshn/sm83/pkg/ir"

var (
	s1  = ir.S1
	s8  = ir.S8
	s16 = ir.S16
	p0  = ir.P0
	p1  = ir.P1
)

// SM83 is the legality table of the target.
var SM83 = newSM83Info()

func newSM83Info() *Info {
	li := NewInfo()

	li.Rules(ir.OpUndef, ir.OpConstant).
		LegalFor(p0, p1, s1, s8, s16).
		MaxScalar(0, s16)

	li.Rules(ir.OpGlobalValue).LegalFor(p0, p1)

	li.Rules(ir.OpGPhi).
		LegalFor(s8, s16, p0, p1).
		MinScalar(0, s8).
		MaxScalar(0, s16)

	li.Rules(ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor).
		LegalFor(s8).
		ClampScalar(0, s8, s8)

	li.Rules(ir.OpUAddO, ir.OpUSubO, ir.OpUAddE, ir.OpUSubE).
		LegalForPairs([2]ir.LLT{s8, s1}).
		MaxScalar(0, s8)

	li.Rules(ir.OpAbs).Lower()

	li.Rules(ir.OpShl, ir.OpAShr, ir.OpLShr).
		LegalForPairs([2]ir.LLT{s8, s8}).
		MaxScalar(1, s8).
		MinScalar(1, s8).
		MaxScalar(0, s8).
		Lower()

	li.Rules(ir.OpSExt).
		LegalForPairs([2]ir.LLT{s8, s1}).
		Lower()

	li.Rules(ir.OpZExt).Lower()

	li.Rules(ir.OpAnyExt).
		LegalForPairs([2]ir.LLT{s8, s1}, [2]ir.LLT{s16, s8}, [2]ir.LLT{s16, s1}).
		WidenScalarToNextPow2(0, 8).
		ClampScalar(0, s8, s16)

	li.Rules(ir.OpTrunc).
		LegalForPairs([2]ir.LLT{s1, s8}, [2]ir.LLT{s8, s16}, [2]ir.LLT{s1, s16}).
		LowerIf(func(q Query) bool { return q.Types[1].IsScalar() && q.Types[1].SizeInBits()%8 == 0 })

	li.Rules(ir.OpICmp).
		LegalForCartesianProduct([]ir.LLT{s1}, []ir.LLT{p0, p1, s8, s16}).
		LowerIf(func(q Query) bool { return q.Types[1].IsScalar() && q.Types[1].SizeInBits() > 16 })

	li.Rules(ir.OpUnmerge).LegalForPairs([2]ir.LLT{s8, s16})
	li.Rules(ir.OpMerge).LegalForPairs([2]ir.LLT{s16, s8})

	li.Rules(ir.OpIntToPtr).LegalForPairs([2]ir.LLT{p0, s16}, [2]ir.LLT{p1, s8})
	li.Rules(ir.OpPtrToInt).
		LegalForCartesianProduct([]ir.LLT{s16}, []ir.LLT{p0, p1}).
		LegalForPairs([2]ir.LLT{s8, p1})

	li.Rules(ir.OpLoad, ir.OpStore).
		LegalForCartesianProduct([]ir.LLT{s8}, []ir.LLT{p0, p1}).
		MaxScalar(0, s8)

	li.Rules(ir.OpPtrAdd).
		LegalForCartesianProduct([]ir.LLT{p0}, []ir.LLT{s8, s16}).
		LegalForPairs([2]ir.LLT{p1, s8})

	li.Rules(ir.OpFrameIndex, ir.OpBlockAddr).LegalFor(p0)
	li.Rules(ir.OpBrCond).LegalFor(s1)
	li.Rules(ir.OpBrIndirect).LegalFor(p0)
	li.Rules(ir.OpBr).AlwaysLegal()

	return li
}
