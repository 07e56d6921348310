package mirfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/sm83/pkg/ast"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/lexer"
	"github.com/xplshn/sm83/pkg/parser"
	"github.com/xplshn/sm83/pkg/sm83"
	"github.com/xplshn/sm83/pkg/token"
	"github.com/xplshn/sm83/pkg/util"
	"gopkg.in/yaml.v3"
)

// shape is the operand layout of an opcode: the number of definitions,
// negative for a minimum, and one letter per use. A trailing '*' or '+'
// repeats the letters zero or more, or one or more, times.
type shape struct {
	defs int
	uses string
}

var shapes = map[ir.Op]shape{
	ir.OpCopy:        {1, "r"},
	ir.OpAdd:         {1, "rr"},
	ir.OpSub:         {1, "rr"},
	ir.OpAnd:         {1, "rr"},
	ir.OpOr:          {1, "rr"},
	ir.OpXor:         {1, "rr"},
	ir.OpUAddO:       {2, "rr"},
	ir.OpUSubO:       {2, "rr"},
	ir.OpUAddE:       {2, "rrr"},
	ir.OpUSubE:       {2, "rrr"},
	ir.OpShl:         {1, "rr"},
	ir.OpLShr:        {1, "rr"},
	ir.OpAShr:        {1, "rr"},
	ir.OpAbs:         {1, "r"},
	ir.OpICmp:        {1, "prr"},
	ir.OpSExt:        {1, "r"},
	ir.OpZExt:        {1, "r"},
	ir.OpAnyExt:      {1, "r"},
	ir.OpTrunc:       {1, "r"},
	ir.OpMerge:       {1, "r+"},
	ir.OpUnmerge:     {-2, "r"},
	ir.OpConstant:    {1, "i"},
	ir.OpUndef:       {1, ""},
	ir.OpGlobalValue: {1, "g"},
	ir.OpFrameIndex:  {1, "f"},
	ir.OpBlockAddr:   {1, "b"},
	ir.OpPtrAdd:      {1, "rr"},
	ir.OpIntToPtr:    {1, "r"},
	ir.OpPtrToInt:    {1, "r"},
	ir.OpLoad:        {1, "r"},
	ir.OpStore:       {0, "rr"},
	ir.OpGPhi:        {1, "rb+"},
	ir.OpBr:          {0, "b"},
	ir.OpBrCond:      {0, "rb"},
	ir.OpBrIndirect:  {0, "r"},
	ir.OpRet:         {0, "r*"},
}

func kindLetter(n *ast.Node) byte {
	switch n.Type {
	case ast.VReg, ast.PhysReg: return 'r'
	case ast.Number: return 'i'
	case ast.Global: return 'g'
	case ast.BlockRef: return 'b'
	case ast.StackRef, ast.FixedStackRef: return 'f'
	case ast.Pred: return 'p'
	}
	return '?'
}

func (s shape) matches(defs int, kinds string) bool {
	if s.defs < 0 && defs < -s.defs || s.defs >= 0 && defs != s.defs { return false }
	pat, rep := s.uses, byte(0)
	if n := len(pat); n > 0 && (pat[n-1] == '*' || pat[n-1] == '+') { pat, rep = pat[:n-1], pat[n-1] }
	if rep == 0 { return kinds == pat }
	if kinds == "" { return rep == '*' }
	return len(kinds)%len(pat) == 0 && strings.Repeat(pat, len(kinds)/len(pat)) == kinds
}

type bodyParser struct {
	f       *ir.Func
	fn      *Function
	dl      *ir.DataLayout
	defined map[ir.Reg]bool
	used    map[ir.Reg]util.Pos
	order   []ir.Reg
}

func (p *bodyParser) errorAt(tok token.Token, format string, args ...any) *Error {
	return &Error{
		Pos:  util.Pos{File: tok.FileIndex, Line: tok.Line, Col: tok.Column, Len: tok.Len},
		Func: p.f.Name,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// sourceLines maps the body text to lines and columns of the input. A
// literal block starts on the line after its indicator; any other scalar
// must fit on one line.
func sourceLines(body *yaml.Node, src []string) ([]string, []int, []int) {
	text := strings.TrimSuffix(body.Value, "\n")
	rows := strings.Split(text, "\n")
	lines, cols := make([]int, len(rows)), make([]int, len(rows))
	for i, row := range rows {
		if body.Style&yaml.LiteralStyle == 0 {
			lines[i], cols[i] = body.Line, body.Column
			continue
		}
		lines[i], cols[i] = body.Line+1+i, 1
		if n := lines[i] - 1; n < len(src) {
			raw := src[n]
			indent := len(raw) - len(strings.TrimLeft(raw, " \t"))
			rel := len(row) - len(strings.TrimLeft(row, " \t"))
			cols[i] = indent - rel + 1
		}
	}
	return rows, lines, cols
}

func parseBody(f *ir.Func, fn *Function, src []string, fileIndex int) error {
	p := &bodyParser{f: f, fn: fn, dl: f.DataLayout(), defined: map[ir.Reg]bool{}, used: map[ir.Reg]util.Pos{}}
	for _, prm := range f.Sig.Params {
		for _, r := range prm.Regs {
			p.defined[r] = true
		}
	}

	if fn.Body.Kind != yaml.ScalarNode {
		return &Error{Pos: util.Pos{File: fileIndex, Line: fn.Body.Line}, Func: f.Name, Msg: "body must be a text block"}
	}
	if fn.Body.Style&yaml.FoldedStyle != 0 {
		return &Error{Pos: util.Pos{File: fileIndex, Line: fn.Body.Line}, Func: f.Name, Msg: "body must use '|', not '>'"}
	}
	rows, lineNos, cols := sourceLines(&fn.Body, src)

	var lines []*ast.Node
	for i, row := range rows {
		toks := lexer.NewLexer([]rune(row), fileIndex, lineNos[i], cols[i]).All()
		n, err := parser.NewParser(toks).ParseLine()
		if err != nil {
			pe := err.(*parser.Error)
			return p.errorAt(pe.Tok, "%s", pe.Msg)
		}
		if n == nil { continue }
		if n.Type == ast.Label {
			name := n.Data.(ast.LabelNode).Name
			if f.Block(name) != nil { return p.errorAt(n.Tok, "block '%s' defined twice", name) }
			f.NewBlock(name)
		} else if len(f.Blocks) == 0 {
			f.NewBlock("entry")
		}
		lines = append(lines, n)
	}
	if len(lines) == 0 { return &Error{Pos: util.Pos{File: fileIndex, Line: fn.Body.Line}, Func: f.Name, Msg: "empty body"} }

	b := ir.NewBuilder(f)
	b.SetBlockEnd(f.Blocks[0])
	for _, n := range lines {
		if n.Type == ast.Label {
			b.SetBlockEnd(f.Block(n.Data.(ast.LabelNode).Name))
			continue
		}
		mi, err := p.instr(n)
		if err != nil { return err }
		b.Insert(mi)
		if mi.Op.IsTerminator() {
			for _, op := range mi.Ops {
				if op.Kind == ir.KindBlock { b.B.AddSuccessor(op.Block) }
			}
		}
	}

	for _, r := range p.order {
		if !p.defined[r] { return &Error{Pos: p.used[r], Func: f.Name, Msg: fmt.Sprintf("%%%s is used but never defined", f.Regs.Name(r))} }
	}
	return nil
}

func (p *bodyParser) instr(n *ast.Node) (*ir.Instr, error) {
	in := n.Data.(ast.InstrNode)
	op, ok := ir.LookupOp(in.Opcode)
	if !ok {
		if _, machine := sm83.LookupOp(in.Opcode); machine { return nil, p.errorAt(in.OpTok, "machine opcode '%s' in generic input", in.Opcode) }
		return nil, p.errorAt(in.OpTok, "unknown opcode '%s'", in.Opcode)
	}
	if !op.IsGeneric() && op != ir.OpCopy && op != ir.OpCall && op != ir.OpRet {
		return nil, p.errorAt(in.OpTok, "'%s' is not allowed in generic input", in.Opcode)
	}

	var kinds []byte
	for _, u := range in.Uses {
		kinds = append(kinds, kindLetter(u))
	}
	if op == ir.OpCall {
		if len(in.Uses) == 0 || (kinds[0] != 'g' && kinds[0] != 'r') { return nil, p.errorAt(in.OpTok, "call needs a callee") }
		for i, u := range in.Uses[1:] {
			if kinds[i+1] != 'r' { return nil, p.errorAt(u.Tok, "call arguments must be registers") }
		}
	} else if s := shapes[op]; !s.matches(len(in.Defs), string(kinds)) {
		return nil, p.errorAt(in.OpTok, "malformed %s: %d definitions and operands '%s'", in.Opcode, len(in.Defs), kinds)
	}

	mi := ir.BuildInstr(op)
	for _, d := range in.Defs {
		o, err := p.def(d)
		if err != nil { return nil, err }
		mi.Ops = append(mi.Ops, o)
	}
	for _, u := range in.Uses {
		o, err := p.use(u)
		if err != nil { return nil, err }
		mi.Ops = append(mi.Ops, o)
	}
	return mi, nil
}

func (p *bodyParser) phys(n *ast.Node) (ir.Reg, error) {
	name := n.Data.(ast.PhysRegNode).Name
	r, ok := sm83.LookupReg(name)
	if !ok { return ir.NoReg, p.errorAt(n.Tok, "unknown register $%s", name) }
	return r, nil
}

func (p *bodyParser) vreg(name string) ir.Reg {
	if r, ok := p.f.Regs.Lookup(name); ok { return r }
	return p.f.Regs.NewNamedVReg(name, ir.LLT{})
}

func (p *bodyParser) def(n *ast.Node) (ir.Operand, error) {
	if n.Type == ast.PhysReg {
		r, err := p.phys(n)
		return ir.DefOp(r), err
	}
	v := n.Data.(ast.VRegNode)
	r := p.vreg(v.Name)
	if p.defined[r] { return ir.Operand{}, p.errorAt(n.Tok, "%%%s defined twice", v.Name) }
	p.defined[r] = true
	if v.Ty == "" { return ir.Operand{}, p.errorAt(n.Tok, "definition of %%%s needs a type", v.Name) }
	ty, err := ir.ParseLLT(v.Ty, p.dl)
	if err != nil { return ir.Operand{}, p.errorAt(n.Tok, "%v", err) }
	p.f.Regs.SetType(r, ty)
	return ir.DefOp(r), nil
}

func (p *bodyParser) use(n *ast.Node) (ir.Operand, error) {
	switch n.Type {
	case ast.VReg:
		r := p.vreg(n.Data.(ast.VRegNode).Name)
		if _, seen := p.used[r]; !seen {
			p.used[r] = util.Pos{File: n.Tok.FileIndex, Line: n.Tok.Line, Col: n.Tok.Column, Len: n.Tok.Len}
			p.order = append(p.order, r)
		}
		return ir.RegOp(r), nil
	case ast.PhysReg:
		r, err := p.phys(n)
		return ir.RegOp(r), err
	case ast.Number: return ir.ImmOp(n.Data.(ast.NumberNode).Value), nil
	case ast.Global:
		g := n.Data.(ast.GlobalNode)
		return ir.GlobalOp(g.Name, g.Offset), nil
	case ast.Pred:
		name := n.Data.(ast.PredNode).Name
		pr, ok := ir.ParsePred(name)
		if !ok { return ir.Operand{}, p.errorAt(n.Tok, "unknown predicate '%s'", name) }
		return ir.PredOp(pr), nil
	case ast.BlockRef:
		name := n.Data.(ast.RefNode).Name
		if b := p.f.Block(name); b != nil { return ir.BlockOp(b), nil }
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(p.f.Blocks) { return ir.BlockOp(p.f.Blocks[i]), nil }
		return ir.Operand{}, p.errorAt(n.Tok, "unknown block %%bb.%s", name)
	case ast.StackRef:
		name := n.Data.(ast.RefNode).Name
		for i, so := range p.fn.Stack {
			if so.Name == name { return ir.FrameIndexOp(i), nil }
		}
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(p.fn.Stack) { return ir.FrameIndexOp(i), nil }
		return ir.Operand{}, p.errorAt(n.Tok, "unknown stack object %%stack.%s", name)
	case ast.FixedStackRef:
		return ir.Operand{}, p.errorAt(n.Tok, "fixed stack objects are created by argument lowering")
	}
	return ir.Operand{}, p.errorAt(n.Tok, "unexpected operand")
}
