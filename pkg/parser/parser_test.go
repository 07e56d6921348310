package parser

import (
	"errors"
	"testing"

	"github.com/xplshn/sm83/pkg/ast"
	"github.com/xplshn/sm83/pkg/lexer"
)

func parse(src string) (*ast.Node, error) {
	return NewParser(lexer.NewLexer([]rune(src), 0, 1, 1).All()).ParseLine()
}

func TestParseLine(t *testing.T) {
	n, err := parse("%lo:s8, %hi:s8 = G_UNMERGE_VALUES %w")
	if err != nil { t.Fatal(err) }
	in := n.Data.(ast.InstrNode)
	if in.Opcode != "G_UNMERGE_VALUES" || len(in.Defs) != 2 || len(in.Uses) != 1 { t.Fatalf("parsed %+v", in) }
	if d := in.Defs[1].Data.(ast.VRegNode); d.Name != "hi" || d.Ty != "s8" { t.Errorf("second def = %+v", d) }

	n, err = parse("G_BRCOND %c, %bb.2")
	if err != nil { t.Fatal(err) }
	in = n.Data.(ast.InstrNode)
	if len(in.Defs) != 0 || in.Uses[1].Type != ast.BlockRef || in.Uses[1].Data.(ast.RefNode).Name != "2" { t.Errorf("parsed %+v", in) }

	n, err = parse("%p:p0 = G_GLOBAL_VALUE @tbl-4")
	if err != nil { t.Fatal(err) }
	if g := n.Data.(ast.InstrNode).Uses[0].Data.(ast.GlobalNode); g.Name != "tbl" || g.Offset != -4 { t.Errorf("global = %+v", g) }

	n, err = parse("%k:s16 = G_CONSTANT -0x8000")
	if err != nil { t.Fatal(err) }
	if v := n.Data.(ast.InstrNode).Uses[0].Data.(ast.NumberNode).Value; v != -0x8000 { t.Errorf("constant = %d", v) }

	n, err = parse("loop:   ; header")
	if err != nil || n.Type != ast.Label || n.Data.(ast.LabelNode).Name != "loop" { t.Errorf("label = %+v, %v", n, err) }

	if n, err := parse("   ; nothing"); n != nil || err != nil { t.Errorf("comment line = %+v, %v", n, err) }
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src string
		col int
	}{
		{"%a:s8 G_ADD %b, %c", 7},
		{"%a:s8 = G_ADD %b %c", 18},
		{"%a:s8 = G_ADD %b:s8", 17},
		{"%a: = COPY %b", 5},
		{"%c:s1 = G_ICMP intpred eq, %a, %b", 24},
		{"= G_ADD", 1},
		{"loop: G_BR", 7},
	}
	for _, tt := range tests {
		_, err := parse(tt.src)
		var pe *Error
		if !errors.As(err, &pe) { t.Errorf("%q: error = %v", tt.src, err); continue }
		if pe.Tok.Column != tt.col { t.Errorf("%q: error at column %d (%s), want %d", tt.src, pe.Tok.Column, pe.Msg, tt.col) }
	}
}
