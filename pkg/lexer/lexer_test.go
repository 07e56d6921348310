package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/sm83/pkg/token"
)

func TestNext(t *testing.T) {
	toks := NewLexer([]rune("%lo:s8, $de = G_X %fixed-stack.0, @g+0x10, -3, intpred(ne) ; rest"), 2, 9, 5).All()
	type tk struct {
		Type  token.Type
		Value string
		Col   int
	}
	var got []tk
	for _, tok := range toks {
		if tok.FileIndex != 2 || tok.Line != 9 { t.Fatalf("token %+v lost its position", tok) }
		got = append(got, tk{tok.Type, tok.Value, tok.Column})
	}
	want := []tk{
		{token.Percent, "lo", 5}, {token.Colon, "", 8}, {token.Ident, "s8", 9}, {token.Comma, "", 11},
		{token.Dollar, "de", 13}, {token.Eq, "", 17}, {token.Ident, "G_X", 19},
		{token.Percent, "fixed-stack.0", 23}, {token.Comma, "", 37},
		{token.At, "g", 39}, {token.Plus, "", 41}, {token.Number, "0x10", 42}, {token.Comma, "", 46},
		{token.Minus, "", 48}, {token.Number, "3", 49}, {token.Comma, "", 50},
		{token.IntPred, "intpred", 52}, {token.LParen, "", 59}, {token.Ident, "ne", 60}, {token.RParen, "", 62},
		{token.EOF, "", 64},
	}
	if diff := cmp.Diff(want, got); diff != "" { t.Errorf("tokens (-want +got):\n%s", diff) }
}

func TestIllegal(t *testing.T) {
	for _, src := range []string{"G_ADD ?", "% x", "$"} {
		toks := NewLexer([]rune(src), 0, 1, 1).All()
		if last := toks[len(toks)-1]; last.Type != token.Illegal { t.Errorf("%q ends in %s", src, last.Type) }
	}
}
