// Package parser turns the tokens of one MIR line into a label or an
// instruction node.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/sm83/pkg/ast"
	"github.com/xplshn/sm83/pkg/token"
)

// Error is a syntax error at one token
type Error struct {
	Tok token.Token
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("%d:%d: %s", e.Tok.Line, e.Tok.Column, e.Msg) }

// Parser holds the state for parsing one line
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
}

// NewParser creates a Parser over tokens, which must end in EOF
func NewParser(tokens []token.Token) *Parser {
	p := &Parser{tokens: tokens}
	if len(tokens) > 0 { p.current = p.tokens[0] }
	return p
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) { return p.tokens[p.pos+1] }
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool { return p.current.Type == tokType }

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) { return false }
	p.advance()
	return true
}

func (p *Parser) errorf(tok token.Token, format string, args ...any) *Error {
	return &Error{Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(tokType token.Type, what string) error {
	if p.match(tokType) { return nil }
	if p.check(token.Illegal) { return p.errorf(p.current, "unexpected character '%s'", p.current.Value) }
	return p.errorf(p.current, "expected %s, found %s", what, p.current.Type)
}

// ParseLine parses the whole token stream. An empty line yields nil.
func (p *Parser) ParseLine() (*ast.Node, error) {
	if len(p.tokens) == 0 || p.check(token.EOF) { return nil, nil }
	if p.check(token.Illegal) { return nil, p.errorf(p.current, "unexpected character '%s'", p.current.Value) }

	if p.check(token.Ident) && p.peek().Type == token.Colon {
		tok := p.current
		p.advance()
		p.advance()
		if err := p.expect(token.EOF, "end of line after label"); err != nil { return nil, err }
		return ast.NewLabel(tok, tok.Value), nil
	}

	var defs []*ast.Node
	if !p.check(token.Ident) {
		for {
			d, err := p.parseDef()
			if err != nil { return nil, err }
			defs = append(defs, d)
			if !p.match(token.Comma) { break }
		}
		if err := p.expect(token.Eq, "'=' after definitions"); err != nil { return nil, err }
	}

	opTok := p.current
	if err := p.expect(token.Ident, "opcode"); err != nil { return nil, err }

	var uses []*ast.Node
	if !p.check(token.EOF) {
		for {
			u, err := p.parseOperand()
			if err != nil { return nil, err }
			uses = append(uses, u)
			if !p.match(token.Comma) { break }
		}
	}
	if err := p.expect(token.EOF, "',' or end of line"); err != nil { return nil, err }
	return ast.NewInstr(opTok, defs, opTok.Value, uses), nil
}

func (p *Parser) parseDef() (*ast.Node, error) {
	tok := p.current
	switch {
	case p.match(token.Percent):
		ty := ""
		if p.match(token.Colon) {
			if err := p.expect(token.Ident, "type after ':'"); err != nil { return nil, err }
			ty = p.previous.Value
		}
		return ast.NewVReg(tok, tok.Value, ty), nil
	case p.match(token.Dollar):
		return ast.NewPhysReg(tok, tok.Value), nil
	}
	return nil, p.errorf(tok, "expected definition, found %s", tok.Type)
}

func (p *Parser) parseNumber(neg bool) (int64, error) {
	tok := p.current
	if err := p.expect(token.Number, "number"); err != nil { return 0, err }
	v, err := strconv.ParseInt(tok.Value, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(tok.Value, 0, 64)
		if uerr != nil { return 0, p.errorf(tok, "malformed number '%s'", tok.Value) }
		v = int64(u)
	}
	if neg { v = -v }
	return v, nil
}

func (p *Parser) parseOperand() (*ast.Node, error) {
	tok := p.current
	switch {
	case p.match(token.Percent):
		for _, ref := range []struct {
			prefix string
			typ    ast.NodeType
		}{{"bb.", ast.BlockRef}, {"stack.", ast.StackRef}, {"fixed-stack.", ast.FixedStackRef}} {
			if name, ok := strings.CutPrefix(tok.Value, ref.prefix); ok && name != "" { return ast.NewRef(ref.typ, tok, name), nil }
		}
		if p.check(token.Colon) { return nil, p.errorf(p.current, "type annotation on a use of %%%s", tok.Value) }
		return ast.NewVReg(tok, tok.Value, ""), nil

	case p.match(token.Dollar):
		return ast.NewPhysReg(tok, tok.Value), nil

	case p.check(token.Number), p.check(token.Minus):
		v, err := p.parseNumber(p.match(token.Minus))
		if err != nil { return nil, err }
		return ast.NewNumber(tok, v), nil

	case p.match(token.At):
		var off int64
		switch {
		case p.match(token.Plus):
			v, err := p.parseNumber(false)
			if err != nil { return nil, err }
			off = v
		case p.match(token.Minus):
			v, err := p.parseNumber(true)
			if err != nil { return nil, err }
			off = v
		}
		return ast.NewGlobal(tok, tok.Value, off), nil

	case p.match(token.IntPred):
		if err := p.expect(token.LParen, "'(' after intpred"); err != nil { return nil, err }
		name := p.current
		if err := p.expect(token.Ident, "predicate name"); err != nil { return nil, err }
		if err := p.expect(token.RParen, "')'"); err != nil { return nil, err }
		return ast.NewPred(tok, name.Value), nil
	}
	if tok.Type == token.Illegal { return nil, p.errorf(tok, "unexpected character '%s'", tok.Value) }
	return nil, p.errorf(tok, "expected operand, found %s", tok.Type)
}
