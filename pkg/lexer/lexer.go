// Package lexer splits one textual MIR instruction into tokens.
package lexer

import (
	"unicode"

	"github.com/xplshn/sm83/pkg/token"
)

type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int
}

// NewLexer lexes source, which starts at line:column of the input file.
func NewLexer(source []rune, fileIndex, line, column int) *Lexer {
	return &Lexer{source: source, fileIndex: fileIndex, line: line, column: column}
}

func (l *Lexer) Next() token.Token {
	l.skipWhitespace()
	startPos, startCol := l.pos, l.column

	if l.isAtEnd() { return l.makeToken(token.EOF, "", startPos, startCol) }

	ch := l.peek()
	if ch == ';' || ch == '#' {
		for !l.isAtEnd() {
			l.advance()
		}
		return l.makeToken(token.EOF, "", startPos, startCol)
	}
	if unicode.IsLetter(ch) || ch == '_' {
		l.identChars()
		value := string(l.source[startPos:l.pos])
		if kw, ok := token.KeywordMap[value]; ok { return l.makeToken(kw, value, startPos, startCol) }
		return l.makeToken(token.Ident, value, startPos, startCol)
	}
	if unicode.IsDigit(ch) { return l.numberLiteral(startPos, startCol) }

	l.advance()
	switch ch {
	case '(': return l.makeToken(token.LParen, "", startPos, startCol)
	case ')': return l.makeToken(token.RParen, "", startPos, startCol)
	case ',': return l.makeToken(token.Comma, "", startPos, startCol)
	case ':': return l.makeToken(token.Colon, "", startPos, startCol)
	case '=': return l.makeToken(token.Eq, "", startPos, startCol)
	case '+': return l.makeToken(token.Plus, "", startPos, startCol)
	case '-': return l.makeToken(token.Minus, "", startPos, startCol)
	case '%': return l.sigil(token.Percent, startPos, startCol)
	case '$': return l.sigil(token.Dollar, startPos, startCol)
	case '@': return l.sigil(token.At, startPos, startCol)
	}
	return l.makeToken(token.Illegal, string(ch), startPos, startCol)
}

// All lexes the rest of the line; the last token is EOF or Illegal.
func (l *Lexer) All() []token.Token {
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF || tok.Type == token.Illegal { return toks }
	}
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() { return 0 }
	return l.source[l.pos]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() { return 0 }
	ch := l.source[l.pos]
	l.pos++
	l.column++
	return ch
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol int) token.Token {
	return token.Token{
		Type: tokType, Value: value, FileIndex: l.fileIndex,
		Line: l.line, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) skipWhitespace() {
	for ch := l.peek(); ch == ' ' || ch == '\t' || ch == '\r'; ch = l.peek() {
		l.advance()
	}
}

func (l *Lexer) identChars() {
	for ch := l.peek(); unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'; ch = l.peek() {
		l.advance()
	}
}

// sigil reads the name after %, $ or @. Names may contain dots, and % names
// dashes, as in %bb.loop or %fixed-stack.0.
func (l *Lexer) sigil(tokType token.Type, startPos, startCol int) token.Token {
	nameStart := l.pos
	for ch := l.peek(); unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '-' && tokType == token.Percent; ch = l.peek() {
		l.advance()
	}
	if l.pos == nameStart { return l.makeToken(token.Illegal, string(l.source[startPos:l.pos]), startPos, startCol) }
	return l.makeToken(tokType, string(l.source[nameStart:l.pos]), startPos, startCol)
}

func (l *Lexer) numberLiteral(startPos, startCol int) token.Token {
	if l.peek() == '0' && l.pos+1 < len(l.source) && (l.source[l.pos+1] == 'x' || l.source[l.pos+1] == 'X') {
		l.advance()
		l.advance()
		for ch := l.peek(); unicode.Is(unicode.ASCII_Hex_Digit, ch); ch = l.peek() {
			l.advance()
		}
	} else {
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	return l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol)
}
