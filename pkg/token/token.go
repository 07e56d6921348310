package token

type Type int

const (
	EOF Type = iota
	Illegal
	Comment
	Ident
	Number
	// Percent is any %name: a virtual register, %bb.N, %stack.N or
	// %fixed-stack.N. Value holds the text after the sigil.
	Percent
	Dollar
	At
	IntPred
	LParen
	RParen
	Comma
	Colon
	Eq
	Plus
	Minus
)

var KeywordMap = map[string]Type{
	"intpred": IntPred,
}

var names = [...]string{
	EOF:     "end of line",
	Illegal: "illegal character",
	Comment: "comment",
	Ident:   "identifier",
	Number:  "number",
	Percent: "'%' operand",
	Dollar:  "physical register",
	At:      "global symbol",
	IntPred: "'intpred'",
	LParen:  "'('",
	RParen:  "')'",
	Comma:   "','",
	Colon:   "':'",
	Eq:      "'='",
	Plus:    "'+'",
	Minus:   "'-'",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(names) { return names[t] }
	return "unknown token"
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
