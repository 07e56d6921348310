// Package ast defines the syntax tree of one textual MIR line
package ast

import "github.com/xplshn/sm83/pkg/token"

// NodeType defines the kind of a node
type NodeType int

const (
	// Operands
	VReg NodeType = iota
	PhysReg
	BlockRef
	StackRef
	FixedStackRef
	Number
	Global
	Pred

	// Lines
	Label
	Instr
)

// Node is one operand, label or instruction
type Node struct {
	Type NodeType
	Tok  token.Token
	Data interface{}
}

type VRegNode struct {
	Name string
	// Ty is the ":s8" annotation of a definition, empty when absent.
	Ty string
}

type PhysRegNode struct{ Name string }

// RefNode names a block or stack object, by name or number.
type RefNode struct{ Name string }

type NumberNode struct{ Value int64 }

type GlobalNode struct {
	Name   string
	Offset int64
}

type PredNode struct{ Name string }

type LabelNode struct{ Name string }

type InstrNode struct {
	Defs   []*Node
	Opcode string
	OpTok  token.Token
	Uses   []*Node
}

func NewVReg(tok token.Token, name, ty string) *Node {
	return &Node{Type: VReg, Tok: tok, Data: VRegNode{Name: name, Ty: ty}}
}

func NewPhysReg(tok token.Token, name string) *Node {
	return &Node{Type: PhysReg, Tok: tok, Data: PhysRegNode{Name: name}}
}

func NewRef(typ NodeType, tok token.Token, name string) *Node {
	return &Node{Type: typ, Tok: tok, Data: RefNode{Name: name}}
}

func NewNumber(tok token.Token, value int64) *Node {
	return &Node{Type: Number, Tok: tok, Data: NumberNode{Value: value}}
}

func NewGlobal(tok token.Token, name string, off int64) *Node {
	return &Node{Type: Global, Tok: tok, Data: GlobalNode{Name: name, Offset: off}}
}

func NewPred(tok token.Token, name string) *Node {
	return &Node{Type: Pred, Tok: tok, Data: PredNode{Name: name}}
}

func NewLabel(tok token.Token, name string) *Node {
	return &Node{Type: Label, Tok: tok, Data: LabelNode{Name: name}}
}

func NewInstr(tok token.Token, defs []*Node, opcode string, uses []*Node) *Node {
	return &Node{Type: Instr, Tok: tok, Data: InstrNode{Defs: defs, Opcode: opcode, OpTok: tok, Uses: uses}}
}
