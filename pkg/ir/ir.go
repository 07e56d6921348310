package ir

import (
	"fmt"
	"strings"
)

type Op int

const (
	OpInvalid Op = iota

	// Target independent, survive selection
	OpCopy
	OpPhi
	OpRegSequence
	OpExtractSubreg
	OpImplicitDef

	// Generic
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpUAddO
	OpUAddE
	OpUSubO
	OpUSubE
	OpShl
	OpLShr
	OpAShr
	OpAbs
	OpICmp
	OpSExt
	OpZExt
	OpAnyExt
	OpTrunc
	OpMerge
	OpUnmerge
	OpConstant
	OpUndef
	OpGlobalValue
	OpFrameIndex
	OpBlockAddr
	OpPtrAdd
	OpIntToPtr
	OpPtrToInt
	OpLoad
	OpStore
	OpGPhi
	OpBr
	OpBrCond
	OpBrIndirect

	// Translation level, consumed before combining
	OpCall
	OpRet

	numGenericOps
)

// FirstTargetOp is the first opcode number owned by a target description.
const FirstTargetOp Op = 1000

type opFlags uint8

const (
	flagGeneric opFlags = 1 << iota
	flagPure
	flagTerminator
	flagSideEffect
)

// OpInfo describes an opcode. TypeOps maps a legality type index to the
// operand carrying it; -1 names the last operand.
type OpInfo struct {
	Name    string
	flags   opFlags
	TypeOps []int
}

var opInfos = [numGenericOps]OpInfo{
	OpInvalid:       {"<invalid>", 0, nil},
	OpCopy:          {"COPY", 0, nil},
	OpPhi:           {"PHI", 0, nil},
	OpRegSequence:   {"REG_SEQUENCE", flagPure, nil},
	OpExtractSubreg: {"EXTRACT_SUBREG", flagPure, nil},
	OpImplicitDef:   {"IMPLICIT_DEF", flagPure, nil},

	OpAdd:         {"G_ADD", flagGeneric | flagPure, []int{0}},
	OpSub:         {"G_SUB", flagGeneric | flagPure, []int{0}},
	OpAnd:         {"G_AND", flagGeneric | flagPure, []int{0}},
	OpOr:          {"G_OR", flagGeneric | flagPure, []int{0}},
	OpXor:         {"G_XOR", flagGeneric | flagPure, []int{0}},
	OpUAddO:       {"G_UADDO", flagGeneric | flagPure, []int{0, 1}},
	OpUAddE:       {"G_UADDE", flagGeneric | flagPure, []int{0, 1}},
	OpUSubO:       {"G_USUBO", flagGeneric | flagPure, []int{0, 1}},
	OpUSubE:       {"G_USUBE", flagGeneric | flagPure, []int{0, 1}},
	OpShl:         {"G_SHL", flagGeneric | flagPure, []int{0, 2}},
	OpLShr:        {"G_LSHR", flagGeneric | flagPure, []int{0, 2}},
	OpAShr:        {"G_ASHR", flagGeneric | flagPure, []int{0, 2}},
	OpAbs:         {"G_ABS", flagGeneric | flagPure, []int{0}},
	OpICmp:        {"G_ICMP", flagGeneric | flagPure, []int{0, 2}},
	OpSExt:        {"G_SEXT", flagGeneric | flagPure, []int{0, 1}},
	OpZExt:        {"G_ZEXT", flagGeneric | flagPure, []int{0, 1}},
	OpAnyExt:      {"G_ANYEXT", flagGeneric | flagPure, []int{0, 1}},
	OpTrunc:       {"G_TRUNC", flagGeneric | flagPure, []int{0, 1}},
	OpMerge:       {"G_MERGE_VALUES", flagGeneric | flagPure, []int{0, 1}},
	OpUnmerge:     {"G_UNMERGE_VALUES", flagGeneric | flagPure, []int{0, -1}},
	OpConstant:    {"G_CONSTANT", flagGeneric | flagPure, []int{0}},
	OpUndef:       {"G_IMPLICIT_DEF", flagGeneric | flagPure, []int{0}},
	OpGlobalValue: {"G_GLOBAL_VALUE", flagGeneric | flagPure, []int{0}},
	OpFrameIndex:  {"G_FRAME_INDEX", flagGeneric | flagPure, []int{0}},
	OpBlockAddr:   {"G_BLOCK_ADDR", flagGeneric | flagPure, []int{0}},
	OpPtrAdd:      {"G_PTR_ADD", flagGeneric | flagPure, []int{0, 2}},
	OpIntToPtr:    {"G_INTTOPTR", flagGeneric | flagPure, []int{0, 1}},
	OpPtrToInt:    {"G_PTRTOINT", flagGeneric | flagPure, []int{0, 1}},
	OpLoad:        {"G_LOAD", flagGeneric, []int{0, 1}},
	OpStore:       {"G_STORE", flagGeneric | flagSideEffect, []int{0, 1}},
	OpGPhi:        {"G_PHI", flagGeneric, []int{0}},
	OpBr:          {"G_BR", flagGeneric | flagTerminator, nil},
	OpBrCond:      {"G_BRCOND", flagGeneric | flagTerminator, []int{0}},
	OpBrIndirect:  {"G_BRINDIRECT", flagGeneric | flagTerminator, []int{0}},

	OpCall: {"call", flagSideEffect, nil},
	OpRet:  {"ret", flagTerminator | flagSideEffect, nil},
}

var opByName = map[string]Op{}

func init() {
	for op := OpInvalid + 1; op < numGenericOps; op++ {
		opByName[opInfos[op].Name] = op
	}
}

// LookupOp finds a target independent opcode by its printed name.
func LookupOp(name string) (Op, bool) { op, ok := opByName[name]; return op, ok }

func (op Op) Info() *OpInfo {
	if op >= 0 && op < numGenericOps { return &opInfos[op] }
	return nil
}

func (op Op) IsGeneric() bool { i := op.Info(); return i != nil && i.flags&flagGeneric != 0 }
func (op Op) IsTarget() bool  { return op >= FirstTargetOp }

// IsPure reports whether an instruction with this opcode can be removed or
// shared when its results are unused or identical.
func (op Op) IsPure() bool { i := op.Info(); return i != nil && i.flags&flagPure != 0 }

func (op Op) IsTerminator() bool { i := op.Info(); return i != nil && i.flags&flagTerminator != 0 }

func (op Op) String() string {
	if i := op.Info(); i != nil { return i.Name }
	return fmt.Sprintf("op%d", int(op))
}

// Pred is an integer comparison predicate.
type Pred int

const (
	PredEQ Pred = iota
	PredNE
	PredUGT
	PredUGE
	PredULT
	PredULE
	PredSGT
	PredSGE
	PredSLT
	PredSLE
)

var predNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (p Pred) String() string { return predNames[p] }

func ParsePred(s string) (Pred, bool) {
	for i, n := range predNames {
		if n == s { return Pred(i), true }
	}
	return 0, false
}

func (p Pred) IsSigned() bool { return p >= PredSGT }

// Swapped returns the predicate that holds for (b, a) when p holds for (a, b).
func (p Pred) Swapped() Pred {
	switch p {
	case PredUGT: return PredULT
	case PredUGE: return PredULE
	case PredULT: return PredUGT
	case PredULE: return PredUGE
	case PredSGT: return PredSLT
	case PredSGE: return PredSLE
	case PredSLT: return PredSGT
	case PredSLE: return PredSGE
	}
	return p
}

// Unsigned maps a signed predicate onto its unsigned counterpart.
func (p Pred) Unsigned() Pred {
	if p.IsSigned() { return p - PredSGT + PredUGT }
	return p
}

// Eval computes the predicate over two values of the given width.
func (p Pred) Eval(a, b uint64, bits int) bool {
	mask := uint64(1)<<bits - 1
	a, b = a&mask, b&mask
	sa, sb := signExtend(a, bits), signExtend(b, bits)
	switch p {
	case PredEQ: return a == b
	case PredNE: return a != b
	case PredUGT: return a > b
	case PredUGE: return a >= b
	case PredULT: return a < b
	case PredULE: return a <= b
	case PredSGT: return sa > sb
	case PredSGE: return sa >= sb
	case PredSLT: return sa < sb
	case PredSLE: return sa <= sb
	}
	return false
}

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// Instr is one generic or machine instruction. Defs come first in Ops.
type Instr struct {
	Op    Op
	Ops   []Operand
	Block *Block
}

func (mi *Instr) Operand(i int) *Operand { return &mi.Ops[i] }
func (mi *Instr) Reg(i int) Reg          { return mi.Ops[i].Reg }

// NumExplicitDefs counts the leading explicit register definitions.
func (mi *Instr) NumExplicitDefs() int {
	n := 0
	for _, op := range mi.Ops {
		if !op.IsReg() || !op.IsDef() || op.IsImplicit() { break }
		n++
	}
	return n
}

func (mi *Instr) Defs() []Reg {
	var defs []Reg
	for _, op := range mi.Ops {
		if op.IsReg() && op.IsDef() { defs = append(defs, op.Reg) }
	}
	return defs
}

func (mi *Instr) Uses() []Reg {
	var uses []Reg
	for _, op := range mi.Ops {
		if op.IsReg() && !op.IsDef() && op.Reg != NoReg { uses = append(uses, op.Reg) }
	}
	return uses
}

// ReplaceUses rewrites every use of from with to.
func (mi *Instr) ReplaceUses(from, to Reg) {
	for i := range mi.Ops {
		if op := &mi.Ops[i]; op.IsReg() && !op.IsDef() && op.Reg == from { op.Reg = to }
	}
}

// TypeOperand returns the operand index holding legality type index idx.
func (mi *Instr) TypeOperand(idx int) int {
	info := mi.Op.Info()
	if info == nil || idx >= len(info.TypeOps) { return -1 }
	if n := info.TypeOps[idx]; n >= 0 { return n }
	return len(mi.Ops) - 1
}

func (mi *Instr) NumTypeIndices() int {
	if info := mi.Op.Info(); info != nil { return len(info.TypeOps) }
	return 0
}

// EraseFromParent unlinks the instruction from its block.
func (mi *Instr) EraseFromParent() {
	if mi.Block != nil { mi.Block.remove(mi) }
}

func (mi *Instr) IsCopy() bool { return mi.Op == OpCopy }

type Block struct {
	Name    string
	Num     int
	Instrs  []*Instr
	Succs   []*Block
	Preds   []*Block
	LiveIns []Reg
	Func    *Func
}

func (b *Block) String() string { return fmt.Sprintf("bb.%d.%s", b.Num, b.Name) }

func (b *Block) AddLiveIn(r Reg) {
	for _, l := range b.LiveIns {
		if l == r { return }
	}
	b.LiveIns = append(b.LiveIns, r)
}

func (b *Block) AddSuccessor(s *Block) {
	for _, x := range b.Succs {
		if x == s { return }
	}
	b.Succs = append(b.Succs, s)
	s.Preds = append(s.Preds, b)
}

func (b *Block) index(mi *Instr) int {
	for i, x := range b.Instrs {
		if x == mi { return i }
	}
	return -1
}

func (b *Block) insert(at int, mi *Instr) {
	mi.Block = b
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[at+1:], b.Instrs[at:])
	b.Instrs[at] = mi
}

func (b *Block) remove(mi *Instr) {
	if i := b.index(mi); i >= 0 {
		b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
	}
	mi.Block = nil
}

// FirstTerminator returns the index of the first terminator or len(Instrs).
func (b *Block) FirstTerminator(isTerm func(*Instr) bool) int {
	for i, mi := range b.Instrs {
		if isTerm(mi) { return i }
	}
	return len(b.Instrs)
}

type ParamAttrs uint8

const (
	AttrZExt ParamAttrs = 1 << iota
	AttrSExt
	AttrInReg
)

type Param struct{ Name string; Ty *Type; Attrs ParamAttrs; Regs []Reg }

type Signature struct {
	Params   []*Param
	Ret      *Type
	RetAttrs ParamAttrs
	Variadic bool
}

type CallConv int

const (
	CallConvC CallConv = iota
	CallConvFast
	CallConvCold
)

var callConvNames = [...]string{"c", "fast", "cold"}

func (cc CallConv) String() string { return callConvNames[cc] }

func ParseCallConv(s string) (CallConv, error) {
	for i, n := range callConvNames {
		if n == s { return CallConv(i), nil }
	}
	return 0, fmt.Errorf("unknown calling convention '%s'", s)
}

// Props records which pipeline stages have completed for a function.
type Props uint8

const (
	PropTranslated Props = 1 << iota
	PropLegalized
	PropRegBankSelected
	PropSelected
	PropFrameFinalized
)

type Func struct {
	Name     string
	Sig      *Signature
	CallConv CallConv
	Blocks   []*Block
	Regs     *RegInfo
	Frame    *FrameInfo
	Props    Props
	Module   *Module
	OptNone  bool
}

func NewFunc(name string, sig *Signature, m *Module) *Func {
	if sig == nil { sig = &Signature{Ret: Void} }
	return &Func{Name: name, Sig: sig, Regs: NewRegInfo(), Frame: &FrameInfo{}, Module: m}
}

func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Num: len(f.Blocks), Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 { return nil }
	return f.Blocks[0]
}

func (f *Func) Block(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name { return b }
	}
	return nil
}

// Instrs returns a snapshot of every instruction in block order. Callers may
// erase or insert while iterating over the snapshot.
func (f *Func) Instrs() []*Instr {
	var all []*Instr
	for _, b := range f.Blocks {
		all = append(all, b.Instrs...)
	}
	return all
}

func (f *Func) DataLayout() *DataLayout {
	if f.Module != nil && f.Module.Layout != nil { return f.Module.Layout }
	return DefaultLayout
}

func (f *Func) Has(p Props) bool { return f.Props&p == p }

type Global struct {
	Name    string
	Ty      *Type
	Section string
	Align   int
	Init    []byte
}

type Module struct {
	Name    string
	Layout  *DataLayout
	Globals []*Global
	Funcs   []*Func
}

func (m *Module) FindFunc(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name { return f }
	}
	return nil
}

func (m *Module) FindGlobal(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name { return g }
	}
	return nil
}

func (m *Module) String() string {
	var sb strings.Builder
	for _, f := range m.Funcs {
		sb.WriteString(Print(f, nil))
	}
	return sb.String()
}
