package ir

import "fmt"

// Reg is a physical register number owned by the target, or a virtual
// register when the high bit is set. Zero is no register.
type Reg uint32

const NoReg Reg = 0

const virtBit Reg = 1 << 31

func VirtReg(i int) Reg       { return virtBit | Reg(i) }
func (r Reg) IsVirtual() bool  { return r&virtBit != 0 }
func (r Reg) IsPhysical() bool { return r != NoReg && !r.IsVirtual() }
func (r Reg) VirtIndex() int   { return int(r &^ virtBit) }

// SubRegIdx names a fixed slice of a wider register. Zero is the whole register.
type SubRegIdx uint8

const NoSubReg SubRegIdx = 0

type OperandKind uint8

const (
	KindReg OperandKind = iota
	KindImm
	KindGlobal
	KindBlock
	KindFrameIndex
	KindPred
	KindRegMask
	KindSubRegIdx
)

type RegFlags uint8

const (
	RegDef RegFlags = 1 << iota
	RegImplicit
	RegKill
	RegUndef
	RegDead
)

// RegMask lists the physical registers preserved across a call.
type RegMask struct {
	Name      string
	Preserved []Reg
}

func (m *RegMask) Clobbers(r Reg) bool {
	for _, p := range m.Preserved {
		if p == r { return false }
	}
	return true
}

// Operand is a value: copying it copies the whole payload.
type Operand struct {
	Kind   OperandKind
	Reg    Reg
	Flags  RegFlags
	SubReg SubRegIdx
	Imm    int64
	Sym    string
	Block  *Block
	Pred   Pred
	Mask   *RegMask
}

func RegOp(r Reg) Operand                { return Operand{Kind: KindReg, Reg: r} }
func DefOp(r Reg) Operand                { return Operand{Kind: KindReg, Reg: r, Flags: RegDef} }
func RegOpF(r Reg, f RegFlags) Operand   { return Operand{Kind: KindReg, Reg: r, Flags: f} }
func ImmOp(v int64) Operand              { return Operand{Kind: KindImm, Imm: v} }
func GlobalOp(sym string, off int64) Operand { return Operand{Kind: KindGlobal, Sym: sym, Imm: off} }
func BlockOp(b *Block) Operand           { return Operand{Kind: KindBlock, Block: b} }
func FrameIndexOp(fi int) Operand        { return Operand{Kind: KindFrameIndex, Imm: int64(fi)} }
func PredOp(p Pred) Operand              { return Operand{Kind: KindPred, Pred: p} }
func MaskOp(m *RegMask) Operand          { return Operand{Kind: KindRegMask, Mask: m} }
func SubRegOp(idx SubRegIdx) Operand     { return Operand{Kind: KindSubRegIdx, SubReg: idx} }

func (o *Operand) IsReg() bool        { return o.Kind == KindReg }
func (o *Operand) IsImm() bool        { return o.Kind == KindImm }
func (o *Operand) IsFrameIndex() bool { return o.Kind == KindFrameIndex }
func (o *Operand) IsDef() bool        { return o.Flags&RegDef != 0 }
func (o *Operand) IsUse() bool        { return o.IsReg() && o.Flags&RegDef == 0 }
func (o *Operand) IsImplicit() bool   { return o.Flags&RegImplicit != 0 }
func (o *Operand) IsKill() bool       { return o.Flags&RegKill != 0 }
func (o *Operand) IsUndef() bool      { return o.Flags&RegUndef != 0 }
func (o *Operand) Index() int         { return int(o.Imm) }

// ChangeToRegister turns the operand into a plain register use.
func (o *Operand) ChangeToRegister(r Reg, isDef bool) {
	*o = RegOp(r)
	if isDef { o.Flags = RegDef }
}

func (o *Operand) ChangeToImmediate(v int64) { *o = ImmOp(v) }

// Naming supplies target specific names to the printer.
type Naming interface {
	OpName(op Op) string
	RegName(r Reg) string
	SubRegName(idx SubRegIdx) string
}

type genericNaming struct{}

// DefaultNaming is used when a caller passes a nil Naming. A target replaces
// it once, during initialization.
var DefaultNaming Naming = genericNaming{}

func (genericNaming) OpName(op Op) string { return op.String() }
func (genericNaming) RegName(r Reg) string { return fmt.Sprintf("r%d", int(r)) }
func (genericNaming) SubRegName(idx SubRegIdx) string { return fmt.Sprintf("sub%d", int(idx)) }
