package sm83

import (
	"github.com/xplshn/sm83/pkg/ir"
)

const (
	LDrr ir.Op = ir.FirstTargetOp + iota
	LDri
	LDrrii
	LDrm
	LDmr
	LDHrm
	LDHmr
	LDHLSP
	ADDr
	ADCr
	SUBr
	SBCr
	ANDr
	ORr
	XORr
	CPr
	ANDri
	ORri
	XORri
	CPri
	INCr
	DECr
	INCrr
	DECrr
	ADDrr
	RRCA
	SLAr
	SRAr
	SRLr
	PUSH
	POP
	CALL
	RET
	JP
	JPcc
	JPHL
	NOP
	lastOp
)

type InstrFlags uint16

const (
	Terminator InstrFlags = 1 << iota
	Branch
	Call
	Return
	MayLoad
	MayStore
	Remat
	Barrier
)

// InstrDesc describes a machine opcode. Asm placeholders: $N prints explicit
// operand N, $mN prints the address pair at N and N+1 as offset(base), $cN
// prints a condition code.
type InstrDesc struct {
	Name         string
	Asm          string
	NumDefs      int
	Classes      []*ir.RegClass
	ImplicitDefs []ir.Reg
	ImplicitUses []ir.Reg
	Flags        InstrFlags
}

var (
	// Arithmetic, logic and shifts write the flags. INC and DEC of a byte
	// keep the carry.
	flagDefs = []ir.Reg{F, CF}
	zeroDefs = []ir.Reg{F}

	r8   = GR8
	r16  = GR16
	none *ir.RegClass
)

var instrDescs = [lastOp - ir.FirstTargetOp]InstrDesc{
	LDrr - ir.FirstTargetOp:   {"LDrr", "ld $0, $1", 1, []*ir.RegClass{r8, r8}, nil, nil, 0},
	LDri - ir.FirstTargetOp:   {"LDri", "ld $0, $1", 1, []*ir.RegClass{r8, none}, nil, nil, Remat},
	LDrrii - ir.FirstTargetOp: {"LDrrii", "ld $0, $1", 1, []*ir.RegClass{r16, none}, nil, nil, Remat},
	LDrm - ir.FirstTargetOp:   {"LDrm", "ld $0, $m1", 1, []*ir.RegClass{r8, r16, none}, nil, nil, MayLoad},
	LDmr - ir.FirstTargetOp:   {"LDmr", "ld $m0, $2", 0, []*ir.RegClass{r16, none, r8}, nil, nil, MayStore},
	LDHrm - ir.FirstTargetOp:  {"LDHrm", "ldh $0, $m1", 1, []*ir.RegClass{r8, r8, none}, nil, nil, MayLoad},
	LDHmr - ir.FirstTargetOp:  {"LDHmr", "ldh $m0, $2", 0, []*ir.RegClass{r8, none, r8}, nil, nil, MayStore},
	LDHLSP - ir.FirstTargetOp: {"LDHLSP", "ld $0, $m1", 1, []*ir.RegClass{r16, r16, none}, nil, nil, 0},
	ADDr - ir.FirstTargetOp:   {"ADDr", "add $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	ADCr - ir.FirstTargetOp:   {"ADCr", "adc $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	SUBr - ir.FirstTargetOp:   {"SUBr", "sub $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	SBCr - ir.FirstTargetOp:   {"SBCr", "sbc $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	ANDr - ir.FirstTargetOp:   {"ANDr", "and $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	ORr - ir.FirstTargetOp:    {"ORr", "or $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	XORr - ir.FirstTargetOp:   {"XORr", "xor $1, $2", 1, []*ir.RegClass{r8, r8, r8}, flagDefs, nil, 0},
	CPr - ir.FirstTargetOp:    {"CPr", "cp $0, $1", 0, []*ir.RegClass{r8, r8}, flagDefs, nil, 0},
	ANDri - ir.FirstTargetOp:  {"ANDri", "and $1, $2", 1, []*ir.RegClass{r8, r8, none}, flagDefs, nil, 0},
	ORri - ir.FirstTargetOp:   {"ORri", "or $1, $2", 1, []*ir.RegClass{r8, r8, none}, flagDefs, nil, 0},
	XORri - ir.FirstTargetOp:  {"XORri", "xor $1, $2", 1, []*ir.RegClass{r8, r8, none}, flagDefs, nil, 0},
	CPri - ir.FirstTargetOp:   {"CPri", "cp $0, $1", 0, []*ir.RegClass{r8, none}, flagDefs, nil, 0},
	INCr - ir.FirstTargetOp:   {"INCr", "inc $1", 1, []*ir.RegClass{r8, r8}, zeroDefs, nil, 0},
	DECr - ir.FirstTargetOp:   {"DECr", "dec $1", 1, []*ir.RegClass{r8, r8}, zeroDefs, nil, 0},
	INCrr - ir.FirstTargetOp:  {"INCrr", "inc $1", 1, []*ir.RegClass{r16, r16}, nil, nil, 0},
	DECrr - ir.FirstTargetOp:  {"DECrr", "dec $1", 1, []*ir.RegClass{r16, r16}, nil, nil, 0},
	ADDrr - ir.FirstTargetOp:  {"ADDrr", "add $1, $2", 1, []*ir.RegClass{r16, r16, r16}, flagDefs, nil, 0},
	RRCA - ir.FirstTargetOp:   {"RRCA", "rrca", 1, []*ir.RegClass{r8, r8}, flagDefs, nil, 0},
	SLAr - ir.FirstTargetOp:   {"SLAr", "sla $1", 1, []*ir.RegClass{r8, r8}, flagDefs, nil, 0},
	SRAr - ir.FirstTargetOp:   {"SRAr", "sra $1", 1, []*ir.RegClass{r8, r8}, flagDefs, nil, 0},
	SRLr - ir.FirstTargetOp:   {"SRLr", "srl $1", 1, []*ir.RegClass{r8, r8}, flagDefs, nil, 0},
	PUSH - ir.FirstTargetOp:   {"PUSH", "push $0", 0, []*ir.RegClass{r16}, []ir.Reg{SP}, []ir.Reg{SP}, MayStore},
	POP - ir.FirstTargetOp:    {"POP", "pop $0", 1, []*ir.RegClass{r16}, []ir.Reg{SP}, []ir.Reg{SP}, MayLoad},
	CALL - ir.FirstTargetOp:   {"CALL", "call $0", 0, []*ir.RegClass{none}, []ir.Reg{SP}, []ir.Reg{SP}, Call},
	RET - ir.FirstTargetOp:    {"RET", "ret", 0, nil, nil, []ir.Reg{SP}, Terminator | Return | Barrier},
	JP - ir.FirstTargetOp:     {"JP", "jp $0", 0, []*ir.RegClass{none}, nil, nil, Terminator | Branch | Barrier},
	JPcc - ir.FirstTargetOp:   {"JPcc", "jp $c0, $1", 0, []*ir.RegClass{none, none}, nil, nil, Terminator | Branch},
	JPHL - ir.FirstTargetOp:   {"JPHL", "jp $0", 0, []*ir.RegClass{r16}, nil, nil, Terminator | Branch | Barrier},
	NOP - ir.FirstTargetOp:    {"NOP", "nop", 0, nil, nil, nil, 0},
}

// Desc returns the description of a machine opcode, nil for anything else.
func Desc(op ir.Op) *InstrDesc {
	if op < ir.FirstTargetOp || op >= lastOp { return nil }
	return &instrDescs[op-ir.FirstTargetOp]
}

func LookupOp(name string) (ir.Op, bool) {
	for op := ir.FirstTargetOp; op < lastOp; op++ {
		if instrDescs[op-ir.FirstTargetOp].Name == name { return op, true }
	}
	return ir.LookupOp(name)
}

func OpName(op ir.Op) string {
	if d := Desc(op); d != nil { return d.Name }
	return op.String()
}

// IsTerminator covers both machine and generic terminators.
func IsTerminator(mi *ir.Instr) bool {
	if d := Desc(mi.Op); d != nil { return d.Flags&Terminator != 0 }
	return mi.Op.IsTerminator()
}

func IsReturn(mi *ir.Instr) bool {
	d := Desc(mi.Op)
	return (d != nil && d.Flags&Return != 0) || mi.Op == ir.OpRet
}

// Cond is a branch condition as encoded in the JPcc immediate.
type Cond int64

const (
	CondNZ Cond = iota
	CondZ
	CondNC
	CondC
)

var condNames = [...]string{"nz", "z", "nc", "c"}

func (c Cond) String() string {
	if c >= 0 && int(c) < len(condNames) { return condNames[c] }
	return "?"
}

func (c Cond) Valid() bool { return c >= CondNZ && c <= CondC }

// Inverse returns the condition that holds when c does not.
func (c Cond) Inverse() Cond { return c ^ 1 }

// Flag is the register a branch on c reads.
func (c Cond) Flag() ir.Reg {
	if c == CondNC || c == CondC { return CF }
	return F
}

// Naming renders opcode and register names for MIR dumps.
type Naming struct{}

func (Naming) OpName(op ir.Op) string             { return OpName(op) }
func (Naming) RegName(r ir.Reg) string            { return RegName(r) }
func (Naming) SubRegName(idx ir.SubRegIdx) string { return SubRegName(idx) }

// CPU is the only processor name this target accepts.
const CPU = "sm83"

func init() { ir.DefaultNaming = Naming{} }
