package ir

// RegClass is a set of interchangeable physical registers of one width.
type RegClass struct {
	Name string
	Bits int
	Regs []Reg
}

func (rc *RegClass) Contains(r Reg) bool {
	for _, x := range rc.Regs {
		if x == r { return true }
	}
	return false
}

// RegBank partitions the register file. Banks are compared by ID.
type RegBank struct {
	ID   int
	Name string
}

type vregInfo struct {
	ty    LLT
	bank  *RegBank
	class *RegClass
	name  string
}

// RegInfo owns the virtual registers of one function.
type RegInfo struct {
	vregs []vregInfo
	names map[string]Reg
}

func NewRegInfo() *RegInfo { return &RegInfo{vregs: []vregInfo{{}}, names: map[string]Reg{}} }

func (ri *RegInfo) NewVReg(ty LLT) Reg {
	ri.vregs = append(ri.vregs, vregInfo{ty: ty})
	return VirtReg(len(ri.vregs) - 1)
}

// NewNamedVReg creates a register that can later be found by name.
func (ri *RegInfo) NewNamedVReg(name string, ty LLT) Reg {
	r := ri.NewVReg(ty)
	ri.vregs[r.VirtIndex()].name = name
	ri.names[name] = r
	return r
}

// NewClassVReg creates a register that is already constrained to a class.
func (ri *RegInfo) NewClassVReg(rc *RegClass) Reg {
	r := ri.NewVReg(LLT{})
	ri.vregs[r.VirtIndex()].class = rc
	return r
}

func (ri *RegInfo) Lookup(name string) (Reg, bool) { r, ok := ri.names[name]; return r, ok }
func (ri *RegInfo) NumVRegs() int                { return len(ri.vregs) - 1 }

func (ri *RegInfo) info(r Reg) *vregInfo {
	if !r.IsVirtual() || r.VirtIndex() >= len(ri.vregs) { return nil }
	return &ri.vregs[r.VirtIndex()]
}

func (ri *RegInfo) Type(r Reg) LLT {
	if i := ri.info(r); i != nil { return i.ty }
	return LLT{}
}

func (ri *RegInfo) SetType(r Reg, ty LLT) {
	if i := ri.info(r); i != nil { i.ty = ty }
}

func (ri *RegInfo) Bank(r Reg) *RegBank {
	if i := ri.info(r); i != nil { return i.bank }
	return nil
}

func (ri *RegInfo) SetBank(r Reg, b *RegBank) {
	if i := ri.info(r); i != nil { i.bank = b }
}

func (ri *RegInfo) Class(r Reg) *RegClass {
	if i := ri.info(r); i != nil { return i.class }
	return nil
}

func (ri *RegInfo) SetClass(r Reg, rc *RegClass) {
	if i := ri.info(r); i != nil { i.class = rc }
}

func (ri *RegInfo) Name(r Reg) string {
	if i := ri.info(r); i != nil { return i.name }
	return ""
}

// SizeInBits prefers the class width once a register has been constrained.
func (ri *RegInfo) SizeInBits(r Reg) int {
	i := ri.info(r)
	if i == nil { return 0 }
	if i.ty.IsValid() { return i.ty.SizeInBits() }
	if i.class != nil { return i.class.Bits }
	return 0
}

// FrameObject is a stack slot. Fixed objects belong to the caller's frame.
type FrameObject struct {
	Size      int
	Offset    int
	Fixed     bool
	Immutable bool
	SpillSlot bool
}

type CalleeSavedInfo struct{ Reg Reg; FrameIdx int }

// FrameInfo records the stack objects of a function. Fixed objects use
// negative indices, the way they are handed out by CreateFixedObject.
type FrameInfo struct {
	objects      []FrameObject
	fixed        []FrameObject
	StackSize    int
	CSI          []CalleeSavedInfo
	AdjustsStack bool
	HasCalls     bool
}

func (fi *FrameInfo) CreateStackObject(size int) int {
	fi.objects = append(fi.objects, FrameObject{Size: size})
	return len(fi.objects) - 1
}

func (fi *FrameInfo) CreateSpillSlot(size int) int {
	fi.objects = append(fi.objects, FrameObject{Size: size, SpillSlot: true})
	return len(fi.objects) - 1
}

func (fi *FrameInfo) CreateFixedObject(size, offset int, immutable bool) int {
	fi.fixed = append(fi.fixed, FrameObject{Size: size, Offset: offset, Fixed: true, Immutable: immutable})
	return -len(fi.fixed)
}

func (fi *FrameInfo) Object(idx int) *FrameObject {
	if idx < 0 {
		if -idx > len(fi.fixed) { return nil }
		return &fi.fixed[-idx-1]
	}
	if idx >= len(fi.objects) { return nil }
	return &fi.objects[idx]
}

func (fi *FrameInfo) NumObjects() int      { return len(fi.objects) }
func (fi *FrameInfo) NumFixedObjects() int { return len(fi.fixed) }

func (fi *FrameInfo) ObjectOffset(idx int) int {
	if o := fi.Object(idx); o != nil { return o.Offset }
	return 0
}

func (fi *FrameInfo) SetObjectOffset(idx, off int) {
	if o := fi.Object(idx); o != nil { o.Offset = off }
}
