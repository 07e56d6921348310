package ir

import (
	"fmt"
	"strconv"
	"strings"
)

type lltKind uint8

const (
	lltInvalid lltKind = iota
	lltScalar
	lltPointer
)

// LLT is a low level type: a bag of bits or a pointer into an address space.
type LLT struct {
	kind      lltKind
	bits      uint16
	addrSpace uint8
}

func Scalar(bits int) LLT       { return LLT{kind: lltScalar, bits: uint16(bits)} }
func Pointer(as, bits int) LLT  { return LLT{kind: lltPointer, bits: uint16(bits), addrSpace: uint8(as)} }

var (
	S1  = Scalar(1)
	S8  = Scalar(8)
	S16 = Scalar(16)
	S32 = Scalar(32)
	S64 = Scalar(64)
	P0  = Pointer(0, 16)
	P1  = Pointer(1, 8)
)

func (t LLT) IsValid() bool   { return t.kind != lltInvalid }
func (t LLT) IsScalar() bool  { return t.kind == lltScalar }
func (t LLT) IsPointer() bool { return t.kind == lltPointer }
func (t LLT) SizeInBits() int { return int(t.bits) }
func (t LLT) SizeInBytes() int { return (int(t.bits) + 7) / 8 }
func (t LLT) AddrSpace() int  { return int(t.addrSpace) }

func (t LLT) String() string {
	switch t.kind {
	case lltScalar: return "s" + strconv.Itoa(int(t.bits))
	case lltPointer: return "p" + strconv.Itoa(int(t.addrSpace))
	}
	return "<invalid>"
}

// ParseLLT reads "s8" or "p1"; pointer widths come from the layout.
func ParseLLT(s string, dl *DataLayout) (LLT, error) {
	if len(s) < 2 { return LLT{}, fmt.Errorf("malformed type '%s'", s) }
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 { return LLT{}, fmt.Errorf("malformed type '%s'", s) }
	switch s[0] {
	case 's':
		if n == 0 { return LLT{}, fmt.Errorf("zero-width scalar '%s'", s) }
		return Scalar(n), nil
	case 'p':
		if dl == nil { dl = DefaultLayout }
		return Pointer(n, dl.PointerSize(n)), nil
	}
	return LLT{}, fmt.Errorf("malformed type '%s'", s)
}

type TypeKind int

const (
	VoidKind TypeKind = iota
	IntKind
	PtrKind
	StructKind
	ArrayKind
)

// Type is a value type as seen by call lowering.
type Type struct {
	Kind      TypeKind
	Bits      int
	AddrSpace int
	Fields    []*Type
	Len       int
	Elem      *Type
}

var Void = &Type{Kind: VoidKind}

func IntTy(bits int) *Type           { return &Type{Kind: IntKind, Bits: bits} }
func PtrTy(as int) *Type             { return &Type{Kind: PtrKind, AddrSpace: as} }
func StructTy(fields ...*Type) *Type { return &Type{Kind: StructKind, Fields: fields} }
func ArrayTy(n int, elem *Type) *Type { return &Type{Kind: ArrayKind, Len: n, Elem: elem} }

func (t *Type) IsVoid() bool { return t == nil || t.Kind == VoidKind }

func (t *Type) Equal(o *Type) bool {
	if t.IsVoid() || o.IsVoid() { return t.IsVoid() == o.IsVoid() }
	if t.Kind != o.Kind { return false }
	switch t.Kind {
	case IntKind: return t.Bits == o.Bits
	case PtrKind: return t.AddrSpace == o.AddrSpace
	case ArrayKind: return t.Len == o.Len && t.Elem.Equal(o.Elem)
	case StructKind:
		if len(t.Fields) != len(o.Fields) { return false }
		for i := range t.Fields {
			if !t.Fields[i].Equal(o.Fields[i]) { return false }
		}
	}
	return true
}

func (t *Type) String() string {
	if t.IsVoid() { return "void" }
	switch t.Kind {
	case IntKind: return "i" + strconv.Itoa(t.Bits)
	case PtrKind:
		if t.AddrSpace == 0 { return "ptr" }
		return fmt.Sprintf("ptr addrspace(%d)", t.AddrSpace)
	case ArrayKind: return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// SizeInBytes follows the byte-aligned layout used by this target.
func (t *Type) SizeInBytes(dl *DataLayout) int {
	switch t.Kind {
	case IntKind: return (t.Bits + 7) / 8
	case PtrKind: return dl.PointerSize(t.AddrSpace) / 8
	case ArrayKind: return t.Len * t.Elem.SizeInBytes(dl)
	case StructKind:
		n := 0
		for _, f := range t.Fields {
			n += f.SizeInBytes(dl)
		}
		return n
	}
	return 0
}

// ComputeValueTypes flattens aggregates into their scalar and pointer parts.
func ComputeValueTypes(t *Type) []*Type {
	var out []*Type
	var walk func(*Type)
	walk = func(t *Type) {
		switch t.Kind {
		case VoidKind:
		case StructKind:
			for _, f := range t.Fields {
				walk(f)
			}
		case ArrayKind:
			for i := 0; i < t.Len; i++ {
				walk(t.Elem)
			}
		default:
			out = append(out, t)
		}
	}
	if t != nil { walk(t) }
	return out
}

// LLTOf maps a scalar or pointer IR type onto a low level type.
func (dl *DataLayout) LLTOf(t *Type) LLT {
	switch t.Kind {
	case IntKind: return Scalar(t.Bits)
	case PtrKind: return Pointer(t.AddrSpace, dl.PointerSize(t.AddrSpace))
	}
	return LLT{}
}

// ParseType reads i8, ptr, ptr addrspace(1), p0, p1, {i8, i16}, [2 x i8], void.
func ParseType(s string) (*Type, error) {
	p := &typeParser{src: s}
	t, err := p.parse()
	if err != nil { return nil, err }
	p.skipSpace()
	if p.pos != len(p.src) { return nil, fmt.Errorf("trailing characters in type '%s'", s) }
	return t, nil
}

type typeParser struct{ src string; pos int }

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) eat(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == c { p.pos++; return true }
	return false
}

func (p *typeParser) number() (int, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos { return 0, fmt.Errorf("expected number in type '%s'", p.src) }
	return strconv.Atoi(p.src[start:p.pos])
}

func (p *typeParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == ',' || c == '}' || c == ']' || c == '(' { break }
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (*Type, error) {
	switch {
	case p.eat('{'):
		var fields []*Type
		if p.eat('}') { return StructTy(), nil }
		for {
			f, err := p.parse()
			if err != nil { return nil, err }
			fields = append(fields, f)
			if p.eat('}') { return StructTy(fields...), nil }
			if !p.eat(',') { return nil, fmt.Errorf("expected ',' or '}' in type '%s'", p.src) }
		}
	case p.eat('['):
		n, err := p.number()
		if err != nil { return nil, err }
		if w := p.word(); w != "x" { return nil, fmt.Errorf("expected 'x' in array type '%s'", p.src) }
		elem, err := p.parse()
		if err != nil { return nil, err }
		if !p.eat(']') { return nil, fmt.Errorf("expected ']' in type '%s'", p.src) }
		return ArrayTy(n, elem), nil
	}

	w := p.word()
	switch {
	case w == "void": return Void, nil
	case w == "ptr":
		if p.pos < len(p.src) && strings.HasPrefix(p.src[p.pos:], " addrspace(") {
			p.pos += len(" addrspace(")
			as, err := p.number()
			if err != nil { return nil, err }
			if !p.eat(')') { return nil, fmt.Errorf("expected ')' in type '%s'", p.src) }
			return PtrTy(as), nil
		}
		return PtrTy(0), nil
	case len(w) > 1 && (w[0] == 'i' || w[0] == 'p'):
		n, err := strconv.Atoi(w[1:])
		if err != nil || n < 0 || (w[0] == 'i' && n == 0) { return nil, fmt.Errorf("malformed type '%s'", w) }
		if w[0] == 'p' { return PtrTy(n), nil }
		return IntTy(n), nil
	}
	return nil, fmt.Errorf("unknown type '%s'", w)
}
