package calllower

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
)

type ArgFlags uint8

const (
	FlagZExt ArgFlags = 1 << iota
	FlagSExt
	FlagInConsecutiveRegs
	FlagInConsecutiveRegsLast
)

// ArgInfo is one argument or return value, or a part of one after
// splitting. Regs holds one virtual register per value type of Ty.
type ArgInfo struct {
	Regs   []ir.Reg
	Ty     *ir.Type
	OrigTy *ir.Type
	Flags  ArgFlags
}

func FlagsFromAttrs(a ir.ParamAttrs) ArgFlags {
	var f ArgFlags
	if a&ir.AttrZExt != 0 { f |= FlagZExt }
	if a&ir.AttrSExt != 0 { f |= FlagSExt }
	return f
}

// NumRegistersForCallingConv returns how many registers of which type carry
// a value of type t. Integers wider than 16 bits travel in 16-bit pieces.
func NumRegistersForCallingConv(t *ir.Type, dl *ir.DataLayout) (int, *ir.Type) {
	switch t.Kind {
	case ir.PtrKind: return 1, t
	case ir.IntKind:
		switch {
		case t.Bits <= 8: return 1, t
		case t.Bits <= 16: return 1, ir.IntTy(16)
		}
		return (t.Bits + 15) / 16, ir.IntTy(16)
	}
	return 0, nil
}

// SplitFn receives the registers a multi-register part was expanded into,
// lowest first, together with the register of the original part.
type SplitFn func(parts []ir.Reg, orig ir.Reg)

// SplitToValueTypes flattens orig into one ArgInfo per register. Parts that
// fit one register keep their register and type; wider parts get fresh
// registers and performSplit is called once with all of them.
func SplitToValueTypes(orig ArgInfo, f *ir.Func, cc *Convention, performSplit SplitFn) ([]ArgInfo, error) {
	dl := f.DataLayout()
	vts := ir.ComputeValueTypes(orig.Ty)
	if len(vts) == 0 { return nil, nil }
	if len(orig.Regs) != len(vts) {
		return nil, fmt.Errorf("%s has %d value types but %d registers", orig.Ty, len(vts), len(orig.Regs))
	}

	var out []ArgInfo
	for i, vt := range vts {
		n, regTy := NumRegistersForCallingConv(vt, dl)
		if n == 0 { return nil, fmt.Errorf("no register type for %s: %w", vt, ir.ErrUnsupported) }
		if n == 1 {
			out = append(out, ArgInfo{Regs: []ir.Reg{orig.Regs[i]}, Ty: vt, OrigTy: orig.Ty, Flags: orig.Flags})
			continue
		}
		lt := dl.LLTOf(regTy)
		if c := cc.Capacity(lt); c >= 0 && n > c {
			return nil, fmt.Errorf("%s needs %d %s registers, %s offers %d: %w", vt, n, lt, cc.Name, c, ir.ErrUnsupported)
		}
		parts := make([]ir.Reg, n)
		for j := range parts {
			parts[j] = f.Regs.NewVReg(lt)
			out = append(out, ArgInfo{Regs: []ir.Reg{parts[j]}, Ty: regTy, OrigTy: vt, Flags: orig.Flags | FlagInConsecutiveRegs})
		}
		if performSplit != nil { performSplit(parts, orig.Regs[i]) }
	}
	if len(out) > 1 { out[len(out)-1].Flags |= FlagInConsecutiveRegsLast }
	return out, nil
}
