// Package calllower moves arguments and return values between virtual
// registers and the locations the calling convention assigns them.
package calllower

import (
	"fmt"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
	"github.com/xplshn/sm83/pkg/util"
)

const debugType = "sm83-calllowering"

// Handler materializes assigned locations.
type Handler interface {
	AssignValueToReg(val, phys ir.Reg, va ValAssign)
	StackAddress(size, offset int) (ir.Reg, error)
	AssignValueToAddress(val, addr ir.Reg, size int, va ValAssign) error
}

// incoming copies from argument registers and loads stack arguments from
// fixed objects of the caller's frame.
type incoming struct {
	b *ir.Builder
	// call is set when values come back from a call instead of being live
	// into the function.
	call *ir.Instr
}

func (h *incoming) AssignValueToReg(val, phys ir.Reg, va ValAssign) {
	if va.Info == Full {
		h.b.Copy(val, phys)
	} else {
		wide := h.b.CopyTo(va.LocTy, phys)
		h.b.Build(ir.OpTrunc, ir.DefOp(val), ir.RegOp(wide))
	}
	if h.call != nil {
		h.call.Ops = append(h.call.Ops, ir.RegOpF(phys, ir.RegDef|ir.RegImplicit))
		return
	}
	h.b.F.Entry().AddLiveIn(phys)
}

func (h *incoming) StackAddress(size, offset int) (ir.Reg, error) {
	if h.call != nil { return ir.NoReg, fmt.Errorf("return value on the stack: %w", ir.ErrUnsupported) }
	fi := h.b.F.Frame.CreateFixedObject(size, offset, true)
	return h.b.FrameIndex(ir.P0, fi), nil
}

func (h *incoming) AssignValueToAddress(val, addr ir.Reg, size int, va ValAssign) error {
	if va.Info == Full {
		h.b.Build(ir.OpLoad, ir.DefOp(val), ir.RegOp(addr))
		return nil
	}
	h.b.Build(ir.OpTrunc, ir.DefOp(val), ir.RegOp(h.b.Load(va.LocTy, addr)))
	return nil
}

// outgoing copies values into the registers used by mi, a call or return.
type outgoing struct {
	b  *ir.Builder
	mi *ir.Instr
}

func (h *outgoing) extend(val ir.Reg, va ValAssign) ir.Reg {
	switch va.Info {
	case ZExt: return h.b.ZExt(va.LocTy, val)
	case SExt: return h.b.SExt(va.LocTy, val)
	case AExt: return h.b.AnyExt(va.LocTy, val)
	}
	return val
}

func (h *outgoing) AssignValueToReg(val, phys ir.Reg, va ValAssign) {
	h.b.Copy(phys, h.extend(val, va))
	h.mi.Ops = append(h.mi.Ops, ir.RegOpF(phys, ir.RegImplicit))
}

func (h *outgoing) StackAddress(size, offset int) (ir.Reg, error) {
	return ir.NoReg, fmt.Errorf("outgoing value on the stack: %w", ir.ErrUnsupported)
}

func (h *outgoing) AssignValueToAddress(val, addr ir.Reg, size int, va ValAssign) error {
	return fmt.Errorf("outgoing value on the stack: %w", ir.ErrUnsupported)
}

// HandleAssignments runs the convention over every split argument, then lets
// h copy or load each value.
func HandleAssignments(f *ir.Func, args []ArgInfo, cc *Convention, h Handler) error {
	st := NewState(f.CallConv)
	dl := f.DataLayout()
	for i, a := range args {
		ty := dl.LLTOf(a.Ty)
		if !cc.Assign(i, ty, a.Flags, st) {
			return fmt.Errorf("%s cannot place value %d (%s): %w", cc.Name, i, a.Ty, ir.ErrUnsupported)
		}
	}
	for _, va := range st.Locs {
		val := args[va.ValNo].Regs[0]
		if va.IsReg() {
			util.Debugf(debugType, "value %d (%s) in $%s", va.ValNo, va.ValTy, sm83.RegName(va.Reg))
			h.AssignValueToReg(val, va.Reg, va)
			continue
		}
		size := va.LocTy.SizeInBytes()
		util.Debugf(debugType, "value %d (%s) at stack offset %d", va.ValNo, va.ValTy, va.Offset)
		addr, err := h.StackAddress(size, va.Offset)
		if err != nil { return err }
		if err := h.AssignValueToAddress(val, addr, size, va); err != nil { return err }
	}
	return nil
}

// pack records a wide incoming value to rebuild once its parts are copied.
type pack struct {
	parts []ir.Reg
	orig  ir.Reg
}

func (p pack) emit(b *ir.Builder) { b.MergeInto(p.orig, p.parts...) }

// unpack splits a wide outgoing value into its register sized parts.
func unpack(b *ir.Builder) SplitFn {
	return func(parts []ir.Reg, orig ir.Reg) { b.UnmergeInto(parts, orig) }
}

// CallLowering lowers formal arguments, returns and calls with the
// conventions its selectors pick. A nil convention means unsupported.
type CallLowering struct {
	CallConv    func(cc ir.CallConv, variadic bool) *Convention
	RetCallConv func(cc ir.CallConv) *Convention
}

var SM83 = &CallLowering{CallConv: ForCall, RetCallConv: ForReturn}

// LowerFormalArguments copies every parameter of f out of its location at
// the builder's position, normally the top of the entry block.
func (cl *CallLowering) LowerFormalArguments(b *ir.Builder, f *ir.Func) error {
	cc := cl.CallConv(f.CallConv, f.Sig.Variadic)
	if cc == nil { return ir.Errorf("call-lowering", f, nil, "%s convention: %v", f.CallConv, ir.ErrUnsupported) }

	var split []ArgInfo
	var packs []pack
	for _, p := range f.Sig.Params {
		orig := ArgInfo{Regs: p.Regs, Ty: p.Ty, Flags: FlagsFromAttrs(p.Attrs)}
		parts, err := SplitToValueTypes(orig, f, cc, func(parts []ir.Reg, orig ir.Reg) {
			packs = append(packs, pack{parts, orig})
		})
		if err != nil { return ir.Errorf("call-lowering", f, nil, "parameter %s: %v", p.Name, err) }
		split = append(split, parts...)
	}
	if err := HandleAssignments(f, split, cc, &incoming{b: b}); err != nil {
		return ir.Errorf("call-lowering", f, nil, "formal arguments: %v", err)
	}
	for _, p := range packs {
		p.emit(b)
	}
	return nil
}

// LowerReturn inserts a RET using vals, one register per value type of the
// function's return type.
func (cl *CallLowering) LowerReturn(b *ir.Builder, f *ir.Func, vals []ir.Reg) error {
	ret := sm83.NewMI(sm83.RET)
	if len(vals) > 0 {
		cc := cl.RetCallConv(f.CallConv)
		if cc == nil { return ir.Errorf("call-lowering", f, nil, "%s convention: %v", f.CallConv, ir.ErrUnsupported) }
		orig := ArgInfo{Regs: vals, Ty: f.Sig.Ret, Flags: FlagsFromAttrs(f.Sig.RetAttrs)}
		split, err := SplitToValueTypes(orig, f, cc, unpack(b))
		if err != nil { return ir.Errorf("call-lowering", f, nil, "return value: %v", err) }
		if err := HandleAssignments(f, split, cc, &outgoing{b: b, mi: ret}); err != nil {
			return ir.Errorf("call-lowering", f, nil, "return value: %v", err)
		}
	}
	b.Insert(ret)
	return nil
}

// CallInfo describes one call site.
type CallInfo struct {
	CallConv ir.CallConv
	Callee   ir.Operand
	OrigRet  ArgInfo
	OrigArgs []ArgInfo
	IsVarArg bool
}

// LowerCall emits argument copies, the CALL and the copies of its results
// at the builder's position. Only direct calls are supported.
func (cl *CallLowering) LowerCall(b *ir.Builder, info *CallInfo) error {
	f := b.F
	if info.Callee.Kind != ir.KindGlobal { return ir.Errorf("call-lowering", f, nil, "indirect call: %v", ir.ErrUnsupported) }
	cc := cl.CallConv(info.CallConv, info.IsVarArg)
	if cc == nil {
		return ir.Errorf("call-lowering", f, nil, "call to @%s (%s convention, variadic %v): %v", info.Callee.Sym, info.CallConv, info.IsVarArg, ir.ErrUnsupported)
	}

	var split []ArgInfo
	for _, a := range info.OrigArgs {
		parts, err := SplitToValueTypes(a, f, cc, unpack(b))
		if err != nil { return ir.Errorf("call-lowering", f, nil, "call to @%s: %v", info.Callee.Sym, err) }
		split = append(split, parts...)
	}
	call := sm83.NewMI(sm83.CALL, info.Callee, ir.MaskOp(sm83.CallPreservedMask(info.CallConv)))
	if err := HandleAssignments(f, split, cc, &outgoing{b: b, mi: call}); err != nil {
		return ir.Errorf("call-lowering", f, nil, "call to @%s: %v", info.Callee.Sym, err)
	}
	b.Insert(call)
	f.Frame.HasCalls = true
	f.Frame.AdjustsStack = true

	if info.OrigRet.Ty.IsVoid() { return nil }
	rcc := cl.RetCallConv(info.CallConv)
	if rcc == nil { return ir.Errorf("call-lowering", f, nil, "result of @%s (%s convention): %v", info.Callee.Sym, info.CallConv, ir.ErrUnsupported) }
	var packs []pack
	split, err := SplitToValueTypes(info.OrigRet, f, rcc, func(parts []ir.Reg, orig ir.Reg) {
		packs = append(packs, pack{parts, orig})
	})
	if err != nil { return ir.Errorf("call-lowering", f, nil, "result of @%s: %v", info.Callee.Sym, err) }
	if err := HandleAssignments(f, split, rcc, &incoming{b: b, call: call}); err != nil {
		return ir.Errorf("call-lowering", f, nil, "result of @%s: %v", info.Callee.Sym, err)
	}
	for _, p := range packs {
		p.emit(b)
	}
	return nil
}
