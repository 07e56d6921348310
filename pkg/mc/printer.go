// Package mc renders selected machine functions and globals as RGBDS
// assembly.
package mc

import (
	"bytes"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/sm83"
)

const pass = "asm-printer"

type Printer struct {
	out     *strings.Builder
	info    *AsmInfo
	mod     *ir.Module
	fn      *ir.Func
	section *Section
}

func NewPrinter() *Printer { return &Printer{info: RGBDS} }

// Generate writes every global and function of m. Functions must have been
// through instruction selection; declarations print nothing.
func (p *Printer) Generate(m *ir.Module) (*bytes.Buffer, error) {
	var sb strings.Builder
	p.out, p.mod, p.section = &sb, m, nil

	for _, g := range m.Globals {
		if err := p.genGlobal(g); err != nil { return nil, err }
	}
	for _, f := range m.Funcs {
		if err := p.genFunc(f); err != nil { return nil, err }
	}
	return bytes.NewBufferString(sb.String()), nil
}

func (p *Printer) layout() *ir.DataLayout {
	if p.mod != nil && p.mod.Layout != nil { return p.mod.Layout }
	return ir.DefaultLayout
}

func (p *Printer) switchSection(name string) error {
	if p.section != nil && p.section.Name == name { return nil }
	s, err := NewSection(name)
	if err != nil { return err }
	if p.out.Len() > 0 { p.out.WriteString("\n") }
	p.out.WriteString(s.SwitchText())
	p.section = s
	return nil
}

// EmitAlign aligns to n bytes, n a power of two.
func (p *Printer) EmitAlign(n int) {
	if n > 1 { fmt.Fprintf(p.out, "\talign %d\n", bits.TrailingZeros(uint(n))) }
}

// EmitBlock reserves n bytes.
func (p *Printer) EmitBlock(n int) {
	if n > 0 { fmt.Fprintf(p.out, "%s%d\n", p.info.ZeroDirective, n) }
}

// EmitGlobal defines an exported label.
func (p *Printer) EmitGlobal(name string) { fmt.Fprintf(p.out, "%s::\n", name) }

func (p *Printer) genGlobal(g *ir.Global) error {
	name := g.Section
	if name == "" {
		name = ".bss0"
		if g.Init != nil { name = ".rodata0" }
	}
	if err := p.switchSection(name); err != nil { return fmt.Errorf("global @%s: %w", g.Name, err) }
	if p.section.IsVirtual() && len(g.Init) > 0 {
		return fmt.Errorf("global @%s: initializer in %s section '%s'", g.Name, p.section.Type, name)
	}

	size := g.Ty.SizeInBytes(p.layout())
	if len(g.Init) > size { return fmt.Errorf("global @%s: %d byte initializer for %d byte %s", g.Name, len(g.Init), size, g.Ty) }
	p.EmitAlign(g.Align)
	p.EmitGlobal(g.Name)
	for i := 0; i < len(g.Init); i += 8 {
		row := g.Init[i:min(i+8, len(g.Init))]
		vals := make([]string, len(row))
		for j, b := range row {
			vals[j] = fmt.Sprintf("$%02x", b)
		}
		fmt.Fprintf(p.out, "%s%s\n", p.info.Data8bitsDirective, strings.Join(vals, ", "))
	}
	p.EmitBlock(size - len(g.Init))
	return nil
}

func (p *Printer) blockLabel(b *ir.Block) string {
	safe := strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(b.Name)
	return fmt.Sprintf(".bb%d_%s", b.Num, safe)
}

func (p *Printer) genFunc(f *ir.Func) error {
	if len(f.Blocks) == 0 { return nil }
	if !f.Has(ir.PropSelected) { return ir.Errorf(pass, f, nil, "function is not selected") }
	p.fn = f
	if err := p.switchSection(".text0"); err != nil { return err }

	p.out.WriteString("\n")
	if f.Has(ir.PropFrameFinalized) {
		fmt.Fprintf(p.out, "%s %s: frame %d bytes, %d saved\n", p.info.CommentString, f.Name, f.Frame.StackSize, len(f.Frame.CSI))
	}
	p.EmitGlobal(f.Name)
	for i, b := range f.Blocks {
		if i > 0 { fmt.Fprintf(p.out, "%s:\n", p.blockLabel(b)) }
		for _, mi := range b.Instrs {
			if err := p.genInstr(mi); err != nil { return err }
		}
	}
	return nil
}

func (p *Printer) genInstr(mi *ir.Instr) error {
	d := sm83.Desc(mi.Op)
	if d == nil {
		if mi.Op.IsGeneric() || mi.Op == ir.OpCall || mi.Op == ir.OpRet {
			return ir.Errorf(pass, p.fn, mi, "generic instruction reached emission")
		}
		// Pseudos are left for register allocation; print them as MIR.
		fmt.Fprintf(p.out, "\t%s\n", ir.PrintInstr(mi, p.fn, nil))
		return nil
	}
	inst, err := Lower(mi)
	if err != nil { return ir.Errorf(pass, p.fn, mi, "%v", err) }
	text, printed, err := p.format(d.Asm, inst)
	if err != nil { return ir.Errorf(pass, p.fn, mi, "%v", err) }
	// Two-address templates leave out the destination; name virtual ones.
	var hidden []string
	for i := 0; i < d.NumDefs && i < len(inst.Ops); i++ {
		if op := inst.Ops[i]; printed&(1<<i) == 0 && op.Kind == ir.KindReg && op.Reg.IsVirtual() { hidden = append(hidden, p.value(op)) }
	}
	if len(hidden) > 0 { text += fmt.Sprintf("\t%s %s =", p.info.CommentString, strings.Join(hidden, ", ")) }
	fmt.Fprintf(p.out, "\t%s\n", text)
	return nil
}

// format expands an opcode template: $N is operand N, $mN the address
// pair N, N+1 as offset(base) and $cN a condition code. The mask has bit N
// set for every operand the template printed.
func (p *Printer) format(tmpl string, inst Inst) (string, uint64, error) {
	var sb strings.Builder
	var printed uint64
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '$' {
			sb.WriteByte(tmpl[i])
			continue
		}
		var mod byte
		if i+1 < len(tmpl) && (tmpl[i+1] == 'm' || tmpl[i+1] == 'c') {
			mod = tmpl[i+1]
			i++
		}
		j := i + 1
		for j < len(tmpl) && tmpl[j] >= '0' && tmpl[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(tmpl[i+1 : j])
		if err != nil || n > 62 { return "", 0, fmt.Errorf("malformed template '%s'", tmpl) }
		i = j - 1
		s, err := p.operand(inst, n, mod)
		if err != nil { return "", 0, err }
		sb.WriteString(s)
		printed |= 1 << n
		if mod == 'm' { printed |= 1 << (n + 1) }
	}
	return sb.String(), printed, nil
}

func (p *Printer) operand(inst Inst, n int, mod byte) (string, error) {
	need := n + 1
	if mod == 'm' { need++ }
	if need > len(inst.Ops) { return "", fmt.Errorf("%s has no operand %d", sm83.OpName(inst.Op), need-1) }

	op := inst.Ops[n]
	switch mod {
	case 'm':
		return fmt.Sprintf("%s(%s)", p.value(inst.Ops[n+1]), p.value(op)), nil
	case 'c':
		c := sm83.Cond(op.Imm)
		if !op.IsImm() || !c.Valid() { return "", fmt.Errorf("invalid condition %s", p.value(op)) }
		return c.String(), nil
	}
	return p.value(op), nil
}

func (p *Printer) value(op ir.Operand) string {
	switch op.Kind {
	case ir.KindReg:
		s := fmt.Sprintf("%%%d", op.Reg.VirtIndex())
		if op.Reg.IsPhysical() { s = sm83.RegName(op.Reg) }
		if op.SubReg != ir.NoSubReg { s += "." + sm83.SubRegName(op.SubReg) }
		return s
	case ir.KindImm: return strconv.FormatInt(op.Imm, 10)
	case ir.KindGlobal:
		if op.Imm != 0 { return fmt.Sprintf("%s%+d", op.Sym, op.Imm) }
		return op.Sym
	case ir.KindBlock: return p.blockLabel(op.Block)
	case ir.KindFrameIndex:
		if op.Index() < 0 { return fmt.Sprintf("%%fixed-stack.%d", -op.Index()-1) }
		return fmt.Sprintf("%%stack.%d", op.Index())
	}
	return "?"
}
