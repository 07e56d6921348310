// Package mirfile reads modules of generic machine IR from YAML.
//
//	name: demo
//	flags: -Wunused-result
//	globals:
//	  - {name: tbl, type: "[2 x i8]", init: [1, 2]}
//	functions:
//	  - name: add
//	    params: [{name: a, type: i8}, {name: b, type: i8, attrs: [zeroext]}]
//	    ret: i8
//	    body: |
//	      entry:
//	        %s:s8 = G_ADD %a, %b
//	        ret %s
//
// A function without a body is a declaration that calls are lowered
// against.
package mirfile

import (
	"fmt"
	"strings"

	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/util"
	"gopkg.in/yaml.v3"
)

type File struct {
	Name      string     `yaml:"name"`
	Layout    string     `yaml:"layout"`
	Flags     string     `yaml:"flags"`
	Globals   []Global   `yaml:"globals"`
	Functions []Function `yaml:"functions"`
}

type Global struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Section string `yaml:"section"`
	Align   int    `yaml:"align"`
	Init    []int  `yaml:"init"`
}

type Param struct {
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Attrs []string `yaml:"attrs"`
}

type StackObject struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

type Function struct {
	Name     string        `yaml:"name"`
	CallConv string        `yaml:"cc"`
	OptNone  bool          `yaml:"optnone"`
	Variadic bool          `yaml:"variadic"`
	Params   []Param       `yaml:"params"`
	Ret      string        `yaml:"ret"`
	RetAttrs []string      `yaml:"retattrs"`
	Stack    []StackObject `yaml:"stack"`
	Body     yaml.Node     `yaml:"body"`
}

// Unit is a parsed input file.
type Unit struct {
	Module *ir.Module
	// Flags holds -W and -F options the file asks for.
	Flags string
	// Pos records where each function was defined.
	Pos map[*ir.Func]util.Pos
}

// Error is a problem in the input, located at Pos when Pos.Line is set.
type Error struct {
	Pos  util.Pos
	Func string
	Msg  string
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Pos.Line > 0 { fmt.Fprintf(&sb, "line %d: ", e.Pos.Line) }
	if e.Func != "" { fmt.Fprintf(&sb, "function '%s': ", e.Func) }
	sb.WriteString(e.Msg)
	return sb.String()
}

// Parse decodes data, the contents of input file fileIndex.
func Parse(data []byte, fileIndex int) (*Unit, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil { return nil, &Error{Msg: err.Error()} }

	m := &ir.Module{Name: file.Name, Layout: ir.DefaultLayout}
	if file.Layout != "" {
		dl, err := ir.ParseDataLayout(file.Layout)
		if err != nil { return nil, &Error{Msg: err.Error()} }
		m.Layout = dl
	}
	for _, g := range file.Globals {
		ig, err := buildGlobal(g)
		if err != nil { return nil, err }
		if m.FindGlobal(ig.Name) != nil { return nil, &Error{Msg: fmt.Sprintf("global @%s defined twice", ig.Name)} }
		m.Globals = append(m.Globals, ig)
	}

	u := &Unit{Module: m, Flags: file.Flags, Pos: map[*ir.Func]util.Pos{}}
	lines := strings.Split(string(data), "\n")
	for i := range file.Functions {
		fn := &file.Functions[i]
		if fn.Name == "" { return nil, &Error{Pos: util.Pos{File: fileIndex, Line: fn.Body.Line}, Msg: "function without a name"} }
		if m.FindFunc(fn.Name) != nil { return nil, &Error{Func: fn.Name, Msg: "defined twice"} }
		f, err := newFunc(m, fn)
		if err != nil { return nil, &Error{Func: fn.Name, Msg: err.Error()} }
		m.Funcs = append(m.Funcs, f)
		u.Pos[f] = util.Pos{File: fileIndex, Line: fn.Body.Line}
		if fn.Body.Kind == 0 { continue }
		if err := parseBody(f, fn, lines, fileIndex); err != nil { return nil, err }
	}
	return u, nil
}

func buildGlobal(g Global) (*ir.Global, error) {
	fail := func(format string, args ...any) error {
		return &Error{Msg: fmt.Sprintf("global @%s: ", g.Name) + fmt.Sprintf(format, args...)}
	}
	if g.Name == "" { return nil, &Error{Msg: "global without a name"} }
	ty, err := ir.ParseType(g.Type)
	if err != nil { return nil, fail("%v", err) }
	if ty.IsVoid() { return nil, fail("void global") }
	if g.Align < 0 || g.Align&(g.Align-1) != 0 { return nil, fail("alignment %d is not a power of two", g.Align) }
	ig := &ir.Global{Name: g.Name, Ty: ty, Section: g.Section, Align: g.Align}
	if g.Init != nil { ig.Init = make([]byte, len(g.Init)) }
	for i, v := range g.Init {
		if v < -128 || v > 255 { return nil, fail("initializer byte %d out of range: %d", i, v) }
		ig.Init[i] = byte(v)
	}
	return ig, nil
}

func parseAttrs(names []string) (ir.ParamAttrs, error) {
	var a ir.ParamAttrs
	for _, n := range names {
		switch n {
		case "zeroext": a |= ir.AttrZExt
		case "signext": a |= ir.AttrSExt
		case "inreg": a |= ir.AttrInReg
		default: return 0, fmt.Errorf("unknown attribute '%s'", n)
		}
	}
	if a&ir.AttrZExt != 0 && a&ir.AttrSExt != 0 { return 0, fmt.Errorf("both zeroext and signext") }
	return a, nil
}

// newFunc builds the signature of fn and one named register per value type
// of each parameter: "x" for scalars, "x.0", "x.1", ... for aggregates.
func newFunc(m *ir.Module, fn *Function) (*ir.Func, error) {
	sig := &ir.Signature{Ret: ir.Void, Variadic: fn.Variadic}
	if fn.Ret != "" {
		t, err := ir.ParseType(fn.Ret)
		if err != nil { return nil, fmt.Errorf("return type: %w", err) }
		sig.Ret = t
	}
	ra, err := parseAttrs(fn.RetAttrs)
	if err != nil { return nil, fmt.Errorf("return attributes: %w", err) }
	sig.RetAttrs = ra

	f := ir.NewFunc(fn.Name, sig, m)
	f.OptNone = fn.OptNone
	if fn.CallConv != "" {
		cc, err := ir.ParseCallConv(fn.CallConv)
		if err != nil { return nil, err }
		f.CallConv = cc
	}

	dl := m.Layout
	for i, p := range fn.Params {
		if p.Name == "" { p.Name = fmt.Sprint(i) }
		t, err := ir.ParseType(p.Type)
		if err != nil { return nil, fmt.Errorf("parameter %s: %w", p.Name, err) }
		if t.IsVoid() { return nil, fmt.Errorf("parameter %s: void type", p.Name) }
		a, err := parseAttrs(p.Attrs)
		if err != nil { return nil, fmt.Errorf("parameter %s: %w", p.Name, err) }
		ip := &ir.Param{Name: p.Name, Ty: t, Attrs: a}
		vts := ir.ComputeValueTypes(t)
		for j, vt := range vts {
			name := p.Name
			if len(vts) > 1 || t.Kind == ir.StructKind || t.Kind == ir.ArrayKind { name = fmt.Sprintf("%s.%d", p.Name, j) }
			if _, dup := f.Regs.Lookup(name); dup { return nil, fmt.Errorf("parameter %%%s defined twice", name) }
			ip.Regs = append(ip.Regs, f.Regs.NewNamedVReg(name, dl.LLTOf(vt)))
		}
		sig.Params = append(sig.Params, ip)
	}

	for _, so := range fn.Stack {
		if so.Size <= 0 { return nil, fmt.Errorf("stack object '%s' has size %d", so.Name, so.Size) }
		f.Frame.CreateStackObject(so.Size)
	}
	return f, nil
}
