// Package target ties the SM83 passes together: the descriptor registered
// under "sm83" and the pipeline that turns a translated function into a
// selected one with a final frame.
package target

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xplshn/sm83/pkg/calllower"
	"github.com/xplshn/sm83/pkg/combine"
	"github.com/xplshn/sm83/pkg/config"
	"github.com/xplshn/sm83/pkg/frame"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/isel"
	"github.com/xplshn/sm83/pkg/legalizer"
	"github.com/xplshn/sm83/pkg/mc"
	"github.com/xplshn/sm83/pkg/regbank"
	"github.com/xplshn/sm83/pkg/sm83"
)

// Emitter is implemented by every output printer.
type Emitter interface {
	// Generate renders a compiled module as assembly text.
	Generate(m *ir.Module) (*bytes.Buffer, error)
}

// Target describes one processor. It is built once and never changed.
type Target struct {
	Name       string
	DataLayout string
	Legal      *legalizer.Info

	CallConv        func(cc ir.CallConv, variadic bool) *calllower.Convention
	RetCallConv     func(cc ir.CallConv) *calllower.Convention
	CalleeSavedRegs func(cc ir.CallConv) []ir.Reg
	ReservedRegs    []ir.Reg

	RegBankSelect func(f *ir.Func) (map[ir.Reg]*regbank.ValueMapping, error)
	Select        func(f *ir.Func, opts isel.Options) error
	NewEmitter    func() Emitter
}

var targets = map[string]*Target{}

// Register makes t available to Lookup. Registering a name twice panics.
func Register(t *Target) {
	if _, dup := targets[t.Name]; dup { panic("target: duplicate registration of " + t.Name) }
	targets[t.Name] = t
}

func Lookup(name string) (*Target, error) {
	if t, ok := targets[name]; ok { return t, nil }
	return nil, fmt.Errorf("unknown target '%s'. Supported: %v", name, Names())
}

func Names() []string {
	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var SM83 = &Target{
	Name:            "sm83",
	DataLayout:      ir.SM83Layout,
	Legal:           legalizer.SM83,
	CallConv:        calllower.ForCall,
	RetCallConv:     calllower.ForReturn,
	CalleeSavedRegs: sm83.CalleeSavedRegs,
	ReservedRegs:    sm83.Reserved,
	RegBankSelect:   regbank.Select,
	Select:          isel.Select,
	NewEmitter:      func() Emitter { return mc.NewPrinter() },
}

func init() { Register(SM83) }

// CallLowering returns call lowering under the conventions of t.
func (t *Target) CallLowering() *calllower.CallLowering {
	return &calllower.CallLowering{CallConv: t.CallConv, RetCallConv: t.RetCallConv}
}

// FinalizeFrame saves the callee saved registers of t and resolves every
// frame index of a selected function.
func (t *Target) FinalizeFrame(f *ir.Func) error {
	fl := &frame.Lowering{CalleeSavedRegs: t.CalleeSavedRegs}
	return fl.Finalize(f)
}

// Options selects the optimizations of one compilation.
type Options struct {
	OptLevel          int
	PreLegalRules     string
	PostLegalRules    string
	CSE               bool
	KnownBits         bool
	IncDecPtrAdd      bool
	FuseCompareBranch bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OptLevel:          cfg.OptLevel,
		PreLegalRules:     cfg.PreLegalRules,
		PostLegalRules:    cfg.PostLegalRules,
		CSE:               cfg.IsFeatureEnabled(config.FeatCSE),
		KnownBits:         cfg.IsFeatureEnabled(config.FeatKnownBits),
		IncDecPtrAdd:      cfg.IsFeatureEnabled(config.FeatIncDecPtrAdd),
		FuseCompareBranch: cfg.IsFeatureEnabled(config.FeatFuseCompareBranch),
	}
}

// Rules resolves both combiner rule strings for tier. The driver calls it
// once up front to reject bad rule names before any function is compiled.
func (o Options) Rules(tier combine.Tier) (pre, post []*combine.Rule, err error) {
	suffix := ""
	if !o.CSE { suffix = ",-cse" }
	if pre, err = combine.ParseRuleConfig(o.PreLegalRules+suffix, tier); err != nil { return nil, nil, fmt.Errorf("pre-legalizer rules: %w", err) }
	if post, err = combine.ParseRuleConfig(o.PostLegalRules+suffix, tier); err != nil { return nil, nil, fmt.Errorf("post-legalizer rules: %w", err) }
	return pre, post, nil
}

// Compile runs the whole pipeline over f. The first failing pass stops it
// and its *ir.PassError is returned; f is then left half lowered.
func (t *Target) Compile(f *ir.Func, opts Options) (*ir.Func, error) {
	if !f.Has(ir.PropTranslated) {
		if err := t.Translate(f); err != nil { return nil, err }
	}

	tier := combine.TierFull
	if opts.OptLevel == 0 || f.OptNone { tier = combine.TierO0 }
	pre, post, err := opts.Rules(tier)
	if err != nil { return nil, ir.Errorf("combiner", f, nil, "%v", err) }

	c := combine.New(f, pre)
	c.KnownBits = opts.KnownBits && tier == combine.TierFull
	if err := c.Run(); err != nil { return nil, err }

	if err := legalizer.Legalize(f, t.Legal); err != nil { return nil, err }

	c = combine.New(f, post)
	c.Legal = t.Legal
	if err := c.Run(); err != nil { return nil, err }

	if _, err := t.RegBankSelect(f); err != nil { return nil, err }
	if err := t.Select(f, isel.Options{IncDecPtrAdd: opts.IncDecPtrAdd, FuseCompareBranch: opts.FuseCompareBranch}); err != nil {
		return nil, err
	}
	if err := t.FinalizeFrame(f); err != nil { return nil, err }
	return f, nil
}
