package config

import "testing"

func visit(flags ...string) func(func(string)) {
	return func(fn func(string)) {
		for _, f := range flags {
			fn(f)
		}
	}
}

func TestProcessFlags(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.ProcessFlags(visit("Wextra", "Fno-cse", "Wno-all")); err != nil { t.Fatal(err) }
	if cfg.IsFeatureEnabled(FeatCSE) { t.Errorf("-Fno-cse ignored") }
	if !cfg.IsFeatureEnabled(FeatIncDecPtrAdd) { t.Errorf("unrelated feature disabled") }
	// Wno-all applies first, so -Wextra wins.
	if !cfg.IsWarningEnabled(WarnExtra) || cfg.IsWarningEnabled(WarnStackArgs) { t.Errorf("warnings = %v", cfg.Warnings) }

	if err := NewConfig().ProcessFlags(visit("Fbogus")); err == nil { t.Errorf("unknown feature accepted") }
	if err := NewConfig().ProcessDirectiveFlags("-Wunused-result -Wnope"); err == nil { t.Errorf("unknown warning accepted") }
}

func TestOptLevel(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.SetOptLevel(0); err != nil { t.Fatal(err) }
	for _, ft := range []Feature{FeatCSE, FeatKnownBits, FeatFuseCompareBranch} {
		if cfg.IsFeatureEnabled(ft) { t.Errorf("%s still enabled at -O0", cfg.Features[ft].Name) }
	}
	if !cfg.IsFeatureEnabled(FeatIncDecPtrAdd) { t.Errorf("incdec-ptr-add disabled at -O0") }
	if err := cfg.SetOptLevel(7); err == nil { t.Errorf("-O7 accepted") }
	if err := cfg.SetCPU("SM83"); err != nil || cfg.CPU != "sm83" { t.Errorf("SetCPU(SM83) = %v, %q", err, cfg.CPU) }
	if err := cfg.SetCPU("z80"); err == nil { t.Errorf("z80 accepted") }
}

func TestClone(t *testing.T) {
	base := NewConfig()
	file := base.Clone()
	if err := file.ProcessDirectiveFlags("-Wunused-result -Fno-cse"); err != nil { t.Fatal(err) }
	if !file.IsWarningEnabled(WarnUnusedResult) || file.IsFeatureEnabled(FeatCSE) { t.Errorf("directive flags not applied to the copy") }
	if base.IsWarningEnabled(WarnUnusedResult) || !base.IsFeatureEnabled(FeatCSE) { t.Errorf("directive flags leaked into the original") }
}
