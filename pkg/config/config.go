package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/xplshn/sm83/pkg/cli"
)

type Feature int

const (
	FeatIncDecPtrAdd Feature = iota
	FeatCSE
	FeatKnownBits
	FeatFuseCompareBranch
	FeatCount
)

type Warning int

const (
	WarnStackArgs Warning = iota
	WarnUnusedResult
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	CPU        string
	OptLevel   int
	// PreLegalRules and PostLegalRules adjust the combiner rule sets,
	// e.g. "-dead_code,+cse".
	PreLegalRules  string
	PostLegalRules string
	DebugOnly      []string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		CPU:        "sm83",
		OptLevel:   1,
	}

	features := map[Feature]Info{
		FeatIncDecPtrAdd:      {"incdec-ptr-add", true, "Select small constant pointer offsets as INC/DEC chains."},
		FeatCSE:               {"cse", true, "Merge identical pure instructions within a block."},
		FeatKnownBits:         {"known-bits", true, "Use known-bits analysis to expose constant pointer offsets."},
		FeatFuseCompareBranch: {"fuse-compare-branch", true, "Fuse a single-use compare into the conditional jump."},
	}

	warnings := map[Warning]Info{
		WarnStackArgs:    {"stack-args", true, "Warn when a function receives arguments on the stack."},
		WarnUnusedResult: {"unused-result", false, "Warn when the result of a call is never used."},
		WarnExtra:        {"extra", false, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// Clone returns a copy of c that can be changed without affecting c.
func (c *Config) Clone() *Config {
	n := *c
	n.Features = maps.Clone(c.Features)
	n.Warnings = maps.Clone(c.Warnings)
	n.DebugOnly = slices.Clone(c.DebugOnly)
	return &n
}

// SetCPU accepts the only processor this backend knows.
func (c *Config) SetCPU(cpu string) error {
	if cpu = strings.ToLower(cpu); cpu != "sm83" { return fmt.Errorf("unsupported CPU '%s'. Supported: 'sm83'", cpu) }
	c.CPU = cpu
	return nil
}

// SetOptLevel selects the combiner tier. -O0 also turns off the features
// that depend on analysis.
func (c *Config) SetOptLevel(level int) error {
	switch level {
	case 0:
		c.SetFeature(FeatCSE, false)
		c.SetFeature(FeatKnownBits, false)
		c.SetFeature(FeatFuseCompareBranch, false)
	case 1, 2, 3:
	default:
		return fmt.Errorf("unsupported optimization level '%d'. Supported: 0-3", level)
	}
	c.OptLevel = level
	return nil
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

func (c *Config) applyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}

	if isWarning {
		w, ok := c.WarningMap[name]
		if !ok { return fmt.Errorf("unknown warning '%s'", name) }
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok { return fmt.Errorf("unknown feature '%s'", name) }
	c.SetFeature(f, enable)
	return nil
}

// ProcessFlags applies -W and -F flags; "Wall" and "Wno-all" go first so
// later flags can refine them.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) error {
	var err error
	apply := func(name string) {
		if e := c.applyFlag("-" + name); e != nil && err == nil { err = e }
	}
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" { apply(name) }
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" { apply(name) }
	})
	return err
}

// ProcessDirectiveFlags applies whitespace separated flags, as found in a
// function's attributes in an input file.
func (c *Config) ProcessDirectiveFlags(flagStr string) error {
	for _, flag := range strings.Fields(flagStr) {
		if err := c.applyFlag(flag); err != nil { return err }
	}
	return nil
}

// SetupFlagGroups defines the -W and -F flag groups on fs. The flags only
// record that they were given; apply them in order with
// ProcessFlags(fs.Visit).
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) {
	entry := func(name, usage string, enabled bool) cli.FlagGroupEntry {
		on, off := enabled, false
		return cli.FlagGroupEntry{Name: name, Usage: usage, Enabled: &on, Disabled: &off}
	}
	warnings := []cli.FlagGroupEntry{entry("all", "Enable all warnings", false)}
	for i := Warning(0); i < WarnCount; i++ {
		warnings = append(warnings, entry(c.Warnings[i].Name, c.Warnings[i].Description, c.Warnings[i].Enabled))
	}
	var features []cli.FlagGroupEntry
	for i := Feature(0); i < FeatCount; i++ {
		features = append(features, entry(c.Features[i].Name, c.Features[i].Description, c.Features[i].Enabled))
	}
	fs.AddFlagGroup("Warning Flags", "", "W", "warning", warnings)
	fs.AddFlagGroup("Feature Flags", "", "F", "feature", features)
}

// IsGroupFlag reports whether name, as given to FlagSet.Visit, is a -W or -F
// flag.
func (c *Config) IsGroupFlag(name string) bool {
	name = strings.TrimPrefix(name, "-")
	if rest, ok := strings.CutPrefix(name, "W"); ok {
		rest = strings.TrimPrefix(rest, "no-")
		_, known := c.WarningMap[rest]
		return known || rest == "all"
	}
	if rest, ok := strings.CutPrefix(name, "F"); ok {
		_, known := c.FeatureMap[strings.TrimPrefix(rest, "no-")]
		return known
	}
	return false
}
