// Package cli is the flag parser and help page generator of sm83c. It
// understands GCC style option spellings: -o out, -O1, --dump-mir,
// --cpu=sm83, and -W/-F flag groups.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

const indentUnit = 4

func indent(level int) string { return strings.Repeat(" ", indentUnit*level) }

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil { return fmt.Errorf("invalid number '%s'", s) }
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" { *v.p = true; return nil }
	val, err := strconv.ParseBool(s)
	if err != nil { return fmt.Errorf("invalid boolean value '%s': %w", s, err) }
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (fl *Flag) isBool() bool { _, ok := fl.Value.(*boolValue); return ok }

// FlagGroup is a family of on/off flags sharing a prefix, such as -W<warning>
// and -Wno-<warning>.
type FlagGroup struct {
	Name        string
	Description string
	Prefix      string
	GroupType   string
	Flags       []FlagGroupEntry
}

type FlagGroupEntry struct {
	Name     string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	args       []string
	// set lists the flags given on the command line, in order.
	set    []string
	groups []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{name: name, flags: map[string]*Flag{}, shorthands: map[string]*Flag{}}
}

func (f *FlagSet) Args() []string           { return f.args }
func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

// Visit calls fn with the name of every flag that was set, in command line
// order. A flag given twice is visited twice.
func (f *FlagSet) Visit(fn func(name string)) {
	for _, name := range f.set {
		fn(name)
	}
}

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, strings.Join(value, ","), expectedType)
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" { panic("flag name cannot be empty") }
	if _, ok := f.flags[name]; ok { panic(fmt.Sprintf("flag redefined: %s", name)) }
	fl := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = fl
	if shorthand == "" { return }
	if _, ok := f.shorthands[shorthand]; ok { panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand)) }
	f.shorthands[shorthand] = fl
}

// AddFlagGroup defines prefix+name and prefix+"no-"+name for every entry
// that has an Enabled or Disabled pointer.
func (f *FlagSet) AddFlagGroup(name, description, prefix, groupType string, entries []FlagGroupEntry) {
	for _, e := range entries {
		if e.Enabled != nil { f.Bool(e.Enabled, prefix+e.Name, "", *e.Enabled, e.Usage) }
		if e.Disabled != nil { f.Bool(e.Disabled, prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'") }
	}
	f.groups = append(f.groups, FlagGroup{Name: name, Description: description, Prefix: prefix, GroupType: groupType, Flags: entries})
}

func (f *FlagSet) setFlag(fl *Flag, value string) error {
	if err := fl.Value.Set(value); err != nil { return fmt.Errorf("flag %s: %w", fl.Name, err) }
	f.set = append(f.set, fl.Name)
	return nil
}

func (f *FlagSet) Parse(arguments []string) error {
	f.args, f.set = nil, nil
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
		case strings.HasPrefix(arg, "--"):
			if err := f.parseFlag(arg[2:], "--", arguments, &i); err != nil { return err }
		default:
			name, _, _ := strings.Cut(arg[1:], "=")
			if _, ok := f.flags[name]; ok {
				if err := f.parseFlag(arg[1:], "-", arguments, &i); err != nil { return err }
				continue
			}
			if err := f.parseShortFlag(arg, arguments, &i); err != nil { return err }
		}
	}
	return nil
}

// parseFlag handles name, name=value and "name value" spellings.
func (f *FlagSet) parseFlag(body, dashes string, arguments []string, i *int) error {
	name, value, hasValue := strings.Cut(body, "=")
	if name == "" { return fmt.Errorf("empty flag name") }
	fl, ok := f.flags[name]
	if !ok { return fmt.Errorf("unknown flag: %s%s", dashes, name) }
	switch {
	case hasValue: return f.setFlag(fl, value)
	case fl.isBool(): return f.setFlag(fl, "")
	case *i+1 >= len(arguments): return fmt.Errorf("flag needs an argument: %s%s", dashes, name)
	}
	*i++
	return f.setFlag(fl, arguments[*i])
}

// parseShortFlag handles -x, -xVALUE and "-x VALUE".
func (f *FlagSet) parseShortFlag(arg string, arguments []string, i *int) error {
	shorthand := arg[1:2]
	fl, ok := f.shorthands[shorthand]
	if !ok { return fmt.Errorf("unknown flag: %s", arg) }
	if fl.isBool() {
		if len(arg) > 2 { return fmt.Errorf("unknown flag: %s", arg) }
		return f.setFlag(fl, "")
	}
	if value := arg[2:]; value != "" { return f.setFlag(fl, value) }
	if *i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: -%s", shorthand) }
	*i++
	return f.setFlag(fl, arguments[*i])
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error
	// Stdout and Stderr receive the help and usage pages.
	Stdout, Stderr io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		a.writeUsage(a.Stderr)
		return err
	}
	if help {
		a.writeHelp(a.Stdout, terminalWidth())
		return nil
	}
	if a.Action != nil { return a.Action(a.FlagSet.Args()) }
	return nil
}

func (a *App) writeUsage(w io.Writer) {
	synopsis := a.Synopsis
	if synopsis == "" { synopsis = "[options] <input> ..." }
	fmt.Fprintf(w, "Usage: %s %s\nRun '%s --help' for all available options and flags.\n", a.Name, synopsis, a.Name)
}

// options returns the plain flags, sorted, leaving out group members.
func (a *App) options() []*Flag {
	grouped := map[string]bool{}
	for _, g := range a.FlagSet.groups {
		for _, e := range g.Flags {
			grouped[g.Prefix+e.Name], grouped[g.Prefix+"no-"+e.Name] = true, true
		}
	}
	var opts []*Flag
	for name, fl := range a.FlagSet.flags {
		if !grouped[name] { opts = append(opts, fl) }
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Name < opts[j].Name })
	return opts
}

func flagString(fl *Flag) string {
	var sb strings.Builder
	if fl.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s, ", fl.Shorthand)
	}
	fmt.Fprintf(&sb, "--%s", fl.Name)
	if !fl.isBool() && fl.ExpectedType != "" { fmt.Fprintf(&sb, "=<%s>", fl.ExpectedType) }
	return sb.String()
}

// table collects rows of the help page so every column lines up.
type table struct{ left, mid int }

func (t *table) add(left, usage string) { t.left, t.mid = max(t.left, len(left)), max(t.mid, len(usage)) }

func (a *App) writeHelp(w io.Writer, width int) {
	var t table
	opts := a.options()
	for _, fl := range opts {
		t.add(flagString(fl), fl.Usage)
	}
	groups := append([]FlagGroup(nil), a.FlagSet.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		t.add(fmt.Sprintf("-%sno-<%s>", g.Prefix, g.GroupType), "Disable a specific "+g.GroupType)
		for _, e := range g.Flags {
			t.add(e.Name, e.Usage)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%sCopyright (c) %d: %s and contributors\n", indent(1), time.Now().Year(), strings.Join(a.Authors, ", "))
	if a.Repository != "" { fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent(1), a.Repository) }
	if a.Synopsis != "" {
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indent(1), indent(2), a.Name, a.Synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n", indent(1))
		for _, l := range wrapText(a.Description, width-len(indent(2))) {
			fmt.Fprintf(&sb, "%s%s\n", indent(2), l)
		}
	}
	if len(opts) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, fl := range opts {
			right := ""
			if !fl.isBool() && fl.DefValue != "" { right = "|" + fl.DefValue + "|" }
			t.row(&sb, width, flagString(fl), fl.Usage, right)
		}
	}
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n%s%s\n", indent(1), g.Name)
		if g.Description != "" { fmt.Fprintf(&sb, "%s%s\n", indent(2), g.Description) }
		t.row(&sb, width, fmt.Sprintf("-%s<%s>", g.Prefix, g.GroupType), "Enable a specific "+g.GroupType, "")
		t.row(&sb, width, fmt.Sprintf("-%sno-<%s>", g.Prefix, g.GroupType), "Disable a specific "+g.GroupType, "")
		entries := append([]FlagGroupEntry(nil), g.Flags...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			mark := "|-|"
			if e.Enabled != nil && *e.Enabled && (e.Disabled == nil || !*e.Disabled) { mark = "|x|" }
			t.row(&sb, width, e.Name, e.Usage, mark)
		}
	}
	fmt.Fprint(w, sb.String())
}

// row prints one entry, wrapping the usage text to the terminal width.
func (t *table) row(sb *strings.Builder, width int, left, usage, right string) {
	usageWidth := max(width-len(indent(2))-t.left-1-2-len(right), 10)
	lines := wrapText(usage, usageWidth)
	first := ""
	if len(lines) > 0 { first = lines[0] }
	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", indent(2), t.left, left, min(t.mid, usageWidth), first, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", indent(2), t.left, left, first)
	}
	for _, l := range lines[min(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s %s\n", indent(2), strings.Repeat(" ", t.left), l)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil { return 80 }
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 { return nil }
	if maxWidth <= 0 { return []string{strings.Join(words, " ")} }
	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if len(line)+1+len(word) > maxWidth {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	return append(lines, line)
}
