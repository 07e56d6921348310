package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/xplshn/sm83/pkg/cli"
	"github.com/xplshn/sm83/pkg/combine"
	"github.com/xplshn/sm83/pkg/config"
	"github.com/xplshn/sm83/pkg/ir"
	"github.com/xplshn/sm83/pkg/mirfile"
	"github.com/xplshn/sm83/pkg/target"
	"github.com/xplshn/sm83/pkg/util"
)

func main() {
	app := cli.NewApp("sm83c")
	app.Synopsis = "[options] <input.yaml> ..."
	app.Description = "A GlobalISel style backend for the Sharp SM83, the Game Boy CPU. Reads generic machine IR and writes RGBDS assembly."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/sm83>"

	var (
		outFile        string
		cpu            string
		optLevel       int
		preLegalRules  string
		postLegalRules string
		debugOnly      []string
		dumpMIR        bool
		dumpRaw        bool
		verbose        bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "out.asm", "Place the output into <file>, '-' for stdout.", "file")
	fs.String(&cpu, "cpu", "", "sm83", "Select the processor.", "cpu")
	fs.Int(&optLevel, "optimize", "O", 1, "Optimization level, 0 disables the full combiner tier.", "level")
	fs.String(&preLegalRules, "prelegal-rules", "", "", "Adjust the pre-legalizer combiner rules (e.g. '-dead_code,+cse').", "rules")
	fs.String(&postLegalRules, "postlegal-rules", "", "", "Adjust the post-legalizer combiner rules.", "rules")
	fs.List(&debugOnly, "debug-only", "", nil, "Trace the named passes (sm83-isel, sm83-legalizer, ... or all).", "type")
	fs.Bool(&dumpMIR, "dump-mir", "", false, "Print the final machine IR instead of assembly.")
	fs.Bool(&dumpRaw, "dump-raw", "", false, "Dump the final in-memory functions and exit.")
	fs.Bool(&verbose, "verbose", "v", false, "Report each compilation step.")

	cfg := config.NewConfig()
	cfg.SetupFlagGroups(fs)

	app.Action = func(inputFiles []string) error {
		if err := cfg.SetCPU(cpu); err != nil { util.Error(util.Pos{}, "%v", err) }
		// The level goes first so -F flags can override what it turns off.
		if err := cfg.SetOptLevel(optLevel); err != nil { util.Error(util.Pos{}, "%v", err) }
		if err := cfg.ProcessFlags(groupFlags(fs, cfg)); err != nil { util.Error(util.Pos{}, "%v", err) }
		cfg.PreLegalRules, cfg.PostLegalRules = preLegalRules, postLegalRules
		cfg.DebugOnly = debugOnly
		util.SetDebugTypes(debugOnly)

		if len(inputFiles) == 0 { util.Error(util.Pos{}, "no input files specified.") }
		progress := func(format string, args ...any) {
			if verbose { fmt.Printf(format+"\n", args...) }
		}

		progress("Reading %d input file(s)...", len(inputFiles))
		records := readFiles(inputFiles)
		util.SetSourceFiles(records)

		var out bytes.Buffer
		for i, rec := range records {
			progress("Parsing '%s'...", rec.Name)
			u, err := mirfile.Parse([]byte(string(rec.Content)), i)
			if err != nil { reportParseError(err, i) }
			fileCfg := cfg.Clone()
			if err := fileCfg.ProcessDirectiveFlags(u.Flags); err != nil { util.Error(util.Pos{File: i, Line: 1}, "%v", err) }

			opts := target.OptionsFromConfig(fileCfg)
			for _, tier := range []combine.Tier{combine.TierO0, combine.TierFull} {
				if _, _, err := opts.Rules(tier); err != nil { util.Error(util.Pos{}, "%v", err) }
			}

			for _, f := range u.Module.Funcs {
				if len(f.Blocks) == 0 { continue }
				pos := u.Pos[f]
				checkCallResults(fileCfg, f, pos)
				progress("Compiling '%s'...", f.Name)
				if _, err := target.SM83.Compile(f, opts); err != nil { util.Error(pos, "%v", err) }
				if f.Frame.NumFixedObjects() > 0 {
					util.Warn(fileCfg, config.WarnStackArgs, pos, "function '%s' receives %d argument(s) on the stack", f.Name, f.Frame.NumFixedObjects())
				}
			}

			switch {
			case dumpRaw:
				dumper := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true, MaxDepth: 6}
				for _, f := range u.Module.Funcs {
					dumper.Fdump(&out, f.Name, f.Frame, f.Instrs())
				}
			case dumpMIR:
				for _, f := range u.Module.Funcs {
					if len(f.Blocks) > 0 { out.WriteString(ir.Print(f, nil)) }
				}
			default:
				progress("Emitting assembly for '%s'...", rec.Name)
				buf, err := target.SM83.NewEmitter().Generate(u.Module)
				if err != nil { util.Error(util.Pos{File: i}, "%v", err) }
				out.Write(buf.Bytes())
			}
		}

		if outFile == "-" || dumpMIR || dumpRaw {
			os.Stdout.Write(out.Bytes())
			return nil
		}
		if err := os.WriteFile(outFile, out.Bytes(), 0o644); err != nil { util.Error(util.Pos{}, "could not write '%s': %v", outFile, err) }
		progress("Wrote '%s'.", outFile)
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// groupFlags visits the -W and -F flags of fs in command line order.
func groupFlags(fs *cli.FlagSet, cfg *config.Config) func(func(string)) {
	return func(fn func(string)) {
		fs.Visit(func(name string) {
			if cfg.IsGroupFlag(name) { fn(name) }
		})
	}
}

func readFiles(paths []string) []util.SourceFileRecord {
	var records []util.SourceFileRecord
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil { util.Error(util.Pos{}, "could not read file '%s': %v", path, err) }
		records = append(records, util.SourceFileRecord{Name: path, Content: []rune(string(content))})
	}
	return records
}

func reportParseError(err error, file int) {
	var pe *mirfile.Error
	if !errors.As(err, &pe) { util.Error(util.Pos{File: file}, "%v", err) }
	msg := pe.Msg
	if pe.Func != "" { msg = fmt.Sprintf("function '%s': %s", pe.Func, msg) }
	pos := pe.Pos
	pos.File = file
	if pos.Line == 0 { pos.Line = 1 }
	util.Error(pos, "%s", msg)
}

// checkCallResults warns about call results nothing reads. It must run
// before translation, which replaces the call with copies.
func checkCallResults(cfg *config.Config, f *ir.Func, pos util.Pos) {
	for _, mi := range f.Instrs() {
		if mi.Op != ir.OpCall { continue }
		nd := mi.NumExplicitDefs()
		callee := "indirect callee"
		if op := mi.Ops[nd]; op.Kind == ir.KindGlobal { callee = "@" + op.Sym }
		var unused []string
		for _, r := range mi.Defs() {
			if !f.HasUses(r) { unused = append(unused, "%"+f.Regs.Name(r)) }
		}
		if len(unused) > 0 {
			util.Warn(cfg, config.WarnUnusedResult, pos, "result %s of call to %s is never used", strings.Join(unused, ", "), callee)
		}
	}
}
