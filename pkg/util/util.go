package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/xplshn/sm83/pkg/config"
	"golang.org/x/term"
)

// Pos is a location in an input file. The zero Pos has no location.
type Pos struct {
	File int
	Line int
	Col  int
	Len  int
}

// SourceFileRecord tracks the name and content of a single input file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var (
	sourceFiles []SourceFileRecord
	debugTypes  = map[string]bool{}
	debugAll    bool
	mu          sync.Mutex
	stderr      io.Writer = os.Stderr
	color       = term.IsTerminal(int(os.Stderr.Fd()))
	exit        = os.Exit
)

// SetSourceFiles stores the input files for rich error messages.
func SetSourceFiles(files []SourceFileRecord) { sourceFiles = files }

// SetOutput redirects diagnostics, disabling color unless w is a terminal.
func SetOutput(w io.Writer) {
	stderr = w
	f, ok := w.(*os.File)
	color = ok && term.IsTerminal(int(f.Fd()))
}

func paint(code, s string) string {
	if !color { return s }
	return "\033[" + code + "m" + s + "\033[0m"
}

func location(p Pos) string {
	if p.Line == 0 { return "sm83c" }
	name := "unknown"
	if p.File >= 0 && p.File < len(sourceFiles) { name = sourceFiles[p.File].Name }
	if p.Col == 0 { return fmt.Sprintf("%s:%d", name, p.Line) }
	return fmt.Sprintf("%s:%d:%d", name, p.Line, p.Col)
}

// printErrorLine prints the source line and a caret under the position
func printErrorLine(w io.Writer, p Pos) {
	if p.File < 0 || p.File >= len(sourceFiles) || p.Line == 0 { return }
	content := sourceFiles[p.File].Content
	lineStart, line := 0, 1
	for i, r := range content {
		if line == p.Line { break }
		if r == '\n' { line++; lineStart = i + 1 }
	}
	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' { lineEnd = i; break }
	}
	fmt.Fprintf(w, "  %s\n", string(content[lineStart:lineEnd]))
	if p.Col == 0 { return }
	caret := "^"
	if p.Len > 1 { caret += strings.Repeat("~", p.Len-1) }
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", p.Col-1), paint("32", caret))
}

// Error prints a formatted error message and exits the program
func Error(p Pos, format string, args ...any) {
	mu.Lock()
	fmt.Fprintf(stderr, "%s: %s ", location(p), paint("31", "error:"))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintln(stderr)
	printErrorLine(stderr, p)
	mu.Unlock()
	exit(1)
}

// Warn prints a warning if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, p Pos, format string, args ...any) {
	if !cfg.IsWarningEnabled(wt) { return }
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stderr, "%s: %s ", location(p), paint("33", "warning:"))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintf(stderr, " [-W%s]\n", cfg.Warnings[wt].Name)
	printErrorLine(stderr, p)
}

func Info(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stderr, "sm83c: info: "+format+"\n", args...)
}

// SetDebugTypes enables Debugf output for the named pass tags. "all" enables
// every tag.
func SetDebugTypes(types []string) {
	mu.Lock()
	defer mu.Unlock()
	debugTypes, debugAll = map[string]bool{}, false
	for _, t := range types {
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s == "all" {
				debugAll = true
			} else if s != "" {
				debugTypes[s] = true
			}
		}
	}
}

func DebugEnabled(tag string) bool {
	mu.Lock()
	defer mu.Unlock()
	return debugAll || debugTypes[tag]
}

// Debugf traces pass internals when the tag was enabled with --debug-only.
func Debugf(tag, format string, args ...any) {
	if !DebugEnabled(tag) { return }
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stderr, "%s %s\n", paint("36", "["+tag+"]"), fmt.Sprintf(format, args...))
}
