// gtest compiles every test input with sm83c and compares the listing,
// diagnostics and exit status against a golden JSON file stored next to the
// input. Golden files remember the xxhash of the input they were recorded
// from, so an edited input is reported instead of silently compared.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Golden is the recorded result of compiling one input.
type Golden struct {
	Hash    string    `json:"hash"`
	Args    []string  `json:"args,omitempty"`
	Compile Execution `json:"compile"`
}

type FileTestResult struct {
	File    string  `json:"file"`
	Status  string  `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string  `json:"message,omitempty"`
	Diff    string  `json:"diff,omitempty"`
	Golden  *Golden `json:"golden,omitempty"`
	Target  *Golden `json:"target,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	compiler       = flag.String("compiler", "./sm83c", "Path to the sm83c binary to test.")
	compilerArgs   = flag.String("args", "", "Extra arguments for sm83c (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Generate a golden .json file for a given input file.")
	update         = flag.Bool("update", false, "Rewrite the golden file of every input instead of comparing.")
	testFiles      = flag.String("test-files", "tests/*.yaml", "Glob pattern(s) for files to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each compilation.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to the input's dir).")
	ignoreLines    = flag.String("ignore-lines", "", "Comma-separated substrings to ignore during output comparison.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	if *jobs < 1 { *jobs = 1 }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *generateGolden != "" {
		if err := writeGolden(ctx, *generateGolden); err != nil { log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err) }
		log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, getJSONPath(*generateGolden))
		return
	}

	results, err := runTestSuite(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled.\n", cYellow, cNone)
		os.Exit(1)
	}
	if err != nil { log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err) }
	if hasFailures(results) { os.Exit(1) }
}

func getJSONPath(sourceFile string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if *jsonDir != "" { return filepath.Join(*jsonDir, jsonFileName) }
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

// hashFile computes the xxhash of a file's content
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil { return "", err }
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil { return "", err }
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func writeGolden(ctx context.Context, sourceFile string) error {
	fileHash, err := hashFile(sourceFile)
	if err != nil { return fmt.Errorf("could not hash %s: %w", sourceFile, err) }
	g := compile(ctx, sourceFile, fileHash)
	if g.Compile.TimedOut { return fmt.Errorf("%s timed out", sourceFile) }

	jsonData, err := json.MarshalIndent(g, "", "  ")
	if err != nil { return fmt.Errorf("failed to marshal golden data: %w", err) }
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0o755); err != nil { return fmt.Errorf("failed to create directory %s: %w", *jsonDir, err) }
	}
	return os.WriteFile(getJSONPath(sourceFile), jsonData, 0o644)
}

func runTestSuite(ctx context.Context) (TestSuiteResults, error) {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil { return nil, fmt.Errorf("invalid glob pattern(s): %w", err) }
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return nil, nil
	}
	if _, err := exec.LookPath(*compiler); err != nil { return nil, fmt.Errorf("compiler '%s' not found: %w", *compiler, err) }

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	var (
		mu         sync.Mutex
		allResults []*FileTestResult
		bar        *progressbar.ProgressBar
	)
	record := func(r *FileTestResult) {
		mu.Lock()
		defer mu.Unlock()
		allResults = append(allResults, r)
		if bar != nil { bar.Add(1) }
	}
	if !*verbose { bar = progressbar.Default(int64(len(files)), "compiling") }

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*jobs)
	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] || skipList[filepath.Base(file)] {
			record(&FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"})
			continue
		}
		fileHash, err := hashFile(file)
		if err != nil {
			record(&FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)})
			continue
		}
		if originalFile, seen := seenHashes[fileHash]; seen {
			record(&FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", originalFile)})
			continue
		}
		seenHashes[fileHash] = file
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil { return err }
			if *verbose { log.Printf("[%s] compiling", file) }
			record(testFile(gctx, file, fileHash))
			return nil
		})
	}
	if err := g.Wait(); err != nil { return nil, err }
	if bar != nil { bar.Finish() }

	sort.Slice(allResults, func(i, j int) bool { return allResults[i].File < allResults[j].File })
	printSummary(allResults)
	return writeJSONReport(allResults), nil
}

func testFile(ctx context.Context, file, fileHash string) *FileTestResult {
	if *update {
		if err := writeGolden(ctx, file); err != nil { return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()} }
		return &FileTestResult{File: file, Status: "PASS", Message: "Golden file rewritten"}
	}

	goldenFile := getJSONPath(file)
	goldenData, err := os.ReadFile(goldenFile)
	if errors.Is(err, os.ErrNotExist) { return &FileTestResult{File: file, Status: "SKIP", Message: "Cannot test without a corresponding .json golden file"} }
	if err != nil { return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)} }
	var golden Golden
	if err := json.Unmarshal(goldenData, &golden); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	target := compile(ctx, file, fileHash)
	if golden.Hash != fileHash {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Input changed since the golden file was recorded; regenerate it with -generate-golden", Golden: &golden, Target: target}
	}
	return compareResults(file, &golden, target)
}

func compareResults(file string, golden, target *Golden) *FileTestResult {
	var diffs strings.Builder
	ignored := ignoredSubstrings()
	if target.Compile.TimedOut {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Compilation timed out", Golden: golden, Target: target}
	}
	if golden.Compile.ExitCode != target.Compile.ExitCode {
		fmt.Fprintf(&diffs, "Exit Code mismatch:\n  - Golden: %d\n  - Target: %d\n", golden.Compile.ExitCode, target.Compile.ExitCode)
	}
	if d := cmp.Diff(filterOutput(golden.Compile.Stdout, ignored), filterOutput(target.Compile.Stdout, ignored)); d != "" {
		fmt.Fprintf(&diffs, "Listing mismatch:\n%s", d)
	}
	if d := cmp.Diff(filterOutput(golden.Compile.Stderr, ignored), filterOutput(target.Compile.Stderr, ignored)); d != "" {
		fmt.Fprintf(&diffs, "Diagnostics mismatch:\n%s", d)
	}
	if diffs.Len() > 0 {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output differs from golden file", Diff: diffs.String(), Golden: golden, Target: target}
	}
	msg := "Listing matches golden file"
	if target.Compile.ExitCode != 0 { msg = "Compilation failed as expected" }
	return &FileTestResult{File: file, Status: "PASS", Message: msg, Golden: golden, Target: target}
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	res := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(startTime)}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut, res.ExitCode = true, -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -2
		res.Stderr += "\nExecution error: " + err.Error()
	}
	return res
}

// compile runs sm83c over sourceFile with the listing on stdout.
func compile(ctx context.Context, sourceFile, fileHash string) *Golden {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	args := append([]string{"-o", "-"}, strings.Fields(*compilerArgs)...)
	res := executeCommand(ctx, *compiler, append(args, sourceFile)...)
	// Diagnostics name the input; keep golden files independent of where
	// the tests are checked out.
	res.Stderr = strings.ReplaceAll(res.Stderr, sourceFile, filepath.Base(sourceFile))
	return &Golden{Hash: fileHash, Args: args, Compile: res}
}

func ignoredSubstrings() []string {
	if *ignoreLines == "" { return nil }
	return strings.Split(*ignoreLines, ",")
}

// filterOutput removes lines containing any of the given substrings
func filterOutput(output string, ignoredSubstrings []string) string {
	if len(ignoredSubstrings) == 0 || output == "" { return output }
	lines := strings.Split(output, "\n")
	filteredLines := make([]string, 0, len(lines))
	for _, line := range lines {
		ignore := false
		for _, sub := range ignoredSubstrings {
			if sub != "" && strings.Contains(line, sub) { ignore = true; break }
		}
		if !ignore { filteredLines = append(filteredLines, line) }
	}
	return strings.Join(filteredLines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond { return fmt.Sprintf("%6dµs", d.Microseconds()) }
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var total time.Duration
	var compiled int

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		if result.Target == nil { continue }
		compiled++
		total += result.Target.Compile.Duration
		if *verbose && result.Golden != nil {
			fmt.Printf("  [sm83c: %s | golden: %s]\n", formatDuration(result.Target.Compile.Duration), formatDuration(result.Golden.Compile.Duration))
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
	if compiled > 0 {
		fmt.Printf("Average compile time: %s\n", strings.TrimSpace(formatDuration(total/time.Duration(compiled))))
	}
}

func formatDiff(diff string) string {
	if diff == "" { return "" }
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line + cNone + "\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	outputFile := *outputJSON
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0o755); err != nil { log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err) }
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if err := os.WriteFile(outputFile, jsonData, 0o644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" { return true }
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil { return nil, fmt.Errorf("bad pattern %s: %w", pattern, err) }
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil || seen[absFile] { continue }
			if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
				allFiles = append(allFiles, absFile)
				seen[absFile] = true
			}
		}
	}
	return allFiles, nil
}
