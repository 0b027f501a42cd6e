// Command aihub-e2e runs the AI Hub browser scenarios.
//
// Each suite (smoke, assistants, agent_builder, jobs) runs as its own
// go test process against ./tests/e2e. Raw test events and logs are written
// to <results>/<suite>-<timestamp>/, failure artifacts land in that
// directory's artifacts/ folder, and a summary is printed at the end.
//
// Usage:
//
//	go run ./cmd/aihub-e2e -tier smoke
//	go run ./cmd/aihub-e2e -suites jobs -run Schedule -headed
//	go run ./cmd/aihub-e2e -run TestJobs_PageLoads
//	go run ./cmd/aihub-e2e -base-url http://10.0.0.7:5001 -parallel 4
//
// A -run expression that starts with "Test" or "^" names whole scenarios
// and only the suites it can match are started. A run in which no scenario
// was reported exits with status 2.
//
// Without a base address (-base-url, AIHUB_BASE_URL or base_url in the
// config file) every suite boots the fixture application in process.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

const (
	defaultPackage    = "./tests/e2e/"
	defaultResultsDir = "tests/results"
	defaultTimeout    = 30 * time.Minute
)

// Options are the runner's own settings.
type Options struct {
	Suites     []string
	Tiers      []string
	Run        string
	Parallel   int
	ResultsDir string
	Package    string
	Timeout    time.Duration
}

func main() {
	fs := flag.NewFlagSet("aihub-e2e", flag.ExitOnError)
	flags := config.BindFlags(fs)
	tiers := fs.String("tier", "", "Comma-separated tiers to run: smoke, auth, slow (default all)")
	suites := fs.String("suites", "", "Comma-separated suites to run: "+suiteNames()+" (default all)")
	runFilter := fs.String("run", "", "Only run scenarios whose name matches this regular expression")
	parallel := fs.Int("parallel", 1, "Number of suites to run at once")
	results := fs.String("results", defaultResultsDir, "Directory for per-suite output")
	timeout := fs.Duration("timeout", defaultTimeout, "Timeout for each suite")
	fs.Parse(os.Args[1:])

	obs.Init()

	opts := Options{
		Suites:     splitList(*suites),
		Tiers:      splitList(*tiers),
		Run:        *runFilter,
		Parallel:   *parallel,
		ResultsDir: *results,
		Package:    defaultPackage,
		Timeout:    *timeout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ok, err := run(ctx, flags, opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aihub-e2e: %v\n", err)
		os.Exit(2)
	}
	if !ok {
		os.Exit(1)
	}
}

// run executes the selected suites and prints the summary to out. It
// reports whether every suite passed; err is reserved for problems that
// stop the run from starting.
func run(ctx context.Context, flags *config.Flags, opts Options, out io.Writer) (bool, error) {
	overrides := flags.Overrides()
	overrides.Tiers = opts.Tiers
	cfg, err := config.Load(flags.ConfigPath, overrides)
	if err != nil {
		return false, err
	}
	selected, err := selectSuites(opts.Suites)
	if err != nil {
		return false, err
	}
	if opts.Parallel < 1 {
		return false, fmt.Errorf("-parallel must be at least 1, got %d", opts.Parallel)
	}
	plans, err := planSuites(selected, opts.Run)
	if err != nil {
		return false, err
	}

	external := flags.BaseURL != "" || os.Getenv("AIHUB_BASE_URL") != "" || os.Getenv("BASE_URL") != "" ||
		cfg.BaseURL != config.DefaultBaseURL
	env, err := childEnv(cfg, flags, external)
	if err != nil {
		return false, err
	}
	cfg.PrintSummary()
	if !external {
		fmt.Fprintln(out, "Target: in-process fixture application (no base URL given)")
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	reports := make([]SuiteReport, len(plans))
	var outMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, plan := range plans {
		suite := plan.Suite
		g.Go(func() error {
			dir := filepath.Join(opts.ResultsDir, fmt.Sprintf("%s-%s", suite.Name, stamp))
			rep, err := runSuite(ctx, plan, opts, env, dir)
			if err != nil {
				return err
			}
			reports[i] = rep
			status := "PASSED"
			if !rep.OK() {
				status = "FAILED"
			}
			outMu.Lock()
			fmt.Fprintf(out, "%s %s (%.2fs)\n", status, suite.Name, rep.Duration.Seconds())
			outMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	printSummary(out, reports)
	total := 0
	for _, r := range reports {
		total += r.Total()
	}
	for _, r := range reports {
		if !r.OK() {
			return false, nil
		}
	}
	if total == 0 {
		return false, errNoScenarios(opts.Run)
	}
	return true, nil
}

// suitePlan is a suite with the go test selection it runs under.
type suitePlan struct {
	Suite     Suite
	Selection Selection
}

// planSuites drops the suites that filter cannot match. A filter that
// matches no suite at all is a usage error.
func planSuites(suites []Suite, filter string) ([]suitePlan, error) {
	var plans []suitePlan
	for _, suite := range suites {
		sel, ok, err := suite.Select(filter)
		if err != nil {
			return nil, err
		}
		if ok {
			plans = append(plans, suitePlan{Suite: suite, Selection: sel})
		}
	}
	if len(plans) == 0 {
		return nil, errNoScenarios(filter)
	}
	return plans, nil
}

func errNoScenarios(filter string) error {
	if filter == "" {
		return errors.New("no scenarios ran")
	}
	return fmt.Errorf("-run %q matched no scenarios", filter)
}

// childEnv is the environment of each go test process. Explicit settings
// are forwarded; the config file path is made absolute because the child
// runs in the package directory.
func childEnv(cfg config.Harness, flags *config.Flags, external bool) ([]string, error) {
	env := os.Environ()
	if flags.ConfigPath != "" {
		abs, err := filepath.Abs(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		env = append(env, "AIHUB_CONFIG="+abs)
	}
	if external {
		env = append(env, "AIHUB_BASE_URL="+cfg.BaseURL)
	}
	env = append(env,
		"AIHUB_DRIVER="+cfg.Driver,
		"HEADLESS="+strconv.FormatBool(cfg.Headless),
	)
	if len(cfg.Tiers) > 0 {
		env = append(env, "AIHUB_TIERS="+strings.Join(cfg.Tiers, ","))
	}
	return env, nil
}

// runSuite runs one suite as a go test process and collects its report.
// A failing go test process is a failed suite, not an error.
func runSuite(ctx context.Context, plan suitePlan, opts Options, env []string, dir string) (SuiteReport, error) {
	suite, sel := plan.Suite, plan.Selection
	artifactDir, err := filepath.Abs(filepath.Join(dir, "artifacts"))
	if err != nil {
		return SuiteReport{}, err
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return SuiteReport{}, fmt.Errorf("create results directory: %w", err)
	}

	logger := obs.Pkg("runner").With("suite", suite.Name)
	logger.Info("suite starting", "run", sel.Run, "skip", sel.Skip, "dir", dir)

	args := []string{"test", "-json", "-count=1", "-timeout", opts.Timeout.String()}
	args = append(args, sel.Args()...)
	args = append(args, opts.Package)
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Env = append(env, "AIHUB_ARTIFACT_DIR="+artifactDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if err := os.WriteFile(filepath.Join(dir, "events.jsonl"), stdout.Bytes(), 0o644); err != nil {
		return SuiteReport{}, fmt.Errorf("write events: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test.log"), stderr.Bytes(), 0o644); err != nil {
		return SuiteReport{}, fmt.Errorf("write log: %w", err)
	}

	rep, err := parseEvents(suite.Name, &stdout)
	if err != nil {
		return SuiteReport{}, fmt.Errorf("parse %s events: %w", suite.Name, err)
	}
	rep.Duration = elapsed

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr) && len(rep.Failed) > 0:
		// Test failures are already in the report.
	case ctx.Err() != nil:
		rep.Err = ctx.Err()
	default:
		rep.Err = fmt.Errorf("go test: %w", runErr)
	}
	logger.Info("suite finished",
		"passed", len(rep.Passed), "failed", len(rep.Failed), "skipped", len(rep.Skipped),
		"duration", elapsed)
	return rep, nil
}

func printSummary(out io.Writer, reports []SuiteReport) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintln(out, "SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 72))

	var passed, failed, skipped int
	for _, r := range reports {
		passed += len(r.Passed)
		failed += len(r.Failed)
		skipped += len(r.Skipped)
		mark := "ok  "
		switch {
		case !r.OK():
			mark = "FAIL"
		case r.Total() == 0:
			mark = "none"
		}
		fmt.Fprintf(out, "%s %-14s passed=%d failed=%d skipped=%d (%.2fs)\n",
			mark, r.Suite, len(r.Passed), len(r.Failed), len(r.Skipped), r.Duration.Seconds())
		if r.Err != nil {
			fmt.Fprintf(out, "     error: %v\n", r.Err)
		}
		for _, line := range r.Failures {
			fmt.Fprintf(out, "     %s\n", line)
		}
	}
	fmt.Fprintln(out, strings.Repeat("-", 72))
	fmt.Fprintf(out, "total: passed=%d failed=%d skipped=%d\n", passed, failed, skipped)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
