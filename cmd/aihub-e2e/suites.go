package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Suite is one scenario file of tests/e2e, selected by test name prefix.
type Suite struct {
	Name   string
	Prefix string
}

// Suites lists every scenario suite in run order.
var Suites = []Suite{
	{Name: "smoke", Prefix: "TestSmoke"},
	{Name: "assistants", Prefix: "TestAssistants"},
	{Name: "agent_builder", Prefix: "TestAgentBuilder"},
	{Name: "jobs", Prefix: "TestJobs"},
}

// selectSuites returns the suites named in names, or all when names is
// empty.
func selectSuites(names []string) ([]Suite, error) {
	if len(names) == 0 {
		return Suites, nil
	}
	var out []Suite
	for _, name := range names {
		found := false
		for _, s := range Suites {
			if s.Name == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown suite %q (known: %s)", name, suiteNames())
		}
	}
	return out, nil
}

func suiteNames() string {
	names := make([]string, 0, len(Suites))
	for _, s := range Suites {
		names = append(names, s.Name)
	}
	return strings.Join(names, ", ")
}

// Selection is the pair of go test -run and -skip expressions for one
// suite.
type Selection struct {
	Run  string
	Skip string
}

// Args are the go test flags for the selection.
func (sel Selection) Args() []string {
	args := []string{"-run", sel.Run}
	if sel.Skip != "" {
		args = append(args, "-skip", sel.Skip)
	}
	return args
}

// Select narrows the suite to the scenarios matching filter. A filter that
// names whole tests (it starts with "Test" or is anchored with "^") is
// passed through, and the other suites' prefixes are skipped so a test
// never runs in a foreign suite. Any other filter matches within the suite
// after its prefix. ok is false when filter cannot match any test of the
// suite.
func (s Suite) Select(filter string) (sel Selection, ok bool, err error) {
	own := "^" + s.Prefix + "_"
	if filter == "" {
		return Selection{Run: own}, true, nil
	}
	if _, err := regexp.Compile(filter); err != nil {
		return Selection{}, false, fmt.Errorf("bad -run expression: %w", err)
	}
	if strings.Contains(filter, "/") {
		return Selection{}, false, fmt.Errorf("bad -run expression %q: scenarios have no subtests", filter)
	}

	bare := strings.TrimPrefix(filter, "^")
	if bare == filter && !strings.HasPrefix(filter, "Test") {
		return Selection{Run: own + ".*(?:" + filter + ")"}, true, nil
	}

	head, _ := regexp.MustCompile(bare).LiteralPrefix()
	name := s.Prefix + "_"
	if !strings.HasPrefix(head, name) && !strings.HasPrefix(name, head) {
		return Selection{}, false, nil
	}
	var others []string
	for _, o := range Suites {
		if o.Prefix != s.Prefix {
			others = append(others, regexp.QuoteMeta(o.Prefix+"_"))
		}
	}
	sel = Selection{Run: filter}
	if len(others) > 0 {
		sel.Skip = "^(?:" + strings.Join(others, "|") + ")"
	}
	return sel, true, nil
}

// testEvent is one line of go test -json output.
type testEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// SuiteReport aggregates the test events of one suite run.
type SuiteReport struct {
	Suite    string
	Passed   []string
	Failed   []string
	Skipped  []string
	Failures []string // harness report lines (scenario=... kind=...)
	Duration time.Duration
	Err      error // the go test process failed outside any test
}

// Total is the number of scenarios the suite reported on.
func (r SuiteReport) Total() int { return len(r.Passed) + len(r.Failed) + len(r.Skipped) }

// OK reports whether nothing failed.
func (r SuiteReport) OK() bool { return r.Err == nil && len(r.Failed) == 0 }

// parseEvents reads go test -json output. Lines that are not JSON events
// (build errors) are returned as failures so they reach the summary.
func parseEvents(suite string, r io.Reader) (SuiteReport, error) {
	rep := SuiteReport{Suite: suite}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var ev testEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Action == "" {
			if text := strings.TrimSpace(string(line)); text != "" {
				rep.Failures = append(rep.Failures, text)
			}
			continue
		}
		switch ev.Action {
		case "pass":
			if ev.Test != "" {
				rep.Passed = append(rep.Passed, ev.Test)
			}
		case "fail":
			if ev.Test != "" {
				rep.Failed = append(rep.Failed, ev.Test)
			}
		case "skip":
			if ev.Test != "" {
				rep.Skipped = append(rep.Skipped, ev.Test)
			}
		case "build-output":
			if text := strings.TrimSpace(ev.Output); text != "" {
				rep.Failures = append(rep.Failures, text)
			}
		case "output":
			if i := strings.Index(ev.Output, "scenario="); i >= 0 && strings.Contains(ev.Output, " kind=") {
				rep.Failures = append(rep.Failures, strings.TrimSpace(ev.Output[i:]))
			}
		}
	}
	sort.Strings(rep.Failed)
	return rep, sc.Err()
}
