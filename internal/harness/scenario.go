package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
	"github.com/kuitang/aihub-e2e/internal/pages"
)

// Scenario tiers.
const (
	TierSmoke = "smoke" // fast checks of the main surfaces
	TierAuth  = "auth"  // requires signing in
	TierSlow  = "slow"  // waits on backend work such as chat replies
)

// Scenario is the per-test handle given to a scenario body. It owns its
// session exclusively.
type Scenario struct {
	T       *testing.T
	Env     *Env
	Session browser.Session

	ctx           context.Context
	tiers         []string
	login         *LoginProvider
	checkConsole  bool
	authenticated bool
	err           error
	started       time.Time
}

// Run executes fn as one scenario of t. It skips when none of tiers is
// selected or when the browser is unavailable. Errors returned by fn fail
// the test with a report line, except no_options_available (and
// unsupported on a script-free session), which skip it.
func Run(t *testing.T, env *Env, tiers []string, fn func(s *Scenario) error) {
	t.Helper()

	if !env.Config.TierSelected(tiers...) {
		t.Skipf("tiers %v not selected (running %v)", tiers, env.Config.Tiers)
	}
	if env.driverErr != nil {
		t.Skipf("browser driver %s unavailable: %v", env.Config.Driver, env.driverErr)
	}

	ctx := obs.WithScenario(context.Background(), t.Name(), strings.Join(tiers, ","), env.Driver.Name())
	sess, err := env.Driver.NewSession(ctx, browser.OptionsFromConfig(env.Config))
	if err != nil {
		t.Fatalf("scenario=%s kind=%s: open session: %v", t.Name(), errs.CodeOf(err), err)
	}

	s := &Scenario{
		T:       t,
		Env:     env,
		Session: sess,
		ctx:     ctx,
		tiers:   tiers,
		login:   NewLoginProvider(env.Config.Credentials, env.Config.LoginPath, env.Config.OperationTimeout),
		started: time.Now(),
	}
	t.Cleanup(s.finish)

	s.settle(fn(s))
}

// settle turns the body's error into the test outcome.
func (s *Scenario) settle(err error) {
	t := s.T
	t.Helper()
	switch {
	case err == nil:
	case errs.IsSkip(err):
		t.Skipf("skipped, missing fixture data: %v", err)
	case errs.Is(err, errs.Unsupported) && !s.Session.SupportsScript():
		t.Skipf("skipped, needs page scripts (driver %s): %v", s.Env.Driver.Name(), err)
	default:
		s.err = err
	}
}

// finish runs at test cleanup: console check, auth invariant, artifact,
// report line, then the session is closed.
func (s *Scenario) finish() {
	t := s.T
	logger := obs.From(s.ctx).With("pkg", "harness")
	defer func() {
		if err := s.Session.Close(); err != nil {
			logger.Warn("close session", "error", err)
		}
	}()

	messages := s.Session.Console().Drain()
	s.Session.Console().Close()
	if consoleErrs := browser.FilterErrors(messages, s.Env.Config.ConsoleAllowlist); len(consoleErrs) > 0 {
		logger.Info("console errors observed", "count", len(consoleErrs))
		if s.checkConsole && s.err == nil && !t.Skipped() {
			s.err = consoleError(consoleErrs, s.Session.URL())
		}
	}

	if s.authenticated && s.err == nil && !t.Failed() && !t.Skipped() &&
		strings.Contains(s.Session.URL(), s.Env.Config.LoginPath) {
		s.err = errs.AtURL(errs.AssertionFailed, "session was signed out during the scenario", s.Session.URL(), nil)
	}

	result := ScenarioResult{
		Name:     t.Name(),
		Tiers:    s.tiers,
		Outcome:  Passed,
		URL:      s.Session.URL(),
		Duration: time.Since(s.started),
	}
	failed := s.err != nil || t.Failed()
	switch {
	case failed:
		art := s.Env.Artifacts.Guard(s.ctx, t.Name(), s.Session, func() bool { return true })
		result.Outcome = Failed
		result.Kind = errs.AssertionFailed
		result.Artifact = art.Path
		if s.err != nil {
			result.Kind = errs.CodeOf(s.err)
			if u := errs.LastURL(s.err); u != "" {
				result.URL = u
			}
			t.Error(FormatFailure(t.Name(), s.err, result.URL, art.Path))
		} else {
			t.Log(FormatFailure(t.Name(), nil, result.URL, art.Path))
		}
	case t.Skipped():
		result.Outcome = Skipped
	}
	logger.Info("scenario finished", "outcome", result.Outcome, "kind", result.Kind, "duration", result.Duration)
	s.Env.record(result)
}

func consoleError(msgs []browser.ConsoleMessage, url string) error {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s (at %s)", m.Text, m.URL))
	}
	return errs.AtURL(errs.AssertionFailed,
		fmt.Sprintf("%d unexpected console error(s): %s", len(msgs), strings.Join(lines, "; ")), url, nil)
}

// FormatFailure renders the report line for a failed scenario. A nil err
// means the test failed through t.Error or t.Fatal directly.
func FormatFailure(name string, err error, url, artifact string) string {
	kind := errs.AssertionFailed
	detail := "test assertion failed"
	if err != nil {
		kind = errs.CodeOf(err)
		detail = err.Error()
		if sel := errs.SelectorOf(err); sel != "" {
			detail += fmt.Sprintf(" [selector %s]", sel)
		}
	}
	if url == "" {
		url = "-"
	}
	if artifact == "" {
		artifact = "-"
	}
	return fmt.Sprintf("scenario=%s kind=%s url=%s artifact=%s: %s", name, kind, url, artifact, detail)
}

// UniqueName returns a record name that stays unique across parallel runs.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s %d %s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// Context carries the scenario's logging correlation.
func (s *Scenario) Context() context.Context { return s.ctx }

// Login signs the session in. Calling it again is harmless.
func (s *Scenario) Login() error {
	if err := s.login.Acquire(s.ctx, s.Session); err != nil {
		return err
	}
	s.authenticated = true
	return nil
}

// LoginProvider exposes the scenario's provider, mostly for its
// submission count.
func (s *Scenario) LoginProvider() *LoginProvider { return s.login }

// AssertNoConsoleErrors makes teardown fail the scenario on console errors
// that the allowlist does not cover.
func (s *Scenario) AssertNoConsoleErrors() { s.checkConsole = true }

// Logf logs through the test and the structured logger.
func (s *Scenario) Logf(format string, args ...any) {
	s.T.Helper()
	s.T.Logf(format, args...)
	obs.From(s.ctx).Debug(fmt.Sprintf(format, args...), "pkg", "harness")
}

// EnsureAgents seeds at least n agents when seeding is enabled.
func (s *Scenario) EnsureAgents(n int) error {
	if s.Env.Seeder == nil {
		return nil
	}
	_, err := s.Env.Seeder.EnsureAgents(s.ctx, n)
	return err
}

// EnsureJobs seeds at least n jobs when seeding is enabled.
func (s *Scenario) EnsureJobs(n int) error {
	if s.Env.Seeder == nil {
		return nil
	}
	_, err := s.Env.Seeder.EnsureJobs(s.ctx, n)
	return err
}

func (s *Scenario) LoginPage() (*pages.LoginPage, error) {
	p, err := pages.NewLoginPage(s.Session, s.Env.Config.BaseURL, s.Env.Config.LoginPath)
	if err != nil {
		return nil, err
	}
	p.Timeout = s.Env.Config.OperationTimeout
	return p, nil
}

func (s *Scenario) Dashboard() (*pages.DashboardPage, error) {
	p, err := pages.NewDashboardPage(s.Session, s.Env.Config.BaseURL)
	if err != nil {
		return nil, err
	}
	p.Timeout = s.Env.Config.OperationTimeout
	return p, nil
}

func (s *Scenario) Assistants() (*pages.AssistantsPage, error) {
	p, err := pages.NewAssistantsPage(s.Session, s.Env.Config.BaseURL)
	if err != nil {
		return nil, err
	}
	p.Timeout = s.Env.Config.OperationTimeout
	return p, nil
}

func (s *Scenario) AgentBuilder() (*pages.AgentBuilderPage, error) {
	p, err := pages.NewAgentBuilderPage(s.Session, s.Env.Config.BaseURL)
	if err != nil {
		return nil, err
	}
	p.Timeout = s.Env.Config.OperationTimeout
	return p, nil
}

func (s *Scenario) Jobs() (*pages.JobsPage, error) {
	p, err := pages.NewJobsPage(s.Session, s.Env.Config.BaseURL)
	if err != nil {
		return nil, err
	}
	p.Timeout = s.Env.Config.OperationTimeout
	return p, nil
}
