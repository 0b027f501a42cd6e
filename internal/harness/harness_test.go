package harness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

const loginForm = `<!DOCTYPE html>
<html><head><title>AI Hub - Login</title></head><body>
%s
<form method="post" action="/login">
  <input name="username" id="username">
  <input type="password" name="password" id="password">
  <button type="submit" class="btn-login">Sign in</button>
</form>
</body></html>`

// newLoginApp serves a minimal sign-in flow: admin/admin gets a cookie and
// a redirect to the dashboard; anything else re-renders the form.
func newLoginApp(t *testing.T) *httptest.Server {
	t.Helper()

	signedIn := func(r *http.Request) bool {
		c, err := r.Cookie("session")
		return err == nil && c.Value == "ok"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		if signedIn(r) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		fmt.Fprintf(w, loginForm, "")
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") == "admin" && r.FormValue("password") == "admin" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		fmt.Fprintf(w, loginForm, `<div class="alert-danger">Invalid credentials</div>`)
	})
	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /signin-moved", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>AI Hub</title></head><body><p>Sign-in has moved.</p></body></html>`)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if !signedIn(r) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		fmt.Fprint(w, `<html><head><title>AI Hub</title></head><body><h1>Welcome back</h1><a href="/logout">Log out</a></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL, artifactDir string) config.Harness {
	cfg := config.Defaults()
	cfg.BaseURL = baseURL
	cfg.Driver = config.DriverStatic
	cfg.ArtifactDir = artifactDir
	cfg.NavigationTimeout = 5 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.QuietWindow = 20 * time.Millisecond
	return cfg
}

func newTestEnv(t *testing.T, cfg config.Harness) *Env {
	t.Helper()
	env, err := NewEnv(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func newStaticSession(t *testing.T, baseURL string) browser.Session {
	t.Helper()
	sess, err := browser.NewStaticDriver().NewSession(context.Background(), browser.SessionOptions{
		BaseURL:     baseURL,
		QuietWindow: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestLoginProvider_Idempotent(t *testing.T) {
	t.Parallel()

	srv := newLoginApp(t)
	sess := newStaticSession(t, srv.URL)
	ctx := context.Background()
	p := NewLoginProvider(config.NewCredentials("admin", "admin"), "/login", 2*time.Second)

	require.NoError(t, p.Acquire(ctx, sess))
	assert.NotContains(t, sess.URL(), "/login")
	assert.Equal(t, 1, p.Submissions())

	require.NoError(t, p.Acquire(ctx, sess))
	assert.Equal(t, 1, p.Submissions(), "second acquire must not resubmit")

	visible, err := sess.Locate(`h1:has-text("Welcome")`).IsVisible(ctx)
	require.NoError(t, err)
	assert.True(t, visible)
}

func TestLoginProvider_Failures(t *testing.T) {
	t.Parallel()

	srv := newLoginApp(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		creds     config.Credentials
		loginPath string
		code      errs.Code
		contains  string
	}{
		{"wrong secret", config.NewCredentials("admin", "nope"), "/login", errs.AuthenticationTimeout, "Invalid credentials"},
		{"no form", config.NewCredentials("admin", "admin"), "/signin-moved", errs.ElementNotFound, ""},
		{"empty credentials", config.NewCredentials("", "admin"), "/login", errs.InvalidArgument, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sess := newStaticSession(t, srv.URL)
			p := NewLoginProvider(tc.creds, tc.loginPath, 500*time.Millisecond)
			err := p.Acquire(ctx, sess)
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err), "error: %v", err)
			if tc.contains != "" {
				assert.Contains(t, err.Error(), tc.contains)
			}
			if tc.code == errs.AuthenticationTimeout {
				assert.Contains(t, errs.LastURL(err), "/login")
				assert.Equal(t, 1, p.Submissions())
			}
		})
	}
}

func TestRun_Outcomes(t *testing.T) {
	srv := newLoginApp(t)
	cfg := testConfig(srv.URL, t.TempDir())
	cfg.Tiers = []string{TierSmoke, TierAuth}
	env := newTestEnv(t, cfg)

	ran := false
	t.Run("unselected tier", func(t *testing.T) {
		Run(t, env, []string{TierSlow}, func(s *Scenario) error {
			ran = true
			return nil
		})
	})
	assert.False(t, ran)

	t.Run("signed in", func(t *testing.T) {
		Run(t, env, []string{TierAuth}, func(s *Scenario) error {
			if err := s.Login(); err != nil {
				return err
			}
			return s.Login()
		})
	})
	t.Run("missing data", func(t *testing.T) {
		Run(t, env, []string{TierSmoke}, func(s *Scenario) error {
			return &errs.Error{Code: errs.NoOptionsAvailable, Message: "no agents"}
		})
	})
	t.Run("script only", func(t *testing.T) {
		Run(t, env, []string{TierSmoke}, func(s *Scenario) error {
			return errs.New(errs.Unsupported, "click handler requires script")
		})
	})

	results := env.Results()
	require.Len(t, results, 3)
	assert.Equal(t, Passed, results[0].Outcome)
	assert.NotContains(t, results[0].URL, "/login")
	assert.Equal(t, Skipped, results[1].Outcome)
	assert.Equal(t, Skipped, results[2].Outcome)

	entries, err := os.ReadDir(cfg.ArtifactDir)
	if err == nil {
		assert.Empty(t, entries, "passing and skipped scenarios leave no artifacts")
	}
}

func TestRun_ConsoleAllowlist(t *testing.T) {
	srv := newLoginApp(t)
	env := newTestEnv(t, testConfig(srv.URL, t.TempDir()))

	Run(t, env, []string{TierSmoke}, func(s *Scenario) error {
		s.AssertNoConsoleErrors()
		return s.Session.Navigate(s.Context(), "/favicon.ico")
	})
}

// TestHelperFailingScenario is executed in a child process by
// TestRun_FailureReport.
func TestHelperFailingScenario(t *testing.T) {
	baseURL := os.Getenv("HARNESS_HELPER_BASE_URL")
	if baseURL == "" {
		t.Skip("helper process only")
	}
	env := newTestEnv(t, testConfig(baseURL, os.Getenv("HARNESS_HELPER_ARTIFACTS")))

	Run(t, env, []string{TierAuth}, func(s *Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		return s.Session.Locate("#does-not-exist").WaitVisible(s.Context(), 200*time.Millisecond)
	})
}

func TestRun_FailureReport(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child test process")
	}
	srv := newLoginApp(t)
	dir := t.TempDir()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperFailingScenario$", "-test.v")
	cmd.Env = append(os.Environ(), "HARNESS_HELPER_BASE_URL="+srv.URL, "HARNESS_HELPER_ARTIFACTS="+dir)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "helper should fail; output:\n%s", out)

	artifact := filepath.Join(dir, "TestHelperFailingScenario.html")
	assert.FileExists(t, artifact)
	report := string(out)
	assert.Contains(t, report, "scenario=TestHelperFailingScenario kind=element_not_found url="+srv.URL+"/")
	assert.Contains(t, report, "artifact="+artifact)
	assert.Contains(t, report, "[selector #does-not-exist]")

	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Welcome back")
}

// TestHelperSignedOutScenario is executed in a child process by
// TestRun_SignedOutScenarioFails.
func TestHelperSignedOutScenario(t *testing.T) {
	baseURL := os.Getenv("HARNESS_HELPER_BASE_URL")
	if baseURL == "" {
		t.Skip("helper process only")
	}
	env := newTestEnv(t, testConfig(baseURL, os.Getenv("HARNESS_HELPER_ARTIFACTS")))

	Run(t, env, []string{TierAuth}, func(s *Scenario) error {
		if err := s.Login(); err != nil {
			return err
		}
		return s.Session.Navigate(s.Context(), "/logout")
	})
}

func TestRun_SignedOutScenarioFails(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child test process")
	}
	srv := newLoginApp(t)
	dir := t.TempDir()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperSignedOutScenario$", "-test.v")
	cmd.Env = append(os.Environ(), "HARNESS_HELPER_BASE_URL="+srv.URL, "HARNESS_HELPER_ARTIFACTS="+dir)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "helper should fail; output:\n%s", out)

	report := string(out)
	assert.Contains(t, report, "scenario=TestHelperSignedOutScenario kind=assertion_failed url="+srv.URL+"/login")
	assert.Contains(t, report, "session was signed out during the scenario")
	assert.FileExists(t, filepath.Join(dir, "TestHelperSignedOutScenario.html"))
}

func TestFormatFailure(t *testing.T) {
	t.Parallel()

	err := &errs.Error{Code: errs.NavigationTimeout, Message: "page never settled", URL: "http://hub/jobs"}
	assert.Equal(t,
		"scenario=TestJobs kind=navigation_timeout url=http://hub/jobs artifact=shots/TestJobs.png: page never settled",
		FormatFailure("TestJobs", err, errs.LastURL(err), "shots/TestJobs.png"))

	assert.Equal(t,
		"scenario=TestX kind=assertion_failed url=- artifact=-: test assertion failed",
		FormatFailure("TestX", nil, "", ""))
}

func TestUniqueName(t *testing.T) {
	t.Parallel()

	a, b := UniqueName("Test Agent"), UniqueName("Test Agent")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "Test Agent "))
}
