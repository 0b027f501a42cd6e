// Package e2e holds the AI Hub browser scenarios. Each suite is one file
// whose tests share a name prefix (TestSmoke_, TestAssistants_,
// TestAgentBuilder_, TestJobs_) so cmd/aihub-e2e can run them separately.
//
// Without AIHUB_BASE_URL, BASE_URL or a base_url in the config file,
// TestMain starts the fixture application on a loopback port and points
// every scenario at it, with seeding enabled.
package e2e

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/kuitang/aihub-e2e/internal/auth"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/harness"
	"github.com/kuitang/aihub-e2e/internal/hubapp"
	"github.com/kuitang/aihub-e2e/internal/obs"
	"github.com/kuitang/aihub-e2e/internal/ratelimit"
)

// env is shared by every scenario in the binary.
var env *harness.Env

func TestMain(m *testing.M) {
	flag.Parse()
	obs.Init()
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	cfg, err := config.Load("", config.Overrides{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if os.Getenv("AIHUB_BASE_URL") == "" && os.Getenv("BASE_URL") == "" && cfg.BaseURL == config.DefaultBaseURL {
		stop, baseURL, err := startFixture(ctx, cfg.Credentials)
		if err != nil {
			fmt.Fprintf(os.Stderr, "e2e: start fixture: %v\n", err)
			return 2
		}
		defer stop()
		cfg.BaseURL = baseURL
		cfg.Seed = true
	}

	env, err = harness.NewEnv(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 2
	}
	defer env.Close()

	return m.Run()
}

// startFixture serves the fixture application on a loopback port with the
// harness credentials as its admin account.
func startFixture(ctx context.Context, creds config.Credentials) (stop func(), baseURL string, err error) {
	fcfg := config.DefaultFixture()
	fcfg.Admin = creds
	fcfg.LoginRateLimit = ratelimit.Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Minute}
	fcfg.EnableTestAPI = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	baseURL = "http://" + ln.Addr().String()
	fcfg.ListenAddr = ln.Addr().String()
	fcfg.BaseURL = baseURL

	srv, err := hubapp.New(ctx, fcfg, hubapp.Options{Hasher: auth.FakeInsecureHasher{}})
	if err != nil {
		ln.Close()
		return nil, "", err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx, ln) }()

	stop = func() {
		cancel()
		if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "e2e: fixture: %v\n", err)
		}
		srv.Close()
	}
	return stop, baseURL, nil
}

// Tier sets used by the suites.
var (
	smoke     = []string{harness.TierSmoke}
	smokeAuth = []string{harness.TierSmoke, harness.TierAuth}
	authed    = []string{harness.TierAuth}
	slow      = []string{harness.TierSlow}
)

// skipShort skips scenarios that drive a browser under -short.
func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser scenario skipped in short mode")
	}
}

// scenario runs fn against the shared environment.
func scenario(t *testing.T, tiers []string, fn func(s *harness.Scenario) error) {
	t.Helper()
	skipShort(t)
	harness.Run(t, env, tiers, fn)
}

// failf is an assertion failure at the session's current address.
func failf(s *harness.Scenario, format string, args ...any) error {
	return errs.AtURL(errs.AssertionFailed, fmt.Sprintf(format, args...), s.Session.URL(), nil)
}
