// Package harness runs AI Hub scenarios: it gives each one a fresh browser
// session, signs it in on request, captures an artifact when it fails and
// reports the failure category.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kuitang/aihub-e2e/internal/artifacts"
	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
	"github.com/kuitang/aihub-e2e/internal/seed"
)

// Outcome of one scenario.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// ScenarioResult is produced once per scenario for the reporting layer.
type ScenarioResult struct {
	Name     string
	Tiers    []string
	Outcome  Outcome
	Kind     errs.Code // failure category; empty unless Failed
	URL      string    // last address the session observed
	Artifact string
	Duration time.Duration
}

// Env is shared by every scenario in one test binary.
type Env struct {
	Config    config.Harness
	Driver    browser.Driver
	Artifacts *artifacts.Collector
	Seeder    *seed.Client // nil unless seeding is enabled

	driverErr error
	logger    *slog.Logger

	mu      sync.Mutex
	results []ScenarioResult
}

// NewEnv starts the configured driver and artifact store. A browser that
// is not installed does not fail NewEnv; scenarios skip instead.
func NewEnv(ctx context.Context, cfg config.Harness) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	collector, err := artifacts.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	env := &Env{
		Config:    cfg,
		Artifacts: collector,
		logger:    obs.Pkg("harness"),
	}
	if cfg.Seed {
		env.Seeder = seed.New(cfg.BaseURL, nil)
	}

	driver, err := browser.Open(ctx, cfg)
	switch {
	case err == nil:
		env.Driver = driver
	case errs.CodeOf(err) == errs.Unavailable:
		env.driverErr = err
		env.logger.Warn("browser driver unavailable; scenarios will skip", "driver", cfg.Driver, "error", err)
	default:
		return nil, err
	}
	return env, nil
}

// DriverErr reports why the driver could not start, if it did not.
func (e *Env) DriverErr() error { return e.driverErr }

func (e *Env) record(r ScenarioResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
}

// Results returns the outcomes recorded so far.
func (e *Env) Results() []ScenarioResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ScenarioResult(nil), e.results...)
}

// Close stops the driver and logs a run summary.
func (e *Env) Close() error {
	counts := map[Outcome]int{}
	for _, r := range e.Results() {
		counts[r.Outcome]++
	}
	e.logger.Info("scenario run finished",
		"passed", counts[Passed], "failed", counts[Failed], "skipped", counts[Skipped])

	if e.Driver == nil {
		return nil
	}
	return e.Driver.Close()
}
