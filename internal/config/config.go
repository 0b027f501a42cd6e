// Package config builds the immutable configuration values used by the AI Hub
// end-to-end harness and by the fixture application.
//
// Values are layered: compiled defaults, then an optional TOML file, then
// environment variables, then explicit command-line overrides. Deep call paths
// never read the environment; they receive a Harness or Fixture value.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kuitang/aihub-e2e/internal/ratelimit"
)

// Browser drivers understood by the harness.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
	DriverStatic     = "static"
)

// Artifact stores.
const (
	StoreLocal = "local"
	StoreS3    = "s3"
)

// Development defaults.
const (
	DefaultBaseURL           = "http://10.0.0.7:5001"
	DefaultIdentifier        = "admin"
	DefaultSecret            = "admin"
	DefaultLoginPath         = "/login"
	DefaultNavigationTimeout = 15 * time.Second
	DefaultOperationTimeout  = 30 * time.Second
	DefaultQuietWindow       = 500 * time.Millisecond
	DefaultArtifactDir       = "tests/screenshots"
)

// DefaultViewport matches a common laptop display.
var DefaultViewport = Viewport{Width: 1280, Height: 800}

// KnownTiers lists the scenario tiers a run may select.
var KnownTiers = []string{"smoke", "auth", "slow"}

// Credentials is the immutable test-account pair.
type Credentials struct {
	identifier string
	secret     string
}

// NewCredentials returns a credentials value.
func NewCredentials(identifier, secret string) Credentials {
	return Credentials{identifier: identifier, secret: secret}
}

func (c Credentials) Identifier() string { return c.identifier }
func (c Credentials) Secret() string     { return c.secret }

// IsZero reports whether either half is missing.
func (c Credentials) IsZero() bool {
	return c.identifier == "" || c.secret == ""
}

// String never prints the secret.
func (c Credentials) String() string {
	return c.identifier + ":[REDACTED]"
}

// Viewport is the browser window size.
type Viewport struct {
	Width  int
	Height int
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// S3 holds artifact bucket settings. The AWS_ variable names match what
// S3-compatible hosts export.
type S3 struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
}

// Harness is the configuration of one harness run.
type Harness struct {
	BaseURL     string
	Credentials Credentials
	LoginPath   string

	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
	QuietWindow       time.Duration

	Viewport          Viewport
	IgnoreHTTPSErrors bool
	Headless          bool
	SlowMo            time.Duration
	Driver            string
	BrowserExecutable string

	ArtifactDir   string
	ArtifactStore string
	S3            S3

	Tiers            []string
	Seed             bool
	ConsoleAllowlist []string

	envErrors []string // environment values that did not parse
}

// Defaults returns the compiled-in development configuration.
func Defaults() Harness {
	return Harness{
		BaseURL:           DefaultBaseURL,
		Credentials:       NewCredentials(DefaultIdentifier, DefaultSecret),
		LoginPath:         DefaultLoginPath,
		NavigationTimeout: DefaultNavigationTimeout,
		OperationTimeout:  DefaultOperationTimeout,
		QuietWindow:       DefaultQuietWindow,
		Viewport:          DefaultViewport,
		IgnoreHTTPSErrors: true,
		Headless:          true,
		Driver:            DriverPlaywright,
		ArtifactDir:       DefaultArtifactDir,
		ArtifactStore:     StoreLocal,
		S3:                S3{Region: "auto"},
		ConsoleAllowlist:  []string{"favicon"},
	}
}

// fileHarness mirrors Harness for the TOML layer. Durations are strings so the
// file reads naturally ("15s").
type fileHarness struct {
	BaseURL           string   `toml:"base_url"`
	Identifier        string   `toml:"identifier"`
	Secret            string   `toml:"secret"`
	LoginPath         string   `toml:"login_path"`
	NavigationTimeout string   `toml:"navigation_timeout"`
	OperationTimeout  string   `toml:"operation_timeout"`
	QuietWindow       string   `toml:"quiet_window"`
	Viewport          string   `toml:"viewport"`
	IgnoreHTTPSErrors *bool    `toml:"ignore_https_errors"`
	Headless          *bool    `toml:"headless"`
	SlowMo            string   `toml:"slow_mo"`
	Driver            string   `toml:"driver"`
	BrowserExecutable string   `toml:"browser_executable"`
	ArtifactDir       string   `toml:"artifact_dir"`
	ArtifactStore     string   `toml:"artifact_store"`
	Tiers             []string `toml:"tiers"`
	Seed              *bool    `toml:"seed"`
	ConsoleAllowlist  []string `toml:"console_allowlist"`
	S3                struct {
		Endpoint string `toml:"endpoint"`
		Region   string `toml:"region"`
		Bucket   string `toml:"bucket"`
		Prefix   string `toml:"prefix"`
	} `toml:"s3"`
}

type fileConfig struct {
	Harness fileHarness `toml:"harness"`
}

// Overrides are explicit command-line values; they win over every other layer.
type Overrides struct {
	BaseURL string
	Driver  string
	Headed  bool
	Tiers   []string
}

// Flags holds the values registered by BindFlags.
type Flags struct {
	ConfigPath string
	BaseURL    string
	Driver     string
	Headed     bool
}

// BindFlags registers the shared harness flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "TOML configuration file (default $AIHUB_CONFIG)")
	fs.StringVar(&f.BaseURL, "base-url", "", "Base address of the application under test")
	fs.StringVar(&f.Driver, "driver", "", "Browser driver: playwright, chromedp or static")
	fs.BoolVar(&f.Headed, "headed", false, "Run with a visible browser window")
	return f
}

// Overrides converts parsed flags to Overrides.
func (f *Flags) Overrides() Overrides {
	return Overrides{BaseURL: f.BaseURL, Driver: f.Driver, Headed: f.Headed}
}

// Load builds a validated Harness from defaults, the TOML file at path (or
// $AIHUB_CONFIG when path is empty), the environment and overrides.
func Load(path string, overrides Overrides) (Harness, error) {
	cfg := Defaults()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("AIHUB_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Harness{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, data); err != nil {
			return Harness{}, err
		}
	}

	applyEnv(&cfg)
	applyOverrides(&cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return Harness{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Harness, data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	f := fc.Harness

	var problems []string
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.LoginPath, f.LoginPath)
	setString(&cfg.Driver, f.Driver)
	setString(&cfg.BrowserExecutable, f.BrowserExecutable)
	setString(&cfg.ArtifactDir, f.ArtifactDir)
	setString(&cfg.ArtifactStore, f.ArtifactStore)
	setString(&cfg.S3.Endpoint, f.S3.Endpoint)
	setString(&cfg.S3.Region, f.S3.Region)
	setString(&cfg.S3.Bucket, f.S3.Bucket)
	setString(&cfg.S3.Prefix, f.S3.Prefix)
	if f.Identifier != "" || f.Secret != "" {
		id, secret := cfg.Credentials.Identifier(), cfg.Credentials.Secret()
		setString(&id, f.Identifier)
		setString(&secret, f.Secret)
		cfg.Credentials = NewCredentials(id, secret)
	}
	for _, d := range []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"navigation_timeout", f.NavigationTimeout, &cfg.NavigationTimeout},
		{"operation_timeout", f.OperationTimeout, &cfg.OperationTimeout},
		{"quiet_window", f.QuietWindow, &cfg.QuietWindow},
		{"slow_mo", f.SlowMo, &cfg.SlowMo},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid duration %q", d.name, d.raw))
			continue
		}
		*d.field = parsed
	}
	if f.Viewport != "" {
		vp, err := ParseViewport(f.Viewport)
		if err != nil {
			problems = append(problems, "viewport: "+err.Error())
		} else {
			cfg.Viewport = vp
		}
	}
	if f.IgnoreHTTPSErrors != nil {
		cfg.IgnoreHTTPSErrors = *f.IgnoreHTTPSErrors
	}
	if f.Headless != nil {
		cfg.Headless = *f.Headless
	}
	if f.Seed != nil {
		cfg.Seed = *f.Seed
	}
	if len(f.Tiers) > 0 {
		cfg.Tiers = normalizeList(f.Tiers)
	}
	if len(f.ConsoleAllowlist) > 0 {
		cfg.ConsoleAllowlist = normalizeList(f.ConsoleAllowlist)
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

func applyEnv(cfg *Harness) {
	var env envReader

	cfg.BaseURL = getEnvOrDefault("AIHUB_BASE_URL", getEnvOrDefault("BASE_URL", cfg.BaseURL))
	cfg.Credentials = NewCredentials(
		getEnvOrDefault("TEST_USER_EMAIL", cfg.Credentials.Identifier()),
		getEnvOrDefault("TEST_USER_PASSWORD", cfg.Credentials.Secret()),
	)
	cfg.LoginPath = getEnvOrDefault("AIHUB_LOGIN_PATH", cfg.LoginPath)
	cfg.NavigationTimeout = env.durationOr("AIHUB_NAVIGATION_TIMEOUT", cfg.NavigationTimeout)
	cfg.OperationTimeout = env.durationOr("AIHUB_TIMEOUT", cfg.OperationTimeout)
	cfg.QuietWindow = env.durationOr("AIHUB_QUIET_WINDOW", cfg.QuietWindow)
	cfg.Viewport = env.viewportOr("AIHUB_VIEWPORT", cfg.Viewport)
	cfg.IgnoreHTTPSErrors = env.boolOr("AIHUB_IGNORE_HTTPS_ERRORS", cfg.IgnoreHTTPSErrors)
	cfg.Headless = env.boolOr("HEADLESS", cfg.Headless)
	cfg.SlowMo = env.durationOr("AIHUB_SLOWMO", cfg.SlowMo)
	cfg.Driver = strings.ToLower(getEnvOrDefault("AIHUB_DRIVER", cfg.Driver))
	cfg.BrowserExecutable = getEnvOrDefault("PLAYWRIGHT_CHROMIUM_EXECUTABLE_PATH", cfg.BrowserExecutable)
	cfg.ArtifactDir = getEnvOrDefault("AIHUB_ARTIFACT_DIR", cfg.ArtifactDir)
	cfg.ArtifactStore = strings.ToLower(getEnvOrDefault("AIHUB_ARTIFACT_STORE", cfg.ArtifactStore))
	cfg.S3.Endpoint = getEnvOrDefault("AWS_ENDPOINT_URL_S3", cfg.S3.Endpoint)
	cfg.S3.Region = getEnvOrDefault("AWS_REGION", cfg.S3.Region)
	cfg.S3.AccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", cfg.S3.SecretAccessKey)
	cfg.S3.Bucket = getEnvOrDefault("AIHUB_ARTIFACT_BUCKET", cfg.S3.Bucket)
	if raw := os.Getenv("AIHUB_TIERS"); raw != "" {
		cfg.Tiers = normalizeList(strings.Split(raw, ","))
	}
	cfg.Seed = env.boolOr("AIHUB_SEED", cfg.Seed)
	if raw := os.Getenv("AIHUB_CONSOLE_ALLOW"); raw != "" {
		cfg.ConsoleAllowlist = normalizeList(strings.Split(raw, ","))
	}
	cfg.envErrors = env.problems
}

func applyOverrides(cfg *Harness, o Overrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Driver != "" {
		cfg.Driver = strings.ToLower(o.Driver)
	}
	if o.Headed {
		cfg.Headless = false
	}
	if len(o.Tiers) > 0 {
		cfg.Tiers = normalizeList(o.Tiers)
	}
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks that the harness configuration is usable.
func (c Harness) Validate() error {
	errs := append([]string(nil), c.envErrors...)

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("base URL %q must be an absolute http(s) address", c.BaseURL))
	}
	if c.Credentials.IsZero() {
		errs = append(errs, "TEST_USER_EMAIL and TEST_USER_PASSWORD must both be non-empty")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, "login path must start with /")
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, "AIHUB_NAVIGATION_TIMEOUT must be positive")
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, "AIHUB_TIMEOUT must be positive")
	}
	if c.QuietWindow < 0 || (c.NavigationTimeout > 0 && c.QuietWindow >= c.NavigationTimeout) {
		errs = append(errs, "AIHUB_QUIET_WINDOW must be non-negative and shorter than the navigation timeout")
	}
	if c.Viewport.Width < 200 || c.Viewport.Height < 200 || c.Viewport.Width > 7680 || c.Viewport.Height > 4320 {
		errs = append(errs, fmt.Sprintf("viewport %s out of range", c.Viewport))
	}
	switch c.Driver {
	case DriverPlaywright, DriverChromedp, DriverStatic:
	default:
		errs = append(errs, fmt.Sprintf("unknown driver %q (want playwright, chromedp or static)", c.Driver))
	}
	for _, tier := range c.Tiers {
		if !isKnownTier(tier) {
			errs = append(errs, fmt.Sprintf("unknown tier %q (want one of %s)", tier, strings.Join(KnownTiers, ", ")))
		}
	}
	switch c.ArtifactStore {
	case StoreLocal:
		if c.ArtifactDir == "" {
			errs = append(errs, "AIHUB_ARTIFACT_DIR must be set for the local artifact store")
		}
	case StoreS3:
		if c.S3.Bucket == "" {
			errs = append(errs, "AIHUB_ARTIFACT_BUCKET is required for the s3 artifact store")
		}
		if c.S3.Region == "" {
			errs = append(errs, "AWS_REGION is required for the s3 artifact store")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown artifact store %q (want local or s3)", c.ArtifactStore))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// TierSelected reports whether a scenario tagged with any of tiers should run.
// An empty selection runs everything.
func (c Harness) TierSelected(tiers ...string) bool {
	if len(c.Tiers) == 0 {
		return true
	}
	for _, want := range c.Tiers {
		for _, have := range tiers {
			if want == have {
				return true
			}
		}
	}
	return false
}

// URL joins path onto the base address.
func (c Harness) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// PrintSummary prints a human-readable, redacted summary to stderr.
func (c Harness) PrintSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "aihub-e2e harness")
	fmt.Fprintf(os.Stderr, "  Target:   %s (login %s)\n", c.BaseURL, c.LoginPath)
	fmt.Fprintf(os.Stderr, "  Account:  %s\n", c.Credentials)
	fmt.Fprintf(os.Stderr, "  Driver:   %s (headless=%t, viewport %s)\n", c.Driver, c.Headless, c.Viewport)
	fmt.Fprintf(os.Stderr, "  Timeouts: navigation %s, operation %s, quiet %s\n", c.NavigationTimeout, c.OperationTimeout, c.QuietWindow)
	if c.ArtifactStore == StoreS3 {
		fmt.Fprintf(os.Stderr, "  Artifacts: s3://%s/%s\n", c.S3.Bucket, c.S3.Prefix)
	} else {
		fmt.Fprintf(os.Stderr, "  Artifacts: %s\n", c.ArtifactDir)
	}
	if len(c.Tiers) > 0 {
		fmt.Fprintf(os.Stderr, "  Tiers:    %s\n", strings.Join(c.Tiers, ", "))
	}
	fmt.Fprintln(os.Stderr, "")
}

// MustLoad loads configuration and panics if validation fails.
func MustLoad(path string, overrides Overrides) Harness {
	cfg, err := Load(path, overrides)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(raw string) (Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("viewport %q must look like 1280x800", raw)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Viewport{}, fmt.Errorf("viewport width %q: %w", w, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Viewport{}, fmt.Errorf("viewport height %q: %w", h, err)
	}
	return Viewport{Width: width, Height: height}, nil
}

func isKnownTier(tier string) bool {
	for _, known := range KnownTiers {
		if tier == known {
			return true
		}
	}
	return false
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// envReader reads typed environment variables. A value that does not parse
// keeps the default and is recorded in problems, which Validate reports.
type envReader struct {
	problems []string
}

func (r *envReader) invalid(key, value string, err error) {
	r.problems = append(r.problems, fmt.Sprintf("%s=%q: %v", key, value, err))
}

func (r *envReader) intOr(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, errors.New("not an integer"))
		return defaultValue
	}
	return parsed
}

func (r *envReader) floatOr(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid(key, value, errors.New("not a number"))
		return defaultValue
	}
	return parsed
}

func (r *envReader) boolOr(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid(key, value, errors.New("not a boolean"))
		return defaultValue
	}
	return parsed
}

func (r *envReader) durationOr(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(key, value, errors.New("not a duration such as 30s"))
		return defaultValue
	}
	return parsed
}

func (r *envReader) viewportOr(key string, defaultValue Viewport) Viewport {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	vp, err := ParseViewport(value)
	if err != nil {
		r.invalid(key, value, err)
		return defaultValue
	}
	return vp
}
