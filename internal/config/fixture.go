package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/ratelimit"
)

// MemoryDatabase selects a private in-memory fixture database.
const MemoryDatabase = ":memory:"

// Fixture configures the in-repo AI Hub fixture application.
type Fixture struct {
	ListenAddr string
	BaseURL    string

	DatabasePath string // ":memory:" or a file path
	DatabaseKey  string // 64 hex characters, required for file databases

	Admin           Credentials
	SessionDuration time.Duration

	OpenAIAPIKey string
	OpenAIModel  string

	LoginRateLimit ratelimit.Config

	EnableTestAPI bool // expose /api/test/reset and /api/test/seed
	SeedDemoData  bool // create a few agents and jobs at startup

	envErrors []string
}

// DefaultFixture returns a fixture configuration that needs no environment.
func DefaultFixture() Fixture {
	return Fixture{
		ListenAddr:      ":5001",
		DatabasePath:    MemoryDatabase,
		Admin:           NewCredentials(DefaultIdentifier, DefaultSecret),
		SessionDuration: 24 * time.Hour,
		OpenAIModel:     "gpt-5-mini",
		LoginRateLimit:  ratelimit.DefaultConfig,
		EnableTestAPI:   true,
	}
}

// LoadFixture loads fixture configuration from environment variables.
// addr overrides AIHUB_FIXTURE_ADDR when non-empty.
func LoadFixture(addr string) (Fixture, error) {
	cfg := DefaultFixture()
	var env envReader

	cfg.ListenAddr = getEnvOrDefault("AIHUB_FIXTURE_ADDR", cfg.ListenAddr)
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.BaseURL = strings.TrimSpace(os.Getenv("AIHUB_FIXTURE_BASE_URL"))
	if cfg.BaseURL == "" {
		host := cfg.ListenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		cfg.BaseURL = "http://" + host
	}

	cfg.DatabasePath = getEnvOrDefault("AIHUB_FIXTURE_DB", cfg.DatabasePath)
	cfg.DatabaseKey = strings.TrimSpace(os.Getenv("AIHUB_FIXTURE_DB_KEY"))
	cfg.Admin = NewCredentials(
		getEnvOrDefault("AIHUB_ADMIN_USER", cfg.Admin.Identifier()),
		getEnvOrDefault("AIHUB_ADMIN_PASSWORD", cfg.Admin.Secret()),
	)
	cfg.SessionDuration = env.durationOr("AIHUB_SESSION_DURATION", cfg.SessionDuration)

	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAIModel = getEnvOrDefault("AIHUB_OPENAI_MODEL", cfg.OpenAIModel)

	cfg.LoginRateLimit = ratelimit.Config{
		RPS:             env.floatOr("AIHUB_LOGIN_RPS", cfg.LoginRateLimit.RPS),
		Burst:           env.intOr("AIHUB_LOGIN_BURST", cfg.LoginRateLimit.Burst),
		CleanupInterval: env.durationOr("AIHUB_LOGIN_LIMIT_CLEANUP", cfg.LoginRateLimit.CleanupInterval),
	}

	cfg.EnableTestAPI = env.boolOr("AIHUB_FIXTURE_TEST_API", cfg.EnableTestAPI)
	cfg.SeedDemoData = env.boolOr("AIHUB_FIXTURE_SEED", cfg.SeedDemoData)
	cfg.envErrors = env.problems

	if err := cfg.Validate(); err != nil {
		return Fixture{}, err
	}
	return cfg, nil
}

// Validate checks the fixture configuration.
func (c Fixture) Validate() error {
	errs := append([]string(nil), c.envErrors...)

	if c.ListenAddr == "" {
		errs = append(errs, "AIHUB_FIXTURE_ADDR must not be empty")
	}
	if c.Admin.IsZero() {
		errs = append(errs, "AIHUB_ADMIN_USER and AIHUB_ADMIN_PASSWORD must both be non-empty")
	}
	if c.SessionDuration <= 0 {
		errs = append(errs, "AIHUB_SESSION_DURATION must be positive")
	}
	if c.DatabasePath != MemoryDatabase {
		if c.DatabaseKey == "" {
			errs = append(errs, "AIHUB_FIXTURE_DB_KEY is required for file databases (generate with: openssl rand -hex 32)")
		} else if b, err := hex.DecodeString(c.DatabaseKey); err != nil || len(b) != 32 {
			errs = append(errs, "AIHUB_FIXTURE_DB_KEY must be 64 hex characters (32 bytes)")
		}
	}
	if c.LoginRateLimit.RPS <= 0 {
		errs = append(errs, "AIHUB_LOGIN_RPS must be positive")
	}
	if c.LoginRateLimit.Burst <= 0 {
		errs = append(errs, "AIHUB_LOGIN_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PrintSummary prints a redacted startup summary to stderr.
func (c Fixture) PrintSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "aihub fixture starting...")
	fmt.Fprintf(os.Stderr, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(os.Stderr, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintf(os.Stderr, "  Admin:    %s\n", c.Admin)
	if c.DatabasePath == MemoryDatabase {
		fmt.Fprintln(os.Stderr, "  Database: in-memory")
	} else {
		fmt.Fprintf(os.Stderr, "  Database: %s (encrypted)\n", c.DatabasePath)
	}
	if c.OpenAIAPIKey != "" {
		fmt.Fprintf(os.Stderr, "  Chat:     OpenAI (%s)\n", c.OpenAIModel)
	} else {
		fmt.Fprintln(os.Stderr, "  Chat:     echo responder")
	}
	fmt.Fprintf(os.Stderr, "  Test API: %t\n", c.EnableTestAPI)
	fmt.Fprintln(os.Stderr, "")
}
