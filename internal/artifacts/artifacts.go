// Package artifacts captures diagnostic snapshots of failed scenarios and
// stores them under names derived from the scenario identifier.
package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// captureTimeout bounds one snapshot so a wedged browser cannot hang teardown.
const captureTimeout = 10 * time.Second

// Store persists one capture under name and returns where it went.
type Store interface {
	Put(ctx context.Context, name string, capture browser.Capture) (string, error)
}

// Result describes what the collector did for one scenario.
type Result struct {
	Captured bool
	Path     string
	Err      error // capture or store failure; logged, never propagated
}

// Collector snapshots sessions of failed scenarios.
type Collector struct {
	store  Store
	logger *slog.Logger
}

// NewCollector returns a collector writing to store.
func NewCollector(store Store) *Collector {
	return &Collector{store: store, logger: obs.Pkg("artifacts")}
}

// NewFromConfig builds the store selected by cfg.
func NewFromConfig(ctx context.Context, cfg config.Harness) (*Collector, error) {
	switch cfg.ArtifactStore {
	case config.StoreS3:
		store, err := NewS3Store(ctx, S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		return NewCollector(store), nil
	default:
		return NewCollector(NewLocalStore(cfg.ArtifactDir)), nil
	}
}

// Guard is called when a scenario finishes. It does nothing when failed
// reports false; otherwise it captures sess and stores the snapshot under
// the sanitized scenario name. Guard never panics and never returns an
// error: problems are logged and reported in Result.Err.
func (c *Collector) Guard(ctx context.Context, name string, sess browser.Session, failed func() bool) (res Result) {
	if failed == nil || !failed() {
		return Result{}
	}
	return c.Capture(ctx, name, sess)
}

// Capture snapshots sess unconditionally.
func (c *Collector) Capture(ctx context.Context, name string, sess browser.Session) (res Result) {
	logger := obs.From(ctx).With("pkg", "artifacts", "artifact", SanitizeName(name))
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("artifact capture panicked: %v", r)}
			logger.Error("artifact capture panicked", "panic", r)
		}
	}()

	if sess == nil {
		res.Err = fmt.Errorf("no session to capture")
		logger.Warn("artifact capture skipped", "error", res.Err)
		return res
	}

	// The scenario context may already be cancelled; the snapshot still runs.
	capCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	capture, err := sess.Screenshot(capCtx)
	if err != nil {
		res.Err = fmt.Errorf("capture screenshot: %w", err)
		logger.Warn("artifact capture failed", "error", err, "url", sess.URL())
		return res
	}
	path, err := c.store.Put(capCtx, SanitizeName(name), capture)
	if err != nil {
		res.Err = fmt.Errorf("store artifact: %w", err)
		logger.Warn("artifact store failed", "error", err)
		return res
	}
	logger.Info("artifact captured", "path", path, "bytes", len(capture.Data), "url", sess.URL())
	return Result{Captured: true, Path: path}
}

// SanitizeName turns a scenario identifier into a single path element:
// slashes, backslashes, colons and control characters become underscores.
func SanitizeName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == ':':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		}
		return r
	}, name)
	switch out {
	case "":
		return "scenario"
	case ".", "..":
		return strings.Repeat("_", len(out))
	}
	return out
}

// LocalStore writes captures into a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore returns a store rooted at dir. The directory is created on
// first use.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Put writes <dir>/<name><ext>, replacing any earlier capture of the same
// scenario.
func (s *LocalStore) Put(ctx context.Context, name string, capture browser.Capture) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(s.dir, name+capture.Ext)
	if err := os.WriteFile(path, capture.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
