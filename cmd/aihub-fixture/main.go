// Command aihub-fixture serves the in-repo AI Hub fixture application.
//
// Usage:
//
//	go run ./cmd/aihub-fixture -addr :5001
//
// Configuration comes from AIHUB_FIXTURE_* environment variables; see
// internal/config/fixture.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/hubapp"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

func main() {
	addr := flag.String("addr", "", "Listen address (default $AIHUB_FIXTURE_ADDR or :5001)")
	flag.Parse()

	obs.Init()
	if err := run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "aihub-fixture: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	cfg, err := config.LoadFixture(addr)
	if err != nil {
		return err
	}
	cfg.PrintSummary()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := hubapp.New(ctx, cfg, hubapp.Options{})
	if err != nil {
		return err
	}
	defer srv.Close()

	logger := obs.Pkg("main")
	logger.Info("fixture ready", "base_url", cfg.BaseURL, "test_api", cfg.EnableTestAPI)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("fixture stopped")
	return nil
}
