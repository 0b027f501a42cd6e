// Package testdb opens throwaway fixture stores for tests.
package testdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/kuitang/aihub-e2e/internal/db"
)

// New returns an in-memory store with the default tool catalog, closed when
// the test ends.
func New(tb testing.TB) *db.Store {
	tb.Helper()

	s, err := db.OpenInMemory()
	if err != nil {
		tb.Fatalf("open in-memory store: %v", err)
	}
	tb.Cleanup(func() { s.Close() })

	if err := applyFastSQLitePragmas(s); err != nil {
		tb.Fatalf("apply fast SQLite pragmas: %v", err)
	}
	if err := s.EnsureDefaultTools(context.Background()); err != nil {
		tb.Fatalf("install tools: %v", err)
	}
	return s
}

// Agents creates n agents named "<prefix> <i>" and returns them.
func Agents(tb testing.TB, s *db.Store, prefix string, n int) []db.Agent {
	tb.Helper()

	out := make([]db.Agent, 0, n)
	for i := 1; i <= n; i++ {
		a, err := s.CreateAgent(context.Background(), db.Agent{
			Name:      fmt.Sprintf("%s %d", prefix, i),
			Objective: fmt.Sprintf("Objective for %s %d", prefix, i),
			ToolIDs:   []string{"web_search"},
		})
		if err != nil {
			tb.Fatalf("create agent: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func applyFastSQLitePragmas(s *db.Store) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := s.DB().Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
