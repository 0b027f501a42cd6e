package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

func TestTracker_IdleReturnsAfterWindow(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	start := time.Now()
	require.NoError(t, tr.Wait(context.Background(), 20*time.Millisecond, time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTracker_WaitsForInFlightRequest(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Begin("req-1")

	var ended time.Time
	go func() {
		time.Sleep(40 * time.Millisecond)
		ended = time.Now()
		tr.End("req-1")
	}()

	window := 20 * time.Millisecond
	require.NoError(t, tr.Wait(context.Background(), window, 2*time.Second))
	assert.GreaterOrEqual(t, time.Since(ended), window)
	assert.Equal(t, 0, tr.InFlight())
}

func TestTracker_TimeoutIsNavigationTimeout(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Begin(42)

	err := tr.Wait(context.Background(), 10*time.Millisecond, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errs.NavigationTimeout, errs.CodeOf(err))
}

func TestTracker_ContextCancel(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Begin("stuck")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Wait(ctx, 10*time.Millisecond, time.Second)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTracker_ContextDeadlineIsNavigationTimeout(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Begin("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Wait(ctx, 10*time.Millisecond, time.Second)
	assert.Equal(t, errs.NavigationTimeout, errs.CodeOf(err))
}

// Property: InFlight always equals the number of distinct begun-but-not-ended
// keys, whatever order events arrive in.
func testTracker_CountMatchesModel(t *rapid.T) {
	tr := NewTracker()
	model := map[int]bool{}

	steps := rapid.IntRange(1, 100).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		key := rapid.IntRange(0, 9).Draw(t, "key")
		switch rapid.IntRange(0, 2).Draw(t, "op") {
		case 0:
			tr.Begin(key)
			model[key] = true
		case 1:
			tr.End(key)
			delete(model, key)
		case 2:
			tr.Reset()
			model = map[int]bool{}
		}
		if got := tr.InFlight(); got != len(model) {
			t.Fatalf("InFlight = %d, model has %d", got, len(model))
		}
	}
}

func TestTracker_CountMatchesModel(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testTracker_CountMatchesModel)
}
