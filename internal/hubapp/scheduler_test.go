package hubapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/testdb"
)

func TestCronSpec(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC) // Monday

	cases := []struct {
		freq  string
		start time.Time
		want  string
	}{
		{FrequencyHourly, time.Time{}, "@hourly"},
		{FrequencyDaily, time.Time{}, "@daily"},
		{FrequencyWeekly, time.Time{}, "@weekly"},
		{FrequencyHourly, start, "15 * * * *"},
		{FrequencyDaily, start, "15 9 * * *"},
		{FrequencyWeekly, start, "15 9 * * 1"},
	}
	for _, tc := range cases {
		got, err := CronSpec(tc.freq, tc.start)
		require.NoError(t, err, tc.freq)
		assert.Equal(t, tc.want, got)
		_, err = cronParser.Parse(got)
		assert.NoError(t, err, "spec %q parses", got)
	}

	_, err := CronSpec("Monthly", start)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestNextRun(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC)
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	cases := map[string]time.Time{
		FrequencyHourly: time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC),
		FrequencyDaily:  time.Date(2026, 5, 5, 9, 15, 0, 0, time.UTC),
		FrequencyWeekly: time.Date(2026, 5, 11, 9, 15, 0, 0, time.UTC),
	}
	for freq, want := range cases {
		got, err := NextRun(freq, start, now)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "%s: got %s, want %s", freq, got, want)
	}

	future := now.Add(36 * time.Hour)
	got, err := NextRun(FrequencyWeekly, future, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(future), "a future start is the first run")

	got, err = NextRun(FrequencyHourly, time.Time{}, now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)))
}

func TestNextRun_Properties(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rapid.Check(t, func(t *rapid.T) {
		freq := rapid.SampledFrom(Frequencies).Draw(t, "freq")
		start := base.Add(time.Duration(rapid.IntRange(0, 60*24*90).Draw(t, "startMin")) * time.Minute)
		now := start.Add(time.Duration(rapid.IntRange(0, 60*24*60).Draw(t, "afterMin")) * time.Minute)

		next, err := NextRun(freq, start, now)
		if err != nil {
			t.Fatalf("NextRun: %v", err)
		}
		if !next.After(now) {
			t.Fatalf("next run %s not after now %s", next, now)
		}
		if next.Minute() != start.Minute() {
			t.Fatalf("next run %s lost the start minute %d", next, start.Minute())
		}
		var limit time.Duration
		switch freq {
		case FrequencyHourly:
			limit = time.Hour
		case FrequencyDaily:
			limit = 24 * time.Hour
			if next.Hour() != start.Hour() {
				t.Fatalf("daily run %s not at hour %d", next, start.Hour())
			}
		case FrequencyWeekly:
			limit = 7 * 24 * time.Hour
			if next.Weekday() != start.Weekday() {
				t.Fatalf("weekly run %s not on %s", next, start.Weekday())
			}
		}
		if next.Sub(now) > limit {
			t.Fatalf("next run %s more than %s after %s", next, limit, now)
		}
	})
}

type schedulerFixture struct {
	store *db.Store
	sched *Scheduler
	job   db.Job
	now   time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	store := testdb.New(t)
	store.SetClock(func() time.Time { return now })

	agent := testdb.Agents(t, store, "Sched", 1)[0]
	job, err := store.CreateJob(ctx, db.Job{Name: "Digest", AgentID: agent.ID, Description: "Summarize", IsOn: true})
	require.NoError(t, err)

	runner := NewJobRunner(store, EchoResponder{})
	return &schedulerFixture{
		store: store,
		sched: NewScheduler(store, runner, -1, func() time.Time { return now }),
		job:   job,
		now:   now,
	}
}

func TestScheduler_RunDue(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.UpsertSchedule(ctx, db.Schedule{
		JobID: f.job.ID, Name: "Hourly", StartAt: start, Frequency: FrequencyHourly,
		Enabled: true, NextRunAt: start,
	}))

	ran, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	sc, err := f.store.GetSchedule(ctx, f.job.ID)
	require.NoError(t, err)
	assert.True(t, sc.NextRunAt.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)), "next run %s", sc.NextRunAt)

	run, err := f.store.LatestRun(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunSchedule, run.Source)
	assert.Equal(t, db.RunSucceeded, run.Status)

	// Nothing is due until the next slot.
	ran, err = f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran)
}

func TestScheduler_SkipsDisabledAndSwitchedOff(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	past := f.now.Add(-time.Minute)

	require.NoError(t, f.store.UpsertSchedule(ctx, db.Schedule{
		JobID: f.job.ID, Frequency: FrequencyDaily, Enabled: false, NextRunAt: past,
	}))
	ran, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran)

	require.NoError(t, f.store.UpsertSchedule(ctx, db.Schedule{
		JobID: f.job.ID, Frequency: FrequencyDaily, Enabled: true, NextRunAt: past,
	}))
	f.job.IsOn = false
	_, err = f.store.UpdateJob(ctx, f.job)
	require.NoError(t, err)
	ran, err = f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran)
}

func TestScheduler_StartStop(t *testing.T) {
	store := testdb.New(t)
	sched := NewScheduler(store, NewJobRunner(store, EchoResponder{}), time.Hour, nil)
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Start())
	sched.Stop()
	sched.Stop()

	disabled := NewScheduler(store, NewJobRunner(store, EchoResponder{}), -1, nil)
	require.NoError(t, disabled.Start())
	disabled.Stop()
}

func TestJobRunner_NoAgent(t *testing.T) {
	store := testdb.New(t)
	ctx := context.Background()
	job, err := store.CreateJob(ctx, db.Job{Name: "Orphan"})
	require.NoError(t, err)

	run, err := NewJobRunner(store, EchoResponder{}).Run(ctx, job.ID, db.RunManual)
	require.NoError(t, err)
	assert.Equal(t, db.RunFailed, run.Status)
	assert.Equal(t, "job has no agent", run.Output)

	_, err = NewJobRunner(store, EchoResponder{}).Run(ctx, "missing", db.RunManual)
	assert.True(t, errs.Is(err, errs.NotFound))
}
