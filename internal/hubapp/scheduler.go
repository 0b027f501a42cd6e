package hubapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// Schedule frequencies offered by the jobs page.
const (
	FrequencyHourly = "Hourly"
	FrequencyDaily  = "Daily"
	FrequencyWeekly = "Weekly"
)

// Frequencies in display order.
var Frequencies = []string{FrequencyHourly, FrequencyDaily, FrequencyWeekly}

// DefaultSchedulerInterval is how often due schedules are checked.
const DefaultSchedulerInterval = time.Minute

const (
	dateTimeLocalLayout = "2006-01-02T15:04"
	dateLayout          = "2006-01-02"
	jobRunTimeout       = time.Minute
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSpec returns the cron expression for frequency, anchored at start:
// hourly runs keep start's minute, daily runs its time of day and weekly
// runs its weekday too. A zero start gives the plain descriptors.
func CronSpec(frequency string, start time.Time) (string, error) {
	switch frequency {
	case FrequencyHourly:
		if start.IsZero() {
			return "@hourly", nil
		}
		return fmt.Sprintf("%d * * * *", start.Minute()), nil
	case FrequencyDaily:
		if start.IsZero() {
			return "@daily", nil
		}
		return fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour()), nil
	case FrequencyWeekly:
		if start.IsZero() {
			return "@weekly", nil
		}
		return fmt.Sprintf("%d %d * * %d", start.Minute(), start.Hour(), int(start.Weekday())), nil
	}
	return "", errs.New(errs.InvalidArgument,
		fmt.Sprintf("frequency must be one of %s", strings.Join(Frequencies, ", ")))
}

// NextRun is the first run time of a schedule strictly after now. A start
// still in the future is the first run itself.
func NextRun(frequency string, start, now time.Time) (time.Time, error) {
	spec, err := CronSpec(frequency, start)
	if err != nil {
		return time.Time{}, err
	}
	if start.After(now) {
		return start, nil
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.Internal, "parse schedule "+spec, err)
	}
	loc := now.Location()
	if !start.IsZero() {
		loc = start.Location()
	}
	return sched.Next(now.In(loc)), nil
}

// JobRunner executes a job by sending its description to its agent.
type JobRunner struct {
	store     *db.Store
	responder Responder
}

func NewJobRunner(store *db.Store, responder Responder) *JobRunner {
	return &JobRunner{store: store, responder: responder}
}

// Run executes jobID and records the run. A job without an agent is
// recorded as failed; the returned error is only for storage failures.
func (r *JobRunner) Run(ctx context.Context, jobID, source string) (db.Run, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return db.Run{}, err
	}
	run, err := r.store.StartRun(ctx, job.ID, source)
	if err != nil {
		return db.Run{}, err
	}

	output, runErr := r.execute(ctx, job)
	run.Status, run.Output = db.RunSucceeded, output
	if runErr != nil {
		run.Status, run.Output = db.RunFailed, errs.MessageOf(runErr)
	}
	obs.From(ctx).Info("job run finished", "pkg", "hubapp", "job", job.ID, "source", source, "status", run.Status)
	return r.store.FinishRun(ctx, run)
}

func (r *JobRunner) execute(ctx context.Context, job db.Job) (string, error) {
	if job.AgentID == "" {
		return "", errs.New(errs.FailedPrecondition, "job has no agent")
	}
	agent, err := r.store.GetAgent(ctx, job.AgentID)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, jobRunTimeout)
	defer cancel()

	prompt := job.Description
	if strings.TrimSpace(prompt) == "" {
		prompt = job.Name
	}
	return r.responder.Reply(ctx, agent, nil, prompt)
}

// Scheduler runs due schedules on a cron tick.
type Scheduler struct {
	store    *db.Store
	runner   *JobRunner
	cron     *cron.Cron
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler checking every interval. Zero means
// DefaultSchedulerInterval; negative disables Start.
func NewScheduler(store *db.Store, runner *JobRunner, interval time.Duration, now func() time.Time) *Scheduler {
	if interval == 0 {
		interval = DefaultSchedulerInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    store,
		runner:   runner,
		cron:     cron.New(),
		interval: interval,
		now:      now,
		logger:   obs.Pkg("hubapp.scheduler"),
	}
}

// Start begins the periodic check. Calling it twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.interval < 0 {
		return nil
	}
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.tick); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "interval", s.interval.String())
	return nil
}

// Stop halts the periodic check and waits for a running tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.RunDue(ctx); err != nil {
		s.logger.Error("scheduled runs failed", "error", err)
	}
}

// RunDue runs every schedule due now, advances its next run time and
// returns how many jobs ran.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, sc := range due {
		if _, err := s.runner.Run(ctx, sc.JobID, db.RunSchedule); err != nil {
			s.logger.Warn("scheduled run not recorded", "job", sc.JobID, "error", err)
			continue
		}
		ran++
		next, err := NextRun(sc.Frequency, sc.StartAt, now)
		if err != nil {
			return ran, err
		}
		if err := s.store.SetNextRun(ctx, sc.JobID, next); err != nil {
			return ran, err
		}
	}
	return ran, nil
}
