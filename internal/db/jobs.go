package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Job run sources and statuses.
const (
	RunManual   = "manual"
	RunSchedule = "schedule"

	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Job is a named unit of agent work.
type Job struct {
	ID          string
	Name        string
	AgentID     string // empty when the agent was deleted
	Description string
	IsOn        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Schedule says when a job runs on its own.
type Schedule struct {
	JobID     string
	Name      string
	StartAt   time.Time
	Frequency string
	Enabled   bool
	NextRunAt time.Time
}

// Run is one execution of a job.
type Run struct {
	ID         string
	JobID      string
	Source     string
	Status     string
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

const jobColumns = `id, name, COALESCE(agent_id, ''), description, is_on, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var on int
	var created, updated int64
	if err := row.Scan(&j.ID, &j.Name, &j.AgentID, &j.Description, &on, &created, &updated); err != nil {
		return Job{}, err
	}
	j.IsOn = on != 0
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return j, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListJobs returns every job in creation order.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the number of jobs.
func (s *Store) CountJobs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Job{}, notFound(err, "job")
	}
	return j, nil
}

// CreateJob inserts j, assigning an id when empty. A non-empty AgentID
// must name an existing agent.
func (s *Store) CreateJob(ctx context.Context, j Job) (Job, error) {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return Job{}, errs.New(errs.InvalidArgument, "job name is required")
	}
	if err := s.checkAgent(ctx, j.AgentID); err != nil {
		return Job{}, err
	}
	if j.ID == "" {
		j.ID = NewID()
	}
	now := s.millis()
	j.CreatedAt, j.UpdatedAt = fromMillis(now), fromMillis(now)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, agent_id, description, is_on, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, nullable(j.AgentID), j.Description, boolInt(j.IsOn), now, now); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// UpdateJob overwrites a job's editable fields.
func (s *Store) UpdateJob(ctx context.Context, j Job) (Job, error) {
	j.Name = strings.TrimSpace(j.Name)
	if j.Name == "" {
		return Job{}, errs.New(errs.InvalidArgument, "job name is required")
	}
	if err := s.checkAgent(ctx, j.AgentID); err != nil {
		return Job{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name = ?, agent_id = ?, description = ?, is_on = ?, updated_at = ? WHERE id = ?`,
		j.Name, nullable(j.AgentID), j.Description, boolInt(j.IsOn), s.millis(), j.ID)
	if err != nil {
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := requireAffected(res, "job"); err != nil {
		return Job{}, err
	}
	return s.GetJob(ctx, j.ID)
}

func (s *Store) checkAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, agentID).Scan(&n); err != nil {
		return fmt.Errorf("check agent: %w", err)
	}
	if n == 0 {
		return errs.New(errs.InvalidArgument, "unknown agent")
	}
	return nil
}

// DeleteJob removes a job with its schedule and runs.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireAffected(res, "job")
}

// UpsertSchedule stores the job's schedule, replacing any previous one.
func (s *Store) UpsertSchedule(ctx context.Context, sc Schedule) error {
	if _, err := s.GetJob(ctx, sc.JobID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (job_id, name, start_at, frequency, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		    name = excluded.name, start_at = excluded.start_at, frequency = excluded.frequency,
		    enabled = excluded.enabled, next_run_at = excluded.next_run_at`,
		sc.JobID, sc.Name, toMillis(sc.StartAt), sc.Frequency, boolInt(sc.Enabled), toMillis(sc.NextRunAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `job_id, name, start_at, frequency, enabled, next_run_at`

func scanSchedule(row interface{ Scan(...any) error }) (Schedule, error) {
	var sc Schedule
	var start, next int64
	var enabled int
	if err := row.Scan(&sc.JobID, &sc.Name, &start, &sc.Frequency, &enabled, &next); err != nil {
		return Schedule{}, err
	}
	sc.StartAt = fromMillis(start)
	sc.NextRunAt = fromMillis(next)
	sc.Enabled = enabled != 0
	return sc, nil
}

// GetSchedule returns the job's schedule.
func (s *Store) GetSchedule(ctx context.Context, jobID string) (Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE job_id = ?`, jobID))
	if err != nil {
		return Schedule{}, notFound(err, "schedule")
	}
	return sc, nil
}

// DueSchedules returns enabled schedules of switched-on jobs whose next run
// is at or before now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.job_id, s.name, s.start_at, s.frequency, s.enabled, s.next_run_at
		FROM schedules s JOIN jobs j ON j.id = s.job_id
		WHERE s.enabled = 1 AND j.is_on = 1 AND s.next_run_at > 0 AND s.next_run_at <= ?
		ORDER BY s.next_run_at`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	var due []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		due = append(due, sc)
	}
	return due, rows.Err()
}

// SetNextRun moves a schedule's next run time.
func (s *Store) SetNextRun(ctx context.Context, jobID string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET next_run_at = ? WHERE job_id = ?`, toMillis(next), jobID)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	return requireAffected(res, "schedule")
}

// StartRun records a running execution of jobID.
func (s *Store) StartRun(ctx context.Context, jobID, source string) (Run, error) {
	r := Run{ID: NewID(), JobID: jobID, Source: source, Status: RunRunning, StartedAt: fromMillis(s.millis())}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_id, source, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.Source, r.Status, toMillis(r.StartedAt)); err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return r, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, r Run) (Run, error) {
	r.FinishedAt = fromMillis(s.millis())
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, output = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Output, toMillis(r.FinishedAt), r.ID)
	if err != nil {
		return Run{}, fmt.Errorf("finish run: %w", err)
	}
	if err := requireAffected(res, "run"); err != nil {
		return Run{}, err
	}
	return r, nil
}

// RunsBetween returns jobID's runs started in [from, to), oldest first.
func (s *Store) RunsBetween(ctx context.Context, jobID string, from, to time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, source, status, output, started_at, finished_at
		FROM job_runs WHERE job_id = ? AND started_at >= ? AND started_at < ?
		ORDER BY started_at, rowid`, jobID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.Source, &r.Status, &r.Output, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run of jobID.
func (s *Store) LatestRun(ctx context.Context, jobID string) (Run, error) {
	var r Run
	var started, finished int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, source, status, output, started_at, finished_at
		FROM job_runs WHERE job_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, jobID).
		Scan(&r.ID, &r.JobID, &r.Source, &r.Status, &r.Output, &started, &finished)
	if err != nil {
		return Run{}, notFound(err, "run")
	}
	r.StartedAt = fromMillis(started)
	r.FinishedAt = fromMillis(finished)
	return r, nil
}

// JobWithSchedule returns the job and its schedule, nil when it has none.
func (s *Store) JobWithSchedule(ctx context.Context, id string) (Job, *Schedule, error) {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return Job{}, nil, err
	}
	sc, err := s.GetSchedule(ctx, id)
	switch {
	case err == nil:
		return j, &sc, nil
	case errs.Is(err, errs.NotFound):
		return j, nil, nil
	default:
		return Job{}, nil, err
	}
}
