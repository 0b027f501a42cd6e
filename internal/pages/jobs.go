package pages

import (
	"context"
	"net/url"

	"github.com/kuitang/aihub-e2e/internal/browser"
)

const (
	jobSelect         = "#job_name"
	newJobAgentSelect = "#new-agent-dropdown"
	frequencySelect   = "#schedule_frequency"
)

// JobsPage is the scheduled jobs page.
type JobsPage struct {
	Page
}

func NewJobsPage(sess browser.Session, baseURL string) (*JobsPage, error) {
	p, err := bind(sess, baseURL, "/jobs")
	if err != nil {
		return nil, err
	}
	return &JobsPage{Page: p}, nil
}

func (p *JobsPage) Navigate(ctx context.Context) (*JobsPage, error) {
	return p, p.open(ctx)
}

func (p *JobsPage) Header() browser.Element {
	return p.el(`h4:has-text("Intelligent Jobs"), h1:has-text("Intelligent Jobs")`)
}

func (p *JobsPage) JobSelect() browser.Element     { return p.el(jobSelect) }
func (p *JobsPage) AgentDropdown() browser.Element { return p.el(agentSelect) }
func (p *JobsPage) Description() browser.Element   { return p.el("#description") }
func (p *JobsPage) Switch() browser.Element        { return p.el("#is_on") }
func (p *JobsPage) JobID() browser.Element         { return p.el("#job_id") }
func (p *JobsPage) TestResult() browser.Element    { return p.el("#test_result") }

func (p *JobsPage) ScheduleButton() browser.Element {
	return p.el(`button[data-target="#scheduleJobModal"]`)
}

func (p *JobsPage) HistoryButton() browser.Element {
	return p.el(`button[data-target="#jobHistoryModal"]`)
}

func (p *JobsPage) NewJobButton() browser.Element {
	return p.el(`button[data-target="#newJobModal"]`)
}

func (p *JobsPage) AddButton() browser.Element    { return p.el(`button[onclick="addJob()"]`) }
func (p *JobsPage) DeleteButton() browser.Element { return p.el(`button[onclick="deleteJob()"]`) }
func (p *JobsPage) RunButton() browser.Element    { return p.el(`button[onclick="testJob()"]`) }

func (p *JobsPage) NewJobModal() browser.Element       { return p.el("#newJobModal") }
func (p *JobsPage) NewJobName() browser.Element        { return p.el("#newJobName") }
func (p *JobsPage) NewJobAgent() browser.Element       { return p.el(newJobAgentSelect) }
func (p *JobsPage) NewJobDescription() browser.Element { return p.el("#newJobDescription") }
func (p *JobsPage) NewJobSwitch() browser.Element      { return p.el("#newJobSwitch") }
func (p *JobsPage) SaveNewJobButton() browser.Element  { return p.el("#saveNewJobButton") }

func (p *JobsPage) CancelNewJobButton() browser.Element {
	return p.el(`#newJobModal button[data-dismiss="modal"]`)
}

func (p *JobsPage) ScheduleModal() browser.Element     { return p.el("#scheduleJobModal") }
func (p *JobsPage) ScheduleName() browser.Element      { return p.el("#schedule_name") }
func (p *JobsPage) ScheduleDatetime() browser.Element  { return p.el("#schedule_datetime") }
func (p *JobsPage) ScheduleFrequency() browser.Element { return p.el(frequencySelect) }
func (p *JobsPage) ScheduleEnabled() browser.Element   { return p.el("#schedule_enabled") }

func (p *JobsPage) HistoryModal() browser.Element   { return p.el("#jobHistoryModal") }
func (p *JobsPage) HistoryDate() browser.Element    { return p.el("#historyDate") }
func (p *JobsPage) HistorySearch() browser.Element  { return p.el("#searchJobHistoryButton") }
func (p *JobsPage) HistoryResults() browser.Element { return p.el("#jobHistoryResults") }

// JobOptions lists the job selector entries.
func (p *JobsPage) JobOptions(ctx context.Context) ([]Option, error) {
	return OptionTexts(ctx, p.sess, jobSelect)
}

// SelectJob picks the n-th existing job and waits for its details. Without
// page scripts the page is reopened with the job preselected.
func (p *JobsPage) SelectJob(ctx context.Context, n int) (Option, error) {
	opt, err := SelectNthOption(ctx, p.sess, jobSelect, n)
	if err != nil {
		return Option{}, err
	}
	if !p.sess.SupportsScript() {
		if err := p.sess.Navigate(ctx, p.path+"?job="+url.QueryEscape(opt.Value)); err != nil {
			return Option{}, err
		}
	}
	if err := p.sess.WaitForQuiescence(ctx); err != nil {
		return Option{}, err
	}
	id := p.JobID()
	return opt, expect(ctx, id, p.Timeout, func() (bool, error) {
		v, err := id.Value(ctx)
		return err == nil && v == opt.Value, err
	}, func() string { return "job details did not load for " + opt.Value })
}

// OpenNewJobModal shows the new job dialog.
func (p *JobsPage) OpenNewJobModal(ctx context.Context) error {
	if err := p.NewJobButton().Click(ctx); err != nil {
		return err
	}
	return ExpectVisible(ctx, p.NewJobModal(), p.Timeout)
}

// CancelNewJob dismisses the new job dialog.
func (p *JobsPage) CancelNewJob(ctx context.Context) error {
	if err := p.CancelNewJobButton().First().Click(ctx); err != nil {
		return err
	}
	return ExpectHidden(ctx, p.NewJobModal(), p.Timeout)
}

// CreateJob fills and saves the new job dialog. agentIndex picks the agent
// the same way SelectNthOption does.
func (p *JobsPage) CreateJob(ctx context.Context, name string, agentIndex int, description string) error {
	if err := p.OpenNewJobModal(ctx); err != nil {
		return err
	}
	if err := p.NewJobName().Fill(ctx, name); err != nil {
		return err
	}
	if _, err := SelectNthOption(ctx, p.sess, newJobAgentSelect, agentIndex); err != nil {
		return err
	}
	if err := p.NewJobDescription().Fill(ctx, description); err != nil {
		return err
	}
	if err := p.SaveNewJobButton().Click(ctx); err != nil {
		return err
	}
	if err := p.sess.WaitForQuiescence(ctx); err != nil {
		return err
	}
	return ExpectCount(ctx, p.el(jobSelect+` option:has-text(`+quoteText(name)+`)`), 1, p.Timeout)
}

// JobCountWithName counts selector entries whose label equals name.
func (p *JobsPage) JobCountWithName(ctx context.Context, name string) (int, error) {
	opts, err := p.JobOptions(ctx)
	if err != nil {
		return 0, err
	}
	return countLabel(opts, name), nil
}

// OpenScheduleModal opens the schedule dialog for the selected job.
func (p *JobsPage) OpenScheduleModal(ctx context.Context) error {
	if err := p.ScheduleButton().Click(ctx); err != nil {
		return err
	}
	return ExpectVisible(ctx, p.ScheduleModal(), p.Timeout)
}

// OpenHistoryModal opens the run history dialog for the selected job.
func (p *JobsPage) OpenHistoryModal(ctx context.Context) error {
	if err := p.HistoryButton().Click(ctx); err != nil {
		return err
	}
	return ExpectVisible(ctx, p.HistoryModal(), p.Timeout)
}

// CloseScheduleModal dismisses the schedule dialog.
func (p *JobsPage) CloseScheduleModal(ctx context.Context) error {
	return p.dismiss(ctx, p.ScheduleModal(), "#scheduleJobModal")
}

// CloseHistoryModal dismisses the run history dialog.
func (p *JobsPage) CloseHistoryModal(ctx context.Context) error {
	return p.dismiss(ctx, p.HistoryModal(), "#jobHistoryModal")
}

func (p *JobsPage) dismiss(ctx context.Context, modal browser.Element, id string) error {
	if err := p.el(id + ` button[data-dismiss="modal"]`).First().Click(ctx); err != nil {
		return err
	}
	return ExpectHidden(ctx, modal, p.Timeout)
}

// ScheduleFrequencies returns the labels of the frequency selector.
func (p *JobsPage) ScheduleFrequencies(ctx context.Context) ([]string, error) {
	opts, err := OptionTexts(ctx, p.sess, frequencySelect)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Label)
	}
	return out, nil
}
