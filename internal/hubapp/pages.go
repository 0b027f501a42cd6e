package hubapp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/auth"
	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// PageData is shared by every page.
type PageData struct {
	Title        string
	User         *db.User
	Active       string // sidebar entry to highlight
	FlashMessage string
	FlashType    string // "success" or "danger"
}

type ErrorData struct {
	PageData
	Error     string
	ErrorCode string
}

type LoginData struct {
	PageData
	Username string
	Next     string
}

// JobSummary is a dashboard row.
type JobSummary struct {
	Job       db.Job
	AgentName string
	Schedule  *db.Schedule
}

type DashboardData struct {
	PageData
	AgentCount int
	JobCount   int
	Agents     []db.Agent
	Jobs       []JobSummary
}

type AssistantsData struct {
	PageData
	Agents   []db.Agent
	Selected *db.Agent
	Messages []db.Message
}

// ToolRow is one tool checkbox in the builder.
type ToolRow struct {
	Tool    db.Tool
	Checked bool
	Hidden  bool // filtered out by the search box
}

type BuilderData struct {
	PageData
	Agents      []db.Agent
	Selected    *db.Agent
	CoreTools   []ToolRow
	CustomTools []ToolRow
	CoreQuery   string
	CustomQuery string
}

type JobsData struct {
	PageData
	Jobs        []db.Job
	Agents      []db.Agent
	Selected    *db.Job
	Schedule    *db.Schedule
	LastRun     *db.Run
	Frequencies []string
	HistoryDate string
	ShowHistory bool
	Runs        []db.Run
}

func (s *Server) pageData(r *http.Request, title, active string) PageData {
	pd := PageData{Title: title, Active: active}
	if u, ok := auth.GetUser(r.Context()); ok {
		pd.User = &u
	}
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		pd.FlashMessage, pd.FlashType = msg, "danger"
	} else if msg := q.Get("success"); msg != "" {
		pd.FlashMessage, pd.FlashType = msg, "success"
	}
	return pd
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if err := s.renderer.Render(w, status, name, data); err != nil {
		obs.From(r.Context()).Error("render failed", "pkg", "hubapp", "template", name, "error", err)
		s.renderer.RenderError(w, http.StatusInternalServerError, "Failed to render page")
	}
}

// fail renders err as an error page. Coded errors keep their status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("request failed", "pkg", "hubapp", "path", r.URL.Path, "error", err)
	}
	s.renderer.RenderError(w, status, errs.MessageOf(err))
}

// redirect sends a 303 to path with params, dropping empty values.
func redirect(w http.ResponseWriter, r *http.Request, path string, params url.Values) {
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	target := path
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// flashOrFail redirects back with the message of a user-facing error and
// renders the error page for anything else.
func (s *Server) flashOrFail(w http.ResponseWriter, r *http.Request, path string, params url.Values, err error) {
	switch errs.CodeOf(err) {
	case errs.InvalidArgument, errs.NotFound, errs.FailedPrecondition, errs.Unavailable:
		params.Set("error", errs.MessageOf(err))
		redirect(w, r, path, params)
	default:
		s.fail(w, r, err)
	}
}

func currentUser(r *http.Request) db.User {
	u, _ := auth.GetUser(r.Context())
	return u
}

// =============================================================================
// Login
// =============================================================================

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") ||
		strings.HasPrefix(next, loginPath) {
		return "/"
	}
	return next
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if auth.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", LoginData{
		PageData: s.pageData(r, "Login", ""),
		Next:     next,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	username := r.PostFormValue("username")
	next := r.PostFormValue("next")

	user, err := s.users.Authenticate(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		switch errs.CodeOf(err) {
		case errs.InvalidArgument, errs.Unauthenticated:
			obs.From(r.Context()).Info("login rejected", "pkg", "hubapp", "reason", string(errs.CodeOf(err)))
			s.render(w, r, http.StatusOK, "login.html", LoginData{
				PageData: PageData{Title: "Login", FlashMessage: errs.MessageOf(err), FlashType: "danger"},
				Username: username,
				Next:     next,
			})
		default:
			s.fail(w, r, err)
		}
		return
	}

	token, err := s.sessions.Create(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sessions.SetCookie(w, token)
	obs.From(r.Context()).Info("login succeeded", "pkg", "hubapp", "user_id", user.ID)
	http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, err := auth.GetFromRequest(r); err == nil {
		if err := s.sessions.Delete(r.Context(), token); err != nil && !errs.Is(err, errs.NotFound) {
			obs.From(r.Context()).Warn("logout: delete session", "pkg", "hubapp", "error", err)
		}
	}
	s.sessions.ClearCookie(w)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

// =============================================================================
// Dashboard
// =============================================================================

const dashboardListSize = 5

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	data := DashboardData{
		PageData:   s.pageData(r, "Dashboard", "dashboard"),
		AgentCount: len(agents),
		JobCount:   len(jobs),
		Agents:     agents[:min(len(agents), dashboardListSize)],
	}
	for _, j := range jobs[:min(len(jobs), dashboardListSize)] {
		_, sc, err := s.store.JobWithSchedule(ctx, j.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		data.Jobs = append(data.Jobs, JobSummary{Job: j, AgentName: names[j.AgentID], Schedule: sc})
	}
	s.render(w, r, http.StatusOK, "dashboard.html", data)
}

// =============================================================================
// Agent chat
// =============================================================================

func (s *Server) handleAssistants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := AssistantsData{PageData: s.pageData(r, "Agent Chat", "assistants")}

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.Agents = agents

	if id := r.URL.Query().Get("agent"); id != "" {
		agent, err := s.store.GetAgent(ctx, id)
		switch {
		case err == nil:
			data.Selected = &agent
			data.Messages, err = s.store.Conversation(ctx, db.ConversationKey(currentUser(r).ID, agent.ID))
			if err != nil {
				s.fail(w, r, err)
				return
			}
		case errs.Is(err, errs.NotFound):
			data.FlashMessage, data.FlashType = "Agent not found", "danger"
		default:
			s.fail(w, r, err)
			return
		}
	}
	s.render(w, r, http.StatusOK, "assistants.html", data)
}

func (s *Server) handleAssistantsForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	agentID := r.PostFormValue("agent_id")
	back := url.Values{"agent": {agentID}}

	switch r.PostFormValue("action") {
	case "reset":
		if agentID != "" {
			if err := s.store.ClearConversation(r.Context(), db.ConversationKey(currentUser(r).ID, agentID)); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		back.Set("success", "Conversation reset")
		redirect(w, r, "/assistants", back)
	default:
		if _, err := s.chat(r.Context(), currentUser(r), agentID, r.PostFormValue("message")); err != nil {
			s.flashOrFail(w, r, "/assistants", back, err)
			return
		}
		redirect(w, r, "/assistants", back)
	}
}

// =============================================================================
// Agent builder
// =============================================================================

// toolRows marks the agent's tools and hides those not matching query.
func toolRows(tools []db.Tool, selected []string, query string) []ToolRow {
	query = strings.ToLower(strings.TrimSpace(query))
	rows := make([]ToolRow, 0, len(tools))
	for _, t := range tools {
		match := query == "" ||
			strings.Contains(strings.ToLower(t.Name), query) ||
			strings.Contains(strings.ToLower(t.Description), query)
		rows = append(rows, ToolRow{Tool: t, Checked: hasTool(selected, t.ID), Hidden: !match})
	}
	return rows
}

func (s *Server) handleBuilder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	data := BuilderData{
		PageData:    s.pageData(r, "Agent Builder", "builder"),
		CoreQuery:   q.Get("core_q"),
		CustomQuery: q.Get("custom_q"),
	}

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.Agents = agents

	if id := q.Get("edit"); id != "" {
		agent, err := s.store.GetAgent(ctx, id)
		switch {
		case err == nil:
			data.Selected = &agent
		case errs.Is(err, errs.NotFound):
			data.FlashMessage, data.FlashType = "Agent not found", "danger"
		default:
			s.fail(w, r, err)
			return
		}
	}

	var selected []string
	if data.Selected != nil {
		selected = data.Selected.ToolIDs
	}
	core, err := s.store.ListTools(ctx, db.ToolCore)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	custom, err := s.store.ListTools(ctx, db.ToolCustom)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data.CoreTools = toolRows(core, selected, data.CoreQuery)
	data.CustomTools = toolRows(custom, selected, data.CustomQuery)

	s.render(w, r, http.StatusOK, "agent_builder.html", data)
}

func (s *Server) handleBuilderForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	ctx := r.Context()
	f := r.PostForm
	agentID := f.Get("agent_id")
	back := url.Values{"edit": {agentID}, "core_q": {f.Get("core_q")}, "custom_q": {f.Get("custom_q")}}

	switch f.Get("action") {
	case "create":
		agent, err := s.store.CreateAgent(ctx, db.Agent{Name: f.Get("new_name"), Objective: f.Get("new_objective")})
		if err != nil {
			s.flashOrFail(w, r, "/custom_agent_enhanced", back, err)
			return
		}
		redirect(w, r, "/custom_agent_enhanced", url.Values{"edit": {agent.ID}, "success": {"Agent created"}})

	case "update":
		if agentID == "" {
			s.flashOrFail(w, r, "/custom_agent_enhanced", back, errs.New(errs.InvalidArgument, "Please select an agent first"))
			return
		}
		_, err := s.store.UpdateAgent(ctx, db.Agent{
			ID:           agentID,
			Name:         f.Get("name"),
			Objective:    f.Get("objective"),
			EmailEnabled: f.Get("email_enabled") != "",
			ToolIDs:      f["tools"],
		})
		if err != nil {
			s.flashOrFail(w, r, "/custom_agent_enhanced", back, err)
			return
		}
		back.Set("success", "Agent saved")
		redirect(w, r, "/custom_agent_enhanced", back)

	case "delete":
		if agentID == "" {
			s.flashOrFail(w, r, "/custom_agent_enhanced", back, errs.New(errs.InvalidArgument, "Please select an agent first"))
			return
		}
		if err := s.store.DeleteAgent(ctx, agentID); err != nil {
			back.Del("edit")
			s.flashOrFail(w, r, "/custom_agent_enhanced", back, err)
			return
		}
		redirect(w, r, "/custom_agent_enhanced", url.Values{"success": {"Agent deleted"}})

	case "clear_core_search":
		back.Del("core_q")
		redirect(w, r, "/custom_agent_enhanced", back)

	case "clear_custom_search":
		back.Del("custom_q")
		redirect(w, r, "/custom_agent_enhanced", back)

	default:
		redirect(w, r, "/custom_agent_enhanced", back)
	}
}

// =============================================================================
// Jobs
// =============================================================================

// parseDay parses a YYYY-MM-DD history date; empty means today.
func parseDay(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, now.Location())
	if err != nil {
		return time.Time{}, errs.New(errs.InvalidArgument, "date must look like 2006-01-02")
	}
	return day, nil
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	data := JobsData{PageData: s.pageData(r, "Intelligent Jobs", "jobs"), Frequencies: Frequencies}

	var err error
	if data.Jobs, err = s.store.ListJobs(ctx); err != nil {
		s.fail(w, r, err)
		return
	}
	if data.Agents, err = s.store.ListAgents(ctx); err != nil {
		s.fail(w, r, err)
		return
	}

	if id := q.Get("job"); id != "" {
		job, sc, err := s.store.JobWithSchedule(ctx, id)
		switch {
		case err == nil:
			data.Selected, data.Schedule = &job, sc
			if err := s.loadJobExtras(ctx, &data, q.Get("history"), q.Has("history")); err != nil {
				if errs.Is(err, errs.InvalidArgument) {
					data.FlashMessage, data.FlashType = errs.MessageOf(err), "danger"
				} else {
					s.fail(w, r, err)
					return
				}
			}
		case errs.Is(err, errs.NotFound):
			data.FlashMessage, data.FlashType = "Job not found", "danger"
		default:
			s.fail(w, r, err)
			return
		}
	}
	s.render(w, r, http.StatusOK, "jobs.html", data)
}

func (s *Server) loadJobExtras(ctx context.Context, data *JobsData, history string, showHistory bool) error {
	last, err := s.store.LatestRun(ctx, data.Selected.ID)
	switch {
	case err == nil:
		data.LastRun = &last
	case !errs.Is(err, errs.NotFound):
		return err
	}

	day, err := parseDay(history, s.now())
	if err != nil {
		return err
	}
	data.HistoryDate = day.Format(dateLayout)
	if !showHistory {
		return nil
	}
	data.ShowHistory = true
	data.Runs, err = s.store.RunsBetween(ctx, data.Selected.ID, day, day.AddDate(0, 0, 1))
	return err
}

func (s *Server) handleJobsForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	ctx := r.Context()
	f := r.PostForm
	jobID := f.Get("job_id")
	back := url.Values{"job": {jobID}}
	requireJob := func() bool {
		if jobID != "" {
			return true
		}
		s.flashOrFail(w, r, "/jobs", back, errs.New(errs.InvalidArgument, "Please select a job first"))
		return false
	}

	switch f.Get("action") {
	case "create":
		job, err := s.store.CreateJob(ctx, db.Job{
			Name:        f.Get("name"),
			AgentID:     f.Get("agent_id"),
			Description: f.Get("description"),
			IsOn:        f.Get("is_on") != "",
		})
		if err != nil {
			s.flashOrFail(w, r, "/jobs", back, err)
			return
		}
		redirect(w, r, "/jobs", url.Values{"job": {job.ID}, "success": {"Job created"}})

	case "save":
		if !requireJob() {
			return
		}
		job, err := s.store.GetJob(ctx, jobID)
		if err == nil {
			job.AgentID = f.Get("agent_id")
			job.Description = f.Get("description")
			job.IsOn = f.Get("is_on") != ""
			_, err = s.store.UpdateJob(ctx, job)
		}
		if err != nil {
			s.flashOrFail(w, r, "/jobs", back, err)
			return
		}
		back.Set("success", "Job saved")
		redirect(w, r, "/jobs", back)

	case "delete":
		if !requireJob() {
			return
		}
		if err := s.store.DeleteJob(ctx, jobID); err != nil {
			s.flashOrFail(w, r, "/jobs", url.Values{}, err)
			return
		}
		redirect(w, r, "/jobs", url.Values{"success": {"Job deleted"}})

	case "run":
		if !requireJob() {
			return
		}
		run, err := s.runner.Run(ctx, jobID, db.RunManual)
		if err != nil {
			s.flashOrFail(w, r, "/jobs", back, err)
			return
		}
		if run.Status == db.RunFailed {
			back.Set("error", "Run failed: "+run.Output)
		} else {
			back.Set("success", "Run finished")
		}
		redirect(w, r, "/jobs", back)

	case "schedule":
		if !requireJob() {
			return
		}
		_, err := s.saveSchedule(ctx, jobID, scheduleInput{
			Name:      f.Get("schedule_name"),
			StartAt:   f.Get("start_at"),
			Frequency: f.Get("frequency"),
			Enabled:   f.Get("enabled") != "",
		})
		if err != nil {
			s.flashOrFail(w, r, "/jobs", back, err)
			return
		}
		back.Set("success", "Schedule saved")
		redirect(w, r, "/jobs", back)

	default:
		redirect(w, r, "/jobs", back)
	}
}

type scheduleInput struct {
	Name      string `json:"name" validate:"max=200"`
	StartAt   string `json:"start_at"`
	Frequency string `json:"frequency" validate:"required,oneof=Hourly Daily Weekly"`
	Enabled   bool   `json:"enabled"`
}

// saveSchedule validates in and stores the schedule of jobID with its next
// run time.
func (s *Server) saveSchedule(ctx context.Context, jobID string, in scheduleInput) (db.Schedule, error) {
	if err := s.validate.Struct(in); err != nil {
		return db.Schedule{}, validationError(err)
	}
	now := s.now()
	var start time.Time
	if in.StartAt != "" {
		t, err := parseStart(in.StartAt, now.Location())
		if err != nil {
			return db.Schedule{}, err
		}
		start = t
	}

	sc := db.Schedule{
		JobID:     jobID,
		Name:      strings.TrimSpace(in.Name),
		StartAt:   start,
		Frequency: in.Frequency,
		Enabled:   in.Enabled,
	}
	if sc.Enabled {
		next, err := NextRun(sc.Frequency, start, now)
		if err != nil {
			return db.Schedule{}, err
		}
		sc.NextRunAt = next
	}
	if err := s.store.UpsertSchedule(ctx, sc); err != nil {
		return db.Schedule{}, err
	}
	return sc, nil
}

// parseStart accepts datetime-local values and RFC 3339.
func parseStart(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(dateTimeLocalLayout, raw, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errs.New(errs.InvalidArgument, "start time must look like 2006-01-02T15:04")
}
