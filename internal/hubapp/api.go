package hubapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps a coded error to its status. Internal details stay in the log.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	msg := errs.MessageOf(err)
	if status >= http.StatusInternalServerError && code != errs.Unavailable {
		obs.From(r.Context()).Error("api request failed", "pkg", "hubapp", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into one invalid_argument error
// naming each failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Wrap(errs.InvalidArgument, "invalid request", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errs.New(errs.InvalidArgument, strings.Join(msgs, "; "))
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "Invalid JSON: "+err.Error(), err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// =============================================================================
// Views
// =============================================================================

type toolView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

type agentView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Objective    string    `json:"objective"`
	EmailEnabled bool      `json:"email_enabled"`
	ToolIDs      []string  `json:"tool_ids"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newAgentView(a db.Agent) agentView {
	tools := a.ToolIDs
	if tools == nil {
		tools = []string{}
	}
	return agentView{
		ID: a.ID, Name: a.Name, Objective: a.Objective, EmailEnabled: a.EmailEnabled,
		ToolIDs: tools, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

type messageView struct {
	ID      int64         `json:"id"`
	Role    string        `json:"role"`
	Content string        `json:"content"`
	HTML    template.HTML `json:"html"`
	At      time.Time     `json:"created_at"`
}

func newMessageView(m db.Message) messageView {
	v := messageView{ID: m.ID, Role: m.Role, Content: m.Content, At: m.CreatedAt}
	if m.Role == db.RoleAssistant {
		v.HTML = renderReply(m.Content)
	}
	return v
}

type scheduleView struct {
	Name      string     `json:"name"`
	StartAt   *time.Time `json:"start_at,omitempty"`
	Frequency string     `json:"frequency"`
	Enabled   bool       `json:"enabled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newScheduleView(sc *db.Schedule) *scheduleView {
	if sc == nil {
		return nil
	}
	return &scheduleView{
		Name: sc.Name, StartAt: timePtr(sc.StartAt), Frequency: sc.Frequency,
		Enabled: sc.Enabled, NextRunAt: timePtr(sc.NextRunAt),
	}
}

type jobView struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	AgentID     string        `json:"agent_id"`
	Description string        `json:"description"`
	IsOn        bool          `json:"is_on"`
	Schedule    *scheduleView `json:"schedule,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func newJobView(j db.Job, sc *db.Schedule) jobView {
	return jobView{
		ID: j.ID, Name: j.Name, AgentID: j.AgentID, Description: j.Description, IsOn: j.IsOn,
		Schedule: newScheduleView(sc), CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

type runView struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Output     string     `json:"output"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newRunView(r db.Run) runView {
	return runView{
		ID: r.ID, Source: r.Source, Status: r.Status, Output: r.Output,
		StartedAt: r.StartedAt, FinishedAt: timePtr(r.FinishedAt),
	}
}

// =============================================================================
// Agents
// =============================================================================

type agentPayload struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Objective    string   `json:"objective" validate:"max=10000"`
	EmailEnabled bool     `json:"email_enabled"`
	ToolIDs      []string `json:"tool_ids" validate:"dive,required"`
}

func (s *Server) apiListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.store.ListTools(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolView{ID: t.ID, Name: t.Name, Description: t.Description, Kind: t.Kind})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) apiListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, newAgentView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) apiGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

func (s *Server) apiCreateAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	agent, err := s.store.CreateAgent(r.Context(), db.Agent{
		Name: p.Name, Objective: p.Objective, EmailEnabled: p.EmailEnabled, ToolIDs: p.ToolIDs,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAgentView(agent))
}

func (s *Server) apiUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	agent, err := s.store.UpdateAgent(r.Context(), db.Agent{
		ID: r.PathValue("id"), Name: p.Name, Objective: p.Objective, EmailEnabled: p.EmailEnabled, ToolIDs: p.ToolIDs,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentView(agent))
}

func (s *Server) apiDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Chat
// =============================================================================

type chatPayload struct {
	AgentID string `json:"agent_id" validate:"required"`
	Message string `json:"message" validate:"required,max=20000"`
}

type chatResponse struct {
	Reply messageView `json:"reply"`
}

func (s *Server) apiChat(w http.ResponseWriter, r *http.Request) {
	var p chatPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	reply, err := s.chat(r.Context(), currentUser(r), p.AgentID, p.Message)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: newMessageView(reply)})
}

func (s *Server) apiConversation(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	msgs, err := s.store.Conversation(r.Context(), db.ConversationKey(currentUser(r).ID, agentID))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) apiResetChat(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if err := s.store.ClearConversation(r.Context(), db.ConversationKey(currentUser(r).ID, agentID)); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Jobs
// =============================================================================

type jobPayload struct {
	Name        string `json:"name" validate:"required,max=200"`
	AgentID     string `json:"agent_id"`
	Description string `json:"description" validate:"max=10000"`
	IsOn        bool   `json:"is_on"`
}

func (s *Server) apiListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobView(j, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) apiGetJob(w http.ResponseWriter, r *http.Request) {
	job, sc, err := s.store.JobWithSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job, sc))
}

func (s *Server) apiCreateJob(w http.ResponseWriter, r *http.Request) {
	var p jobPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	job, err := s.store.CreateJob(r.Context(), db.Job{
		Name: p.Name, AgentID: p.AgentID, Description: p.Description, IsOn: p.IsOn,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newJobView(job, nil))
}

func (s *Server) apiUpdateJob(w http.ResponseWriter, r *http.Request) {
	var p jobPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	ctx := r.Context()
	job, err := s.store.UpdateJob(ctx, db.Job{
		ID: r.PathValue("id"), Name: p.Name, AgentID: p.AgentID, Description: p.Description, IsOn: p.IsOn,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	_, sc, err := s.store.JobWithSchedule(ctx, job.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job, sc))
}

func (s *Server) apiDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiRunJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Run(r.Context(), r.PathValue("id"), db.RunManual)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunView(run))
}

func (s *Server) apiScheduleJob(w http.ResponseWriter, r *http.Request) {
	var in scheduleInput
	if err := s.decode(w, r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	sc, err := s.saveSchedule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newScheduleView(&sc))
}

func (s *Server) apiJobHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	day, err := parseDay(r.URL.Query().Get("date"), s.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if _, err := s.store.GetJob(ctx, id); err != nil {
		writeErr(w, r, err)
		return
	}
	runs, err := s.store.RunsBetween(ctx, id, day, day.AddDate(0, 0, 1))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, http.StatusOK, out)
}
