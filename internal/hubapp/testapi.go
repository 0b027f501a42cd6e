package hubapp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/seed"
)

// seedPayload bounds what one seed call may create.
type seedPayload struct {
	Agents int `json:"agents" validate:"gte=0,lte=100"`
	Jobs   int `json:"jobs" validate:"gte=0,lte=100"`
}

func (s *Server) apiTestReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.Reset(ctx); err != nil {
		writeErr(w, r, err)
		return
	}
	state, err := s.state(ctx)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.logger.Info("fixture data reset")
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) apiTestSeed(w http.ResponseWriter, r *http.Request) {
	var p seedPayload
	if err := s.decode(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	state, err := s.ensureData(r.Context(), seed.Request{Agents: p.Agents, Jobs: p.Jobs})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) state(ctx context.Context) (seed.State, error) {
	agents, err := s.store.CountAgents(ctx)
	if err != nil {
		return seed.State{}, err
	}
	jobs, err := s.store.CountJobs(ctx)
	if err != nil {
		return seed.State{}, err
	}
	return seed.State{Agents: agents, Jobs: jobs}, nil
}

// ensureData tops the store up to at least req's counts. Existing records
// count toward the target, so repeated calls create nothing new. Seeded jobs
// belong to the first agent.
func (s *Server) ensureData(ctx context.Context, req seed.Request) (seed.State, error) {
	state, err := s.state(ctx)
	if err != nil {
		return seed.State{}, err
	}
	if req.Jobs > 0 && req.Agents < 1 {
		req.Agents = 1
	}
	for i := state.Agents; i < req.Agents; i++ {
		if _, err := s.store.CreateAgent(ctx, db.Agent{
			Name:      fmt.Sprintf("Seed Agent %d", i+1),
			Objective: fmt.Sprintf("Seeded assistant number %d", i+1),
			ToolIDs:   []string{"web_search"},
		}); err != nil {
			return seed.State{}, err
		}
	}
	if state.Jobs < req.Jobs {
		agents, err := s.store.ListAgents(ctx)
		if err != nil {
			return seed.State{}, err
		}
		for i := state.Jobs; i < req.Jobs; i++ {
			if _, err := s.store.CreateJob(ctx, db.Job{
				Name:        fmt.Sprintf("Seed Job %d", i+1),
				AgentID:     agents[0].ID,
				Description: fmt.Sprintf("Summarize the news, pass %d", i+1),
				IsOn:        true,
			}); err != nil {
				return seed.State{}, err
			}
		}
	}
	return s.state(ctx)
}
