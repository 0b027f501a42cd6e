// Package seed prepares fixture data through the application's test API so
// scenarios that need existing agents or jobs never depend on ambient
// database state.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/logutil"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// Test API paths served by the fixture application.
const (
	ResetPath = "/api/test/reset"
	SeedPath  = "/api/test/seed"
)

// Request asks the application to hold at least the given number of records.
type Request struct {
	Agents int `json:"agents"`
	Jobs   int `json:"jobs"`
}

// State is the record count reported after a reset or seed.
type State struct {
	Agents int `json:"agents"`
	Jobs   int `json:"jobs"`
}

// Client talks to the test API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a client for the application at baseURL. A nil httpClient uses
// a client with a 10 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     obs.Pkg("seed"),
	}
}

// Reset removes every agent, job and run.
func (c *Client) Reset(ctx context.Context) (State, error) {
	return c.post(ctx, ResetPath, nil)
}

// EnsureAgents creates agents until at least n exist.
func (c *Client) EnsureAgents(ctx context.Context, n int) (State, error) {
	return c.post(ctx, SeedPath, &Request{Agents: n})
}

// EnsureJobs creates jobs (and the agents they need) until at least n exist.
func (c *Client) EnsureJobs(ctx context.Context, n int) (State, error) {
	return c.post(ctx, SeedPath, &Request{Agents: min(n, 1), Jobs: n})
}

func (c *Client) post(ctx context.Context, path string, body *Request) (State, error) {
	if body != nil && (body.Agents < 0 || body.Jobs < 0) {
		return State{}, errs.New(errs.InvalidArgument, "seed counts must be non-negative")
	}

	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return State{}, errs.Wrap(errs.Internal, "encode seed request", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return State{}, errs.Wrap(errs.InvalidArgument, "build seed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return State{}, errs.Wrap(errs.Unavailable, fmt.Sprintf("POST %s", path), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return State{}, errs.New(errs.FailedPrecondition, "test API is not enabled on the application")
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := logutil.TruncateForLog(logutil.RedactBodyForLog(resp.Header.Get("Content-Type"), msg), 512)
		return State{}, errs.New(errs.Internal, fmt.Sprintf("POST %s: status %d: %s", path, resp.StatusCode, detail))
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return State{}, errs.Wrap(errs.Internal, "decode seed response", err)
	}
	c.logger.Info("fixture data prepared", "path", path, "agents", state.Agents, "jobs", state.Jobs)
	return state, nil
}
