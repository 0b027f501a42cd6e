// Package hubapp is a runnable stand-in for the AI Hub web application. It
// serves the pages, forms and JSON endpoints the page objects drive, backed
// by an encrypted SQLite store, so the scenario suite can run against a
// known application.
//
// Every page works without scripts: selections and dialogs have
// server-rendered fallbacks (?edit=, ?job=, ?agent=) and every action is a
// plain form post. static/app.js upgrades the same markup to the
// fetch-driven behaviour of the real application.
package hubapp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kuitang/aihub-e2e/internal/auth"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/obs"
	"github.com/kuitang/aihub-e2e/internal/ratelimit"
	"github.com/kuitang/aihub-e2e/internal/seed"
)

const (
	loginPath         = "/login"
	shutdownTimeout   = 5 * time.Second
	sessionSweepEvery = 10 * time.Minute
)

// Options overrides collaborators that tests replace.
type Options struct {
	Hasher    auth.PasswordHasher // nil: bcrypt at DefaultBcryptCost
	Responder Responder           // nil: OpenAI when a key is configured, else echo
	Now       func() time.Time    // nil: time.Now

	// SchedulerInterval is how often due schedules are checked. Zero uses
	// DefaultSchedulerInterval; negative disables the background scheduler.
	SchedulerInterval time.Duration
}

// Server is the fixture application.
type Server struct {
	cfg config.Fixture

	store        *db.Store
	users        *auth.Users
	sessions     *auth.SessionService
	authMW       *auth.Middleware
	loginLimiter *ratelimit.RateLimiter
	renderer     *Renderer
	responder    Responder
	runner       *JobRunner
	scheduler    *Scheduler
	validate     *validator.Validate
	now          func() time.Time
	logger       *slog.Logger

	handler http.Handler
}

// New opens the store, installs the admin account and builds the routes.
// The background scheduler starts with Start or ListenAndServe.
func New(ctx context.Context, cfg config.Fixture, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store *db.Store
		err   error
	)
	if cfg.DatabasePath == config.MemoryDatabase {
		store, err = db.OpenInMemory()
	} else {
		store, err = db.Open(cfg.DatabasePath, cfg.DatabaseKey)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s, err := newServer(ctx, cfg, store, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

func newServer(ctx context.Context, cfg config.Fixture, store *db.Store, opts Options) (*Server, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store.SetClock(now)

	if err := store.EnsureDefaultTools(ctx); err != nil {
		return nil, fmt.Errorf("install tools: %w", err)
	}

	hasher := opts.Hasher
	if hasher == nil {
		hasher = auth.NewBcryptHasher(auth.DefaultBcryptCost)
	}
	users, err := auth.NewUsers(store, hasher)
	if err != nil {
		return nil, err
	}
	if _, err := users.EnsureAccount(ctx, cfg.Admin); err != nil {
		return nil, fmt.Errorf("admin account: %w", err)
	}

	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	responder := opts.Responder
	if responder == nil {
		responder = NewResponder(cfg)
	}

	sessions := auth.NewSessionService(store, cfg.SessionDuration, false)
	sessions.SetClock(clockFunc(now))

	runner := NewJobRunner(store, responder)
	s := &Server{
		cfg:          cfg,
		store:        store,
		users:        users,
		sessions:     sessions,
		authMW:       auth.NewMiddleware(sessions, loginPath),
		loginLimiter: ratelimit.NewRateLimiter(cfg.LoginRateLimit),
		renderer:     renderer,
		responder:    responder,
		runner:       runner,
		scheduler:    NewScheduler(store, runner, opts.SchedulerInterval, now),
		validate:     newValidator(),
		now:          now,
		logger:       obs.Pkg("hubapp"),
	}
	s.handler = s.routes()

	if cfg.SeedDemoData {
		state, err := s.ensureData(ctx, seed.Request{Agents: 3, Jobs: 2})
		if err != nil {
			s.loginLimiter.Stop()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		s.logger.Info("demo data ready", "agents", state.Agents, "jobs", state.Jobs)
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	page := func(h http.HandlerFunc) http.Handler { return s.authMW.RequirePage(h) }
	api := func(h http.HandlerFunc) http.Handler { return s.authMW.RequireAPI(h) }
	limitLogin := ratelimit.Middleware(s.loginLimiter, ratelimit.ClientKey)

	mux.Handle("GET /login", s.authMW.OptionalAuth(http.HandlerFunc(s.handleLoginPage)))
	mux.Handle("POST /login", limitLogin(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /favicon.ico", http.NotFound)

	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	mux.Handle("GET /{$}", page(s.handleDashboard))
	mux.Handle("GET /assistants", page(s.handleAssistants))
	mux.Handle("POST /assistants", page(s.handleAssistantsForm))
	mux.Handle("GET /custom_agent_enhanced", page(s.handleBuilder))
	mux.Handle("POST /custom_agent_enhanced", page(s.handleBuilderForm))
	mux.Handle("GET /jobs", page(s.handleJobs))
	mux.Handle("POST /jobs", page(s.handleJobsForm))

	mux.Handle("GET /api/tools", api(s.apiListTools))
	mux.Handle("GET /api/agents", api(s.apiListAgents))
	mux.Handle("POST /api/agents", api(s.apiCreateAgent))
	mux.Handle("GET /api/agents/{id}", api(s.apiGetAgent))
	mux.Handle("PUT /api/agents/{id}", api(s.apiUpdateAgent))
	mux.Handle("DELETE /api/agents/{id}", api(s.apiDeleteAgent))
	mux.Handle("GET /api/chat", api(s.apiConversation))
	mux.Handle("POST /api/chat", api(s.apiChat))
	mux.Handle("DELETE /api/chat", api(s.apiResetChat))
	mux.Handle("GET /api/jobs", api(s.apiListJobs))
	mux.Handle("POST /api/jobs", api(s.apiCreateJob))
	mux.Handle("GET /api/jobs/{id}", api(s.apiGetJob))
	mux.Handle("PUT /api/jobs/{id}", api(s.apiUpdateJob))
	mux.Handle("DELETE /api/jobs/{id}", api(s.apiDeleteJob))
	mux.Handle("POST /api/jobs/{id}/run", api(s.apiRunJob))
	mux.Handle("POST /api/jobs/{id}/schedule", api(s.apiScheduleJob))
	mux.Handle("GET /api/jobs/{id}/history", api(s.apiJobHistory))

	if s.cfg.EnableTestAPI {
		mux.HandleFunc("POST "+seed.ResetPath, s.apiTestReset)
		mux.HandleFunc("POST "+seed.SeedPath, s.apiTestSeed)
	}

	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("hubapp", mux))
}

// Handler returns the application's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Store exposes the backing store.
func (s *Server) Store() *db.Store { return s.store }

// Scheduler exposes the job scheduler.
func (s *Server) Scheduler() *Scheduler { return s.scheduler }

// Start launches the background scheduler and the session sweeper. They
// stop when ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	go s.sweepSessions(ctx)
	return nil
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.sessions.Cleanup(ctx); err != nil {
				s.logger.Warn("session cleanup failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// ListenAndServe serves on cfg.ListenAddr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ctx); err != nil {
		ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("fixture listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close stops background work and closes the store.
func (s *Server) Close() error {
	s.scheduler.Stop()
	s.loginLimiter.Stop()
	return s.store.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }
