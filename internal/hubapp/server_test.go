package hubapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/aihub-e2e/internal/auth"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/ratelimit"
	"github.com/kuitang/aihub-e2e/internal/seed"
)

// fixedNow is a Monday morning.
var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type testApp struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	client *http.Client
	clock  *auth.FakeClock
}

func newTestApp(t *testing.T, mutate ...func(*config.Fixture)) *testApp {
	t.Helper()
	cfg := config.DefaultFixture()
	cfg.LoginRateLimit = ratelimit.Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour}
	for _, m := range mutate {
		m(&cfg)
	}

	clock := auth.NewFakeClock(fixedNow)
	srv, err := New(context.Background(), cfg, Options{
		Hasher:            auth.FakeInsecureHasher{},
		Responder:         EchoResponder{},
		Now:               clock.Now,
		SchedulerInterval: -1,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testApp{t: t, srv: srv, ts: ts, client: client, clock: clock}
}

// login signs in as the default admin and returns the redirect target.
func (a *testApp) login() string {
	a.t.Helper()
	resp := a.postForm("/login", url.Values{
		"username": {config.DefaultIdentifier},
		"password": {config.DefaultSecret},
	})
	require.Equal(a.t, http.StatusSeeOther, resp.StatusCode)
	return resp.Header.Get("Location")
}

func (a *testApp) get(path string) *http.Response {
	a.t.Helper()
	resp, err := a.client.Get(a.ts.URL + path)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) postForm(path string, form url.Values) *http.Response {
	a.t.Helper()
	resp, err := a.client.PostForm(a.ts.URL+path, form)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) doJSON(method, path string, body any) *http.Response {
	a.t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, r)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// page fetches path, following one redirect, and parses the HTML.
func (a *testApp) page(path string) *goquery.Document {
	a.t.Helper()
	resp := a.get(path)
	if resp.StatusCode == http.StatusSeeOther {
		resp = a.get(resp.Header.Get("Location"))
	}
	require.Equal(a.t, http.StatusOK, resp.StatusCode, "GET %s", path)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(a.t, err)
	return doc
}

// follow submits a form and parses the page it redirects to.
func (a *testApp) follow(path string, form url.Values) *goquery.Document {
	a.t.Helper()
	resp := a.postForm(path, form)
	require.Equal(a.t, http.StatusSeeOther, resp.StatusCode, "POST %s", path)
	return a.page(resp.Header.Get("Location"))
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultFixture()
	cfg.SessionDuration = 0
	_, err := New(context.Background(), cfg, Options{Hasher: auth.FakeInsecureHasher{}})
	require.Error(t, err)
}

func TestHealthAndFavicon(t *testing.T) {
	app := newTestApp(t)

	resp := app.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["status"])

	assert.Equal(t, http.StatusNotFound, app.get("/favicon.ico").StatusCode)
}

func TestStaticAssets(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/static/app.js", "/static/app.css"} {
		resp := app.get(path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestProtectedPages_RedirectToLogin(t *testing.T) {
	app := newTestApp(t)

	resp := app.get("/")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = app.get("/jobs")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fjobs", resp.Header.Get("Location"))
}

func TestLogin_Page(t *testing.T) {
	app := newTestApp(t)

	doc := app.page("/login")
	assert.Contains(t, doc.Find("title").Text(), "AI Hub")
	assert.Equal(t, 1, doc.Find(`input[name="username"]`).Length())
	assert.Equal(t, 1, doc.Find(`input[name="password"]`).Length())
	assert.Equal(t, 1, doc.Find(`button[type="submit"]`).Length())
	assert.Zero(t, doc.Find(".new-sidebar").Length(), "no sidebar before sign-in")
}

func TestLogin_RejectedShowsFlash(t *testing.T) {
	app := newTestApp(t)

	resp := app.postForm("/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find(".alert-danger").Length())
	v, _ := doc.Find(`input[name="username"]`).Attr("value")
	assert.Equal(t, "admin", v)

	// Still signed out.
	assert.Equal(t, http.StatusSeeOther, app.get("/").StatusCode)
}

func TestLogin_RedirectsToNext(t *testing.T) {
	app := newTestApp(t)

	resp := app.postForm("/login", url.Values{
		"username": {"admin"}, "password": {"admin"}, "next": {"/jobs"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/jobs", resp.Header.Get("Location"))
}

func TestLogin_IsIdempotent(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, "/", app.login())

	resp := app.get("/login")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/jobs":                "/jobs",
		"/assistants?agent=1":  "/assistants?agent=1",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
		"/login?next=/jobs":    "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeNext(in), "safeNext(%q)", in)
	}
}

func TestLogout_EndsSession(t *testing.T) {
	app := newTestApp(t)
	app.login()
	require.Equal(t, http.StatusOK, app.get("/").StatusCode)

	resp := app.get("/logout")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, http.StatusSeeOther, app.get("/").StatusCode)
}

func TestLoginRateLimit(t *testing.T) {
	app := newTestApp(t, func(c *config.Fixture) {
		c.LoginRateLimit = ratelimit.Config{RPS: 0.001, Burst: 2, CleanupInterval: time.Hour}
	})

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	assert.Equal(t, http.StatusOK, app.postForm("/login", form).StatusCode)
	assert.Equal(t, http.StatusOK, app.postForm("/login", form).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, app.postForm("/login", form).StatusCode)
}

func TestTestAPI(t *testing.T) {
	app := newTestApp(t)

	resp := app.doJSON(http.MethodPost, seed.SeedPath, seed.Request{Agents: 2, Jobs: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, seed.State{Agents: 2, Jobs: 3}, decodeBody[seed.State](t, resp))

	// Counts are minimums.
	resp = app.doJSON(http.MethodPost, seed.SeedPath, seed.Request{Agents: 1, Jobs: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, seed.State{Agents: 2, Jobs: 3}, decodeBody[seed.State](t, resp))

	resp = app.doJSON(http.MethodPost, seed.SeedPath, seed.Request{Agents: 500})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.doJSON(http.MethodPost, seed.ResetPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, seed.State{}, decodeBody[seed.State](t, resp))
}

func TestTestAPI_JobsNeedAnAgent(t *testing.T) {
	app := newTestApp(t)

	resp := app.doJSON(http.MethodPost, seed.SeedPath, seed.Request{Jobs: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, seed.State{Agents: 1, Jobs: 2}, decodeBody[seed.State](t, resp))
}

func TestTestAPI_Disabled(t *testing.T) {
	app := newTestApp(t, func(c *config.Fixture) { c.EnableTestAPI = false })

	resp := app.doJSON(http.MethodPost, seed.ResetPath, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSeedClient_AgainstServer(t *testing.T) {
	app := newTestApp(t)
	client := seed.New(app.ts.URL, nil)
	ctx := context.Background()

	state, err := client.EnsureJobs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Jobs)
	assert.GreaterOrEqual(t, state.Agents, 1)

	state, err = client.Reset(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.Agents)
}

func TestSeedDemoData(t *testing.T) {
	app := newTestApp(t, func(c *config.Fixture) { c.SeedDemoData = true })

	agents, err := app.srv.Store().CountAgents(context.Background())
	require.NoError(t, err)
	jobs, err := app.srv.Store().CountJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, agents)
	assert.Equal(t, 2, jobs)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := config.DefaultFixture()
	srv, err := New(context.Background(), cfg, Options{Hasher: auth.FakeInsecureHasher{}, SchedulerInterval: -1})
	require.NoError(t, err)
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}
