package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

type contextKey string

const userKey contextKey = "user"

// Middleware gates handlers behind a session.
type Middleware struct {
	sessions  *SessionService
	loginPath string
}

// NewMiddleware creates the auth middleware. Pages without a session are
// sent to loginPath.
func NewMiddleware(sessions *SessionService, loginPath string) *Middleware {
	return &Middleware{sessions: sessions, loginPath: loginPath}
}

func (m *Middleware) authenticate(r *http.Request) (*http.Request, bool) {
	token, err := GetFromRequest(r)
	if err != nil {
		return r, false
	}
	user, err := m.sessions.Validate(r.Context(), token)
	if err != nil {
		return r, false
	}
	return r.WithContext(WithUser(r.Context(), user)), true
}

// RequirePage redirects visitors without a valid session to the login page,
// remembering where they were going.
func (m *Middleware) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed, ok := m.authenticate(r)
		if !ok {
			target := m.loginPath
			if r.URL.Path != "/" {
				target += "?next=" + url.QueryEscape(r.URL.RequestURI())
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// RequireAPI answers 401 with a JSON error when the session is missing.
func (m *Middleware) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed, ok := m.authenticate(r)
		if !ok {
			obs.From(r.Context()).Debug("api request without session", "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
			return
		}
		next.ServeHTTP(w, authed)
	})
}

// OptionalAuth adds the user to the context when a session is present.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed, _ := m.authenticate(r)
		next.ServeHTTP(w, authed)
	})
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user db.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUser returns the authenticated user and whether there is one.
func GetUser(ctx context.Context) (db.User, bool) {
	u, ok := ctx.Value(userKey).(db.User)
	return u, ok
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	_, ok := GetUser(ctx)
	return ok
}
