package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/aihub-e2e/internal/db"
)

// ErrSessionNotFound means the request carries no usable session.
var ErrSessionNotFound = errors.New("session not found")

const (
	SessionIDLength   = 32 // 256 bits
	SessionCookieName = "aihub_session"
)

// SessionService issues and checks session cookies.
type SessionService struct {
	store    *db.Store
	duration time.Duration
	clock    Clock
	secure   bool
}

// NewSessionService creates a session service whose sessions last duration.
// secure marks cookies HTTPS-only.
func NewSessionService(store *db.Store, duration time.Duration, secure bool) *SessionService {
	return &SessionService{store: store, duration: duration, clock: realClock{}, secure: secure}
}

// SetClock replaces the clock used for expiry. Intended for testing.
func (s *SessionService) SetClock(c Clock) { s.clock = c }

// Create starts a session for userID and returns its token.
func (s *SessionService) Create(ctx context.Context, userID string) (string, error) {
	token, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	if err := s.store.CreateSession(ctx, token, userID, s.clock.Now().Add(s.duration)); err != nil {
		return "", err
	}
	return token, nil
}

// Validate returns the user behind a live session token.
func (s *SessionService) Validate(ctx context.Context, token string) (db.User, error) {
	return s.store.SessionUser(ctx, token, s.clock.Now())
}

// Delete ends a session (logout).
func (s *SessionService) Delete(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// Cleanup removes expired sessions and reports how many went.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.clock.Now())
}

// SetCookie sets the session cookie on the response.
func (s *SessionService) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.duration.Seconds()),
	})
}

// ClearCookie removes the session cookie.
func (s *SessionService) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// GetFromRequest retrieves the session token from the request cookie.
func GetFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if cookie.Value == "" {
		return "", ErrSessionNotFound
	}
	return cookie.Value, nil
}

func generateSessionID() (string, error) {
	bytes := make([]byte, SessionIDLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
