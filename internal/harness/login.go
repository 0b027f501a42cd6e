package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
	"github.com/kuitang/aihub-e2e/internal/pages"
)

// LoginProvider moves a session past the login boundary. It is owned by one
// scenario and counts the form submissions it performed.
type LoginProvider struct {
	creds     config.Credentials
	loginPath string
	timeout   time.Duration

	submissions int
}

// NewLoginProvider returns a provider for creds. timeout bounds both element
// lookup and the wait for the post-login redirect.
func NewLoginProvider(creds config.Credentials, loginPath string, timeout time.Duration) *LoginProvider {
	if loginPath == "" {
		loginPath = config.DefaultLoginPath
	}
	if timeout <= 0 {
		timeout = config.DefaultOperationTimeout
	}
	return &LoginProvider{creds: creds, loginPath: loginPath, timeout: timeout}
}

// Submissions is the number of times credentials were submitted.
func (p *LoginProvider) Submissions() int { return p.submissions }

// Acquire authenticates sess. A session that the application already
// redirects away from the login surface is returned untouched, so calling
// Acquire twice submits credentials at most once.
func (p *LoginProvider) Acquire(ctx context.Context, sess browser.Session) error {
	if p.creds.IsZero() {
		return errs.New(errs.InvalidArgument, "login needs a non-empty identifier and secret")
	}
	logger := obs.From(ctx).With("pkg", "harness")

	login, err := pages.NewLoginPage(sess, sess.BaseURL(), p.loginPath)
	if err != nil {
		return err
	}
	login.Timeout = p.timeout
	if _, err := login.Navigate(ctx); err != nil {
		return err
	}
	if !login.OnLoginSurface() {
		logger.Debug("session already authenticated", "url", sess.URL())
		return nil
	}

	identifier, err := login.Identifier(ctx)
	if err != nil {
		return err
	}
	secret, err := login.Secret(ctx)
	if err != nil {
		return err
	}
	submit, err := login.Submit(ctx)
	if err != nil {
		return err
	}
	if err := identifier.Fill(ctx, p.creds.Identifier()); err != nil {
		return err
	}
	if err := secret.Fill(ctx, p.creds.Secret()); err != nil {
		return err
	}
	if err := submit.Click(ctx); err != nil {
		return err
	}
	p.submissions++
	logger.Info("credentials submitted", "account", p.creds.String())

	left := func(u string) bool { return !strings.Contains(u, p.loginPath) }
	if err := browser.WaitForURL(ctx, sess, left, p.timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := fmt.Sprintf("still on the login surface %s after submitting credentials", p.timeout)
		if n, _ := login.Flash().Count(ctx); n > 0 {
			if flash, ferr := login.Flash().Text(ctx); ferr == nil && strings.TrimSpace(flash) != "" {
				msg += fmt.Sprintf(" (page says %q)", strings.TrimSpace(flash))
			}
		}
		return errs.AtURL(errs.AuthenticationTimeout, msg, sess.URL(), err)
	}
	if err := sess.WaitForQuiescence(ctx); err != nil {
		return err
	}
	logger.Debug("session authenticated", "url", sess.URL())
	return nil
}
