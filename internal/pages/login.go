package pages

import (
	"context"
	"strings"

	"github.com/kuitang/aihub-e2e/internal/browser"
)

// Login form lookup strategies, most specific first. Several application
// versions name the identifier field differently.
var (
	IdentifierStrategies = browser.Strategies(`input[name="username"]`, `input[name="email"]`, "#username", "#email")
	SecretStrategies     = browser.Strategies(`input[name="password"]`, `input[type="password"]`, "#password")
	SubmitStrategies     = browser.Strategies(`button[type="submit"]`, `input[type="submit"]`, ".btn-login")
)

// LoginPage is the sign-in form.
type LoginPage struct {
	Page
}

// NewLoginPage binds the login form at loginPath.
func NewLoginPage(sess browser.Session, baseURL, loginPath string) (*LoginPage, error) {
	p, err := bind(sess, baseURL, loginPath)
	if err != nil {
		return nil, err
	}
	return &LoginPage{Page: p}, nil
}

func (p *LoginPage) Navigate(ctx context.Context) (*LoginPage, error) {
	return p, p.open(ctx)
}

// OnLoginSurface reports whether the session address contains the login path.
func (p *LoginPage) OnLoginSurface() bool {
	return strings.Contains(p.sess.URL(), p.path)
}

func (p *LoginPage) Identifier(ctx context.Context) (browser.Element, error) {
	el, _, err := browser.ResilientLookup(ctx, p.sess, IdentifierStrategies, p.Timeout)
	return el, err
}

func (p *LoginPage) Secret(ctx context.Context) (browser.Element, error) {
	el, _, err := browser.ResilientLookup(ctx, p.sess, SecretStrategies, p.Timeout)
	return el, err
}

func (p *LoginPage) Submit(ctx context.Context) (browser.Element, error) {
	el, _, err := browser.ResilientLookup(ctx, p.sess, SubmitStrategies, p.Timeout)
	return el, err
}

// Flash is the error banner shown after a rejected sign-in.
func (p *LoginPage) Flash() browser.Element {
	return p.el(".alert-danger, .flash-error")
}

// TitleLooksRight reports whether the document title names the product.
func (p *LoginPage) TitleLooksRight(ctx context.Context) (bool, error) {
	title, err := p.sess.Title(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(title), "ai hub"), nil
}
