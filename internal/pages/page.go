// Package pages holds the page objects for the AI Hub application. Every
// selector a scenario relies on is declared here, once.
package pages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/browser"
	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Page binds a session to one application path.
type Page struct {
	sess    browser.Session
	base    string
	path    string
	Timeout time.Duration // bound for waits and expectations
}

func bind(sess browser.Session, baseURL, path string) (Page, error) {
	base := strings.TrimRight(baseURL, "/")
	if sess == nil {
		return Page{}, errs.New(errs.InvalidArgument, "page object needs a session")
	}
	if base != strings.TrimRight(sess.BaseURL(), "/") {
		return Page{}, errs.New(errs.BaseMismatch,
			fmt.Sprintf("page for %s bound to a session created for %s", base, sess.BaseURL()))
	}
	return Page{sess: sess, base: base, path: path, Timeout: config.DefaultOperationTimeout}, nil
}

// Session returns the bound session.
func (p *Page) Session() browser.Session { return p.sess }

// URL is the absolute address of the page.
func (p *Page) URL() string { return p.base + p.path }

// Path is the page path relative to the base address.
func (p *Page) Path() string { return p.path }

// IsCurrent reports whether the session is on this page.
func (p *Page) IsCurrent() bool {
	u := strings.TrimPrefix(p.sess.URL(), p.base)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u == p.path || (p.path == "/" && u == "")
}

func (p *Page) open(ctx context.Context) error {
	return p.sess.Navigate(ctx, p.path)
}

func (p *Page) el(selector string) browser.Element {
	return p.sess.Locate(selector)
}

// follow clicks el and waits for the session to leave the current address.
func (p *Page) follow(ctx context.Context, el browser.Element) error {
	before := p.sess.URL()
	if err := el.Click(ctx); err != nil {
		return err
	}
	if err := browser.WaitForURL(ctx, p.sess, func(u string) bool { return u != before }, p.Timeout); err != nil {
		return err
	}
	return p.sess.WaitForQuiescence(ctx)
}
