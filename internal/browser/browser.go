// Package browser is the driver capability surface the harness consumes:
// sessions that navigate, locate elements, wait for quiescence, capture
// screenshots and report console messages. Three drivers implement it:
// Playwright (default), chromedp (CDP without the Playwright node runtime)
// and a script-free static driver built on goquery.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Driver creates browser sessions. A Driver is shared by every scenario in a
// test binary; each Session it hands out is owned by exactly one scenario.
type Driver interface {
	Name() string
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close() error
}

// SessionOptions configures one browser context.
type SessionOptions struct {
	BaseURL           string
	Viewport          config.Viewport
	IgnoreHTTPSErrors bool
	NavigationTimeout time.Duration
	OperationTimeout  time.Duration
	QuietWindow       time.Duration
}

// OptionsFromConfig derives session options from the harness configuration.
func OptionsFromConfig(cfg config.Harness) SessionOptions {
	return SessionOptions{
		BaseURL:           cfg.BaseURL,
		Viewport:          cfg.Viewport,
		IgnoreHTTPSErrors: cfg.IgnoreHTTPSErrors,
		NavigationTimeout: cfg.NavigationTimeout,
		OperationTimeout:  cfg.OperationTimeout,
		QuietWindow:       cfg.QuietWindow,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = config.DefaultNavigationTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = config.DefaultOperationTimeout
	}
	if o.QuietWindow <= 0 {
		o.QuietWindow = config.DefaultQuietWindow
	}
	if o.Viewport.Width == 0 || o.Viewport.Height == 0 {
		o.Viewport = config.DefaultViewport
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return o
}

// Session is one browser context with a single page.
type Session interface {
	// BaseURL is the application address the session was created for.
	BaseURL() string
	// Navigate loads url (absolute, or relative to BaseURL) and waits for
	// quiescence.
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// WaitForQuiescence blocks until no request has been in flight for the
	// quiet window, bounded by the navigation timeout.
	WaitForQuiescence(ctx context.Context) error
	URL() string
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	// Locate returns a lazy element handle. Nothing is resolved until an
	// operation is called on it.
	Locate(selector string) Element
	Screenshot(ctx context.Context) (Capture, error)
	Console() *ConsoleSubscription
	// SupportsScript reports whether page scripts run in this session.
	SupportsScript() bool
	Close() error
}

// Element is a lazy handle over every node matching a selector. Operations
// that act on a single node use the first match unless Nth narrowed it.
type Element interface {
	Selector() string
	Count(ctx context.Context) (int, error)
	Nth(i int) Element
	First() Element
	WaitVisible(ctx context.Context, timeout time.Duration) error
	WaitHidden(ctx context.Context, timeout time.Duration) error
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Fill(ctx context.Context, value string) error
	Click(ctx context.Context) error
	SelectOption(ctx context.Context, value string) error
	SetChecked(ctx context.Context, checked bool) error
	IsChecked(ctx context.Context) (bool, error)
}

// Capture is a diagnostic snapshot of a session.
type Capture struct {
	Data        []byte
	ContentType string
	Ext         string
}

func pngCapture(data []byte) Capture {
	return Capture{Data: data, ContentType: "image/png", Ext: ".png"}
}

// Open starts the driver named by cfg.Driver.
func Open(ctx context.Context, cfg config.Harness) (Driver, error) {
	switch cfg.Driver {
	case config.DriverPlaywright, "":
		d, err := NewPlaywrightDriver(PlaywrightOptions{
			Headless:       cfg.Headless,
			SlowMo:         cfg.SlowMo,
			ExecutablePath: cfg.BrowserExecutable,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverChromedp:
		d, err := NewChromedpDriver(ctx, ChromedpOptions{
			Headless:          cfg.Headless,
			ExecutablePath:    cfg.BrowserExecutable,
			IgnoreHTTPSErrors: cfg.IgnoreHTTPSErrors,
			Viewport:          cfg.Viewport,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverStatic:
		return NewStaticDriver(), nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown driver %q", cfg.Driver))
	}
}

// resolveURL joins a relative path onto base. Absolute URLs pass through.
func resolveURL(base, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, fmt.Sprintf("parse url %q", target), err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, fmt.Sprintf("parse base url %q", base), err)
	}
	return b.ResolveReference(u).String(), nil
}

// navigationCode classifies a failed page load. Running out of time is a
// navigation timeout; a refused connection or a DNS failure means the
// application is unavailable.
func navigationCode(err error) errs.Code {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.NavigationTimeout
	}
	return errs.Unavailable
}

// withTimeout bounds ctx by timeout unless ctx already ends sooner.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
