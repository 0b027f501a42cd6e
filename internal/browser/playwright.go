package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// PlaywrightOptions configures the Chromium instance Playwright launches.
type PlaywrightOptions struct {
	Headless       bool
	SlowMo         time.Duration
	ExecutablePath string
}

// PlaywrightDriver owns one Playwright runtime and one Chromium process.
// Sessions are isolated browser contexts on that process.
type PlaywrightDriver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *slog.Logger
}

// NewPlaywrightDriver starts Playwright and launches Chromium. A missing
// Playwright installation is reported as unavailable so callers can skip.
func NewPlaywrightDriver(opts PlaywrightOptions) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "playwright not available", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	if opts.ExecutablePath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecutablePath)
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "could not launch chromium", err)
	}

	logger := obs.Pkg("browser").With("driver", config.DriverPlaywright)
	logger.Info("playwright driver started", "headless", opts.Headless, "version", browser.Version())
	return &PlaywrightDriver{pw: pw, browser: browser, logger: logger}, nil
}

func (d *PlaywrightDriver) Name() string { return config.DriverPlaywright }

// NewSession opens a fresh browser context with one page.
func (d *PlaywrightDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	opts = opts.withDefaults()

	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return nil, errs.New(errs.FailedPrecondition, "playwright driver is closed")
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
		IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create browser context", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, errs.Wrap(errs.Internal, "create page", err)
	}
	pg.SetDefaultTimeout(float64(opts.OperationTimeout.Milliseconds()))
	pg.SetDefaultNavigationTimeout(float64(opts.NavigationTimeout.Milliseconds()))

	id := obs.NewID("sess")
	s := &playwrightSession{
		opts:    opts,
		bctx:    bctx,
		page:    pg,
		tracker: NewTracker(),
		console: NewConsoleSubscription(),
		logger:  obs.From(obs.WithSessionID(ctx, id)).With("pkg", "browser", "driver", config.DriverPlaywright),
	}
	s.subscribe()
	s.logger.Debug("playwright session created", "base_url", opts.BaseURL, "viewport", opts.Viewport.String())
	return s, nil
}

// Close shuts down Chromium and the Playwright runtime. Calling it twice is
// harmless.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	var closeErr error
	if err := d.browser.Close(); err != nil {
		closeErr = fmt.Errorf("close browser: %w", err)
	}
	if err := d.pw.Stop(); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("stop playwright: %w", err)
	}
	d.browser, d.pw = nil, nil
	d.logger.Info("playwright driver stopped")
	return closeErr
}

type playwrightSession struct {
	opts    SessionOptions
	bctx    playwright.BrowserContext
	page    playwright.Page
	tracker *Tracker
	console *ConsoleSubscription
	logger  *slog.Logger
}

// subscribe feeds network activity into the tracker and console output into
// the subscription. Callbacks run on the Playwright dispatcher goroutine.
func (s *playwrightSession) subscribe() {
	s.page.OnRequest(func(r playwright.Request) { s.tracker.Begin(r) })
	s.page.OnRequestFinished(func(r playwright.Request) { s.tracker.End(r) })
	s.page.OnRequestFailed(func(r playwright.Request) { s.tracker.End(r) })
	s.page.OnConsole(func(m playwright.ConsoleMessage) {
		s.console.Record(ConsoleMessage{
			Level: consoleLevel(m.Type()),
			Text:  m.Text(),
			URL:   s.page.URL(),
		})
	})
	s.page.OnPageError(func(err error) {
		s.console.Record(ConsoleMessage{Level: LevelError, Text: err.Error(), URL: s.page.URL()})
	})
}

func (s *playwrightSession) BaseURL() string               { return s.opts.BaseURL }
func (s *playwrightSession) URL() string                   { return s.page.URL() }
func (s *playwrightSession) Console() *ConsoleSubscription { return s.console }
func (s *playwrightSession) SupportsScript() bool          { return true }

func (s *playwrightSession) Locate(selector string) Element {
	_, err := ParseSelector(selector)
	return &playwrightElement{
		sess:     s,
		selector: selector,
		loc:      s.page.Locator(selector),
		parseErr: err,
	}
}

func (s *playwrightSession) Navigate(ctx context.Context, target string) error {
	u, err := resolveURL(s.opts.BaseURL, target)
	if err != nil {
		return err
	}
	timeout, err := remaining(ctx, s.opts.NavigationTimeout)
	if err != nil {
		return err
	}
	if _, err := s.page.Goto(u, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeout),
	}); err != nil {
		return errs.AtURL(playwrightNavigationCode(err), fmt.Sprintf("navigate to %s", u), s.page.URL(), err)
	}
	s.logger.Debug("playwright navigation", "url", s.page.URL())
	return s.WaitForQuiescence(ctx)
}

func (s *playwrightSession) Reload(ctx context.Context) error {
	timeout, err := remaining(ctx, s.opts.NavigationTimeout)
	if err != nil {
		return err
	}
	if _, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeout),
	}); err != nil {
		return errs.AtURL(playwrightNavigationCode(err), "reload", s.page.URL(), err)
	}
	return s.WaitForQuiescence(ctx)
}

func (s *playwrightSession) WaitForQuiescence(ctx context.Context) error {
	if err := s.tracker.Wait(ctx, s.opts.QuietWindow, s.opts.NavigationTimeout); err != nil {
		return errs.AtURL(errs.CodeOf(err), errs.MessageOf(err), s.page.URL(), err)
	}
	return nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := s.page.Title()
	if err != nil {
		return "", errs.AtURL(errs.Internal, "read title", s.page.URL(), err)
	}
	return title, nil
}

func (s *playwrightSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := s.page.Content()
	if err != nil {
		return "", errs.AtURL(errs.Internal, "read content", s.page.URL(), err)
	}
	return content, nil
}

func (s *playwrightSession) Screenshot(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return Capture{}, errs.AtURL(errs.Internal, "capture screenshot", s.page.URL(), err)
	}
	return pngCapture(data), nil
}

func (s *playwrightSession) Close() error {
	s.console.Close()
	if err := s.bctx.Close(); err != nil {
		return errs.Wrap(errs.Internal, "close browser context", err)
	}
	s.logger.Debug("playwright session closed")
	return nil
}

type playwrightElement struct {
	sess     *playwrightSession
	selector string
	loc      playwright.Locator
	narrowed bool
	parseErr error
}

func (e *playwrightElement) Selector() string { return e.selector }

func (e *playwrightElement) Nth(i int) Element {
	return &playwrightElement{sess: e.sess, selector: e.selector, loc: e.loc.Nth(i), narrowed: true, parseErr: e.parseErr}
}

func (e *playwrightElement) First() Element { return e.Nth(0) }

// one is the locator single-node operations act on.
func (e *playwrightElement) one() playwright.Locator {
	if e.narrowed {
		return e.loc
	}
	return e.loc.First()
}

func (e *playwrightElement) Count(ctx context.Context) (int, error) {
	if err := e.precheck(ctx); err != nil {
		return 0, err
	}
	n, err := e.loc.Count()
	if err != nil {
		return 0, e.fail(ctx, errs.ElementNotFound, "count", err)
	}
	return n, nil
}

func (e *playwrightElement) WaitVisible(ctx context.Context, timeout time.Duration) error {
	return e.waitFor(ctx, timeout, playwright.WaitForSelectorStateVisible, errs.ElementNotFound)
}

func (e *playwrightElement) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return e.waitFor(ctx, timeout, playwright.WaitForSelectorStateHidden, errs.AssertionFailed)
}

func (e *playwrightElement) waitFor(ctx context.Context, timeout time.Duration, state *playwright.WaitForSelectorState, code errs.Code) error {
	if err := e.precheck(ctx); err != nil {
		return err
	}
	ms, err := remaining(ctx, timeout)
	if err != nil {
		return err
	}
	if err := e.one().WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: playwright.Float(ms),
	}); err != nil {
		return e.fail(ctx, code, fmt.Sprintf("wait for %s", *state), err)
	}
	return nil
}

func (e *playwrightElement) IsVisible(ctx context.Context) (bool, error) {
	if err := e.precheck(ctx); err != nil {
		return false, err
	}
	visible, err := e.one().IsVisible()
	if err != nil {
		return false, e.fail(ctx, errs.ElementNotFound, "visibility", err)
	}
	return visible, nil
}

func (e *playwrightElement) IsEnabled(ctx context.Context) (bool, error) {
	if err := e.precheck(ctx); err != nil {
		return false, err
	}
	enabled, err := e.one().IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: e.opTimeout(ctx)})
	if err != nil {
		return false, e.fail(ctx, errs.ElementNotFound, "enabled state", err)
	}
	return enabled, nil
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	if err := e.precheck(ctx); err != nil {
		return "", err
	}
	text, err := e.one().TextContent(playwright.LocatorTextContentOptions{Timeout: e.opTimeout(ctx)})
	if err != nil {
		return "", e.fail(ctx, errs.ElementNotFound, "text", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *playwrightElement) Value(ctx context.Context) (string, error) {
	if err := e.precheck(ctx); err != nil {
		return "", err
	}
	value, err := e.one().InputValue(playwright.LocatorInputValueOptions{Timeout: e.opTimeout(ctx)})
	if err != nil {
		return "", e.fail(ctx, errs.ElementNotFound, "value", err)
	}
	return value, nil
}

const attributeScript = `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`

func (e *playwrightElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.precheck(ctx); err != nil {
		return "", false, err
	}
	res, err := e.one().Evaluate(attributeScript, name, playwright.LocatorEvaluateOptions{Timeout: e.opTimeout(ctx)})
	if err != nil {
		return "", false, e.fail(ctx, errs.ElementNotFound, "attribute "+name, err)
	}
	value, ok := res.(string)
	return value, ok, nil
}

func (e *playwrightElement) Fill(ctx context.Context, value string) error {
	if err := e.precheck(ctx); err != nil {
		return err
	}
	if err := e.one().Fill(value, playwright.LocatorFillOptions{Timeout: e.opTimeout(ctx)}); err != nil {
		return e.fail(ctx, errs.ElementNotFound, "fill", err)
	}
	return nil
}

func (e *playwrightElement) Click(ctx context.Context) error {
	if err := e.precheck(ctx); err != nil {
		return err
	}
	if err := e.one().Click(playwright.LocatorClickOptions{Timeout: e.opTimeout(ctx)}); err != nil {
		return e.fail(ctx, errs.ElementNotFound, "click", err)
	}
	return nil
}

func (e *playwrightElement) SelectOption(ctx context.Context, value string) error {
	if err := e.precheck(ctx); err != nil {
		return err
	}
	if _, err := e.one().SelectOption(
		playwright.SelectOptionValues{Values: playwright.StringSlice(value)},
		playwright.LocatorSelectOptionOptions{Timeout: e.opTimeout(ctx)},
	); err != nil {
		return e.fail(ctx, errs.ElementNotFound, fmt.Sprintf("select option %q", value), err)
	}
	return nil
}

func (e *playwrightElement) SetChecked(ctx context.Context, checked bool) error {
	if err := e.precheck(ctx); err != nil {
		return err
	}
	if err := e.one().SetChecked(checked, playwright.LocatorSetCheckedOptions{Timeout: e.opTimeout(ctx)}); err != nil {
		return e.fail(ctx, errs.ElementNotFound, "set checked", err)
	}
	return nil
}

func (e *playwrightElement) IsChecked(ctx context.Context) (bool, error) {
	if err := e.precheck(ctx); err != nil {
		return false, err
	}
	checked, err := e.one().IsChecked(playwright.LocatorIsCheckedOptions{Timeout: e.opTimeout(ctx)})
	if err != nil {
		return false, e.fail(ctx, errs.ElementNotFound, "checked state", err)
	}
	return checked, nil
}

func (e *playwrightElement) precheck(ctx context.Context) error {
	if e.parseErr != nil {
		return e.parseErr
	}
	return ctx.Err()
}

// opTimeout is the operation timeout, shortened to the context deadline.
func (e *playwrightElement) opTimeout(ctx context.Context) *float64 {
	ms, err := remaining(ctx, e.sess.opts.OperationTimeout)
	if err != nil {
		ms = 1
	}
	return playwright.Float(ms)
}

// fail maps a Playwright error onto the harness taxonomy. Timeouts become
// code; script-capability problems become unsupported; anything else is
// internal.
func (e *playwrightElement) fail(ctx context.Context, code errs.Code, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case isPlaywrightTimeout(err):
	case strings.Contains(err.Error(), "Not a checkbox or radio button"),
		strings.Contains(err.Error(), "Element is not an <input>"),
		strings.Contains(err.Error(), "Element is not a <select>"):
		code = errs.Unsupported
	default:
		code = errs.Internal
	}
	return &errs.Error{
		Code:     code,
		Message:  fmt.Sprintf("%s %s failed", op, e.selector),
		URL:      e.sess.page.URL(),
		Selector: e.selector,
		Err:      err,
	}
}

func isPlaywrightTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout) || strings.Contains(err.Error(), "Timeout")
}

// playwrightNavigationCode is navigationCode for errors from Goto and
// Reload, which report net::ERR_* failures as plain errors.
func playwrightNavigationCode(err error) errs.Code {
	if isPlaywrightTimeout(err) {
		return errs.NavigationTimeout
	}
	return errs.Unavailable
}

// remaining converts d to milliseconds, shortened to the context deadline.
func remaining(ctx context.Context, d time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds()), nil
}

func consoleLevel(kind string) string {
	switch kind {
	case "error", "assert":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "info":
		return LevelInfo
	default:
		return LevelLog
	}
}
