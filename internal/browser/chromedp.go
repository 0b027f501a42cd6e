package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

//go:embed js/elements.js
var elementsScript string

// ChromedpOptions configures the Chrome process chromedp launches.
type ChromedpOptions struct {
	Headless          bool
	ExecutablePath    string
	IgnoreHTTPSErrors bool
	Viewport          config.Viewport
}

// ChromedpDriver speaks CDP to a local Chrome without the Playwright
// runtime. Each session is a tab in its own browser context.
type ChromedpDriver struct {
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	closeOnce     sync.Once
	logger        *slog.Logger
}

// NewChromedpDriver launches Chrome. A browser that cannot be started is
// reported as unavailable.
func NewChromedpDriver(ctx context.Context, opts ChromedpOptions) (*ChromedpDriver, error) {
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = config.DefaultViewport
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("ignore-certificate-errors", opts.IgnoreHTTPSErrors),
		chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height),
	)
	if opts.ExecutablePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecutablePath))
	}

	// The browser outlives the caller's context; Close ends it.
	base := context.WithoutCancel(ctx)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(base, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, errs.Wrap(errs.Unavailable, "could not start chrome", err)
	}

	logger := obs.Pkg("browser").With("driver", config.DriverChromedp)
	logger.Info("chromedp driver started", "headless", opts.Headless)
	return &ChromedpDriver{
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		logger:        logger,
	}, nil
}

func (d *ChromedpDriver) Name() string { return config.DriverChromedp }

// NewSession opens a tab in a fresh browser context.
func (d *ChromedpDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	opts = opts.withDefaults()
	if d.browserCtx.Err() != nil {
		return nil, errs.New(errs.FailedPrecondition, "chromedp driver is closed")
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	id := obs.NewID("sess")
	s := &chromedpSession{
		opts:    opts,
		tabCtx:  tabCtx,
		cancel:  cancel,
		tracker: NewTracker(),
		console: NewConsoleSubscription(),
		logger:  obs.From(obs.WithSessionID(ctx, id)).With("pkg", "browser", "driver", config.DriverChromedp),
		url:     "about:blank",
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	if err := s.run(ctx, opts.NavigationTimeout,
		network.Enable(),
		runtime.Enable(),
		cdplog.Enable(),
		chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height)),
	); err != nil {
		cancel()
		return nil, errs.Wrap(errs.Internal, "prepare tab", err)
	}
	s.logger.Debug("chromedp session created", "base_url", opts.BaseURL, "viewport", opts.Viewport.String())
	return s, nil
}

// Close ends Chrome. Calling it twice is harmless.
func (d *ChromedpDriver) Close() error {
	d.closeOnce.Do(func() {
		_ = chromedp.Cancel(d.browserCtx)
		d.cancelBrowser()
		d.cancelAlloc()
		d.logger.Info("chromedp driver stopped")
	})
	return nil
}

type chromedpSession struct {
	opts    SessionOptions
	tabCtx  context.Context
	cancel  context.CancelFunc
	tracker *Tracker
	console *ConsoleSubscription
	logger  *slog.Logger

	mu  sync.Mutex
	url string
}

// onEvent runs on the chromedp event goroutine; it must not issue commands.
func (s *chromedpSession) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.tracker.Begin(ev.RequestID)
	case *network.EventLoadingFinished:
		s.tracker.End(ev.RequestID)
	case *network.EventLoadingFailed:
		s.tracker.End(ev.RequestID)
	case *page.EventFrameNavigated:
		if ev.Frame.ParentID == "" {
			s.setURL(ev.Frame.URL + ev.Frame.URLFragment)
		}
	case *page.EventNavigatedWithinDocument:
		s.setURL(ev.URL)
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			parts = append(parts, remoteObjectText(arg))
		}
		s.console.Record(ConsoleMessage{
			Level: consoleLevel(string(ev.Type)),
			Text:  strings.Join(parts, " "),
			URL:   s.URL(),
		})
	case *runtime.EventExceptionThrown:
		text := ev.ExceptionDetails.Text
		if ex := ev.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			text = ex.Description
		}
		s.console.Record(ConsoleMessage{Level: LevelError, Text: text, URL: s.URL()})
	case *cdplog.EventEntryAdded:
		s.console.Record(ConsoleMessage{
			Level: consoleLevel(string(ev.Entry.Level)),
			Text:  ev.Entry.Text,
			URL:   ev.Entry.URL,
		})
	}
}

func remoteObjectText(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(obj.Value), &s); err == nil {
			return s
		}
		return string(obj.Value)
	}
	return obj.Description
}

func (s *chromedpSession) setURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = u
}

func (s *chromedpSession) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *chromedpSession) BaseURL() string               { return s.opts.BaseURL }
func (s *chromedpSession) Console() *ConsoleSubscription { return s.console }
func (s *chromedpSession) SupportsScript() bool          { return true }

func (s *chromedpSession) Locate(selector string) Element {
	plan, err := ParseSelector(selector)
	return &chromedpElement{sess: s, selector: selector, plan: plan, parseErr: err, index: -1}
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromedpSession) Navigate(ctx context.Context, target string) error {
	u, err := resolveURL(s.opts.BaseURL, target)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.opts.NavigationTimeout, chromedp.Navigate(u)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.AtURL(navigationCode(err), fmt.Sprintf("navigate to %s", u), s.URL(), err)
	}
	s.logger.Debug("chromedp navigation", "url", s.URL())
	return s.WaitForQuiescence(ctx)
}

func (s *chromedpSession) Reload(ctx context.Context) error {
	if err := s.run(ctx, s.opts.NavigationTimeout, chromedp.Reload()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.AtURL(navigationCode(err), "reload", s.URL(), err)
	}
	return s.WaitForQuiescence(ctx)
}

func (s *chromedpSession) WaitForQuiescence(ctx context.Context) error {
	if err := s.tracker.Wait(ctx, s.opts.QuietWindow, s.opts.NavigationTimeout); err != nil {
		return errs.AtURL(errs.CodeOf(err), errs.MessageOf(err), s.URL(), err)
	}
	return nil
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.opts.OperationTimeout, chromedp.Title(&title)); err != nil {
		return "", errs.AtURL(errs.Internal, "read title", s.URL(), err)
	}
	return title, nil
}

func (s *chromedpSession) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.opts.OperationTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", errs.AtURL(errs.Internal, "read content", s.URL(), err)
	}
	return html, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) (Capture, error) {
	var buf []byte
	if err := s.run(ctx, s.opts.OperationTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return Capture{}, errs.AtURL(errs.Internal, "capture screenshot", s.URL(), err)
	}
	return pngCapture(buf), nil
}

func (s *chromedpSession) Close() error {
	s.console.Close()
	s.cancel()
	s.logger.Debug("chromedp session closed")
	return nil
}

// elementResult mirrors the object returned by js/elements.js.
type elementResult struct {
	Code    string `json:"code"`
	Count   int    `json:"count"`
	Value   string `json:"value"`
	Present bool   `json:"present"`
	Flag    bool   `json:"flag"`
	Message string `json:"message"`
}

type chromedpElement struct {
	sess     *chromedpSession
	selector string
	plan     Plan
	parseErr error
	index    int // -1: all matches, single-node operations use the first; -2: nothing
}

func (e *chromedpElement) Selector() string { return e.selector }

func (e *chromedpElement) Nth(i int) Element {
	n := *e
	switch {
	case e.index == -1:
		n.index = i
	case i != 0:
		n.index = -2
	}
	return &n
}

func (e *chromedpElement) First() Element { return e.Nth(0) }

// eval runs one operation against the current DOM.
func (e *chromedpElement) eval(ctx context.Context, op string, arg any) (elementResult, error) {
	if e.parseErr != nil {
		return elementResult{}, e.parseErr
	}
	planJSON, err := json.Marshal(e.plan)
	if err != nil {
		return elementResult{}, errs.Wrap(errs.Internal, "encode selector plan", err)
	}
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return elementResult{}, errs.Wrap(errs.Internal, "encode argument", err)
	}
	expr := fmt.Sprintf("(%s)(%s, %d, %q, %s)", elementsScript, planJSON, e.index, op, argJSON)

	var res elementResult
	if err := e.sess.run(ctx, e.sess.opts.OperationTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		if ctx.Err() != nil {
			return elementResult{}, ctx.Err()
		}
		return elementResult{}, e.fail(errs.Internal, op, err)
	}
	return res, nil
}

// act retries op until the element exists and is actionable or the
// operation timeout elapses.
func (e *chromedpElement) act(ctx context.Context, op string, arg any) (elementResult, error) {
	var res elementResult
	err := poll(ctx, e.sess.opts.OperationTimeout, func() (bool, error) {
		r, err := e.eval(ctx, op, arg)
		if err != nil {
			if errs.CodeOf(err) == errs.Internal {
				// The document may be mid-navigation.
				return false, nil
			}
			return false, err
		}
		switch r.Code {
		case "":
			res = r
			return true, nil
		case "unsupported":
			return false, e.fail(errs.Unsupported, op+": "+r.Message, nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		if errs.CodeOf(err) == errs.NavigationTimeout {
			return elementResult{}, e.fail(errs.ElementNotFound, op, err)
		}
		return elementResult{}, err
	}
	return res, nil
}

func (e *chromedpElement) fail(code errs.Code, op string, cause error) error {
	return &errs.Error{
		Code:     code,
		Message:  fmt.Sprintf("%s %s failed", op, e.selector),
		URL:      e.sess.URL(),
		Selector: e.selector,
		Err:      cause,
	}
}

func (e *chromedpElement) Count(ctx context.Context) (int, error) {
	res, err := e.eval(ctx, "count", nil)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (e *chromedpElement) IsVisible(ctx context.Context) (bool, error) {
	res, err := e.eval(ctx, "visible", nil)
	if err != nil {
		return false, err
	}
	return res.Flag, nil
}

func (e *chromedpElement) WaitVisible(ctx context.Context, timeout time.Duration) error {
	err := poll(ctx, timeout, func() (bool, error) {
		return e.visibleOrTransient(ctx)
	})
	if err != nil && errs.CodeOf(err) == errs.NavigationTimeout {
		return e.fail(errs.ElementNotFound, fmt.Sprintf("wait %s for visible", timeout), err)
	}
	return err
}

func (e *chromedpElement) WaitHidden(ctx context.Context, timeout time.Duration) error {
	err := poll(ctx, timeout, func() (bool, error) {
		visible, err := e.visibleOrTransient(ctx)
		if err != nil {
			return false, err
		}
		return !visible, nil
	})
	if err != nil && errs.CodeOf(err) == errs.NavigationTimeout {
		return e.fail(errs.AssertionFailed, fmt.Sprintf("wait %s for hidden", timeout), err)
	}
	return err
}

func (e *chromedpElement) visibleOrTransient(ctx context.Context) (bool, error) {
	visible, err := e.IsVisible(ctx)
	if err != nil && errs.CodeOf(err) != errs.Internal {
		return false, err
	}
	return err == nil && visible, nil
}

func (e *chromedpElement) IsEnabled(ctx context.Context) (bool, error) {
	res, err := e.act(ctx, "enabled", nil)
	return res.Flag, err
}

func (e *chromedpElement) Text(ctx context.Context) (string, error) {
	res, err := e.act(ctx, "text", nil)
	return res.Value, err
}

func (e *chromedpElement) Value(ctx context.Context) (string, error) {
	res, err := e.act(ctx, "value", nil)
	return res.Value, err
}

func (e *chromedpElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := e.act(ctx, "attr", name)
	return res.Value, res.Present, err
}

func (e *chromedpElement) Fill(ctx context.Context, value string) error {
	_, err := e.act(ctx, "fill", value)
	return err
}

func (e *chromedpElement) Click(ctx context.Context) error {
	_, err := e.act(ctx, "click", nil)
	return err
}

func (e *chromedpElement) SelectOption(ctx context.Context, value string) error {
	_, err := e.act(ctx, "select", value)
	return err
}

func (e *chromedpElement) SetChecked(ctx context.Context, checked bool) error {
	_, err := e.act(ctx, "setChecked", checked)
	return err
}

func (e *chromedpElement) IsChecked(ctx context.Context) (bool, error) {
	res, err := e.act(ctx, "checked", nil)
	return res.Flag, err
}
