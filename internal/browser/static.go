package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/logutil"
	"github.com/kuitang/aihub-e2e/internal/obs"
)

// StaticDriver fetches pages over HTTP and works on the parsed DOM. No
// script runs: links, forms, checkboxes and the Bootstrap data attributes
// for modals and collapses behave as in a browser, anything that only a
// script handler implements reports unsupported.
type StaticDriver struct{}

// NewStaticDriver returns the script-free driver.
func NewStaticDriver() *StaticDriver {
	return &StaticDriver{}
}

func (d *StaticDriver) Name() string { return config.DriverStatic }

func (d *StaticDriver) Close() error { return nil }

// NewSession creates a session with its own cookie jar.
func (d *StaticDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	opts = opts.withDefaults()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create cookie jar", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.IgnoreHTTPSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed development hosts
	}

	id := obs.NewID("sess")
	s := &staticSession{
		opts: opts,
		id:   id,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   opts.NavigationTimeout,
		},
		tracker: NewTracker(),
		console: NewConsoleSubscription(),
		logger:  obs.From(obs.WithSessionID(ctx, id)).With("pkg", "browser", "driver", config.DriverStatic),
		url:     "about:blank",
	}
	s.logger.Debug("static session created", "base_url", opts.BaseURL)
	return s, nil
}

type staticSession struct {
	opts    SessionOptions
	id      string
	client  *http.Client
	tracker *Tracker
	console *ConsoleSubscription
	logger  *slog.Logger

	doc *goquery.Document
	url string
}

func (s *staticSession) BaseURL() string                { return s.opts.BaseURL }
func (s *staticSession) URL() string                    { return s.url }
func (s *staticSession) Console() *ConsoleSubscription  { return s.console }
func (s *staticSession) SupportsScript() bool           { return false }
func (s *staticSession) Locate(selector string) Element { return newStaticElement(s, selector) }

func (s *staticSession) Navigate(ctx context.Context, target string) error {
	u, err := resolveURL(s.opts.BaseURL, target)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return errs.AtURL(errs.NavigationTimeout, "build request", s.url, err)
	}
	return s.load(ctx, req)
}

func (s *staticSession) Reload(ctx context.Context) error {
	if s.doc == nil {
		return nil
	}
	return s.Navigate(ctx, s.url)
}

func (s *staticSession) WaitForQuiescence(ctx context.Context) error {
	if err := s.tracker.Wait(ctx, s.opts.QuietWindow, s.opts.NavigationTimeout); err != nil {
		return errs.AtURL(errs.CodeOf(err), errs.MessageOf(err), s.url, err)
	}
	return nil
}

func (s *staticSession) Title(ctx context.Context) (string, error) {
	if s.doc == nil {
		return "", nil
	}
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

func (s *staticSession) Content(ctx context.Context) (string, error) {
	if s.doc == nil {
		return "", nil
	}
	out, err := s.doc.Html()
	if err != nil {
		return "", errs.AtURL(errs.Internal, "render document", s.url, err)
	}
	return out, nil
}

// Screenshot returns the current DOM as HTML; there is no renderer.
func (s *staticSession) Screenshot(ctx context.Context) (Capture, error) {
	content, err := s.Content(ctx)
	if err != nil {
		return Capture{}, err
	}
	return Capture{Data: []byte(content), ContentType: "text/html; charset=utf-8", Ext: ".html"}, nil
}

func (s *staticSession) Close() error {
	s.console.Close()
	s.client.CloseIdleConnections()
	s.logger.Debug("static session closed")
	return nil
}

// load performs req, replaces the document and waits for quiescence.
func (s *staticSession) load(ctx context.Context, req *http.Request) error {
	ctx, cancel := withTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	s.tracker.Begin(req)
	resp, err := s.client.Do(req)
	if err != nil {
		s.tracker.End(req)
		return errs.AtURL(navigationCode(err), fmt.Sprintf("%s %s failed", req.Method, req.URL), s.url, err)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	resp.Body.Close()
	s.tracker.End(req)
	if err != nil {
		return errs.AtURL(navigationCode(err), "read response", resp.Request.URL.String(), err)
	}

	s.doc = doc
	s.url = resp.Request.URL.String()
	s.logger.Debug("static navigation", "method", req.Method, "url", s.url, "status", resp.StatusCode,
		"headers", logutil.FormatHeadersForLog(resp.Header))
	if resp.StatusCode >= http.StatusBadRequest {
		s.console.Record(ConsoleMessage{
			Level: LevelError,
			Text: fmt.Sprintf("Failed to load resource: the server responded with a status of %d (%s)",
				resp.StatusCode, http.StatusText(resp.StatusCode)),
			URL: s.url,
		})
	}
	return s.WaitForQuiescence(ctx)
}

// resolveOnPage resolves ref against the current page address.
func (s *staticSession) resolveOnPage(ref string) (string, error) {
	base, err := url.Parse(s.url)
	if err != nil || !base.IsAbs() {
		return resolveURL(s.opts.BaseURL, ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, fmt.Sprintf("parse url %q", ref), err)
	}
	return base.ResolveReference(u).String(), nil
}

func (s *staticSession) submit(ctx context.Context, form, submitter *html.Node) error {
	method := strings.ToUpper(attr(form, "method"))
	if method != http.MethodPost {
		method = http.MethodGet
	}
	action, err := s.resolveOnPage(attr(form, "action"))
	if err != nil {
		return err
	}
	values := formValues(form, submitter)
	s.logger.Debug("static form submit", "method", method, "action", action, "values", logutil.FormValuesForLog(values))

	var req *http.Request
	if method == http.MethodGet {
		u, err := url.Parse(action)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "parse form action", err)
		}
		u.RawQuery = values.Encode()
		req, err = http.NewRequest(http.MethodGet, u.String(), nil)
		if err != nil {
			return errs.AtURL(errs.NavigationTimeout, "build request", s.url, err)
		}
	} else {
		req, err = http.NewRequest(http.MethodPost, action, strings.NewReader(values.Encode()))
		if err != nil {
			return errs.AtURL(errs.NavigationTimeout, "build request", s.url, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return s.load(ctx, req)
}

// query resolves a plan against the current document, in document order.
func (s *staticSession) query(plan Plan) ([]*html.Node, error) {
	if s.doc == nil {
		return nil, nil
	}
	return matchPlan(s.doc.Selection, plan)
}

func matchPlan(root *goquery.Selection, plan Plan) ([]*html.Node, error) {
	seen := make(map[*html.Node]bool)
	var nodes []*html.Node
	for _, alt := range plan.Alternatives {
		sel := root
		for _, step := range alt.Steps {
			m, err := cascadia.Compile(step.CSS)
			if err != nil {
				return nil, errs.ForSelector(errs.InvalidArgument, fmt.Sprintf("invalid css %q", step.CSS), plan.Source, err)
			}
			switch step.Combinator {
			case CombinatorChild:
				sel = sel.ChildrenMatcher(m)
			case CombinatorSame:
				sel = sel.FilterMatcher(m)
			default:
				sel = sel.FindMatcher(m)
			}
			if step.HasText != "" {
				needle := step.HasText
				sel = sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
					return TextMatches(el.Text(), needle)
				})
			}
		}
		for _, n := range sel.Nodes {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) > 1 && len(root.Nodes) > 0 {
		order := documentOrder(root.Nodes[0])
		slices.SortFunc(nodes, func(a, b *html.Node) int { return order[a] - order[b] })
	}
	return nodes, nil
}

func documentOrder(root *html.Node) map[*html.Node]int {
	order := make(map[*html.Node]int)
	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		order[n] = i
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return order
}

// =============================================================================
// Elements
// =============================================================================

const allMatches = -1

type staticElement struct {
	s        *staticSession
	selector string
	plan     Plan
	parseErr error
	index    int
}

func newStaticElement(s *staticSession, selector string) *staticElement {
	plan, err := ParseSelector(selector)
	return &staticElement{s: s, selector: selector, plan: plan, parseErr: err, index: allMatches}
}

func (e *staticElement) Selector() string { return e.selector }

func (e *staticElement) Nth(i int) Element {
	next := *e
	switch {
	case e.index == allMatches:
		next.index = i
	case i != 0:
		// Narrowing a single match any further leaves nothing.
		next.index = -2
	}
	return &next
}

func (e *staticElement) First() Element { return e.Nth(0) }

func (e *staticElement) nodes() ([]*html.Node, error) {
	if e.parseErr != nil {
		return nil, e.parseErr
	}
	all, err := e.s.query(e.plan)
	if err != nil {
		return nil, err
	}
	if e.index == allMatches {
		return all, nil
	}
	if e.index < 0 || e.index >= len(all) {
		return nil, nil
	}
	return all[e.index : e.index+1], nil
}

func (e *staticElement) node() (*html.Node, error) {
	nodes, err := e.nodes()
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, e.fail(errs.ElementNotFound, "no element matches selector")
	}
	return nodes[0], nil
}

func (e *staticElement) fail(code errs.Code, message string) error {
	return &errs.Error{Code: code, Message: message, URL: e.s.url, Selector: e.selector}
}

// actionable returns the node when it is visible and enabled.
func (e *staticElement) actionable() (*html.Node, error) {
	n, err := e.node()
	if err != nil {
		return nil, err
	}
	if !nodeVisible(n) {
		return nil, e.fail(errs.ElementNotFound, "element is not visible")
	}
	if !nodeEnabled(n) {
		return nil, e.fail(errs.ElementNotFound, "element is disabled")
	}
	return n, nil
}

func (e *staticElement) Count(ctx context.Context) (int, error) {
	nodes, err := e.nodes()
	return len(nodes), err
}

func (e *staticElement) IsVisible(ctx context.Context) (bool, error) {
	nodes, err := e.nodes()
	if err != nil || len(nodes) == 0 {
		return false, err
	}
	return nodeVisible(nodes[0]), nil
}

func (e *staticElement) IsEnabled(ctx context.Context) (bool, error) {
	n, err := e.node()
	if err != nil {
		return false, err
	}
	return nodeEnabled(n), nil
}

// The DOM cannot change without an action, so waits resolve immediately.

func (e *staticElement) WaitVisible(ctx context.Context, _ time.Duration) error {
	visible, err := e.IsVisible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return e.fail(errs.ElementNotFound, "element is not visible")
	}
	return nil
}

func (e *staticElement) WaitHidden(ctx context.Context, _ time.Duration) error {
	visible, err := e.IsVisible(ctx)
	if err != nil {
		return err
	}
	if visible {
		return e.fail(errs.AssertionFailed, "element is still visible")
	}
	return nil
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	n, err := e.node()
	if err != nil {
		return "", err
	}
	return nodeText(n), nil
}

func (e *staticElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	n, err := e.node()
	if err != nil {
		return "", false, err
	}
	v, ok := lookupAttr(n, name)
	return v, ok, nil
}

func (e *staticElement) Value(ctx context.Context) (string, error) {
	n, err := e.node()
	if err != nil {
		return "", err
	}
	switch n.Data {
	case "input":
		return attr(n, "value"), nil
	case "textarea":
		return nodeText(n), nil
	case "select":
		if opt := selectedOption(n); opt != nil {
			return optionValue(opt), nil
		}
		return "", nil
	}
	return "", e.fail(errs.Unsupported, "element is not an input, textarea or select")
}

func (e *staticElement) Fill(ctx context.Context, value string) error {
	n, err := e.actionable()
	if err != nil {
		return err
	}
	if _, readonly := lookupAttr(n, "readonly"); readonly {
		return e.fail(errs.ElementNotFound, "element is not editable")
	}
	switch n.Data {
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "checkbox", "radio", "submit", "button", "reset", "image", "file", "hidden":
			return e.fail(errs.Unsupported, fmt.Sprintf("input of type %q cannot be filled", attr(n, "type")))
		}
		setAttr(n, "value", value)
	case "textarea":
		setText(n, value)
	default:
		return e.fail(errs.Unsupported, "element is not an input or textarea")
	}
	field := logutil.FormField{Selector: e.selector, Name: attr(n, "name"), Type: attr(n, "type")}
	e.s.logger.Debug("static fill", "selector", e.selector, "value", logutil.FieldValueForLog(field, value))
	return nil
}

func (e *staticElement) SelectOption(ctx context.Context, value string) error {
	n, err := e.actionable()
	if err != nil {
		return err
	}
	if n.Data != "select" {
		return e.fail(errs.Unsupported, "element is not a select")
	}
	var match *html.Node
	options := descendants(n, "option")
	for _, opt := range options {
		if optionValue(opt) == value {
			match = opt
			break
		}
	}
	if match == nil {
		for _, opt := range options {
			if NormalizeText(nodeText(opt)) == NormalizeText(value) {
				match = opt
				break
			}
		}
	}
	if match == nil {
		return e.fail(errs.ElementNotFound, fmt.Sprintf("no option with value %q", value))
	}
	for _, opt := range options {
		removeAttr(opt, "selected")
	}
	setAttr(match, "selected", "")
	return nil
}

func (e *staticElement) SetChecked(ctx context.Context, checked bool) error {
	n, err := e.actionable()
	if err != nil {
		return err
	}
	typ := strings.ToLower(attr(n, "type"))
	if n.Data != "input" || (typ != "checkbox" && typ != "radio") {
		return e.fail(errs.Unsupported, "element is not a checkbox or radio button")
	}
	if typ == "radio" && !checked {
		return e.fail(errs.Unsupported, "cannot uncheck a radio button")
	}
	setChecked(n, checked)
	return nil
}

func (e *staticElement) IsChecked(ctx context.Context) (bool, error) {
	n, err := e.node()
	if err != nil {
		return false, err
	}
	typ := strings.ToLower(attr(n, "type"))
	if n.Data != "input" || (typ != "checkbox" && typ != "radio") {
		return false, e.fail(errs.Unsupported, "element is not a checkbox or radio button")
	}
	_, ok := lookupAttr(n, "checked")
	return ok, nil
}

func (e *staticElement) Click(ctx context.Context) error {
	n, err := e.actionable()
	if err != nil {
		return err
	}
	s := e.s

	switch toggle := attr(n, "data-toggle"); toggle {
	case "modal", "popup", "collapse":
		target := attr(n, "data-target")
		if target == "" {
			target = attr(n, "href")
		}
		targets := s.doc.Find(target)
		if targets.Length() == 0 {
			return e.fail(errs.ElementNotFound, fmt.Sprintf("toggle target %q not found", target))
		}
		for _, t := range targets.Nodes {
			if toggle == "collapse" && hasClass(t, "show") {
				hideOverlay(t)
			} else {
				showOverlay(t)
			}
		}
		return nil
	}
	if dismiss := attr(n, "data-dismiss"); dismiss == "modal" || dismiss == "popup" {
		if overlay := closest(n, func(p *html.Node) bool { return hasClass(p, "modal") || hasClass(p, "popup") }); overlay != nil {
			hideOverlay(overlay)
			return nil
		}
	}

	if n.Data == "input" {
		switch strings.ToLower(attr(n, "type")) {
		case "checkbox":
			_, checked := lookupAttr(n, "checked")
			setChecked(n, !checked)
			return nil
		case "radio":
			setChecked(n, true)
			return nil
		}
	}

	if link := closest(n, func(p *html.Node) bool { return p.Data == "a" && attr(p, "href") != "" }); link != nil {
		href := attr(link, "href")
		if !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			target, err := s.resolveOnPage(href)
			if err != nil {
				return err
			}
			req, err := http.NewRequest(http.MethodGet, target, nil)
			if err != nil {
				return e.fail(errs.NavigationTimeout, err.Error())
			}
			return s.load(ctx, req)
		}
	}

	if isSubmitControl(n) {
		if form := closest(n, func(p *html.Node) bool { return p.Data == "form" }); form != nil {
			return s.submit(ctx, form, n)
		}
	}

	if _, ok := lookupAttr(n, "onclick"); ok {
		return e.fail(errs.Unsupported, "click handler requires script")
	}
	return nil
}

// =============================================================================
// DOM helpers
// =============================================================================

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && strings.EqualFold(a.Key, key)
	})
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	setAttr(n, "class", strings.TrimSpace(attr(n, "class")+" "+class))
}

func removeClass(n *html.Node, class string) {
	fields := slices.DeleteFunc(strings.Fields(attr(n, "class")), func(c string) bool { return c == class })
	setAttr(n, "class", strings.Join(fields, " "))
}

// setDisplay replaces any display declaration in the inline style.
func setDisplay(n *html.Node, display string) {
	var kept []string
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" || strings.HasPrefix(strings.ToLower(strings.ReplaceAll(decl, " ", "")), "display:") {
			continue
		}
		kept = append(kept, decl)
	}
	kept = append(kept, "display: "+display)
	setAttr(n, "style", strings.Join(kept, "; "))
}

func showOverlay(n *html.Node) {
	addClass(n, "show")
	setDisplay(n, "block")
}

func hideOverlay(n *html.Node) {
	removeClass(n, "show")
	setDisplay(n, "none")
}

func closest(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && pred(cur) {
			return cur
		}
	}
	return nil
}

func descendants(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		if p.Type == html.TextNode {
			b.WriteString(p.Data)
		}
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func setChecked(n *html.Node, checked bool) {
	if !checked {
		removeAttr(n, "checked")
		return
	}
	if strings.EqualFold(attr(n, "type"), "radio") {
		scope := closest(n, func(p *html.Node) bool { return p.Data == "form" })
		if scope == nil {
			scope = closest(n, func(p *html.Node) bool { return p.Data == "body" })
		}
		if scope != nil {
			for _, other := range descendants(scope, "input") {
				if strings.EqualFold(attr(other, "type"), "radio") && attr(other, "name") == attr(n, "name") {
					removeAttr(other, "checked")
				}
			}
		}
	}
	setAttr(n, "checked", "")
}

func optionValue(opt *html.Node) string {
	if v, ok := lookupAttr(opt, "value"); ok {
		return v
	}
	return strings.Join(strings.Fields(nodeText(opt)), " ")
}

// selectedOption follows the browser rule: the last option marked selected,
// else the first option.
func selectedOption(sel *html.Node) *html.Node {
	options := descendants(sel, "option")
	var chosen *html.Node
	for _, opt := range options {
		if _, ok := lookupAttr(opt, "selected"); ok {
			chosen = opt
		}
	}
	if chosen == nil && len(options) > 0 {
		chosen = options[0]
	}
	return chosen
}

var hiddenTags = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"title": true, "meta": true, "link": true, "noscript": true,
}

func elementHidden(n *html.Node) bool {
	if hiddenTags[n.Data] {
		return true
	}
	if _, ok := lookupAttr(n, "hidden"); ok {
		return true
	}
	if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	if hasClass(n, "d-none") {
		return true
	}
	if (hasClass(n, "modal") || hasClass(n, "popup") || hasClass(n, "collapse")) && !hasClass(n, "show") {
		return true
	}
	return false
}

func nodeVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && elementHidden(cur) {
			return false
		}
	}
	return true
}

var formControls = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true,
	"option": true, "optgroup": true, "fieldset": true,
}

func nodeEnabled(n *html.Node) bool {
	if !formControls[n.Data] {
		return true
	}
	if _, ok := lookupAttr(n, "disabled"); ok {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "fieldset" {
			if _, ok := lookupAttr(p, "disabled"); ok {
				return false
			}
		}
	}
	return true
}

func isSubmitControl(n *html.Node) bool {
	typ := strings.ToLower(attr(n, "type"))
	switch n.Data {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}

// formValues collects the successful controls of form.
func formValues(form, submitter *html.Node) url.Values {
	values := url.Values{}
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				collectControl(values, c)
			}
			walk(c)
		}
	}
	walk(form)
	if submitter != nil {
		if name := attr(submitter, "name"); name != "" {
			values.Add(name, attr(submitter, "value"))
		}
	}
	return values
}

func collectControl(values url.Values, n *html.Node) {
	name := attr(n, "name")
	if name == "" || !nodeEnabled(n) {
		return
	}
	switch n.Data {
	case "input":
		switch strings.ToLower(attr(n, "type")) {
		case "submit", "image", "button", "reset", "file":
			return
		case "checkbox", "radio":
			if _, ok := lookupAttr(n, "checked"); !ok {
				return
			}
			v, ok := lookupAttr(n, "value")
			if !ok {
				v = "on"
			}
			values.Add(name, v)
		default:
			values.Add(name, attr(n, "value"))
		}
	case "textarea":
		values.Add(name, nodeText(n))
	case "select":
		if opt := selectedOption(n); opt != nil {
			values.Add(name, optionValue(opt))
		}
	}
}
