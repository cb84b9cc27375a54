package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// Element attributes understood by the fake engine.
const (
	// AttrGoto makes a click navigate to the attribute path.
	AttrGoto = "data-goto"
	// AttrResponseURL is the URL of the response captured when the element submits.
	AttrResponseURL = "data-response-url"
	// AttrStatus is the status of the captured response (default 200).
	AttrStatus = "data-status"
	// AttrBody is the body of the captured response.
	AttrBody = "data-body"
)

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// BaseURL is used to render the session current URL.
	BaseURL string
	// Pages are the HTML pages of the site by path.
	Pages map[string]string
	// NavigateFailures is the number of navigations that will fail on every session
	// before succeeding.
	NavigateFailures int
	// HangNavigation makes navigations block until the context is done.
	HangNavigation bool
	// Eval is the script evaluation handler, by default scripts return nil.
	Eval   func(script string) (any, error)
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.BaseURL == "" {
		c.BaseURL = "http://fake.local"
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.Pages == nil {
		c.Pages = map[string]string{}
	}

	if c.Eval == nil {
		c.Eval = func(string) (any, error) { return nil, nil }
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "browser.Fake"})
	return nil
}

// Engine is a fake browser engine backed by static HTML pages. It doesn't run scripts,
// clicks follow the links, `data-goto` attributes and form actions.
type Engine struct {
	cfg      EngineConfig
	sessions []*Session
	mu       sync.Mutex
	logger   log.Logger
}

var _ browser.Engine = &Engine{}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Check satisfies browser.Engine, the fake engine has no dependencies.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	return []model.CheckResult{{ID: "browser_engine", Message: "Fake browser engine, no browser required", Status: model.CheckStatusOK}}
}

// NewSession satisfies browser.Engine.
func (e *Engine) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Session{
		engine:       e,
		opts:         opts,
		failuresLeft: e.cfg.NavigateFailures,
	}

	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()

	e.logger.Debugf("Created fake browser session (proxy: %v)", opts.Proxy)
	return s, nil
}

// Sessions returns all the sessions created by the engine.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*Session{}, e.sessions...)
}

// OpenSessions returns the number of sessions that have not been closed.
func (e *Engine) OpenSessions() int {
	n := 0
	for _, s := range e.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is a fake browser session.
type Session struct {
	engine       *Engine
	opts         browser.SessionOptions
	doc          *goquery.Document
	path         string
	navigations  []string
	failuresLeft int
	closed       bool
	mu           sync.Mutex
}

var _ browser.Session = &Session{}

// Options returns the options the session was created with.
func (s *Session) Options() browser.SessionOptions { return s.opts }

// Closed returns true if the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigations returns the paths the session navigated to, including failed navigations.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.navigations...)
}

// Value returns the current value of the first element matching css on the last loaded
// page, closed sessions included. For selects is the selected option value.
func (s *Session) Value(css string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.query(browser.CSS(css))
	if err != nil || sel.Length() == 0 {
		return ""
	}
	return value(sel)
}

// Checked returns true if the first element matching css is checked.
func (s *Session) Checked(css string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.query(browser.CSS(css))
	if err != nil || sel.Length() == 0 {
		return false
	}
	_, ok := sel.Attr("checked")
	return ok
}

func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session closed")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	s.navigations = append(s.navigations, u.Path)

	if s.engine.cfg.HangNavigation {
		s.mu.Unlock()
		<-ctx.Done()
		s.mu.Lock()
		return ctx.Err()
	}

	if s.failuresLeft > 0 {
		s.failuresLeft--
		return fmt.Errorf("net::ERR_CONNECTION_RESET loading %q", rawURL)
	}

	return s.load(u.Path)
}

func (s *Session) load(path string) error {
	html, ok := s.engine.cfg.Pages[path]
	if !ok {
		return fmt.Errorf("page %q: 404 not found", path)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("could not parse page %q: %w", path, err)
	}
	s.doc = doc
	s.path = path

	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return "about:blank", nil
	}
	return s.engine.cfg.BaseURL + s.path, nil
}

func (s *Session) Count(ctx context.Context, sel browser.Selector) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.find(sel)
	if err != nil {
		return 0, err
	}
	return found.Length(), nil
}

func (s *Session) Click(ctx context.Context, sel browser.Selector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return err
	}
	return s.click(el)
}

func (s *Session) click(el *goquery.Selection) error {
	if goquery.NodeName(el) == "input" {
		if t, _ := el.Attr("type"); t == "checkbox" || t == "radio" {
			if _, checked := el.Attr("checked"); checked && t == "checkbox" {
				el.RemoveAttr("checked")
			} else {
				el.SetAttr("checked", "checked")
			}
			return nil
		}
	}

	if target := clickTarget(el); target != "" {
		return s.load(target)
	}
	return nil
}

func clickTarget(el *goquery.Selection) string {
	if v, ok := el.Attr(AttrGoto); ok {
		return v
	}
	if goquery.NodeName(el) == "a" {
		if v, ok := el.Attr("href"); ok {
			return v
		}
	}
	if t, _ := el.Attr("type"); t == "submit" || goquery.NodeName(el) == "button" {
		if v, ok := el.Closest("form").Attr("action"); ok {
			return v
		}
	}
	return ""
}

func (s *Session) SendKeys(ctx context.Context, sel browser.Selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return err
	}
	current, _ := el.Attr("value")
	el.SetAttr("value", current+text)
	return nil
}

func (s *Session) SetValue(ctx context.Context, sel browser.Selector, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return err
	}
	el.SetAttr("value", v)
	return nil
}

func (s *Session) Select(ctx context.Context, sel browser.Selector, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return err
	}

	options := el.Find("option")
	option := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
		ov, _ := o.Attr("value")
		return ov == v || strings.TrimSpace(o.Text()) == v
	}).First()
	if option.Length() == 0 {
		return fmt.Errorf("option %q of %q: %w", v, sel, browser.ErrElementNotFound)
	}

	options.RemoveAttr("selected")
	option.SetAttr("selected", "selected")
	return nil
}

func (s *Session) Text(ctx context.Context, sel browser.Selector) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(el.Text()), nil
}

func (s *Session) Attribute(ctx context.Context, sel browser.Selector, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attr(name)
	return v, ok, nil
}

func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	v, err := s.engine.cfg.Eval(script)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not encode script result: %w", err)
	}
	return json.Unmarshal(data, res)
}

// WaitFor doesn't wait, pages are static so the element is either there or it will never be.
func (s *Session) WaitFor(ctx context.Context, sel browser.Selector) error {
	n, err := s.Count(ctx, sel)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", sel, browser.ErrElementNotFound)
	}
	return nil
}

func (s *Session) SubmitAndCapture(ctx context.Context, sel browser.Selector, urlMatch string) (*browser.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, err := s.first(sel)
	if err != nil {
		return nil, err
	}

	respURL, ok := el.Attr(AttrResponseURL)
	if !ok {
		respURL = clickTarget(el)
	}
	status := 200
	if v, ok := el.Attr(AttrStatus); ok {
		status, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid fake status %q: %w", v, err)
		}
	}
	body, _ := el.Attr(AttrBody)

	if err := s.click(el); err != nil {
		return nil, err
	}

	if respURL == "" || !strings.Contains(respURL, urlMatch) {
		return nil, fmt.Errorf("%q: %w", urlMatch, browser.ErrNoResponse)
	}

	return &browser.Response{
		URL:    s.engine.cfg.BaseURL + respURL,
		Status: status,
		Body:   body,
	}, nil
}

// Snapshot returns the current page HTML.
func (s *Session) Snapshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		return []byte{}, nil
	}
	html, err := s.doc.Html()
	if err != nil {
		return nil, fmt.Errorf("could not render page: %w", err)
	}
	return []byte(html), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session already closed")
	}
	s.closed = true
	return nil
}

func (s *Session) first(sel browser.Selector) (*goquery.Selection, error) {
	found, err := s.find(sel)
	if err != nil {
		return nil, err
	}
	if found.Length() == 0 {
		return nil, fmt.Errorf("%q: %w", sel, browser.ErrElementNotFound)
	}
	return found.First(), nil
}

func (s *Session) find(sel browser.Selector) (*goquery.Selection, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	return s.query(sel)
}

// query doesn't check if the session is closed so tests can inspect the last page.
func (s *Session) query(sel browser.Selector) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}

	// Goquery matches nothing on invalid selectors, browsers fail.
	matcher, err := cascadia.Compile(sel.Scope())
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}

	found := s.doc.FindMatcher(matcher).FilterFunction(func(_ int, el *goquery.Selection) bool {
		return sel.MatchesText(text(el))
	})
	return found, nil
}

func text(el *goquery.Selection) string {
	if goquery.NodeName(el) == "input" {
		v, _ := el.Attr("value")
		return v
	}
	return el.Text()
}

func value(el *goquery.Selection) string {
	el = el.First()
	if goquery.NodeName(el) == "select" {
		v, _ := el.Find("option[selected]").First().Attr("value")
		return v
	}
	v, _ := el.Attr("value")
	return v
}
