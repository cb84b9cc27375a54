package chromedp

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

var browserBinaries = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

// EngineConfig is the configuration of the Chrome engine.
type EngineConfig struct {
	// ExecPath is the browser binary, found on the PATH when empty.
	ExecPath string
	Headful  bool
	// StartTimeout is the maximum time a browser has to start.
	StartTimeout time.Duration
	Logger       log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "browser.Chrome"})
	return nil
}

// Engine is a browser engine backed by Chrome using the DevTools protocol. Every
// session is a separate browser process so proxies and identities are isolated.
type Engine struct {
	cfg    EngineConfig
	logger log.Logger
}

// NewEngine returns a new Chrome engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{cfg: cfg, logger: cfg.Logger}, nil
}

// Check checks a browser binary is available.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	path, err := e.browserPath()
	if err != nil {
		return []model.CheckResult{{ID: "browser_engine", Status: model.CheckStatusError, Message: err.Error()}}
	}

	mode := "headless"
	if e.cfg.Headful {
		mode = "headful"
	}
	return []model.CheckResult{{ID: "browser_engine", Status: model.CheckStatusOK, Message: fmt.Sprintf("Chrome at %s (%s)", path, mode)}}
}

func (e *Engine) browserPath() (string, error) {
	if e.cfg.ExecPath != "" {
		path, err := exec.LookPath(e.cfg.ExecPath)
		if err != nil {
			return "", fmt.Errorf("browser binary %s not available: %w", e.cfg.ExecPath, err)
		}
		return path, nil
	}

	for _, bin := range browserBinaries {
		if path, err := exec.LookPath(bin); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium binary found on PATH")
}

// NewSession starts a new browser with the session proxy and identity. The session
// lifetime is independent from ctx, ctx only bounds the browser startup.
func (e *Engine) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	id := opts.Identity

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !e.cfg.Headful),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if id.Locale != "" {
		allocOpts = append(allocOpts, chromedp.Flag("lang", id.Locale))
	}
	if e.cfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.cfg.ExecPath))
	}
	if id.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(id.UserAgent))
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(id.ViewportWidth, id.ViewportHeight))
	}
	if opts.Proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer("http://"+opts.Proxy.Address()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(e.logger.Debugf),
		chromedp.WithErrorf(e.logger.Debugf),
	)

	s := &session{
		ctx:    browserCtx,
		cancel: func() { browserCancel(); allocCancel() },
		logger: e.logger,
	}

	// The first run allocates the browser and binds it to the session context, ctx
	// can only abort the startup.
	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartTimeout)
	defer cancel()
	stop := context.AfterFunc(startCtx, s.cancel)
	err := chromedp.Run(browserCtx)
	if !stop() || err != nil {
		s.cancel()
		if err == nil {
			err = startCtx.Err()
		}
		return nil, fmt.Errorf("could not start browser: %w", err)
	}

	if err := s.setup(ctx, opts); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not set up browser session: %w", err)
	}

	return s, nil
}

func (s *session) setup(ctx context.Context, opts browser.SessionOptions) error {
	id := opts.Identity

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
	}

	if id.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(id.UserAgent)
		if id.AcceptLanguage != "" {
			ua = ua.WithAcceptLanguage(id.AcceptLanguage)
		}
		if id.Platform != "" {
			ua = ua.WithPlatform(id.Platform)
		}
		actions = append(actions, ua)
	}
	if id.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(id.Locale))
	}
	if id.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(id.Timezone))
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(id.ViewportWidth), int64(id.ViewportHeight), 1, false))
	}

	if p := opts.Proxy; p != nil && (p.Username != "" || p.Password != "") {
		s.listenProxyAuth(p.Username, p.Password)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	return s.run(ctx, actions...)
}

// listenProxyAuth answers the proxy authentication challenges with the proxy
// credentials. With the fetch domain enabled every request is paused, so they
// need to be continued.
func (s *session) listenProxyAuth(username, password string) {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(s.ctx, fetch.ContinueRequest(ev.RequestID)); err != nil {
					s.logger.Debugf("could not continue request: %s", err)
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if err := chromedp.Run(s.ctx, fetch.ContinueWithAuth(ev.RequestID, resp)); err != nil {
					s.logger.Debugf("could not answer proxy auth: %s", err)
				}
			}()
		}
	})
}

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`
