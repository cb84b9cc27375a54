package preflight

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

// AccountsLoader loads the accounts of a file.
type AccountsLoader interface {
	ListAccounts(ctx context.Context, path string) ([]model.Account, error)
}

// ProxiesLoader loads the proxies of a file.
type ProxiesLoader interface {
	ListProxies(ctx context.Context, path string) ([]model.ProxyEndpoint, error)
}

// ProxyChecker checks the proxies connectivity.
type ProxyChecker interface {
	Check(ctx context.Context, proxies []model.ProxyEndpoint) []proxy.CheckResult
}

// ServiceConfig is the configuration for the preflight service.
type ServiceConfig struct {
	Accounts AccountsLoader
	Proxies  ProxiesLoader
	// Engine is optional, the browser checks are skipped without it.
	Engine browser.Engine
	// Solver is optional, a missing solver is a warning.
	Solver       captcha.Solver
	ProxyChecker ProxyChecker
	Settings     model.Settings
	Logger       log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Accounts == nil {
		return fmt.Errorf("accounts loader is required")
	}

	if c.Proxies == nil {
		return fmt.Errorf("proxies loader is required")
	}

	c.Settings = model.DefaultSettings().Merge(c.Settings)

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Preflight"})

	return nil
}

// Service runs the preflight checks of a run.
type Service struct {
	cfg    ServiceConfig
	logger log.Logger
}

// NewService creates a new preflight service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{cfg: cfg, logger: cfg.Logger}, nil
}

// Request represents the preflight request parameters.
type Request struct {
	AccountsPath string
	// ProxiesPath is optional.
	ProxiesPath  string
	CheckProxies bool
}

// Run executes all the checks. Checks never stop on failures, the caller decides
// what to do with the results.
func (s *Service) Run(ctx context.Context, req Request) []model.CheckResult {
	var results []model.CheckResult

	if s.cfg.Engine != nil {
		results = append(results, s.cfg.Engine.Check(ctx)...)
	}
	results = append(results, s.checkSite())
	results = append(results, s.checkAccounts(ctx, req.AccountsPath))

	proxyResult, proxies := s.checkProxies(ctx, req.ProxiesPath)
	results = append(results, proxyResult)
	if req.CheckProxies && len(proxies) > 0 {
		results = append(results, s.checkProxyConnectivity(ctx, proxies))
	}

	results = append(results, s.checkCaptcha(ctx))
	results = append(results, s.checkNotifier())
	if s.cfg.Settings.Browser.SnapshotDir != "" {
		results = append(results, s.checkSnapshotDir())
	}

	for _, r := range results {
		s.logger.Debugf("Check %s: %s (%s)", r.ID, r.Status, r.Message)
	}

	return results
}

func (s *Service) checkSite() model.CheckResult {
	const id = "site_url"

	raw := s.cfg.Settings.Site.BaseURL
	if raw == "" {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: "site base URL is not configured"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: fmt.Sprintf("invalid site base URL %q", raw)}
	}

	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: u.String()}
}

func (s *Service) checkAccounts(ctx context.Context, path string) model.CheckResult {
	const id = "accounts_file"

	if path == "" {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: "accounts file is not configured"}
	}
	accounts, err := s.cfg.Accounts.ListAccounts(ctx, path)
	if err != nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: err.Error()}
	}

	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: fmt.Sprintf("%d accounts", len(accounts))}
}

func (s *Service) checkProxies(ctx context.Context, path string) (model.CheckResult, []model.ProxyEndpoint) {
	const id = "proxies_file"

	if path == "" {
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: "no proxy list, tasks will run without proxy"}, nil
	}
	proxies, err := s.cfg.Proxies.ListProxies(ctx, path)
	if err != nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: err.Error()}, nil
	}

	layouts := map[model.ProxyLayout]int{}
	for _, p := range proxies {
		layouts[p.Layout]++
	}
	msg := fmt.Sprintf("%d proxies (%d %s, %d %s)", len(proxies),
		layouts[model.ProxyLayoutStandard], model.ProxyLayoutStandard,
		layouts[model.ProxyLayoutSOAX], model.ProxyLayoutSOAX)

	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: msg}, proxies
}

func (s *Service) checkProxyConnectivity(ctx context.Context, proxies []model.ProxyEndpoint) model.CheckResult {
	const id = "proxy_connectivity"

	if s.cfg.ProxyChecker == nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: "proxy checker not available"}
	}

	ok := 0
	for _, r := range s.cfg.ProxyChecker.Check(ctx, proxies) {
		if r.OK() {
			ok++
		} else {
			s.logger.Warningf("Proxy %s is not reachable: %s", r.Proxy.Address(), r.Err)
		}
	}

	msg := fmt.Sprintf("%d/%d proxies reachable", ok, len(proxies))
	switch {
	case ok == 0:
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: msg}
	case ok < len(proxies):
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: msg}
	}
	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: msg}
}

func (s *Service) checkCaptcha(ctx context.Context) model.CheckResult {
	const id = "captcha_balance"

	if s.cfg.Solver == nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: "CAPTCHA solver not configured, challenges will error"}
	}

	balance, err := s.cfg.Solver.Balance(ctx)
	if err != nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: fmt.Sprintf("could not get balance: %s", err)}
	}

	msg := fmt.Sprintf("balance %.2f", balance)
	if balance < s.cfg.Settings.Captcha.MinBalance {
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: fmt.Sprintf("%s is below %.2f", msg, s.cfg.Settings.Captcha.MinBalance)}
	}
	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: msg}
}

func (s *Service) checkNotifier() model.CheckResult {
	const id = "notifier"

	n := s.cfg.Settings.Notify
	switch {
	case n.TelegramToken != "" && n.TelegramChatID != 0:
		return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: "telegram"}
	case n.TelegramToken != "" || n.TelegramChatID != 0:
		return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: "incomplete telegram configuration (token and chat ID are required), notifications disabled"}
	}
	return model.CheckResult{ID: id, Status: model.CheckStatusWarning, Message: "notifications disabled"}
}

func (s *Service) checkSnapshotDir() model.CheckResult {
	const id = "snapshot_dir"

	dir := s.cfg.Settings.Browser.SnapshotDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.CheckResult{ID: id, Status: model.CheckStatusError, Message: fmt.Sprintf("could not create %s: %s", dir, err)}
	}
	return model.CheckResult{ID: id, Status: model.CheckStatusOK, Message: dir}
}
