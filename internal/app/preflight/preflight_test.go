package preflight_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/app/preflight"
	"github.com/slok/slotrunner/internal/browser/fake"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/captcha/captchamock"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
	storageio "github.com/slok/slotrunner/internal/storage/io"
)

type proxyCheckerFunc func(ctx context.Context, proxies []model.ProxyEndpoint) []proxy.CheckResult

func (f proxyCheckerFunc) Check(ctx context.Context, proxies []model.ProxyEndpoint) []proxy.CheckResult {
	return f(ctx, proxies)
}

func failingProxies(hosts ...string) proxyCheckerFunc {
	return func(_ context.Context, proxies []model.ProxyEndpoint) []proxy.CheckResult {
		var res []proxy.CheckResult
		for _, p := range proxies {
			r := proxy.CheckResult{Proxy: p}
			for _, h := range hosts {
				if p.Host == h {
					r.Err = errors.New("unreachable")
				}
			}
			res = append(res, r)
		}
		return res
	}
}

var testFS = fstest.MapFS{
	"accounts.yaml": &fstest.MapFile{Data: []byte("- {username: a@x.io, password: p}\n- {username: b@x.io, password: p}\n")},
	"proxies.txt":   &fstest.MapFile{Data: []byte("1.1.1.1:80:u:p\nproxy.soax.com:5000:token:wifi;al;\n")},
	"empty.yaml":    &fstest.MapFile{Data: []byte("accounts: []\n")},
}

func TestServiceRun(t *testing.T) {
	validSettings := model.Settings{
		Site:   model.SiteSettings{BaseURL: "https://visa.example.com"},
		Notify: model.NotifySettings{TelegramToken: "token", TelegramChatID: 1},
	}

	tests := map[string]struct {
		settings     model.Settings
		noSolver     bool
		mock         func(m *captchamock.MockSolver)
		proxyChecker preflight.ProxyChecker
		req          preflight.Request
		expResults   map[string]model.CheckStatus
		expMessages  map[string]string
	}{
		"A fully valid setup should pass all the checks.": {
			settings: validSettings,
			mock: func(m *captchamock.MockSolver) {
				m.On("Balance", mock.Anything).Once().Return(5.0, nil)
			},
			proxyChecker: failingProxies(),
			req:          preflight.Request{AccountsPath: "accounts.yaml", ProxiesPath: "proxies.txt", CheckProxies: true},
			expResults: map[string]model.CheckStatus{
				"browser_engine":     model.CheckStatusOK,
				"site_url":           model.CheckStatusOK,
				"accounts_file":      model.CheckStatusOK,
				"proxies_file":       model.CheckStatusOK,
				"proxy_connectivity": model.CheckStatusOK,
				"captcha_balance":    model.CheckStatusOK,
				"notifier":           model.CheckStatusOK,
			},
			expMessages: map[string]string{
				"accounts_file":      "2 accounts",
				"proxies_file":       "2 proxies (1 standard, 1 soax)",
				"proxy_connectivity": "2/2 proxies reachable",
				"captcha_balance":    "balance 5.00",
			},
		},

		"Missing optional configuration should be warnings.": {
			settings: model.Settings{Site: model.SiteSettings{BaseURL: "https://visa.example.com"}},
			noSolver: true,
			req:      preflight.Request{AccountsPath: "accounts.yaml"},
			expResults: map[string]model.CheckStatus{
				"browser_engine":  model.CheckStatusOK,
				"site_url":        model.CheckStatusOK,
				"accounts_file":   model.CheckStatusOK,
				"proxies_file":    model.CheckStatusWarning,
				"captcha_balance": model.CheckStatusWarning,
				"notifier":        model.CheckStatusWarning,
			},
		},

		"Invalid configuration should be errors.": {
			settings: model.Settings{Site: model.SiteSettings{BaseURL: "not-a-url"}, Notify: model.NotifySettings{TelegramToken: "token"}},
			mock: func(m *captchamock.MockSolver) {
				m.On("Balance", mock.Anything).Once().Return(0.0, errors.New("wanted error"))
			},
			req: preflight.Request{AccountsPath: "empty.yaml", ProxiesPath: "missing.txt", CheckProxies: true},
			expResults: map[string]model.CheckStatus{
				"browser_engine":  model.CheckStatusOK,
				"site_url":        model.CheckStatusError,
				"accounts_file":   model.CheckStatusError,
				"proxies_file":    model.CheckStatusError,
				"captcha_balance": model.CheckStatusError,
				"notifier":        model.CheckStatusWarning,
			},
		},

		"A low CAPTCHA balance and unreachable proxies should be warnings.": {
			settings: validSettings,
			mock: func(m *captchamock.MockSolver) {
				m.On("Balance", mock.Anything).Once().Return(0.5, nil)
			},
			proxyChecker: failingProxies("1.1.1.1"),
			req:          preflight.Request{AccountsPath: "accounts.yaml", ProxiesPath: "proxies.txt", CheckProxies: true},
			expResults: map[string]model.CheckStatus{
				"browser_engine":     model.CheckStatusOK,
				"site_url":           model.CheckStatusOK,
				"accounts_file":      model.CheckStatusOK,
				"proxies_file":       model.CheckStatusOK,
				"proxy_connectivity": model.CheckStatusWarning,
				"captcha_balance":    model.CheckStatusWarning,
				"notifier":           model.CheckStatusOK,
			},
			expMessages: map[string]string{
				"proxy_connectivity": "1/2 proxies reachable",
				"captcha_balance":    "balance 0.50 is below 1.00",
			},
		},

		"All the proxies unreachable should be an error.": {
			settings: validSettings,
			mock: func(m *captchamock.MockSolver) {
				m.On("Balance", mock.Anything).Once().Return(5.0, nil)
			},
			proxyChecker: failingProxies("1.1.1.1", "proxy.soax.com"),
			req:          preflight.Request{AccountsPath: "accounts.yaml", ProxiesPath: "proxies.txt", CheckProxies: true},
			expResults: map[string]model.CheckStatus{
				"browser_engine":     model.CheckStatusOK,
				"site_url":           model.CheckStatusOK,
				"accounts_file":      model.CheckStatusOK,
				"proxies_file":       model.CheckStatusOK,
				"proxy_connectivity": model.CheckStatusError,
				"captcha_balance":    model.CheckStatusOK,
				"notifier":           model.CheckStatusOK,
			},
		},

		"A snapshot directory should be created.": {
			settings: model.Settings{
				Site:    model.SiteSettings{BaseURL: "https://visa.example.com"},
				Browser: model.BrowserSettings{SnapshotDir: filepath.Join(t.TempDir(), "snaps")},
			},
			noSolver: true,
			req:      preflight.Request{AccountsPath: "accounts.yaml"},
			expResults: map[string]model.CheckStatus{
				"browser_engine":  model.CheckStatusOK,
				"site_url":        model.CheckStatusOK,
				"accounts_file":   model.CheckStatusOK,
				"proxies_file":    model.CheckStatusWarning,
				"captcha_balance": model.CheckStatusWarning,
				"notifier":        model.CheckStatusWarning,
				"snapshot_dir":    model.CheckStatusOK,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			engine, err := fake.NewEngine(fake.EngineConfig{})
			require.NoError(err)

			var solver captcha.Solver
			if !test.noSolver {
				m := captchamock.NewMockSolver(t)
				if test.mock != nil {
					test.mock(m)
				}
				solver = m
			}

			svc, err := preflight.NewService(preflight.ServiceConfig{
				Accounts:     storageio.NewAccountsRepository(testFS),
				Proxies:      storageio.NewProxiesRepository(testFS),
				Engine:       engine,
				Solver:       solver,
				ProxyChecker: test.proxyChecker,
				Settings:     test.settings,
			})
			require.NoError(err)

			results := svc.Run(context.Background(), test.req)

			gotStatus := map[string]model.CheckStatus{}
			gotMsg := map[string]string{}
			for _, r := range results {
				gotStatus[r.ID] = r.Status
				gotMsg[r.ID] = r.Message
			}
			assert.Equal(t, test.expResults, gotStatus)
			for id, msg := range test.expMessages {
				assert.Equal(t, msg, gotMsg[id], id)
			}
		})
	}
}

func TestNewServiceInvalidConfig(t *testing.T) {
	_, err := preflight.NewService(preflight.ServiceConfig{})
	assert.Error(t, err)

	_, err = preflight.NewService(preflight.ServiceConfig{Accounts: storageio.NewAccountsRepository(testFS)})
	assert.Error(t, err)
}
