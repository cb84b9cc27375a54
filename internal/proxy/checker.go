package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/ncpmeplmls0614/requests"
	"golang.org/x/sync/errgroup"

	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// CheckerConfig is the configuration for the proxy connectivity checker.
type CheckerConfig struct {
	// TargetURL is the URL requested through every proxy.
	TargetURL   string
	Timeout     time.Duration
	Concurrency int
	Logger      log.Logger
}

func (c *CheckerConfig) defaults() error {
	if c.TargetURL == "" {
		c.TargetURL = "https://api.ipify.org?format=json"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "proxy.Checker"})
	return nil
}

// CheckResult is the connectivity result of a single proxy.
type CheckResult struct {
	Proxy   model.ProxyEndpoint
	Latency time.Duration
	Err     error
}

// OK returns true if the proxy is reachable.
func (c CheckResult) OK() bool { return c.Err == nil }

// Checker checks proxies connectivity concurrently. It's informative only, runs are
// never gated on its results.
type Checker struct {
	targetURL   string
	timeout     time.Duration
	concurrency int
	client      *requests.Client
	logger      log.Logger
}

// NewChecker returns a new proxy checker.
func NewChecker(cfg CheckerConfig) (*Checker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Every check goes through a different proxy, connections are not reused.
	client, err := requests.NewClient(context.Background(), requests.ClientOption{
		DisAlive:  true,
		DisCookie: true,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create HTTP client: %w", err)
	}

	return &Checker{
		targetURL:   cfg.TargetURL,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		client:      client,
		logger:      cfg.Logger,
	}, nil
}

// Check checks all the proxies, results keep the proxies order.
func (c *Checker) Check(ctx context.Context, proxies []model.ProxyEndpoint) []CheckResult {
	results := make([]CheckResult, len(proxies))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, p := range proxies {
		g.Go(func() error {
			start := time.Now()
			err := c.checkOne(ctx, p)
			results[i] = CheckResult{Proxy: p, Latency: time.Since(start), Err: err}
			if err != nil {
				c.logger.Debugf("proxy %s check failed: %s", p.Address(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Checker) checkOne(ctx context.Context, p model.ProxyEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Get(ctx, c.targetURL, requests.RequestOption{
		Proxy:   p.URL().String(),
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("could not reach target through proxy: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode())
	}

	return nil
}
