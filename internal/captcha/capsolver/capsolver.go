package capsolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ncpmeplmls0614/requests"

	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/clock"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
)

// ClientConfig is the configuration of the CapSolver client.
type ClientConfig struct {
	APIURL string
	APIKey string
	// PollInterval is the time between task result polls.
	PollInterval time.Duration
	// MaxPolls bounds the number of task result polls.
	MaxPolls int
	// Timeout bounds every API request.
	Timeout    time.Duration
	HTTPClient *requests.Client
	Logger     log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	if c.APIURL == "" {
		c.APIURL = model.DefaultCaptchaAPIURL
	}
	c.APIURL = strings.TrimSuffix(c.APIURL, "/")

	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}

	if c.MaxPolls <= 0 {
		c.MaxPolls = 40
	}

	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	if c.HTTPClient == nil {
		client, err := requests.NewClient(context.Background(), requests.ClientOption{
			DisCookie: true,
			Timeout:   c.Timeout,
			Headers:   map[string]string{"Accept": "application/json"},
		})
		if err != nil {
			return fmt.Errorf("could not create HTTP client: %w", err)
		}
		c.HTTPClient = client
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "captcha.CapSolver"})
	return nil
}

// Client is a CapSolver API client, it creates a task and polls it until it's ready.
type Client struct {
	apiURL       string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	timeout      time.Duration
	httpClient   *requests.Client
	logger       log.Logger
}

var _ captcha.Solver = &Client{}

// NewClient returns a new CapSolver client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		apiURL:       cfg.APIURL,
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		timeout:      cfg.Timeout,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
	}, nil
}

// --- JSON wire types ---

type apiError struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

func (e apiError) err() error {
	if e.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("capsolver error %s: %s", e.ErrorCode, e.ErrorDescription)
}

type taskJSON struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
	Proxy      string `json:"proxy,omitempty"`
}

type createTaskRequest struct {
	ClientKey string   `json:"clientKey"`
	Task      taskJSON `json:"task"`
}

type solutionJSON struct {
	GRecaptchaResponse string `json:"gRecaptchaResponse"`
	Token              string `json:"token"`
}

type taskResultResponse struct {
	apiError
	TaskID   string       `json:"taskId"`
	Status   string       `json:"status"`
	Solution solutionJSON `json:"solution"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type balanceRequest struct {
	ClientKey string `json:"clientKey"`
}

type balanceResponse struct {
	apiError
	Balance float64 `json:"balance"`
}

// Solve satisfies captcha.Solver.
func (c *Client) Solve(ctx context.Context, ch captcha.Challenge, proxy *model.ProxyEndpoint) (string, error) {
	task, err := newTask(ch, proxy)
	if err != nil {
		return "", err
	}

	var created taskResultResponse
	err = c.post(ctx, "/createTask", createTaskRequest{ClientKey: c.apiKey, Task: task}, &created)
	if err != nil {
		return "", fmt.Errorf("could not create task: %w", err)
	}
	if created.Status == "ready" {
		return solutionToken(created.Solution)
	}

	logger := c.logger.WithValues(log.Kv{"task": created.TaskID, "type": task.Type})
	logger.Debugf("Task created")

	for poll := 1; poll <= c.maxPolls; poll++ {
		if err := clock.Sleep(ctx, c.pollInterval); err != nil {
			return "", err
		}

		var res taskResultResponse
		err := c.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: c.apiKey, TaskID: created.TaskID}, &res)
		if err != nil {
			return "", fmt.Errorf("could not get task result: %w", err)
		}

		switch res.Status {
		case "ready":
			logger.Debugf("Task solved after %d polls", poll)
			return solutionToken(res.Solution)
		case "failed":
			return "", fmt.Errorf("task failed: %w", captcha.ErrUnsolvable)
		}
	}

	return "", fmt.Errorf("task not ready after %d polls: %w", c.maxPolls, captcha.ErrUnsolvable)
}

// Balance satisfies captcha.Solver.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var res balanceResponse
	if err := c.post(ctx, "/getBalance", balanceRequest{ClientKey: c.apiKey}, &res); err != nil {
		return 0, fmt.Errorf("could not get balance: %w", err)
	}
	return res.Balance, nil
}

func newTask(ch captcha.Challenge, proxy *model.ProxyEndpoint) (taskJSON, error) {
	t := taskJSON{
		WebsiteURL: ch.SiteURL,
		WebsiteKey: ch.SiteKey,
	}

	switch ch.Type {
	case captcha.ChallengeTypeReCaptchaV2:
		t.Type = "ReCaptchaV2Task"
	case captcha.ChallengeTypeReCaptchaV3:
		t.Type = "ReCaptchaV3Task"
	case captcha.ChallengeTypeTurnstile:
		// Turnstile is only solved proxy-less.
		t.Type = "AntiTurnstileTaskProxyLess"
		return t, nil
	default:
		return taskJSON{}, fmt.Errorf("unsupported challenge type %q: %w", ch.Type, captcha.ErrUnsolvable)
	}

	if proxy == nil {
		t.Type += "ProxyLess"
		return t, nil
	}
	t.Proxy = proxy.URL().String()

	return t, nil
}

func solutionToken(s solutionJSON) (string, error) {
	token := s.GRecaptchaResponse
	if token == "" {
		token = s.Token
	}
	if token == "" {
		return "", fmt.Errorf("empty solution: %w", captcha.ErrUnsolvable)
	}
	return token, nil
}

type errorResponse interface{ err() error }

func (c *Client) post(ctx context.Context, path string, reqBody any, resBody errorResponse) error {
	resp, err := c.httpClient.Post(ctx, c.apiURL+path, requests.RequestOption{
		Json:    reqBody,
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	// Errors are reported with non 2xx codes and the error payload.
	if err := json.Unmarshal(resp.Content(), resBody); err != nil {
		return fmt.Errorf("could not decode response (HTTP %d): %w", resp.StatusCode(), err)
	}
	if err := resBody.err(); err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode())
	}

	return nil
}
