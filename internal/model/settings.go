package model

import (
	"fmt"
	"time"
)

// Default settings.
const (
	DefaultBatchSize         = 5
	DefaultTaskTimeout       = 10 * time.Minute
	DefaultCleanupGrace      = 30 * time.Second
	DefaultBatchPause        = 30 * time.Second
	DefaultNavigationTimeout = 60 * time.Second
	DefaultStepTimeout       = 30 * time.Second
	DefaultCaptchaAPIURL     = "https://api.capsolver.com"
	DefaultCaptchaMinBalance = 1.0
)

// Settings are the immutable tunables of a run.
type Settings struct {
	// BatchSize is the number of tasks executed concurrently.
	BatchSize int
	// TaskTimeout is the shared timeout every task of a batch races against.
	TaskTimeout time.Duration
	// CleanupGrace is the extra time timed out tasks have to release their resources.
	CleanupGrace time.Duration
	// BatchPause is the pause between batches.
	BatchPause time.Duration
	// DisableRetry disables the retry pass over errored outcomes.
	DisableRetry bool

	Site    SiteSettings
	Browser BrowserSettings
	Captcha CaptchaSettings
	Notify  NotifySettings
}

// SiteSettings are the target site settings.
type SiteSettings struct {
	BaseURL           string
	NavigationTimeout time.Duration
	StepTimeout       time.Duration
}

// BrowserSettings are the browser engine settings.
type BrowserSettings struct {
	Headful     bool
	ExecPath    string
	SnapshotDir string
}

// CaptchaSettings are the CAPTCHA solving service settings.
type CaptchaSettings struct {
	APIURL     string
	APIKey     string
	MinBalance float64
}

// NotifySettings are the notification sink settings.
type NotifySettings struct {
	TelegramToken  string
	TelegramChatID int64
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:    DefaultBatchSize,
		TaskTimeout:  DefaultTaskTimeout,
		CleanupGrace: DefaultCleanupGrace,
		BatchPause:   DefaultBatchPause,
		Site: SiteSettings{
			NavigationTimeout: DefaultNavigationTimeout,
			StepTimeout:       DefaultStepTimeout,
		},
		Captcha: CaptchaSettings{
			APIURL:     DefaultCaptchaAPIURL,
			MinBalance: DefaultCaptchaMinBalance,
		},
	}
}

// Merge returns a copy of the settings with the non zero values of override applied.
func (s Settings) Merge(override Settings) Settings {
	if override.BatchSize != 0 {
		s.BatchSize = override.BatchSize
	}
	if override.TaskTimeout != 0 {
		s.TaskTimeout = override.TaskTimeout
	}
	if override.CleanupGrace != 0 {
		s.CleanupGrace = override.CleanupGrace
	}
	if override.BatchPause != 0 {
		s.BatchPause = override.BatchPause
	}
	if override.DisableRetry {
		s.DisableRetry = true
	}
	if override.Site.BaseURL != "" {
		s.Site.BaseURL = override.Site.BaseURL
	}
	if override.Site.NavigationTimeout != 0 {
		s.Site.NavigationTimeout = override.Site.NavigationTimeout
	}
	if override.Site.StepTimeout != 0 {
		s.Site.StepTimeout = override.Site.StepTimeout
	}
	if override.Browser.Headful {
		s.Browser.Headful = true
	}
	if override.Browser.ExecPath != "" {
		s.Browser.ExecPath = override.Browser.ExecPath
	}
	if override.Browser.SnapshotDir != "" {
		s.Browser.SnapshotDir = override.Browser.SnapshotDir
	}
	if override.Captcha.APIURL != "" {
		s.Captcha.APIURL = override.Captcha.APIURL
	}
	if override.Captcha.APIKey != "" {
		s.Captcha.APIKey = override.Captcha.APIKey
	}
	if override.Captcha.MinBalance != 0 {
		s.Captcha.MinBalance = override.Captcha.MinBalance
	}
	if override.Notify.TelegramToken != "" {
		s.Notify.TelegramToken = override.Notify.TelegramToken
	}
	if override.Notify.TelegramChatID != 0 {
		s.Notify.TelegramChatID = override.Notify.TelegramChatID
	}

	return s
}

// Validate validates the settings.
func (s Settings) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %w", ErrConfig)
	}
	if s.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive: %w", ErrConfig)
	}
	if s.BatchPause < 0 {
		return fmt.Errorf("batch pause can't be negative: %w", ErrConfig)
	}
	if s.Site.BaseURL == "" {
		return fmt.Errorf("site base URL is required: %w", ErrConfig)
	}
	return nil
}
