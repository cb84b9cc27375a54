package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/slotrunner/internal/model"
)

// SettingsYAMLRepository loads run settings from YAML files.
type SettingsYAMLRepository struct {
	fs fs.FS
}

// NewSettingsYAMLRepository creates a new YAML settings repository.
func NewSettingsYAMLRepository(filesystem fs.FS) *SettingsYAMLRepository {
	return &SettingsYAMLRepository{fs: filesystem}
}

// GetSettings loads the settings from a YAML file. Only the set values are returned,
// the result is meant to be merged over the defaults.
func (r *SettingsYAMLRepository) GetSettings(ctx context.Context, path string) (model.Settings, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Settings{}, ctx.Err()
	}

	var cfg SettingsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Settings{}, fmt.Errorf("parsing YAML: %w: %w", err, model.ErrConfig)
	}

	if err := cfg.validate(); err != nil {
		return model.Settings{}, fmt.Errorf("invalid settings: %w: %w", err, model.ErrConfig)
	}

	return cfg.toModel(), nil
}

// SettingsConfig represents the YAML structure for the settings.
type SettingsConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	CleanupGrace time.Duration `yaml:"cleanup_grace"`
	BatchPause   time.Duration `yaml:"batch_pause"`
	DisableRetry bool          `yaml:"disable_retry"`
	Site         SiteConfig    `yaml:"site"`
	Browser      BrowserConfig `yaml:"browser"`
	Captcha      CaptchaConfig `yaml:"captcha"`
	Notify       NotifyConfig  `yaml:"notify"`
}

// SiteConfig represents the YAML structure for the target site.
type SiteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	StepTimeout       time.Duration `yaml:"step_timeout"`
}

// BrowserConfig represents the YAML structure for the browser engine.
type BrowserConfig struct {
	Headful     bool   `yaml:"headful"`
	ExecPath    string `yaml:"exec_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// CaptchaConfig represents the YAML structure for the CAPTCHA service.
type CaptchaConfig struct {
	APIURL     string  `yaml:"api_url"`
	APIKey     string  `yaml:"api_key"`
	MinBalance float64 `yaml:"min_balance"`
}

// NotifyConfig represents the YAML structure for notifications.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

func (c SettingsConfig) validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size can't be negative, got: %d", c.BatchSize)
	}
	for name, d := range map[string]time.Duration{
		"task_timeout":            c.TaskTimeout,
		"cleanup_grace":           c.CleanupGrace,
		"batch_pause":             c.BatchPause,
		"site.navigation_timeout": c.Site.NavigationTimeout,
		"site.step_timeout":       c.Site.StepTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s can't be negative, got: %s", name, d)
		}
	}
	if c.Captcha.MinBalance < 0 {
		return fmt.Errorf("captcha.min_balance can't be negative, got: %v", c.Captcha.MinBalance)
	}
	return nil
}

func (c SettingsConfig) toModel() model.Settings {
	return model.Settings{
		BatchSize:    c.BatchSize,
		TaskTimeout:  c.TaskTimeout,
		CleanupGrace: c.CleanupGrace,
		BatchPause:   c.BatchPause,
		DisableRetry: c.DisableRetry,
		Site: model.SiteSettings{
			BaseURL:           c.Site.BaseURL,
			NavigationTimeout: c.Site.NavigationTimeout,
			StepTimeout:       c.Site.StepTimeout,
		},
		Browser: model.BrowserSettings{
			Headful:     c.Browser.Headful,
			ExecPath:    c.Browser.ExecPath,
			SnapshotDir: c.Browser.SnapshotDir,
		},
		Captcha: model.CaptchaSettings{
			APIURL:     c.Captcha.APIURL,
			APIKey:     c.Captcha.APIKey,
			MinBalance: c.Captcha.MinBalance,
		},
		Notify: model.NotifySettings{
			TelegramToken:  c.Notify.TelegramToken,
			TelegramChatID: c.Notify.TelegramChatID,
		},
	}
}
