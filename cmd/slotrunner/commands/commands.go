package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/slotrunner/internal/browser"
	"github.com/slok/slotrunner/internal/browser/chromedp"
	"github.com/slok/slotrunner/internal/browser/fake"
	"github.com/slok/slotrunner/internal/captcha"
	"github.com/slok/slotrunner/internal/captcha/capsolver"
	"github.com/slok/slotrunner/internal/conventions"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/notify"
	"github.com/slok/slotrunner/internal/notify/progress"
	"github.com/slok/slotrunner/internal/notify/telegram"
	"github.com/slok/slotrunner/internal/printer"
	storageio "github.com/slok/slotrunner/internal/storage/io"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// EngineFake is the fake browser engine serving the demo site.
	EngineFake = "fake"
	// EngineChrome is the real browser engine.
	EngineChrome = "chrome"

	formatTable = "table"
	formatJSON  = "json"

	// demoCaptchaToken is the token used to solve the demo site challenges.
	demoCaptchaToken = "demo-token"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	DBPath     string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := DefaultDataDir()
	app.Flag("data-dir", "Directory for the run history, settings and snapshots.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("db-path", "Path to the SQLite run history database (defaults to the data dir one).").StringVar(&c.DBPath)

	return c
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	return filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
}

// HistoryDBPath returns the run history database path.
func (c RootCommand) HistoryDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return conventions.DBPath(c.DataDir)
}

// settingsFlags are the settings that can be set with flags, they have priority over
// the settings file ones.
type settingsFlags struct {
	path      string
	overrides model.Settings
}

func registerSettingsFlags(cmd *kingpin.CmdClause) *settingsFlags {
	s := &settingsFlags{}
	o := &s.overrides

	cmd.Flag("settings", "Path to the settings YAML file (defaults to the data dir one if present).").StringVar(&s.path)
	cmd.Flag("base-url", "Base URL of the appointment booking site.").StringVar(&o.Site.BaseURL)
	cmd.Flag("batch-size", "Number of accounts processed concurrently.").IntVar(&o.BatchSize)
	cmd.Flag("task-timeout", "Timeout shared by the tasks of a batch.").DurationVar(&o.TaskTimeout)
	cmd.Flag("batch-pause", "Pause between batches.").DurationVar(&o.BatchPause)
	cmd.Flag("no-retry", "Disable the retry pass over errored accounts.").BoolVar(&o.DisableRetry)
	cmd.Flag("headful", "Show the browser windows.").BoolVar(&o.Browser.Headful)
	cmd.Flag("chrome-path", "Path to the Chrome executable.").StringVar(&o.Browser.ExecPath)
	cmd.Flag("snapshot-dir", "Directory for the diagnostic snapshots of failed tasks.").StringVar(&o.Browser.SnapshotDir)
	cmd.Flag("captcha-api-url", "CAPTCHA solving service API URL.").StringVar(&o.Captcha.APIURL)
	cmd.Flag("captcha-api-key", "CAPTCHA solving service API key.").StringVar(&o.Captcha.APIKey)
	cmd.Flag("telegram-token", "Telegram bot token for the notifications.").StringVar(&o.Notify.TelegramToken)
	cmd.Flag("telegram-chat-id", "Telegram chat ID for the notifications.").Int64Var(&o.Notify.TelegramChatID)

	return s
}

// load returns the settings merged as defaults <- file <- flags.
func (s settingsFlags) load(ctx context.Context, dataDir string) (model.Settings, error) {
	settings := model.DefaultSettings()
	settings.Browser.SnapshotDir = conventions.SnapshotDir(dataDir)

	path := s.path
	if path == "" {
		path = conventions.SettingsPath(dataDir)
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	if path != "" {
		path, err := absPath(path)
		if err != nil {
			return model.Settings{}, err
		}

		repo := storageio.NewSettingsYAMLRepository(os.DirFS("/"))
		fileSettings, err := repo.GetSettings(ctx, path[1:])
		if err != nil {
			return model.Settings{}, fmt.Errorf("could not load settings: %w", err)
		}
		settings = settings.Merge(fileSettings)
	}

	return settings.Merge(s.overrides), nil
}

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve path %q: %w", path, err)
	}
	return abs, nil
}

func loadAccounts(ctx context.Context, path string) ([]model.Account, error) {
	path, err := absPath(path)
	if err != nil {
		return nil, err
	}
	return storageio.NewAccountsRepository(os.DirFS("/")).ListAccounts(ctx, path[1:])
}

func loadProxies(ctx context.Context, path string) ([]model.ProxyEndpoint, error) {
	if path == "" {
		return nil, nil
	}

	path, err := absPath(path)
	if err != nil {
		return nil, err
	}
	return storageio.NewProxiesRepository(os.DirFS("/")).ListProxies(ctx, path[1:])
}

// rootFSLoader adapts the file repositories to absolute and relative paths.
type rootFSLoader struct{}

func (rootFSLoader) ListAccounts(ctx context.Context, path string) ([]model.Account, error) {
	return loadAccounts(ctx, path)
}

func (rootFSLoader) ListProxies(ctx context.Context, path string) ([]model.ProxyEndpoint, error) {
	return loadProxies(ctx, path)
}

func newEngine(kind string, settings model.Settings, logger log.Logger) (browser.Engine, error) {
	switch kind {
	case EngineFake:
		return fake.NewEngine(fake.EngineConfig{
			BaseURL: settings.Site.BaseURL,
			Pages:   fake.DemoPages(fake.DemoOptions{}),
			Logger:  logger,
		})
	case EngineChrome:
		return chromedp.NewEngine(chromedp.EngineConfig{
			ExecPath: settings.Browser.ExecPath,
			Headful:  settings.Browser.Headful,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown browser engine %q: %w", kind, model.ErrConfig)
	}
}

// newSolver returns the CAPTCHA solver, nil when it's not configured.
func newSolver(engine string, settings model.Settings, logger log.Logger) (captcha.Solver, error) {
	if settings.Captcha.APIKey == "" {
		if engine == EngineFake {
			return captcha.Static(demoCaptchaToken), nil
		}
		return nil, nil
	}

	return capsolver.NewClient(capsolver.ClientConfig{
		APIURL: settings.Captcha.APIURL,
		APIKey: settings.Captcha.APIKey,
		Logger: logger,
	})
}

// newProgressNotifier renders the progress bar on stderr, stdout is kept for the run output.
func newProgressNotifier(rootCmd *RootCommand) (notify.Notifier, error) {
	n, err := progress.NewNotifier(progress.NotifierConfig{Out: rootCmd.Stderr})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// newNotifier returns the Telegram notifier, notifications are disabled when it's not
// configured or unreachable.
func newNotifier(settings model.Settings, logger log.Logger) notify.Notifier {
	if settings.Notify.TelegramToken == "" || settings.Notify.TelegramChatID == 0 {
		return notify.Noop
	}

	n, err := telegram.NewNotifier(telegram.NotifierConfig{
		Token:  settings.Notify.TelegramToken,
		ChatID: settings.Notify.TelegramChatID,
		Logger: logger,
	})
	if err != nil {
		logger.Warningf("Notifications disabled: %s", err)
		return notify.Noop
	}

	return n
}

func newPrinter(format string, w io.Writer) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}

func formatFlag(cmd *kingpin.CmdClause, format *string) {
	cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(format, formatTable, formatJSON)
}

func demoBaseURL(engine string, settings model.Settings) model.Settings {
	if engine == EngineFake && settings.Site.BaseURL == "" {
		settings.Site.BaseURL = "http://demo.slotrunner.local"
	}
	return settings
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
