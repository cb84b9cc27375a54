package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apprun "github.com/slok/slotrunner/internal/app/run"
	"github.com/slok/slotrunner/internal/app/preflight"
	"github.com/slok/slotrunner/internal/booking"
	"github.com/slok/slotrunner/internal/log"
	"github.com/slok/slotrunner/internal/metrics"
	metricsprometheus "github.com/slok/slotrunner/internal/metrics/prometheus"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/notify"
	"github.com/slok/slotrunner/internal/storage/sqlite"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	settings      *settingsFlags
	accountsPath  string
	proxiesPath   string
	engine        string
	metricsListen string
	progress      bool
	format        string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Book appointments for all the accounts.")
	c.Cmd.Flag("accounts", "Path to the accounts file (YAML or JSON).").Short('a').Required().StringVar(&c.accountsPath)
	c.Cmd.Flag("proxies", "Path to the proxies file.").Short('p').StringVar(&c.proxiesPath)
	c.Cmd.Flag("engine", "Browser engine (chrome, fake).").Default(EngineChrome).EnumVar(&c.engine, EngineChrome, EngineFake)
	c.Cmd.Flag("metrics-listen", "Address to serve the Prometheus metrics on while running (e.g. :8081), disabled if empty.").StringVar(&c.metricsListen)
	c.Cmd.Flag("progress", "Show a progress bar.").BoolVar(&c.progress)
	formatFlag(c.Cmd, &c.format)
	c.settings = registerSettingsFlags(c.Cmd)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	settings, err := c.settings.load(ctx, c.rootCmd.DataDir)
	if err != nil {
		return err
	}
	settings = demoBaseURL(c.engine, settings)

	engine, err := newEngine(c.engine, settings, logger)
	if err != nil {
		return fmt.Errorf("could not create browser engine: %w", err)
	}

	solver, err := newSolver(c.engine, settings, logger)
	if err != nil {
		return fmt.Errorf("could not create captcha solver: %w", err)
	}

	// Preflight checks are informative, they never stop the run.
	preflightSvc, err := preflight.NewService(preflight.ServiceConfig{
		Accounts: rootFSLoader{},
		Proxies:  rootFSLoader{},
		Engine:   engine,
		Solver:   solver,
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create preflight service: %w", err)
	}
	checks := preflightSvc.Run(ctx, preflight.Request{AccountsPath: c.accountsPath, ProxiesPath: c.proxiesPath})
	for _, r := range checks {
		switch r.Status {
		case model.CheckStatusWarning:
			logger.Warningf("Preflight %s: %s", r.ID, r.Message)
		case model.CheckStatusError:
			logger.Errorf("Preflight %s: %s", r.ID, r.Message)
		}
	}

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	accounts, err := loadAccounts(ctx, c.accountsPath)
	if err != nil {
		return fmt.Errorf("could not load accounts: %w", err)
	}

	proxies, err := loadProxies(ctx, c.proxiesPath)
	if err != nil {
		return fmt.Errorf("could not load proxies: %w", err)
	}
	if len(proxies) == 0 {
		logger.Warningf("No proxies configured, all the tasks will use the direct connection")
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.HistoryDBPath(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var recorder metrics.Recorder = metrics.Noop
	if c.metricsListen != "" {
		recorder, err = metricsprometheus.NewRecorder(metricsprometheus.RecorderConfig{Registerer: registry})
		if err != nil {
			return fmt.Errorf("could not create metrics recorder: %w", err)
		}
	}

	notifiers := notify.Multi{newNotifier(settings, logger)}
	if c.progress {
		bar, err := newProgressNotifier(c.rootCmd)
		if err != nil {
			return fmt.Errorf("could not create progress bar: %w", err)
		}
		notifiers = append(notifiers, bar)
	}

	runner, err := booking.NewRunner(booking.RunnerConfig{
		Engine:            engine,
		Solver:            solver,
		Flow:              booking.DefaultFlow(settings.Site.BaseURL),
		NavigationTimeout: settings.Site.NavigationTimeout,
		StepTimeout:       settings.Site.StepTimeout,
		SnapshotDir:       settings.Browser.SnapshotDir,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("could not create booking runner: %w", err)
	}

	svc, err := apprun.NewService(apprun.ServiceConfig{
		Runner:     runner,
		Repository: repo,
		Notifier:   notifiers,
		Metrics:    recorder,
		Settings:   settings,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create run service: %w", err)
	}

	var result *apprun.Result
	var g run.Group

	// Run.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				res, err := svc.Run(ctx, apprun.Request{Accounts: accounts, Proxies: proxies})
				if err != nil {
					return fmt.Errorf("could not run: %w", err)
				}
				result = res
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Metrics.
	if c.metricsListen != "" {
		server := newMetricsServer(c.metricsListen, registry)
		g.Add(
			func() error {
				logger.WithValues(log.Kv{"addr": c.metricsListen}).Infof("Metrics server listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := shutdownContext()
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Errorf("Could not shut down metrics server: %s", err)
				}
			},
		)
	}

	if err := g.Run(); err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("run was interrupted")
	}

	// The run record has the final status and timestamps.
	runRecord := model.Run{ID: result.RunID, Stats: result.Stats}
	if r, err := repo.GetRun(context.WithoutCancel(ctx), result.RunID); err == nil {
		runRecord = *r
	} else {
		logger.Warningf("Could not get run %s record: %s", result.RunID, err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRun(runRecord, result.Outcomes); err != nil {
		return fmt.Errorf("could not print run: %w", err)
	}

	if !result.Booked() {
		return fmt.Errorf("no appointment was booked (%s)", result.Stats)
	}

	return nil
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}
