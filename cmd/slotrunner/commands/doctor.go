package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/slotrunner/internal/app/preflight"
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	settings     *settingsFlags
	accountsPath string
	proxiesPath  string
	engine       string
	checkProxies bool
	format       string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run the preflight checks of a run.")
	c.Cmd.Flag("accounts", "Path to the accounts file (YAML or JSON).").Short('a').StringVar(&c.accountsPath)
	c.Cmd.Flag("proxies", "Path to the proxies file.").Short('p').StringVar(&c.proxiesPath)
	c.Cmd.Flag("engine", "Browser engine to check (chrome, fake).").Default(EngineChrome).EnumVar(&c.engine, EngineChrome, EngineFake)
	c.Cmd.Flag("check-proxies", "Check the proxies connectivity.").BoolVar(&c.checkProxies)
	formatFlag(c.Cmd, &c.format)
	c.settings = registerSettingsFlags(c.Cmd)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
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

	checker, err := proxy.NewChecker(proxy.CheckerConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create proxy checker: %w", err)
	}

	svc, err := preflight.NewService(preflight.ServiceConfig{
		Accounts:     rootFSLoader{},
		Proxies:      rootFSLoader{},
		Engine:       engine,
		Solver:       solver,
		ProxyChecker: checker,
		Settings:     settings,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("could not create preflight service: %w", err)
	}

	results := svc.Run(ctx, preflight.Request{
		AccountsPath: c.accountsPath,
		ProxiesPath:  c.proxiesPath,
		CheckProxies: c.checkProxies,
	})

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	if _, _, errs := model.CountByStatus(results); errs > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s)", errs)
	}

	return nil
}
