package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/slotrunner/internal/proxy"
)

type ProxiesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	proxiesPath string
	check       bool
	targetURL   string
	timeout     time.Duration
	format      string
}

// NewProxiesCommand returns the proxies command.
func NewProxiesCommand(rootCmd *RootCommand, app *kingpin.Application) *ProxiesCommand {
	c := &ProxiesCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("proxies", "List the parsed proxies and optionally check their connectivity.")
	c.Cmd.Flag("proxies", "Path to the proxies file.").Short('p').Required().StringVar(&c.proxiesPath)
	c.Cmd.Flag("check", "Check the proxies connectivity.").BoolVar(&c.check)
	c.Cmd.Flag("check-url", "URL requested through every proxy on checks.").StringVar(&c.targetURL)
	c.Cmd.Flag("check-timeout", "Timeout of every proxy check.").Default("15s").DurationVar(&c.timeout)
	formatFlag(c.Cmd, &c.format)

	return c
}

func (c ProxiesCommand) Name() string { return c.Cmd.FullCommand() }

func (c ProxiesCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	proxies, err := loadProxies(ctx, c.proxiesPath)
	if err != nil {
		return fmt.Errorf("could not load proxies: %w", err)
	}

	var results []proxy.CheckResult
	if c.check {
		checker, err := proxy.NewChecker(proxy.CheckerConfig{
			TargetURL: c.targetURL,
			Timeout:   c.timeout,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("could not create proxy checker: %w", err)
		}
		results = checker.Check(ctx, proxies)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintProxies(proxies, results); err != nil {
		return fmt.Errorf("could not print proxies: %w", err)
	}

	return nil
}
