package printer

import (
	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

// Printer knows how to print slotrunner information in different formats.
type Printer interface {
	PrintRuns(runs []model.Run) error
	PrintRun(run model.Run, outcomes []model.Outcome) error
	PrintProxies(proxies []model.ProxyEndpoint, checks []proxy.CheckResult) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
