package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

// TablePrinter prints slotrunner information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintRuns prints runs in a table format.
func (t *TablePrinter) PrintRuns(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSTATUS\tTOTAL\tSUCCESS\tFAILED\tERRORED\tPENDING\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Status,
			r.Stats.Total,
			r.Stats.Success,
			r.Stats.Failed,
			r.Stats.Errored,
			r.Stats.Pending,
			TimeAgo(r.StartedAt),
		)
	}

	return nil
}

// PrintRun prints a run detail with its task outcomes.
func (t *TablePrinter) PrintRun(run model.Run, outcomes []model.Outcome) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", run.ID)
	fmt.Fprintf(t.writer, "Status:     %s\n", run.Status)
	fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(run.StartedAt))
	if run.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:   %s\n", FormatTimestamp(*run.FinishedAt))
		fmt.Fprintf(t.writer, "Duration:   %s\n", FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	fmt.Fprintf(t.writer, "Accounts:   %d\n", run.Stats.Total)
	fmt.Fprintf(t.writer, "Success:    %d\n", run.Stats.Success)
	fmt.Fprintf(t.writer, "Failed:     %d\n", run.Stats.Failed)
	fmt.Fprintf(t.writer, "Errored:    %d\n", run.Stats.Errored)
	fmt.Fprintf(t.writer, "Pending:    %d\n", run.Stats.Pending)
	fmt.Fprintf(t.writer, "Retried:    %d\n", run.Stats.Retried)

	if len(outcomes) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ACCOUNT\tATTEMPT\tRESULT\tDURATION\tDETAIL")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			o.Username,
			o.Attempt,
			o.Kind,
			FormatDuration(o.Duration),
			o.Summary(),
		)
	}

	return nil
}

// PrintProxies prints proxies in a table format, checks are optional.
func (t *TablePrinter) PrintProxies(proxies []model.ProxyEndpoint, checks []proxy.CheckResult) error {
	if len(proxies) == 0 {
		return nil
	}

	results := checksByAddress(checks)

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if len(checks) == 0 {
		fmt.Fprintln(tw, "ADDRESS\tLAYOUT\tREGION")
	} else {
		fmt.Fprintln(tw, "ADDRESS\tLAYOUT\tREGION\tREACHABLE\tLATENCY")
	}

	for _, p := range proxies {
		if len(checks) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Address(), p.Layout, p.Region)
			continue
		}

		reachable, latency := "unknown", "-"
		if c, ok := results[p.Address()]; ok {
			reachable = "no"
			if c.OK() {
				reachable = "yes"
				latency = FormatDuration(c.Latency)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Address(), p.Layout, p.Region, reachable, latency)
	}

	return nil
}

// PrintChecks prints check results the same way for every command that runs checks.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		icon := "OK"
		switch r.Status {
		case model.CheckStatusWarning:
			icon = "!!"
		case model.CheckStatusError:
			icon = "XX"
		}
		fmt.Fprintf(t.writer, "[%s] %-20s %s\n", icon, r.ID, r.Message)
	}

	ok, warnings, errors := model.CountByStatus(results)
	fmt.Fprintf(t.writer, "\n%d passed, %d warnings, %d errors\n", ok, warnings, errors)

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func checksByAddress(checks []proxy.CheckResult) map[string]proxy.CheckResult {
	m := make(map[string]proxy.CheckResult, len(checks))
	for _, c := range checks {
		m[c.Proxy.Address()] = c
	}
	return m
}
