package printer_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/printer"
	"github.com/slok/slotrunner/internal/proxy"
)

func runFixture() model.Run {
	started := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	return model.Run{
		ID:         "01JRUN",
		Status:     model.RunStatusFinished,
		Stats:      model.RunStats{Total: 3, Success: 1, Failed: 1, Errored: 1, Retried: 1},
		StartedAt:  started,
		FinishedAt: &finished,
	}
}

func outcomesFixture() []model.Outcome {
	at := time.Date(2026, 1, 30, 10, 0, 1, 0, time.UTC)
	return []model.Outcome{
		model.NewSuccessOutcome(model.OutcomeMeta{
			TaskID: "t1", Username: "alice", Attempt: 1, Duration: 12 * time.Second,
			Transitions: []model.Transition{{State: model.TaskStateInit, At: at}},
		}, model.Booking{Confirmation: "CONF-1", Date: "2026-02-01", Time: "09:30", ProxyRegion: "es"}),
		model.NewFailedOutcome(model.OutcomeMeta{TaskID: "t2", Username: "bob", Attempt: 1}, "no slots available"),
		model.NewErroredOutcome(model.OutcomeMeta{TaskID: "t3", Username: "carol", Attempt: 2}, model.ErrorKindChallenge, model.TaskStateCaptchaChallenge, "captcha rejected"),
	}
}

func proxiesFixture() []model.ProxyEndpoint {
	return []model.ProxyEndpoint{
		{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "secret", Region: "es", Layout: model.ProxyLayoutStandard},
		{Host: "10.0.0.2", Port: 9000, Username: "tok", Region: "fr", Layout: model.ProxyLayoutSOAX},
	}
}

func TestTablePrinter(t *testing.T) {
	tests := map[string]struct {
		print  func(p printer.Printer) error
		expOut []string
		notOut []string
	}{
		"Run list should print a row per run.": {
			print: func(p printer.Printer) error { return p.PrintRuns([]model.Run{runFixture()}) },
			expOut: []string{
				"ID      STATUS    TOTAL  SUCCESS  FAILED  ERRORED  PENDING  STARTED",
				"01JRUN  finished  3      1        1       1        0",
			},
		},
		"An empty run list shouldn't print anything.": {
			print: func(p printer.Printer) error { return p.PrintRuns(nil) },
		},
		"Run detail should print the stats and the outcomes.": {
			print: func(p printer.Printer) error { return p.PrintRun(runFixture(), outcomesFixture()) },
			expOut: []string{
				"Status:     finished",
				"Started:    2026-01-30 10:00:00 UTC",
				"Duration:   1m30s",
				"Retried:    1",
				"booked 2026-02-01 09:30 (confirmation CONF-1)",
				"no slots available",
				"challenge at captcha_challenge: captcha rejected",
			},
		},
		"Proxies without checks should not print reachability nor credentials.": {
			print: func(p printer.Printer) error { return p.PrintProxies(proxiesFixture(), nil) },
			expOut: []string{"10.0.0.1:8080", "soax"},
			notOut: []string{"REACHABLE", "secret"},
		},
		"Proxies with checks should print reachability.": {
			print: func(p printer.Printer) error {
				ps := proxiesFixture()
				return p.PrintProxies(ps, []proxy.CheckResult{
					{Proxy: ps[0], Latency: 120 * time.Millisecond},
					{Proxy: ps[1], Err: errors.New("timeout")},
				})
			},
			expOut: []string{"REACHABLE", "yes", "120ms", "no"},
		},
		"Checks should print icons and a summary.": {
			print: func(p printer.Printer) error {
				return p.PrintChecks([]model.CheckResult{
					{ID: "accounts_file", Status: model.CheckStatusOK, Message: "3 accounts"},
					{ID: "notifier", Status: model.CheckStatusWarning, Message: "disabled"},
					{ID: "browser_engine", Status: model.CheckStatusError, Message: "chrome missing"},
				})
			},
			expOut: []string{
				"[OK] accounts_file        3 accounts",
				"[!!] notifier             disabled",
				"[XX] browser_engine       chrome missing",
				"1 passed, 1 warnings, 1 errors",
			},
		},
		"Message should be printed as is.": {
			print:  func(p printer.Printer) error { return p.PrintMessage("ok") },
			expOut: []string{"ok"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var buf bytes.Buffer
			err := test.print(printer.NewTablePrinter(&buf))
			require.NoError(err)

			out := buf.String()
			if len(test.expOut) == 0 {
				assert.Empty(strings.TrimSpace(out))
			}
			for _, exp := range test.expOut {
				assert.Contains(out, exp)
			}
			for _, n := range test.notOut {
				assert.NotContains(out, n)
			}
		})
	}
}

func TestJSONPrinter(t *testing.T) {
	tests := map[string]struct {
		print  func(p printer.Printer) error
		expOut string
	}{
		"Run list should not include outcomes.": {
			print: func(p printer.Printer) error { return p.PrintRuns([]model.Run{runFixture()}) },
			expOut: `[
  {
    "id": "01JRUN",
    "status": "finished",
    "stats": {
      "total": 3,
      "success": 1,
      "failed": 1,
      "errored": 1,
      "pending": 0,
      "retried": 1
    },
    "started_at": "2026-01-30T10:00:00Z",
    "finished_at": "2026-01-30T10:01:30Z"
  }
]
`,
		},
		"Proxies should include the check results without credentials.": {
			print: func(p printer.Printer) error {
				ps := proxiesFixture()
				return p.PrintProxies(ps[:1], []proxy.CheckResult{{Proxy: ps[0], Latency: 120 * time.Millisecond}})
			},
			expOut: `[
  {
    "address": "10.0.0.1:8080",
    "layout": "standard",
    "region": "es",
    "reachable": true,
    "latency_ms": 120
  }
]
`,
		},
		"Checks should be printed as a list.": {
			print: func(p printer.Printer) error {
				return p.PrintChecks([]model.CheckResult{{ID: "site_url", Status: model.CheckStatusOK, Message: "https://example.com"}})
			},
			expOut: `[
  {
    "id": "site_url",
    "status": "ok",
    "message": "https://example.com"
  }
]
`,
		},
		"Message should be wrapped in an object.": {
			print: func(p printer.Printer) error { return p.PrintMessage("ok") },
			expOut: `{
  "message": "ok"
}
`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := test.print(printer.NewJSONPrinter(&buf))
			require.NoError(t, err)
			assert.Equal(t, test.expOut, buf.String())
		})
	}
}

func TestJSONPrinterPrintRun(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var buf bytes.Buffer
	err := printer.NewJSONPrinter(&buf).PrintRun(runFixture(), outcomesFixture())
	require.NoError(err)

	out := buf.String()
	assert.Contains(out, `"confirmation": "CONF-1"`)
	assert.Contains(out, `"duration_ms": 12000`)
	assert.Contains(out, `"reason": "no slots available"`)
	assert.Contains(out, `"kind": "challenge"`)
	assert.Contains(out, `"state": "captcha_challenge"`)
	assert.Contains(out, `"state": "init"`)
}
