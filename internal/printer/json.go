package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/proxy"
)

// JSONPrinter prints slotrunner information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type statsOutput struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Pending int `json:"pending"`
	Retried int `json:"retried"`
}

type runOutput struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Stats      statsOutput     `json:"stats"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Outcomes   []outcomeOutput `json:"outcomes,omitempty"`
}

type outcomeOutput struct {
	TaskID      string             `json:"task_id"`
	Username    string             `json:"username"`
	Attempt     int                `json:"attempt"`
	Kind        string             `json:"kind"`
	FinalState  string             `json:"final_state"`
	DurationMS  int64              `json:"duration_ms"`
	Booking     *bookingOutput     `json:"booking,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Error       *errorOutput       `json:"error,omitempty"`
	Transitions []transitionOutput `json:"transitions,omitempty"`
}

type bookingOutput struct {
	Confirmation string `json:"confirmation"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	ProxyRegion  string `json:"proxy_region"`
}

type errorOutput struct {
	Kind    string `json:"kind"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
}

type transitionOutput struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

type proxyOutput struct {
	Address   string `json:"address"`
	Layout    string `json:"layout"`
	Region    string `json:"region"`
	Reachable *bool  `json:"reachable,omitempty"`
	LatencyMS *int64 `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintRuns prints runs in JSON format without outcomes.
func (j *JSONPrinter) PrintRuns(runs []model.Run) error {
	items := make([]runOutput, len(runs))
	for i, r := range runs {
		items[i] = mapRun(r)
	}

	return j.encode(items)
}

// PrintRun prints a run detail with its outcomes in JSON format.
func (j *JSONPrinter) PrintRun(run model.Run, outcomes []model.Outcome) error {
	output := mapRun(run)
	for _, o := range outcomes {
		output.Outcomes = append(output.Outcomes, mapOutcome(o))
	}

	return j.encode(output)
}

// PrintProxies prints proxies in JSON format, credentials are never printed.
func (j *JSONPrinter) PrintProxies(proxies []model.ProxyEndpoint, checks []proxy.CheckResult) error {
	results := checksByAddress(checks)

	items := make([]proxyOutput, len(proxies))
	for i, p := range proxies {
		item := proxyOutput{
			Address: p.Address(),
			Layout:  string(p.Layout),
			Region:  p.Region,
		}
		if c, ok := results[p.Address()]; ok {
			reachable := c.OK()
			item.Reachable = &reachable
			if reachable {
				latency := c.Latency.Milliseconds()
				item.LatencyMS = &latency
			} else {
				item.Error = c.Err.Error()
			}
		}
		items[i] = item
	}

	return j.encode(items)
}

// PrintChecks prints check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkOutput, len(results))
	for i, r := range results {
		items[i] = checkOutput{ID: r.ID, Status: string(r.Status), Message: r.Message}
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mapRun(r model.Run) runOutput {
	output := runOutput{
		ID:     r.ID,
		Status: string(r.Status),
		Stats: statsOutput{
			Total:   r.Stats.Total,
			Success: r.Stats.Success,
			Failed:  r.Stats.Failed,
			Errored: r.Stats.Errored,
			Pending: r.Stats.Pending,
			Retried: r.Stats.Retried,
		},
		StartedAt: r.StartedAt.UTC(),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		output.FinishedAt = &t
	}

	return output
}

func mapOutcome(o model.Outcome) outcomeOutput {
	output := outcomeOutput{
		TaskID:     o.TaskID,
		Username:   o.Username,
		Attempt:    o.Attempt,
		Kind:       string(o.Kind),
		FinalState: string(o.FinalState),
		DurationMS: o.Duration.Milliseconds(),
		Reason:     o.Reason,
	}
	if o.Booking != nil {
		output.Booking = &bookingOutput{
			Confirmation: o.Booking.Confirmation,
			Date:         o.Booking.Date,
			Time:         o.Booking.Time,
			ProxyRegion:  o.Booking.ProxyRegion,
		}
	}
	if o.Error != nil {
		output.Error = &errorOutput{
			Kind:    string(o.Error.Kind),
			State:   string(o.Error.State),
			Message: o.Error.Message,
		}
	}
	for _, t := range o.Transitions {
		output.Transitions = append(output.Transitions, transitionOutput{State: string(t.State), At: t.At.UTC()})
	}

	return output
}
