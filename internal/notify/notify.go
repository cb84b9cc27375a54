package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/slotrunner/internal/model"
)

// EventKind is the kind of a notification event.
type EventKind string

const (
	EventKindStarted     EventKind = "started"
	EventKindBatchStatus EventKind = "batch_status"
	EventKindSuccess     EventKind = "success"
	EventKindError       EventKind = "error"
)

// Event is a run status notification.
type Event struct {
	Kind  EventKind
	RunID string
	Stats model.RunStats
	// Batch is the 1 based batch number of batch status events.
	Batch   int
	Batches int
	// Final is set on the last batch status of a run.
	Final bool
	// Retry is set on the events of the retry pass.
	Retry bool
	// Outcome is set on success and error events.
	Outcome *model.Outcome
}

// Notifier sends notifications. Notification errors never stop a run.
type Notifier interface {
	Send(ctx context.Context, e Event) error
}

// Noop notifier doesn't send anything, used when notifications are not configured.
const Noop = noop(0)

type noop int

func (noop) Send(context.Context, Event) error { return nil }

// Multi sends the events to all the notifiers, a failing notifier doesn't stop the rest.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message returns the human readable text of an event.
func Message(e Event) string {
	prefix := ""
	if e.Retry {
		prefix = "[retry] "
	}

	switch e.Kind {
	case EventKindStarted:
		return fmt.Sprintf("%s🚀 Run %s started: %d accounts", prefix, e.RunID, e.Stats.Total)

	case EventKindBatchStatus:
		var b strings.Builder
		if e.Final {
			fmt.Fprintf(&b, "%s🏁 Run %s finished\n", prefix, e.RunID)
		} else {
			fmt.Fprintf(&b, "%s📦 Batch %d/%d done\n", prefix, e.Batch, e.Batches)
		}
		fmt.Fprintf(&b, "✅ %d  ❌ %d  ⚠️ %d  ⏳ %d  (total %d)", e.Stats.Success, e.Stats.Failed, e.Stats.Errored, e.Stats.Pending, e.Stats.Total)
		if e.Stats.Retried > 0 {
			fmt.Fprintf(&b, "\n🔁 %d retried", e.Stats.Retried)
		}
		return b.String()

	case EventKindSuccess:
		if e.Outcome == nil || e.Outcome.Booking == nil {
			return prefix + "✅ Booked"
		}
		bk := e.Outcome.Booking
		msg := fmt.Sprintf("%s✅ %s booked %s %s (confirmation %s)", prefix, e.Outcome.Username, bk.Date, bk.Time, bk.Confirmation)
		if bk.ProxyRegion != "" {
			msg += fmt.Sprintf(" via %s", bk.ProxyRegion)
		}
		return msg

	case EventKindError:
		if e.Outcome == nil {
			return prefix + "⚠️ Task error"
		}
		return fmt.Sprintf("%s⚠️ %s: %s", prefix, e.Outcome.Username, e.Outcome.Summary())
	}

	return fmt.Sprintf("%s%s", prefix, e.Kind)
}
