package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/slok/slotrunner/internal/notify"
)

// NotifierConfig is the configuration of the progress bar notifier.
type NotifierConfig struct {
	Out io.Writer
}

func (c *NotifierConfig) defaults() error {
	if c.Out == nil {
		c.Out = os.Stderr
	}
	return nil
}

// Notifier renders the run progress as a terminal progress bar.
type Notifier struct {
	out io.Writer
	bar *progressbar.ProgressBar
	mu  sync.Mutex
}

// NewNotifier returns a new progress bar notifier.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Notifier{out: cfg.Out}, nil
}

func (n *Notifier) Send(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch e.Kind {
	case notify.EventKindStarted:
		n.bar = progressbar.NewOptions(e.Stats.Total,
			progressbar.OptionSetWriter(n.out),
			progressbar.OptionSetDescription("Booking"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionFullWidth(),
		)
		return nil

	case notify.EventKindBatchStatus:
		if n.bar == nil {
			return nil
		}

		if e.Retry {
			n.bar.Describe(fmt.Sprintf("Retrying (%d/%d)", e.Batch, e.Batches))
		} else {
			n.bar.Describe(fmt.Sprintf("Booking (%d/%d)", e.Batch, e.Batches))
			if err := n.bar.Set(e.Stats.Done()); err != nil {
				return fmt.Errorf("could not update progress: %w", err)
			}
		}

		if e.Final {
			n.bar.Describe(fmt.Sprintf("Done (%d booked)", e.Stats.Success))
			if err := n.bar.Finish(); err != nil {
				return fmt.Errorf("could not finish progress: %w", err)
			}
			fmt.Fprintln(n.out)
			n.bar = nil
		}
	}

	return nil
}
