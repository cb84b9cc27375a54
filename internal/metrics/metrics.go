package metrics

import (
	"context"
	"time"

	"github.com/slok/slotrunner/internal/model"
)

// Recorder knows how to record run metrics.
type Recorder interface {
	ObserveOutcome(ctx context.Context, o model.Outcome)
	ObserveBatch(ctx context.Context, retry bool, size int, duration time.Duration)
	ObserveRun(ctx context.Context, stats model.RunStats, duration time.Duration)
}

// Noop recorder doesn't record anything.
const Noop = noop(0)

type noop int

func (noop) ObserveOutcome(context.Context, model.Outcome)             {}
func (noop) ObserveBatch(context.Context, bool, int, time.Duration)    {}
func (noop) ObserveRun(context.Context, model.RunStats, time.Duration) {}
