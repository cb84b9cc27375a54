package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/slotrunner/internal/model"
)

const namespace = "slotrunner"

// RecorderConfig is the configuration of the Prometheus recorder.
type RecorderConfig struct {
	Registerer prometheus.Registerer
}

func (c *RecorderConfig) defaults() error {
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}
	return nil
}

// Recorder records the run metrics on Prometheus.
type Recorder struct {
	outcomes      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	batchDuration *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec
	runAccounts   *prometheus.GaugeVec
	runDuration   prometheus.Histogram
}

// NewRecorder returns a new Prometheus metrics recorder with its metrics registered.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	r := &Recorder{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "outcomes_total",
			Help:      "The total number of task outcomes.",
		}, []string{"kind", "error_kind", "attempt"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "The duration of the tasks.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"kind"}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "The duration of the batches.",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 900},
		}, []string{"retry"}),

		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size_tasks",
			Help:      "The number of tasks of the batches.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}, []string{"retry"}),

		runAccounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "accounts",
			Help:      "The number of accounts of the last run by status.",
		}, []string{"status"}),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "The duration of the runs.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 8),
		}),
	}

	cfg.Registerer.MustRegister(
		r.outcomes,
		r.taskDuration,
		r.batchDuration,
		r.batchSize,
		r.runAccounts,
		r.runDuration,
	)

	return r, nil
}

func (r *Recorder) ObserveOutcome(_ context.Context, o model.Outcome) {
	r.outcomes.WithLabelValues(string(o.Kind), string(o.ErrorKind()), strconv.Itoa(o.Attempt)).Inc()
	r.taskDuration.WithLabelValues(string(o.Kind)).Observe(o.Duration.Seconds())
}

func (r *Recorder) ObserveBatch(_ context.Context, retry bool, size int, duration time.Duration) {
	retryS := strconv.FormatBool(retry)
	r.batchDuration.WithLabelValues(retryS).Observe(duration.Seconds())
	r.batchSize.WithLabelValues(retryS).Observe(float64(size))
}

func (r *Recorder) ObserveRun(_ context.Context, stats model.RunStats, duration time.Duration) {
	r.runAccounts.WithLabelValues("success").Set(float64(stats.Success))
	r.runAccounts.WithLabelValues("failed").Set(float64(stats.Failed))
	r.runAccounts.WithLabelValues("errored").Set(float64(stats.Errored))
	r.runAccounts.WithLabelValues("pending").Set(float64(stats.Pending))
	r.runAccounts.WithLabelValues("retried").Set(float64(stats.Retried))
	r.runDuration.Observe(duration.Seconds())
}
