package model

import "fmt"

// RunStats are the running counters of a run.
// Invariant: Success + Failed + Errored + Pending == Total.
type RunStats struct {
	Total   int
	Success int
	Failed  int
	Errored int
	Pending int
	// Retried is the number of accounts that went through the retry pass.
	Retried int
}

// NewRunStats returns the stats for a run of total tasks that didn't start yet.
func NewRunStats(total int) RunStats {
	return RunStats{Total: total, Pending: total}
}

// Add accounts a pending task outcome.
func (s *RunStats) Add(o Outcome) {
	s.Pending--
	s.inc(o.Kind)
}

// Reclassify moves an already accounted errored task to the kind of its retry outcome.
func (s *RunStats) Reclassify(o Outcome) {
	s.Errored--
	s.Retried++
	s.inc(o.Kind)
}

func (s *RunStats) inc(k OutcomeKind) {
	switch k {
	case OutcomeKindSuccess:
		s.Success++
	case OutcomeKindFailed:
		s.Failed++
	default:
		s.Errored++
	}
}

// Done returns the number of tasks that have an outcome.
func (s RunStats) Done() int { return s.Success + s.Failed + s.Errored }

// Validate checks the stats invariants.
func (s RunStats) Validate() error {
	if s.Success+s.Failed+s.Errored+s.Pending != s.Total {
		return fmt.Errorf("stats don't add up (%d+%d+%d+%d != %d): %w", s.Success, s.Failed, s.Errored, s.Pending, s.Total, ErrNotValid)
	}
	if s.Success < 0 || s.Failed < 0 || s.Errored < 0 || s.Pending < 0 {
		return fmt.Errorf("negative stats counters: %w", ErrNotValid)
	}
	return nil
}

func (s RunStats) String() string {
	return fmt.Sprintf("total=%d success=%d failed=%d errored=%d pending=%d retried=%d", s.Total, s.Success, s.Failed, s.Errored, s.Pending, s.Retried)
}
