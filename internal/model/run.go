package model

import "time"

// RunStatus is the status of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusAborted  RunStatus = "aborted"
)

// Run is the persisted record of an orchestrator run.
type Run struct {
	ID         string
	Status     RunStatus
	Stats      RunStats
	StartedAt  time.Time
	FinishedAt *time.Time
}
