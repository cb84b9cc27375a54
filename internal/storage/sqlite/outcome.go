package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/slotrunner/internal/model"
)

// SaveOutcomes stores the outcomes of a run and their transitions in a single transaction.
func (r *Repository) SaveOutcomes(ctx context.Context, runID string, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	outcomeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (
			task_id, run_id, username, attempt, kind, final_state,
			reason, error_kind, error_state, error_message,
			confirmation, booking_date, booking_time, proxy_region,
			duration_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer outcomeStmt.Close()

	transitionStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transitions (task_id, sequence, state, at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("could not prepare statement: %w", err)
	}
	defer transitionStmt.Close()

	for _, o := range outcomes {
		var b model.Booking
		if o.Booking != nil {
			b = *o.Booking
		}
		var e model.TaskError
		if o.Error != nil {
			e = *o.Error
		}

		_, err := outcomeStmt.ExecContext(ctx,
			o.TaskID, runID, o.Username, o.Attempt, o.Kind, o.FinalState,
			o.Reason, e.Kind, e.State, e.Message,
			b.Confirmation, b.Date, b.Time, b.ProxyRegion,
			o.Duration.Milliseconds(),
		)
		if err != nil {
			switch {
			case strings.Contains(err.Error(), "UNIQUE constraint failed: outcomes."):
				return fmt.Errorf("outcome %s already exists: %w", o.TaskID, model.ErrAlreadyExists)
			case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
				return fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
			}
			return fmt.Errorf("could not insert outcome: %w", err)
		}

		for i, t := range o.Transitions {
			if _, err := transitionStmt.ExecContext(ctx, o.TaskID, i+1, t.State, t.At.UnixMilli()); err != nil {
				return fmt.Errorf("could not insert transition: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	r.logger.Debugf("Saved %d outcomes for run %s", len(outcomes), runID)
	return nil
}

// ListOutcomes returns the outcomes of a run ordered by attempt and insertion.
func (r *Repository) ListOutcomes(ctx context.Context, runID string) ([]model.Outcome, error) {
	query := `
		SELECT
			task_id, username, attempt, kind, final_state,
			reason, error_kind, error_state, error_message,
			confirmation, booking_date, booking_time, proxy_region,
			duration_ms
		FROM outcomes
		WHERE run_id = ?
		ORDER BY attempt ASC, rowid ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("could not query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []model.Outcome
	index := map[string]int{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		index[o.TaskID] = len(outcomes)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if len(outcomes) == 0 {
		return outcomes, nil
	}

	tRows, err := r.db.QueryContext(ctx, `
		SELECT t.task_id, t.state, t.at
		FROM transitions t
		JOIN outcomes o ON o.task_id = t.task_id
		WHERE o.run_id = ?
		ORDER BY t.task_id, t.sequence ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("could not query transitions: %w", err)
	}
	defer tRows.Close()

	for tRows.Next() {
		var taskID string
		var state model.TaskState
		var at int64
		if err := tRows.Scan(&taskID, &state, &at); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		i, ok := index[taskID]
		if !ok {
			continue
		}
		outcomes[i].Transitions = append(outcomes[i].Transitions, model.Transition{
			State: state,
			At:    time.UnixMilli(at).UTC(),
		})
	}
	if err := tRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return outcomes, nil
}

func scanOutcome(s scanner) (model.Outcome, error) {
	var o model.Outcome
	var e model.TaskError
	var b model.Booking
	var durationMS int64

	err := s.Scan(
		&o.TaskID,
		&o.Username,
		&o.Attempt,
		&o.Kind,
		&o.FinalState,
		&o.Reason,
		&e.Kind,
		&e.State,
		&e.Message,
		&b.Confirmation,
		&b.Date,
		&b.Time,
		&b.ProxyRegion,
		&durationMS,
	)
	if err != nil {
		return model.Outcome{}, err
	}

	o.Duration = time.Duration(durationMS) * time.Millisecond
	switch o.Kind {
	case model.OutcomeKindSuccess:
		o.Booking = &b
	case model.OutcomeKindErrored:
		o.Error = &e
	}

	return o, nil
}
