package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SweepError records one item that failed during a batch sweep.
type SweepError struct {
	ItemID      int64  `json:"item_id"`
	CandidateID int64  `json:"candidate_id,omitempty"`
	Message     string `json:"message"`
}

// SweepRun is the persisted summary of one batch recalculation.
type SweepRun struct {
	ID                    string       `json:"id"`
	Trigger               string       `json:"trigger"`
	StartedAt             int64        `json:"started_at"`
	TotalProcessed        int          `json:"total_processed"`
	TotalLinksCreated     int          `json:"total_links_created"`
	ProcessingTimeSeconds float64      `json:"processing_time_seconds"`
	Errors                []SweepError `json:"errors"`
}

// SaveSweepRun records a sweep summary.
func (db *DB) SaveSweepRun(ctx context.Context, run *SweepRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []SweepError{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode sweep errors: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, trigger_kind, started_at, total_processed, total_links_created,
			processing_time_seconds, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Trigger, run.StartedAt, run.TotalProcessed, run.TotalLinksCreated,
		run.ProcessingTimeSeconds, string(raw))
	if err != nil {
		return fmt.Errorf("save sweep run: %w", err)
	}
	return nil
}

// LastSweepRun returns the most recent sweep, or nil if none ran yet.
func (db *DB) LastSweepRun(ctx context.Context) (*SweepRun, error) {
	var run SweepRun
	var raw string
	err := db.QueryRowContext(ctx, `
		SELECT id, trigger_kind, started_at, total_processed, total_links_created,
			processing_time_seconds, errors
		FROM sweep_runs ORDER BY started_at DESC, rowid DESC LIMIT 1
	`).Scan(&run.ID, &run.Trigger, &run.StartedAt, &run.TotalProcessed, &run.TotalLinksCreated,
		&run.ProcessingTimeSeconds, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last sweep run: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &run.Errors); err != nil {
		return nil, fmt.Errorf("decode sweep errors: %w", err)
	}
	return &run, nil
}
