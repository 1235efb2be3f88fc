package persistence

import (
	"MarketSim/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("persistence: run not found")

// RunStore keeps one summary row per simulation run.
type RunStore struct {
	db      *sql.DB
	dialect Dialect
}

// RunSummary contains the outcome of a run
type RunSummary struct {
	RunID          string                                    `json:"run_id"`
	Seed           uint64                                    `json:"seed"`
	Status         string                                    `json:"status"`
	Ticks          int64                                     `json:"ticks"`
	Trades         int64                                     `json:"trades"`
	StateHash      string                                    `json:"state_hash"`
	FinalPositions map[event.AgentID]map[event.Product]int64 `json:"final_positions"`
	CreatedAt      time.Time                                 `json:"created_at"`
}

func NewRunStore(db *sql.DB, dialect Dialect) *RunStore {
	return &RunStore{db: db, dialect: dialect}
}

// StartRun records a run as running. Calling it again for the same run is a no-op.
func (rs *RunStore) StartRun(ctx context.Context, runID string, seed uint64) error {
	d := rs.dialect
	_, err := rs.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO runs (run_id, seed, status, created_at)
		VALUES %s
		ON CONFLICT (run_id) DO NOTHING
	`, d.Tuple(0, 4)), runID, int64(seed), RunStatusRunning, time.Now().UTC())
	return err
}

// FinishRun stores the final summary.
func (rs *RunStore) FinishRun(ctx context.Context, summary RunSummary) error {
	positions, err := json.Marshal(summary.FinalPositions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	d := rs.dialect
	res, err := rs.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE runs SET status = %s, ticks = %s, trades = %s, state_hash = %s, final_positions = %s
		WHERE run_id = %s
	`, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		summary.Status, summary.Ticks, summary.Trades, summary.StateHash, string(positions), summary.RunID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, summary.RunID)
	}
	return nil
}

// LoadRun loads one run summary.
func (rs *RunStore) LoadRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := rs.db.QueryRowContext(ctx, `
		SELECT run_id, seed, status, ticks, trades, state_hash, final_positions, created_at
		FROM runs
		WHERE run_id = `+rs.dialect.Placeholder(1), runID)

	var (
		s         RunSummary
		seed      int64
		positions string
	)
	if err := row.Scan(&s.RunID, &seed, &s.Status, &s.Ticks, &s.Trades, &s.StateHash, &positions, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	s.Seed = uint64(seed)

	if err := json.Unmarshal([]byte(positions), &s.FinalPositions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return &s, nil
}
