package persistence

import (
	"MarketSim/internal/event"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
)

// TraceWriter writes trace records using multi-row INSERT. Rows already
// present for (run_id, sequence) are skipped, so replaying a batch after a
// failed commit is safe.
type TraceWriter struct {
	db      *sql.DB
	dialect Dialect
}

// RecordRow represents a row in trace_records
type RecordRow struct {
	RunID        string
	Sequence     int64
	RecordType   string
	SimTimestamp int64
	AgentID      sql.NullInt64
	Payload      string
	StateHash    string
}

const recordColumns = 7

func NewTraceWriter(db *sql.DB, dialect Dialect) *TraceWriter {
	return &TraceWriter{db: db, dialect: dialect}
}

func (w *TraceWriter) DB() *sql.DB {
	return w.db
}

// ToRow flattens a trace record for storage
func ToRow(r event.Record) RecordRow {
	row := RecordRow{
		RunID:        r.RunID,
		Sequence:     r.Sequence,
		RecordType:   r.Type.String(),
		SimTimestamp: r.Timestamp,
		Payload:      string(r.Payload),
		StateHash:    hex.EncodeToString(r.StateHash[:]),
	}
	if r.Agent != nil {
		row.AgentID = sql.NullInt64{Int64: int64(*r.Agent), Valid: true}
	}
	return row
}

// FromRow is the inverse of ToRow
func FromRow(row RecordRow) (event.Record, error) {
	r := event.Record{
		RunID:     row.RunID,
		Sequence:  row.Sequence,
		Type:      event.ParseRecordType(row.RecordType),
		Timestamp: row.SimTimestamp,
		Payload:   []byte(row.Payload),
	}
	if row.AgentID.Valid {
		r.Agent = event.AgentRef(event.AgentID(row.AgentID.Int64))
	}
	hash, err := hex.DecodeString(row.StateHash)
	if err != nil || len(hash) != len(r.StateHash) {
		return r, fmt.Errorf("record %s/%d: bad state hash %q", row.RunID, row.Sequence, row.StateHash)
	}
	copy(r.StateHash[:], hash)
	return r, nil
}

// WriteRecords inserts rows inside tx.
func (w *TraceWriter) WriteRecords(ctx context.Context, tx *sql.Tx, rows []RecordRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Build multi-row INSERT
	query := `INSERT INTO trace_records
		(run_id, sequence, record_type, sim_timestamp, agent_id, payload, state_hash)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*recordColumns)

	for i, r := range rows {
		values = append(values, w.dialect.Tuple(i*recordColumns, recordColumns))
		args = append(args,
			r.RunID, r.Sequence, r.RecordType, r.SimTimestamp,
			r.AgentID, r.Payload, r.StateHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (run_id, sequence) DO NOTHING"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d trace records: %w", len(rows), err)
	}
	return nil
}

// LoadRecords loads up to limit records of a run from a given sequence, for replay.
func (w *TraceWriter) LoadRecords(ctx context.Context, runID string, fromSequence int64, limit int) ([]event.Record, error) {
	d := w.dialect
	query := fmt.Sprintf(`
		SELECT run_id, sequence, record_type, sim_timestamp, agent_id, payload, state_hash
		FROM trace_records
		WHERE run_id = %s AND sequence >= %s
		ORDER BY sequence ASC
		LIMIT %s
	`, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))

	rows, err := w.db.QueryContext(ctx, query, runID, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var row RecordRow
		if err := rows.Scan(
			&row.RunID, &row.Sequence, &row.RecordType, &row.SimTimestamp,
			&row.AgentID, &row.Payload, &row.StateHash,
		); err != nil {
			return nil, err
		}
		r, err := FromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// LatestSequence returns the highest stored sequence of a run, zero if none.
func (w *TraceWriter) LatestSequence(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM trace_records WHERE run_id = `+w.dialect.Placeholder(1),
		runID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
