package persistence

import (
	"MarketSim/internal/event"
	"MarketSim/internal/observability"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sink persists batches of trace records in one transaction each.
// A failed write is retried with exponential backoff until it succeeds or the
// context is cancelled; records are never dropped.
type Sink struct {
	writer     *TraceWriter
	metrics    *observability.Metrics
	log        zerolog.Logger
	maxBackoff time.Duration
}

func NewSink(writer *TraceWriter, metrics *observability.Metrics, log zerolog.Logger) *Sink {
	return &Sink{
		writer:     writer,
		metrics:    metrics,
		log:        log,
		maxBackoff: 30 * time.Second,
	}
}

func (s *Sink) Name() string {
	return "sql:" + s.writer.dialect.Name
}

// Write stores records, retrying until success or cancellation.
func (s *Sink) Write(ctx context.Context, records []event.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]RecordRow, len(records))
	for i, r := range records {
		rows[i] = ToRow(r)
	}
	return s.flushWithRetry(ctx, rows)
}

func (s *Sink) Close() error {
	return nil
}

// flushWithRetry attempts to flush with exponential backoff. On cancellation
// it makes one final attempt with a background context so the batch survives
// shutdown.
func (s *Sink) flushWithRetry(ctx context.Context, rows []RecordRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(rows)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				return s.flush(context.Background(), rows)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		err := s.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				s.log.Info().Int("retries", attempt).Msg("persistence flush succeeded after retries")
			}
			return nil
		}

		s.log.Error().Err(err).Int("records", len(rows)).Msg("persistence flush failed")
		if s.metrics != nil {
			s.metrics.PersistRetry.Inc()
		}
	}
}

func (s *Sink) flush(ctx context.Context, rows []RecordRow) error {
	start := time.Now()

	tx, err := s.writer.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.writer.WriteRecords(ctx, tx, rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		s.metrics.PersistBatchSize.Observe(float64(len(rows)))
		s.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
	}

	return nil
}
