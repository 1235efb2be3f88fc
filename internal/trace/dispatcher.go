package trace

import (
	"MarketSim/internal/event"
	"MarketSim/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Sink receives trace records in sequence order, one batch at a time.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []event.Record) error
	Close() error
}

const (
	DefaultBatchSize    = 64
	DefaultFlushTimeout = 50 * time.Millisecond
)

// Dispatcher drains the trace channel and fans each batch out to every sink.
// The core sends on the channel with a blocking send, so a slow sink stalls
// the loop instead of losing records.
type Dispatcher struct {
	input        <-chan event.Record
	sinks        []Sink
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewDispatcher(
	input <-chan event.Record,
	sinks []Sink,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	return &Dispatcher{
		input:        input,
		sinks:        sinks,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming records and flushes when the batch is full or the
// flush timeout expires. It returns once the input channel is closed and the
// last batch is written; the producer owns shutdown. Sinks are closed on exit.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeSinks()

	batch := make([]event.Record, 0, d.batchSize)
	timer := time.NewTimer(d.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case rec, ok := <-d.input:
			if !ok {
				// Channel closed: flush and exit
				if len(batch) > 0 {
					d.flush(context.WithoutCancel(ctx), batch)
				}
				return nil
			}

			batch = append(batch, rec)
			if d.metrics != nil {
				d.metrics.SetChannelMetrics("trace", len(d.input), cap(d.input))
			}

			if len(batch) >= d.batchSize {
				d.flush(ctx, batch)
				batch = batch[:0]
				timer.Reset(d.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				d.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(d.flushTimeout)
		}
	}
}

// flush writes one batch to every sink concurrently and waits for all of
// them, so each sink sees batches in order. A failing sink is logged and
// counted; it does not stop the others.
func (d *Dispatcher) flush(ctx context.Context, batch []event.Record) {
	var g errgroup.Group
	for _, s := range d.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, batch); err != nil {
				d.log.Error().Err(err).
					Str("sink", s.Name()).
					Int64("first_sequence", batch[0].Sequence).
					Int("records", len(batch)).
					Msg("trace sink write failed")
				if d.metrics != nil {
					d.metrics.TraceErrors.WithLabelValues(s.Name()).Inc()
				}
				return fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			if d.metrics != nil {
				d.metrics.TraceWritten.WithLabelValues(s.Name()).Add(float64(len(batch)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.log.Warn().Err(err).Msg("trace batch incomplete")
	}
}

func (d *Dispatcher) closeSinks() {
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.Error().Err(err).Str("sink", s.Name()).Msg("trace sink close failed")
		}
	}
}
