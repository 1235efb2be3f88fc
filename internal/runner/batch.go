// Package runner executes independent simulation runs, one per seed.
package runner

import (
	"MarketSim/internal/config"
	"MarketSim/internal/core"
	"MarketSim/internal/event"
	"MarketSim/internal/observability"
	"MarketSim/internal/persistence"
	"MarketSim/internal/report"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder stores run lifecycle rows. *persistence.RunStore implements it.
type Recorder interface {
	StartRun(ctx context.Context, runID string, seed uint64) error
	FinishRun(ctx context.Context, summary persistence.RunSummary) error
}

// RunResult is the outcome of one seed. Exactly one of Result and Err is set.
type RunResult struct {
	Seed   uint64
	RunID  string
	Result *core.Result
	Report report.Report
	Err    error
}

// Batch runs every seed of a config on a worker pool. Runs share nothing but
// the trace channel, metrics and recorder, all of which are safe for
// concurrent use.
type Batch struct {
	cfg       *config.Config
	workers   int
	traceChan chan<- event.Record
	recorder  Recorder
	metrics   *observability.Metrics
	log       zerolog.Logger
}

type Option func(*Batch)

func WithTrace(ch chan<- event.Record) Option {
	return func(b *Batch) { b.traceChan = ch }
}

func WithRecorder(r Recorder) Option {
	return func(b *Batch) { b.recorder = r }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(b *Batch) { b.metrics = m }
}

func NewBatch(cfg *config.Config, log zerolog.Logger, opts ...Option) *Batch {
	b := &Batch{
		cfg:     cfg,
		workers: cfg.Batch.Workers,
		log:     log,
	}
	if b.workers <= 0 {
		b.workers = 1
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes every seed and returns results in ascending seed order.
// A failed run does not stop the others.
func (b *Batch) Run(ctx context.Context, seeds []uint64) []RunResult {
	sorted := make([]uint64, len(seeds))
	copy(sorted, seeds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	results := make([]RunResult, len(sorted))

	pool := pond.New(
		b.workers,
		len(sorted),
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Second),
		pond.PanicHandler(func(p interface{}) {
			b.log.Error().Interface("panic", p).Msg("batch worker panic recovered")
		}),
	)
	defer pool.StopAndWait()

	group := pool.Group()
	for i, seed := range sorted {
		results[i] = RunResult{Seed: seed, Err: errors.New("runner: run did not complete")}
		group.Submit(func() {
			results[i] = b.RunSeed(ctx, seed)
		})
	}
	group.Wait()

	return results
}

// RunSeed executes a single run.
func (b *Batch) RunSeed(ctx context.Context, seed uint64) RunResult {
	runID := uuid.NewString()
	out := RunResult{Seed: seed, RunID: runID}
	log := b.log.With().Uint64("seed", seed).Logger()

	if b.recorder != nil {
		if err := b.recorder.StartRun(ctx, runID, seed); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("record run start failed")
		}
	}

	res, err := b.simulate(ctx, runID, seed, log)
	if err != nil {
		out.Err = err
		b.finish(ctx, failedSummary(runID, seed, err), log)
		return out
	}

	out.Result = res
	out.Report = report.Build(res, b.cfg.Market.CashProduct, seed)
	b.finish(ctx, persistence.RunSummary{
		RunID:          runID,
		Seed:           seed,
		Status:         persistence.RunStatusCompleted,
		Ticks:          res.Ticks,
		Trades:         int64(res.Trades),
		StateHash:      hex.EncodeToString(res.StateHash[:]),
		FinalPositions: res.FinalPositions,
	}, log)
	return out
}

func (b *Batch) simulate(ctx context.Context, runID string, seed uint64, log zerolog.Logger) (*core.Result, error) {
	agents, orc, err := b.cfg.Build(seed)
	if err != nil {
		return nil, fmt.Errorf("build run: %w", err)
	}
	sim, err := core.NewSimulation(b.cfg.Options(runID), agents, orc, b.traceChan, b.metrics, log)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx)
}

func (b *Batch) finish(ctx context.Context, summary persistence.RunSummary, log zerolog.Logger) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.FinishRun(context.WithoutCancel(ctx), summary); err != nil {
		log.Warn().Err(err).Str("run_id", summary.RunID).Msg("record run finish failed")
	}
}

func failedSummary(runID string, seed uint64, err error) persistence.RunSummary {
	summary := persistence.RunSummary{
		RunID:  runID,
		Seed:   seed,
		Status: persistence.RunStatusFailed,
	}
	var ie *core.InvariantError
	if errors.As(err, &ie) {
		summary.FinalPositions = ie.Positions
	}
	return summary
}
