package runner_test

import (
	"MarketSim/internal/config"
	"MarketSim/internal/event"
	"MarketSim/internal/persistence"
	"MarketSim/internal/runner"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu       sync.Mutex
	started  map[string]uint64
	finished map[string]persistence.RunSummary
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		started:  make(map[string]uint64),
		finished: make(map[string]persistence.RunSummary),
	}
}

func (m *memoryRecorder) StartRun(_ context.Context, runID string, seed uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[runID] = seed
	return nil
}

func (m *memoryRecorder) FinishRun(_ context.Context, s persistence.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[s.RunID] = s
	return nil
}

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.Horizon = 2_000
	cfg.Run.AgentTimeout = 0
	cfg.Batch.Workers = 3
	return cfg
}

func TestBatch_OrderedBySeed(t *testing.T) {
	cfg := smallConfig()
	rec := newMemoryRecorder()
	b := runner.NewBatch(cfg, zerolog.Nop(), runner.WithRecorder(rec))

	results := b.Run(context.Background(), []uint64{5, 1, 3, 2})
	require.Len(t, results, 4)

	for i, want := range []uint64{1, 2, 3, 5} {
		r := results[i]
		assert.Equal(t, want, r.Seed)
		require.NoError(t, r.Err)
		require.NotNil(t, r.Result)
		assert.Equal(t, int64(20), r.Result.Ticks)
		assert.Equal(t, r.RunID, r.Report.RunID)
		assert.True(t, r.Report.TotalPnL().IsZero(), "value is conserved across agents")
	}

	assert.Len(t, rec.started, 4)
	require.Len(t, rec.finished, 4)
	for _, s := range rec.finished {
		assert.Equal(t, persistence.RunStatusCompleted, s.Status)
	}
}

func TestBatch_SameSeedSameHash(t *testing.T) {
	cfg := smallConfig()
	b := runner.NewBatch(cfg, zerolog.Nop())

	results := b.Run(context.Background(), []uint64{7, 7})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, results[0].Result.StateHash, results[1].Result.StateHash)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
}

func TestBatch_SharedTraceChannel(t *testing.T) {
	cfg := smallConfig()
	cfg.Run.Horizon = 300
	trace := make(chan event.Record, 4096)
	b := runner.NewBatch(cfg, zerolog.Nop(), runner.WithTrace(trace))

	results := b.Run(context.Background(), []uint64{1, 2})
	close(trace)

	last := make(map[string]int64)
	for rec := range trace {
		assert.Greater(t, rec.Sequence, last[rec.RunID], "per-run sequence is increasing")
		last[rec.RunID] = rec.Sequence
	}
	assert.Len(t, last, 2)
	for _, r := range results {
		assert.Contains(t, last, r.RunID)
	}
}

func TestBatch_BuildFailure(t *testing.T) {
	cfg := smallConfig()
	cfg.Agents[0].Kind = "unknown"
	rec := newMemoryRecorder()

	results := runner.NewBatch(cfg, zerolog.Nop(), runner.WithRecorder(rec)).Run(context.Background(), []uint64{1})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Nil(t, results[0].Result)
	assert.Equal(t, persistence.RunStatusFailed, rec.finished[results[0].RunID].Status)
}
