package config_test

import (
	"MarketSim/internal/agent"
	"MarketSim/internal/config"
	"MarketSim/internal/event"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
run:
  seed: 7
  horizon: 500
  agent_timeout: 25ms
market:
  listings:
    - symbol: WIDGET
      product: WIDGET
oracle:
  products:
    WIDGET: {initial: 100, vol: 0}
agents:
  - id: 2
    kind: taker
    size: 3
    limits: {WIDGET: 10}
  - id: 1
    kind: maker
    half_spread: 2
    size: 5
    limits: {WIDGET: 10}
  - id: 3
    kind: scripted
    script:
      0:
        WIDGET:
          - {price: 99, quantity: 1}
trace:
  file: ${MARKETSIM_TEST_TRACE_DIR}/trace.log
batch:
  seeds: [3, 1, 2]
`

// validationFields returns the Field of every ValidationError inside err.
func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined), "expected joined errors, got %v", err)

	var fields []string
	for _, e := range joined.Unwrap() {
		var ve config.ValidationError
		require.True(t, errors.As(e, &ve))
		fields = append(fields, ve.Field)
	}
	return fields
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ReplaceResting())
	assert.Equal(t, event.DefaultCashProduct, cfg.Market.CashProduct)
	assert.Len(t, cfg.Agents, 2)
}

func TestParse_YAML(t *testing.T) {
	t.Setenv("MARKETSIM_TEST_TRACE_DIR", "/tmp/runs")

	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), cfg.Run.Seed)
	assert.Equal(t, int64(100), cfg.Run.TimeStep, "time step defaults to 100")
	assert.Equal(t, 25*time.Millisecond, cfg.Run.AgentTimeout)
	assert.True(t, cfg.ReplaceResting(), "replacement defaults to on")
	assert.Equal(t, event.DefaultCashProduct, cfg.Market.Listings[0].Denomination)
	assert.Equal(t, "/tmp/runs/trace.log", cfg.Trace.File)
	assert.True(t, cfg.Trace.Enabled())
	assert.Equal(t, []uint64{1, 2, 3}, cfg.Seeds())

	script := cfg.Agents[2].Script[0]["WIDGET"]
	require.Len(t, script, 1)
	assert.Equal(t, int64(99), script[0].Price)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Agents, 3)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_ExplicitNoReplacement(t *testing.T) {
	cfg, err := config.Parse([]byte(`
run: {horizon: 100, replace_resting_orders: false}
market: {listings: [{symbol: W, product: W}]}
oracle: {products: {W: {initial: 1}}}
agents: [{id: 1}]
`))
	require.NoError(t, err)
	assert.False(t, cfg.ReplaceResting())
	assert.False(t, cfg.Options("r").ReplaceRestingOrders)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("MARKETSIM_NATS_URL", "nats://example:4222")
	t.Setenv("MARKETSIM_TRACE_BATCH_SIZE", "16")
	t.Setenv("MARKETSIM_BATCH_WORKERS", "not-a-number")

	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "nats://example:4222", cfg.Trace.NATSURL)
	assert.Equal(t, 16, cfg.Trace.BatchSize)
	assert.Equal(t, 4, cfg.Batch.Workers, "unparsable override keeps the default")
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := config.Default()
	cfg.Run.TimeStep = -5
	cfg.Agents = append(cfg.Agents,
		config.AgentConfig{ID: 1, Kind: agent.KindIdle},
		config.AgentConfig{ID: 9, Kind: "arbitrage"},
		config.AgentConfig{ID: 10, Kind: agent.KindTaker, Size: 0, Limits: map[event.Product]int64{"GADGET": 1}},
	)
	cfg.Market.Listings = append(cfg.Market.Listings, event.Listing{Symbol: "WIDGET", Product: "WIDGET", Denomination: "DOLLARS"})

	err := cfg.Validate()
	require.Error(t, err)

	fields := validationFields(t, err)
	assert.Contains(t, fields, "run.time_step")
	assert.Contains(t, fields, "agents[2].id")
	assert.Contains(t, fields, "agents[3].kind")
	assert.Contains(t, fields, "agents[4].size")
	assert.Contains(t, fields, "agents[4].limits")
	assert.Contains(t, fields, "market.listings[1].symbol")
	assert.Contains(t, fields, "market.listings[1].denomination")
}

func TestValidate_OracleCoverage(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.Products = nil

	fields := validationFields(t, cfg.Validate())
	assert.Equal(t, []string{"oracle.products"}, fields)
}

func TestBuild(t *testing.T) {
	cfg := config.Default()

	agents, orc, err := cfg.Build(42)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, event.AgentID(1), agents[0].ID())
	assert.Equal(t, event.AgentID(2), agents[1].ID())
	assert.InDelta(t, 100.0, orc.FairValue("WIDGET"), 1e-9)

	specs := cfg.AgentSpecs(42)
	assert.Equal(t, uint64(44), specs[1].Seed, "taker seed derives from run seed and id")

	limit, ok := cfg.Limits().Get(1, "WIDGET")
	assert.True(t, ok)
	assert.Equal(t, int64(10), limit)

	opts := cfg.Options("run-x")
	assert.Equal(t, "run-x", opts.RunID)
	assert.Equal(t, int64(10_000), opts.Horizon)
	assert.True(t, opts.ReplaceRestingOrders)
}

func TestBuild_UnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Agents[0].Kind = "oracle"
	_, _, err := cfg.Build(1)
	assert.ErrorIs(t, err, agent.ErrUnknownKind)
}
