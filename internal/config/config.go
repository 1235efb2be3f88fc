// Package config loads and validates a simulation run description.
package config

import (
	"MarketSim/internal/agent"
	"MarketSim/internal/core"
	"MarketSim/internal/event"
	"MarketSim/internal/ledger"
	"MarketSim/internal/oracle"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete description of a run (or a batch of runs)
type Config struct {
	Run    RunConfig     `yaml:"run"`
	Market MarketConfig  `yaml:"market"`
	Oracle OracleConfig  `yaml:"oracle"`
	Agents []AgentConfig `yaml:"agents"`
	Trace  TraceConfig   `yaml:"trace"`
	Batch  BatchConfig   `yaml:"batch"`
	Admin  AdminConfig   `yaml:"admin"`
}

type RunConfig struct {
	Seed         uint64        `yaml:"seed"`
	Horizon      int64         `yaml:"horizon"`
	TimeStep     int64         `yaml:"time_step"`
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// Unset means true
	ReplaceRestingOrders *bool `yaml:"replace_resting_orders"`
	TraceSnapshots       bool  `yaml:"trace_snapshots"`
}

type MarketConfig struct {
	CashProduct event.Product   `yaml:"cash_product"`
	Listings    []event.Listing `yaml:"listings"`
}

type OracleConfig struct {
	VolTurns int                                 `yaml:"vol_turns"`
	Products map[event.Product]oracle.ProductSpec `yaml:"products"`
	Static   map[string]int64                    `yaml:"static"`
}

// AgentConfig describes one participant. Products missing from Limits are
// unbounded.
type AgentConfig struct {
	ID         event.AgentID           `yaml:"id"`
	Kind       string                  `yaml:"kind"`
	HalfSpread int64                   `yaml:"half_spread"`
	Size       int64                   `yaml:"size"`
	Seed       uint64                  `yaml:"seed"`
	Limits     map[event.Product]int64 `yaml:"limits"`
	Script     map[int64]agent.Orders  `yaml:"script"`
}

type TraceConfig struct {
	File         string        `yaml:"file"`
	SQLitePath   string        `yaml:"sqlite_path"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	NATSURL      string        `yaml:"nats_url"`
	ChannelSize  int           `yaml:"channel_size"`
	BatchSize    int           `yaml:"batch_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// Enabled reports whether any sink is configured.
func (t TraceConfig) Enabled() bool {
	return t.File != "" || t.SQLitePath != "" || t.PostgresDSN != "" || t.NATSURL != ""
}

type BatchConfig struct {
	Seeds   []uint64 `yaml:"seeds"`
	Workers int      `yaml:"workers"`
}

type AdminConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads a YAML file with environment variable expansion, applies
// environment overrides and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Run.TimeStep == 0 {
		c.Run.TimeStep = core.DefaultTimeStep
	}
	if c.Run.ReplaceRestingOrders == nil {
		replace := true
		c.Run.ReplaceRestingOrders = &replace
	}
	if c.Market.CashProduct == "" {
		c.Market.CashProduct = event.DefaultCashProduct
	}
	for i := range c.Market.Listings {
		if c.Market.Listings[i].Denomination == "" {
			c.Market.Listings[i].Denomination = c.Market.CashProduct
		}
	}
	if c.Oracle.VolTurns == 0 {
		c.Oracle.VolTurns = oracle.DefaultVolTurns
	}
	if c.Trace.ChannelSize == 0 {
		c.Trace.ChannelSize = 1024
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = 4
	}
}

// applyEnv lets process-level settings be overridden without editing the file.
func (c *Config) applyEnv() {
	c.Trace.File = envOrDefault("MARKETSIM_TRACE_FILE", c.Trace.File)
	c.Trace.SQLitePath = envOrDefault("MARKETSIM_SQLITE_PATH", c.Trace.SQLitePath)
	c.Trace.PostgresDSN = envOrDefault("MARKETSIM_POSTGRES_DSN", c.Trace.PostgresDSN)
	c.Trace.NATSURL = envOrDefault("MARKETSIM_NATS_URL", c.Trace.NATSURL)
	c.Trace.ChannelSize = envIntOrDefault("MARKETSIM_TRACE_CHAN_SIZE", c.Trace.ChannelSize)
	c.Trace.BatchSize = envIntOrDefault("MARKETSIM_TRACE_BATCH_SIZE", c.Trace.BatchSize)
	c.Admin.HTTPAddr = envOrDefault("MARKETSIM_HTTP_ADDR", c.Admin.HTTPAddr)
	c.Admin.GRPCAddr = envOrDefault("MARKETSIM_GRPC_ADDR", c.Admin.GRPCAddr)
	c.Batch.Workers = envIntOrDefault("MARKETSIM_BATCH_WORKERS", c.Batch.Workers)
}

// Validate checks the whole configuration and reports every problem found.
// Each problem is a ValidationError reachable with errors.As.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	// Run
	if c.Run.Horizon < 0 {
		add("run.horizon", c.Run.Horizon, "must be non-negative")
	}
	if c.Run.TimeStep <= 0 {
		add("run.time_step", c.Run.TimeStep, "must be positive")
	}
	if c.Run.AgentTimeout < 0 {
		add("run.agent_timeout", c.Run.AgentTimeout, "must be non-negative")
	}

	// Market
	if c.Market.CashProduct == "" {
		add("market.cash_product", c.Market.CashProduct, "is required")
	}
	if len(c.Market.Listings) == 0 {
		add("market.listings", 0, "at least one listing is required")
	}
	products := map[event.Product]bool{c.Market.CashProduct: true}
	symbols := make(map[event.Symbol]bool)
	for i, l := range c.Market.Listings {
		field := fmt.Sprintf("market.listings[%d]", i)
		if l.Symbol == "" {
			add(field+".symbol", l.Symbol, "is required")
		} else if symbols[l.Symbol] {
			add(field+".symbol", l.Symbol, "duplicate symbol")
		}
		symbols[l.Symbol] = true
		if l.Product == "" {
			add(field+".product", l.Product, "is required")
		} else if l.Product == c.Market.CashProduct {
			add(field+".product", l.Product, "cash product cannot be listed")
		}
		if l.Denomination != c.Market.CashProduct {
			add(field+".denomination", l.Denomination, "must be the cash product")
		}
		products[l.Product] = true
	}

	// Oracle
	for _, l := range c.Market.Listings {
		if _, ok := c.Oracle.Products[l.Product]; !ok && l.Product != "" {
			add("oracle.products", l.Product, "listed product has no fair value")
		}
	}
	for p, spec := range c.Oracle.Products {
		if spec.Initial <= 0 {
			add(fmt.Sprintf("oracle.products.%s.initial", p), spec.Initial, "must be positive")
		}
		if spec.Vol < 0 {
			add(fmt.Sprintf("oracle.products.%s.vol", p), spec.Vol, "must be non-negative")
		}
	}
	if c.Oracle.VolTurns < 0 {
		add("oracle.vol_turns", c.Oracle.VolTurns, "must be non-negative")
	}

	// Agents
	if len(c.Agents) == 0 {
		add("agents", 0, "at least one agent is required")
	}
	ids := make(map[event.AgentID]bool)
	for i, a := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if ids[a.ID] {
			add(field+".id", a.ID, "duplicate agent id")
		}
		ids[a.ID] = true

		switch a.Kind {
		case agent.KindIdle, agent.KindScripted, "":
		case agent.KindMaker:
			if a.HalfSpread < 0 {
				add(field+".half_spread", a.HalfSpread, "must be non-negative")
			}
			if a.Size <= 0 {
				add(field+".size", a.Size, "must be positive")
			}
		case agent.KindTaker:
			if a.Size <= 0 {
				add(field+".size", a.Size, "must be positive")
			}
		default:
			add(field+".kind", a.Kind, "must be one of idle, maker, taker, scripted")
		}

		for p, limit := range a.Limits {
			if !products[p] {
				add(field+".limits", p, "unknown product")
			}
			if limit < 0 {
				add(fmt.Sprintf("%s.limits.%s", field, p), limit, "must be non-negative")
			}
		}
	}

	// Trace and batch
	if c.Trace.ChannelSize < 0 {
		add("trace.channel_size", c.Trace.ChannelSize, "must be non-negative")
	}
	if c.Trace.BatchSize < 0 {
		add("trace.batch_size", c.Trace.BatchSize, "must be non-negative")
	}
	if c.Batch.Workers < 0 {
		add("batch.workers", c.Batch.Workers, "must be non-negative")
	}

	return errors.Join(errs...)
}

// ReplaceResting resolves the replace_resting_orders flag.
func (c *Config) ReplaceResting() bool {
	return c.Run.ReplaceRestingOrders == nil || *c.Run.ReplaceRestingOrders
}

// Limits builds the position limit table.
func (c *Config) Limits() *ledger.Limits {
	l := ledger.NewLimits()
	for _, a := range c.Agents {
		for p, limit := range a.Limits {
			l.Set(a.ID, p, limit)
		}
	}
	return l
}

// Options returns the core options for one run.
func (c *Config) Options(runID string) core.Options {
	listings := make([]event.Listing, len(c.Market.Listings))
	copy(listings, c.Market.Listings)
	return core.Options{
		RunID:                runID,
		Listings:             listings,
		CashProduct:          c.Market.CashProduct,
		Limits:               c.Limits(),
		TimeStep:             c.Run.TimeStep,
		Horizon:              c.Run.Horizon,
		AgentTimeout:         c.Run.AgentTimeout,
		ReplaceRestingOrders: c.ReplaceResting(),
		TraceSnapshots:       c.Run.TraceSnapshots,
	}
}

// OracleFor returns the oracle setup for a run seed.
func (c *Config) OracleFor(seed uint64) oracle.Config {
	products := make(map[event.Product]oracle.ProductSpec, len(c.Oracle.Products))
	for p, spec := range c.Oracle.Products {
		products[p] = spec
	}
	return oracle.Config{
		Products: products,
		VolTurns: c.Oracle.VolTurns,
		Seed:     seed,
		Static:   c.Oracle.Static,
	}
}

// AgentSpecs returns agent specs in configured order. Agents without their
// own seed derive one from the run seed and their id.
func (c *Config) AgentSpecs(seed uint64) []agent.Spec {
	specs := make([]agent.Spec, 0, len(c.Agents))
	for _, a := range c.Agents {
		agentSeed := a.Seed
		if agentSeed == 0 {
			agentSeed = seed + uint64(a.ID)
		}
		specs = append(specs, agent.Spec{
			ID:         a.ID,
			Kind:       a.Kind,
			HalfSpread: a.HalfSpread,
			Size:       a.Size,
			Seed:       agentSeed,
			Limits:     a.Limits,
			Script:     a.Script,
		})
	}
	return specs
}

// Build constructs the agents and the oracle for one seed.
func (c *Config) Build(seed uint64) ([]agent.Agent, oracle.Oracle, error) {
	agents := make([]agent.Agent, 0, len(c.Agents))
	for _, spec := range c.AgentSpecs(seed) {
		a, err := agent.New(spec)
		if err != nil {
			return nil, nil, err
		}
		agents = append(agents, a)
	}
	orc, err := oracle.NewLognormal(c.OracleFor(seed))
	if err != nil {
		return nil, nil, fmt.Errorf("build oracle: %w", err)
	}
	return agents, orc, nil
}

// Seeds returns the batch seeds, or the single run seed when none are set.
func (c *Config) Seeds() []uint64 {
	if len(c.Batch.Seeds) == 0 {
		return []uint64{c.Run.Seed}
	}
	seeds := make([]uint64, len(c.Batch.Seeds))
	copy(seeds, c.Batch.Seeds)
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })
	return seeds
}

// Default returns the two-agent WIDGET market: a maker quoting around a
// fair value of 100 and a taker crossing it, both limited to 10 units.
func Default() *Config {
	cfg := &Config{
		Run: RunConfig{
			Seed:         1,
			Horizon:      10_000,
			TimeStep:     core.DefaultTimeStep,
			AgentTimeout: 100 * time.Millisecond,
		},
		Market: MarketConfig{
			CashProduct: event.DefaultCashProduct,
			Listings: []event.Listing{
				{Symbol: "WIDGET", Product: "WIDGET", Denomination: event.DefaultCashProduct},
			},
		},
		Oracle: OracleConfig{
			VolTurns: oracle.DefaultVolTurns,
			Products: map[event.Product]oracle.ProductSpec{
				"WIDGET": {Initial: 100, Vol: 0.02},
			},
		},
		Agents: []AgentConfig{
			{ID: 1, Kind: agent.KindMaker, HalfSpread: 1, Size: 5, Limits: map[event.Product]int64{"WIDGET": 10}},
			{ID: 2, Kind: agent.KindTaker, Size: 3, Limits: map[event.Product]int64{"WIDGET": 10}},
		},
		Admin: AdminConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
