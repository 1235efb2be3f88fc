package main

import (
	"MarketSim/internal/broadcast"
	"MarketSim/internal/config"
	"MarketSim/internal/core"
	"MarketSim/internal/event"
	"MarketSim/internal/observability"
	"MarketSim/internal/persistence"
	"MarketSim/internal/runner"
	"MarketSim/internal/server"
	"MarketSim/internal/trace"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the run YAML (default: built-in WIDGET market)")
	seedList := flag.String("seeds", "", "comma-separated seeds, overrides the config")
	flag.Parse()

	log := observability.NewLogger("marketsim")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	seeds := cfg.Seeds()
	if *seedList != "" {
		if seeds, err = parseSeeds(*seedList); err != nil {
			log.Fatal().Err(err).Msg("parse seeds")
		}
	}

	// --- Context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Trace sinks ---
	sinks, recorder, cleanup, err := openSinks(ctx, cfg, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open trace sinks")
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)

	var opts []runner.Option
	opts = append(opts, runner.WithMetrics(metrics))
	if recorder != nil {
		opts = append(opts, runner.WithRecorder(recorder))
	}

	var traceChan chan event.Record
	if len(sinks) > 0 {
		// Blocking channel: a slow sink stalls the loop rather than losing records
		traceChan = make(chan event.Record, cfg.Trace.ChannelSize)
		dispatcher := trace.NewDispatcher(traceChan, sinks, cfg.Trace.BatchSize, cfg.Trace.FlushTimeout,
			metrics, observability.NewLogger("trace"))
		g.Go(func() error { return dispatcher.Run(gctx) })
		opts = append(opts, runner.WithTrace(traceChan))
	}

	// --- Admin server ---
	serverCtx, stopServers := context.WithCancel(gctx)
	defer stopServers()
	if cfg.Admin.HTTPAddr != "" || cfg.Admin.GRPCAddr != "" {
		var runs server.RunLookup
		if store, ok := recorder.(*persistence.RunStore); ok {
			runs = store
		}
		admin := server.NewAdminServer(cfg.Admin.GRPCAddr, cfg.Admin.HTTPAddr, health,
			prometheus.DefaultGatherer, runs, observability.NewLogger("admin"))
		if cfg.Admin.GRPCAddr != "" {
			g.Go(func() error { return admin.StartGRPC(serverCtx) })
		}
		if cfg.Admin.HTTPAddr != "" {
			g.Go(func() error { return admin.StartHTTP(serverCtx) })
		}
	}

	// --- Simulation ---
	health.SetReady(true)
	log.Info().
		Int("seeds", len(seeds)).
		Int("agents", len(cfg.Agents)).
		Int64("horizon", cfg.Run.Horizon).
		Int("sinks", len(sinks)).
		Msg("MarketSim ready")

	batch := runner.NewBatch(cfg, observability.NewLogger("core"), opts...)
	results := batch.Run(gctx, seeds)
	health.SetReady(false)

	// --- Graceful shutdown ---
	// Drain the trace before stopping the servers
	if traceChan != nil {
		close(traceChan)
	}
	stopServers()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("background task failed")
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logRunFailure(log, res)
			continue
		}
		res.Report.WriteTable(os.Stdout)
		res.Report.Log(log)
	}

	log.Info().Int("runs", len(results)).Int("failed", failed).Msg("MarketSim shutdown complete")
	if failed > 0 {
		cleanup()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func parseSeeds(s string) ([]uint64, error) {
	var seeds []uint64
	for _, part := range strings.Split(s, ",") {
		seed, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", part, err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func logRunFailure(log zerolog.Logger, res runner.RunResult) {
	var ie *core.InvariantError
	if errors.As(res.Err, &ie) {
		log.Error().
			Str("run_id", res.RunID).
			Uint64("seed", res.Seed).
			Str("kind", ie.Kind).
			Int64("agent", int64(ie.Agent)).
			Str("product", ie.Product).
			Int64("value", ie.Value).
			Int64("limit", ie.Limit).
			Int64("timestamp", ie.Tick).
			Interface("positions", ie.Positions).
			Msg("FATAL: invariant violated")
		return
	}
	log.Error().Err(res.Err).Str("run_id", res.RunID).Uint64("seed", res.Seed).Msg("run failed")
}

// openSinks connects every configured trace destination. The returned
// recorder is the SQL run store (Postgres preferred over SQLite), or nil.
func openSinks(
	ctx context.Context,
	cfg *config.Config,
	metrics *observability.Metrics,
	log zerolog.Logger,
) ([]trace.Sink, runner.Recorder, func(), error) {
	var (
		sinks    []trace.Sink
		recorder runner.Recorder
		closers  []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) ([]trace.Sink, runner.Recorder, func(), error) {
		cleanup()
		return nil, nil, func() {}, err
	}

	if cfg.Trace.File != "" {
		fileSink, err := trace.OpenFile(cfg.Trace.File)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fileSink)
		log.Info().Str("path", cfg.Trace.File).Msg("file trace enabled")
	}

	for _, target := range []struct {
		dialect persistence.Dialect
		dsn     string
	}{
		{persistence.SQLite, cfg.Trace.SQLitePath},
		{persistence.Postgres, cfg.Trace.PostgresDSN},
	} {
		if target.dsn == "" {
			continue
		}
		db, err := openDB(ctx, target.dialect, target.dsn, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { db.Close() })

		sinks = append(sinks, persistence.NewSink(persistence.NewTraceWriter(db, target.dialect), metrics,
			observability.NewLogger("persistence")))
		recorder = persistence.NewRunStore(db, target.dialect)
	}

	if cfg.Trace.NATSURL != "" {
		nc, js, err := broadcast.Connect(cfg.Trace.NATSURL, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { drain(nc, log) })
		if err := broadcast.EnsureTraceStream(ctx, js, log); err != nil {
			return fail(err)
		}
		sinks = append(sinks, broadcast.NewTracePublisher(js, observability.NewLogger("broadcast")))
		log.Info().Str("url", cfg.Trace.NATSURL).Msg("NATS trace enabled")
	}

	return sinks, recorder, cleanup, nil
}

func openDB(ctx context.Context, dialect persistence.Dialect, dsn string, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", dialect.Name, err)
	}
	if dialect == persistence.SQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", dialect.Name, err)
	}

	migrator := persistence.NewMigrator(db, dialect, persistence.EmbeddedMigrations(), log)
	n, err := migrator.Up(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s migrate: %w", dialect.Name, err)
	}
	log.Info().Str("dialect", dialect.Name).Int("migrations", n).Msg("trace database ready")
	return db, nil
}

func drain(nc *nats.Conn, log zerolog.Logger) {
	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
		nc.Close()
	}
}
