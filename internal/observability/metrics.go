package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarketSim.
type Metrics struct {
	// --- Simulation loop ---
	TicksTotal      prometheus.Counter
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	DecideDuration  *prometheus.HistogramVec
	AgentFaults     *prometheus.CounterVec
	CurrentTick     prometheus.Gauge
	StateHashDur    prometheus.Histogram
	RunsCompleted   *prometheus.CounterVec
	InvariantErrors *prometheus.CounterVec

	// --- Intake & matching ---
	IntentsAccepted *prometheus.CounterVec
	IntentsRejected *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	TradedVolume    *prometheus.CounterVec
	RestingOrders   *prometheus.GaugeVec

	// --- Trace channel & sinks ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	TraceWritten       *prometheus.CounterVec
	TraceErrors        *prometheus.CounterVec

	// --- Persistence ---
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge
}

// NewMetrics creates all metrics and registers them on reg. A nil reg leaves
// them unregistered, which lets tests build as many as they like.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	decideBuckets := []float64{
		0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0,
	}

	return &Metrics{
		// Simulation loop
		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_ticks_total",
			Help: "Ticks completed",
		}),

		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_agent_turns_total",
			Help: "Agent turns completed",
		}, []string{"agent"}),

		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_turn_duration_seconds",
			Help:    "Strip, view, decide, intake and validate for one agent turn",
			Buckets: decideBuckets,
		}),

		DecideDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsim_agent_decide_duration_seconds",
			Help:    "Time spent inside an agent's Decide",
			Buckets: decideBuckets,
		}, []string{"agent"}),

		AgentFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_agent_faults_total",
			Help: "Agent turns replaced by an empty order set",
		}, []string{"agent", "kind"}),

		CurrentTick: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_current_timestamp",
			Help: "Timestamp of the tick in progress",
		}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_state_hash_duration_seconds",
			Help:    "Time to compute the per-turn state hash",
			Buckets: latencyBuckets,
		}),

		RunsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_runs_completed_total",
			Help: "Simulation runs finished",
		}, []string{"outcome"}),

		InvariantErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_invariant_violations_total",
			Help: "Fatal invariant violations",
		}, []string{"kind"}),

		// Intake & matching
		IntentsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_intents_accepted_total",
			Help: "Order intents accepted at intake",
		}, []string{"symbol"}),

		IntentsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_intents_rejected_total",
			Help: "Order intents rejected at intake",
		}, []string{"reason"}),

		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_trades_total",
			Help: "Trades executed",
		}, []string{"symbol"}),

		TradedVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_traded_volume_total",
			Help: "Units traded",
		}, []string{"symbol"}),

		RestingOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_resting_orders",
			Help: "Resting orders on the book at tick end",
		}, []string{"symbol"}),

		// Trace channel & sinks
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsim_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		TraceWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_trace_records_written_total",
			Help: "Trace records accepted by a sink",
		}, []string{"sink"}),

		TraceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsim_trace_sink_errors_total",
			Help: "Trace sink write failures",
		}, []string{"sink"}),

		// Persistence
		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_persist_batch_size",
			Help:    "Trace records per database batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketsim_persist_batch_duration_seconds",
			Help:    "Database batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "marketsim_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketsim_persist_last_sequence",
			Help: "Last persisted trace sequence",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
