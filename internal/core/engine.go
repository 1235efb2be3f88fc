package core

import (
	"MarketSim/internal/agent"
	"MarketSim/internal/event"
	"MarketSim/internal/ledger"
	"MarketSim/internal/market"
	"MarketSim/internal/observability"
	"MarketSim/internal/oracle"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase is where the loop is within a tick
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTickStart
	PhaseAgentTurn
	PhaseTickEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTickStart:
		return "tick_start"
	case PhaseAgentTurn:
		return "agent_turn"
	case PhaseTickEnd:
		return "tick_end"
	default:
		return "unknown"
	}
}

// Options configures one run
type Options struct {
	RunID        string // generated when empty
	Listings     []event.Listing
	CashProduct  event.Product
	Limits       *ledger.Limits
	TimeStep     int64
	Horizon      int64
	AgentTimeout time.Duration

	// ReplaceRestingOrders strips an agent's resting orders at the start of
	// its turn, so each turn's quotes replace the previous ones.
	ReplaceRestingOrders bool

	// TraceSnapshots adds the full per-agent snapshot to the trace
	TraceSnapshots bool
}

// Result summarizes a completed run
type Result struct {
	RunID           string
	Ticks           int64
	Turns           int64
	Trades          int
	FinalPositions  map[event.AgentID]map[event.Product]int64
	FinalFairValues map[event.Product]float64
	StateHash       [32]byte
}

// Simulation is the single-threaded turn-based market loop.
// Not thread-safe: Run must not be called concurrently.
type Simulation struct {
	runID   string
	opts    Options
	agents  []agent.Agent
	state   *market.State
	oracle  oracle.Oracle
	clock   *TickClock
	invoker *AgentInvoker
	chain   *market.Chain
	metrics *observability.Metrics
	log     zerolog.Logger

	phase    Phase
	finished bool
	turn     int64
	traceSeq int64
	trades   int

	traceChan chan<- event.Record
}

// NewSimulation wires a run. traceChan and metrics may be nil.
func NewSimulation(
	opts Options,
	agents []agent.Agent,
	orc oracle.Oracle,
	traceChan chan<- event.Record,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Simulation, error) {
	if orc == nil {
		return nil, errors.New("core: oracle is required")
	}
	if opts.TimeStep == 0 {
		opts.TimeStep = DefaultTimeStep
	}
	clock, err := NewTickClock(opts.TimeStep, opts.Horizon)
	if err != nil {
		return nil, err
	}

	ids := make([]event.AgentID, len(agents))
	for i, a := range agents {
		ids[i] = a.ID()
	}
	state, err := market.New(market.Setup{
		Listings:    opts.Listings,
		CashProduct: opts.CashProduct,
		Agents:      ids,
		Limits:      opts.Limits,
	})
	if err != nil {
		return nil, fmt.Errorf("build market: %w", err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Simulation{
		runID:     runID,
		opts:      opts,
		agents:    agents,
		state:     state,
		oracle:    orc,
		clock:     clock,
		invoker:   NewAgentInvoker(opts.AgentTimeout),
		chain:     market.NewChain(),
		metrics:   metrics,
		log:       log.With().Str("run_id", runID).Logger(),
		traceChan: traceChan,
	}, nil
}

func (s *Simulation) RunID() string        { return s.runID }
func (s *Simulation) Phase() Phase         { return s.phase }
func (s *Simulation) State() *market.State { return s.state }

// Run drives the loop to the horizon. It returns *InvariantError if an
// invariant breaks, ctx.Err() if cancelled between turns, and
// ErrSimulationDone if called again after it has returned once.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	if s.finished {
		return nil, ErrSimulationDone
	}
	defer func() {
		s.finished = true
		s.phase = PhaseIdle
	}()

	s.log.Info().
		Int("agents", len(s.agents)).
		Int64("ticks", s.clock.Total()).
		Dur("agent_timeout", s.invoker.Budget()).
		Msg("simulation starting")

	for ts, ok := s.clock.Next(); ok; ts, ok = s.clock.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.tickStart(ts)

		observations := s.oracle.Observations()
		for _, a := range s.agents {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := s.agentTurn(ctx, a, ts, observations); err != nil {
				s.recordOutcome("invariant_violated")
				return nil, err
			}
		}

		s.tickEnd(ts)
	}

	result := &Result{
		RunID:           s.runID,
		Ticks:           s.clock.Ticks(),
		Turns:           s.turn,
		Trades:          s.trades,
		FinalPositions:  s.state.AllPositions(),
		FinalFairValues: s.oracle.FairValues(),
		StateHash:       s.chain.Tip(),
	}

	s.emit(event.RecordTypeRunCompleted, s.clock.Current(), nil, event.RunCompleted{
		Ticks:          result.Ticks,
		FinalPositions: result.FinalPositions,
		StateHash:      hex.EncodeToString(result.StateHash[:]),
	})
	s.recordOutcome("completed")

	s.log.Info().
		Int64("ticks", result.Ticks).
		Int("trades", result.Trades).
		Str("state_hash", hex.EncodeToString(result.StateHash[:])).
		Msg("simulation completed")

	return result, nil
}

// tickStart refreshes the oracle for the new timestamp
func (s *Simulation) tickStart(ts int64) {
	s.phase = PhaseTickStart
	s.oracle.Advance(ts)

	s.emit(event.RecordTypeTickStarted, ts, nil, event.TickStarted{
		Tick:         ts,
		FairValues:   s.oracle.FairValues(),
		Observations: s.oracle.Observations(),
	})

	if s.metrics != nil {
		s.metrics.CurrentTick.Set(float64(ts))
	}
	s.log.Debug().Int64("timestamp", ts).Msg("tick started")
}

// agentTurn runs one agent's turn. Only invariant failures are returned.
func (s *Simulation) agentTurn(ctx context.Context, a agent.Agent, ts int64, observations map[string]int64) error {
	start := time.Now()
	s.phase = PhaseAgentTurn
	id := a.ID()
	label := id.String()

	// Step 1: Replace semantics, drop last turn's resting orders
	if s.opts.ReplaceRestingOrders {
		if n := s.state.RemoveOwnerOrders(id); n > 0 {
			s.log.Debug().Str("agent", label).Int("orders", n).Msg("stripped resting orders")
		}
	}

	// Step 2: Masked view
	snap := s.state.ViewFor(id, ts, observations)
	if s.opts.TraceSnapshots {
		s.emit(event.RecordTypeSnapshot, ts, &id, snap)
	}

	// Step 3: Decide under the time budget; faults become an empty order set
	decideStart := time.Now()
	orders, err := s.invoker.Invoke(ctx, a, snap)
	if s.metrics != nil {
		s.metrics.DecideDuration.WithLabelValues(label).Observe(time.Since(decideStart).Seconds())
	}
	if err != nil {
		kind := "error"
		switch {
		case errors.Is(err, ErrAgentTimeout):
			kind = "timeout"
		case errors.Is(err, ErrAgentBusy):
			kind = "busy"
		}
		s.log.Warn().Err(err).Str("agent", label).Int64("timestamp", ts).Msg("agent fault, empty order set")
		s.emit(event.RecordTypeAgentFault, ts, &id, event.AgentFault{Error: err.Error()})
		if s.metrics != nil {
			s.metrics.AgentFaults.WithLabelValues(label, kind).Inc()
		}
		orders = nil
	}

	// Step 4: Intake, match and settle
	if len(orders) > 0 {
		s.emit(event.RecordTypeOrdersSubmitted, ts, &id, event.OrdersSubmitted{Intents: market.Flatten(orders)})
	}
	res, err := s.state.ApplyOrders(id, ts, orders)
	if err != nil {
		return s.invariantFailure(&InvariantError{Kind: KindSettlement, Agent: id, Tick: ts, Err: err})
	}
	s.recordIntake(id, ts, res)

	// Step 5: Trades this agent took before this tick leave its view
	s.state.ExpireTrades(id, ts)

	// Step 6: Invariants
	if err := s.state.Validate(); err != nil {
		return s.invariantFailure(s.toInvariantError(err, id, ts))
	}

	// Step 7: Hash chain
	hashStart := time.Now()
	hash := s.chain.Link(s.state, s.turn, ts, id)
	s.turn++
	if s.metrics != nil {
		s.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	positions := s.state.Positions(id)
	s.emit(event.RecordTypeTurnCompleted, ts, &id, event.TurnCompleted{
		Accepted:  len(res.Accepted),
		Rejected:  len(res.Rejected),
		Trades:    len(res.Trades),
		Positions: positions,
		StateHash: hex.EncodeToString(hash[:]),
	})

	if s.metrics != nil {
		s.metrics.TurnsTotal.WithLabelValues(label).Inc()
		s.metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// recordIntake logs, traces and counts the outcome of ApplyOrders
func (s *Simulation) recordIntake(id event.AgentID, ts int64, res market.IntakeResult) {
	label := id.String()

	for _, r := range res.Rejected {
		s.log.Warn().
			Err(r.Err()).
			Str("agent", label).
			Str("symbol", r.Intent.Symbol).
			Int64("price", r.Intent.Price).
			Int64("quantity", r.Intent.Quantity).
			Str("reason", r.Reason).
			Int64("timestamp", ts).
			Msg("order rejected")
		s.emit(event.RecordTypeOrderRejected, ts, &id, event.OrderRejected{Intent: r.Intent, Reason: r.Reason})
		if s.metrics != nil {
			s.metrics.IntentsRejected.WithLabelValues(r.Reason).Inc()
		}
	}

	for _, t := range res.Trades {
		s.emit(event.RecordTypeTrade, ts, &id, t)
		if s.metrics != nil {
			s.metrics.TradesTotal.WithLabelValues(t.Symbol).Inc()
			s.metrics.TradedVolume.WithLabelValues(t.Symbol).Add(float64(t.Quantity))
		}
	}
	s.trades += len(res.Trades)

	if s.metrics != nil {
		for _, o := range res.Accepted {
			s.metrics.IntentsAccepted.WithLabelValues(o.Symbol).Inc()
		}
	}

	if len(res.Trades) > 0 {
		s.log.Debug().Str("agent", label).Int("trades", len(res.Trades)).Int64("timestamp", ts).Msg("orders matched")
	}
}

// tickEnd has no agent-visible effect
func (s *Simulation) tickEnd(ts int64) {
	s.phase = PhaseTickEnd

	if s.metrics != nil {
		s.metrics.TicksTotal.Inc()
		for _, sym := range s.state.Symbols() {
			b, _ := s.state.Book(sym)
			s.metrics.RestingOrders.WithLabelValues(sym).Set(float64(b.Len()))
		}
		if s.traceChan != nil {
			s.metrics.SetChannelMetrics("trace", len(s.traceChan), cap(s.traceChan))
		}
	}
}

func (s *Simulation) toInvariantError(err error, id event.AgentID, ts int64) *InvariantError {
	ie := &InvariantError{Kind: KindBookOrder, Agent: id, Tick: ts, Err: err}

	var v *ledger.Violation
	if errors.As(err, &v) {
		ie.Kind = string(v.Kind)
		if v.Agent != 0 {
			ie.Agent = v.Agent
		}
		ie.Product = v.Product
		ie.Value = v.Value
		ie.Limit = v.Limit
	}
	return ie
}

// invariantFailure is fatal: log, trace and hand the error back to Run
func (s *Simulation) invariantFailure(ie *InvariantError) error {
	ie.Positions = s.state.AllPositions()

	s.log.Error().
		Err(ie.Err).
		Str("kind", ie.Kind).
		Str("agent", ie.Agent.String()).
		Str("product", ie.Product).
		Int64("value", ie.Value).
		Int64("limit", ie.Limit).
		Int64("timestamp", ie.Tick).
		Msg("invariant violated, stopping simulation")

	s.emit(event.RecordTypeInvariantViolated, ie.Tick, &ie.Agent, event.InvariantViolated{
		Kind:    ie.Kind,
		Product: ie.Product,
		Value:   ie.Value,
		Limit:   ie.Limit,
		Detail:  ie.Err.Error(),
	})
	if s.metrics != nil {
		s.metrics.InvariantErrors.WithLabelValues(ie.Kind).Inc()
	}
	return ie
}

// emit sends a trace record. The send blocks: trace records are never dropped,
// so a slow sink applies backpressure to the loop.
func (s *Simulation) emit(typ event.RecordType, ts int64, agentID *event.AgentID, payload any) {
	if s.traceChan == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ.String()).Msg("trace payload marshal failed")
		return
	}

	var ref *event.AgentID
	if agentID != nil {
		ref = event.AgentRef(*agentID)
	}

	s.traceSeq++
	s.traceChan <- event.Record{
		RunID:     s.runID,
		Sequence:  s.traceSeq,
		Type:      typ,
		Timestamp: ts,
		Agent:     ref,
		Payload:   data,
		StateHash: s.chain.Tip(),
	}
}

func (s *Simulation) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RunsCompleted.WithLabelValues(outcome).Inc()
	}
}
