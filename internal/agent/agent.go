package agent

import (
	"MarketSim/internal/event"
	"MarketSim/internal/market"
	"context"
	"errors"
	"fmt"
)

// Orders is what an agent returns for one turn: intents grouped by symbol.
type Orders = map[event.Symbol][]event.OrderIntent

// Agent is a trading participant. Implementations may keep private state
// across ticks; they only ever see their own masked snapshot. Decide is never
// called again while an earlier call is still running, so that state needs no
// locking.
type Agent interface {
	ID() event.AgentID
	Decide(ctx context.Context, snap market.Snapshot) (Orders, error)
}

// Kinds understood by New
const (
	KindIdle     = "idle"
	KindMaker    = "maker"
	KindTaker    = "taker"
	KindScripted = "scripted"
)

var ErrUnknownKind = errors.New("agent: unknown kind")

// Spec describes a reference agent
type Spec struct {
	ID         event.AgentID
	Kind       string
	HalfSpread int64
	Size       int64
	Seed       uint64
	Limits     map[event.Product]int64
	Script     map[int64]Orders
}

// New builds one of the reference agents from a Spec
func New(spec Spec) (Agent, error) {
	switch spec.Kind {
	case KindIdle, "":
		return Idle(spec.ID), nil
	case KindMaker:
		return NewMaker(spec.ID, spec.HalfSpread, spec.Size, spec.Limits), nil
	case KindTaker:
		return NewTaker(spec.ID, spec.Size, spec.Seed), nil
	case KindScripted:
		return NewScripted(spec.ID, spec.Script), nil
	default:
		return nil, fmt.Errorf("%w: %q for agent %d", ErrUnknownKind, spec.Kind, spec.ID)
	}
}

// Func adapts a function to the Agent interface
type Func struct {
	Owner   event.AgentID
	Decider func(ctx context.Context, snap market.Snapshot) (Orders, error)
}

func (f Func) ID() event.AgentID { return f.Owner }

func (f Func) Decide(ctx context.Context, snap market.Snapshot) (Orders, error) {
	return f.Decider(ctx, snap)
}

// Idle returns an agent that never trades
func Idle(id event.AgentID) Agent {
	return Func{Owner: id, Decider: func(context.Context, market.Snapshot) (Orders, error) {
		return nil, nil
	}}
}
