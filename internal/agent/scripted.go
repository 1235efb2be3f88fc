package agent

import (
	"MarketSim/internal/event"
	"MarketSim/internal/market"
	"context"
)

// Scripted replays a fixed table of orders keyed by snapshot timestamp.
// Timestamps without an entry produce no orders.
type Scripted struct {
	id     event.AgentID
	script map[int64]Orders
	seen   []market.Snapshot
}

func NewScripted(id event.AgentID, script map[int64]Orders) *Scripted {
	return &Scripted{id: id, script: script}
}

func (s *Scripted) ID() event.AgentID { return s.id }

func (s *Scripted) Decide(ctx context.Context, snap market.Snapshot) (Orders, error) {
	s.seen = append(s.seen, snap)

	step, ok := s.script[snap.Timestamp]
	if !ok {
		return nil, nil
	}
	out := make(Orders, len(step))
	for sym, intents := range step {
		out[sym] = append([]event.OrderIntent(nil), intents...)
	}
	return out, nil
}

// Seen returns every snapshot the agent was handed, in order
func (s *Scripted) Seen() []market.Snapshot {
	return s.seen
}
