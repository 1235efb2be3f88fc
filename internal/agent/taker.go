package agent

import (
	"MarketSim/internal/event"
	"MarketSim/internal/market"
	"context"
	"math/rand/v2"
	"sort"
)

// Taker flips a seeded coin per symbol each turn and crosses the best
// opposite level for up to its size.
type Taker struct {
	id   event.AgentID
	size int64
	rng  *rand.Rand
}

func NewTaker(id event.AgentID, size int64, seed uint64) *Taker {
	if size < 1 {
		size = 1
	}
	return &Taker{id: id, size: size, rng: rand.New(rand.NewPCG(seed, uint64(id)))}
}

func (t *Taker) ID() event.AgentID { return t.id }

func (t *Taker) Decide(ctx context.Context, snap market.Snapshot) (Orders, error) {
	symbols := make([]event.Symbol, 0, len(snap.OrderDepths))
	for sym := range snap.OrderDepths {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make(Orders)
	for _, sym := range symbols {
		if t.rng.IntN(2) == 0 {
			if px, qty, ok := snap.BestAsk(sym); ok {
				out[sym] = append(out[sym], event.OrderIntent{Symbol: sym, Price: px, Quantity: min(qty, t.size)})
			}
		} else {
			if px, qty, ok := snap.BestBid(sym); ok {
				out[sym] = append(out[sym], event.OrderIntent{Symbol: sym, Price: px, Quantity: -min(qty, t.size)})
			}
		}
	}
	return out, nil
}
