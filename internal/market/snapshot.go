package market

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
)

// Snapshot is the per-agent, privacy-filtered view handed to an agent.
// Every map is a fresh copy; agents may mutate it freely.
type Snapshot struct {
	Timestamp    int64                                `json:"timestamp"`
	Listings     map[event.Symbol]event.Listing       `json:"listings"`
	OrderDepths  map[event.Symbol]book.Depth          `json:"order_depths"`
	OwnTrades    map[event.Symbol][]event.MaskedTrade `json:"own_trades"`
	MarketTrades map[event.Symbol][]event.MaskedTrade `json:"market_trades"`
	Position     map[event.Product]int64              `json:"position"`
	Observations map[string]int64                     `json:"observations"`
}

// ViewFor builds the snapshot for owner: depths exclude the owner's resting
// orders, trades are partitioned and anonymized, and cash is left out of the
// position map.
func (s *State) ViewFor(owner event.AgentID, timestamp int64, observations map[string]int64) Snapshot {
	snap := Snapshot{
		Timestamp:    timestamp,
		Listings:     s.Listings(),
		OrderDepths:  make(map[event.Symbol]book.Depth, len(s.symbols)),
		Position:     make(map[event.Product]int64),
		Observations: make(map[string]int64, len(observations)),
	}

	for _, sym := range s.symbols {
		snap.OrderDepths[sym] = s.books[sym].Without(owner).ToDepth()
	}

	snap.OwnTrades, snap.MarketTrades = s.trades.Partition(owner, s.symbols)

	for product, pos := range s.tracker.Positions(owner) {
		if product == s.cash {
			continue
		}
		snap.Position[product] = pos
	}

	for k, v := range observations {
		snap.Observations[k] = v
	}

	return snap
}

// BestBid returns the highest bid price in the depth
func (d Snapshot) BestBid(symbol event.Symbol) (price, qty int64, ok bool) {
	for p, q := range d.OrderDepths[symbol].BuyOrders {
		if !ok || p > price {
			price, qty, ok = p, q, true
		}
	}
	return price, qty, ok
}

// BestAsk returns the lowest ask price in the depth with a positive quantity
func (d Snapshot) BestAsk(symbol event.Symbol) (price, qty int64, ok bool) {
	for p, q := range d.OrderDepths[symbol].SellOrders {
		if !ok || p < price {
			price, qty, ok = p, -q, true
		}
	}
	return price, qty, ok
}
