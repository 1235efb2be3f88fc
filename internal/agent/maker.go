package agent

import (
	"MarketSim/internal/event"
	"MarketSim/internal/market"
	"MarketSim/internal/oracle"
	"context"
	"sort"
)

// Maker quotes both sides of every listed symbol around the fair value it
// reads from the FAIR_<product> observation. Quote sizes shrink so that a full
// fill on either side stays inside the agent's own limits.
type Maker struct {
	id         event.AgentID
	halfSpread int64
	size       int64
	limits     map[event.Product]int64
}

func NewMaker(id event.AgentID, halfSpread, size int64, limits map[event.Product]int64) *Maker {
	if halfSpread < 1 {
		halfSpread = 1
	}
	if size < 1 {
		size = 1
	}
	return &Maker{id: id, halfSpread: halfSpread, size: size, limits: limits}
}

func (m *Maker) ID() event.AgentID { return m.id }

func (m *Maker) Decide(ctx context.Context, snap market.Snapshot) (Orders, error) {
	symbols := make([]event.Symbol, 0, len(snap.Listings))
	for sym := range snap.Listings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Net exposure per product across all symbols quoted this turn
	pending := make(map[event.Product]struct{ buy, sell int64 })

	out := make(Orders)
	for _, sym := range symbols {
		listing := snap.Listings[sym]
		fair, ok := snap.Observations[oracle.ObservationPrefix+listing.Product]
		if !ok {
			continue
		}
		pos := snap.Position[listing.Product]
		p := pending[listing.Product]

		buy, sell := m.size, m.size
		if limit, bounded := m.limits[listing.Product]; bounded {
			buy = min(buy, limit-pos-p.buy)
			sell = min(sell, limit+pos-p.sell)
		}

		bidPx := fair - m.halfSpread
		askPx := fair + m.halfSpread
		if buy > 0 {
			out[sym] = append(out[sym], event.OrderIntent{Symbol: sym, Price: bidPx, Quantity: buy})
			p.buy += buy
		}
		if sell > 0 {
			out[sym] = append(out[sym], event.OrderIntent{Symbol: sym, Price: askPx, Quantity: -sell})
			p.sell += sell
		}
		pending[listing.Product] = p
	}
	return out, nil
}
