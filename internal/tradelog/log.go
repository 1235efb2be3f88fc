package tradelog

import (
	"MarketSim/internal/event"
)

// Log is the append-only record of settled trades still inside their visibility
// window. Trades leave the log only through Expire.
// Not thread-safe: only touched from the simulation loop.
type Log struct {
	trades []event.Trade
}

func New() *Log {
	return &Log{}
}

// Append records trades in match order
func (l *Log) Append(trades ...event.Trade) {
	l.trades = append(l.trades, trades...)
}

// Expire removes every trade taken by owner before tick and returns how many
// were removed. A trade is therefore visible to its taker for one tick.
func (l *Log) Expire(owner event.AgentID, tick int64) int {
	kept := l.trades[:0]
	removed := 0
	for _, t := range l.trades {
		if t.Taker == owner && t.CreatedAt < tick {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(l.trades); i++ {
		l.trades[i] = event.Trade{}
	}
	l.trades = kept
	return removed
}

// Partition splits the log into the viewer's trades and everyone else's, per
// symbol, masked for the viewer. Every symbol in symbols gets a key in both
// maps, empty when it has no trades.
func (l *Log) Partition(viewer event.AgentID, symbols []event.Symbol) (own, market map[event.Symbol][]event.MaskedTrade) {
	own = make(map[event.Symbol][]event.MaskedTrade, len(symbols))
	market = make(map[event.Symbol][]event.MaskedTrade, len(symbols))
	for _, sym := range symbols {
		own[sym] = []event.MaskedTrade{}
		market[sym] = []event.MaskedTrade{}
	}
	for _, t := range l.trades {
		if t.Involves(viewer) {
			own[t.Symbol] = append(own[t.Symbol], t.MaskFor(viewer))
		} else {
			market[t.Symbol] = append(market[t.Symbol], t.MaskFor(viewer))
		}
	}
	return own, market
}

// Trades returns a copy of the live log
func (l *Log) Trades() []event.Trade {
	return append([]event.Trade(nil), l.trades...)
}

// Len returns the number of live trades
func (l *Log) Len() int {
	return len(l.trades)
}
