package matching

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
)

// Apply matches an incoming order against the opposite side of b.
// Trades execute at the resting order's price; any remainder rests on the
// order's own side. There is no self-trade prevention.
func Apply(order book.RestingOrder, b *book.Book, tick int64) []event.Trade {
	var trades []event.Trade

	if order.Side == event.SideBuy {
		for order.Quantity > 0 && len(b.Asks) > 0 && b.Asks[0].Price <= order.Price {
			trades = append(trades, fill(&order, &b.Asks[0], tick))
			if b.Asks[0].Quantity == 0 {
				b.Asks = b.Asks[1:]
			}
		}
	} else {
		for order.Quantity > 0 && len(b.Bids) > 0 && b.Bids[0].Price >= order.Price {
			trades = append(trades, fill(&order, &b.Bids[0], tick))
			if b.Bids[0].Quantity == 0 {
				b.Bids = b.Bids[1:]
			}
		}
	}

	if order.Quantity > 0 {
		b.Insert(order)
	}

	return trades
}

// fill executes min(taker, maker) at the maker's price and decrements both.
func fill(taker, maker *book.RestingOrder, tick int64) event.Trade {
	size := min(taker.Quantity, maker.Quantity)
	taker.Quantity -= size
	maker.Quantity -= size

	t := event.Trade{
		Symbol:    maker.Symbol,
		Price:     maker.Price,
		Quantity:  size,
		CreatedAt: tick,
		Taker:     taker.Owner,
	}
	if taker.Side == event.SideBuy {
		t.Buyer, t.Seller = taker.Owner, maker.Owner
	} else {
		t.Buyer, t.Seller = maker.Owner, taker.Owner
	}
	return t
}
