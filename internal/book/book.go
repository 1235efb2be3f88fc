package book

import (
	"MarketSim/internal/event"
	"fmt"
	"sort"
)

// RestingOrder is an accepted order held in a Book until fully filled or stripped.
type RestingOrder struct {
	Symbol   event.Symbol  `json:"symbol"`
	Price    int64         `json:"price"`
	Quantity int64         `json:"quantity"` // Always positive while resting
	OrderID  int64         `json:"order_id"`
	Owner    event.AgentID `json:"owner"`
	Side     event.Side    `json:"side"`
}

// Book holds one symbol's resting interest.
// Bids: price descending, then owner ascending.
// Asks: price ascending, then owner ascending.
// Orders with equal (price, owner) keep insertion order.
// Not thread-safe: only touched from the simulation loop.
type Book struct {
	Symbol event.Symbol
	Bids   []RestingOrder
	Asks   []RestingOrder
}

// Depth is the privacy-safe view of a book: total quantity per price.
// Sell quantities are negative.
type Depth struct {
	BuyOrders  map[int64]int64 `json:"buy_orders"`
	SellOrders map[int64]int64 `json:"sell_orders"`
}

func New(symbol event.Symbol) *Book {
	return &Book{Symbol: symbol}
}

// bidBefore reports whether a sorts strictly ahead of b on the bid side.
func bidBefore(a, b RestingOrder) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.Owner < b.Owner
}

func askBefore(a, b RestingOrder) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.Owner < b.Owner
}

// Insert places the order on its side by binary search.
func (b *Book) Insert(order RestingOrder) {
	if order.Side == event.SideBuy {
		b.Bids = insertSorted(b.Bids, order, bidBefore)
		return
	}
	b.Asks = insertSorted(b.Asks, order, askBefore)
}

// insertSorted finds the first index whose order sorts strictly after the new one,
// so equal keys land behind existing equal keys.
func insertSorted(side []RestingOrder, order RestingOrder, before func(a, b RestingOrder) bool) []RestingOrder {
	i := sort.Search(len(side), func(i int) bool {
		return before(order, side[i])
	})
	side = append(side, RestingOrder{})
	copy(side[i+1:], side[i:])
	side[i] = order
	return side
}

// BestBid returns the head of the bid side.
func (b *Book) BestBid() (RestingOrder, bool) {
	if len(b.Bids) == 0 {
		return RestingOrder{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the head of the ask side.
func (b *Book) BestAsk() (RestingOrder, bool) {
	if len(b.Asks) == 0 {
		return RestingOrder{}, false
	}
	return b.Asks[0], true
}

// RemoveWhere drops every order matching pred from both sides and returns the count.
func (b *Book) RemoveWhere(pred func(RestingOrder) bool) int {
	var removed int
	b.Bids, removed = filter(b.Bids, pred)
	var n int
	b.Asks, n = filter(b.Asks, pred)
	return removed + n
}

func filter(side []RestingOrder, pred func(RestingOrder) bool) ([]RestingOrder, int) {
	kept := side[:0]
	removed := 0
	for _, o := range side {
		if pred(o) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	// Clear the tail so dropped orders are not retained by the backing array
	for i := len(kept); i < len(side); i++ {
		side[i] = RestingOrder{}
	}
	return kept, removed
}

// RemoveOwner strips one owner's resting orders.
func (b *Book) RemoveOwner(owner event.AgentID) int {
	return b.RemoveWhere(func(o RestingOrder) bool { return o.Owner == owner })
}

// OwnerQuantity sums one owner's resting quantity per side.
func (b *Book) OwnerQuantity(owner event.AgentID) (buys, sells int64) {
	for _, o := range b.Bids {
		if o.Owner == owner {
			buys += o.Quantity
		}
	}
	for _, o := range b.Asks {
		if o.Owner == owner {
			sells += o.Quantity
		}
	}
	return buys, sells
}

// Without returns a copy of the book excluding the owner's orders.
func (b *Book) Without(owner event.AgentID) *Book {
	out := &Book{
		Symbol: b.Symbol,
		Bids:   make([]RestingOrder, 0, len(b.Bids)),
		Asks:   make([]RestingOrder, 0, len(b.Asks)),
	}
	for _, o := range b.Bids {
		if o.Owner != owner {
			out.Bids = append(out.Bids, o)
		}
	}
	for _, o := range b.Asks {
		if o.Owner != owner {
			out.Asks = append(out.Asks, o)
		}
	}
	return out
}

// Clone returns a deep copy.
func (b *Book) Clone() *Book {
	return &Book{
		Symbol: b.Symbol,
		Bids:   append([]RestingOrder(nil), b.Bids...),
		Asks:   append([]RestingOrder(nil), b.Asks...),
	}
}

// ToDepth aggregates resting quantity per price level, dropping owner identity.
func (b *Book) ToDepth() Depth {
	d := Depth{
		BuyOrders:  make(map[int64]int64),
		SellOrders: make(map[int64]int64),
	}
	for _, o := range b.Bids {
		d.BuyOrders[o.Price] += o.Quantity
	}
	for _, o := range b.Asks {
		d.SellOrders[o.Price] -= o.Quantity
	}
	return d
}

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int {
	return len(b.Bids) + len(b.Asks)
}

// Validate checks the ordering contract and quantity signs.
func (b *Book) Validate() error {
	if err := validateSide(b.Bids, event.SideBuy, bidBefore); err != nil {
		return fmt.Errorf("book %s bids: %w", b.Symbol, err)
	}
	if err := validateSide(b.Asks, event.SideSell, askBefore); err != nil {
		return fmt.Errorf("book %s asks: %w", b.Symbol, err)
	}
	return nil
}

func validateSide(side []RestingOrder, want event.Side, before func(a, b RestingOrder) bool) error {
	for i, o := range side {
		if o.Quantity <= 0 {
			return fmt.Errorf("order %d has non-positive quantity %d", o.OrderID, o.Quantity)
		}
		if o.Side != want {
			return fmt.Errorf("order %d is on the wrong side", o.OrderID)
		}
		if i > 0 && before(o, side[i-1]) {
			return fmt.Errorf("order %d at index %d sorts ahead of order %d", o.OrderID, i, side[i-1].OrderID)
		}
	}
	return nil
}
