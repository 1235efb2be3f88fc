package market

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
	"MarketSim/internal/ledger"
	"MarketSim/internal/matching"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Rejection reasons
const (
	RejectZeroQuantity     = "zero_quantity"
	RejectInvalidQuantity  = "invalid_quantity"
	RejectNotionalOverflow = "notional_overflow"
	RejectUnknownSymbol    = "unknown_symbol"
	RejectPositionLimit    = "position_limit"
)

var (
	ErrZeroQuantity     = errors.New("market: zero quantity")
	ErrInvalidQuantity  = errors.New("market: quantity out of range")
	ErrNotionalOverflow = errors.New("market: price times quantity overflows")
	ErrUnknownSymbol    = errors.New("market: unknown symbol")
	ErrPositionLimit    = errors.New("market: would breach position limit")
)

// Rejection is an intent dropped at intake. Non-fatal.
type Rejection struct {
	Intent event.OrderIntent
	Reason string
}

// Err returns the sentinel matching the rejection reason
func (r Rejection) Err() error {
	switch r.Reason {
	case RejectZeroQuantity:
		return ErrZeroQuantity
	case RejectInvalidQuantity:
		return ErrInvalidQuantity
	case RejectNotionalOverflow:
		return fmt.Errorf("%w: %d x %d", ErrNotionalOverflow, r.Intent.Quantity, r.Intent.Price)
	case RejectUnknownSymbol:
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, r.Intent.Symbol)
	default:
		return ErrPositionLimit
	}
}

// IntakeResult is the outcome of one ApplyOrders call
type IntakeResult struct {
	Accepted []book.RestingOrder
	Rejected []Rejection
	Trades   []event.Trade
}

// Flatten orders an agent's intents for intake: symbols in lexical order, then
// intents in the order the agent returned them.
func Flatten(intents map[event.Symbol][]event.OrderIntent) []event.OrderIntent {
	symbols := make([]event.Symbol, 0, len(intents))
	for sym := range intents {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var out []event.OrderIntent
	for _, sym := range symbols {
		for _, in := range intents[sym] {
			// The map key is authoritative for the symbol
			in.Symbol = sym
			out = append(out, in)
		}
	}
	return out
}

// exposure tracks one product's limit usage during an ApplyOrders call.
// buys and sells include the owner's orders already resting in the books.
type exposure struct {
	net   int64
	buys  int64
	sells int64
}

// ApplyOrders validates an agent's intents against its position limits, then
// matches the accepted ones one at a time in submission order and settles
// every resulting trade.
//
// An intent is accepted only if both checks hold against the current position:
//   - the running net delta of the intents accepted so far plus this one
//     stays inside the band;
//   - the worst case on the intent's own side stays inside the band: every
//     resting and accepted buy filling (position + buys + qty), or every
//     resting and accepted sell filling (position - sells + qty).
//
// Since fills only move quantity from resting orders into the position, the
// second check keeps positions inside their limits whatever later trades
// happen, with or without stripping between turns.
// The returned error is non-nil only if settlement produced a malformed batch,
// which is an engine defect.
func (s *State) ApplyOrders(owner event.AgentID, tick int64, intents map[event.Symbol][]event.OrderIntent) (IntakeResult, error) {
	var res IntakeResult
	exp := s.restingExposure(owner)

	// Step 1: pre-trade validation
	for _, in := range Flatten(intents) {
		if reason := malformed(in); reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Intent: in, Reason: reason})
			continue
		}

		listing, ok := s.listings[in.Symbol]
		if !ok {
			res.Rejected = append(res.Rejected, Rejection{Intent: in, Reason: RejectUnknownSymbol})
			continue
		}

		product := listing.Product
		pos := s.tracker.Position(owner, product)
		e := exp[product]

		worst := pos + e.buys
		if in.Quantity < 0 {
			worst = pos - e.sells
		}
		if !s.allows(owner, product, pos+e.net, in.Quantity) || !s.allows(owner, product, worst, in.Quantity) {
			res.Rejected = append(res.Rejected, Rejection{Intent: in, Reason: RejectPositionLimit})
			continue
		}
		e.net += in.Quantity
		if in.Quantity > 0 {
			e.buys += in.Quantity
		} else {
			e.sells -= in.Quantity
		}
		exp[product] = e

		s.nextOrderID++
		res.Accepted = append(res.Accepted, toResting(in, owner, s.nextOrderID))
	}

	// Step 2: match sequentially; each order sees the book left by the previous one
	for _, order := range res.Accepted {
		trades := matching.Apply(order, s.books[order.Symbol], tick)
		for _, t := range trades {
			if err := s.settle(t); err != nil {
				return res, err
			}
		}
		res.Trades = append(res.Trades, trades...)
	}

	// Step 3: record for visibility
	s.trades.Append(res.Trades...)

	return res, nil
}

// settle applies both legs of a trade at the trade's own price
func (s *State) settle(t event.Trade) error {
	batch, err := s.journals.GenerateSettlement(t, s.listings[t.Symbol].Product)
	if err != nil {
		return fmt.Errorf("settle %s trade %d@%d: %w", t.Symbol, t.Quantity, t.Price, err)
	}
	if err := s.validator.ValidateBatchBalance(batch); err != nil {
		return fmt.Errorf("settle %s trade %d@%d: %w", t.Symbol, t.Quantity, t.Price, err)
	}
	if len(batch.Journals) == 0 {
		return nil
	}
	return s.tracker.ApplyBatch(batch)
}

// restingExposure seeds each product with the owner's resting quantity
func (s *State) restingExposure(owner event.AgentID) map[event.Product]exposure {
	exp := make(map[event.Product]exposure)
	for _, sym := range s.symbols {
		buys, sells := s.books[sym].OwnerQuantity(owner)
		if buys == 0 && sells == 0 {
			continue
		}
		product := s.listings[sym].Product
		e := exp[product]
		e.buys += buys
		e.sells += sells
		exp[product] = e
	}
	return exp
}

// allows reports whether base+qty stays inside the owner's band.
// An overflowing sum is outside any finite limit.
func (s *State) allows(owner event.AgentID, product event.Product, base, qty int64) bool {
	sum := base + qty
	if (qty > 0 && sum < base) || (qty < 0 && sum > base) {
		_, bounded := s.limits.Get(owner, product)
		return !bounded
	}
	return s.limits.Allows(owner, product, sum)
}

// malformed returns the rejection reason for an intent that cannot be
// represented as an order, or "" if it is well formed. Settlement multiplies
// quantity by price, so that product must fit in an int64.
func malformed(in event.OrderIntent) string {
	switch {
	case in.Quantity == 0:
		return RejectZeroQuantity
	case in.Quantity == math.MinInt64:
		return RejectInvalidQuantity
	}
	if _, err := ledger.Notional(in.Quantity, in.Price); err != nil {
		return RejectNotionalOverflow
	}
	return ""
}

func toResting(in event.OrderIntent, owner event.AgentID, id int64) book.RestingOrder {
	qty := in.Quantity
	side := event.SideBuy
	if qty < 0 {
		qty = -qty
		side = event.SideSell
	}
	return book.RestingOrder{
		Symbol:   in.Symbol,
		Price:    in.Price,
		Quantity: qty,
		OrderID:  id,
		Owner:    owner,
		Side:     side,
	}
}
