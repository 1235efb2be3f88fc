package event

import "strconv"

// Symbol identifies a tradable instrument.
type Symbol = string

// Product is the settlement unit a symbol's trades move.
type Product = string

// AgentID identifies a registered agent. Book ties are broken by ascending AgentID.
type AgentID int64

func (a AgentID) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// SelfMarker replaces the viewer's own id in masked trades.
const SelfMarker = "SUBMISSION"

// DefaultCashProduct is the denomination used when none is configured.
const DefaultCashProduct Product = "SEASHELLS"

// Side represents order direction
type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Listing binds a symbol to the product it settles against.
// Immutable once created.
type Listing struct {
	Symbol       Symbol  `json:"symbol" yaml:"symbol"`
	Product      Product `json:"product" yaml:"product"`
	Denomination Product `json:"denomination" yaml:"denomination"`
}

// OrderIntent is an agent-supplied order. Positive quantity buys, negative sells.
type OrderIntent struct {
	Symbol   Symbol `json:"symbol"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// Side returns the direction implied by the quantity sign.
func (o OrderIntent) Side() Side {
	if o.Quantity < 0 {
		return SideSell
	}
	return SideBuy
}

// Trade is an immutable record of one match.
// Price is always the resting (maker) order's price.
type Trade struct {
	Symbol    Symbol  `json:"symbol"`
	Price     int64   `json:"price"`
	Quantity  int64   `json:"quantity"`
	Buyer     AgentID `json:"buyer"`
	Seller    AgentID `json:"seller"`
	CreatedAt int64   `json:"created_at"`
	Taker     AgentID `json:"taker"`
}

// Involves reports whether the agent is on either side of the trade.
func (t Trade) Involves(id AgentID) bool {
	return t.Buyer == id || t.Seller == id
}

// MaskedTrade is a trade as exposed in a snapshot: no creation time, no taker,
// and counterparties reduced to SelfMarker or "".
type MaskedTrade struct {
	Symbol   Symbol `json:"symbol"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
}

// MaskFor scrubs the trade for a viewer.
func (t Trade) MaskFor(viewer AgentID) MaskedTrade {
	m := MaskedTrade{
		Symbol:   t.Symbol,
		Price:    t.Price,
		Quantity: t.Quantity,
	}
	if t.Buyer == viewer {
		m.Buyer = SelfMarker
	}
	if t.Seller == viewer {
		m.Seller = SelfMarker
	}
	return m
}
