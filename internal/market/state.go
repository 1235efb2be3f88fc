package market

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
	"MarketSim/internal/ledger"
	"MarketSim/internal/tradelog"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoListings       = errors.New("market: at least one listing is required")
	ErrDuplicateListing = errors.New("market: duplicate listing symbol")
	ErrDuplicateAgent   = errors.New("market: duplicate agent id")
	ErrNoCashProduct    = errors.New("market: cash product is required")
)

// Setup is everything a State needs at construction. Immutable for the run.
type Setup struct {
	Listings    []event.Listing
	CashProduct event.Product
	Agents      []event.AgentID
	Limits      *ledger.Limits
}

// State is the single mutable root of a run: books, positions, trade log,
// listings and the order-id counter.
// Not thread-safe: mutated only by the simulation loop between agent turns.
type State struct {
	listings map[event.Symbol]event.Listing
	symbols  []event.Symbol // sorted
	books    map[event.Symbol]*book.Book

	cash      event.Product
	tracker   *ledger.BalanceTracker
	limits    *ledger.Limits
	validator *ledger.InvariantValidator
	journals  *ledger.JournalGenerator
	trades    *tradelog.Log

	nextOrderID int64
}

func New(setup Setup) (*State, error) {
	if len(setup.Listings) == 0 {
		return nil, ErrNoListings
	}
	if setup.CashProduct == "" {
		return nil, ErrNoCashProduct
	}

	limits := setup.Limits
	if limits == nil {
		limits = ledger.NewLimits()
	}

	s := &State{
		listings: make(map[event.Symbol]event.Listing, len(setup.Listings)),
		books:    make(map[event.Symbol]*book.Book, len(setup.Listings)),
		cash:     setup.CashProduct,
		tracker:  ledger.NewBalanceTracker(),
		limits:   limits,
		journals: ledger.NewJournalGenerator(0, setup.CashProduct),
		trades:   tradelog.New(),
	}
	s.validator = ledger.NewInvariantValidator(s.tracker, limits)

	products := []event.Product{setup.CashProduct}
	for _, l := range setup.Listings {
		if _, dup := s.listings[l.Symbol]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateListing, l.Symbol)
		}
		s.listings[l.Symbol] = l
		s.books[l.Symbol] = book.New(l.Symbol)
		s.symbols = append(s.symbols, l.Symbol)
		products = append(products, l.Product)
	}
	sort.Strings(s.symbols)

	seen := make(map[event.AgentID]bool, len(setup.Agents))
	for _, a := range setup.Agents {
		if seen[a] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateAgent, a)
		}
		seen[a] = true
	}
	s.tracker.Register(setup.Agents, products)

	return s, nil
}

// Book returns the live book for a symbol
func (s *State) Book(symbol event.Symbol) (*book.Book, bool) {
	b, ok := s.books[symbol]
	return b, ok
}

// Symbols returns listed symbols in lexical order
func (s *State) Symbols() []event.Symbol {
	return append([]event.Symbol(nil), s.symbols...)
}

// Listings returns a copy of the listing table
func (s *State) Listings() map[event.Symbol]event.Listing {
	out := make(map[event.Symbol]event.Listing, len(s.listings))
	for k, v := range s.listings {
		out[k] = v
	}
	return out
}

// CashProduct returns the distinguished cash product
func (s *State) CashProduct() event.Product {
	return s.cash
}

// Position returns one agent's holding of a product
func (s *State) Position(owner event.AgentID, product event.Product) int64 {
	return s.tracker.Position(owner, product)
}

// Positions returns one agent's holdings, cash included
func (s *State) Positions(owner event.AgentID) map[event.Product]int64 {
	return s.tracker.Positions(owner)
}

// AllPositions returns every agent's holdings, cash included
func (s *State) AllPositions() map[event.AgentID]map[event.Product]int64 {
	return s.tracker.AllPositions()
}

// Products returns all registered products, cash included
func (s *State) Products() []event.Product {
	return s.tracker.Products()
}

// Trades returns a copy of the live trade log
func (s *State) Trades() []event.Trade {
	return s.trades.Trades()
}

// RemoveOwnerOrders strips an agent's resting orders from every book
func (s *State) RemoveOwnerOrders(owner event.AgentID) int {
	removed := 0
	for _, sym := range s.symbols {
		removed += s.books[sym].RemoveOwner(owner)
	}
	return removed
}

// ExpireTrades drops trades the owner took before tick
func (s *State) ExpireTrades(owner event.AgentID, tick int64) int {
	return s.trades.Expire(owner, tick)
}

// Validate checks position limits, conservation and book ordering.
// Ledger failures are returned as *ledger.Violation.
func (s *State) Validate() error {
	if err := s.validator.ValidateAll(); err != nil {
		return err
	}
	for _, sym := range s.symbols {
		if err := s.books[sym].Validate(); err != nil {
			return err
		}
	}
	return nil
}
