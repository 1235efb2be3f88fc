package ledger

import (
	"MarketSim/internal/event"
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory per-agent positions, cash included
type BalanceTracker struct {
	balances map[AccountKey]int64
	agents   []event.AgentID
	products []event.Product
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// Register opens a zero position for every (agent, product) pair so every known
// product is always present in position maps.
func (bt *BalanceTracker) Register(agents []event.AgentID, products []event.Product) {
	for _, a := range agents {
		if !containsAgent(bt.agents, a) {
			bt.agents = append(bt.agents, a)
		}
		for _, p := range products {
			key := NewAccountKey(a, p)
			if _, ok := bt.balances[key]; !ok {
				bt.balances[key] = 0
			}
		}
	}
	for _, p := range products {
		if !containsProduct(bt.products, p) {
			bt.products = append(bt.products, p)
		}
	}
	sort.Slice(bt.agents, func(i, j int) bool { return bt.agents[i] < bt.agents[j] })
	sort.Strings(bt.products)
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current position for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// Position is shorthand for GetBalance(NewAccountKey(owner, product))
func (bt *BalanceTracker) Position(owner event.AgentID, product event.Product) int64 {
	return bt.balances[NewAccountKey(owner, product)]
}

// Positions returns a copy of one agent's positions over all registered products
func (bt *BalanceTracker) Positions(owner event.AgentID) map[event.Product]int64 {
	out := make(map[event.Product]int64, len(bt.products))
	for _, p := range bt.products {
		out[p] = bt.balances[NewAccountKey(owner, p)]
	}
	return out
}

// AllPositions returns a copy of every registered agent's positions
func (bt *BalanceTracker) AllPositions() map[event.AgentID]map[event.Product]int64 {
	out := make(map[event.AgentID]map[event.Product]int64, len(bt.agents))
	for _, a := range bt.agents {
		out[a] = bt.Positions(a)
	}
	return out
}

// Agents returns registered agents in ascending order
func (bt *BalanceTracker) Agents() []event.AgentID {
	return append([]event.AgentID(nil), bt.agents...)
}

// Products returns registered products in lexical order
func (bt *BalanceTracker) Products() []event.Product {
	return append([]event.Product(nil), bt.products...)
}

// ComputeGlobalBalance sums all positions per product (should be 0 for every product)
func (bt *BalanceTracker) ComputeGlobalBalance() map[event.Product]int64 {
	totals := make(map[event.Product]int64)

	for key, balance := range bt.balances {
		totals[key.Product] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns all account keys ordered by (owner, product)
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].Product < keys[j].Product
	})
	return keys
}

func containsAgent(list []event.AgentID, a event.AgentID) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsProduct(list []event.Product, p event.Product) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}
