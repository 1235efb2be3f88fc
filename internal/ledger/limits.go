package ledger

import (
	"MarketSim/internal/event"
)

// Limits is the per-agent position limit table. A product absent from an agent's
// table is unbounded for that agent. Not safe for concurrent use; a Set between
// agent turns applies from the next intake and validation.
type Limits struct {
	table map[event.AgentID]map[event.Product]int64
}

func NewLimits() *Limits {
	return &Limits{table: make(map[event.AgentID]map[event.Product]int64)}
}

// Set records a non-negative limit for (owner, product)
func (l *Limits) Set(owner event.AgentID, product event.Product, limit int64) {
	if limit < 0 {
		limit = -limit
	}
	m, ok := l.table[owner]
	if !ok {
		m = make(map[event.Product]int64)
		l.table[owner] = m
	}
	m[product] = limit
}

// Get returns the limit and whether one is configured
func (l *Limits) Get(owner event.AgentID, product event.Product) (int64, bool) {
	limit, ok := l.table[owner][product]
	return limit, ok
}

// Allows reports whether -limit <= position <= limit
func (l *Limits) Allows(owner event.AgentID, product event.Product, position int64) bool {
	limit, ok := l.Get(owner, product)
	if !ok {
		return true
	}
	return position >= -limit && position <= limit
}
