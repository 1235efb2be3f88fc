package ledger

import (
	"MarketSim/internal/event"
	"fmt"
)

// AccountKey is the in-memory key for position tracking: one signed balance per
// (agent, product). The cash product is an ordinary product here.
type AccountKey struct {
	Owner   event.AgentID
	Product event.Product
}

// NewAccountKey creates a key for an agent's holding of a product
func NewAccountKey(owner event.AgentID, product event.Product) AccountKey {
	return AccountKey{Owner: owner, Product: product}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("agent:%d:%s", k.Owner, k.Product)
}
