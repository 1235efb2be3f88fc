package ledger

import (
	"MarketSim/internal/event"
	"fmt"
	"sort"
)

// ViolationKind names which invariant failed
type ViolationKind string

const (
	ViolationPositionLimit ViolationKind = "position_limit"
	ViolationConservation  ViolationKind = "conservation"
)

// Violation describes a failed ledger invariant.
// Agent is zero for conservation failures, which are not attributable to one agent.
type Violation struct {
	Kind    ViolationKind
	Agent   event.AgentID
	Product event.Product
	Value   int64
	Limit   int64
}

func (v *Violation) Error() string {
	if v.Kind == ViolationConservation {
		return fmt.Sprintf("global position for %s is non-zero: %d", v.Product, v.Value)
	}
	return fmt.Sprintf("agent %d position in %s is %d, outside limit ±%d", v.Agent, v.Product, v.Value, v.Limit)
}

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
	limits  *Limits
}

func NewInvariantValidator(tracker *BalanceTracker, limits *Limits) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		limits:  limits,
	}
}

// ValidateBatchBalance verifies a settlement batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every product sums to zero across agents
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	products := make([]event.Product, 0, len(totals))
	for p := range totals {
		products = append(products, p)
	}
	sort.Strings(products)

	for _, p := range products {
		if totals[p] != 0 {
			return &Violation{Kind: ViolationConservation, Product: p, Value: totals[p]}
		}
	}

	return nil
}

// ValidatePositionLimits verifies every agent is inside its limit band
func (v *InvariantValidator) ValidatePositionLimits() error {
	for _, key := range v.tracker.SortedKeys() {
		pos := v.tracker.GetBalance(key)
		if !v.limits.Allows(key.Owner, key.Product, pos) {
			limit, _ := v.limits.Get(key.Owner, key.Product)
			return &Violation{
				Kind:    ViolationPositionLimit,
				Agent:   key.Owner,
				Product: key.Product,
				Value:   pos,
				Limit:   limit,
			}
		}
	}
	return nil
}

// ValidateAll runs limit then conservation checks
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidatePositionLimits(); err != nil {
		return err
	}
	return v.ValidateGlobalBalance()
}
