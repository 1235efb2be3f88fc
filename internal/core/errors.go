package core

import (
	"MarketSim/internal/event"
	"errors"
	"fmt"
)

var (
	ErrSimulationDone    = errors.New("core: simulation already finished")
	ErrInvariantViolated = errors.New("core: invariant violated")
	ErrAgentFault        = errors.New("core: agent fault")
	ErrAgentTimeout      = errors.New("core: agent exceeded its time budget")
	ErrAgentBusy         = fmt.Errorf("%w: previous decision still running", ErrAgentFault)
)

// Invariant kinds beyond the ledger's position_limit and conservation
const (
	KindBookOrder  = "book_order"
	KindSettlement = "settlement"
)

// InvariantError is the fatal outcome of a run. It is distinct from intake
// rejections, which are never returned as errors.
type InvariantError struct {
	Kind    string
	Agent   event.AgentID
	Product event.Product
	Value   int64
	Limit   int64
	Tick    int64

	// Positions at the moment of failure, for post-mortem
	Positions map[event.AgentID]map[event.Product]int64

	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated at tick %d after agent %d: %v", e.Kind, e.Tick, e.Agent, e.Err)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolated
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}
