package core

import (
	"MarketSim/internal/agent"
	"MarketSim/internal/event"
	"MarketSim/internal/market"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
)

// AgentInvoker calls an agent's Decide under a time budget. Any error, panic
// or timeout comes back as an error and the caller treats the turn as empty.
//
// Go cannot stop a goroutine, so an agent that ignores its context keeps
// running in the background after a timeout. Its result is discarded, and the
// agent is not called again until that Decide returns: its turns fail with
// ErrAgentBusy instead. Decide is therefore never entered concurrently for one
// agent.
type AgentInvoker struct {
	budget time.Duration

	// Written on the loop goroutine; each flag is cleared by its Decide goroutine.
	running map[event.AgentID]*atomic.Bool
}

// NewAgentInvoker returns an invoker; a non-positive budget disables the timeout.
func NewAgentInvoker(budget time.Duration) *AgentInvoker {
	return &AgentInvoker{budget: budget, running: make(map[event.AgentID]*atomic.Bool)}
}

func (inv *AgentInvoker) Budget() time.Duration {
	return inv.budget
}

func (inv *AgentInvoker) Invoke(ctx context.Context, a agent.Agent, snap market.Snapshot) (agent.Orders, error) {
	busy, ok := inv.running[a.ID()]
	if !ok {
		busy = new(atomic.Bool)
		inv.running[a.ID()] = busy
	}
	if busy.Load() {
		return nil, fmt.Errorf("%w: agent %d", ErrAgentBusy, a.ID())
	}

	if inv.budget <= 0 {
		orders, err := decide(ctx, a, snap, busy)
		if err != nil {
			return nil, fmt.Errorf("%w: agent %d: %v", ErrAgentFault, a.ID(), err)
		}
		return orders, nil
	}

	executor := failsafe.With[agent.Orders](timeout.New[agent.Orders](inv.budget)).WithContext(ctx)
	orders, err := executor.GetWithExecution(func(exec failsafe.Execution[agent.Orders]) (agent.Orders, error) {
		return decide(exec.Context(), a, snap, busy)
	})
	if err == nil {
		return orders, nil
	}

	// The policy cancels the execution context; depending on which side
	// observes it first the error is ErrExceeded or a context error.
	timedOut := errors.Is(err, timeout.ErrExceeded) ||
		(ctx.Err() == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)))
	if timedOut {
		return nil, fmt.Errorf("%w: agent %d after %s", ErrAgentTimeout, a.ID(), inv.budget)
	}
	return nil, fmt.Errorf("%w: agent %d: %v", ErrAgentFault, a.ID(), err)
}

type decision struct {
	orders agent.Orders
	err    error
}

// decide runs Decide on its own goroutine so a stuck agent cannot hold the
// loop past ctx, and converts a panic into an error. busy stays set until
// Decide returns, even if ctx ends first.
func decide(ctx context.Context, a agent.Agent, snap market.Snapshot, busy *atomic.Bool) (agent.Orders, error) {
	done := make(chan decision, 1)
	busy.Store(true)
	go func() {
		var d decision
		defer func() {
			if r := recover(); r != nil {
				d = decision{err: fmt.Errorf("panic: %v", r)}
			}
			busy.Store(false)
			done <- d
		}()
		d.orders, d.err = a.Decide(ctx, snap)
	}()

	select {
	case d := <-done:
		return d.orders, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
