package core_test

import (
	"MarketSim/internal/agent"
	"MarketSim/internal/core"
	"MarketSim/internal/market"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Test: TickClock
// ============================================================================

func TestTickClock_Sequence(t *testing.T) {
	c, err := core.NewTickClock(100, 250)
	if err != nil {
		t.Fatal(err)
	}
	if c.Current() != -1 {
		t.Errorf("before first tick: got %d, want -1", c.Current())
	}

	var got []int64
	for ts, ok := c.Next(); ok; ts, ok = c.Next() {
		got = append(got, ts)
	}
	want := []int64{0, 100, 200}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tick %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if c.Ticks() != 3 || c.Total() != 3 {
		t.Errorf("ticks: got %d/%d, want 3/3", c.Ticks(), c.Total())
	}
}

func TestTickClock_Rejects(t *testing.T) {
	if _, err := core.NewTickClock(0, 100); !errors.Is(err, core.ErrBadClock) {
		t.Errorf("zero step: got %v", err)
	}
	if _, err := core.NewTickClock(100, -1); !errors.Is(err, core.ErrBadClock) {
		t.Errorf("negative horizon: got %v", err)
	}
	c, _ := core.NewTickClock(100, 0)
	if _, ok := c.Next(); ok {
		t.Error("zero horizon should produce no ticks")
	}
}

// ============================================================================
// Test: AgentInvoker
// ============================================================================

func TestAgentInvoker_Outcomes(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	inv := core.NewAgentInvoker(20 * time.Millisecond)
	snap := market.Snapshot{}

	ok := agent.Func{Owner: 1, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		return at(buy(100, 1)), nil
	}}
	orders, err := inv.Invoke(context.Background(), ok, snap)
	if err != nil || len(orders["WIDGET"]) != 1 {
		t.Errorf("healthy agent: got %v, %v", orders, err)
	}

	failing := agent.Func{Owner: 2, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		return nil, errors.New("boom")
	}}
	if _, err := inv.Invoke(context.Background(), failing, snap); !errors.Is(err, core.ErrAgentFault) {
		t.Errorf("error: got %v, want ErrAgentFault", err)
	}

	panicking := agent.Func{Owner: 3, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		panic("boom")
	}}
	if _, err := inv.Invoke(context.Background(), panicking, snap); !errors.Is(err, core.ErrAgentFault) {
		t.Errorf("panic: got %v, want ErrAgentFault", err)
	}

	stuck := agent.Func{Owner: 4, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		<-release
		return nil, nil
	}}
	start := time.Now()
	if _, err := inv.Invoke(context.Background(), stuck, snap); !errors.Is(err, core.ErrAgentTimeout) {
		t.Errorf("stuck: got %v, want ErrAgentTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestAgentInvoker_SkipsAgentStillDeciding(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	slow := agent.Func{Owner: 5, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		calls.Add(1)
		<-release
		return at(buy(100, 1)), nil
	}}

	inv := core.NewAgentInvoker(10 * time.Millisecond)
	if _, err := inv.Invoke(context.Background(), slow, market.Snapshot{}); !errors.Is(err, core.ErrAgentTimeout) {
		t.Fatalf("first call: got %v, want ErrAgentTimeout", err)
	}

	// The abandoned Decide is still blocked: the next turn must not enter it again
	_, err := inv.Invoke(context.Background(), slow, market.Snapshot{})
	if !errors.Is(err, core.ErrAgentBusy) || !errors.Is(err, core.ErrAgentFault) {
		t.Errorf("second call: got %v, want ErrAgentBusy", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Decide calls: got %d, want 1", n)
	}

	// Another agent is unaffected
	other := agent.Func{Owner: 6, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		return nil, nil
	}}
	if _, err := inv.Invoke(context.Background(), other, market.Snapshot{}); err != nil {
		t.Errorf("other agent: got %v", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		orders, err := inv.Invoke(context.Background(), slow, market.Snapshot{})
		if err == nil {
			if len(orders["WIDGET"]) != 1 {
				t.Errorf("orders after release: got %v", orders)
			}
			break
		}
		if !errors.Is(err, core.ErrAgentBusy) || time.Now().After(deadline) {
			t.Fatalf("after release: got %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("Decide calls: got %d, want 2", n)
	}
}

func TestAgentInvoker_NoBudget(t *testing.T) {
	inv := core.NewAgentInvoker(0)
	panicking := agent.Func{Owner: 1, Decider: func(context.Context, market.Snapshot) (agent.Orders, error) {
		panic("boom")
	}}
	if _, err := inv.Invoke(context.Background(), panicking, market.Snapshot{}); !errors.Is(err, core.ErrAgentFault) {
		t.Errorf("got %v, want ErrAgentFault", err)
	}
}
