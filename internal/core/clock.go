package core

import (
	"errors"
	"fmt"
)

// DefaultTimeStep is the timestamp increment between ticks
const DefaultTimeStep = 100

var ErrBadClock = errors.New("core: invalid clock")

// TickClock hands out tick timestamps: 0, step, 2*step, ... while below horizon.
// Not thread-safe: only the simulation loop advances it.
type TickClock struct {
	step    int64
	horizon int64
	next    int64
	current int64
	ticks   int64
}

func NewTickClock(step, horizon int64) (*TickClock, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: time step must be positive, got %d", ErrBadClock, step)
	}
	if horizon < 0 {
		return nil, fmt.Errorf("%w: horizon must be non-negative, got %d", ErrBadClock, horizon)
	}
	return &TickClock{step: step, horizon: horizon, current: -1}, nil
}

// Next advances to the following tick. ok is false once the horizon is reached.
func (c *TickClock) Next() (timestamp int64, ok bool) {
	if c.next >= c.horizon {
		return c.current, false
	}
	c.current = c.next
	c.next += c.step
	c.ticks++
	return c.current, true
}

// Current returns the timestamp of the tick in progress, -1 before the first.
func (c *TickClock) Current() int64 {
	return c.current
}

// Ticks returns how many ticks have started
func (c *TickClock) Ticks() int64 {
	return c.ticks
}

// Total returns how many ticks the horizon allows
func (c *TickClock) Total() int64 {
	return (c.horizon + c.step - 1) / c.step
}
