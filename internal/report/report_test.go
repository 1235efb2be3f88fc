package report_test

import (
	"MarketSim/internal/core"
	"MarketSim/internal/event"
	"MarketSim/internal/report"
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetResult() *core.Result {
	return &core.Result{
		RunID:  "run-1",
		Ticks:  2,
		Turns:  4,
		Trades: 1,
		FinalPositions: map[event.AgentID]map[event.Product]int64{
			2: {"WIDGET": -3, "SEASHELLS": 300},
			1: {"WIDGET": 3, "SEASHELLS": -300},
		},
		FinalFairValues: map[event.Product]float64{"WIDGET": 101.5},
	}
}

func TestBuild_MarksToFair(t *testing.T) {
	r := report.Build(widgetResult(), "SEASHELLS", 9)

	require.Len(t, r.Agents, 2)
	assert.Equal(t, event.AgentID(1), r.Agents[0].Agent, "agents sorted by id")
	assert.Equal(t, []event.Product{"WIDGET"}, r.Products)

	a := r.Agents[0]
	assert.True(t, a.Cash.Equal(decimal.NewFromInt(-300)))
	assert.True(t, a.Marked.Equal(decimal.RequireFromString("304.5")), "got %s", a.Marked)
	assert.True(t, a.PnL.Equal(decimal.RequireFromString("4.5")), "got %s", a.PnL)

	b := r.Agents[1]
	assert.True(t, b.PnL.Equal(decimal.RequireFromString("-4.5")), "got %s", b.PnL)
	assert.True(t, r.TotalPnL().IsZero())
	assert.Equal(t, uint64(9), r.Seed)
}

func TestBuild_MissingFairIsZero(t *testing.T) {
	res := widgetResult()
	res.FinalFairValues = nil

	r := report.Build(res, "SEASHELLS", 1)
	assert.True(t, r.Agents[0].PnL.Equal(decimal.NewFromInt(-300)))
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.Build(widgetResult(), "SEASHELLS", 1).WriteTable(&buf))

	out := buf.String()
	assert.Contains(t, out, "run run-1 seed=1 ticks=2 trades=1")
	assert.Contains(t, out, "AGENT")
	assert.Contains(t, out, "SEASHELLS")
	assert.Contains(t, out, "4.50")
	assert.Contains(t, out, "-4.50")
}
