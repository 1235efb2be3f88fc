// Package report marks final positions to fair value.
package report

import (
	"MarketSim/internal/core"
	"MarketSim/internal/event"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AgentReport is one agent's end-of-run book.
type AgentReport struct {
	Agent     event.AgentID
	Cash      decimal.Decimal
	Positions map[event.Product]int64 // non-cash products only
	Marked    decimal.Decimal         // sum(position * fair)
	PnL       decimal.Decimal         // Cash + Marked
}

type Report struct {
	RunID       string
	Seed        uint64
	Ticks       int64
	Turns       int64
	Trades      int
	StateHash   string
	CashProduct event.Product
	Products    []event.Product
	FairValues  map[event.Product]decimal.Decimal
	Agents      []AgentReport // ascending agent id
}

// Build computes the report for a finished run. Products without a fair
// value are marked at zero.
func Build(res *core.Result, cash event.Product, seed uint64) Report {
	r := Report{
		RunID:       res.RunID,
		Seed:        seed,
		Ticks:       res.Ticks,
		Turns:       res.Turns,
		Trades:      res.Trades,
		StateHash:   hex.EncodeToString(res.StateHash[:]),
		CashProduct: cash,
		FairValues:  make(map[event.Product]decimal.Decimal, len(res.FinalFairValues)),
	}

	for p, v := range res.FinalFairValues {
		r.FairValues[p] = decimal.NewFromFloat(v)
	}

	products := make(map[event.Product]bool)
	for id, positions := range res.FinalPositions {
		ar := AgentReport{
			Agent:     id,
			Cash:      decimal.NewFromInt(positions[cash]),
			Positions: make(map[event.Product]int64, len(positions)),
			Marked:    decimal.Zero,
		}
		for p, qty := range positions {
			if p == cash {
				continue
			}
			products[p] = true
			ar.Positions[p] = qty
			ar.Marked = ar.Marked.Add(decimal.NewFromInt(qty).Mul(r.FairValues[p]))
		}
		ar.PnL = ar.Cash.Add(ar.Marked)
		r.Agents = append(r.Agents, ar)
	}
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].Agent < r.Agents[j].Agent })

	for p := range products {
		r.Products = append(r.Products, p)
	}
	sort.Strings(r.Products)
	return r
}

// TotalPnL sums PnL over every agent. Trades move value between agents, so
// this is zero whenever every product carries a single fair value.
func (r Report) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Agents {
		total = total.Add(a.PnL)
	}
	return total
}

// WriteTable prints one row per agent.
func (r Report) WriteTable(w io.Writer) error {
	fmt.Fprintf(w, "run %s seed=%d ticks=%d trades=%d hash=%s\n", r.RunID, r.Seed, r.Ticks, r.Trades, r.StateHash)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"AGENT", string(r.CashProduct)}
	header = append(header, r.Products...)
	header = append(header, "PNL")
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")

	for _, a := range r.Agents {
		row := []string{a.Agent.String(), a.Cash.String()}
		for _, p := range r.Products {
			row = append(row, fmt.Sprintf("%d", a.Positions[p]))
		}
		row = append(row, a.PnL.StringFixed(2))
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	return tw.Flush()
}

// Log writes one line per agent.
func (r Report) Log(log zerolog.Logger) {
	for _, a := range r.Agents {
		ev := log.Info().
			Str("run_id", r.RunID).
			Int64("agent", int64(a.Agent)).
			Str("cash", a.Cash.String()).
			Str("pnl", a.PnL.StringFixed(2))
		for p, qty := range a.Positions {
			ev = ev.Int64("pos_"+p, qty)
		}
		ev.Msg("final position")
	}
}
