package matching_test

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
	"MarketSim/internal/matching"
	"testing"

	"pgregory.net/rapid"
)

func order(id int64, owner event.AgentID, side event.Side, price, qty int64) book.RestingOrder {
	return book.RestingOrder{Symbol: "WIDGET", Price: price, Quantity: qty, OrderID: id, Owner: owner, Side: side}
}

// ============================================================================
// Test: crossing and price rule
// ============================================================================

func TestApply_NoCrossRests(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 2, event.SideSell, 100, 5))

	trades := matching.Apply(order(2, 1, event.SideBuy, 99, 2), b, 2)
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if best, ok := b.BestBid(); !ok || best.Price != 99 || best.Quantity != 2 {
		t.Errorf("best bid: got %+v, want 2@99", best)
	}
	if best, _ := b.BestAsk(); best.Quantity != 5 {
		t.Errorf("ask quantity: got %d, want 5", best.Quantity)
	}
}

func TestApply_TradesAtMakerPrice(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 2, event.SideSell, 100, 5))

	trades := matching.Apply(order(2, 1, event.SideBuy, 101, 3), b, 1)
	if len(trades) != 1 {
		t.Fatalf("trades: got %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Price != 100 || tr.Quantity != 3 {
		t.Errorf("trade: got %d@%d, want 3@100", tr.Quantity, tr.Price)
	}
	if tr.Buyer != 1 || tr.Seller != 2 || tr.Taker != 1 || tr.CreatedAt != 1 {
		t.Errorf("trade parties: got %+v", tr)
	}
	if best, _ := b.BestAsk(); best.Quantity != 2 {
		t.Errorf("remaining ask: got %d, want 2", best.Quantity)
	}
	if len(b.Bids) != 0 {
		t.Errorf("fully filled buy should not rest, got %d bids", len(b.Bids))
	}
}

func TestApply_SellTakerHitsBids(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 3, event.SideBuy, 102, 1))
	b.Insert(order(2, 4, event.SideBuy, 101, 4))

	trades := matching.Apply(order(3, 5, event.SideSell, 101, 3), b, 7)
	if len(trades) != 2 {
		t.Fatalf("trades: got %d, want 2", len(trades))
	}
	if trades[0].Price != 102 || trades[0].Quantity != 1 || trades[0].Buyer != 3 {
		t.Errorf("first trade: got %+v", trades[0])
	}
	if trades[1].Price != 101 || trades[1].Quantity != 2 || trades[1].Seller != 5 {
		t.Errorf("second trade: got %+v", trades[1])
	}
	if best, _ := b.BestBid(); best.OrderID != 2 || best.Quantity != 2 {
		t.Errorf("remaining bid: got %+v", best)
	}
}

// ============================================================================
// Test: priority and partial fills
// ============================================================================

func TestApply_FillOrderAscendingPriceThenOwner(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 9, event.SideSell, 101, 1))
	b.Insert(order(2, 4, event.SideSell, 100, 1))
	b.Insert(order(3, 2, event.SideSell, 101, 1))
	b.Insert(order(4, 7, event.SideSell, 100, 1))

	trades := matching.Apply(order(5, 1, event.SideBuy, 105, 4), b, 1)
	wantSellers := []event.AgentID{4, 7, 2, 9}
	wantPrices := []int64{100, 100, 101, 101}
	if len(trades) != len(wantSellers) {
		t.Fatalf("trades: got %d, want %d", len(trades), len(wantSellers))
	}
	for i, tr := range trades {
		if tr.Seller != wantSellers[i] || tr.Price != wantPrices[i] {
			t.Errorf("trade %d: got seller %d @%d, want seller %d @%d",
				i, tr.Seller, tr.Price, wantSellers[i], wantPrices[i])
		}
	}
}

func TestApply_PartialFillRestsRemainder(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 2, event.SideSell, 100, 2))
	b.Insert(order(2, 3, event.SideSell, 101, 1))

	trades := matching.Apply(order(3, 1, event.SideBuy, 101, 10), b, 1)
	var filled int64
	for _, tr := range trades {
		filled += tr.Quantity
	}
	if filled != 3 {
		t.Errorf("filled: got %d, want 3", filled)
	}
	if len(b.Asks) != 0 {
		t.Errorf("asks should be consumed, got %d", len(b.Asks))
	}
	best, ok := b.BestBid()
	if !ok || best.Quantity != 7 || best.Price != 101 || best.OrderID != 3 {
		t.Errorf("resting remainder: got %+v", best)
	}
}

func TestApply_SelfTradeAllowed(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(order(1, 1, event.SideSell, 100, 2))

	trades := matching.Apply(order(2, 1, event.SideBuy, 100, 2), b, 1)
	if len(trades) != 1 {
		t.Fatalf("trades: got %d, want 1", len(trades))
	}
	if trades[0].Buyer != 1 || trades[0].Seller != 1 {
		t.Errorf("self trade parties: got %+v", trades[0])
	}
}

// ============================================================================
// Property: book never left crossed, quantity conserved
// ============================================================================

func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := book.New("WIDGET")
		n := rapid.IntRange(1, 80).Draw(t, "n")
		for i := 0; i < n; i++ {
			o := order(
				int64(i+1),
				event.AgentID(rapid.Int64Range(1, 4).Draw(t, "owner")),
				event.Side(rapid.IntRange(0, 1).Draw(t, "side")),
				rapid.Int64Range(95, 105).Draw(t, "price"),
				rapid.Int64Range(1, 10).Draw(t, "qty"),
			)
			before := restingQty(b)
			trades := matching.Apply(o, b, int64(i))

			var traded int64
			for _, tr := range trades {
				traded += tr.Quantity
				if o.Side == event.SideBuy && tr.Price > o.Price {
					t.Fatalf("buy filled above limit: %d > %d", tr.Price, o.Price)
				}
				if o.Side == event.SideSell && tr.Price < o.Price {
					t.Fatalf("sell filled below limit: %d < %d", tr.Price, o.Price)
				}
			}
			if got, want := restingQty(b), before+o.Quantity-2*traded; got != want {
				t.Fatalf("resting quantity: got %d, want %d", got, want)
			}
			if err := b.Validate(); err != nil {
				t.Fatal(err)
			}
			bestBid, hasBid := b.BestBid()
			bestAsk, hasAsk := b.BestAsk()
			if hasBid && hasAsk && bestBid.Price >= bestAsk.Price {
				t.Fatalf("book crossed: bid %d >= ask %d", bestBid.Price, bestAsk.Price)
			}
		}
	})
}

func restingQty(b *book.Book) int64 {
	var total int64
	for _, o := range b.Bids {
		total += o.Quantity
	}
	for _, o := range b.Asks {
		total += o.Quantity
	}
	return total
}
