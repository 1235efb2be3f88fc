package book_test

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
	"testing"

	"pgregory.net/rapid"
)

func bid(id int64, owner event.AgentID, price, qty int64) book.RestingOrder {
	return book.RestingOrder{Symbol: "WIDGET", Price: price, Quantity: qty, OrderID: id, Owner: owner, Side: event.SideBuy}
}

func ask(id int64, owner event.AgentID, price, qty int64) book.RestingOrder {
	return book.RestingOrder{Symbol: "WIDGET", Price: price, Quantity: qty, OrderID: id, Owner: owner, Side: event.SideSell}
}

func orderIDs(side []book.RestingOrder) []int64 {
	ids := make([]int64, len(side))
	for i, o := range side {
		ids[i] = o.OrderID
	}
	return ids
}

func equalIDs(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Test: Insert ordering
// ============================================================================

func TestInsert_BidsDescendingThenOwner(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 7, 99, 1))
	b.Insert(bid(2, 3, 101, 1))
	b.Insert(bid(3, 5, 99, 1))
	b.Insert(bid(4, 1, 100, 1))

	want := []int64{2, 4, 3, 1}
	if got := orderIDs(b.Bids); !equalIDs(got, want) {
		t.Errorf("bid order: got %v, want %v", got, want)
	}
}

func TestInsert_AsksAscendingThenOwner(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(ask(1, 9, 102, 1))
	b.Insert(ask(2, 2, 100, 1))
	b.Insert(ask(3, 1, 102, 1))
	b.Insert(ask(4, 4, 101, 1))

	want := []int64{2, 4, 3, 1}
	if got := orderIDs(b.Asks); !equalIDs(got, want) {
		t.Errorf("ask order: got %v, want %v", got, want)
	}
}

func TestInsert_EqualKeysKeepInsertionOrder(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(ask(1, 2, 100, 1))
	b.Insert(ask(2, 2, 100, 1))
	b.Insert(ask(3, 2, 100, 1))

	want := []int64{1, 2, 3}
	if got := orderIDs(b.Asks); !equalIDs(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBest_EmptyBook(t *testing.T) {
	b := book.New("WIDGET")
	if _, ok := b.BestBid(); ok {
		t.Error("empty book should have no best bid")
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("empty book should have no best ask")
	}
}

func TestBest_ReturnsHead(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 1, 98, 2))
	b.Insert(bid(2, 1, 99, 2))
	b.Insert(ask(3, 2, 103, 2))
	b.Insert(ask(4, 2, 102, 2))

	if o, _ := b.BestBid(); o.OrderID != 2 {
		t.Errorf("best bid: got order %d, want 2", o.OrderID)
	}
	if o, _ := b.BestAsk(); o.OrderID != 4 {
		t.Errorf("best ask: got order %d, want 4", o.OrderID)
	}
}

// ============================================================================
// Test: RemoveWhere / Without
// ============================================================================

func TestRemoveOwner_StripsBothSides(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 1, 99, 2))
	b.Insert(bid(2, 2, 98, 2))
	b.Insert(ask(3, 1, 101, 2))
	b.Insert(ask(4, 2, 102, 2))

	if n := b.RemoveOwner(1); n != 2 {
		t.Errorf("removed: got %d, want 2", n)
	}
	if got := orderIDs(b.Bids); !equalIDs(got, []int64{2}) {
		t.Errorf("bids: got %v, want [2]", got)
	}
	if got := orderIDs(b.Asks); !equalIDs(got, []int64{4}) {
		t.Errorf("asks: got %v, want [4]", got)
	}
}

func TestOwnerQuantity_SumsEachSide(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 1, 99, 2))
	b.Insert(bid(2, 1, 97, 3))
	b.Insert(bid(3, 2, 98, 7))
	b.Insert(ask(4, 1, 101, 4))

	buys, sells := b.OwnerQuantity(1)
	if buys != 5 || sells != 4 {
		t.Errorf("owner 1: got buys=%d sells=%d, want 5 and 4", buys, sells)
	}
	if buys, sells := b.OwnerQuantity(3); buys != 0 || sells != 0 {
		t.Errorf("unknown owner: got buys=%d sells=%d", buys, sells)
	}
}

func TestWithout_LeavesOriginalUntouched(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 1, 99, 2))
	b.Insert(ask(2, 2, 101, 2))

	masked := b.Without(1)
	if len(masked.Bids) != 0 || len(masked.Asks) != 1 {
		t.Fatalf("masked book: got %d bids %d asks, want 0 and 1", len(masked.Bids), len(masked.Asks))
	}
	if b.Len() != 2 {
		t.Errorf("original book changed: got %d orders, want 2", b.Len())
	}
}

// ============================================================================
// Test: ToDepth
// ============================================================================

func TestToDepth_AggregatesPerPrice(t *testing.T) {
	b := book.New("WIDGET")
	b.Insert(bid(1, 1, 99, 2))
	b.Insert(bid(2, 2, 99, 3))
	b.Insert(bid(3, 2, 97, 1))
	b.Insert(ask(4, 3, 101, 4))
	b.Insert(ask(5, 1, 101, 1))

	d := b.ToDepth()
	if d.BuyOrders[99] != 5 {
		t.Errorf("bid depth at 99: got %d, want 5", d.BuyOrders[99])
	}
	if d.BuyOrders[97] != 1 {
		t.Errorf("bid depth at 97: got %d, want 1", d.BuyOrders[97])
	}
	if d.SellOrders[101] != -5 {
		t.Errorf("ask depth at 101: got %d, want -5", d.SellOrders[101])
	}
	if len(d.BuyOrders) != 2 || len(d.SellOrders) != 1 {
		t.Errorf("levels: got %d/%d, want 2/1", len(d.BuyOrders), len(d.SellOrders))
	}
}

// ============================================================================
// Property: sort invariant holds after any insert sequence
// ============================================================================

func TestProperty_InsertKeepsSortInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := book.New("WIDGET")
		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := 0; i < n; i++ {
			side := event.Side(rapid.IntRange(0, 1).Draw(t, "side"))
			b.Insert(book.RestingOrder{
				Symbol:   "WIDGET",
				Price:    rapid.Int64Range(90, 110).Draw(t, "price"),
				Quantity: rapid.Int64Range(1, 20).Draw(t, "qty"),
				OrderID:  int64(i + 1),
				Owner:    event.AgentID(rapid.Int64Range(1, 5).Draw(t, "owner")),
				Side:     side,
			})
			if err := b.Validate(); err != nil {
				t.Fatalf("after insert %d: %v", i, err)
			}
		}
		if b.Len() != n {
			t.Fatalf("len: got %d, want %d", b.Len(), n)
		}
	})
}
