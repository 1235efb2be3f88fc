package ledger

import (
	"MarketSim/internal/event"
	"fmt"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeProductLeg JournalType = iota
	JournalTypeCashLeg
)

func (jt JournalType) String() string {
	if jt == JournalTypeCashLeg {
		return "cash_leg"
	}
	return "product_leg"
}

// Journal is a single double-entry transfer of one product between two agents.
// The debit account's position increases by Amount, the credit account's decreases.
type Journal struct {
	Sequence      int64         // Settlement sequence
	DebitAccount  AccountKey    // Receives Amount
	CreditAccount AccountKey    // Gives Amount
	Product       event.Product // Product being transferred
	Amount        int64         // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Simulation timestamp of the trade
}

// Batch is the set of journals settling one trade. A batch is applied whole or
// not at all.
type Batch struct {
	Sequence  int64
	Timestamp int64
	Trade     event.Trade
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount between two accounts of the same product,
// so every batch is balanced by construction; this catches malformed legs.
// An empty batch (self-trade, zero-price cash leg) is valid and changes nothing.
func (b *Batch) Validate() error {
	for i, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("batch %d journal %d has non-positive amount: %d", b.Sequence, i, j.Amount)
		}
		if j.DebitAccount.Product != j.Product || j.CreditAccount.Product != j.Product {
			return fmt.Errorf("batch %d journal %d mixes products %s/%s/%s",
				b.Sequence, i, j.Product, j.DebitAccount.Product, j.CreditAccount.Product)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("batch %d journal %d has same debit and credit account", b.Sequence, i)
		}
	}
	return nil
}
