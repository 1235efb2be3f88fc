package ledger

import (
	"MarketSim/internal/event"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var ErrNotionalOverflow = errors.New("ledger: trade notional overflows int64")

// Notional returns quantity × price, or ErrNotionalOverflow if the product
// does not fit in an int64.
func Notional(quantity, price int64) (int64, error) {
	hi, lo := bits.Mul64(magnitude(quantity), magnitude(price))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d x %d", ErrNotionalOverflow, quantity, price)
	}
	n := int64(lo)
	if (quantity < 0) != (price < 0) {
		n = -n
	}
	return n, nil
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// JournalGenerator turns trades into balanced settlement batches
type JournalGenerator struct {
	sequence    int64
	cashProduct event.Product
}

func NewJournalGenerator(startSequence int64, cashProduct event.Product) *JournalGenerator {
	return &JournalGenerator{
		sequence:    startSequence,
		cashProduct: cashProduct,
	}
}

// GenerateSettlement creates the two legs of a trade at the trade's own price.
// Product leg: seller → buyer, quantity.
// Cash leg: buyer → seller, quantity × price.
// A self-trade produces no journals. A notional that overflows is refused
// before any sequence number is consumed.
func (jg *JournalGenerator) GenerateSettlement(trade event.Trade, product event.Product) (*Batch, error) {
	notional, err := Notional(trade.Quantity, trade.Price)
	if err != nil {
		return nil, err
	}

	batch := &Batch{
		Sequence:  jg.sequence,
		Timestamp: trade.CreatedAt,
		Trade:     trade,
		Journals:  make([]Journal, 0, 2),
	}
	jg.sequence++

	if trade.Buyer == trade.Seller {
		return batch, nil
	}

	batch.Journals = append(batch.Journals, Journal{
		Sequence:      batch.Sequence,
		DebitAccount:  NewAccountKey(trade.Buyer, product),
		CreditAccount: NewAccountKey(trade.Seller, product),
		Product:       product,
		Amount:        trade.Quantity,
		JournalType:   JournalTypeProductLeg,
		Timestamp:     trade.CreatedAt,
	})

	switch {
	case notional > 0:
		batch.Journals = append(batch.Journals, Journal{
			Sequence:      batch.Sequence,
			DebitAccount:  NewAccountKey(trade.Seller, jg.cashProduct),
			CreditAccount: NewAccountKey(trade.Buyer, jg.cashProduct),
			Product:       jg.cashProduct,
			Amount:        notional,
			JournalType:   JournalTypeCashLeg,
			Timestamp:     trade.CreatedAt,
		})
	case notional < 0:
		// Negative prices pay the buyer
		batch.Journals = append(batch.Journals, Journal{
			Sequence:      batch.Sequence,
			DebitAccount:  NewAccountKey(trade.Buyer, jg.cashProduct),
			CreditAccount: NewAccountKey(trade.Seller, jg.cashProduct),
			Product:       jg.cashProduct,
			Amount:        -notional,
			JournalType:   JournalTypeCashLeg,
			Timestamp:     trade.CreatedAt,
		})
	}

	return batch, nil
}

// Sequence returns the next settlement sequence
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}
