package market

import (
	"MarketSim/internal/book"
	"MarketSim/internal/event"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"
)

const chainGenesis = "MarketSim:genesis:v1"

// Digest serializes the state deterministically:
// positions by (owner, product), every resting order in book order, the live
// trade count and the order-id counter.
func (s *State) Digest() []byte {
	var buf bytes.Buffer
	s.writeDigest(&buf)
	return buf.Bytes()
}

func (s *State) writeDigest(w io.Writer) {
	var scratch [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		w.Write(scratch[:])
	}

	for _, key := range s.tracker.SortedKeys() {
		putInt(int64(key.Owner))
		io.WriteString(w, key.Product)
		putInt(s.tracker.GetBalance(key))
	}
	for _, sym := range s.symbols {
		b := s.books[sym]
		io.WriteString(w, sym)
		for _, side := range [][]book.RestingOrder{b.Bids, b.Asks} {
			putInt(int64(len(side)))
			for _, o := range side {
				putInt(o.OrderID)
				putInt(int64(o.Owner))
				putInt(o.Price)
				putInt(o.Quantity)
			}
		}
	}
	putInt(int64(s.trades.Len()))
	putInt(s.nextOrderID)
}

// Chain fingerprints a run as a hash chain with one link per agent turn:
//
//	link[n] = SHA-256(link[n-1] || n || timestamp || agent || digest)
//
// Two runs with the same configuration and seed end on the same Tip.
type Chain struct {
	tip [32]byte
	h   hash.Hash
}

func NewChain() *Chain {
	return &Chain{tip: sha256.Sum256([]byte(chainGenesis)), h: sha256.New()}
}

// Link appends the state left by one agent turn and returns the new tip.
// The digest is streamed into the hash without being materialized.
func (c *Chain) Link(s *State, turn, timestamp int64, owner event.AgentID) [32]byte {
	c.h.Reset()
	c.h.Write(c.tip[:])

	var header [24]byte
	binary.LittleEndian.PutUint64(header[0:], uint64(turn))
	binary.LittleEndian.PutUint64(header[8:], uint64(timestamp))
	binary.LittleEndian.PutUint64(header[16:], uint64(owner))
	c.h.Write(header[:])

	s.writeDigest(c.h)
	c.h.Sum(c.tip[:0])
	return c.tip
}

// Tip returns the latest link, or the genesis hash before the first turn.
func (c *Chain) Tip() [32]byte {
	return c.tip
}
