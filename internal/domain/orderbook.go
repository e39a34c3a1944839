package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSide identifies which half of the book a level change applies to.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// LevelChange is one incremental mutation to a book: size 0 removes the
// level, a nonzero size upserts it.
type LevelChange struct {
	Side  BookSide
	Price float64
	Size  float64
}

// BookEventKind distinguishes full snapshots from incremental deltas.
type BookEventKind string

const (
	BookEventSnapshot BookEventKind = "snapshot"
	BookEventDelta    BookEventKind = "delta"
)

// BookEvent is one feed message for a (market, outcome) book. Snapshots carry
// Bids/Asks wholesale; deltas carry Changes. Seq increases by exactly one per
// delta; a gap invalidates the replica until the next snapshot.
type BookEvent struct {
	MarketID  string
	Outcome   Outcome
	AssetID   string
	Kind      BookEventKind
	Bids      []PriceLevel
	Asks      []PriceLevel
	Changes   []LevelChange
	Seq       uint64
	Timestamp time.Time
}
