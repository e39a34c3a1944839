// Package book maintains per-market, per-outcome order book replicas built
// from feed snapshots and sequenced deltas, plus the top-of-book stability
// tracking used to gate detection on market quiescence.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// outcomeBook is the replica for one (market, outcome) pair. Bids are sorted
// best-first (descending price), asks best-first (ascending price). A level
// with size 0 is absent, never present-with-zero.
type outcomeBook struct {
	bids      []domain.PriceLevel
	asks      []domain.PriceLevel
	seq       uint64
	stale     bool
	updatedAt time.Time
}

// Store holds the order book replicas for every tracked market. Mutation for
// one (market, outcome) pair is never concurrent with itself: the engine
// applies feed events for a market from a single goroutine. The store still
// locks internally because detection may read across goroutines.
type Store struct {
	mu    sync.RWMutex
	books map[string]map[domain.Outcome]*outcomeBook // marketID -> outcome -> book
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		books: make(map[string]map[domain.Outcome]*outcomeBook),
	}
}

// CreateMarket registers empty (not yet synchronized) books for both outcomes.
// Books start stale until the first snapshot arrives.
func (s *Store) CreateMarket(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[marketID]; ok {
		return
	}
	s.books[marketID] = map[domain.Outcome]*outcomeBook{
		domain.OutcomeYes: {stale: true},
		domain.OutcomeNo:  {stale: true},
	}
}

// DestroyMarket drops both outcome books, e.g. on market delisting.
func (s *Store) DestroyMarket(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, marketID)
}

// ApplySnapshot replaces the book for (market, outcome) wholesale and resets
// the expected-sequence counter to seq. A snapshot always clears staleness.
// Levels are copied and normalized: zero-size levels dropped, bids sorted
// descending, asks ascending.
func (s *Store) ApplySnapshot(marketID string, outcome domain.Outcome, bids, asks []domain.PriceLevel, seq uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(marketID, outcome)
	b.bids = normalize(bids, true)
	b.asks = normalize(asks, false)
	b.seq = seq
	b.stale = false
	b.updatedAt = now
}

// ApplyDelta applies level changes to (market, outcome). It fails with
// domain.ErrSequenceGap unless seq is exactly one greater than the last
// applied sequence; on a gap the book is marked stale and stays ineligible
// for detection until a fresh snapshot resynchronizes it.
func (s *Store) ApplyDelta(marketID string, outcome domain.Outcome, changes []domain.LevelChange, seq uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.book(marketID, outcome)
	if b.stale {
		return fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrStaleBook)
	}
	if seq != b.seq+1 {
		b.stale = true
		return fmt.Errorf("book: %s/%s: expected seq %d, got %d: %w",
			marketID, outcome, b.seq+1, seq, domain.ErrSequenceGap)
	}

	for _, ch := range changes {
		switch ch.Side {
		case domain.BookSideBid:
			b.bids = applyChange(b.bids, ch.Price, ch.Size, true)
		case domain.BookSideAsk:
			b.asks = applyChange(b.asks, ch.Price, ch.Size, false)
		}
	}
	b.seq = seq
	b.updatedAt = now
	return nil
}

// BestAsk returns the lowest-priced ask level with nonzero size for
// (market, outcome) and the sequence number of the book it came from.
// It fails with domain.ErrStaleBook when the replica is not synchronized and
// domain.ErrNoLiquidity when the ask side is empty.
func (s *Store) BestAsk(marketID string, outcome domain.Outcome) (domain.PriceLevel, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.lookup(marketID, outcome)
	if err != nil {
		return domain.PriceLevel{}, 0, err
	}
	if b.stale {
		return domain.PriceLevel{}, 0, fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrStaleBook)
	}
	if len(b.asks) == 0 {
		return domain.PriceLevel{}, b.seq, fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrNoLiquidity)
	}
	return b.asks[0], b.seq, nil
}

// BestBid returns the highest-priced bid level with nonzero size.
func (s *Store) BestBid(marketID string, outcome domain.Outcome) (domain.PriceLevel, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.lookup(marketID, outcome)
	if err != nil {
		return domain.PriceLevel{}, 0, err
	}
	if b.stale {
		return domain.PriceLevel{}, 0, fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrStaleBook)
	}
	if len(b.bids) == 0 {
		return domain.PriceLevel{}, b.seq, fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrNoLiquidity)
	}
	return b.bids[0], b.seq, nil
}

// TopOfBook returns both best asks and their sequence numbers under a single
// read lock, so the detector sees one consistent view of both outcome books.
func (s *Store) TopOfBook(marketID string) (yesAsk, noAsk domain.PriceLevel, yesSeq, noSeq uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, side := range []struct {
		outcome domain.Outcome
		lvl     *domain.PriceLevel
		seq     *uint64
	}{
		{domain.OutcomeYes, &yesAsk, &yesSeq},
		{domain.OutcomeNo, &noAsk, &noSeq},
	} {
		b, lerr := s.lookup(marketID, side.outcome)
		if lerr != nil {
			return yesAsk, noAsk, yesSeq, noSeq, lerr
		}
		if b.stale {
			return yesAsk, noAsk, yesSeq, noSeq, fmt.Errorf("book: %s/%s: %w", marketID, side.outcome, domain.ErrStaleBook)
		}
		if len(b.asks) == 0 {
			return yesAsk, noAsk, yesSeq, noSeq, fmt.Errorf("book: %s/%s: %w", marketID, side.outcome, domain.ErrNoLiquidity)
		}
		*side.lvl = b.asks[0]
		*side.seq = b.seq
	}
	return yesAsk, noAsk, yesSeq, noSeq, nil
}

// IsStale reports whether the (market, outcome) replica is out of sync.
// Unknown books are stale by definition.
func (s *Store) IsStale(marketID string, outcome domain.Outcome) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(marketID, outcome)
	if err != nil {
		return true
	}
	return b.stale
}

// Seq returns the last applied sequence number for (market, outcome).
func (s *Store) Seq(marketID string, outcome domain.Outcome) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(marketID, outcome)
	if err != nil {
		return 0, err
	}
	return b.seq, nil
}

// Depth returns copies of both sides of the book for diagnostics.
func (s *Store) Depth(marketID string, outcome domain.Outcome) (bids, asks []domain.PriceLevel, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.lookup(marketID, outcome)
	if err != nil {
		return nil, nil, err
	}
	bids = append([]domain.PriceLevel(nil), b.bids...)
	asks = append([]domain.PriceLevel(nil), b.asks...)
	return bids, asks, nil
}

// book returns the replica for (market, outcome), creating market entries on
// demand. Caller must hold the write lock.
func (s *Store) book(marketID string, outcome domain.Outcome) *outcomeBook {
	m, ok := s.books[marketID]
	if !ok {
		m = map[domain.Outcome]*outcomeBook{
			domain.OutcomeYes: {stale: true},
			domain.OutcomeNo:  {stale: true},
		}
		s.books[marketID] = m
	}
	b, ok := m[outcome]
	if !ok {
		b = &outcomeBook{stale: true}
		m[outcome] = b
	}
	return b
}

// lookup returns the replica for (market, outcome) without creating it.
// Caller must hold at least the read lock.
func (s *Store) lookup(marketID string, outcome domain.Outcome) (*outcomeBook, error) {
	m, ok := s.books[marketID]
	if !ok {
		return nil, fmt.Errorf("book: market %s: %w", marketID, domain.ErrNotFound)
	}
	b, ok := m[outcome]
	if !ok {
		return nil, fmt.Errorf("book: %s/%s: %w", marketID, outcome, domain.ErrNotFound)
	}
	return b, nil
}

// normalize copies levels, drops zero sizes, and sorts best-first.
func normalize(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Size > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// applyChange upserts or removes a single level while preserving sort order.
func applyChange(levels []domain.PriceLevel, price, size float64, descending bool) []domain.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price <= price
		}
		return levels[i].Price >= price
	})

	exists := idx < len(levels) && levels[idx].Price == price

	if size <= 0 {
		if exists {
			return append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}

	if exists {
		levels[idx].Size = size
		return levels
	}

	levels = append(levels, domain.PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = domain.PriceLevel{Price: price, Size: size}
	return levels
}
