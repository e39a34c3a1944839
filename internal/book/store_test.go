package book

import (
	"errors"
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func snapshot(s *Store, market string, outcome domain.Outcome, asks []domain.PriceLevel, seq uint64) {
	s.ApplySnapshot(market, outcome, nil, asks, seq, t0)
}

func TestStore_SnapshotThenBestAsk(t *testing.T) {
	s := NewStore()
	s.CreateMarket("mkt-1")

	snapshot(s, "mkt-1", domain.OutcomeYes, []domain.PriceLevel{
		{Price: 0.48, Size: 100},
		{Price: 0.46, Size: 50},
		{Price: 0.47, Size: 0}, // zero-size level must be dropped
	}, 10)

	lvl, seq, err := s.BestAsk("mkt-1", domain.OutcomeYes)
	if err != nil {
		t.Fatalf("BestAsk: %v", err)
	}
	if lvl.Price != 0.46 || lvl.Size != 50 {
		t.Errorf("best ask = %+v, want {0.46 50}", lvl)
	}
	if seq != 10 {
		t.Errorf("seq = %d, want 10", seq)
	}
}

func TestStore_BookStartsStale(t *testing.T) {
	s := NewStore()
	s.CreateMarket("mkt-1")

	if !s.IsStale("mkt-1", domain.OutcomeYes) {
		t.Error("new book should be stale until first snapshot")
	}
	if _, _, err := s.BestAsk("mkt-1", domain.OutcomeYes); !errors.Is(err, domain.ErrStaleBook) {
		t.Errorf("BestAsk on unsynced book = %v, want ErrStaleBook", err)
	}
}

func TestStore_DeltaUpsertAndRemove(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeYes, []domain.PriceLevel{
		{Price: 0.50, Size: 10},
		{Price: 0.52, Size: 20},
	}, 1)

	// Insert a better ask.
	err := s.ApplyDelta("m", domain.OutcomeYes, []domain.LevelChange{
		{Side: domain.BookSideAsk, Price: 0.49, Size: 5},
	}, 2, t0)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	lvl, _, _ := s.BestAsk("m", domain.OutcomeYes)
	if lvl.Price != 0.49 {
		t.Errorf("best ask after insert = %v, want 0.49", lvl.Price)
	}

	// Remove it again with size 0.
	err = s.ApplyDelta("m", domain.OutcomeYes, []domain.LevelChange{
		{Side: domain.BookSideAsk, Price: 0.49, Size: 0},
	}, 3, t0)
	if err != nil {
		t.Fatalf("ApplyDelta remove: %v", err)
	}
	lvl, _, _ = s.BestAsk("m", domain.OutcomeYes)
	if lvl.Price != 0.50 {
		t.Errorf("best ask after remove = %v, want 0.50", lvl.Price)
	}

	// Update size in place.
	err = s.ApplyDelta("m", domain.OutcomeYes, []domain.LevelChange{
		{Side: domain.BookSideAsk, Price: 0.50, Size: 42},
	}, 4, t0)
	if err != nil {
		t.Fatalf("ApplyDelta upsert: %v", err)
	}
	lvl, _, _ = s.BestAsk("m", domain.OutcomeYes)
	if lvl.Size != 42 {
		t.Errorf("best ask size after upsert = %v, want 42", lvl.Size)
	}
}

func TestStore_OrderingInvariantAfterDeltas(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeNo, []domain.PriceLevel{{Price: 0.50, Size: 10}}, 0)

	prices := []float64{0.55, 0.45, 0.52, 0.48, 0.51}
	seq := uint64(0)
	for _, p := range prices {
		seq++
		if err := s.ApplyDelta("m", domain.OutcomeNo, []domain.LevelChange{
			{Side: domain.BookSideAsk, Price: p, Size: 1},
			{Side: domain.BookSideBid, Price: p - 0.10, Size: 1},
		}, seq, t0); err != nil {
			t.Fatalf("ApplyDelta(%v): %v", p, err)
		}
	}

	bids, asks, err := s.Depth("m", domain.OutcomeNo)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price <= asks[i-1].Price {
			t.Fatalf("asks not strictly ascending: %v", asks)
		}
	}
	for i := 1; i < len(bids); i++ {
		if bids[i].Price >= bids[i-1].Price {
			t.Fatalf("bids not strictly descending: %v", bids)
		}
	}
	for _, lvl := range append(bids, asks...) {
		if lvl.Size <= 0 {
			t.Fatalf("level with non-positive size present: %v", lvl)
		}
	}
}

func TestStore_SequenceGapMarksStale(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeYes, []domain.PriceLevel{{Price: 0.40, Size: 10}}, 5)

	err := s.ApplyDelta("m", domain.OutcomeYes, []domain.LevelChange{
		{Side: domain.BookSideAsk, Price: 0.41, Size: 1},
	}, 7, t0) // gap: expected 6
	if !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("ApplyDelta with gap = %v, want ErrSequenceGap", err)
	}
	if !s.IsStale("m", domain.OutcomeYes) {
		t.Error("book should be stale after a sequence gap")
	}

	// A stale book rejects further deltas even with the right sequence.
	err = s.ApplyDelta("m", domain.OutcomeYes, nil, 6, t0)
	if !errors.Is(err, domain.ErrStaleBook) {
		t.Errorf("ApplyDelta on stale book = %v, want ErrStaleBook", err)
	}

	// A fresh snapshot resynchronizes.
	snapshot(s, "m", domain.OutcomeYes, []domain.PriceLevel{{Price: 0.42, Size: 3}}, 20)
	if s.IsStale("m", domain.OutcomeYes) {
		t.Error("book should be synced after snapshot")
	}
	if err := s.ApplyDelta("m", domain.OutcomeYes, nil, 21, t0); err != nil {
		t.Errorf("ApplyDelta after resync: %v", err)
	}
}

func TestStore_SnapshotReplayIsIdempotent(t *testing.T) {
	s := NewStore()
	asks := []domain.PriceLevel{{Price: 0.40, Size: 10}, {Price: 0.45, Size: 5}}

	snapshot(s, "m", domain.OutcomeYes, asks, 3)
	snapshot(s, "m", domain.OutcomeYes, asks, 3)

	_, got, err := s.Depth("m", domain.OutcomeYes)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("replayed snapshot produced %d ask levels, want 2: %v", len(got), got)
	}
	if got[0].Size != 10 || got[1].Size != 5 {
		t.Errorf("sizes drifted after replay: %v", got)
	}
}

func TestStore_NoLiquidity(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeYes, nil, 1)

	if _, _, err := s.BestAsk("m", domain.OutcomeYes); !errors.Is(err, domain.ErrNoLiquidity) {
		t.Errorf("BestAsk on empty side = %v, want ErrNoLiquidity", err)
	}
}

func TestStore_TopOfBookConsistentRead(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeYes, []domain.PriceLevel{{Price: 0.40, Size: 10}}, 7)
	snapshot(s, "m", domain.OutcomeNo, []domain.PriceLevel{{Price: 0.50, Size: 20}}, 9)

	yes, no, yesSeq, noSeq, err := s.TopOfBook("m")
	if err != nil {
		t.Fatalf("TopOfBook: %v", err)
	}
	if yes.Price != 0.40 || no.Price != 0.50 {
		t.Errorf("asks = %v / %v, want 0.40 / 0.50", yes.Price, no.Price)
	}
	if yesSeq != 7 || noSeq != 9 {
		t.Errorf("seqs = %d/%d, want 7/9", yesSeq, noSeq)
	}

	// One stale side poisons the pair read.
	_ = s.ApplyDelta("m", domain.OutcomeNo, nil, 99, t0)
	if _, _, _, _, err := s.TopOfBook("m"); !errors.Is(err, domain.ErrStaleBook) {
		t.Errorf("TopOfBook with stale side = %v, want ErrStaleBook", err)
	}
}

func TestStore_DestroyMarket(t *testing.T) {
	s := NewStore()
	snapshot(s, "m", domain.OutcomeYes, []domain.PriceLevel{{Price: 0.40, Size: 10}}, 1)
	s.DestroyMarket("m")

	if _, _, err := s.BestAsk("m", domain.OutcomeYes); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("BestAsk after destroy = %v, want ErrNotFound", err)
	}
}
