package arbitrage

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/domain"
)

type fixedCap float64

func (f fixedCap) PerTradeCap() float64 { return float64(f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fixture builds a store+tracker pair with both ask sides populated and the
// market stable since baseTime.
func fixture(t *testing.T, askYes, askNo domain.PriceLevel) (*book.Store, *book.StabilityTracker) {
	t.Helper()
	s := book.NewStore()
	s.ApplySnapshot("m", domain.OutcomeYes, nil, []domain.PriceLevel{askYes}, 1, baseTime)
	s.ApplySnapshot("m", domain.OutcomeNo, nil, []domain.PriceLevel{askNo}, 1, baseTime)

	tr := book.NewStabilityTracker(0.001)
	tr.Observe("m", domain.OutcomeYes, askYes.Price, baseTime)
	tr.Observe("m", domain.OutcomeNo, askNo.Price, baseTime)
	return s, tr
}

func defaultDetector(s *book.Store, tr *book.StabilityTracker, cap float64) *Detector {
	return NewDetector(s, tr, fixedCap(cap), DetectorConfig{
		MinEdge:              0.05,
		MinStableDuration:    2 * time.Second,
		MinLiquidityMultiple: 1,
	}, testLogger())
}

func TestEdge(t *testing.T) {
	tests := []struct {
		askYes, askNo, fee float64
		want               float64
	}{
		{0.46, 0.51, 0, 0.03},
		{0.40, 0.50, 0, 0.10},
		{0.40, 0.50, 0.01, 0.10 - 0.009}, // 1% fee on each leg's price
		{0.60, 0.50, 0, -0.10},
	}
	for _, tt := range tests {
		if got := Edge(tt.askYes, tt.askNo, tt.fee); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Edge(%v, %v, %v) = %v, want %v", tt.askYes, tt.askNo, tt.fee, got, tt.want)
		}
	}
}

func TestScan_EmitsWhenEdgeAndStabilityClear(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.40, Size: 100}, domain.PriceLevel{Price: 0.50, Size: 80})
	d := defaultDetector(s, tr, 1000)

	market := domain.Market{ID: "m"}
	opp, ok := d.Scan(market, baseTime.Add(5*time.Second))
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if math.Abs(opp.Edge-0.10) > 1e-12 {
		t.Errorf("edge = %v, want 0.10", opp.Edge)
	}
	if opp.Size != 80 { // min(100, 80), cap not binding
		t.Errorf("size = %v, want 80", opp.Size)
	}
	if opp.YesSeq != 1 || opp.NoSeq != 1 {
		t.Errorf("seqs = %d/%d, want 1/1", opp.YesSeq, opp.NoSeq)
	}
}

func TestScan_EdgeBelowMinimum(t *testing.T) {
	// 0.46 + 0.51 -> edge 0.03 < min 0.05.
	s, tr := fixture(t, domain.PriceLevel{Price: 0.46, Size: 100}, domain.PriceLevel{Price: 0.51, Size: 100})
	d := defaultDetector(s, tr, 1000)

	if _, ok := d.Scan(domain.Market{ID: "m"}, baseTime.Add(5*time.Second)); ok {
		t.Error("edge 0.03 with min 0.05 must not produce an opportunity")
	}
}

func TestScan_UnstableMarketSuppressed(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.40, Size: 100}, domain.PriceLevel{Price: 0.50, Size: 100})
	d := defaultDetector(s, tr, 1000)

	// Only 1s of quiescence against a 2s requirement.
	if _, ok := d.Scan(domain.Market{ID: "m"}, baseTime.Add(1*time.Second)); ok {
		t.Error("unstable market must not produce an opportunity")
	}
}

func TestScan_StaleBookNeverEmits(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.40, Size: 100}, domain.PriceLevel{Price: 0.50, Size: 100})
	// Force a gap on the No book.
	_ = s.ApplyDelta("m", domain.OutcomeNo, nil, 99, baseTime)

	d := defaultDetector(s, tr, 1000)
	if _, ok := d.Scan(domain.Market{ID: "m"}, baseTime.Add(5*time.Second)); ok {
		t.Error("a stale book must never produce an opportunity")
	}
}

func TestScan_NoLiquiditySide(t *testing.T) {
	s := book.NewStore()
	s.ApplySnapshot("m", domain.OutcomeYes, nil, []domain.PriceLevel{{Price: 0.40, Size: 10}}, 1, baseTime)
	s.ApplySnapshot("m", domain.OutcomeNo, nil, nil, 1, baseTime) // empty ask side
	tr := book.NewStabilityTracker(0.001)

	d := defaultDetector(s, tr, 1000)
	if _, ok := d.Scan(domain.Market{ID: "m"}, baseTime.Add(5*time.Second)); ok {
		t.Error("missing liquidity on one side must not produce an opportunity")
	}
}

func TestScan_SizeCappedByRisk(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.40, Size: 1000}, domain.PriceLevel{Price: 0.50, Size: 1000})
	d := defaultDetector(s, tr, 90) // cap 90 notional at 0.90/unit -> 100 units

	opp, ok := d.Scan(domain.Market{ID: "m"}, baseTime.Add(5*time.Second))
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if math.Abs(opp.Size-100) > 1e-9 {
		t.Errorf("size = %v, want 100 (risk-capped)", opp.Size)
	}
}

func TestScan_LiquidityMultipleShrinksSize(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.40, Size: 50}, domain.PriceLevel{Price: 0.50, Size: 100})
	d := NewDetector(s, tr, fixedCap(1e6), DetectorConfig{
		MinEdge:              0.05,
		MinStableDuration:    0,
		MinLiquidityMultiple: 5,
	}, testLogger())

	opp, ok := d.Scan(domain.Market{ID: "m"}, baseTime)
	if !ok {
		t.Fatal("expected an opportunity")
	}
	if math.Abs(opp.Size-10) > 1e-9 { // 50/5
		t.Errorf("size = %v, want 10 (depth/5)", opp.Size)
	}
}

func TestScan_FeesReduceEdge(t *testing.T) {
	s, tr := fixture(t, domain.PriceLevel{Price: 0.47, Size: 100}, domain.PriceLevel{Price: 0.47, Size: 100})
	d := defaultDetector(s, tr, 1000)

	// Without fees edge is 0.06 >= 0.05; a 700 bps fee per side kills it.
	market := domain.Market{ID: "m", FeeRateBps: 700}
	if _, ok := d.Scan(market, baseTime.Add(5*time.Second)); ok {
		t.Error("fees should have pushed the edge below the minimum")
	}
}
