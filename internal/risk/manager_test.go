package risk

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOpp(notional float64) domain.Opportunity {
	// Price both asks at 0.45 and derive size so YesAsk+NoAsk sum to 0.90.
	size := notional / 0.90
	return domain.Opportunity{
		ID:       "opp-1",
		MarketID: "mkt-1",
		YesAsk:   domain.PriceLevel{Price: 0.45, Size: size},
		NoAsk:    domain.PriceLevel{Price: 0.45, Size: size},
		Edge:     0.10,
		Size:     size,
	}
}

func newTestManager(t *testing.T, cfg Config, now *time.Time) *Manager {
	t.Helper()
	return NewManager(cfg, testLogger(), WithClock(func() time.Time { return *now }))
}

func TestAuthorize_WithinCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.05}, &now)

	res, err := m.Authorize(testOpp(40))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Notional != 40 {
		t.Errorf("approved notional = %v, want 40", res.Notional)
	}
}

func TestAuthorize_ShrinksToCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.01}, &now)

	res, err := m.Authorize(testOpp(200))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Notional != 10 { // 1% of 1000
		t.Errorf("approved notional = %v, want cap of 10", res.Notional)
	}
}

func TestAuthorize_ReservationsPreventDoubleSpend(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Cap per trade is the whole bankroll; only reservations limit us.
	m := newTestManager(t, Config{StartingCapital: 100, MaxDailyLossPct: 0.5, MaxTradeCapitalPct: 1.0}, &now)

	res1, err := m.Authorize(testOpp(80))
	if err != nil {
		t.Fatalf("first Authorize: %v", err)
	}

	// Second opportunity may only use the unreserved remainder.
	res2, err := m.Authorize(testOpp(80))
	if err != nil {
		t.Fatalf("second Authorize: %v", err)
	}
	if res2.Notional != 20 {
		t.Errorf("second approved notional = %v, want 20", res2.Notional)
	}

	// A third gets nothing.
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrCapitalCapExceeded) {
		t.Errorf("third Authorize = %v, want ErrCapitalCapExceeded", err)
	}

	// Releasing frees the capital again.
	m.Release(res1)
	m.Release(res2)
	if _, err := m.Authorize(testOpp(80)); err != nil {
		t.Errorf("Authorize after release: %v", err)
	}
}

func TestRecord_TripsBreaker(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.10}, &now)

	res, err := m.Authorize(testOpp(50))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	m.Record(res, -25) // loss beyond 2% of 1000

	if !m.State().BreakerTripped {
		t.Fatal("breaker should be tripped after 25 loss on 20 limit")
	}
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrCircuitBreakerTripped) {
		t.Errorf("Authorize after trip = %v, want ErrCircuitBreakerTripped", err)
	}
}

func TestBreaker_ResetsAtDayBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.10}, &now)

	res, _ := m.Authorize(testOpp(50))
	m.Record(res, -30)
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrCircuitBreakerTripped) {
		t.Fatalf("expected tripped breaker, got %v", err)
	}

	now = now.Add(2 * time.Hour) // crosses UTC midnight

	if _, err := m.Authorize(testOpp(10)); err != nil {
		t.Errorf("Authorize after day rollover: %v", err)
	}
	st := m.State()
	if st.DailyPnL != 0 || st.BreakerTripped {
		t.Errorf("counters not reset at day boundary: %+v", st)
	}
}

func TestHalt_BlocksAuthorizeUntilResume(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.10}, &now)

	m.Halt("unhedged exposure on mkt-1")
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrTradingHalted) {
		t.Fatalf("Authorize while halted = %v, want ErrTradingHalted", err)
	}

	// A day boundary does NOT lift a halt; only an operator does.
	now = now.Add(24 * time.Hour)
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrTradingHalted) {
		t.Fatalf("halt must survive day rollover, got %v", err)
	}

	m.Resume()
	if _, err := m.Authorize(testOpp(10)); err != nil {
		t.Errorf("Authorize after Resume: %v", err)
	}
}

func TestWithRealizedPnL_SeedsSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := Config{StartingCapital: 1000, MaxDailyLossPct: 0.02, MaxTradeCapitalPct: 0.10}

	// A seeded loss under the limit leaves the breaker armed but not tripped.
	m := NewManager(cfg, testLogger(), WithClock(func() time.Time { return now }), WithRealizedPnL(-10))
	if m.State().BreakerTripped {
		t.Error("breaker tripped on a loss under the limit")
	}
	if m.State().DailyPnL != -10 {
		t.Errorf("daily pnl = %v, want -10", m.State().DailyPnL)
	}

	// A seeded loss past the limit trips it immediately.
	m = NewManager(cfg, testLogger(), WithClock(func() time.Time { return now }), WithRealizedPnL(-30))
	if !m.State().BreakerTripped {
		t.Fatal("breaker should trip on a seeded 30 loss against a 20 limit")
	}
	if _, err := m.Authorize(testOpp(10)); !errors.Is(err, domain.ErrCircuitBreakerTripped) {
		t.Errorf("Authorize = %v, want ErrCircuitBreakerTripped", err)
	}
}

func TestRecord_ReleasesReservation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{StartingCapital: 100, MaxDailyLossPct: 0.5, MaxTradeCapitalPct: 1.0}, &now)

	res, _ := m.Authorize(testOpp(90))
	m.Record(res, 0) // both-killed no-op: zero PnL, capital released

	st := m.State()
	if st.Reserved != 0 {
		t.Errorf("reserved = %v after record, want 0", st.Reserved)
	}
	if st.DailyPnL != 0 {
		t.Errorf("daily pnl = %v after no-op record, want 0", st.DailyPnL)
	}
	if _, err := m.Authorize(testOpp(90)); err != nil {
		t.Errorf("Authorize after no-op record: %v", err)
	}
}
