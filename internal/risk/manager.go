// Package risk provides session-scoped capital and loss accounting. The
// Manager is the only component permitted to mutate the session risk state;
// every authorize/record/release call is serialized under one mutex so
// concurrent opportunities can never jointly over-allocate capital or race on
// the daily-loss counters.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// Config holds the tunable risk parameters.
type Config struct {
	StartingCapital    float64
	MaxDailyLossPct    float64 // fraction of starting capital, e.g. 0.02
	MaxTradeCapitalPct float64 // fraction of starting capital per trade, e.g. 0.01
}

// SessionState is a read-only copy of the day-scoped risk counters.
type SessionState struct {
	Day             time.Time // UTC midnight of the accounting day
	StartingCapital float64
	DailyPnL        float64
	Reserved        float64
	Trades          int
	TotalNotional   float64
	BreakerTripped  bool
	Halted          bool
	HaltReason      string
}

// Reservation is capital set aside for one authorized trade. It must be
// settled exactly once, via Record or Release.
type Reservation struct {
	ID       string
	Notional float64
}

// Manager authorizes trades against the per-trade capital cap and the daily
// loss circuit breaker, and records realized outcomes.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	day          time.Time
	dailyPnL     float64
	trades       int
	notional     float64
	tripped      bool
	halted       bool
	haltReason   string
	reservations map[string]float64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests and day-boundary control.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRealizedPnL seeds today's realized PnL, used to rebuild the session
// from the trade journal after a restart. A seeded loss past the limit trips
// the breaker immediately.
func WithRealizedPnL(pnl float64) Option {
	return func(m *Manager) {
		m.dailyPnL = pnl
		if limit := m.cfg.MaxDailyLossPct * m.cfg.StartingCapital; pnl < -limit {
			m.tripped = true
		}
	}
}

// NewManager creates a Manager with all counters at their day-start values.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "risk_manager")),
		now:          time.Now,
		reservations: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.day = dayOf(m.now())
	return m
}

// PerTradeCap returns the maximum notional one trade may consume. The
// detector queries this (without reserving) to bound candidate sizes.
func (m *Manager) PerTradeCap() float64 {
	return m.cfg.MaxTradeCapitalPct * m.cfg.StartingCapital
}

// Authorize checks an opportunity against the circuit breaker and the capital
// cap, and reserves the approved notional pending execution. The approved
// notional may be smaller than the opportunity's, in which case the caller
// must shrink its size proportionally.
//
// Fails with domain.ErrTradingHalted after an unhedged-exposure halt, with
// domain.ErrCircuitBreakerTripped once today's realized loss exceeds the
// configured limit, and with domain.ErrCapitalCapExceeded when no usable
// notional fits the cap and the remaining unreserved capital.
func (m *Manager) Authorize(opp domain.Opportunity) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if m.halted {
		return Reservation{}, fmt.Errorf("risk: %s: %w", m.haltReason, domain.ErrTradingHalted)
	}
	if m.tripped {
		return Reservation{}, fmt.Errorf("risk: daily pnl %.2f: %w", m.dailyPnL, domain.ErrCircuitBreakerTripped)
	}

	cap := m.PerTradeCap()
	available := m.cfg.StartingCapital + m.dailyPnL - m.reservedLocked()
	approved := opp.Notional()
	if approved > cap {
		approved = cap
	}
	if approved > available {
		approved = available
	}
	if approved <= 0 {
		return Reservation{}, fmt.Errorf("risk: notional %.2f, cap %.2f, available %.2f: %w",
			opp.Notional(), cap, available, domain.ErrCapitalCapExceeded)
	}

	res := Reservation{ID: uuid.New().String(), Notional: approved}
	m.reservations[res.ID] = approved

	m.logger.Debug("trade authorized",
		slog.String("reservation_id", res.ID),
		slog.String("market_id", opp.MarketID),
		slog.Float64("requested", opp.Notional()),
		slog.Float64("approved", approved),
	)
	return res, nil
}

// Record settles a reservation: releases the capital and applies the realized
// PnL to the daily total. If the loss crosses the breaker threshold every
// subsequent Authorize fails until the day rolls over.
func (m *Manager) Record(res Reservation, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	if _, ok := m.reservations[res.ID]; !ok {
		m.logger.Warn("record for unknown reservation", slog.String("reservation_id", res.ID))
	}
	delete(m.reservations, res.ID)

	m.dailyPnL += pnl
	m.trades++
	m.notional += res.Notional

	m.logger.Info("pnl recorded",
		slog.String("reservation_id", res.ID),
		slog.Float64("pnl", pnl),
		slog.Float64("daily_pnl", m.dailyPnL),
	)

	limit := m.cfg.MaxDailyLossPct * m.cfg.StartingCapital
	if !m.tripped && m.dailyPnL < -limit {
		m.tripped = true
		m.logger.Error("daily loss limit hit, circuit breaker tripped",
			slog.Float64("daily_pnl", m.dailyPnL),
			slog.Float64("limit", limit),
		)
	}
}

// Release frees a reservation without any PnL effect, for opportunities
// abandoned before submission (e.g. a failed pre-flight check).
func (m *Manager) Release(res Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, res.ID)
}

// Halt stops all new trading until an operator intervenes. Used when an
// unhedged position could not be flattened.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	m.haltReason = reason
	m.logger.Error("trading halted", slog.String("reason", reason))
}

// Resume lifts a halt after an operator confirms the exposure is closed.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.logger.Warn("trading resumed by operator")
}

// State returns a copy of the current session counters.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return SessionState{
		Day:             m.day,
		StartingCapital: m.cfg.StartingCapital,
		DailyPnL:        m.dailyPnL,
		Reserved:        m.reservedLocked(),
		Trades:          m.trades,
		TotalNotional:   m.notional,
		BreakerTripped:  m.tripped,
		Halted:          m.halted,
		HaltReason:      m.haltReason,
	}
}

// rollover resets the day-scoped counters when the UTC day has changed.
// Reservations survive: they belong to in-flight executions, not to a day.
// Caller must hold the lock.
func (m *Manager) rollover() {
	today := dayOf(m.now())
	if today.Equal(m.day) {
		return
	}
	m.logger.Info("day boundary reset",
		slog.Time("previous_day", m.day),
		slog.Float64("final_daily_pnl", m.dailyPnL),
		slog.Int("trades", m.trades),
	)
	m.day = today
	m.dailyPnL = 0
	m.trades = 0
	m.notional = 0
	m.tripped = false
}

// reservedLocked sums outstanding reservations. Caller must hold the lock.
func (m *Manager) reservedLocked() float64 {
	var sum float64
	for _, n := range m.reservations {
		sum += n
	}
	return sum
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
