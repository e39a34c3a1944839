package book

import (
	"sync"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// StabilityTracker tracks how long each market's top-of-book ask prices have
// stayed within a tight band. A book whose top level just moved is more
// likely reflecting a quote still in flight than a genuine standing
// arbitrage, so only markets quiescent for a configured minimum duration are
// eligible for detection.
type StabilityTracker struct {
	mu        sync.Mutex
	tolerance float64
	refs      map[string]map[domain.Outcome]*stabilityRef
}

type stabilityRef struct {
	price       float64
	lastChanged time.Time
}

// NewStabilityTracker creates a tracker. tolerance is the maximum top-of-book
// price move (absolute) that does not reset the stability clock; use the
// market tick size or a fraction of it.
func NewStabilityTracker(tolerance float64) *StabilityTracker {
	return &StabilityTracker{
		tolerance: tolerance,
		refs:      make(map[string]map[domain.Outcome]*stabilityRef),
	}
}

// Observe records the current top-of-book ask price for (market, outcome).
// If the price moved more than the tolerance from the tracked reference, the
// reference price and timestamp reset to now; otherwise they are left
// untouched so the elapsed-stable time keeps growing.
func (t *StabilityTracker) Observe(marketID string, outcome domain.Outcome, topAskPrice float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.refs[marketID]
	if !ok {
		m = make(map[domain.Outcome]*stabilityRef, 2)
		t.refs[marketID] = m
	}
	ref, ok := m[outcome]
	if !ok {
		m[outcome] = &stabilityRef{price: topAskPrice, lastChanged: now}
		return
	}

	if diff := topAskPrice - ref.price; diff > t.tolerance || diff < -t.tolerance {
		ref.price = topAskPrice
		ref.lastChanged = now
	}
}

// StableDuration returns how long both outcomes' top-of-book prices have been
// within tolerance: now minus the most recent change on either side. A market
// with an outcome never observed has zero stable duration.
func (t *StabilityTracker) StableDuration(marketID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.refs[marketID]
	if !ok {
		return 0
	}

	var latest time.Time
	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		ref, ok := m[outcome]
		if !ok {
			return 0
		}
		if ref.lastChanged.After(latest) {
			latest = ref.lastChanged
		}
	}
	d := now.Sub(latest)
	if d < 0 {
		return 0
	}
	return d
}

// Reset clears the stability state for a market, restarting its clock. Called
// after an execution so the market must re-prove quiescence before the next
// attempt.
func (t *StabilityTracker) Reset(marketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.refs, marketID)
}
