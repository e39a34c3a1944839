package book

import (
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

func TestStabilityTracker_GrowsWhileQuiet(t *testing.T) {
	tr := NewStabilityTracker(0.005)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("m", domain.OutcomeYes, 0.46, base)
	tr.Observe("m", domain.OutcomeNo, 0.51, base)

	// Small moves inside the tolerance must not reset the clock.
	tr.Observe("m", domain.OutcomeYes, 0.462, base.Add(1*time.Second))
	tr.Observe("m", domain.OutcomeNo, 0.508, base.Add(2*time.Second))

	got := tr.StableDuration("m", base.Add(5*time.Second))
	if got != 5*time.Second {
		t.Errorf("StableDuration = %v, want 5s", got)
	}
}

func TestStabilityTracker_MoveBeyondToleranceResets(t *testing.T) {
	tr := NewStabilityTracker(0.005)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("m", domain.OutcomeYes, 0.46, base)
	tr.Observe("m", domain.OutcomeNo, 0.51, base)

	// The Yes top moves a full cent at t+3s: clock restarts there.
	tr.Observe("m", domain.OutcomeYes, 0.47, base.Add(3*time.Second))

	got := tr.StableDuration("m", base.Add(5*time.Second))
	if got != 2*time.Second {
		t.Errorf("StableDuration = %v, want 2s", got)
	}
}

func TestStabilityTracker_DurationIsMinOverOutcomes(t *testing.T) {
	tr := NewStabilityTracker(0.001)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("m", domain.OutcomeYes, 0.40, base)
	tr.Observe("m", domain.OutcomeNo, 0.55, base.Add(4*time.Second))

	// Yes stable for 10s, No for 6s: market stability is the younger one.
	got := tr.StableDuration("m", base.Add(10*time.Second))
	if got != 6*time.Second {
		t.Errorf("StableDuration = %v, want 6s", got)
	}
}

func TestStabilityTracker_UnseenMarketOrOutcome(t *testing.T) {
	tr := NewStabilityTracker(0.001)
	now := time.Now()

	if d := tr.StableDuration("unknown", now); d != 0 {
		t.Errorf("StableDuration(unknown) = %v, want 0", d)
	}

	// Only one outcome observed: not yet stable.
	tr.Observe("m", domain.OutcomeYes, 0.40, now.Add(-time.Minute))
	if d := tr.StableDuration("m", now); d != 0 {
		t.Errorf("StableDuration with one outcome = %v, want 0", d)
	}
}

func TestStabilityTracker_Reset(t *testing.T) {
	tr := NewStabilityTracker(0.001)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("m", domain.OutcomeYes, 0.40, base)
	tr.Observe("m", domain.OutcomeNo, 0.55, base)
	tr.Reset("m")

	if d := tr.StableDuration("m", base.Add(time.Minute)); d != 0 {
		t.Errorf("StableDuration after Reset = %v, want 0", d)
	}
}
