package notify

import (
	"fmt"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// Event types the engine emits. Operators list the ones they want forwarded
// in the notify config; an empty list forwards everything.
const (
	EventArbFilled        = "arb_filled"
	EventArbFlattened     = "arb_flattened"
	EventUnhedgedExposure = "unhedged_exposure"
	EventBreakerTripped   = "breaker_tripped"
	EventEngineStarted    = "engine_started"
	EventEngineStopped    = "engine_stopped"
)

// ExecutionEvent maps an execution outcome to its notification event type.
func ExecutionEvent(status domain.ExecutionStatus) string {
	switch status {
	case domain.ExecFlattened:
		return EventArbFlattened
	case domain.ExecUnhedged:
		return EventUnhedgedExposure
	default:
		return EventArbFilled
	}
}

// FormatExecution renders a one-line operator summary of an execution.
func FormatExecution(exec domain.Execution) string {
	return fmt.Sprintf("market %s: %s, yes %.0f @ %.3f, no %.0f @ %.3f, pnl %.2f",
		exec.MarketID, exec.Status,
		exec.YesLeg.FilledSize, exec.YesLeg.AvgPrice,
		exec.NoLeg.FilledSize, exec.NoLeg.AvgPrice,
		exec.RealizedPnL,
	)
}
