package domain

import "time"

// ExecutionStatus is the terminal state of one two-leg arbitrage attempt.
type ExecutionStatus string

const (
	// ExecFilled: both legs filled; realized profit recorded.
	ExecFilled ExecutionStatus = "filled"
	// ExecFlattened: exactly one leg filled and was closed by the emergency
	// flattener; realized loss recorded.
	ExecFlattened ExecutionStatus = "flattened"
	// ExecNoFill: both legs killed or timed out; no position, no PnL.
	ExecNoFill ExecutionStatus = "no_fill"
	// ExecUnhedged: one leg filled and flattening could not be confirmed.
	ExecUnhedged ExecutionStatus = "unhedged"
)

// Execution records one arbitrage attempt and its realized outcome.
type Execution struct {
	ID              string          `json:"id"`
	OpportunityID   string          `json:"opportunity_id"`
	MarketID        string          `json:"market_id"`
	YesLeg          LegResult       `json:"yes_leg"`
	NoLeg           LegResult       `json:"no_leg"`
	Status          ExecutionStatus `json:"status"`
	RealizedPnL     float64         `json:"realized_pnl"`
	FlattenProceeds float64         `json:"flatten_proceeds"` // sale proceeds of the corrective order, if any
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
}
