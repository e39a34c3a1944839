package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `
	id, opportunity_id, market_id, status, realized_pnl, flatten_proceeds,
	yes_order_id, yes_status, yes_filled, yes_avg_price, yes_latency_ms,
	no_order_id, no_status, no_filled, no_avg_price, no_latency_ms,
	started_at, completed_at`

// Create inserts an execution with both leg outcomes.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		exec.ID, exec.OpportunityID, exec.MarketID, string(exec.Status),
		exec.RealizedPnL, exec.FlattenProceeds,
		exec.YesLeg.OrderID, string(exec.YesLeg.Status), exec.YesLeg.FilledSize,
		exec.YesLeg.AvgPrice, exec.YesLeg.Latency.Milliseconds(),
		exec.NoLeg.OrderID, string(exec.NoLeg.Status), exec.NoLeg.FilledSize,
		exec.NoLeg.AvgPrice, exec.NoLeg.Latency.Milliseconds(),
		exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns the most recently completed executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// SumPnL returns the total realized profit and loss for executions completed
// at or after the given time. Used to rebuild the risk session after a
// restart.
func (s *ExecutionStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM executions WHERE completed_at >= $1`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return total, nil
}

// scanExecution reads one execution row.
func scanExecution(row pgx.Row) (domain.Execution, error) {
	var exec domain.Execution
	var status, yesStatus, noStatus string
	var yesLatencyMs, noLatencyMs int64

	err := row.Scan(
		&exec.ID, &exec.OpportunityID, &exec.MarketID, &status,
		&exec.RealizedPnL, &exec.FlattenProceeds,
		&exec.YesLeg.OrderID, &yesStatus, &exec.YesLeg.FilledSize,
		&exec.YesLeg.AvgPrice, &yesLatencyMs,
		&exec.NoLeg.OrderID, &noStatus, &exec.NoLeg.FilledSize,
		&exec.NoLeg.AvgPrice, &noLatencyMs,
		&exec.StartedAt, &exec.CompletedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}

	exec.Status = domain.ExecutionStatus(status)
	exec.YesLeg.Status = domain.LegStatus(yesStatus)
	exec.YesLeg.Outcome = domain.OutcomeYes
	exec.YesLeg.Latency = time.Duration(yesLatencyMs) * time.Millisecond
	exec.NoLeg.Status = domain.LegStatus(noStatus)
	exec.NoLeg.Outcome = domain.OutcomeNo
	exec.NoLeg.Latency = time.Duration(noLatencyMs) * time.Millisecond
	return exec, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
