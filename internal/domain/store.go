package domain

import (
	"context"
	"time"
)

// OpportunityStore persists detected opportunities for post-session analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// ExecutionStore persists arbitrage executions and their realized outcomes.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}

// EventBus publishes engine events (opportunities, executions, alerts) for
// external consumers. Implemented by the Redis-backed bus.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
