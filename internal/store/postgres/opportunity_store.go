package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records a detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, market_id, yes_ask, yes_ask_size, no_ask, no_ask_size, edge, size, fee_rate, yes_seq, no_seq, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		opp.ID, opp.MarketID,
		opp.YesAsk.Price, opp.YesAsk.Size, opp.NoAsk.Price, opp.NoAsk.Size,
		opp.Edge, opp.Size, opp.FeeRate,
		int64(opp.YesSeq), int64(opp.NoSeq), opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted flags an opportunity as having reached execution.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET executed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: opportunity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, yes_ask, yes_ask_size, no_ask, no_ask_size, edge, size, fee_rate, yes_seq, no_seq, detected_at
		FROM opportunities
		ORDER BY detected_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var yesSeq, noSeq int64
		if err := rows.Scan(&opp.ID, &opp.MarketID,
			&opp.YesAsk.Price, &opp.YesAsk.Size, &opp.NoAsk.Price, &opp.NoAsk.Size,
			&opp.Edge, &opp.Size, &opp.FeeRate,
			&yesSeq, &noSeq, &opp.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.YesSeq = uint64(yesSeq)
		opp.NoSeq = uint64(noSeq)
		out = append(out, opp)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
