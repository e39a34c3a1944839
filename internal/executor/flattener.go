package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// Flattener unwinds a one-sided position left behind by an asymmetric fill.
// It sells the stranded tokens with aggressive marketable limit orders priced
// at the minimum tick, so any resting bid at any price can take them.
type Flattener struct {
	submitter   Submitter
	tick        float64
	maxAttempts int
	logger      *slog.Logger
}

// NewFlattener creates a Flattener that submits sell orders through submitter.
// tick is the exchange's minimum price increment; orders are priced there so
// they cross the whole bid side. maxAttempts bounds retries before the
// position is declared unhedged.
func NewFlattener(submitter Submitter, tick float64, maxAttempts int, logger *slog.Logger) *Flattener {
	if tick <= 0 {
		tick = 0.01
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Flattener{
		submitter:   submitter,
		tick:        tick,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "flattener")),
	}
}

// Flatten sells size tokens of the given outcome. It returns the proceeds
// collected from whatever filled. If any quantity remains after all attempts
// the error wraps domain.ErrUnhedgedExposure and the caller must halt trading.
func (f *Flattener) Flatten(ctx context.Context, marketID, tokenID string, outcome domain.Outcome, size float64) (float64, error) {
	log := f.logger.With(
		slog.String("market", marketID),
		slog.String("outcome", string(outcome)),
	)
	log.Warn("flattening one-sided position", slog.Float64("size", size))

	remaining := size
	proceeds := 0.0

	for attempt := 1; attempt <= f.maxAttempts && remaining > sizeEpsilon; attempt++ {
		intent := domain.OrderIntent{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			TokenID:   tokenID,
			Outcome:   outcome,
			Side:      domain.OrderSideSell,
			Type:      domain.OrderTypeFAK,
			Price:     f.tick,
			Size:      remaining,
			CreatedAt: time.Now().UTC(),
		}

		res, err := f.submitter.SubmitOrder(ctx, intent)
		if err != nil {
			log.Error("flatten order failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if res.Filled() {
			remaining -= res.FilledSize
			proceeds += res.FilledSize * res.AvgPrice
			log.Info("flatten fill",
				slog.Int("attempt", attempt),
				slog.Float64("filled", res.FilledSize),
				slog.Float64("avg_price", res.AvgPrice),
				slog.Float64("remaining", remaining),
			)
		} else {
			log.Warn("flatten order did not fill",
				slog.Int("attempt", attempt),
				slog.String("status", string(res.Status)),
			)
		}
	}

	if remaining > sizeEpsilon {
		log.Error("position could not be flattened",
			slog.Float64("stranded", remaining),
		)
		return proceeds, fmt.Errorf("executor: %.4f %s tokens stranded in %s: %w",
			remaining, outcome, marketID, domain.ErrUnhedgedExposure)
	}
	return proceeds, nil
}
