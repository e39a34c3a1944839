package arbitrage

import (
	"fmt"
	"log/slog"

	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/domain"
)

// PreFlightValidator re-reads the book immediately before submission and
// rejects opportunities the market has already moved away from. Even a
// microsecond-scale gap between detection and submission is long enough for
// the book to change.
type PreFlightValidator struct {
	books   *book.Store
	minEdge float64
	logger  *slog.Logger
}

// NewPreFlightValidator creates a validator using the same minimum edge as
// the detector.
func NewPreFlightValidator(books *book.Store, minEdge float64, logger *slog.Logger) *PreFlightValidator {
	return &PreFlightValidator{
		books:   books,
		minEdge: minEdge,
		logger:  logger.With(slog.String("component", "preflight")),
	}
}

// Confirm fails with domain.ErrStaleOpportunity when either book's current
// sequence number differs from the one the opportunity was derived from, or
// when the recomputed edge has fallen below the minimum. Books sharing the
// opportunity's sequence numbers are by construction the same snapshots the
// detector read, so an unchanged pair of sequence numbers guarantees an
// unchanged pair of books.
func (v *PreFlightValidator) Confirm(opp domain.Opportunity) error {
	yesAsk, noAsk, yesSeq, noSeq, err := v.books.TopOfBook(opp.MarketID)
	if err != nil {
		return fmt.Errorf("preflight: %s: %w", opp.MarketID, domain.ErrStaleOpportunity)
	}

	if yesSeq != opp.YesSeq || noSeq != opp.NoSeq {
		v.logger.Debug("opportunity stale: book advanced",
			slog.String("opp_id", opp.ID),
			slog.Uint64("yes_seq", yesSeq), slog.Uint64("opp_yes_seq", opp.YesSeq),
			slog.Uint64("no_seq", noSeq), slog.Uint64("opp_no_seq", opp.NoSeq),
		)
		return fmt.Errorf("preflight: %s: seq moved: %w", opp.MarketID, domain.ErrStaleOpportunity)
	}

	if edge := Edge(yesAsk.Price, noAsk.Price, opp.FeeRate); edge < v.minEdge {
		v.logger.Debug("opportunity stale: edge decayed",
			slog.String("opp_id", opp.ID),
			slog.Float64("edge", edge),
		)
		return fmt.Errorf("preflight: %s: edge below minimum: %w", opp.MarketID, domain.ErrStaleOpportunity)
	}

	return nil
}
