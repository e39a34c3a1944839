// Package arbitrage detects complementary-price opportunities on binary
// markets and re-validates them immediately before submission.
package arbitrage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/domain"
)

// CapitalCapper exposes the risk manager's per-trade capital cap. The
// detector queries it for sizing; authorization (and reservation) happens
// separately in the pipeline.
type CapitalCapper interface {
	PerTradeCap() float64
}

// DetectorConfig holds the detection thresholds.
type DetectorConfig struct {
	// MinEdge is the minimum per-unit edge (1 - askYes - askNo - fees)
	// required to emit an opportunity, e.g. 0.05.
	MinEdge float64
	// MinStableDuration is how long both top-of-book asks must have sat
	// within tolerance before the market is eligible.
	MinStableDuration time.Duration
	// MinLiquidityMultiple requires depth at both best asks of at least this
	// multiple of the candidate size, so a fill-or-kill leg does not need the
	// entire level to survive until arrival.
	MinLiquidityMultiple float64
}

// Detector computes the complementary-price edge and candidate size from the
// current book state.
type Detector struct {
	books     *book.Store
	stability *book.StabilityTracker
	capper    CapitalCapper
	cfg       DetectorConfig
	logger    *slog.Logger
}

// NewDetector creates a Detector reading from the given book store and
// stability tracker.
func NewDetector(books *book.Store, stability *book.StabilityTracker, capper CapitalCapper, cfg DetectorConfig, logger *slog.Logger) *Detector {
	if cfg.MinLiquidityMultiple < 1 {
		cfg.MinLiquidityMultiple = 1
	}
	return &Detector{
		books:     books,
		stability: stability,
		capper:    capper,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "arb_detector")),
	}
}

// Scan reads both outcome books of a market in a single consistent view and
// returns an opportunity when the net edge clears the minimum, the market has
// been quiescent long enough, and both levels carry enough depth. A market
// with a stale book or an empty ask side never produces an opportunity.
func (d *Detector) Scan(market domain.Market, now time.Time) (domain.Opportunity, bool) {
	yesAsk, noAsk, yesSeq, noSeq, err := d.books.TopOfBook(market.ID)
	if err != nil {
		// Stale or empty books are business as usual, not errors worth noise.
		if !errors.Is(err, domain.ErrStaleBook) && !errors.Is(err, domain.ErrNoLiquidity) && !errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("top of book read failed", slog.String("market_id", market.ID), slog.String("error", err.Error()))
		}
		return domain.Opportunity{}, false
	}

	edge := Edge(yesAsk.Price, noAsk.Price, market.FeeRate())
	if edge < d.cfg.MinEdge {
		return domain.Opportunity{}, false
	}

	if stable := d.stability.StableDuration(market.ID, now); stable < d.cfg.MinStableDuration {
		d.logger.Debug("edge present but market not yet stable",
			slog.String("market_id", market.ID),
			slog.Float64("edge", edge),
			slog.Duration("stable", stable),
		)
		return domain.Opportunity{}, false
	}

	size := d.executableSize(yesAsk, noAsk)
	if size <= 0 {
		return domain.Opportunity{}, false
	}

	opp := domain.Opportunity{
		ID:         uuid.New().String(),
		MarketID:   market.ID,
		YesAsk:     yesAsk,
		NoAsk:      noAsk,
		Edge:       edge,
		Size:       size,
		FeeRate:    market.FeeRate(),
		YesSeq:     yesSeq,
		NoSeq:      noSeq,
		DetectedAt: now,
	}

	d.logger.Info("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("market_id", market.ID),
		slog.Float64("ask_yes", yesAsk.Price),
		slog.Float64("ask_no", noAsk.Price),
		slog.Float64("edge", edge),
		slog.Float64("size", size),
	)
	return opp, true
}

// executableSize returns min(depth-limited size at both asks, risk-capped
// size). The liquidity multiple divides the visible depth so the order only
// ever takes a fraction of the standing level.
func (d *Detector) executableSize(yesAsk, noAsk domain.PriceLevel) float64 {
	size := yesAsk.Size / d.cfg.MinLiquidityMultiple
	if s := noAsk.Size / d.cfg.MinLiquidityMultiple; s < size {
		size = s
	}

	unitCost := yesAsk.Price + noAsk.Price
	if unitCost > 0 {
		if s := d.capper.PerTradeCap() / unitCost; s < size {
			size = s
		}
	}
	return size
}

// Edge is the riskless per-unit profit of buying both outcomes at the given
// ask prices: 1 - askYes - askNo - feeRate*askYes - feeRate*askNo.
func Edge(askYes, askNo, feeRate float64) float64 {
	return 1 - askYes - askNo - feeRate*askYes - feeRate*askNo
}

var _ fmt.Stringer = DetectorConfig{}

func (c DetectorConfig) String() string {
	return fmt.Sprintf("DetectorConfig(min_edge=%.4f stable=%s liq_mult=%.1f)",
		c.MinEdge, c.MinStableDuration, c.MinLiquidityMultiple)
}
