// Package executor turns confirmed opportunities into paired fill-or-kill
// orders on the exchange. Both legs are submitted concurrently under a joint
// deadline; asymmetric outcomes are unwound by the Flattener and any position
// that cannot be unwound halts the trading session.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pben56681-png/clobarb/internal/domain"
	"github.com/pben56681-png/clobarb/internal/risk"
)

// sizeEpsilon is the threshold below which a residual token quantity is
// treated as zero.
const sizeEpsilon = 1e-9

// Submitter is the interface through which the executor submits orders to the
// exchange. It is typically implemented by the platform CLOB client.
type Submitter interface {
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.LegResult, error)
}

// StatusQuerier looks up the terminal state of a previously submitted order by
// its client-assigned intent ID. It is used to reconcile legs whose submission
// timed out before the exchange responded.
type StatusQuerier interface {
	OrderStatus(ctx context.Context, intentID string) (domain.LegResult, error)
}

// RiskRecorder settles capital reservations and controls the trading session.
type RiskRecorder interface {
	Record(res risk.Reservation, pnl float64)
	Halt(reason string)
}

// Alerter delivers operator notifications for events that need human
// attention.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Coordinator executes a confirmed opportunity as two simultaneous
// fill-or-kill buys, one per outcome, and settles the result against the risk
// session.
type Coordinator struct {
	submitter Submitter
	status    StatusQuerier
	flattener *Flattener
	risk      RiskRecorder
	alerter   Alerter
	bus       domain.EventBus

	orderTimeout time.Duration
	logger       *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]pendingLeg
}

// pendingLeg remembers enough about a timed-out submission to unwind a late
// fill discovered during reconciliation.
type pendingLeg struct {
	marketID string
	tokenID  string
	outcome  domain.Outcome
}

// NewCoordinator creates a Coordinator. alerter and bus may be nil; status may
// be nil when the submitter offers no order lookup, in which case timed-out
// legs are never reconciled.
func NewCoordinator(
	submitter Submitter,
	status StatusQuerier,
	flattener *Flattener,
	riskMgr RiskRecorder,
	alerter Alerter,
	bus domain.EventBus,
	orderTimeout time.Duration,
	logger *slog.Logger,
) *Coordinator {
	if orderTimeout <= 0 {
		orderTimeout = 5 * time.Second
	}
	return &Coordinator{
		submitter:    submitter,
		status:       status,
		flattener:    flattener,
		risk:         riskMgr,
		alerter:      alerter,
		bus:          bus,
		orderTimeout: orderTimeout,
		logger:       logger.With(slog.String("component", "executor")),
		pending:      make(map[string]pendingLeg),
	}
}

// Execute places both legs of the opportunity sized to the approved
// reservation, waits for both under a joint deadline, and settles the result.
// The reservation is always consumed: Record is called exactly once with the
// realized profit or loss. The returned Execution describes what happened;
// the error is non-nil only when the session ends up with unhedged exposure.
func (c *Coordinator) Execute(ctx context.Context, market domain.Market, opp domain.Opportunity, res risk.Reservation) (domain.Execution, error) {
	size := res.Notional / (opp.YesAsk.Price + opp.NoAsk.Price)
	log := c.logger.With(
		slog.String("opportunity", opp.ID),
		slog.String("market", opp.MarketID),
	)
	log.Info("executing",
		slog.Float64("size", size),
		slog.Float64("yes_ask", opp.YesAsk.Price),
		slog.Float64("no_ask", opp.NoAsk.Price),
		slog.Float64("edge", opp.Edge),
	)

	exec := domain.Execution{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		MarketID:      opp.MarketID,
		StartedAt:     time.Now().UTC(),
	}

	legCtx, cancel := context.WithTimeout(ctx, c.orderTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		exec.YesLeg = c.submitLeg(legCtx, market, domain.OutcomeYes, opp.YesAsk.Price, size)
	}()
	go func() {
		defer wg.Done()
		exec.NoLeg = c.submitLeg(legCtx, market, domain.OutcomeNo, opp.NoAsk.Price, size)
	}()
	wg.Wait()

	return c.settle(ctx, market, opp, res, exec, log)
}

// submitLeg places one fill-or-kill buy and normalizes the outcome into a
// LegResult. Submission errors count as killed; deadline errors count as
// timed out and are registered for reconciliation.
func (c *Coordinator) submitLeg(ctx context.Context, market domain.Market, outcome domain.Outcome, price, size float64) domain.LegResult {
	intent := domain.OrderIntent{
		ID:        uuid.New().String(),
		MarketID:  market.ID,
		TokenID:   market.TokenID(outcome),
		Outcome:   outcome,
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeFOK,
		Price:     price,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}

	start := time.Now()
	res, err := c.submitter.SubmitOrder(ctx, intent)
	if err != nil {
		status := domain.LegKilled
		if errors.Is(err, context.DeadlineExceeded) {
			status = domain.LegTimeout
			c.trackTimeout(intent)
		}
		c.logger.Error("leg submission failed",
			slog.String("outcome", string(outcome)),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return domain.LegResult{
			IntentID: intent.ID,
			Outcome:  outcome,
			Status:   status,
			Latency:  time.Since(start),
		}
	}
	res.IntentID = intent.ID
	res.Outcome = outcome
	res.Latency = time.Since(start)
	return res
}

// settle applies the two-leg decision table to the collected leg results.
func (c *Coordinator) settle(ctx context.Context, market domain.Market, opp domain.Opportunity, res risk.Reservation, exec domain.Execution, log *slog.Logger) (domain.Execution, error) {
	yesFilled, noFilled := 0.0, 0.0
	if exec.YesLeg.Filled() {
		yesFilled = exec.YesLeg.FilledSize
	}
	if exec.NoLeg.Filled() {
		noFilled = exec.NoLeg.FilledSize
	}

	hedged := math.Min(yesFilled, noFilled)
	feeRate := opp.FeeRate
	pnl := 0.0
	if hedged > sizeEpsilon {
		pairCost := exec.YesLeg.AvgPrice + exec.NoLeg.AvgPrice
		pnl = hedged * (1 - pairCost - feeRate*pairCost)
	}

	excess := math.Abs(yesFilled - noFilled)
	now := time.Now().UTC()

	switch {
	case excess <= sizeEpsilon && hedged > sizeEpsilon:
		exec.Status = domain.ExecFilled
		exec.RealizedPnL = pnl
		exec.CompletedAt = now
		c.risk.Record(res, pnl)
		log.Info("both legs filled",
			slog.Float64("size", hedged),
			slog.Float64("pnl", pnl),
		)
		return exec, nil

	case excess <= sizeEpsilon:
		exec.Status = domain.ExecNoFill
		exec.CompletedAt = now
		c.risk.Record(res, 0)
		log.Info("no fill on either leg",
			slog.String("yes_status", string(exec.YesLeg.Status)),
			slog.String("no_status", string(exec.NoLeg.Status)),
		)
		return exec, nil
	}

	// One side is over-filled. Sell the excess immediately.
	outcome, avgPrice := domain.OutcomeYes, exec.YesLeg.AvgPrice
	if noFilled > yesFilled {
		outcome, avgPrice = domain.OutcomeNo, exec.NoLeg.AvgPrice
	}
	cost := excess * avgPrice * (1 + feeRate)

	proceeds, err := c.flattener.Flatten(ctx, market.ID, market.TokenID(outcome), outcome, excess)
	exec.FlattenProceeds = proceeds
	pnl += proceeds - cost
	exec.RealizedPnL = pnl
	exec.CompletedAt = time.Now().UTC()

	if err != nil {
		exec.Status = domain.ExecUnhedged
		c.risk.Record(res, pnl)
		c.risk.Halt(fmt.Sprintf("unhedged %s exposure in %s", outcome, market.ID))
		c.raiseUnhedgedAlert(ctx, market, outcome, excess-proceedsToSize(proceeds, avgPrice))
		log.Error("execution left unhedged exposure",
			slog.String("outcome", string(outcome)),
			slog.Float64("pnl", pnl),
		)
		return exec, fmt.Errorf("executor: execution %s: %w", exec.ID, err)
	}

	exec.Status = domain.ExecFlattened
	c.risk.Record(res, pnl)
	log.Warn("asymmetric fill flattened",
		slog.String("outcome", string(outcome)),
		slog.Float64("excess", excess),
		slog.Float64("proceeds", proceeds),
		slog.Float64("pnl", pnl),
	)
	return exec, nil
}

// proceedsToSize estimates how many tokens the flatten proceeds account for,
// used only to report the residual stranded quantity.
func proceedsToSize(proceeds, avgPrice float64) float64 {
	if avgPrice <= 0 {
		return 0
	}
	return proceeds / avgPrice
}

// raiseUnhedgedAlert notifies operators and publishes an operational event
// when a position could not be unwound.
func (c *Coordinator) raiseUnhedgedAlert(ctx context.Context, market domain.Market, outcome domain.Outcome, stranded float64) {
	msg := fmt.Sprintf("market %s: %.2f %s tokens could not be sold; trading halted", market.ID, stranded, outcome)
	if c.alerter != nil {
		if err := c.alerter.Notify(ctx, "unhedged_exposure", "Unhedged exposure", msg); err != nil {
			c.logger.Warn("unhedged alert delivery failed", slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		payload := fmt.Sprintf(`{"event":"unhedged_exposure","market":%q,"outcome":%q,"stranded":%.4f}`, market.ID, outcome, stranded)
		if err := c.bus.Publish(ctx, "clobarb:alerts", []byte(payload)); err != nil {
			c.logger.Warn("unhedged event publish failed", slog.String("error", err.Error()))
		}
	}
}

// trackTimeout registers a timed-out submission for later reconciliation.
func (c *Coordinator) trackTimeout(intent domain.OrderIntent) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[intent.ID] = pendingLeg{
		marketID: intent.MarketID,
		tokenID:  intent.TokenID,
		outcome:  intent.Outcome,
	}
}

// PendingTimeouts returns the number of timed-out submissions awaiting
// reconciliation.
func (c *Coordinator) PendingTimeouts() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// ReconcileTimeouts queries the exchange for every timed-out submission. A leg
// that turns out to have filled is sold through the Flattener; legs confirmed
// dead are forgotten. Lookup failures leave the entry in place for the next
// pass. Trading is halted if a late fill cannot be flattened.
func (c *Coordinator) ReconcileTimeouts(ctx context.Context) {
	if c.status == nil {
		return
	}
	c.pendingMu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pendingMu.Unlock()

	for _, id := range ids {
		res, err := c.status.OrderStatus(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.forget(id)
			}
			continue
		}

		c.pendingMu.Lock()
		leg, ok := c.pending[id]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}

		if res.Filled() {
			c.logger.Warn("timed-out order filled after deadline",
				slog.String("intent", id),
				slog.Float64("size", res.FilledSize),
			)
			if _, err := c.flattener.Flatten(ctx, leg.marketID, leg.tokenID, leg.outcome, res.FilledSize); err != nil {
				c.risk.Halt(fmt.Sprintf("unhedged %s exposure in %s after timeout", leg.outcome, leg.marketID))
				c.raiseUnhedgedAlert(ctx, domain.Market{ID: leg.marketID}, leg.outcome, res.FilledSize)
			}
		}
		c.forget(id)
	}
}

func (c *Coordinator) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}
