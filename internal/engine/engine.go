// Package engine runs the trading loop: it routes sequenced book events to
// per-market workers, each of which maintains book state, scans for price
// complementarity, and pushes confirmed opportunities through risk
// authorization, pre-flight re-validation, and execution.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pben56681-png/clobarb/internal/arbitrage"
	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/domain"
	"github.com/pben56681-png/clobarb/internal/notify"
	"github.com/pben56681-png/clobarb/internal/risk"
)

// MarketFeed is the sequenced market-data source. Implemented by feed.Feed.
type MarketFeed interface {
	Events() <-chan domain.BookEvent
	Watch(ctx context.Context, market domain.Market) error
	Unwatch(ctx context.Context, market domain.Market) error
	Resync(ctx context.Context, market domain.Market) error
}

// Discovery lists tradable markets. Implemented by polymarket.GammaClient.
type Discovery interface {
	ListTradableMarkets(ctx context.Context, tag string, limit, offset int) ([]domain.Market, error)
}

// Executor turns a confirmed opportunity into exchange orders. Implemented by
// executor.Coordinator.
type Executor interface {
	Execute(ctx context.Context, market domain.Market, opp domain.Opportunity, res risk.Reservation) (domain.Execution, error)
	ReconcileTimeouts(ctx context.Context)
}

// Authorizer grants and releases capital reservations. Implemented by
// risk.Manager.
type Authorizer interface {
	Authorize(opp domain.Opportunity) (risk.Reservation, error)
	Release(res risk.Reservation)
}

// Alerter delivers operator notifications. Implemented by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Redis channels events are published on.
const (
	ChannelOpportunities = "clobarb:opportunities"
	ChannelExecutions    = "clobarb:executions"
)

// Config carries the engine's tunables.
type Config struct {
	// MarketTag restricts discovery to a Gamma category slug; empty means
	// all categories.
	MarketTag string
	// DiscoveryLimit caps how many markets one discovery pass requests.
	DiscoveryLimit int
	// RefreshInterval is how often the market set is re-discovered.
	RefreshInterval time.Duration
	// ReconcileInterval is how often timed-out orders are re-queried.
	ReconcileInterval time.Duration
	// TradeCooldown suppresses re-entry into a market after an execution.
	TradeCooldown time.Duration
	// WorkerBuffer sizes each market worker's event queue.
	WorkerBuffer int
	// ResyncBackoff rate-limits snapshot re-requests for a stale market.
	ResyncBackoff time.Duration
	// DryRun logs and journals opportunities without executing them.
	DryRun bool
}

func (c *Config) applyDefaults() {
	if c.DiscoveryLimit <= 0 {
		c.DiscoveryLimit = 100
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.TradeCooldown <= 0 {
		c.TradeCooldown = 30 * time.Second
	}
	if c.WorkerBuffer <= 0 {
		c.WorkerBuffer = 256
	}
	if c.ResyncBackoff <= 0 {
		c.ResyncBackoff = 5 * time.Second
	}
}

// Engine owns the market set and the trading loop.
type Engine struct {
	cfg       Config
	books     *book.Store
	stability *book.StabilityTracker
	detector  *arbitrage.Detector
	preflight *arbitrage.PreFlightValidator
	risk      Authorizer
	executor  Executor
	feed      MarketFeed
	discovery Discovery

	opps    domain.OpportunityStore // may be nil
	execs   domain.ExecutionStore   // may be nil
	bus     domain.EventBus         // may be nil
	alerter Alerter                 // may be nil

	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*marketWorker
}

// marketWorker serializes all processing for one market.
type marketWorker struct {
	market domain.Market
	events chan domain.BookEvent
	cancel context.CancelFunc

	cooldownUntil time.Time
	lastResync    time.Time
}

// New creates an Engine. The opportunity store, execution store, event bus,
// and alerter are optional; nil disables that output.
func New(
	cfg Config,
	books *book.Store,
	stability *book.StabilityTracker,
	detector *arbitrage.Detector,
	preflight *arbitrage.PreFlightValidator,
	riskMgr Authorizer,
	exec Executor,
	marketFeed MarketFeed,
	discovery Discovery,
	logger *slog.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		books:     books,
		stability: stability,
		detector:  detector,
		preflight: preflight,
		risk:      riskMgr,
		executor:  exec,
		feed:      marketFeed,
		discovery: discovery,
		logger:    logger.With(slog.String("component", "engine")),
		workers:   make(map[string]*marketWorker),
	}
}

// SetStores wires the optional journaling stores.
func (e *Engine) SetStores(opps domain.OpportunityStore, execs domain.ExecutionStore) {
	e.opps = opps
	e.execs = execs
}

// SetEventBus wires the optional operational event bus.
func (e *Engine) SetEventBus(bus domain.EventBus) {
	e.bus = bus
}

// SetAlerter wires the optional operator notifier.
func (e *Engine) SetAlerter(a Alerter) {
	e.alerter = a
}

// Run performs an initial discovery pass, then runs the event router, the
// discovery refresher, and the timeout reconciler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.refreshMarkets(ctx); err != nil {
		return fmt.Errorf("engine: initial discovery: %w", err)
	}

	e.logger.Info("engine started",
		slog.Int("markets", e.workerCount()),
		slog.Bool("dry_run", e.cfg.DryRun),
	)
	defer e.logger.Info("engine stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.routeEvents(ctx) })
	g.Go(func() error { return e.refreshLoop(ctx) })
	g.Go(func() error { return e.reconcileLoop(ctx) })
	err := g.Wait()

	e.stopAllWorkers()
	e.sessionSummary()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sessionSummaryLimit caps how many journal rows the shutdown summary reads.
const sessionSummaryLimit = 100

// sessionSummary logs the most recently journaled activity on shutdown so
// the operator sees what the session produced without querying the database.
func (e *Engine) sessionSummary() {
	if e.opps == nil && e.execs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.opps != nil {
		opps, err := e.opps.ListRecent(ctx, sessionSummaryLimit)
		if err != nil {
			e.logger.Warn("opportunity summary failed", slog.String("error", err.Error()))
		} else {
			e.logger.Info("recent opportunities", slog.Int("count", len(opps)))
		}
	}
	if e.execs != nil {
		execs, err := e.execs.ListRecent(ctx, sessionSummaryLimit)
		if err != nil {
			e.logger.Warn("execution summary failed", slog.String("error", err.Error()))
			return
		}
		var pnl float64
		byStatus := make(map[domain.ExecutionStatus]int)
		for _, ex := range execs {
			pnl += ex.RealizedPnL
			byStatus[ex.Status]++
		}
		e.logger.Info("recent executions",
			slog.Int("count", len(execs)),
			slog.Int("filled", byStatus[domain.ExecFilled]),
			slog.Int("flattened", byStatus[domain.ExecFlattened]),
			slog.Int("no_fill", byStatus[domain.ExecNoFill]),
			slog.Float64("pnl", pnl),
		)
	}
}

// routeEvents fans feed events out to the per-market workers. A full worker
// queue drops the event; the lost sequence number surfaces as a stale book
// and triggers a resync.
func (e *Engine) routeEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.feed.Events():
			if !ok {
				return fmt.Errorf("engine: %w", domain.ErrWSDisconnect)
			}
			e.mu.Lock()
			w := e.workers[ev.MarketID]
			e.mu.Unlock()
			if w == nil {
				continue
			}
			select {
			case w.events <- ev:
			default:
				e.logger.Warn("worker queue full, dropping event",
					slog.String("market", ev.MarketID),
					slog.Uint64("seq", ev.Seq),
				)
			}
		}
	}
}

// refreshLoop periodically re-discovers the tradable market set.
func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.refreshMarkets(ctx); err != nil {
				e.logger.Error("market refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reconcileLoop periodically re-queries orders whose submission timed out.
// Idle when no executor is wired (monitor mode).
func (e *Engine) reconcileLoop(ctx context.Context) error {
	if e.executor == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.executor.ReconcileTimeouts(ctx)
		}
	}
}

// refreshMarkets reconciles the worker set against discovery: new tradable
// markets get a book, a worker, and a feed subscription; vanished or closed
// markets are torn down.
func (e *Engine) refreshMarkets(ctx context.Context) error {
	markets, err := e.discovery.ListTradableMarkets(ctx, e.cfg.MarketTag, e.cfg.DiscoveryLimit, 0)
	if err != nil {
		return err
	}

	current := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		if m.Active && m.AcceptingOrders {
			current[m.ID] = m
		}
	}

	e.mu.Lock()
	var added, removed []domain.Market
	for id, m := range current {
		if _, ok := e.workers[id]; !ok {
			added = append(added, m)
		}
	}
	for id, w := range e.workers {
		if _, ok := current[id]; !ok {
			removed = append(removed, w.market)
		}
	}
	e.mu.Unlock()

	for _, m := range added {
		e.addMarket(ctx, m)
	}
	for _, m := range removed {
		e.removeMarket(ctx, m)
	}

	if len(added) > 0 || len(removed) > 0 {
		e.logger.Info("market set updated",
			slog.Int("added", len(added)),
			slog.Int("removed", len(removed)),
			slog.Int("total", e.workerCount()),
		)
	}
	return nil
}

func (e *Engine) addMarket(ctx context.Context, m domain.Market) {
	e.books.CreateMarket(m.ID)

	wctx, cancel := context.WithCancel(context.Background())
	w := &marketWorker{
		market: m,
		events: make(chan domain.BookEvent, e.cfg.WorkerBuffer),
		cancel: cancel,
	}

	e.mu.Lock()
	e.workers[m.ID] = w
	e.mu.Unlock()

	go e.runWorker(wctx, w)

	if err := e.feed.Watch(ctx, m); err != nil {
		e.logger.Error("watch failed", slog.String("market", m.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) removeMarket(ctx context.Context, m domain.Market) {
	e.mu.Lock()
	w := e.workers[m.ID]
	delete(e.workers, m.ID)
	e.mu.Unlock()
	if w == nil {
		return
	}

	w.cancel()
	if err := e.feed.Unwatch(ctx, m); err != nil {
		e.logger.Warn("unwatch failed", slog.String("market", m.ID), slog.String("error", err.Error()))
	}
	e.books.DestroyMarket(m.ID)
	e.stability.Reset(m.ID)
}

func (e *Engine) workerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

func (e *Engine) stopAllWorkers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, w := range e.workers {
		w.cancel()
		delete(e.workers, id)
	}
}

// runWorker drains one market's event queue.
func (e *Engine) runWorker(ctx context.Context, w *marketWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			e.process(ctx, w, ev)
		}
	}
}

// process applies one book event and, when the book permits, runs the full
// detect / authorize / confirm / execute pipeline.
func (e *Engine) process(ctx context.Context, w *marketWorker, ev domain.BookEvent) {
	now := time.Now().UTC()

	switch ev.Kind {
	case domain.BookEventSnapshot:
		e.books.ApplySnapshot(ev.MarketID, ev.Outcome, ev.Bids, ev.Asks, ev.Seq, now)
	case domain.BookEventDelta:
		if err := e.books.ApplyDelta(ev.MarketID, ev.Outcome, ev.Changes, ev.Seq, now); err != nil {
			e.maybeResync(ctx, w, now, err)
			return
		}
	}

	if ask, _, err := e.books.BestAsk(ev.MarketID, ev.Outcome); err == nil {
		e.stability.Observe(ev.MarketID, ev.Outcome, ask.Price, now)
	}

	if now.Before(w.cooldownUntil) {
		return
	}

	opp, ok := e.detector.Scan(w.market, now)
	if !ok {
		return
	}

	e.journalOpportunity(ctx, opp)

	if e.cfg.DryRun || e.executor == nil {
		e.logger.Info("dry run, skipping execution",
			slog.String("opportunity", opp.ID),
			slog.String("market", opp.MarketID),
			slog.Float64("edge", opp.Edge),
		)
		return
	}

	res, err := e.risk.Authorize(opp)
	if err != nil {
		e.logger.Debug("authorization denied",
			slog.String("market", opp.MarketID),
			slog.String("reason", err.Error()),
		)
		return
	}

	if err := e.preflight.Confirm(opp); err != nil {
		e.risk.Release(res)
		return
	}

	exec, execErr := e.executor.Execute(ctx, w.market, opp, res)

	w.cooldownUntil = time.Now().UTC().Add(e.cfg.TradeCooldown)
	e.stability.Reset(w.market.ID)

	e.journalExecution(ctx, opp, exec)

	if execErr != nil {
		e.logger.Error("execution failed",
			slog.String("execution", exec.ID),
			slog.String("market", opp.MarketID),
			slog.String("error", execErr.Error()),
		)
	}
}

// maybeResync requests fresh snapshots for a market whose book went stale,
// no more often than the configured backoff.
func (e *Engine) maybeResync(ctx context.Context, w *marketWorker, now time.Time, cause error) {
	if !errors.Is(cause, domain.ErrSequenceGap) && !errors.Is(cause, domain.ErrStaleBook) {
		return
	}
	if now.Sub(w.lastResync) < e.cfg.ResyncBackoff {
		return
	}
	w.lastResync = now

	e.logger.Warn("book stale, requesting snapshots",
		slog.String("market", w.market.ID),
		slog.String("cause", cause.Error()),
	)
	if err := e.feed.Resync(ctx, w.market); err != nil {
		e.logger.Error("resync failed", slog.String("market", w.market.ID), slog.String("error", err.Error()))
	}
}

// journalOpportunity persists and publishes a detected opportunity. Journal
// failures are logged, never allowed to stall trading.
func (e *Engine) journalOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.opps != nil {
		if err := e.opps.Insert(ctx, opp); err != nil {
			e.logger.Warn("opportunity journal failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(opp); err == nil {
			if err := e.bus.Publish(ctx, ChannelOpportunities, payload); err != nil {
				e.logger.Warn("opportunity publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

// journalExecution persists, publishes, and notifies an execution outcome.
func (e *Engine) journalExecution(ctx context.Context, opp domain.Opportunity, exec domain.Execution) {
	if e.execs != nil {
		if err := e.execs.Create(ctx, exec); err != nil {
			e.logger.Warn("execution journal failed", slog.String("error", err.Error()))
		}
	}
	if e.opps != nil && exec.Status != domain.ExecNoFill {
		if err := e.opps.MarkExecuted(ctx, opp.ID); err != nil {
			e.logger.Warn("opportunity update failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(exec); err == nil {
			if err := e.bus.Publish(ctx, ChannelExecutions, payload); err != nil {
				e.logger.Warn("execution publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if e.alerter != nil && exec.Status != domain.ExecNoFill {
		event := notify.ExecutionEvent(exec.Status)
		if err := e.alerter.Notify(ctx, event, "Arb execution", notify.FormatExecution(exec)); err != nil {
			e.logger.Warn("execution alert failed", slog.String("error", err.Error()))
		}
	}
}
