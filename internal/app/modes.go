package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pben56681-png/clobarb/internal/arbitrage"
	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/crypto"
	"github.com/pben56681-png/clobarb/internal/engine"
	"github.com/pben56681-png/clobarb/internal/executor"
	"github.com/pben56681-png/clobarb/internal/feed"
	"github.com/pben56681-png/clobarb/internal/notify"
	"github.com/pben56681-png/clobarb/internal/platform/polymarket"
	"github.com/pben56681-png/clobarb/internal/risk"
)

// minTick is the exchange-wide minimum price increment, used for corrective
// sell orders that must cross any standing bid.
const minTick = 0.01

// sessionTTL bounds how long a crashed instance can hold the wallet's trading
// session before another may take over.
const sessionTTL = 24 * time.Hour

// core bundles the market-data and decision components shared by both modes.
type core struct {
	books     *book.Store
	stability *book.StabilityTracker
	detector  *arbitrage.Detector
	preflight *arbitrage.PreFlightValidator
	risk      *risk.Manager
	feed      *feed.Feed
	gamma     *polymarket.GammaClient
}

// TradeMode signs and submits orders. It acquires the wallet's session lock so
// two instances can never trade the same bankroll, then runs the full
// detect-and-execute loop.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID, a.cfg.Polymarket.ExchangeAddress)
	if err != nil {
		return fmt.Errorf("trade mode: create signer: %w", err)
	}
	wallet := signer.Address().Hex()

	release, err := deps.Sessions.Acquire(ctx, wallet, sessionTTL)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	defer release()

	var hmacAuth *crypto.HMACAuth
	if a.cfg.API.Key != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        a.cfg.API.Key,
			Secret:     a.cfg.API.Secret,
			Passphrase: a.cfg.API.Passphrase,
		}
	}
	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, hmacAuth)
	if hmacAuth == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("trade mode: derive API key: %w", err)
		}
	}

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	flattener := executor.NewFlattener(clob, minTick, a.cfg.Execution.FlattenMaxAttempts, a.logger)
	coordinator := executor.NewCoordinator(
		clob, clob, flattener, c.risk, deps.Notifier, deps.Bus,
		a.cfg.Execution.OrderTimeout.Duration, a.logger,
	)

	// Best effort: clear any resting orders from a previous run before and
	// after the session.
	if err := clob.CancelAll(ctx); err != nil {
		a.logger.WarnContext(ctx, "startup cancel-all failed", slog.String("error", err.Error()))
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := clob.CancelAll(shutCtx); err != nil {
			a.logger.Warn("shutdown cancel-all failed", slog.String("error", err.Error()))
		}
	}()

	return a.runEngine(ctx, deps, c, coordinator, false)
}

// MonitorMode runs the full detection pipeline without credentials or order
// placement. Opportunities are journaled and published, never traded.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return a.runEngine(ctx, deps, c, nil, true)
}

// buildCore constructs the book store, stability tracker, risk manager, feed,
// and detection components. The risk session is rebuilt from today's journaled
// executions so a restart cannot reset the daily loss budget.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	pnl, err := deps.Executions.SumPnL(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("rebuild session pnl: %w", err)
	}
	if pnl != 0 {
		a.logger.InfoContext(ctx, "session rebuilt from journal", slog.Float64("daily_pnl", pnl))
	}

	riskMgr := risk.NewManager(risk.Config{
		StartingCapital:    a.cfg.Risk.StartingCapital,
		MaxDailyLossPct:    a.cfg.Risk.MaxDailyLossPct,
		MaxTradeCapitalPct: a.cfg.Risk.MaxTradeCapitalPct,
	}, a.logger, risk.WithRealizedPnL(pnl))

	books := book.NewStore()
	stability := book.NewStabilityTracker(a.cfg.Detection.StabilityTolerance)
	detector := arbitrage.NewDetector(books, stability, riskMgr, arbitrage.DetectorConfig{
		MinEdge:              a.cfg.Detection.MinEdge,
		MinStableDuration:    a.cfg.Detection.MinStableDuration.Duration,
		MinLiquidityMultiple: a.cfg.Detection.MinLiquidityMultiple,
	}, a.logger)
	preflight := arbitrage.NewPreFlightValidator(books, a.cfg.Detection.MinEdge, a.logger)

	ws := polymarket.NewWSClient(a.cfg.Polymarket.WsHost)
	marketFeed := feed.New(ws, a.cfg.Engine.FeedBuffer, a.logger)

	return &core{
		books:     books,
		stability: stability,
		detector:  detector,
		preflight: preflight,
		risk:      riskMgr,
		feed:      marketFeed,
		gamma:     polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost),
	}, nil
}

// runEngine connects the feed, starts the engine, and blocks until the
// context is cancelled. exec may be nil for read-only operation.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, c *core, exec engine.Executor, dryRun bool) error {
	eng := engine.New(engine.Config{
		MarketTag:         a.cfg.Engine.MarketTag,
		DiscoveryLimit:    a.cfg.Engine.DiscoveryLimit,
		RefreshInterval:   a.cfg.Engine.RefreshInterval.Duration,
		ReconcileInterval: a.cfg.Engine.ReconcileInterval.Duration,
		TradeCooldown:     a.cfg.Execution.TradeCooldown.Duration,
		ResyncBackoff:     a.cfg.Engine.ResyncBackoff.Duration,
		DryRun:            dryRun,
	}, c.books, c.stability, c.detector, c.preflight, c.risk, exec, c.feed, c.gamma, a.logger)
	eng.SetStores(deps.Opportunities, deps.Executions)
	eng.SetEventBus(deps.Bus)
	eng.SetAlerter(deps.Notifier)

	if err := c.feed.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = c.feed.Close() }()

	_ = deps.Notifier.Notify(ctx, notify.EventEngineStarted, "Engine started",
		fmt.Sprintf("mode=%s tag=%q", a.cfg.Mode, a.cfg.Engine.MarketTag))
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = deps.Notifier.Notify(shutCtx, notify.EventEngineStopped, "Engine stopped",
			fmt.Sprintf("mode=%s", a.cfg.Mode))
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	return g.Wait()
}
