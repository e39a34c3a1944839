package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/arbitrage"
	"github.com/pben56681-png/clobarb/internal/book"
	"github.com/pben56681-png/clobarb/internal/domain"
	"github.com/pben56681-png/clobarb/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{
		ID:              "mkt-1",
		Question:        "Will it rain tomorrow?",
		YesTokenID:      "tok-yes",
		NoTokenID:       "tok-no",
		TickSize:        0.01,
		Active:          true,
		AcceptingOrders: true,
	}
}

type fakeFeed struct {
	mu        sync.Mutex
	events    chan domain.BookEvent
	watched   []string
	unwatched []string
	resynced  []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan domain.BookEvent, 16)}
}

func (f *fakeFeed) Events() <-chan domain.BookEvent { return f.events }

func (f *fakeFeed) Watch(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, m.ID)
	return nil
}

func (f *fakeFeed) Unwatch(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unwatched = append(f.unwatched, m.ID)
	return nil
}

func (f *fakeFeed) Resync(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resynced = append(f.resynced, m.ID)
	return nil
}

func (f *fakeFeed) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resynced)
}

type fakeDiscovery struct {
	mu      sync.Mutex
	markets []domain.Market
}

func (d *fakeDiscovery) set(markets ...domain.Market) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markets = markets
}

func (d *fakeDiscovery) ListTradableMarkets(_ context.Context, _ string, _, _ int) ([]domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Market(nil), d.markets...), nil
}

type executedCall struct {
	opp domain.Opportunity
	res risk.Reservation
}

type fakeExecutor struct {
	mu         sync.Mutex
	calls      []executedCall
	result     domain.Execution
	err        error
	reconciled int
}

func (x *fakeExecutor) Execute(_ context.Context, _ domain.Market, opp domain.Opportunity, res risk.Reservation) (domain.Execution, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, executedCall{opp: opp, res: res})
	out := x.result
	out.OpportunityID = opp.ID
	return out, x.err
}

func (x *fakeExecutor) ReconcileTimeouts(context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reconciled++
}

func (x *fakeExecutor) executions() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.calls)
}

type fakeAuthorizer struct {
	mu         sync.Mutex
	err        error
	authorized int
	released   []string
}

func (a *fakeAuthorizer) Authorize(opp domain.Opportunity) (risk.Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return risk.Reservation{}, a.err
	}
	a.authorized++
	return risk.Reservation{ID: "res-" + opp.ID, Notional: opp.Notional()}, nil
}

func (a *fakeAuthorizer) Release(res risk.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, res.ID)
}

type fakeOppStore struct {
	mu        sync.Mutex
	inserted  []domain.Opportunity
	executed  []string
	listCalls int
}

func (s *fakeOppStore) Insert(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, opp)
	return nil
}

func (s *fakeOppStore) MarkExecuted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, id)
	return nil
}

func (s *fakeOppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return append([]domain.Opportunity(nil), s.inserted...), nil
}

type fakeExecStore struct {
	mu        sync.Mutex
	created   []domain.Execution
	listCalls int
}

func (s *fakeExecStore) Create(_ context.Context, exec domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, exec)
	return nil
}

func (s *fakeExecStore) ListRecent(context.Context, int) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return append([]domain.Execution(nil), s.created...), nil
}

func (s *fakeExecStore) SumPnL(context.Context, time.Time) (float64, error) {
	return 0, nil
}

type capAll struct{}

func (capAll) PerTradeCap() float64 { return 1e9 }

type engineHarness struct {
	engine    *Engine
	feed      *fakeFeed
	discovery *fakeDiscovery
	executor  *fakeExecutor
	auth      *fakeAuthorizer
	opps      *fakeOppStore
	execs     *fakeExecStore
}

func newHarness(t *testing.T, cfg Config, preflightMinEdge float64) *engineHarness {
	t.Helper()

	logger := testLogger()
	books := book.NewStore()
	stability := book.NewStabilityTracker(0.001)
	detector := arbitrage.NewDetector(books, stability, capAll{}, arbitrage.DetectorConfig{
		MinEdge:              0.05,
		MinStableDuration:    0,
		MinLiquidityMultiple: 1,
	}, logger)
	preflight := arbitrage.NewPreFlightValidator(books, preflightMinEdge, logger)

	h := &engineHarness{
		feed:      newFakeFeed(),
		discovery: &fakeDiscovery{},
		executor:  &fakeExecutor{result: domain.Execution{ID: "exec-1", Status: domain.ExecFilled, RealizedPnL: 10}},
		auth:      &fakeAuthorizer{},
		opps:      &fakeOppStore{},
		execs:     &fakeExecStore{},
	}
	h.engine = New(cfg, books, stability, detector, preflight, h.auth, h.executor, h.feed, h.discovery, logger)
	h.engine.SetStores(h.opps, h.execs)
	return h
}

// worker returns a registered worker without spawning its goroutine, so tests
// can drive process directly.
func (h *engineHarness) worker(m domain.Market) *marketWorker {
	h.engine.books.CreateMarket(m.ID)
	w := &marketWorker{
		market: m,
		events: make(chan domain.BookEvent, 16),
		cancel: func() {},
	}
	h.engine.mu.Lock()
	h.engine.workers[m.ID] = w
	h.engine.mu.Unlock()
	return w
}

func snapshotEvent(m domain.Market, outcome domain.Outcome, price float64, seq uint64) domain.BookEvent {
	return domain.BookEvent{
		MarketID: m.ID,
		Outcome:  outcome,
		AssetID:  m.TokenID(outcome),
		Kind:     domain.BookEventSnapshot,
		Asks:     []domain.PriceLevel{{Price: price, Size: 100}},
		Bids:     []domain.PriceLevel{{Price: price - 0.02, Size: 100}},
		Seq:      seq,
	}
}

func TestProcessExecutesOpportunity(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeNo, 0.50, 1))

	if got := h.executor.executions(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}
	call := h.executor.calls[0]
	if call.opp.MarketID != m.ID {
		t.Errorf("opportunity market = %q, want %q", call.opp.MarketID, m.ID)
	}
	if call.opp.Edge < 0.0999 || call.opp.Edge > 0.1001 {
		t.Errorf("edge = %v, want 0.10", call.opp.Edge)
	}
	if call.res.ID == "" {
		t.Error("execution ran without a reservation")
	}

	if len(h.opps.inserted) != 1 {
		t.Fatalf("opportunities journaled = %d, want 1", len(h.opps.inserted))
	}
	if len(h.opps.executed) != 1 || h.opps.executed[0] != call.opp.ID {
		t.Errorf("marked executed = %v, want [%s]", h.opps.executed, call.opp.ID)
	}
	if len(h.execs.created) != 1 {
		t.Fatalf("executions journaled = %d, want 1", len(h.execs.created))
	}
	if h.execs.created[0].OpportunityID != call.opp.ID {
		t.Errorf("journaled execution opportunity = %q, want %q", h.execs.created[0].OpportunityID, call.opp.ID)
	}
}

func TestProcessCooldownSuppressesReentry(t *testing.T) {
	h := newHarness(t, Config{TradeCooldown: time.Hour}, 0.05)
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeNo, 0.50, 1))
	if got := h.executor.executions(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}

	// Still a clear edge, but inside the cooldown window.
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.39, 2))
	if got := h.executor.executions(); got != 1 {
		t.Errorf("executions after cooldown event = %d, want 1", got)
	}
}

func TestProcessDryRunJournalsWithoutExecuting(t *testing.T) {
	h := newHarness(t, Config{DryRun: true}, 0.05)
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeNo, 0.50, 1))

	if len(h.opps.inserted) != 1 {
		t.Fatalf("opportunities journaled = %d, want 1", len(h.opps.inserted))
	}
	if got := h.executor.executions(); got != 0 {
		t.Errorf("executions = %d, want 0", got)
	}
	if h.auth.authorized != 0 {
		t.Errorf("authorizations = %d, want 0", h.auth.authorized)
	}
}

func TestProcessReleasesReservationWhenConfirmFails(t *testing.T) {
	// Pre-flight demands more edge than detection, so Confirm always rejects.
	h := newHarness(t, Config{}, 0.50)
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeNo, 0.50, 1))

	if got := h.executor.executions(); got != 0 {
		t.Fatalf("executions = %d, want 0", got)
	}
	if h.auth.authorized != 1 {
		t.Fatalf("authorizations = %d, want 1", h.auth.authorized)
	}
	if len(h.auth.released) != 1 {
		t.Errorf("released reservations = %d, want 1", len(h.auth.released))
	}
}

func TestProcessAuthorizationDeniedSkipsExecution(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	h.auth.err = domain.ErrCircuitBreakerTripped
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))
	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeNo, 0.50, 1))

	if got := h.executor.executions(); got != 0 {
		t.Errorf("executions = %d, want 0", got)
	}
}

func TestProcessSequenceGapRequestsResync(t *testing.T) {
	h := newHarness(t, Config{ResyncBackoff: time.Hour}, 0.05)
	m := testMarket()
	w := h.worker(m)
	ctx := context.Background()

	h.engine.process(ctx, w, snapshotEvent(m, domain.OutcomeYes, 0.40, 1))

	gap := domain.BookEvent{
		MarketID: m.ID,
		Outcome:  domain.OutcomeYes,
		Kind:     domain.BookEventDelta,
		Changes:  []domain.LevelChange{{Side: domain.BookSideAsk, Price: 0.41, Size: 10}},
		Seq:      5,
	}
	h.engine.process(ctx, w, gap)
	if got := h.feed.resyncCount(); got != 1 {
		t.Fatalf("resync requests = %d, want 1", got)
	}

	// Second gap inside the backoff window must not fire another request.
	gap.Seq = 9
	h.engine.process(ctx, w, gap)
	if got := h.feed.resyncCount(); got != 1 {
		t.Errorf("resync requests after backoff = %d, want 1", got)
	}
}

func TestRefreshMarketsAddsAndRemoves(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	m := testMarket()
	h.discovery.set(m)
	ctx := context.Background()

	if err := h.engine.refreshMarkets(ctx); err != nil {
		t.Fatalf("refreshMarkets: %v", err)
	}
	if got := h.engine.workerCount(); got != 1 {
		t.Fatalf("workers = %d, want 1", got)
	}
	h.feed.mu.Lock()
	watched := append([]string(nil), h.feed.watched...)
	h.feed.mu.Unlock()
	if len(watched) != 1 || watched[0] != m.ID {
		t.Errorf("watched = %v, want [%s]", watched, m.ID)
	}

	h.discovery.set()
	if err := h.engine.refreshMarkets(ctx); err != nil {
		t.Fatalf("refreshMarkets: %v", err)
	}
	if got := h.engine.workerCount(); got != 0 {
		t.Errorf("workers after removal = %d, want 0", got)
	}
	h.feed.mu.Lock()
	unwatched := append([]string(nil), h.feed.unwatched...)
	h.feed.mu.Unlock()
	if len(unwatched) != 1 || unwatched[0] != m.ID {
		t.Errorf("unwatched = %v, want [%s]", unwatched, m.ID)
	}
}

func TestRefreshMarketsSkipsInactive(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	closed := testMarket()
	closed.ID = "mkt-closed"
	closed.AcceptingOrders = false
	h.discovery.set(closed)

	if err := h.engine.refreshMarkets(context.Background()); err != nil {
		t.Fatalf("refreshMarkets: %v", err)
	}
	if got := h.engine.workerCount(); got != 0 {
		t.Errorf("workers = %d, want 0", got)
	}
}

func TestRunShutdownReadsSessionSummary(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	h.opps.mu.Lock()
	oppLists := h.opps.listCalls
	h.opps.mu.Unlock()
	h.execs.mu.Lock()
	execLists := h.execs.listCalls
	h.execs.mu.Unlock()
	if oppLists != 1 {
		t.Errorf("opportunity summary reads = %d, want 1", oppLists)
	}
	if execLists != 1 {
		t.Errorf("execution summary reads = %d, want 1", execLists)
	}
}

func TestRouteEventsDispatchesByMarket(t *testing.T) {
	h := newHarness(t, Config{}, 0.05)
	m := testMarket()

	w := &marketWorker{market: m, events: make(chan domain.BookEvent, 4), cancel: func() {}}
	h.engine.mu.Lock()
	h.engine.workers[m.ID] = w
	h.engine.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.routeEvents(ctx) }()

	h.feed.events <- snapshotEvent(m, domain.OutcomeYes, 0.40, 1)
	h.feed.events <- domain.BookEvent{MarketID: "mkt-unknown", Seq: 1}

	select {
	case ev := <-w.events:
		if ev.MarketID != m.ID || ev.Seq != 1 {
			t.Errorf("routed event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not routed to the worker")
	}
	select {
	case ev := <-w.events:
		t.Fatalf("unexpected second event routed: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("routeEvents returned %v, want context.Canceled", err)
	}
}
