// Package feed bridges the exchange WebSocket to the engine. It tags every
// snapshot and delta with a contiguous per-asset sequence number so the book
// store can detect dropped updates, and poisons the sequence on reconnect so
// state from before a disconnect is never trusted.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pben56681-png/clobarb/internal/domain"
	"github.com/pben56681-png/clobarb/internal/platform/polymarket"
)

// Transport is the WebSocket client the feed consumes. Implemented by
// polymarket.WSClient.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, assetIDs []string) error
	Unsubscribe(ctx context.Context, assetIDs []string) error
	OnBook(polymarket.BookHandler)
	OnPriceChange(polymarket.PriceChangeHandler)
	OnReconnect(polymarket.ReconnectHandler)
	Close() error
}

// assetRef is the feed's view of one subscribed token.
type assetRef struct {
	marketID string
	outcome  domain.Outcome
	seq      uint64
}

// Feed subscribes to market data for watched markets and emits BookEvents on
// its Events channel. Events carry sequence numbers the feed assigns: each
// update for an asset gets the previous number plus one, and deliberate skips
// mark transport-level data loss.
type Feed struct {
	transport Transport
	events    chan domain.BookEvent
	logger    *slog.Logger

	mu     sync.Mutex
	assets map[string]*assetRef // keyed by asset (token) ID
}

// New creates a Feed on the given transport. buffer sizes the event channel;
// when the consumer falls behind, updates are dropped and the gap surfaces as
// a stale book downstream.
func New(transport Transport, buffer int, logger *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = 1024
	}
	f := &Feed{
		transport: transport,
		events:    make(chan domain.BookEvent, buffer),
		logger:    logger.With(slog.String("component", "feed")),
		assets:    make(map[string]*assetRef),
	}
	transport.OnBook(f.handleBook)
	transport.OnPriceChange(f.handlePriceChange)
	transport.OnReconnect(f.handleReconnect)
	return f
}

// Start connects the transport.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.transport.Connect(ctx); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}

// Close shuts the transport down.
func (f *Feed) Close() error {
	return f.transport.Close()
}

// Events is the stream of sequenced book events for all watched markets.
func (f *Feed) Events() <-chan domain.BookEvent {
	return f.events
}

// Watch subscribes to both outcome tokens of a market. The server answers
// with a full book snapshot per token, followed by deltas.
func (f *Feed) Watch(ctx context.Context, market domain.Market) error {
	f.mu.Lock()
	f.assets[market.YesTokenID] = &assetRef{marketID: market.ID, outcome: domain.OutcomeYes}
	f.assets[market.NoTokenID] = &assetRef{marketID: market.ID, outcome: domain.OutcomeNo}
	f.mu.Unlock()

	if err := f.transport.Subscribe(ctx, []string{market.YesTokenID, market.NoTokenID}); err != nil {
		return fmt.Errorf("feed: watch %s: %w", market.ID, err)
	}
	return nil
}

// Unwatch drops the subscription for a market's tokens.
func (f *Feed) Unwatch(ctx context.Context, market domain.Market) error {
	f.mu.Lock()
	delete(f.assets, market.YesTokenID)
	delete(f.assets, market.NoTokenID)
	f.mu.Unlock()

	if err := f.transport.Unsubscribe(ctx, []string{market.YesTokenID, market.NoTokenID}); err != nil {
		return fmt.Errorf("feed: unwatch %s: %w", market.ID, err)
	}
	return nil
}

// Resync forces fresh snapshots for a market by cycling its subscriptions.
// Used by the engine when a book has gone stale and no snapshot arrives.
func (f *Feed) Resync(ctx context.Context, market domain.Market) error {
	tokens := []string{market.YesTokenID, market.NoTokenID}
	if err := f.transport.Unsubscribe(ctx, tokens); err != nil {
		return fmt.Errorf("feed: resync %s: %w", market.ID, err)
	}
	if err := f.transport.Subscribe(ctx, tokens); err != nil {
		return fmt.Errorf("feed: resync %s: %w", market.ID, err)
	}
	return nil
}

// handleBook converts a snapshot message into a BookEvent.
func (f *Feed) handleBook(msg polymarket.BookMessage) {
	f.mu.Lock()
	ref, ok := f.assets[msg.AssetID]
	if !ok {
		f.mu.Unlock()
		return
	}
	ref.seq++
	ev := domain.BookEvent{
		MarketID:  ref.marketID,
		Outcome:   ref.outcome,
		AssetID:   msg.AssetID,
		Kind:      domain.BookEventSnapshot,
		Bids:      polymarket.Levels(msg.Bids),
		Asks:      polymarket.Levels(msg.Asks),
		Seq:       ref.seq,
		Timestamp: polymarket.ParseTimestamp(msg.Timestamp),
	}
	f.mu.Unlock()

	f.emit(ev)
}

// handlePriceChange converts a delta message into a BookEvent.
func (f *Feed) handlePriceChange(msg polymarket.PriceChangeMessage) {
	f.mu.Lock()
	ref, ok := f.assets[msg.AssetID]
	if !ok {
		f.mu.Unlock()
		return
	}
	ref.seq++
	ev := domain.BookEvent{
		MarketID:  ref.marketID,
		Outcome:   ref.outcome,
		AssetID:   msg.AssetID,
		Kind:      domain.BookEventDelta,
		Changes:   polymarket.Changes(msg.Changes),
		Seq:       ref.seq,
		Timestamp: polymarket.ParseTimestamp(msg.Timestamp),
	}
	f.mu.Unlock()

	f.emit(ev)
}

// handleReconnect poisons every tracked asset's sequence with an empty delta
// that skips a number. The consumer's gap detection then marks those books
// stale until the post-resubscribe snapshots arrive.
func (f *Feed) handleReconnect() {
	f.mu.Lock()
	poisons := make([]domain.BookEvent, 0, len(f.assets))
	for assetID, ref := range f.assets {
		ref.seq += 2
		poisons = append(poisons, domain.BookEvent{
			MarketID: ref.marketID,
			Outcome:  ref.outcome,
			AssetID:  assetID,
			Kind:     domain.BookEventDelta,
			Seq:      ref.seq,
		})
	}
	f.mu.Unlock()

	f.logger.Warn("transport reconnecting, poisoning book sequences",
		slog.Int("assets", len(poisons)),
	)
	for _, ev := range poisons {
		f.emit(ev)
	}
}

// emit delivers an event without blocking the transport's read loop. A full
// channel means the consumer lost this update; the sequence number was
// already advanced, so the loss is detectable downstream.
func (f *Feed) emit(ev domain.BookEvent) {
	select {
	case f.events <- ev:
	default:
		f.logger.Warn("event channel full, dropping update",
			slog.String("market", ev.MarketID),
			slog.String("outcome", string(ev.Outcome)),
			slog.Uint64("seq", ev.Seq),
		)
	}
}
