package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderIntent is one leg the engine wants executed. It is immutable after
// creation; signing and submission consume it without mutation.
type OrderIntent struct {
	ID        string // UUID, correlates the leg across signing/submission
	MarketID  string
	TokenID   string
	Outcome   Outcome
	Side      OrderSide
	Type      OrderType
	Price     float64 // limit price in [tick, 1-tick]
	Size      float64 // units (shares)
	CreatedAt time.Time
}

// Notional returns the capital consumed if the intent fills at its limit.
func (i OrderIntent) Notional() float64 {
	return i.Price * i.Size
}

// SignedOrder is the signed, submittable envelope for an OrderIntent, as
// produced by the signing service. Numeric fields are decimal strings to
// preserve precision across the JSON boundary.
type SignedOrder struct {
	Intent        OrderIntent
	Salt          string
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	Expiration    string
	Nonce         string
	FeeRateBps    string
	Side          int // 0 = BUY, 1 = SELL
	SignatureType int
	Signature     string // EIP-712 hex, 65 bytes
}

// LegStatus is the terminal state of one submitted leg.
type LegStatus string

const (
	LegFilled  LegStatus = "filled"
	LegPartial LegStatus = "partial"
	LegKilled  LegStatus = "killed"
	LegTimeout LegStatus = "timeout"
)

// LegResult is the outcome of one leg submission. A partial fill is treated
// as filled-for-risk-purposes at FilledSize.
type LegResult struct {
	IntentID   string        `json:"intent_id"`
	OrderID    string        `json:"order_id"`
	Outcome    Outcome       `json:"outcome"`
	Status     LegStatus     `json:"status"`
	FilledSize float64       `json:"filled_size"`
	AvgPrice   float64       `json:"avg_price"`
	Latency    time.Duration `json:"latency_ns"`
}

// Filled reports whether this leg put on any position.
func (r LegResult) Filled() bool {
	return (r.Status == LegFilled || r.Status == LegPartial) && r.FilledSize > 0
}
