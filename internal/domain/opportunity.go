package domain

import "time"

// Opportunity is a detected complementary-price arbitrage: buying one unit of
// Yes and one unit of No for a combined cost below 1.00 (net of fees). The
// sequence numbers of the books it was derived from travel with it so the
// pre-flight validator can detect staleness without re-deriving them.
type Opportunity struct {
	ID         string     `json:"id"`
	MarketID   string     `json:"market_id"`
	YesAsk     PriceLevel `json:"yes_ask"`
	NoAsk      PriceLevel `json:"no_ask"`
	Edge       float64    `json:"edge"`     // 1 - askYes - askNo - fees, per unit
	Size       float64    `json:"size"`     // executable units: min(level sizes, risk cap)
	FeeRate    float64    `json:"fee_rate"` // per-side taker fee fraction used in Edge
	YesSeq     uint64     `json:"yes_seq"`
	NoSeq      uint64     `json:"no_seq"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Notional returns the total capital both legs consume at their ask prices.
func (o Opportunity) Notional() float64 {
	return (o.YesAsk.Price + o.NoAsk.Price) * o.Size
}

// ExpectedProfit returns the riskless profit if both legs fill at size Size.
func (o Opportunity) ExpectedProfit() float64 {
	return o.Edge * o.Size
}
