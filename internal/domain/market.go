package domain

import "time"

// Outcome is one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market represents a binary-outcome prediction market on the CLOB.
// A market is immutable once discovered; lifecycle (create/destroy) is
// driven by discovery events.
type Market struct {
	ID              string // condition ID
	Question        string
	Slug            string
	YesTokenID      string
	NoTokenID       string
	TickSize        float64
	FeeRateBps      float64
	Active          bool
	AcceptingOrders bool
	Tags            []string
	DiscoveredAt    time.Time
}

// TokenID returns the asset ID for the given outcome.
func (m Market) TokenID(o Outcome) string {
	if o == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// OutcomeForToken returns the outcome whose token matches assetID, and
// whether the token belongs to this market at all.
func (m Market) OutcomeForToken(assetID string) (Outcome, bool) {
	switch assetID {
	case m.YesTokenID:
		return OutcomeYes, true
	case m.NoTokenID:
		return OutcomeNo, true
	default:
		return "", false
	}
}

// FeeRate returns the per-side taker fee as a fraction (bps / 10,000).
func (m Market) FeeRate() float64 {
	return m.FeeRateBps / 10_000
}
