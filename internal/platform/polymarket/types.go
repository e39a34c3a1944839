package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
// MakingAmount and TakingAmount are 6-decimal fixed-point strings.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// ToLegResult converts the placement response into a LegResult for a buy:
// the taking amount is tokens received and the making amount is collateral
// spent.
func (r *APIOrderResult) ToLegResult(side domain.OrderSide) domain.LegResult {
	res := domain.LegResult{OrderID: r.OrderID}

	making := fixedPointToFloat(r.MakingAmount)
	taking := fixedPointToFloat(r.TakingAmount)
	var tokens, collateral float64
	if side == domain.OrderSideBuy {
		tokens, collateral = taking, making
	} else {
		tokens, collateral = making, taking
	}

	switch r.Status {
	case "matched":
		res.Status = domain.LegFilled
		res.FilledSize = tokens
		if tokens > 0 {
			res.AvgPrice = collateral / tokens
		}
	default:
		res.Status = domain.LegKilled
	}
	if !r.Success {
		res.Status = domain.LegKilled
		res.FilledSize = 0
		res.AvgPrice = 0
	}
	return res
}

// APIOrder is an order as returned by the CLOB order-status endpoint.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// ToLegResult maps a queried order onto its terminal leg state.
func (a *APIOrder) ToLegResult() domain.LegResult {
	res := domain.LegResult{OrderID: a.ID}
	matched, _ := strconv.ParseFloat(a.SizeMatched, 64)
	original, _ := strconv.ParseFloat(a.OriginalSize, 64)
	price, _ := strconv.ParseFloat(a.Price, 64)

	switch {
	case matched > 0 && matched >= original:
		res.Status = domain.LegFilled
	case matched > 0:
		res.Status = domain.LegPartial
	default:
		res.Status = domain.LegKilled
	}
	res.FilledSize = matched
	res.AvgPrice = price
	return res
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	AcceptingOrders flexBool `json:"acceptingOrders"`
	EnableOrderBook bool     `json:"enableOrderBook"`
	Outcomes        string   `json:"outcomes"`      // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs    string   `json:"clobTokenIds"`  // JSON-encoded, e.g. "[\"123\",\"456\"]"
	MinTickSize     string   `json:"orderPriceMinTickSize"`
	FeeRateBps      string   `json:"feeRateBps"`
	Volume          string   `json:"volumeNum"`
	Tags            []APITag `json:"tags"`
}

// APITag is a category label attached to a Gamma market.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// ToDomainMarket converts a Gamma market into the engine's market model.
// It returns false when the market is not a tradable two-outcome Yes/No
// market with CLOB token IDs.
func (m *APIMarket) ToDomainMarket(now time.Time) (domain.Market, bool) {
	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return domain.Market{}, false
	}
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return domain.Market{}, false
	}
	if len(outcomes) != 2 || len(tokenIDs) != 2 {
		return domain.Market{}, false
	}
	if !strings.EqualFold(outcomes[0], "Yes") || !strings.EqualFold(outcomes[1], "No") {
		return domain.Market{}, false
	}

	dm := domain.Market{
		ID:              m.ID,
		Question:        m.Question,
		Slug:            m.Slug,
		YesTokenID:      tokenIDs[0],
		NoTokenID:       tokenIDs[1],
		Active:          bool(m.Active) && !m.Closed,
		AcceptingOrders: bool(m.AcceptingOrders),
		DiscoveredAt:    now,
	}

	dm.TickSize = 0.01
	if tick, err := strconv.ParseFloat(m.MinTickSize, 64); err == nil && tick > 0 {
		dm.TickSize = tick
	}
	if bps, err := strconv.ParseFloat(m.FeeRateBps, 64); err == nil && bps > 0 {
		dm.FeeRateBps = bps
	}
	for _, tag := range m.Tags {
		dm.Tags = append(dm.Tags, tag.Slug)
	}

	return dm, true
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage is a full order book snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket book data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage is an incremental book update: a batch of price-level
// changes for one asset. A size of "0" removes the level.
type PriceChangeMessage struct {
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Changes   []WSPriceChange `json:"changes"`
	Timestamp string          `json:"timestamp"`
}

// WSPriceChange is one level change inside a PriceChangeMessage.
type WSPriceChange struct {
	Price string `json:"price"`
	Side  string `json:"side"` // "BUY" or "SELL"
	Size  string `json:"size"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// Levels converts the raw string levels to domain price levels. Unparseable
// entries are dropped.
func Levels(raw []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		p, perr := strconv.ParseFloat(lvl.Price, 64)
		s, serr := strconv.ParseFloat(lvl.Size, 64)
		if perr != nil || serr != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// Changes converts raw price changes to domain level changes. The exchange
// labels the bid side "BUY" and the ask side "SELL".
func Changes(raw []WSPriceChange) []domain.LevelChange {
	out := make([]domain.LevelChange, 0, len(raw))
	for _, ch := range raw {
		p, perr := strconv.ParseFloat(ch.Price, 64)
		s, serr := strconv.ParseFloat(ch.Size, 64)
		if perr != nil || serr != nil {
			continue
		}
		side := domain.BookSideBid
		if ch.Side == "SELL" {
			side = domain.BookSideAsk
		}
		out = append(out, domain.LevelChange{Side: side, Price: p, Size: s})
	}
	return out
}

// ParseTimestamp reads a WebSocket timestamp, which arrives as epoch
// milliseconds. Falls back to the current time when unparseable.
func ParseTimestamp(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// fixedPointToFloat parses a 6-decimal fixed-point amount string.
func fixedPointToFloat(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n / 1e6
}
