package polymarket

import (
	"testing"
	"time"

	"github.com/pben56681-png/clobarb/internal/domain"
)

func TestToDomainMarket(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := APIMarket{
		ID:              "mkt-1",
		Question:        "Will BTC close above 100k?",
		Slug:            "btc-100k",
		Active:          true,
		AcceptingOrders: true,
		Outcomes:        `["Yes","No"]`,
		ClobTokenIDs:    `["tok-yes","tok-no"]`,
		MinTickSize:     "0.001",
		FeeRateBps:      "20",
		Tags:            []APITag{{Slug: "crypto"}, {Slug: "bitcoin"}},
	}

	m, ok := api.ToDomainMarket(now)
	if !ok {
		t.Fatal("ToDomainMarket rejected a valid binary market")
	}
	if m.YesTokenID != "tok-yes" || m.NoTokenID != "tok-no" {
		t.Errorf("token ids = %q/%q, want tok-yes/tok-no", m.YesTokenID, m.NoTokenID)
	}
	if !m.Active || !m.AcceptingOrders {
		t.Error("expected active, accepting market")
	}
	if m.TickSize != 0.001 {
		t.Errorf("TickSize = %v, want 0.001", m.TickSize)
	}
	if m.FeeRateBps != 20 {
		t.Errorf("FeeRateBps = %v, want 20", m.FeeRateBps)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "crypto" {
		t.Errorf("Tags = %v, want [crypto bitcoin]", m.Tags)
	}
	if !m.DiscoveredAt.Equal(now) {
		t.Errorf("DiscoveredAt = %v, want %v", m.DiscoveredAt, now)
	}
}

func TestToDomainMarketRejectsNonBinary(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		api  APIMarket
	}{
		{"three outcomes", APIMarket{
			Outcomes:     `["A","B","C"]`,
			ClobTokenIDs: `["1","2","3"]`,
		}},
		{"not yes/no", APIMarket{
			Outcomes:     `["Up","Down"]`,
			ClobTokenIDs: `["1","2"]`,
		}},
		{"malformed outcomes", APIMarket{
			Outcomes:     `not json`,
			ClobTokenIDs: `["1","2"]`,
		}},
		{"malformed token ids", APIMarket{
			Outcomes:     `["Yes","No"]`,
			ClobTokenIDs: `not json`,
		}},
	}
	for _, tc := range cases {
		if _, ok := tc.api.ToDomainMarket(now); ok {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestToDomainMarketClosedIsInactive(t *testing.T) {
	api := APIMarket{
		Active:       true,
		Closed:       true,
		Outcomes:     `["Yes","No"]`,
		ClobTokenIDs: `["1","2"]`,
		MinTickSize:  "bogus",
	}
	m, ok := api.ToDomainMarket(time.Now())
	if !ok {
		t.Fatal("ToDomainMarket rejected a closed but well-formed market")
	}
	if m.Active {
		t.Error("closed market reported Active")
	}
	if m.TickSize != 0.01 {
		t.Errorf("TickSize = %v, want default 0.01", m.TickSize)
	}
}

func TestLevelsDropsUnparseable(t *testing.T) {
	got := Levels([]WSPriceLevel{
		{Price: "0.40", Size: "100"},
		{Price: "oops", Size: "50"},
		{Price: "0.41", Size: "bad"},
		{Price: "0.42", Size: "25"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Price != 0.40 || got[0].Size != 100 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Price != 0.42 || got[1].Size != 25 {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestChangesMapsSides(t *testing.T) {
	got := Changes([]WSPriceChange{
		{Price: "0.40", Side: "BUY", Size: "10"},
		{Price: "0.60", Side: "SELL", Size: "0"},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Side != domain.BookSideBid {
		t.Errorf("BUY mapped to %v, want bid", got[0].Side)
	}
	if got[1].Side != domain.BookSideAsk {
		t.Errorf("SELL mapped to %v, want ask", got[1].Side)
	}
	if got[1].Size != 0 {
		t.Errorf("zero size not preserved: %v", got[1].Size)
	}
}

func TestParseTimestamp(t *testing.T) {
	got := ParseTimestamp("1717243200000")
	want := time.UnixMilli(1717243200000)
	if !got.Equal(want) {
		t.Errorf("epoch millis: got %v, want %v", got, want)
	}

	got = ParseTimestamp("2025-06-01T12:00:00Z")
	want = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("rfc3339: got %v, want %v", got, want)
	}
}

func TestAPIOrderToLegResult(t *testing.T) {
	cases := []struct {
		name  string
		order APIOrder
		want  domain.LegStatus
	}{
		{"full fill", APIOrder{ID: "o1", OriginalSize: "10", SizeMatched: "10", Price: "0.40"}, domain.LegFilled},
		{"partial fill", APIOrder{ID: "o2", OriginalSize: "10", SizeMatched: "4", Price: "0.40"}, domain.LegPartial},
		{"no fill", APIOrder{ID: "o3", OriginalSize: "10", SizeMatched: "0", Price: "0.40"}, domain.LegKilled},
	}
	for _, tc := range cases {
		res := tc.order.ToLegResult()
		if res.Status != tc.want {
			t.Errorf("%s: status = %v, want %v", tc.name, res.Status, tc.want)
		}
		if res.OrderID != tc.order.ID {
			t.Errorf("%s: OrderID = %q", tc.name, res.OrderID)
		}
	}
}
