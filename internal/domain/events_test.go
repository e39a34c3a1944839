package domain

import (
	"encoding/json"
	"testing"
	"time"
)

// Opportunities and executions are published on the event bus as JSON;
// external consumers rely on the snake_case field names staying put.
func TestPublishedPayloadFieldNames(t *testing.T) {
	opp := Opportunity{
		ID:         "opp-1",
		MarketID:   "mkt-1",
		YesAsk:     PriceLevel{Price: 0.40, Size: 100},
		NoAsk:      PriceLevel{Price: 0.50, Size: 100},
		Edge:       0.10,
		DetectedAt: time.Now().UTC(),
	}
	assertKeys(t, opp, "id", "market_id", "yes_ask", "no_ask", "edge", "size",
		"fee_rate", "yes_seq", "no_seq", "detected_at")

	exec := Execution{
		ID:       "exec-1",
		MarketID: "mkt-1",
		Status:   ExecFilled,
		YesLeg:   LegResult{Status: LegFilled, FilledSize: 100, AvgPrice: 0.40},
	}
	assertKeys(t, exec, "id", "opportunity_id", "market_id", "yes_leg", "no_leg",
		"status", "realized_pnl", "flatten_proceeds", "started_at", "completed_at")

	assertKeys(t, exec.YesLeg, "intent_id", "order_id", "outcome", "status",
		"filled_size", "avg_price", "latency_ns")
}

func assertKeys(t *testing.T, v any, want ...string) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %T: %v", v, err)
	}
	for _, k := range want {
		if _, ok := m[k]; !ok {
			t.Errorf("%T payload is missing %q (got %s)", v, k, raw)
		}
	}
	if len(m) != len(want) {
		t.Errorf("%T payload has %d fields, want %d: %s", v, len(m), len(want), raw)
	}
}
