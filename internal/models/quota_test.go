package models

import (
	"testing"
	"time"
)

func TestBillingPeriod(t *testing.T) {
	want := time.Now().UTC().Format("2006-01")
	if got := BillingPeriod(); got != want {
		t.Errorf("BillingPeriod() = %q, want %q", got, want)
	}
}

func TestQuotaStateRemaining(t *testing.T) {
	tests := []struct {
		used, limit, want int
	}{
		{0, 500, 500},
		{499, 500, 1},
		{500, 500, 0},
		{600, 500, 0},
	}
	for _, tt := range tests {
		q := QuotaState{Used: tt.used, Limit: tt.limit}
		if got := q.Remaining(); got != tt.want {
			t.Errorf("Remaining() with %d/%d = %d, want %d", tt.used, tt.limit, got, tt.want)
		}
	}
}

func TestLookupPlanFailsClosed(t *testing.T) {
	for _, id := range []string{"", "enterprise", "nonsense"} {
		plan := LookupPlan(id)
		if plan.BulkEnabled {
			t.Errorf("LookupPlan(%q) allows bulk generation", id)
		}
	}
	if !LookupPlan("pro").BulkEnabled {
		t.Error("pro plan should allow bulk generation")
	}
}
