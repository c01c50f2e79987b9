package models

import "time"

// BillingPeriod returns the key quota rows are scoped by, the current
// UTC month as "2006-01". Every layer that touches usage counters goes
// through this so they all agree on the row.
func BillingPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// QuotaState is a user's consumption against the current billing period.
// Used is mutated only by successful item completions, at most once per
// item via the item's QuotaCounted flag.
type QuotaState struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Remaining returns the allowance left this period, never negative.
func (q QuotaState) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Plan describes the billing plan parameters relevant to bulk generation.
type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BulkEnabled  bool   `json:"bulk_enabled"`
	BatchLimit   int    `json:"batch_limit"`
	MonthlyLimit int    `json:"monthly_limit"`
}

// PlanCatalog maps plan IDs to their bulk-generation parameters. A real
// deployment would source these from billing; the shapes matter more than
// the numbers here.
var PlanCatalog = map[string]Plan{
	"free": {
		ID:          "free",
		Name:        "Free",
		BulkEnabled: false,
	},
	"starter": {
		ID:           "starter",
		Name:         "Starter",
		BulkEnabled:  true,
		BatchLimit:   25,
		MonthlyLimit: 100,
	},
	"pro": {
		ID:           "pro",
		Name:         "Pro",
		BulkEnabled:  true,
		BatchLimit:   100,
		MonthlyLimit: 500,
	},
}

// LookupPlan resolves a plan ID, falling back to the free plan for
// unknown or empty IDs so admission fails closed.
func LookupPlan(id string) Plan {
	if plan, ok := PlanCatalog[id]; ok {
		return plan
	}
	return PlanCatalog["free"]
}
