package service

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// DenyReason distinguishes why a batch was refused admission. Each reason
// drives different user-facing remediation (upgrade the plan vs. trim the
// batch).
type DenyReason string

const (
	DenyFeatureUnavailable DenyReason = "feature_unavailable"
	DenyBatchLimit         DenyReason = "batch_limit_exceeded"
	DenyMonthlyAllowance   DenyReason = "monthly_allowance_exceeded"
)

// AdmissionError is a structured pre-flight rejection.
type AdmissionError struct {
	Reason    DenyReason
	Requested int
	BatchCap  int
	Remaining int
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case DenyFeatureUnavailable:
		return "bulk generation is not available on this plan"
	case DenyBatchLimit:
		return fmt.Sprintf("batch of %d exceeds the plan's per-batch cap of %d", e.Requested, e.BatchCap)
	case DenyMonthlyAllowance:
		return fmt.Sprintf("batch of %d exceeds the remaining monthly allowance of %d", e.Requested, e.Remaining)
	default:
		return "batch admission denied"
	}
}

// QuotaGate performs admission control before any item is dispatched.
type QuotaGate struct {
	ledger QuotaLedger
}

// NewQuotaGate creates a gate over the given ledger.
func NewQuotaGate(ledger QuotaLedger) *QuotaGate {
	return &QuotaGate{ledger: ledger}
}

// Admit checks a requested batch of n items against the plan's per-batch
// cap and the user's remaining monthly allowance. Returns the current
// usage on success, or an *AdmissionError naming the failed check. No
// items are dispatched on rejection.
func (g *QuotaGate) Admit(ctx context.Context, userID string, plan models.Plan, n int) (models.QuotaState, error) {
	if !plan.BulkEnabled {
		return models.QuotaState{}, &AdmissionError{Reason: DenyFeatureUnavailable, Requested: n}
	}
	if n > plan.BatchLimit {
		return models.QuotaState{}, &AdmissionError{
			Reason:    DenyBatchLimit,
			Requested: n,
			BatchCap:  plan.BatchLimit,
		}
	}

	usage, err := g.ledger.GetUsage(ctx, userID)
	if err != nil {
		return models.QuotaState{}, fmt.Errorf("quota pre-flight: %w", err)
	}
	if n > usage.Remaining() {
		return usage, &AdmissionError{
			Reason:    DenyMonthlyAllowance,
			Requested: n,
			BatchCap:  plan.BatchLimit,
			Remaining: usage.Remaining(),
		}
	}

	return usage, nil
}
