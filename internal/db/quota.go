package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// quotaRecord is the persisted shape of a per-user, per-period usage row.
type quotaRecord struct {
	ID         surrealmodels.RecordID `json:"id"`
	UserID     string                 `json:"user_id"`
	Period     string                 `json:"period"`
	Used       int                    `json:"used"`
	UsageLimit int                    `json:"usage_limit"`
	Updated    time.Time              `json:"updated"`
}

// quotaKey builds the deterministic record ID for a user's billing period,
// which is what makes the UPSERTs race-safe.
func quotaKey(userID, period string) string {
	return userID + ":" + period
}

// GetUsage returns a user's consumption for the billing period, creating
// the row with the given limit if it does not exist yet.
func (c *Client) GetUsage(ctx context.Context, userID, period string, limit int) (models.QuotaState, error) {
	results, err := surrealdb.Query[[]quotaRecord](ctx, c.db, `
		UPSERT type::record("quota", $id) SET
			user_id = $user_id,
			period = $period,
			usage_limit = $limit,
			used += 0
	`, map[string]any{
		"id":      quotaKey(userID, period),
		"user_id": userID,
		"period":  period,
		"limit":   limit,
	})
	if err != nil {
		return models.QuotaState{}, fmt.Errorf("get usage: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.QuotaState{Limit: limit}, nil
	}

	rec := (*results)[0].Result[0]
	return models.QuotaState{Used: rec.Used, Limit: rec.UsageLimit}, nil
}

// IncrementUsage adds n to a user's consumption counter and returns the new
// usage. n completed items map to exactly n increments; callers enforce the
// per-item at-most-once discipline via the item's counted flag.
func (c *Client) IncrementUsage(ctx context.Context, userID, period string, n int) (models.QuotaState, error) {
	results, err := surrealdb.Query[[]quotaRecord](ctx, c.db, `
		UPSERT type::record("quota", $id) SET
			user_id = $user_id,
			period = $period,
			used += $n,
			updated = time::now()
	`, map[string]any{
		"id":      quotaKey(userID, period),
		"user_id": userID,
		"period":  period,
		"n":       n,
	})
	if err != nil {
		return models.QuotaState{}, fmt.Errorf("increment usage: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.QuotaState{}, fmt.Errorf("increment usage: empty result")
	}

	rec := (*results)[0].Result[0]
	return models.QuotaState{Used: rec.Used, Limit: rec.UsageLimit}, nil
}
