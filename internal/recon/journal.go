// Package recon keeps a durable journal of payment attempts whose final
// state could not be confirmed with the backend: a charge push succeeded but
// the order-status update failed, or the settlement wait ran out while the
// order was still pending. Entries are consumed by back-office tooling; the
// customer is never shown these as failed purchases.
package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	// KindReconcileFailed marks a successful charge push whose order-status
	// update call failed.
	KindReconcileFailed = "reconcile_failed"

	// KindSettlementUnknown marks an attempt whose order was still pending
	// when the settlement wait elapsed.
	KindSettlementUnknown = "settlement_unknown"
)

const pendingKey = "recon:pending"

// Gap is one journal entry awaiting manual or automated follow-up.
type Gap struct {
	Kind      string          `json:"kind"`
	OrderID   int             `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone"`
	Reason    string          `json:"reason,omitempty"`
	FlaggedAt time.Time       `json:"flagged_at"`
}

type Journal struct {
	redis *redis.Client
}

func NewJournal(redisClient *redis.Client) *Journal {
	return &Journal{redis: redisClient}
}

// Record appends a gap to the pending list. The entry key includes the order
// id so Resolve can drop it once the backend has been corrected.
func (j *Journal) Record(ctx context.Context, g Gap) error {
	if g.FlaggedAt.IsZero() {
		g.FlaggedAt = time.Now()
	}

	b, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("recon: json.Marshal: %w", err)
	}

	if err := j.redis.LPush(ctx, pendingKey, b).Err(); err != nil {
		return fmt.Errorf("recon: LPush: %w", err)
	}

	// Per-order marker so duplicate flags for the same order are visible.
	orderKey := fmt.Sprintf("recon:order:%d", g.OrderID)
	if err := j.redis.HSet(ctx, orderKey, "kind", g.Kind, "flagged_at", g.FlaggedAt.Unix()).Err(); err != nil {
		return fmt.Errorf("recon: HSet: %w", err)
	}

	return nil
}

// Pending returns all unresolved journal entries, newest first.
func (j *Journal) Pending(ctx context.Context) ([]Gap, error) {
	raw, err := j.redis.LRange(ctx, pendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recon: LRange: %w", err)
	}

	gaps := make([]Gap, 0, len(raw))
	for _, item := range raw {
		var g Gap
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			// A corrupt entry should not hide the rest of the backlog.
			continue
		}
		gaps = append(gaps, g)
	}

	return gaps, nil
}

// Resolve removes the per-order marker after back-office follow-up.
func (j *Journal) Resolve(ctx context.Context, orderID int) error {
	orderKey := fmt.Sprintf("recon:order:%d", orderID)
	if err := j.redis.Del(ctx, orderKey).Err(); err != nil {
		return fmt.Errorf("recon: Del: %w", err)
	}
	return nil
}
