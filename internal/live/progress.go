package live

import (
	"context"
	"time"
)

// Step names one stage of converting a basket into an order.
type Step string

const (
	StepCheckpoint     Step = "save_progress"
	StepVerifyBasket   Step = "verify_basket"
	StepCreateOrder    Step = "create_order"
	StepInsertItem     Step = "insert_order_item"
	StepDecrementStock Step = "decrement_stock"
	StepMarkBasket     Step = "mark_basket_finalized"
	StepMarkLive       Step = "mark_live_finalized"
)

// BasketProgress is the checkpoint of one basket's conversion. The order and
// its items are snapshotted before the first write, so a retry reuses the
// same ids and quantities even if the basket was edited in between.
type BasketProgress struct {
	BasketID      string      `json:"basket_id"`
	Order         Order       `json:"order"`
	Items         []OrderItem `json:"items"`
	OrderCreated  bool        `json:"order_created"`
	ItemsRecorded int         `json:"items_recorded"`
	StockApplied  int         `json:"stock_applied"`
	Finalized     bool        `json:"finalized"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Step reports the next step the conversion has to perform.
func (p BasketProgress) Step() Step {
	switch {
	case !p.OrderCreated:
		return StepCreateOrder
	case p.ItemsRecorded < len(p.Items) && p.ItemsRecorded <= p.StockApplied:
		return StepInsertItem
	case p.StockApplied < len(p.Items):
		return StepDecrementStock
	case !p.Finalized:
		return StepMarkBasket
	default:
		return ""
	}
}

// ProgressStore persists finalization checkpoints per live session.
type ProgressStore interface {
	Load(ctx context.Context, liveID string) (map[string]BasketProgress, error)
	Save(ctx context.Context, liveID string, p BasketProgress) error
	Clear(ctx context.Context, liveID string) error
	// Pending reports whether liveID has checkpoints that were not cleared,
	// meaning a finalization started and has not completed yet.
	Pending(ctx context.Context, liveID string) (bool, error)
}

// Locker guards finalization across API replicas.
type Locker interface {
	// Acquire returns ok=false when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
