package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the inventory and order storage. Everything done through a Tx becomes
// durable only on Commit.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status Status) error
	Order(ctx context.Context, orderID int64) (Order, []OrderItem, error)
	// OrderByKey finds the committed order placed under a request key.
	OrderByKey(ctx context.Context, key string) (Order, bool, error)
}

type Tx interface {
	// LockProduct reads the product row and holds an exclusive lock on it until
	// the transaction ends. Returns ErrProductNotFound for unknown ids.
	LockProduct(ctx context.Context, productID int64) (Product, error)
	// CreateOrder fails with a transient error when requestKey is already taken,
	// so the retry finds the order through OrderByKey.
	CreateOrder(ctx context.Context, customerID, requestKey string, total decimal.Decimal) (int64, error)
	AddOrderItem(ctx context.Context, item OrderItem) error
	DecrementStock(ctx context.Context, productID, quantity int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status Status) error

	Commit(ctx context.Context) error
	// Rollback is a no-op once Commit has succeeded.
	Rollback(ctx context.Context) error
}

type Notification struct {
	CustomerID  string          `json:"customer_id"`
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Scheduler queues the side effects of a committed order.
type Scheduler interface {
	ScheduleStatusUpdate(ctx context.Context, orderID int64, status Status) error
	ScheduleNotification(ctx context.Context, n Notification) error
}

type Observer interface {
	OrderOutcome(out Outcome)
	OrderRetry()
	FollowUpFailed(step string)
}

type nopScheduler struct{}

func (nopScheduler) ScheduleStatusUpdate(context.Context, int64, Status) error { return nil }
func (nopScheduler) ScheduleNotification(context.Context, Notification) error  { return nil }

type nopObserver struct{}

func (nopObserver) OrderOutcome(Outcome)  {}
func (nopObserver) OrderRetry()           {}
func (nopObserver) FollowUpFailed(string) {}
