package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 300 * time.Millisecond}

type Processor struct {
	store        Store
	scheduler    Scheduler
	observer     Observer
	log          *zap.Logger
	retry        RetryPolicy
	paymentDelay time.Duration
}

type Option func(*Processor)

func WithRetryPolicy(rp RetryPolicy) Option {
	return func(p *Processor) {
		if rp.Attempts < 1 {
			rp.Attempts = 1
		}
		p.retry = rp
	}
}

// WithPaymentDelay simulates payment processing after commit.
func WithPaymentDelay(d time.Duration) Option {
	return func(p *Processor) { p.paymentDelay = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Processor) { p.log = log }
}

func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

func NewProcessor(store Store, scheduler Scheduler, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		scheduler: scheduler,
		observer:  nopObserver{},
		log:       zap.NewNop(),
		retry:     DefaultRetryPolicy,
	}
	if p.scheduler == nil {
		p.scheduler = nopScheduler{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOrder validates req, places the order and, once it is committed, schedules
// the status update and customer notification. Validation and stock failures are
// terminal; transient store failures rerun the whole transaction.
func (p *Processor) ProcessOrder(ctx context.Context, req Request) Outcome {
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	log := p.log.With(
		zap.String("customer_id", string(req.CustomerID)),
		zap.String("request_key", req.Key),
		zap.Int("items", len(req.Items)),
	)

	if err := req.Validate(); err != nil {
		out := Failed(FailureInvalidRequest, err.Error())
		log.Info("order rejected", zap.String("reason", out.Reason))
		p.observer.OrderOutcome(out)
		return out
	}

	out := p.placeWithRetry(ctx, log, req)
	p.observer.OrderOutcome(out)
	if !out.OK() {
		log.Info("order failed",
			zap.String("failure", string(out.Failure)),
			zap.String("reason", out.Reason),
			zap.Int("attempts", out.Attempts),
		)
		return out
	}

	log.Info("order committed",
		zap.Int64("order_id", out.OrderID),
		zap.String("total_amount", out.TotalAmount.StringFixed(2)),
		zap.Int("attempts", out.Attempts),
	)
	p.afterCommit(ctx, log, req, out)
	return out
}

func (p *Processor) placeWithRetry(ctx context.Context, log *zap.Logger, req Request) Outcome {
	var lastErr error
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		out, err := p.place(ctx, req)
		if err == nil {
			out.Attempts = attempt
			return out
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			out := Failed(FailureCancelled, fmt.Sprintf("order processing interrupted: %v", ctxErr))
			out.Attempts = attempt
			return out
		}
		if !IsTransient(err) {
			log.Error("order attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			out := Failed(FailureInternal, err.Error())
			out.Attempts = attempt
			return out
		}

		lastErr = err
		log.Warn("transient failure placing order",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.retry.Attempts),
			zap.Error(err),
		)
		if attempt == p.retry.Attempts {
			break
		}
		p.observer.OrderRetry()
		if err := wait(ctx, p.retry.Delay); err != nil {
			out := Failed(FailureCancelled, fmt.Sprintf("order processing interrupted: %v", err))
			out.Attempts = attempt
			return out
		}
	}

	out := Failed(FailureRetriesExhausted,
		fmt.Sprintf("transient infrastructure failure after %d attempts: %v", p.retry.Attempts, lastErr))
	out.Attempts = p.retry.Attempts
	return out
}

// place runs one attempt. A non-nil error means this attempt committed nothing;
// stock rejections come back as a failed Outcome with a nil error. A commit can
// land even when its acknowledgement is lost, so every attempt first looks for
// an order already placed under req.Key.
func (p *Processor) place(ctx context.Context, req Request) (Outcome, error) {
	existing, found, err := p.store.OrderByKey(ctx, req.Key)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to look up order for key %s: %w", req.Key, err)
	}
	if found {
		p.log.Info("order already placed for request key",
			zap.String("request_key", req.Key),
			zap.Int64("order_id", existing.ID),
		)
		return Succeeded(existing.ID, existing.TotalAmount), nil
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, rej, err := reserve(ctx, tx, req)
	if err != nil {
		return Outcome{}, err
	}
	if rej != nil {
		return Failed(FailureOutOfStock, rej.Error()), nil
	}

	orderID, err := tx.CreateOrder(ctx, string(req.CustomerID), req.Key, res.total)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create order: %w", err)
	}
	for _, it := range req.Items {
		item := OrderItem{
			OrderID:   orderID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     res.prices[it.ProductID],
		}
		if err := tx.AddOrderItem(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("failed to add item for product %d: %w", it.ProductID, err)
		}
	}
	for _, id := range res.ids {
		if err := tx.DecrementStock(ctx, id, res.need[id]); err != nil {
			return Outcome{}, fmt.Errorf("failed to decrement stock for product %d: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit order: %w", err)
	}
	return Succeeded(orderID, res.total), nil
}

// Rejection explains why stock could not cover the request.
type Rejection struct {
	ProductID int64
	Requested int64
	Available int64
	Missing   bool
}

func (r *Rejection) Error() string {
	if r.Missing {
		return fmt.Sprintf("product %d does not exist", r.ProductID)
	}
	return fmt.Sprintf("not enough stock for product %d: requested %d, available %d",
		r.ProductID, r.Requested, r.Available)
}

type reservation struct {
	ids    []int64
	need   map[int64]int64
	prices map[int64]decimal.Decimal
	total  decimal.Decimal
}

// reserve locks every product in ascending id order, so two orders over the same
// products always queue on the same first row instead of deadlocking.
func reserve(ctx context.Context, tx Tx, req Request) (reservation, *Rejection, error) {
	need, ids := req.demand()
	slices.Sort(ids)

	prices := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		prod, err := tx.LockProduct(ctx, id)
		if errors.Is(err, ErrProductNotFound) {
			return reservation{}, &Rejection{ProductID: id, Requested: need[id], Missing: true}, nil
		}
		if err != nil {
			return reservation{}, nil, fmt.Errorf("failed to lock product %d: %w", id, err)
		}
		if prod.Stock < need[id] {
			return reservation{}, &Rejection{ProductID: id, Requested: need[id], Available: prod.Stock}, nil
		}
		prices[id] = prod.UnitPrice
	}

	total := decimal.Zero
	for _, it := range req.Items {
		total = total.Add(prices[it.ProductID].Mul(decimal.NewFromInt(it.Quantity)))
	}
	return reservation{ids: ids, need: need, prices: prices, total: total}, nil, nil
}

func (p *Processor) afterCommit(ctx context.Context, log *zap.Logger, req Request, out Outcome) {
	// payment is not cancellable and holds no row locks
	if p.paymentDelay > 0 {
		time.Sleep(p.paymentDelay)
	}

	bg := context.WithoutCancel(ctx)
	if err := p.scheduler.ScheduleStatusUpdate(bg, out.OrderID, StatusProcessed); err != nil {
		p.observer.FollowUpFailed("status_update")
		log.Warn("failed to schedule status update", zap.Int64("order_id", out.OrderID), zap.Error(err))
	}
	n := Notification{CustomerID: string(req.CustomerID), OrderID: out.OrderID, TotalAmount: out.TotalAmount}
	if err := p.scheduler.ScheduleNotification(bg, n); err != nil {
		p.observer.FollowUpFailed("notification")
		log.Warn("failed to schedule notification", zap.Int64("order_id", out.OrderID), zap.Error(err))
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
