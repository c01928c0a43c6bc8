package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"orderq/internal/logger"
	"orderq/internal/order"
)

type OrderProcessor interface {
	ProcessOrder(ctx context.Context, req order.Request) order.Outcome
}

type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) error
}

type Notifier interface {
	Notify(ctx context.Context, n order.Notification) error
}

// Handlers runs the worker side of every task type.
type Handlers struct {
	Processor    OrderProcessor
	Orders       StatusUpdater
	Notifier     Notifier
	Log          *zap.Logger
	ProcessDelay time.Duration
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProcessOrder, h.HandleProcessOrder)
	mux.HandleFunc(TypeUpdateOrderStatus, h.HandleUpdateOrderStatus)
	mux.HandleFunc(TypeNotifyCustomer, h.HandleNotifyCustomer)
	mux.HandleFunc(TypeProcessData, h.HandleProcessData)
}

func (h *Handlers) HandleProcessOrder(ctx context.Context, t *asynq.Task) error {
	log := h.taskLog(ctx, t)

	var payload ProcessOrderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	req := payload.Request()
	// a redelivered task finds the order its earlier run placed
	req.Key, _ = asynq.GetTaskID(ctx)
	out := h.Processor.ProcessOrder(ctx, req)

	if err := writeResult(t, resultFromOutcome(out)); err != nil {
		log.Warn("failed to write task result", zap.Error(err))
	}
	if out.Failure == order.FailureCancelled {
		// order tasks run once; nothing was committed and the task is archived
		log.Warn("order processing interrupted", zap.String("reason", out.Reason))
		return fmt.Errorf("%s: %s: %w", out.Failure, out.Reason, asynq.SkipRetry)
	}
	if !out.OK() {
		log.Info("order rejected",
			zap.String("failure", string(out.Failure)),
			zap.String("reason", out.Reason),
		)
		return fmt.Errorf("%s: %s: %w", out.Failure, out.Reason, asynq.SkipRetry)
	}
	log.Info("order processed",
		zap.Int64("order_id", out.OrderID),
		zap.String("total_amount", out.TotalAmount.StringFixed(2)),
	)
	return nil
}

func (h *Handlers) HandleUpdateOrderStatus(ctx context.Context, t *asynq.Task) error {
	var payload UpdateStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if !payload.Status.Valid() {
		return fmt.Errorf("unknown order status %q: %w", payload.Status, asynq.SkipRetry)
	}

	err := h.Orders.UpdateOrderStatus(ctx, payload.OrderID, payload.Status)
	if errors.Is(err, order.ErrOrderNotFound) {
		return fmt.Errorf("order %d: %v: %w", payload.OrderID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", payload.OrderID, err)
	}
	h.taskLog(ctx, t).Info("order status updated",
		zap.Int64("order_id", payload.OrderID),
		zap.String("status", string(payload.Status)),
	)
	return nil
}

func (h *Handlers) HandleNotifyCustomer(ctx context.Context, t *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	n := order.Notification{
		CustomerID:  payload.CustomerID,
		OrderID:     payload.OrderID,
		TotalAmount: payload.TotalAmount,
	}
	if err := h.Notifier.Notify(ctx, n); err != nil {
		h.taskLog(ctx, t).Warn("customer notification failed",
			zap.Int64("order_id", n.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to notify customer %s: %w", n.CustomerID, err)
	}
	return nil
}

// HandleProcessData is the generic background job: wait, then echo the input.
func (h *Handlers) HandleProcessData(ctx context.Context, t *asynq.Task) error {
	var payload ProcessDataPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	timer := time.NewTimer(h.ProcessDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	result := "Processed: " + dataString(payload.Data)
	if err := writeResult(t, []byte(result)); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	h.taskLog(ctx, t).Info("data processed")
	return nil
}

func (h *Handlers) taskLog(ctx context.Context, t *asynq.Task) *zap.Logger {
	base := h.Log
	if base == nil {
		base = logger.L()
	}
	id, _ := asynq.GetTaskID(ctx)
	queue, _ := asynq.GetQueueName(ctx)
	return logger.WithTask(base, id, queue, t.Type())
}

// JSON strings are echoed without their quotes, anything else verbatim
func dataString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func writeResult(t *asynq.Task, v any) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	var b []byte
	switch x := v.(type) {
	case []byte:
		b = x
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return err
		}
	}
	_, err := w.Write(b)
	return err
}
