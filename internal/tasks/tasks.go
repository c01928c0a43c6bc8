package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"orderq/internal/config"
	"orderq/internal/order"
)

const (
	TypeProcessOrder      = "order:process"
	TypeUpdateOrderStatus = "order:update_status"
	TypeNotifyCustomer    = "order:notify"
	TypeProcessData       = "data:process"
)

const (
	QueueOrders  = "critical"
	QueueDefault = "default"
)

// Queues is the weighted queue set the worker listens on.
var Queues = map[string]int{
	QueueDefault: 1,
	QueueOrders:  2,
}

// line item as carried in the queue
type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type ProcessOrderPayload struct {
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	RequestedAt time.Time   `json:"requested_at"`
}

func (p ProcessOrderPayload) Request() order.Request {
	items := make([]order.Item, len(p.Items))
	for i, it := range p.Items {
		items[i] = order.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return order.Request{CustomerID: order.CustomerID(p.CustomerID), Items: items}
}

type UpdateStatusPayload struct {
	OrderID int64        `json:"order_id"`
	Status  order.Status `json:"status"`
}

type NotifyPayload struct {
	CustomerID  string          `json:"customer_id"`
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ProcessDataPayload struct {
	Data json.RawMessage `json:"data"`
}

// OrderResult is written as the task result of every finished order:process task.
type OrderResult struct {
	OrderID     int64  `json:"order_id,omitempty"`
	TotalAmount string `json:"total_amount,omitempty"`
	Failure     string `json:"failure,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

func resultFromOutcome(out order.Outcome) OrderResult {
	if out.OK() {
		return OrderResult{OrderID: out.OrderID, TotalAmount: out.TotalAmount.StringFixed(2), Attempts: out.Attempts}
	}
	return OrderResult{Failure: string(out.Failure), Reason: out.Reason, Attempts: out.Attempts}
}

func NewProcessOrderTask(req order.Request, now time.Time) (*asynq.Task, error) {
	items := make([]OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return newTask(TypeProcessOrder, ProcessOrderPayload{
		CustomerID:  string(req.CustomerID),
		Items:       items,
		RequestedAt: now.UTC(),
	})
}

func NewUpdateStatusTask(orderID int64, status order.Status) (*asynq.Task, error) {
	return newTask(TypeUpdateOrderStatus, UpdateStatusPayload{OrderID: orderID, Status: status})
}

func NewNotifyTask(n order.Notification) (*asynq.Task, error) {
	return newTask(TypeNotifyCustomer, NotifyPayload{
		CustomerID:  n.CustomerID,
		OrderID:     n.OrderID,
		TotalAmount: n.TotalAmount,
	})
}

func NewProcessDataTask(data json.RawMessage) (*asynq.Task, error) {
	return newTask(TypeProcessData, ProcessDataPayload{Data: data})
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s payload: %w", typename, err)
	}
	return asynq.NewTask(typename, data), nil
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
