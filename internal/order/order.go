// Package order turns an order request into a persisted order, its line items and
// the matching stock decrement, all inside one store transaction.
package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

type Product struct {
	ID        int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
}

type Order struct {
	ID          int64           `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	RequestKey  string          `json:"request_key,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderItem is immutable once written; Price is the unit price read under lock.
type OrderItem struct {
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type FailureKind string

const (
	FailureInvalidRequest   FailureKind = "invalid_request"
	FailureOutOfStock       FailureKind = "out_of_stock"
	FailureRetriesExhausted FailureKind = "retries_exhausted"
	FailureInternal         FailureKind = "internal"
	// FailureCancelled means ctx ended before an attempt committed. Nothing was
	// persisted, so the request may be submitted again.
	FailureCancelled FailureKind = "cancelled"
)

// Outcome is either a success (Failure == "") or a terminal failure with a reason.
type Outcome struct {
	OrderID     int64           `json:"order_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Failure     FailureKind     `json:"failure,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
}

func Succeeded(orderID int64, total decimal.Decimal) Outcome {
	return Outcome{OrderID: orderID, TotalAmount: total}
}

func Failed(kind FailureKind, reason string) Outcome {
	return Outcome{Failure: kind, Reason: reason}
}

func (o Outcome) OK() bool { return o.Failure == "" }

// Err maps a failed outcome back onto the package's sentinel errors.
func (o Outcome) Err() error {
	switch o.Failure {
	case "":
		return nil
	case FailureInvalidRequest:
		return &OutcomeError{Outcome: o, sentinel: ErrInvalidRequest}
	case FailureOutOfStock:
		return &OutcomeError{Outcome: o, sentinel: ErrOutOfStock}
	case FailureRetriesExhausted:
		return &OutcomeError{Outcome: o, sentinel: ErrTransient}
	default:
		return &OutcomeError{Outcome: o}
	}
}
