package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MaxQuantity is the largest quantity a product can be ordered in, per line and
// summed over lines; it matches the INTEGER stock and quantity columns.
const MaxQuantity = math.MaxInt32

// CustomerID accepts both JSON strings and JSON numbers.
type CustomerID string

func (c *CustomerID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CustomerID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("customer_id must be a string or a number: %w", err)
	}
	*c = CustomerID(n.String())
	return nil
}

type Item struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int64 `json:"quantity" validate:"gt=0,lte=2147483647"`
}

type Request struct {
	CustomerID CustomerID `json:"customer_id" validate:"required"`
	Items      []Item     `json:"items" validate:"required,min=1,dive"`
	// Key identifies the submission across retries; the worker sets it to the
	// task id. Never read from the request body.
	Key string `json:"-"`
}

// Validate checks the request shape only; stock is checked under lock.
func (r Request) Validate() error {
	if strings.TrimSpace(string(r.CustomerID)) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrInvalidRequest)
	}
	for i, it := range r.Items {
		if it.ProductID <= 0 {
			return fmt.Errorf("%w: item %d: product_id must be positive", ErrInvalidRequest, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d (product %d): quantity must be positive", ErrInvalidRequest, i, it.ProductID)
		}
		if it.Quantity > MaxQuantity {
			return fmt.Errorf("%w: item %d (product %d): quantity must be at most %d", ErrInvalidRequest, i, it.ProductID, MaxQuantity)
		}
	}
	// each line is at most MaxQuantity, so the running sum cannot overflow int64
	need, _ := r.demand()
	for id, n := range need {
		if n > MaxQuantity {
			return fmt.Errorf("%w: product %d: total quantity must be at most %d", ErrInvalidRequest, id, MaxQuantity)
		}
	}
	return nil
}

// demand sums quantities per product, so a product listed twice is checked once.
func (r Request) demand() (map[int64]int64, []int64) {
	need := make(map[int64]int64, len(r.Items))
	var ids []int64
	for _, it := range r.Items {
		if _, ok := need[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		need[it.ProductID] += it.Quantity
	}
	return need, ids
}
