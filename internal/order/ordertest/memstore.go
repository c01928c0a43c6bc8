// Package ordertest provides an in-memory order.Store with row locks and fault
// injection for tests.
package ordertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orderq/internal/order"
)

var (
	ErrLockTimeout  = errors.New("lock timeout")
	ErrTxDone       = errors.New("transaction already closed")
	ErrNegative     = errors.New("stock would go negative")
	ErrDuplicateKey = errors.New("request key already used")
)

// Op names a store call a fault hook can intercept.
type Op string

const (
	OpBegin     Op = "begin"
	OpLock      Op = "lock"
	OpCreate    Op = "create_order"
	OpAddItem   Op = "add_item"
	OpDecrement Op = "decrement"
	OpCommit    Op = "commit"
	// OpCommitted fires after a commit has been applied; failing it simulates
	// a commit whose acknowledgement was lost.
	OpCommitted Op = "committed"
	OpLookup    Op = "lookup"
)

type Store struct {
	mu       sync.Mutex
	products map[int64]order.Product
	orders   map[int64]order.Order
	items    map[int64][]order.OrderItem
	rows     map[int64]chan struct{}
	seq      int64

	lockTimeout time.Duration
	fault       func(op Op) error
}

func NewStore(products ...order.Product) *Store {
	s := &Store{
		products:    make(map[int64]order.Product),
		orders:      make(map[int64]order.Order),
		items:       make(map[int64][]order.OrderItem),
		rows:        make(map[int64]chan struct{}),
		lockTimeout: 2 * time.Second,
	}
	for _, p := range products {
		s.Put(p)
	}
	return s
}

func (s *Store) Put(p order.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	if _, ok := s.rows[p.ID]; !ok {
		s.rows[p.ID] = make(chan struct{}, 1)
	}
}

func (s *Store) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockTimeout = d
}

// OnOp installs a hook that may fail any store call. Returned errors are passed
// through as-is, so wrap them with order.Transient to simulate retryable faults.
func (s *Store) OnOp(fn func(op Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// FailTimes fails the first n calls of op with a transient error.
func (s *Store) FailTimes(op Op, n int) {
	var mu sync.Mutex
	left := n
	s.OnOp(func(got Op) error {
		if got != op {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if left == 0 {
			return nil
		}
		left--
		return order.Transient(fmt.Errorf("injected %s failure", op))
	})
}

func (s *Store) check(op Op) error {
	s.mu.Lock()
	fn := s.fault
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (s *Store) Product(id int64) (order.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// SetPrice changes a product price outside any transaction.
func (s *Store) SetPrice(id int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.UnitPrice = price
	s.products[id] = p
}

func (s *Store) Orders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, items := range s.items {
		n += len(items)
	}
	return n
}

func (s *Store) Order(_ context.Context, orderID int64) (order.Order, []order.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.Order{}, nil, order.ErrOrderNotFound
	}
	items := append([]order.OrderItem(nil), s.items[orderID]...)
	return o, items, nil
}

func (s *Store) OrderByKey(_ context.Context, key string) (order.Order, bool, error) {
	if err := s.check(OpLookup); err != nil {
		return order.Order{}, false, err
	}
	o, ok := s.byKey(key)
	return o, ok, nil
}

func (s *Store) byKey(key string) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if key != "" && o.RequestKey == key {
			return o, true
		}
	}
	return order.Order{}, false
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID int64, status order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
	return nil
}

func (s *Store) Begin(ctx context.Context) (order.Tx, error) {
	if err := s.check(OpBegin); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, order.Transient(err)
	}
	return &tx{
		store:  s,
		held:   make(map[int64]order.Product),
		decr:   make(map[int64]int64),
		status: make(map[int64]order.Status),
	}, nil
}

type tx struct {
	store  *Store
	held   map[int64]order.Product
	orders []order.Order
	items  []order.OrderItem
	decr   map[int64]int64
	status map[int64]order.Status
	done   bool
}

func (t *tx) LockProduct(ctx context.Context, productID int64) (order.Product, error) {
	if t.done {
		return order.Product{}, ErrTxDone
	}
	if p, ok := t.held[productID]; ok {
		p.Stock -= t.decr[productID]
		return p, nil
	}
	if err := t.store.check(OpLock); err != nil {
		return order.Product{}, err
	}

	t.store.mu.Lock()
	row, ok := t.store.rows[productID]
	timeout := t.store.lockTimeout
	t.store.mu.Unlock()
	if !ok {
		return order.Product{}, order.ErrProductNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case row <- struct{}{}:
	case <-timer.C:
		return order.Product{}, order.Transient(fmt.Errorf("product %d: %w", productID, ErrLockTimeout))
	case <-ctx.Done():
		return order.Product{}, order.Transient(ctx.Err())
	}

	t.store.mu.Lock()
	p := t.store.products[productID]
	t.store.mu.Unlock()
	t.held[productID] = p
	return p, nil
}

func (t *tx) CreateOrder(_ context.Context, customerID, requestKey string, total decimal.Decimal) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	if err := t.store.check(OpCreate); err != nil {
		return 0, err
	}
	if _, taken := t.store.byKey(requestKey); taken {
		return 0, order.Transient(fmt.Errorf("key %s: %w", requestKey, ErrDuplicateKey))
	}
	t.store.mu.Lock()
	t.store.seq++
	id := t.store.seq
	t.store.mu.Unlock()

	now := time.Now()
	t.orders = append(t.orders, order.Order{
		ID:          id,
		CustomerID:  customerID,
		TotalAmount: total,
		Status:      order.StatusPending,
		RequestKey:  requestKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return id, nil
}

func (t *tx) AddOrderItem(_ context.Context, item order.OrderItem) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.store.check(OpAddItem); err != nil {
		return err
	}
	t.items = append(t.items, item)
	return nil
}

func (t *tx) DecrementStock(ctx context.Context, productID, quantity int64) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.store.check(OpDecrement); err != nil {
		return err
	}
	p, ok := t.held[productID]
	if !ok {
		var err error
		if p, err = t.LockProduct(ctx, productID); err != nil {
			return err
		}
	}
	if p.Stock-t.decr[productID]-quantity < 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNegative)
	}
	t.decr[productID] += quantity
	return nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, orderID int64, status order.Status) error {
	if t.done {
		return ErrTxDone
	}
	t.status[orderID] = status
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	if err := t.store.check(OpCommit); err != nil {
		t.release()
		return err
	}

	s := t.store
	s.mu.Lock()
	for id, n := range t.decr {
		p := s.products[id]
		p.Stock -= n
		s.products[id] = p
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	for _, it := range t.items {
		s.items[it.OrderID] = append(s.items[it.OrderID], it)
	}
	for id, st := range t.status {
		if o, ok := s.orders[id]; ok {
			o.Status = st
			s.orders[id] = o
		}
	}
	s.mu.Unlock()

	t.release()
	return s.check(OpCommitted)
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id := range t.held {
		<-t.store.rows[id]
	}
	t.held = nil
}
