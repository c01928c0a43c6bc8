package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"orderq/internal/order"
	"orderq/internal/order/ordertest"
)

type fakeNotifier struct {
	sent []order.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg order.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func newHandlers(t *testing.T, store *ordertest.Store, client *fakeClient) (*Handlers, *fakeNotifier) {
	t.Helper()
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)
	p := order.NewProcessor(store, d,
		order.WithPaymentDelay(0),
		order.WithRetryPolicy(order.RetryPolicy{Attempts: 3, Delay: time.Millisecond}),
	)
	n := &fakeNotifier{}
	return &Handlers{
		Processor: p,
		Orders:    store,
		Notifier:  n,
		Log:       zaptest.NewLogger(t),
	}, n
}

func orderTask(t *testing.T, req order.Request) *asynq.Task {
	t.Helper()
	task, err := NewProcessOrderTask(req, time.Now())
	require.NoError(t, err)
	return task
}

func widgetStore(stock int64) *ordertest.Store {
	return ordertest.NewStore(order.Product{ID: 1, Name: "widget", UnitPrice: decimal.RequireFromString("10.00"), Stock: stock})
}

func TestHandleProcessOrderSuccess(t *testing.T) {
	store := widgetStore(5)
	client := &fakeClient{}
	h, _ := newHandlers(t, store, client)

	req := order.Request{CustomerID: "c1", Items: []order.Item{{ProductID: 1, Quantity: 3}}}
	require.NoError(t, h.HandleProcessOrder(context.Background(), orderTask(t, req)))

	p, _ := store.Product(1)
	assert.Equal(t, int64(2), p.Stock)
	require.Len(t, store.Orders(), 1)

	// status update and notification queued as follow-ups
	require.Len(t, client.tasks, 2)
	assert.Equal(t, TypeUpdateOrderStatus, client.tasks[0].task.Type())
	assert.Equal(t, TypeNotifyCustomer, client.tasks[1].task.Type())
}

func TestHandleProcessOrderOutOfStockSkipsRetry(t *testing.T) {
	store := widgetStore(2)
	client := &fakeClient{}
	h, _ := newHandlers(t, store, client)

	req := order.Request{CustomerID: "c1", Items: []order.Item{{ProductID: 1, Quantity: 3}}}
	err := h.HandleProcessOrder(context.Background(), orderTask(t, req))

	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), string(order.FailureOutOfStock))
	assert.Empty(t, store.Orders())
	assert.Empty(t, client.tasks)
}

func TestHandleProcessOrderInvalidPayload(t *testing.T) {
	h, _ := newHandlers(t, widgetStore(1), &fakeClient{})

	err := h.HandleProcessOrder(context.Background(), asynq.NewTask(TypeProcessOrder, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task := asynq.NewTask(TypeProcessOrder, []byte(`{"customer_id":"","items":[]}`))
	err = h.HandleProcessOrder(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), string(order.FailureInvalidRequest))
}

func TestHandleProcessOrderCancelledIsArchived(t *testing.T) {
	store := widgetStore(5)
	client := &fakeClient{}
	h, _ := newHandlers(t, store, client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := order.Request{CustomerID: "c1", Items: []order.Item{{ProductID: 1, Quantity: 1}}}
	err := h.HandleProcessOrder(ctx, orderTask(t, req))

	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), string(order.FailureCancelled))
	assert.Empty(t, store.Orders())
	assert.Empty(t, client.tasks)
	p, _ := store.Product(1)
	assert.Equal(t, int64(5), p.Stock)
}

func TestCancelledResultReportsFailure(t *testing.T) {
	res := resultFromOutcome(order.Outcome{Failure: order.FailureCancelled, Reason: "context canceled", Attempts: 1})
	b, err := json.Marshal(res)
	require.NoError(t, err)

	st := statusFromInfo(&asynq.TaskInfo{
		ID:      "t1",
		State:   asynq.TaskStateArchived,
		LastErr: "cancelled: context canceled: skip retry for the task",
		Result:  b,
	})
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, string(order.FailureCancelled), st.Failure)
	assert.Equal(t, "context canceled", st.Error)
}

func TestHandleUpdateOrderStatus(t *testing.T) {
	store := widgetStore(5)
	h, _ := newHandlers(t, store, &fakeClient{})
	req := order.Request{CustomerID: "c1", Items: []order.Item{{ProductID: 1, Quantity: 1}}}
	require.NoError(t, h.HandleProcessOrder(context.Background(), orderTask(t, req)))
	id := store.Orders()[0].ID

	task, err := NewUpdateStatusTask(id, order.StatusProcessed)
	require.NoError(t, err)
	require.NoError(t, h.HandleUpdateOrderStatus(context.Background(), task))

	o, _, err := store.Order(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessed, o.Status)
}

func TestHandleUpdateOrderStatusUnknownOrder(t *testing.T) {
	h, _ := newHandlers(t, widgetStore(5), &fakeClient{})

	task, err := NewUpdateStatusTask(404, order.StatusProcessed)
	require.NoError(t, err)
	assert.ErrorIs(t, h.HandleUpdateOrderStatus(context.Background(), task), asynq.SkipRetry)

	task, err = NewUpdateStatusTask(1, order.Status("shipped"))
	require.NoError(t, err)
	assert.ErrorIs(t, h.HandleUpdateOrderStatus(context.Background(), task), asynq.SkipRetry)
}

func TestHandleNotifyCustomer(t *testing.T) {
	h, n := newHandlers(t, widgetStore(5), &fakeClient{})
	msg := order.Notification{CustomerID: "c1", OrderID: 3, TotalAmount: decimal.RequireFromString("30.00")}

	task, err := NewNotifyTask(msg)
	require.NoError(t, err)
	require.NoError(t, h.HandleNotifyCustomer(context.Background(), task))
	require.Len(t, n.sent, 1)
	assert.Equal(t, "c1", n.sent[0].CustomerID)
	assert.Equal(t, int64(3), n.sent[0].OrderID)
	assert.True(t, n.sent[0].TotalAmount.Equal(msg.TotalAmount))

	// a failed notification goes back to the queue for retry
	n.err = errors.New("publish failed")
	err = h.HandleNotifyCustomer(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleProcessData(t *testing.T) {
	h, _ := newHandlers(t, widgetStore(0), &fakeClient{})

	task, err := NewProcessDataTask(json.RawMessage(`"hello"`))
	require.NoError(t, err)
	assert.NoError(t, h.HandleProcessData(context.Background(), task))

	h.ProcessDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.HandleProcessData(ctx, task), context.DeadlineExceeded)
}

func TestDataString(t *testing.T) {
	assert.Equal(t, "hello", dataString(json.RawMessage(`"hello"`)))
	assert.Equal(t, `{"a":1}`, dataString(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "42", dataString(json.RawMessage(`42`)))
}

func TestResultFromOutcome(t *testing.T) {
	ok := resultFromOutcome(order.Succeeded(9, decimal.NewFromInt(30)))
	assert.Equal(t, OrderResult{OrderID: 9, TotalAmount: "30.00"}, ok)

	failed := resultFromOutcome(order.Failed(order.FailureOutOfStock, "product 1: insufficient stock"))
	assert.Equal(t, "out_of_stock", failed.Failure)
	assert.Equal(t, "product 1: insufficient stock", failed.Reason)
	assert.Zero(t, failed.OrderID)
}
