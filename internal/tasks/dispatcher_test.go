package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderq/internal/order"
)

type enqueued struct {
	task  *asynq.Task
	id    string
	queue string
	retry int
}

type fakeClient struct {
	mu    sync.Mutex
	seen  map[string]bool
	tasks []enqueued
	err   error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	e := enqueued{task: task, queue: "default", retry: 25}
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			e.id = o.Value().(string)
		case asynq.QueueOpt:
			e.queue = o.Value().(string)
		case asynq.MaxRetryOpt:
			e.retry = o.Value().(int)
		}
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[e.id] {
		return nil, asynq.ErrTaskIDConflict
	}
	c.seen[e.id] = true
	c.tasks = append(c.tasks, e)
	return &asynq.TaskInfo{ID: e.id, Queue: e.queue, Type: task.Type(), State: asynq.TaskStatePending}, nil
}

type fakeInspector struct {
	info  map[string]*asynq.TaskInfo
	err   error
	asked []string
}

func (i *fakeInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	i.asked = append(i.asked, queue+"/"+id)
	if i.err != nil {
		return nil, i.err
	}
	info, ok := i.info[id]
	if !ok {
		return nil, fmt.Errorf("asynq: %w", asynq.ErrTaskNotFound)
	}
	return info, nil
}

func validRequest() order.Request {
	return order.Request{
		CustomerID: "cust-9",
		Items:      []order.Item{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}},
	}
}

func TestEnqueueOrder(t *testing.T) {
	client := &fakeClient{}
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)

	id, err := d.EnqueueOrder(context.Background(), validRequest(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, client.tasks, 1)
	got := client.tasks[0]
	assert.Equal(t, id, got.id)
	assert.Equal(t, TypeProcessOrder, got.task.Type())
	assert.Equal(t, QueueOrders, got.queue)
	assert.Equal(t, 0, got.retry)

	var payload ProcessOrderPayload
	require.NoError(t, json.Unmarshal(got.task.Payload(), &payload))
	assert.Equal(t, validRequest(), payload.Request())
}

func TestEnqueueOrderGeneratesDistinctIDs(t *testing.T) {
	d := newDispatcher(&fakeClient{}, &fakeInspector{}, time.Hour, nil)

	a, err := d.EnqueueOrder(context.Background(), validRequest(), "")
	require.NoError(t, err)
	b, err := d.EnqueueOrder(context.Background(), validRequest(), "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEnqueueOrderIdempotencyKey(t *testing.T) {
	client := &fakeClient{}
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)

	first, err := d.EnqueueOrder(context.Background(), validRequest(), "checkout-42")
	require.NoError(t, err)
	second, err := d.EnqueueOrder(context.Background(), validRequest(), "checkout-42")
	require.NoError(t, err)

	assert.Equal(t, "checkout-42", first)
	assert.Equal(t, first, second)
	assert.Len(t, client.tasks, 1)
}

func TestEnqueueOrderRejectsInvalidRequest(t *testing.T) {
	client := &fakeClient{}
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)

	tests := map[string]order.Request{
		"no customer":   {Items: []order.Item{{ProductID: 1, Quantity: 1}}},
		"no items":      {CustomerID: "c"},
		"zero quantity": {CustomerID: "c", Items: []order.Item{{ProductID: 1, Quantity: 0}}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := d.EnqueueOrder(context.Background(), req, "")
			assert.ErrorIs(t, err, order.ErrInvalidRequest)
		})
	}
	assert.Empty(t, client.tasks)
}

func TestEnqueueOrderBrokerError(t *testing.T) {
	d := newDispatcher(&fakeClient{err: errors.New("dial tcp: connection refused")}, &fakeInspector{}, time.Hour, nil)

	_, err := d.EnqueueOrder(context.Background(), validRequest(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestScheduleFollowUpsAreKeyedByOrder(t *testing.T) {
	client := &fakeClient{}
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)
	ctx := context.Background()
	n := order.Notification{CustomerID: "c", OrderID: 7, TotalAmount: decimal.NewFromInt(30)}

	require.NoError(t, d.ScheduleStatusUpdate(ctx, 7, order.StatusProcessed))
	require.NoError(t, d.ScheduleNotification(ctx, n))
	// repeated scheduling is absorbed
	require.NoError(t, d.ScheduleStatusUpdate(ctx, 7, order.StatusProcessed))
	require.NoError(t, d.ScheduleNotification(ctx, n))

	require.Len(t, client.tasks, 2)
	assert.Equal(t, TypeUpdateOrderStatus, client.tasks[0].task.Type())
	assert.Equal(t, "order:7:status:processed", client.tasks[0].id)
	assert.Equal(t, TypeNotifyCustomer, client.tasks[1].task.Type())
	assert.Equal(t, "order:7:notify", client.tasks[1].id)
	for _, e := range client.tasks {
		assert.Equal(t, QueueDefault, e.queue)
	}

	var payload NotifyPayload
	require.NoError(t, json.Unmarshal(client.tasks[1].task.Payload(), &payload))
	assert.True(t, payload.TotalAmount.Equal(decimal.NewFromInt(30)))
}

func TestEnqueueData(t *testing.T) {
	client := &fakeClient{}
	d := newDispatcher(client, &fakeInspector{}, time.Hour, nil)

	id, err := d.EnqueueData(context.Background(), json.RawMessage(`"hello"`))
	require.NoError(t, err)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, id, client.tasks[0].id)
	assert.Equal(t, TypeProcessData, client.tasks[0].task.Type())
}

func TestStatus(t *testing.T) {
	insp := &fakeInspector{info: map[string]*asynq.TaskInfo{
		"queued":  {ID: "queued", State: asynq.TaskStatePending},
		"later":   {ID: "later", State: asynq.TaskStateScheduled},
		"running": {ID: "running", State: asynq.TaskStateActive},
		"done": {
			ID:     "done",
			State:  asynq.TaskStateCompleted,
			Result: []byte(`{"order_id":12,"total_amount":"30.00"}`),
		},
		"rejected": {
			ID:      "rejected",
			State:   asynq.TaskStateArchived,
			LastErr: "out_of_stock: product 1: insufficient stock: skip retry for the task",
			Result:  []byte(`{"failure":"out_of_stock","reason":"product 1: insufficient stock"}`),
		},
		"crashed": {ID: "crashed", State: asynq.TaskStateArchived, LastErr: "panic"},
	}}
	d := newDispatcher(&fakeClient{}, insp, time.Hour, nil)

	tests := []struct {
		id      string
		state   State
		failure string
		errMsg  string
		result  string
		unknown bool
	}{
		{id: "queued", state: StatePending},
		{id: "later", state: StatePending},
		{id: "running", state: StateStarted},
		{id: "done", state: StateProcessed, result: `{"order_id":12,"total_amount":"30.00"}`},
		{id: "rejected", state: StateFailed, failure: "out_of_stock", errMsg: "product 1: insufficient stock",
			result: `{"failure":"out_of_stock","reason":"product 1: insufficient stock"}`},
		{id: "crashed", state: StateFailed, errMsg: "panic"},
		{id: "never-seen", state: StatePending, unknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			st, err := d.Status(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.id, st.TaskID)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.failure, st.Failure)
			assert.Equal(t, tt.errMsg, st.Error)
			assert.Equal(t, tt.unknown, st.Unknown)
			if tt.result == "" {
				assert.Empty(t, st.Result)
			} else {
				assert.JSONEq(t, tt.result, string(st.Result))
			}
		})
	}
	assert.Contains(t, insp.asked, QueueOrders+"/done")
}

func TestStatusUnknownQueue(t *testing.T) {
	d := newDispatcher(&fakeClient{}, &fakeInspector{err: fmt.Errorf("asynq: %w", asynq.ErrQueueNotFound)}, time.Hour, nil)

	st, err := d.DataStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	assert.True(t, st.Unknown)
}

func TestStatusInspectorError(t *testing.T) {
	d := newDispatcher(&fakeClient{}, &fakeInspector{err: errors.New("redis down")}, time.Hour, nil)

	_, err := d.Status(context.Background(), "abc")
	assert.Error(t, err)
}

func TestDataStatusPlainTextResult(t *testing.T) {
	insp := &fakeInspector{info: map[string]*asynq.TaskInfo{
		"d1": {ID: "d1", State: asynq.TaskStateCompleted, Result: []byte("Processed: hello")},
	}}
	d := newDispatcher(&fakeClient{}, insp, time.Hour, nil)

	st, err := d.DataStatus(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessed, st.State)
	assert.JSONEq(t, `"Processed: hello"`, string(st.Result))
	assert.Equal(t, []string{QueueDefault + "/d1"}, insp.asked)
}
