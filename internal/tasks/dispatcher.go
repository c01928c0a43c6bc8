package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"orderq/internal/order"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// Dispatcher puts work on the queue and reports what became of it. It is the
// order.Scheduler used by the worker for post-commit follow-ups.
type Dispatcher struct {
	client    enqueuer
	inspector taskInspector
	retention time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewDispatcher(client *asynq.Client, inspector *asynq.Inspector, retention time.Duration, log *zap.Logger) *Dispatcher {
	return newDispatcher(client, inspector, retention, log)
}

func newDispatcher(client enqueuer, inspector taskInspector, retention time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		client:    client,
		inspector: inspector,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// EnqueueOrder validates req and queues it, returning the task id without
// waiting for the order to be placed. A non-empty key becomes the task id, so a
// resubmitted key yields the task that already exists.
func (d *Dispatcher) EnqueueOrder(ctx context.Context, req order.Request, key string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	task, err := NewProcessOrderTask(req, d.now())
	if err != nil {
		return "", err
	}

	id := key
	if id == "" {
		id = uuid.NewString()
	}
	// the processor retries transient failures itself
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(QueueOrders),
		asynq.MaxRetry(0),
		asynq.Retention(d.retention),
	)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict) && key != "":
		d.log.Info("order already queued for idempotency key", zap.String("task_id", id))
		return id, nil
	case err != nil:
		return "", fmt.Errorf("failed to enqueue order: %w", err)
	}
	d.log.Info("order queued", zap.String("task_id", id), zap.Int("items", len(req.Items)))
	return id, nil
}

func (d *Dispatcher) EnqueueData(ctx context.Context, data json.RawMessage) (string, error) {
	task, err := NewProcessDataTask(data)
	if err != nil {
		return "", err
	}
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(uuid.NewString()),
		asynq.Queue(QueueDefault),
		asynq.Retention(d.retention),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue data task: %w", err)
	}
	return info.ID, nil
}

func (d *Dispatcher) ScheduleStatusUpdate(ctx context.Context, orderID int64, status order.Status) error {
	task, err := NewUpdateStatusTask(orderID, status)
	if err != nil {
		return err
	}
	return d.enqueueFollowUp(ctx, task, fmt.Sprintf("order:%d:status:%s", orderID, status))
}

func (d *Dispatcher) ScheduleNotification(ctx context.Context, n order.Notification) error {
	task, err := NewNotifyTask(n)
	if err != nil {
		return err
	}
	return d.enqueueFollowUp(ctx, task, fmt.Sprintf("order:%d:notify", n.OrderID))
}

// follow-ups are keyed by order so a second schedule for the same step is a no-op
func (d *Dispatcher) enqueueFollowUp(ctx context.Context, task *asynq.Task, id string) error {
	_, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Retention(d.retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return nil
}

// Status reports the state of an order task.
func (d *Dispatcher) Status(ctx context.Context, taskID string) (Status, error) {
	return d.status(ctx, QueueOrders, taskID)
}

func (d *Dispatcher) DataStatus(ctx context.Context, taskID string) (Status, error) {
	return d.status(ctx, QueueDefault, taskID)
}

func (d *Dispatcher) status(ctx context.Context, queue, taskID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	info, err := d.inspector.GetTaskInfo(queue, taskID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return Status{TaskID: taskID, State: StatePending, Unknown: true}, nil
	case err != nil:
		return Status{}, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}
	return statusFromInfo(info), nil
}
