// Package notify delivers order confirmations to customers. Delivery is best
// effort: callers log and count failures but never undo the order.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orderq/internal/order"
)

const Channel = "orders:notifications"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is what subscribers of Channel receive.
type Message struct {
	CustomerID  string    `json:"customer_id"`
	OrderID     int64     `json:"order_id"`
	TotalAmount string    `json:"total_amount"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

func NewMessage(n order.Notification, now time.Time) Message {
	total := n.TotalAmount.StringFixed(2)
	return Message{
		CustomerID:  n.CustomerID,
		OrderID:     n.OrderID,
		TotalAmount: total,
		Text:        fmt.Sprintf("Order %d confirmed. Total: %s", n.OrderID, total),
		SentAt:      now.UTC(),
	}
}

// Redis publishes confirmations on a pub/sub channel.
type Redis struct {
	client  publisher
	channel string
	log     *zap.Logger
	now     func() time.Time
}

func NewRedis(client redis.UniversalClient, log *zap.Logger) *Redis {
	return newRedis(client, log)
}

func newRedis(client publisher, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, channel: Channel, log: log, now: time.Now}
}

func (r *Redis) Notify(ctx context.Context, n order.Notification) error {
	msg := NewMessage(n, r.now())
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.channel, body).Result()
	if err != nil {
		return fmt.Errorf("failed to publish notification for order %d: %w", n.OrderID, err)
	}
	r.log.Info("customer notified",
		zap.String("customer_id", msg.CustomerID),
		zap.Int64("order_id", msg.OrderID),
		zap.String("total_amount", msg.TotalAmount),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Log only writes the confirmation to the log. Used when no Redis is configured
// for notifications.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, n order.Notification) error {
	l.log.Info("customer notified",
		zap.String("customer_id", n.CustomerID),
		zap.Int64("order_id", n.OrderID),
		zap.String("total_amount", n.TotalAmount.StringFixed(2)),
	)
	return nil
}
