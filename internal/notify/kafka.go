// Package notify publishes committed order changes to Kafka.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/domain/order"
)

var _ order.Notifier = (*KafkaNotifier)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes order events to a topic, keyed by order id so that
// events of one order stay ordered within a partition.
type KafkaNotifier struct {
	w messageWriter
}

// NewKafkaNotifier creates an asynchronous producer for topic. Delivery
// failures are reported to lg.
func NewKafkaNotifier(brokers []string, topic string, lg *zap.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Order events not delivered", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaNotifier{w: w}
}

// Notify enqueues ev for delivery.
func (n *KafkaNotifier) Notify(ctx context.Context, ev order.Event) error {
	if err := n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: EncodeEvent(ev),
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Kind)},
		},
	}); err != nil {
		return errors.Wrapf(err, "publish %s", ev.Kind)
	}
	return nil
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// EncodeEvent renders ev as a JSON object.
func EncodeEvent(ev order.Event) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(ev.Kind))
	e.FieldStart("order_id")
	e.Int64(ev.OrderID)
	e.FieldStart("buyer_id")
	e.Int64(ev.BuyerID)
	e.FieldStart("storefront_id")
	e.Int64(ev.StorefrontID)
	e.FieldStart("status")
	e.Str(string(ev.Status))
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
