package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace-orders/internal/domain/order"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func testEvent() order.Event {
	return order.Event{
		Kind:         order.EventPlaced,
		OrderID:      17,
		BuyerID:      42,
		StorefrontID: 10,
		Status:       order.StatusPending,
		OccurredAt:   time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestEncodeEvent(t *testing.T) {
	assert.JSONEq(t, `{
		"kind": "order.placed",
		"order_id": 17,
		"buyer_id": 42,
		"storefront_id": 10,
		"status": "pending",
		"occurred_at": "2025-03-01T09:30:00Z"
	}`, string(EncodeEvent(testEvent())))
}

func TestKafkaNotifier_Notify(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}

	require.NoError(t, n.Notify(context.Background(), testEvent()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "17", string(msg.Key))
	assert.Equal(t, "order.placed", string(msg.Headers[0].Value))
	assert.Equal(t, testEvent().OccurredAt, msg.Time)
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	n := &KafkaNotifier{w: w}

	err := n.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish order.placed")
}
