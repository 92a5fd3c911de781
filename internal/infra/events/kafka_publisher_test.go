package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type writerMock struct{ mock.Mock }

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *writerMock) Close() error { return m.Called().Error(0) }

func paidEvent() usecase.OrderEvent {
	return usecase.OrderEvent{
		Type:          usecase.OrderEventPaid,
		OrderID:       12,
		UserID:        3,
		Status:        model.OrderStatusPaid,
		PaymentStatus: model.PaymentStatusSucceeded,
		Total:         decimal.RequireFromString("40.00"),
		Currency:      "USD",
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisher_WritesEnvelopeKeyedByOrder(t *testing.T) {
	w := &writerMock{}
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil)

	p := &KafkaPublisher{writer: w, topic: "order-events"}
	require.NoError(t, p.Publish(context.Background(), paidEvent()))

	require.Len(t, sent, 1)
	assert.Equal(t, "12", string(sent[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(sent[0].Value, &env))
	assert.Equal(t, usecase.OrderEventPaid, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "order-engine", env.Producer)
	assert.Equal(t, "12", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	var payload OrderPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "paid", payload.Status)
	assert.Equal(t, "succeeded", payload.PaymentStatus)
	assert.Equal(t, "40", payload.Total)
	w.AssertExpectations(t)
}

func TestKafkaPublisher_ReturnsWriteError(t *testing.T) {
	w := &writerMock{}
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	p := &KafkaPublisher{writer: w, topic: "order-events"}
	err := p.Publish(context.Background(), paidEvent())
	assert.EqualError(t, err, "broker down")
}

// ブローカーが応答しなくてもタイムアウトで戻る
func TestKafkaPublisher_StopsWaitingAfterTimeout(t *testing.T) {
	w := &writerMock{}
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(context.DeadlineExceeded)

	p := &KafkaPublisher{writer: w, topic: "order-events", timeout: 50 * time.Millisecond}
	start := time.Now()
	err := p.Publish(context.Background(), paidEvent())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := headerCarrier{msg: &msg}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("baggage", "x=1")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}
