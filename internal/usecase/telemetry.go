package usecase

import (
	"context"
	"log/slog"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("order-engine/usecase")

// グローバルのMeterProviderが後から設定されても委譲される
var meters = newInstruments(otel.Meter("order-engine/usecase"))

type instruments struct {
	ordersCreated  metric.Int64Counter
	webhookEvents  metric.Int64Counter
	ordersExpired  metric.Int64Counter
	refunds        metric.Int64Counter
	sweepDurations metric.Float64Histogram
}

func newInstruments(m metric.Meter) instruments {
	fallback := noop.NewMeterProvider().Meter("noop")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	hist, err := m.Float64Histogram("reaper.sweep.duration",
		metric.WithDescription("reservation sweep duration"), metric.WithUnit("s"))
	if err != nil {
		hist, _ = fallback.Float64Histogram("reaper.sweep.duration")
	}
	return instruments{
		ordersCreated:  counter("orders.created", "orders created by checkout"),
		webhookEvents:  counter("webhook.events", "payment webhook events by type and outcome"),
		ordersExpired:  counter("orders.expired", "orders expired by the reservation reaper"),
		refunds:        counter("payments.refunds", "refunds requested from the payment provider"),
		sweepDurations: hist,
	}
}

func metricAttrs(kv ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(kv...)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// コミット後に呼ぶ。発行に失敗してもログだけ
func publishOrderEvent(ctx context.Context, pub EventPublisher, logger *slog.Logger, clock Clock, typ string, o model.Order) {
	if pub == nil {
		return
	}
	ev := OrderEvent{
		Type:          typ,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		Currency:      o.Currency,
		OccurredAt:    clock.Now(),
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "publish order event failed",
			slog.String("event_type", typ),
			slog.Int64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
