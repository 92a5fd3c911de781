package usecase

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 外部の決済プロバイダ（Stripe）への窓口
type PaymentProvider interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	Refund(ctx context.Context, req RefundRequest) error
}

type PaymentIntentRequest struct {
	OrderID        int64
	Amount         int64 // 最小通貨単位
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// 返金はPaymentIntent単位で全額
type RefundRequest struct {
	IntentID       string
	IdempotencyKey string
	Reason         string
}

const (
	PaymentEventSucceeded = "payment_intent.succeeded"
	PaymentEventRefunded  = "charge.refunded"
)

// 署名検証済みのwebhookイベント（必要な項目だけ）
type PaymentEvent struct {
	ID       string
	Type     string
	OrderID  int64 // metadata.orderId。無ければ0
	IntentID string
	ChargeID string
}

// 署名が不正ならerror
type WebhookVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (PaymentEvent, error)
}

// 注文ライフサイクルイベントの発行先。失敗しても注文処理は巻き戻さない
type EventPublisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

const (
	OrderEventCreated       = "order.created"
	OrderEventPaid          = "order.paid"
	OrderEventCancelled     = "order.cancelled"
	OrderEventExpired       = "order.expired"
	OrderEventRefunded      = "order.refunded"
	OrderEventStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	Type          string
	OrderID       int64
	UserID        int64
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	Total         decimal.Decimal
	Currency      string
	OccurredAt    time.Time
}

// 複数インスタンス間の排他。acquired=falseなら他が保持中
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// 発行先が無いとき用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }
