package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// 決済プロバイダ側の状態。statusとは別の軸
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var (
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOrderFinalized    = errors.New("order already finalized")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// 管理者が動かせる遷移表。paidへはwebhookからしか到達しない
var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:    {OrderStatusCancelled: true},
	OrderStatusPaid:       {OrderStatusProcessing: true, OrderStatusCancelled: true},
	OrderStatusProcessing: {OrderStatusShipped: true},
	OrderStatusShipped:    {OrderStatusDelivered: true},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch ps := PaymentStatus(s); ps {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return ps, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// 条件付きUPDATEで書き込む差分。nilの項目は触らない
type OrderPatch struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	IntentID      *string
	ChargeID      *string
	LastEventID   *string
	StockReleased *bool
}

// Transition は「どの状態からなら」「何を書くか」をひとまとめにしたもの。
// リポジトリは From/FromPayment/ExpiredBefore を WHERE 句にして1回のUPDATEで適用する。
// 0件更新なら競合で負けたということ。
type Transition struct {
	Name          string
	From          []OrderStatus
	FromPayment   []PaymentStatus
	ExpiredBefore *time.Time
	RequireStock  bool // stock_released = false
	Patch         OrderPatch
}

// 事前条件を満たすか（メモリ上の判定用）
func (t Transition) Allows(o *Order) bool {
	if len(t.From) > 0 && !slices.Contains(t.From, o.Status) {
		return false
	}
	if len(t.FromPayment) > 0 && !slices.Contains(t.FromPayment, o.PaymentStatus) {
		return false
	}
	if t.ExpiredBefore != nil && !o.ReservedUntil.Before(*t.ExpiredBefore) {
		return false
	}
	if t.RequireStock && o.StockReleased {
		return false
	}
	return true
}

// 成功後に手元の構造体へも反映する
func (t Transition) Apply(o *Order) {
	p := t.Patch
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.IntentID != nil {
		o.Payment.IntentID = *p.IntentID
	}
	if p.ChargeID != nil {
		o.Payment.ChargeID = *p.ChargeID
	}
	if p.LastEventID != nil {
		o.Payment.LastEventID = *p.LastEventID
	}
	if p.StockReleased != nil {
		o.StockReleased = *p.StockReleased
	}
}

// 決済成功（webhookのみ）。intentIDが空なら記録済みの値を残す
func MarkPaid(intentID, chargeID, eventID string) Transition {
	var intent *string
	if intentID != "" {
		intent = ptr(intentID)
	}
	return Transition{
		Name:        "mark_paid",
		From:        []OrderStatus{OrderStatusPending},
		FromPayment: []PaymentStatus{PaymentStatusPending},
		Patch: OrderPatch{
			Status:        ptr(OrderStatusPaid),
			PaymentStatus: ptr(PaymentStatusSucceeded),
			IntentID:      intent,
			ChargeID:      ptr(chargeID),
			LastEventID:   ptr(eventID),
		},
	}
}

// 予約切れ
func Expire(now time.Time) Transition {
	return Transition{
		Name:          "expire",
		From:          []OrderStatus{OrderStatusPending},
		ExpiredBefore: &now,
		RequireStock:  true,
		Patch: OrderPatch{
			Status:        ptr(OrderStatusCancelled),
			PaymentStatus: ptr(PaymentStatusFailed),
		},
	}
}

// 未払いキャンセル（お金は動いていない）
func CancelUnpaid() Transition {
	return Transition{
		Name:        "cancel_unpaid",
		From:        []OrderStatus{OrderStatusPending},
		FromPayment: []PaymentStatus{PaymentStatusPending},
		Patch: OrderPatch{
			Status:        ptr(OrderStatusCancelled),
			PaymentStatus: ptr(PaymentStatusFailed),
		},
	}
}

// 支払い済みキャンセル。paymentStatusと在庫戻しはcharge.refundedで行う
func CancelPaid() Transition {
	return Transition{
		Name:        "cancel_paid",
		From:        []OrderStatus{OrderStatusPaid},
		FromPayment: []PaymentStatus{PaymentStatusSucceeded},
		Patch: OrderPatch{
			Status: ptr(OrderStatusCancelled),
		},
	}
}

// 返金確定。在庫を戻した注文だけがここを通る
func MarkRefunded(eventID string) Transition {
	return Transition{
		Name: "mark_refunded",
		From: []OrderStatus{
			OrderStatusPaid,
			OrderStatusProcessing,
			OrderStatusShipped,
			OrderStatusCancelled,
		},
		FromPayment:  []PaymentStatus{PaymentStatusSucceeded},
		RequireStock: true,
		Patch: OrderPatch{
			Status:        ptr(OrderStatusRefunded),
			PaymentStatus: ptr(PaymentStatusRefunded),
			StockReleased: ptr(true),
			LastEventID:   ptr(eventID),
		},
	}
}

// 管理者によるステータス変更。paymentStatusは動かさない
func AdminTransition(current, next OrderStatus) (Transition, error) {
	if current == OrderStatusCancelled || current == OrderStatusRefunded {
		return Transition{}, ErrOrderFinalized
	}
	if !CanTransition(current, next) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return Transition{
		Name:  "admin_" + string(next),
		From:  []OrderStatus{current},
		Patch: OrderPatch{Status: ptr(next)},
	}, nil
}

func ptr[T any](v T) *T { return &v }
