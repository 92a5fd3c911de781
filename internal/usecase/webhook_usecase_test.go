package usecase_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func succeededEvent(eventID string, orderID int64, intentID string) usecase.PaymentEvent {
	return usecase.PaymentEvent{
		ID:       eventID,
		Type:     usecase.PaymentEventSucceeded,
		OrderID:  orderID,
		IntentID: intentID,
		ChargeID: "ch_" + eventID,
	}
}

func refundedEvent(eventID, intentID string) usecase.PaymentEvent {
	return usecase.PaymentEvent{
		ID:       eventID,
		Type:     usecase.PaymentEventRefunded,
		IntentID: intentID,
		ChargeID: "ch_refund",
	}
}

// =====================
// 署名
// =====================

func TestHandleStripeEvent_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	wh := f.webhookUsecase(&stubVerifier{err: errors.New("bad signature")})

	err := wh.HandleStripeEvent(context.Background(), []byte("{}"), "t=1,v1=deadbeef")
	assertAppError(t, err, usecase.KindSignatureInvalid, usecase.CodeWebhookSignatureInvalid)
}

// 対象外のイベント種別は受け取るだけ
func TestHandleStripeEvent_IgnoresOtherTypes(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	wh := f.webhookUsecase(&stubVerifier{ev: usecase.PaymentEvent{ID: "evt_x", Type: "customer.created", OrderID: out.ID}})

	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
}

// =====================
// payment_intent.succeeded
// =====================

func TestPaymentSucceeded_ReservesStockOnceAndReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	ev := succeededEvent("evt_1", out.ID, "pi_1")
	wh := f.webhookUsecase(&stubVerifier{ev: ev})

	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, model.PaymentStatusSucceeded, o.PaymentStatus)
	assert.Equal(t, "evt_1", o.Payment.LastEventID)
	assert.Equal(t, "pi_1", o.Payment.IntentID)
	assert.Equal(t, "ch_evt_1", o.Payment.ChargeID)
	assert.Equal(t, int64(3), f.stock(f.productA.ID))
	assert.Equal(t, int64(4), f.stock(f.productB.ID))

	movements := f.store.Movements()
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, model.StockReasonOrderPaid, m.Reason)
		assert.Equal(t, out.ID, m.OrderID)
		assert.Less(t, m.Delta, int64(0))
	}

	// 同じイベントの再送
	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))
	assert.Equal(t, int64(3), f.stock(f.productA.ID))
	assert.Equal(t, int64(4), f.stock(f.productB.ID))
	assert.Len(t, f.store.Movements(), 2)

	assert.Equal(t, []string{usecase.OrderEventCreated, usecase.OrderEventPaid}, f.events.Types())
}

// 別のイベントIDで2回目の成功通知が来ても二重に減らさない
func TestPaymentSucceeded_SecondEventForPaidOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)

	require.Equal(t, "applied", f.webhookUsecase(nil).HandlePaymentSucceeded(context.Background(), succeededEvent("evt_1", out.ID, "pi_1")))
	got := f.webhookUsecase(nil).HandlePaymentSucceeded(context.Background(), succeededEvent("evt_2", out.ID, "pi_1"))

	assert.Equal(t, "precondition_failed", got)
	o, _ := f.store.Order(out.ID)
	assert.Equal(t, "evt_1", o.Payment.LastEventID)
	assert.Equal(t, int64(3), f.stock(f.productA.ID))
}

// 同じイベントが同時に届いても在庫は1回だけ減る
func TestPaymentSucceeded_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	wh := f.webhookUsecase(nil)
	ev := succeededEvent("evt_1", out.ID, "pi_1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wh.HandlePaymentSucceeded(context.Background(), ev)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), f.stock(f.productA.ID))
	assert.Equal(t, int64(4), f.stock(f.productB.ID))
	assert.Len(t, f.store.Movements(), 2)
}

// カートの並びに関係なく商品はproduct_id順に更新される
func TestLedgerUpdates_FollowProductIDOrder(t *testing.T) {
	f := newFixture(t)
	f.store.AddCart(f.user.ID,
		model.CartItem{ProductID: f.productB.ID, Quantity: 1},
		model.CartItem{ProductID: f.productA.ID, Quantity: 2},
	)
	out, err := f.checkoutUsecase().Checkout(context.Background(), f.user.ID, usecase.CheckoutInput{
		AddressID:     f.address.ID,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	require.Equal(t, f.productB.ID, out.Items[0].ProductID)
	require.Less(t, f.productA.ID, f.productB.ID)

	paid := f.webhookUsecase(&stubVerifier{ev: succeededEvent("evt_order", out.ID, "pi_order")})
	require.NoError(t, paid.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))
	refunded := f.webhookUsecase(&stubVerifier{ev: refundedEvent("evt_order_refund", "pi_order")})
	require.NoError(t, refunded.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	var got []int64
	for _, m := range f.store.Movements() {
		got = append(got, m.ProductID)
	}
	assert.Equal(t, []int64{f.productA.ID, f.productB.ID, f.productA.ID, f.productB.ID}, got)
	assert.Equal(t, int64(5), f.stock(f.productA.ID))
	assert.Equal(t, int64(5), f.stock(f.productB.ID))
}

// 在庫が足りなければ返金して全部巻き戻す。注文はpending/pendingのまま
func TestPaymentSucceeded_StockUnavailableRefundsAndRollsBack(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	f.store.SetStock(f.productB.ID, 0)

	f.payments.On("Refund", mock.Anything, usecase.RefundRequest{
		IntentID:       "pi_1",
		IdempotencyKey: "order-" + strconv.FormatInt(out.ID, 10) + "-refund",
		Reason:         "stock_unavailable",
	}).Return(nil).Once()

	got := f.webhookUsecase(nil).HandlePaymentSucceeded(context.Background(), succeededEvent("evt_1", out.ID, "pi_1"))
	assert.Equal(t, "stock_unavailable", got)

	//Aは途中まで減っても巻き戻る
	assert.Equal(t, int64(5), f.stock(f.productA.ID))
	assert.Equal(t, int64(0), f.stock(f.productB.ID))
	assert.Empty(t, f.store.Movements())

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
	assert.Empty(t, o.Payment.LastEventID)
	f.payments.AssertExpectations(t)
}

// 返金に失敗してもwebhookとしては受け取る
func TestPaymentSucceeded_RefundFailureStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	f.store.SetStock(f.productA.ID, 1)
	f.payments.On("Refund", mock.Anything, mock.Anything).Return(errors.New("stripe down"))

	wh := f.webhookUsecase(&stubVerifier{ev: succeededEvent("evt_1", out.ID, "pi_1")})
	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	f.payments.AssertNumberOfCalls(t, "Refund", 1)
}

func TestPaymentSucceeded_OrphanEvents(t *testing.T) {
	f := newFixture(t)
	wh := f.webhookUsecase(nil)

	assert.Equal(t, "orphan", wh.HandlePaymentSucceeded(context.Background(), succeededEvent("evt_1", 0, "pi_1")))
	assert.Equal(t, "orphan", wh.HandlePaymentSucceeded(context.Background(), succeededEvent("evt_2", 9999, "pi_2")))
	assert.Empty(t, f.store.Movements())
}

// 期限切れでキャンセル済みの注文には在庫を引き当てない
func TestPaymentSucceeded_AfterExpiryIsNoop(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	f.clock.Advance(reservationWindow + time.Second)

	reaper := usecase.NewReservationReaper(f.store, f.store.Orders(), nil, f.clock, time.Minute, 10, f.events, f.logger)
	_, err := reaper.Sweep(context.Background())
	require.NoError(t, err)

	got := f.webhookUsecase(nil).HandlePaymentSucceeded(context.Background(), succeededEvent("evt_late", out.ID, "pi_1"))
	assert.Equal(t, "precondition_failed", got)
	assert.Equal(t, int64(5), f.stock(f.productA.ID))

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.Equal(t, model.PaymentStatusFailed, o.PaymentStatus)
}

// =====================
// charge.refunded
// =====================

func TestChargeRefunded_RestoresStockOnce(t *testing.T) {
	f := newFixture(t)
	out := f.paidOrder(t, "pi_9")

	wh := f.webhookUsecase(&stubVerifier{ev: refundedEvent("evt_r1", "pi_9")})
	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusRefunded, o.Status)
	assert.Equal(t, model.PaymentStatusRefunded, o.PaymentStatus)
	assert.True(t, o.StockReleased)
	assert.Equal(t, "evt_r1", o.Payment.LastEventID)
	assert.Equal(t, int64(5), f.stock(f.productA.ID))
	assert.Equal(t, int64(5), f.stock(f.productB.ID))

	// 再送と、別IDの重複通知
	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))
	assert.Equal(t, "duplicate", f.webhookUsecase(nil).HandleChargeRefunded(context.Background(), refundedEvent("evt_r2", "pi_9")))

	assert.Equal(t, int64(5), f.stock(f.productA.ID))
	assert.Equal(t, int64(5), f.stock(f.productB.ID))

	var restored int
	for _, m := range f.store.Movements() {
		if m.Reason == model.StockReasonOrderRefunded {
			restored++
		}
	}
	assert.Equal(t, 2, restored)
}

// 在庫を減らしていない注文への返金通知は何もしない
func TestChargeRefunded_UnpaidOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	out := f.checkoutAB(t)
	require.NoError(t, f.store.Orders().SetPaymentIntent(context.Background(), out.ID, "stripe", "pi_3"))

	got := f.webhookUsecase(nil).HandleChargeRefunded(context.Background(), refundedEvent("evt_r", "pi_3"))
	assert.Equal(t, "precondition_failed", got)

	o, _ := f.store.Order(out.ID)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.False(t, o.StockReleased)
	assert.Equal(t, int64(5), f.stock(f.productA.ID))
}

func TestChargeRefunded_UnknownIntent(t *testing.T) {
	f := newFixture(t)
	wh := f.webhookUsecase(nil)

	assert.Equal(t, "orphan", wh.HandleChargeRefunded(context.Background(), refundedEvent("evt_r", "pi_missing")))
	assert.Equal(t, "orphan", wh.HandleChargeRefunded(context.Background(), refundedEvent("evt_r", "")))
}
