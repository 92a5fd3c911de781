package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	"github.com/rs-labo46/ec-order-engine/internal/repository/memrepo"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =====================
// 共通の部品
// =====================

var baseTime = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

const reservationWindow = 15 * time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =====================
// PaymentProvider モック
// =====================

type PaymentProviderMock struct {
	mock.Mock
}

func (m *PaymentProviderMock) Name() string { return "stripe" }

func (m *PaymentProviderMock) CreatePaymentIntent(ctx context.Context, req usecase.PaymentIntentRequest) (usecase.PaymentIntent, error) {
	args := m.Called(ctx, req)
	pi, _ := args.Get(0).(usecase.PaymentIntent)
	return pi, args.Error(1)
}

func (m *PaymentProviderMock) Refund(ctx context.Context, req usecase.RefundRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// =====================
// WebhookVerifier（渡されたイベントをそのまま返す）
// =====================

type stubVerifier struct {
	ev  usecase.PaymentEvent
	err error
}

func (v *stubVerifier) ParseEvent([]byte, string) (usecase.PaymentEvent, error) {
	return v.ev, v.err
}

// =====================
// EventPublisher（記録だけ）
// =====================

type recordingPublisher struct {
	mu     sync.Mutex
	events []usecase.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev usecase.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// =====================
// fixture
// =====================

// 商品A（10 USD, 在庫5）と商品B（20 USD, 在庫5）、ユーザーと住所
type fixture struct {
	store    *memrepo.Store
	clock    *fakeClock
	events   *recordingPublisher
	payments *PaymentProviderMock
	logger   *slog.Logger

	user     model.User
	other    model.User
	admin    model.User
	address  model.Address
	productA model.Product
	productB model.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memrepo.New()
	f := &fixture{
		store:    s,
		clock:    newFakeClock(),
		events:   &recordingPublisher{},
		payments: new(PaymentProviderMock),
		logger:   discardLogger(),
	}
	f.user = s.AddUser(model.User{Email: "user@test.com", Role: model.RoleOwner, IsActive: true})
	f.other = s.AddUser(model.User{Email: "other@test.com", Role: model.RoleOwner, IsActive: true})
	f.admin = s.AddUser(model.User{Email: "admin@test.com", Role: model.RoleAdmin, IsActive: true})
	f.address = s.AddAddress(model.Address{
		UserID:     f.user.ID,
		PostalCode: "100-0001",
		Prefecture: "Tokyo",
		City:       "Chiyoda",
		Line1:      "1-1",
		Name:       "Test User",
	})
	f.productA = s.AddProduct(model.Product{
		Name: "Product A", Price: decimal.NewFromInt(10), Currency: "USD", StockQty: 5, IsActive: true,
	})
	f.productB = s.AddProduct(model.Product{
		Name: "Product B", Price: decimal.NewFromInt(20), Currency: "USD", StockQty: 5, IsActive: true,
	})
	return f
}

func (f *fixture) checkoutUsecase() *usecase.CheckoutUsecase {
	return usecase.NewCheckoutUsecase(f.store, usecase.ZeroPricing{}, f.clock, reservationWindow, f.events, f.logger)
}

func (f *fixture) orderUsecase() *usecase.OrderUsecase {
	return usecase.NewOrderUsecase(f.store, f.store.Orders(), f.payments, f.events, f.clock, f.logger)
}

func (f *fixture) paymentUsecase() *usecase.PaymentUsecase {
	return usecase.NewPaymentUsecase(f.store.Orders(), f.payments, f.clock, f.logger)
}

func (f *fixture) adminUsecase() *usecase.AdminOrderUsecase {
	return usecase.NewAdminOrderUsecase(f.store, f.store.Orders(), f.events, f.clock, f.logger)
}

func (f *fixture) webhookUsecase(v usecase.WebhookVerifier) *usecase.WebhookUsecase {
	return usecase.NewWebhookUsecase(f.store, v, f.payments, f.events, f.clock, f.logger)
}

// A×2, B×1 をカートから注文する（合計40 USD）
func (f *fixture) checkoutAB(t *testing.T) usecase.OrderOutput {
	t.Helper()
	f.store.AddCart(f.user.ID,
		model.CartItem{ProductID: f.productA.ID, Quantity: 2},
		model.CartItem{ProductID: f.productB.ID, Quantity: 1},
	)
	out, err := f.checkoutUsecase().Checkout(context.Background(), f.user.ID, usecase.CheckoutInput{
		AddressID:     f.address.ID,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	return out
}

// 支払い済みの注文（webhook経由で在庫も減っている）
func (f *fixture) paidOrder(t *testing.T, intentID string) usecase.OrderOutput {
	t.Helper()
	out := f.checkoutAB(t)
	require.NoError(t, f.store.Orders().SetPaymentIntent(context.Background(), out.ID, "stripe", intentID))

	wh := f.webhookUsecase(&stubVerifier{ev: usecase.PaymentEvent{
		ID:       "evt_paid_" + intentID,
		Type:     usecase.PaymentEventSucceeded,
		OrderID:  out.ID,
		IntentID: intentID,
		ChargeID: "ch_" + intentID,
	}})
	require.NoError(t, wh.HandleStripeEvent(context.Background(), []byte("{}"), "sig"))

	o, ok := f.store.Order(out.ID)
	require.True(t, ok)
	require.Equal(t, model.OrderStatusPaid, o.Status)
	return out
}

func (f *fixture) stock(id int64) int64 {
	return f.store.Product(id).StockQty
}

// =====================
// エラー確認
// =====================

func assertAppError(t *testing.T, err error, kind usecase.ErrorKind, code string) {
	t.Helper()
	var ae *usecase.AppError
	if assert.True(t, errors.As(err, &ae), "want *AppError, got %v", err) {
		assert.Equal(t, kind, ae.Kind, "kind")
		assert.Equal(t, code, ae.Code, "code")
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
