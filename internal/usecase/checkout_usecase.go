package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// 送料・税。今は常に0（将来の価格エンジン用の差し込み口）
type Pricing interface {
	Quote(ctx context.Context, o *model.Order) (shippingFee, taxAmount decimal.Decimal, err error)
}

type ZeroPricing struct{}

func (ZeroPricing) Quote(context.Context, *model.Order) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}

type CheckoutUsecase struct {
	tx      repo.TransactionManager
	pricing Pricing
	clock   Clock
	window  time.Duration
	events  EventPublisher
	logger  *slog.Logger
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	pricing Pricing,
	clock Clock,
	reservationWindow time.Duration,
	events EventPublisher,
	logger *slog.Logger,
) *CheckoutUsecase {
	return &CheckoutUsecase{
		tx:      tx,
		pricing: pricing,
		clock:   clock,
		window:  reservationWindow,
		events:  events,
		logger:  logger,
	}
}

type CheckoutInput struct {
	AddressID      int64
	PaymentMethod  string
	Notes          string
	IdempotencyKey string
}

type BuySingleInput struct {
	ProductID     int64
	Quantity      int64
	AddressID     int64
	PaymentMethod string
	Notes         string
}

type orderLine struct {
	productID int64
	quantity  int64
}

const (
	maxPaymentMethodLen = 30
	maxNotesLen         = 1000
	maxCheckoutKeyLen   = 255
)

// 同じキーの注文が同時に作られた（Createの一意制約違反）
var errCheckoutKeyTaken = errors.New("checkout key already used")

// カートから注文を作る。在庫はここでは減らさない
func (u *CheckoutUsecase) Checkout(ctx context.Context, userID int64, in CheckoutInput) (out OrderOutput, err error) {
	ctx, span := startSpan(ctx, "CheckoutUsecase.Checkout", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if err := validateOrderInput(in.AddressID, in.PaymentMethod, in.Notes); err != nil {
		return OrderOutput{}, err
	}
	key, err := normalizeCheckoutKey(in.IdempotencyKey)
	if err != nil {
		return OrderOutput{}, err
	}

	var (
		order   model.Order
		replays bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if key != nil {
			existing, found, err := r.Orders().FindByCheckoutKey(ctx, userID, *key)
			if err != nil {
				return err
			}
			if found {
				order, replays = existing, true
				return nil
			}
		}

		addr, err := findOwnedAddress(ctx, r, in.AddressID, userID)
		if err != nil {
			return err
		}

		//ACTIVEカート取得
		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewAppError(KindInvalidState, CodeCartEmpty, "cart is empty")
		}
		if err != nil {
			return err
		}
		cartItems, err := r.Carts().ListItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return NewAppError(KindInvalidState, CodeCartEmpty, "cart is empty")
		}

		lines := make([]orderLine, 0, len(cartItems))
		for _, ci := range cartItems {
			lines = append(lines, orderLine{productID: ci.ProductID, quantity: ci.Quantity})
		}

		o, err := u.buildOrder(ctx, r, userID, addr, lines, in.PaymentMethod, in.Notes)
		if err != nil {
			return err
		}
		o.CheckoutKey = key

		if err := r.Orders().Create(ctx, &o); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errCheckoutKeyTaken
			}
			return err
		}

		//注文にした明細は消す
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return err
		}
		order = o
		return nil
	})

	// 同時送信で負けた側。Txは巻き戻っているので、勝った側の注文を読み直す
	if errors.Is(err, errCheckoutKeyTaken) && key != nil {
		err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			existing, found, err := r.Orders().FindByCheckoutKey(ctx, userID, *key)
			if err != nil {
				return err
			}
			if !found {
				return errCheckoutKeyTaken
			}
			order, replays = existing, true
			return nil
		})
	}
	if err != nil {
		return OrderOutput{}, wrapInternal(err)
	}

	if replays {
		u.logger.InfoContext(ctx, "checkout replayed", slog.Int64("order_id", order.ID), slog.Int64("user_id", userID))
		return toOrderOutput(order), nil
	}
	u.afterCreate(ctx, order)
	return toOrderOutput(order), nil
}

// 商品1つを直接購入。カートには触らない
func (u *CheckoutUsecase) BuySingle(ctx context.Context, userID int64, in BuySingleInput) (out OrderOutput, err error) {
	ctx, span := startSpan(ctx, "CheckoutUsecase.BuySingle",
		attribute.Int64("user_id", userID), attribute.Int64("product_id", in.ProductID))
	defer func() { endSpan(span, err) }()

	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if in.ProductID <= 0 {
		return OrderOutput{}, validationError(CodeValidation, "invalid productId")
	}
	if in.Quantity < 1 {
		return OrderOutput{}, validationError(CodeValidation, "quantity must be >= 1")
	}
	if err := validateOrderInput(in.AddressID, in.PaymentMethod, in.Notes); err != nil {
		return OrderOutput{}, err
	}

	var order model.Order
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		addr, err := findOwnedAddress(ctx, r, in.AddressID, userID)
		if err != nil {
			return err
		}
		lines := []orderLine{{productID: in.ProductID, quantity: in.Quantity}}
		o, err := u.buildOrder(ctx, r, userID, addr, lines, in.PaymentMethod, in.Notes)
		if err != nil {
			return err
		}
		if err := r.Orders().Create(ctx, &o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return OrderOutput{}, wrapInternal(err)
	}

	u.afterCreate(ctx, order)
	return toOrderOutput(order), nil
}

// 明細ごとに商品を読み直して価格を確定する
func (u *CheckoutUsecase) buildOrder(
	ctx context.Context,
	r repo.TxRepos,
	userID int64,
	addr model.Address,
	lines []orderLine,
	paymentMethod, notes string,
) (model.Order, error) {
	items := make([]model.OrderItem, 0, len(lines))
	currency := ""

	for _, l := range lines {
		p, err := r.Products().FindByID(ctx, l.productID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Order{}, NewAppError(KindNotFound, CodeProductNotFound, "product not found")
		}
		if err != nil {
			return model.Order{}, err
		}
		if !p.IsActive {
			return model.Order{}, NewAppError(KindNotFound, CodeProductNotFound, "product not found")
		}
		//見えている在庫で判定するだけ（確保はしない）
		if p.StockQty < l.quantity {
			return model.Order{}, NewAppError(KindConflict, CodeInsufficientStock, "insufficient stock")
		}
		if currency == "" {
			currency = p.Currency
		} else if !strings.EqualFold(currency, p.Currency) {
			return model.Order{}, NewAppError(KindInvalidState, CodeCurrencyMismatch, "items must share one currency")
		}

		items = append(items, model.OrderItem{
			ProductID:    p.ID,
			ProductName:  p.Name,
			ProductImage: p.ImageURL,
			UnitPrice:    p.Price,
			Quantity:     l.quantity,
			Currency:     p.Currency,
		})
	}

	now := u.clock.Now()
	o := model.Order{
		UserID:        userID,
		Items:         items,
		Currency:      strings.ToUpper(currency),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		ReservedUntil: now.Add(u.window),
		StockReleased: false,
		Shipping:      model.SnapshotAddress(addr),
		PaymentMethod: strings.TrimSpace(paymentMethod),
		Notes:         strings.TrimSpace(notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	o.RecomputeTotals()
	shipping, tax, err := u.pricing.Quote(ctx, &o)
	if err != nil {
		return model.Order{}, err
	}
	o.ShippingFee = shipping
	o.TaxAmount = tax
	o.RecomputeTotals()
	return o, nil
}

func (u *CheckoutUsecase) afterCreate(ctx context.Context, o model.Order) {
	meters.ordersCreated.Add(ctx, 1)
	u.logger.InfoContext(ctx, "order created",
		slog.Int64("order_id", o.ID),
		slog.Int64("user_id", o.UserID),
		slog.String("total", o.Total.String()),
		slog.String("currency", o.Currency),
	)
	publishOrderEvent(ctx, u.events, u.logger, u.clock, OrderEventCreated, o)
}

func findOwnedAddress(ctx context.Context, r repo.TxRepos, addressID, userID int64) (model.Address, error) {
	addr, err := r.Addresses().FindOwned(ctx, addressID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Address{}, NewAppError(KindNotFound, CodeAddressNotFound, "address not found")
	}
	if err != nil {
		return model.Address{}, err
	}
	return addr, nil
}

func validateOrderInput(addressID int64, paymentMethod, notes string) error {
	if addressID <= 0 {
		return validationError(CodeValidation, "invalid addressId")
	}
	if len(strings.TrimSpace(paymentMethod)) > maxPaymentMethodLen {
		return validationError(CodeValidation, "paymentMethod too long")
	}
	if len(notes) > maxNotesLen {
		return validationError(CodeValidation, "notes too long")
	}
	return nil
}

// 空ならキー無し
func normalizeCheckoutKey(raw string) (*string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxCheckoutKeyLen {
		return nil, validationError(CodeIdempotencyKeyInvalid, "invalid idempotency key")
	}
	return &key, nil
}
