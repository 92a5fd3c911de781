package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type PaymentUsecase struct {
	orders   repo.OrderRepository
	provider PaymentProvider
	clock    Clock
	logger   *slog.Logger
}

func NewPaymentUsecase(orders repo.OrderRepository, provider PaymentProvider, clock Clock, logger *slog.Logger) *PaymentUsecase {
	return &PaymentUsecase{orders: orders, provider: provider, clock: clock, logger: logger}
}

type PaymentIntentOutput struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// 支払いIntentを作る。状態は変えない
func (u *PaymentUsecase) CreatePaymentIntent(ctx context.Context, userID, orderID int64) (out PaymentIntentOutput, err error) {
	ctx, span := startSpan(ctx, "PaymentUsecase.CreatePaymentIntent",
		attribute.Int64("user_id", userID), attribute.Int64("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if userID <= 0 {
		return PaymentIntentOutput{}, errUnauthorized
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return PaymentIntentOutput{}, errNotPayable
	}
	if err != nil {
		return PaymentIntentOutput{}, internalError(err)
	}
	//他人の注文・支払い済み・期限切れはまとめてNotPayable
	if o.UserID != userID || !o.IsPayable(u.clock.Now()) {
		return PaymentIntentOutput{}, errNotPayable
	}

	amount, err := ToMinorUnits(o.Total, o.Currency)
	if err != nil {
		return PaymentIntentOutput{}, internalError(err)
	}

	intent, err := u.provider.CreatePaymentIntent(ctx, PaymentIntentRequest{
		OrderID:        o.ID,
		Amount:         amount,
		Currency:       strings.ToLower(o.Currency),
		IdempotencyKey: intentIdempotencyKey(o.ID),
		Metadata: map[string]string{
			"orderId": strconv.FormatInt(o.ID, 10),
			"userId":  strconv.FormatInt(o.UserID, 10),
		},
	})
	if err != nil {
		u.logger.ErrorContext(ctx, "create payment intent failed",
			slog.Int64("order_id", o.ID), slog.String("error", err.Error()))
		return PaymentIntentOutput{}, &AppError{Kind: KindInternal, Code: CodePaymentProviderFailure, Message: "payment provider error", Err: err}
	}

	if err := u.orders.SetPaymentIntent(ctx, o.ID, u.provider.Name(), intent.ID); err != nil {
		if errors.Is(err, repo.ErrPreconditionFailed) {
			// 作成中にwebhookやreaperが先に動いた
			return PaymentIntentOutput{}, errNotPayable
		}
		return PaymentIntentOutput{}, internalError(err)
	}

	u.logger.InfoContext(ctx, "payment intent created",
		slog.Int64("order_id", o.ID), slog.String("intent_id", intent.ID), slog.Int64("amount", amount))
	return PaymentIntentOutput{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID}, nil
}
