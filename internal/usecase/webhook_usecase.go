package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// webhook処理の結果（ログとメトリクス用）
const (
	outcomeApplied      = "applied"
	outcomeDuplicate    = "duplicate"
	outcomeOrphan       = "orphan"
	outcomePrecondition = "precondition_failed"
	outcomeStockFailure = "stock_unavailable"
	outcomeError        = "error"
	outcomeIgnored      = "ignored"
)

// 決済確定時に在庫が足りなかった
type stockUnavailableError struct {
	ProductID int64
	Quantity  int64
}

func (e *stockUnavailableError) Error() string {
	return fmt.Sprintf("stock unavailable for product %d (qty %d)", e.ProductID, e.Quantity)
}

type WebhookUsecase struct {
	tx       repo.TransactionManager
	verifier WebhookVerifier
	payments PaymentProvider
	events   EventPublisher
	clock    Clock
	logger   *slog.Logger
}

func NewWebhookUsecase(
	tx repo.TransactionManager,
	verifier WebhookVerifier,
	payments PaymentProvider,
	events EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *WebhookUsecase {
	return &WebhookUsecase{
		tx:       tx,
		verifier: verifier,
		payments: payments,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

// 署名が正しければ内部の失敗は呼び出し元に返さない（プロバイダの再送嵐を防ぐ）
func (u *WebhookUsecase) HandleStripeEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := u.verifier.ParseEvent(payload, signature)
	if err != nil {
		u.logger.WarnContext(ctx, "webhook signature rejected", slog.String("error", err.Error()))
		meters.webhookEvents.Add(ctx, 1, metricAttrs(
			attribute.String("type", "unknown"), attribute.String("outcome", "signature_invalid")))
		return &AppError{Kind: KindSignatureInvalid, Code: CodeWebhookSignatureInvalid, Message: "invalid webhook signature", Err: err}
	}

	ctx, span := startSpan(ctx, "WebhookUsecase.HandleStripeEvent",
		attribute.String("event_id", ev.ID), attribute.String("event_type", ev.Type))
	defer span.End()

	var outcome string
	switch ev.Type {
	case PaymentEventSucceeded:
		outcome = u.HandlePaymentSucceeded(ctx, ev)
	case PaymentEventRefunded:
		outcome = u.HandleChargeRefunded(ctx, ev)
	default:
		outcome = outcomeIgnored
	}

	span.SetAttributes(attribute.String("outcome", outcome))
	meters.webhookEvents.Add(ctx, 1, metricAttrs(
		attribute.String("type", ev.Type), attribute.String("outcome", outcome)))
	u.logger.InfoContext(ctx, "webhook handled",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.Int64("order_id", ev.OrderID),
		slog.String("outcome", outcome),
	)
	return nil
}

// 決済成功：在庫を全明細分確保してpaidへ。1つでも確保できなければ全額返金して巻き戻す
func (u *WebhookUsecase) HandlePaymentSucceeded(ctx context.Context, ev PaymentEvent) string {
	if ev.OrderID <= 0 {
		return outcomeOrphan
	}

	outcome := outcomeApplied
	var paid model.Order

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//同じ注文への同時配信はここで直列になる
		o, err := r.Orders().FindByIDForUpdate(ctx, ev.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			outcome = outcomeOrphan
			return nil
		}
		if err != nil {
			return err
		}
		if o.Payment.LastEventID == ev.ID {
			outcome = outcomeDuplicate
			return nil
		}

		t := model.MarkPaid(ev.IntentID, ev.ChargeID, ev.ID)
		if !t.Allows(&o) {
			outcome = outcomePrecondition
			return nil
		}

		items := byProductID(o.Items)
		for _, it := range items {
			ok, err := r.Stock().TryReserve(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return &stockUnavailableError{ProductID: it.ProductID, Quantity: it.Quantity}
			}
		}
		for _, it := range items {
			if err := r.Stock().RecordMovement(ctx, model.StockMovement{
				ProductID: it.ProductID,
				OrderID:   o.ID,
				Delta:     -it.Quantity,
				Reason:    model.StockReasonOrderPaid,
				CreatedAt: u.clock.Now(),
			}); err != nil {
				return err
			}
		}

		if err := r.Orders().ApplyTransition(ctx, o.ID, t); err != nil {
			return err
		}
		t.Apply(&o)
		paid = o
		return nil
	})

	var stockErr *stockUnavailableError
	switch {
	case errors.As(err, &stockErr):
		// Txは巻き戻し済み（途中まで減らした在庫も戻っている）。注文はpending/pendingのまま
		u.logger.WarnContext(ctx, "stock unavailable at payment, refunding",
			slog.Int64("order_id", ev.OrderID),
			slog.String("event_id", ev.ID),
			slog.Int64("product_id", stockErr.ProductID),
		)
		u.refundUnfulfillable(ctx, ev)
		return outcomeStockFailure
	case errors.Is(err, repo.ErrPreconditionFailed):
		return outcomePrecondition
	case err != nil:
		u.logger.ErrorContext(ctx, "payment reconciliation failed",
			slog.Int64("order_id", ev.OrderID),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return outcomeError
	}

	if outcome == outcomeApplied {
		publishOrderEvent(ctx, u.events, u.logger, u.clock, OrderEventPaid, paid)
	}
	return outcome
}

func (u *WebhookUsecase) refundUnfulfillable(ctx context.Context, ev PaymentEvent) {
	if ev.IntentID == "" {
		u.logger.ErrorContext(ctx, "cannot refund: event has no payment intent",
			slog.Int64("order_id", ev.OrderID), slog.String("event_id", ev.ID))
		return
	}
	err := u.payments.Refund(ctx, RefundRequest{
		IntentID:       ev.IntentID,
		IdempotencyKey: refundIdempotencyKey(ev.OrderID),
		Reason:         "stock_unavailable",
	})
	if err != nil {
		u.logger.ErrorContext(ctx, "refund after failed reconciliation failed",
			slog.Int64("order_id", ev.OrderID),
			slog.String("intent_id", ev.IntentID),
			slog.String("error", err.Error()),
		)
		return
	}
	meters.refunds.Add(ctx, 1, metricAttrs(attribute.String("reason", "stock_unavailable")))
}

// 返金確定：在庫を戻してrefundedへ。stock_releasedで1回だけ
func (u *WebhookUsecase) HandleChargeRefunded(ctx context.Context, ev PaymentEvent) string {
	if ev.IntentID == "" {
		return outcomeOrphan
	}

	outcome := outcomeApplied
	var refunded model.Order

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIntentIDForUpdate(ctx, ev.IntentID)
		if errors.Is(err, repo.ErrNotFound) {
			outcome = outcomeOrphan
			return nil
		}
		if err != nil {
			return err
		}
		if o.StockReleased {
			outcome = outcomeDuplicate
			return nil
		}

		//在庫を減らしていない注文（決済確定前の返金）は戻さない
		t := model.MarkRefunded(ev.ID)
		if !t.Allows(&o) {
			outcome = outcomePrecondition
			return nil
		}

		for _, it := range byProductID(o.Items) {
			if err := r.Stock().Release(ctx, it.ProductID, it.Quantity); err != nil {
				return err
			}
			if err := r.Stock().RecordMovement(ctx, model.StockMovement{
				ProductID: it.ProductID,
				OrderID:   o.ID,
				Delta:     it.Quantity,
				Reason:    model.StockReasonOrderRefunded,
				CreatedAt: u.clock.Now(),
			}); err != nil {
				return err
			}
		}

		if err := r.Orders().ApplyTransition(ctx, o.ID, t); err != nil {
			return err
		}
		t.Apply(&o)
		refunded = o
		return nil
	})

	switch {
	case errors.Is(err, repo.ErrPreconditionFailed):
		return outcomePrecondition
	case err != nil:
		u.logger.ErrorContext(ctx, "refund reconciliation failed",
			slog.String("intent_id", ev.IntentID),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return outcomeError
	}

	if outcome == outcomeApplied {
		publishOrderEvent(ctx, u.events, u.logger, u.clock, OrderEventRefunded, refunded)
	}
	return outcome
}

// 商品行は常にproduct_id昇順で更新する（注文間でロック順をそろえる）
func byProductID(items []model.OrderItem) []model.OrderItem {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b model.OrderItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}
