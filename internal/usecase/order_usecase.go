package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// 呼び出し元（JWTから復元）
type Actor struct {
	UserID int64
	Role   model.Role
}

func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

type OrderUsecase struct {
	tx       repo.TransactionManager
	orders   repo.OrderRepository
	payments PaymentProvider
	events   EventPublisher
	clock    Clock
	logger   *slog.Logger
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	payments PaymentProvider,
	events EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		tx:       tx,
		orders:   orders,
		payments: payments,
		events:   events,
		clock:    clock,
		logger:   logger,
	}
}

type ListOrdersInput struct {
	Page          int
	Limit         int
	Status        string
	PaymentStatus string
	Sort          string
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// 自分の注文一覧
func (u *OrderUsecase) ListMine(ctx context.Context, userID int64, in ListOrdersInput) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, errUnauthorized
	}
	f, err := buildListFilter(in)
	if err != nil {
		return OrderListOutput{}, err
	}
	f.UserID = &userID
	return listOrders(ctx, u.orders, f)
}

// 本人か管理者だけ。他人の注文は存在しないものとして扱う
func (u *OrderUsecase) GetOrder(ctx context.Context, actor Actor, orderID int64) (OrderOutput, error) {
	if actor.UserID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, validationError(CodeValidation, "invalid id")
	}
	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, errOrderNotFound
	}
	if err != nil {
		return OrderOutput{}, internalError(err)
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return OrderOutput{}, errOrderNotFound
	}
	return toOrderOutput(o), nil
}

// 利用者によるキャンセル。注文行をロックしたまま返金を依頼し、同じtxでcancelledにする。
// 在庫戻しはcharge.refundedに任せる
func (u *OrderUsecase) CancelOrder(ctx context.Context, userID, orderID int64) (out OrderOutput, err error) {
	ctx, span := startSpan(ctx, "OrderUsecase.CancelOrder",
		attribute.Int64("user_id", userID), attribute.Int64("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if userID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, validationError(CodeValidation, "invalid id")
	}

	var (
		o         model.Order
		t         model.Transition
		noop      bool
		refundReq bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cur, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errOrderNotFound
		}
		if err != nil {
			return err
		}
		if cur.UserID != userID {
			return errForbidden
		}
		o = cur

		switch {
		case cur.Status == model.OrderStatusCancelled:
			//すでにキャンセル済みなら成功扱い
			noop = true
			return nil
		case cur.Status == model.OrderStatusPending && cur.PaymentStatus == model.PaymentStatusPending:
			t = model.CancelUnpaid()
		case cur.Status == model.OrderStatusPaid && cur.PaymentStatus == model.PaymentStatusSucceeded:
			//ロック中なので管理者の遷移やwebhookはこのtxの後に回る
			if err := u.refund(ctx, cur); err != nil {
				return err
			}
			refundReq = true
			t = model.CancelPaid()
		default:
			return NewAppError(KindInvalidState, CodeOrderNotCancellable, "order cannot be cancelled")
		}

		if err := r.Orders().ApplyTransition(ctx, cur.ID, t); err != nil {
			return err
		}
		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  userID,
			Action:       model.AuditActionCancelOrder,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   cur.ID,
			BeforeJSON:   statusJSON(cur.Status, cur.PaymentStatus),
			AfterJSON:    statusJSON(model.OrderStatusCancelled, afterPayment(cur, t)),
			CreatedAt:    u.clock.Now(),
		})
	})
	if err != nil {
		if refundReq {
			// 返金は同じ冪等キーで再試行できる。charge.refundedが届けばrefundedになる
			u.logger.ErrorContext(ctx, "refund requested but cancel not recorded",
				slog.Int64("order_id", orderID), slog.String("error", err.Error()))
		}
		return OrderOutput{}, wrapInternal(err)
	}
	if noop {
		return toOrderOutput(o), nil
	}

	t.Apply(&o)
	u.logger.InfoContext(ctx, "order cancelled",
		slog.Int64("order_id", o.ID), slog.String("transition", t.Name))
	publishOrderEvent(ctx, u.events, u.logger, u.clock, OrderEventCancelled, o)
	return toOrderOutput(o), nil
}

// 支払い済み注文の全額返金を依頼（同じ注文なら同じ冪等キー）
func (u *OrderUsecase) refund(ctx context.Context, o model.Order) error {
	if o.Payment.IntentID == "" {
		return internalError(fmt.Errorf("order %d is paid but has no payment intent", o.ID))
	}
	err := u.payments.Refund(ctx, RefundRequest{
		IntentID:       o.Payment.IntentID,
		IdempotencyKey: refundIdempotencyKey(o.ID),
		Reason:         "requested_by_customer",
	})
	if err != nil {
		u.logger.ErrorContext(ctx, "refund request failed",
			slog.Int64("order_id", o.ID), slog.String("error", err.Error()))
		return &AppError{Kind: KindInternal, Code: CodePaymentProviderFailure, Message: "payment provider error", Err: err}
	}
	meters.refunds.Add(ctx, 1, metricAttrs(attribute.String("reason", "cancel")))
	return nil
}

func refundIdempotencyKey(orderID int64) string {
	return fmt.Sprintf("order-%d-refund", orderID)
}

func intentIdempotencyKey(orderID int64) string {
	return fmt.Sprintf("order-%d-payment-intent", orderID)
}

func afterPayment(o model.Order, t model.Transition) model.PaymentStatus {
	if t.Patch.PaymentStatus != nil {
		return *t.Patch.PaymentStatus
	}
	return o.PaymentStatus
}

type statusSnapshot struct {
	Status        model.OrderStatus   `json:"status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
}

// 監査ログのbefore/after
func statusJSON(s model.OrderStatus, ps model.PaymentStatus) string {
	b, err := json.Marshal(statusSnapshot{Status: s, PaymentStatus: ps})
	if err != nil {
		return "{}"
	}
	return string(b)
}

// 一覧の入力チェックと変換
func buildListFilter(in ListOrdersInput) (repo.OrderListFilter, error) {
	f := repo.OrderListFilter{Page: in.Page, Limit: in.Limit}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = defaultPageLimit
	}
	if f.Page < 1 {
		return f, validationError(CodeInvalidQuery, "invalid page")
	}
	if f.Limit < 1 || f.Limit > maxPageLimit {
		return f, validationError(CodeInvalidQuery, "invalid limit")
	}

	if s := strings.TrimSpace(in.Status); s != "" {
		st, err := model.ParseOrderStatus(s)
		if err != nil {
			return f, validationError(CodeInvalidStatus, "invalid status")
		}
		f.Status = &st
	}
	if s := strings.TrimSpace(in.PaymentStatus); s != "" {
		ps, err := model.ParsePaymentStatus(s)
		if err != nil {
			return f, validationError(CodeInvalidStatus, "invalid paymentStatus")
		}
		f.PaymentStatus = &ps
	}

	switch repo.OrderSort(in.Sort) {
	case "":
		f.Sort = repo.OrderSortCreatedDesc
	case repo.OrderSortCreatedDesc, repo.OrderSortCreatedAsc, repo.OrderSortTotalDesc, repo.OrderSortTotalAsc:
		f.Sort = repo.OrderSort(in.Sort)
	default:
		return f, validationError(CodeInvalidQuery, "invalid sort")
	}
	return f, nil
}

func listOrders(ctx context.Context, orders repo.OrderRepository, f repo.OrderListFilter) (OrderListOutput, error) {
	items, total, err := orders.List(ctx, f)
	if err != nil {
		return OrderListOutput{}, internalError(err)
	}
	outs := make([]OrderOutput, 0, len(items))
	for _, o := range items {
		outs = append(outs, toOrderOutput(o))
	}
	return OrderListOutput{Items: outs, Total: total, Page: f.Page, Limit: f.Limit}, nil
}
