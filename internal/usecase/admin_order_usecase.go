package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

type AdminOrderUsecase struct {
	tx     repo.TransactionManager
	orders repo.OrderRepository
	events EventPublisher
	clock  Clock
	logger *slog.Logger
}

func NewAdminOrderUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	events EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, orders: orders, events: events, clock: clock, logger: logger}
}

type AdminListOrdersInput struct {
	ListOrdersInput
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type AdminUpdateOrderStatusInput struct {
	Status string
}

// 全ユーザーの注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, in AdminListOrdersInput) (OrderListOutput, error) {
	f, err := buildListFilter(in.ListOrdersInput)
	if err != nil {
		return OrderListOutput{}, err
	}
	if in.UserID != nil && *in.UserID <= 0 {
		return OrderListOutput{}, validationError(CodeInvalidQuery, "invalid userId")
	}
	if in.From != nil && in.To != nil && in.From.After(*in.To) {
		return OrderListOutput{}, validationError(CodeInvalidQuery, "from must be <= to")
	}
	f.UserID = in.UserID
	f.From = in.From
	f.To = in.To
	return listOrders(ctx, u.orders, f)
}

// ステータス変更。遷移表にない変更は拒否し、paymentStatusには触らない
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID, orderID int64, in AdminUpdateOrderStatusInput) (out OrderOutput, err error) {
	ctx, span := startSpan(ctx, "AdminOrderUsecase.UpdateStatus",
		attribute.Int64("order_id", orderID), attribute.String("status", in.Status))
	defer func() { endSpan(span, err) }()

	if actorAdminUserID <= 0 {
		return OrderOutput{}, errUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, validationError(CodeValidation, "invalid id")
	}
	next, err := model.ParseOrderStatus(strings.TrimSpace(in.Status))
	if err != nil {
		return OrderOutput{}, validationError(CodeInvalidStatus, "invalid status")
	}

	var (
		order  model.Order
		before model.OrderStatus
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errOrderNotFound
		}
		if err != nil {
			return err
		}

		t, err := model.AdminTransition(o.Status, next)
		if errors.Is(err, model.ErrOrderFinalized) {
			return NewAppError(KindInvalidTransition, CodeOrderAlreadyFinalized, "order already finalized")
		}
		if err != nil {
			return NewAppError(KindInvalidTransition, CodeInvalidStatusTransition, "invalid order status transition")
		}

		if err := r.Orders().ApplyTransition(ctx, o.ID, t); err != nil {
			if errors.Is(err, repo.ErrPreconditionFailed) {
				return NewAppError(KindInvalidTransition, CodeInvalidStatusTransition, "invalid order status transition")
			}
			return err
		}
		before = o.Status
		t.Apply(&o)

		//監査ログも同じTxで
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   statusJSON(before, o.PaymentStatus),
			AfterJSON:    statusJSON(o.Status, o.PaymentStatus),
			CreatedAt:    u.clock.Now(),
		}); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return OrderOutput{}, wrapInternal(err)
	}

	u.logger.InfoContext(ctx, "order status changed by admin",
		slog.Int64("order_id", order.ID),
		slog.Int64("actor_user_id", actorAdminUserID),
		slog.String("from", string(before)),
		slog.String("to", string(order.Status)),
	)
	publishOrderEvent(ctx, u.events, u.logger, u.clock, OrderEventStatusChanged, order)
	return toOrderOutput(order), nil
}
