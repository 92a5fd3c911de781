package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

type OrderSort string

const (
	OrderSortCreatedDesc OrderSort = "created_desc"
	OrderSortCreatedAsc  OrderSort = "created_asc"
	OrderSortTotalDesc   OrderSort = "total_desc"
	OrderSortTotalAsc    OrderSort = "total_asc"
)

// 一覧の絞り込み。UserIDがnilなら全ユーザー（管理者用）
type OrderListFilter struct {
	Page          int
	Limit         int
	UserID        *int64
	Status        *model.OrderStatus
	PaymentStatus *model.PaymentStatus
	From          *time.Time
	To            *time.Time
	Sort          OrderSort
}

type OrderRepository interface {
	// 明細ごと保存。IDが埋まる
	Create(ctx context.Context, order *model.Order) error

	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	// 行ロック付き。トランザクション内でだけ使う
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByIntentIDForUpdate(ctx context.Context, intentID string) (model.Order, error)

	//同じキーなら同じ注文
	FindByCheckoutKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)

	List(ctx context.Context, f OrderListFilter) ([]model.Order, int64, error)

	// 予約切れ候補（status=pending, reserved_until < now, stock_released=false）
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error)

	// 事前条件付きで1回のUPDATE。0件ならErrPreconditionFailed
	ApplyTransition(ctx context.Context, orderID int64, t model.Transition) error

	// pending/pendingの注文にだけ支払いIntentを記録
	SetPaymentIntent(ctx context.Context, orderID int64, provider, intentID string) error
}
