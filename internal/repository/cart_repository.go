package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

type CartRepository interface {
	FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	ListItems(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 明細を全削除
	Clear(ctx context.Context, cartID int64) error
}
