package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

// 商品カタログは参照のみ
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
