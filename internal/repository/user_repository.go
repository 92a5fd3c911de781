package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

type UserRepository interface {
	// IDからユーザーを1件取得。無ければErrNotFound
	FindByID(ctx context.Context, userID int64) (*model.User, error)
}
