package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

// 住所(Address)の参照窓口。住所録の編集はこのサービスでは行わない
type AddressRepository interface {
	//そのユーザーの住所を1件取得。他人の住所や存在しない場合はErrNotFound
	FindOwned(ctx context.Context, addressID, userID int64) (model.Address, error)
}
