package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

// 在庫台帳。stock_qtyを読んでから書く実装は禁止（1回の条件付きUPDATEで行う）
type StockLedger interface {
	// 在庫が足りて、かつ公開中のときだけ減算。減算できたらtrue
	TryReserve(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（無条件で加算）
	Release(ctx context.Context, productID int64, qty int64) error

	// 履歴
	RecordMovement(ctx context.Context, m model.StockMovement) error
}
