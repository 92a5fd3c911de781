package model

import "time"

type StockReason string

const (
	//決済確定で在庫を引き当てた
	StockReasonOrderPaid StockReason = "ORDER_PAID"
	//返金で在庫を戻した
	StockReasonOrderRefunded StockReason = "ORDER_REFUNDED"
)

// 在庫台帳の履歴
type StockMovement struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64       `gorm:"not null;index" json:"product_id"`
	OrderID   int64       `gorm:"not null;index" json:"order_id"`
	Delta     int64       `gorm:"not null" json:"delta"`
	Reason    StockReason `gorm:"type:varchar(50);not null" json:"reason"`
	CreatedAt time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
}
