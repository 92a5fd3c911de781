package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 商品。stock_qtyは在庫台帳(StockLedger)経由でしか更新しない
type Product struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	ImageURL  string          `gorm:"type:varchar(1024)" json:"image_url"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(3);not null" json:"currency"`
	StockQty  int64           `gorm:"not null" json:"stock_qty"`
	IsActive  bool            `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
