package model

import "time"

type CartStatus string

const CartStatusActive CartStatus = "ACTIVE"

// 注文前の買い物かご（参照のみ）。
// checkoutで明細だけ消し、カート自体はACTIVEのまま残る
type Cart struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"not null;index" json:"user_id"`
	Status    CartStatus `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
