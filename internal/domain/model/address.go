package model

import "time"

// 配送先住所（住所録は別サービス管理。注文では所有確認とスナップショットにだけ使う）
type Address struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"not null;index" json:"user_id"`
	PostalCode string    `gorm:"type:varchar(20);not null" json:"postal_code"`
	Prefecture string    `gorm:"type:varchar(100);not null" json:"prefecture"`
	City       string    `gorm:"type:varchar(255);not null" json:"city"`
	Line1      string    `gorm:"type:varchar(255);not null" json:"line1"`
	Line2      string    `gorm:"type:varchar(255)" json:"line2"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Phone      string    `gorm:"type:varchar(30)" json:"phone"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}
