package model

import "time"

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAssistant Role = "assistant"
	RoleAdmin     Role = "admin"
)

// 認証はこのサービスの外。token_versionの照合にだけ使う
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"uniqueIndex;not null"`
	Role         Role   `gorm:"type:varchar(20);not null;default:'owner'"`
	TokenVersion int    `gorm:"not null;default:0"`
	IsActive     bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
