package repository

import (
	"context"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

// 監査ログの保存
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
}
