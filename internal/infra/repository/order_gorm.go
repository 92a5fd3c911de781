package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id asc")
	})
}

func (r *OrderGormRepository) Create(ctx context.Context, order *model.Order) error {
	//明細もassociationで一緒に入る
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := preloadItems(r.db.WithContext(ctx)).Where("id = ?", orderID).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.findForUpdate(ctx, "id = ?", orderID)
}

func (r *OrderGormRepository) FindByIntentIDForUpdate(ctx context.Context, intentID string) (model.Order, error) {
	if intentID == "" {
		return model.Order{}, repo.ErrNotFound
	}
	return r.findForUpdate(ctx, "payment_intent_id = ?", intentID)
}

func (r *OrderGormRepository) findForUpdate(ctx context.Context, cond string, arg any) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(cond, arg).
		First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}

	//明細はロック不要
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", o.ID).
		Order("id asc").
		Find(&o.Items).Error; err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByCheckoutKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	var o model.Order
	err := preloadItems(r.db.WithContext(ctx)).
		Where("user_id = ? AND checkout_key = ?", userID, key).
		First(&o).Error

	if isNotFound(err) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.PaymentStatus != nil {
		q = q.Where("payment_status = ?", string(*f.PaymentStatus))
	}
	//期間絞り込み
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	switch f.Sort {
	case repo.OrderSortCreatedAsc:
		q = q.Order("created_at asc").Order("id asc")
	case repo.OrderSortTotalAsc:
		q = q.Order("total asc").Order("id asc")
	case repo.OrderSortTotalDesc:
		q = q.Order("total desc").Order("id desc")
	default:
		q = q.Order("created_at desc").Order("id desc")
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := preloadItems(q).Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}
	return items, total, nil
}

func (r *OrderGormRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND reserved_until < ? AND stock_released = ?",
			string(model.OrderStatusPending), now, false).
		Order("reserved_until asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *OrderGormRepository) ApplyTransition(ctx context.Context, orderID int64, t model.Transition) error {
	q := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", orderID)

	if len(t.From) > 0 {
		q = q.Where("status IN ?", toStrings(t.From))
	}
	if len(t.FromPayment) > 0 {
		q = q.Where("payment_status IN ?", toStrings(t.FromPayment))
	}
	if t.ExpiredBefore != nil {
		q = q.Where("reserved_until < ?", *t.ExpiredBefore)
	}
	if t.RequireStock {
		q = q.Where("stock_released = ?", false)
	}

	updates := map[string]any{"updated_at": time.Now()}
	p := t.Patch
	if p.Status != nil {
		updates["status"] = string(*p.Status)
	}
	if p.PaymentStatus != nil {
		updates["payment_status"] = string(*p.PaymentStatus)
	}
	if p.IntentID != nil {
		updates["payment_intent_id"] = *p.IntentID
	}
	if p.ChargeID != nil {
		updates["payment_charge_id"] = *p.ChargeID
	}
	if p.LastEventID != nil {
		updates["payment_last_event_id"] = *p.LastEventID
	}
	if p.StockReleased != nil {
		updates["stock_released"] = *p.StockReleased
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrPreconditionFailed
	}
	return nil
}

func (r *OrderGormRepository) SetPaymentIntent(ctx context.Context, orderID int64, provider, intentID string) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?",
			orderID, string(model.OrderStatusPending), string(model.PaymentStatusPending)).
		Updates(map[string]any{
			"payment_provider":  provider,
			"payment_intent_id": intentID,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrPreconditionFailed
	}
	return nil
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, string(v))
	}
	return out
}
