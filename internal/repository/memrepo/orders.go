package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"
)

type orderRepo struct {
	st *state
}

var _ repo.OrderRepository = (*orderRepo)(nil)

func (r *orderRepo) Create(ctx context.Context, order *model.Order) error {
	if order.CheckoutKey != nil {
		for _, o := range r.st.orders {
			if o.UserID == order.UserID && o.CheckoutKey != nil && *o.CheckoutKey == *order.CheckoutKey {
				return repo.ErrDuplicate
			}
		}
	}
	if order.Payment.IntentID != "" {
		if _, ok := r.findByIntent(order.Payment.IntentID); ok {
			return repo.ErrDuplicate
		}
	}

	//gormと同じく呼び出し側が入れた時刻はそのまま
	now := time.Now()
	order.ID = r.st.id()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	for i := range order.Items {
		order.Items[i].ID = r.st.id()
		order.Items[i].OrderID = order.ID
	}
	r.st.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, ok := r.st.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return cloneOrder(o), nil
}

// 直列実行なのでロックは不要
func (r *orderRepo) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r *orderRepo) FindByIntentIDForUpdate(ctx context.Context, intentID string) (model.Order, error) {
	if intentID == "" {
		return model.Order{}, repo.ErrNotFound
	}
	o, ok := r.findByIntent(intentID)
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *orderRepo) findByIntent(intentID string) (model.Order, bool) {
	for _, o := range r.st.orders {
		if o.Payment.IntentID == intentID {
			return o, true
		}
	}
	return model.Order{}, false
}

func (r *orderRepo) FindByCheckoutKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range r.st.orders {
		if o.UserID == userID && o.CheckoutKey != nil && *o.CheckoutKey == key {
			return cloneOrder(o), true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r *orderRepo) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	matched := make([]model.Order, 0)
	for _, o := range r.st.orders {
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.PaymentStatus != nil && o.PaymentStatus != *f.PaymentStatus {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}

	less := func(a, b model.Order) bool {
		switch f.Sort {
		case repo.OrderSortCreatedAsc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		case repo.OrderSortTotalAsc:
			if !a.Total.Equal(b.Total) {
				return a.Total.LessThan(b.Total)
			}
			return a.ID < b.ID
		case repo.OrderSortTotalDesc:
			if !a.Total.Equal(b.Total) {
				return a.Total.GreaterThan(b.Total)
			}
			return a.ID > b.ID
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return []model.Order{}, total, nil
	}
	end := min(start+f.Limit, len(matched))
	return matched[start:end], total, nil
}

func (r *orderRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]model.Order, 0)
	for _, o := range r.st.orders {
		if o.Status == model.OrderStatusPending && o.ReservedUntil.Before(now) && !o.StockReleased {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservedUntil.Equal(out[j].ReservedUntil) {
			return out[i].ReservedUntil.Before(out[j].ReservedUntil)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *orderRepo) ApplyTransition(ctx context.Context, orderID int64, t model.Transition) error {
	if err, ok := r.st.failTransition[orderID]; ok {
		return err
	}
	o, ok := r.st.orders[orderID]
	if !ok || !t.Allows(&o) {
		return repo.ErrPreconditionFailed
	}
	if t.Patch.IntentID != nil && *t.Patch.IntentID != o.Payment.IntentID {
		if other, dup := r.findByIntent(*t.Patch.IntentID); dup && other.ID != orderID {
			return repo.ErrDuplicate
		}
	}
	t.Apply(&o)
	o.UpdatedAt = time.Now()
	r.st.orders[orderID] = o
	return nil
}

func (r *orderRepo) SetPaymentIntent(ctx context.Context, orderID int64, provider, intentID string) error {
	o, ok := r.st.orders[orderID]
	if !ok || o.Status != model.OrderStatusPending || o.PaymentStatus != model.PaymentStatusPending {
		return repo.ErrPreconditionFailed
	}
	if other, dup := r.findByIntent(intentID); dup && other.ID != orderID {
		return repo.ErrDuplicate
	}
	o.Payment.Provider = provider
	o.Payment.IntentID = intentID
	o.UpdatedAt = time.Now()
	r.st.orders[orderID] = o
	return nil
}

// Tx外から呼ばれる版
type autoTxOrders struct {
	s *Store
}

var _ repo.OrderRepository = (*autoTxOrders)(nil)

func (a *autoTxOrders) run(ctx context.Context, fn func(r repo.OrderRepository) error) error {
	return a.s.WithinTx(ctx, func(r repo.TxRepos) error { return fn(r.Orders()) })
}

func (a *autoTxOrders) Create(ctx context.Context, order *model.Order) error {
	return a.run(ctx, func(r repo.OrderRepository) error { return r.Create(ctx, order) })
}

func (a *autoTxOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := a.run(ctx, func(r repo.OrderRepository) (err error) {
		o, err = r.FindByID(ctx, orderID)
		return err
	})
	return o, err
}

func (a *autoTxOrders) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return a.FindByID(ctx, orderID)
}

func (a *autoTxOrders) FindByIntentIDForUpdate(ctx context.Context, intentID string) (model.Order, error) {
	var o model.Order
	err := a.run(ctx, func(r repo.OrderRepository) (err error) {
		o, err = r.FindByIntentIDForUpdate(ctx, intentID)
		return err
	})
	return o, err
}

func (a *autoTxOrders) FindByCheckoutKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	var (
		o     model.Order
		found bool
	)
	err := a.run(ctx, func(r repo.OrderRepository) (err error) {
		o, found, err = r.FindByCheckoutKey(ctx, userID, key)
		return err
	})
	return o, found, err
}

func (a *autoTxOrders) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, int64, error) {
	var (
		items []model.Order
		total int64
	)
	err := a.run(ctx, func(r repo.OrderRepository) (err error) {
		items, total, err = r.List(ctx, f)
		return err
	})
	return items, total, err
}

func (a *autoTxOrders) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var items []model.Order
	err := a.run(ctx, func(r repo.OrderRepository) (err error) {
		items, err = r.ListExpired(ctx, now, limit)
		return err
	})
	return items, err
}

func (a *autoTxOrders) ApplyTransition(ctx context.Context, orderID int64, t model.Transition) error {
	return a.run(ctx, func(r repo.OrderRepository) error { return r.ApplyTransition(ctx, orderID, t) })
}

func (a *autoTxOrders) SetPaymentIntent(ctx context.Context, orderID int64, provider, intentID string) error {
	return a.run(ctx, func(r repo.OrderRepository) error { return r.SetPaymentIntent(ctx, orderID, provider, intentID) })
}
