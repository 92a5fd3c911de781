package memrepo

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"
)

type cartRepo struct{ st *state }

var _ repo.CartRepository = (*cartRepo)(nil)

func (r *cartRepo) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	for _, c := range r.st.carts {
		if c.UserID == userID && c.Status == model.CartStatusActive {
			return c, nil
		}
	}
	return model.Cart{}, repo.ErrNotFound
}

func (r *cartRepo) ListItems(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	return append([]model.CartItem{}, r.st.cartItems[cartID]...), nil
}

func (r *cartRepo) Clear(ctx context.Context, cartID int64) error {
	delete(r.st.cartItems, cartID)
	return nil
}

type productRepo struct{ st *state }

var _ repo.ProductRepository = (*productRepo)(nil)

func (r *productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := r.st.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type addressRepo struct{ st *state }

var _ repo.AddressRepository = (*addressRepo)(nil)

func (r *addressRepo) FindOwned(ctx context.Context, addressID, userID int64) (model.Address, error) {
	a, ok := r.st.addresses[addressID]
	if !ok || a.UserID != userID {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

type stockLedger struct{ st *state }

var _ repo.StockLedger = (*stockLedger)(nil)

func (l *stockLedger) TryReserve(ctx context.Context, productID int64, qty int64) (bool, error) {
	p, ok := l.st.products[productID]
	if !ok || !p.IsActive || p.StockQty < qty {
		return false, nil
	}
	p.StockQty -= qty
	l.st.products[productID] = p
	return true, nil
}

func (l *stockLedger) Release(ctx context.Context, productID int64, qty int64) error {
	p, ok := l.st.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.StockQty += qty
	l.st.products[productID] = p
	return nil
}

func (l *stockLedger) RecordMovement(ctx context.Context, m model.StockMovement) error {
	m.ID = l.st.id()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	l.st.movements = append(l.st.movements, m)
	return nil
}

type auditLogRepo struct{ st *state }

var _ repo.AuditLogRepository = (*auditLogRepo)(nil)

func (r *auditLogRepo) Create(ctx context.Context, log model.AuditLog) error {
	log.ID = r.st.id()
	r.st.auditLogs = append(r.st.auditLogs, log)
	return nil
}

type autoTxUsers struct{ s *Store }

var _ repo.UserRepository = (*autoTxUsers)(nil)

func (a *autoTxUsers) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	var (
		u  model.User
		ok bool
	)
	a.s.read(func(st *state) { u, ok = st.users[userID] })
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &u, nil
}
