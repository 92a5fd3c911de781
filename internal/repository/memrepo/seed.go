package memrepo

import (
	"slices"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
)

// ===== テストの準備と検証用 =====

func (s *Store) AddUser(u model.User) model.User {
	s.mutate(func(st *state) {
		if u.ID == 0 {
			u.ID = st.id()
		}
		st.users[u.ID] = u
	})
	return u
}

func (s *Store) AddProduct(p model.Product) model.Product {
	s.mutate(func(st *state) {
		if p.ID == 0 {
			p.ID = st.id()
		}
		st.products[p.ID] = p
	})
	return p
}

func (s *Store) AddAddress(a model.Address) model.Address {
	s.mutate(func(st *state) {
		if a.ID == 0 {
			a.ID = st.id()
		}
		st.addresses[a.ID] = a
	})
	return a
}

// ACTIVEなカートに明細を入れる。無ければ作る（1ユーザーにACTIVEは1つ）
func (s *Store) AddCart(userID int64, items ...model.CartItem) model.Cart {
	var c model.Cart
	s.mutate(func(st *state) {
		for _, cur := range st.carts {
			if cur.UserID == userID && cur.Status == model.CartStatusActive {
				c = cur
			}
		}
		if c.ID == 0 {
			c = model.Cart{ID: st.id(), UserID: userID, Status: model.CartStatusActive}
			st.carts[c.ID] = c
		}
		for _, it := range items {
			it.ID = st.id()
			it.CartID = c.ID
			st.cartItems[c.ID] = append(st.cartItems[c.ID], it)
		}
	})
	return c
}

// 注文をそのまま置く（状態遷移のテスト用）
func (s *Store) PutOrder(o model.Order) model.Order {
	s.mutate(func(st *state) {
		if o.ID == 0 {
			o.ID = st.id()
		}
		for i := range o.Items {
			if o.Items[i].ID == 0 {
				o.Items[i].ID = st.id()
			}
			o.Items[i].OrderID = o.ID
		}
		st.orders[o.ID] = cloneOrder(o)
	})
	return o
}

// 指定注文のApplyTransitionを必ず失敗させる
func (s *Store) FailTransition(orderID int64, err error) {
	s.mutate(func(st *state) { st.failTransition[orderID] = err })
}

func (s *Store) SetStock(productID, qty int64) {
	s.mutate(func(st *state) {
		p := st.products[productID]
		p.StockQty = qty
		st.products[productID] = p
	})
}

func (s *Store) Order(id int64) (model.Order, bool) {
	var (
		o  model.Order
		ok bool
	)
	s.read(func(st *state) {
		o, ok = st.orders[id]
		o = cloneOrder(o)
	})
	return o, ok
}

func (s *Store) OrderCount() int {
	var n int
	s.read(func(st *state) { n = len(st.orders) })
	return n
}

func (s *Store) Product(id int64) model.Product {
	var p model.Product
	s.read(func(st *state) { p = st.products[id] })
	return p
}

func (s *Store) CartItems(cartID int64) []model.CartItem {
	var items []model.CartItem
	s.read(func(st *state) { items = slices.Clone(st.cartItems[cartID]) })
	return items
}

func (s *Store) Movements() []model.StockMovement {
	var out []model.StockMovement
	s.read(func(st *state) { out = slices.Clone(st.movements) })
	return out
}

func (s *Store) AuditLogs() []model.AuditLog {
	var out []model.AuditLog
	s.read(func(st *state) { out = slices.Clone(st.auditLogs) })
	return out
}
