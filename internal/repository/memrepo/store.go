// Package memrepo はrepositoryのインメモリ実装（テスト用）。
// WithinTx は作業用コピーに対して fn を実行し、errorなら捨てる（rollback）。
// トランザクションは直列に実行される。
package memrepo

import (
	"context"
	"sync"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"
)

type state struct {
	nextID    int64
	orders    map[int64]model.Order
	products  map[int64]model.Product
	addresses map[int64]model.Address
	carts     map[int64]model.Cart
	cartItems map[int64][]model.CartItem
	users     map[int64]model.User
	movements []model.StockMovement
	auditLogs []model.AuditLog

	// テスト用の失敗注入
	failTransition map[int64]error
}

func newState() *state {
	return &state{
		orders:         map[int64]model.Order{},
		products:       map[int64]model.Product{},
		addresses:      map[int64]model.Address{},
		carts:          map[int64]model.Cart{},
		cartItems:      map[int64][]model.CartItem{},
		users:          map[int64]model.User{},
		failTransition: map[int64]error{},
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	if o.CheckoutKey != nil {
		k := *o.CheckoutKey
		o.CheckoutKey = &k
	}
	return o
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = append([]model.CartItem(nil), v...)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.failTransition {
		c.failTransition[k] = v
	}
	c.movements = append([]model.StockMovement(nil), s.movements...)
	c.auditLogs = append([]model.AuditLog(nil), s.auditLogs...)
	return c
}

type Store struct {
	txMu sync.Mutex // トランザクションの直列化
	mu   sync.Mutex // stの差し替え
	st   *state

	commits   int
	rollbacks int
}

var _ repo.TransactionManager = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	if err := fn(&txRepos{st: work}); err != nil {
		s.mu.Lock()
		s.rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.st = work
	s.commits++
	s.mu.Unlock()
	return nil
}

// Tx外から使うリポジトリ。1呼び出し=1トランザクション
func (s *Store) Orders() repo.OrderRepository { return &autoTxOrders{s: s} }
func (s *Store) Users() repo.UserRepository   { return &autoTxUsers{s: s} }

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// 既存の状態を直接いじる（テストの準備用）
func (s *Store) mutate(fn func(st *state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

type txRepos struct {
	st *state
}

func (r *txRepos) Orders() repo.OrderRepository       { return &orderRepo{st: r.st} }
func (r *txRepos) Carts() repo.CartRepository         { return &cartRepo{st: r.st} }
func (r *txRepos) Products() repo.ProductRepository   { return &productRepo{st: r.st} }
func (r *txRepos) Addresses() repo.AddressRepository  { return &addressRepo{st: r.st} }
func (r *txRepos) Stock() repo.StockLedger            { return &stockLedger{st: r.st} }
func (r *txRepos) AuditLogs() repo.AuditLogRepository { return &auditLogRepo{st: r.st} }
