package repository

import (
	"context"

	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders    repo.OrderRepository
	carts     repo.CartRepository
	products  repo.ProductRepository
	addresses repo.AddressRepository
	stock     repo.StockLedger
	auditLogs repo.AuditLogRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository       { return r.orders }
func (r *txReposGorm) Carts() repo.CartRepository         { return r.carts }
func (r *txReposGorm) Products() repo.ProductRepository   { return r.products }
func (r *txReposGorm) Addresses() repo.AddressRepository  { return r.addresses }
func (r *txReposGorm) Stock() repo.StockLedger            { return r.stock }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository { return r.auditLogs }

func newTxRepos(db *gorm.DB) *txReposGorm {
	return &txReposGorm{
		orders:    NewOrderGormRepository(db),
		carts:     NewCartGormRepository(db),
		products:  NewProductGormRepository(db),
		addresses: NewAddressGormRepository(db),
		stock:     NewStockLedgerGorm(db),
		auditLogs: NewAuditLogGormRepository(db),
	}
}

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(newTxRepos(tx))
	})
}
