//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	"github.com/rs-labo46/ec-order-engine/internal/infra/db"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"
	"github.com/rs-labo46/ec-order-engine/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("app"),
		postgres.WithPassword("app"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(c) })

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	_, _ = m.Close()

	gdb, err := db.Connect(dsn)
	require.NoError(t, err)
	return gdb
}

func seed(t *testing.T, gdb *gorm.DB, stock int64) (model.User, model.Product) {
	t.Helper()
	u := model.User{Email: "buyer@test.com", Role: model.RoleOwner, IsActive: true}
	require.NoError(t, gdb.Create(&u).Error)
	p := model.Product{Name: "mug", Price: decimal.RequireFromString("12.50"), Currency: "USD", StockQty: stock, IsActive: true}
	require.NoError(t, gdb.Create(&p).Error)
	return u, p
}

func newPendingOrder(userID int64, p model.Product, reservedUntil time.Time) *model.Order {
	o := &model.Order{
		UserID:        userID,
		Currency:      p.Currency,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		ReservedUntil: reservedUntil,
		Items: []model.OrderItem{{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    2,
			Currency:    p.Currency,
		}},
	}
	o.RecomputeTotals()
	return o
}

// 同時に取りに来ても在庫以上は減らない
func TestStockLedger_ConcurrentReserve(t *testing.T) {
	gdb := startPostgres(t)
	_, p := seed(t, gdb, 5)
	tm := NewTxManagerGorm(gdb)
	ctx := context.Background()

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
				reserved, err := r.Stock().TryReserve(ctx, p.ID, 1)
				if err != nil {
					return err
				}
				if reserved {
					ok.Add(1)
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), ok.Load())
	got, err := NewProductGormRepository(gdb).FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.StockQty)
}

func TestTxManager_RollbackOnError(t *testing.T) {
	gdb := startPostgres(t)
	_, p := seed(t, gdb, 3)
	tm := NewTxManagerGorm(gdb)
	ctx := context.Background()

	boom := errors.New("boom")
	err := tm.WithinTx(ctx, func(r repo.TxRepos) error {
		ok, err := r.Stock().TryReserve(ctx, p.ID, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := NewProductGormRepository(gdb).FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.StockQty)
}

func TestOrderRepository_TransitionGuards(t *testing.T) {
	gdb := startPostgres(t)
	u, p := seed(t, gdb, 3)
	orders := NewOrderGormRepository(gdb)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	o := newPendingOrder(u.ID, p, now.Add(15*time.Minute))
	require.NoError(t, orders.Create(ctx, o))
	require.NotZero(t, o.ID)
	require.NoError(t, orders.SetPaymentIntent(ctx, o.ID, "stripe", "pi_1"))

	locked, err := orders.FindByIntentIDForUpdate(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, locked.ID)
	require.Len(t, locked.Items, 1)
	assert.True(t, locked.Total.Equal(decimal.RequireFromString("25")))

	require.NoError(t, orders.ApplyTransition(ctx, o.ID, model.MarkPaid("pi_1", "ch_1", "evt_1")))
	// 同じ遷移は前提を満たさない
	assert.ErrorIs(t, orders.ApplyTransition(ctx, o.ID, model.MarkPaid("pi_1", "ch_1", "evt_2")), repo.ErrPreconditionFailed)

	got, err := orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
	assert.Equal(t, model.PaymentStatusSucceeded, got.PaymentStatus)
	assert.Equal(t, "evt_1", got.Payment.LastEventID)

	//支払い済みは失効しない
	assert.ErrorIs(t, orders.ApplyTransition(ctx, o.ID, model.Expire(now.Add(time.Hour))), repo.ErrPreconditionFailed)
}

func TestOrderRepository_ListExpiredAndCheckoutKey(t *testing.T) {
	gdb := startPostgres(t)
	u, p := seed(t, gdb, 10)
	orders := NewOrderGormRepository(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	key := "k-1"
	stale := newPendingOrder(u.ID, p, now.Add(-time.Minute))
	stale.CheckoutKey = &key
	require.NoError(t, orders.Create(ctx, stale))
	fresh := newPendingOrder(u.ID, p, now.Add(time.Minute))
	require.NoError(t, orders.Create(ctx, fresh))

	dup := newPendingOrder(u.ID, p, now.Add(time.Minute))
	dup.CheckoutKey = &key
	assert.ErrorIs(t, orders.Create(ctx, dup), repo.ErrDuplicate)

	found, ok, err := orders.FindByCheckoutKey(ctx, u.ID, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stale.ID, found.ID)

	expired, err := orders.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	require.NoError(t, orders.ApplyTransition(ctx, stale.ID, model.Expire(now)))
	expired, err = orders.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
