package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	repo "github.com/rs-labo46/ec-order-engine/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const reaperLeaseKey = "order-engine:reservation-reaper"

type SweepResult struct {
	Skipped bool
	Scanned int
	Expired int
	Failed  int
}

// ReservationReaper は支払われないまま予約期限を過ぎた注文をcancelled/failedにする。
// 在庫はcheckoutで減らしていないので戻さない。
type ReservationReaper struct {
	tx       repo.TransactionManager
	orders   repo.OrderRepository
	lease    Lease // nilなら単一インスタンス前提
	clock    Clock
	interval time.Duration
	batch    int
	events   EventPublisher
	logger   *slog.Logger

	running atomic.Bool
}

func NewReservationReaper(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	lease Lease,
	clock Clock,
	interval time.Duration,
	batch int,
	events EventPublisher,
	logger *slog.Logger,
) *ReservationReaper {
	if batch <= 0 {
		batch = 100
	}
	return &ReservationReaper{
		tx:       tx,
		orders:   orders,
		lease:    lease,
		clock:    clock,
		interval: interval,
		batch:    batch,
		events:   events,
		logger:   logger,
	}
}

// intervalごとにSweep。ctxが終わったら止まる
func (r *ReservationReaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reservation reaper started", slog.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reservation sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reservation reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// 1回分のスイープ。1件の失敗で他の注文を止めない
func (r *ReservationReaper) Sweep(ctx context.Context) (res SweepResult, err error) {
	//同一プロセス内の重複実行ガード
	if !r.running.CompareAndSwap(false, true) {
		r.logger.InfoContext(ctx, "reservation sweep already running, skipped")
		return SweepResult{Skipped: true}, nil
	}
	defer r.running.Store(false)

	//インスタンス間の重複実行ガード
	if r.lease != nil {
		release, acquired, err := r.lease.Acquire(ctx, reaperLeaseKey, r.interval)
		if err != nil {
			return SweepResult{}, err
		}
		if !acquired {
			r.logger.InfoContext(ctx, "reservation sweep lease held elsewhere, skipped")
			return SweepResult{Skipped: true}, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	ctx, span := startSpan(ctx, "ReservationReaper.Sweep")
	started := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("scanned", res.Scanned),
			attribute.Int("expired", res.Expired),
			attribute.Int("failed", res.Failed),
		)
		meters.sweepDurations.Record(ctx, time.Since(started).Seconds())
		endSpan(span, err)
	}()

	now := r.clock.Now()
	failed := map[int64]bool{}

	for {
		candidates, err := r.orders.ListExpired(ctx, now, r.batch)
		if err != nil {
			return res, err
		}

		progressed := false
		for _, o := range candidates {
			if failed[o.ID] {
				continue
			}
			res.Scanned++
			expired, err := r.expire(ctx, o, now)
			if err != nil {
				failed[o.ID] = true
				res.Failed++
				r.logger.ErrorContext(ctx, "expire order failed",
					slog.Int64("order_id", o.ID), slog.String("error", err.Error()))
				continue
			}
			progressed = true
			if expired {
				res.Expired++
			}
		}

		//最後のバッチ、または失敗しか残っていない
		if len(candidates) < r.batch || !progressed {
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	if res.Expired > 0 || res.Failed > 0 {
		r.logger.InfoContext(ctx, "reservation sweep finished",
			slog.Int("scanned", res.Scanned),
			slog.Int("expired", res.Expired),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// 注文ごとに独立したTx。先にwebhookが確定させていれば何もしない
func (r *ReservationReaper) expire(ctx context.Context, o model.Order, now time.Time) (bool, error) {
	t := model.Expire(now)
	err := r.tx.WithinTx(ctx, func(txr repo.TxRepos) error {
		return txr.Orders().ApplyTransition(ctx, o.ID, t)
	})
	if errors.Is(err, repo.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	t.Apply(&o)
	meters.ordersExpired.Add(ctx, 1)
	publishOrderEvent(ctx, r.events, r.logger, r.clock, OrderEventExpired, o)
	return true, nil
}
