package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rs-labo46/ec-order-engine/internal/config"
	"github.com/rs-labo46/ec-order-engine/internal/infra/db"
	"github.com/rs-labo46/ec-order-engine/internal/infra/events"
	"github.com/rs-labo46/ec-order-engine/internal/infra/lock"
	infraRepo "github.com/rs-labo46/ec-order-engine/internal/infra/repository"
	"github.com/rs-labo46/ec-order-engine/internal/infra/telemetry"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"gorm.io/gorm"
)

// app はコマンド間で共有する依存一式
type app struct {
	cfg    config.Config
	logger *slog.Logger
	gormDB *gorm.DB

	tx     *infraRepo.TxManagerGorm
	orders *infraRepo.OrderGormRepository

	events   usecase.EventPublisher
	lease    usecase.Lease
	shutdown telemetry.ShutdownFunc
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelDebug
	if cfg.IsProd() {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(slog.String("service", cfg.ServiceName))
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	gormDB, err := db.Connect(cfg.DSN())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		gormDB: gormDB,
		tx:     infraRepo.NewTxManagerGorm(gormDB),
		orders: infraRepo.NewOrderGormRepository(gormDB),
		events: usecase.NopPublisher{},
	}
	//Combineは逆順に閉じるのでDBを最後に
	closers := []telemetry.ShutdownFunc{func(context.Context) error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}}

	//Redisがあればリースで複数インスタンスのreaperを排他
	if cfg.RedisAddr != "" {
		rdb := lock.NewRedisClient(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.lease = lock.NewRedisLease(rdb, logger)
		closers = append(closers, func(context.Context) error { return rdb.Close() })
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.events = pub
		closers = append(closers, func(context.Context) error { return pub.Close() })
	}

	a.shutdown = telemetry.Combine(closers...)
	return a, nil
}

func (a *app) reaper() *usecase.ReservationReaper {
	return usecase.NewReservationReaper(
		a.tx, a.orders, a.lease, usecase.SystemClock{},
		a.cfg.ReaperInterval, a.cfg.ReaperBatchSize, a.events, a.logger,
	)
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("shutdown", slog.String("error", err.Error()))
	}
}
