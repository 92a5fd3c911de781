package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/handler"
	"github.com/rs-labo46/ec-order-engine/internal/infra/payment"
	infraRepo "github.com/rs-labo46/ec-order-engine/internal/infra/repository"
	"github.com/rs-labo46/ec-order-engine/internal/infra/telemetry"
	"github.com/rs-labo46/ec-order-engine/internal/server"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(configFile *string) *cobra.Command {
	var withoutReaper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP APIと予約切れreaperを起動する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configFile, withoutReaper)
		},
	}
	cmd.Flags().BoolVar(&withoutReaper, "no-reaper", false, "reaperを起動しない（別プロセスで動かすとき）")
	return cmd
}

func runServe(parent context.Context, configFile string, withoutReaper bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	//トレースとメトリクス
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, Version)
	if err != nil {
		return err
	}
	metrics, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, Version)
	if err != nil {
		return err
	}
	shutdown := telemetry.Combine(a.shutdown, shutdownTracer, shutdownMeter)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}()

	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return err
	}

	//外部決済
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey)
	verifier := payment.NewStripeWebhookVerifier(cfg.StripeWebhookSecret)

	clock := usecase.SystemClock{}
	checkoutUC := usecase.NewCheckoutUsecase(a.tx, usecase.ZeroPricing{}, clock, cfg.ReservationWindow, a.events, logger)
	orderUC := usecase.NewOrderUsecase(a.tx, a.orders, gateway, a.events, clock, logger)
	paymentUC := usecase.NewPaymentUsecase(a.orders, gateway, clock, logger)
	adminUC := usecase.NewAdminOrderUsecase(a.tx, a.orders, a.events, clock, logger)
	webhookUC := usecase.NewWebhookUsecase(a.tx, verifier, gateway, a.events, clock, logger)

	e := server.New(cfg, logger, infraRepo.NewUserGormRepository(a.gormDB), server.Handlers{
		Orders:      handler.NewOrderHandler(checkoutUC, orderUC, paymentUC, cfg.StripePublishableKey, logger),
		AdminOrders: handler.NewAdminOrderHandler(adminUC, logger),
		Webhooks:    handler.NewWebhookHandler(webhookUC, logger),
		Health:      handler.NewHealthHandler(sqlDB),
		Metrics:     metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, e, server.Addr(cfg.Port), logger)
	})
	if !withoutReaper {
		g.Go(func() error {
			return a.reaper().Run(gctx)
		})
	}
	return g.Wait()
}
