package server

import (
	"net/http"

	"github.com/rs-labo46/ec-order-engine/internal/config"
	"github.com/rs-labo46/ec-order-engine/internal/handler"
	"github.com/rs-labo46/ec-order-engine/internal/middleware"
	"github.com/rs-labo46/ec-order-engine/internal/repository"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Orders      *handler.OrderHandler
	AdminOrders *handler.AdminOrderHandler
	Webhooks    *handler.WebhookHandler
	Health      *handler.HealthHandler
	Metrics     http.Handler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository, h Handlers) {
	//認証なし（署名検証のみ）
	h.Webhooks.RegisterRoutes(e)
	h.Health.RegisterRoutes(e, h.Metrics)

	orders := e.Group("/orders")
	orders.Use(middleware.AuthJWT(cfg.JWTSecret))
	orders.Use(middleware.TokenVersionGuard(userRepo))

	//静的な /orders/admin は /orders/:id より優先される
	h.AdminOrders.RegisterRoutes(orders, middleware.AdminRoleGuard())
	h.Orders.RegisterRoutes(orders)
}
