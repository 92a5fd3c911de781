package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminOrderHandler struct {
	uc     *usecase.AdminOrderUsecase
	logger *slog.Logger
}

func NewAdminOrderHandler(uc *usecase.AdminOrderUsecase, logger *slog.Logger) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc, logger: logger}
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

// /ordersグループに管理者ガード付きで登録する
func (h *AdminOrderHandler) RegisterRoutes(g *echo.Group, adminOnly echo.MiddlewareFunc) {
	g.GET("/admin", h.list, adminOnly)
	g.PATCH("/:id/status", h.updateStatus, adminOnly)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	base, ok := listInputFromQuery(c)
	if !ok {
		return badRequest(c, "invalid page or limit")
	}
	in := usecase.AdminListOrdersInput{ListOrdersInput: base}

	if v := c.QueryParam("userId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid userId")
		}
		in.UserID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "invalid from")
		}
		in.From = &tm
	}
	if v := c.QueryParam("to"); v != "" {
		tm, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "invalid to")
		}
		in.To = &tm
	}

	out, err := h.uc.List(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.UpdateStatus(c.Request().Context(), adminID, id, usecase.AdminUpdateOrderStatusInput{
		Status: req.Status,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}
