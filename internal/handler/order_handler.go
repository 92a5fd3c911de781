package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	checkout  *usecase.CheckoutUsecase
	orders    *usecase.OrderUsecase
	payments  *usecase.PaymentUsecase
	publicKey string
	logger    *slog.Logger
}

func NewOrderHandler(
	checkout *usecase.CheckoutUsecase,
	orders *usecase.OrderUsecase,
	payments *usecase.PaymentUsecase,
	publishableKey string,
	logger *slog.Logger,
) *OrderHandler {
	return &OrderHandler{
		checkout:  checkout,
		orders:    orders,
		payments:  payments,
		publicKey: publishableKey,
		logger:    logger,
	}
}

type CheckoutRequest struct {
	AddressID     int64  `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`
	Notes         string `json:"notes"`
}

type BuySingleRequest struct {
	ProductID     int64  `json:"productId"`
	Quantity      int64  `json:"quantity"`
	AddressID     int64  `json:"addressId"`
	PaymentMethod string `json:"paymentMethod"`
	Notes         string `json:"notes"`
}

// 注文作成のレスポンス。publicKeyはクライアント側で支払いを確定するのに使う
type CreateOrderResponse struct {
	Order     usecase.OrderOutput `json:"order"`
	PublicKey string              `json:"publicKey"`
}

// 認証済みグループ（/orders）に登録する
func (h *OrderHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/checkout", h.checkoutCart)
	g.POST("/buySingle", h.buySingle)
	g.GET("", h.list)
	g.GET("/:id", h.detail)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/paymentIntent", h.createPaymentIntent)
}

func (h *OrderHandler) checkoutCart(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("Idempotency-Key")
	if idemKey == "" {
		idemKey = c.Request().Header.Get("X-Idempotency-Key")
	}

	out, err := h.checkout.Checkout(c.Request().Context(), userID, usecase.CheckoutInput{
		AddressID:      req.AddressID,
		PaymentMethod:  req.PaymentMethod,
		Notes:          req.Notes,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, CreateOrderResponse{Order: out, PublicKey: h.publicKey})
}

func (h *OrderHandler) buySingle(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req BuySingleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.checkout.BuySingle(c.Request().Context(), userID, usecase.BuySingleInput{
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		AddressID:     req.AddressID,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, CreateOrderResponse{Order: out, PublicKey: h.publicKey})
}

func (h *OrderHandler) list(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	in, ok := listInputFromQuery(c)
	if !ok {
		return badRequest(c, "invalid page or limit")
	}

	out, err := h.orders.ListMine(c.Request().Context(), userID, in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	actor, ok := getActorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.orders.GetOrder(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) cancel(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.orders.CancelOrder(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) createPaymentIntent(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.payments.CreatePaymentIntent(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, out)
}

func listInputFromQuery(c echo.Context) (usecase.ListOrdersInput, bool) {
	page, ok := queryInt(c, "page")
	if !ok {
		return usecase.ListOrdersInput{}, false
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return usecase.ListOrdersInput{}, false
	}
	return usecase.ListOrdersInput{
		Page:          page,
		Limit:         limit,
		Status:        c.QueryParam("status"),
		PaymentStatus: c.QueryParam("paymentStatus"),
		Sort:          c.QueryParam("sort"),
	}, true
}
