package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 明細の多いイベントも受けられる上限
const maxWebhookBodyBytes = 512 << 10

type WebhookHandler struct {
	uc     *usecase.WebhookUsecase
	logger *slog.Logger
}

func NewWebhookHandler(uc *usecase.WebhookUsecase, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{uc: uc, logger: logger}
}

type WebhookAck struct {
	Received bool `json:"received"`
}

// 認証なし。信頼は署名検証だけで担保する
func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/stripe", h.stripe)
}

func (h *WebhookHandler) stripe(c echo.Context) error {
	//署名は生のbodyに対して検証するのでBindしない
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return badRequest(c, "invalid body")
	}

	sig := c.Request().Header.Get("Stripe-Signature")
	if err := h.uc.HandleStripeEvent(c.Request().Context(), body, sig); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, WebhookAck{Received: true})
}
