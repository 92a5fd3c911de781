package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/config"
	"github.com/rs-labo46/ec-order-engine/internal/domain/model"
	"github.com/rs-labo46/ec-order-engine/internal/handler"
	"github.com/rs-labo46/ec-order-engine/internal/repository/memrepo"
	"github.com/rs-labo46/ec-order-engine/internal/server"
	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "server-test-secret"

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type nopVerifier struct{}

func (nopVerifier) ParseEvent([]byte, string) (usecase.PaymentEvent, error) {
	return usecase.PaymentEvent{}, errors.New("unsigned")
}

type nopProvider struct{}

func (nopProvider) Name() string { return "stripe" }
func (nopProvider) CreatePaymentIntent(context.Context, usecase.PaymentIntentRequest) (usecase.PaymentIntent, error) {
	return usecase.PaymentIntent{}, errors.New("unused")
}
func (nopProvider) Refund(context.Context, usecase.RefundRequest) error { return nil }

func newServer(t *testing.T, db pinger) (*memrepo.Store, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memrepo.New()
	clock := usecase.SystemClock{}
	events := usecase.NopPublisher{}

	h := server.Handlers{
		Orders: handler.NewOrderHandler(
			usecase.NewCheckoutUsecase(s, usecase.ZeroPricing{}, clock, 15*time.Minute, events, logger),
			usecase.NewOrderUsecase(s, s.Orders(), nopProvider{}, events, clock, logger),
			usecase.NewPaymentUsecase(s.Orders(), nopProvider{}, clock, logger),
			"pk_test", logger),
		AdminOrders: handler.NewAdminOrderHandler(usecase.NewAdminOrderUsecase(s, s.Orders(), events, clock, logger), logger),
		Webhooks:    handler.NewWebhookHandler(usecase.NewWebhookUsecase(s, nopVerifier{}, nopProvider{}, events, clock, logger), logger),
		Health:      handler.NewHealthHandler(db),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}
	e := server.New(config.Config{JWTSecret: secret}, logger, s.Users(), h)
	return s, e
}

func token(t *testing.T, u model.User, tv int) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"tv":   tv,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func get(h http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Auth(t *testing.T) {
	s, h := newServer(t, pinger{})
	user := s.AddUser(model.User{Email: "u@test.com", Role: model.RoleOwner, TokenVersion: 2, IsActive: true})
	admin := s.AddUser(model.User{Email: "a@test.com", Role: model.RoleAdmin, IsActive: true})

	assert.Equal(t, http.StatusUnauthorized, get(h, "/orders", "").Code)
	assert.Equal(t, http.StatusOK, get(h, "/orders", token(t, user, 2)).Code)

	//ログアウト等でtoken_versionが進んだ古いトークン
	assert.Equal(t, http.StatusUnauthorized, get(h, "/orders", token(t, user, 1)).Code)

	assert.Equal(t, http.StatusForbidden, get(h, "/orders/admin", token(t, user, 2)).Code)
	assert.Equal(t, http.StatusOK, get(h, "/orders/admin", token(t, admin, 0)).Code)
}

func TestRoutes_Unauthenticated(t *testing.T) {
	_, h := newServer(t, pinger{})

	rec := get(h, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(h, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	wrec := httptest.NewRecorder()
	h.ServeHTTP(wrec, req)
	assert.Equal(t, http.StatusBadRequest, wrec.Code)

	// リクエストIDが付く
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRoutes_HealthUnavailable(t *testing.T) {
	_, h := newServer(t, pinger{err: errors.New("db down")})
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/healthz", "").Code)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", server.Addr(""))
	assert.Equal(t, ":9000", server.Addr("9000"))
	assert.Equal(t, ":9000", server.Addr(":9000"))
}
