package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const ProviderStripe = "stripe"

// Stripeの返金理由として受け付けられる値
var stripeRefundReasons = map[string]bool{
	string(stripe.RefundReasonDuplicate):           true,
	string(stripe.RefundReasonFraudulent):          true,
	string(stripe.RefundReasonRequestedByCustomer): true,
}

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	//Stripe呼び出しもトレースに載せる
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &StripeGateway{api: client.New(secretKey, stripe.NewBackends(httpClient))}
}

func (g *StripeGateway) Name() string { return ProviderStripe }

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req usecase.PaymentIntentRequest) (usecase.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	//同じ注文なら同じIntentが返る
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return usecase.PaymentIntent{}, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return usecase.PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req usecase.RefundRequest) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	if stripeRefundReasons[req.Reason] {
		params.Reason = stripe.String(req.Reason)
	} else if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("stripe refund %s: %w", req.IntentID, err)
	}
	return nil
}

// 部分返金は注文単位の返金として扱わない
const EventChargePartiallyRefunded = "charge.refunded.partial"

type StripeWebhookVerifier struct {
	secret string
}

func NewStripeWebhookVerifier(secret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{secret: secret}
}

// 署名を検証して、注文の突き合わせに必要な項目だけ取り出す
func (v *StripeWebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (usecase.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return usecase.PaymentEvent{}, fmt.Errorf("verify stripe signature: %w", err)
	}

	out := usecase.PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case usecase.PaymentEventSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return out, nil
		}
		out.IntentID = pi.ID
		out.OrderID = orderIDFromMetadata(pi.Metadata)
		if pi.LatestCharge != nil {
			out.ChargeID = pi.LatestCharge.ID
		}

	case usecase.PaymentEventRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return out, nil
		}
		out.ChargeID = ch.ID
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		out.OrderID = orderIDFromMetadata(ch.Metadata)
		if !ch.Refunded {
			out.Type = EventChargePartiallyRefunded
		}
	}
	return out, nil
}

func orderIDFromMetadata(md map[string]string) int64 {
	id, err := strconv.ParseInt(md["orderId"], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
