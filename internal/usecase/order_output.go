package usecase

import (
	"time"

	"github.com/rs-labo46/ec-order-engine/internal/domain/model"

	"github.com/shopspring/decimal"
)

type OrderItemOutput struct {
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int64           `json:"quantity"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
	Currency     string          `json:"currency"`
}

type PaymentOutput struct {
	Provider string `json:"provider,omitempty"`
	IntentID string `json:"intentId,omitempty"`
	ChargeID string `json:"chargeId,omitempty"`
}

type ShippingAddressOutput struct {
	PostalCode string `json:"postalCode"`
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

type OrderOutput struct {
	ID              int64                 `json:"id"`
	UserID          int64                 `json:"userId"`
	Items           []OrderItemOutput     `json:"items"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	ShippingFee     decimal.Decimal       `json:"shippingFee"`
	TaxAmount       decimal.Decimal       `json:"taxAmount"`
	Total           decimal.Decimal       `json:"total"`
	Currency        string                `json:"currency"`
	Status          model.OrderStatus     `json:"status"`
	PaymentStatus   model.PaymentStatus   `json:"paymentStatus"`
	ReservedUntil   time.Time             `json:"reservedUntil"`
	StockReleased   bool                  `json:"stockReleased"`
	Payment         PaymentOutput         `json:"payment"`
	ShippingAddress ShippingAddressOutput `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	Notes           string                `json:"notes"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

func toOrderOutput(o model.Order) OrderOutput {
	items := make([]OrderItemOutput, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemOutput{
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			ProductImage: it.ProductImage,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			LineTotal:    it.LineTotal,
			Currency:     it.Currency,
		})
	}
	return OrderOutput{
		ID:            o.ID,
		UserID:        o.UserID,
		Items:         items,
		Subtotal:      o.Subtotal,
		ShippingFee:   o.ShippingFee,
		TaxAmount:     o.TaxAmount,
		Total:         o.Total,
		Currency:      o.Currency,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		ReservedUntil: o.ReservedUntil,
		StockReleased: o.StockReleased,
		Payment: PaymentOutput{
			Provider: o.Payment.Provider,
			IntentID: o.Payment.IntentID,
			ChargeID: o.Payment.ChargeID,
		},
		ShippingAddress: ShippingAddressOutput(o.Shipping),
		PaymentMethod:   o.PaymentMethod,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
