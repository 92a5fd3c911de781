package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 支払いプロバイダ側の参照。LastEventIDはwebhook再送の冪等ガード
type PaymentInfo struct {
	Provider    string `gorm:"type:varchar(30)" json:"provider"`
	IntentID    string `gorm:"type:varchar(255);index" json:"intent_id"`
	ChargeID    string `gorm:"type:varchar(255)" json:"charge_id,omitempty"`
	LastEventID string `gorm:"type:varchar(255)" json:"last_event_id,omitempty"`
}

// 注文時点の配送先スナップショット（住所マスタの変更に影響されない）
type ShippingAddress struct {
	PostalCode string `gorm:"type:varchar(20)" json:"postal_code"`
	Prefecture string `gorm:"type:varchar(100)" json:"prefecture"`
	City       string `gorm:"type:varchar(255)" json:"city"`
	Line1      string `gorm:"type:varchar(255)" json:"line1"`
	Line2      string `gorm:"type:varchar(255)" json:"line2"`
	Name       string `gorm:"type:varchar(255)" json:"name"`
	Phone      string `gorm:"type:varchar(30)" json:"phone"`
}

func SnapshotAddress(a Address) ShippingAddress {
	return ShippingAddress{
		PostalCode: a.PostalCode,
		Prefecture: a.Prefecture,
		City:       a.City,
		Line1:      a.Line1,
		Line2:      a.Line2,
		Name:       a.Name,
		Phone:      a.Phone,
	}
}

type Order struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64           `gorm:"not null;index" json:"user_id"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	ShippingFee   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"shipping_fee"`
	TaxAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax_amount"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status        OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	ReservedUntil time.Time       `gorm:"not null;index" json:"reserved_until"`
	StockReleased bool            `gorm:"not null;default:false" json:"stock_released"`
	Payment       PaymentInfo     `gorm:"embedded;embeddedPrefix:payment_" json:"payment"`
	Shipping      ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`
	PaymentMethod string          `gorm:"type:varchar(30)" json:"payment_method"`
	Notes         string          `gorm:"type:text" json:"notes"`
	// クライアントの二重送信防止キー（任意）
	CheckoutKey *string   `gorm:"type:varchar(255)" json:"-"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 注文明細。商品名・画像・単価は注文時点のスナップショット
type OrderItem struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      int64           `gorm:"not null;index" json:"order_id"`
	ProductID    int64           `gorm:"not null;index" json:"product_id"`
	ProductName  string          `gorm:"type:varchar(255);not null" json:"product_name"`
	ProductImage string          `gorm:"type:varchar(1024)" json:"product_image"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Quantity     int64           `gorm:"not null" json:"quantity"`
	LineTotal    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"line_total"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
}

// total = subtotal + shipping + tax を毎回計算し直す
func (o *Order) RecomputeTotals() {
	sub := decimal.Zero
	for i := range o.Items {
		o.Items[i].LineTotal = o.Items[i].UnitPrice.Mul(decimal.NewFromInt(o.Items[i].Quantity))
		sub = sub.Add(o.Items[i].LineTotal)
	}
	o.Subtotal = sub
	o.Total = o.Subtotal.Add(o.ShippingFee).Add(o.TaxAmount)
}

// 未払いのまま予約期限を過ぎたか
func (o *Order) ReservationExpired(now time.Time) bool {
	return o.Status == OrderStatusPending && !o.StockReleased && now.After(o.ReservedUntil)
}

func (o *Order) IsPayable(now time.Time) bool {
	return o.Status == OrderStatusPending &&
		o.PaymentStatus == PaymentStatusPending &&
		!now.After(o.ReservedUntil)
}
