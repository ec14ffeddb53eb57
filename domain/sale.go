package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

// SaleLineItem is one product line of a sale or a return. Recorded lines are never mutated.
type SaleLineItem struct {
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// NewSaleLineItem builds a line with its subtotal derived from quantity and unit price.
func NewSaleLineItem(productID int64, name string, quantity int64, unitPrice decimal.Decimal) SaleLineItem {
	return SaleLineItem{
		ProductID:   productID,
		ProductName: name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Subtotal:    Cents(unitPrice.Mul(decimal.NewFromInt(quantity))),
	}
}

type Sale struct {
	ID            int64            `db:"id" json:"id"`
	UserID        *int64           `db:"user_id" json:"user_id,omitempty"`
	Items         []SaleLineItem   `db:"-" json:"items"`
	Subtotal      decimal.Decimal  `db:"subtotal" json:"subtotal"`
	Tax           decimal.Decimal  `db:"tax" json:"tax"`
	Discount      decimal.Decimal  `db:"discount" json:"discount"`
	Total         decimal.Decimal  `db:"total" json:"total"`
	NetTotal      *decimal.Decimal `db:"-" json:"net_total,omitempty"`
	PaymentMethod PaymentMethod    `db:"payment_method" json:"payment_method"`
	Status        SaleStatus       `db:"status" json:"status"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// SaleStats are the KPIs shown on the dashboard and the sales report.
type SaleStats struct {
	Revenue      decimal.Decimal `json:"revenue_today"`
	ProductsSold int64           `json:"products_sold_today"`
	Customers    int64           `json:"customers_today"`
	Transactions int64           `json:"transactions_today"`
}

type TopProduct struct {
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	Revenue     decimal.Decimal `db:"revenue" json:"revenue"`
}

// CreateSaleRequest is the body of POST /v1/sales: the final cart snapshot and its totals.
type CreateSaleRequest struct {
	Items         []SaleLineItem  `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}
