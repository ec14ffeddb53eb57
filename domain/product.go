package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description,omitempty"`
	SKU          *string         `db:"sku" json:"sku,omitempty"`
	Category     string          `db:"category" json:"category"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Stock        int64           `db:"stock" json:"stock"`
	HasPromotion bool            `db:"has_promotion" json:"has_promotion"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Page is the list envelope every collection endpoint answers with.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}
