package pos

import (
	"github.com/shopspring/decimal"

	"savi/m/domain"
)

// DefaultTaxRate is the fixed VAT rate (16%).
var DefaultTaxRate = decimal.New(16, -2)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Summarize derives tax and total from a raw subtotal. Rounding to cents happens once, here.
func Summarize(subtotal, taxRate decimal.Decimal) Totals {
	sub := domain.Cents(subtotal)
	tax := domain.Cents(subtotal.Mul(taxRate))
	return Totals{Subtotal: sub, Tax: tax, Total: sub.Add(tax)}
}

// ComputeTotals prices cart lines at their product's current price.
func ComputeTotals(items []CartLineItem, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Product.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return Summarize(subtotal, taxRate)
}

// LineTotals prices recorded lines at their unit price.
func LineTotals(lines []domain.SaleLineItem, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return Summarize(subtotal, taxRate)
}
