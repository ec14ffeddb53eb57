package returns

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"savi/m/domain"
	"savi/m/internal/pos"
)

var (
	ErrNothingToReturn       = errors.New("select at least one item to return")
	ErrInvalidAction         = errors.New("action must be refund, credit_note or exchange")
	ErrExchangeItemsRequired = errors.New("an exchange needs at least one replacement item")
)

// Draft is the cashier's in-progress return selection.
type Draft struct {
	Quantities   map[int64]int64
	Action       domain.ReturnAction
	RefundMethod *string
	Reason       *string
	Exchange     []domain.SaleLineItem
}

// BuildRequest turns a draft into the create-return payload. Quantities are clamped to what is
// still available and lines left at zero are dropped.
func BuildRequest(sale domain.Sale, avail Availability, d Draft) (domain.CreateReturnRequest, error) {
	if !d.Action.Valid() {
		return domain.CreateReturnRequest{}, ErrInvalidAction
	}

	var items []domain.SaleLineItem
	for _, line := range avail.Lines {
		qty := line.Clamp(d.Quantities[line.ProductID])
		if qty <= 0 {
			continue
		}
		items = append(items, domain.NewSaleLineItem(line.ProductID, line.ProductName, qty, line.UnitPrice))
	}
	if len(items) == 0 {
		return domain.CreateReturnRequest{}, ErrNothingToReturn
	}

	req := domain.CreateReturnRequest{
		SaleID:        sale.ID,
		ItemsReturned: items,
		Action:        d.Action,
		RefundMethod:  d.RefundMethod,
		Reason:        d.Reason,
	}
	if req.RefundMethod == nil && d.Action == domain.ReturnRefund {
		method := string(sale.PaymentMethod)
		req.RefundMethod = &method
	}
	if d.Action == domain.ReturnExchange {
		if len(d.Exchange) == 0 {
			return domain.CreateReturnRequest{}, ErrExchangeItemsRequired
		}
		for _, ex := range d.Exchange {
			if ex.Quantity <= 0 {
				return domain.CreateReturnRequest{}, fmt.Errorf("exchange item %d: quantity must be positive", ex.ProductID)
			}
			req.ItemsExchanged = append(req.ItemsExchanged, domain.NewSaleLineItem(ex.ProductID, ex.ProductName, ex.Quantity, ex.UnitPrice))
		}
	}
	return req, nil
}

// Summary is what the confirmation step shows before anything is sent.
type Summary struct {
	SaleID       int64
	Action       domain.ReturnAction
	RefundMethod string
	Lines        []domain.SaleLineItem
	Refund       pos.Totals
}

func summarize(req domain.CreateReturnRequest, taxRate decimal.Decimal) Summary {
	method := "N/A"
	if req.RefundMethod != nil {
		method = *req.RefundMethod
	}
	return Summary{
		SaleID:       req.SaleID,
		Action:       req.Action,
		RefundMethod: method,
		Lines:        req.ItemsReturned,
		Refund:       pos.LineTotals(req.ItemsReturned, taxRate),
	}
}
