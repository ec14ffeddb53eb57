package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReturnAction string

const (
	ReturnRefund     ReturnAction = "refund"
	ReturnCreditNote ReturnAction = "credit_note"
	ReturnExchange   ReturnAction = "exchange"
)

func (a ReturnAction) Valid() bool {
	switch a {
	case ReturnRefund, ReturnCreditNote, ReturnExchange:
		return true
	}
	return false
}

// ReturnRecord is a filed return against a sale. There is no update path once created.
type ReturnRecord struct {
	ID             int64           `json:"id"`
	SaleID         int64           `json:"sale_id"`
	UserID         *int64          `json:"user_id,omitempty"`
	ItemsReturned  []SaleLineItem  `json:"items_returned"`
	ItemsExchanged []SaleLineItem  `json:"items_exchanged,omitempty"`
	SubtotalRefund decimal.Decimal `json:"subtotal_refund"`
	TaxRefund      decimal.Decimal `json:"tax_refund"`
	TotalRefund    decimal.Decimal `json:"total_refund"`
	Action         ReturnAction    `json:"action"`
	RefundMethod   *string         `json:"refund_method,omitempty"`
	Reason         *string         `json:"reason,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateReturnRequest is the body of POST /v1/returns.
type CreateReturnRequest struct {
	SaleID         int64          `json:"sale_id"`
	ItemsReturned  []SaleLineItem `json:"items_returned"`
	ItemsExchanged []SaleLineItem `json:"items_exchanged,omitempty"`
	Action         ReturnAction   `json:"action"`
	RefundMethod   *string        `json:"refund_method,omitempty"`
	Reason         *string        `json:"reason,omitempty"`
}

// ReturnEligibility is the answer of GET /v1/returns/validate.
type ReturnEligibility struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
