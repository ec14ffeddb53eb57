package returns

import (
	"context"

	"savi/m/domain"
)

// Validator asks the backend whether a sale may still take a return.
type Validator interface {
	ValidateReturn(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error)
}

type Decision struct {
	OK     bool
	Reason string
}

// Gate is the pre-submit eligibility check. A pass is advisory: the backend validates again on
// submission. A failed query blocks like a negative answer.
type Gate struct {
	validator Validator
}

func NewGate(v Validator) *Gate {
	return &Gate{validator: v}
}

func (g *Gate) Check(ctx context.Context, saleID int64) Decision {
	res, err := g.validator.ValidateReturn(ctx, saleID)
	if err != nil {
		return Decision{OK: false, Reason: err.Error()}
	}
	if res == nil {
		return Decision{OK: false, Reason: "empty eligibility response"}
	}
	if !res.OK {
		reason := res.Reason
		if reason == "" {
			reason = "sale is not eligible for return"
		}
		return Decision{OK: false, Reason: reason}
	}
	return Decision{OK: true}
}
