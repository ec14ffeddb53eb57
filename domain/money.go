// Package domain holds the types shared by the API, the client and the POS core.
//
// Importing it sets decimal.MarshalJSONWithoutQuotes for the whole process, so every
// decimal.Decimal is encoded as a JSON number rather than a quoted string.
package domain

import "github.com/shopspring/decimal"

func init() {
	// Amounts travel as JSON numbers, the way the front end and reports expect them.
	decimal.MarshalJSONWithoutQuotes = true
}

// Cents rounds an amount to two decimal places.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
