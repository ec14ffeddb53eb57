// Package returns works out what can still be returned from a sale and drives a return from
// selection to submission.
package returns

import "savi/m/domain"

// Line is one product of the original sale with what remains returnable of it.
type Line struct {
	domain.SaleLineItem
	AlreadyReturned int64 `json:"already_returned"`
	Available       int64 `json:"available"`
}

// Selectable reports whether any unit of the line can still be returned.
func (l Line) Selectable() bool { return l.Available > 0 }

// Clamp bounds a requested quantity to [0, Available].
func (l Line) Clamp(requested int64) int64 {
	switch {
	case requested < 0:
		return 0
	case requested > l.Available:
		return l.Available
	}
	return requested
}

type Availability struct {
	SaleID int64  `json:"sale_id"`
	Lines  []Line `json:"lines"`
}

// Reconcile subtracts every prior return of the sale from the quantities sold. Returns filed
// against other sales are ignored; lines for the same product are merged.
func Reconcile(sale domain.Sale, prior []domain.ReturnRecord) Availability {
	alreadyReturned := make(map[int64]int64, len(sale.Items))
	index := make(map[int64]int, len(sale.Items))
	lines := make([]Line, 0, len(sale.Items))

	for _, item := range sale.Items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			lines[i].Subtotal = lines[i].Subtotal.Add(item.Subtotal)
			continue
		}
		index[item.ProductID] = len(lines)
		alreadyReturned[item.ProductID] = 0
		lines = append(lines, Line{SaleLineItem: item})
	}

	for _, rec := range prior {
		if rec.SaleID != sale.ID {
			continue
		}
		for _, entry := range rec.ItemsReturned {
			if _, ok := alreadyReturned[entry.ProductID]; ok {
				alreadyReturned[entry.ProductID] += entry.Quantity
			}
		}
	}

	for i := range lines {
		returned := alreadyReturned[lines[i].ProductID]
		lines[i].AlreadyReturned = returned
		if avail := lines[i].Quantity - returned; avail > 0 {
			lines[i].Available = avail
		}
	}
	return Availability{SaleID: sale.ID, Lines: lines}
}

// Line looks up the line for a product.
func (a Availability) Line(productID int64) (Line, bool) {
	for _, l := range a.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return Line{}, false
}

// Available is zero for products that were not part of the sale.
func (a Availability) Available(productID int64) int64 {
	l, _ := a.Line(productID)
	return l.Available
}

func (a Availability) Clamp(productID, requested int64) int64 {
	l, ok := a.Line(productID)
	if !ok {
		return 0
	}
	return l.Clamp(requested)
}

// AnyAvailable reports whether at least one unit of the sale is still returnable.
func (a Availability) AnyAvailable() bool {
	for _, l := range a.Lines {
		if l.Selectable() {
			return true
		}
	}
	return false
}
