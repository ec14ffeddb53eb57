// Package alerts decides which inventory alerts a product deserves.
package alerts

import (
	"fmt"
	"time"

	"savi/m/domain"
)

// DefaultThresholds match what the inventory screen sends.
var DefaultThresholds = domain.AlertThresholds{LowStock: 10, CriticalStock: 5, NoMovementDays: 30}

// Snapshot is a product with the time of its last sale, nil if it never sold.
type Snapshot struct {
	Product      domain.Product
	LastMovement *time.Time
}

// Normalize fills zero thresholds with defaults.
func Normalize(t domain.AlertThresholds) domain.AlertThresholds {
	if t.LowStock <= 0 {
		t.LowStock = DefaultThresholds.LowStock
	}
	if t.CriticalStock <= 0 {
		t.CriticalStock = DefaultThresholds.CriticalStock
	}
	if t.NoMovementDays <= 0 {
		t.NoMovementDays = DefaultThresholds.NoMovementDays
	}
	return t
}

// Validate rejects thresholds where critical stock is above low stock.
func Validate(t domain.AlertThresholds) error {
	if t.CriticalStock > t.LowStock {
		return fmt.Errorf("critical_stock_threshold (%d) cannot exceed low_stock_threshold (%d)", t.CriticalStock, t.LowStock)
	}
	return nil
}

// Evaluate returns the alerts each product currently warrants: at most one stock alert and
// one movement alert per product.
func Evaluate(snaps []Snapshot, t domain.AlertThresholds, now time.Time) []domain.InventoryAlert {
	t = Normalize(t)
	var out []domain.InventoryAlert
	for _, s := range snaps {
		p := s.Product
		if a, ok := stockAlert(p, t); ok {
			out = append(out, a)
		}
		if a, ok := movementAlert(s, t, now); ok {
			out = append(out, a)
		}
	}
	return out
}

func base(p domain.Product, alertType, severity, message string) domain.InventoryAlert {
	stock := p.Stock
	return domain.InventoryAlert{
		ProductID:       p.ID,
		ProductName:     p.Name,
		ProductSKU:      p.SKU,
		ProductCategory: p.Category,
		AlertType:       alertType,
		Severity:        severity,
		Message:         message,
		CurrentStock:    &stock,
		IsActive:        true,
	}
}

func stockAlert(p domain.Product, t domain.AlertThresholds) (domain.InventoryAlert, bool) {
	switch {
	case p.Stock <= 0:
		return base(p, domain.AlertOutOfStock, domain.SeverityCritical,
			fmt.Sprintf("%s is out of stock", p.Name)), true
	case p.Stock <= t.CriticalStock:
		a := base(p, domain.AlertCriticalStock, domain.SeverityHigh,
			fmt.Sprintf("%s has only %d units left", p.Name, p.Stock))
		threshold := t.CriticalStock
		a.Threshold = &threshold
		return a, true
	case p.Stock <= t.LowStock:
		a := base(p, domain.AlertLowStock, domain.SeverityMedium,
			fmt.Sprintf("%s is running low (%d units)", p.Name, p.Stock))
		threshold := t.LowStock
		a.Threshold = &threshold
		return a, true
	}
	return domain.InventoryAlert{}, false
}

func movementAlert(s Snapshot, t domain.AlertThresholds, now time.Time) (domain.InventoryAlert, bool) {
	p := s.Product
	if p.Stock <= 0 {
		return domain.InventoryAlert{}, false
	}
	since := p.CreatedAt
	if s.LastMovement != nil {
		since = *s.LastMovement
	}
	days := int64(now.Sub(since).Hours() / 24)
	if days < t.NoMovementDays {
		return domain.InventoryAlert{}, false
	}
	a := base(p, domain.AlertNoMovement, domain.SeverityLow,
		fmt.Sprintf("%s has not sold in %d days", p.Name, days))
	a.DaysWithoutMovement = &days
	threshold := t.NoMovementDays
	a.Threshold = &threshold
	return a, true
}
