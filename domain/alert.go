package domain

import "time"

const (
	AlertOutOfStock    = "out_of_stock"
	AlertCriticalStock = "critical_stock"
	AlertLowStock      = "low_stock"
	AlertNoMovement    = "no_movement"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

type InventoryAlert struct {
	ID                  int64      `db:"id" json:"id"`
	ProductID           int64      `db:"product_id" json:"product_id"`
	ProductName         string     `db:"product_name" json:"product_name"`
	ProductSKU          *string    `db:"product_sku" json:"product_sku"`
	ProductCategory     string     `db:"product_category" json:"product_category"`
	AlertType           string     `db:"alert_type" json:"alert_type"`
	Severity            string     `db:"severity" json:"severity"`
	Message             string     `db:"message" json:"message"`
	CurrentStock        *int64     `db:"current_stock" json:"current_stock"`
	Threshold           *int64     `db:"threshold" json:"threshold"`
	DaysWithoutMovement *int64     `db:"days_without_movement" json:"days_without_movement"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	IsRead              bool       `db:"is_read" json:"is_read"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt          *time.Time `db:"resolved_at" json:"resolved_at"`
}

type AlertStats struct {
	TotalAlerts    int64            `json:"total_alerts"`
	ActiveAlerts   int64            `json:"active_alerts"`
	UnreadAlerts   int64            `json:"unread_alerts"`
	CriticalAlerts int64            `json:"critical_alerts"`
	ByType         map[string]int64 `json:"by_type"`
	BySeverity     map[string]int64 `json:"by_severity"`
}

// AlertThresholds parameterise alert generation.
type AlertThresholds struct {
	LowStock       int64 `json:"low_stock_threshold"`
	CriticalStock  int64 `json:"critical_stock_threshold"`
	NoMovementDays int64 `json:"no_movement_days"`
}
