package migrations

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type dialect struct {
	pk        string
	timestamp string
}

var dialects = map[string]dialect{
	"sqlite": {pk: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "TIMESTAMP"},
	"pgx":    {pk: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ"},
	"mysql":  {pk: "BIGINT AUTO_INCREMENT PRIMARY KEY", timestamp: "DATETIME(6)"},
}

// Run creates the database schema required for the POS backend.
func Run(db *sqlx.DB) error {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	r := strings.NewReplacer("{{pk}}", d.pk, "{{ts}}", d.timestamp)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {{pk}},
			username VARCHAR(150) NOT NULL UNIQUE,
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			password VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id {{pk}},
			name VARCHAR(255) NOT NULL,
			description TEXT,
			sku VARCHAR(100) UNIQUE,
			category VARCHAR(100) NOT NULL DEFAULT '',
			price NUMERIC(12,2) NOT NULL,
			stock BIGINT NOT NULL DEFAULT 0,
			has_promotion BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {{ts}} NOT NULL,
			updated_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id {{pk}},
			user_id BIGINT REFERENCES users(id),
			subtotal NUMERIC(12,2) NOT NULL,
			tax NUMERIC(12,2) NOT NULL,
			discount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total NUMERIC(12,2) NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			idempotency_key VARCHAR(64) UNIQUE,
			created_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id {{pk}},
			sale_id BIGINT NOT NULL REFERENCES sales(id),
			product_id BIGINT NOT NULL REFERENCES products(id),
			product_name VARCHAR(255) NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS returns (
			id {{pk}},
			sale_id BIGINT NOT NULL REFERENCES sales(id),
			user_id BIGINT REFERENCES users(id),
			action VARCHAR(20) NOT NULL,
			refund_method VARCHAR(20),
			reason TEXT,
			subtotal_refund NUMERIC(12,2) NOT NULL,
			tax_refund NUMERIC(12,2) NOT NULL,
			total_refund NUMERIC(12,2) NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at {{ts}} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS return_items (
			id {{pk}},
			return_id BIGINT NOT NULL REFERENCES returns(id),
			kind VARCHAR(10) NOT NULL,
			product_id BIGINT NOT NULL REFERENCES products(id),
			product_name VARCHAR(255) NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_alerts (
			id {{pk}},
			product_id BIGINT NOT NULL REFERENCES products(id),
			alert_type VARCHAR(30) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			message TEXT NOT NULL,
			current_stock BIGINT,
			threshold BIGINT,
			days_without_movement BIGINT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {{ts}} NOT NULL,
			resolved_at {{ts}}
		)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(r.Replace(stmt)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
