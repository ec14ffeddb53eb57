package seed

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"savi/m/internal/database"
)

// LoadProducts ingests a catalog CSV (name, sku, category, price, stock, description) into the
// products table. Rows whose SKU already exists are skipped.
func LoadProducts(db *sqlx.DB, csvPath string, log *zap.Logger) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.Info("no product catalog to seed", zap.String("path", csvPath), zap.Error(err))
		return
	}
	defer file.Close()

	rows, err := loadProducts(db, file, log)
	if err != nil {
		log.Error("unable to seed product catalog", zap.Error(err))
		return
	}
	log.Info("seeded product catalog", zap.Int("rows", rows))
}

func loadProducts(db *sqlx.DB, r io.Reader, log *zap.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, err
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows := 0
	now := time.Now().UTC()
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("unable to read product row", zap.Error(err))
			continue
		}
		if len(record) < 5 {
			continue
		}
		name := strings.TrimSpace(record[0])
		sku := strings.TrimSpace(record[1])
		category := strings.TrimSpace(record[2])
		price, perr := decimal.NewFromString(strings.TrimSpace(record[3]))
		stock, serr := strconv.ParseInt(strings.TrimSpace(record[4]), 10, 64)
		if name == "" || perr != nil || serr != nil || price.IsNegative() || stock < 0 {
			log.Warn("skipping invalid product row", zap.Strings("record", record))
			continue
		}
		description := ""
		if len(record) > 5 {
			description = strings.TrimSpace(record[5])
		}

		var skuValue *string
		if sku != "" {
			var exists bool
			if err := tx.Get(&exists, tx.Rebind(`SELECT COUNT(*) > 0 FROM products WHERE sku = ?`), sku); err != nil {
				return rows, err
			}
			if exists {
				continue
			}
			skuValue = &sku
		}

		if _, err := database.InsertID(tx, `INSERT INTO products (name, description, sku, category, price, stock, has_promotion, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			name, description, skuValue, category, price, stock, false, now, now); err != nil {
			log.Warn("unable to insert product", zap.String("name", name), zap.Error(err))
			continue
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rows, nil
}
