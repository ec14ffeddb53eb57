package database

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Connect opens a database for one of the supported drivers: sqlite, pgx or mysql.
// MySQL DSNs need parseTime=true.
func Connect(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite", "pgx", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		db.SetMaxOpenConns(10)
	}
	return db, nil
}

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know; it takes ? placeholders.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// InsertID runs an INSERT written with ? placeholders and returns the new row id.
// Postgres has no LastInsertId, so it gets a RETURNING clause instead.
func InsertID(ext sqlx.Ext, query string, args ...any) (int64, error) {
	query = ext.Rebind(query)
	if ext.DriverName() == "pgx" {
		var id int64
		if err := ext.QueryRowx(query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := ext.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IsUniqueViolation recognises duplicate-key errors from any of the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
