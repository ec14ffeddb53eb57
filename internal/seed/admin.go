package seed

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"savi/m/domain"
	"savi/m/internal/database"
)

// EnsureAdmin creates the bootstrap administrator when the users table is empty.
// It reports whether a user was created.
func EnsureAdmin(db *sqlx.DB, username, password string) (bool, error) {
	var count int64
	if err := db.Get(&count, `SELECT COUNT(*) FROM users`); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("unable to secure password: %w", err)
	}
	_, err = database.InsertID(db, `INSERT INTO users (username, full_name, email, password, role, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		username, "Administrator", "", string(hashed), string(domain.RoleAdmin), true, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return true, nil
}
