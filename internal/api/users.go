package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"savi/m/domain"
	"savi/m/internal/database"
)

const userColumns = `id, username, full_name, email, password, role, is_active, created_at`

type userRequest struct {
	Username string      `json:"username"`
	FullName string      `json:"full_name"`
	Email    string      `json:"email"`
	Password string      `json:"password,omitempty"`
	Role     domain.Role `json:"role"`
	IsActive *bool       `json:"is_active,omitempty"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxPageSize {
		limit = 100
	}
	var f filter
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		f.add(`(LOWER(username) LIKE ? OR LOWER(full_name) LIKE ? OR LOWER(email) LIKE ?)`, like, like, like)
	}
	var total int64
	if err := h.db.GetContext(r.Context(), &total, h.db.Rebind(`SELECT COUNT(*) FROM users`+f.where()), f.args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list users")
		return
	}
	var users []domain.User
	query := `SELECT ` + userColumns + ` FROM users` + f.where() + ` ORDER BY username LIMIT ?`
	if err := h.db.SelectContext(r.Context(), &users, h.db.Rebind(query), append(f.args, limit)...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list users")
		return
	}
	respondJSON(w, http.StatusOK, page(users, total))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if !req.Role.Valid() {
		respondError(w, http.StatusBadRequest, "role must be admin, manager or cashier")
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	id, err := database.InsertID(h.db, `INSERT INTO users (username, full_name, email, password, role, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.Username, strings.TrimSpace(req.FullName), strings.ToLower(strings.TrimSpace(req.Email)), string(hashed), string(req.Role), active, h.now().UTC())
	if database.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create user")
		return
	}
	h.respondUser(w, r, id, http.StatusCreated)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var existing domain.User
	err := h.db.GetContext(r.Context(), &existing, h.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch user")
		return
	}

	if u := strings.TrimSpace(req.Username); u != "" {
		existing.Username = u
	}
	if req.FullName != "" {
		existing.FullName = strings.TrimSpace(req.FullName)
	}
	if req.Email != "" {
		existing.Email = strings.ToLower(strings.TrimSpace(req.Email))
	}
	if req.Role != "" {
		if !req.Role.Valid() {
			respondError(w, http.StatusBadRequest, "role must be admin, manager or cashier")
			return
		}
		existing.Role = req.Role
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to secure password")
			return
		}
		existing.Password = string(hashed)
	}

	_, err = h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE users SET username = ?, full_name = ?, email = ?, password = ?, role = ?, is_active = ? WHERE id = ?`),
		existing.Username, existing.FullName, existing.Email, existing.Password, string(existing.Role), existing.IsActive, id)
	if database.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update user")
		return
	}
	h.respondUser(w, r, id, http.StatusOK)
}

func (h *Handler) respondUser(w http.ResponseWriter, r *http.Request, id int64, status int) {
	var user domain.User
	if err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch user")
		return
	}
	respondJSON(w, status, user)
}
