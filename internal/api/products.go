package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"savi/m/domain"
	"savi/m/internal/database"
)

const productColumns = `id, name, COALESCE(description, '') AS description, sku, category, price, stock, has_promotion, created_at, updated_at`

type productRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	SKU          *string         `json:"sku,omitempty"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Stock        int64           `json:"stock"`
	HasPromotion bool            `json:"has_promotion"`
}

func (req *productRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU != nil {
		req.SKU = nullIfEmpty(*req.SKU)
	}
	switch {
	case req.Name == "":
		return "name is required"
	case req.Price.IsNegative():
		return "price cannot be negative"
	case req.Stock < 0:
		return "stock cannot be negative"
	}
	req.Price = domain.Cents(req.Price)
	return ""
}

func getProduct(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Product, error) {
	var p domain.Product
	if err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (h *Handler) queryProducts(ctx context.Context, f filter, skip, limit int) (domain.Page[domain.Product], error) {
	var total int64
	if err := h.db.GetContext(ctx, &total, h.db.Rebind(`SELECT COUNT(*) FROM products`+f.where()), f.args...); err != nil {
		return domain.Page[domain.Product]{}, err
	}
	var items []domain.Product
	query := `SELECT ` + productColumns + ` FROM products` + f.where() + ` ORDER BY name, id LIMIT ? OFFSET ?`
	if err := h.db.SelectContext(ctx, &items, h.db.Rebind(query), append(f.args, limit, skip)...); err != nil {
		return domain.Page[domain.Product]{}, err
	}
	return page(items, total), nil
}

func termFilter(f *filter, term string) {
	if term = strings.TrimSpace(term); term == "" {
		return
	}
	like := "%" + strings.ToLower(term) + "%"
	f.add(`(LOWER(name) LIKE ? OR LOWER(COALESCE(sku, '')) LIKE ? OR LOWER(category) LIKE ?)`, like, like, like)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	var f filter
	termFilter(&f, r.URL.Query().Get("q"))
	if c := strings.TrimSpace(r.URL.Query().Get("category")); c != "" {
		f.add(`category = ?`, c)
	}
	result, err := h.queryProducts(r.Context(), f, skip, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list products")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// searchProducts backs the cart's product picker.
func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var f filter
	termFilter(&f, term)
	result, err := h.queryProducts(r.Context(), f, 0, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to search products")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	p, err := getProduct(r.Context(), h.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch product")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	now := h.now().UTC()
	id, err := database.InsertID(h.db, `INSERT INTO products (name, description, sku, category, price, stock, has_promotion, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Name, nullIfEmpty(req.Description), req.SKU, req.Category, req.Price, req.Stock, req.HasPromotion, now, now)
	if database.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, duplicateSKU(req.SKU))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create product")
		return
	}
	p, err := getProduct(r.Context(), h.db, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch product")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE products SET name = ?, description = ?, sku = ?, category = ?, price = ?, stock = ?, has_promotion = ?, updated_at = ? WHERE id = ?`),
		req.Name, nullIfEmpty(req.Description), req.SKU, req.Category, req.Price, req.Stock, req.HasPromotion, h.now().UTC(), id)
	if database.IsUniqueViolation(err) {
		respondError(w, http.StatusConflict, duplicateSKU(req.SKU))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update product")
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	p, err := getProduct(r.Context(), h.db, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch product")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var used int64
	if err := h.db.GetContext(r.Context(), &used, h.db.Rebind(`SELECT COUNT(*) FROM sale_items WHERE product_id = ?`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check product usage")
		return
	}
	if used > 0 {
		respondError(w, http.StatusConflict, "product has sales history and cannot be deleted")
		return
	}
	if _, err := h.db.ExecContext(r.Context(), h.db.Rebind(`DELETE FROM inventory_alerts WHERE product_id = ?`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete product")
		return
	}
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to delete product")
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func duplicateSKU(sku *string) string {
	if sku == nil {
		return "product already exists"
	}
	return fmt.Sprintf("a product with SKU %s already exists", *sku)
}
