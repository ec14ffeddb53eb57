package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"savi/m/domain"
	"savi/m/internal/database"
	"savi/m/internal/events"
	"savi/m/internal/pos"
)

const saleColumns = `id, user_id, subtotal, tax, discount, total, payment_method, status, created_at`

type saleItemRow struct {
	SaleID int64 `db:"sale_id"`
	domain.SaleLineItem
}

// mergeLines folds repeated product lines into one quantity per product, keeping first-seen order.
func mergeLines(items []domain.SaleLineItem) (map[int64]int64, []int64, error) {
	quantities := make(map[int64]int64, len(items))
	var order []int64
	for _, item := range items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return nil, nil, errors.New("product_id and a positive quantity are required for each item")
		}
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	return quantities, order, nil
}

func loadSale(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	if err := sqlx.GetContext(ctx, q, &sale, q.Rebind(`SELECT `+saleColumns+` FROM sales WHERE id = ?`), id); err != nil {
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := loadSaleItems(ctx, q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// loadSaleItems fills Items for every sale in one query.
func loadSaleItems(ctx context.Context, q sqlx.ExtContext, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, len(sales))
	index := make(map[int64]int, len(sales))
	for i := range sales {
		ids[i] = sales[i].ID
		index[sales[i].ID] = i
		sales[i].Items = []domain.SaleLineItem{}
	}
	query, args, err := sqlx.In(`SELECT sale_id, product_id, product_name, quantity, unit_price, subtotal FROM sale_items WHERE sale_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	var rows []saleItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		i := index[row.SaleID]
		sales[i].Items = append(sales[i].Items, row.SaleLineItem)
	}
	return nil
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.PaymentMethod.Valid() {
		respondError(w, http.StatusBadRequest, "payment_method must be cash, card or transfer")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "at least one item is required")
		return
	}
	if req.Discount.IsNegative() {
		respondError(w, http.StatusBadRequest, "discount cannot be negative")
		return
	}
	quantities, order, err := mergeLines(req.Items)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	key := nullIfEmpty(r.Header.Get("Idempotency-Key"))
	if key != nil {
		sale, err := h.saleByKey(ctx, *key)
		if err == nil {
			respondJSON(w, http.StatusOK, sale)
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusInternalServerError, "unable to check idempotency key")
			return
		}
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start sale")
		return
	}
	defer tx.Rollback()

	lines := make([]domain.SaleLineItem, 0, len(order))
	for _, productID := range order {
		qty := quantities[productID]
		p, err := getProduct(ctx, tx, productID)
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("product %d not found", productID))
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to fetch product")
			return
		}
		if p.Stock < qty {
			respondError(w, http.StatusConflict, fmt.Sprintf("insufficient stock for %s (available %d)", p.Name, p.Stock))
			return
		}
		// Prices come from the catalog, never from the request.
		lines = append(lines, domain.NewSaleLineItem(p.ID, p.Name, qty, p.Price))
	}

	totals := pos.LineTotals(lines, h.taxRate)
	discount := domain.Cents(req.Discount)
	if discount.GreaterThan(totals.Total) {
		respondError(w, http.StatusBadRequest, "discount cannot exceed the sale total")
		return
	}
	total := totals.Total.Sub(discount)
	if !req.Total.IsZero() && !req.Total.Equal(total) {
		h.log.Info("sale total recomputed",
			zap.String("submitted", req.Total.String()),
			zap.String("recorded", total.String()))
	}

	now := h.now().UTC()
	saleID, err := database.InsertID(tx, `INSERT INTO sales (user_id, subtotal, tax, discount, total, payment_method, status, idempotency_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		currentUserID(r), totals.Subtotal, totals.Tax, discount, total, string(req.PaymentMethod), string(domain.SaleCompleted), key, now)
	if key != nil && database.IsUniqueViolation(err) {
		_ = tx.Rollback()
		sale, err := h.saleByKey(ctx, *key)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to fetch sale")
			return
		}
		respondJSON(w, http.StatusOK, sale)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create sale")
		return
	}

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?, ?)`),
			saleID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save sale items")
			return
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?`),
			line.Quantity, now, line.ProductID, line.Quantity)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to update stock")
			return
		}
		if rows, _ := res.RowsAffected(); rows != 1 {
			respondError(w, http.StatusConflict, fmt.Sprintf("insufficient stock for %s", line.ProductName))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to finalize sale")
		return
	}

	sale, err := loadSale(ctx, h.db, saleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch sale")
		return
	}
	h.publish(r, events.SaleCreated, sale)
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) saleByKey(ctx context.Context, key string) (*domain.Sale, error) {
	var id int64
	if err := h.db.GetContext(ctx, &id, h.db.Rebind(`SELECT id FROM sales WHERE idempotency_key = ?`), key); err != nil {
		return nil, err
	}
	return loadSale(ctx, h.db, id)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	sale, err := loadSale(r.Context(), h.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch sale")
		return
	}

	refunded, err := h.refundedTotal(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch returns")
		return
	}
	net := sale.Total.Sub(refunded)
	sale.NetTotal = &net
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) refundedTotal(ctx context.Context, saleID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := h.db.GetContext(ctx, &sum, h.db.Rebind(`SELECT COALESCE(SUM(total_refund), 0) FROM returns WHERE sale_id = ? AND status = ?`), saleID, returnCompleted)
	return domain.Cents(sum), err
}

// saleFilter reads the filters shared by the list and export endpoints.
func saleFilter(r *http.Request) (filter, string) {
	var f filter
	q := r.URL.Query()
	if m := strings.TrimSpace(q.Get("payment_method")); m != "" {
		if !domain.PaymentMethod(m).Valid() {
			return f, "payment_method must be cash, card or transfer"
		}
		f.add(`payment_method = ?`, m)
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		f.add(`status = ?`, s)
	}
	if ok, msg := f.dateRange(r, "created_at"); !ok {
		return f, msg
	}
	return f, ""
}

func (h *Handler) querySales(ctx context.Context, f filter, skip, limit int) (domain.Page[domain.Sale], error) {
	var total int64
	if err := h.db.GetContext(ctx, &total, h.db.Rebind(`SELECT COUNT(*) FROM sales`+f.where()), f.args...); err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	var sales []domain.Sale
	query := `SELECT ` + saleColumns + ` FROM sales` + f.where() + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	if err := h.db.SelectContext(ctx, &sales, h.db.Rebind(query), append(f.args, limit, skip)...); err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	if err := loadSaleItems(ctx, h.db, sales); err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	return page(sales, total), nil
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	f, msg := saleFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	skip, limit := pagination(r)
	result, err := h.querySales(r.Context(), f, skip, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list sales")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// cancelSale voids a completed sale without returns and puts its stock back.
func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}
	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start cancellation")
		return
	}
	defer tx.Rollback()

	if err := lockSale(ctx, tx, id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to lock sale")
		return
	}
	sale, err := loadSale(ctx, tx, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "sale not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch sale")
		return
	}
	if sale.Status != domain.SaleCompleted {
		respondError(w, http.StatusConflict, fmt.Sprintf("sale is %s and cannot be cancelled", sale.Status))
		return
	}
	var returned int64
	if err := tx.GetContext(ctx, &returned, tx.Rebind(`SELECT COUNT(*) FROM returns WHERE sale_id = ?`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check returns")
		return
	}
	if returned > 0 {
		respondError(w, http.StatusConflict, "sale has returns and cannot be cancelled")
		return
	}

	now := h.now().UTC()
	for _, line := range sale.Items {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`), line.Quantity, now, line.ProductID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to restock products")
			return
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE sales SET status = ? WHERE id = ?`), string(domain.SaleCancelled), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to cancel sale")
		return
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to cancel sale")
		return
	}

	sale.Status = domain.SaleCancelled
	h.publish(r, events.SaleCancelled, sale)
	respondJSON(w, http.StatusOK, sale)
}
