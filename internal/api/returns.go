package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"savi/m/domain"
	"savi/m/internal/database"
	"savi/m/internal/events"
	"savi/m/internal/pos"
	"savi/m/internal/returns"
)

const (
	returnColumns = `id, sale_id, user_id, action, refund_method, reason, subtotal_refund, tax_refund, total_refund, status, created_at`

	itemReturned  = "returned"
	itemExchanged = "exchanged"
)

type returnRow struct {
	ID             int64           `db:"id"`
	SaleID         int64           `db:"sale_id"`
	UserID         *int64          `db:"user_id"`
	Action         string          `db:"action"`
	RefundMethod   *string         `db:"refund_method"`
	Reason         *string         `db:"reason"`
	SubtotalRefund decimal.Decimal `db:"subtotal_refund"`
	TaxRefund      decimal.Decimal `db:"tax_refund"`
	TotalRefund    decimal.Decimal `db:"total_refund"`
	Status         string          `db:"status"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (row returnRow) record() domain.ReturnRecord {
	return domain.ReturnRecord{
		ID:             row.ID,
		SaleID:         row.SaleID,
		UserID:         row.UserID,
		ItemsReturned:  []domain.SaleLineItem{},
		SubtotalRefund: row.SubtotalRefund,
		TaxRefund:      row.TaxRefund,
		TotalRefund:    row.TotalRefund,
		Action:         domain.ReturnAction(row.Action),
		RefundMethod:   row.RefundMethod,
		Reason:         row.Reason,
		Status:         row.Status,
		CreatedAt:      row.CreatedAt,
	}
}

type returnItemRow struct {
	ReturnID int64  `db:"return_id"`
	Kind     string `db:"kind"`
	domain.SaleLineItem
}

// selectReturns loads returns matching f, newest first, with their item lines.
func selectReturns(ctx context.Context, q sqlx.ExtContext, f filter, skip, limit int) ([]domain.ReturnRecord, error) {
	query := `SELECT ` + returnColumns + ` FROM returns` + f.where() + ` ORDER BY created_at DESC, id DESC`
	args := f.args
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}
	var rows []returnRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	recs := make([]domain.ReturnRecord, len(rows))
	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		recs[i] = row.record()
		ids[i] = row.ID
		index[row.ID] = i
	}
	itemQuery, itemArgs, err := sqlx.In(`SELECT return_id, kind, product_id, product_name, quantity, unit_price, subtotal FROM return_items WHERE return_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var items []returnItemRow
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(itemQuery), itemArgs...); err != nil {
		return nil, err
	}
	for _, item := range items {
		rec := &recs[index[item.ReturnID]]
		if item.Kind == itemExchanged {
			rec.ItemsExchanged = append(rec.ItemsExchanged, item.SaleLineItem)
		} else {
			rec.ItemsReturned = append(rec.ItemsReturned, item.SaleLineItem)
		}
	}
	return recs, nil
}

func returnFilter(r *http.Request) (filter, string) {
	var f filter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("sale_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, "sale_id must be a positive integer"
		}
		f.add(`sale_id = ?`, id)
	}
	if a := strings.TrimSpace(q.Get("action")); a != "" {
		f.add(`action = ?`, a)
	}
	if m := strings.TrimSpace(q.Get("refund_method")); m != "" {
		f.add(`refund_method = ?`, m)
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		f.add(`status = ?`, s)
	}
	if ok, msg := f.dateRange(r, "created_at"); !ok {
		return f, msg
	}
	return f, ""
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	f, msg := returnFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	skip, limit := pagination(r)
	var total int64
	if err := h.db.GetContext(r.Context(), &total, h.db.Rebind(`SELECT COUNT(*) FROM returns`+f.where()), f.args...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list returns")
		return
	}
	recs, err := selectReturns(r.Context(), h.db, f, skip, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list returns")
		return
	}
	respondJSON(w, http.StatusOK, page(recs, total))
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid return id")
		return
	}
	var f filter
	f.add(`id = ?`, id)
	recs, err := selectReturns(r.Context(), h.db, f, 0, 1)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch return")
		return
	}
	if len(recs) == 0 {
		respondError(w, http.StatusNotFound, "return not found")
		return
	}
	respondJSON(w, http.StatusOK, recs[0])
}

// eligibility applies the return rules to a sale: it must exist, be completed, be inside the
// return window and still have a returnable unit. The sale and its availability are returned
// whenever the sale exists.
func (h *Handler) eligibility(ctx context.Context, q sqlx.ExtContext, saleID int64) (domain.ReturnEligibility, *domain.Sale, returns.Availability, error) {
	sale, err := loadSale(ctx, q, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReturnEligibility{Reason: fmt.Sprintf("sale %d not found", saleID)}, nil, returns.Availability{}, nil
	}
	if err != nil {
		return domain.ReturnEligibility{}, nil, returns.Availability{}, err
	}

	var f filter
	f.add(`sale_id = ?`, saleID)
	prior, err := selectReturns(ctx, q, f, 0, 0)
	if err != nil {
		return domain.ReturnEligibility{}, nil, returns.Availability{}, err
	}
	avail := returns.Reconcile(*sale, prior)

	if sale.Status != domain.SaleCompleted {
		return domain.ReturnEligibility{Reason: fmt.Sprintf("sale is %s", sale.Status)}, sale, avail, nil
	}
	if deadline := sale.CreatedAt.Add(h.returnWindow); h.now().After(deadline) {
		days := int(h.returnWindow.Hours() / 24)
		return domain.ReturnEligibility{
			Reason: fmt.Sprintf("the %d-day return window closed on %s", days, deadline.Local().Format(dateLayout)),
		}, sale, avail, nil
	}
	if !avail.AnyAvailable() {
		return domain.ReturnEligibility{Reason: "every item of this sale has already been returned"}, sale, avail, nil
	}
	return domain.ReturnEligibility{OK: true}, sale, avail, nil
}

func (h *Handler) validateReturn(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(r.URL.Query().Get("sale_id"), 10, 64)
	if err != nil || saleID <= 0 {
		respondError(w, http.StatusBadRequest, "sale_id must be a positive integer")
		return
	}
	result, _, _, err := h.eligibility(r.Context(), h.db, saleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to validate return")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func validateReturnRequest(req domain.CreateReturnRequest) string {
	switch {
	case req.SaleID <= 0:
		return "sale_id is required"
	case !req.Action.Valid():
		return "action must be refund, credit_note or exchange"
	case len(req.ItemsReturned) == 0:
		return "at least one item must be returned"
	case req.Action == domain.ReturnExchange && len(req.ItemsExchanged) == 0:
		return "items_exchanged is required for an exchange"
	case req.Action != domain.ReturnExchange && len(req.ItemsExchanged) > 0:
		return "items_exchanged is only allowed for an exchange"
	case req.RefundMethod != nil && !domain.PaymentMethod(*req.RefundMethod).Valid():
		return "refund_method must be cash, card or transfer"
	}
	return ""
}

// lockSale takes a row lock on the sale so returns and cancellations of it run one at a time.
// SQLite already serializes writers and has no FOR UPDATE.
func lockSale(ctx context.Context, tx *sqlx.Tx, saleID int64) error {
	if tx.DriverName() == "sqlite" {
		return nil
	}
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM sales WHERE id = ? FOR UPDATE`), saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// createReturn files a return. The sale is locked before availability is recomputed, so two
// concurrent returns of the same sale can never exceed what was sold.
func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateReturnRequest(req); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	returnedQty, returnedOrder, err := mergeLines(req.ItemsReturned)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	exchangedQty, exchangedOrder, err := mergeLines(req.ItemsExchanged)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to start return")
		return
	}
	defer tx.Rollback()

	if err := lockSale(ctx, tx, req.SaleID); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to lock sale")
		return
	}
	verdict, sale, avail, err := h.eligibility(ctx, tx, req.SaleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to validate return")
		return
	}
	if !verdict.OK {
		respondError(w, http.StatusBadRequest, verdict.Reason)
		return
	}

	returned := make([]domain.SaleLineItem, 0, len(returnedOrder))
	for _, productID := range returnedOrder {
		qty := returnedQty[productID]
		line, ok := avail.Line(productID)
		if !ok {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("product %d was not part of sale %d", productID, sale.ID))
			return
		}
		if qty > line.Available {
			respondError(w, http.StatusConflict, fmt.Sprintf("only %d unit(s) of %s can still be returned", line.Available, line.ProductName))
			return
		}
		returned = append(returned, domain.NewSaleLineItem(productID, line.ProductName, qty, line.UnitPrice))
	}

	exchanged := make([]domain.SaleLineItem, 0, len(exchangedOrder))
	for _, productID := range exchangedOrder {
		qty := exchangedQty[productID]
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
		exchanged = append(exchanged, domain.NewSaleLineItem(p.ID, p.Name, qty, p.Price))
	}

	base := pos.LineTotals(returned, decimal.Zero).Subtotal
	if req.Action == domain.ReturnExchange {
		base = base.Sub(pos.LineTotals(exchanged, decimal.Zero).Subtotal)
		if base.IsNegative() {
			base = decimal.Zero
		}
	}
	refund := pos.Summarize(base, h.taxRate)

	refundMethod := req.RefundMethod
	if refundMethod == nil && req.Action == domain.ReturnRefund {
		method := string(sale.PaymentMethod)
		refundMethod = &method
	}
	var reason *string
	if req.Reason != nil {
		reason = nullIfEmpty(*req.Reason)
	}

	now := h.now().UTC()
	returnID, err := database.InsertID(tx, `INSERT INTO returns (sale_id, user_id, action, refund_method, reason, subtotal_refund, tax_refund, total_refund, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, currentUserID(r), string(req.Action), refundMethod, reason, refund.Subtotal, refund.Tax, refund.Total, returnCompleted, now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create return")
		return
	}

	insertItem := tx.Rebind(`INSERT INTO return_items (return_id, kind, product_id, product_name, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, line := range returned {
		if _, err := tx.ExecContext(ctx, insertItem, returnID, itemReturned, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save return items")
			return
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`), line.Quantity, now, line.ProductID); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to restock products")
			return
		}
	}
	for _, line := range exchanged {
		if _, err := tx.ExecContext(ctx, insertItem, returnID, itemExchanged, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save exchange items")
			return
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?`), line.Quantity, now, line.ProductID, line.Quantity)
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
		respondError(w, http.StatusInternalServerError, "unable to finalize return")
		return
	}

	var f filter
	f.add(`id = ?`, returnID)
	recs, err := selectReturns(ctx, h.db, f, 0, 1)
	if err != nil || len(recs) == 0 {
		respondError(w, http.StatusInternalServerError, "unable to fetch return")
		return
	}
	h.publish(r, events.ReturnCreated, recs[0])
	respondJSON(w, http.StatusCreated, recs[0])
}

var returnExportHeader = []string{"ID", "Date", "Sale ID", "Action", "Refund method", "Items", "Subtotal refund", "Tax refund", "Total refund", "Status", "Reason"}

func returnExportRow(rec domain.ReturnRecord) []string {
	var units int64
	for _, item := range rec.ItemsReturned {
		units += item.Quantity
	}
	method, reason := "", ""
	if rec.RefundMethod != nil {
		method = *rec.RefundMethod
	}
	if rec.Reason != nil {
		reason = *rec.Reason
	}
	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.CreatedAt.Local().Format(exportTimeFmt),
		strconv.FormatInt(rec.SaleID, 10),
		string(rec.Action),
		method,
		strconv.FormatInt(units, 10),
		rec.SubtotalRefund.StringFixed(2),
		rec.TaxRefund.StringFixed(2),
		rec.TotalRefund.StringFixed(2),
		rec.Status,
		reason,
	}
}

func (h *Handler) exportReturns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	f, msg := returnFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	recs, err := selectReturns(r.Context(), h.db, f, 0, exportLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to export returns")
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, returnExportRow(rec))
	}
	writeCSV(w, fmt.Sprintf("returns_%s.csv", h.now().Format("20060102")), returnExportHeader, rows)
}
