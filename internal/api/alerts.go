package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"savi/m/domain"
	"savi/m/internal/alerts"
	"savi/m/internal/database"
	"savi/m/internal/events"
)

const alertColumns = `a.id, a.product_id, p.name AS product_name, p.sku AS product_sku, p.category AS product_category,
	a.alert_type, a.severity, a.message, a.current_stock, a.threshold, a.days_without_movement,
	a.is_active, a.is_read, a.created_at, a.resolved_at`

type generateAlertsResponse struct {
	Message  string `json:"message"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

func parseBool(raw string, fallback bool) bool {
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return fallback
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f filter
	if parseBool(q.Get("active_only"), true) {
		f.add(`a.is_active = ?`, true)
	}
	if parseBool(q.Get("unread_only"), false) {
		f.add(`a.is_read = ?`, false)
	}
	if s := strings.TrimSpace(q.Get("severity")); s != "" {
		f.add(`a.severity = ?`, s)
	}
	if t := strings.TrimSpace(q.Get("alert_type")); t != "" {
		f.add(`a.alert_type = ?`, t)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > maxPageSize {
		limit = 100
	}

	alertsOut := []domain.InventoryAlert{}
	query := `SELECT ` + alertColumns + ` FROM inventory_alerts a JOIN products p ON p.id = a.product_id` +
		f.where() + ` ORDER BY a.created_at DESC, a.id DESC LIMIT ?`
	if err := h.db.SelectContext(r.Context(), &alertsOut, h.db.Rebind(query), append(f.args, limit)...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list alerts")
		return
	}
	respondJSON(w, http.StatusOK, alertsOut)
}

func (h *Handler) alertStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := domain.AlertStats{ByType: map[string]int64{}, BySeverity: map[string]int64{}}
	var counts struct {
		Total    int64 `db:"total"`
		Active   int64 `db:"active"`
		Unread   int64 `db:"unread"`
		Critical int64 `db:"critical"`
	}
	query := `SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN is_active = ? THEN 1 ELSE 0 END), 0) AS active,
		COALESCE(SUM(CASE WHEN is_active = ? AND is_read = ? THEN 1 ELSE 0 END), 0) AS unread,
		COALESCE(SUM(CASE WHEN is_active = ? AND severity = ? THEN 1 ELSE 0 END), 0) AS critical
		FROM inventory_alerts`
	if err := h.db.GetContext(ctx, &counts, h.db.Rebind(query), true, true, false, true, domain.SeverityCritical); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute alert stats")
		return
	}
	stats.TotalAlerts = counts.Total
	stats.ActiveAlerts = counts.Active
	stats.UnreadAlerts = counts.Unread
	stats.CriticalAlerts = counts.Critical

	var groups []struct {
		AlertType string `db:"alert_type"`
		Severity  string `db:"severity"`
		Count     int64  `db:"n"`
	}
	query = `SELECT alert_type, severity, COUNT(*) AS n FROM inventory_alerts WHERE is_active = ? GROUP BY alert_type, severity`
	if err := h.db.SelectContext(ctx, &groups, h.db.Rebind(query), true); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute alert stats")
		return
	}
	for _, g := range groups {
		stats.ByType[g.AlertType] += g.Count
		stats.BySeverity[g.Severity] += g.Count
	}
	respondJSON(w, http.StatusOK, stats)
}

// snapshots pairs every product with the time it last sold.
func (h *Handler) snapshots(ctx context.Context) ([]alerts.Snapshot, error) {
	var products []domain.Product
	if err := h.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY id`); err != nil {
		return nil, err
	}
	var movements []struct {
		ProductID int64     `db:"product_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	query := `SELECT si.product_id, s.created_at FROM sale_items si JOIN sales s ON s.id = si.sale_id WHERE s.status = ?`
	if err := h.db.SelectContext(ctx, &movements, h.db.Rebind(query), string(domain.SaleCompleted)); err != nil {
		return nil, err
	}
	last := make(map[int64]time.Time, len(movements))
	for _, m := range movements {
		if m.CreatedAt.After(last[m.ProductID]) {
			last[m.ProductID] = m.CreatedAt
		}
	}
	snaps := make([]alerts.Snapshot, len(products))
	for i, p := range products {
		snaps[i] = alerts.Snapshot{Product: p}
		if t, ok := last[p.ID]; ok {
			snaps[i].LastMovement = &t
		}
	}
	return snaps, nil
}

// generateAlerts re-evaluates every product. New conditions get an alert, conditions that
// cleared have their alert resolved, and conditions already alerted are left alone.
func (h *Handler) generateAlerts(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	var thresholds domain.AlertThresholds
	if err := decodeJSON(r, &thresholds); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	thresholds = alerts.Normalize(thresholds)
	if err := alerts.Validate(thresholds); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	snaps, err := h.snapshots(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load inventory")
		return
	}
	now := h.now().UTC()
	wanted := alerts.Evaluate(snaps, thresholds, now)

	type alertKey struct {
		productID int64
		alertType string
	}
	var active []struct {
		ID        int64  `db:"id"`
		ProductID int64  `db:"product_id"`
		AlertType string `db:"alert_type"`
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate alerts")
		return
	}
	defer tx.Rollback()

	if err := tx.SelectContext(ctx, &active, tx.Rebind(`SELECT id, product_id, alert_type FROM inventory_alerts WHERE is_active = ?`), true); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load alerts")
		return
	}
	existing := make(map[alertKey]int64, len(active))
	for _, a := range active {
		existing[alertKey{a.ProductID, a.AlertType}] = a.ID
	}

	created := 0
	for _, a := range wanted {
		key := alertKey{a.ProductID, a.AlertType}
		if _, ok := existing[key]; ok {
			delete(existing, key)
			continue
		}
		if _, err := database.InsertID(tx, `INSERT INTO inventory_alerts (product_id, alert_type, severity, message, current_stock, threshold, days_without_movement, is_active, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ProductID, a.AlertType, a.Severity, a.Message, a.CurrentStock, a.Threshold, a.DaysWithoutMovement, true, false, now); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to save alert")
			return
		}
		created++
	}
	for _, id := range existing {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE inventory_alerts SET is_active = ?, resolved_at = ? WHERE id = ?`), false, now, id); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to resolve alert")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate alerts")
		return
	}

	resp := generateAlertsResponse{
		Message:  fmt.Sprintf("%d alerts generated", created),
		Created:  created,
		Resolved: len(existing),
	}
	h.publish(r, events.AlertsGenerated, resp)
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) markAlertRead(w http.ResponseWriter, r *http.Request) {
	h.updateAlert(w, r, `UPDATE inventory_alerts SET is_read = ? WHERE id = ?`, true)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	h.updateAlert(w, r, `UPDATE inventory_alerts SET is_active = ?, resolved_at = ? WHERE id = ?`, false, h.now().UTC())
}

func (h *Handler) updateAlert(w http.ResponseWriter, r *http.Request, stmt string, args ...any) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	var found int64
	if err := h.db.GetContext(r.Context(), &found, h.db.Rebind(`SELECT COUNT(*) FROM inventory_alerts WHERE id = ?`), id); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to fetch alert")
		return
	}
	if found == 0 {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	if _, err := h.db.ExecContext(r.Context(), h.db.Rebind(stmt), append(args, id)...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update alert")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "alert updated"})
}

func (h *Handler) markAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`UPDATE inventory_alerts SET is_read = ? WHERE is_active = ? AND is_read = ?`), true, true, false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update alerts")
		return
	}
	updated, _ := res.RowsAffected()
	respondJSON(w, http.StatusOK, map[string]any{"message": fmt.Sprintf("%d alerts marked as read", updated), "updated": updated})
}
