package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"savi/m/domain"
)

const (
	exportLimit     = 10000
	exportTimeFmt   = "2006-01-02 15:04:05"
	xlsxMediaType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvMediaType    = "text/csv; charset=utf-8"
	returnCompleted = "completed"
)

// completedSales restricts a filter on sales aliased as s to completed ones inside the request's date range.
func completedSales(r *http.Request) (filter, string) {
	var f filter
	f.add(`s.status = ?`, string(domain.SaleCompleted))
	if ok, msg := f.dateRange(r, "s.created_at"); !ok {
		return f, msg
	}
	return f, ""
}

func (h *Handler) statsFor(ctx context.Context, f filter) (domain.SaleStats, error) {
	var stats domain.SaleStats
	var agg struct {
		Count   int64           `db:"transactions"`
		Revenue decimal.Decimal `db:"revenue"`
	}
	query := `SELECT COUNT(*) AS transactions, COALESCE(SUM(s.total), 0) AS revenue FROM sales s` + f.where()
	if err := h.db.GetContext(ctx, &agg, h.db.Rebind(query), f.args...); err != nil {
		return stats, err
	}
	query = `SELECT COALESCE(SUM(si.quantity), 0) FROM sale_items si JOIN sales s ON s.id = si.sale_id` + f.where()
	if err := h.db.GetContext(ctx, &stats.ProductsSold, h.db.Rebind(query), f.args...); err != nil {
		return stats, err
	}
	stats.Revenue = domain.Cents(agg.Revenue)
	stats.Transactions = agg.Count
	// Walk-in customers are not identified, so each transaction counts as one.
	stats.Customers = agg.Count
	return stats, nil
}

func (h *Handler) salesStats(w http.ResponseWriter, r *http.Request) {
	f, msg := completedSales(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	stats, err := h.statsFor(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute sales stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) todayStats(w http.ResponseWriter, r *http.Request) {
	var f filter
	f.add(`s.status = ?`, string(domain.SaleCompleted))
	f.add(`s.created_at >= ?`, startOfDay(h.now().In(time.Local)).UTC())
	stats, err := h.statsFor(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute today's stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) recentSales(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	result, err := h.querySales(r.Context(), filter{}, 0, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list recent sales")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) topProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 5
	}
	f, msg := completedSales(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	query := `SELECT si.product_id, si.product_name, SUM(si.quantity) AS quantity, SUM(si.subtotal) AS revenue
		FROM sale_items si JOIN sales s ON s.id = si.sale_id` + f.where() + `
		GROUP BY si.product_id, si.product_name
		ORDER BY quantity DESC, si.product_id
		LIMIT ?`
	var items []domain.TopProduct
	if err := h.db.SelectContext(r.Context(), &items, h.db.Rebind(query), append(f.args, limit)...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute top products")
		return
	}
	for i := range items {
		items[i].Revenue = domain.Cents(items[i].Revenue)
	}
	respondJSON(w, http.StatusOK, page(items, int64(len(items))))
}

var saleExportHeader = []string{"ID", "Date", "Payment method", "Status", "Items", "Subtotal", "Tax", "Discount", "Total"}

func saleExportRow(s domain.Sale) []string {
	var units int64
	for _, item := range s.Items {
		units += item.Quantity
	}
	return []string{
		strconv.FormatInt(s.ID, 10),
		s.CreatedAt.Local().Format(exportTimeFmt),
		string(s.PaymentMethod),
		string(s.Status),
		strconv.FormatInt(units, 10),
		s.Subtotal.StringFixed(2),
		s.Tax.StringFixed(2),
		s.Discount.StringFixed(2),
		s.Total.StringFixed(2),
	}
}

func (h *Handler) exportSales(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		respondError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}
	f, msg := saleFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}
	result, err := h.querySales(r.Context(), f, 0, exportLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to export sales")
		return
	}

	rows := make([][]string, 0, len(result.Items))
	for _, s := range result.Items {
		rows = append(rows, saleExportRow(s))
	}
	filename := fmt.Sprintf("sales_%s.%s", h.now().Format("20060102"), format)
	if format == "xlsx" {
		writeXLSX(w, "Sales", filename, saleExportHeader, rows)
		return
	}
	writeCSV(w, filename, saleExportHeader, rows)
}

func writeCSV(w http.ResponseWriter, filename string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", csvMediaType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	cw := csv.NewWriter(w)
	_ = cw.Write(header)
	_ = cw.WriteAll(rows)
}

func writeXLSX(w http.ResponseWriter, sheetName, filename string, header []string, rows [][]string) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create spreadsheet")
		return
	}
	headerRow := sheet.AddRow()
	for _, h := range header {
		headerRow.AddCell().SetValue(h)
	}
	for _, values := range rows {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetValue(v)
		}
	}

	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := file.Write(w); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to write spreadsheet")
	}
}
