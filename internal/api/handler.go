package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"savi/m/domain"
	"savi/m/internal/events"
	"savi/m/internal/pos"
)

const (
	defaultPageSize = 20
	maxPageSize     = 500
	dateLayout      = "2006-01-02"
)

// Options tune the business rules of a Handler.
type Options struct {
	// TaxRate defaults to 16% when nil; a zero rate is honoured.
	TaxRate      *decimal.Decimal
	ReturnWindow time.Duration
	Bus          events.Bus
	Logger       *zap.Logger
	// Now replaces the wall clock, mostly for tests.
	Now func() time.Time
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db           *sqlx.DB
	secret       string
	taxRate      decimal.Decimal
	returnWindow time.Duration
	bus          events.Bus
	log          *zap.Logger
	now          func() time.Time
}

// New constructs a Handler.
func New(db *sqlx.DB, secret string, opts Options) *Handler {
	h := &Handler{
		db:           db,
		secret:       secret,
		taxRate:      pos.DefaultTaxRate,
		returnWindow: opts.ReturnWindow,
		bus:          opts.Bus,
		log:          opts.Logger,
		now:          time.Now,
	}
	if opts.TaxRate != nil {
		h.taxRate = *opts.TaxRate
	}
	if h.returnWindow <= 0 {
		h.returnWindow = 30 * 24 * time.Hour
	}
	if h.bus == nil {
		h.bus = events.NewMemoryBus()
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if opts.Now != nil {
		h.now = opts.Now
	}
	return h
}

// Router wires up the HTTP API under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Post("/auth/login", h.login)
		r.Get("/events/ws", h.eventStream)

		r.Group(func(pr chi.Router) {
			pr.Use(h.authMiddleware)

			pr.Route("/products", func(r chi.Router) {
				r.Get("/", h.listProducts)
				r.Get("/search", h.searchProducts)
				r.Get("/{id}", h.getProduct)
				r.Post("/", h.createProduct)
				r.Put("/{id}", h.updateProduct)
				r.Delete("/{id}", h.deleteProduct)
			})

			pr.Route("/sales", func(r chi.Router) {
				r.Get("/", h.listSales)
				r.Post("/", h.createSale)
				r.Get("/stats", h.salesStats)
				r.Get("/stats/today", h.todayStats)
				r.Get("/recent", h.recentSales)
				r.Get("/top-products", h.topProducts)
				r.Get("/export", h.exportSales)
				r.Get("/{id}", h.getSale)
				r.Post("/{id}/cancel", h.cancelSale)
			})

			pr.Route("/returns", func(r chi.Router) {
				r.Get("/", h.listReturns)
				r.Post("/", h.createReturn)
				r.Get("/validate", h.validateReturn)
				r.Get("/export", h.exportReturns)
				r.Get("/{id}", h.getReturn)
			})

			pr.Route("/inventory-alerts", func(r chi.Router) {
				r.Get("/", h.listAlerts)
				r.Get("/stats", h.alertStats)
				r.Post("/generate", h.generateAlerts)
				r.Post("/mark-all-read", h.markAllAlertsRead)
				r.Post("/{id}/mark-read", h.markAlertRead)
				r.Post("/{id}/resolve", h.resolveAlert)
			})

			pr.Route("/config/users", func(r chi.Router) {
				r.Get("/", h.listUsers)
				r.Post("/", h.createUser)
				r.Put("/{id}", h.updateUser)
			})
		})
	})

	return otelhttp.NewHandler(r, "savi-api")
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publish notifies event subscribers; a failure never fails the request that caused it.
func (h *Handler) publish(r *http.Request, eventType string, payload any) {
	if err := events.Emit(r.Context(), h.bus, eventType, payload); err != nil {
		h.log.Warn("unable to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// Helpers

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// pagination reads skip and limit, bounding limit to maxPageSize.
func pagination(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	skip, _ = strconv.Atoi(q.Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return skip, limit
}

// filter accumulates WHERE clauses written with ? placeholders.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// dateRange adds created_at bounds for date_from / date_to (inclusive days, YYYY-MM-DD).
func (f *filter) dateRange(r *http.Request, column string) (ok bool, message string) {
	q := r.URL.Query()
	if from := strings.TrimSpace(q.Get("date_from")); from != "" {
		t, err := time.ParseInLocation(dateLayout, from, time.Local)
		if err != nil {
			return false, "date_from must be in YYYY-MM-DD format"
		}
		f.add(column+" >= ?", t.UTC())
	}
	if to := strings.TrimSpace(q.Get("date_to")); to != "" {
		t, err := time.ParseInLocation(dateLayout, to, time.Local)
		if err != nil {
			return false, "date_to must be in YYYY-MM-DD format"
		}
		f.add(column+" < ?", t.AddDate(0, 0, 1).UTC())
	}
	return true, ""
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func page[T any](items []T, total int64) domain.Page[T] {
	if items == nil {
		items = []T{}
	}
	return domain.Page[T]{Items: items, Total: total}
}
