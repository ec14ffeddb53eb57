// Package systest runs smoke checks against a live SAVI backend and reports what works.
package systest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"savi/m/domain"
	"savi/m/internal/client"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// API is the part of the REST client the checks use.
type API interface {
	Health(ctx context.Context) error
	Token() string
	ListProducts(ctx context.Context, q client.ProductQuery) (*domain.Page[domain.Product], error)
	ListSales(ctx context.Context, q client.SaleQuery) (*domain.Page[domain.Sale], error)
	ListAlerts(ctx context.Context, q client.AlertQuery) ([]domain.InventoryAlert, error)
}

type Result struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Details  string        `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Check is one named check. Run returns a message and details on success.
type Check struct {
	ID          string
	Name        string
	Description string
	Run         func(ctx context.Context, api API) (message, details string, err error)
}

// DefaultChecks are the checks run by the systest binary, in order.
func DefaultChecks() []Check {
	return []Check{
		{
			ID:          "db_connection",
			Name:        "Database connection",
			Description: "Reads one product to prove the database answers",
			Run: func(ctx context.Context, api API) (string, string, error) {
				if err := api.Health(ctx); err != nil {
					return "", "", err
				}
				if _, err := api.ListProducts(ctx, client.ProductQuery{Limit: 1}); err != nil {
					return "", "", err
				}
				return "Connection established", "The database is answering queries", nil
			},
		},
		{
			ID:          "api_health",
			Name:        "API health",
			Description: "Calls the main list endpoints",
			Run:         apiHealth,
		},
		{
			ID:          "authentication",
			Name:        "Authentication",
			Description: "Checks the session token against a protected endpoint",
			Run: func(ctx context.Context, api API) (string, string, error) {
				if api.Token() == "" {
					return "", "", fmt.Errorf("no active session: log in before running this check")
				}
				if _, err := api.ListProducts(ctx, client.ProductQuery{Limit: 1}); err != nil {
					return "", "", err
				}
				return "JWT token accepted", "Authentication works", nil
			},
		},
		{
			ID:          "products_crud",
			Name:        "Products",
			Description: "Lists products",
			Run: func(ctx context.Context, api API) (string, string, error) {
				page, err := api.ListProducts(ctx, client.ProductQuery{Limit: 5})
				if err != nil {
					return "", "", err
				}
				return fmt.Sprintf("%d products found", len(page.Items)), "Product reads work", nil
			},
		},
		{
			ID:          "sales_system",
			Name:        "Sales",
			Description: "Lists recorded sales",
			Run: func(ctx context.Context, api API) (string, string, error) {
				page, err := api.ListSales(ctx, client.SaleQuery{Limit: 5})
				if err != nil {
					return "", "", err
				}
				return fmt.Sprintf("%d sales recorded", page.Total), "The sales system works", nil
			},
		},
		{
			ID:          "inventory_alerts",
			Name:        "Inventory alerts",
			Description: "Lists active inventory alerts",
			Run: func(ctx context.Context, api API) (string, string, error) {
				list, err := api.ListAlerts(ctx, client.AlertQuery{Limit: 5})
				if err != nil {
					return "", "", err
				}
				return fmt.Sprintf("%d active alerts", len(list)), "The alert system works", nil
			},
		},
		{
			ID:          "promotions",
			Name:        "Promotions",
			Description: "Counts products on promotion",
			Run: func(ctx context.Context, api API) (string, string, error) {
				page, err := api.ListProducts(ctx, client.ProductQuery{Limit: 100})
				if err != nil {
					return "", "", err
				}
				promoted := 0
				for _, p := range page.Items {
					if p.HasPromotion {
						promoted++
					}
				}
				return fmt.Sprintf("%d products on promotion", promoted), "Promotions are readable", nil
			},
		},
	}
}

// apiHealth passes when at least one endpoint answers; empty tables can make others fail.
func apiHealth(ctx context.Context, api API) (string, string, error) {
	endpoints := []struct {
		name string
		call func() error
	}{
		{"Products", func() error { _, err := api.ListProducts(ctx, client.ProductQuery{Limit: 1}); return err }},
		{"Sales", func() error { _, err := api.ListSales(ctx, client.SaleQuery{Limit: 1}); return err }},
	}
	var failed []string
	for _, ep := range endpoints {
		if err := ep.call(); err != nil {
			failed = append(failed, ep.name)
		}
	}
	ok := len(endpoints) - len(failed)
	if ok == 0 {
		return "", "", fmt.Errorf("no endpoint answered (%s)", strings.Join(failed, ", "))
	}
	if len(failed) > 0 {
		return fmt.Sprintf("%d/%d endpoints answer", ok, len(endpoints)),
			fmt.Sprintf("Failed: %s", strings.Join(failed, ", ")), nil
	}
	return fmt.Sprintf("All endpoints answer (%d/%d)", ok, len(endpoints)), "Every main endpoint responds", nil
}

type Runner struct {
	api    API
	checks []Check
	pause  time.Duration
	log    *zap.Logger
}

// NewRunner builds a runner over the default checks with a short pause between them.
func NewRunner(api API, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{api: api, checks: DefaultChecks(), pause: 300 * time.Millisecond, log: log}
}

// WithChecks replaces the checks to run.
func (r *Runner) WithChecks(checks []Check) *Runner {
	r.checks = checks
	return r
}

// WithPause sets the delay between checks.
func (r *Runner) WithPause(d time.Duration) *Runner {
	r.pause = d
	return r
}

func (r *Runner) Checks() []Check { return r.checks }

// Run executes every check in order. A failing check never stops the ones after it.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))
	for i, c := range r.checks {
		if i > 0 && r.pause > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(r.pause):
			}
		}
		results = append(results, r.run(ctx, c))
	}
	return results
}

// RunOne executes the check with the given id.
func (r *Runner) RunOne(ctx context.Context, id string) Result {
	for _, c := range r.checks {
		if c.ID == id {
			return r.run(ctx, c)
		}
	}
	return Result{ID: id, Name: "Unknown check", Status: StatusError, Message: "check not implemented"}
}

func (r *Runner) run(ctx context.Context, c Check) Result {
	start := time.Now()
	msg, details, err := c.Run(ctx, r.api)
	res := Result{ID: c.ID, Name: c.Name, Duration: time.Since(start)}
	if err != nil {
		res.Status = StatusError
		res.Message = "check failed"
		res.Details = err.Error()
		r.log.Warn("check failed", zap.String("check", c.ID), zap.Error(err))
		return res
	}
	res.Status = StatusSuccess
	res.Message = msg
	res.Details = details
	r.log.Debug("check passed", zap.String("check", c.ID), zap.Duration("duration", res.Duration))
	return res
}

type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

func (s Summary) OK() bool { return s.Failed == 0 }

func Summarize(results []Result) Summary {
	var s Summary
	for _, res := range results {
		if res.Status == StatusSuccess {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// EnvVar describes one setting the runner depends on.
type EnvVar struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description"`
}

// CheckEnvironment reports the API URL setting and whether the backend is reachable.
func CheckEnvironment(ctx context.Context, api API, apiURL string) []EnvVar {
	vars := []EnvVar{{Name: "API_URL", Value: apiURL, Description: "Base URL of the backend API"}}
	if apiURL != "" {
		vars[0].Status = "ok"
	} else {
		vars[0].Status = "missing"
	}

	backend := EnvVar{Name: "Backend connection", Description: "Connection to the backend server"}
	if _, err := api.ListProducts(ctx, client.ProductQuery{Limit: 1}); err != nil {
		backend.Status, backend.Value = "missing", "Not connected"
	} else {
		backend.Status, backend.Value = "ok", "Connected"
	}
	return append(vars, backend)
}
