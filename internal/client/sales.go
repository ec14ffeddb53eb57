package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"savi/m/domain"
)

type SaleQuery struct {
	Skip          int
	Limit         int
	DateFrom      string // YYYY-MM-DD
	DateTo        string // YYYY-MM-DD
	PaymentMethod string
	Status        string
}

func (q SaleQuery) values() url.Values {
	v := url.Values{}
	setInt(v, "skip", q.Skip)
	setInt(v, "limit", q.Limit)
	setString(v, "date_from", q.DateFrom)
	setString(v, "date_to", q.DateTo)
	setString(v, "payment_method", q.PaymentMethod)
	setString(v, "status", q.Status)
	return v
}

func (c *Client) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var out domain.Sale
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/sales/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSales(ctx context.Context, q SaleQuery) (*domain.Page[domain.Sale], error) {
	var out domain.Page[domain.Sale]
	if err := c.do(ctx, http.MethodGet, "/v1/sales", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSale records a sale. The idempotency key lets the backend drop a repeated submission.
func (c *Client) CreateSale(ctx context.Context, req domain.CreateSaleRequest, idempotencyKey string) (*domain.Sale, error) {
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	r := request{method: http.MethodPost, path: "/v1/sales", body: body}
	if idempotencyKey != "" {
		r.headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var out domain.Sale
	if err := c.doRequest(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var out domain.Sale
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/sales/%d/cancel", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaleStats aggregates sales between two dates; empty bounds are open.
func (c *Client) SaleStats(ctx context.Context, dateFrom, dateTo string) (*domain.SaleStats, error) {
	v := url.Values{}
	setString(v, "date_from", dateFrom)
	setString(v, "date_to", dateTo)
	var out domain.SaleStats
	if err := c.do(ctx, http.MethodGet, "/v1/sales/stats", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TodayStats(ctx context.Context) (*domain.SaleStats, error) {
	var out domain.SaleStats
	if err := c.do(ctx, http.MethodGet, "/v1/sales/stats/today", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecentSales(ctx context.Context, limit int) (*domain.Page[domain.Sale], error) {
	v := url.Values{}
	setInt(v, "limit", limit)
	var out domain.Page[domain.Sale]
	if err := c.do(ctx, http.MethodGet, "/v1/sales/recent", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	v := url.Values{}
	setInt(v, "limit", limit)
	var out struct {
		Items []domain.TopProduct `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sales/top-products", v, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ExportSales downloads the filtered sales as csv or xlsx.
func (c *Client) ExportSales(ctx context.Context, q SaleQuery, format string) ([]byte, string, error) {
	v := q.values()
	v.Del("skip")
	v.Del("limit")
	setString(v, "format", format)
	return c.download(ctx, "/v1/sales/export", v)
}
