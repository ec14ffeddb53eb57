package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"savi/m/domain"
)

type AlertQuery struct {
	ActiveOnly bool
	UnreadOnly bool
	Severity   string
	AlertType  string
	Limit      int
}

func (q AlertQuery) values() url.Values {
	v := url.Values{}
	v.Set("active_only", strconv.FormatBool(q.ActiveOnly))
	v.Set("unread_only", strconv.FormatBool(q.UnreadOnly))
	setString(v, "severity", q.Severity)
	setString(v, "alert_type", q.AlertType)
	setInt(v, "limit", q.Limit)
	return v
}

type GenerateAlertsResponse struct {
	Message  string `json:"message"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

func (c *Client) ListAlerts(ctx context.Context, q AlertQuery) ([]domain.InventoryAlert, error) {
	var out []domain.InventoryAlert
	if err := c.do(ctx, http.MethodGet, "/v1/inventory-alerts/", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AlertStats(ctx context.Context) (*domain.AlertStats, error) {
	var out domain.AlertStats
	if err := c.do(ctx, http.MethodGet, "/v1/inventory-alerts/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GenerateAlerts(ctx context.Context, t domain.AlertThresholds) (*GenerateAlertsResponse, error) {
	var out GenerateAlertsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/inventory-alerts/generate", nil, t, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkAlertRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/inventory-alerts/%d/mark-read", id), nil, nil, nil)
}

func (c *Client) ResolveAlert(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/inventory-alerts/%d/resolve", id), nil, nil, nil)
}

func (c *Client) MarkAllAlertsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/inventory-alerts/mark-all-read", nil, nil, nil)
}
