package client

import (
	"context"

	"savi/m/domain"
)

type Dashboard struct {
	Today       domain.SaleStats
	Recent      []domain.Sale
	TopProducts []domain.TopProduct
	// Err is the first failure; the other fields are zeroed when it is set.
	Err error
}

// LoadDashboard fetches today's KPIs, the latest sales and the best sellers. A failure shows an
// empty dashboard rather than failing the screen.
func (c *Client) LoadDashboard(ctx context.Context, limit int) Dashboard {
	stats, err := c.TodayStats(ctx)
	if err != nil {
		return Dashboard{Err: err}
	}
	recent, err := c.RecentSales(ctx, limit)
	if err != nil {
		return Dashboard{Err: err}
	}
	top, err := c.TopProducts(ctx, limit)
	if err != nil {
		return Dashboard{Err: err}
	}
	return Dashboard{Today: *stats, Recent: recent.Items, TopProducts: top}
}
