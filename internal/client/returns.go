package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"savi/m/domain"
)

// returnsPageSize bounds each page when walking every return of a sale.
const returnsPageSize = 100

type ReturnQuery struct {
	Skip         int
	Limit        int
	SaleID       int64
	DateFrom     string
	DateTo       string
	Action       string
	RefundMethod string
	Status       string
}

func (q ReturnQuery) values() url.Values {
	v := url.Values{}
	setInt(v, "skip", q.Skip)
	setInt(v, "limit", q.Limit)
	if q.SaleID > 0 {
		v.Set("sale_id", fmt.Sprint(q.SaleID))
	}
	setString(v, "date_from", q.DateFrom)
	setString(v, "date_to", q.DateTo)
	setString(v, "action", q.Action)
	setString(v, "refund_method", q.RefundMethod)
	setString(v, "status", q.Status)
	return v
}

func (c *Client) ListReturns(ctx context.Context, q ReturnQuery) (*domain.Page[domain.ReturnRecord], error) {
	var out domain.Page[domain.ReturnRecord]
	if err := c.do(ctx, http.MethodGet, "/v1/returns", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSaleReturns walks every page of returns filed against a sale. Any failed page fails the
// whole call: a partial history would overstate what is still returnable.
func (c *Client) ListSaleReturns(ctx context.Context, saleID int64) ([]domain.ReturnRecord, error) {
	var all []domain.ReturnRecord
	for skip := 0; ; {
		page, err := c.ListReturns(ctx, ReturnQuery{SaleID: saleID, Skip: skip, Limit: returnsPageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		skip += len(page.Items)
		// The server may cap the page below returnsPageSize, so only the total ends the walk.
		if len(page.Items) == 0 || int64(len(all)) >= page.Total {
			return all, nil
		}
	}
}

func (c *Client) GetReturn(ctx context.Context, id int64) (*domain.ReturnRecord, error) {
	var out domain.ReturnRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/returns/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidateReturn(ctx context.Context, saleID int64) (*domain.ReturnEligibility, error) {
	v := url.Values{}
	v.Set("sale_id", fmt.Sprint(saleID))
	var out domain.ReturnEligibility
	if err := c.do(ctx, http.MethodGet, "/v1/returns/validate", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateReturn(ctx context.Context, req domain.CreateReturnRequest) (*domain.ReturnRecord, error) {
	var out domain.ReturnRecord
	if err := c.do(ctx, http.MethodPost, "/v1/returns", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportReturns downloads the filtered returns as CSV.
func (c *Client) ExportReturns(ctx context.Context, q ReturnQuery) ([]byte, error) {
	v := q.values()
	v.Del("skip")
	v.Del("limit")
	data, _, err := c.download(ctx, "/v1/returns/export", v)
	return data, err
}
