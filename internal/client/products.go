package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"savi/m/domain"
)

type ProductQuery struct {
	Skip     int
	Limit    int
	Query    string
	Category string
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	setInt(v, "skip", q.Skip)
	setInt(v, "limit", q.Limit)
	setString(v, "q", q.Query)
	setString(v, "category", q.Category)
	return v
}

// ProductInput creates or replaces a product.
type ProductInput struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	SKU          *string         `json:"sku,omitempty"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Stock        int64           `json:"stock"`
	HasPromotion bool            `json:"has_promotion"`
}

func (c *Client) ListProducts(ctx context.Context, q ProductQuery) (*domain.Page[domain.Product], error) {
	var out domain.Page[domain.Product]
	if err := c.do(ctx, http.MethodGet, "/v1/products", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchProducts finds products by name, SKU or category for the cart.
func (c *Client) SearchProducts(ctx context.Context, term string, limit int) (*domain.Page[domain.Product], error) {
	v := url.Values{}
	v.Set("q", term)
	setInt(v, "limit", limit)
	var out domain.Page[domain.Product]
	if err := c.do(ctx, http.MethodGet, "/v1/products/search", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var out domain.Product
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/products/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	var out domain.Product
	if err := c.do(ctx, http.MethodPost, "/v1/products", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*domain.Product, error) {
	var out domain.Product
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/products/%d", id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/products/%d", id), nil, nil, nil)
}
