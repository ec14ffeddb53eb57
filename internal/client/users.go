package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"savi/m/domain"
)

// UserInput creates or updates a user. On update an empty Password keeps the current one.
type UserInput struct {
	Username string      `json:"username"`
	FullName string      `json:"full_name"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
	Password string      `json:"password,omitempty"`
	IsActive bool        `json:"is_active"`
}

func (c *Client) ListUsers(ctx context.Context, query string, limit int) (*domain.Page[domain.User], error) {
	v := url.Values{}
	setString(v, "q", query)
	setInt(v, "limit", limit)
	var out domain.Page[domain.User]
	if err := c.do(ctx, http.MethodGet, "/v1/config/users", v, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateUser(ctx context.Context, in UserInput) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodPost, "/v1/config/users", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUser(ctx context.Context, id int64, in UserInput) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/config/users/%d", id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
