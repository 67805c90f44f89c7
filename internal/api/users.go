package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ChuLiYu/schedctl/pkg/types"
)

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login POST /users/login，以帳號密碼交換 token（不帶 Authorization）
func (c *Client) Login(ctx context.Context, id, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/users/login",
		body:   loginRequest{ID: id, Password: password},
		out:    &resp,
	}); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: %w", ErrMissingToken)
	}
	return resp.Token, nil
}

// Me GET /users/me，查詢目前 token 對應的使用者
func (c *Client) Me(ctx context.Context) (types.Identity, error) {
	var id types.Identity
	if err := c.do(ctx, call{
		op:     "me",
		method: http.MethodGet,
		path:   "/users/me",
		out:    &id,
		auth:   true,
	}); err != nil {
		return types.Identity{}, err
	}
	if id.ID == "" {
		return types.Identity{}, fmt.Errorf("me: %w", ErrEmptyResponse)
	}
	return id, nil
}
