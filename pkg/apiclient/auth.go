package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// LoginResult is the upstream login payload.
type LoginResult struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Gender       string `json:"gender"`
	Image        string `json:"image"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges user credentials for a profile and a token pair.
// An upstream rejection is returned as *UpstreamError.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	err := c.postJSON(ctx, "/auth/login", map[string]any{
		"username":      username,
		"password":      password,
		"expiresInMins": c.cfg.ExpiresInMins,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response without access token", ErrInvalidResponse)
	}
	return &out, nil
}

// Refresh performs one token exchange. It does not coordinate with other
// callers; Do uses it through the shared exchange.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var out TokenPair
	err := c.postJSON(ctx, "/auth/refresh", map[string]any{
		"refreshToken":  refreshToken,
		"expiresInMins": c.cfg.ExpiresInMins,
	}, &out)
	if err != nil {
		return TokenPair{}, err
	}
	if out.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("%w: refresh response without access token", ErrInvalidResponse)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("apiclient: encode %s: %w", path, err)
	}

	resp, err := c.send(ctx, &Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}, Credentials{})
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejected(resp)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, path, err)
	}
	return nil
}
