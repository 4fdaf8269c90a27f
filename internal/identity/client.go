package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the identity provider's admin REST API with a
// service-role credential. That credential bypasses row-level access
// control on the provider side, so it must never reach a browser.
type Client struct {
	baseURL    string
	serviceKey string
	http       *http.Client

	// Deletion propagation is eventually consistent on the provider side.
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewClient(baseURL, serviceKey string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceKey:   serviceKey,
		http:         &http.Client{Timeout: 10 * time.Second},
		pollInterval: 100 * time.Millisecond,
		pollTimeout:  5 * time.Second,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

type usersResponse struct {
	Users []User `json:"users"`
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/users", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding user list: %w", err)
	}
	return out.Users, nil
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/users?email="+url.QueryEscape(email), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var out usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding user list: %w", err)
	}
	for i := range out.Users {
		if strings.EqualFold(out.Users[i].Email, email) {
			return &out.Users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

func (c *Client) getUser(ctx context.Context, id string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var user User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("decoding user: %w", err)
		}
		return &user, nil
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		return nil, decodeError(resp)
	}
}

func (c *Client) InviteUserByEmail(ctx context.Context, email, redirectTo string, metadata map[string]any) (*User, error) {
	payload := map[string]any{
		"email":       email,
		"redirect_to": redirectTo,
		"data":        metadata,
	}

	resp, err := c.do(ctx, http.MethodPost, "/invite", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding invited user: %w", err)
	}
	return &user, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		// Already gone, treat as done.
		return nil
	default:
		return decodeError(resp)
	}
}

// WaitForDeletion polls the record until the provider reports it gone.
// The provider applies deletes asynchronously; creating a fresh invite for
// the same email before the old record is gone risks a collision.
func (c *Client) WaitForDeletion(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		_, err := c.getUser(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("identity record %s still present after %s: %w", id, c.pollTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
