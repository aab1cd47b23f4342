// Package client talks to the easypage API on behalf of an owner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/myeasypage/easypage/pkg/model"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login signs in with a password and keeps the session token for later calls.
func (c *Client) Login(ctx context.Context, email, password, cookieName string) (model.OwnerView, error) {
	var owner model.OwnerView
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", model.LoginRequest{Email: email, Password: password}, &owner)
	if err != nil {
		return owner, err
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == cookieName {
			c.token = cookie.Value
		}
	}
	if c.token == "" {
		return owner, fmt.Errorf("login response carried no %s cookie", cookieName)
	}
	return owner, nil
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Draft(ctx context.Context) (model.DraftResponse, error) {
	var draft model.DraftResponse
	_, err := c.do(ctx, http.MethodGet, "/api/admin/profile-design/draft", nil, &draft)
	return draft, err
}

// SaveDraft sends a partial document. The server merges it into the stored
// draft and returns the result.
func (c *Client) SaveDraft(ctx context.Context, partial map[string]interface{}) (model.DraftResponse, error) {
	var draft model.DraftResponse
	_, err := c.do(ctx, http.MethodPost, "/api/admin/profile-design/draft", partial, &draft)
	return draft, err
}

func (c *Client) Publish(ctx context.Context) (model.DraftResponse, error) {
	var published model.DraftResponse
	_, err := c.do(ctx, http.MethodPost, "/api/admin/profile-design/publish", nil, &published)
	return published, err
}

func (c *Client) Page(ctx context.Context, username string) (model.PageResponse, error) {
	var page model.PageResponse
	_, err := c.do(ctx, http.MethodGet, "/api/pages/"+username, nil, &page)
	return page, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	envelope := model.Response{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp, fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, err)
	}
	if !envelope.Success || resp.StatusCode >= 300 {
		return resp, model.NewError(kindFor(resp.StatusCode), envelope.Message)
	}
	return resp, nil
}

func kindFor(status int) model.ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return model.KindValidation
	case http.StatusUnprocessableEntity:
		return model.KindUnprocessable
	case http.StatusUnauthorized:
		return model.KindAuth
	case http.StatusForbidden:
		return model.KindAuthorization
	case http.StatusNotFound:
		return model.KindNotFound
	case http.StatusConflict:
		return model.KindConflict
	case http.StatusGone:
		return model.KindGone
	case http.StatusTooManyRequests:
		return model.KindRateLimit
	case http.StatusBadGateway:
		return model.KindUpstream
	default:
		return model.KindInternal
	}
}
