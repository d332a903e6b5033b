// Package idp talks to the cloud identity provider's REST API: presence
// checks for synchronized accounts, license assignment and group-membership
// replication. Authentication is client-credentials with a cached bearer
// token.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"onboarder/internal/secrets"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultTokenURL = "https://login.microsoftonline.com"
	requestTimeout  = 30 * time.Second
)

// Client is a thin REST client over the provider's directory API.
type Client struct {
	httpClient *http.Client
	secrets    secrets.Store
	logger     *slog.Logger

	secretName string
	baseURL    string
	tokenURL   string

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
	tokenGroup   singleflight.Group
}

type Option func(*Client)

// WithBaseURL overrides the API endpoints; tests point both at a local
// server.
func WithBaseURL(apiURL, tokenURL string) Option {
	return func(c *Client) {
		c.baseURL = apiURL
		c.tokenURL = tokenURL
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client that loads tenant_id, client_id and
// client_secret from the named secret on first use.
func NewClient(store secrets.Store, secretName string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("secret store is nil")
	}
	if secretName == "" {
		return nil, fmt.Errorf("secret name is empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		secrets:    store,
		logger:     logger,
		secretName: secretName,
		baseURL:    defaultBaseURL,
		tokenURL:   defaultTokenURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do issues an authenticated request and returns the response with its body
// read. Callers decide which statuses are errors.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, nil, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response of %s %s: %w", method, path, err)
	}
	return resp.StatusCode, raw, nil
}

// UserExists reports whether the account has synchronized into the provider.
// Any failure reads as absent; the caller retries the whole phase later.
func (c *Client) UserExists(ctx context.Context, email string) bool {
	status, _, err := c.do(ctx, http.MethodGet, "/users/"+email, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "user existence check failed", "email", email, "error", err)
		return false
	}
	return status == http.StatusOK
}

// DirectoryUser is the subset of the provider's user object we read.
type DirectoryUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (u DirectoryUser) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// FindUser resolves a user by email, display name or principal name.
// A nil result with nil error means no match.
func (c *Client) FindUser(ctx context.Context, searchTerm string) (*DirectoryUser, error) {
	if isEmail(searchTerm) {
		status, raw, err := c.do(ctx, http.MethodGet, "/users/"+searchTerm, nil)
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK {
			var u DirectoryUser
			if err := json.Unmarshal(raw, &u); err != nil {
				return nil, fmt.Errorf("decode user: %w", err)
			}
			return &u, nil
		}
	}

	filter := fmt.Sprintf("displayName eq '%[1]s' or mail eq '%[1]s' or userPrincipalName eq '%[1]s'", searchTerm)
	status, raw, err := c.do(ctx, http.MethodGet, "/users?$filter="+url.QueryEscape(filter), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search users: unexpected status %d", status)
	}
	var page struct {
		Value []DirectoryUser `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode user search: %w", err)
	}
	if len(page.Value) == 0 {
		return nil, nil
	}
	return &page.Value[0], nil
}

func isEmail(s string) bool {
	for _, r := range s {
		if r == '@' {
			return true
		}
	}
	return false
}
