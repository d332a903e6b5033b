// Package collab manages accounts on the collaboration suite through its
// REST API: account creation with product access, group membership and
// project-role replication. The API is quirky about group writes, so the
// response classification is policy-driven.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"onboarder/internal/secrets"
)

const requestTimeout = 30 * time.Second

// ResponsePolicy maps substrings of a rejected group-add response onto an
// outcome. The API reports "cannot add" conditions as 400s with prose
// bodies; deployments can extend the trigger lists through configuration.
type ResponsePolicy struct {
	// MemberTriggers mean the user was in the group all along; the add
	// counts as done.
	MemberTriggers []string
	// DeniedTriggers mean the group can never take this member.
	DeniedTriggers []string
}

func DefaultResponsePolicy() ResponsePolicy {
	return ResponsePolicy{
		MemberTriggers: []string{"already a member", "already in"},
		DeniedTriggers: []string{
			"cannot add users to", "cannot be modified",
			"does not exist", "group not found", "not found",
			"permission", "not authorized",
		},
	}
}

// Client is a basic-auth REST client for the collaboration suite.
type Client struct {
	httpClient *http.Client
	secrets    secrets.Store
	logger     *slog.Logger

	secretName string
	baseURL    string
	policy     ResponsePolicy

	mu    sync.Mutex
	creds credentials
}

type credentials struct {
	username string
	apiToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithResponsePolicy(p ResponsePolicy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient builds a client against the instance at baseURL. Credentials
// (username, apiToken) load lazily from the named secret.
func NewClient(store secrets.Store, secretName, baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("secret store is nil")
	}
	if secretName == "" {
		return nil, fmt.Errorf("secret name is empty")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		secrets:    store,
		logger:     logger,
		secretName: secretName,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		policy:     DefaultResponsePolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) credentials(ctx context.Context) (credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds.username != "" {
		return c.creds, nil
	}
	doc, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return credentials{}, fmt.Errorf("load collaboration credentials: %w", err)
	}
	if doc["username"] == "" || doc["apiToken"] == "" {
		return credentials{}, fmt.Errorf("collaboration credentials missing username or apiToken")
	}
	c.creds = credentials{username: doc["username"], apiToken: doc["apiToken"]}
	return c.creds, nil
}

// orgName is the instance's first host label, used to derive
// organization-qualified group names. Cloud sites name those groups after
// the site subdomain, so no admin-API round trip is needed.
func (c *Client) orgName() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	label, _, _ := strings.Cut(u.Host, ".")
	return label
}

// do issues an authenticated request against a path under the base URL.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	return c.doURL(ctx, method, c.baseURL+path, payload)
}

// doURL is do for absolute URLs; project-role details come back as links.
func (c *Client) doURL(ctx context.Context, method, rawURL string, payload any) (int, []byte, error) {
	creds, err := c.credentials(ctx)
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

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(creds.username, creds.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response of %s %s: %w", method, rawURL, err)
	}
	return resp.StatusCode, raw, nil
}
