// Package ticket posts progress comments onto the onboarding ticket in the
// issue tracker. Comments are the operator-facing audit trail of a run.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"onboarder/internal/secrets"
)

const requestTimeout = 30 * time.Second

// testKeyPrefix marks synthetic tickets; comments on them are dropped.
const testKeyPrefix = "TEST-"

// Commenter is what the onboarding service depends on.
type Commenter interface {
	Comment(ctx context.Context, ticketKey, message string) error
}

// Client posts comments through the tracker's REST API with basic auth.
type Client struct {
	httpClient *http.Client
	secrets    secrets.Store
	logger     *slog.Logger
	secretName string
	baseURL    string

	mu       sync.Mutex
	username string
	apiToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

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
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Comment appends a plain-text comment to the ticket, wrapped in the
// tracker's document format (one paragraph, one text node). Empty keys and
// test tickets are no-ops.
func (c *Client) Comment(ctx context.Context, ticketKey, message string) error {
	if ticketKey == "" {
		c.logger.DebugContext(ctx, "no ticket key, skipping comment")
		return nil
	}
	if strings.HasPrefix(ticketKey, testKeyPrefix) {
		c.logger.InfoContext(ctx, "skipping comment on test ticket", "ticket", ticketKey)
		return nil
	}

	username, apiToken, err := c.credentials(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []map[string]any{{
				"type": "paragraph",
				"content": []map[string]any{{
					"type": "text",
					"text": message,
				}},
			}},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}

	endpoint := c.baseURL + "/rest/api/3/issue/" + ticketKey + "/comment"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.SetBasicAuth(username, apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comment on %s: %w", ticketKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("comment on %s: status %d: %s", ticketKey, resp.StatusCode, string(detail))
	}
	return nil
}

func (c *Client) credentials(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.username != "" {
		return c.username, c.apiToken, nil
	}
	doc, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return "", "", fmt.Errorf("load ticketing credentials: %w", err)
	}
	if doc["username"] == "" || doc["apiToken"] == "" {
		return "", "", fmt.Errorf("ticketing credentials missing username or apiToken")
	}
	c.username, c.apiToken = doc["username"], doc["apiToken"]
	return c.username, c.apiToken, nil
}
