// Package fleet is the HTTP client for the fleet bridge: the deployment's
// gateway to its compute inventory and remote command execution. It backs
// both remoteexec.CommandAPI and placement.Inventory.
package fleet

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
	"time"

	"onboarder/internal/platform/config"
	"onboarder/internal/remoteexec"
	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/sentinel"
)

const maxResponseBytes = 1 << 20

// Client talks to the fleet bridge. The assumed-role labels ride along as
// headers so the bridge executes in the right account.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	target     config.RemoteExec
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, target config.RemoteExec, logger *slog.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("fleet bridge URL is empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		target:     target,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Target-Account-ID", c.target.TargetAccountID)
	req.Header.Set("X-Role-Name", c.target.RoleName)
	req.Header.Set("X-External-ID", c.target.ExternalID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// Submit asks the bridge to run a script on one host.
func (c *Client) Submit(ctx context.Context, hostID, script string) (string, error) {
	status, raw, err := c.do(ctx, http.MethodPost, "/v1/commands", map[string]string{
		"instance_id": hostID,
		"script":      script,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", dErrors.Newf(dErrors.CodeUnavailable, "submit command: bridge returned %d", status)
	}
	var out struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.CommandID == "" {
		return "", dErrors.New(dErrors.CodeUnavailable, "submit command: bridge returned no command id")
	}
	return out.CommandID, nil
}

// Invocation reports one command's state on one host. A 404 means the
// command is accepted but not yet registered; the runner polls through it.
func (c *Client) Invocation(ctx context.Context, commandID, hostID string) (remoteexec.Invocation, error) {
	path := fmt.Sprintf("/v1/commands/%s/invocations/%s", url.PathEscape(commandID), url.PathEscape(hostID))
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return remoteexec.Invocation{}, err
	}
	if status == http.StatusNotFound {
		return remoteexec.Invocation{}, fmt.Errorf("invocation %s on %s: %w", commandID, hostID, sentinel.ErrNotFound)
	}
	if status != http.StatusOK {
		return remoteexec.Invocation{}, dErrors.Newf(dErrors.CodeUnavailable, "poll invocation: bridge returned %d", status)
	}
	var out struct {
		Status string `json:"status"`
		StdOut string `json:"stdout"`
		StdErr string `json:"stderr"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return remoteexec.Invocation{}, fmt.Errorf("decode invocation: %w", err)
	}
	return remoteexec.Invocation{Status: out.Status, StdOut: out.StdOut, StdErr: out.StdErr}, nil
}

// InstanceExists reports whether id names a known, running host.
func (c *Client) InstanceExists(ctx context.Context, id string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/v1/instances/"+url.PathEscape(id), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, dErrors.Newf(dErrors.CodeUnavailable, "instance lookup: bridge returned %d", status)
	}
}

// RunningByTags returns running host IDs carrying every given tag value.
func (c *Client) RunningByTags(ctx context.Context, tags map[string]string) ([]string, error) {
	q := url.Values{"state": {"running"}}
	for k, v := range tags {
		q.Add("tag."+k, v)
	}
	return c.listInstances(ctx, "/v1/instances?"+q.Encode())
}

// RunningByNamePattern returns running host IDs whose name matches the glob.
func (c *Client) RunningByNamePattern(ctx context.Context, pattern string) ([]string, error) {
	q := url.Values{"state": {"running"}, "name": {pattern}}
	return c.listInstances(ctx, "/v1/instances?"+q.Encode())
}

// Managed reports whether the execution agent on the host is online.
func (c *Client) Managed(ctx context.Context, id string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/v1/instances/"+url.PathEscape(id)+"/agent", nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, dErrors.Newf(dErrors.CodeUnavailable, "agent lookup: bridge returned %d", status)
	}
}

// ManagedWindowsHosts returns all managed hosts running Windows.
func (c *Client) ManagedWindowsHosts(ctx context.Context) ([]string, error) {
	return c.listInstances(ctx, "/v1/managed?platform=windows")
}

func (c *Client) listInstances(ctx context.Context, path string) ([]string, error) {
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "instance listing: bridge returned %d", status)
	}
	var out struct {
		InstanceIDs []string `json:"instance_ids"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode instance listing: %w", err)
	}
	return out.InstanceIDs, nil
}
