package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tokenSkew is shaved off the token lifetime so a token never expires
// mid-request.
const tokenSkew = 60 * time.Second

// token returns a valid bearer token, fetching one when the cached token is
// missing or within the skew of expiring. Concurrent callers share a single
// fetch.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpires) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.tokenGroup.Do("token", func() (any, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	creds, err := c.secrets.Get(ctx, c.secretName)
	if err != nil {
		return "", fmt.Errorf("load identity credentials: %w", err)
	}
	for _, field := range []string{"tenant_id", "client_id", "client_secret"} {
		if creds[field] == "" {
			return "", fmt.Errorf("identity credentials missing %s", field)
		}
	}

	form := url.Values{
		"client_id":     {creds["client_id"]},
		"client_secret": {creds["client_secret"]},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	}
	endpoint := c.tokenURL + "/" + creds["tenant_id"] + "/oauth2/v2.0/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}
	if body.ExpiresIn == 0 {
		body.ExpiresIn = 3600
	}

	c.mu.Lock()
	c.accessToken = body.AccessToken
	c.tokenExpires = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - tokenSkew)
	c.mu.Unlock()

	return body.AccessToken, nil
}
