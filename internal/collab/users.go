package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// UserInfo is the result of an account lookup.
type UserInfo struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"emailAddress"`
	Active      bool   `json:"active"`
}

// productBundles are tried in order when creating an account; the API
// insists on a product list but which names it accepts varies by instance.
var productBundles = [][]string{
	{"jira-software"},
	{"jira-software", "jira-servicemanagement"},
	{"jira-software", "jira-service-management"},
	{"jira-software", "jira-service-desk"},
	{"jira-software", "servicedesk"},
	{"jira-software", "confluence"},
	{"jira-software", "confluence", "jira-servicemanagement"},
	{"jira"},
	{"jira-core"},
}

// LookupUser searches for an account by email. A nil result with nil error
// means no account.
func (c *Client) LookupUser(ctx context.Context, email string) (*UserInfo, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/rest/api/3/user/search?query="+url.QueryEscape(email), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search user %s: unexpected status %d", email, status)
	}

	var users []UserInfo
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode user search: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// CreateResult reports account creation, which is idempotent: an existing
// account is repaired (product access re-ensured) rather than failed.
type CreateResult struct {
	AccountID     string   `json:"accountId"`
	Existed       bool     `json:"existed"`
	Products      []string `json:"products,omitempty"`
	ProductGroups []string `json:"productGroups,omitempty"`
}

// CreateUser provisions an account with product access. Product names are
// probed bundle by bundle until the API accepts one, then product group
// membership is ensured on top regardless of which bundle won.
func (c *Client) CreateUser(ctx context.Context, email, displayName string) (*CreateResult, error) {
	existing, err := c.LookupUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.logger.InfoContext(ctx, "collaboration account already exists", "email", email, "account_id", existing.AccountID)
		groups := c.ensureProductAccess(ctx, existing.AccountID)
		return &CreateResult{AccountID: existing.AccountID, Existed: true, ProductGroups: groups}, nil
	}

	var (
		accountID string
		accepted  []string
		lastError string
	)
	for _, products := range productBundles {
		payload := map[string]any{
			"emailAddress": email,
			"displayName":  displayName,
			"products":     products,
		}
		status, raw, err := c.do(ctx, http.MethodPost, "/rest/api/3/user", payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK || status == http.StatusCreated {
			var created struct {
				AccountID string `json:"accountId"`
				Key       string `json:"key"`
			}
			if err := json.Unmarshal(raw, &created); err != nil {
				return nil, fmt.Errorf("decode created user: %w", err)
			}
			accountID = created.AccountID
			if accountID == "" {
				accountID = created.Key
			}
			accepted = products
			break
		}
		lastError = fmt.Sprintf("status %d: %s", status, truncate(string(raw), 200))
		if status == http.StatusBadRequest {
			// Product-name rejections mean try the next bundle.
			continue
		}
		c.logger.WarnContext(ctx, "user creation attempt failed", "products", products, "status", status)
	}
	if accepted == nil {
		return nil, fmt.Errorf("create user %s: no product bundle accepted, last error: %s", email, lastError)
	}

	c.logger.InfoContext(ctx, "collaboration account created", "email", email, "account_id", accountID, "products", accepted)
	groups := c.ensureProductAccess(ctx, accountID)
	return &CreateResult{AccountID: accountID, Products: accepted, ProductGroups: groups}, nil
}

// ensureProductAccess joins the account to the product access groups,
// including the organization-qualified service-management customer groups.
// Missing groups (404) are normal across instances. When no customer group
// took, the account is registered as a customer of the first service desk
// instead.
func (c *Client) ensureProductAccess(ctx context.Context, accountID string) []string {
	org := c.orgName()
	groups := []string{
		"jira-software-users",
		"confluence-users",
		"jira-users",
		"users",
		"jira-servicemanagement-customers-" + org,
		"jira-service-management-customers-" + org,
		"jira-servicedesk-customers-" + org,
		"jira-servicemanagement-customers",
		"jira-service-management-customers",
		"jira-servicedesk-customers",
		"service-desk-customers",
		"servicedesk-customers",
		"jsd-customers",
	}

	var added []string
	customerAccess := false
	for _, group := range groups {
		ok, denied := c.joinGroup(ctx, accountID, group)
		if !ok {
			if !denied {
				c.logger.DebugContext(ctx, "product group absent", "group", group)
			}
			continue
		}
		added = append(added, group)
		if strings.Contains(group, "-customers") {
			customerAccess = true
		}
	}

	if !customerAccess {
		if c.addServiceDeskCustomer(ctx, accountID) {
			added = append(added, "servicedesk-customer")
		} else {
			c.logger.WarnContext(ctx, "could not grant service-management customer access", "account_id", accountID)
		}
	}
	return added
}

// joinGroup adds the account to a named group. ok means the user is a
// member afterwards; denied distinguishes a rejection from a missing group.
func (c *Client) joinGroup(ctx context.Context, accountID, groupName string) (ok, denied bool) {
	path := "/rest/api/3/group/user?groupname=" + url.QueryEscape(groupName)
	status, raw, err := c.do(ctx, http.MethodPost, path, map[string]string{"accountId": accountID})
	if err != nil {
		c.logger.WarnContext(ctx, "group join failed", "group", groupName, "error", err)
		return false, true
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent:
		return true, false
	case status == http.StatusNotFound:
		return false, false
	case status == http.StatusBadRequest && containsAny(strings.ToLower(string(raw)), c.policy.MemberTriggers):
		return true, false
	default:
		return false, true
	}
}

// addServiceDeskCustomer registers the account as a customer of the first
// service desk, which grants customer-level product access as a side effect.
func (c *Client) addServiceDeskCustomer(ctx context.Context, accountID string) bool {
	status, raw, err := c.do(ctx, http.MethodGet, "/rest/servicedeskapi/servicedesk", nil)
	if err != nil || status != http.StatusOK {
		return false
	}
	var page struct {
		Values []struct {
			ID string `json:"id"`
		} `json:"values"`
	}
	if err := json.Unmarshal(raw, &page); err != nil || len(page.Values) == 0 {
		return false
	}

	path := "/rest/servicedeskapi/servicedesk/" + page.Values[0].ID + "/customer"
	status, _, err = c.do(ctx, http.MethodPost, path, map[string][]string{"accountIds": {accountID}})
	return err == nil && (status == http.StatusOK || status == http.StatusNoContent)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
