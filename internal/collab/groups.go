package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"onboarder/pkg/platform/strategy"
)

// Group is one group membership.
type Group struct {
	Name    string `json:"name"`
	GroupID string `json:"groupId"`
}

// membershipProbeLimit caps the brute-force fallback that checks the user
// against every group in the instance.
const membershipProbeLimit = 50

// skippedGroupNames never replicate: privileged and catch-all groups.
var skippedGroupNames = map[string]bool{
	"administrators":        true,
	"site-admins":           true,
	"jira-admins":           true,
	"confluence-admins":     true,
	"system-administrators": true,
	"trusted-users":         true,
	"users":                 true,
	"anyone":                true,
	"anonymous":             true,
}

// skippedGroupPatterns extend the denylist by substring.
var skippedGroupPatterns = []string{"-admins", "-administrators", "admin-"}

// shouldSkipGroup applies the replication denylist. Customer-access groups
// are excluded too since account creation already grants those.
func shouldSkipGroup(name string) bool {
	lower := strings.ToLower(name)
	if skippedGroupNames[lower] {
		return true
	}
	for _, pattern := range skippedGroupPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return strings.Contains(lower, "servicemanagement-customers")
}

// UserGroups lists the groups an account belongs to. The membership APIs
// are unevenly available across instances, so three strategies are tried:
// the direct groups endpoint, the bulk user expansion, and finally probing
// membership against the instance's first groups.
func (c *Client) UserGroups(ctx context.Context, accountID string) ([]Group, error) {
	strategies := []strategy.Strategy[[]Group]{
		{Name: "direct_groups", Run: func(ctx context.Context) ([]Group, bool, error) {
			return c.groupsDirect(ctx, accountID)
		}},
		{Name: "bulk_expand", Run: func(ctx context.Context) ([]Group, bool, error) {
			return c.groupsBulkExpand(ctx, accountID)
		}},
		{Name: "membership_probe", Run: func(ctx context.Context) ([]Group, bool, error) {
			return c.groupsByProbe(ctx, accountID)
		}},
	}

	groups, err := strategy.Chain(ctx, c.logger.With("account_id", accountID), strategies, errNoGroups)
	if err == errNoGroups {
		// Not an error: the user may genuinely be in no groups.
		return nil, nil
	}
	return groups, err
}

var errNoGroups = fmt.Errorf("no groups found")

func (c *Client) groupsDirect(ctx context.Context, accountID string) ([]Group, bool, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/rest/api/3/user/groups?accountId="+url.QueryEscape(accountID), nil)
	if err != nil {
		return nil, false, err
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("groups endpoint returned %d", status)
	}
	var groups []Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, false, fmt.Errorf("decode groups: %w", err)
	}
	return groups, len(groups) > 0, nil
}

func (c *Client) groupsBulkExpand(ctx context.Context, accountID string) ([]Group, bool, error) {
	path := "/rest/api/3/user/bulk?accountId=" + url.QueryEscape(accountID) + "&expand=groups"
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("bulk endpoint returned %d", status)
	}

	var page struct {
		Values []struct {
			Groups struct {
				Items []Group `json:"items"`
			} `json:"groups"`
		} `json:"values"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, fmt.Errorf("decode bulk users: %w", err)
	}
	if len(page.Values) == 0 {
		return nil, false, nil
	}
	groups := page.Values[0].Groups.Items
	return groups, len(groups) > 0, nil
}

func (c *Client) groupsByProbe(ctx context.Context, accountID string) ([]Group, bool, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/rest/api/3/group/bulk", nil)
	if err != nil {
		return nil, false, err
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("group list returned %d", status)
	}
	var page struct {
		Values []Group `json:"values"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, fmt.Errorf("decode group list: %w", err)
	}

	all := page.Values
	if len(all) > membershipProbeLimit {
		all = all[:membershipProbeLimit]
	}

	var memberships []Group
	for _, group := range all {
		if group.Name == "" {
			continue
		}
		if c.isMember(ctx, group.Name, accountID) {
			memberships = append(memberships, group)
		}
	}
	return memberships, len(memberships) > 0, nil
}

func (c *Client) isMember(ctx context.Context, groupName, accountID string) bool {
	path := "/rest/api/3/group/member?groupname=" + url.QueryEscape(groupName) + "&accountId=" + url.QueryEscape(accountID)
	status, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil || status != http.StatusOK {
		return false
	}
	return strings.Contains(string(raw), accountID)
}

// AddUserToGroup adds the account to a named group. Membership checks give
// false positives on some instances, so the add is attempted directly and
// the response classified by the policy: member triggers count as success,
// everything else in a 400 reads as a refusal.
func (c *Client) AddUserToGroup(ctx context.Context, accountID, groupName string) bool {
	path := "/rest/api/3/group/user?groupname=" + url.QueryEscape(groupName)
	status, raw, err := c.do(ctx, http.MethodPost, path, map[string]string{"accountId": accountID})
	if err != nil {
		c.logger.WarnContext(ctx, "group add failed", "group", groupName, "error", err)
		return false
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent:
		return true
	case status == http.StatusBadRequest:
		body := strings.ToLower(string(raw))
		if containsAny(body, c.policy.MemberTriggers) {
			return true
		}
		if containsAny(body, c.policy.DeniedTriggers) {
			c.logger.DebugContext(ctx, "group refuses members", "group", groupName, "detail", truncate(body, 200))
			return false
		}
		c.logger.WarnContext(ctx, "unclassified group add rejection", "group", groupName, "detail", truncate(body, 200))
		return false
	default:
		c.logger.WarnContext(ctx, "group add rejected", "group", groupName, "status", status)
		return false
	}
}
