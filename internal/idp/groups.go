package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Group is one directory group a user belongs to.
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// AddOutcome classifies one group-add attempt.
type AddOutcome int

const (
	AddOK AddOutcome = iota
	AddSkipped
	AddFailed
)

// systemGroupNames can never be joined explicitly.
var systemGroupNames = map[string]bool{
	"all users":   true,
	"all company": true,
	"everyone":    true,
}

// UserGroups lists the groups the user is a direct member of.
func (c *Client) UserGroups(ctx context.Context, email string) ([]Group, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/users/"+email+"/memberOf", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list groups of %s: unexpected status %d", email, status)
	}

	var page struct {
		Value []Group `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode group list: %w", err)
	}
	return page.Value, nil
}

// AddUserToGroup adds the user to a group, classifying groups that cannot
// take explicit members as skipped rather than failed: mail-enabled security
// groups, rule-based dynamic groups and the tenant-wide system groups.
func (c *Client) AddUserToGroup(ctx context.Context, email, groupID string) AddOutcome {
	if outcome, decided := c.screenGroup(ctx, groupID); decided {
		return outcome
	}

	status, raw, err := c.do(ctx, http.MethodGet, "/users/"+email, nil)
	if err != nil || status != http.StatusOK {
		c.logger.WarnContext(ctx, "could not resolve user for group add", "email", email, "status", status, "error", err)
		return AddFailed
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &user); err != nil {
		return AddFailed
	}

	payload := map[string]string{"@odata.id": c.baseURL + "/directoryObjects/" + user.ID}
	status, raw, err = c.do(ctx, http.MethodPost, "/groups/"+groupID+"/members/$ref", payload)
	if err != nil {
		c.logger.WarnContext(ctx, "group add failed", "group_id", groupID, "error", err)
		return AddFailed
	}

	body := strings.ToLower(string(raw))
	switch {
	case status == http.StatusNoContent || status == http.StatusOK:
		return AddOK
	case status == http.StatusBadRequest && strings.Contains(body, "already exist"):
		return AddOK
	case status == http.StatusBadRequest && strings.Contains(body, "mail-enabled"):
		return AddSkipped
	case status == http.StatusForbidden:
		c.logger.WarnContext(ctx, "insufficient permissions for group", "group_id", groupID)
		return AddFailed
	default:
		c.logger.WarnContext(ctx, "group add rejected", "group_id", groupID, "status", status)
		return AddFailed
	}
}

// screenGroup inspects the group before attempting membership changes.
// decided=false means proceed with the add.
func (c *Client) screenGroup(ctx context.Context, groupID string) (AddOutcome, bool) {
	status, raw, err := c.do(ctx, http.MethodGet, "/groups/"+groupID, nil)
	if err != nil || status != http.StatusOK {
		// Screening is advisory; the add itself will classify the failure.
		return AddOK, false
	}

	var group struct {
		DisplayName     string `json:"displayName"`
		MailEnabled     bool   `json:"mailEnabled"`
		SecurityEnabled bool   `json:"securityEnabled"`
		MembershipRule  string `json:"membershipRule"`
	}
	if err := json.Unmarshal(raw, &group); err != nil {
		return AddOK, false
	}

	switch {
	case group.MailEnabled && group.SecurityEnabled:
		c.logger.DebugContext(ctx, "skipping mail-enabled security group", "group", group.DisplayName)
		return AddSkipped, true
	case group.MembershipRule != "":
		c.logger.DebugContext(ctx, "skipping dynamic group", "group", group.DisplayName)
		return AddSkipped, true
	case systemGroupNames[strings.ToLower(group.DisplayName)]:
		c.logger.DebugContext(ctx, "skipping system group", "group", group.DisplayName)
		return AddSkipped, true
	}
	return AddOK, false
}

// ReplicationSummary ledgers a cloud access copy.
type ReplicationSummary struct {
	SourceUser    string   `json:"sourceUser"`
	SourceEmail   string   `json:"sourceEmail"`
	GroupsAdded   []string `json:"groupsAdded"`
	GroupsFailed  []string `json:"groupsFailed"`
	GroupsSkipped []string `json:"groupsSkipped"`
	TotalGroups   int      `json:"totalGroups"`
}

// ReplicateAccess copies the source user's group memberships onto the target
// account. A group that fails never stops the rest.
func (c *Client) ReplicateAccess(ctx context.Context, sourceIdentifier, targetEmail string) (*ReplicationSummary, error) {
	source, err := c.FindUser(ctx, sourceIdentifier)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source user %q not found in identity provider", sourceIdentifier)
	}

	groups, err := c.UserGroups(ctx, source.Email())
	if err != nil {
		return nil, err
	}

	summary := &ReplicationSummary{
		SourceUser:  source.DisplayName,
		SourceEmail: source.Email(),
		TotalGroups: len(groups),
	}
	for _, group := range groups {
		switch c.AddUserToGroup(ctx, targetEmail, group.ID) {
		case AddOK:
			summary.GroupsAdded = append(summary.GroupsAdded, group.DisplayName)
		case AddSkipped:
			summary.GroupsSkipped = append(summary.GroupsSkipped, group.DisplayName)
		case AddFailed:
			summary.GroupsFailed = append(summary.GroupsFailed, group.DisplayName)
		}
	}

	c.logger.InfoContext(ctx, "identity-provider access replicated",
		"source", source.DisplayName, "target", targetEmail,
		"added", len(summary.GroupsAdded), "failed", len(summary.GroupsFailed), "skipped", len(summary.GroupsSkipped))
	return summary, nil
}
