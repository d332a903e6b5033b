package collab

import (
	"context"
	"fmt"
)

// ReplicationReport ledgers a full collaboration-suite access copy.
type ReplicationReport struct {
	SourceUser     string   `json:"sourceUser"`
	TargetUser     string   `json:"targetUser"`
	AccountID      string   `json:"accountId,omitempty"`
	UserCreated    bool     `json:"userCreated"`
	GroupsAdded    []string `json:"groupsAdded"`
	GroupsFailed   []string `json:"groupsFailed"`
	GroupsSkipped  []string `json:"groupsSkipped"`
	ProjectsAdded  []string `json:"projectsAdded"`
	ProjectsFailed []string `json:"projectsFailed"`
	Summary        string   `json:"summary"`
}

// ReplicateAccess creates the target account (idempotently) and copies the
// source user's group memberships and project roles onto it. Privileged
// groups and roles are skipped; individual failures accumulate in the
// report instead of aborting.
func (c *Client) ReplicateAccess(ctx context.Context, sourceEmail, targetEmail, targetDisplayName string) (*ReplicationReport, error) {
	report := &ReplicationReport{SourceUser: sourceEmail, TargetUser: targetEmail}

	created, err := c.CreateUser(ctx, targetEmail, targetDisplayName)
	if err != nil {
		report.Summary = fmt.Sprintf("failed to create user: %v", err)
		return report, err
	}
	report.UserCreated = true
	report.AccountID = created.AccountID

	if report.AccountID == "" {
		// Creation can omit the ID; look it up before group operations.
		info, err := c.LookupUser(ctx, targetEmail)
		if err != nil || info == nil {
			report.Summary = "user created but account ID unavailable for group operations"
			return report, fmt.Errorf("resolve account ID for %s: %w", targetEmail, err)
		}
		report.AccountID = info.AccountID
	}

	source, err := c.LookupUser(ctx, sourceEmail)
	if err != nil {
		return report, err
	}
	if source == nil {
		report.Summary = "source user not found for group replication"
		return report, fmt.Errorf("source user %q not found in collaboration suite", sourceEmail)
	}

	groups, err := c.UserGroups(ctx, source.AccountID)
	if err != nil {
		return report, err
	}
	for _, group := range groups {
		if group.Name == "" {
			continue
		}
		if shouldSkipGroup(group.Name) {
			report.GroupsSkipped = append(report.GroupsSkipped, group.Name)
			continue
		}
		if c.AddUserToGroup(ctx, report.AccountID, group.Name) {
			report.GroupsAdded = append(report.GroupsAdded, group.Name)
		} else {
			report.GroupsFailed = append(report.GroupsFailed, group.Name)
		}
	}

	roles, err := c.UserProjectRoles(ctx, source.AccountID)
	if err != nil {
		c.logger.WarnContext(ctx, "could not list source project roles", "source", sourceEmail, "error", err)
		roles = nil
	}
	for _, role := range roles {
		if isAdminRole(role.RoleName) {
			report.GroupsSkipped = append(report.GroupsSkipped, role.Describe())
			continue
		}
		if c.AddUserToProjectRole(ctx, report.AccountID, role.ProjectKey, role.RoleID) {
			report.ProjectsAdded = append(report.ProjectsAdded, role.Describe())
		} else {
			report.ProjectsFailed = append(report.ProjectsFailed, role.Describe())
		}
	}

	report.Summary = fmt.Sprintf(
		"User created/exists. Groups: %d added, %d failed, %d skipped. Project roles: %d added, %d failed.",
		len(report.GroupsAdded), len(report.GroupsFailed), len(report.GroupsSkipped),
		len(report.ProjectsAdded), len(report.ProjectsFailed),
	)
	c.logger.InfoContext(ctx, "collaboration access replicated",
		"source", sourceEmail, "target", targetEmail, "summary", report.Summary)
	return report, nil
}
