package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ProjectRole is one role an account holds in one project.
type ProjectRole struct {
	ProjectKey  string `json:"projectKey"`
	ProjectName string `json:"projectName"`
	RoleName    string `json:"roleName"`
	RoleID      string `json:"roleId"`
}

// Describe renders the role for reports.
func (r ProjectRole) Describe() string {
	return r.ProjectName + " - " + r.RoleName
}

// UserProjectRoles walks every project and role looking for the account.
// Expensive against large instances, but role membership has no reverse
// index in the API.
func (c *Client) UserProjectRoles(ctx context.Context, accountID string) ([]ProjectRole, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/rest/api/3/project/search", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list projects: unexpected status %d", status)
	}

	var projects struct {
		Values []struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := json.Unmarshal(raw, &projects); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}

	var roles []ProjectRole
	for _, project := range projects.Values {
		status, raw, err := c.do(ctx, http.MethodGet, "/rest/api/3/project/"+project.Key+"/role", nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			continue
		}

		// The role listing maps role IDs to detail URLs.
		var roleLinks map[string]string
		if err := json.Unmarshal(raw, &roleLinks); err != nil {
			continue
		}

		for roleID, link := range roleLinks {
			status, raw, err := c.doURL(ctx, http.MethodGet, link, nil)
			if err != nil || status != http.StatusOK {
				continue
			}
			var detail struct {
				Name   string `json:"name"`
				Actors []struct {
					ActorUser struct {
						AccountID string `json:"accountId"`
					} `json:"actorUser"`
				} `json:"actors"`
			}
			if err := json.Unmarshal(raw, &detail); err != nil {
				continue
			}
			for _, actor := range detail.Actors {
				if actor.ActorUser.AccountID == accountID {
					roles = append(roles, ProjectRole{
						ProjectKey:  project.Key,
						ProjectName: project.Name,
						RoleName:    detail.Name,
						RoleID:      roleID,
					})
					break
				}
			}
		}
	}
	return roles, nil
}

// AddUserToProjectRole grants the account a role in a project.
func (c *Client) AddUserToProjectRole(ctx context.Context, accountID, projectKey, roleID string) bool {
	path := "/rest/api/3/project/" + projectKey + "/role/" + roleID
	status, _, err := c.do(ctx, http.MethodPost, path, map[string][]string{"user": {accountID}})
	if err != nil {
		c.logger.WarnContext(ctx, "project role add failed", "project", projectKey, "role_id", roleID, "error", err)
		return false
	}
	return status == http.StatusOK || status == http.StatusCreated
}

// isAdminRole keeps privileged project roles out of replication.
func isAdminRole(roleName string) bool {
	return strings.Contains(strings.ToLower(roleName), "admin")
}
