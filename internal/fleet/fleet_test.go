package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarder/internal/platform/config"
	"onboarder/internal/remoteexec"
	"onboarder/pkg/platform/sentinel"
)

func testTarget() config.RemoteExec {
	return config.RemoteExec{
		TargetAccountID: "123456789012",
		RoleName:        "EmployeeOnboardingCrossAccountRole",
		ExternalID:      "employee-onboarding-access",
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(server.URL, testTarget(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return c, server
}

func TestSubmitCarriesTargetHeaders(t *testing.T) {
	var gotAccount, gotRole, gotExternal string
	var gotBody map[string]string

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/commands", r.URL.Path)
		gotAccount = r.Header.Get("X-Target-Account-ID")
		gotRole = r.Header.Get("X-Role-Name")
		gotExternal = r.Header.Get("X-External-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"command_id": "cmd-1"})
	}))

	id, err := c.Submit(context.Background(), "i-0abc", "Write-Output 'SUCCESS: ok'")
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", id)
	assert.Equal(t, "123456789012", gotAccount)
	assert.Equal(t, "EmployeeOnboardingCrossAccountRole", gotRole)
	assert.Equal(t, "employee-onboarding-access", gotExternal)
	assert.Equal(t, "i-0abc", gotBody["instance_id"])
}

func TestInvocationNotYetRegistered(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.Invocation(context.Background(), "cmd-1", "i-0abc")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestInvocationDecodes(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/commands/cmd-1/invocations/i-0abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": remoteexec.StatusSuccess,
			"stdout": "SUCCESS: done",
		})
	}))

	inv, err := c.Invocation(context.Background(), "cmd-1", "i-0abc")
	require.NoError(t, err)
	assert.Equal(t, remoteexec.StatusSuccess, inv.Status)
	assert.Equal(t, "SUCCESS: done", inv.StdOut)
}

func TestInventoryQueries(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/instances/i-0abc":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/instances/i-gone":
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/v1/instances":
			assert.Equal(t, "running", r.URL.Query().Get("state"))
			if r.URL.Query().Get("tag.Role") == "DomainController" {
				_ = json.NewEncoder(w).Encode(map[string][]string{"instance_ids": {"i-dc1", "i-dc2"}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string][]string{"instance_ids": {"i-named"}})
		case r.URL.Path == "/v1/instances/i-dc1/agent":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/managed":
			assert.Equal(t, "windows", r.URL.Query().Get("platform"))
			_ = json.NewEncoder(w).Encode(map[string][]string{"instance_ids": {"i-win1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	exists, err := c.InstanceExists(ctx, "i-0abc")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.InstanceExists(ctx, "i-gone")
	require.NoError(t, err)
	assert.False(t, exists)

	ids, err := c.RunningByTags(ctx, map[string]string{"Domain": "corp.example.com", "Role": "DomainController"})
	require.NoError(t, err)
	assert.Equal(t, []string{"i-dc1", "i-dc2"}, ids)

	ids, err = c.RunningByNamePattern(ctx, "*dc*")
	require.NoError(t, err)
	assert.Equal(t, []string{"i-named"}, ids)

	managed, err := c.Managed(ctx, "i-dc1")
	require.NoError(t, err)
	assert.True(t, managed)

	ids, err = c.ManagedWindowsHosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"i-win1"}, ids)
}
