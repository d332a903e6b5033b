package directory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarder/internal/employee"
	"onboarder/internal/placement"
	"onboarder/internal/secrets"
	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/sentinel"
)

// fakeExecutor records the scripts it ran and replays canned output.
type fakeExecutor struct {
	output  string
	err     error
	scripts []string
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, script string) (string, error) {
	f.scripts = append(f.scripts, script)
	return f.output, f.err
}

func testStore() *secrets.StaticStore {
	return &secrets.StaticStore{Docs: map[string]map[string]string{
		"ad-creds": {"username": "svc-onboard", "password": "pw"},
	}}
}

func newTestService(t *testing.T, exec *fakeExecutor) *Service {
	t.Helper()
	svc, err := NewService(exec, testStore(), "ad-creds", employee.EmailFormatFirstDotLast, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return svc
}

var testDecision = placement.Decision{
	OU:            "OU=Staff,DC=corp,DC=example,DC=com",
	Domain:        "corp.example.com",
	NetBIOSDomain: "CORP",
}

func TestResolveCredentials(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("domain-scoped secret wins", func(t *testing.T) {
		store := testStore()
		store.Docs["ad-creds-north"] = map[string]string{"username": "svc-north", "password": "npw"}

		creds, err := ResolveCredentials(ctx, store, logger, "ad-creds", "north.example.com", "NORTHWIN")
		require.NoError(t, err)
		assert.Equal(t, `NORTHWIN\svc-north`, creds.Username)
		assert.Equal(t, "npw", creds.Password)
	})

	t.Run("falls back to base secret", func(t *testing.T) {
		creds, err := ResolveCredentials(ctx, testStore(), logger, "ad-creds", "corp.example.com", "CORP")
		require.NoError(t, err)
		assert.Equal(t, `CORP\svc-onboard`, creds.Username)
	})

	t.Run("qualified usernames pass through", func(t *testing.T) {
		store := &secrets.StaticStore{Docs: map[string]map[string]string{
			"ad-creds": {"username": `OTHER\svc`, "password": "pw"},
		}}
		creds, err := ResolveCredentials(ctx, store, logger, "ad-creds", "corp.example.com", "CORP")
		require.NoError(t, err)
		assert.Equal(t, `OTHER\svc`, creds.Username)
	})

	t.Run("no secret anywhere", func(t *testing.T) {
		_, err := ResolveCredentials(ctx, &secrets.StaticStore{}, logger, "ad-creds", "corp.example.com", "CORP")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	rec := &employee.Record{FullName: "Jane Doe", FirstName: "Jane", LastName: "Doe", Department: "Engineering"}

	t.Run("success parses protocol fields", func(t *testing.T) {
		exec := &fakeExecutor{output: `
SUCCESS: Created user jane.doe with email jane.doe@corp.example.com in domain corp.example.com
TEMPPASS: generated-pass
DOMAIN: corp.example.com
NETBIOS: CORP
OU: OU=Alt,DC=corp,DC=example,DC=com
`}
		acct, err := newTestService(t, exec).CreateAccount(ctx, rec, testDecision, "i-dc1")
		require.NoError(t, err)

		assert.Equal(t, "jane.doe", acct.Username)
		assert.Equal(t, "jane.doe@corp.example.com", acct.Email)
		assert.Equal(t, "generated-pass", acct.TempPassword)
		assert.Equal(t, "OU=Alt,DC=corp,DC=example,DC=com", acct.OU)
		assert.Equal(t, "i-dc1", acct.Host)

		require.Len(t, exec.scripts, 1)
		assert.Contains(t, exec.scripts[0], `CORP\svc-onboard`)
		assert.Contains(t, exec.scripts[0], "New-ADUser")
	})

	t.Run("existing account is a conflict", func(t *testing.T) {
		exec := &fakeExecutor{output: "ERROR: User jane.doe already exists in domain corp.example.com", err: assert.AnError}
		_, err := newTestService(t, exec).CreateAccount(ctx, rec, testDecision, "i-dc1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("name punctuation is escaped into the script", func(t *testing.T) {
		exec := &fakeExecutor{output: "SUCCESS: created"}
		irish := &employee.Record{FullName: "Jane O'Brien", FirstName: "Jane", LastName: "O'Brien"}
		_, err := newTestService(t, exec).CreateAccount(ctx, irish, testDecision, "i-dc1")
		require.NoError(t, err)
		assert.Contains(t, exec.scripts[0], "O''Brien")
	})
}

func TestFindUser(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		exec := &fakeExecutor{output: `
USER_FOUND: j.smith
USER_NAME: John Smith
USER_EMAIL: j.smith@corp.example.com
`}
		u, err := newTestService(t, exec).FindUser(ctx, "John Smith", "i-dc1")
		require.NoError(t, err)
		assert.Equal(t, "j.smith", u.Username)
		assert.Equal(t, "John Smith", u.Name)
		assert.Equal(t, "j.smith@corp.example.com", u.Email)
	})

	t.Run("not found is a sentinel", func(t *testing.T) {
		exec := &fakeExecutor{output: "USER_NOT_FOUND"}
		_, err := newTestService(t, exec).FindUser(ctx, "Nobody", "i-dc1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("empty name never hits the host", func(t *testing.T) {
		exec := &fakeExecutor{}
		_, err := newTestService(t, exec).FindUser(ctx, "", "i-dc1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.Empty(t, exec.scripts)
	})
}

func TestReplicateAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("ledger splits copied, failed and skipped", func(t *testing.T) {
		exec := &fakeExecutor{output: `
COPIED_GROUPS: vpn-users,eng-all
FAILED_GROUPS: protected-group
SKIPPED_GROUPS: staff-announcements
SUCCESS: Access replicated from j.smith to jane.doe
`}
		sum, err := newTestService(t, exec).ReplicateAccess(ctx, "j.smith", "jane.doe", "corp.example.com", "CORP", "i-dc1")
		require.NoError(t, err)

		assert.True(t, sum.Success)
		assert.Equal(t, []string{"vpn-users", "eng-all"}, sum.CopiedGroups)
		assert.Equal(t, []string{"protected-group"}, sum.FailedGroups)
		assert.Equal(t, []string{"staff-announcements"}, sum.SkippedGroups)
	})

	t.Run("zero groups still succeeds", func(t *testing.T) {
		exec := &fakeExecutor{output: `
COPIED_GROUPS:
FAILED_GROUPS:
SUCCESS: Access replicated from j.smith to jane.doe (0 groups)
`}
		sum, err := newTestService(t, exec).ReplicateAccess(ctx, "j.smith", "jane.doe", "corp.example.com", "CORP", "i-dc1")
		require.NoError(t, err)
		assert.True(t, sum.Success)
		assert.Empty(t, sum.CopiedGroups)
	})

	t.Run("execution failure is an error", func(t *testing.T) {
		exec := &fakeExecutor{err: assert.AnError}
		_, err := newTestService(t, exec).ReplicateAccess(ctx, "j.smith", "jane.doe", "corp.example.com", "CORP", "i-dc1")
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestDomainDN(t *testing.T) {
	assert.Equal(t, "DC=corp,DC=example,DC=com", domainDN("corp.example.com"))
}
