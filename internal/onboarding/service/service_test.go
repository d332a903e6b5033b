package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarder/internal/collab"
	"onboarder/internal/directory"
	"onboarder/internal/employee"
	"onboarder/internal/idp"
	"onboarder/internal/onboarding/models"
	"onboarder/internal/onboarding/store"
	"onboarder/internal/placement"
	"onboarder/internal/platform/config"
	"onboarder/internal/queue"
	"onboarder/pkg/requestcontext"
)

type fakeDirectory struct {
	createErr    error
	findResult   *directory.User
	findErr      error
	replication  *directory.ReplicationSummary
	replicateErr error

	created   []string
	syncHosts []string
}

func (f *fakeDirectory) CreateAccount(_ context.Context, rec *employee.Record, dec placement.Decision, host string) (*directory.Account, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	email := employee.DeriveEmail(rec.FirstName, rec.LastName, dec.Domain, employee.EmailFormatFirstDotLast)
	f.created = append(f.created, email)
	return &directory.Account{
		Username:      employee.DeriveUsername(email),
		Email:         email,
		Domain:        dec.Domain,
		NetBIOSDomain: dec.NetBIOSDomain,
		OU:            dec.OU,
		Host:          host,
		TempPassword:  "Temp-Secret-1",
	}, nil
}

func (f *fakeDirectory) FindUser(_ context.Context, name, _ string) (*directory.User, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.findResult != nil {
		return f.findResult, nil
	}
	return &directory.User{Username: name, Name: name}, nil
}

func (f *fakeDirectory) ReplicateAccess(_ context.Context, source, target, _, _, _ string) (*directory.ReplicationSummary, error) {
	if f.replicateErr != nil {
		return nil, f.replicateErr
	}
	if f.replication != nil {
		return f.replication, nil
	}
	return &directory.ReplicationSummary{SourceUser: source, TargetUser: target, Success: true}, nil
}

func (f *fakeDirectory) TriggerSync(_ context.Context, host string) error {
	f.syncHosts = append(f.syncHosts, host)
	return nil
}

type fakeHosts struct {
	host string
	err  error
}

func (f *fakeHosts) ResolveController(context.Context, string, string) (string, error) {
	return f.host, f.err
}

type fakeMapping struct{ mapping *placement.Mapping }

func (f *fakeMapping) Mapping(context.Context) (*placement.Mapping, error) { return f.mapping, nil }

type fakeIdentity struct {
	exists    bool
	assignErr error

	replication  *idp.ReplicationSummary
	replicateErr error

	assigned   []string
	replicated []string
}

func (f *fakeIdentity) UserExists(context.Context, string) bool { return f.exists }

func (f *fakeIdentity) AssignLicense(_ context.Context, email, _, _ string) (idp.License, error) {
	if f.assignErr != nil {
		return idp.License{}, f.assignErr
	}
	f.assigned = append(f.assigned, email)
	return idp.License{SKUID: "sku-1", SKUPartNumber: "SPB", Available: 3}, nil
}

func (f *fakeIdentity) ReplicateAccess(_ context.Context, source, target string) (*idp.ReplicationSummary, error) {
	if f.replicateErr != nil {
		return nil, f.replicateErr
	}
	f.replicated = append(f.replicated, source+"->"+target)
	if f.replication != nil {
		return f.replication, nil
	}
	return &idp.ReplicationSummary{SourceEmail: source, GroupsAdded: []string{"Engineering"}, TotalGroups: 1}, nil
}

type fakeCollab struct {
	created    []string
	replicated []string
}

func (f *fakeCollab) CreateUser(_ context.Context, email, _ string) (*collab.CreateResult, error) {
	f.created = append(f.created, email)
	return &collab.CreateResult{AccountID: "acc-1"}, nil
}

func (f *fakeCollab) ReplicateAccess(_ context.Context, source, target, _ string) (*collab.ReplicationReport, error) {
	f.replicated = append(f.replicated, source+"->"+target)
	return &collab.ReplicationReport{
		SourceUser:  source,
		TargetUser:  target,
		UserCreated: true,
		GroupsAdded: []string{"developers"},
		Summary:     "User created/exists. Groups: 1 added, 0 failed, 0 skipped. Project roles: 0 added, 0 failed.",
	}, nil
}

type fakeCommenter struct{ comments []string }

func (f *fakeCommenter) Comment(_ context.Context, _, message string) error {
	f.comments = append(f.comments, message)
	return nil
}

type fakeNotifier struct{ messages []string }

func (f *fakeNotifier) NotifyError(_ context.Context, _, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

type fakePublisher struct {
	err    error
	msgs   []queue.Message
	delays []time.Duration
}

func (f *fakePublisher) Publish(_ context.Context, msg queue.Message, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	f.delays = append(f.delays, delay)
	return nil
}

type fixture struct {
	svc       *Service
	directory *fakeDirectory
	identity  *fakeIdentity
	collab    *fakeCollab
	commenter *fakeCommenter
	notifier  *fakeNotifier
	publisher *fakePublisher
	store     *store.MemoryStore
}

func testConfig() config.Onboarding {
	return config.Onboarding{
		EmailFormat:   employee.EmailFormatFirstDotLast,
		CollabEnabled: true,
		InitialDelay:  15 * time.Minute,
		RetryDelay:    5 * time.Minute,
		MaxRetries:    3,
		UsageLocation: "GB",
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		directory: &fakeDirectory{},
		identity:  &fakeIdentity{},
		collab:    &fakeCollab{},
		commenter: &fakeCommenter{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		store:     store.NewMemoryStore(),
	}
	mapping := &placement.Mapping{Default: &placement.Rule{
		OU:     "OU=Staff,DC=corp,DC=example,DC=com",
		Domain: "corp.example.com",
	}}

	svc, err := NewService(
		f.directory,
		&fakeHosts{host: "i-0abc123"},
		&fakeMapping{mapping: mapping},
		f.identity,
		f.commenter,
		f.notifier,
		f.store,
		testConfig(),
		slog.New(slog.DiscardHandler),
		WithCollab(f.collab),
		WithPublisher(f.publisher),
	)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func newHireEvent() models.NewHireEvent {
	return models.NewHireEvent{
		TicketKey: "HR-42",
		EmployeeData: employee.Record{
			FullName:       "Jane Doe",
			Department:     "Engineering",
			CopyAccessFrom: "Bob Ray",
		},
	}
}

func TestHandleNewHireSchedulesPhaseTwo(t *testing.T) {
	f := newFixture(t)
	f.directory.findResult = &directory.User{Username: "bob.ray", Name: "Bob Ray", Email: "bob.ray@corp.example.com"}

	result, err := f.svc.HandleNewHire(context.Background(), newHireEvent())
	require.NoError(t, err)

	assert.True(t, result.Scheduled)
	assert.Nil(t, result.Immediate)
	require.NotNil(t, result.Account)
	assert.Equal(t, "jane.doe@corp.example.com", result.Account.Email)

	require.Len(t, f.publisher.msgs, 1)
	msg := f.publisher.msgs[0]
	assert.Equal(t, "jane.doe@corp.example.com", msg.UserEmail)
	assert.Equal(t, "HR-42", msg.TicketKey)
	// Directory lookup upgrades the bare source name to the account email.
	assert.Equal(t, "bob.ray@corp.example.com", msg.SourceUserIdentifier)
	assert.Equal(t, 0, msg.RetryCount)
	assert.Equal(t, 15*time.Minute, f.publisher.delays[0])

	require.NotNil(t, result.Replication)
	assert.True(t, result.Replication.Success)

	runs, err := f.store.RunsByEmail(context.Background(), "jane.doe@corp.example.com")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusScheduled, runs[0].Status)
	assert.NotEmpty(t, runs[0].TempPasswordHash)
	assert.NotEqual(t, "Temp-Secret-1", runs[0].TempPasswordHash)

	require.GreaterOrEqual(t, len(f.commenter.comments), 3)
	assert.Contains(t, f.commenter.comments[0], "onboarding started")
	assert.Contains(t, f.commenter.comments[1], "Temporary password: Temp-Secret-1")
	assert.Contains(t, f.commenter.comments[2], "15 minutes")
}

func TestHandleNewHireInvalidEventNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleNewHire(context.Background(), models.NewHireEvent{TicketKey: "HR-43"})
	require.Error(t, err)

	assert.Empty(t, f.commenter.comments)
	assert.Empty(t, f.publisher.msgs)
	assert.Empty(t, f.directory.created)
	assert.Empty(t, f.notifier.messages)
}

func TestHandleNewHirePublishFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = fmt.Errorf("broker unreachable")
	f.identity.exists = true

	result, err := f.svc.HandleNewHire(context.Background(), newHireEvent())
	require.NoError(t, err)

	assert.False(t, result.Scheduled)
	require.NotNil(t, result.Immediate)
	assert.True(t, result.Immediate.Identity.LicenseAssigned)
	assert.Len(t, f.identity.assigned, 1)

	runs, err := f.store.RunsByEmail(context.Background(), "jane.doe@corp.example.com")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusCompleted, runs[0].Status)
}

func TestHandleNewHireAccountFailure(t *testing.T) {
	f := newFixture(t)
	f.directory.createErr = fmt.Errorf("account jane.doe already exists")

	_, err := f.svc.HandleNewHire(context.Background(), newHireEvent())
	require.Error(t, err)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "already exists")

	runs, err := f.store.RunsByEmail(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].LastError)

	last := f.commenter.comments[len(f.commenter.comments)-1]
	assert.Contains(t, last, "Onboarding failed")
}

func TestHandleDeferredRetryBound(t *testing.T) {
	f := newFixture(t)
	f.identity.exists = false

	run := &models.Run{
		ID:        uuid.New(),
		TicketKey: "HR-42",
		UserEmail: "jane.doe@corp.example.com",
		Status:    models.StatusScheduled,
	}
	require.NoError(t, f.store.CreateRun(context.Background(), run))

	msg := queue.Message{UserEmail: "jane.doe@corp.example.com", TicketKey: "HR-42"}

	for retry := 0; retry < 3; retry++ {
		msg.RetryCount = retry
		require.NoError(t, f.svc.HandleDeferred(context.Background(), msg))
	}
	require.Len(t, f.publisher.msgs, 3)
	assert.Equal(t, 1, f.publisher.msgs[0].RetryCount)
	assert.Equal(t, 3, f.publisher.msgs[2].RetryCount)
	for _, d := range f.publisher.delays {
		assert.Equal(t, 5*time.Minute, d)
	}
	assert.Empty(t, f.notifier.messages)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	assert.Contains(t, stored.LastError, "not yet synced")

	// The fourth attempt exhausts the budget: no republish, manual action.
	msg.RetryCount = 3
	require.NoError(t, f.svc.HandleDeferred(context.Background(), msg))

	assert.Len(t, f.publisher.msgs, 3)
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "Manual action required")

	last := f.commenter.comments[len(f.commenter.comments)-1]
	assert.Contains(t, last, "Manually assign a license")

	stored, err = f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusManual, stored.Status)
	assert.Contains(t, stored.LastError, "retries exhausted")
	assert.Contains(t, stored.LastError, "not yet synced")
	assert.Equal(t, 3, stored.RetryCount)
}

func TestHandleNewHireStampsRequestTime(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)

	_, err := f.svc.HandleNewHire(ctx, newHireEvent())
	require.NoError(t, err)

	runs, err := f.store.RunsByEmail(ctx, "jane.doe@corp.example.com")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, fixed, runs[0].CreatedAt)
	assert.Equal(t, fixed, runs[0].UpdatedAt)
}

func TestHandleDeferredSynced(t *testing.T) {
	f := newFixture(t)
	f.identity.exists = true

	msg := queue.Message{
		UserEmail:            "jane.doe@corp.example.com",
		TicketKey:            "HR-42",
		EmployeeData:         employee.Record{FullName: "Jane Doe", FirstName: "Jane", LastName: "Doe"},
		SourceUserIdentifier: "bob.ray@corp.example.com",
	}
	require.NoError(t, f.svc.HandleDeferred(context.Background(), msg))

	assert.Equal(t, []string{"jane.doe@corp.example.com"}, f.identity.assigned)
	assert.Equal(t, []string{"bob.ray@corp.example.com->jane.doe@corp.example.com"}, f.identity.replicated)
	assert.Equal(t, []string{"bob.ray@corp.example.com->jane.doe@corp.example.com"}, f.collab.replicated)
	assert.Empty(t, f.publisher.msgs)

	last := f.commenter.comments[len(f.commenter.comments)-1]
	assert.Contains(t, last, "Cloud setup completed")
	assert.Contains(t, last, "SPB")
}

func TestHandleDeferredCollabCreatesWithoutSource(t *testing.T) {
	f := newFixture(t)
	f.identity.exists = true

	msg := queue.Message{
		UserEmail:    "jane.doe@corp.example.com",
		TicketKey:    "HR-42",
		EmployeeData: employee.Record{FullName: "Jane Doe"},
	}
	require.NoError(t, f.svc.HandleDeferred(context.Background(), msg))

	assert.Equal(t, []string{"jane.doe@corp.example.com"}, f.collab.created)
	assert.Empty(t, f.collab.replicated)
	assert.Empty(t, f.identity.replicated)
}

func TestHandleDeferredLicenseFailureFoldsIntoReport(t *testing.T) {
	f := newFixture(t)
	f.identity.exists = true
	f.identity.assignErr = fmt.Errorf("no licenses with available seats")

	msg := queue.Message{UserEmail: "jane.doe@corp.example.com", TicketKey: "HR-42"}
	require.NoError(t, f.svc.HandleDeferred(context.Background(), msg))

	last := f.commenter.comments[len(f.commenter.comments)-1]
	assert.Contains(t, last, "Issues:")
	assert.Contains(t, last, "no licenses with available seats")
}

func TestCollabSourceEmail(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		target     string
		want       string
	}{
		{"email passes through", "bob.ray@corp.example.com", "jane.doe@corp.example.com", "bob.ray@corp.example.com"},
		{"display name adopts target domain", "Bob Ray", "jane.doe@corp.example.com", "bob.ray@corp.example.com"},
		{"single word", "bob", "jane.doe@corp.example.com", "bob@corp.example.com"},
		{"malformed target returns identifier", "Bob Ray", "not-an-email", "Bob Ray"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collabSourceEmail(tt.identifier, tt.target))
		})
	}
}

func TestIntegrationMessageTrimsTrailingNewline(t *testing.T) {
	result := &models.IntegrationResult{}
	result.Identity.LicenseAssigned = true
	result.Identity.License = &idp.License{SKUPartNumber: "SPB"}

	msg := integrationMessage("jane.doe@corp.example.com", result)
	assert.False(t, strings.HasSuffix(msg, "\n"))
	assert.Contains(t, msg, "License assigned: SPB")
}
