// Package directory provisions on-premises directory accounts by running
// scripts on a domain controller through the remote executor, and parses
// their line-prefix output back into typed results.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"onboarder/internal/employee"
	"onboarder/internal/placement"
	"onboarder/internal/remoteexec"
	"onboarder/internal/secrets"
	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/sentinel"
)

// Account is a freshly created directory account. TempPassword is the
// one-time password the account holder must change at first logon.
type Account struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Domain        string `json:"domain"`
	NetBIOSDomain string `json:"netbiosDomain"`
	OU            string `json:"ou"`
	Host          string `json:"host"`
	TempPassword  string `json:"-"`
	Message       string `json:"message,omitempty"`
}

// User is a directory lookup result.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// ReplicationSummary ledgers the per-group outcome of an access copy.
type ReplicationSummary struct {
	SourceUser    string   `json:"sourceUser"`
	TargetUser    string   `json:"targetUser"`
	CopiedGroups  []string `json:"copiedGroups"`
	FailedGroups  []string `json:"failedGroups"`
	SkippedGroups []string `json:"skippedGroups"`
	Success       bool     `json:"success"`
}

// Service executes directory operations against a controller host.
type Service struct {
	exec        remoteexec.Executor
	secrets     secrets.Store
	logger      *slog.Logger
	credsSecret string
	emailFormat string
}

func NewService(exec remoteexec.Executor, store secrets.Store, credsSecret, emailFormat string, logger *slog.Logger) (*Service, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("secret store is nil")
	}
	if credsSecret == "" {
		return nil, fmt.Errorf("credentials secret name is empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	return &Service{
		exec:        exec,
		secrets:     store,
		logger:      logger,
		credsSecret: credsSecret,
		emailFormat: emailFormat,
	}, nil
}

// CreateAccount derives the account identifiers from the employee record and
// provisions the account on the given controller host. The script refuses to
// touch an existing account; that surfaces as CodeConflict.
func (s *Service) CreateAccount(ctx context.Context, rec *employee.Record, dec placement.Decision, host string) (*Account, error) {
	email := employee.DeriveEmail(rec.FirstName, rec.LastName, dec.Domain, s.emailFormat)
	username := employee.DeriveUsername(email)

	creds, err := ResolveCredentials(ctx, s.secrets, s.logger, s.credsSecret, dec.Domain, dec.NetBIOSDomain)
	if err != nil {
		return nil, err
	}
	tempPassword, err := secrets.GenerateTempPassword()
	if err != nil {
		return nil, fmt.Errorf("generate temporary password: %w", err)
	}

	s.logger.InfoContext(ctx, "creating directory account",
		"username", username, "email", email, "domain", dec.Domain, "ou", dec.OU, "host", host)

	raw, err := s.exec.Execute(ctx, host, createAccountScript(creds, rec, email, username, tempPassword, dec))
	out := remoteexec.ParseOutput(raw)
	if err != nil {
		if isExistsError(out) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "account %s already exists in %s", username, dec.Domain)
		}
		return nil, fmt.Errorf("create account %s: %w", username, err)
	}
	if isExistsError(out) {
		return nil, dErrors.Newf(dErrors.CodeConflict, "account %s already exists in %s", username, dec.Domain)
	}
	msg, ok := out.Success()
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInternal, "account creation reported no outcome: %s", strings.Join(out.Errors(), "; "))
	}

	acct := &Account{
		Username:      username,
		Email:         email,
		Domain:        dec.Domain,
		NetBIOSDomain: dec.NetBIOSDomain,
		OU:            dec.OU,
		Host:          host,
		TempPassword:  tempPassword,
		Message:       msg,
	}
	if v, ok := out.Value("TEMPPASS:"); ok {
		acct.TempPassword = v
	}
	if v, ok := out.Value("OU:"); ok {
		acct.OU = v
	}
	return acct, nil
}

// FindUser looks a user up by any of name, display name, account name or
// email. Absence is a sentinel.ErrNotFound fact, not a failure.
func (s *Service) FindUser(ctx context.Context, name, host string) (*User, error) {
	if name == "" {
		return nil, fmt.Errorf("find user: %w", sentinel.ErrNotFound)
	}

	raw, err := s.exec.Execute(ctx, host, findUserScript(name))
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", name, err)
	}
	out := remoteexec.ParseOutput(raw)
	username, ok := out.Value("USER_FOUND:")
	if !ok {
		return nil, fmt.Errorf("user %q: %w", name, sentinel.ErrNotFound)
	}

	u := &User{Username: username}
	u.Name, _ = out.Value("USER_NAME:")
	u.Email, _ = out.Value("USER_EMAIL:")
	return u, nil
}

// ReplicateAccess copies the source user's security-group memberships onto
// the target. Per-group failures land in the summary rather than aborting
// the run; only a script-level failure returns an error.
func (s *Service) ReplicateAccess(ctx context.Context, sourceUsername, targetUsername, domain, netbiosDomain, host string) (*ReplicationSummary, error) {
	creds, err := ResolveCredentials(ctx, s.secrets, s.logger, s.credsSecret, domain, netbiosDomain)
	if err != nil {
		return nil, err
	}

	raw, err := s.exec.Execute(ctx, host, replicateScript(creds, sourceUsername, targetUsername))
	if err != nil {
		return nil, fmt.Errorf("replicate access %s -> %s: %w", sourceUsername, targetUsername, err)
	}

	out := remoteexec.ParseOutput(raw)
	_, success := out.Success()
	summary := &ReplicationSummary{
		SourceUser:    sourceUsername,
		TargetUser:    targetUsername,
		CopiedGroups:  out.List("COPIED_GROUPS:"),
		FailedGroups:  out.List("FAILED_GROUPS:"),
		SkippedGroups: out.List("SKIPPED_GROUPS:"),
		Success:       success,
	}
	s.logger.InfoContext(ctx, "directory access replicated",
		"source", sourceUsername, "target", targetUsername,
		"copied", len(summary.CopiedGroups), "failed", len(summary.FailedGroups), "skipped", len(summary.SkippedGroups))
	return summary, nil
}

// TriggerSync asks the controller to start a delta synchronization cycle.
// Failures are tolerated upstream: the scheduled cycle converges anyway.
func (s *Service) TriggerSync(ctx context.Context, host string) error {
	if _, err := s.exec.Execute(ctx, host, syncScript); err != nil {
		return fmt.Errorf("trigger directory sync on %s: %w", host, err)
	}
	return nil
}

func isExistsError(out remoteexec.Output) bool {
	for _, e := range out.Errors() {
		if strings.Contains(e, "already exists") {
			return true
		}
	}
	return false
}
