package service

import (
	"context"
	"fmt"
	"strings"

	"onboarder/internal/onboarding/models"
	"onboarder/internal/queue"
	"onboarder/pkg/platform/sentinel"
	"onboarder/pkg/requestcontext"
)

// HandleDeferred runs one phase-two attempt. A nil return commits the
// message; errors leave it on the queue for redelivery.
func (s *Service) HandleDeferred(ctx context.Context, msg queue.Message) error {
	s.logger.InfoContext(ctx, "phase two attempt",
		"email", msg.UserEmail, "ticket", msg.TicketKey, "retry", msg.RetryCount)

	if err := s.syncGate(ctx, msg.UserEmail); err != nil {
		return s.handleUnsynced(ctx, msg, err)
	}

	result := s.runIntegrations(ctx, msg)
	s.comment(ctx, msg.TicketKey, integrationMessage(msg.UserEmail, result))
	s.updateRunStatus(ctx, msg.UserEmail, models.StatusCompleted, "", msg.RetryCount)
	s.metrics.IncrementRun(string(models.StatusCompleted), "two")
	return nil
}

// syncGate reports whether the account has replicated to the cloud
// directory yet. The wrapped sentinel carries the wait state into run
// ledger error text.
func (s *Service) syncGate(ctx context.Context, email string) error {
	if s.identity.UserExists(ctx, email) {
		return nil
	}
	return fmt.Errorf("account %s: %w", email, sentinel.ErrNotSynced)
}

// handleUnsynced either requeues the message with a longer fuse or, once the
// retry budget is spent, hands the run to an operator.
func (s *Service) handleUnsynced(ctx context.Context, msg queue.Message, cause error) error {
	if s.publisher != nil && msg.RetryCount < s.cfg.MaxRetries {
		retry := msg
		retry.RetryCount++
		if err := s.publisher.Publish(ctx, retry, s.cfg.RetryDelay); err != nil {
			return fmt.Errorf("reschedule phase two for %s: %w", msg.UserEmail, err)
		}
		s.comment(ctx, msg.TicketKey, retryScheduledMessage(msg.UserEmail, retry.RetryCount, s.cfg.MaxRetries, s.cfg.RetryDelay))
		s.updateRunStatus(ctx, msg.UserEmail, models.StatusRetrying, cause.Error(), retry.RetryCount)
		s.metrics.IncrementRetry()
		s.logger.InfoContext(ctx, "phase two retry scheduled",
			"email", msg.UserEmail, "retry", retry.RetryCount, "delay", s.cfg.RetryDelay)
		return nil
	}

	message := manualActionMessage(msg.UserEmail, msg.RetryCount)
	s.comment(ctx, msg.TicketKey, message)
	if err := s.notifier.NotifyError(ctx, msg.TicketKey, message); err != nil {
		s.logger.WarnContext(ctx, "error notification failed", "ticket", msg.TicketKey, "error", err)
	}
	s.updateRunStatus(ctx, msg.UserEmail, models.StatusManual, fmt.Sprintf("retries exhausted: %v", cause), msg.RetryCount)
	s.metrics.IncrementRun(string(models.StatusManual), "two")
	s.logger.WarnContext(ctx, "phase two retries exhausted", "email", msg.UserEmail, "retries", msg.RetryCount)
	return nil
}

// runIntegrations performs the cloud half of onboarding. Sub-step failures
// fold into the result instead of aborting: a failed group copy must never
// cost the user their license.
func (s *Service) runIntegrations(ctx context.Context, msg queue.Message) *models.IntegrationResult {
	result := &models.IntegrationResult{}
	result.Identity.UserSynced = s.identity.UserExists(ctx, msg.UserEmail)

	license, err := s.identity.AssignLicense(ctx, msg.UserEmail, s.cfg.UsageLocation, "")
	if err != nil {
		result.Identity.Errors = append(result.Identity.Errors, fmt.Sprintf("license assignment: %v", err))
		s.logger.ErrorContext(ctx, "license assignment failed", "email", msg.UserEmail, "error", err)
	} else {
		result.Identity.LicenseAssigned = true
		result.Identity.License = &license
	}

	if msg.SourceUserIdentifier != "" {
		summary, err := s.identity.ReplicateAccess(ctx, msg.SourceUserIdentifier, msg.UserEmail)
		if err != nil {
			result.Identity.Errors = append(result.Identity.Errors, fmt.Sprintf("access replication: %v", err))
			s.logger.ErrorContext(ctx, "identity replication failed",
				"source", msg.SourceUserIdentifier, "target", msg.UserEmail, "error", err)
		} else {
			result.Identity.AccessReplicated = true
			result.Identity.Replication = summary
			s.metrics.CountGroupAdds("identity",
				len(summary.GroupsAdded), len(summary.GroupsFailed), len(summary.GroupsSkipped))
		}
	}

	if s.collab != nil {
		result.Collab = s.runCollab(ctx, msg)
	}
	return result
}

func (s *Service) runCollab(ctx context.Context, msg queue.Message) *models.CollabReport {
	report := &models.CollabReport{Enabled: true}

	if msg.SourceUserIdentifier == "" {
		if _, err := s.collab.CreateUser(ctx, msg.UserEmail, msg.EmployeeData.FullName); err != nil {
			report.Error = err.Error()
			s.logger.ErrorContext(ctx, "collaboration account creation failed", "email", msg.UserEmail, "error", err)
		} else {
			report.AccountCreated = true
		}
		return report
	}

	source := collabSourceEmail(msg.SourceUserIdentifier, msg.UserEmail)
	details, err := s.collab.ReplicateAccess(ctx, source, msg.UserEmail, msg.EmployeeData.FullName)
	if details != nil {
		report.Details = details
		report.AccountCreated = details.UserCreated
		s.metrics.CountGroupAdds("collab",
			len(details.GroupsAdded), len(details.GroupsFailed), len(details.GroupsSkipped))
	}
	if err != nil {
		report.Error = err.Error()
		s.logger.ErrorContext(ctx, "collaboration replication failed",
			"source", source, "target", msg.UserEmail, "error", err)
	} else {
		report.AccessReplicated = true
	}
	return report
}

// collabSourceEmail turns a bare display name into an address on the
// target's domain; identifiers that already look like emails pass through.
func collabSourceEmail(identifier, targetEmail string) string {
	if strings.Contains(identifier, "@") {
		return identifier
	}
	_, domain, ok := strings.Cut(targetEmail, "@")
	if !ok {
		return identifier
	}
	local := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(identifier), " ", "."))
	return local + "@" + domain
}

// updateRunStatus moves the newest run for the email forward. Absence is
// tolerated: the memory store loses runs on restart, the messages do not.
func (s *Service) updateRunStatus(ctx context.Context, email string, status models.RunStatus, lastError string, retryCount int) {
	runs, err := s.store.RunsByEmail(ctx, email)
	if err != nil || len(runs) == 0 {
		s.logger.WarnContext(ctx, "no run record to update", "email", email, "status", status)
		return
	}
	run := runs[0]
	run.Status = status
	run.LastError = lastError
	run.RetryCount = retryCount
	run.UpdatedAt = requestcontext.Now(ctx).UTC()
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "could not update run", "run", run.ID, "error", err)
	}
}
