package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onboarder/internal/onboarding/models"
	"onboarder/internal/placement"
	"onboarder/internal/queue"
	"onboarder/internal/secrets"
	"onboarder/pkg/platform/sentinel"
	"onboarder/pkg/requestcontext"
)

// HandleNewHire runs phase one: placement, account creation, optional
// directory replication, sync trigger and phase-two scheduling. Validation
// failures return before any side effect.
func (s *Service) HandleNewHire(ctx context.Context, event models.NewHireEvent) (*models.PhaseOneResult, error) {
	rec := event.EmployeeData
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	run := &models.Run{
		ID:           uuid.New(),
		TicketKey:    event.TicketKey,
		EmployeeName: rec.FullName,
		SourceUser:   rec.CopySource(),
		Employee:     rec,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.logger.InfoContext(ctx, "onboarding run started",
		"run", run.ID, "ticket", event.TicketKey, "employee", rec.FullName)
	s.comment(ctx, event.TicketKey, fmt.Sprintf("Employee onboarding started for %s.", rec.FullName))

	mapping, err := s.mapping.Mapping(ctx)
	if err != nil {
		return nil, s.failRun(ctx, run, fmt.Errorf("load placement mapping: %w", err))
	}
	dec, err := placement.Resolve(mapping, &rec)
	if err != nil {
		return nil, s.failRun(ctx, run, err)
	}
	run.Domain = dec.Domain
	run.OU = dec.OU

	host, err := s.hosts.ResolveController(ctx, dec.Domain, dec.ControllerHint)
	if err != nil {
		return nil, s.failRun(ctx, run, fmt.Errorf("resolve controller for %s: %w", dec.Domain, err))
	}

	start := time.Now()
	acct, err := s.directory.CreateAccount(ctx, &rec, dec, host)
	s.metrics.ObserveScriptLatency(time.Since(start))
	if err != nil {
		return nil, s.failRun(ctx, run, err)
	}

	run.UserEmail = acct.Email
	run.Username = acct.Username
	run.OU = acct.OU
	if hash, err := secrets.Hash(acct.TempPassword); err == nil {
		run.TempPasswordHash = hash
	}

	s.comment(ctx, event.TicketKey, accountCreatedMessage(acct))

	result := &models.PhaseOneResult{Run: run, Account: acct}

	if err := s.directory.TriggerSync(ctx, host); err != nil {
		s.logger.WarnContext(ctx, "directory sync trigger failed", "host", host, "error", err)
	}

	// The replication source doubles as the cloud-side source identifier:
	// prefer the directory account's email when the lookup succeeds.
	sourceIdentifier := run.SourceUser
	if run.SourceUser != "" {
		source, err := s.directory.FindUser(ctx, run.SourceUser, host)
		switch {
		case err == nil:
			if source.Email != "" {
				sourceIdentifier = source.Email
			}
			summary, err := s.directory.ReplicateAccess(ctx, source.Username, acct.Username, dec.Domain, dec.NetBIOSDomain, host)
			if err != nil {
				s.logger.WarnContext(ctx, "directory replication failed",
					"source", source.Username, "target", acct.Username, "error", err)
			} else {
				result.Replication = summary
				s.metrics.CountGroupAdds("directory",
					len(summary.CopiedGroups), len(summary.FailedGroups), len(summary.SkippedGroups))
			}
		case errors.Is(err, sentinel.ErrNotFound):
			s.logger.WarnContext(ctx, "replication source not found in directory", "source", run.SourceUser)
		default:
			s.logger.WarnContext(ctx, "replication source lookup failed", "source", run.SourceUser, "error", err)
		}
	}

	msg := queue.Message{
		UserEmail:            acct.Email,
		TicketKey:            event.TicketKey,
		EmployeeData:         rec,
		SourceUserIdentifier: sourceIdentifier,
	}

	scheduled := false
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, msg, s.cfg.InitialDelay); err != nil {
			s.logger.ErrorContext(ctx, "could not schedule phase two, falling back to synchronous processing",
				"run", run.ID, "error", err)
		} else {
			scheduled = true
		}
	}

	if scheduled {
		s.comment(ctx, event.TicketKey, syncScheduledMessage(s.cfg.InitialDelay))
		run.Status = models.StatusScheduled
		s.metrics.IncrementRun(string(models.StatusScheduled), "one")
	} else {
		immediate := s.runIntegrations(ctx, msg)
		result.Immediate = immediate
		s.comment(ctx, event.TicketKey, integrationMessage(acct.Email, immediate))
		run.Status = models.StatusCompleted
		s.metrics.IncrementRun(string(models.StatusCompleted), "one")
	}
	result.Scheduled = scheduled

	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "could not persist run", "run", run.ID, "error", err)
	}
	return result, nil
}

// failRun records an aborted phase one: the ticket gets the error, the
// notifier fires, and the run is stored as failed.
func (s *Service) failRun(ctx context.Context, run *models.Run, cause error) error {
	s.logger.ErrorContext(ctx, "onboarding run failed",
		"run", run.ID, "ticket", run.TicketKey, "error", cause)

	s.comment(ctx, run.TicketKey, fmt.Sprintf("Onboarding failed for %s: %v", run.EmployeeName, cause))
	if err := s.notifier.NotifyError(ctx, run.TicketKey, cause.Error()); err != nil {
		s.logger.WarnContext(ctx, "error notification failed", "ticket", run.TicketKey, "error", err)
	}

	run.Status = models.StatusFailed
	run.LastError = cause.Error()
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "could not persist failed run", "run", run.ID, "error", err)
	}
	s.metrics.IncrementRun(string(models.StatusFailed), "one")
	return cause
}
