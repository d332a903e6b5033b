// Package service orchestrates onboarding runs: the synchronous phase that
// provisions the directory account, and the deferred phase that waits for
// cloud sync, assigns a license and replicates access.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"onboarder/internal/collab"
	"onboarder/internal/directory"
	"onboarder/internal/employee"
	"onboarder/internal/idp"
	"onboarder/internal/notify"
	"onboarder/internal/onboarding/metrics"
	"onboarder/internal/onboarding/store"
	"onboarder/internal/placement"
	"onboarder/internal/platform/config"
	"onboarder/internal/queue"
	"onboarder/internal/ticket"
)

// Directory provisions and inspects on-premises accounts.
type Directory interface {
	CreateAccount(ctx context.Context, rec *employee.Record, dec placement.Decision, host string) (*directory.Account, error)
	FindUser(ctx context.Context, name, host string) (*directory.User, error)
	ReplicateAccess(ctx context.Context, sourceUsername, targetUsername, domain, netbiosDomain, host string) (*directory.ReplicationSummary, error)
	TriggerSync(ctx context.Context, host string) error
}

// HostResolver locates the controller host for a domain.
type HostResolver interface {
	ResolveController(ctx context.Context, domain, hint string) (string, error)
}

// MappingSource supplies the current placement mapping.
type MappingSource interface {
	Mapping(ctx context.Context) (*placement.Mapping, error)
}

// IdentityProvider is the cloud identity surface phase two works against.
type IdentityProvider interface {
	UserExists(ctx context.Context, email string) bool
	AssignLicense(ctx context.Context, email, location, skuID string) (idp.License, error)
	ReplicateAccess(ctx context.Context, sourceIdentifier, targetEmail string) (*idp.ReplicationSummary, error)
}

// CollabSuite provisions collaboration-suite access.
type CollabSuite interface {
	CreateUser(ctx context.Context, email, displayName string) (*collab.CreateResult, error)
	ReplicateAccess(ctx context.Context, sourceEmail, targetEmail, targetDisplayName string) (*collab.ReplicationReport, error)
}

// Service wires the two onboarding phases together.
type Service struct {
	directory Directory
	hosts     HostResolver
	mapping   MappingSource
	identity  IdentityProvider
	collab    CollabSuite
	ticket    ticket.Commenter
	notifier  notify.Notifier
	publisher queue.Publisher
	store     store.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       config.Onboarding
}

// Option configures optional collaborators.
type Option func(*Service)

// WithCollab enables collaboration-suite provisioning in phase two.
func WithCollab(c CollabSuite) Option {
	return func(s *Service) { s.collab = c }
}

// WithPublisher enables deferred phase-two scheduling. Without one, phase
// two runs synchronously inside phase one.
func WithPublisher(p queue.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics attaches run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	dir Directory,
	hosts HostResolver,
	mapping MappingSource,
	identity IdentityProvider,
	commenter ticket.Commenter,
	notifier notify.Notifier,
	runStore store.Store,
	cfg config.Onboarding,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory service is nil")
	}
	if hosts == nil {
		return nil, fmt.Errorf("host resolver is nil")
	}
	if mapping == nil {
		return nil, fmt.Errorf("mapping source is nil")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider is nil")
	}
	if commenter == nil {
		return nil, fmt.Errorf("ticket commenter is nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if runStore == nil {
		return nil, fmt.Errorf("run store is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	s := &Service{
		directory: dir,
		hosts:     hosts,
		mapping:   mapping,
		identity:  identity,
		ticket:    commenter,
		notifier:  notifier,
		store:     runStore,
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// comment posts a ticket comment, tolerating failure: a missing progress
// note never aborts a run.
func (s *Service) comment(ctx context.Context, ticketKey, message string) {
	if err := s.ticket.Comment(ctx, ticketKey, message); err != nil {
		s.logger.WarnContext(ctx, "could not comment on ticket", "ticket", ticketKey, "error", err)
	}
}
